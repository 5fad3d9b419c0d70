package testutil

import (
	"testing"

	"github.com/mluukkai/gptwrapper/pkg/auth"
)

// TestJWTSecret is the shared signing secret for handler tests.
var TestJWTSecret = []byte("test-jwt-secret")

// UserToken returns a signed JWT for a plain user.
func UserToken(t *testing.T, userID string, iamGroups ...string) string {
	t.Helper()
	token, err := auth.GenerateJWT(userID, userID, false, false, iamGroups, TestJWTSecret)
	if err != nil {
		t.Fatalf("generate user token: %v", err)
	}
	return token
}

// PowerUserToken returns a signed JWT with the power-user flag set.
func PowerUserToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateJWT(userID, userID, false, true, nil, TestJWTSecret)
	if err != nil {
		t.Fatalf("generate power user token: %v", err)
	}
	return token
}

// AdminToken returns a signed JWT with the admin flag set.
func AdminToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateJWT(userID, userID, true, false, nil, TestJWTSecret)
	if err != nil {
		t.Fatalf("generate admin token: %v", err)
	}
	return token
}
