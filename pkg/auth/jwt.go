package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidJWT      = errors.New("invalid JWT token")
	ErrExpiredJWT      = errors.New("JWT token expired")
	ErrUnauthenticated = errors.New("authentication required")
)

// Claims represents JWT claims carrying the authenticated user identity.
// Role flags and IAM groups come from the identity provider; this service
// never derives them itself.
type Claims struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	IsAdmin     bool     `json:"is_admin"`
	IsPowerUser bool     `json:"is_power_user"`
	IamGroups   []string `json:"iam_groups"`
	jwt.RegisteredClaims
}

// GenerateJWT creates a new JWT token for web sessions
func GenerateJWT(userID, username string, isAdmin, isPowerUser bool, iamGroups []string, secret []byte) (string, error) {
	claims := &Claims{
		UserID:      userID,
		Username:    username,
		IsAdmin:     isAdmin,
		IsPowerUser: isPowerUser,
		IamGroups:   iamGroups,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateJWT validates a JWT token and returns its claims
func ValidateJWT(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify the signing method to prevent algorithm confusion attacks
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredJWT
		}
		return nil, ErrInvalidJWT
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidJWT
}
