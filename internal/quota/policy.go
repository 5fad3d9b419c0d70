package quota

import (
	"strings"

	"github.com/mluukkai/gptwrapper/internal/models"
)

// Config holds the quota parameters. Values come from the environment at
// startup; see DefaultConfig for the documented defaults.
type Config struct {
	// BaseTokenLimit is the lifetime global token limit for regular users.
	BaseTokenLimit int64
	// PowerUserMultiplier scales BaseTokenLimit for power users.
	PowerUserMultiplier int64
	// FreeModel bypasses the global quota check entirely.
	FreeModel string
	// TikeIam marks users of the institutional unit in status reports.
	TikeIam string
}

// DefaultConfig returns the default quota parameters.
func DefaultConfig() Config {
	return Config{
		BaseTokenLimit:      50_000,
		PowerUserMultiplier: 10,
		FreeModel:           "gpt-3.5-turbo",
		TikeIam:             "tike",
	}
}

// GlobalLimitFor returns the effective lifetime limit for a user.
func (c Config) GlobalLimitFor(user models.User) int64 {
	if user.IsPowerUser {
		return c.BaseTokenLimit * c.PowerUserMultiplier
	}
	return c.BaseTokenLimit
}

// AllowGlobal decides whether a user may proceed against the lifetime
// global counter. The boundary is inclusive: a user exactly at the limit
// still passes.
func (c Config) AllowGlobal(user models.User, usage int64) bool {
	return user.IsAdmin || usage <= c.GlobalLimitFor(user)
}

// AllowScoped decides whether a user may proceed against a per-course
// counter. The boundary is strict: reaching the limit exactly blocks
// further use. A limit of 0 blocks non-admins outright; the unlimited
// sentinel always passes.
func (c Config) AllowScoped(user models.User, usageCount, serviceLimit int64) bool {
	if user.IsAdmin {
		return true
	}
	if serviceLimit == models.UnlimitedUsageLimit {
		return true
	}
	return usageCount < serviceLimit
}

// IsTike reports whether any of the user's IAM groups contains the
// configured institutional marker as a substring.
func (c Config) IsTike(user models.User) bool {
	if c.TikeIam == "" {
		return false
	}
	for _, iam := range user.IamGroups {
		if strings.Contains(iam, c.TikeIam) {
			return true
		}
	}
	return false
}
