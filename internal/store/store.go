package store

import (
	"context"
	"errors"

	"github.com/mluukkai/gptwrapper/internal/models"
)

var (
	// ErrNotFound is returned when a mandatory row is absent.
	ErrNotFound = errors.New("not found")

	// ErrInconsistentState is returned when a scoped increment hits a
	// usage row that was never provisioned, meaning a precheck was skipped.
	ErrInconsistentState = errors.New("user service usage not found")
)

// UsageStore is the transactional repository for usage counters and chat
// instance configuration. All increments are atomic at the storage layer;
// callers never read-modify-write.
type UsageStore interface {
	// GetUserUsage returns the user's lifetime global token count.
	GetUserUsage(ctx context.Context, userID string) (int64, error)

	// IncrementUserUsage atomically adds delta to the global counter.
	IncrementUserUsage(ctx context.Context, userID string, delta int64) error

	// FindServiceByCourse resolves the chat instance configured for a course.
	FindServiceByCourse(ctx context.Context, courseID string) (models.ChatInstance, error)

	// FindOrCreateUsage returns the usage row for (user, chat instance),
	// atomically creating it with count 0 when absent. Concurrent first
	// calls never produce duplicate rows.
	FindOrCreateUsage(ctx context.Context, userID, chatInstanceID string) (models.UserServiceUsage, error)

	// GetUsage returns the usage row, or nil when none exists.
	GetUsage(ctx context.Context, userID, chatInstanceID string) (*models.UserServiceUsage, error)

	// IncrementServiceUsage atomically adds delta to the scoped counter.
	// Returns ErrInconsistentState when the row was never provisioned;
	// it does not find-or-create.
	IncrementServiceUsage(ctx context.Context, userID, chatInstanceID string, delta int64) error

	// RecordUsage adds delta to both the global and the scoped counter in
	// a single transaction, so a missing scoped row leaves the global
	// counter untouched.
	RecordUsage(ctx context.Context, userID, chatInstanceID string, delta int64) error

	// ListServices returns all configured chat instances.
	ListServices(ctx context.Context) ([]models.ChatInstance, error)

	// ListUsage returns all scoped usage rows.
	ListUsage(ctx context.Context) ([]models.UserServiceUsage, error)

	// UpdateServiceLimit sets a chat instance's usage limit.
	UpdateServiceLimit(ctx context.Context, chatInstanceID string, limit int64) error

	// ResetUsage zeroes a scoped usage counter.
	ResetUsage(ctx context.Context, userID, chatInstanceID string) error
}
