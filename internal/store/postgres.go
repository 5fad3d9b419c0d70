package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/lib/pq"

	"github.com/mluukkai/gptwrapper/internal/models"
	"github.com/mluukkai/gptwrapper/pkg/logging"
)

const (
	maxRetries     = 2
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = time.Second
)

// Postgres implements UsageStore on top of a PostgreSQL connection pool.
// Transient connection failures are retried a bounded number of times with
// exponential backoff; exhausted retries surface the error so prechecks
// fail closed.
type Postgres struct {
	db     *sql.DB
	logger logging.Logger
	retry  retrypolicy.RetryPolicy[any]
}

// NewPostgres creates a Postgres-backed usage store.
func NewPostgres(db *sql.DB, logger logging.Logger) *Postgres {
	retry := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return isTransient(err)
		}).
		WithBackoff(initialBackoff, maxBackoff).
		WithMaxRetries(maxRetries).
		Build()
	return &Postgres{db: db, logger: logger, retry: retry}
}

func (s *Postgres) GetUserUsage(ctx context.Context, userID string) (int64, error) {
	var usage int64
	err := s.withRetry(ctx, "get_user_usage", func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT usage FROM users WHERE id = $1`, userID,
		).Scan(&usage)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get user usage: %w", err)
	}
	return usage, nil
}

func (s *Postgres) IncrementUserUsage(ctx context.Context, userID string, delta int64) error {
	err := s.withRetry(ctx, "increment_user_usage", func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE users SET usage = usage + $2 WHERE id = $1`, userID, delta)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment user usage: %w", err)
	}
	return nil
}

func (s *Postgres) FindServiceByCourse(ctx context.Context, courseID string) (models.ChatInstance, error) {
	var instance models.ChatInstance
	err := s.withRetry(ctx, "find_service_by_course", func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT id, name, course_id, usage_limit, model
			FROM chat_instances
			WHERE course_id = $1
		`, courseID).Scan(
			&instance.ID, &instance.Name, &instance.CourseID,
			&instance.UsageLimit, &instance.Model,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatInstance{}, fmt.Errorf("course %s: %w", courseID, ErrNotFound)
	}
	if err != nil {
		return models.ChatInstance{}, fmt.Errorf("find service by course: %w", err)
	}
	return instance, nil
}

func (s *Postgres) FindOrCreateUsage(ctx context.Context, userID, chatInstanceID string) (models.UserServiceUsage, error) {
	usage := models.UserServiceUsage{UserID: userID, ChatInstanceID: chatInstanceID}
	err := s.withRetry(ctx, "find_or_create_usage", func() error {
		// The primary key on (user_id, chat_instance_id) makes concurrent
		// first calls converge on a single row.
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO user_service_usages (user_id, chat_instance_id, usage_count)
			VALUES ($1, $2, 0)
			ON CONFLICT (user_id, chat_instance_id) DO NOTHING
		`, userID, chatInstanceID); err != nil {
			return err
		}

		return s.db.QueryRowContext(ctx, `
			SELECT usage_count FROM user_service_usages
			WHERE user_id = $1 AND chat_instance_id = $2
		`, userID, chatInstanceID).Scan(&usage.UsageCount)
	})
	if err != nil {
		return models.UserServiceUsage{}, fmt.Errorf("find or create usage: %w", err)
	}
	return usage, nil
}

func (s *Postgres) GetUsage(ctx context.Context, userID, chatInstanceID string) (*models.UserServiceUsage, error) {
	usage := models.UserServiceUsage{UserID: userID, ChatInstanceID: chatInstanceID}
	err := s.withRetry(ctx, "get_usage", func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT usage_count FROM user_service_usages
			WHERE user_id = $1 AND chat_instance_id = $2
		`, userID, chatInstanceID).Scan(&usage.UsageCount)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return &usage, nil
}

func (s *Postgres) IncrementServiceUsage(ctx context.Context, userID, chatInstanceID string, delta int64) error {
	err := s.withRetry(ctx, "increment_service_usage", func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE user_service_usages SET usage_count = usage_count + $3
			WHERE user_id = $1 AND chat_instance_id = $2
		`, userID, chatInstanceID, delta)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrInconsistentState
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment service usage: %w", err)
	}
	return nil
}

func (s *Postgres) RecordUsage(ctx context.Context, userID, chatInstanceID string, delta int64) error {
	err := s.withRetry(ctx, "record_usage", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		result, err := tx.ExecContext(ctx,
			`UPDATE users SET usage = usage + $2 WHERE id = $1`, userID, delta)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}

		result, err = tx.ExecContext(ctx, `
			UPDATE user_service_usages SET usage_count = usage_count + $3
			WHERE user_id = $1 AND chat_instance_id = $2
		`, userID, chatInstanceID, delta)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrInconsistentState
		}

		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (s *Postgres) ListServices(ctx context.Context) ([]models.ChatInstance, error) {
	var instances []models.ChatInstance
	err := s.withRetry(ctx, "list_services", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, name, course_id, usage_limit, model
			FROM chat_instances
			ORDER BY name
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		instances = instances[:0]
		for rows.Next() {
			var instance models.ChatInstance
			if err := rows.Scan(
				&instance.ID, &instance.Name, &instance.CourseID,
				&instance.UsageLimit, &instance.Model,
			); err != nil {
				return err
			}
			instances = append(instances, instance)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return instances, nil
}

func (s *Postgres) ListUsage(ctx context.Context) ([]models.UserServiceUsage, error) {
	var usages []models.UserServiceUsage
	err := s.withRetry(ctx, "list_usage", func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT user_id, chat_instance_id, usage_count
			FROM user_service_usages
			ORDER BY usage_count DESC
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		usages = usages[:0]
		for rows.Next() {
			var usage models.UserServiceUsage
			if err := rows.Scan(&usage.UserID, &usage.ChatInstanceID, &usage.UsageCount); err != nil {
				return err
			}
			usages = append(usages, usage)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	return usages, nil
}

func (s *Postgres) UpdateServiceLimit(ctx context.Context, chatInstanceID string, limit int64) error {
	err := s.withRetry(ctx, "update_service_limit", func() error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE chat_instances SET usage_limit = $2 WHERE id = $1`,
			chatInstanceID, limit)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("chat instance %s: %w", chatInstanceID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update service limit: %w", err)
	}
	return nil
}

func (s *Postgres) ResetUsage(ctx context.Context, userID, chatInstanceID string) error {
	err := s.withRetry(ctx, "reset_usage", func() error {
		result, err := s.db.ExecContext(ctx, `
			UPDATE user_service_usages SET usage_count = 0
			WHERE user_id = $1 AND chat_instance_id = $2
		`, userID, chatInstanceID)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("usage %s/%s: %w", userID, chatInstanceID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset usage: %w", err)
	}
	return nil
}

// withRetry runs fn through the store's retry policy. Only connection-level
// failures are retried; logical errors and context cancellation return
// immediately. Writes go through here too: an UPDATE whose commit landed
// just before the connection dropped can apply twice on retry, so counters
// carry a small accepted over-count window.
func (s *Postgres) withRetry(ctx context.Context, op string, fn func() error) error {
	return failsafe.With(s.retry).WithContext(ctx).Run(func() error {
		err := fn()
		if err != nil && isTransient(err) {
			s.logger.WithError(err).WithField("operation", op).Warn("Transient store failure")
		}
		return err
	})
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08: connection exceptions; class 40: transaction rollbacks
		// such as serialization failures.
		class := pqErr.Code.Class()
		return class == "08" || class == "40"
	}
	return false
}
