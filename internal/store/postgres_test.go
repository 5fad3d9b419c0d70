package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/mluukkai/gptwrapper/pkg/logging"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db, logging.NewLogger()), mock
}

func TestGetUserUsage(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT usage FROM users`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"usage"}).AddRow(1234))

	usage, err := s.GetUserUsage(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetUserUsage: %v", err)
	}
	if usage != 1234 {
		t.Fatalf("expected 1234, got %d", usage)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetUserUsageNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT usage FROM users`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"usage"}))

	_, err := s.GetUserUsage(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIncrementUserUsageIsAtomicAdd(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE users SET usage = usage \+ \$2 WHERE id = \$1`).
		WithArgs("user-1", int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.IncrementUserUsage(context.Background(), "user-1", 20); err != nil {
		t.Fatalf("IncrementUserUsage: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIncrementUserUsageMissingUser(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE users SET usage`).
		WithArgs("missing", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.IncrementUserUsage(context.Background(), "missing", 5)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindServiceByCourse(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, name, course_id, usage_limit, model`).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "name", "course_id", "usage_limit", "model"},
		).AddRow("svc-1", "Intro course chat", "course-1", 150000, "gpt-4"))

	instance, err := s.FindServiceByCourse(context.Background(), "course-1")
	if err != nil {
		t.Fatalf("FindServiceByCourse: %v", err)
	}
	if instance.ID != "svc-1" || instance.UsageLimit != 150000 || instance.Model != "gpt-4" {
		t.Fatalf("unexpected instance: %+v", instance)
	}
}

func TestFindServiceByCourseNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, name, course_id, usage_limit, model`).
		WithArgs("orphan-course").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "course_id", "usage_limit", "model"}))

	_, err := s.FindServiceByCourse(context.Background(), "orphan-course")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindOrCreateUsageUpsertsThenReads(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO user_service_usages .*ON CONFLICT \(user_id, chat_instance_id\) DO NOTHING`).
		WithArgs("user-1", "svc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT usage_count FROM user_service_usages`).
		WithArgs("user-1", "svc-1").
		WillReturnRows(sqlmock.NewRows([]string{"usage_count"}).AddRow(0))

	usage, err := s.FindOrCreateUsage(context.Background(), "user-1", "svc-1")
	if err != nil {
		t.Fatalf("FindOrCreateUsage: %v", err)
	}
	if usage.UsageCount != 0 {
		t.Fatalf("expected fresh row with count 0, got %d", usage.UsageCount)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetUsageAbsentReturnsNil(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT usage_count FROM user_service_usages`).
		WithArgs("user-1", "svc-1").
		WillReturnRows(sqlmock.NewRows([]string{"usage_count"}))

	usage, err := s.GetUsage(context.Background(), "user-1", "svc-1")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if usage != nil {
		t.Fatalf("expected nil for absent row, got %+v", usage)
	}
}

func TestIncrementServiceUsageMissingRowIsInconsistent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE user_service_usages SET usage_count`).
		WithArgs("user-1", "svc-1", int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.IncrementServiceUsage(context.Background(), "user-1", "svc-1", 10)
	if !errors.Is(err, ErrInconsistentState) {
		t.Fatalf("expected ErrInconsistentState, got %v", err)
	}
}

func TestRecordUsageCommitsBothIncrements(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET usage = usage \+ \$2`).
		WithArgs("user-1", int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE user_service_usages SET usage_count`).
		WithArgs("user-1", "svc-1", int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.RecordUsage(context.Background(), "user-1", "svc-1", 20); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordUsageRollsBackWhenScopedRowMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET usage`).
		WithArgs("user-1", int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE user_service_usages SET usage_count`).
		WithArgs("user-1", "svc-1", int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.RecordUsage(context.Background(), "user-1", "svc-1", 20)
	if !errors.Is(err, ErrInconsistentState) {
		t.Fatalf("expected ErrInconsistentState, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateServiceLimit(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE chat_instances SET usage_limit`).
		WithArgs("svc-1", int64(200000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpdateServiceLimit(context.Background(), "svc-1", 200000); err != nil {
		t.Fatalf("UpdateServiceLimit: %v", err)
	}
}

func TestResetUsage(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE user_service_usages SET usage_count = 0`).
		WithArgs("user-1", "svc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.ResetUsage(context.Background(), "user-1", "svc-1"); err != nil {
		t.Fatalf("ResetUsage: %v", err)
	}
}

func TestWithRetryRetriesConnectionErrors(t *testing.T) {
	s, mock := newMockStore(t)

	connErr := &pq.Error{Code: "08006"} // connection_failure
	mock.ExpectQuery(`SELECT usage FROM users`).
		WithArgs("user-1").
		WillReturnError(connErr)
	mock.ExpectQuery(`SELECT usage FROM users`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"usage"}).AddRow(7))

	usage, err := s.GetUserUsage(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if usage != 7 {
		t.Fatalf("expected 7, got %d", usage)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	s, mock := newMockStore(t)

	connErr := &pq.Error{Code: "08006"}
	for i := 0; i < maxRetries+1; i++ {
		mock.ExpectQuery(`SELECT usage FROM users`).
			WithArgs("user-1").
			WillReturnError(connErr)
	}

	if _, err := s.GetUserUsage(context.Background(), "user-1"); err == nil {
		t.Fatalf("expected error after exhausted retries")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestWithRetryDoesNotRetryNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT usage FROM users`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"usage"}))

	if _, err := s.GetUserUsage(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound without retries, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
