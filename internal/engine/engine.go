package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mluukkai/gptwrapper/internal/models"
	"github.com/mluukkai/gptwrapper/internal/quota"
	"github.com/mluukkai/gptwrapper/internal/registry"
	"github.com/mluukkai/gptwrapper/internal/store"
	"github.com/mluukkai/gptwrapper/internal/tokenizer"
	"github.com/mluukkai/gptwrapper/pkg/logging"
)

// Metrics holds the Prometheus metrics the engine reports.
type Metrics struct {
	QuotaChecks    *prometheus.CounterVec // labels: scope, outcome
	TokensRecorded *prometheus.CounterVec // labels: model
}

// Engine answers the three quota questions and records consumption. It keeps
// no state of its own; every call is a read/decide/write against the store,
// and all consistency comes from the store's atomic primitives.
type Engine struct {
	store    store.UsageStore
	registry *registry.Registry
	quota    quota.Config
	logger   logging.Logger
	metrics  *Metrics
}

// New creates a usage engine. Metrics may be nil in tests.
func New(usageStore store.UsageStore, reg *registry.Registry, cfg quota.Config, logger logging.Logger, metrics *Metrics) *Engine {
	return &Engine{
		store:    usageStore,
		registry: reg,
		quota:    cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckGlobalUsage decides whether the user may proceed against the global
// lifetime counter. The free model bypasses the check entirely, before any
// store read.
func (e *Engine) CheckGlobalUsage(ctx context.Context, user models.User, model string) (bool, error) {
	if model == e.quota.FreeModel {
		e.observeCheck("global", "bypass")
		return true, nil
	}

	usage, err := e.store.GetUserUsage(ctx, user.ID)
	if err != nil {
		e.observeCheck("global", "error")
		return false, fmt.Errorf("check global usage: %w", err)
	}

	allowed := e.quota.AllowGlobal(user, usage)
	if !allowed {
		e.logger.WithFields(logging.Fields{
			"user_id": user.ID,
			"usage":   usage,
			"limit":   e.quota.GlobalLimitFor(user),
			"model":   model,
		}).Info("Global token limit reached")
	}
	e.observeCheck("global", outcome(allowed))
	return allowed, nil
}

// CheckCourseUsage decides whether the user may proceed on a course-scoped
// chat instance. A course without a configured instance is a hard failure.
// The usage row is provisioned before the decision, so a denied first check
// still leaves a zero-count row behind.
func (e *Engine) CheckCourseUsage(ctx context.Context, user models.User, courseID string) (bool, error) {
	instance, err := e.registry.ServiceFor(ctx, courseID)
	if err != nil {
		e.observeCheck("course", "error")
		return false, fmt.Errorf("check course usage: %w", err)
	}

	usage, err := e.store.FindOrCreateUsage(ctx, user.ID, instance.ID)
	if err != nil {
		e.observeCheck("course", "error")
		return false, fmt.Errorf("check course usage: %w", err)
	}

	allowed := e.quota.AllowScoped(user, usage.UsageCount, instance.UsageLimit)
	if !allowed {
		e.logger.WithFields(logging.Fields{
			"user_id":          user.ID,
			"chat_instance_id": instance.ID,
			"usage_count":      usage.UsageCount,
			"usage_limit":      instance.UsageLimit,
		}).Info("Usage limit reached")
	}
	e.observeCheck("course", outcome(allowed))
	return allowed, nil
}

// Precheck combines the global and course-scoped checks; the caller must
// deny the request unless both pass.
func (e *Engine) Precheck(ctx context.Context, user models.User, courseID, model string) (bool, error) {
	allowed, err := e.CheckGlobalUsage(ctx, user, model)
	if err != nil || !allowed {
		return false, err
	}
	return e.CheckCourseUsage(ctx, user, courseID)
}

// RecordUsage counts the tokens of a completed request and adds them to the
// global and course-scoped counters in one transaction. Returns the count.
func (e *Engine) RecordUsage(ctx context.Context, user models.User, courseID string, opts models.StreamingOptions, encode tokenizer.Encoding) (int, error) {
	instance, err := e.registry.ServiceFor(ctx, courseID)
	if err != nil {
		return 0, fmt.Errorf("record usage: %w", err)
	}

	tokenCount := tokenizer.Count(opts, encode)

	if err := e.store.RecordUsage(ctx, user.ID, instance.ID, int64(tokenCount)); err != nil {
		if errors.Is(err, store.ErrInconsistentState) {
			e.logger.WithFields(logging.Fields{
				"user_id":          user.ID,
				"chat_instance_id": instance.ID,
			}).Error("Usage row missing on record; precheck was skipped")
		}
		return 0, fmt.Errorf("record usage: %w", err)
	}

	if e.metrics != nil {
		e.metrics.TokensRecorded.WithLabelValues(instance.Model).Add(float64(tokenCount))
	}
	return tokenCount, nil
}

// UserStatus returns the quota view for a user on one course. It resolves,
// but never provisions, the usage row; an absent row reports usage 0.
func (e *Engine) UserStatus(ctx context.Context, user models.User, courseID string) (models.UserStatus, error) {
	instance, err := e.registry.ServiceFor(ctx, courseID)
	if err != nil {
		return models.UserStatus{}, fmt.Errorf("user status: %w", err)
	}

	usage, err := e.store.GetUsage(ctx, user.ID, instance.ID)
	if err != nil {
		return models.UserStatus{}, fmt.Errorf("user status: %w", err)
	}

	var usageCount int64
	if usage != nil {
		usageCount = usage.UsageCount
	}

	return models.UserStatus{
		Usage:  usageCount,
		Limit:  instance.UsageLimit,
		Model:  instance.Model,
		Models: e.registry.AllowedModels(instance.Model),
		IsTike: e.quota.IsTike(user),
	}, nil
}

func (e *Engine) observeCheck(scope, outcome string) {
	if e.metrics != nil {
		e.metrics.QuotaChecks.WithLabelValues(scope, outcome).Inc()
	}
}

func outcome(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
