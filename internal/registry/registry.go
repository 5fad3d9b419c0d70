package registry

import (
	"context"
	"time"

	"github.com/mluukkai/gptwrapper/internal/models"
	"github.com/mluukkai/gptwrapper/pkg/cache"
)

const (
	serviceCacheTTL        = 30 * time.Second
	serviceCacheMaxEntries = 1024
)

// ServiceResolver is the slice of the usage store the registry needs.
type ServiceResolver interface {
	FindServiceByCourse(ctx context.Context, courseID string) (models.ChatInstance, error)
}

// Registry resolves course-scoped chat instance configuration and the model
// eligibility table. Instances are read-mostly configuration, so lookups go
// through a short-TTL in-process cache.
type Registry struct {
	resolver    ServiceResolver
	cache       *cache.Cache
	eligibility map[string][]string
}

// DefaultEligibility returns the default model eligibility table: the
// premium model unlocks the richer set, the free model only itself.
func DefaultEligibility() map[string][]string {
	return map[string][]string{
		"gpt-4":         {"gpt-4", "gpt-3.5-turbo"},
		"gpt-3.5-turbo": {"gpt-3.5-turbo"},
	}
}

// New creates a registry over the given resolver. A nil eligibility table
// falls back to DefaultEligibility.
func New(resolver ServiceResolver, eligibility map[string][]string) *Registry {
	if eligibility == nil {
		eligibility = DefaultEligibility()
	}
	return &Registry{
		resolver: resolver,
		cache: cache.New(cache.Options{
			TTL:        serviceCacheTTL,
			MaxEntries: serviceCacheMaxEntries,
		}, cache.MetricsHooks{}),
		eligibility: eligibility,
	}
}

// ServiceFor resolves the chat instance configured for a course. A course
// with no configured service is a hard failure for the caller.
func (r *Registry) ServiceFor(ctx context.Context, courseID string) (models.ChatInstance, error) {
	value, err := r.cache.Get(ctx, courseID, func(ctx context.Context) (interface{}, bool, error) {
		instance, err := r.resolver.FindServiceByCourse(ctx, courseID)
		if err != nil {
			return nil, false, err
		}
		return instance, true, nil
	})
	if err != nil {
		return models.ChatInstance{}, err
	}
	return value.(models.ChatInstance), nil
}

// ModelFor returns the model configured for a course's chat instance.
func (r *Registry) ModelFor(ctx context.Context, courseID string) (string, error) {
	instance, err := r.ServiceFor(ctx, courseID)
	if err != nil {
		return "", err
	}
	return instance.Model, nil
}

// AllowedModels derives the model set a course's primary model unlocks.
// Unknown models map to themselves.
func (r *Registry) AllowedModels(model string) []string {
	if allowed, ok := r.eligibility[model]; ok {
		out := make([]string, len(allowed))
		copy(out, allowed)
		return out
	}
	return []string{model}
}

// Flush drops the cached instances, e.g. after an admin limit change.
func (r *Registry) Flush() {
	r.cache.Reset()
}
