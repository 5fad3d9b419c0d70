package handlers

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mluukkai/gptwrapper/internal/models"
	"github.com/mluukkai/gptwrapper/internal/registry"
	"github.com/mluukkai/gptwrapper/internal/tokenizer"
	"github.com/mluukkai/gptwrapper/pkg/logging"
)

// UsageEngine is the slice of the engine the HTTP layer uses.
type UsageEngine interface {
	Precheck(ctx context.Context, user models.User, courseID, model string) (bool, error)
	RecordUsage(ctx context.Context, user models.User, courseID string, opts models.StreamingOptions, encode tokenizer.Encoding) (int, error)
	UserStatus(ctx context.Context, user models.User, courseID string) (models.UserStatus, error)
}

// AdminStore is the slice of the usage store behind the admin endpoints.
type AdminStore interface {
	ListServices(ctx context.Context) ([]models.ChatInstance, error)
	ListUsage(ctx context.Context) ([]models.UserServiceUsage, error)
	UpdateServiceLimit(ctx context.Context, chatInstanceID string, limit int64) error
	ResetUsage(ctx context.Context, userID, chatInstanceID string) error
}

// Metrics holds the Prometheus metrics owned by the HTTP layer.
type Metrics struct {
	AdminOperations *prometheus.CounterVec // labels: operation, status
	StatusCache     *prometheus.CounterVec // labels: result
}

var (
	engine      UsageEngine
	adminStore  AdminStore
	serviceReg  *registry.Registry
	logger      logging.Logger
	metrics     *Metrics
	statusCache *goredis.Client
	encoderFor  func(model string) tokenizer.Encoding
)

// Init initializes the handlers. The redis client may be nil, which
// disables the cross-replica status cache. encoder resolves the token
// encoding for a model; it must never return nil.
func Init(
	usageEngine UsageEngine,
	adminUsageStore AdminStore,
	reg *registry.Registry,
	log logging.Logger,
	handlerMetrics *Metrics,
	redisClient *goredis.Client,
	encoder func(model string) tokenizer.Encoding,
) {
	engine = usageEngine
	adminStore = adminUsageStore
	serviceReg = reg
	logger = log
	metrics = handlerMetrics
	statusCache = redisClient
	encoderFor = encoder
}
