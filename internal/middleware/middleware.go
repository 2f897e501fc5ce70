package middleware

import (
	"context"
	"time"

	"github.com/circlehub/newsletter/internal/config"
	"github.com/circlehub/newsletter/internal/logger"
)

// Counter is the fixed-window counter store behind rate limiting.
// Implemented by database.Redis.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Middleware holds all HTTP middleware
type Middleware struct {
	counter Counter
	log     *logger.Logger
	cfg     *config.Config
}

// New creates a new Middleware instance
func New(counter Counter, log *logger.Logger, cfg *config.Config) *Middleware {
	return &Middleware{
		counter: counter,
		log:     log,
		cfg:     cfg,
	}
}
