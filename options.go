package paygate

import (
	"log/slog"

	"github.com/paygate-labs/paygate/store"
)

// config holds the configuration for a Verifier.
type config struct {
	store  store.Store
	logger *slog.Logger
}

// Option configures a Verifier.
type Option func(*config)

// WithStore sets the backing store for the processed set.
//
// Use store.NewRedisStore for multi-instance deployments (its atomic
// add-if-absent is the only backend safe across instances) or
// store.NewFileStore for a single instance with local durability.
//
// Default: store.NewMemoryStore, which loses the set on restart.
func WithStore(s store.Store) Option {
	return func(c *config) {
		c.store = s
	}
}

// WithLogger sets the structured logger used for persistence
// degradation and rollback events.
//
// Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
