package provider

import (
	"context"
	"time"
)

// DefaultBlockTTL is how long a provider stays excluded after a failed request
// when the caller does not supply a positive ttl.
const DefaultBlockTTL = 60 * time.Second

// Provider is a named upstream credential that the dispatcher can route through.
type Provider interface {
	// Name identifies the provider and keys its usage and block state.
	Name() string

	// Credential is sent as a bearer token. Empty means no Authorization header.
	Credential() string

	// IsAvailable reports whether the provider may serve a request right now.
	// It never returns an error: a state lookup that fails counts as unavailable.
	IsAvailable(ctx context.Context) bool

	// RecordUsage counts one successful request.
	RecordUsage(ctx context.Context) error

	// Block excludes the provider for ttl. A non-positive ttl means DefaultBlockTTL.
	Block(ctx context.Context, ttl time.Duration) error
}

// Reporter is implemented by providers that can describe their quota state.
type Reporter interface {
	Usage(ctx context.Context) (int64, error)
	Limit() int64
	IsBlocked(ctx context.Context) (bool, error)
}

// Resetter is implemented by providers whose usage counter can be cleared.
type Resetter interface {
	ResetUsage(ctx context.Context) error
}
