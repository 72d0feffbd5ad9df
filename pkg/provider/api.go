package provider

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/skaler/pkg/store"
)

var (
	ErrEmptyName    = errors.New("provider name must not be empty")
	ErrInvalidLimit = errors.New("provider limit must be positive")
)

// APIProvider is a credential with a per-window request limit, backed by a UsageStore.
type APIProvider struct {
	name       string
	credential string
	limit      int64
	store      store.UsageStore
}

// NewAPIProvider creates a provider. A nil store gets a private in-memory store.
func NewAPIProvider(name, credential string, limit int64, usage store.UsageStore) (*APIProvider, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if usage == nil {
		usage = store.NewMemoryUsageStore()
	}
	return &APIProvider{
		name:       name,
		credential: credential,
		limit:      limit,
		store:      usage,
	}, nil
}

func (p *APIProvider) Name() string       { return p.name }
func (p *APIProvider) Credential() string { return p.credential }
func (p *APIProvider) Limit() int64       { return p.limit }

// IsAvailable is true when the provider is not blocked and usage is below the limit.
func (p *APIProvider) IsAvailable(ctx context.Context) bool {
	logger := log.WithField("provider", p.name)

	blocked, err := p.store.IsBlocked(ctx, p.name)
	if err != nil {
		logger.WithError(err).Warn("block lookup failed, treating provider as unavailable")
		return false
	}
	if blocked {
		return false
	}

	used, err := p.store.GetUsage(ctx, p.name)
	if err != nil {
		logger.WithError(err).Warn("usage lookup failed, treating provider as unavailable")
		return false
	}
	return used < p.limit
}

func (p *APIProvider) RecordUsage(ctx context.Context) error {
	return p.store.IncrementUsage(ctx, p.name)
}

func (p *APIProvider) Block(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultBlockTTL
	}
	return p.store.Block(ctx, p.name, ttl)
}

func (p *APIProvider) Usage(ctx context.Context) (int64, error) {
	return p.store.GetUsage(ctx, p.name)
}

func (p *APIProvider) IsBlocked(ctx context.Context) (bool, error) {
	return p.store.IsBlocked(ctx, p.name)
}

func (p *APIProvider) ResetUsage(ctx context.Context) error {
	return p.store.ResetUsage(ctx, p.name)
}
