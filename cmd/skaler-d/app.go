package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/skaler/pkg/api"
	"github.com/rmax-ai/skaler/pkg/config"
	"github.com/rmax-ai/skaler/pkg/engine"
	"github.com/rmax-ai/skaler/pkg/provider"
	"github.com/rmax-ai/skaler/pkg/requester"
	"github.com/rmax-ai/skaler/pkg/store"
	redisstore "github.com/rmax-ai/skaler/pkg/store/redis"
)

const (
	redisPingTimeout = 5 * time.Second
	shutdownTimeout  = 10 * time.Second
)

// app is the wired daemon: stores, providers, manager and HTTP server.
type app struct {
	manager   *engine.Manager
	resetter  *engine.UsageResetter
	pruner    *engine.PruneWorker
	events    store.EventLog
	server    *api.Server
	requester *requester.HTTPRequester
	closers   []func() error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	if cfg.DefaultTimeout > api.MaxDispatchTimeout {
		return nil, fmt.Errorf("default-timeout %s exceeds the dispatch limit of %s", cfg.DefaultTimeout, api.MaxDispatchTimeout)
	}

	a := &app{}

	usage, err := a.openStores(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	providers := make([]provider.Provider, 0, len(cfg.Providers)+1)
	for _, pc := range cfg.Providers {
		p, err := provider.NewAPIProvider(pc.Name, pc.Credential, pc.Limit, usage)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		providers = append(providers, p)
	}
	if cfg.DummyProvider {
		providers = append(providers, provider.NewDummyProvider(""))
	}

	for _, p := range cfg.Proxies {
		if _, err := requester.ParseProxyURL(p); err != nil {
			a.close()
			return nil, err
		}
	}

	a.requester = requester.NewHTTPRequester(nil)
	a.requester.SetDefaultTimeout(cfg.DefaultTimeout)

	opts := []engine.Option{
		engine.WithRequester(a.requester),
		engine.WithBlockTTL(cfg.BlockTTL),
		engine.WithRecorder(a.events),
	}
	if len(cfg.Proxies) > 0 {
		opts = append(opts, engine.WithProxyPool(engine.NewProxyPool(cfg.Proxies)))
	}
	a.manager, err = engine.NewManager(providers, opts...)
	if err != nil {
		a.close()
		return nil, err
	}

	// Redis expires counters itself; the other backends need the ticker.
	if cfg.UsageWindow > 0 && cfg.Store.Backend != config.BackendRedis {
		a.resetter = engine.NewUsageResetter(providers, cfg.UsageWindow)
	}

	a.server = api.NewServer(a.manager, a.events, cfg.Listen)
	a.server.SetAuthToken(cfg.APIToken)
	a.server.SetRetryAfter(retryAfter(cfg))

	log.WithFields(log.Fields{
		"providers": len(providers),
		"proxies":   len(cfg.Proxies),
		"store":     cfg.Store.Backend,
	}).Info("manager_initialized")
	return a, nil
}

// retryAfter is the longest a caller waits for some provider to come back:
// blocks lapse after the block TTL and counters reset every usage window.
func retryAfter(cfg config.Config) time.Duration {
	d := cfg.BlockTTL
	if cfg.UsageWindow > 0 && cfg.UsageWindow < d {
		d = cfg.UsageWindow
	}
	return d
}

// openStores sets a.events and returns the usage store for cfg's backend.
func (a *app) openStores(ctx context.Context, cfg config.Config) (store.UsageStore, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		st, err := store.NewStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to init sqlite store: %w", err)
		}
		a.closers = append(a.closers, st.Close)
		a.events = st
		// The memory ring and the Redis list are capped; the table is not.
		if cfg.EventRetention > 0 {
			a.pruner = engine.NewPruneWorker(st, cfg.EventRetention, 0)
		}
		log.WithField("path", cfg.Store.SQLitePath).Info("store_initialized")
		return st, nil

	case config.BackendRedis:
		rc := cfg.Store.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		a.closers = append(a.closers, client.Close)

		st := redisstore.NewRedisUsageStore(client,
			redisstore.WithPrefix(rc.Prefix),
			redisstore.WithUsageWindow(cfg.UsageWindow),
		)
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := st.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("redis at %s: %w", rc.Addr, err)
		}
		a.events = redisstore.NewRedisEventLog(client, rc.Prefix, cfg.EventCapacity)
		log.WithField("addr", rc.Addr).Info("store_initialized")
		return st, nil

	default:
		a.events = store.NewEventRing(cfg.EventCapacity)
		log.Info("store_initialized")
		return store.NewMemoryUsageStore(), nil
	}
}

// run serves until ctx is cancelled, then shuts the server down.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.resetter != nil {
		go a.resetter.Start(ctx)
	}
	if a.pruner != nil {
		go a.pruner.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutdown_initiated")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return <-errCh
}

func (a *app) close() error {
	if a.requester != nil {
		a.requester.CloseIdleConnections()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
