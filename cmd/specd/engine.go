package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/checks"
	"github.com/fyrsmithlabs/specd/internal/config"
	"github.com/fyrsmithlabs/specd/internal/coordinator"
	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/lease"
	"github.com/fyrsmithlabs/specd/internal/logging"
	"github.com/fyrsmithlabs/specd/internal/notify"
	"github.com/fyrsmithlabs/specd/internal/session"
)

// engine is the store and coordinator built from configuration.
type engine struct {
	store *docstore.Store
	coord *coordinator.Coordinator
	nc    *nats.Conn
}

// Close releases the engine's connections.
func (e *engine) Close() {
	if e.nc != nil {
		_ = e.nc.Drain()
	}
}

func newEngine(cfg *config.Config, logger *logging.Logger, tracer trace.Tracer) (*engine, error) {
	zl := logger.Underlying()

	backend, err := newBackend(cfg.Store)
	if err != nil {
		return nil, err
	}
	store, err := docstore.NewStore(backend, zl.Named("docstore"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	e := &engine{store: store}

	opts := []coordinator.Option{
		coordinator.WithChecks(newChecks(cfg.Checks)),
	}
	for role, wc := range cfg.Workers {
		opts = append(opts, coordinator.WithWorker(role, newWorker(wc)))
	}
	if tracer != nil {
		opts = append(opts, coordinator.WithTracer(tracer))
	}

	if cfg.Store.LeaseDir != "" {
		leases, err := lease.NewFlock(cfg.Store.LeaseDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create lease dir: %w", err)
		}
		opts = append(opts, coordinator.WithLeaser(leases))
	}

	notifiers := notify.Multi{notify.NewLogNotifier(zl)}
	if cfg.NATS.Enabled {
		nc, err := connectNATS(cfg.NATS, zl)
		if err != nil {
			return nil, err
		}
		n, err := notify.NewNATSNotifier(nc, cfg.NATS.SubjectPrefix)
		if err != nil {
			nc.Close()
			return nil, err
		}
		e.nc = nc
		notifiers = append(notifiers, n)
	}
	opts = append(opts, coordinator.WithNotifier(notifiers))

	coord, err := coordinator.New(coordinatorConfig(cfg), store, zl, opts...)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	e.coord = coord
	return e, nil
}

func newBackend(cfg config.StoreConfig) (docstore.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return docstore.NewMemoryBackend(), nil
	default:
		backend, err := docstore.NewFileBackend(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		return backend, nil
	}
}

func coordinatorConfig(cfg *config.Config) coordinator.Config {
	return coordinator.Config{
		SessionTimeout: cfg.Coordinator.SessionTimeout.Duration(),
		MaxConcurrent:  cfg.Coordinator.MaxConcurrent,
		PollInterval:   cfg.Coordinator.PollInterval.Duration(),
		RatePerSecond:  cfg.Coordinator.RatePerSecond,
		Burst:          cfg.Coordinator.Burst,
		Retry: coordinator.RetryConfig{
			MaxRetries:        cfg.Retry.MaxRetries,
			InitialBackoff:    cfg.Retry.InitialBackoff.Duration(),
			MaxBackoff:        cfg.Retry.MaxBackoff.Duration(),
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		},
	}
}

func newChecks(cmds map[string]config.CommandConfig) *checks.Set {
	set := checks.NewSet()
	for name, cc := range cmds {
		set.Register(name, &checks.CommandChecker{
			Command: cc.Command,
			Args:    cc.Args,
			Dir:     cc.Dir,
			Env:     cc.Env,
			Timeout: cc.Timeout.Duration(),

			SkipExitCode: cc.SkipExitCode,
			AllowSkip:    cc.AllowSkip,
		})
	}
	return set
}

// newWorker returns an external agent worker. A configured timeout
// bounds the process in addition to the session timeout.
func newWorker(cc config.CommandConfig) session.Worker {
	w := &session.ExecWorker{
		Command: cc.Command,
		Args:    cc.Args,
		Dir:     cc.Dir,
		Env:     cc.Env,
	}
	timeout := cc.Timeout.Duration()
	if timeout <= 0 {
		return w
	}
	return session.WorkerFunc(func(ctx context.Context, ws *session.Workspace) (session.Result, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return w.Work(ctx, ws)
	})
}

func connectNATS(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("specd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.Token.Value()))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}
