package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/raysh454/webaudit/internal/events"
	"github.com/raysh454/webaudit/internal/logging"
	"github.com/raysh454/webaudit/internal/module"
	"github.com/raysh454/webaudit/internal/mozilla"
	"github.com/raysh454/webaudit/internal/storage"
	"github.com/raysh454/webaudit/internal/webclient"
)

// DefaultModules returns a fresh instance of every built-in domain module.
func DefaultModules() []module.DomainModule {
	return []module.DomainModule{
		mozilla.New(),
	}
}

// Application is the global runtime state container.
// It holds config and the core services that are shared across modules
// (event bus, storage, outbound http client, orchestrator, logger). Pass
// Application into components that need access to the global state rather
// than using package-level variables.
type Application struct {
	Config *Config
	Logger logging.Logger
	Bus    *events.Bus
	Store  storage.Store
	HTTP   webclient.WebClient
	Orch   *Orchestrator

	forwarder *events.KafkaForwarder
	fwdDone   chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewApplication builds every shared service from cfg. modules defaults to
// DefaultModules when empty.
func NewApplication(ctx context.Context, cfg *Config, logger logging.Logger, modules ...module.DomainModule) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	if len(modules) == 0 {
		modules = DefaultModules()
	}

	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	httpClient, err := webclient.NewWebClient(cfg.WebClient, logger)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	bus := events.NewBus(logger)
	mc := &module.Context{
		Config:  cfg,
		Logger:  logger,
		Bus:     bus,
		Storage: store,
		HTTP:    httpClient,
	}

	appCtx, cancel := context.WithCancel(context.Background())
	a := &Application{
		Config: cfg,
		Logger: logger,
		Bus:    bus,
		Store:  store,
		HTTP:   httpClient,
		Orch:   NewOrchestrator(cfg.Orchestrator, mc, logger, modules...),
		ctx:    appCtx,
		cancel: cancel,
	}
	if cfg.Kafka.Enabled {
		a.forwarder = events.NewKafkaForwarder(bus, events.NewKafkaWriter(cfg.Kafka), logger)
	}
	return a, nil
}

// Start initializes the modules and starts background forwarding.
func (a *Application) Start(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application starting",
		logging.Field{Key: "storage", Value: string(a.Config.Storage.Driver)},
		logging.Field{Key: "kafka", Value: a.forwarder != nil})

	if a.forwarder != nil {
		a.fwdDone = make(chan struct{})
		go func() {
			defer close(a.fwdDone)
			if err := a.forwarder.Run(a.ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Warn("kafka forwarder stopped", logging.Field{Key: "error", Value: err})
			}
		}()
	}
	return a.Orch.Init(ctx)
}

// Shutdown finishes the modules and releases every shared service. It is
// safe to call more than once.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	var result *multierror.Error
	a.stopOnce.Do(func() {
		a.Logger.Info("application shutdown initiated")

		if err := a.Orch.Close(); err != nil {
			result = multierror.Append(result, err)
		}

		// Closing the bus lets the forwarder drain and return.
		a.Bus.Close()
		if a.fwdDone != nil {
			select {
			case <-a.fwdDone:
			case <-ctx.Done():
				a.cancel()
				<-a.fwdDone
			}
		}
		a.cancel()
		if a.forwarder != nil {
			if err := a.forwarder.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("close kafka writer: %w", err))
			}
		}

		if err := a.HTTP.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close http client: %w", err))
		}
		if a.Store != nil {
			if err := a.Store.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("close storage: %w", err))
			}
		}
	})
	return result.ErrorOrNil()
}

// Reader returns the store as a storage.Reader when it supports reads.
func (a *Application) Reader() (storage.Reader, bool) {
	if a == nil || a.Store == nil {
		return nil, false
	}
	r, ok := a.Store.(storage.Reader)
	return r, ok
}
