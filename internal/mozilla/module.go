// Package mozilla is the domain module backed by the Mozilla HTTP
// Observatory. Each analysis submits a scan for the target hostname, fetches
// the per-test details when the service returned a scan id, then publishes
// and stores the canonical Result.
package mozilla

import (
	"context"
	"errors"
	"fmt"

	"github.com/raysh454/webaudit/internal/events"
	"github.com/raysh454/webaudit/internal/logging"
	"github.com/raysh454/webaudit/internal/module"
	"github.com/raysh454/webaudit/internal/observatory"
	"github.com/raysh454/webaudit/internal/webclient"
)

const (
	ID          = "mozilla_observatory"
	DisplayName = "Mozilla Observatory"

	EventCreated = "mozilla_observatory_module__createMozillaObservatoryModule"
	EventResult  = "mozilla_observatory_module__onResult"
)

var (
	ErrNotInitialized     = errors.New("mozilla observatory: module not initialized")
	ErrAlreadyInitialized = errors.New("mozilla observatory: module already initialized")
	ErrEmptyTarget        = errors.New("mozilla observatory: empty target")
)

// Config is the module's configuration section.
type Config struct {
	observatory.Config `mapstructure:",squash"`

	// HTTP configures the client built when the host shares none.
	HTTP webclient.Config `mapstructure:"http"`
}

func DefaultConfig() Config {
	return Config{Config: observatory.DefaultConfig()}
}

// Module implements module.DomainModule.
type Module struct {
	mc     *module.Context
	logger logging.Logger
	client *observatory.Client

	// ownedHTTP is closed by Finish; a client shared through the context is not.
	ownedHTTP webclient.WebClient
}

var _ module.DomainModule = (*Module)(nil)

func New() *Module {
	return &Module{logger: logging.Nop{}}
}

func (m *Module) ID() string   { return ID }
func (m *Module) Name() string { return DisplayName }

// Init stores mc, installs the result table when storage is configured and
// announces the module on the bus.
func (m *Module) Init(ctx context.Context, mc *module.Context) error {
	if m.client != nil {
		return ErrAlreadyInitialized
	}
	if mc == nil {
		mc = &module.Context{}
	}
	logger := mc.Log().With(logging.Field{Key: "component", Value: ID})

	cfg := DefaultConfig()
	if err := mc.DecodeConfig(ID, &cfg); err != nil {
		return fmt.Errorf("decode %s config: %w", ID, err)
	}

	httpClient := mc.HTTP
	var owned webclient.WebClient
	if httpClient == nil {
		wc, err := webclient.NewWebClient(cfg.HTTP, logger)
		if err != nil {
			return fmt.Errorf("create http client: %w", err)
		}
		httpClient, owned = wc, wc
	}
	client, err := observatory.NewClient(cfg.Config, httpClient, logger)
	if err != nil {
		if owned != nil {
			owned.Close()
		}
		return err
	}

	if mc.HasStorage() {
		if err := mc.Storage.InstallStore(ctx, ID, Schema); err != nil {
			if owned != nil {
				owned.Close()
			}
			return fmt.Errorf("install store: %w: %w", module.ErrStorage, err)
		}
	}

	m.mc = mc
	m.logger = logger
	m.client = client
	m.ownedHTTP = owned

	m.emit(events.ModuleCreated(m))
	m.emit(events.ModuleEvent(EventCreated, m, nil, nil))
	logger.Info("module initialized",
		logging.Field{Key: "storage", Value: mc.HasStorage()},
		logging.Field{Key: "hidden", Value: cfg.Hidden})
	return nil
}

// AnalyseDomain runs one scan of target. It never panics; every failure is
// reported through the returned Outcome. Once the starts-computing event
// fired, an ends-computing event follows on every path.
func (m *Module) AnalyseDomain(ctx context.Context, target module.Target) (out module.Outcome) {
	if m.client == nil {
		return module.Failure(ErrNotInitialized)
	}
	if target.IsZero() || target.Hostname() == "" {
		return module.Failure(ErrEmptyTarget)
	}

	m.emit(events.StartsComputing(m))
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("analysis panicked",
				logging.Field{Key: "host", Value: target.Hostname()},
				logging.Field{Key: "panic", Value: fmt.Sprint(r)})
			out = module.Failure(fmt.Errorf("analyse %s: panic: %v", target.Hostname(), r))
		}
		m.emit(events.EndsComputing(m))
	}()

	return m.analyse(ctx, target)
}

func (m *Module) analyse(ctx context.Context, target module.Target) module.Outcome {
	host := target.Hostname()

	sub, err := m.client.SubmitScan(ctx, observatory.ScanRequest{Hostname: host})
	if err != nil {
		m.logger.Warn("submit scan failed",
			logging.Field{Key: "host", Value: host},
			logging.Field{Key: "error", Value: err})
		return module.Failure(fmt.Errorf("submit %s: %w", host, err))
	}

	norm, ok := observatory.Normalize(sub)
	if !ok {
		m.logger.Error("Mozilla Observatory: bad response",
			logging.Field{Key: "host", Value: host},
			logging.Field{Key: "remote_error", Value: sub.Error})
		return module.Failure(fmt.Errorf("%s: %w", host, module.ErrRemoteScanFailed))
	}

	tests, err := m.client.FetchScanDetails(ctx, norm.Ref)
	if err != nil {
		m.logger.Warn("fetch scan results failed",
			logging.Field{Key: "host", Value: host},
			logging.Field{Key: "error", Value: err})
		return module.Failure(fmt.Errorf("fetch %s results: %w", host, err))
	}

	result := newResult(host, norm, tests)

	m.emit(events.ModuleEvent(EventResult, m, target, result))
	m.emit(events.AnalyseResult(m, target, result))
	m.logger.Result(DisplayName, result.Summary(), target.String())

	if m.mc.HasStorage() {
		if err := m.mc.Storage.WriteOne(ctx, ID, result); err != nil {
			m.logger.Warn("store result failed",
				logging.Field{Key: "host", Value: host},
				logging.Field{Key: "error", Value: err})
			return module.Failure(fmt.Errorf("store %s: %w: %w", host, module.ErrStorage, err))
		}
	}
	return module.Success(result)
}

// emit publishes ev and keeps a misbehaving emitter from aborting the
// analysis.
func (m *Module) emit(ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event emitter panicked",
				logging.Field{Key: "event", Value: ev.Name},
				logging.Field{Key: "panic", Value: fmt.Sprint(r)})
		}
	}()
	m.mc.Emit(ev)
}

// Finish releases the HTTP client the module created for itself.
func (m *Module) Finish() error {
	if m.ownedHTTP == nil {
		return nil
	}
	err := m.ownedHTTP.Close()
	m.ownedHTTP = nil
	return err
}
