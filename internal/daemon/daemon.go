// Package daemon is the composition root for the serve command. It
// builds the full runtime (bus, store, providers, loop, router,
// channels, cron, gateway) from config and supervises shutdown.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jaredwolff/patina/internal/config"
	"github.com/jaredwolff/patina/internal/logger"
	"github.com/jaredwolff/patina/internal/slack"
	"github.com/jaredwolff/patina/internal/telegram"
	"github.com/jaredwolff/patina/internal/tracing"
	"github.com/jaredwolff/patina/pkg/agent"
	"github.com/jaredwolff/patina/pkg/bus"
	"github.com/jaredwolff/patina/pkg/channels"
	"github.com/jaredwolff/patina/pkg/cron"
	"github.com/jaredwolff/patina/pkg/gateway"
	"github.com/jaredwolff/patina/pkg/memory"
	"github.com/jaredwolff/patina/pkg/router"
	"github.com/jaredwolff/patina/pkg/session"
	"github.com/jaredwolff/patina/pkg/tools"
	"github.com/jaredwolff/patina/pkg/tools/builtin"
	"github.com/jaredwolff/patina/pkg/usage"
)

const stopTimeout = 10 * time.Second

// Daemon owns the assembled runtime.
type Daemon struct {
	cfg    *config.Config
	log    *logger.Logger
	logger zerolog.Logger

	bus          *bus.Bus
	store        *session.Store
	registry     *tools.Registry
	builder      *agent.ContextBuilder
	tracker      *usage.Tracker
	consolidator *memory.Consolidator
	router       *router.Router
	manager      *channels.Manager
	cron         *cron.Service
	heartbeat    *cron.Heartbeat
	gateway      *gateway.Server
}

// New builds the runtime from config. Configuration errors are fatal:
// nothing starts until every component constructs cleanly.
func New(cfg *config.Config) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir, cfg.WorkspacePath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	zl := log.GetZerolog()

	if err := tracing.InitOpenTelemetry("patina"); err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	d := &Daemon{cfg: cfg, log: log, logger: zl}
	if err := d.build(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) build() error {
	cfg := d.cfg

	b, err := bus.New(bus.Config{
		InboundBuffer:    cfg.Bus.InboundBuffer,
		SubscriberBuffer: cfg.Bus.SubscriberBuffer,
	}, d.logger)
	if err != nil {
		return fmt.Errorf("failed to create bus: %w", err)
	}
	d.bus = b

	store, err := session.NewStore(cfg.SessionsDir(), d.logger)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	d.store = store

	d.registry = tools.NewRegistry(cfg.Tools.TimeoutDuration(), d.logger)
	if err := d.registerTools(); err != nil {
		return err
	}

	provider, err := selectProvider(cfg.Providers)
	if err != nil {
		return err
	}

	files := memory.NewFiles(cfg.MemoryDir())
	builder, err := agent.NewContextBuilder(cfg.WorkspacePath, files, d.logger)
	if err != nil {
		return fmt.Errorf("failed to create context builder: %w", err)
	}
	d.builder = builder

	tracker, err := usage.NewTracker(cfg.UsageDBPath(), d.logger)
	if err != nil {
		return fmt.Errorf("failed to create usage tracker: %w", err)
	}
	d.tracker = tracker

	loop, err := agent.NewLoop(agent.Config{
		Model:          cfg.Agent.Model,
		MaxIterations:  cfg.Agent.MaxIterations,
		MemoryWindow:   cfg.Agent.MemoryWindow,
		Temperature:    cfg.Agent.Temperature,
		MaxTokens:      cfg.Agent.MaxTokens,
		RequestTimeout: cfg.Agent.RequestTimeoutDuration(),
	}, provider, d.registry, store, builder, tracker, d.logger)
	if err != nil {
		return fmt.Errorf("failed to create agent loop: %w", err)
	}

	consolidator, err := memory.NewConsolidator(store, provider, files, cfg.Agent.Model, cfg.Agent.MemoryWindow, d.logger)
	if err != nil {
		return fmt.Errorf("failed to create consolidator: %w", err)
	}
	d.consolidator = consolidator

	d.router = router.New(b, store, loop, consolidator, d.logger)

	manager, err := channels.NewManager(b, d.logger)
	if err != nil {
		return fmt.Errorf("failed to create channel manager: %w", err)
	}
	d.manager = manager

	if cfg.Channels.Telegram.Enabled {
		tg, err := telegram.New(cfg.Channels.Telegram, b, d.logger)
		if err != nil {
			return fmt.Errorf("failed to create telegram channel: %w", err)
		}
		if err := manager.Register(tg); err != nil {
			return err
		}
	}

	if cfg.Channels.Slack.Enabled {
		sl, err := slack.New(cfg.Channels.Slack, b, d.logger)
		if err != nil {
			return fmt.Errorf("failed to create slack channel: %w", err)
		}
		if err := manager.Register(sl); err != nil {
			return err
		}
	}

	if cfg.Cron.Enabled {
		jobsFile := cfg.Cron.JobsFile
		if jobsFile == "" {
			jobsFile = filepath.Join(cfg.DataDir, "cron", "jobs.json")
		}
		svc, err := cron.NewService(jobsFile, b, d.logger)
		if err != nil {
			return fmt.Errorf("failed to create cron service: %w", err)
		}
		d.cron = svc
	}

	if cfg.Heartbeat.Enabled {
		hb, err := cron.NewHeartbeat(cfg.WorkspacePath, cfg.Heartbeat.IntervalDuration(), b, d.logger)
		if err != nil {
			return fmt.Errorf("failed to create heartbeat: %w", err)
		}
		d.heartbeat = hb
	}

	if cfg.Channels.Gateway.Enabled {
		gw, err := gateway.NewServer(gateway.Config{
			Addr:     fmt.Sprintf("%s:%d", cfg.Channels.Gateway.Host, cfg.Channels.Gateway.Port),
			Password: cfg.Channels.Gateway.Password,
			Bus:      b,
			Store:    store,
			Logger:   d.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create gateway: %w", err)
		}
		d.gateway = gw
	}

	return nil
}

func (d *Daemon) registerTools() error {
	cfg := d.cfg
	toRegister := []tools.Tool{
		&builtin.ReadFile{Root: cfg.WorkspacePath},
		&builtin.WriteFile{Root: cfg.WorkspacePath},
		&builtin.ListDir{Root: cfg.WorkspacePath},
	}
	if cfg.Tools.ExecEnabled {
		toRegister = append(toRegister, &builtin.Exec{Root: cfg.WorkspacePath, Denied: cfg.Tools.ExecDenied})
	}
	for _, t := range toRegister {
		if err := d.registry.Register(t); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", t.Name(), err)
		}
	}
	return nil
}

// selectProvider picks the highest-priority profile (lowest Priority
// value wins) and constructs its provider.
func selectProvider(profiles []config.ProviderProfile) (agent.Provider, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("no model providers configured")
	}
	sorted := make([]config.ProviderProfile, len(profiles))
	copy(sorted, profiles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	p := sorted[0]
	provider, err := agent.NewProvider(p.Provider, p.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %s: %w", p.Provider, err)
	}
	return provider, nil
}

// Run starts every component and blocks until ctx is cancelled, then
// shuts down in reverse order: stop accepting traffic first, drain the
// router last.
func (d *Daemon) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.router.Run(runCtx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.manager.Run(runCtx); err != nil {
			d.logger.Error().Err(err).Msg("channel delivery loop failed")
		}
	}()

	if err := d.manager.StartAll(runCtx); err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("failed to start channels: %w", err)
	}

	if d.cron != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.cron.Run(runCtx)
		}()
	}
	if d.heartbeat != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.heartbeat.Run(runCtx)
		}()
	}

	if d.gateway != nil {
		if err := d.gateway.Start(); err != nil {
			cancel()
			d.stopChannels()
			wg.Wait()
			return fmt.Errorf("failed to start gateway: %w", err)
		}
	}

	d.logger.Info().Strs("channels", d.manager.Names()).Msg("daemon started")
	<-ctx.Done()
	d.logger.Info().Msg("daemon stopping")

	if d.gateway != nil {
		if err := d.gateway.Stop(); err != nil {
			d.logger.Warn().Err(err).Msg("gateway shutdown failed")
		}
	}
	d.stopChannels()

	cancel()
	wg.Wait()
	return nil
}

func (d *Daemon) stopChannels() {
	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	d.manager.StopAll(stopCtx)
}

// Cron exposes the scheduler, when enabled, for job management.
func (d *Daemon) Cron() *cron.Service { return d.cron }

// Close releases resources. Safe on a partially built daemon.
func (d *Daemon) Close() {
	if d.builder != nil {
		if err := d.builder.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("failed to close context builder")
		}
	}
	if d.tracker != nil {
		if err := d.tracker.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("failed to close usage tracker")
		}
	}
	if d.bus != nil {
		d.bus.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
		d.logger.Warn().Err(err).Msg("failed to shut down tracing")
	}

	if d.log != nil {
		_ = d.log.Close()
	}
}
