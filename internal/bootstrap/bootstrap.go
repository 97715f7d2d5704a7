// Package bootstrap wires configuration, logging, the voice domain, the
// engine client and the HTTP transport into a running gateway process.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"cosyvoice-gateway/internal/domain/audio"
	"cosyvoice-gateway/internal/domain/eventbus"
	"cosyvoice-gateway/internal/domain/synth"
	"cosyvoice-gateway/internal/domain/voice"
	voicestore "cosyvoice-gateway/internal/domain/voice/store"
	enginecosyvoice "cosyvoice-gateway/internal/engine/cosyvoice"
	platformconfig "cosyvoice-gateway/internal/platform/config"
	platformerrors "cosyvoice-gateway/internal/platform/errors"
	platformlogging "cosyvoice-gateway/internal/platform/logging"
	platformobservability "cosyvoice-gateway/internal/platform/observability"
	httptransport "cosyvoice-gateway/internal/transport/http"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID      string
	Title   string
	Execute stepFn
}

// appState accumulates everything the init steps build.
type appState struct {
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	sqliteDB              *gorm.DB
	voiceStore            voicestore.Store
	engineClient          *enginecosyvoice.Client
	registry              *voice.Registry
	cache                 *synth.Cache
	admission             *synth.Admission
	bus                   *eventbus.Bus
	orchestrator          *synth.Orchestrator
	httpService           *httptransport.Service
	router                *httptransport.Router
}

// InitGraph returns the ordered bootstrap steps.
func InitGraph() []initStep {
	return []initStep{
		{ID: "config", Title: "load configuration", Execute: stepConfig},
		{ID: "logging", Title: "initialise logging", Execute: stepLogging},
		{ID: "observability", Title: "initialise observability", Execute: stepObservability},
		{ID: "storage", Title: "open voice store", Execute: stepStorage},
		{ID: "engine", Title: "connect engine client", Execute: stepEngine},
		{ID: "voices", Title: "restore voice registry", Execute: stepVoices},
		{ID: "synthesis", Title: "assemble synthesis pipeline", Execute: stepSynthesis},
		{ID: "transport", Title: "build http transport", Execute: stepTransport},
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	for _, step := range steps {
		if err := step.Execute(ctx, state); err != nil {
			return platformerrors.Wrap(platformerrors.KindBootstrap, "bootstrap."+step.ID,
				fmt.Sprintf("%s failed", step.Title), err)
		}
		if state.logger != nil {
			state.logger.Debug("[BOOT] %s done", step.Title)
		}
	}
	return nil
}

// Run drives the full service lifecycle: init steps, HTTP serving, graceful
// shutdown on SIGINT/SIGTERM.
func Run(ctx context.Context) error {
	state := &appState{}

	if err := executeInitSteps(ctx, InitGraph(), state); err != nil {
		return err
	}
	logger := state.logger
	defer logger.Close()
	defer func() {
		if shutdown := state.observabilityShutdown; shutdown != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}
	}()
	defer func() {
		if state.voiceStore != nil {
			_ = state.voiceStore.Close(context.Background())
		}
	}()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)

	addr := fmt.Sprintf("%s:%d", state.config.Server.Host, state.config.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           state.router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group.Go(func() error {
		logger.Info("[BOOT] gateway listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return platformerrors.Wrap(platformerrors.KindTransport, "bootstrap.serve", "http server failed", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("[BOOT] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return platformerrors.Wrap(platformerrors.KindTransport, "bootstrap.shutdown", "http shutdown failed", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("[BOOT] gateway stopped")
	return nil
}

func stepConfig(ctx context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func stepLogging(ctx context.Context, state *appState) error {
	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return err
	}
	state.logger = logger
	if state.configPath != "" {
		logger.Info("[BOOT] configuration loaded from %s", state.configPath)
	} else {
		logger.Info("[BOOT] configuration loaded from defaults and environment")
	}
	return nil
}

func stepObservability(ctx context.Context, state *appState) error {
	shutdown, err := platformobservability.Setup(ctx, platformobservability.Config{
		Enabled: state.config.Log.Level == "debug",
	}, state.logger.Slog())
	if err != nil {
		return err
	}
	state.observabilityShutdown = shutdown
	return nil
}

func stepStorage(ctx context.Context, state *appState) error {
	cfg := state.config.Voices

	if cfg.Store.Type == voicestore.DriverSQLite {
		dsn := cfg.Store.SQLite.DSN
		if dsn == "" {
			dsn = filepath.Join(cfg.Dir, "voices.db")
		}
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindStorage, "bootstrap.sqlite", "open sqlite database", err)
		}
		state.sqliteDB = db
	}

	store, err := voicestore.New(cfg.Store, voicestore.Dependencies{
		SQLiteDB:  state.sqliteDB,
		VoicesDir: cfg.Dir,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "bootstrap.store", "create voice store", err)
	}
	state.voiceStore = store
	state.logger.Info("[BOOT] voice store ready (%s)", cfg.Store.Type)
	return nil
}

func stepEngine(ctx context.Context, state *appState) error {
	state.engineClient = enginecosyvoice.NewClient(state.config.Engine, state.logger)

	// A cold engine is not fatal; the health endpoint keeps reporting it.
	if err := state.engineClient.Ping(ctx); err != nil {
		state.logger.Warn("[ENGINE] engine not reachable at startup: %v", err)
	} else {
		state.logger.Info("[ENGINE] engine reachable at %s", state.config.Engine.URL)
	}
	return nil
}

func stepVoices(ctx context.Context, state *appState) error {
	registry, err := voice.NewRegistry(ctx, voice.Options{
		Store:            state.voiceStore,
		Cloner:           state.engineClient,
		SampleDir:        filepath.Join(state.config.Voices.Dir, "samples"),
		MaxSampleSeconds: state.config.Voices.MaxSampleSeconds,
		Logger:           state.logger,
	})
	if err != nil {
		return err
	}
	state.registry = registry
	return nil
}

func stepSynthesis(ctx context.Context, state *appState) error {
	cfg := state.config

	state.cache = synth.NewCache(cfg.Cache.Enabled, cfg.Cache.MaxEntries, cfg.Cache.MaxBytes)
	state.admission = synth.NewAdmission(cfg.Synthesis.ConcurrentRequests, cfg.Synthesis.QueueTimeout, state.logger)
	state.bus = eventbus.New()

	if err := registerStatsSubscribers(state.bus, state.logger); err != nil {
		return err
	}

	state.orchestrator = synth.NewOrchestrator(synth.Options{
		Registry:         state.registry,
		Cache:            state.cache,
		Admission:        state.admission,
		Engine:           state.engineClient,
		Encoder:          audio.NewEncoder("", state.logger),
		Bus:              state.bus,
		Logger:           state.logger,
		MaxTextLength:    cfg.Synthesis.MaxTextLength,
		JobTimeout:       cfg.Synthesis.JobTimeout,
		StreamingEnabled: cfg.Synthesis.StreamingEnabled,
	})
	return nil
}

func stepTransport(ctx context.Context, state *appState) error {
	router, err := httptransport.Build(httptransport.Options{
		Config: state.config,
		Logger: state.logger,
	})
	if err != nil {
		return err
	}

	service, err := httptransport.NewService(
		state.config,
		state.orchestrator,
		state.registry,
		state.cache,
		state.engineClient,
		state.bus,
		state.logger,
	)
	if err != nil {
		return err
	}
	if err := service.Register(ctx, router); err != nil {
		return err
	}

	state.router = router
	state.httpService = service
	return nil
}

// registerStatsSubscribers attaches async listeners that keep running totals
// visible in the log without touching the synthesis path.
func registerStatsSubscribers(bus *eventbus.Bus, logger *platformlogging.Logger) error {
	if err := bus.SubscribeAsync(eventbus.EventSynthesisFailed, func(data eventbus.SynthesisEventData) {
		logger.Warn("[TTS] synthesis failed (voice=%s format=%s): %s", data.Voice, data.Format, data.Error)
	}); err != nil {
		return err
	}
	if err := bus.SubscribeAsync(eventbus.EventCacheHit, func(data eventbus.SynthesisEventData) {
		logger.Debug("[CACHE] hit (voice=%s format=%s %d bytes)", data.Voice, data.Format, data.Bytes)
	}); err != nil {
		return err
	}
	return bus.SubscribeAsync(eventbus.EventVoiceCloned, func(data eventbus.VoiceEventData) {
		logger.Info("[VOICE] clone event: %s", data.Name)
	})
}
