// Package app wires every package built under internal/ into one
// running process: logger, then config, then db, then automigrate,
// then the event hub, then the stage clients, then the handlers and
// router.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/eventbus"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/httpapi"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/localio"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/notify"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/output"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/envutil"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/profiles"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/providers"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/runner"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/stage/asr"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/stage/diarize"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/stage/llm"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/store"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/watch"
)

// App is the fully wired process: a gin Router for the API surface
// and a Runner for the worker loop, either or both of which Start
// drives depending on RUN_SERVER/RUN_WORKER.
type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Router *gin.Engine
	Cfg    Config

	store    store.Store
	registry *profiles.Registry
	runner   *runner.Runner
	bus      *eventbus.HubBus
	hub      *eventbus.Hub
	watcher  *watch.FolderWatcher

	cancel context.CancelFunc
}

func New() (*App, error) {
	log, err := logger.New(envutil.GetEnv("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig(log)

	db, err := openDB(log, cfg)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := store.AutoMigrateAll(db); err != nil {
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	zones := localio.NewZones(cfg.ProcessingRoot)
	if err := zones.EnsureDirs(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("ensure processing zones: %w", err)
	}

	registry, err := profiles.New(log, cfg.ProfilesDir, cfg.PromptsDir)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init profile registry: %w", err)
	}

	st := store.NewGormStore(db)

	hub := eventbus.NewHub(log)
	underlying, err := wireUnderlyingBus(log, cfg)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init event bus: %w", err)
	}
	bus := eventbus.NewHubBus(hub, underlying)

	providerRouter := providers.New()
	llmClient := llm.NewClient(providerRouter)
	asrClient := asr.NewClient(log, cfg.ASRBaseURL, cfg.ASRAPIKey)
	asrClient.SetModel(cfg.ASRModel)
	diarizer := diarize.NewProcessDiarizer(log, cfg.DiarizeScriptPath, cfg.HuggingFaceToken)
	writer := output.NewWriter(log)

	var emailChannel *notify.EmailChannel
	if ch, ok := notify.NewEmailChannel(notify.EmailConfigFromEnv()); ok {
		emailChannel = ch
	}
	notifier := notify.NewFanout(log, emailChannel)

	jobRunner := runner.New(log, st, registry, asrClient, diarizer, llmClient, bus, writer, notifier, zones, cfg.OutputRoot)

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Log:               log,
		Store:             st,
		Registry:          registry,
		Zones:             zones,
		OutputRoot:        cfg.OutputRoot,
		LLMClient:         llmClient,
		ProviderRouter:    providerRouter,
		Hub:               hub,
		AdminAPIKey:       cfg.AdminAPIKey,
		JobRateLimitRPS:   cfg.JobRateLimitRPS,
		JobRateLimitBurst: cfg.JobRateLimitBurst,
		AllowOrigins:      cfg.AllowOrigins,
	})

	submitter := &storeSubmitter{store: st, registry: registry, zones: zones}
	folderWatcher, err := watch.NewFolderWatcher(log, cfg.ProcessingRoot, registry, submitter)
	if err != nil {
		log.Warn("inbound folder watcher unavailable", "error", err)
		folderWatcher = nil
	}

	return &App{
		Log:      log,
		DB:       db,
		Router:   router,
		Cfg:      cfg,
		store:    st,
		registry: registry,
		runner:   jobRunner,
		bus:      bus,
		hub:      hub,
		watcher:  folderWatcher,
	}, nil
}

func wireUnderlyingBus(log *logger.Logger, cfg Config) (eventbus.Bus, error) {
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR unset, event bus forwarding disabled")
		return eventbus.NoopBus{}, nil
	}
	return eventbus.NewRedisBus(log)
}

// Start launches the background loops this process owns, gated by
// RUN_SERVER/RUN_WORKER — a single binary image can run as API-only,
// worker-only, or both.
func (a *App) Start(runServer, runWorker bool) {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.bus.StartForwarder(ctx, nil); err != nil {
		a.Log.Warn("event bus forwarder failed to start", "error", err)
	}

	if runWorker {
		go func() {
			if err := a.runner.Run(ctx); err != nil && ctx.Err() == nil {
				a.Log.Error("job runner exited", "error", err)
			}
		}()
		if a.watcher != nil {
			go func() {
				if err := a.watcher.Run(ctx); err != nil {
					a.Log.Error("folder watcher exited", "error", err)
				}
			}()
		}
	}
	_ = runServer
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
