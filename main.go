package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"imgforge/archive"
	"imgforge/auth"
	"imgforge/cleanup"
	"imgforge/config"
	"imgforge/credentials"
	"imgforge/history"
	"imgforge/job"
	"imgforge/kv"
	"imgforge/logger"
	"imgforge/queue"
	"imgforge/ratelimit"
	"imgforge/routes"
	"imgforge/settings"
)

const shutdownTimeout = 30 * time.Second

// app holds the long-lived resources shared by the API and the worker.
type app struct {
	settingsDB *kv.Store
	historyDB  *kv.Store
	credsDB    *kv.Store

	history     *history.Store
	credentials *credentials.Store
	processor   *job.Processor

	redis    asynq.RedisClientOpt
	hasRedis bool
	prober   *queue.RedisProber
	detector *queue.Detector
	client   *queue.Client
}

func main() {
	mode := flag.String("mode", "all", "what to run: all, api, worker or token")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the token printed by -mode token")
	flag.Parse()

	if *mode == "token" {
		printToken(*tokenTTL)
		return
	}

	if err := logger.InitFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	runAPI, runWorker := false, false
	switch *mode {
	case "all":
		runAPI, runWorker = true, true
	case "api":
		runAPI = true
	case "worker":
		runWorker = true
	default:
		logger.Fatalf("Unknown mode %q: expected all, api, worker or token", *mode)
	}

	logger.Infof("Starting imgforge %s (mode=%s)", routes.Version(), *mode)

	a, err := openApp()
	if err != nil {
		logger.Fatalf("Startup failed: %v", err)
	}
	defer a.close()

	if runWorker && !a.hasRedis {
		logger.Fatal("Worker mode needs IMGFORGE_REDIS_ADDR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var worker *asynq.Server
	if runWorker {
		worker = queue.NewServer(a.redis, config.GetWorkerConcurrency())
		mux := asynq.NewServeMux()
		job.NewWorker(a.processor).Register(mux)
		if err := worker.Start(mux); err != nil {
			logger.Fatalf("Failed to start queue worker: %v", err)
		}
		logger.Infof("Queue worker started (concurrency %d)", config.GetWorkerConcurrency())
	}

	var server *http.Server
	serveErr := make(chan error, 1)
	if runAPI {
		handler, err := a.apiHandler(ctx)
		if err != nil {
			logger.Fatalf("Failed to build API: %v", err)
		}
		server = &http.Server{
			Addr:              config.GetListenAddr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Infof("imgforge API listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		logger.Errorf("Server failed: %v", err)
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("HTTP shutdown: %v", err)
		}
		cancel()
	}
	if worker != nil {
		worker.Shutdown()
	}
	logger.Info("imgforge stopped")
}

func openApp() (*app, error) {
	a := &app{}
	var err error
	if a.historyDB, err = kv.Open(config.GetHistoryDBPath()); err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	if a.credsDB, err = kv.Open(config.GetCredentialsDBPath()); err != nil {
		a.close()
		return nil, fmt.Errorf("open credentials store: %w", err)
	}
	a.history = history.NewStore(a.historyDB)
	a.credentials = credentials.NewStore(a.credsDB)
	a.processor = job.NewProcessor(config.GetProcessedDir(), config.GetPublicBaseURL(), a.history, a.credentials)

	if addr := config.GetRedisAddr(); addr != "" {
		a.hasRedis = true
		a.redis = queue.RedisOpt(addr, config.GetRedisPassword(), config.GetRedisDB())
		a.prober = queue.NewRedisProber(addr, config.GetRedisPassword(), config.GetRedisDB())
		a.detector = queue.NewDetector(a.prober)
		a.client = queue.NewClient(a.redis)
		logger.Infof("Job queue configured at %s", addr)
	} else {
		a.detector = queue.NewDetector(nil)
		logger.Info("No job queue configured; images are processed directly")
	}
	return a, nil
}

// apiHandler wires the HTTP services and starts the cleanup scheduler.
func (a *app) apiHandler(ctx context.Context) (http.Handler, error) {
	var err error
	if a.settingsDB, err = kv.Open(config.GetSettingsDBPath()); err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}
	for _, dir := range []string{config.GetUploadDir(), config.GetProcessedDir(), config.GetArchiveDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	settingsStore := settings.NewStore(a.settingsDB)
	cache := settings.NewCache(settingsStore)

	direct := job.NewDirectExecutor(a.processor, config.GetWorkerConcurrency())
	var (
		queued    job.Executor
		inspector job.Inspector
	)
	if a.client != nil {
		queued = job.NewQueuedExecutor(a.client)
		inspector = a.client
	}

	engine := cleanup.NewEngine(cache, config.GetProcessedDir(), config.GetArchiveDir(), config.GetUploadDir())
	engine.Grace = config.GetCleanupGrace()
	scheduler := cleanup.NewScheduler(engine, cache, a.history)
	scheduler.Start(ctx)

	if config.GetAdminSecret() == "" {
		logger.Warn("IMGFORGE_ADMIN_SECRET is not set; admin endpoints are disabled")
	}

	s := &routes.Server{
		Settings:      cache,
		SettingsStore: settingsStore,
		Limiters:      ratelimit.NewFactory(cache),
		Queue:         a.detector,
		Dispatcher:    job.NewDispatcher(a.detector, direct, queued),
		Jobs:          job.NewStatusService(a.detector, inspector, a.history),
		Archives:      archive.NewBuilder(config.GetProcessedDir(), config.GetArchiveDir()),
		Cleanup:       scheduler,
		History:       a.history,
		Credentials:   a.credentials,
		Stores: map[string]routes.HealthChecker{
			"settings":    a.settingsDB,
			"history":     a.history,
			"credentials": a.credsDB,
		},
		UploadDir:    config.GetUploadDir(),
		ProcessedDir: config.GetProcessedDir(),
		ArchiveDir:   config.GetArchiveDir(),
		BaseURL:      config.GetPublicBaseURL(),
		AdminSecret:  config.GetAdminSecret(),
	}
	return s.Handler(), nil
}

func (a *app) close() {
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			logger.Warnf("Closing queue client: %v", err)
		}
	}
	if a.prober != nil {
		a.prober.Close()
	}
	for name, db := range map[string]*kv.Store{"settings": a.settingsDB, "history": a.historyDB, "credentials": a.credsDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			logger.Errorf("Closing %s store: %v", name, err)
		}
	}
}

// printToken writes an admin bearer token signed with the configured secret.
func printToken(ttl time.Duration) {
	secret := config.GetAdminSecret()
	if secret == "" {
		fmt.Fprintln(os.Stderr, "IMGFORGE_ADMIN_SECRET is not set")
		os.Exit(1)
	}
	token, err := auth.NewAdminToken([]byte(secret), "cli", ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
