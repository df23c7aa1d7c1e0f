// Package server builds the crawl service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/ondemand-crawler/internal/api"
	"github.com/JakeFAU/ondemand-crawler/internal/clock/system"
	"github.com/JakeFAU/ondemand-crawler/internal/config"
	"github.com/JakeFAU/ondemand-crawler/internal/content"
	"github.com/JakeFAU/ondemand-crawler/internal/crawler"
	"github.com/JakeFAU/ondemand-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/ondemand-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/ondemand-crawler/internal/hash/sha256"
	"github.com/JakeFAU/ondemand-crawler/internal/id/uuid"
	"github.com/JakeFAU/ondemand-crawler/internal/ingest"
	"github.com/JakeFAU/ondemand-crawler/internal/live"
	"github.com/JakeFAU/ondemand-crawler/internal/metrics"
	"github.com/JakeFAU/ondemand-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/ondemand-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/ondemand-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/ondemand-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/ondemand-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/ondemand-crawler/internal/queue/memory"
	"github.com/JakeFAU/ondemand-crawler/internal/results"
	"github.com/JakeFAU/ondemand-crawler/internal/source/news"
	"github.com/JakeFAU/ondemand-crawler/internal/source/social"
	"github.com/JakeFAU/ondemand-crawler/internal/source/video"
	gcsstorage "github.com/JakeFAU/ondemand-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/ondemand-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/ondemand-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/ondemand-crawler/internal/storage/postgres"
	redisstore "github.com/JakeFAU/ondemand-crawler/internal/storage/redis"
	"github.com/JakeFAU/ondemand-crawler/internal/worker"
)

const shutdownTimeout = 10 * time.Second

const errShutdownBeforeStart = "service shut down before the task started"

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers the progress collectors against reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) {
		o.registerer = reg
	}
}

type closer struct {
	name string
	fn   func() error
}

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	dispatch     *dispatcher.Dispatcher
	queue        *queueMemory.Queue
	progressHub  *progress.Hub
	registry     *live.Registry
	orchestrator *crawler.Orchestrator
	tasks        crawler.TaskStore
	results      *results.Service
	idGen        crawler.IDGenerator
	clock        crawler.Clock
	ready        map[string]api.ReadinessCheck
	closers      []closer
}

// Build creates the application's dependencies. Resources opened before a
// failure are released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bo := buildOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&bo)
	}
	metrics.Init()

	app := &App{
		cfg:    cfg,
		logger: logger,
		idGen:  uuid.New(),
		clock:  system.New(),
		ready:  make(map[string]api.ReadinessCheck),
	}
	defer func() {
		if err != nil {
			app.closeResources()
		}
	}()
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("tasks_backend", cfg.Tasks.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	contents, err := app.setupContentStore(ctx)
	if err != nil {
		return nil, err
	}
	if app.tasks, err = app.setupTaskStore(ctx); err != nil {
		return nil, err
	}
	archive, err := app.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if err = app.setupProgress(ctx, bo.registerer); err != nil {
		return nil, err
	}
	sources, err := app.setupSources(ctx)
	if err != nil {
		return nil, err
	}

	app.registry = live.NewRegistry(
		live.WithLogger(logger.Named("live")),
		live.WithPushObserver(metrics.ObserveLivePush),
	)
	app.closers = append(app.closers, closer{"live registry", func() error { app.registry.Close(); return nil }})

	pipelineOpts := []ingest.Option{}
	if archive != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithArchive(archive, sha256.New(), cfg.Storage.Prefix))
	}
	pipeline := ingest.New(contents, logger.Named("ingest"), pipelineOpts...)

	app.orchestrator, err = crawler.NewOrchestrator(crawler.OrchestratorConfig{
		Sources:      sources,
		Ingester:     pipeline,
		Notifier:     app.registry,
		Progress:     app.progressHub,
		Clock:        app.clock,
		PreviewChars: cfg.Results.PreviewChars,
		Logger:       logger.Named("orchestrator"),
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}
	app.results = results.NewService(app.tasks, contents, cfg.Results.PreviewChars)

	app.queue = queueMemory.NewQueue(cfg.Tasks.QueueDepth)
	app.dispatch = app.setupDispatcher(publisher)

	app.apiServer = api.NewServer(api.Options{
		Tasks:    app.tasks,
		Enqueuer: app.queue,
		Results:  app.results,
		Live:     app.registry,
		LiveConn: live.ConnConfig{
			WriteTimeout: cfg.Live.WriteTimeout(),
			PingInterval: cfg.Live.PingInterval(),
			SendBuffer:   cfg.Live.SendBuffer,
		},
		IDGen:   app.idGen,
		Clock:   app.clock,
		ValidID: uuid.Valid,
		Ready:   app.ready,
		Auth:    cfg.Auth,
		Logger:  logger.Named("api"),
	})
	return app, nil
}

func (a *App) setupContentStore(ctx context.Context) (content.Store, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no db.dsn configured, using in-memory content store")
		return memoryStorage.NewContentStore(), nil
	}
	store, err := pgstore.NewContentStore(ctx, pgstore.ContentStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
		MinConns: a.cfg.DB.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("content store init failed: %w", err)
	}
	a.closers = append(a.closers, closer{"content store", func() error { store.Close(); return nil }})
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("content store schema failed: %w", err)
	}
	a.ready["content_store"] = store.Ping
	a.logger.Info("postgres content store initialized", zap.String("table", a.cfg.DB.Table))
	return store, nil
}

func (a *App) setupTaskStore(ctx context.Context) (crawler.TaskStore, error) {
	if a.cfg.Tasks.Backend != config.BackendRedis {
		a.logger.Info("using in-memory task store")
		return memoryStorage.NewTaskStore(), nil
	}
	client, err := redisstore.NewClient(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("task store init failed: %w", err)
	}
	a.closers = append(a.closers, closer{"redis client", client.Close})
	a.ready["task_store"] = func(ctx context.Context) error { return pingRedis(ctx, client) }
	a.logger.Info("redis task store initialized",
		zap.String("addr", a.cfg.Redis.Addr),
		zap.Duration("ttl", a.cfg.Tasks.TTL()),
	)
	return redisstore.NewTaskStore(client, redisstore.Options{TTL: a.cfg.Tasks.TTL()}), nil
}

func pingRedis(ctx context.Context, client goredis.UniversalClient) error {
	return client.Ping(ctx).Err()
}

func (a *App) setupArchive(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.closers = append(a.closers, closer{"gcs client", store.Close})
		a.logger.Info("archiving raw items to GCS", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving raw items locally", zap.String("path", a.cfg.Storage.LocalDir))
		return store, nil
	case config.BackendMemory:
		a.logger.Info("archiving raw items in memory")
		return memoryStorage.NewBlobStore(), nil
	default:
		a.logger.Info("raw item archive disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.closers = append(a.closers, closer{"pubsub publisher", pub.Close})
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait(),
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg,
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	)
	a.closers = append(a.closers, closer{"progress hub", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.progressHub.Close(ctx)
	}})
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupSources(ctx context.Context) ([]crawler.Source, error) {
	var sources []crawler.Source
	if src := a.cfg.Sources.News; src.Enabled {
		getter := collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.cfg.News.UserAgent,
			RespectRobots: a.cfg.News.RespectRobots,
			Timeout:       src.Timeout(),
		})
		fetcher := news.New(getter, news.Config{
			FeedURL:       a.cfg.News.FeedURL,
			FetchArticles: a.cfg.News.FetchArticles,
			Throttle: ratelimit.New(ratelimit.Config{
				RequestsPerSecond: a.cfg.News.ArticleRPS,
				Burst:             a.cfg.News.ArticleBurst,
				Label:             string(content.SourceNews),
			}),
		}, a.logger.Named("news"))
		sources = append(sources, crawler.Source{Fetcher: fetcher, MaxResults: src.MaxResults, Timeout: src.Timeout()})
	}
	if src := a.cfg.Sources.Video; src.Enabled {
		fetcher, err := video.New(ctx, video.Config{
			APIKey:   a.cfg.Video.APIKey,
			Endpoint: a.cfg.Video.Endpoint,
		}, a.logger.Named("video"))
		if err != nil {
			return nil, fmt.Errorf("video source init failed: %w", err)
		}
		sources = append(sources, crawler.Source{Fetcher: fetcher, MaxResults: src.MaxResults, Timeout: src.Timeout()})
	}
	if src := a.cfg.Sources.Social; src.Enabled {
		fetcher, err := social.New(social.Config{
			BaseURL:           a.cfg.Social.BaseURL,
			LinkBase:          a.cfg.Social.LinkBase,
			UserAgent:         a.cfg.Social.UserAgent,
			RequestsPerSecond: a.cfg.Social.RequestsPerSecond,
		}, a.logger.Named("social"))
		if err != nil {
			return nil, fmt.Errorf("social source init failed: %w", err)
		}
		sources = append(sources, crawler.Source{Fetcher: fetcher, MaxResults: src.MaxResults, Timeout: src.Timeout()})
	}
	if len(sources) == 0 {
		a.logger.Warn("no sources enabled, every crawl will return an empty result")
	}
	for _, src := range sources {
		a.logger.Info("source enabled",
			zap.String("source", string(src.Fetcher.Kind())),
			zap.Int("max_results", src.MaxResults),
			zap.Duration("timeout", src.Timeout),
		)
	}
	return sources, nil
}

func (a *App) setupDispatcher(publisher crawler.Publisher) *dispatcher.Dispatcher {
	workerCfg := worker.Config{
		MaxAttempts:      a.cfg.Tasks.MaxAttempts,
		RetryBackoffBase: a.cfg.Tasks.RetryBackoff(),
		Topic:            a.cfg.PubSub.TopicName,
	}
	a.logger.Info("worker config",
		zap.Int("workers", a.cfg.Tasks.Workers),
		zap.Int("max_attempts", workerCfg.MaxAttempts),
		zap.Duration("retry_backoff", workerCfg.RetryBackoffBase),
		zap.String("topic", workerCfg.Topic),
	)
	workers := make([]dispatcher.Runner, 0, a.cfg.Tasks.Workers)
	for i := range a.cfg.Tasks.Workers {
		workers = append(workers, worker.New(
			a.queue,
			a.tasks,
			a.orchestrator,
			publisher,
			a.registry,
			a.progressHub,
			a.clock,
			workerCfg,
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(workers, a.logger.Named("dispatcher"))
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the dispatcher and the HTTP server and blocks until ctx ends or
// SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Workers outlive the signal so in-flight crawls can finish during shutdown.
	workCtx, abortWork := context.WithCancel(context.WithoutCancel(ctx))
	defer abortWork()
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Tasks.Workers))
		a.dispatch.Run(workCtx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Live connections are hijacked and ignored by Shutdown; closing the
	// registry ends them.
	a.registry.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("aborting in-flight crawls at shutdown deadline", zap.Int("running", a.dispatch.Running()))
		abortWork()
		<-dispatchDone
	}
	a.failUnstarted(shutdownCtx)

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// failUnstarted settles tasks still queued at shutdown so pollers do not see
// them pending forever.
func (a *App) failUnstarted(ctx context.Context) {
	for _, item := range a.queue.Drain() {
		if err := a.tasks.FailTask(ctx, item.TaskID, errShutdownBeforeStart); err != nil {
			a.logger.Warn("fail unstarted task", zap.String("task_id", item.TaskID), zap.Error(err))
			continue
		}
		a.logger.Info("unstarted task failed at shutdown", zap.String("task_id", item.TaskID))
	}
}

// Crawl runs query once in-process, bypassing the queue, and returns the
// poll view of the finished task.
func (a *App) Crawl(ctx context.Context, query string) (results.Status, error) {
	taskID, err := a.idGen.NewID()
	if err != nil {
		return results.Status{}, fmt.Errorf("generate task id: %w", err)
	}
	now := a.clock.Now()
	if err := a.tasks.CreateTask(ctx, crawler.Task{ID: taskID, Query: query, State: crawler.TaskPending, SubmittedAt: now}); err != nil {
		return results.Status{}, fmt.Errorf("create task: %w", err)
	}
	if err := a.tasks.MarkRunning(ctx, taskID, 1); err != nil {
		return results.Status{}, fmt.Errorf("mark running: %w", err)
	}
	ids, runErr := a.orchestrator.Run(ctx, taskID, query)
	if runErr != nil {
		if err := a.tasks.FailTask(context.WithoutCancel(ctx), taskID, runErr.Error()); err != nil {
			a.logger.Warn("mark task failed", zap.String("task_id", taskID), zap.Error(err))
		}
		return results.Status{}, fmt.Errorf("run crawl: %w", runErr)
	}
	if err := a.tasks.CompleteTask(ctx, taskID, ids); err != nil {
		return results.Status{}, fmt.Errorf("complete task: %w", err)
	}
	return a.results.Status(ctx, taskID)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	a.closeResources()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeResources() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
