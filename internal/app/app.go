package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/madcarpet/lessonadmin/internal/authorization"
	"github.com/madcarpet/lessonadmin/internal/authorization/jwt"
	"github.com/madcarpet/lessonadmin/internal/cache"
	"github.com/madcarpet/lessonadmin/internal/config"
	"github.com/madcarpet/lessonadmin/internal/constants"
	"github.com/madcarpet/lessonadmin/internal/edge"
	"github.com/madcarpet/lessonadmin/internal/handlers"
	"github.com/madcarpet/lessonadmin/internal/jobs"
	"github.com/madcarpet/lessonadmin/internal/lessons"
	"github.com/madcarpet/lessonadmin/internal/logger"
	"github.com/madcarpet/lessonadmin/internal/payments"
	"github.com/madcarpet/lessonadmin/internal/storage"
	"github.com/madcarpet/lessonadmin/internal/storage/postgresql"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

var errNotInitialized = errors.New("app is not initialized")

type App struct {
	config  config.Config
	storage storage.Storage
	cache   cache.Cache
	queue   *jobs.Queue
	router  *handlers.HTTPRouter
}

// NewApp creates a new App instance with the given config
func NewApp(cfg config.Config) *App {
	return &App{config: cfg}
}

// Init builds every component and starts the job workers. It must return before Start and Stop are called.
func (a *App) Init(ctx context.Context) error {
	logger.LoggerInit(a.config.LogLevel)
	logger.Log.Info("Starting application",
		zap.String("run_address", a.config.RunAddress),
		zap.String("edge_url", a.config.EdgeURL),
		zap.Int("edge_req_repeats", a.config.EdgeRepeats),
		zap.String("log_level", a.config.LogLevel),
		zap.Int("token_timeout", a.config.TokenTimeout),
		zap.Bool("cache_enabled", a.config.RedisAddr != ""),
		zap.Int("cache_ttl", a.config.CacheTTL),
		zap.Int("jobs_queue_size", a.config.JobsQueueSize),
		zap.Int("job_workers", a.config.JobWorkers),
		zap.Int("job_delayed_workers", a.config.JobDelayedWorkers),
		zap.Int("job_delay", a.config.JobDelay),
		zap.Int("job_delayed_batch", a.config.JobDelayedBatch),
		zap.Int("receipt_batch_limit", a.config.ReceiptBatchLimit),
		zap.Int("link_batch_limit", a.config.LinkBatchLimit),
		zap.Int("deal_batch_limit", a.config.DealBatchLimit),
	)

	a.storage = postgresql.NewPsqlStorage(a.config.DatabaseURI)
	err := a.storage.InitStorage(ctx)
	if err != nil {
		return err
	}
	added, err := authorization.SeedAdmin(ctx, a.storage, uuid.New().String(), a.config.AdminLogin, a.config.AdminPassword)
	if err != nil {
		return err
	}
	if added {
		logger.Log.Info("bootstrap admin created", zap.String("login", a.config.AdminLogin))
	}

	edgeClient := edge.NewClient(a.config.EdgeURL, a.config.EdgeKey, a.config.EdgeRepeats)
	if err := edgeClient.Ping(ctx); err != nil {
		// bulk actions report per-item failures, the service can still start
		logger.Log.Warn("edge functions are not reachable", zap.Error(err))
	}

	a.cache = cache.Nop{}
	if a.config.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, a.config.RedisAddr, time.Duration(a.config.CacheTTL)*time.Second)
		if err != nil {
			logger.Log.Warn("payments cache disabled", zap.Error(err))
		} else {
			a.cache = rc
		}
	}

	a.queue = jobs.NewQueue(
		a.storage,
		a.config.JobsQueueSize,
		a.config.JobWorkers,
		a.config.JobDelayedWorkers,
		time.Duration(a.config.JobDelay)*time.Second,
		a.config.JobDelayedBatch)
	a.queue.Register(constants.JobAudit, jobs.AuditHandler(a.storage))
	a.queue.Register(constants.JobDeleteAssets, jobs.DeleteAssetsHandler(edgeClient))
	a.queue.Register(constants.JobCRMSync, jobs.CRMSyncHandler(edgeClient))
	a.queue.Start(ctx)

	lessonService := lessons.NewService(a.storage, edgeClient, a.queue)
	paymentService := payments.NewService(a.storage, edgeClient, a.cache, a.queue, payments.Config{
		Receipts:  payments.Limits{Max: a.config.ReceiptBatchLimit, Delay: time.Duration(a.config.ReceiptDelayMs) * time.Millisecond},
		Links:     payments.Limits{Max: a.config.LinkBatchLimit, Delay: time.Duration(a.config.LinkDelayMs) * time.Millisecond},
		Deals:     payments.Limits{Max: a.config.DealBatchLimit, Delay: time.Duration(a.config.DealDelayMs) * time.Millisecond},
		ProductID: a.config.DealProductID,
	}, func() string { return uuid.New().String() })

	authorizer := jwt.NewJwtTokenizer(a.config.TokenKey, time.Duration(a.config.TokenTimeout)*time.Hour)
	a.router = handlers.NewHTTPRouter(a.storage, lessonService, paymentService, authorizer)

	return a.router.RouterInit()
}

// Start blocks while the HTTP server runs.
func (a *App) Start() error {
	if a.router == nil {
		return errNotInitialized
	}
	return a.router.StartRouter(a.config.RunAddress)
}

// Stop shuts the server down, waits for the job workers and closes the connections.
func (a *App) Stop(cancel context.CancelFunc) {
	if a.router != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.router.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("http server shutdown error", zap.Error(err))
		}
		stop()
	}
	cancel()
	if a.queue != nil {
		a.queue.Wait()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.storage != nil {
		a.storage.DBClose()
	}
	logger.Log.Debug("Syncing logger")
	logger.Log.Sync()
}
