package di

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/account-lifecycle-service/internal/app"
	"github.com/sandeepkv93/account-lifecycle-service/internal/config"
	"github.com/sandeepkv93/account-lifecycle-service/internal/database"
	"github.com/sandeepkv93/account-lifecycle-service/internal/health"
	"github.com/sandeepkv93/account-lifecycle-service/internal/http/handler"
	"github.com/sandeepkv93/account-lifecycle-service/internal/http/middleware"
	"github.com/sandeepkv93/account-lifecycle-service/internal/http/router"
	"github.com/sandeepkv93/account-lifecycle-service/internal/mailer"
	"github.com/sandeepkv93/account-lifecycle-service/internal/observability"
	"github.com/sandeepkv93/account-lifecycle-service/internal/repository"
	"github.com/sandeepkv93/account-lifecycle-service/internal/security"
	"github.com/sandeepkv93/account-lifecycle-service/internal/service"
)

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(
	provideObservabilityRuntime,
	provideAppLogger,
)

var RuntimeInfraSet = wire.NewSet(
	provideRuntimeDB,
	provideRedisClient,
	provideReadinessProbeRunner,
)

var RepositorySet = wire.NewSet(repository.NewAccountRepository)

var SecuritySet = wire.NewSet(
	provideJWTManager,
	providePasswordHasher,
)

var ServiceSet = wire.NewSet(
	provideNotifiers,
	provideAuthService,
	provideNotificationWorker,
	service.NewUserService,
	wire.Bind(new(service.AuthServiceInterface), new(*service.AuthService)),
	wire.Bind(new(service.UserServiceInterface), new(*service.UserService)),
)

var HTTPSet = wire.NewSet(
	handler.NewAuthHandler,
	handler.NewUserHandler,
	provideAuthRateLimiter,
	provideAPIRateLimiter,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

var AppSet = wire.NewSet(provideApp)

// Notifiers groups the notification sinks. Delivery actually sends;
// Lifecycle is what AuthService calls, which is the outbox queue in
// NOTIFY_MODE=queue and Delivery otherwise.
type Notifiers struct {
	Delivery  service.Notifier
	Lifecycle service.Notifier
	Queue     *service.RedisNotificationQueue
}

type MigrationRunner struct {
	cfg *config.Config
	db  *gorm.DB
	out io.Writer
}

func NewMigrationRunner(cfg *config.Config, db *gorm.DB) *MigrationRunner {
	return &MigrationRunner{cfg: cfg, db: db, out: os.Stdout}
}

func (m *MigrationRunner) DB() *gorm.DB { return m.db }

// WithOutput redirects the completion line Run prints.
func (m *MigrationRunner) WithOutput(w io.Writer) *MigrationRunner {
	m.out = w
	return m
}

func (m *MigrationRunner) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (m *MigrationRunner) Run() error {
	if err := database.Migrate(m.db); err != nil {
		return err
	}
	fmt.Fprintf(m.out, "migration complete (%s)\n", database.DriverName(m.cfg.DatabaseURL))
	return nil
}

func (m *MigrationRunner) Plan() ([]string, error) {
	return database.Plan(m.db)
}

func provideObservabilityRuntime(cfg *config.Config) (*observability.Runtime, error) {
	bootstrapLogger := observability.NewBootstrapLogger(cfg)
	return observability.InitRuntime(context.Background(), cfg, bootstrapLogger)
}

func provideAppLogger(cfg *config.Config, runtime *observability.Runtime) *slog.Logger {
	logger := observability.InitLogger(cfg, runtime.LoggerProvider)
	slog.SetDefault(logger)
	return logger
}

func provideOpenDB(cfg *config.Config) (*gorm.DB, error) {
	return database.Open(cfg)
}

func provideRuntimeDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func provideRedisClient(cfg *config.Config, logger *slog.Logger) redis.UniversalClient {
	if !cfg.RedisEnabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	observability.InstrumentRedisClient(client, logger)
	return client
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
}

func providePasswordHasher(cfg *config.Config) *security.PasswordHasher {
	return security.NewPasswordHasher(cfg.AuthBcryptCost)
}

func provideDeliveryNotifier(cfg *config.Config, logger *slog.Logger) (service.Notifier, error) {
	if cfg.SMTPEnabled {
		m, err := mailer.NewSMTPMailer(cfg, logger)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return service.NewDevNotifier(logger), nil
}

func provideNotifiers(cfg *config.Config, logger *slog.Logger, redisClient redis.UniversalClient) (Notifiers, error) {
	delivery, err := provideDeliveryNotifier(cfg, logger)
	if err != nil {
		return Notifiers{}, err
	}
	n := Notifiers{Delivery: delivery, Lifecycle: delivery}
	if cfg.NotifyMode == config.NotifyModeQueue {
		if redisClient == nil {
			return Notifiers{}, fmt.Errorf("notification queue requires a redis client")
		}
		n.Queue = service.NewRedisNotificationQueue(redisClient, cfg.NotifyQueueKey)
		n.Lifecycle = n.Queue
	}
	return n, nil
}

func provideAuthService(
	cfg *config.Config,
	accounts repository.AccountRepository,
	jwt *security.JWTManager,
	hasher *security.PasswordHasher,
	notifiers Notifiers,
	logger *slog.Logger,
) *service.AuthService {
	return service.NewAuthService(cfg, accounts, jwt, hasher, notifiers.Lifecycle, notifiers.Lifecycle, logger)
}

func provideNotificationWorker(cfg *config.Config, notifiers Notifiers, logger *slog.Logger) *service.NotificationWorker {
	if notifiers.Queue == nil {
		return nil
	}
	return service.NewNotificationWorker(notifiers.Queue, notifiers.Delivery, logger, cfg.NotifyWorkerPollTimeout)
}

func provideAuthRateLimiter(cfg *config.Config, redisClient redis.UniversalClient) router.AuthRateLimiterFunc {
	if cfg.RedisEnabled && redisClient != nil {
		redisLimiter := middleware.NewRedisFixedWindowLimiter(redisClient, cfg.RateLimitRedisPrefix+":auth")
		return middleware.NewDistributedRateLimiter(
			redisLimiter,
			cfg.AuthRateLimitPerMin,
			time.Minute,
			middleware.FailClosed,
			"auth",
		).Middleware()
	}
	return middleware.NewRateLimiter(cfg.AuthRateLimitPerMin, time.Minute, "auth").Middleware()
}

func provideAPIRateLimiter(cfg *config.Config, redisClient redis.UniversalClient, jwt *security.JWTManager) router.APIRateLimiterFunc {
	keyFunc := middleware.SubjectOrIPKeyFunc(jwt)
	if cfg.RedisEnabled && redisClient != nil {
		redisLimiter := middleware.NewRedisFixedWindowLimiter(redisClient, cfg.RateLimitRedisPrefix+":api")
		return middleware.NewDistributedRateLimiter(
			redisLimiter,
			cfg.APIRateLimitPerMin,
			time.Minute,
			middleware.FailOpen,
			"api",
		).WithKeyFunc(keyFunc).Middleware()
	}
	return middleware.NewRateLimiter(cfg.APIRateLimitPerMin, time.Minute, "api").WithKeyFunc(keyFunc).Middleware()
}

func provideRouterDependencies(
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
	jwt *security.JWTManager,
	logger *slog.Logger,
	authRateLimiter router.AuthRateLimiterFunc,
	apiRateLimiter router.APIRateLimiterFunc,
	readiness *health.ProbeRunner,
	cfg *config.Config,
) router.Dependencies {
	return router.Dependencies{
		AuthHandler:      authHandler,
		UserHandler:      userHandler,
		JWTManager:       jwt,
		Logger:           logger,
		CORSOrigins:      cfg.CORSAllowedOrigins,
		AuthRateLimitRPM: cfg.AuthRateLimitPerMin,
		APIRateLimitRPM:  cfg.APIRateLimitPerMin,
		AuthRateLimiter:  authRateLimiter,
		APIRateLimiter:   apiRateLimiter,
		Readiness:        readiness,
		EnableOTelHTTP:   cfg.OTELMetricsEnabled || cfg.OTELTracingEnabled,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func provideReadinessProbeRunner(cfg *config.Config, db *gorm.DB, redisClient redis.UniversalClient, notifiers Notifiers) *health.ProbeRunner {
	checkers := []health.Checker{health.NewDBChecker(db)}
	if cfg.RedisEnabled {
		checkers = append(checkers, health.NewRedisChecker(redisClient))
	}
	if notifiers.Queue != nil {
		checkers = append(checkers, health.NewOutboxChecker(notifiers.Queue, cfg.NotifyOutboxMaxBacklog))
	}
	return health.NewProbeRunner(cfg.ReadinessProbeTimeout, cfg.ServerStartGracePeriod, checkers...)
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	redisClient redis.UniversalClient,
	readiness *health.ProbeRunner,
	worker *service.NotificationWorker,
) *app.App {
	return app.New(cfg, logger, server, runtime, db, redisClient, readiness, worker)
}
