package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"registry-portal/backend/internal/audit"
	auditrepo "registry-portal/backend/internal/audit/repository"
	"registry-portal/backend/internal/config"
	"registry-portal/backend/internal/db"
	"registry-portal/backend/internal/devmailbox"
	healthhandler "registry-portal/backend/internal/health/handler"
	identityhandler "registry-portal/backend/internal/identity/handler"
	"registry-portal/backend/internal/identity/service"
	"registry-portal/backend/internal/logging"
	"registry-portal/backend/internal/loginattempt"
	loginattemptrepo "registry-portal/backend/internal/loginattempt/repository"
	"registry-portal/backend/internal/metrics"
	"registry-portal/backend/internal/notify"
	"registry-portal/backend/internal/passwordreset"
	passwordresetrepo "registry-portal/backend/internal/passwordreset/repository"
	"registry-portal/backend/internal/policy/engine"
	"registry-portal/backend/internal/ratelimit"
	"registry-portal/backend/internal/refreshtoken"
	refreshtokenrepo "registry-portal/backend/internal/refreshtoken/repository"
	"registry-portal/backend/internal/security"
	"registry-portal/backend/internal/server"
	"registry-portal/backend/internal/server/middleware"
	"registry-portal/backend/internal/sweeper"
	"registry-portal/backend/internal/telemetry"
	otelsetup "registry-portal/backend/internal/telemetry/otel"
	"registry-portal/backend/internal/telemetry/producer"
	userrepo "registry-portal/backend/internal/user/repository"
)

const redisKeyPrefix = "registry-auth:login:"

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			metrics.New,
			newTelemetry,
			newEmitter,
			newDB,
			newRedis,
			newUserRepository,
			newRefreshStore,
			newResetStore,
			newLedger,
			newLoginLimiter,
			newPasswords,
			newTokenIssuer,
			newAuditLogger,
			newAuthorizer,
			newMailbox,
			newNotifier,
			newAuthService,
			newAuthHandler,
			newIPRateLimiter,
			newHealthServer,
			newRouter,
			newSweeper,
		),
		fx.Invoke(startHTTPServer, startGRPCServer, startSweeper),
	)

	app.Run()
}

func newConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateSigning(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("config: DATABASE_URL must be set")
	}
	return cfg, nil
}

func newLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Env)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			_ = logger.Sync()
			return nil
		},
	})
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*otelsetup.Providers, error) {
	providers, err := otelsetup.NewProviders(context.Background(), cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}
	providers.SetGlobal()
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			// Let in-flight EmitAsync calls finish before the log exporter closes.
			time.Sleep(telemetry.ShutdownDrainDuration)
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := providers.Shutdown(stopCtx); err != nil {
				logger.Warn("telemetry shutdown", zap.Error(err))
			}
			return nil
		},
	})
	return providers, nil
}

func newEmitter(lc fx.Lifecycle, cfg *config.Config, providers *otelsetup.Providers, logger *zap.Logger) telemetry.EventEmitter {
	emitters := telemetry.MultiEmitter{otelsetup.NewEventEmitter(providers.LoggerProvider)}
	if kp := producer.NewKafkaProducer(cfg.AuthEventsKafkaBrokersList(), cfg.AuthEventsKafkaTopic, logger); kp != nil {
		emitters = append(emitters, kp)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return kp.Close()
			},
		})
		logger.Info("auth events to kafka enabled", zap.String("topic", cfg.AuthEventsKafkaTopic))
	}
	return emitters
}

func newDB(lc fx.Lifecycle, cfg *config.Config) (*sql.DB, error) {
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return conn.Close()
		},
	})
	return conn, nil
}

// newRedis returns nil when REDIS_URL is unset; the login limiter then reserves attempts in process.
func newRedis(lc fx.Lifecycle, cfg *config.Config) (*redis.Client, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newUserRepository(conn *sql.DB) *userrepo.PostgresRepository {
	return userrepo.NewPostgresRepository(conn)
}

func newRefreshStore(conn *sql.DB, cfg *config.Config) *refreshtoken.Store {
	return refreshtoken.NewStore(refreshtokenrepo.NewPostgresRepository(conn), db.SQLTransactor{DB: conn}, cfg.RefreshTTL())
}

func newResetStore(conn *sql.DB, users *userrepo.PostgresRepository, cfg *config.Config) *passwordreset.Store {
	return passwordreset.NewStore(passwordresetrepo.NewPostgresRepository(conn), users, db.SQLTransactor{DB: conn}, cfg.ResetTTL())
}

func newLedger(conn *sql.DB, emitter telemetry.EventEmitter, logger *zap.Logger) *loginattempt.Ledger {
	return loginattempt.NewLedger(loginattemptrepo.NewPostgresRepository(conn), emitter, logger)
}

func newLoginLimiter(ledger *loginattempt.Ledger, client *redis.Client, cfg *config.Config, logger *zap.Logger) *ratelimit.Limiter {
	var counter ratelimit.Counter = ratelimit.NewMemoryCounter()
	if client != nil {
		counter = ratelimit.NewRedisCounter(client, redisKeyPrefix)
	}
	return ratelimit.New(ledger, counter, ratelimit.Config{
		MaxFailures: cfg.LoginMaxFailures,
		Window:      cfg.RateWindow(),
	}, logger)
}

func newPasswords(cfg *config.Config) (*security.Passwords, error) {
	return security.NewPasswords(cfg.PasswordHasher, cfg.BcryptCost)
}

func newTokenIssuer(cfg *config.Config, logger *zap.Logger) (*security.TokenIssuer, error) {
	keys, err := security.LoadKeyring(security.KeyringOptions{
		KeyID:           cfg.JWTKeyID,
		Secret:          cfg.JWTSecret,
		PrivateKey:      cfg.JWTPrivateKey,
		PublicKey:       cfg.JWTPublicKey,
		PreviousSecrets: cfg.PreviousSecrets(),
	})
	if err != nil {
		return nil, fmt.Errorf("signing keys: %w", err)
	}
	logger.Info("signing keys loaded",
		zap.String("active_kid", keys.Active().ID),
		zap.Strings("kids", keys.IDs()))
	return security.NewTokenIssuer(keys, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.ClockSkew()), nil
}

func newAuditLogger(conn *sql.DB, logger *zap.Logger) *audit.Logger {
	return audit.NewLogger(auditrepo.NewPostgresRepository(conn), middleware.ClientIP, logger)
}

func newAuthorizer(cfg *config.Config) (*engine.OPAEvaluator, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if path := strings.TrimSpace(cfg.AuthzPolicyFile); path != "" {
		return engine.NewOPAEvaluatorFromFile(ctx, path)
	}
	return engine.NewOPAEvaluator(ctx, engine.DefaultPolicy)
}

// newMailbox returns nil outside dev mode.
func newMailbox(cfg *config.Config) *devmailbox.MemoryStore {
	if !cfg.ResetTokenReturnToClient {
		return nil
	}
	return devmailbox.NewMemoryStore()
}

func newNotifier(mailbox *devmailbox.MemoryStore, logger *zap.Logger) notify.Notifier {
	log := notify.NewLogNotifier(logger)
	if mailbox == nil {
		return log
	}
	return notify.Multi{mailbox, log}
}

type authServiceParams struct {
	fx.In

	Config    *config.Config
	Users     *userrepo.PostgresRepository
	Passwords *security.Passwords
	Tokens    *security.TokenIssuer
	Refresh   *refreshtoken.Store
	Resets    *passwordreset.Store
	Ledger    *loginattempt.Ledger
	Limiter   *ratelimit.Limiter
	Audit     *audit.Logger
	Events    telemetry.EventEmitter
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

func newAuthService(p authServiceParams) *service.AuthService {
	return service.NewAuthService(service.Deps{
		Users:    p.Users,
		Hasher:   p.Passwords,
		Tokens:   p.Tokens,
		Refresh:  p.Refresh,
		Resets:   p.Resets,
		Attempts: p.Ledger,
		History:  p.Ledger,
		Gate:     p.Limiter,
		Audit:    p.Audit,
		Events:   p.Events,
		Notifier: p.Notifier,
		Metrics:  p.Metrics,
		Logger:   p.Logger,
	}, service.Config{
		DefaultRole:        p.Config.DefaultRole,
		DefaultPermissions: p.Config.DefaultPermissionList(),
	})
}

func newAuthHandler(auth *service.AuthService, mailbox *devmailbox.MemoryStore, cfg *config.Config, logger *zap.Logger) *identityhandler.AuthHandler {
	var store devmailbox.Store
	if mailbox != nil {
		store = mailbox
	}
	return identityhandler.NewAuthHandler(auth, cfg.ResetTokenReturnToClient, store, logger)
}

func newIPRateLimiter(cfg *config.Config) *middleware.IPRateLimiter {
	return middleware.NewIPRateLimiter(cfg.HTTPRateLimitRPS, cfg.HTTPRateLimitBurst)
}

func newHealthServer(conn *sql.DB, authorizer *engine.OPAEvaluator, client *redis.Client) *healthhandler.Server {
	var extra []healthhandler.Check
	if client != nil {
		extra = append(extra, healthhandler.Check{
			Name: "redis",
			Fn: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
		})
	}
	return healthhandler.NewServer(conn, authorizer, extra...)
}

type routerParams struct {
	fx.In

	Config     *config.Config
	Auth       *identityhandler.AuthHandler
	Health     *healthhandler.Server
	Metrics    *metrics.Metrics
	Tokens     *security.TokenIssuer
	Users      *userrepo.PostgresRepository
	Authorizer *engine.OPAEvaluator
	IPLimiter  *middleware.IPRateLimiter
	Logger     *zap.Logger
}

func newRouter(p routerParams) *gin.Engine {
	if p.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return server.NewRouter(server.RouterDeps{
		ServiceName:    p.Config.ServiceName,
		Auth:           p.Auth,
		Health:         p.Health,
		Metrics:        p.Metrics,
		Tokens:         p.Tokens,
		Users:          p.Users,
		Authorizer:     p.Authorizer,
		IPLimiter:      p.IPLimiter,
		RequestTimeout: p.Config.Timeout(),
		DevMode:        p.Config.ResetTokenReturnToClient,
		Logger:         p.Logger,
	})
}

type sweeperParams struct {
	fx.In

	Config    *config.Config
	Refresh   *refreshtoken.Store
	Resets    *passwordreset.Store
	Ledger    *loginattempt.Ledger
	IPLimiter *middleware.IPRateLimiter
	Mailbox   *devmailbox.MemoryStore
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

func newSweeper(p sweeperParams) *sweeper.Sweeper {
	grace := p.Config.SweepGracePeriod()
	tasks := []sweeper.Task{
		{
			Name: "refresh_tokens",
			Run: func(ctx context.Context) (int64, error) {
				return p.Refresh.Sweep(ctx, grace)
			},
		},
		{
			Name: "password_reset_tokens",
			Run: func(ctx context.Context) (int64, error) {
				return p.Resets.Sweep(ctx, grace)
			},
		},
		{
			Name: "login_attempts",
			Run: func(ctx context.Context) (int64, error) {
				return p.Ledger.Cleanup(ctx, p.Config.LoginAttemptRetentionDays)
			},
		},
		{
			Name: "ip_buckets",
			Run: func(context.Context) (int64, error) {
				return int64(p.IPLimiter.Prune()), nil
			},
		},
	}
	if p.Mailbox != nil {
		tasks = append(tasks, sweeper.Task{
			Name: "dev_mailbox",
			Run: func(context.Context) (int64, error) {
				return int64(p.Mailbox.Prune()), nil
			},
		})
	}
	return sweeper.New(p.Config.SweepEvery(), p.Metrics, p.Logger, tasks...)
}

func startHTTPServer(lc fx.Lifecycle, router *gin.Engine, cfg *config.Config, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			lis, err := net.Listen("tcp", cfg.HTTPAddr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
			}
			go func() {
				logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down HTTP server")
			return srv.Shutdown(ctx)
		},
	})
}

func startGRPCServer(lc fx.Lifecycle, health *healthhandler.Server, cfg *config.Config, logger *zap.Logger) {
	if strings.TrimSpace(cfg.GRPCAddr) == "" {
		return
	}
	s := server.NewGRPCServer(health)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
			}
			go func() {
				logger.Info("gRPC health server listening", zap.String("addr", cfg.GRPCAddr))
				if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
					logger.Error("grpc server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			s.GracefulStop()
			return nil
		},
	})
}

func startSweeper(lc fx.Lifecycle, s *sweeper.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return s.Stop(ctx)
		},
	})
}
