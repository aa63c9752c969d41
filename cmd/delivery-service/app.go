package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"herald/internal/api"
	"herald/internal/behavior"
	"herald/internal/broker"
	"herald/internal/channel"
	"herald/internal/config"
	"herald/internal/constants"
	"herald/internal/dedup"
	"herald/internal/delivery"
	"herald/internal/logger"
	"herald/internal/management"
	"herald/internal/queuestore"
	"herald/internal/ratelimit"
	"herald/internal/rules"
	"herald/pkg/bootstrap"
	"herald/pkg/cel"
	"herald/pkg/circuitbreaker"
	"herald/pkg/health"
	"herald/pkg/metrics"
	"herald/pkg/middleware"
	apiratelimit "herald/pkg/ratelimit"
	"herald/pkg/retry"
	"herald/pkg/tracing"
)

type App struct {
	*bootstrap.Base

	dbConnector    *bootstrap.DatabaseConnector
	redisClient    *redis.Client
	db             *sql.DB
	mongoClient    *mongo.Client
	mongoDB        *mongo.Database
	fallback       *queuestore.MemoryStore
	store          *queuestore.Supervisor
	adapter        channel.Adapter
	manager        *delivery.Manager
	evaluator      *rules.Evaluator
	management     management.Service
	scheduler      *scheduler
	health         *health.CheckerRegistry
	router         *gin.Engine
	server         *http.Server
	tracerProvider *tracing.TracerProvider
	cancelRouter   context.CancelFunc
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		health:      health.NewCheckerRegistry(),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	if err := a.initStore(ctx); err != nil {
		return fmt.Errorf("failed to initialize queue store: %w", err)
	}

	if err := a.InitBroker(constants.ServiceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initDelivery(); err != nil {
		return fmt.Errorf("failed to initialize delivery: %w", err)
	}

	if err := a.initRules(ctx); err != nil {
		return fmt.Errorf("failed to initialize rules: %w", err)
	}

	a.initRouter()
	a.initServer()

	sched, err := newScheduler(a.Config, a.Logger.Named("scheduler"), a.store, a.manager, a.evaluator)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	a.scheduler = sched

	return nil
}

func (a *App) initStore(ctx context.Context) error {
	a.fallback = queuestore.NewMemoryStore(a.Config.Queue.JanitorInterval)

	var primary queuestore.Store
	if a.Config.Queue.Backend == constants.BackendRedis {
		client, err := a.dbConnector.InitRedis(ctx)
		a.redisClient = client
		if err != nil {
			if !a.Config.Queue.FallbackOnError {
				return err
			}
			a.Logger.Warnw("Redis unavailable at startup, starting on in-process store", "error", err)
		}
		primary = queuestore.NewRedisStore(client)
	}

	var breaker *circuitbreaker.Config
	if a.Config.CircuitBreaker.Enabled {
		cbCfg := channel.BreakerConfig("queue-store", a.Config.CircuitBreaker)
		breaker = &cbCfg
	}

	probe := a.Config.Queue.Probe
	a.store = queuestore.NewSupervisor(primary, a.fallback, queuestore.SupervisorConfig{
		FallbackOnError:   a.Config.Queue.FallbackOnError,
		RestoreOnRecovery: a.Config.Queue.RestoreOnRecovery,
		Probe: retry.Policy{
			MaxAttempts:     probe.MaxAttempts,
			InitialInterval: probe.InitialInterval,
			MaxInterval:     probe.MaxInterval,
			Multiplier:      probe.Multiplier,
			MaxElapsedTime:  probe.MaxElapsedTime,
		},
		Breaker: breaker,
	}, a.Logger.Named("queuestore"))

	a.health.Register(health.NewPingChecker("queue_store", a.store))
	if a.redisClient != nil {
		a.health.Register(health.NewRedisChecker(a.redisClient))
	}
	return nil
}

func (a *App) initDelivery() error {
	adapter, err := channel.NewAdapter(a.Config.Channel, a.Config.CircuitBreaker)
	if err != nil {
		return err
	}
	a.adapter = adapter
	if p, ok := adapter.(health.Pinger); ok {
		a.health.Register(health.NewPingChecker("channel", p))
	}

	var publisher delivery.StatusPublisher
	if a.Producer != nil {
		topic := a.Config.Broker.Kafka.StatusTopic
		if topic == "" {
			topic = constants.DefaultStatusTopic
		}
		publisher = broker.NewStatusProducer(a.Producer, topic)
	}

	a.manager = delivery.NewManager(a.Config, delivery.Dependencies{
		Store:     a.store,
		Guard:     dedup.NewGuard(a.store, a.Config.Deduplication, a.Logger.Named("dedup")),
		Governor:  ratelimit.NewGovernor(a.store, a.Config.RateLimit, a.Logger.Named("ratelimit")),
		Hours:     ratelimit.NewBusinessHours(a.Config.BusinessHours, a.Logger.Named("hours")),
		Engine:    behavior.NewEngine(a.Config.Behavior, rand.New(rand.NewSource(time.Now().UnixNano()))),
		Adapter:   adapter,
		Publisher: publisher,
	}, a.Logger.Named("delivery"))

	return nil
}

// initRules wires the evaluator only when both rule stores are configured.
func (a *App) initRules(ctx context.Context) error {
	if !a.Config.Rules.Enabled {
		return nil
	}

	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	mongoClient, mongoDB, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient
	a.mongoDB = mongoDB

	if a.db == nil || a.mongoDB == nil {
		a.Logger.Warnw("Rule evaluation disabled, PostgreSQL and MongoDB are both required")
		return nil
	}
	a.health.Register(health.NewPostgreSQLChecker(a.db))
	a.health.Register(health.NewMongoDBChecker(a.mongoClient))

	conditions, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create condition evaluator: %w", err)
	}

	ruleRepo := rules.NewPostgresRuleRepository(a.db)
	entityRepo := rules.NewPostgresEntityRepository(a.db)
	templateRepo := rules.NewMongoTemplateRepository(a.mongoDB)

	a.evaluator, err = rules.NewEvaluator(
		a.Config.Rules,
		ruleRepo,
		entityRepo,
		templateRepo,
		a.manager,
		a.store,
		conditions,
		a.Logger.Named("rules"),
	)
	if err != nil {
		return err
	}

	var opts []management.ServiceOption
	if a.Producer != nil {
		topic := a.Config.Broker.Kafka.RuleEventsTopic
		if topic == "" {
			topic = constants.DefaultRuleTopic
		}
		opts = append(opts, management.WithRuleEvents(management.NewRuleEventProducer(a.Producer, topic)))
	}
	a.management = management.NewService(ruleRepo, templateRepo, entityRepo, conditions, a.Logger.Named("management"), opts...)

	return nil
}

func (a *App) initRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	routerCtx, cancel := context.WithCancel(context.Background())
	a.cancelRouter = cancel
	if a.Config.API.RateLimit.Enabled {
		rateLimitConfig := apiratelimit.FromAPIConfig(a.Config.API.RateLimit)
		router.Use(apiratelimit.RateLimitMiddleware(routerCtx, rateLimitConfig))
		a.Logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	var sweeper api.Sweeper
	if a.evaluator != nil {
		sweeper = a.evaluator
	}
	api.NewHandler(a.manager, sweeper, a.Logger.Named("api")).RegisterRoutes(router)
	if a.management != nil {
		management.NewHandler(a.management, a.Logger.Named("management")).RegisterRoutes(router)
	}

	metrics.RegisterDeliveryMetrics()
	metrics.RegisterRuleMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterCircuitBreakerMetrics()
	metrics.RegisterAPIMetrics()

	router.GET("/health", func(c *gin.Context) {
		h := a.health.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
}

func (a *App) initServer() {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

// Run serves the API, consumes submissions and runs the scheduled jobs until
// ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(gctx, "Server listening", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if a.Consumer != nil {
		topic := a.Config.Broker.Kafka.SubmitTopic
		if topic == "" {
			topic = constants.DefaultSubmitTopic
		}
		handler := broker.NewSubmissionHandler(a.manager, a.Logger.Named("submissions"))
		g.Go(func() error {
			if err := a.Consumer.Consume(gctx, topic, handler); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("consumer error: %w", err)
			}
			return nil
		})
	}

	a.scheduler.Start()

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(gctx)
	})

	return g.Wait()
}

// SweepOnce runs a single rule sweep for the sweep subcommand.
func (a *App) SweepOnce(ctx context.Context, now time.Time) (rules.SweepResult, error) {
	defer func() {
		if err := a.Shutdown(ctx); err != nil {
			a.Logger.Warnw("Shutdown after sweep failed", "error", err)
		}
	}()

	if a.evaluator == nil {
		return rules.SweepResult{}, fmt.Errorf("rule evaluation is not configured")
	}
	return a.evaluator.Sweep(ctx, now)
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()

		var errs []error

		if a.scheduler != nil {
			a.scheduler.Stop(shutdownCtx)
		}

		if a.server != nil {
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
			}
		}
		if a.cancelRouter != nil {
			a.cancelRouter()
		}

		if a.manager != nil {
			if err := a.manager.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("delivery shutdown error: %w", err))
			}
		}

		if closer, ok := a.adapter.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("channel close error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(shutdownCtx, a.redisClient, a.db, a.mongoClient)...)

		if a.fallback != nil {
			a.fallback.Close()
		}
		return errs
	})
}
