package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/coordinator"
	"github.com/Ramsey-B/clover/internal/handlers"
	"github.com/Ramsey-B/clover/internal/reconcile"
	batchrepo "github.com/Ramsey-B/clover/internal/repositories/batch"
	"github.com/Ramsey-B/clover/internal/repositories/memory"
	stakeholderrepo "github.com/Ramsey-B/clover/internal/repositories/stakeholder"
	transferrepo "github.com/Ramsey-B/clover/internal/repositories/transfer"
	batchsvc "github.com/Ramsey-B/clover/internal/services/batch"
	stakeholdersvc "github.com/Ramsey-B/clover/internal/services/stakeholder"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/health"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/lifecycle"
	"github.com/Ramsey-B/clover/pkg/locks"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

// simulatedAccount signs transactions on the in-process ledger.
var simulatedAccount = common.HexToAddress("0x00000000000000000000000000000000000c1000")

// repositories is the mirror, either postgres or the in-memory store.
type repositories struct {
	batches interface {
		batchsvc.BatchRepository
		reconcile.BatchRepository
	}
	stakeholders interface {
		batchsvc.StakeholderRepository
		stakeholdersvc.StakeholderRepository
		reconcile.StakeholderRepository
	}
	transfers batchsvc.TransferRepository
}

type app struct {
	cfg     *config.Config
	logger  ectologger.Logger
	startup *startup.Startup
	checker *health.Checker

	shutdownTracing func(context.Context) error

	db          database.DB
	repos       repositories
	redis       *redis.Client
	queue       *redis.ReconcileQueue
	gateway     *ledger.Gateway
	producer    *kafka.Producer
	coordinator *coordinator.Coordinator
	worker      *reconcile.Worker
	server      *http.Server
	serverErr   chan error
}

func newApp(cfg *config.Config, logger ectologger.Logger) *app {
	a := &app{
		cfg:       cfg,
		logger:    logger,
		startup:   startup.NewStartup(logger, cfg.StartupMaxAttempts),
		checker:   health.NewChecker(cfg.Version),
		serverErr: make(chan error, 1),
	}

	a.startup.AddDependency(&startup.Dependency{
		Name:    "tracing",
		OnStart: a.startTracing,
		OnStop: func(ctx context.Context) error {
			return a.shutdownTracing(ctx)
		},
	})
	a.startup.AddDependency(&startup.Dependency{
		Name:    "database",
		OnStart: a.startDatabase,
		OnStop:  a.stopDatabase,
	})
	a.startup.AddDependency(&startup.Dependency{
		Name:    "ledger",
		OnStart: a.startLedger,
		OnStop: func(context.Context) error {
			a.gateway.Close()
			return nil
		},
	})

	requires := []string{"tracing", "database", "ledger"}
	if cfg.RedisEnabled {
		a.startup.AddDependency(&startup.Dependency{
			Name:    "redis",
			OnStart: a.startRedis,
			OnStop: func(context.Context) error {
				return a.redis.Close()
			},
		})
		requires = append(requires, "redis")
	}
	if cfg.KafkaBrokers != "" {
		a.startup.AddDependency(&startup.Dependency{
			Name: "kafka",
			OnStart: func(context.Context) error {
				a.producer = kafka.NewProducer(kafka.ParseConfig(cfg.KafkaBrokers, cfg.KafkaProvenanceTopic), logger)
				return nil
			},
			OnStop: func(context.Context) error {
				return a.producer.Close()
			},
		})
		requires = append(requires, "kafka")
	}

	a.startup.AddDependency(&startup.Dependency{
		Name:     "api",
		Requires: requires,
		OnStart:  a.startAPI,
		OnStop:   a.stopAPI,
	})
	if cfg.RedisEnabled {
		a.startup.AddDependency(&startup.Dependency{
			Name:     "reconciler",
			Requires: []string{"api"},
			OnStart:  a.startReconciler,
			OnStop: func(ctx context.Context) error {
				return a.worker.Stop(ctx)
			},
		})
	}
	return a
}

func (a *app) startTracing(ctx context.Context) error {
	shutdown, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: a.cfg.AppName,
		Endpoint:    a.cfg.OTLPEndpoint,
		Protocol:    a.cfg.OTLPProtocol,
		Insecure:    a.cfg.OTLPInsecure,
		Timeout:     10 * time.Second,
	})
	if err != nil {
		return err
	}
	a.shutdownTracing = shutdown
	return nil
}

func (a *app) startDatabase(ctx context.Context) error {
	if a.cfg.DatabaseDriver == config.DatabaseDriverMemory {
		a.logger.Warn("Using the in-memory mirror; data is lost on restart")
		store := memory.NewStore()
		a.repos = repositories{
			batches:      store.Batches(),
			stakeholders: store.Stakeholders(),
			transfers:    store.Transfers(),
		}
		a.checker.AddCheck("database", health.PingFunc(store.Ping), true)
		return nil
	}

	db, err := database.Open(ctx, database.Config{
		Host:            a.cfg.DatabaseHost,
		Port:            a.cfg.DatabasePort,
		User:            a.cfg.DatabaseUserName,
		Password:        a.cfg.DatabasePassword,
		Name:            a.cfg.DatabaseName,
		SSLMode:         a.cfg.DatabaseSSLMode,
		MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return err
	}

	instance, ok := db.(*database.DatabaseInstance)
	if !ok {
		_ = db.Close()
		return errors.New("unexpected database instance type")
	}
	migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             a.cfg.DatabaseMigrationVersion,
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(a.cfg.DatabaseName, instance.DB.DB); err != nil {
		_ = db.Close()
		return err
	}

	a.db = db
	transfers := transferrepo.NewRepository(db, a.logger)
	a.repos = repositories{
		batches:      batchrepo.NewRepository(db, transfers, a.logger),
		stakeholders: stakeholderrepo.NewRepository(db, a.logger),
		transfers:    transfers,
	}
	a.checker.AddCheck("database", health.PingFunc(db.PingContext), true)
	return nil
}

func (a *app) stopDatabase(context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *app) startLedger(ctx context.Context) error {
	var backend ledger.Backend
	switch a.cfg.LedgerMode {
	case config.LedgerModeEthereum:
		eth, err := ledger.DialEthereum(ctx, ledger.EthereumConfig{
			RPCURL:          a.cfg.LedgerRPCURL,
			ChainID:         a.cfg.LedgerChainID,
			ContractAddress: a.cfg.LedgerContractAddress,
			PrivateKey:      a.cfg.LedgerPrivateKey,
			GasLimit:        a.cfg.LedgerGasLimit,
		})
		if err != nil {
			return err
		}
		if err := eth.Ping(ctx); err != nil {
			eth.Close()
			return err
		}
		backend = eth
	default:
		a.logger.Warn("Using the simulated ledger")
		backend = ledger.NewSimulatedBackend(simulatedAccount)
	}

	gw, err := ledger.NewGateway(backend, ledger.Config{
		ConfirmationTimeout: a.cfg.LedgerConfirmTimeout,
		PollInterval:        a.cfg.LedgerPollInterval,
		SendTimeout:         a.cfg.LedgerSendTimeout,
	}, a.logger)
	if err != nil {
		backend.Close()
		return err
	}
	a.gateway = gw
	a.checker.AddCheck("ledger", gw, true)
	return nil
}

func (a *app) startRedis(ctx context.Context) error {
	client, err := redis.NewClient(ctx, redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}

	a.redis = client
	a.queue = redis.NewReconcileQueue(client, a.cfg.ReconcileStream, a.cfg.ReconcileConsumerGroup, consumerName(a.cfg))
	a.checker.AddCheck("redis", client, true)
	a.checker.SetReconcileBacklog(a.queue)
	return nil
}

func (a *app) startAPI(context.Context) error {
	policy, err := lifecycle.ParsePolicy(a.cfg.TransferStatusPolicy)
	if err != nil {
		return err
	}

	var queue coordinator.ReconcileQueue = coordinator.NewLogQueue(a.logger)
	var locker locks.Locker = locks.NewLocal()
	if a.redis != nil {
		queue = a.queue
		locker = redis.NewLocker(a.redis, "", a.cfg.RedisLockTTL)
	}
	var publisher batchsvc.Publisher = kafka.Discard{}
	if a.producer != nil {
		publisher = a.producer
	}

	a.coordinator = coordinator.New(a.gateway, queue, a.logger)

	batches := batchsvc.NewService(batchsvc.Dependencies{
		Batches:      a.repos.batches,
		Stakeholders: a.repos.stakeholders,
		Transfers:    a.repos.transfers,
		Decoder:      a.gateway,
		Coordinator:  a.coordinator,
		Locker:       locker,
		Machine:      lifecycle.NewMachine(policy, time.Now),
		Publisher:    publisher,
		Logger:       a.logger,
	})
	stakeholders := stakeholdersvc.NewService(
		a.repos.stakeholders,
		newProvisioner(a.cfg),
		a.gateway,
		a.coordinator,
		publisher,
		a.logger,
	)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderXRequestID, middleware.HeaderActorID},
	}))
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))

	a.checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	handlers.NewBatchHandler(batches, a.logger).Register(api.Group("/batches"))
	handlers.NewStakeholderHandler(stakeholders, a.logger).Register(api.Group("/stakeholders"))

	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serverErr <- err
		}
	}()
	return nil
}

// stopAPI stops taking requests, then waits for ledger operations already
// submitted so their mirror writes land before the ledger connection closes.
func (a *app) stopAPI(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if drainErr := a.coordinator.Drain(ctx); drainErr != nil {
		a.logger.WithError(drainErr).Error("In-flight ledger operations did not finish")
		if err == nil {
			err = drainErr
		}
	}
	return err
}

func (a *app) startReconciler(ctx context.Context) error {
	replayer := reconcile.NewReplayer(a.gateway, a.repos.batches, a.repos.stakeholders, a.logger)
	a.worker = reconcile.NewWorker(a.queue, replayer, reconcile.WorkerConfig{
		ClaimMinIdle: a.cfg.ReconcileClaimMinIdle,
	}, a.logger)
	// the worker outlives the startup context
	return a.worker.Start(context.WithoutCancel(ctx))
}

func newProvisioner(cfg *config.Config) *ledger.KeystoreProvisioner {
	if cfg.LedgerMode == config.LedgerModeSimulated {
		return ledger.NewKeystoreProvisioner(cfg.KeystoreDir, cfg.KeystorePassphrase, keystore.LightScryptN, keystore.LightScryptP)
	}
	return ledger.NewKeystoreProvisioner(cfg.KeystoreDir, cfg.KeystorePassphrase, keystore.StandardScryptN, keystore.StandardScryptP)
}

func consumerName(cfg *config.Config) string {
	if cfg.ReconcileConsumerName != "" {
		return cfg.ReconcileConsumerName
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return cfg.AppName
	}
	return hostname
}
