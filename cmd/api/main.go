package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nimasrn/anchor-platform/internal/asset"
	"github.com/nimasrn/anchor-platform/internal/config"
	"github.com/nimasrn/anchor-platform/internal/events"
	"github.com/nimasrn/anchor-platform/internal/handlers"
	"github.com/nimasrn/anchor-platform/internal/queue"
	"github.com/nimasrn/anchor-platform/internal/repository"
	"github.com/nimasrn/anchor-platform/internal/rpc"
	"github.com/nimasrn/anchor-platform/internal/services"
	xhttp "github.com/nimasrn/anchor-platform/pkg/http"
	"github.com/nimasrn/anchor-platform/pkg/logger"
	"github.com/nimasrn/anchor-platform/pkg/pg"
	"github.com/nimasrn/anchor-platform/pkg/prom"
	"github.com/nimasrn/anchor-platform/pkg/redis"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger.Named("api")
	defer logger.Sync()

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting anchor api", "version", version, "commit", commit, "date", date)

	s := xhttp.NewServer(xhttp.DefaultServerOption.WithTimeouts(cfg.HttpServerReadTimeout, cfg.HttpServerWriteTimeout))
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpRequestTimeout))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:         cfg.PostgresReadUser,
		Host:         cfg.PostgresReadHost,
		Port:         cfg.PostgresReadPort,
		Password:     cfg.PostgresReadPassword,
		Database:     cfg.PostgresReadDatabase,
		MaxOpenConns: cfg.PostgresMaxOpenConns,
	}
	writeConf := pg.Config{
		User:         cfg.PostgresWriteUser,
		Host:         cfg.PostgresWriteHost,
		Port:         cfg.PostgresWritePort,
		Password:     cfg.PostgresWritePassword,
		Database:     cfg.PostgresWriteDatabase,
		MaxOpenConns: cfg.PostgresMaxOpenConns,
	}

	pgDebug := false
	if cfg.AppEnv == "dev" && cfg.AppDebug {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}
	defer db.Close()

	assets, err := asset.LoadFile(cfg.AssetFile)
	if err != nil {
		logger.Error("failed loading assets", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: "default",
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	var locker services.Locker
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		locker = redis.NewLockManager(redisAdap, "transaction:lock:", redis.LockOptions{
			Expiry:      cfg.LockExpiry,
			Tries:       cfg.LockTries,
			RetryDelay:  cfg.LockRetryDelay,
			DriftFactor: redis.DefaultLockOptions().DriftFactor,
		})
	default:
		locker = services.NewLocalLocker()
	}

	publisher, closePublisher, err := newPublisher(cfg, redisAdap)
	if err != nil {
		logger.Error("failed creating event publisher", "error", err, "backend", cfg.EventsBackend)
		return
	}
	defer closePublisher()

	transactionRepo := repository.NewTransactionRepository(db)
	machine := rpc.NewMachine(assets)

	// services
	rpcService := services.NewRpcService(transactionRepo, machine, locker, publisher, cfg.RPCBatchLimit)

	// v1 handlers
	rpcHandler := handlers.NewRpcHandler(rpcService)
	transactionHandler := handlers.NewTransactionHandler(rpcService)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.HealthChecker{
		"postgres": db,
		"redis":    redisAdap,
	})

	g := s.Router.Group("/api/v1")
	handlers.RegisterRpcRoutes(g, rpcHandler)
	handlers.RegisterTransactionRoutes(g, transactionHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	if cfg.PromListenAddr != "" {
		go prom.ListenAndServer(cfg.PromListenAddr, cfg.PromURI)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(cfg.HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	logger.Info("shutting down api")
	s.Shutdown()
}

// newPublisher picks the event sink for committed status changes.
func newPublisher(cfg *config.Config, redisAdap redis.RedisAdapter) (services.EventPublisher, func(), error) {
	switch cfg.EventsBackend {
	case config.EventsBackendRedis:
		q, err := queue.NewQueue(redisAdap, queue.QueueConfig{
			Name:              cfg.QueueName,
			ConsumerGroup:     cfg.QueueConsumerGroup,
			ConsumerName:      cfg.QueueConsumerName,
			MaxRetries:        cfg.QueueMaxRetries,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			PollInterval:      cfg.QueuePollInterval,
			BatchSize:         cfg.QueueBatchSize,
			MaxLen:            cfg.QueueMaxLen,
			EnableDLQ:         cfg.QueueEnableDLQ,
		})
		if err != nil {
			return nil, nil, err
		}
		return events.NewStreamPublisher(q), func() {}, nil
	case config.EventsBackendRabbitMQ:
		conn, ch, err := events.Dial(cfg.RabbitMQURL, cfg.AppName+"-api")
		if err != nil {
			return nil, nil, err
		}
		p, err := events.NewRabbitPublisher(ch, cfg.RabbitMQExchange)
		if err != nil {
			closeRabbit(conn, ch)
			return nil, nil, err
		}
		return p, func() { closeRabbit(conn, ch) }, nil
	}
	return events.NopPublisher{}, func() {}, nil
}

func closeRabbit(conn *amqp.Connection, ch *amqp.Channel) {
	_ = ch.Close()
	if err := conn.Close(); err != nil {
		logger.Warn("closing rabbitmq connection", "error", err)
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
