package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/anchor-platform/internal/audit"
	"github.com/nimasrn/anchor-platform/internal/config"
	"github.com/nimasrn/anchor-platform/internal/events"
	gateway "github.com/nimasrn/anchor-platform/internal/gateways"
	"github.com/nimasrn/anchor-platform/internal/processor"
	"github.com/nimasrn/anchor-platform/internal/queue"
	"github.com/nimasrn/anchor-platform/pkg/logger"
	"github.com/nimasrn/anchor-platform/pkg/prom"
	"github.com/nimasrn/anchor-platform/pkg/redis"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	logger.Named("processor")
	defer logger.Sync()

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting event processor", "version", version, "commit", commit, "date", date)

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
	checkers := map[string]processor.HealthChecker{"redis": redisAdap}

	var source events.Source
	switch cfg.EventsBackend {
	case config.EventsBackendRabbitMQ:
		conn, ch, err := events.Dial(cfg.RabbitMQURL, cfg.AppName+"-processor")
		if err != nil {
			logger.Error("failed connecting to rabbitmq", "error", err)
			return
		}
		defer conn.Close()
		source, err = events.NewRabbitSource(ch, cfg.RabbitMQExchange, cfg.QueueName, cfg.QueueConsumerName, cfg.ProcessorWorkers)
		if err != nil {
			logger.Error("failed creating rabbitmq source", "error", err)
			return
		}
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
			logger.Error("failed creating queue", "error", err)
			return
		}
		source = events.NewStreamSource(q)
	default:
		logger.Error("events backend has nothing to consume", "backend", cfg.EventsBackend)
		return
	}

	client, err := gateway.NewClient(gateway.Config{
		URLs:            cfg.CallbackEndpoints(),
		Token:           cfg.CallbackAPIToken,
		Timeout:         cfg.CallbackTimeout,
		MaxRetries:      3,
		RetryDelay:      time.Millisecond * 100,
		MaxConns:        1000,
		BreakerFailures: 5,
		BreakerTimeout:  60 * time.Second,
	})
	if err != nil {
		logger.Error("failed to create gateway", "error", err)
		return
	}

	var recorder processor.AuditRecorder = audit.NopRecorder{}
	if cfg.MongoURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		mongoClient, err := audit.Connect(ctx, cfg.MongoURI)
		cancel()
		if err != nil {
			logger.Error("failed connecting to mongo", "error", err)
			return
		}
		defer mongoClient.Disconnect(context.Background())
		recorder = audit.NewRepository(mongoClient, cfg.MongoDatabase, cfg.MongoCollection)
		checkers["mongo"] = pingFunc(func(ctx context.Context) error {
			return mongoClient.Ping(ctx, readpref.Primary())
		})
	}

	idempotencyConfig := processor.DefaultIdempotencyConfig()
	idempotencyConfig.MaxRetries = cfg.QueueMaxRetries
	idempotencyService := processor.NewIdempotencyService(redisAdap, idempotencyConfig)

	service := processor.NewProcessorService(
		source,
		processor.NewCallbackProcessor(client, recorder, idempotencyService),
		checkers,
		processor.Options{
			Workers:    cfg.ProcessorWorkers,
			BufferSize: cfg.ProcessorBufferSize,
		},
	)

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	promAddr := cfg.PromListenAddr
	if promAddr == "" {
		promAddr = ":9100"
	}
	go func() {
		prom.ListenAndServer(promAddr, cfg.PromURI)
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	if err := service.Start(); err != nil {
		logger.Error("failed to start processor", "error", err)
		return
	}

	<-c
	service.Stop()
	for _, st := range client.Stats() {
		logger.Info("callback endpoint stats", "endpoint", st.Name, "success_rate", st.SuccessRate, "state", st.State)
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
