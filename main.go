package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"vpe/api"
	"vpe/config"
	"vpe/cron"
	"vpe/logging"
	"vpe/order"
	"vpe/queue"
	"vpe/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	cfg := config.LoadConfig()

	closer, err := logging.Setup(logging.Options{
		Dir:        cfg.LogsDir,
		FileName:   "worker.log",
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
	})
	if err != nil {
		log.Fatal("Failed to set up logging:", err)
	}
	defer closer.Close()

	worker, err := service.OpenWorker(cfg)
	if err != nil {
		log.Fatal("Failed to start worker:", err)
	}
	defer worker.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker := queue.NewBroker(queue.Options{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		Queue:         cfg.QueueName,
		Concurrency:   cfg.WorkerConcurrency,
		Permanent:     service.IsPermanent,
	})
	defer broker.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	locks := queue.NewOrderLock(rdb, cfg.LockTTL)

	maintenance := cron.NewMaintenanceCron(worker.DB, worker.Monitor, worker.Metrics, cfg.WorkRoot, cfg.SweepMaxAge)
	if err := maintenance.Start(cron.Schedules{
		Sweep:         cfg.SweepCron,
		Resource:      cfg.ResourceCron,
		MetricsMaxAge: cfg.MetricsMaxAge,
	}); err != nil {
		log.Fatal("Failed to start maintenance cron:", err)
	}
	defer maintenance.Stop()

	var health api.HealthSource
	if worker.Monitor != nil {
		health = worker.Monitor
	}
	server := api.NewServer(cfg, worker.DB, worker.Runner, broker, health)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx); err != nil {
			log.Printf("[main] API server stopped: %v", err)
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		err := broker.Consume(ctx, func(ctx context.Context, payload []byte) error {
			return handleOrder(ctx, worker.Runner, locks, payload)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[main] consumer stopped: %v", err)
		}
	}()

	log.Printf("[main] worker ready, consuming %q with %d slots", cfg.QueueName, cfg.WorkerConcurrency)
	<-ctx.Done()
	log.Println("[main] shutdown requested, waiting for in-flight orders")
	wg.Wait()
	log.Println("[main] stopped")
}

// handleOrder runs one delivered job while holding the lock of its order, so
// that two deliveries of the same order never share a work directory.
func handleOrder(ctx context.Context, runner *service.Runner, locks *queue.OrderLock, payload []byte) error {
	spec, err := order.Parse(payload)
	if err != nil {
		log.Printf("[main] rejected job description: %v", err)
		return err
	}

	key := queue.LockKey(spec.BucketName(), spec.OrderPK)
	return locks.Guard(ctx, key, func() error {
		_, err := runner.Run(ctx, spec)
		return err
	})
}
