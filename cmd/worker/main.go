package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/halcyonwood/inkwell/internal/config"
	"github.com/halcyonwood/inkwell/internal/db"
	"github.com/halcyonwood/inkwell/internal/draft"
	"github.com/halcyonwood/inkwell/internal/events"
	"github.com/halcyonwood/inkwell/internal/logger"
	"github.com/halcyonwood/inkwell/internal/roleplay"
	"github.com/halcyonwood/inkwell/internal/store/rabbitmq"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log = log.With("component", "worker")

	gdb := db.Connect(cfg.DBDSN)
	repo := roleplay.NewRepo(gdb)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// draft progress goes out through redis so the API replicas can relay it
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	var sink events.Sink
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, draft progress is not published", "err", err)
	} else {
		sink = events.NewRedisBus(rdb, cfg.EventChannel, nil, log)
	}

	svc := draft.NewService(repo, sink, log, cfg.DraftMaxFixRounds)

	concurrency := workerConcurrency()
	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, concurrency)
	if err != nil {
		log.Fatal("rabbit connect", "err", err)
	}
	defer consumer.Close()

	msgs, err := consumer.Deliveries()
	if err != nil {
		log.Fatal("consume", "err", err)
	}

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m rabbitmq.JobMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Warn("bad message", "worker", workerID, "err", err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := svc.RunJob(ctx, m.JobID); err != nil {
					log.Error("job failed", "worker", workerID, "job_id", m.JobID, "cost", time.Since(start), "err", err)
					_ = d.Nack(false, false)
					continue
				}
				log.Info("job done", "worker", workerID, "job_id", m.JobID, "cost", time.Since(start))

				if err := d.Ack(false); err != nil {
					log.Warn("ack failed", "worker", workerID, "job_id", m.JobID, "err", err)
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Warn("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}
