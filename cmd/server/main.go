package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/halcyonwood/inkwell/internal/backend"
	"github.com/halcyonwood/inkwell/internal/config"
	"github.com/halcyonwood/inkwell/internal/db"
	"github.com/halcyonwood/inkwell/internal/events"
	"github.com/halcyonwood/inkwell/internal/httpapi"
	"github.com/halcyonwood/inkwell/internal/httpapi/handlers"
	"github.com/halcyonwood/inkwell/internal/logger"
	"github.com/halcyonwood/inkwell/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	gdb := db.Connect(cfg.DBDSN)
	if err := db.Migrate(gdb); err != nil {
		log.Fatal("migrate", "err", err)
	}

	hub := events.NewHub(log)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	var sink events.Sink = hub
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, events stay in-process", "err", err)
	} else {
		bus := events.NewRedisBus(rdb, cfg.EventChannel, hub, log)
		bus.StartForwarder(ctx)
		sink = bus
	}

	rabbit, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal("rabbit connect", "err", err)
	}
	defer rabbit.Close()

	registry := backend.NewRegistry()

	r := httpapi.NewRouter(handlers.Deps{
		DB:       gdb,
		Cfg:      cfg,
		Hub:      hub,
		Sink:     sink,
		Registry: registry,
		Rabbit:   rabbit,
		Log:      log,
	})

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		log.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
}
