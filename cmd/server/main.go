package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookgo/clock"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"floor-dispatch-service/internal/config"
	"floor-dispatch-service/internal/controller"
	"floor-dispatch-service/internal/logger"
	"floor-dispatch-service/internal/rabbit"
	"floor-dispatch-service/internal/repository"
	"floor-dispatch-service/internal/service"
	"floor-dispatch-service/internal/store"
)

const serviceName = "floor-dispatch-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "action", "startup_failed", "error", err)
		os.Exit(1)
	}
	log := logger.New(serviceName, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("service stopped", "action", "shutdown", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var events service.Notifier
	var mq *rabbit.Client
	if cfg.RabbitEnabled {
		mq, err = rabbit.Dial(cfg.RabbitURL)
		if err != nil {
			return err
		}
		defer mq.Close()
		if err := mq.DeclareTopology(); err != nil {
			return err
		}
		events = rabbit.NewEventPublisher(mq)
	}

	orders := repository.NewOrderRepository(st, log)
	clk := clock.New()
	ledger := repository.NewLedger(st, log, repository.LedgerOptions{
		Attempts:   cfg.AuditRetries,
		RetryDelay: cfg.AuditRetryDelay,
		Clock:      clk,
	})
	floor := service.NewFloorService(orders, ledger, log, service.FloorOptions{
		Events:          events,
		Clock:           clk,
		AutoRejectAfter: cfg.AutoRejectAfter,
	})
	defer floor.Close()

	gin.SetMode(gin.ReleaseMode)
	ctl := controller.NewFloorController(floor, log)
	router := controller.NewRouter(ctl, service.NewAuthService(cfg.AuthURL), log)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "action", "startup", "port", cfg.Port, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if mq != nil {
		if err := rabbit.SetupConsumers(gctx, mq.Channel(), floor, log); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		closed := mq.NotifyClose()
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case amqpErr, ok := <-closed:
				if !ok || amqpErr == nil {
					return nil
				}
				return fmt.Errorf("rabbitmq connection lost: %w", amqpErr)
			}
		})
	}

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, func(), error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using in-memory store, data is lost on restart", "action", "startup")
		return store.NewMemory(), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}

	ms := repository.NewMongoStore(client.Database(cfg.MongoDBName))
	if err := ms.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return ms, func() { _ = client.Disconnect(context.Background()) }, nil
}
