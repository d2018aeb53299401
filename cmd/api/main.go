package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-runhub/internal/config"
	"backend-runhub/internal/db"
	"backend-runhub/internal/logger"
	"backend-runhub/internal/sensor"
	"backend-runhub/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	newLogger       func(level, format, service string) (*zap.Logger, error)
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *zap.Logger, *pgxpool.Pool, *redis.Client, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		newLogger:       logger.New,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()

	log, err := deps.newLogger(cfg.LogLevel, cfg.LogFormat, "runhub-api")
	if err != nil {
		log = zap.NewExample()
		log.Warn("logger config rejected, using fallback", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", zap.Error(err))
		return
	}

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Warn("postgres connection failed", zap.Error(err))
	} else if err := migrateFn(context.Background(), pg); err != nil {
		log.Warn("schema migration failed", zap.Error(err))
	}

	rdb := deps.connectRedis(cfg)

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, log, pg, rdb, signals, nil); err != nil {
		log.Error("server exited with error", zap.Error(err))
	}
}

var migrateFn = func(ctx context.Context, pg *pgxpool.Pool) error {
	return db.Migrate(ctx, pg)
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// connectMQTTFn is only called when the mqtt sensor source is configured.
var connectMQTTFn = func(cfg config.Config) (*sensor.MQTTClient, error) {
	return sensor.NewMQTTClient(cfg)
}

// Run starts the HTTP server and waits for termination signals. Live runs
// are stopped and persisted before the connections are closed.
func Run(ctx context.Context, cfg config.Config, log *zap.Logger, pg *pgxpool.Pool, rdb *redis.Client, signals <-chan os.Signal, listen ListenFunc) error {
	if log == nil {
		log = zap.NewNop()
	}

	var mq *sensor.MQTTClient
	var subscriber sensor.Subscriber
	if cfg.SensorSource == config.SourceMQTT {
		client, err := connectMQTTFn(cfg)
		if err != nil {
			return err
		}
		mq = client
		subscriber = client
	}

	var querier db.Querier
	if pg != nil {
		querier = pg
	}
	srv, err := server.NewServer(cfg, querier, rdb, subscriber, log)
	if err != nil {
		if mq != nil {
			mq.Disconnect()
		}
		return err
	}

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			srv.Stream.Close()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	if srv.Runs != nil {
		srv.Runs.Shutdown(shutdownCtx)
	}
	srv.Stream.Close()
	if mq != nil {
		mq.Disconnect()
	}
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Info("server stopped")
	return nil
}
