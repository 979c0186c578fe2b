package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-bikefleet/internal/config"
	"backend-bikefleet/internal/db"
	"backend-bikefleet/internal/server"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadEnv         func() error
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	connectNATS     func(config.Config) (*nats.Conn, error)
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, Conns, <-chan os.Signal, ListenFunc) error
}

// Conns are the external connections handed to Run. Any of them may be nil.
type Conns struct {
	Postgres *pgxpool.Pool
	Redis    *redis.Client
	NATS     *nats.Conn
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadEnv:         func() error { return godotenv.Load() },
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		connectNATS:     db.ConnectNATS,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	if deps.loadEnv != nil {
		if err := deps.loadEnv(); err != nil && !os.IsNotExist(err) {
			log.Printf("load .env: %v", err)
		}
	}
	cfg := deps.loadConfig()

	var conns Conns
	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		log.Printf("postgres connection failed: %v", err)
	}
	conns.Postgres = pg
	conns.Redis = deps.connectRedis(cfg)

	if cfg.FeedDriver == config.FeedDriverNATS && deps.connectNATS != nil {
		nc, err := deps.connectNATS(cfg)
		if err != nil {
			log.Printf("nats connection failed: %v", err)
		}
		conns.NATS = nc
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, conns, signals, nil); err != nil {
		log.Printf("server exited with error: %v", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run starts ingestion and the HTTP server and waits for termination.
// Shutdown closes the dispatcher first so both feed subscriptions are
// released before the listener and connections go away.
func Run(ctx context.Context, cfg config.Config, conns Conns, signals <-chan os.Signal, listen ListenFunc) error {
	var srv *server.Server
	if conns.Postgres != nil {
		srv = server.NewServer(cfg, conns.Postgres, conns.Redis, conns.NATS)
	} else {
		srv = server.NewServer(cfg, nil, conns.Redis, conns.NATS)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	if err := srv.Start(runCtx); err != nil {
		log.Printf("feeds unavailable: %v", err)
	}

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	var listenErr error
	select {
	case <-signals:
	case <-ctx.Done():
	case listenErr = <-errCh:
	}

	srv.Close()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	shutdownErr := shutdownFn(srv.App, shutdownCtx)
	if conns.Postgres != nil {
		conns.Postgres.Close()
	}
	if conns.Redis != nil {
		_ = conns.Redis.Close()
	}
	if conns.NATS != nil {
		conns.NATS.Close()
	}

	if listenErr != nil {
		return listenErr
	}
	return shutdownErr
}
