package server

import (
	"context"
	"errors"
	"log"
	"sync/atomic"

	"backend-bikefleet/internal/auth"
	"backend-bikefleet/internal/config"
	"backend-bikefleet/internal/db"
	"backend-bikefleet/internal/dispatch"
	"backend-bikefleet/internal/feed"
	"backend-bikefleet/internal/render"
	"backend-bikefleet/internal/route"
	"backend-bikefleet/internal/stats"
	"backend-bikefleet/internal/stream"
	"backend-bikefleet/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// MapTopic is the stream topic carrying rendered map views.
const MapTopic = "map"

type Server struct {
	App        *fiber.App
	Cfg        config.Config
	DB         db.Querier
	Redis      *redis.Client
	NATS       *nats.Conn
	Stream     *stream.Hub
	Dispatcher *dispatch.Dispatcher

	locations feed.Source
	active    feed.Source
	memory    []*feed.MemorySource
	closed    atomic.Bool
}

func NewServer(cfg config.Config, q db.Querier, redisClient *redis.Client, nc *nats.Conn) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     q,
		Redis:  redisClient,
		NATS:   nc,
		Stream: stream.NewHub(redisClient),
		Dispatcher: dispatch.New(dispatch.Options{
			MaxTrailLength: cfg.TrailMaxLength,
			Classifier:     cfg.Classifier(),
		}),
	}
	s.newFeeds()

	registerRoutes(s)
	return s
}

func (s *Server) newFeeds() {
	switch s.Cfg.FeedDriver {
	case config.FeedDriverNATS:
		s.locations = feed.NewNATSSource(s.NATS, feed.ChannelLocations, s.Cfg.FeedLocationsTopic)
		s.active = feed.NewNATSSource(s.NATS, feed.ChannelActive, s.Cfg.FeedActiveTopic)
	case config.FeedDriverRedis:
		s.locations = feed.NewRedisSource(s.Redis, feed.ChannelLocations, s.Cfg.FeedLocationsTopic)
		s.active = feed.NewRedisSource(s.Redis, feed.ChannelActive, s.Cfg.FeedActiveTopic)
	default:
		locations := feed.NewMemorySource(feed.ChannelLocations)
		active := feed.NewMemorySource(feed.ChannelActive)
		s.locations, s.active = locations, active
		s.memory = []*feed.MemorySource{locations, active}
	}
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		snap := s.Dispatcher.Snapshot()
		return c.JSON(fiber.Map{"status": "ok", "feeds": snap.Channels})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)
	est := stats.New(s.Cfg.Stats())

	tracking.RegisterRoutes(s.App.Group("/tracking"), tracking.NewService(s.Dispatcher, est), jwtMiddleware)
	if s.DB != nil {
		route.RegisterRoutes(s.App.Group("/rides"), route.NewService(s.DB, s.Redis, est, s.Cfg.RouteCacheTTL))
	}
	if len(s.memory) > 0 {
		feed.RegisterRoutes(s.App.Group("/feeds"), s.memory, jwtMiddleware)
	}
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}

// Start subscribes the dispatcher to its feeds and starts broadcasting map
// views. A failed subscription is reported on both channels and returned.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Dispatcher.Start(ctx, s.locations, s.active); err != nil {
		s.Dispatcher.HandleError(feed.ChannelLocations, err)
		s.Dispatcher.HandleError(feed.ChannelActive, err)
		return err
	}

	w := s.Dispatcher.Watch()
	go render.Pump(ctx, w.C, s.Stream, MapTopic)

	// viper has no way to stop a config watch; it lives for the process and
	// applyConfig ignores reloads once the server is closed.
	if err := config.Watch(s.Cfg.ConfigFile, func(cfg config.Config) {
		s.applyConfig(cfg)
	}); err != nil && !errors.Is(err, config.ErrNoConfigFile) {
		log.Printf("config watch disabled: %v", err)
	}
	return nil
}

// applyConfig swaps the dispatcher's classifier for a reloaded config. It
// reports false once the server is closed.
func (s *Server) applyConfig(cfg config.Config) bool {
	if s.closed.Load() {
		return false
	}
	s.Dispatcher.SetClassifier(cfg.Classifier())
	return true
}

// Close stops ingestion and the stream relay.
func (s *Server) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.Dispatcher.Close()
	s.Stream.Close()
}
