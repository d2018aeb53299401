package server

import (
	"backend-runhub/internal/auth"
	"backend-runhub/internal/config"
	"backend-runhub/internal/db"
	"backend-runhub/internal/sensor"
	"backend-runhub/internal/stream"
	"backend-runhub/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     db.Querier
	Redis  *redis.Client
	Stream *stream.Hub
	Runs   *tracking.Manager
	Signer *auth.Signer
	Logger *zap.Logger
}

// NewServer wires the HTTP surface. pg may be nil, in which case the run
// routes are not mounted; mq is only needed for the mqtt sensor source.
func NewServer(cfg config.Config, pg db.Querier, redisClient *redis.Client, mq sensor.Subscriber, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     pg,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient, log.Named("stream")),
		Signer: auth.NewSigner(cfg.JWTSecret),
		Logger: log,
	}

	if pg != nil {
		sources, err := tracking.NewSourceFactory(cfg, tracking.SourceDeps{Redis: redisClient, MQTT: mq, Logger: log.Named("sensor")})
		if err != nil {
			s.Stream.Close()
			return nil, err
		}
		s.Runs = tracking.NewManager(
			tracking.NewRepository(pg),
			s.Stream,
			sources,
			tracking.WithSessionOptions(tracking.SessionOptions(cfg)...),
			tracking.WithManagerLogger(log.Named("tracking")),
		)
	} else {
		log.Warn("postgres unavailable, run routes disabled")
	}

	registerRoutes(s)
	return s, nil
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.Map{"status": "ok", "postgres": s.DB != nil, "redis": s.Redis != nil}
		if s.Runs != nil {
			status["live_runs"] = s.Runs.LiveCount()
		}
		return c.JSON(status)
	})

	jwtMiddleware := auth.JWTMiddleware(s.Signer)

	auth.RegisterRoutes(s.App.Group("/auth"), s.Signer)
	if s.Runs != nil {
		tracking.RegisterRoutes(s.App, s.Runs, jwtMiddleware)
	}
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
