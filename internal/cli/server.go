package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"quizlobby-service/internal/app"
	"quizlobby-service/internal/config"
	"quizlobby-service/internal/feed"
	"quizlobby-service/internal/generator"
	"quizlobby-service/internal/infra/memory"
	"quizlobby-service/internal/infra/postgres"
	redisinfra "quizlobby-service/internal/infra/redis"
	transport "quizlobby-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz lobby server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var (
		store    app.Store
		listener *postgres.Listener
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		broker := feed.NewBroker(feed.DefaultBuffer)
		defer broker.Close()
		store = postgres.NewStore(pool, broker)
		listener = postgres.NewListener(pool, broker, logger)
	} else {
		logger.Warn("postgres not configured, using in-memory store")
		store = memory.NewStore()
	}

	cacheTTL := config.Duration(cfg.Game.QuestionCacheTTL, 10*time.Minute)
	var (
		questions app.QuestionCache = memory.NewQuestionCache(store, cacheTTL)
		reserver  app.PINReserver
	)
	if redisClient != nil {
		questions = redisinfra.NewQuestionCache(redisClient, store, config.Duration(cfg.Redis.TTL, cacheTTL), logger)
		reserver = redisinfra.NewPINReservations(redisClient, config.Duration(cfg.Game.PINReservationTTL, 3*time.Hour))
	}

	gen, err := newGenerator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runner := app.NewGenerationRunner(gen, store, config.Duration(cfg.Game.GenerationTimeout, app.DefaultGenerationTimeout), logger)
	game := app.NewGame(store, questions, reserver, runner, app.Options{
		PINAttempts: cfg.Game.PINAttempts,
		MinPlayers:  cfg.Game.MinPlayers,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(game, transport.NewAuthenticator(cfg.Auth.JWTSecret), logger),
		ReadTimeout: config.Duration(cfg.Server.ReadTimeout, 15*time.Second),
		// Websocket streams are long lived; writes carry their own deadlines.
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout, 0),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("port", finalPort).Info("starting quiz lobby service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if listener != nil {
		g.Go(func() error { return listener.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		runner.Wait()
		return err
	})
	return g.Wait()
}

func newGenerator(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (app.Generator, error) {
	switch cfg.Generator.Driver {
	case "gemini":
		return generator.NewGemini(ctx, cfg.Generator.APIKey, cfg.Generator.Model, logger)
	case "", "static":
		return generator.NewStatic(), nil
	default:
		return nil, errors.New("unknown generator driver " + cfg.Generator.Driver)
	}
}

func newLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
