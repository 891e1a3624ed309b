package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/CemRoot/cv-genius-project/internal/adapter/http"
	"github.com/CemRoot/cv-genius-project/internal/config"
	"github.com/CemRoot/cv-genius-project/internal/usecase"
	"github.com/CemRoot/cv-genius-project/pkg/genservice"
	infra "github.com/CemRoot/cv-genius-project/pkg/infrastructure"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file (default $"+config.EnvConfigPath+")")
	flag.Parse()

	path := config.Path(*configPath)
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, level, err := infra.NewLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	client, err := genservice.NewClient(cfg.Service.URL,
		genservice.WithHTTPClient(&http.Client{Timeout: cfg.Service.Timeout}),
		genservice.WithPathPrefix(cfg.Service.PathPrefix),
		genservice.WithToken(cfg.Service.Token),
		genservice.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("Invalid generation service configuration", zap.Error(err))
	}

	tracker := usecase.NewTracker(client, usecase.Options{
		PollInterval:    cfg.Tracker.PollInterval,
		MaxDuration:     cfg.Tracker.MaxDuration,
		PollRetryWindow: cfg.Tracker.PollRetryWindow,
	}, logger)
	defer tracker.Close()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	httpadapter.NewHandler(tracker, logger).Register(app)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := ":" + cfg.Server.Port
		logger.Info("Listening", zap.String("addr", addr), zap.String("generation_service", cfg.Service.URL))
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")
		tracker.Close()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	if path != "" {
		g.Go(func() error {
			return config.Watch(ctx, path, logger, func(next *config.Config) {
				if err := infra.SetLevel(level, next.Server.LogLevel); err != nil {
					logger.Warn("Ignoring invalid log level", zap.Error(err))
					return
				}
				logger.Info("Log level updated", zap.String("level", next.Server.LogLevel))
			})
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
