// Command stubservice serves an in-memory Generation Service for local
// development. With -smoke it also runs one generation against itself and
// prints the outcome.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CemRoot/cv-genius-project/internal/adapter/servicestub"
	"github.com/CemRoot/cv-genius-project/internal/config"
	"github.com/CemRoot/cv-genius-project/internal/model"
	"github.com/CemRoot/cv-genius-project/internal/usecase"
	"github.com/CemRoot/cv-genius-project/pkg/genservice"
	infra "github.com/CemRoot/cv-genius-project/pkg/infrastructure"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const pruneEvery = time.Hour

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	failWith := flag.String("fail", "", "Fail every task with this message at the PDF step")
	smoke := flag.Bool("smoke", false, "Run one generation against the stub, print the result and exit")
	flag.Parse()

	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, _, err := infra.NewLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	stub := servicestub.New(servicestub.Options{
		StepDelay:         cfg.Stub.StepDelay,
		FailWith:          *failWith,
		RequestsPerMinute: cfg.Stub.RequestsPerMinute,
		PathPrefix:        cfg.Service.PathPrefix,
		Logger:            logger,
	})
	defer stub.Close()
	app := stub.App()

	ln, err := net.Listen("tcp", ":"+cfg.Stub.Port)
	if err != nil {
		logger.Fatal("Failed to listen", zap.String("port", cfg.Stub.Port), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Stub generation service listening", zap.String("addr", ln.Addr().String()))
		return app.Listener(ln)
	})
	g.Go(func() error {
		ticker := time.NewTicker(pruneEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return app.Shutdown()
			case <-ticker.C:
				if n := stub.Store().Prune(cfg.Stub.RetainFor); n > 0 {
					logger.Info("Pruned old tasks", zap.Int("count", n))
				}
			}
		}
	})
	if *smoke {
		g.Go(func() error {
			defer stop()
			return runSmoke(ctx, "http://"+ln.Addr().String(), cfg, logger)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Stub stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

// runSmoke drives a tracker through one job and prints the final state.
func runSmoke(ctx context.Context, baseURL string, cfg *config.Config, logger *zap.Logger) error {
	client, err := genservice.NewClient(baseURL, genservice.WithPathPrefix(cfg.Service.PathPrefix), genservice.WithLogger(logger))
	if err != nil {
		return err
	}
	tracker := usecase.NewTracker(client, usecase.Options{PollInterval: cfg.Tracker.PollInterval}, logger)
	defer tracker.Close()

	states, unsubscribe := tracker.Subscribe()
	defer unsubscribe()

	if err := tracker.Generate(ctx, model.SampleForm()); err != nil {
		return fmt.Errorf("smoke generation: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-states:
			if !s.Terminal() {
				continue
			}
			out, err := json.MarshalIndent(summarize(s), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if s.Error != "" {
				return fmt.Errorf("smoke generation ended with %q", s.Error)
			}
			return nil
		}
	}
}

func summarize(s usecase.State) map[string]any {
	out := map[string]any{"status": s.Status, "progress": s.Progress, "error": s.Error, "result_kind": s.ResultKind}
	if docs, ok := s.Result.(*model.DocumentsResult); ok {
		out["filename_cv"] = docs.FilenameCV
		out["filename_cover_letter"] = docs.FilenameCoverLetter
	}
	return out
}
