// Command cvgen generates a CV from a form file, or follows the job of a
// running server.
//
//	cvgen generate -form form.json [-out dir]
//	cvgen watch [-server http://localhost:3000]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/CemRoot/cv-genius-project/internal/config"
	"github.com/CemRoot/cv-genius-project/internal/domain"
	"github.com/CemRoot/cv-genius-project/internal/model"
	"github.com/CemRoot/cv-genius-project/internal/usecase"
	"github.com/CemRoot/cv-genius-project/pkg/genservice"
	infra "github.com/CemRoot/cv-genius-project/pkg/infrastructure"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
	"gopkg.in/cenkalti/backoff.v1"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "generate":
		err = generate(ctx, os.Args[2:])
	case "watch":
		err = watch(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "cvgen:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cvgen generate -form form.json [-out dir] [-config file]")
	fmt.Fprintln(os.Stderr, "       cvgen watch [-server url]")
}

func generate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	formPath := fs.String("form", "", "Path to the CV form JSON")
	outDir := fs.String("out", ".", "Directory for generated documents")
	configPath := fs.String("config", "", "Path to YAML configuration file")
	_ = fs.Parse(args)
	if *formPath == "" {
		return errors.New("-form is required")
	}

	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		return err
	}
	logger, _, err := infra.NewLogger(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	form, err := readForm(*formPath)
	if err != nil {
		return err
	}
	client, err := genservice.NewClient(cfg.Service.URL,
		genservice.WithHTTPClient(&http.Client{Timeout: cfg.Service.Timeout}),
		genservice.WithPathPrefix(cfg.Service.PathPrefix),
		genservice.WithToken(cfg.Service.Token),
		genservice.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	tracker := usecase.NewTracker(client, usecase.Options{
		PollInterval:    cfg.Tracker.PollInterval,
		MaxDuration:     cfg.Tracker.MaxDuration,
		PollRetryWindow: cfg.Tracker.PollRetryWindow,
	}, logger)
	defer tracker.Close()

	states, unsubscribe := tracker.Subscribe()
	defer unsubscribe()
	if err := tracker.Generate(ctx, form); err != nil {
		return err
	}

	last := -1
	for {
		select {
		case <-ctx.Done():
			cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := tracker.Cancel(cancelCtx); err != nil {
				logger.Warn("Cancel failed", zap.Error(err))
			}
			return errors.New(usecase.MsgCancelled)
		case s := <-states:
			if p := s.DisplayProgress(); p != last && s.IsGenerating {
				fmt.Printf("%3d%%  %s\n", p, s.Status)
				last = p
			}
			if !s.Terminal() {
				continue
			}
			if s.Error != "" {
				return errors.New(s.Error)
			}
			return writeResult(s.Result, *outDir)
		}
	}
}

func readForm(path string) (*model.CVFormData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read form: %w", err)
	}
	var form model.CVFormData
	if err := json.Unmarshal(data, &form); err != nil {
		return nil, fmt.Errorf("parse form %s: %w", path, err)
	}
	return &form, nil
}

func writeResult(res model.Result, dir string) error {
	switch r := res.(type) {
	case nil:
		fmt.Println("Generation completed without a result")
		return nil
	case *model.LinkResult:
		fmt.Println("Document available at", r.URL)
		return nil
	case *model.ContentResult:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		return writeFile(dir, "cv_content.json", data)
	case *model.DocumentsResult:
		cv, err := r.CVPDF()
		if err != nil {
			return fmt.Errorf("decode CV PDF: %w", err)
		}
		letter, err := r.CoverLetterPDF()
		if err != nil {
			return fmt.Errorf("decode cover letter PDF: %w", err)
		}
		if err := writeFile(dir, nameOr(r.FilenameCV, "cv.pdf"), cv); err != nil {
			return err
		}
		return writeFile(dir, nameOr(r.FilenameCoverLetter, "cover_letter.pdf"), letter)
	}
	return fmt.Errorf("unsupported result %T", res)
}

func nameOr(name, fallback string) string {
	if base := filepath.Base(name); name != "" && base != "." && base != "/" {
		return base
	}
	return fallback
}

func writeFile(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Println("Wrote", path)
	return nil
}

// stateEvent is the wire form of usecase.State on the event stream.
type stateEvent struct {
	TaskID       string          `json:"task_id"`
	Status       domain.Status   `json:"status"`
	IsGenerating bool            `json:"is_generating"`
	Progress     int             `json:"progress"`
	Error        string          `json:"error"`
	ResultKind   string          `json:"result_kind"`
	Result       json.RawMessage `json:"result"`
}

func watch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	server := fs.String("server", "http://localhost:3000", "Base URL of a running cvgen server")
	_ = fs.Parse(args)
	return follow(ctx, *server+"/generation/events", os.Stdout)
}

// follow prints every state event from url until the job reaches a terminal
// state or ctx ends.
func follow(ctx context.Context, url string, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := sse.NewClient(url)
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = time.Minute
	client.ReconnectStrategy = backoff.WithContext(expBackoff, ctx)
	client.ReconnectNotify = func(err error, d time.Duration) {
		fmt.Fprintf(os.Stderr, "event stream error: %v (retrying in %s)\n", err, d)
	}

	events := make(chan *sse.Event)
	if err := client.SubscribeChanWithContext(ctx, "", events); err != nil {
		return fmt.Errorf("subscribe to %s: %w", url, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return errors.New("event stream closed")
			}
			s, ok, err := decodeState(ev)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			printState(out, s)
			if !s.IsGenerating && s.Status.IsTerminal() {
				return nil
			}
		}
	}
}

// decodeState reads a "state" event. Other events and keep-alives report
// false.
func decodeState(ev *sse.Event) (stateEvent, bool, error) {
	var s stateEvent
	if ev == nil || string(ev.Event) != "state" {
		return s, false, nil
	}
	if err := json.Unmarshal(ev.Data, &s); err != nil {
		return s, false, fmt.Errorf("decode state: %w", err)
	}
	return s, true, nil
}

func printState(w io.Writer, s stateEvent) {
	switch {
	case s.IsGenerating:
		fmt.Fprintf(w, "%3d%%  %s  %s\n", s.Progress, s.Status, s.TaskID)
	case s.Error != "":
		fmt.Fprintf(w, "%s: %s\n", s.Status, s.Error)
	case s.Status != "":
		fmt.Fprintf(w, "%s (%s result)\n", s.Status, s.ResultKind)
	default:
		fmt.Fprintln(w, "idle")
	}
}
