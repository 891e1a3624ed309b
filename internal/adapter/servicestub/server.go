// Package servicestub is an in-memory Generation Service. It speaks the same
// HTTP protocol as the real backend and walks every task through the
// backend's progress steps, returning placeholder documents.
package servicestub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CemRoot/cv-genius-project/internal/domain"
	"github.com/CemRoot/cv-genius-project/internal/model"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	TaskTypeCVGeneration = "cv_generation"
	DefaultPathPrefix    = "/api/v1/async"
	createdAtLayout      = "2006-01-02T15:04:05.000000"
)

type Options struct {
	// StepDelay is the pause between progress steps.
	StepDelay time.Duration
	// FailWith makes every task fail with this message when it reaches
	// the PDF step.
	FailWith string
	// RequestsPerMinute limits job starts. Zero disables the limit.
	RequestsPerMinute int
	PathPrefix        string
	Logger            *zap.Logger
}

type step struct {
	progress int
	status   domain.Status
}

var script = []step{
	{10, domain.StatusProcessing},
	{30, "generating_cv"},
	{70, "generating_pdf"},
	{90, "finalizing"},
}

type Server struct {
	store   *TaskStore
	opts    Options
	limiter *rate.Limiter
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PathPrefix == "" {
		opts.PathPrefix = DefaultPathPrefix
	}
	s := &Server{
		store:  NewTaskStore(),
		opts:   opts,
		logger: opts.Logger.Named("stub"),
	}
	if opts.RequestsPerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), opts.RequestsPerMinute)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *Server) Store() *TaskStore { return s.store }

// App returns a fiber app serving the Generation Service routes.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	s.Register(app.Group(s.opts.PathPrefix))
	return app
}

func (s *Server) Register(r fiber.Router) {
	r.Post("/generate-from-form-async", s.start)
	r.Get("/task-status/:id", s.status)
	r.Delete("/task/:id", s.cancelTask)
	r.Get("/tasks", s.list)
}

// Close stops all workers and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) start(c *fiber.Ctx) error {
	if s.limiter != nil && !s.limiter.Allow() {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"detail": "Rate limit exceeded"})
	}

	var form model.CVFormData
	if err := c.BodyParser(&form); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"detail": "invalid payload"})
	}
	if err := model.ValidateForm(&form); err != nil {
		var ve *model.ValidationError
		if !errors.As(err, &ve) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": fmt.Sprintf("Failed to start CV generation: %v", err)})
		}
		details := make([]fiber.Map, 0, len(ve.Problems))
		for _, p := range ve.Problems {
			details = append(details, fiber.Map{"loc": []string{"body"}, "msg": p})
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"detail": details})
	}

	id := uuid.NewString()
	s.store.Create(id, TaskTypeCVGeneration)
	s.logger.Info("Task created", zap.String("task_id", id))

	s.wg.Add(1)
	go s.work(id, form)

	return c.JSON(domain.StartResponse{
		TaskID:  id,
		Status:  domain.StatusProcessing,
		Message: "CV generation started. Use task_id to check progress.",
		PollURL: s.opts.PathPrefix + "/task-status/" + id,
	})
}

func (s *Server) status(c *fiber.Ctx) error {
	t, ok := s.store.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"detail": ErrTaskNotFound.Error()})
	}
	resp := domain.TaskStatus{
		TaskID:    t.ID,
		Status:    t.Status,
		Progress:  float64(t.Progress),
		CreatedAt: t.CreatedAt.Format(createdAtLayout),
	}
	switch t.Status {
	case domain.StatusCompleted:
		resp.Result = t.Result
	case domain.StatusFailed:
		resp.Error = t.Error
	}
	return c.JSON(resp)
}

func (s *Server) cancelTask(c *fiber.Ctx) error {
	id := c.Params("id")
	switch err := s.store.Cancel(id); {
	case errors.Is(err, ErrTaskNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"detail": err.Error()})
	case errors.Is(err, ErrTaskFinished):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": err.Error()})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"detail": fmt.Sprintf("Failed to cancel task: %v", err)})
	}
	s.logger.Info("Task cancelled", zap.String("task_id", id))
	return c.JSON(fiber.Map{"message": "Task cancelled successfully"})
}

func (s *Server) list(c *fiber.Ctx) error {
	tasks := s.store.List(c.QueryInt("limit", 10))
	out := make([]domain.TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, domain.TaskSummary{
			ID:        t.ID,
			Type:      t.Type,
			Status:    t.Status,
			Progress:  float64(t.Progress),
			CreatedAt: t.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"tasks": out})
}

// work walks task id through the progress steps. It stops early when the
// task is cancelled or the server closes.
func (s *Server) work(id string, form model.CVFormData) {
	defer s.wg.Done()
	logger := s.logger.With(zap.String("task_id", id))

	for _, st := range script {
		if !s.pause() {
			return
		}
		if st.status == "generating_pdf" && s.opts.FailWith != "" {
			s.store.Fail(id, s.opts.FailWith)
			logger.Info("Task failed", zap.String("error", s.opts.FailWith))
			return
		}
		if !s.store.Advance(id, st.progress, st.status) {
			logger.Debug("Task stopped", zap.Int("progress", st.progress))
			return
		}
	}
	if !s.pause() {
		return
	}

	result, err := placeholderDocuments(&form, time.Now())
	if err != nil {
		s.store.Fail(id, err.Error())
		return
	}
	if s.store.Complete(id, result) {
		logger.Info("Task completed")
	}
}

func (s *Server) pause() bool {
	if s.opts.StepDelay <= 0 {
		return s.ctx.Err() == nil
	}
	timer := time.NewTimer(s.opts.StepDelay)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func placeholderDocuments(form *model.CVFormData, now time.Time) (json.RawMessage, error) {
	stamp := now.Format("20060102_150405")
	pdf := func(kind string) string {
		doc := fmt.Sprintf("%%PDF-1.4\n%% %s for %s\n%%%%EOF\n", kind, form.PersonalDetails.FullName)
		return base64.StdEncoding.EncodeToString([]byte(doc))
	}

	formJSON, err := json.Marshal(form)
	if err != nil {
		return nil, err
	}
	var cvData map[string]any
	if err := json.Unmarshal(formJSON, &cvData); err != nil {
		return nil, err
	}

	return json.Marshal(model.DocumentsResult{
		CVPDFBase64:          pdf("CV"),
		CoverLetterPDFBase64: pdf("Cover letter"),
		FilenameCV:           "cv_" + stamp + ".pdf",
		FilenameCoverLetter:  "cover_letter_" + stamp + ".pdf",
		GenerationTimestamp:  now.Format("2006-01-02T15:04:05.000000"),
		CVData:               cvData,
	})
}
