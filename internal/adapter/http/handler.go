package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CemRoot/cv-genius-project/internal/model"
	"github.com/CemRoot/cv-genius-project/internal/usecase"
	"github.com/CemRoot/cv-genius-project/pkg/genservice"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const defaultKeepAlive = 15 * time.Second

// Tracker is the part of *usecase.Tracker the handler drives.
type Tracker interface {
	Generate(ctx context.Context, form *model.CVFormData) error
	Cancel(ctx context.Context) error
	Reset()
	Snapshot() usecase.State
	Subscribe() (<-chan usecase.State, func())
}

type Handler struct {
	tracker   Tracker
	logger    *zap.Logger
	keepAlive time.Duration
}

func NewHandler(t Tracker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{tracker: t, logger: logger.Named("http"), keepAlive: defaultKeepAlive}
}

func (h *Handler) Register(r fiber.Router) {
	r.Get("/healthz", h.Health)
	r.Post("/generation", h.StartGeneration)
	r.Get("/generation", h.GetGeneration)
	r.Delete("/generation", h.CancelGeneration)
	r.Post("/generation/reset", h.ResetGeneration)
	r.Get("/generation/events", h.Events)
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// StartGeneration forwards the posted form to the Generation Service and
// starts tracking the new job. The service decides whether the form is valid.
func (h *Handler) StartGeneration(c *fiber.Ctx) error {
	var form model.CVFormData
	if err := c.BodyParser(&form); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}

	err := h.tracker.Generate(c.UserContext(), &form)
	var apiErr *genservice.APIError
	switch {
	case errors.Is(err, usecase.ErrClosed):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, usecase.ErrSuperseded):
		return c.Status(fiber.StatusConflict).JSON(h.tracker.Snapshot())
	case errors.As(err, &apiErr) && apiErr.StatusCode == fiber.StatusUnprocessableEntity:
		return c.Status(fiber.StatusUnprocessableEntity).JSON(h.tracker.Snapshot())
	case err != nil:
		h.logger.Warn("Generation start failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(h.tracker.Snapshot())
	}
	return c.Status(fiber.StatusAccepted).JSON(h.tracker.Snapshot())
}

func (h *Handler) GetGeneration(c *fiber.Ctx) error {
	return c.JSON(h.tracker.Snapshot())
}

// CancelGeneration stops the current job. A failed service call is reported
// through the snapshot's error field.
func (h *Handler) CancelGeneration(c *fiber.Ctx) error {
	if err := h.tracker.Cancel(c.UserContext()); err != nil {
		h.logger.Warn("Cancel failed", zap.Error(err))
	}
	return c.JSON(h.tracker.Snapshot())
}

func (h *Handler) ResetGeneration(c *fiber.Ctx) error {
	h.tracker.Reset()
	return c.JSON(h.tracker.Snapshot())
}

// Events streams every state change as a server-sent "state" event,
// starting with the current state.
func (h *Handler) Events(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	states, unsubscribe := h.tracker.Subscribe()
	keepAlive := h.keepAlive
	logger := h.logger

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		id := 0
		for {
			select {
			case s, ok := <-states:
				if !ok {
					return
				}
				data, err := json.Marshal(s)
				if err != nil {
					logger.Error("Failed to encode state", zap.Error(err))
					continue
				}
				id++
				fmt.Fprintf(w, "id: %d\nevent: state\ndata: %s\n\n", id, data)
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
			}
			if err := w.Flush(); err != nil {
				logger.Debug("Event stream closed", zap.Error(err))
				return
			}
		}
	})
	return nil
}
