package genservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/CemRoot/cv-genius-project/internal/domain"
	"github.com/CemRoot/cv-genius-project/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultPathPrefix = "/api/v1/async"
	DefaultTimeout    = 60 * time.Second

	maxBodyBytes = 32 << 20
)

// Client calls the Generation Service which starts, reports on and cancels
// CV generation jobs.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	pathPrefix string
	token      string
	logger     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.HTTP = h
		}
	}
}

// WithPathPrefix overrides the route prefix, DefaultPathPrefix by default.
func WithPathPrefix(prefix string) Option {
	return func(c *Client) { c.pathPrefix = "/" + strings.Trim(prefix, "/") }
}

// WithToken sends the token as a bearer Authorization header.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL cannot be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse baseURL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("baseURL must be http or https, got %q", baseURL)
	}
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTP:       &http.Client{Timeout: DefaultTimeout},
		pathPrefix: DefaultPathPrefix,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("genservice")
	return c, nil
}

// Start submits form and returns the accepted job. Start is never retried
// since the service would create a second job.
func (c *Client) Start(ctx context.Context, form *model.CVFormData) (*domain.StartResponse, error) {
	var out domain.StartResponse
	if err := c.do(ctx, "start", http.MethodPost, "/generate-from-form-async", form, &out); err != nil {
		return nil, err
	}
	if out.TaskID == "" {
		return nil, &DecodeError{Op: "start", Err: errors.New("response missing task_id")}
	}
	return &out, nil
}

// Status fetches the current state of a job.
func (c *Client) Status(ctx context.Context, taskID string) (*domain.TaskStatus, error) {
	var out domain.TaskStatus
	if err := c.do(ctx, "status", http.MethodGet, "/task-status/"+url.PathEscape(taskID), nil, &out); err != nil {
		return nil, err
	}
	if out.Status == "" {
		return nil, &DecodeError{Op: "status", Err: errors.New("response missing status")}
	}
	return &out, nil
}

// Cancel asks the service to stop a job. The service answers 400 when the
// job already finished and 404 when it does not know the id.
func (c *Client) Cancel(ctx context.Context, taskID string) error {
	return c.do(ctx, "cancel", http.MethodDelete, "/task/"+url.PathEscape(taskID), nil, nil)
}

// List returns the most recent jobs, newest first.
func (c *Client) List(ctx context.Context, limit int) ([]domain.TaskSummary, error) {
	path := "/tasks"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Tasks []domain.TaskSummary `json:"tasks"`
	}
	if err := c.do(ctx, "list", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		payload = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+c.pathPrefix+path, payload)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	logger := c.logger.With(zap.String("op", op), zap.String("request_id", requestID))
	logger.Debug("Sending generation service request", zap.String("method", method), zap.String("path", path))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Detail: detailOf(data)}
		logger.Warn("Generation service rejected request", zap.Int("status", resp.StatusCode), zap.String("detail", apiErr.Detail))
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

// detailOf extracts a human readable message from a FastAPI style error body:
// {"detail": "..."} or {"detail": [{"loc": [...], "msg": "..."}]}.
func detailOf(data []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		s := strings.TrimSpace(string(data))
		if len(s) > 200 {
			s = s[:200]
		}
		return s
	}
	if len(body.Detail) > 0 {
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			return s
		}
		var items []struct {
			Loc []interface{} `json:"loc"`
			Msg string        `json:"msg"`
		}
		if err := json.Unmarshal(body.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				parts := make([]string, 0, len(it.Loc))
				for _, p := range it.Loc {
					parts = append(parts, fmt.Sprint(p))
				}
				if len(parts) > 0 {
					msgs = append(msgs, strings.Join(parts, ".")+": "+it.Msg)
				} else {
					msgs = append(msgs, it.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}
	return body.Error
}
