package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	httpadapter "github.com/CemRoot/cv-genius-project/internal/adapter/http"
	"github.com/CemRoot/cv-genius-project/internal/domain"
	"github.com/CemRoot/cv-genius-project/internal/model"
	"github.com/CemRoot/cv-genius-project/internal/usecase"
	"github.com/CemRoot/cv-genius-project/pkg/genservice"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	mu          sync.Mutex
	state       usecase.State
	generateErr error
	cancelErr   error
	generated   int
	cancelled   int
	resets      int
	events      []usecase.State
}

func (f *fakeTracker) Generate(_ context.Context, _ *model.CVFormData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated++
	if f.generateErr != nil {
		f.state = usecase.State{Status: domain.StatusFailed, Error: f.generateErr.Error()}
		return f.generateErr
	}
	f.state = usecase.State{TaskID: "t1", Status: domain.StatusProcessing, IsGenerating: true}
	return nil
}

func (f *fakeTracker) Cancel(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
	f.state = usecase.State{Status: domain.StatusCancelled, Error: usecase.MsgCancelled}
	if f.cancelErr != nil {
		f.state.Error = f.cancelErr.Error()
	}
	return f.cancelErr
}

func (f *fakeTracker) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.state = usecase.State{}
}

func (f *fakeTracker) Snapshot() usecase.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Subscribe replays the configured events and then ends the stream.
func (f *fakeTracker) Subscribe() (<-chan usecase.State, func()) {
	ch := make(chan usecase.State, len(f.events))
	for _, s := range f.events {
		ch <- s
	}
	close(ch)
	return ch, func() {}
}

func newApp(tr httpadapter.Tracker) *fiber.App {
	app := fiber.New()
	httpadapter.NewHandler(tr, nil).Register(app)
	return app
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

type stateView struct {
	TaskID       string `json:"task_id"`
	Status       string `json:"status"`
	IsGenerating bool   `json:"is_generating"`
	Progress     int    `json:"progress"`
	Error        string `json:"error"`
}

func TestStartGeneration(t *testing.T) {
	tr := &fakeTracker{}
	resp, body := do(t, newApp(tr), http.MethodPost, "/generation", model.SampleForm())

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	var s stateView
	require.NoError(t, json.Unmarshal(body, &s))
	assert.Equal(t, "t1", s.TaskID)
	assert.True(t, s.IsGenerating)
	assert.Equal(t, 1, tr.generated)
}

func TestStartGeneration_FormRejectedByService(t *testing.T) {
	rejected := &genservice.APIError{Op: "start", StatusCode: http.StatusUnprocessableEntity, Detail: "Field required: skills"}
	tr := &fakeTracker{generateErr: fmt.Errorf("start generation: %w", rejected)}
	form := model.SampleForm()
	form.Skills = ""
	resp, body := do(t, newApp(tr), http.MethodPost, "/generation", form)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var s stateView
	require.NoError(t, json.Unmarshal(body, &s))
	assert.Equal(t, "start generation: Field required: skills", s.Error)
	assert.False(t, s.IsGenerating)
	assert.Equal(t, 1, tr.generated, "the form is forwarded without local validation")

	resp, _ = do(t, newApp(tr), http.MethodPost, "/generation", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartGeneration_Errors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{errors.New("connection refused"), http.StatusBadGateway},
		{&genservice.APIError{Op: "start", StatusCode: http.StatusTooManyRequests}, http.StatusBadGateway},
		{usecase.ErrSuperseded, http.StatusConflict},
		{usecase.ErrClosed, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			tr := &fakeTracker{generateErr: tc.err}
			resp, _ := do(t, newApp(tr), http.MethodPost, "/generation", model.SampleForm())
			assert.Equal(t, tc.code, resp.StatusCode)
		})
	}
}

func TestCancelAndReset(t *testing.T) {
	tr := &fakeTracker{cancelErr: errors.New("Task already finished")}
	app := newApp(tr)

	resp, body := do(t, app, http.MethodDelete, "/generation", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var s stateView
	require.NoError(t, json.Unmarshal(body, &s))
	assert.Equal(t, "Task already finished", s.Error)
	assert.Equal(t, 1, tr.cancelled)

	resp, body = do(t, app, http.MethodPost, "/generation/reset", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	s = stateView{}
	require.NoError(t, json.Unmarshal(body, &s))
	assert.Empty(t, s.Error)
	assert.Empty(t, s.Status)
	assert.Equal(t, 1, tr.resets)

	resp, _ = do(t, app, http.MethodGet, "/generation", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	resp, body := do(t, newApp(&fakeTracker{}), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestEvents(t *testing.T) {
	tr := &fakeTracker{events: []usecase.State{
		{},
		{TaskID: "t1", Status: domain.StatusProcessing, IsGenerating: true, Progress: 40},
		{Status: domain.StatusCompleted, Progress: 100, Result: &model.LinkResult{URL: "doc.pdf"}, ResultKind: model.KindLink},
	}}
	resp, body := do(t, newApp(tr), http.MethodGet, "/generation/events", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var states []map[string]any
	for _, block := range strings.Split(strings.TrimSpace(string(body)), "\n\n") {
		var event, data string
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
		require.Equal(t, "state", event)
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(data), &m))
		states = append(states, m)
	}

	require.Len(t, states, 3)
	assert.Equal(t, false, states[0]["is_generating"])
	assert.Equal(t, float64(40), states[1]["progress"])
	assert.Equal(t, "link", states[2]["result_kind"])
	assert.Equal(t, map[string]any{"url": "doc.pdf"}, states[2]["result"])
}
