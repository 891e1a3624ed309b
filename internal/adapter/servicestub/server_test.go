package servicestub_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CemRoot/cv-genius-project/internal/adapter/servicestub"
	"github.com/CemRoot/cv-genius-project/internal/domain"
	"github.com/CemRoot/cv-genius-project/internal/model"
	"github.com/CemRoot/cv-genius-project/internal/usecase"
	"github.com/CemRoot/cv-genius-project/pkg/genservice"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, srv *servicestub.Server) *genservice.Client {
	t.Helper()
	app := srv.App()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() {
		_ = app.Shutdown()
		srv.Close()
	})

	client, err := genservice.NewClient("http://" + ln.Addr().String())
	require.NoError(t, err)
	return client
}

func newTracker(t *testing.T, client *genservice.Client) *usecase.Tracker {
	t.Helper()
	tr := usecase.NewTracker(client, usecase.Options{PollInterval: 10 * time.Millisecond}, nil)
	t.Cleanup(tr.Close)
	return tr
}

func postForm(t *testing.T, app *fiber.App, form any) *http.Response {
	t.Helper()
	body, err := json.Marshal(form)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/async/generate-from-form-async", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v), string(data))
}

func TestTracker_EndToEndCompletion(t *testing.T) {
	srv := servicestub.New(servicestub.Options{StepDelay: 5 * time.Millisecond})
	tr := newTracker(t, serve(t, srv))

	require.NoError(t, tr.Generate(context.Background(), model.SampleForm()))
	require.Eventually(t, func() bool { return !tr.Snapshot().IsGenerating }, 5*time.Second, 5*time.Millisecond)

	s := tr.Snapshot()
	require.Empty(t, s.Error)
	assert.Equal(t, domain.StatusCompleted, s.Status)
	assert.Equal(t, 100, s.Progress)

	docs, ok := s.Result.(*model.DocumentsResult)
	require.True(t, ok, "got %T", s.Result)
	pdf, err := docs.CVPDF()
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-1.4")))
	assert.True(t, strings.HasPrefix(docs.FilenameCV, "cv_"))
	assert.Equal(t, "Aoife Byrne", docs.CVData["personal_details"].(map[string]any)["full_name"])
}

func TestTracker_EndToEndFailure(t *testing.T) {
	srv := servicestub.New(servicestub.Options{StepDelay: time.Millisecond, FailWith: "template error"})
	tr := newTracker(t, serve(t, srv))

	require.NoError(t, tr.Generate(context.Background(), model.SampleForm()))
	require.Eventually(t, func() bool { return !tr.Snapshot().IsGenerating }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "template error", tr.Snapshot().Error)
	assert.Nil(t, tr.Snapshot().Result)
}

func TestTracker_EndToEndCancel(t *testing.T) {
	srv := servicestub.New(servicestub.Options{StepDelay: time.Hour})
	tr := newTracker(t, serve(t, srv))

	require.NoError(t, tr.Generate(context.Background(), model.SampleForm()))
	taskID := tr.Snapshot().TaskID
	require.NotEmpty(t, taskID)

	require.NoError(t, tr.Cancel(context.Background()))
	assert.Equal(t, usecase.MsgCancelled, tr.Snapshot().Error)

	task, ok := srv.Store().Get(taskID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusCancelled, task.Status)
}

func TestTracker_EndToEndInvalidForm(t *testing.T) {
	srv := servicestub.New(servicestub.Options{})
	tr := newTracker(t, serve(t, srv))

	form := model.SampleForm()
	form.PersonalDetails.Email = "nope"
	err := tr.Generate(context.Background(), form)

	var apiErr *genservice.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, tr.Snapshot().Error, "email")
	assert.Empty(t, srv.Store().List(0))
}

func TestStart_RateLimited(t *testing.T) {
	srv := servicestub.New(servicestub.Options{StepDelay: time.Hour, RequestsPerMinute: 1})
	t.Cleanup(srv.Close)
	app := srv.App()

	resp := postForm(t, app, model.SampleForm())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var started domain.StartResponse
	decode(t, resp, &started)
	assert.NotEmpty(t, started.TaskID)
	assert.Equal(t, "/api/v1/async/task-status/"+started.TaskID, started.PollURL)

	resp = postForm(t, app, model.SampleForm())
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestStatusAndCancelErrors(t *testing.T) {
	srv := servicestub.New(servicestub.Options{})
	t.Cleanup(srv.Close)
	app := srv.App()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/async/task-status/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/api/v1/async/task/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	srv.Store().Create("done", servicestub.TaskTypeCVGeneration)
	srv.Store().Complete("done", json.RawMessage(`{"url":"doc.pdf"}`))

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/api/v1/async/task/done", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body struct {
		Detail string `json:"detail"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "Task already finished", body.Detail)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/async/task-status/done", nil))
	require.NoError(t, err)
	var st domain.TaskStatus
	decode(t, resp, &st)
	assert.Equal(t, domain.StatusCompleted, st.Status)
	assert.JSONEq(t, `{"url":"doc.pdf"}`, string(st.Result))
}

func TestListTasks(t *testing.T) {
	srv := servicestub.New(servicestub.Options{StepDelay: time.Hour})
	t.Cleanup(srv.Close)
	client := serve(t, srv)

	for i := 0; i < 3; i++ {
		_, err := client.Start(context.Background(), model.SampleForm())
		require.NoError(t, err)
	}
	tasks, err := client.List(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, servicestub.TaskTypeCVGeneration, task.Type)
	}
}
