package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/CemRoot/cv-genius-project/internal/domain"
	"github.com/CemRoot/cv-genius-project/internal/model"
	"github.com/CemRoot/cv-genius-project/pkg/genservice"

	"go.uber.org/zap"
	"gopkg.in/cenkalti/backoff.v1"
)

const (
	DefaultPollInterval  = 2 * time.Second
	defaultCancelTimeout = 10 * time.Second
)

var (
	ErrClosed     = errors.New("tracker closed")
	ErrSuperseded = errors.New("generation superseded by reset or a newer request")
)

// GenerationService is the remote side of a generation job.
// *genservice.Client satisfies it.
type GenerationService interface {
	Start(ctx context.Context, form *model.CVFormData) (*domain.StartResponse, error)
	Status(ctx context.Context, taskID string) (*domain.TaskStatus, error)
	Cancel(ctx context.Context, taskID string) error
}

type Options struct {
	// PollInterval is the delay between status checks. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration
	// MaxDuration fails the job locally once it has been polled for this long.
	// Zero polls until the service reports a terminal status.
	MaxDuration time.Duration
	// PollRetryWindow is how long transient status check errors are retried
	// before the job is failed. Zero fails on the first error.
	PollRetryWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// run is one armed task together with the handle that stops its poller.
type run struct {
	taskID string
	stop   context.CancelFunc
}

// Tracker follows a single generation job from start to a terminal state.
// All methods are safe for concurrent use.
type Tracker struct {
	svc    GenerationService
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	run     *run
	epoch   uint64
	closed  bool
	subs    map[int]chan State
	nextSub int

	wg sync.WaitGroup
}

func NewTracker(svc GenerationService, opts Options, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		svc:    svc,
		opts:   opts.withDefaults(),
		logger: logger.Named("tracker"),
		subs:   make(map[int]chan State),
	}
}

// Generate starts a new job for form. Any job still being tracked is dropped
// locally first. A start failure is recorded in the state and also returned.
func (t *Tracker) Generate(ctx context.Context, form *model.CVFormData) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.run != nil {
		t.logger.Info("Dropping tracked task for a new generation", zap.String("task_id", t.run.taskID))
	}
	t.disarmLocked()
	t.epoch++
	epoch := t.epoch
	t.state = State{Status: domain.StatusPending, IsGenerating: true}
	t.publishLocked()
	t.mu.Unlock()

	resp, err := t.svc.Start(ctx, form)
	if err == nil && (resp == nil || resp.TaskID == "") {
		err = errors.New(MsgStartFailed)
	}

	t.mu.Lock()
	if t.closed || t.epoch != epoch {
		closed := t.closed
		t.mu.Unlock()
		if err == nil {
			t.logger.Info("Start superseded, cancelling the new task", zap.String("task_id", resp.TaskID))
			t.abandon(resp.TaskID)
		}
		if closed {
			return ErrClosed
		}
		return ErrSuperseded
	}
	defer t.mu.Unlock()

	if err != nil {
		t.logger.Warn("Generation start failed", zap.Error(err))
		t.state.IsGenerating = false
		t.state.Status = domain.StatusFailed
		t.state.Error = messageOr(err, MsgStartFailed)
		t.publishLocked()
		return fmt.Errorf("start generation: %w", err)
	}

	t.state.TaskID = resp.TaskID
	t.state.Status = domain.StatusProcessing
	t.armLocked(resp.TaskID)
	t.publishLocked()
	t.logger.Info("Generation started", zap.String("task_id", resp.TaskID))
	return nil
}

// Cancel stops tracking the armed job and asks the service to cancel it.
// It does nothing when no job is armed. Local tracking stops even when the
// service call fails; the failure then replaces the cancellation notice.
func (t *Tracker) Cancel(ctx context.Context) error {
	t.mu.Lock()
	if t.run == nil {
		t.mu.Unlock()
		return nil
	}
	taskID := t.run.taskID
	t.disarmLocked()
	epoch := t.epoch
	t.state = State{Status: domain.StatusCancelled, Error: MsgCancelled}
	t.publishLocked()
	t.mu.Unlock()

	logger := t.logger.With(zap.String("task_id", taskID))
	err := t.svc.Cancel(ctx, taskID)
	if err == nil {
		logger.Info("Generation cancelled")
		return nil
	}

	logger.Warn("Cancel request failed", zap.Error(err))
	t.mu.Lock()
	if t.epoch == epoch && !t.closed {
		t.state.Error = messageOr(err, MsgCancelFailed)
		t.publishLocked()
	}
	t.mu.Unlock()
	return fmt.Errorf("cancel generation %s: %w", taskID, err)
}

// Reset returns the tracker to Idle. Responses still in flight for the
// previous job are discarded.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disarmLocked()
	t.epoch++
	if !t.state.idle() {
		t.state = State{}
		t.publishLocked()
	}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Subscribe returns a channel that receives the current state and then
// every change. Slow readers only see the latest state. The returned func
// unsubscribes and closes the channel.
func (t *Tracker) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	ch <- t.state
	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(c)
		}
	}
}

// Close stops polling, waits for pollers to exit and closes every
// subscription. The last state remains readable through Snapshot.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.disarmLocked()
	t.epoch++
	subs := t.subs
	t.subs = map[int]chan State{}
	t.mu.Unlock()

	t.wg.Wait()
	for _, ch := range subs {
		close(ch)
	}
}

func (t *Tracker) armLocked(taskID string) {
	var (
		ctx  context.Context
		stop context.CancelFunc
	)
	if t.opts.MaxDuration > 0 {
		ctx, stop = context.WithTimeout(context.Background(), t.opts.MaxDuration)
	} else {
		ctx, stop = context.WithCancel(context.Background())
	}
	r := &run{taskID: taskID, stop: stop}
	t.run = r
	t.wg.Add(1)
	go t.poll(ctx, r)
}

func (t *Tracker) disarmLocked() {
	if t.run == nil {
		return
	}
	t.run.stop()
	t.run = nil
}

// poll checks the status of r right away and then on every tick until the
// job ends or r is disarmed. Checks never overlap; ticks that fire while one
// is running are dropped.
func (t *Tracker) poll(ctx context.Context, r *run) {
	defer t.wg.Done()
	logger := t.logger.With(zap.String("task_id", r.taskID))
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		st, err := t.fetchStatus(ctx, r.taskID, logger)
		if ctx.Err() != nil {
			t.expireIfDue(ctx, r, logger)
			return
		}
		if done := t.apply(r, st, err, logger); done {
			return
		}
		select {
		case <-ctx.Done():
			t.expireIfDue(ctx, r, logger)
			return
		case <-ticker.C:
		}
	}
}

// fetchStatus performs one status check, retrying transient failures within
// PollRetryWindow.
func (t *Tracker) fetchStatus(ctx context.Context, taskID string, logger *zap.Logger) (*domain.TaskStatus, error) {
	st, err := t.svc.Status(ctx, taskID)
	if err == nil || t.opts.PollRetryWindow <= 0 || !genservice.IsTransient(err) {
		return st, err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = t.opts.PollInterval / 4
	exp.MaxInterval = t.opts.PollInterval
	exp.MaxElapsedTime = t.opts.PollRetryWindow
	exp.Reset()
	b := backoff.WithContext(exp, ctx)

	for {
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return nil, err
		}
		logger.Warn("Status check failed, retrying", zap.Error(err), zap.Duration("backoff", wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		st, err = t.svc.Status(ctx, taskID)
		if err == nil || !genservice.IsTransient(err) {
			return st, err
		}
	}
}

// apply records one status check for r and reports whether polling is over.
func (t *Tracker) apply(r *run, st *domain.TaskStatus, err error, logger *zap.Logger) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run != r {
		logger.Debug("Discarding status for a task no longer tracked")
		return true
	}
	if err != nil {
		logger.Warn("Status check failed", zap.Error(err))
		t.finishLocked(domain.StatusFailed, MsgStatusCheckFailed)
		return true
	}

	t.state.Progress = int(math.Round(st.Progress))
	switch st.Status {
	case domain.StatusCompleted:
		res, derr := model.DecodeResult(st.Result)
		if derr != nil {
			logger.Warn("Completed task returned an unusable result", zap.Error(derr))
			t.finishLocked(domain.StatusFailed, MsgStatusCheckFailed)
			return true
		}
		t.state.Result = res
		if res != nil {
			t.state.ResultKind = res.Kind()
		}
		logger.Info("Generation completed")
		t.finishLocked(domain.StatusCompleted, "")
		return true
	case domain.StatusFailed:
		msg := st.Error
		if msg == "" {
			msg = MsgGenerationFailed
		}
		logger.Info("Generation failed", zap.String("error", msg))
		t.finishLocked(domain.StatusFailed, msg)
		return true
	case domain.StatusCancelled:
		logger.Info("Generation cancelled by the service")
		t.finishLocked(domain.StatusCancelled, MsgCancelled)
		return true
	}

	if st.Status != "" {
		if !st.Status.Known() {
			logger.Debug("Service reported an intermediate step", zap.String("step", string(st.Status)), zap.Float64("progress", st.Progress))
		}
		t.state.Status = st.Status
	}
	t.publishLocked()
	return false
}

// expireIfDue fails r when its poller stopped because MaxDuration elapsed,
// and tells the service to stop working on it.
func (t *Tracker) expireIfDue(ctx context.Context, r *run, logger *zap.Logger) {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return
	}
	t.mu.Lock()
	if t.run != r {
		t.mu.Unlock()
		return
	}
	logger.Warn("Generation exceeded its time budget", zap.Duration("max_duration", t.opts.MaxDuration))
	t.finishLocked(domain.StatusFailed, MsgTimedOut)
	t.mu.Unlock()
	t.abandon(r.taskID)
}

// abandon asks the service to cancel a task nobody tracks any more.
func (t *Tracker) abandon(taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultCancelTimeout)
	defer cancel()
	if err := t.svc.Cancel(ctx, taskID); err != nil {
		t.logger.Debug("Cancel of abandoned task failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

func (t *Tracker) finishLocked(status domain.Status, msg string) {
	t.disarmLocked()
	t.state.TaskID = ""
	t.state.IsGenerating = false
	t.state.Status = status
	t.state.Error = msg
	if status != domain.StatusCompleted {
		t.state.Result = nil
		t.state.ResultKind = ""
	}
	t.publishLocked()
}

func (t *Tracker) publishLocked() {
	t.state.UpdatedAt = time.Now()
	for _, ch := range t.subs {
		select {
		case ch <- t.state:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- t.state
		}
	}
}

func messageOr(err error, fallback string) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}
