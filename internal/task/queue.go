package task

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/quizmaster/internal/telemetry"
)

const (
	defaultPoolSize  = 100
	defaultSoftLimit = 5 * time.Minute
	defaultHardLimit = 10 * time.Minute
	defaultRetention = 24 * time.Hour
)

var ErrHardTimeLimit = stderrors.New("task: hard time limit exceeded")

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusProgress Status = "PROGRESS"
	StatusSuccess  Status = "SUCCESS"
	StatusError    Status = "ERROR"
)

// Task is a named unit of work carrying JSON encoded arguments.
type Task struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Decode unmarshals the task arguments into v.
func (t Task) Decode(v any) error {
	if len(t.Args) == 0 {
		return nil
	}

	if err := json.Unmarshal(t.Args, v); err != nil {
		return fmt.Errorf("decode %s args: %w", t.Name, err)
	}

	return nil
}

// Reporter lets a running handler publish progress on its status record.
type Reporter interface {
	Progress(meta any)
}

type Handler func(ctx context.Context, t Task, r Reporter) (any, error)

// Record is the status of a submitted task.
type Record struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	Meta       any       `json:"meta,omitempty"`
	Result     any       `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

type Config struct {
	// PoolSize bounds the number of tasks running at the same time.
	PoolSize int
	// SoftLimit is the deadline of the context passed to handlers.
	SoftLimit time.Duration
	// HardLimit is how long the queue waits for a handler before marking the task failed.
	HardLimit time.Duration
	// Retention is how long finished records are kept for status queries.
	Retention time.Duration
}

// Queue is an in-memory task queue running handlers on a bounded goroutine pool.
type Queue struct {
	pool      chan struct{}
	wg        *sync.WaitGroup
	soft      time.Duration
	hard      time.Duration
	retention time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler

	recordsMu sync.Mutex
	records   map[string]*Record
}

// NewQueue creates a new task queue. Caller should call Stop for graceful shutdown the queue.
func NewQueue(c Config) *Queue {
	q := &Queue{
		pool:      make(chan struct{}, orDefault(c.PoolSize, defaultPoolSize)),
		wg:        new(sync.WaitGroup),
		soft:      orDefault(c.SoftLimit, defaultSoftLimit),
		hard:      orDefault(c.HardLimit, defaultHardLimit),
		retention: orDefault(c.Retention, defaultRetention),
		handlers:  make(map[string]Handler),
		records:   make(map[string]*Record),
	}

	return q
}

// Register the handler of a task name, replacing any previous one.
func (q *Queue) Register(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[name] = h
}

// Enqueue submits a new task and returns its ID without waiting for it to run.
func (q *Queue) Enqueue(ctx context.Context, name string, args any) (string, error) {
	t, err := NewTask(name, args)
	if err != nil {
		return "", err
	}

	return t.ID, q.Submit(ctx, t)
}

// Submit runs an already identified task, as received from a broker.
func (q *Queue) Submit(ctx context.Context, t Task) error {
	q.mu.RLock()
	h, ok := q.handlers[t.Name]
	q.mu.RUnlock()

	if !ok {
		return fmt.Errorf("task: no handler registered for %q", t.Name)
	}

	q.track(t)
	q.dispatch(ctx, h, t)
	return nil
}

// Status returns a copy of the record of a task.
func (q *Queue) Status(id string) (Record, bool) {
	q.recordsMu.Lock()
	defer q.recordsMu.Unlock()

	r, ok := q.records[id]
	if !ok {
		return Record{}, false
	}

	return *r, true
}

// Stop waits for all running tasks to finish
func (q *Queue) Stop() {
	q.wg.Wait()
}

func (q *Queue) dispatch(ctx context.Context, h Handler, t Task) {
	q.wg.Add(1)

	q.pool <- struct{}{}

	go func() {
		defer func() {
			<-q.pool
			q.wg.Done()
		}()

		q.run(ctx, h, t)
	}()
}

type outcome struct {
	result any
	err    error
}

func (q *Queue) run(ctx context.Context, h Handler, t Task) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.soft)
	defer cancel()

	start := time.Now()
	q.update(t.ID, func(r *Record) { r.StartedAt = start })

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("task: handler panic: %v, stack: %s", r, debug.Stack())}
			}
		}()

		res, err := h(ctx, t, reporter{q: q, id: t.ID})
		done <- outcome{result: res, err: err}
	}()

	timer := time.NewTimer(q.hard)
	defer timer.Stop()

	var o outcome
	select {
	case o = <-done:
	case <-timer.C:
		o = outcome{err: ErrHardTimeLimit}
	}

	status := StatusSuccess
	if o.err != nil {
		status = StatusError
		slog.ErrorContext(ctx, "task: handle task failed",
			"task", t.Name,
			"id", t.ID,
			"error", o.err,
		)
	}

	q.update(t.ID, func(r *Record) {
		r.Status = status
		r.Result = o.result
		r.FinishedAt = time.Now()
		if o.err != nil {
			r.Error = o.err.Error()
		}
	})

	telemetry.ObserveTask(t.Name, string(status), time.Since(start))
}

func (q *Queue) track(t Task) {
	q.recordsMu.Lock()
	defer q.recordsMu.Unlock()

	now := time.Now()
	for id, r := range q.records {
		if !r.FinishedAt.IsZero() && now.Sub(r.FinishedAt) > q.retention {
			delete(q.records, id)
		}
	}

	q.records[t.ID] = &Record{
		ID:         t.ID,
		Name:       t.Name,
		Status:     StatusPending,
		EnqueuedAt: now,
	}
}

func (q *Queue) update(id string, fn func(r *Record)) {
	q.recordsMu.Lock()
	defer q.recordsMu.Unlock()

	if r, ok := q.records[id]; ok {
		fn(r)
	}
}

type reporter struct {
	q  *Queue
	id string
}

func (r reporter) Progress(meta any) {
	r.q.update(r.id, func(rec *Record) {
		if !rec.FinishedAt.IsZero() {
			return
		}
		rec.Status = StatusProgress
		rec.Meta = meta
	})
}

// NewTask builds a task with a fresh ID and the JSON encoding of args.
func NewTask(name string, args any) (Task, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Task{}, fmt.Errorf("generate task ID: %w", err)
	}

	b, err := json.Marshal(args)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s args: %w", name, err)
	}

	return Task{ID: id.String(), Name: name, Args: b}, nil
}

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
