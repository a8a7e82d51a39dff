// Package jobs tracks the lifecycle of transcode jobs started by the API
// and by SRT ingest, providing create/get/list/abort operations.
package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/refract/internal/pipeline"
	"github.com/zsiec/refract/internal/transcode"
)

// DefaultHistory is the number of finished jobs kept for inspection.
const DefaultHistory = 100

// StatePending is reported before a job's transcoder exists.
const StatePending = "pending"

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = errors.New("jobs: job not found")

// ActivityObserver is told when jobs start and end running.
type ActivityObserver interface {
	JobStarted()
	JobFinished()
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder sets the recorder every job reports to.
func WithRecorder(rec transcode.StatsRecorder) Option {
	return func(m *Manager) { m.rec = rec }
}

// WithActivityObserver sets an observer of running jobs.
func WithActivityObserver(o ActivityObserver) Option {
	return func(m *Manager) { m.activity = o }
}

// WithHistory sets how many finished jobs are kept.
func WithHistory(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.history = n
		}
	}
}

// Snapshot is a point-in-time view of a job.
type Snapshot struct {
	ID        string              `json:"id"`
	Source    string              `json:"source"`
	Key       string              `json:"key,omitempty"`
	State     string              `json:"state"`
	Stats     transcode.Stats     `json:"stats"`
	Streams   []transcode.Binding `json:"streams,omitempty"`
	Pipeline  pipeline.Snapshot   `json:"pipeline"`
	Started   time.Time           `json:"started"`
	Ended     *time.Time          `json:"ended,omitempty"`
	Error     string              `json:"error,omitempty"`
	ErrorKind string              `json:"errorKind,omitempty"`
}

// Job is one tracked transcode.
type Job struct {
	ID      string
	Source  string
	Key     string
	Started time.Time

	m      *Manager
	cfg    transcode.Config
	opts   []pipeline.Option
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	ran    atomic.Bool

	tj atomic.Pointer[transcode.Job]
	pl *pipeline.Pipeline

	mu    sync.Mutex
	ended time.Time
	err   error
}

// Manager owns the set of known jobs.
type Manager struct {
	base     *slog.Logger
	log      *slog.Logger
	rec      transcode.StatsRecorder
	activity ActivityObserver
	history  int

	mu       sync.RWMutex
	jobs     map[string]*Job
	finished []string // ids of finished jobs, oldest first
}

// NewManager creates a job manager. If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		base:    log,
		log:     log.With("component", "jobs"),
		history: DefaultHistory,
		jobs:    make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a job that will transcode with cfg. It does nothing
// until Run.
func (m *Manager) Create(source, key string, cfg transcode.Config, opts ...pipeline.Option) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:      uuid.New().String(),
		Source:  source,
		Key:     key,
		Started: time.Now(),
		m:       m,
		cfg:     cfg,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	m.jobs[j.ID] = j
	m.mu.Unlock()

	m.log.Info("job created", "id", j.ID, "source", source, "key", key)
	return j
}

// Get returns the job with id.
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return j, ok
}

// List returns snapshots of every known job, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(a, b int) bool { return jobs[a].Started.Before(jobs[b].Started) })
	out := make([]Snapshot, len(jobs))
	for i, j := range jobs {
		out[i] = j.Snapshot()
	}
	return out
}

// Abort cancels the job with id. The job's Run returns once the
// transcoder has been aborted.
func (m *Manager) Abort(id string) error {
	j, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	m.log.Info("job abort requested", "id", id)
	j.cancel()
	return nil
}

// AbortAll cancels every job.
func (m *Manager) AbortAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.jobs {
		j.cancel()
	}
}

func (m *Manager) finish(j *Job) {
	m.mu.Lock()
	m.finished = append(m.finished, j.ID)
	for len(m.finished) > m.history {
		delete(m.jobs, m.finished[0])
		m.finished = m.finished[1:]
	}
	m.mu.Unlock()
}

// Run transcodes r into w and blocks until the job ends. It returns the
// pipeline's error. Run may be called once.
func (j *Job) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	if !j.ran.CompareAndSwap(false, true) {
		return errors.New("jobs: job already run")
	}
	defer close(j.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(j.ctx, cancel)
	defer stop()

	jobOpts := []transcode.Option{transcode.WithID(j.ID)}
	if j.m.rec != nil {
		jobOpts = append(jobOpts, transcode.WithStats(j.m.rec))
	}
	opts := append([]pipeline.Option{
		pipeline.WithLogger(j.m.base),
		pipeline.WithJobOptions(jobOpts...),
		pipeline.OnStart(func(tj *transcode.Job) { j.tj.Store(tj) }),
	}, j.opts...)
	j.mu.Lock()
	j.pl = pipeline.New(j.cfg, opts...)
	pl := j.pl
	j.mu.Unlock()

	if j.m.activity != nil {
		j.m.activity.JobStarted()
		defer j.m.activity.JobFinished()
	}

	err := pl.Run(ctx, r, w)

	j.mu.Lock()
	j.ended = time.Now()
	j.err = err
	j.mu.Unlock()
	j.cancel()
	j.m.finish(j)

	if err != nil {
		j.m.log.Info("job ended", "id", j.ID, "error", err)
	} else {
		j.m.log.Info("job ended", "id", j.ID, "elapsed", j.ended.Sub(j.Started))
	}
	return err
}

// Done is closed when Run returns.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Err returns the error Run returned, if it has returned.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Transcoder returns the underlying job once Run has created it.
func (j *Job) Transcoder() *transcode.Job {
	return j.tj.Load()
}

// Snapshot returns the job's current view.
func (j *Job) Snapshot() Snapshot {
	s := Snapshot{
		ID:      j.ID,
		Source:  j.Source,
		Key:     j.Key,
		State:   StatePending,
		Started: j.Started,
	}
	if tj := j.tj.Load(); tj != nil {
		s.State = tj.State().String()
		s.Stats = tj.Stats()
		s.Streams = tj.Streams()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.pl != nil {
		s.Pipeline = j.pl.Snapshot()
	}
	if !j.ended.IsZero() {
		ended := j.ended
		s.Ended = &ended
	}
	if j.err != nil {
		s.Error = j.err.Error()
		var te *transcode.Error
		if errors.As(j.err, &te) {
			s.ErrorKind = te.Kind.Label()
		} else if errors.Is(j.err, context.Canceled) {
			s.ErrorKind = transcode.KindAborted.Label()
		}
	}
	return s
}
