// Package pipeline drives a transcode job from a blocking reader (a file,
// socket or request body) to a writer, turning reads into pushes while
// collecting telemetry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/refract/internal/transcode"
)

// DefaultChunkSize is the read size used when none is configured.
const DefaultChunkSize = 32 << 10

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default is slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.base = log
		}
	}
}

// WithChunkSize sets the read size. Non-positive values are ignored.
func WithChunkSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithJobOptions passes options through to transcode.New.
func WithJobOptions(opts ...transcode.Option) Option {
	return func(p *Pipeline) {
		p.jobOpts = append(p.jobOpts, opts...)
	}
}

// OnStart registers a function called with the job once it exists, before
// any input is pushed. Only the job's concurrency-safe accessors may be
// used from other goroutines.
func OnStart(fn func(*transcode.Job)) Option {
	return func(p *Pipeline) {
		p.onStart = fn
	}
}

// Snapshot is a point-in-time view of a pipeline.
type Snapshot struct {
	Reads     int64 `json:"reads"`
	BytesRead int64 `json:"bytesRead"`
	Written   int64 `json:"bytesWritten"`
	UptimeMs  int64 `json:"uptimeMs"`
}

// Pipeline runs one transcode from a reader to a writer.
type Pipeline struct {
	base      *slog.Logger
	log       *slog.Logger
	cfg       transcode.Config
	chunkSize int
	jobOpts   []transcode.Option
	onStart   func(*transcode.Job)
	startTime time.Time

	reads     atomic.Int64
	bytesRead atomic.Int64
	written   atomic.Int64
}

// New creates a Pipeline for cfg.
func New(cfg transcode.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		base:      slog.Default(),
		cfg:       cfg,
		chunkSize: DefaultChunkSize,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.base.With("component", "pipeline")
	p.jobOpts = append([]transcode.Option{transcode.WithLogger(p.base)}, p.jobOpts...)
	return p
}

// Snapshot returns the pipeline's I/O counters.
func (p *Pipeline) Snapshot() Snapshot {
	return Snapshot{
		Reads:     p.reads.Load(),
		BytesRead: p.bytesRead.Load(),
		Written:   p.written.Load(),
		UptimeMs:  time.Since(p.startTime).Milliseconds(),
	}
}

type chunk struct {
	data []byte
	err  error
}

// Run transcodes r into w and blocks until the input ends, the job fails,
// w fails or ctx is cancelled.
//
// A failed job returns its *transcode.Error. A write failure or ctx
// cancellation aborts the job. A read blocked in r when Run returns keeps
// its goroutine until r returns; callers should close r.
func (p *Pipeline) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	var (
		job  *transcode.Job
		werr error
	)
	job, err := transcode.New(p.cfg, transcode.Callbacks{
		OnData: func(b []byte) {
			n, err := w.Write(b)
			p.written.Add(int64(n))
			if err != nil {
				werr = err
				job.Abort()
			}
		},
	}, p.jobOpts...)
	if err != nil {
		return err
	}
	if p.onStart != nil {
		p.onStart(job)
	}

	chunks := make(chan chunk)
	stop := make(chan struct{})
	defer close(stop)
	go p.read(r, chunks, stop)

	for {
		select {
		case <-ctx.Done():
			job.Abort()
			return fmt.Errorf("pipeline: %w", ctx.Err())

		case c := <-chunks:
			if len(c.data) > 0 {
				p.reads.Add(1)
				p.bytesRead.Add(int64(len(c.data)))
				if err := job.Push(c.data); err != nil {
					return writeFailure(err, werr)
				}
			}
			if errors.Is(c.err, io.EOF) {
				return p.finish(job, &werr)
			}
			if c.err != nil {
				job.Abort()
				return fmt.Errorf("pipeline: read: %w", c.err)
			}
		}
	}
}

func (p *Pipeline) finish(job *transcode.Job, werr *error) error {
	if err := job.Finish(); err != nil {
		return writeFailure(err, *werr)
	}
	st := job.Stats()
	p.log.Debug("pipeline finished",
		"reads", p.reads.Load(),
		"bytesIn", st.BytesIn,
		"bytesOut", st.BytesOut,
		"elapsed", time.Since(p.startTime))
	return nil
}

// read feeds chunks until r fails or Run returns.
func (p *Pipeline) read(r io.Reader, out chan<- chunk, stop <-chan struct{}) {
	for {
		buf := make([]byte, p.chunkSize)
		n, err := r.Read(buf)
		select {
		case out <- chunk{data: buf[:n], err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// writeFailure reports the write error behind a job aborted by OnData.
func writeFailure(err, werr error) error {
	if werr != nil {
		return fmt.Errorf("pipeline: write: %w", werr)
	}
	return err
}
