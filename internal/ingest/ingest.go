// Package ingest tracks the network streams being received and hands each
// one to a consumer, normally a transcode job.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDuplicateKey is returned by Open when the key is already active.
var ErrDuplicateKey = errors.New("ingest: stream key already active")

// Ingest sources.
const (
	SourceSRTListener = "srt-listener"
	SourceSRTPull     = "srt-pull"
)

// Source identifies an incoming stream.
type Source struct {
	Key        string
	Kind       string // SourceSRTListener or SourceSRTPull
	Format     string // demuxer name, empty to probe
	RemoteAddr string
}

// Stats is a snapshot of one stream.
type Stats struct {
	Key           string `json:"key"`
	Source        string `json:"source"`
	Format        string `json:"format"`
	RemoteAddr    string `json:"remoteAddr"`
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
}

// Stream is an open ingest stream. The receiver writes what it reads from
// the network; the consumer reads it back through Reader. Writes block
// until the consumer catches up.
type Stream struct {
	Key        string
	Source     string
	Format     string
	RemoteAddr string
	StartedAt  time.Time

	reg       *Registry
	pr        *io.PipeReader
	pw        *io.PipeWriter
	done      chan struct{}
	closeOnce sync.Once

	bytes  atomic.Int64
	writes atomic.Int64
}

// Write forwards p to the consumer and counts it.
func (s *Stream) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	s.bytes.Add(int64(len(p)))
	s.writes.Add(1)
	return s.pw.Write(p)
}

// Close ends the stream: the consumer sees io.EOF after the data already
// written, and the key is released. Close is idempotent.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.pw.Close()
		close(s.done)
		s.reg.release(s)
	})
	return nil
}

// Reader returns the consuming side of the stream.
func (s *Stream) Reader() io.Reader { return s.pr }

// CloseWithError stops the stream from the consuming side. The receiver's
// next Write fails with err.
func (s *Stream) CloseWithError(err error) {
	s.pr.CloseWithError(err)
}

// Done is closed by Close.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Stats returns a snapshot of the stream counters.
func (s *Stream) Stats() Stats {
	return Stats{
		Key:           s.Key,
		Source:        s.Source,
		Format:        s.Format,
		RemoteAddr:    s.RemoteAddr,
		BytesReceived: s.bytes.Load(),
		ReadCount:     s.writes.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
	}
}

// Handler consumes a newly opened stream on its own goroutine. It should
// read s.Reader until io.EOF.
type Handler func(s *Stream)

// Registry holds the open streams by key and starts the handler for each.
type Registry struct {
	log     *slog.Logger
	handler Handler

	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewRegistry creates a Registry. A nil handler leaves streams unconsumed.
// If log is nil, slog.Default() is used.
func NewRegistry(handler Handler, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:     log.With("component", "ingest"),
		handler: handler,
		streams: make(map[string]*Stream),
	}
}

// Open registers src and starts its handler. The caller must Close the
// returned stream.
func (r *Registry) Open(src Source) (*Stream, error) {
	if src.Key == "" {
		return nil, errors.New("ingest: empty stream key")
	}
	pr, pw := io.Pipe()
	s := &Stream{
		Key:        src.Key,
		Source:     src.Kind,
		Format:     src.Format,
		RemoteAddr: src.RemoteAddr,
		StartedAt:  time.Now(),
		reg:        r,
		pr:         pr,
		pw:         pw,
		done:       make(chan struct{}),
	}

	r.mu.Lock()
	if _, busy := r.streams[src.Key]; busy {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, src.Key)
	}
	r.streams[src.Key] = s
	r.mu.Unlock()

	r.log.Info("stream opened", "key", src.Key, "source", src.Kind, "remote", src.RemoteAddr)
	if r.handler != nil {
		go r.handler(s)
	}
	return s, nil
}

func (r *Registry) release(s *Stream) {
	r.mu.Lock()
	if r.streams[s.Key] == s {
		delete(r.streams, s.Key)
	}
	r.mu.Unlock()
	st := s.Stats()
	r.log.Info("stream closed", "key", s.Key, "bytes", st.BytesReceived, "uptime_ms", st.UptimeMs)
}

// Busy reports whether key is open.
func (r *Registry) Busy(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.streams[key]
	return ok
}

// Get returns the open stream for key.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// List returns the stats of every open stream ordered by key.
func (r *Registry) List() []Stats {
	r.mu.RLock()
	out := make([]Stats, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s.Stats())
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Stats) int { return strings.Compare(a.Key, b.Key) })
	return out
}
