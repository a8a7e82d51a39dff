package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/refract/internal/ingest"
)

// DefaultDialTimeout bounds the synchronous part of Pull.
const DefaultDialTimeout = 10 * time.Second

// ErrPullActive is returned by Pull when the stream key is already pulled.
var ErrPullActive = errors.New("srt: pull already active")

// PullRequest describes a remote SRT source to pull from.
type PullRequest struct {
	Address   string `json:"address" yaml:"address"`
	StreamKey string `json:"streamKey" yaml:"stream_key"`
	StreamID  string `json:"streamId,omitempty" yaml:"stream_id"`
}

// Validate checks the required fields.
func (r PullRequest) Validate() error {
	if r.Address == "" {
		return errors.New("srt: address is required")
	}
	if r.StreamKey == "" {
		return errors.New("srt: streamKey is required")
	}
	return nil
}

func (r PullRequest) streamID() string {
	if r.StreamID != "" {
		return r.StreamID
	}
	return "live/" + r.StreamKey
}

// Dialer opens a caller-mode connection to addr, announcing streamID.
type Dialer func(ctx context.Context, addr, streamID string, latency time.Duration) (io.ReadCloser, error)

// DialSRT is the Dialer used by default. srtgo.Dial does not take a
// context, so a dial that completes after ctx ends is closed in the
// background.
func DialSRT(ctx context.Context, addr, streamID string, latency time.Duration) (io.ReadCloser, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latency
	cfg.StreamID = streamID

	type result struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := srtgo.Dial(addr, cfg)
		ch <- result{conn, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.conn, nil
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// CallerOption configures a Caller.
type CallerOption func(*Caller)

// WithDialer replaces DialSRT.
func WithDialer(d Dialer) CallerOption {
	return func(c *Caller) { c.dial = d }
}

// WithDialTimeout replaces DefaultDialTimeout.
func WithDialTimeout(d time.Duration) CallerOption {
	return func(c *Caller) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

type pull struct {
	req    PullRequest
	cancel context.CancelFunc
	done   chan struct{}
}

// Caller dials remote SRT listeners and feeds what they send into the
// ingest registry, one stream per pull.
type Caller struct {
	log         *slog.Logger
	latency     time.Duration
	dialTimeout time.Duration
	dial        Dialer
	registry    *ingest.Registry

	mu    sync.Mutex
	pulls map[string]*pull
}

// NewCaller creates a Caller that opens pulled streams in registry. A
// non-positive latency uses DefaultLatency. If log is nil, slog.Default()
// is used.
func NewCaller(latency time.Duration, registry *ingest.Registry, log *slog.Logger, opts ...CallerOption) *Caller {
	if log == nil {
		log = slog.Default()
	}
	if latency <= 0 {
		latency = DefaultLatency
	}
	c := &Caller{
		log:         log.With("component", "srt-caller"),
		latency:     latency,
		dialTimeout: DefaultDialTimeout,
		dial:        DialSRT,
		registry:    registry,
		pulls:       make(map[string]*pull),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Pull dials req.Address and returns once the connection is up or has
// failed. The pull then runs in the background until Stop, the end of ctx
// or the remote end closing.
func (c *Caller) Pull(ctx context.Context, req PullRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	// Reserve the key for the duration of the dial.
	p := &pull{req: req, done: make(chan struct{})}
	c.mu.Lock()
	if _, busy := c.pulls[req.StreamKey]; busy {
		c.mu.Unlock()
		return fmt.Errorf("%w for stream key %q", ErrPullActive, req.StreamKey)
	}
	c.pulls[req.StreamKey] = p
	c.mu.Unlock()

	c.log.Info("dialing", "address", req.Address, "stream_key", req.StreamKey)
	conn, st, err := c.connect(ctx, req)
	if err != nil {
		c.forget(p)
		close(p.done)
		return err
	}

	pullCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	p.cancel = cancel
	c.mu.Unlock()

	c.log.Info("connected", "address", req.Address, "stream_key", req.StreamKey)
	go func() {
		defer close(p.done)
		defer c.forget(p)
		defer cancel()
		receive(pullCtx, c.log, conn, st)
		c.log.Info("pull ended", "stream_key", req.StreamKey)
	}()
	return nil
}

func (c *Caller) connect(ctx context.Context, req PullRequest) (io.ReadCloser, *ingest.Stream, error) {
	dctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, err := c.dial(dctx, req.Address, req.streamID(), c.latency)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil, fmt.Errorf("srt: dial %s timed out after %s", req.Address, c.dialTimeout)
		}
		return nil, nil, fmt.Errorf("srt: dial %s: %w", req.Address, err)
	}
	st, err := c.registry.Open(ingest.Source{
		Key:        req.StreamKey,
		Kind:       ingest.SourceSRTPull,
		Format:     inputFormat,
		RemoteAddr: req.Address,
	})
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, st, nil
}

func (c *Caller) forget(p *pull) {
	c.mu.Lock()
	if c.pulls[p.req.StreamKey] == p {
		delete(c.pulls, p.req.StreamKey)
	}
	c.mu.Unlock()
}

// Stop cancels the pull for streamKey and waits for it to wind down.
func (c *Caller) Stop(streamKey string) error {
	c.mu.Lock()
	p, ok := c.pulls[streamKey]
	var cancel context.CancelFunc
	if ok {
		cancel = p.cancel
	}
	c.mu.Unlock()

	if !ok || cancel == nil {
		return fmt.Errorf("srt: no active pull for stream key %q", streamKey)
	}
	cancel()
	<-p.done
	return nil
}

// StopAll cancels every active pull without waiting.
func (c *Caller) StopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pulls {
		if p.cancel != nil {
			p.cancel()
		}
	}
}

// ActivePulls lists the connected pulls ordered by stream key.
func (c *Caller) ActivePulls() []PullRequest {
	c.mu.Lock()
	out := make([]PullRequest, 0, len(c.pulls))
	for _, p := range c.pulls {
		if p.cancel != nil {
			out = append(out, p.req)
		}
	}
	c.mu.Unlock()
	slices.SortFunc(out, func(a, b PullRequest) int { return strings.Compare(a.StreamKey, b.StreamKey) })
	return out
}
