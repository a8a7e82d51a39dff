package srt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zsiec/refract/internal/ingest"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is a remote SRT peer backed by a pipe.
type fakeConn struct {
	*io.PipeReader
	closed atomic.Bool
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return c.PipeReader.Close()
}

func pipeDialer(t *testing.T) (Dialer, *io.PipeWriter, *fakeConn) {
	t.Helper()
	pr, pw := io.Pipe()
	conn := &fakeConn{PipeReader: pr}
	d := func(_ context.Context, _, streamID string, latency time.Duration) (io.ReadCloser, error) {
		if latency != DefaultLatency || streamID == "" {
			t.Errorf("dial with latency %v stream id %q", latency, streamID)
		}
		return conn, nil
	}
	t.Cleanup(func() { pw.Close() })
	return d, pw, conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		streamID string
		want     string
	}{
		{"camera1", "camera1"},
		{"/camera1", "camera1"},
		{"live/camera1", "camera1"},
		{"/live/camera1", "camera1"},
		{"", "default"},
		{"/", "default"},
		{"live/", "default"},
		{"studio/camera1", "studio/camera1"},
		{"liveshow", "liveshow"},
	}
	for _, tc := range tests {
		if got := streamKey(tc.streamID); got != tc.want {
			t.Errorf("streamKey(%q) = %q, want %q", tc.streamID, got, tc.want)
		}
	}
}

func TestPullRequest(t *testing.T) {
	t.Parallel()

	if err := (PullRequest{StreamKey: "cam"}).Validate(); err == nil || !strings.Contains(err.Error(), "address") {
		t.Errorf("missing address: %v", err)
	}
	if err := (PullRequest{Address: "10.0.0.1:6000"}).Validate(); err == nil || !strings.Contains(err.Error(), "streamKey") {
		t.Errorf("missing key: %v", err)
	}
	if id := (PullRequest{StreamKey: "cam"}).streamID(); id != "live/cam" {
		t.Errorf("default stream id = %q", id)
	}
	if id := (PullRequest{StreamKey: "cam", StreamID: "#!::r=cam"}).streamID(); id != "#!::r=cam" {
		t.Errorf("explicit stream id = %q", id)
	}
}

func TestCallerPullDeliversData(t *testing.T) {
	t.Parallel()

	got := make(chan string, 1)
	reg := ingest.NewRegistry(func(s *ingest.Stream) {
		data, _ := io.ReadAll(s.Reader())
		got <- string(data)
	}, quiet())
	dial, remote, _ := pipeDialer(t)
	c := NewCaller(0, reg, quiet(), WithDialer(dial))

	req := PullRequest{Address: "10.0.0.5:6000", StreamKey: "cam"}
	if err := c.Pull(context.Background(), req); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if pulls := c.ActivePulls(); len(pulls) != 1 || pulls[0] != req {
		t.Fatalf("ActivePulls = %+v", pulls)
	}
	if err := c.Pull(context.Background(), req); !errors.Is(err, ErrPullActive) {
		t.Fatalf("second Pull err = %v", err)
	}
	st, ok := reg.Get("cam")
	if !ok || st.Source != ingest.SourceSRTPull || st.RemoteAddr != req.Address {
		t.Fatalf("registry stream = %+v, %v", st, ok)
	}

	if _, err := remote.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	remote.Close()

	select {
	case s := <-got:
		if s != "hello" {
			t.Fatalf("handler read %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not finish")
	}
	waitFor(t, func() bool { return len(c.ActivePulls()) == 0 && !reg.Busy("cam") })
}

func TestCallerStop(t *testing.T) {
	t.Parallel()

	reg := ingest.NewRegistry(nil, quiet())
	dial, _, conn := pipeDialer(t)
	c := NewCaller(0, reg, quiet(), WithDialer(dial))

	if err := c.Pull(context.Background(), PullRequest{Address: "a:1", StreamKey: "cam"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop("cam"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !conn.closed.Load() {
		t.Error("connection not closed")
	}
	if len(c.ActivePulls()) != 0 || reg.Busy("cam") {
		t.Error("pull still registered after Stop")
	}
	if err := c.Stop("cam"); err == nil {
		t.Error("second Stop succeeded")
	}
}

func TestCallerContextEndsPull(t *testing.T) {
	t.Parallel()

	reg := ingest.NewRegistry(nil, quiet())
	dial, _, conn := pipeDialer(t)
	c := NewCaller(0, reg, quiet(), WithDialer(dial))

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Pull(ctx, PullRequest{Address: "a:1", StreamKey: "cam"}); err != nil {
		t.Fatal(err)
	}
	cancel()
	waitFor(t, func() bool { return conn.closed.Load() && len(c.ActivePulls()) == 0 })
}

func TestCallerDialFailures(t *testing.T) {
	t.Parallel()

	refused := func(context.Context, string, string, time.Duration) (io.ReadCloser, error) {
		return nil, errors.New("connection refused")
	}
	c := NewCaller(0, ingest.NewRegistry(nil, quiet()), quiet(), WithDialer(refused))
	err := c.Pull(context.Background(), PullRequest{Address: "a:1", StreamKey: "cam"})
	if err == nil || !strings.Contains(err.Error(), "refused") {
		t.Fatalf("Pull err = %v", err)
	}
	if len(c.ActivePulls()) != 0 {
		t.Fatal("failed pull left registered")
	}

	hang := func(ctx context.Context, _, _ string, _ time.Duration) (io.ReadCloser, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c = NewCaller(0, ingest.NewRegistry(nil, quiet()), quiet(), WithDialer(hang), WithDialTimeout(20*time.Millisecond))
	err = c.Pull(context.Background(), PullRequest{Address: "a:1", StreamKey: "cam"})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("Pull err = %v, want timeout", err)
	}
}

func TestCallerKeyBusyInRegistry(t *testing.T) {
	t.Parallel()

	reg := ingest.NewRegistry(nil, quiet())
	held, err := reg.Open(ingest.Source{Key: "cam", Kind: ingest.SourceSRTListener})
	if err != nil {
		t.Fatal(err)
	}
	defer held.Close()

	dial, _, conn := pipeDialer(t)
	c := NewCaller(0, reg, quiet(), WithDialer(dial))
	err = c.Pull(context.Background(), PullRequest{Address: "a:1", StreamKey: "cam"})
	if !errors.Is(err, ingest.ErrDuplicateKey) {
		t.Fatalf("Pull err = %v", err)
	}
	if !conn.closed.Load() {
		t.Error("connection not closed after rejection")
	}
}

func TestServerAdmit(t *testing.T) {
	t.Parallel()

	reg := ingest.NewRegistry(nil, quiet())
	s := NewServer(":0", 250*time.Millisecond, reg, quiet())
	if s.latency != 250*time.Millisecond {
		t.Errorf("latency = %v", s.latency)
	}
	if NewServer(":0", 0, reg, nil).latency != DefaultLatency {
		t.Error("default latency not applied")
	}

	if s.admit("") {
		t.Error("admitted empty stream id")
	}
	if !s.admit("/live/cam") {
		t.Error("rejected free key")
	}
	st, _ := reg.Open(ingest.Source{Key: "cam"})
	defer st.Close()
	if s.admit("live/cam") {
		t.Error("admitted busy key")
	}
}

func TestReceiveStopsWhenConsumerQuits(t *testing.T) {
	t.Parallel()

	reg := ingest.NewRegistry(func(s *ingest.Stream) {
		buf := make([]byte, 3)
		_, _ = io.ReadFull(s.Reader(), buf)
		s.CloseWithError(errors.New("job failed"))
	}, quiet())
	st, err := reg.Open(ingest.Source{Key: "cam"})
	if err != nil {
		t.Fatal(err)
	}

	pr, pw := io.Pipe()
	conn := &fakeConn{PipeReader: pr}
	go func() {
		for {
			if _, err := pw.Write([]byte("abcdef")); err != nil {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		receive(context.Background(), quiet(), conn, st)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not return")
	}
	if !conn.closed.Load() || reg.Busy("cam") {
		t.Error("receive left the connection or stream open")
	}
}
