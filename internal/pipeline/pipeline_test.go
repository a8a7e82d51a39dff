package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/refract/internal/transcode"
	"github.com/zsiec/refract/internal/tstest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tsConfig() transcode.Config {
	cfg := transcode.DefaultConfig()
	cfg.OutputFormat = "mpegts"
	cfg.Audio.Codec = "pcm_bluray"
	cfg.Audio.SampleRate = 48000
	return cfg
}

func TestRun(t *testing.T) {
	t.Parallel()

	input := tstest.AV(t)
	var job *transcode.Job
	p := New(tsConfig(), WithLogger(quietLogger()), OnStart(func(j *transcode.Job) { job = j }))

	var out bytes.Buffer
	if err := p.Run(context.Background(), bytes.NewReader(input), &out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job == nil || job.State() != transcode.StateDone {
		t.Fatalf("job = %v", job)
	}
	if out.Len() == 0 || out.Len()%188 != 0 || out.Bytes()[0] != 0x47 {
		t.Fatalf("output is not a transport stream: %d bytes", out.Len())
	}

	snap := p.Snapshot()
	if snap.BytesRead != int64(len(input)) {
		t.Errorf("BytesRead = %d, want %d", snap.BytesRead, len(input))
	}
	if snap.Written != int64(out.Len()) {
		t.Errorf("Written = %d, want %d", snap.Written, out.Len())
	}
	if st := job.Stats(); st.BytesOut != int64(out.Len()) {
		t.Errorf("job BytesOut = %d, want %d", st.BytesOut, out.Len())
	}
}

func TestRunChunkSizeIndependence(t *testing.T) {
	t.Parallel()

	input := tstest.AV(t)
	var want bytes.Buffer
	if err := New(tsConfig(), WithLogger(quietLogger())).Run(context.Background(), bytes.NewReader(input), &want); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, size := range []int{1, 7, 188, 1000} {
		var got bytes.Buffer
		p := New(tsConfig(), WithLogger(quietLogger()), WithChunkSize(size))
		if err := p.Run(context.Background(), bytes.NewReader(input), &got); err != nil {
			t.Fatalf("chunk %d: Run: %v", size, err)
		}
		if !bytes.Equal(got.Bytes(), want.Bytes()) {
			t.Errorf("chunk %d: output differs (%d vs %d bytes)", size, got.Len(), want.Len())
		}
		if size == 1 && p.Snapshot().Reads != int64(len(input)) {
			t.Errorf("chunk 1: Reads = %d, want %d", p.Snapshot().Reads, len(input))
		}
	}
}

func TestRunUnsupportedInput(t *testing.T) {
	t.Parallel()

	p := New(tsConfig(), WithLogger(quietLogger()))
	err := p.Run(context.Background(), strings.NewReader(strings.Repeat("not a stream ", 100)), io.Discard)

	var te *transcode.Error
	if !errors.As(err, &te) {
		t.Fatalf("Run err = %v, want *transcode.Error", err)
	}
	if te.Kind != transcode.KindUnsupportedFormat {
		t.Errorf("kind = %v, want unsupported format", te.Kind)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := tsConfig()
	cfg.OutputFormat = ""
	if err := New(cfg).Run(context.Background(), strings.NewReader(""), io.Discard); err == nil {
		t.Fatal("Run with invalid config succeeded")
	}
}

func TestRunCancel(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan *transcode.Job, 1)
	p := New(tsConfig(), WithLogger(quietLogger()), OnStart(func(j *transcode.Job) { started <- j }))

	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx, pr, io.Discard) }()

	job := <-started
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if job.State() != transcode.StateFailed || !errors.Is(job.Err(), transcode.ErrAborted) {
		t.Errorf("job state %v err %v", job.State(), job.Err())
	}
}

type failingWriter struct {
	calls int
}

func (w *failingWriter) Write([]byte) (int, error) {
	w.calls++
	return 0, errors.New("disk full")
}

func TestRunWriteError(t *testing.T) {
	t.Parallel()

	var job *transcode.Job
	p := New(tsConfig(), WithLogger(quietLogger()), OnStart(func(j *transcode.Job) { job = j }))
	w := &failingWriter{}
	err := p.Run(context.Background(), bytes.NewReader(tstest.AV(t)), w)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Run err = %v, want write error", err)
	}
	if job.State() != transcode.StateFailed {
		t.Errorf("job state = %v, want failed", job.State())
	}
	if e := job.Err(); e == nil || e.Kind != transcode.KindAborted {
		t.Errorf("job err = %v, want aborted", e)
	}
	if w.calls != 1 {
		t.Errorf("writer called %d times, want 1", w.calls)
	}
}

type errReader struct {
	data []byte
}

func (r *errReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, errors.New("connection reset")
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestRunReadError(t *testing.T) {
	t.Parallel()

	input := tstest.AV(t)
	p := New(tsConfig(), WithLogger(quietLogger()), WithChunkSize(188))
	err := p.Run(context.Background(), &errReader{data: input[:376]}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("Run err = %v, want read error", err)
	}
}
