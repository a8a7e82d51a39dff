package transcode

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/zsiec/refract/internal/codec"
	"github.com/zsiec/refract/internal/format"
)

func TestErrorFormatAndMatching(t *testing.T) {
	t.Parallel()
	cause := errors.New("no muxer")
	err := error(&Error{Kind: KindUnsupportedFormat, Stage: StateOpenMuxer, Err: cause})

	if got, want := err.Error(), "transcode: open_muxer: unsupported format: no muxer"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Error("kind sentinel does not match")
	}
	if errors.Is(err, ErrStreamNotFound) {
		t.Error("other kind matches")
	}
	if !errors.Is(err, cause) {
		t.Error("cause not unwrapped")
	}
	wrapped := fmt.Errorf("job 7: %w", err)
	var te *Error
	if !errors.As(wrapped, &te) || te.Stage != StateOpenMuxer {
		t.Errorf("errors.As through wrapping: %v", te)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want Kind
	}{
		{fmt.Errorf("x: %w", codec.ErrUnavailable), KindCodecUnavailable},
		{fmt.Errorf("x: %w", format.ErrUnsupported), KindUnsupportedFormat},
		{fmt.Errorf("x: %w", ErrNeedMoreData), KindNeedsMoreData},
		{&Error{Kind: KindAborted}, KindAborted},
		{errors.New("decoder exploded"), KindCodecError},
	}
	for _, tt := range tests {
		if got := classify(tt.err, KindCodecError); got != tt.want {
			t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestNewErrorKeepsExisting(t *testing.T) {
	t.Parallel()
	orig := &Error{Kind: KindStreamNotFound, Stage: StateValidateSelection}
	if got := newError(KindCodecError, StateMux, fmt.Errorf("wrap: %w", orig)); got != orig {
		t.Errorf("got %v, want the original error", got)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	if StateCreateOutputStreams.String() != "create_output_streams" || StateFailed.String() != "failed" {
		t.Error("state names")
	}
	if State(99).String() != "state(99)" {
		t.Errorf("unknown state: %s", State(99))
	}
	if !StateDone.Terminal() || StateMux.Terminal() {
		t.Error("Terminal")
	}
}

func TestReleaseStackOrder(t *testing.T) {
	t.Parallel()
	var order []string
	var r releaseStack
	for _, name := range []string{"demuxer", "decoder", "muxer", "encoder"} {
		r.push(name, func() error {
			order = append(order, name)
			if name == "muxer" {
				return errors.New("close failed")
			}
			return nil
		})
	}
	log := discardLogger()
	r.release(log)
	r.release(log)
	want := []string{"encoder", "muxer", "decoder", "demuxer"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("order: got %v, want %v", order, want)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
