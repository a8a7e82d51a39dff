package srt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/zsiec/refract/internal/ingest"
)

// readBufferSize holds ten 1316-byte SRT payloads of seven TS packets each.
const readBufferSize = 1316 * 10

// DefaultLatency is the SRT receive latency when none is configured.
const DefaultLatency = 120 * time.Millisecond

// inputFormat is the container SRT carries.
const inputFormat = "mpegts"

// receive copies conn into st until the peer stops, the consumer stops or
// ctx is cancelled. It closes both ends.
func receive(ctx context.Context, log *slog.Logger, conn io.ReadCloser, st *ingest.Stream) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()
	defer st.Close()

	// Hide any WriterTo so every read goes through buf.
	src := struct{ io.Reader }{conn}
	_, err := io.CopyBuffer(st, src, make([]byte, readBufferSize))
	switch {
	case err == nil, ctx.Err() != nil, errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
	default:
		log.Debug("receive stopped", "stream_key", st.Key, "error", err)
	}
}

// streamKey maps an SRT stream id such as "/live/cam1" to its ingest key.
func streamKey(streamID string) string {
	key := strings.TrimPrefix(streamID, "/")
	key = strings.TrimPrefix(key, "live/")
	if key == "" {
		return "default"
	}
	return key
}
