package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/refract/internal/mpegts"
)

// pushChunk is seven transport packets, the usual SRT payload.
const pushChunk = mpegts.PacketSize * 7

func runPush(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("push", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:6000", "SRT listener address")
	key := fs.String("key", "", "stream key (default: file name without extension)")
	rate := fs.Int("rate", 0, "send rate in bytes per second, 0 sends as fast as possible")
	loop := fs.Bool("loop", false, "repeat the file until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("push: expected one TS file, got %d arguments", fs.NArg())
	}
	path := fs.Arg(0)

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data)%mpegts.PacketSize != 0 {
		slog.Warn("file size is not a multiple of the TS packet size", "file", path, "size", len(data))
	}

	streamID := *key
	if streamID == "" {
		base := filepath.Base(path)
		streamID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if !strings.Contains(streamID, "/") {
		streamID = "live/" + streamID
	}

	cfg := srtgo.DefaultConfig()
	cfg.StreamID = streamID
	conn, err := srtgo.Dial(*addr, cfg)
	if err != nil {
		return fmt.Errorf("push: dial %s: %w", *addr, err)
	}
	defer conn.Close()
	slog.Info("pushing", "file", path, "addr", *addr, "stream_id", streamID, "bytes", len(data))

	for {
		sent, err := pace(ctx, conn, data, *rate, pushChunk)
		if err != nil {
			return fmt.Errorf("push: after %d bytes: %w", sent, err)
		}
		if !*loop || ctx.Err() != nil {
			return nil
		}
	}
}

// pace writes data to w in chunks of chunkSize, sleeping to hold
// bytesPerSec when it is positive. It returns the bytes written.
func pace(ctx context.Context, w io.Writer, data []byte, bytesPerSec, chunkSize int) (int64, error) {
	start := time.Now()
	var sent int64
	for i := 0; i < len(data); i += chunkSize {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		end := min(i+chunkSize, len(data))
		n, err := w.Write(data[i:end])
		sent += int64(n)
		if err != nil {
			return sent, err
		}
		if bytesPerSec <= 0 {
			continue
		}
		// Pace against the start time so sleeps don't accumulate drift.
		expected := time.Duration(float64(sent) / float64(bytesPerSec) * float64(time.Second))
		if wait := expected - time.Since(start); wait > 0 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return sent, nil
}
