package srt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/refract/internal/ingest"
)

// Server accepts SRT publish connections and opens an ingest stream for
// each.
type Server struct {
	log      *slog.Logger
	addr     string
	latency  time.Duration
	registry *ingest.Registry
}

// NewServer creates an SRT server that listens on addr. A non-positive
// latency uses DefaultLatency. If log is nil, slog.Default() is used.
func NewServer(addr string, latency time.Duration, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if latency <= 0 {
		latency = DefaultLatency
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		latency:  latency,
		registry: registry,
	}
}

// Start accepts publish connections until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = s.latency

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("srt: listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr, "latency", s.latency)

	// Refuse during the handshake what Open would refuse afterwards.
	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if !s.admit(req.StreamID) {
			return srtgo.RejPeer
		}
		return 0
	})
	context.AfterFunc(ctx, func() { l.Close() })

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		go s.serve(ctx, conn)
	}
}

func (s *Server) admit(streamID string) bool {
	return streamID != "" && !s.registry.Busy(streamKey(streamID))
}

func (s *Server) serve(ctx context.Context, conn *srtgo.Conn) {
	src := ingest.Source{
		Key:        streamKey(conn.StreamID()),
		Kind:       ingest.SourceSRTListener,
		Format:     inputFormat,
		RemoteAddr: conn.RemoteAddr().String(),
	}
	st, err := s.registry.Open(src)
	if err != nil {
		s.log.Warn("rejecting publish", "stream_key", src.Key, "error", err)
		conn.Close()
		return
	}
	s.log.Info("publish", "stream_key", src.Key, "remote", src.RemoteAddr)
	receive(ctx, s.log, conn, st)
}
