// Package server implements the refract HTTP API, served over HTTPS and
// HTTP/3 from the same router.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/zsiec/refract/internal/certs"
	"github.com/zsiec/refract/internal/codec"
	"github.com/zsiec/refract/internal/format"
	"github.com/zsiec/refract/internal/ingest"
	"github.com/zsiec/refract/internal/ingest/srt"
	"github.com/zsiec/refract/internal/jobs"
	"github.com/zsiec/refract/internal/metrics"
	"github.com/zsiec/refract/internal/transcode"
)

// shutdownTimeout bounds graceful shutdown of the HTTPS listener.
const shutdownTimeout = 5 * time.Second

// SRTPuller manages SRT caller-mode pulls. *srt.Caller implements it.
type SRTPuller interface {
	Pull(ctx context.Context, req srt.PullRequest) error
	Stop(streamKey string) error
	ActivePulls() []srt.PullRequest
}

// Config holds the server's listeners and collaborators.
type Config struct {
	HTTPSAddr string
	H3Addr    string // empty disables HTTP/3
	Cert      *certs.CertInfo

	// MaxJobs caps concurrent POST /api/transcode requests.
	MaxJobs int
	// Transcode is the base configuration of API transcodes.
	Transcode transcode.Config

	Jobs    *jobs.Manager
	Formats *format.Registry // default transcode.DefaultFormats
	Codecs  *codec.Registry  // default codec.DefaultRegistry

	Metrics  *metrics.Metrics    // optional
	Gatherer prometheus.Gatherer // serves /metrics when set

	SRT    SRTPuller        // optional
	Ingest *ingest.Registry // optional

	Log *slog.Logger
}

// Server is the HTTPS and HTTP/3 API server.
type Server struct {
	cfg    Config
	log    *slog.Logger
	sem    *semaphore.Weighted
	altSvc string
	router *mux.Router

	// ctx outlives requests; SRT pulls started over the API use it.
	ctx context.Context
}

// NewServer validates cfg and builds the router.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Jobs == nil {
		return nil, errors.New("server: Jobs is required")
	}
	if cfg.MaxJobs < 1 {
		return nil, fmt.Errorf("server: MaxJobs must be positive, got %d", cfg.MaxJobs)
	}
	if cfg.Formats == nil {
		cfg.Formats = transcode.DefaultFormats()
	}
	if cfg.Codecs == nil {
		cfg.Codecs = codec.DefaultRegistry()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	s := &Server{
		cfg: cfg,
		log: cfg.Log.With("component", "server"),
		sem: semaphore.NewWeighted(int64(cfg.MaxJobs)),
		ctx: context.Background(),
	}
	if cfg.H3Addr != "" {
		_, port, err := net.SplitHostPort(cfg.H3Addr)
		if err != nil {
			return nil, fmt.Errorf("server: h3 address: %w", err)
		}
		s.altSvc = fmt.Sprintf(`h3=":%s"; ma=86400`, port)
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	if s.cfg.Metrics != nil {
		r.Use(s.cfg.Metrics.Middleware)
	}
	r.Use(corsMiddleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.cfg.Gatherer)).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/formats", s.handleFormats).Methods(http.MethodGet)
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleAbortJob).Methods(http.MethodDelete)
	api.HandleFunc("/transcode", s.handleTranscode).Methods(http.MethodPost)
	api.HandleFunc("/ingest", s.handleListIngest).Methods(http.MethodGet)
	api.HandleFunc("/srt-pull", s.handleSRTPullList).Methods(http.MethodGet)
	api.HandleFunc("/srt-pull", s.withPuller(s.handleSRTPullCreate)).Methods(http.MethodPost)
	api.HandleFunc("/srt-pull", s.withPuller(s.handleSRTPullStop)).Methods(http.MethodDelete)
	api.HandleFunc("/srt-pull", s.handleSRTPullOptions).Methods(http.MethodOptions)
	return r
}

// Handler returns the API router. HTTPS responses advertise HTTP/3.
func (s *Server) Handler() http.Handler {
	if s.altSvc == "" {
		return s.router
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ProtoMajor < 3 {
			w.Header().Set("Alt-Svc", s.altSvc)
		}
		s.router.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Expose-Headers", "X-Refract-Job")
		next.ServeHTTP(w, r)
	})
}

// Start serves HTTPS and, when configured, HTTP/3 until ctx is cancelled
// or a listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Cert == nil {
		return errors.New("server: Cert is required")
	}
	s.ctx = ctx
	handler := s.Handler()

	httpsSrv := &http.Server{
		Addr:              s.cfg.HTTPSAddr,
		Handler:           handler,
		TLSConfig:         s.cfg.Cert.TLSConfig(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("HTTPS API listening", "addr", s.cfg.HTTPSAddr)
		if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: https: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpsSrv.Shutdown(shutdownCtx)
	})

	if s.cfg.H3Addr != "" {
		h3Srv := &http3.Server{
			Addr:      s.cfg.H3Addr,
			Handler:   handler,
			TLSConfig: s.cfg.Cert.TLSConfig(),
			QUICConfig: &quic.Config{
				MaxIdleTimeout: 30 * time.Second,
			},
		}
		g.Go(func() error {
			s.log.Info("HTTP/3 API listening", "addr", s.cfg.H3Addr)
			stop := context.AfterFunc(ctx, func() { h3Srv.Close() })
			defer stop()
			err := h3Srv.ListenAndServe()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: http3: %w", err)
		})
	}

	return g.Wait()
}
