package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/refract/internal/certs"
	"github.com/zsiec/refract/internal/ingest"
	"github.com/zsiec/refract/internal/ingest/srt"
	"github.com/zsiec/refract/internal/jobs"
	"github.com/zsiec/refract/internal/metrics"
	"github.com/zsiec/refract/internal/server"
	"github.com/zsiec/refract/internal/transcode"
)

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, log, closer, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	cert, err := certs.LoadOrGenerate(cfg.Server.CertFile, cfg.Server.KeyFile)
	if err != nil {
		return err
	}
	log.Info("certificate ready",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	formats := transcode.DefaultFormats()
	mgr := jobs.NewManager(log, jobs.WithRecorder(m), jobs.WithActivityObserver(m))

	log.Info("refract starting",
		"version", version,
		"https", cfg.Server.HTTPSAddr,
		"h3", cfg.Server.H3Addr,
		"srt", cfg.SRT.Addr,
		"output_dir", cfg.SRT.OutputDir,
	)

	g, ctx := errgroup.WithContext(ctx)

	// Ingest jobs use the errgroup context so they stop when any
	// service fails.
	var registry *ingest.Registry
	var caller *srt.Caller
	if cfg.SRT.Addr != "" || len(cfg.SRT.Pulls) > 0 {
		if err := os.MkdirAll(cfg.SRT.OutputDir, 0o755); err != nil {
			return fmt.Errorf("output dir: %w", err)
		}
		registry = ingest.NewRegistry(mgr.IngestHandler(ctx, cfg.SRT.OutputDir, cfg.Transcode, formats), log)
		caller = srt.NewCaller(cfg.SRT.Latency, registry, log, srt.WithDialTimeout(cfg.SRT.DialTimeout))
	}

	srvCfg := server.Config{
		HTTPSAddr: cfg.Server.HTTPSAddr,
		H3Addr:    cfg.Server.H3Addr,
		Cert:      cert,
		MaxJobs:   cfg.Server.MaxJobs,
		Transcode: cfg.Transcode,
		Jobs:      mgr,
		Formats:   formats,
		Metrics:   m,
		Gatherer:  reg,
		Ingest:    registry,
		Log:       log,
	}
	if caller != nil {
		srvCfg.SRT = caller
	}
	apiSrv, err := server.NewServer(srvCfg)
	if err != nil {
		return err
	}

	g.Go(func() error {
		return apiSrv.Start(ctx)
	})

	if cfg.SRT.Addr != "" {
		srtSrv := srt.NewServer(cfg.SRT.Addr, cfg.SRT.Latency, registry, log)
		g.Go(func() error {
			return srtSrv.Start(ctx)
		})
	}

	for _, req := range cfg.SRT.Pulls {
		if err := caller.Pull(ctx, req); err != nil {
			log.Warn("configured SRT pull failed", "address", req.Address, "key", req.StreamKey, "error", err)
		}
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		if caller != nil {
			caller.StopAll()
		}
		mgr.AbortAll()
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
