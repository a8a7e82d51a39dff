// Command refract is a streaming media transcoder. It runs as a service
// (HTTP API, SRT ingest), transcodes a single file, or pushes a file to an
// SRT listener.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zsiec/refract/internal/config"
	"github.com/zsiec/refract/internal/logging"
)

var version = "dev"

const usage = `Usage:
  refract serve [-config path]
  refract transcode -in file|- -out file|- [-format name] [-input-format name] [-chunk N] [-config path]
  refract formats [-json]
  refract push [-addr host:port] [-key name] [-rate bytes/s] [-loop] file.ts
  refract version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "serve":
		err = runServe(ctx, args)
	case "transcode":
		err = runTranscode(ctx, args, os.Stdin, os.Stdout)
	case "formats":
		err = runFormats(args, os.Stdout)
	case "push":
		err = runPush(ctx, args)
	case "version":
		fmt.Println("refract", version)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprintf(os.Stderr, "refract: unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "refract: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and installs the default logger.
func setup(path string) (config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	slog.SetDefault(log)
	return cfg, log, closer, nil
}
