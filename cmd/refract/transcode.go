package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/zsiec/refract/internal/pipeline"
	"github.com/zsiec/refract/internal/transcode"
)

func runTranscode(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("transcode", flag.ContinueOnError)
	in := fs.String("in", "-", "input file, - for stdin")
	out := fs.String("out", "-", "output file, - for stdout")
	outFormat := fs.String("format", "", "output format (default: from -out extension, then config)")
	inFormat := fs.String("input-format", "", "input format (default: probe)")
	chunk := fs.Int("chunk", pipeline.DefaultChunkSize, "read size in bytes")
	configPath := fs.String("config", "", "YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, log, closer, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	tc := cfg.Transcode
	formats := transcode.DefaultFormats()
	switch {
	case *outFormat != "":
		tc.OutputFormat = *outFormat
	case *out != "-":
		if _, err := formats.Guess("", *out, ""); err == nil {
			tc.OutputFormat = ""
			tc.OutputFilename = *out
		}
	}
	if *inFormat != "" {
		tc.InputFormat = *inFormat
	}
	if err := tc.Validate(); err != nil {
		return err
	}

	r := stdin
	if *in != "-" {
		f, err := os.Open(*in)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	w := stdout
	var outFile *os.File
	if *out != "-" {
		outFile, err = os.Create(*out)
		if err != nil {
			return err
		}
		w = outFile
	}
	bw := bufio.NewWriterSize(w, 64<<10)

	p := pipeline.New(tc,
		pipeline.WithLogger(log),
		pipeline.WithChunkSize(*chunk),
		pipeline.WithJobOptions(transcode.WithFormats(formats)),
	)
	runErr := p.Run(ctx, r, bw)
	if err := bw.Flush(); err != nil && runErr == nil {
		runErr = err
	}
	if outFile != nil {
		if err := outFile.Close(); err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return fmt.Errorf("transcode: %w", runErr)
	}

	snap := p.Snapshot()
	log.Info("transcode complete", "bytes_in", snap.BytesRead, "bytes_out", snap.Written, "elapsed_ms", snap.UptimeMs)
	return nil
}
