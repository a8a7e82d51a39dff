package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zsiec/refract/internal/format"
	"github.com/zsiec/refract/internal/ingest"
	"github.com/zsiec/refract/internal/transcode"
)

// OutputPath returns dir/<key>.<ext>, where ext is the first extension of
// the muxer cfg selects. Path separators in key are replaced.
func OutputPath(dir, key string, cfg transcode.Config, formats *format.Registry) (string, error) {
	name, err := formats.Guess(cfg.OutputFormat, cfg.OutputFilename, cfg.OutputMIME)
	if err != nil {
		return "", err
	}
	desc, _, err := formats.Muxer(name)
	if err != nil {
		return "", err
	}
	ext := desc.Name
	if len(desc.Extensions) > 0 {
		ext = desc.Extensions[0]
	}
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(dir, safe+"."+ext), nil
}

// IngestHandler returns an ingest.Handler that transcodes every stream into
// a file under dir, as a job of this manager. Jobs stop when ctx is
// cancelled.
func (m *Manager) IngestHandler(ctx context.Context, dir string, cfg transcode.Config, formats *format.Registry) ingest.Handler {
	return func(s *ingest.Stream) {
		jcfg := cfg
		jcfg.InputFormat = s.Format
		if err := m.ingest(ctx, dir, jcfg, formats, s); err != nil {
			s.CloseWithError(err)
			m.log.Warn("ingest transcode failed", "key", s.Key, "source", s.Source, "error", err)
		}
	}
}

func (m *Manager) ingest(ctx context.Context, dir string, cfg transcode.Config, formats *format.Registry, s *ingest.Stream) error {
	path, err := OutputPath(dir, s.Key, cfg, formats)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("jobs: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("jobs: %w", err)
	}

	j := m.Create(s.Source, s.Key, cfg)
	m.log.Info("ingest output", "id", j.ID, "key", s.Key, "path", path)
	runErr := j.Run(ctx, s.Reader(), f)
	if err := f.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("jobs: %w", err)
	}
	return runErr
}
