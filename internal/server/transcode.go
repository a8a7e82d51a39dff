package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/zsiec/refract/internal/transcode"
)

// sourceHTTP is the job source of API transcodes.
const sourceHTTP = "http"

// applyQuery overrides cfg with the request's query parameters.
func applyQuery(cfg *transcode.Config, q url.Values) error {
	str := func(key string, dst *string) {
		if v := q.Get(key); v != "" {
			*dst = v
		}
	}
	str("input_format", &cfg.InputFormat)
	if v := q.Get("format"); v != "" {
		cfg.OutputFormat = v
		cfg.OutputFilename = ""
		cfg.OutputMIME = ""
	}
	str("audio_codec", &cfg.Audio.Codec)
	str("channel_layout", &cfg.Audio.ChannelLayout)
	str("video_codec", &cfg.Video.Codec)
	str("frame_rate", &cfg.Video.FrameRate)
	str("frame_size", &cfg.Video.FrameSize)
	str("aspect", &cfg.Video.Aspect)

	for key, dst := range map[string]*bool{"audio": &cfg.Audio.Enabled, "video": &cfg.Video.Enabled} {
		if v := q.Get(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q", key, v)
			}
			*dst = b
		}
	}
	if v := q.Get("sample_rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid sample_rate %q", v)
		}
		cfg.Audio.SampleRate = n
	}
	if v := q.Get("volume"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid volume %q", v)
		}
		cfg.Audio.Volume = f
	}
	return cfg.Validate()
}

// statusFor maps a failed transcode to an HTTP status.
func statusFor(err error) int {
	var te *transcode.Error
	if !errors.As(err, &te) {
		return http.StatusInternalServerError
	}
	switch te.Kind {
	case transcode.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case transcode.KindStreamNotFound, transcode.KindCodecUnavailable:
		return http.StatusUnprocessableEntity
	case transcode.KindResourceExhaustion:
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

// responseSink delays the response header until the first output byte so
// that setup failures can still be reported as JSON errors.
type responseSink struct {
	w           http.ResponseWriter
	rc          *http.ResponseController
	contentType string
	started     bool
}

func (s *responseSink) Write(p []byte) (int, error) {
	if !s.started {
		s.started = true
		s.w.Header().Set("Content-Type", s.contentType)
		s.w.WriteHeader(http.StatusOK)
	}
	n, err := s.w.Write(p)
	if err != nil {
		return n, err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return n, err
	}
	return n, nil
}

// handleTranscode streams the request body through a transcode job into
// the response.
func (s *Server) handleTranscode(w http.ResponseWriter, r *http.Request) {
	if !s.sem.TryAcquire(1) {
		writeError(w, http.StatusServiceUnavailable, "too many concurrent transcodes")
		return
	}
	defer s.sem.Release(1)

	cfg := s.cfg.Transcode
	if err := applyQuery(&cfg, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name, err := s.cfg.Formats.Guess(cfg.OutputFormat, cfg.OutputFilename, cfg.OutputMIME)
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	desc, _, err := s.cfg.Formats.Muxer(name)
	if err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	contentType := "application/octet-stream"
	if len(desc.MIMETypes) > 0 {
		contentType = desc.MIMETypes[0]
	}

	rc := http.NewResponseController(w)
	if err := rc.EnableFullDuplex(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.log.Debug("full duplex unavailable", "error", err)
	}

	j := s.cfg.Jobs.Create(sourceHTTP, r.RemoteAddr, cfg)
	w.Header().Set("X-Refract-Job", j.ID)

	sink := &responseSink{w: w, rc: rc, contentType: contentType}
	err = j.Run(r.Context(), r.Body, sink)
	if err == nil {
		if !sink.started {
			// Nothing was muxed; still a valid empty body.
			w.WriteHeader(http.StatusOK)
		}
		return
	}
	if sink.started {
		s.log.Warn("transcode failed after output started", "job", j.ID, "error", err)
		return
	}
	resp := errorResponse{Error: err.Error(), Job: j.ID}
	var te *transcode.Error
	if errors.As(err, &te) {
		resp.Kind = te.Kind.Label()
	}
	writeJSON(w, statusFor(err), resp)
}
