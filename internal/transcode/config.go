package transcode

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/zsiec/refract/internal/codec"
	"github.com/zsiec/refract/internal/media"
)

// Config selects the input and output formats and the output codec
// parameters of a Job.
type Config struct {
	// InputFormat names the demuxer. Empty probes the input.
	InputFormat string `yaml:"input_format" json:"inputFormat,omitempty"`

	// The output format is OutputFormat if set, otherwise guessed from
	// OutputFilename's extension, then from OutputMIME.
	OutputFormat   string `yaml:"output_format" json:"outputFormat,omitempty"`
	OutputFilename string `yaml:"output_filename" json:"outputFilename,omitempty"`
	OutputMIME     string `yaml:"output_mime" json:"outputMime,omitempty"`

	Audio AudioConfig `yaml:"audio" json:"audio"`
	Video VideoConfig `yaml:"video" json:"video"`

	MaxPendingBytes int `yaml:"max_pending_bytes" json:"maxPendingBytes"`
}

// AudioConfig configures the audio output stream.
type AudioConfig struct {
	Enabled       bool    `yaml:"enabled" json:"enabled"`
	Codec         string  `yaml:"codec" json:"codec"`
	SampleRate    int     `yaml:"sample_rate" json:"sampleRate"`
	ChannelLayout string  `yaml:"channel_layout" json:"channelLayout"`
	Volume        float64 `yaml:"volume" json:"volume"`
}

// VideoConfig configures the video output stream.
type VideoConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Codec     string `yaml:"codec" json:"codec"`
	FrameRate string `yaml:"frame_rate" json:"frameRate"`
	FrameSize string `yaml:"frame_size" json:"frameSize"`
	Aspect    string `yaml:"aspect" json:"aspect"`
}

// DefaultConfig returns the default job configuration. It has no output
// format; callers must set one of OutputFormat, OutputFilename or
// OutputMIME.
func DefaultConfig() Config {
	return Config{
		Audio: AudioConfig{
			Enabled:       true,
			Codec:         "pcm_s16le",
			SampleRate:    44100,
			ChannelLayout: "stereo",
			Volume:        1.0,
		},
		Video: VideoConfig{
			Enabled:   true,
			Codec:     "h264",
			FrameRate: "30",
			FrameSize: "1080p",
			Aspect:    "16:9",
		},
		MaxPendingBytes: DefaultMaxPendingBytes,
	}
}

// Validate checks that every field parses.
func (c Config) Validate() error {
	if c.OutputFormat == "" && c.OutputFilename == "" && c.OutputMIME == "" {
		return errors.New("transcode: config: one of output format, filename or MIME type is required")
	}
	if c.MaxPendingBytes < 0 {
		return fmt.Errorf("transcode: config: negative max_pending_bytes %d", c.MaxPendingBytes)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("transcode: config: invalid audio sample rate %d", c.Audio.SampleRate)
	}
	if _, err := media.ParseChannelLayout(c.Audio.ChannelLayout); err != nil {
		return fmt.Errorf("transcode: config: %w", err)
	}
	if c.Audio.Volume < 0 || math.IsNaN(c.Audio.Volume) {
		return fmt.Errorf("transcode: config: invalid volume %v", c.Audio.Volume)
	}
	if _, err := ParseFrameRate(c.Video.FrameRate); err != nil {
		return fmt.Errorf("transcode: config: %w", err)
	}
	if _, _, err := ParseFrameSize(c.Video.FrameSize); err != nil {
		return fmt.Errorf("transcode: config: %w", err)
	}
	if _, err := ParseAspect(c.Video.Aspect); err != nil {
		return fmt.Errorf("transcode: config: %w", err)
	}
	return nil
}

// encoder returns the encoder name and configuration for an output stream
// fed from src. c must be valid.
func (c Config) encoder(src media.StreamInfo, log *slog.Logger) (string, codec.EncoderConfig) {
	cfg := codec.EncoderConfig{Source: src, Log: log}
	if src.Kind == media.KindAudio {
		cfg.SampleRate = c.Audio.SampleRate
		cfg.Layout, _ = media.ParseChannelLayout(c.Audio.ChannelLayout)
		cfg.Volume = c.Audio.Volume
		return c.Audio.Codec, cfg
	}
	cfg.FrameRate, _ = ParseFrameRate(c.Video.FrameRate)
	cfg.Width, cfg.Height, _ = ParseFrameSize(c.Video.FrameSize)
	cfg.Aspect, _ = ParseAspect(c.Video.Aspect)
	return c.Video.Codec, cfg
}

var frameSizes = map[string][2]int{
	"sqcif":   {128, 96},
	"qcif":    {176, 144},
	"cif":     {352, 288},
	"4cif":    {704, 576},
	"vga":     {640, 480},
	"svga":    {800, 600},
	"xga":     {1024, 768},
	"ntsc":    {720, 480},
	"pal":     {720, 576},
	"360p":    {640, 360},
	"hd480":   {852, 480},
	"480p":    {852, 480},
	"hd720":   {1280, 720},
	"720p":    {1280, 720},
	"hd1080":  {1920, 1080},
	"1080p":   {1920, 1080},
	"1440p":   {2560, 1440},
	"2k":      {2048, 1080},
	"uhd2160": {3840, 2160},
	"2160p":   {3840, 2160},
	"4k":      {4096, 2160},
}

// ParseFrameSize parses a frame size name ("720p", "hd1080", "vga") or
// "WIDTHxHEIGHT".
func ParseFrameSize(s string) (width, height int, err error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if wh, ok := frameSizes[s]; ok {
		return wh[0], wh[1], nil
	}
	ws, hs, ok := strings.Cut(s, "x")
	if ok {
		w, werr := strconv.Atoi(ws)
		h, herr := strconv.Atoi(hs)
		if werr == nil && herr == nil && w > 0 && h > 0 {
			return w, h, nil
		}
	}
	return 0, 0, fmt.Errorf("invalid frame size %q", s)
}

var frameRates = map[string]media.Rational{
	"ntsc":      {Num: 30000, Den: 1001},
	"pal":       {Num: 25, Den: 1},
	"film":      {Num: 24, Den: 1},
	"ntsc-film": {Num: 24000, Den: 1001},
}

// ParseFrameRate parses "30", "30000/1001", "29.97" or a name such as
// "ntsc". Decimal NTSC rates map onto their exact x/1001 form.
func ParseFrameRate(s string) (media.Rational, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if r, ok := frameRates[s]; ok {
		return r, nil
	}
	r, err := parseRational(s, "/")
	if err != nil {
		return media.Rational{}, fmt.Errorf("invalid frame rate %q", s)
	}
	return r, nil
}

// ParseAspect parses a display aspect ratio given as "16:9", "4/3" or a
// decimal.
func ParseAspect(s string) (media.Rational, error) {
	s = strings.TrimSpace(s)
	sep := "/"
	if strings.Contains(s, ":") {
		sep = ":"
	}
	r, err := parseRational(s, sep)
	if err != nil {
		return media.Rational{}, fmt.Errorf("invalid aspect ratio %q", s)
	}
	return r, nil
}

func parseRational(s, sep string) (media.Rational, error) {
	if ns, ds, ok := strings.Cut(s, sep); ok {
		n, nerr := strconv.Atoi(ns)
		d, derr := strconv.Atoi(ds)
		if nerr != nil || derr != nil || n <= 0 || d <= 0 {
			return media.Rational{}, errors.New("invalid rational")
		}
		return reduce(n, d), nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return media.Rational{}, errors.New("invalid rational")
		}
		return media.Rational{Num: n, Den: 1}, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 || math.IsInf(f, 0) {
		return media.Rational{}, errors.New("invalid rational")
	}
	if n := math.Round(f * 1.001); n >= 1 && math.Abs(n*1000/1001-f) < 0.005 && math.Abs(n-f) > 0.005 {
		return media.Rational{Num: int(n) * 1000, Den: 1001}, nil
	}
	r := reduce(int(math.Round(f*1000)), 1000)
	if !r.Valid() {
		return media.Rational{}, errors.New("invalid rational")
	}
	return r, nil
}

func reduce(n, d int) media.Rational {
	a, b := n, d
	for b != 0 {
		a, b = b, a%b
	}
	return media.Rational{Num: n / a, Den: d / a}
}
