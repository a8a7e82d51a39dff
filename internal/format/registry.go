package format

import (
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/zsiec/refract/internal/media"
)

// Options are passed to every factory.
type Options struct {
	Log *slog.Logger
}

// Logger returns o.Log or slog.Default.
func (o Options) Logger() *slog.Logger {
	if o.Log != nil {
		return o.Log
	}
	return slog.Default()
}

// Descriptor describes a container format.
type Descriptor struct {
	Name       string          `json:"name"`
	LongName   string          `json:"longName"`
	Extensions []string        `json:"extensions,omitempty"`
	MIMETypes  []string        `json:"mimeTypes,omitempty"`
	Codecs     []media.CodecID `json:"codecs,omitempty"`

	// Probe scores a prefix of the input: 0 rejects it, higher is more
	// certain. Demuxers only.
	Probe func(prefix []byte) int `json:"-"`
}

// Supports reports whether the format can carry codec.
func (d Descriptor) Supports(codec media.CodecID) bool {
	return slices.Contains(d.Codecs, codec)
}

type demuxerEntry struct {
	desc Descriptor
	new  DemuxerFactory
}

type muxerEntry struct {
	desc Descriptor
	new  MuxerFactory
}

// Registry maps format names to demuxer and muxer factories. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	demuxers map[string]demuxerEntry
	muxers   map[string]muxerEntry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		demuxers: make(map[string]demuxerEntry),
		muxers:   make(map[string]muxerEntry),
	}
}

// RegisterDemuxer adds or replaces a demuxer.
func (r *Registry) RegisterDemuxer(desc Descriptor, f DemuxerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.demuxers[desc.Name] = demuxerEntry{desc: desc, new: f}
}

// RegisterMuxer adds or replaces a muxer.
func (r *Registry) RegisterMuxer(desc Descriptor, f MuxerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.muxers[desc.Name] = muxerEntry{desc: desc, new: f}
}

// Demuxer returns the demuxer factory registered under name.
func (r *Registry) Demuxer(name string) (Descriptor, DemuxerFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.demuxers[name]
	if !ok {
		return Descriptor{}, nil, fmt.Errorf("%w: no demuxer %q", ErrUnsupported, name)
	}
	return e.desc, e.new, nil
}

// Muxer returns the muxer factory registered under name.
func (r *Registry) Muxer(name string) (Descriptor, MuxerFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.muxers[name]
	if !ok {
		return Descriptor{}, nil, fmt.Errorf("%w: no muxer %q", ErrUnsupported, name)
	}
	return e.desc, e.new, nil
}

// Probe returns the name of the demuxer whose Probe scores prefix highest.
// Ties go to the alphabetically first name.
func (r *Registry) Probe(prefix []byte) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best, bestScore := "", 0
	for _, name := range sortedKeys(r.demuxers) {
		e := r.demuxers[name]
		if e.desc.Probe == nil {
			continue
		}
		if s := e.desc.Probe(prefix); s > bestScore {
			best, bestScore = name, s
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: input not recognized", ErrUnsupported)
	}
	return best, nil
}

// Guess resolves a muxer the way an output format is chosen: an explicit
// name wins, then the filename extension, then the MIME type.
func (r *Registry) Guess(name, filename, mime string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name != "" {
		if _, ok := r.muxers[name]; ok {
			return name, nil
		}
		return "", fmt.Errorf("%w: no muxer %q", ErrUnsupported, name)
	}
	if ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), ".")); ext != "" {
		for _, n := range sortedKeys(r.muxers) {
			if slices.Contains(r.muxers[n].desc.Extensions, ext) {
				return n, nil
			}
		}
	}
	if mime != "" {
		mime = strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
		for _, n := range sortedKeys(r.muxers) {
			if slices.Contains(r.muxers[n].desc.MIMETypes, mime) {
				return n, nil
			}
		}
	}
	return "", fmt.Errorf("%w: cannot guess output format (name=%q filename=%q mime=%q)", ErrUnsupported, name, filename, mime)
}

// Demuxers lists the registered demuxers ordered by name.
func (r *Registry) Demuxers() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.demuxers))
	for _, n := range sortedKeys(r.demuxers) {
		out = append(out, r.demuxers[n].desc)
	}
	return out
}

// Muxers lists the registered muxers ordered by name.
func (r *Registry) Muxers() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.muxers))
	for _, n := range sortedKeys(r.muxers) {
		out = append(out, r.muxers[n].desc)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
