package codec

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zsiec/refract/internal/media"
)

// DecoderFactory opens a decoder for the given input stream.
type DecoderFactory func(in media.StreamInfo) (Decoder, error)

// EncoderFactory opens an encoder with the given configuration.
type EncoderFactory func(cfg EncoderConfig) (Encoder, error)

// Descriptor describes a registered decoder or encoder.
type Descriptor struct {
	Name  string        `json:"name"`
	Codec media.CodecID `json:"codec"`
	Kind  string        `json:"kind"`
}

type encoderEntry struct {
	desc    Descriptor
	factory EncoderFactory
}

// Registry maps codec ids to decoder factories and encoder names to
// encoder factories.
type Registry struct {
	mu       sync.RWMutex
	decoders map[media.CodecID]DecoderFactory
	encoders map[string]encoderEntry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		decoders: make(map[media.CodecID]DecoderFactory),
		encoders: make(map[string]encoderEntry),
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// DefaultRegistry returns the registry holding every built-in decoder and
// encoder.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		r := NewRegistry()
		RegisterBuiltins(r)
		defaultRegistry = r
	})
	return defaultRegistry
}

// RegisterBuiltins adds the built-in decoders and encoders to r.
func RegisterBuiltins(r *Registry) {
	r.RegisterDecoder(media.CodecH264, newH264Decoder)
	r.RegisterDecoder(media.CodecHEVC, newHEVCDecoder)
	r.RegisterDecoder(media.CodecAAC, newAACDecoder)
	r.RegisterDecoder(media.CodecPCMBluray, newBlurayDecoder)
	r.RegisterDecoder(media.CodecPCMS16LE, newS16LEDecoder)
	r.RegisterDecoder(media.CodecPCMS16BE, newS16BEDecoder)
	r.RegisterDecoder(media.CodecPCMMulaw, newMuLawDecoder)
	r.RegisterDecoder(media.CodecPCMAlaw, newALawDecoder)

	for _, id := range []media.CodecID{media.CodecH264, media.CodecHEVC, media.CodecAAC} {
		r.RegisterEncoder(string(id), id, copyEncoderFactory(id))
	}
	for _, id := range []media.CodecID{
		media.CodecPCMS16LE, media.CodecPCMS16BE, media.CodecPCMMulaw,
		media.CodecPCMAlaw, media.CodecPCMBluray,
	} {
		r.RegisterEncoder(string(id), id, pcmEncoderFactory(id))
	}
}

// RegisterDecoder registers f as the decoder for codec, replacing any
// previous registration.
func (r *Registry) RegisterDecoder(codec media.CodecID, f DecoderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[codec] = f
}

// RegisterEncoder registers f under name. The encoder produces codec.
func (r *Registry) RegisterEncoder(name string, codec media.CodecID, f EncoderFactory) {
	desc := Descriptor{Name: name, Codec: codec}
	if d, ok := media.LookupCodec(codec); ok {
		desc.Kind = d.KindName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoders[name] = encoderEntry{desc: desc, factory: f}
}

// NewDecoder opens a decoder for in. An unregistered codec yields an error
// wrapping ErrUnavailable.
func (r *Registry) NewDecoder(in media.StreamInfo) (Decoder, error) {
	r.mu.RLock()
	f, ok := r.decoders[in.Codec]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec: decoder %q: %w", in.Codec, ErrUnavailable)
	}
	return f(in)
}

// NewEncoder opens the encoder registered under name. An unknown name
// yields an error wrapping ErrUnavailable.
func (r *Registry) NewEncoder(name string, cfg EncoderConfig) (Encoder, error) {
	r.mu.RLock()
	e, ok := r.encoders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec: encoder %q: %w", name, ErrUnavailable)
	}
	return e.factory(cfg)
}

// Encoder returns the descriptor of the encoder registered under name.
func (r *Registry) Encoder(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.encoders[name]
	return e.desc, ok
}

// Decoders lists the registered decoders ordered by codec id.
func (r *Registry) Decoders() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.decoders))
	for id := range r.decoders {
		desc := Descriptor{Name: string(id), Codec: id}
		if d, ok := media.LookupCodec(id); ok {
			desc.Kind = d.KindName
		}
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Encoders lists the registered encoders ordered by name.
func (r *Registry) Encoders() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.encoders))
	for _, e := range r.encoders {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
