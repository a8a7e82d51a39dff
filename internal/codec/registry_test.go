package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/refract/internal/media"
)

func TestDefaultRegistryListsBuiltins(t *testing.T) {
	t.Parallel()
	r := DefaultRegistry()

	var decoders []string
	for _, d := range r.Decoders() {
		decoders = append(decoders, d.Name)
	}
	assert.Equal(t, []string{
		"aac", "h264", "hevc", "pcm_alaw", "pcm_bluray", "pcm_mulaw", "pcm_s16be", "pcm_s16le",
	}, decoders)

	var encoders []string
	for _, e := range r.Encoders() {
		encoders = append(encoders, e.Name)
	}
	assert.Equal(t, []string{
		"aac", "h264", "hevc", "pcm_alaw", "pcm_bluray", "pcm_mulaw", "pcm_s16be", "pcm_s16le",
	}, encoders)

	desc, ok := r.Encoder("h264")
	require.True(t, ok)
	assert.Equal(t, "video", desc.Kind)
	assert.Same(t, r, DefaultRegistry())
}

func TestRegistryUnavailable(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_, err := r.NewDecoder(media.StreamInfo{Codec: media.CodecH264})
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = DefaultRegistry().NewEncoder("libx264", EncoderConfig{})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "libx264")
}

func TestRegistryOverride(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	RegisterBuiltins(r)
	called := false
	r.RegisterDecoder(media.CodecAAC, func(in media.StreamInfo) (Decoder, error) {
		called = true
		return newAACDecoder(in)
	})
	_, err := r.NewDecoder(media.StreamInfo{Codec: media.CodecAAC})
	require.NoError(t, err)
	assert.True(t, called)
}
