package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/refract/internal/media"
)

func TestRemixMatrix(t *testing.T) {
	t.Parallel()
	half := math.Sqrt2 / 2

	m := remixMatrix(media.LayoutStereo, media.LayoutMono)
	assert.Equal(t, [][]float64{{0.5, 0.5}}, m)

	m = remixMatrix(media.LayoutMono, media.LayoutStereo)
	require.Len(t, m, 2)
	assert.InDelta(t, half, m[0][0], 1e-9)
	assert.InDelta(t, half, m[1][0], 1e-9)

	// 5.1 to stereo: LFE is dropped and no row may sum above one.
	m = remixMatrix(media.Layout5Point1, media.LayoutStereo)
	require.Len(t, m, 2)
	for _, row := range m {
		var sum float64
		for _, w := range row {
			sum += w
		}
		assert.InDelta(t, 1, sum, 1e-9)
	}
	lfe := 3 // FL FR FC LFE SL SR
	assert.Zero(t, m[0][lfe])
	assert.Zero(t, m[1][lfe])
	assert.Zero(t, m[0][1], "right does not leak into left")
}

func TestRemixKeepsSharedPositions(t *testing.T) {
	t.Parallel()
	// Stereo into 5.1: left and right copied, nothing else driven.
	m := remixMatrix(media.LayoutStereo, media.Layout5Point1)
	out := remix(m, []int16{100, -100})
	assert.Equal(t, []int16{100, -100, 0, 0, 0, 0}, out)
}

func TestResamplerChunkIndependent(t *testing.T) {
	t.Parallel()
	ramp := make([]int16, 2*100)
	for i := 0; i < 100; i++ {
		ramp[2*i] = int16(i * 10)
		ramp[2*i+1] = int16(-i * 10)
	}

	for _, rates := range [][2]int{{48000, 32000}, {44100, 48000}, {8000, 48000}} {
		whole := (&resampler{inRate: rates[0], outRate: rates[1], channels: 2}).process(ramp)

		r := &resampler{inRate: rates[0], outRate: rates[1], channels: 2}
		var chunked []int16
		for off := 0; off < len(ramp); off += 14 {
			end := min(off+14, len(ramp))
			chunked = append(chunked, r.process(ramp[off:end])...)
		}
		assert.Equal(t, whole, chunked, "%d -> %d", rates[0], rates[1])
	}
}

func TestResamplerInterpolates(t *testing.T) {
	t.Parallel()
	r := &resampler{inRate: 24000, outRate: 48000, channels: 1}
	assert.Equal(t, []int16{0, 50, 100, 150, 200}, r.process([]int16{0, 100, 200}))
	assert.Equal(t, []int16{250, 300}, r.process([]int16{300}))
	assert.Nil(t, r.process(nil))
}

func TestConverterIdentityCopies(t *testing.T) {
	t.Parallel()
	c := newConverter(media.LayoutStereo, 48000, media.LayoutStereo, 48000)
	in := []int16{1, 2}
	out := c.convert(in)
	out[0] = 9
	assert.Equal(t, int16(1), in[0])
}
