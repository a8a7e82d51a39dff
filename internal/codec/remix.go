package codec

import (
	"math"

	"github.com/zsiec/refract/internal/media"
)

// converter remixes interleaved s16 audio to another channel layout and
// then resamples it. Resampling state carries across calls.
type converter struct {
	inLayout media.ChannelLayout
	inRate   int
	matrix   [][]float64 // [out][in], nil for identity
	rs       *resampler  // nil when the rates match
}

func newConverter(inLayout media.ChannelLayout, inRate int, outLayout media.ChannelLayout, outRate int) *converter {
	c := &converter{inLayout: inLayout, inRate: inRate}
	if inLayout != outLayout {
		c.matrix = remixMatrix(inLayout, outLayout)
	}
	if inRate != outRate {
		c.rs = &resampler{inRate: inRate, outRate: outRate, channels: outLayout.Channels()}
	}
	return c
}

func (c *converter) convert(in []int16) []int16 {
	var out []int16
	if c.matrix != nil {
		out = remix(c.matrix, in)
	} else {
		out = append([]int16(nil), in...)
	}
	if c.rs != nil {
		out = c.rs.process(out)
	}
	return out
}

// foldTargets lists, for a speaker position missing from the output layout,
// the positions it folds into, in order of preference.
var foldTargets = map[media.ChannelLayout][][]media.ChannelLayout{
	media.ChFrontLeft:          {{media.ChFrontCenter}},
	media.ChFrontRight:         {{media.ChFrontCenter}},
	media.ChFrontCenter:        {{media.ChFrontLeft, media.ChFrontRight}},
	media.ChBackLeft:           {{media.ChSideLeft}, {media.ChFrontLeft}, {media.ChFrontCenter}},
	media.ChBackRight:          {{media.ChSideRight}, {media.ChFrontRight}, {media.ChFrontCenter}},
	media.ChSideLeft:           {{media.ChBackLeft}, {media.ChFrontLeft}, {media.ChFrontCenter}},
	media.ChSideRight:          {{media.ChBackRight}, {media.ChFrontRight}, {media.ChFrontCenter}},
	media.ChBackCenter:         {{media.ChBackLeft, media.ChBackRight}, {media.ChSideLeft, media.ChSideRight}, {media.ChFrontLeft, media.ChFrontRight}, {media.ChFrontCenter}},
	media.ChFrontLeftOfCenter:  {{media.ChFrontLeft}, {media.ChFrontCenter}},
	media.ChFrontRightOfCenter: {{media.ChFrontRight}, {media.ChFrontCenter}},
}

// remixMatrix builds the mixing weights from in to out. Positions present
// in both are copied. Missing positions fold into their neighbours, a
// position split over a pair at -3 dB. The low-frequency channel is dropped
// when out has none. Rows whose weights sum above one are normalised so a
// downmix cannot clip.
func remixMatrix(in, out media.ChannelLayout) [][]float64 {
	inPos, outPos := in.Positions(), out.Positions()
	outIndex := make(map[media.ChannelLayout]int, len(outPos))
	for i, p := range outPos {
		outIndex[p] = i
	}
	m := make([][]float64, len(outPos))
	for i := range m {
		m[i] = make([]float64, len(inPos))
	}
	for j, p := range inPos {
		if o, ok := outIndex[p]; ok {
			m[o][j] = 1
			continue
		}
		for _, group := range foldTargets[p] {
			var hit []int
			for _, t := range group {
				if o, ok := outIndex[t]; ok {
					hit = append(hit, o)
				}
			}
			if len(hit) == 0 {
				continue
			}
			w := 1.0
			if len(hit) > 1 {
				w = math.Sqrt2 / 2
			}
			for _, o := range hit {
				m[o][j] += w
			}
			break
		}
	}
	for _, row := range m {
		var sum float64
		for _, w := range row {
			sum += w
		}
		if sum > 1 {
			for j := range row {
				row[j] /= sum
			}
		}
	}
	return m
}

func remix(m [][]float64, in []int16) []int16 {
	inCh, outCh := len(m[0]), len(m)
	n := len(in) / inCh
	out := make([]int16, n*outCh)
	for i := 0; i < n; i++ {
		src := in[i*inCh : (i+1)*inCh]
		for o, row := range m {
			var v float64
			for j, w := range row {
				v += w * float64(src[j])
			}
			out[i*outCh+o] = clamp16(math.Round(v))
		}
	}
	return out
}

// resampler converts between sample rates by linear interpolation. pos is
// the position of the next output sample measured in 1/outRate input
// samples, relative to the last sample of the previous block.
type resampler struct {
	inRate, outRate int
	channels        int
	pos             int64
	prev            []int16
}

func (r *resampler) process(in []int16) []int16 {
	n := len(in) / r.channels
	if n == 0 {
		return nil
	}
	off := 0
	if r.prev != nil {
		off = 1
	}
	at := func(i, c int) int64 {
		if i < off {
			return int64(r.prev[c])
		}
		return int64(in[(i-off)*r.channels+c])
	}
	outRate := int64(r.outRate)
	limit := int64(n+off-1) * outRate
	out := make([]int16, 0, (int(limit/int64(r.inRate))+1)*r.channels)
	for ; r.pos <= limit; r.pos += int64(r.inRate) {
		i, frac := int(r.pos/outRate), r.pos%outRate
		for c := 0; c < r.channels; c++ {
			v := at(i, c)
			if frac != 0 {
				v += (at(i+1, c) - v) * frac / outRate
			}
			out = append(out, int16(v))
		}
	}
	r.pos -= limit
	r.prev = append(r.prev[:0], in[(n-1)*r.channels:n*r.channels]...)
	return out
}

func applyVolume(samples []int16, volume float64) {
	if volume == 1 {
		return
	}
	for i, s := range samples {
		samples[i] = clamp16(math.Round(float64(s) * volume))
	}
}

func clamp16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
