package media

import (
	"fmt"
	"math/bits"
	"sort"
	"strconv"
	"strings"
)

// CodecID names an elementary stream coding.
type CodecID string

// Codec identifiers known to Refract.
const (
	CodecH264      CodecID = "h264"
	CodecHEVC      CodecID = "hevc"
	CodecAAC       CodecID = "aac"
	CodecPCMBluray CodecID = "pcm_bluray"
	CodecPCMS16LE  CodecID = "pcm_s16le"
	CodecPCMS16BE  CodecID = "pcm_s16be"
	CodecPCMMulaw  CodecID = "pcm_mulaw"
	CodecPCMAlaw   CodecID = "pcm_alaw"
)

// CodecDescriptor is the static description of a codec.
type CodecDescriptor struct {
	ID       CodecID `json:"id"`
	Kind     Kind    `json:"-"`
	KindName string  `json:"kind"`
	LongName string  `json:"longName"`
}

var codecTable = []CodecDescriptor{
	{ID: CodecH264, Kind: KindVideo, LongName: "H.264 / AVC / MPEG-4 part 10"},
	{ID: CodecHEVC, Kind: KindVideo, LongName: "H.265 / HEVC"},
	{ID: CodecAAC, Kind: KindAudio, LongName: "AAC (Advanced Audio Coding), ADTS framed"},
	{ID: CodecPCMBluray, Kind: KindAudio, LongName: "PCM signed 16|20|24-bit big-endian for Blu-ray media"},
	{ID: CodecPCMS16LE, Kind: KindAudio, LongName: "PCM signed 16-bit little-endian"},
	{ID: CodecPCMS16BE, Kind: KindAudio, LongName: "PCM signed 16-bit big-endian"},
	{ID: CodecPCMMulaw, Kind: KindAudio, LongName: "PCM mu-law / G.711 mu-law"},
	{ID: CodecPCMAlaw, Kind: KindAudio, LongName: "PCM A-law / G.711 A-law"},
}

// Codecs returns the descriptors of every known codec.
func Codecs() []CodecDescriptor {
	out := make([]CodecDescriptor, len(codecTable))
	for i, d := range codecTable {
		d.KindName = d.Kind.String()
		out[i] = d
	}
	return out
}

// LookupCodec returns the descriptor for id.
func LookupCodec(id CodecID) (CodecDescriptor, bool) {
	for _, d := range codecTable {
		if d.ID == id {
			d.KindName = d.Kind.String()
			return d, true
		}
	}
	return CodecDescriptor{}, false
}

// Kinds returns every selectable media kind.
func Kinds() []Kind {
	return []Kind{KindAudio, KindVideo}
}

// SampleFormat names a raw audio sample layout.
type SampleFormat string

// Sample formats. Refract decodes to SampleFmtS16.
const (
	SampleFmtU8   SampleFormat = "u8"
	SampleFmtS16  SampleFormat = "s16"
	SampleFmtS32  SampleFormat = "s32"
	SampleFmtFLT  SampleFormat = "flt"
	SampleFmtDBL  SampleFormat = "dbl"
	SampleFmtU8P  SampleFormat = "u8p"
	SampleFmtS16P SampleFormat = "s16p"
	SampleFmtS32P SampleFormat = "s32p"
	SampleFmtFLTP SampleFormat = "fltp"
	SampleFmtDBLP SampleFormat = "dblp"
)

// SampleFormats returns every known sample format.
func SampleFormats() []SampleFormat {
	return []SampleFormat{
		SampleFmtU8, SampleFmtS16, SampleFmtS32, SampleFmtFLT, SampleFmtDBL,
		SampleFmtU8P, SampleFmtS16P, SampleFmtS32P, SampleFmtFLTP, SampleFmtDBLP,
	}
}

// PixelFormat names a raw picture layout.
type PixelFormat string

// Pixel formats.
const (
	PixFmtYUV420P  PixelFormat = "yuv420p"
	PixFmtYUVJ420P PixelFormat = "yuvj420p"
	PixFmtYUV422P  PixelFormat = "yuv422p"
	PixFmtYUV444P  PixelFormat = "yuv444p"
	PixFmtNV12     PixelFormat = "nv12"
	PixFmtRGB24    PixelFormat = "rgb24"
	PixFmtRGBA     PixelFormat = "rgba"
	PixFmtGray     PixelFormat = "gray"
)

// PixelFormats returns every known pixel format.
func PixelFormats() []PixelFormat {
	return []PixelFormat{
		PixFmtYUV420P, PixFmtYUVJ420P, PixFmtYUV422P, PixFmtYUV444P,
		PixFmtNV12, PixFmtRGB24, PixFmtRGBA, PixFmtGray,
	}
}

// ChannelLayout is a bitmask of speaker positions. Interleaved samples are
// ordered by ascending bit.
type ChannelLayout uint64

// Speaker positions.
const (
	ChFrontLeft ChannelLayout = 1 << iota
	ChFrontRight
	ChFrontCenter
	ChLowFrequency
	ChBackLeft
	ChBackRight
	ChFrontLeftOfCenter
	ChFrontRightOfCenter
	ChBackCenter
	ChSideLeft
	ChSideRight
)

// Named layouts.
const (
	LayoutMono    = ChFrontCenter
	LayoutStereo  = ChFrontLeft | ChFrontRight
	Layout2Point1 = LayoutStereo | ChLowFrequency
	Layout3Point0 = LayoutStereo | ChFrontCenter
	Layout4Point0 = Layout3Point0 | ChBackCenter
	LayoutQuad    = LayoutStereo | ChBackLeft | ChBackRight
	Layout5Point0 = Layout3Point0 | ChSideLeft | ChSideRight
	Layout5Point1 = Layout5Point0 | ChLowFrequency
	Layout7Point1 = Layout5Point1 | ChBackLeft | ChBackRight
)

var layoutNames = map[string]ChannelLayout{
	"mono":   LayoutMono,
	"stereo": LayoutStereo,
	"2.1":    Layout2Point1,
	"3.0":    Layout3Point0,
	"4.0":    Layout4Point0,
	"quad":   LayoutQuad,
	"5.0":    Layout5Point0,
	"5.1":    Layout5Point1,
	"7.1":    Layout7Point1,
}

// Channels returns the number of channels in the layout.
func (l ChannelLayout) Channels() int {
	return bits.OnesCount64(uint64(l))
}

// Has reports whether every position in ch is present in l.
func (l ChannelLayout) Has(ch ChannelLayout) bool {
	return ch != 0 && l&ch == ch
}

// Positions returns the single-bit speaker positions of l in sample order.
func (l ChannelLayout) Positions() []ChannelLayout {
	out := make([]ChannelLayout, 0, l.Channels())
	for v := uint64(l); v != 0; v &= v - 1 {
		out = append(out, ChannelLayout(v&-v))
	}
	return out
}

func (l ChannelLayout) String() string {
	for name, v := range layoutNames {
		if v == l {
			return name
		}
	}
	if l == 0 {
		return "unknown"
	}
	return fmt.Sprintf("%d channels (0x%X)", l.Channels(), uint64(l))
}

// ParseChannelLayout resolves a layout by name ("stereo", "5.1") or by a
// plain channel count ("2").
func ParseChannelLayout(s string) (ChannelLayout, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if l, ok := layoutNames[s]; ok {
		return l, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if l := DefaultLayout(n); l != 0 {
			return l, nil
		}
	}
	return 0, fmt.Errorf("media: unknown channel layout %q", s)
}

// DefaultLayout returns the conventional layout for a channel count, or 0
// if there is none.
func DefaultLayout(channels int) ChannelLayout {
	switch channels {
	case 1:
		return LayoutMono
	case 2:
		return LayoutStereo
	case 3:
		return Layout2Point1
	case 4:
		return LayoutQuad
	case 5:
		return Layout5Point0
	case 6:
		return Layout5Point1
	case 8:
		return Layout7Point1
	}
	return 0
}

// ChannelLayoutEntry is one row of the named channel layout table.
type ChannelLayoutEntry struct {
	Name     string `json:"name"`
	Channels int    `json:"channels"`
	Mask     uint64 `json:"mask"`
}

// ChannelLayouts returns the named layout table ordered by channel count.
func ChannelLayouts() []ChannelLayoutEntry {
	out := make([]ChannelLayoutEntry, 0, len(layoutNames))
	for name, l := range layoutNames {
		out = append(out, ChannelLayoutEntry{Name: name, Channels: l.Channels(), Mask: uint64(l)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channels != out[j].Channels {
			return out[i].Channels < out[j].Channels
		}
		return out[i].Name < out[j].Name
	})
	return out
}
