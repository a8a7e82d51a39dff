package demux

import (
	"errors"
	"fmt"

	"github.com/zsiec/refract/internal/media"
)

// LPCMHeaderSize is the size of the header in front of every Blu-ray LPCM
// PES payload.
const LPCMHeaderSize = 4

var errLPCMHeader = errors.New("demux: LPCM header too short")

// LPCMHeader describes a Blu-ray (HDMV) LPCM access unit.
type LPCMHeader struct {
	PayloadSize   int
	SampleRate    int
	BitsPerSample int
	Layout        media.ChannelLayout
	// CodedChannels is the number of channels stored in the payload, which
	// is rounded up to an even count.
	CodedChannels int
}

// lpcmLayouts is indexed by channel_assignment.
var lpcmLayouts = [16]media.ChannelLayout{
	0:  0,
	1:  media.LayoutMono,
	3:  media.LayoutStereo,
	4:  media.Layout3Point0,
	5:  media.LayoutStereo | media.ChBackCenter,
	6:  media.Layout4Point0,
	7:  media.LayoutStereo | media.ChSideLeft | media.ChSideRight,
	8:  media.Layout5Point0,
	9:  media.Layout5Point1,
	10: media.Layout5Point0 | media.ChBackLeft | media.ChBackRight,
	11: media.Layout7Point1,
}

// ParseLPCMHeader parses the 4-byte Blu-ray LPCM header.
func ParseLPCMHeader(b []byte) (LPCMHeader, error) {
	if len(b) < LPCMHeaderSize {
		return LPCMHeader{}, errLPCMHeader
	}
	h := LPCMHeader{PayloadSize: int(b[0])<<8 | int(b[1])}

	assignment := b[2] >> 4
	h.Layout = lpcmLayouts[assignment]
	if h.Layout == 0 {
		return h, fmt.Errorf("demux: LPCM channel assignment %d not supported", assignment)
	}

	switch b[2] & 0x0F {
	case 1:
		h.SampleRate = 48000
	case 4:
		h.SampleRate = 96000
	case 5:
		h.SampleRate = 192000
	default:
		return h, fmt.Errorf("demux: LPCM sample rate index %d not supported", b[2]&0x0F)
	}

	switch b[3] >> 6 {
	case 1:
		h.BitsPerSample = 16
	case 2:
		h.BitsPerSample = 20
	case 3:
		h.BitsPerSample = 24
	default:
		return h, fmt.Errorf("demux: LPCM bit depth index 0 not supported")
	}

	h.CodedChannels = (h.Layout.Channels() + 1) &^ 1
	return h, nil
}

// Bytes returns the header bytes for h.
func (h LPCMHeader) Bytes() []byte {
	var assignment byte
	for i, l := range lpcmLayouts {
		if l != 0 && l == h.Layout {
			assignment = byte(i)
			break
		}
	}
	var rate byte
	switch h.SampleRate {
	case 96000:
		rate = 4
	case 192000:
		rate = 5
	default:
		rate = 1
	}
	var depth byte
	switch h.BitsPerSample {
	case 20:
		depth = 2
	case 24:
		depth = 3
	default:
		depth = 1
	}
	return []byte{byte(h.PayloadSize >> 8), byte(h.PayloadSize), assignment<<4 | rate, depth << 6}
}

// LPCMLayoutSupported reports whether l can be signalled in an LPCM header.
func LPCMLayoutSupported(l media.ChannelLayout) bool {
	for _, v := range lpcmLayouts {
		if v != 0 && v == l {
			return true
		}
	}
	return false
}
