// Package media defines the packet, frame and stream descriptors that flow
// through the Refract transcode pipeline, from demuxing through muxing.
package media

import (
	"fmt"
	"math"
)

// Clock is the timestamp resolution shared by every Packet and Frame:
// the 90 kHz MPEG system clock.
const Clock = 90000

// NoPTS marks a packet or frame whose presentation time is unknown.
const NoPTS int64 = math.MinInt64

// Kind is the media type of an elementary stream.
type Kind int

// Media kinds.
const (
	KindUnknown Kind = iota
	KindAudio
	KindVideo
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Rational is a fraction such as a frame rate or an aspect ratio.
type Rational struct {
	Num int
	Den int
}

// Valid reports whether both terms are positive.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// Float returns the value of r, or 0 if r is not valid.
func (r Rational) Float() float64 {
	if !r.Valid() {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) String() string {
	if r.Den == 1 {
		return fmt.Sprintf("%d", r.Num)
	}
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// StreamInfo describes one elementary stream of a container, either as
// discovered by a demuxer or as configured for a muxer.
type StreamInfo struct {
	Index int
	Kind  Kind
	Codec CodecID

	// Audio parameters.
	SampleRate int
	Channels   int
	Layout     ChannelLayout

	// Video parameters.
	Width        int
	Height       int
	FrameRate    Rational
	SampleAspect Rational

	// ID is the container-level identifier (the PID for MPEG-TS).
	ID int
	// Language is an ISO 639-2 code, empty when unknown.
	Language string
}

// Complete reports whether the stream parameters needed for selection and
// codec setup are known.
func (s StreamInfo) Complete() bool {
	switch s.Kind {
	case KindAudio:
		return s.Channels > 0 && s.SampleRate > 0
	case KindVideo:
		return s.Width > 0 && s.Height > 0
	default:
		return true
	}
}

// Packet is one coded unit of an elementary stream. Timestamps are in
// Clock units.
type Packet struct {
	StreamIndex int
	Data        []byte
	PTS         int64
	DTS         int64
	Duration    int64
	Keyframe    bool
}

// Frame is the unit exchanged between a decoder and an encoder.
//
// A frame either carries interleaved signed 16-bit PCM (Codec is empty and
// PCM is set) or one compressed access unit of Codec for bitstream-copy
// encoders.
type Frame struct {
	Kind     Kind
	PTS      int64
	DTS      int64 // compressed frames only
	Keyframe bool

	Codec CodecID
	Data  []byte

	PCM        []int16
	SampleRate int
	Layout     ChannelLayout

	Width  int
	Height int
}

// Compressed reports whether f carries a coded access unit rather than raw
// samples.
func (f *Frame) Compressed() bool {
	return f.Codec != ""
}

// NumSamples returns the number of samples per channel in a raw audio frame.
func (f *Frame) NumSamples() int {
	ch := f.Layout.Channels()
	if ch == 0 {
		return 0
	}
	return len(f.PCM) / ch
}
