package mux

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/zsiec/refract/internal/format"
	"github.com/zsiec/refract/internal/media"
)

const (
	rtpMTU        = 1200
	rtpHeaderSize = 12

	// rtpSSRCBase is ORed with the stream index to form each stream's SSRC.
	rtpSSRCBase = 0x52465200

	ptPCMU       = 0
	ptPCMA       = 8
	ptL16Stereo  = 10
	ptL16Mono    = 11
	ptDynamicMin = 96
)

var rtpDescriptor = format.Descriptor{
	Name:       "rtp",
	LongName:   "RTP packets framed per RFC 4571",
	Extensions: []string{"rtp"},
	MIMETypes:  []string{"application/rtp"},
	Codecs: []media.CodecID{
		media.CodecH264, media.CodecHEVC,
		media.CodecPCMMulaw, media.CodecPCMAlaw, media.CodecPCMS16BE,
	},
}

type rtpStream struct {
	info      media.StreamInfo
	pt        uint8
	ssrc      uint32
	video     bool
	clockRate uint32
	payloader rtp.Payloader
	sequencer rtp.Sequencer
	samples   int64 // running sample count for packets without a PTS
}

// RTPMuxer writes each packet as RTP packets, every one preceded by a
// 16-bit big-endian length as in RFC 4571. SSRCs and sequence numbers are
// deterministic so identical input produces identical output.
type RTPMuxer struct {
	log     *slog.Logger
	w       io.Writer
	streams []*rtpStream
	started bool
	written int64
}

// NewRTPMuxer creates an RTP muxer writing to w.
func NewRTPMuxer(w io.Writer, opts format.Options) *RTPMuxer {
	return &RTPMuxer{
		log: opts.Logger().With("component", "mux", "format", "rtp"),
		w:   w,
	}
}

// framePayloader splits raw PCM on sample frame boundaries.
type framePayloader struct {
	frame int
	codecs.G711Payloader
}

func (p *framePayloader) Payload(mtu uint16, payload []byte) [][]byte {
	return p.G711Payloader.Payload(mtu-mtu%uint16(p.frame), payload)
}

// AddStream declares a stream. G.711 must be 8 kHz mono; L16 at 44.1 kHz
// uses the static payload types, any other rate a dynamic one.
func (m *RTPMuxer) AddStream(info media.StreamInfo) (int, error) {
	if m.started {
		return 0, errHeaderWritten
	}
	idx := len(m.streams)
	s := &rtpStream{info: info}
	var payloader rtp.Payloader
	switch info.Codec {
	case media.CodecH264:
		s.pt, s.clockRate = ptDynamicMin+uint8(idx), media.Clock
		payloader, s.video = &codecs.H264Payloader{}, true
	case media.CodecHEVC:
		s.pt, s.clockRate = ptDynamicMin+uint8(idx), media.Clock
		payloader, s.video = &codecs.H265Payloader{}, true
	case media.CodecPCMMulaw, media.CodecPCMAlaw:
		if info.SampleRate != 8000 || info.Channels != 1 {
			return 0, fmt.Errorf("mux: rtp: %s needs 8000 Hz mono, got %d Hz %d channels: %w",
				info.Codec, info.SampleRate, info.Channels, format.ErrUnsupported)
		}
		s.pt, s.clockRate = ptPCMU, 8000
		if info.Codec == media.CodecPCMAlaw {
			s.pt = ptPCMA
		}
		payloader = &codecs.G711Payloader{}
	case media.CodecPCMS16BE:
		if info.SampleRate <= 0 || info.Channels <= 0 {
			return 0, fmt.Errorf("mux: rtp: L16 needs a sample rate and channel count")
		}
		s.pt, s.clockRate = ptDynamicMin+uint8(idx), uint32(info.SampleRate)
		if info.SampleRate == 44100 && info.Channels <= 2 {
			s.pt = ptL16Mono
			if info.Channels == 2 {
				s.pt = ptL16Stereo
			}
		}
		payloader = &framePayloader{frame: 2 * info.Channels}
	default:
		return 0, fmt.Errorf("mux: rtp cannot carry %s: %w", info.Codec, format.ErrUnsupported)
	}
	s.payloader = payloader
	s.sequencer = rtp.NewFixedSequencer(0)
	s.ssrc = rtpSSRCBase | uint32(idx)
	info.Index = idx
	s.info = info
	m.streams = append(m.streams, s)
	m.log.Debug("stream added", "index", idx, "codec", info.Codec, "payloadType", s.pt, "clockRate", s.clockRate)
	return idx, nil
}

// WriteHeader checks the stream list. RTP has no stream header.
func (m *RTPMuxer) WriteHeader() error {
	if len(m.streams) == 0 {
		return fmt.Errorf("mux: rtp: no streams")
	}
	m.started = true
	return nil
}

// WritePacket packetizes pkt. The RTP timestamp is the PTS rescaled to the
// stream clock.
func (m *RTPMuxer) WritePacket(pkt *media.Packet) error {
	if pkt.StreamIndex < 0 || pkt.StreamIndex >= len(m.streams) {
		return fmt.Errorf("mux: rtp: no stream %d", pkt.StreamIndex)
	}
	s := m.streams[pkt.StreamIndex]

	var ts uint32
	if pkt.PTS != media.NoPTS {
		ts = uint32(pkt.PTS * int64(s.clockRate) / media.Clock)
	} else {
		ts = uint32(s.samples)
	}
	s.samples += int64(s.frameSamples(pkt))

	payloads := s.payloader.Payload(rtpMTU-rtpHeaderSize, pkt.Data)
	for i, payload := range payloads {
		p := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         s.video && i == len(payloads)-1,
				PayloadType:    s.pt,
				SequenceNumber: s.sequencer.NextSequenceNumber(),
				Timestamp:      ts,
				SSRC:           s.ssrc,
			},
			Payload: payload,
		}
		raw, err := p.Marshal()
		if err != nil {
			return fmt.Errorf("mux: rtp: %w", err)
		}
		var hdr [2]byte
		binary.BigEndian.PutUint16(hdr[:], uint16(len(raw)))
		if _, err := m.w.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := m.w.Write(raw); err != nil {
			return err
		}
		m.written++
	}
	return nil
}

// frameSamples is the duration of pkt in stream clock ticks.
func (s *rtpStream) frameSamples(pkt *media.Packet) uint32 {
	switch s.info.Codec {
	case media.CodecPCMMulaw, media.CodecPCMAlaw:
		return uint32(len(pkt.Data))
	case media.CodecPCMS16BE:
		return uint32(len(pkt.Data) / (2 * s.info.Channels))
	}
	return uint32(pkt.Duration * int64(s.clockRate) / media.Clock)
}

// WriteTrailer writes nothing; RTP streams simply end.
func (m *RTPMuxer) WriteTrailer() error {
	m.log.Debug("rtp stream finished", "packets", m.written)
	return nil
}

func (m *RTPMuxer) Close() error {
	return nil
}
