package mux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/refract/internal/format"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/mpegts"
)

// maxAudioPES is the payload size up to which consecutive audio packets
// share one PES.
const maxAudioPES = 2930

var errHeaderWritten = errors.New("mux: stream added after header")

var tsDescriptor = format.Descriptor{
	Name:       "mpegts",
	LongName:   "MPEG-TS (MPEG-2 Transport Stream)",
	Extensions: []string{"ts", "mts"},
	MIMETypes:  []string{"video/mp2t"},
	Codecs:     []media.CodecID{media.CodecH264, media.CodecHEVC, media.CodecAAC, media.CodecPCMBluray},
}

type tsStream struct {
	info media.StreamInfo
	pid  uint16

	// Pending aggregated audio PES.
	pending []byte
	pts     int64
}

// TSMuxer writes a single-program transport stream.
type TSMuxer struct {
	log     *slog.Logger
	mux     *mpegts.Muxer
	streams []*tsStream
	started bool
}

// NewTSMuxer creates a transport stream muxer writing to w.
func NewTSMuxer(w io.Writer, opts format.Options) *TSMuxer {
	return &TSMuxer{
		log: opts.Logger().With("component", "mux", "format", "mpegts"),
		mux: mpegts.NewMuxer(w),
	}
}

func tsStreamType(codec media.CodecID) (uint8, bool) {
	switch codec {
	case media.CodecH264:
		return mpegts.StreamTypeH264, true
	case media.CodecHEVC:
		return mpegts.StreamTypeHEVC, true
	case media.CodecAAC:
		return mpegts.StreamTypeAAC, true
	case media.CodecPCMBluray:
		return mpegts.StreamTypeBlurayLPCM, true
	}
	return 0, false
}

// AddStream declares an elementary stream. PIDs are assigned from 0x100 in
// the order streams are added.
func (m *TSMuxer) AddStream(info media.StreamInfo) (int, error) {
	if m.started {
		return 0, errHeaderWritten
	}
	st, ok := tsStreamType(info.Codec)
	if !ok {
		return 0, fmt.Errorf("mux: mpegts cannot carry %s: %w", info.Codec, format.ErrUnsupported)
	}
	if info.Kind == media.KindUnknown {
		if d, ok := media.LookupCodec(info.Codec); ok {
			info.Kind = d.Kind
		}
	}
	pid, err := m.mux.AddStream(st, 0)
	if err != nil {
		return 0, err
	}
	idx := len(m.streams)
	info.Index, info.ID = idx, int(pid)
	m.streams = append(m.streams, &tsStream{info: info, pid: pid, pts: media.NoPTS})
	m.log.Debug("stream added", "index", idx, "pid", pid, "codec", info.Codec)
	return idx, nil
}

// WriteHeader writes the PAT and PMT.
func (m *TSMuxer) WriteHeader() error {
	if len(m.streams) == 0 {
		return fmt.Errorf("mux: mpegts: no streams")
	}
	m.started = true
	return m.mux.WriteTables()
}

// WritePacket writes pkt as PES. Video keyframes are preceded by the PAT
// and PMT. AAC packets are collected into PES of up to maxAudioPES bytes.
func (m *TSMuxer) WritePacket(pkt *media.Packet) error {
	if pkt.StreamIndex < 0 || pkt.StreamIndex >= len(m.streams) {
		return fmt.Errorf("mux: mpegts: no stream %d", pkt.StreamIndex)
	}
	s := m.streams[pkt.StreamIndex]
	if s.info.Codec == media.CodecAAC {
		return m.aggregate(s, pkt)
	}
	if s.info.Kind == media.KindVideo && pkt.Keyframe {
		if err := m.mux.WriteTables(); err != nil {
			return err
		}
	}
	return m.mux.WriteData(&mpegts.MuxerData{
		PID:          s.pid,
		Data:         pkt.Data,
		PTS:          clockRef(pkt.PTS),
		DTS:          clockRef(pkt.DTS),
		RandomAccess: pkt.Keyframe,
	})
}

func (m *TSMuxer) aggregate(s *tsStream, pkt *media.Packet) error {
	if len(s.pending) > 0 && len(s.pending)+len(pkt.Data) > maxAudioPES {
		if err := m.flushAudio(s); err != nil {
			return err
		}
	}
	if len(s.pending) == 0 {
		s.pts = pkt.PTS
	}
	s.pending = append(s.pending, pkt.Data...)
	return nil
}

func (m *TSMuxer) flushAudio(s *tsStream) error {
	if len(s.pending) == 0 {
		return nil
	}
	err := m.mux.WriteData(&mpegts.MuxerData{
		PID:          s.pid,
		Data:         s.pending,
		PTS:          clockRef(s.pts),
		RandomAccess: true,
	})
	s.pending = s.pending[:0]
	s.pts = media.NoPTS
	return err
}

// WriteTrailer flushes pending audio PES.
func (m *TSMuxer) WriteTrailer() error {
	for _, s := range m.streams {
		if err := m.flushAudio(s); err != nil {
			return err
		}
	}
	m.log.Debug("trailer written", "packets", m.mux.PacketCount())
	return nil
}

func (m *TSMuxer) Close() error {
	return nil
}

func clockRef(ts int64) *mpegts.ClockReference {
	if ts == media.NoPTS {
		return nil
	}
	return &mpegts.ClockReference{Base: ts}
}
