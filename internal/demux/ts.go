package demux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/refract/internal/format"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/mpegts"
)

const (
	// ProbeSize is the number of bytes the TS probes look at.
	ProbeSize = 3 * mpegts.PacketSize

	m2tsPacketSize = 192

	// maxProbePES bounds how many PES FindStreamInfo reads while waiting for
	// stream parameters.
	maxProbePES = 1024
)

// TSDemuxer reads elementary stream packets from an MPEG-TS byte stream.
type TSDemuxer struct {
	log *slog.Logger
	dmx *mpegts.Demuxer

	streams  []media.StreamInfo
	pidIndex map[uint16]int

	headerDone bool
	infoDone   bool
	eof        bool
	probedPES  int
	pending    []*media.Packet
}

// NewTSDemuxer creates a demuxer for 188-byte transport packets.
func NewTSDemuxer(r io.Reader, opts format.Options) *TSDemuxer {
	return newTSDemuxer(r, opts, mpegts.PacketSize)
}

// NewM2TSDemuxer creates a demuxer for 192-byte BDAV transport packets.
func NewM2TSDemuxer(r io.Reader, opts format.Options) *TSDemuxer {
	return newTSDemuxer(r, opts, m2tsPacketSize)
}

func newTSDemuxer(r io.Reader, opts format.Options, packetSize int) *TSDemuxer {
	d := &TSDemuxer{
		log:      opts.Logger().With("component", "demux"),
		pidIndex: make(map[uint16]int),
	}
	d.dmx = mpegts.NewDemuxer(r,
		mpegts.DemuxerOptPacketSize(packetSize),
		mpegts.DemuxerOptPIDFilter(d.boundPID),
	)
	return d
}

// boundPID keeps every PID until the program map is known, then only the
// PIDs of selected streams.
func (d *TSDemuxer) boundPID(pid uint16) bool {
	if !d.headerDone {
		return true
	}
	_, ok := d.pidIndex[pid]
	return ok
}

// ReadHeader reads until the first PMT. Input that ends before a PMT yields
// a demuxer with no streams.
func (d *TSDemuxer) ReadHeader() error {
	for !d.headerDone {
		data, err := d.dmx.NextData()
		if errors.Is(err, io.EOF) {
			d.log.Warn("input ended before a program map table")
			d.headerDone = true
			d.eof = true
			return nil
		}
		if err != nil {
			return err
		}
		if data.PMT != nil {
			d.addStreams(data.PMT)
			d.headerDone = true
		}
	}
	return nil
}

func (d *TSDemuxer) addStreams(pmt *mpegts.PMTData) {
	for _, es := range pmt.ElementaryStreams {
		kind, codec, ok := streamTypeCodec(es.StreamType)
		if !ok {
			d.log.Debug("ignoring elementary stream", "pid", es.ElementaryPID, "streamType", es.StreamType)
			continue
		}
		if _, dup := d.pidIndex[es.ElementaryPID]; dup {
			continue
		}
		idx := len(d.streams)
		d.pidIndex[es.ElementaryPID] = idx
		d.streams = append(d.streams, media.StreamInfo{
			Index:    idx,
			Kind:     kind,
			Codec:    codec,
			ID:       int(es.ElementaryPID),
			Language: es.Language,
		})
		d.log.Info("found stream", "index", idx, "pid", es.ElementaryPID, "codec", codec, "language", es.Language)
	}
}

func streamTypeCodec(t uint8) (media.Kind, media.CodecID, bool) {
	switch t {
	case mpegts.StreamTypeH264:
		return media.KindVideo, media.CodecH264, true
	case mpegts.StreamTypeHEVC:
		return media.KindVideo, media.CodecHEVC, true
	case mpegts.StreamTypeAAC:
		return media.KindAudio, media.CodecAAC, true
	case mpegts.StreamTypeBlurayLPCM:
		return media.KindAudio, media.CodecPCMBluray, true
	}
	return media.KindUnknown, "", false
}

// FindStreamInfo reads packets until every stream's parameters are known,
// the input ends or maxProbePES PES have been read. Packets read here are
// queued for ReadPacket.
func (d *TSDemuxer) FindStreamInfo() error {
	if !d.headerDone {
		return fmt.Errorf("demux: FindStreamInfo before ReadHeader")
	}
	for !d.infoDone {
		if d.eof || d.complete() || d.probedPES >= maxProbePES {
			d.infoDone = true
			break
		}
		pkt, err := d.nextPacket()
		if errors.Is(err, io.EOF) {
			d.eof = true
			continue
		}
		if err != nil {
			return err
		}
		d.probedPES++
		d.pending = append(d.pending, pkt)
	}
	for _, s := range d.streams {
		if !s.Complete() {
			d.log.Warn("stream parameters incomplete", "index", s.Index, "codec", s.Codec)
		}
	}
	return nil
}

func (d *TSDemuxer) complete() bool {
	for _, s := range d.streams {
		if !s.Complete() {
			return false
		}
	}
	return true
}

// Streams returns the discovered streams ordered by index.
func (d *TSDemuxer) Streams() []media.StreamInfo {
	out := make([]media.StreamInfo, len(d.streams))
	copy(out, d.streams)
	return out
}

// ReadPacket returns queued probe packets first, then reads on.
func (d *TSDemuxer) ReadPacket() (*media.Packet, error) {
	if len(d.pending) > 0 {
		pkt := d.pending[0]
		d.pending[0] = nil
		d.pending = d.pending[1:]
		return pkt, nil
	}
	if d.eof {
		return nil, io.EOF
	}
	pkt, err := d.nextPacket()
	if errors.Is(err, io.EOF) {
		d.eof = true
	}
	return pkt, err
}

// Close logs transport statistics. The reader is owned by the caller.
func (d *TSDemuxer) Close() error {
	d.log.Debug("demuxer closed",
		"packets", d.dmx.PacketCount(),
		"skippedBytes", d.dmx.SkippedBytes(),
		"discontinuities", d.dmx.Discontinuities(),
		"droppedUnits", d.dmx.DroppedUnits())
	return nil
}

func (d *TSDemuxer) nextPacket() (*media.Packet, error) {
	for {
		data, err := d.dmx.NextData()
		if err != nil {
			return nil, err
		}
		if data.PES == nil || len(data.PES.Data) == 0 {
			continue
		}
		idx, ok := d.pidIndex[data.PID]
		if !ok {
			continue
		}
		pkt := d.packetFromPES(idx, data)
		d.updateStreamInfo(idx, pkt.Data)
		return pkt, nil
	}
}

func (d *TSDemuxer) packetFromPES(idx int, data *mpegts.DemuxerData) *media.Packet {
	pkt := &media.Packet{
		StreamIndex: idx,
		Data:        data.PES.Data,
		PTS:         media.NoPTS,
		DTS:         media.NoPTS,
		Keyframe:    data.FirstPacket.Header.RandomAccessIndicator,
	}
	if pes := data.PES; pes.PTS != nil {
		pkt.PTS = pes.PTS.Base
		pkt.DTS = pes.PTS.Base
		if pes.DTS != nil {
			pkt.DTS = pes.DTS.Base
		}
	}
	s := d.streams[idx]
	switch s.Codec {
	case media.CodecH264:
		pkt.Keyframe = pkt.Keyframe || containsNAL(ParseAnnexB(pkt.Data), func(t byte) bool { return t == NALTypeIDR })
	case media.CodecHEVC:
		pkt.Keyframe = pkt.Keyframe || containsNAL(ParseAnnexBHEVC(pkt.Data), IsHEVCIRAP)
	default:
		pkt.Keyframe = true
	}
	return pkt
}

func containsNAL(units []NALUnit, match func(byte) bool) bool {
	for _, u := range units {
		if match(u.Type) {
			return true
		}
	}
	return false
}

// updateStreamInfo fills missing stream parameters from packet content.
func (d *TSDemuxer) updateStreamInfo(idx int, data []byte) {
	s := &d.streams[idx]
	if s.Complete() {
		return
	}
	switch s.Codec {
	case media.CodecH264:
		for _, u := range ParseAnnexB(data) {
			if u.Type != NALTypeSPS {
				continue
			}
			info, err := ParseSPS(u.Data)
			if err != nil {
				d.log.Debug("bad SPS", "pid", s.ID, "error", err)
				continue
			}
			s.Width, s.Height = info.Width, info.Height
			s.FrameRate, s.SampleAspect = info.FrameRate, info.SampleAspect
		}
	case media.CodecHEVC:
		for _, u := range ParseAnnexBHEVC(data) {
			if u.Type != HEVCNALSPS {
				continue
			}
			info, err := ParseHEVCSPS(u.Data)
			if err != nil {
				d.log.Debug("bad HEVC SPS", "pid", s.ID, "error", err)
				continue
			}
			s.Width, s.Height = info.Width, info.Height
		}
	case media.CodecAAC:
		frames, err := ParseADTS(data)
		if err != nil || len(frames) == 0 {
			return
		}
		s.SampleRate = frames[0].SampleRate
		s.Channels = frames[0].Channels
		s.Layout = media.DefaultLayout(s.Channels)
	case media.CodecPCMBluray:
		h, err := ParseLPCMHeader(data)
		if err != nil {
			d.log.Debug("bad LPCM header", "pid", s.ID, "error", err)
			return
		}
		s.SampleRate = h.SampleRate
		s.Layout = h.Layout
		s.Channels = h.Layout.Channels()
	}
}

// ProbeTS scores a prefix as 188-byte MPEG-TS.
func ProbeTS(prefix []byte) int {
	return probeSync(prefix, mpegts.PacketSize, 0)
}

// ProbeM2TS scores a prefix as 192-byte BDAV MPEG-TS.
func ProbeM2TS(prefix []byte) int {
	return probeSync(prefix, m2tsPacketSize, m2tsPacketSize-mpegts.PacketSize)
}

// probeSync counts sync bytes at packet boundaries. Three in a row is a sure
// match; a shorter input matching everywhere scores lower.
func probeSync(prefix []byte, size, offset int) int {
	seen := 0
	for i := offset; i < len(prefix) && seen < 3; i += size {
		if prefix[i] != 0x47 {
			return 0
		}
		seen++
	}
	switch seen {
	case 0:
		return 0
	case 3:
		return 100
	default:
		return 25 * seen
	}
}

var (
	tsDescriptor = format.Descriptor{
		Name:       "mpegts",
		LongName:   "MPEG-TS (MPEG-2 Transport Stream)",
		Extensions: []string{"ts", "mts"},
		MIMETypes:  []string{"video/mp2t"},
		Codecs:     []media.CodecID{media.CodecH264, media.CodecHEVC, media.CodecAAC, media.CodecPCMBluray},
		Probe:      ProbeTS,
	}
	m2tsDescriptor = format.Descriptor{
		Name:       "m2ts",
		LongName:   "BDAV MPEG-2 Transport Stream (192-byte packets)",
		Extensions: []string{"m2ts"},
		Codecs:     []media.CodecID{media.CodecH264, media.CodecHEVC, media.CodecAAC, media.CodecPCMBluray},
		Probe:      ProbeM2TS,
	}
)

// Register adds the demuxers of this package to r.
func Register(r *format.Registry) {
	r.RegisterDemuxer(tsDescriptor, func(rd io.Reader, opts format.Options) format.Demuxer {
		return NewTSDemuxer(rd, opts)
	})
	r.RegisterDemuxer(m2tsDescriptor, func(rd io.Reader, opts format.Options) format.Demuxer {
		return NewM2TSDemuxer(rd, opts)
	})
}
