package mpegts

import (
	"fmt"
	"io"
)

const (
	defaultPMTPID        = 0x1000
	defaultProgramNumber = 1
	firstStreamPID       = 0x100
	maxPESLength         = 0xFFFF
)

// MuxerData is one PES to be written by the Muxer.
type MuxerData struct {
	PID          uint16
	Data         []byte
	PTS          *ClockReference
	DTS          *ClockReference
	RandomAccess bool
}

type muxStream struct {
	pid        uint16
	streamType uint8
	streamID   uint8
	cc         uint8
}

// Muxer serializes PSI tables and PES packets into 188-byte transport
// packets. Every Write on the underlying writer is exactly one packet.
type Muxer struct {
	w             io.Writer
	pmtPID        uint16
	programNumber uint16
	pcrPID        uint16
	streams       []*muxStream
	ccPAT         uint8
	ccPMT         uint8
	buf           [PacketSize]byte
	packets       int64
}

// NewMuxer creates a Muxer writing to w.
func NewMuxer(w io.Writer, opts ...func(*Muxer)) *Muxer {
	m := &Muxer{
		w:             w,
		pmtPID:        defaultPMTPID,
		programNumber: defaultProgramNumber,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MuxerOptPMTPID sets the PID the PMT is written on.
func MuxerOptPMTPID(pid uint16) func(*Muxer) {
	return func(m *Muxer) {
		m.pmtPID = pid
	}
}

// MuxerOptProgramNumber sets the program number announced in PAT and PMT.
func MuxerOptProgramNumber(n uint16) func(*Muxer) {
	return func(m *Muxer) {
		if n != 0 {
			m.programNumber = n
		}
	}
}

// AddStream registers an elementary stream and returns its PID. A zero pid
// allocates the next PID from 0x100. The first video stream, or the first
// stream if there is no video, carries the PCR.
func (m *Muxer) AddStream(streamType uint8, pid uint16) (uint16, error) {
	if pid == 0 {
		pid = firstStreamPID + uint16(len(m.streams))
	}
	if pid == pidPAT || pid == m.pmtPID || pid > 0x1FFE {
		return 0, fmt.Errorf("mpegts: PID 0x%X is reserved", pid)
	}
	for _, s := range m.streams {
		if s.pid == pid {
			return 0, fmt.Errorf("mpegts: PID 0x%X already in use", pid)
		}
	}
	s := &muxStream{pid: pid, streamType: streamType, streamID: streamIDFor(streamType)}
	m.streams = append(m.streams, s)
	if m.pcrPID == 0 || (isVideoStreamType(streamType) && !m.pcrIsVideo()) {
		m.pcrPID = pid
	}
	return pid, nil
}

// PCRPID returns the PID carrying the program clock reference.
func (m *Muxer) PCRPID() uint16 {
	return m.pcrPID
}

// PacketCount returns the number of transport packets written.
func (m *Muxer) PacketCount() int64 {
	return m.packets
}

func (m *Muxer) pcrIsVideo() bool {
	for _, s := range m.streams {
		if s.pid == m.pcrPID {
			return isVideoStreamType(s.streamType)
		}
	}
	return false
}

// WriteTables writes one PAT and one PMT packet.
func (m *Muxer) WriteTables() error {
	if err := m.writeSection(pidPAT, &m.ccPAT, m.patSection()); err != nil {
		return err
	}
	return m.writeSection(m.pmtPID, &m.ccPMT, m.pmtSection())
}

// WriteData builds a PES from d and writes it as one or more transport
// packets. The first packet carries the PCR when d.PID is the PCR PID, and
// the random access flag when d.RandomAccess is set.
func (m *Muxer) WriteData(d *MuxerData) error {
	s := m.stream(d.PID)
	if s == nil {
		return fmt.Errorf("mpegts: unknown PID 0x%X", d.PID)
	}
	pes := buildPES(s.streamID, d)

	var pcr *ClockReference
	if d.PID == m.pcrPID {
		switch {
		case d.DTS != nil:
			pcr = d.DTS
		case d.PTS != nil:
			pcr = d.PTS
		}
	}

	first := true
	for len(pes) > 0 {
		var n int
		var err error
		if first {
			n, err = m.writePacket(s.pid, &s.cc, true, d.RandomAccess, pcr, pes)
			first = false
		} else {
			n, err = m.writePacket(s.pid, &s.cc, false, false, nil, pes)
		}
		if err != nil {
			return err
		}
		pes = pes[n:]
	}
	return nil
}

func (m *Muxer) stream(pid uint16) *muxStream {
	for _, s := range m.streams {
		if s.pid == pid {
			return s
		}
	}
	return nil
}

func (m *Muxer) patSection() []byte {
	// table_id, section_length placeholder, transport_stream_id,
	// version 0 + current_next, section numbers, one program entry.
	sec := []byte{
		tableIDPAT, 0xB0, 0x00,
		0x00, 0x01,
		0xC1, 0x00, 0x00,
		byte(m.programNumber >> 8), byte(m.programNumber),
		0xE0 | byte(m.pmtPID>>8), byte(m.pmtPID),
	}
	return finishSection(sec)
}

func (m *Muxer) pmtSection() []byte {
	sec := []byte{
		tableIDPMT, 0xB0, 0x00,
		byte(m.programNumber >> 8), byte(m.programNumber),
		0xC1, 0x00, 0x00,
		0xE0 | byte(m.pcrPID>>8), byte(m.pcrPID),
		0xF0, 0x00,
	}
	for _, s := range m.streams {
		sec = append(sec, s.streamType, 0xE0|byte(s.pid>>8), byte(s.pid), 0xF0, 0x00)
	}
	return finishSection(sec)
}

// finishSection fills in section_length and appends the CRC.
func finishSection(sec []byte) []byte {
	length := len(sec) - 3 + 4
	sec[1] = 0xB0 | byte(length>>8)&0x0F
	sec[2] = byte(length)
	return appendCRC32(sec)
}

func (m *Muxer) writeSection(pid uint16, cc *uint8, section []byte) error {
	payload := make([]byte, PacketSize-4)
	payload[0] = 0 // pointer field
	n := copy(payload[1:], section)
	if n < len(section) {
		return fmt.Errorf("mpegts: section of %d bytes does not fit one packet", len(section))
	}
	for i := 1 + n; i < len(payload); i++ {
		payload[i] = 0xFF
	}
	_, err := m.writePacket(pid, cc, true, false, nil, payload)
	return err
}

// writePacket writes one transport packet carrying as much of payload as
// fits and returns the number of payload bytes consumed. Short payloads are
// padded with adaptation field stuffing.
func (m *Muxer) writePacket(pid uint16, cc *uint8, pusi, rai bool, pcr *ClockReference, payload []byte) (int, error) {
	pkt := m.buf[:]
	pkt[0] = syncByte
	pkt[1] = byte(pid>>8) & 0x1F
	if pusi {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid)

	// afSize includes the adaptation_field_length byte.
	afSize := 0
	if rai || pcr != nil {
		afSize = 2
		if pcr != nil {
			afSize += 6
		}
	}
	n := len(payload)
	if n > PacketSize-4-afSize {
		n = PacketSize - 4 - afSize
	}
	afSize = PacketSize - 4 - n

	ctrl := byte(0x10)
	if afSize > 0 {
		ctrl |= 0x20
		pkt[4] = byte(afSize - 1)
		if afSize > 1 {
			var flags byte
			if rai {
				flags |= 0x40
			}
			if pcr != nil {
				flags |= 0x10
			}
			pkt[5] = flags
			i := 6
			if pcr != nil {
				putPCR(pkt[6:12], pcr.Base)
				i = 12
			}
			for ; i < 4+afSize; i++ {
				pkt[i] = 0xFF
			}
		}
	}
	pkt[3] = ctrl | (*cc & 0x0F)
	*cc = (*cc + 1) & 0x0F
	copy(pkt[4+afSize:], payload[:n])

	if _, err := m.w.Write(pkt); err != nil {
		return 0, fmt.Errorf("mpegts: write packet: %w", err)
	}
	m.packets++
	return n, nil
}

// buildPES assembles the PES header and payload. Lengths above 0xFFFF are
// written as 0 (unbounded), which is only legal for video.
func buildPES(streamID uint8, d *MuxerData) []byte {
	var indicator byte
	hdrLen := 0
	if d.PTS != nil {
		indicator = 2
		hdrLen = 5
		if d.DTS != nil && d.DTS.Base != d.PTS.Base {
			indicator = 3
			hdrLen = 10
		}
	}

	pesLen := 3 + hdrLen + len(d.Data)
	if pesLen > maxPESLength {
		pesLen = 0
	}

	pes := make([]byte, 0, 9+hdrLen+len(d.Data))
	pes = append(pes, 0x00, 0x00, 0x01, streamID, byte(pesLen>>8), byte(pesLen))
	pes = append(pes, 0x80, indicator<<6, byte(hdrLen))
	switch indicator {
	case 2:
		pes = appendTimestamp(pes, 0x02, d.PTS.Base)
	case 3:
		pes = appendTimestamp(pes, 0x03, d.PTS.Base)
		pes = appendTimestamp(pes, 0x01, d.DTS.Base)
	}
	return append(pes, d.Data...)
}

func appendTimestamp(b []byte, marker byte, v int64) []byte {
	v &= 0x1FFFFFFFF
	return append(b,
		marker<<4|byte(v>>29)&0x0E|0x01,
		byte(v>>22),
		byte(v>>14)&0xFE|0x01,
		byte(v>>7),
		byte(v<<1)&0xFE|0x01,
	)
}

func putPCR(b []byte, base int64) {
	base &= 0x1FFFFFFFF
	b[0] = byte(base >> 25)
	b[1] = byte(base >> 17)
	b[2] = byte(base >> 9)
	b[3] = byte(base >> 1)
	b[4] = byte(base<<7) | 0x7E
	b[5] = 0
}

func isVideoStreamType(t uint8) bool {
	return t == StreamTypeH264 || t == StreamTypeHEVC
}

func streamIDFor(t uint8) uint8 {
	switch {
	case isVideoStreamType(t):
		return 0xE0
	case t == StreamTypeBlurayLPCM:
		return 0xBD
	default:
		return 0xC0
	}
}
