package mpegts

import "fmt"

// PacketSize is the size of one MPEG-TS transport packet.
const PacketSize = 188

const (
	syncByte = 0x47
	pidNull  = 0x1FFF
)

func parsePacket(buf []byte) (*Packet, error) {
	if len(buf) != PacketSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), PacketSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf[0])
	}

	p := &Packet{Header: PacketHeader{
		TransportErrorIndicator:   buf[1]&0x80 != 0,
		PayloadUnitStartIndicator: buf[1]&0x40 != 0,
		PID:                       uint16(buf[1]&0x1F)<<8 | uint16(buf[2]),
		HasAdaptationField:        buf[3]&0x20 != 0,
		HasPayload:                buf[3]&0x10 != 0,
		ContinuityCounter:         buf[3] & 0x0F,
	}}

	offset := 4
	if p.Header.HasAdaptationField {
		afLen := int(buf[4])
		end := min(5+afLen, PacketSize)
		parseAdaptationField(&p.Header, buf[5:end])
		offset = end
	}

	if p.Header.HasPayload && offset < PacketSize {
		p.Payload = append([]byte(nil), buf[offset:]...)
	}
	return p, nil
}

// parseAdaptationField reads the flags and PCR of an adaptation field body
// (the bytes after adaptation_field_length).
func parseAdaptationField(h *PacketHeader, af []byte) {
	if len(af) == 0 {
		return
	}
	flags := af[0]
	h.DiscontinuityIndicator = flags&0x80 != 0
	h.RandomAccessIndicator = flags&0x40 != 0
	if flags&0x10 != 0 && len(af) >= 7 {
		h.PCR = parsePCR(af[1:7])
	}
}

// parsePCR extracts a program clock reference: the 33-bit 90 kHz base and
// the 9-bit 27 MHz extension.
func parsePCR(bs []byte) *ClockReference {
	base := int64(bs[0])<<25 |
		int64(bs[1])<<17 |
		int64(bs[2])<<9 |
		int64(bs[3])<<1 |
		int64(bs[4]>>7)
	ext := uint16(bs[4]&0x01)<<8 | uint16(bs[5])
	return &ClockReference{Base: base, Extension: ext}
}
