package mpegts

import (
	"errors"
	"fmt"
)

const (
	streamIDPaddingStream  = 0xBE
	streamIDPrivateStream2 = 0xBF
)

// isPESPayload checks for the PES start code prefix (0x000001).
func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// hasPESHeader reports whether PES packets of streamID carry the optional
// header with flags and timestamps.
func hasPESHeader(streamID uint8) bool {
	switch streamID {
	case streamIDPaddingStream, streamIDPrivateStream2,
		0xF0, 0xF1, 0xF2, 0xF8, 0xFF: // ECM, EMM, DSM-CC, H.222.1 type E, directory
		return false
	}
	return true
}

func parsePES(payload []byte) (*PESData, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !isPESPayload(payload) {
		return nil, errors.New("mpegts: invalid PES start code")
	}

	pes := &PESData{StreamID: payload[3]}
	end := len(payload)
	// A zero length is unbounded, as used for video.
	if n := int(payload[4])<<8 | int(payload[5]); n > 0 && 6+n < end {
		end = 6 + n
	}

	if !hasPESHeader(pes.StreamID) {
		pes.Data = payload[6:end]
		return pes, nil
	}

	if end < 9 {
		return nil, errors.New("mpegts: PES optional header too short")
	}
	if payload[6]&0xC0 != 0x80 {
		return nil, fmt.Errorf("mpegts: PES header marker bits 0x%02X", payload[6]>>6)
	}
	pes.DataAlignment = payload[6]&0x04 != 0

	fields := payload[9:min(9+int(payload[8]), end)]
	switch payload[7] >> 6 {
	case 2:
		if len(fields) >= 5 {
			pes.PTS = parseTimestamp(fields[0:5])
		}
	case 3:
		if len(fields) >= 10 {
			pes.PTS = parseTimestamp(fields[0:5])
			pes.DTS = parseTimestamp(fields[5:10])
		}
	}
	pes.Data = payload[9+len(fields) : end]
	return pes, nil
}

// parseTimestamp extracts a 33-bit PTS or DTS from its 5-byte encoding.
func parseTimestamp(bs []byte) *ClockReference {
	base := int64(bs[0]>>1&0x07)<<30 |
		int64(bs[1])<<22 |
		int64(bs[2]>>1&0x7F)<<15 |
		int64(bs[3])<<7 |
		int64(bs[4]>>1&0x7F)
	return &ClockReference{Base: base}
}
