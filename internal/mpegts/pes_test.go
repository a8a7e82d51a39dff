package mpegts

import (
	"bytes"
	"testing"
)

// encodePTS packs a 33-bit timestamp into its 5-byte form: a 4-bit prefix,
// then 3, 15 and 15 bits of the value each followed by a marker bit.
func encodePTS(prefix byte, v int64) []byte {
	hi := byte(v>>30) & 0x07
	mid := uint16(v>>15) & 0x7FFF
	lo := uint16(v) & 0x7FFF
	return []byte{
		prefix<<4 | hi<<1 | 1,
		byte(mid >> 7), byte(mid<<1) | 1,
		byte(lo >> 7), byte(lo<<1) | 1,
	}
}

// buildPESPacket builds a PES packet with the optional header. Video
// stream 0xE0 is written with length 0 (unbounded).
func buildPESPacket(streamID byte, pts, dts int64, hasPTS, hasDTS bool, data []byte) []byte {
	var flags byte
	var ts []byte
	if hasPTS && hasDTS {
		flags = 0xC0
		ts = append(encodePTS(0x03, pts), encodePTS(0x01, dts)...)
	} else if hasPTS {
		flags = 0x80
		ts = encodePTS(0x02, pts)
	}

	var length int
	if streamID != 0xE0 {
		length = 3 + len(ts) + len(data)
	}
	out := append([]byte{0, 0, 1, streamID, byte(length >> 8), byte(length), 0x80, flags, byte(len(ts))}, ts...)
	return append(out, data...)
}

func TestParsePES(t *testing.T) {
	t.Parallel()

	long := bytes.Repeat([]byte{0x5A}, 500)
	const none = -1

	tests := []struct {
		name     string
		in       []byte
		mod      func(b []byte) []byte
		streamID byte
		pts, dts int64
		data     []byte
		aligned  bool
	}{
		{name: "pts only", in: buildPESPacket(0xC0, 90000, 0, true, false, []byte{0xAA, 0xBB, 0xCC}),
			streamID: 0xC0, pts: 90000, dts: none, data: []byte{0xAA, 0xBB, 0xCC}},
		{name: "pts and dts", in: buildPESPacket(0xE0, 2790000, 2782492, true, true, []byte{1, 2}),
			streamID: 0xE0, pts: 2790000, dts: 2782492, data: []byte{1, 2}},
		{name: "no timestamps", in: buildPESPacket(0xC0, 0, 0, false, false, []byte{1}),
			streamID: 0xC0, pts: none, dts: none, data: []byte{1}},
		{name: "unbounded video", in: buildPESPacket(0xE0, 90000, 0, true, false, long),
			streamID: 0xE0, pts: 90000, dts: none, data: long},
		{name: "stuffing after bounded packet", in: buildPESPacket(0xC0, 0, 0, true, false, []byte{1, 2}),
			mod:      func(b []byte) []byte { return append(b, 0xFF, 0xFF, 0xFF) },
			streamID: 0xC0, pts: 0, dts: none, data: []byte{1, 2}},
		{name: "data alignment", in: buildPESPacket(0xC0, 0, 0, true, false, []byte{1}),
			mod:      func(b []byte) []byte { b[6] |= 0x04; return b },
			streamID: 0xC0, pts: 0, dts: none, data: []byte{1}, aligned: true},
		{name: "header length past end", in: buildPESPacket(0xC0, 90000, 0, true, false, nil),
			mod:      func(b []byte) []byte { b[8] = 40; return b },
			streamID: 0xC0, pts: 90000, dts: none, data: []byte{}},
		{name: "padding stream", in: []byte{0, 0, 1, 0xBE, 0x00, 0x04, 0xFF, 0xFF, 0xFF, 0xFF},
			streamID: 0xBE, pts: none, dts: none, data: []byte{0xFF, 0xFF, 0xFF, 0xFF}},
		{name: "max timestamp", in: buildPESPacket(0xC0, 1<<33-1, 0, true, false, []byte{0}),
			streamID: 0xC0, pts: 1<<33 - 1, dts: none, data: []byte{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := bytes.Clone(tt.in)
			if tt.mod != nil {
				in = tt.mod(in)
			}
			pes, err := parsePES(in)
			if err != nil {
				t.Fatal(err)
			}
			if pes.StreamID != tt.streamID {
				t.Errorf("stream id = 0x%02X", pes.StreamID)
			}
			checkTS(t, "PTS", pes.PTS, tt.pts)
			checkTS(t, "DTS", pes.DTS, tt.dts)
			if !bytes.Equal(pes.Data, tt.data) {
				t.Errorf("data = %d bytes, want %d", len(pes.Data), len(tt.data))
			}
			if pes.DataAlignment != tt.aligned {
				t.Errorf("data alignment = %v", pes.DataAlignment)
			}
		})
	}
}

func checkTS(t *testing.T, name string, got *ClockReference, want int64) {
	t.Helper()
	switch {
	case want < 0 && got != nil:
		t.Errorf("%s = %d, want none", name, got.Base)
	case want >= 0 && got == nil:
		t.Errorf("%s missing, want %d", name, want)
	case want >= 0 && got.Base != want:
		t.Errorf("%s = %d, want %d", name, got.Base, want)
	}
}

func TestParsePESErrors(t *testing.T) {
	t.Parallel()

	badMarker := buildPESPacket(0xC0, 0, 0, true, false, []byte{1})
	badMarker[6] = 0x40

	for name, in := range map[string][]byte{
		"short":                  {0, 0, 1},
		"start code":             {0, 0, 0, 0xE0, 0, 0},
		"short optional header":  {0, 0, 1, 0xC0, 0, 0, 0x80},
		"marker bits":            badMarker,
		"bounded below a header": {0, 0, 1, 0xC0, 0, 1, 0x80, 0x80, 5},
	} {
		if _, err := parsePES(in); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestIsPESPayload(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]bool{
		"\x00\x00\x01\xE0": true,
		"\x00\x00\x01":     true,
		"\x00\x00\x00":     false,
		"\x00\x00":         false,
	} {
		if got := isPESPayload([]byte(in)); got != want {
			t.Errorf("isPESPayload(% X) = %v", in, got)
		}
	}
}

func TestHasPESHeader(t *testing.T) {
	t.Parallel()

	for id := 0xBD; id <= 0xFF; id++ {
		want := true
		switch id {
		case 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
			want = false
		}
		if got := hasPESHeader(uint8(id)); got != want {
			t.Errorf("hasPESHeader(0x%02X) = %v", id, got)
		}
	}
}

func TestParseTimestampRoundTrip(t *testing.T) {
	t.Parallel()

	for _, v := range []int64{0, 1, 90000, 5400000, 2790000, 1 << 32, 1<<33 - 1} {
		if got := parseTimestamp(encodePTS(0x02, v)).Base; got != v {
			t.Errorf("round trip %d = %d", v, got)
		}
	}
}
