package mpegts

import (
	"bytes"
	"testing"
)

func FuzzParsePacket(f *testing.F) {
	f.Add(makePacket(0, 0, true, nil))
	f.Add(packetWithAF(0x100, []byte{0x10, 0, 0, 0, 0, 0x7E, 0}, -1, []byte{1}))
	f.Add(packetWithAF(0x100, nil, 200, nil))

	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) != PacketSize {
			return
		}
		p, err := parsePacket(data)
		if err == nil && len(p.Payload) > PacketSize-4 {
			t.Fatalf("payload of %d bytes", len(p.Payload))
		}
	})
}

func FuzzDemuxer(f *testing.F) {
	f.Add(append(makePacket(0, 0, true, withPointer(buildPAT(1, []patEntry{{1, 0x1000}}))),
		makePacket(0x100, 0, true, buildPESPacket(0xC0, 90000, 0, true, false, []byte{1, 2}))...))
	f.Add([]byte{syncByte, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		d := NewDemuxer(bytes.NewReader(data))
		for range PacketSize * 64 {
			if _, err := d.NextData(); err != nil {
				return
			}
		}
	})
}

func FuzzParsePES(f *testing.F) {
	f.Add(buildPESPacket(0xE0, 2790000, 2782492, true, true, []byte{0x00, 0x00, 0x01, 0x65}))
	f.Add(buildPESPacket(0xC0, 90000, 0, true, false, []byte{0x01, 0x02}))
	f.Add([]byte{0x00, 0x00, 0x01, 0xBE, 0x00, 0x04, 0xFF, 0xFF})

	f.Fuzz(func(t *testing.T, data []byte) {
		parsePES(data) // must not panic
	})
}

func FuzzParsePSI(f *testing.F) {
	f.Add(withPointer(buildPAT(1, []patEntry{{1, 0x1000}})))
	f.Add(withPointer(buildPMT(1, 0x100, []byte{descriptorRegistration, 4, 'H', 'D', 'M', 'V'}, []pmtEntry{
		{streamType: 0x80, pid: 0x101, descriptors: []byte{descriptorLanguage, 4, 'e', 'n', 'g', 0}},
	})))

	f.Fuzz(func(t *testing.T, data []byte) {
		parsePSI(&unit{payload: data}) // must not panic
	})
}
