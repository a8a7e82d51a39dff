// Package tstest builds small MPEG-TS streams for tests.
package tstest

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/zsiec/refract/internal/demux"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/mpegts"
)

// SPS is a baseline 320x240 H.264 sequence parameter set.
var SPS = []byte{
	0x67, 0x42, 0xc0, 0x1e, 0xda, 0x05, 0x07, 0xef, 0xfc, 0x00, 0x10,
	0x00, 0x0c, 0x40, 0x00, 0x00, 0xfa, 0x40, 0x00, 0x3a, 0x98, 0x30,
}

// PPS pairs with SPS.
var PPS = []byte{0x68, 0xCE, 0x38, 0x80}

// Unit is one access unit written on PID.
type Unit struct {
	PID      uint16
	Data     []byte
	PTS, DTS int64
	Keyframe bool
}

// Build muxes units into a transport stream with one elementary stream per
// stream type, on PIDs 0x100, 0x101 and so on.
func Build(t testing.TB, streamTypes []uint8, units []Unit) []byte {
	t.Helper()
	var buf bytes.Buffer
	m := mpegts.NewMuxer(&buf)
	for _, st := range streamTypes {
		if _, err := m.AddStream(st, 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.WriteTables(); err != nil {
		t.Fatal(err)
	}
	for _, u := range units {
		err := m.WriteData(&mpegts.MuxerData{
			PID:          u.PID,
			Data:         u.Data,
			PTS:          &mpegts.ClockReference{Base: u.PTS},
			DTS:          &mpegts.ClockReference{Base: u.DTS},
			RandomAccess: u.Keyframe,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

// VideoAU returns an Annex B H.264 access unit; keyframes carry SPS and PPS.
func VideoAU(key bool, n byte) []byte {
	if !key {
		return demux.AppendAnnexB(nil, []byte{0x41, 0x9A, n, 0x04})
	}
	au := demux.AppendAnnexB(nil, SPS)
	au = demux.AppendAnnexB(au, PPS)
	return demux.AppendAnnexB(au, []byte{0x65, 0x88, n, 0x33, 0xFF})
}

// LPCM returns a 48 kHz stereo 16-bit Blu-ray LPCM access unit holding the
// interleaved samples.
func LPCM(samples ...int16) []byte {
	h := demux.LPCMHeader{PayloadSize: 2 * len(samples), SampleRate: 48000, BitsPerSample: 16, Layout: media.LayoutStereo}
	b := h.Bytes()
	for _, s := range samples {
		b = binary.BigEndian.AppendUint16(b, uint16(s))
	}
	return b
}

// AV returns a stream with three H.264 access units on 0x100 and three
// LPCM units (10 stereo sample frames in total) on 0x101.
func AV(t testing.TB) []byte {
	t.Helper()
	return Build(t, []uint8{mpegts.StreamTypeH264, mpegts.StreamTypeBlurayLPCM}, []Unit{
		{PID: 0x100, Data: VideoAU(true, 1), PTS: 3003, DTS: 0, Keyframe: true},
		{PID: 0x101, Data: LPCM(1, -1, 2, -2, 3, -3, 4, -4), PTS: 0, DTS: 0},
		{PID: 0x100, Data: VideoAU(false, 2), PTS: 6006, DTS: 3003},
		{PID: 0x101, Data: LPCM(5, -5, 6, -6, 7, -7, 8, -8), PTS: 7, DTS: 7},
		{PID: 0x100, Data: VideoAU(true, 3), PTS: 9009, DTS: 6006, Keyframe: true},
		{PID: 0x101, Data: LPCM(9, -9, 10, -10), PTS: 14, DTS: 14},
	})
}

// Audio returns an LPCM-only stream of n units of four stereo sample frames.
func Audio(t testing.TB, n int) []byte {
	t.Helper()
	units := make([]Unit, n)
	for i := range units {
		s := int16(i * 4)
		units[i] = Unit{PID: 0x100, Data: LPCM(s, -s, s+1, -s-1, s+2, -s-2, s+3, -s-3), PTS: int64(i) * 8, DTS: int64(i) * 8}
	}
	return Build(t, []uint8{mpegts.StreamTypeBlurayLPCM}, units)
}
