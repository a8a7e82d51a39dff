package demux

import (
	"testing"

	"github.com/zsiec/refract/internal/media"
)

func TestLPCMHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		h     LPCMHeader
		coded int
	}{
		{"mono 48k 16", LPCMHeader{PayloadSize: 1920, SampleRate: 48000, BitsPerSample: 16, Layout: media.LayoutMono}, 2},
		{"stereo 96k 24", LPCMHeader{PayloadSize: 2880, SampleRate: 96000, BitsPerSample: 24, Layout: media.LayoutStereo}, 2},
		{"3.0 48k 20", LPCMHeader{PayloadSize: 1440, SampleRate: 48000, BitsPerSample: 20, Layout: media.Layout3Point0}, 4},
		{"5.1 192k 16", LPCMHeader{PayloadSize: 960, SampleRate: 192000, BitsPerSample: 16, Layout: media.Layout5Point1}, 6},
		{"7.1 48k 24", LPCMHeader{PayloadSize: 5760, SampleRate: 48000, BitsPerSample: 24, Layout: media.Layout7Point1}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := tt.h.Bytes()
			if len(b) != LPCMHeaderSize {
				t.Fatalf("header length = %d", len(b))
			}
			got, err := ParseLPCMHeader(b)
			if err != nil {
				t.Fatal(err)
			}
			want := tt.h
			want.CodedChannels = tt.coded
			if got != want {
				t.Errorf("got %+v, want %+v", got, want)
			}
		})
	}
}

func TestParseLPCMHeaderErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		b    []byte
	}{
		{"short", []byte{0x00, 0x10, 0x31}},
		{"reserved assignment", []byte{0x00, 0x10, 0x21, 0x40}},
		{"unknown rate", []byte{0x00, 0x10, 0x32, 0x40}},
		{"zero depth", []byte{0x00, 0x10, 0x31, 0x00}},
	}
	for _, tt := range tests {
		if _, err := ParseLPCMHeader(tt.b); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestLPCMLayoutSupported(t *testing.T) {
	t.Parallel()
	if !LPCMLayoutSupported(media.LayoutStereo) {
		t.Error("stereo should be supported")
	}
	if !LPCMLayoutSupported(media.Layout5Point1) {
		t.Error("5.1 should be supported")
	}
	if LPCMLayoutSupported(media.LayoutQuad) {
		t.Error("quad (back pair) has no LPCM channel assignment")
	}
	if LPCMLayoutSupported(0) {
		t.Error("empty layout should not be supported")
	}
}
