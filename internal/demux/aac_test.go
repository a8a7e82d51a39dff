package demux

import (
	"errors"
	"testing"
)

// adtsFrame builds an ADTS frame (no CRC) around payload.
func adtsFrame(rateIdx, channels, blocks int, payload []byte) []byte {
	frameLen := 7 + len(payload)
	h := []byte{
		0xFF,
		0xF1, // MPEG-4, layer 0, no CRC
		1<<6 | byte(rateIdx)<<2 | byte(channels>>2&0x01),
		byte(channels&0x03)<<6 | byte(frameLen>>11&0x03),
		byte(frameLen >> 3),
		byte(frameLen&0x07)<<5 | 0x1F,
		0xFC | byte(blocks-1),
	}
	return append(h, payload...)
}

func TestParseADTS(t *testing.T) {
	t.Parallel()
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE}
	frames, err := ParseADTS(adtsFrame(3, 2, 1, payload))
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if f.SampleRate != 48000 {
		t.Errorf("sample rate = %d, want 48000", f.SampleRate)
	}
	if f.Channels != 2 {
		t.Errorf("channels = %d, want 2", f.Channels)
	}
	if f.Profile != 1 {
		t.Errorf("profile = %d, want 1", f.Profile)
	}
	if len(f.Data) != 7+len(payload) {
		t.Errorf("frame length = %d, want %d", len(f.Data), 7+len(payload))
	}
	if f.Samples() != 1024 {
		t.Errorf("samples = %d, want 1024", f.Samples())
	}
}

func TestParseADTSMultipleFrames(t *testing.T) {
	t.Parallel()
	var data []byte
	data = append(data, 0x00, 0x12) // junk before sync
	data = append(data, adtsFrame(4, 1, 1, []byte{1, 2, 3})...)
	data = append(data, adtsFrame(4, 6, 2, []byte{4, 5, 6, 7})...)

	frames, err := ParseADTS(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].SampleRate != 44100 || frames[0].Channels != 1 {
		t.Errorf("frame 0 = %d Hz %d ch", frames[0].SampleRate, frames[0].Channels)
	}
	if frames[1].Channels != 6 || frames[1].Blocks != 2 {
		t.Errorf("frame 1 = %d ch %d blocks", frames[1].Channels, frames[1].Blocks)
	}
	if frames[1].Samples() != 2048 {
		t.Errorf("frame 1 samples = %d, want 2048", frames[1].Samples())
	}
}

func TestParseADTSEmpty(t *testing.T) {
	t.Parallel()
	frames, err := ParseADTS(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("expected 0 frames for empty input, got %d", len(frames))
	}
}

func TestParseADTSTruncated(t *testing.T) {
	t.Parallel()
	full := adtsFrame(3, 2, 1, make([]byte, 20))
	data := append(adtsFrame(3, 2, 1, []byte{9}), full[:15]...)
	frames, err := ParseADTS(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 {
		t.Errorf("expected truncated tail to be dropped, got %d frames", len(frames))
	}
}

func TestParseADTSInvalidSampleRate(t *testing.T) {
	t.Parallel()
	_, err := ParseADTS(adtsFrame(13, 2, 1, []byte{1}))
	if !errors.Is(err, ErrInvalidADTS) {
		t.Errorf("err = %v, want ErrInvalidADTS", err)
	}
}
