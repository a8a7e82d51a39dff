package transcode

import (
	"testing"

	"github.com/zsiec/refract/internal/media"
)

func TestSelectStreams(t *testing.T) {
	t.Parallel()
	audio := func(ch int) media.StreamInfo { return media.StreamInfo{Kind: media.KindAudio, Channels: ch} }
	video := func(w int) media.StreamInfo { return media.StreamInfo{Kind: media.KindVideo, Width: w} }

	tests := []struct {
		name         string
		streams      []media.StreamInfo
		audio, video bool
		wantA, wantV int
	}{
		{"empty", nil, true, true, -1, -1},
		{"most channels", []media.StreamInfo{audio(2), audio(6), audio(1)}, true, true, 1, -1},
		{"widest", []media.StreamInfo{video(720), video(1920), video(1280)}, true, true, -1, 1},
		{"ties keep first", []media.StreamInfo{audio(2), video(640), audio(2), video(640)}, true, true, 0, 1},
		{"audio disabled", []media.StreamInfo{audio(2), video(640)}, false, true, -1, 1},
		{"video disabled", []media.StreamInfo{audio(2), video(640)}, true, false, 0, -1},
		{"unknown kind ignored", []media.StreamInfo{{Kind: media.KindUnknown, Channels: 8}, audio(1)}, true, true, 1, -1},
	}
	for _, tt := range tests {
		a, v := selectStreams(tt.streams, tt.audio, tt.video)
		if a != tt.wantA || v != tt.wantV {
			t.Errorf("%s: got audio=%d video=%d, want %d %d", tt.name, a, v, tt.wantA, tt.wantV)
		}
	}
}
