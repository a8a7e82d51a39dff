package transcode

import "github.com/zsiec/refract/internal/media"

// selectStreams picks the audio stream with the most channels and the video
// stream with the greatest width. Ties keep the earlier stream; a disabled
// kind or a kind with no streams yields -1.
func selectStreams(streams []media.StreamInfo, audio, video bool) (audioIdx, videoIdx int) {
	audioIdx, videoIdx = -1, -1
	for i, s := range streams {
		switch s.Kind {
		case media.KindAudio:
			if audio && (audioIdx < 0 || s.Channels > streams[audioIdx].Channels) {
				audioIdx = i
			}
		case media.KindVideo:
			if video && (videoIdx < 0 || s.Width > streams[videoIdx].Width) {
				videoIdx = i
			}
		}
	}
	return audioIdx, videoIdx
}
