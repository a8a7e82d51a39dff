package demux

import "errors"

// ErrInvalidADTS is returned when an ADTS header carries an invalid field.
var ErrInvalidADTS = errors.New("demux: invalid ADTS header")

// SamplesPerAACFrame is the number of PCM samples per channel coded by one
// AAC-LC raw data block.
const SamplesPerAACFrame = 1024

// aacSampleRates is indexed by sampling_frequency_index (ISO 14496-3).
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// ADTSFrame is one ADTS frame, header included.
type ADTSFrame struct {
	Data       []byte
	Profile    int // audio object type minus one
	SampleRate int
	Channels   int
	Blocks     int // raw data blocks in the frame
}

// Samples returns the number of PCM samples per channel the frame decodes
// to.
func (f ADTSFrame) Samples() int {
	return f.Blocks * SamplesPerAACFrame
}

// ParseADTS splits an ADTS stream into frames. Bytes before a sync word are
// skipped; a truncated trailing frame is dropped.
func ParseADTS(data []byte) ([]ADTSFrame, error) {
	var frames []ADTSFrame
	for off := 0; len(data)-off >= 7; {
		h := data[off:]
		if h[0] != 0xFF || h[1]&0xF0 != 0xF0 {
			off++
			continue
		}
		headerLen := 7
		if h[1]&0x01 == 0 {
			headerLen = 9 // CRC present
		}
		rateIdx := int(h[2] >> 2 & 0x0F)
		if rateIdx >= len(aacSampleRates) {
			return frames, ErrInvalidADTS
		}
		frameLen := int(h[3]&0x03)<<11 | int(h[4])<<3 | int(h[5]>>5)
		if frameLen < headerLen || frameLen > len(h) {
			break
		}
		frames = append(frames, ADTSFrame{
			Data:       h[:frameLen],
			Profile:    int(h[2] >> 6),
			SampleRate: aacSampleRates[rateIdx],
			Channels:   int(h[2]&0x01)<<2 | int(h[3]>>6),
			Blocks:     int(h[6]&0x03) + 1,
		})
		off += frameLen
	}
	return frames, nil
}
