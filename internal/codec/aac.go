package codec

import (
	"fmt"

	"github.com/zsiec/refract/internal/demux"
	"github.com/zsiec/refract/internal/media"
)

// aacDecoder splits ADTS packets into one compressed frame per ADTS frame.
type aacDecoder struct {
	next int64
	q    queue[*media.Frame]
}

func newAACDecoder(media.StreamInfo) (Decoder, error) {
	return &aacDecoder{next: media.NoPTS}, nil
}

func (d *aacDecoder) SendPacket(pkt *media.Packet) error {
	if d.q.flushed {
		return ErrFlushed
	}
	if pkt == nil {
		return d.q.flush()
	}
	frames, err := demux.ParseADTS(pkt.Data)
	if err != nil {
		return fmt.Errorf("codec: aac: %w", err)
	}
	base := pkt.PTS
	if base == media.NoPTS {
		base = d.next
	}
	var samples int64
	for _, fr := range frames {
		pts := media.NoPTS
		if base != media.NoPTS {
			pts = base + samples*media.Clock/int64(fr.SampleRate)
		}
		d.q.push(&media.Frame{
			Kind:       media.KindAudio,
			PTS:        pts,
			DTS:        pts,
			Keyframe:   true,
			Codec:      media.CodecAAC,
			Data:       fr.Data,
			SampleRate: fr.SampleRate,
			Layout:     media.DefaultLayout(fr.Channels),
		})
		samples += int64(fr.Samples())
	}
	if base != media.NoPTS && len(frames) > 0 {
		d.next = base + samples*media.Clock/int64(frames[0].SampleRate)
	}
	return nil
}

func (d *aacDecoder) ReceiveFrame() (*media.Frame, error) {
	return d.q.pop()
}

func (d *aacDecoder) Close() error {
	d.q.reset()
	return nil
}
