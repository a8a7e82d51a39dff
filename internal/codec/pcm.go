package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/zsiec/refract/internal/demux"
	"github.com/zsiec/refract/internal/media"
)

// pcmDecoder turns raw PCM packets into interleaved s16 frames.
type pcmDecoder struct {
	codec  media.CodecID
	rate   int
	layout media.ChannelLayout
	carry  []byte
	next   int64
	// unpack converts whole sample frames of data and returns the bytes it
	// did not consume.
	unpack func(d *pcmDecoder, data []byte) ([]int16, []byte, error)
	q      queue[*media.Frame]
}

func newPCMDecoder(in media.StreamInfo, unpack func(*pcmDecoder, []byte) ([]int16, []byte, error)) *pcmDecoder {
	d := &pcmDecoder{codec: in.Codec, rate: in.SampleRate, layout: in.Layout, next: media.NoPTS, unpack: unpack}
	if d.layout == 0 {
		d.layout = media.DefaultLayout(in.Channels)
	}
	return d
}

func newFixedPCMDecoder(in media.StreamInfo, width int, read func([]byte) int16) (Decoder, error) {
	d := newPCMDecoder(in, func(d *pcmDecoder, data []byte) ([]int16, []byte, error) {
		frame := width * d.layout.Channels()
		n := len(data) / frame * frame
		out := make([]int16, n/width)
		for i := range out {
			out[i] = read(data[i*width:])
		}
		return out, data[n:], nil
	})
	if d.layout == 0 || d.rate <= 0 {
		return nil, fmt.Errorf("codec: %s: stream needs a sample rate and channel count", in.Codec)
	}
	return d, nil
}

func newS16LEDecoder(in media.StreamInfo) (Decoder, error) {
	return newFixedPCMDecoder(in, 2, func(b []byte) int16 { return int16(binary.LittleEndian.Uint16(b)) })
}

func newS16BEDecoder(in media.StreamInfo) (Decoder, error) {
	return newFixedPCMDecoder(in, 2, func(b []byte) int16 { return int16(binary.BigEndian.Uint16(b)) })
}

func newMuLawDecoder(in media.StreamInfo) (Decoder, error) {
	return newFixedPCMDecoder(in, 1, func(b []byte) int16 { return muLawToLinear(b[0]) })
}

func newALawDecoder(in media.StreamInfo) (Decoder, error) {
	return newFixedPCMDecoder(in, 1, func(b []byte) int16 { return aLawToLinear(b[0]) })
}

// newBlurayDecoder decodes HDMV LPCM. Every packet starts with its own
// header, so rate and layout follow the stream. 20- and 24-bit samples are
// truncated to 16 bits.
func newBlurayDecoder(in media.StreamInfo) (Decoder, error) {
	d := newPCMDecoder(in, func(d *pcmDecoder, data []byte) ([]int16, []byte, error) {
		h, err := demux.ParseLPCMHeader(data)
		if err != nil {
			return nil, nil, err
		}
		d.rate, d.layout = h.SampleRate, h.Layout
		width := 2
		if h.BitsPerSample > 16 {
			width = 3
		}
		payload := data[demux.LPCMHeaderSize:]
		if h.PayloadSize < len(payload) {
			payload = payload[:h.PayloadSize]
		}
		channels := h.Layout.Channels()
		frame := width * h.CodedChannels
		n := len(payload) / frame
		out := make([]int16, 0, n*channels)
		for i := 0; i < n; i++ {
			f := payload[i*frame:]
			for c := 0; c < channels; c++ {
				out = append(out, int16(binary.BigEndian.Uint16(f[c*width:])))
			}
		}
		return out, nil, nil
	})
	return d, nil
}

func (d *pcmDecoder) SendPacket(pkt *media.Packet) error {
	if d.q.flushed {
		return ErrFlushed
	}
	if pkt == nil {
		return d.q.flush()
	}
	data := pkt.Data
	if len(d.carry) > 0 {
		data = append(d.carry, data...)
	}
	samples, rest, err := d.unpack(d, data)
	if err != nil {
		return fmt.Errorf("codec: %s: %w", d.codec, err)
	}
	d.carry = append(d.carry[:0], rest...)
	if len(samples) == 0 {
		return nil
	}

	pts := pkt.PTS
	if pts == media.NoPTS {
		pts = d.next
	}
	f := &media.Frame{
		Kind:       media.KindAudio,
		PTS:        pts,
		DTS:        pts,
		Keyframe:   true,
		PCM:        samples,
		SampleRate: d.rate,
		Layout:     d.layout,
	}
	if pts != media.NoPTS {
		d.next = pts + int64(f.NumSamples())*media.Clock/int64(d.rate)
	}
	d.q.push(f)
	return nil
}

func (d *pcmDecoder) ReceiveFrame() (*media.Frame, error) {
	return d.q.pop()
}

func (d *pcmDecoder) Close() error {
	d.q.reset()
	d.carry = nil
	return nil
}

// pcmEncoder remixes, resamples and scales s16 frames and packs them into
// one of the PCM codings.
type pcmEncoder struct {
	codec  media.CodecID
	info   media.StreamInfo
	volume float64
	pack   func(e *pcmEncoder, samples []int16) []byte
	// chunk caps the sample frames per packet; 0 means one packet per frame.
	chunk int

	conv    *converter
	base    int64
	written int64
	q       queue[*media.Packet]
}

func pcmEncoderFactory(id media.CodecID) EncoderFactory {
	return func(cfg EncoderConfig) (Encoder, error) {
		if cfg.Volume < 0 {
			return nil, fmt.Errorf("codec: %s: negative volume %g", id, cfg.Volume)
		}
		rate := cfg.SampleRate
		if rate <= 0 {
			rate = cfg.Source.SampleRate
		}
		layout := cfg.Layout
		if layout == 0 {
			layout = cfg.Source.Layout
		}
		if layout == 0 {
			layout = media.DefaultLayout(cfg.Source.Channels)
		}
		if rate <= 0 || layout == 0 {
			return nil, fmt.Errorf("codec: %s: output sample rate and channel layout required", id)
		}
		e := &pcmEncoder{
			codec:  id,
			info:   media.StreamInfo{Kind: media.KindAudio, Codec: id, SampleRate: rate, Layout: layout, Channels: layout.Channels()},
			volume: cfg.Volume,
			base:   media.NoPTS,
		}
		switch id {
		case media.CodecPCMS16LE:
			e.pack = packS16(binary.LittleEndian)
		case media.CodecPCMS16BE:
			e.pack = packS16(binary.BigEndian)
		case media.CodecPCMMulaw:
			e.pack = packG711(linearToMuLaw)
		case media.CodecPCMAlaw:
			e.pack = packG711(linearToALaw)
		case media.CodecPCMBluray:
			switch rate {
			case 48000, 96000, 192000:
			default:
				return nil, fmt.Errorf("codec: %s: sample rate %d not supported", id, rate)
			}
			if !demux.LPCMLayoutSupported(layout) {
				return nil, fmt.Errorf("codec: %s: channel layout %s not supported", id, layout)
			}
			e.pack = packBluray
			e.chunk = rate / 200
		default:
			return nil, fmt.Errorf("codec: encoder %q: %w", id, ErrUnavailable)
		}
		cfg.logger().Debug("pcm encoder opened", "component", "codec", "codec", id,
			"sampleRate", rate, "layout", layout.String(), "volume", cfg.Volume)
		return e, nil
	}
}

func packS16(order binary.ByteOrder) func(*pcmEncoder, []int16) []byte {
	return func(_ *pcmEncoder, samples []int16) []byte {
		out := make([]byte, 2*len(samples))
		for i, s := range samples {
			order.PutUint16(out[2*i:], uint16(s))
		}
		return out
	}
}

func packG711(compand func(int16) byte) func(*pcmEncoder, []int16) []byte {
	return func(_ *pcmEncoder, samples []int16) []byte {
		out := make([]byte, len(samples))
		for i, s := range samples {
			out[i] = compand(s)
		}
		return out
	}
}

// packBluray writes 16-bit LPCM behind its header, padding odd channel
// counts with a silent channel.
func packBluray(e *pcmEncoder, samples []int16) []byte {
	channels := e.info.Layout.Channels()
	coded := (channels + 1) &^ 1
	n := len(samples) / channels
	h := demux.LPCMHeader{
		PayloadSize:   n * coded * 2,
		SampleRate:    e.info.SampleRate,
		BitsPerSample: 16,
		Layout:        e.info.Layout,
	}
	out := make([]byte, demux.LPCMHeaderSize+h.PayloadSize)
	copy(out, h.Bytes())
	p := out[demux.LPCMHeaderSize:]
	for i := 0; i < n; i++ {
		for c := 0; c < channels; c++ {
			binary.BigEndian.PutUint16(p[(i*coded+c)*2:], uint16(samples[i*channels+c]))
		}
	}
	return out
}

func (e *pcmEncoder) SendFrame(f *media.Frame) error {
	if e.q.flushed {
		return ErrFlushed
	}
	if f == nil {
		return e.q.flush()
	}
	if f.Compressed() {
		return fmt.Errorf("codec: %s encoder needs raw samples, got %s", e.codec, f.Codec)
	}
	if f.Layout.Channels() == 0 || f.SampleRate <= 0 {
		return fmt.Errorf("codec: %s: frame without sample rate or layout", e.codec)
	}
	if e.conv == nil || e.conv.inLayout != f.Layout || e.conv.inRate != f.SampleRate {
		e.conv = newConverter(f.Layout, f.SampleRate, e.info.Layout, e.info.SampleRate)
	}
	if e.base == media.NoPTS {
		e.base = 0
		if f.PTS != media.NoPTS {
			e.base = f.PTS
		}
	}

	samples := e.conv.convert(f.PCM)
	applyVolume(samples, e.volume)

	channels := e.info.Channels
	for len(samples) > 0 {
		n := len(samples) / channels
		if e.chunk > 0 && n > e.chunk {
			n = e.chunk
		}
		if n == 0 {
			break
		}
		e.q.push(&media.Packet{
			Data:     e.pack(e, samples[:n*channels]),
			PTS:      e.pts(e.written),
			DTS:      e.pts(e.written),
			Duration: e.pts(e.written+int64(n)) - e.pts(e.written),
			Keyframe: true,
		})
		e.written += int64(n)
		samples = samples[n*channels:]
	}
	return nil
}

func (e *pcmEncoder) pts(samples int64) int64 {
	return e.base + samples*media.Clock/int64(e.info.SampleRate)
}

func (e *pcmEncoder) ReceivePacket() (*media.Packet, error) {
	return e.q.pop()
}

func (e *pcmEncoder) StreamInfo() media.StreamInfo {
	return e.info
}

func (e *pcmEncoder) Close() error {
	e.q.reset()
	return nil
}
