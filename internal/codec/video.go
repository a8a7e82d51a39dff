package codec

import (
	"fmt"
	"log/slog"

	"github.com/zsiec/refract/internal/demux"
	"github.com/zsiec/refract/internal/media"
)

// auDecoder parses Annex B access units into compressed frames. It caches
// parameter sets and puts them back in front of keyframes that arrive
// without them, so every keyframe it emits is independently decodable.
type auDecoder struct {
	log   *slog.Logger
	codec media.CodecID

	split     func([]byte) []demux.NALUnit
	isKey     func(byte) bool
	isAUD     func(byte) bool
	paramSets []byte // NAL types in stream order
	parseSize func([]byte) (int, int, error)

	params        map[byte][]byte
	width, height int
	q             queue[*media.Frame]
}

func newH264Decoder(in media.StreamInfo) (Decoder, error) {
	return &auDecoder{
		log:       slog.Default().With("component", "codec", "codec", media.CodecH264),
		codec:     media.CodecH264,
		split:     demux.ParseAnnexB,
		isKey:     func(t byte) bool { return t == demux.NALTypeIDR },
		isAUD:     func(t byte) bool { return t == demux.NALTypeAUD },
		paramSets: []byte{demux.NALTypeSPS, demux.NALTypePPS},
		parseSize: func(nal []byte) (int, int, error) {
			if demux.H264NALType(nal[0]) != demux.NALTypeSPS {
				return 0, 0, nil
			}
			info, err := demux.ParseSPS(nal)
			return info.Width, info.Height, err
		},
		params: make(map[byte][]byte),
		width:  in.Width,
		height: in.Height,
	}, nil
}

func newHEVCDecoder(in media.StreamInfo) (Decoder, error) {
	return &auDecoder{
		log:       slog.Default().With("component", "codec", "codec", media.CodecHEVC),
		codec:     media.CodecHEVC,
		split:     demux.ParseAnnexBHEVC,
		isKey:     demux.IsHEVCIRAP,
		isAUD:     func(t byte) bool { return t == demux.HEVCNALAUD },
		paramSets: []byte{demux.HEVCNALVPS, demux.HEVCNALSPS, demux.HEVCNALPPS},
		parseSize: func(nal []byte) (int, int, error) {
			if demux.HEVCNALType(nal[0]) != demux.HEVCNALSPS {
				return 0, 0, nil
			}
			info, err := demux.ParseHEVCSPS(nal)
			return info.Width, info.Height, err
		},
		params: make(map[byte][]byte),
		width:  in.Width,
		height: in.Height,
	}, nil
}

func (d *auDecoder) isParamSet(t byte) bool {
	for _, p := range d.paramSets {
		if p == t {
			return true
		}
	}
	return false
}

func (d *auDecoder) SendPacket(pkt *media.Packet) error {
	if d.q.flushed {
		return ErrFlushed
	}
	if pkt == nil {
		return d.q.flush()
	}
	units := d.split(pkt.Data)
	if len(units) == 0 {
		d.log.Debug("dropping packet without NAL units", "pts", pkt.PTS, "size", len(pkt.Data))
		return nil
	}

	keyframe := pkt.Keyframe
	present := make(map[byte]bool)
	for _, u := range units {
		if d.isKey(u.Type) {
			keyframe = true
		}
		if !d.isParamSet(u.Type) {
			continue
		}
		present[u.Type] = true
		d.params[u.Type] = append(d.params[u.Type][:0], u.Data...)
		w, h, err := d.parseSize(u.Data)
		if err != nil {
			return fmt.Errorf("codec: %s: parameter set: %w", d.codec, err)
		}
		if w > 0 && h > 0 {
			d.width, d.height = w, h
		}
	}

	data := pkt.Data
	if keyframe {
		data = d.withParamSets(units, present)
	}
	d.q.push(&media.Frame{
		Kind:     media.KindVideo,
		PTS:      pkt.PTS,
		DTS:      pkt.DTS,
		Keyframe: keyframe,
		Codec:    d.codec,
		Data:     data,
		Width:    d.width,
		Height:   d.height,
	})
	return nil
}

// withParamSets returns the access unit with any cached parameter set it
// lacks inserted after the access unit delimiter.
func (d *auDecoder) withParamSets(units []demux.NALUnit, present map[byte]bool) []byte {
	var missing [][]byte
	for _, t := range d.paramSets {
		if !present[t] && len(d.params[t]) > 0 {
			missing = append(missing, d.params[t])
		}
	}
	if len(missing) == 0 {
		return rebuild(nil, units)
	}
	var out []byte
	i := 0
	if d.isAUD(units[0].Type) {
		out = demux.AppendAnnexB(out, units[0].Data)
		i = 1
	}
	for _, p := range missing {
		out = demux.AppendAnnexB(out, p)
	}
	return rebuild(out, units[i:])
}

func rebuild(dst []byte, units []demux.NALUnit) []byte {
	for _, u := range units {
		dst = demux.AppendAnnexB(dst, u.Data)
	}
	return dst
}

func (d *auDecoder) ReceiveFrame() (*media.Frame, error) {
	return d.q.pop()
}

func (d *auDecoder) Close() error {
	d.q.reset()
	return nil
}

// copyEncoder passes compressed frames of its own codec through unchanged.
type copyEncoder struct {
	codec    media.CodecID
	info     media.StreamInfo
	duration int64 // per frame, in media.Clock units
	stamp    int64 // spacing of frames that arrive without a PTS
	frames   int64
	q        queue[*media.Packet]
}

func copyEncoderFactory(id media.CodecID) EncoderFactory {
	return func(cfg EncoderConfig) (Encoder, error) {
		desc, ok := media.LookupCodec(id)
		if !ok {
			return nil, fmt.Errorf("codec: encoder %q: %w", id, ErrUnavailable)
		}
		e := &copyEncoder{codec: id, info: media.StreamInfo{Kind: desc.Kind, Codec: id}}
		src := cfg.Source
		switch desc.Kind {
		case media.KindVideo:
			e.info.Width, e.info.Height = src.Width, src.Height
			if e.info.Width == 0 || e.info.Height == 0 {
				e.info.Width, e.info.Height = cfg.Width, cfg.Height
			}
			e.info.FrameRate = src.FrameRate
			if !e.info.FrameRate.Valid() {
				e.info.FrameRate = cfg.FrameRate
			}
			if !e.info.FrameRate.Valid() {
				return nil, fmt.Errorf("codec: %s: no frame rate", id)
			}
			e.info.SampleAspect = src.SampleAspect
			if !e.info.SampleAspect.Valid() {
				e.info.SampleAspect = sampleAspect(cfg.Aspect, e.info.Width, e.info.Height)
			}
			e.duration = media.Clock * int64(e.info.FrameRate.Den) / int64(e.info.FrameRate.Num)
			e.stamp = e.duration
			if cfg.FrameRate.Valid() {
				e.stamp = media.Clock * int64(cfg.FrameRate.Den) / int64(cfg.FrameRate.Num)
			}
		case media.KindAudio:
			if src.SampleRate <= 0 {
				return nil, fmt.Errorf("codec: %s: source sample rate unknown", id)
			}
			e.info.SampleRate = src.SampleRate
			e.info.Layout = src.Layout
			if e.info.Layout == 0 {
				e.info.Layout = media.DefaultLayout(src.Channels)
			}
			e.info.Channels = e.info.Layout.Channels()
			if e.info.Channels == 0 {
				e.info.Channels = src.Channels
			}
			e.duration = demux.SamplesPerAACFrame * media.Clock / int64(src.SampleRate)
			e.stamp = e.duration
		}
		return e, nil
	}
}

// sampleAspect derives the pixel aspect ratio that displays a width×height
// picture at the display aspect dar.
func sampleAspect(dar media.Rational, width, height int) media.Rational {
	if !dar.Valid() || width <= 0 || height <= 0 {
		return media.Rational{}
	}
	num, den := dar.Num*height, dar.Den*width
	g := gcd(num, den)
	return media.Rational{Num: num / g, Den: den / g}
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func (e *copyEncoder) SendFrame(f *media.Frame) error {
	if e.q.flushed {
		return ErrFlushed
	}
	if f == nil {
		return e.q.flush()
	}
	if f.Codec != e.codec {
		src := string(f.Codec)
		if !f.Compressed() {
			src = "raw " + f.Kind.String()
		}
		return fmt.Errorf("codec: %s encoder cannot copy %s frames", e.codec, src)
	}
	pts := f.PTS
	if pts == media.NoPTS {
		pts = e.frames * e.stamp
	}
	dts := f.DTS
	if dts == media.NoPTS || dts > pts {
		dts = pts
	}
	e.frames++
	e.q.push(&media.Packet{
		Data:     f.Data,
		PTS:      pts,
		DTS:      dts,
		Duration: e.duration,
		Keyframe: f.Keyframe,
	})
	return nil
}

func (e *copyEncoder) ReceivePacket() (*media.Packet, error) {
	return e.q.pop()
}

func (e *copyEncoder) StreamInfo() media.StreamInfo {
	return e.info
}

func (e *copyEncoder) Close() error {
	e.q.reset()
	return nil
}
