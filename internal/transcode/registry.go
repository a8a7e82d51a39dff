package transcode

import (
	"sync"

	"github.com/zsiec/refract/internal/codec"
	"github.com/zsiec/refract/internal/demux"
	"github.com/zsiec/refract/internal/format"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/mux"
)

var (
	formatsOnce    sync.Once
	defaultFormats *format.Registry
)

// DefaultFormats returns the registry holding every built-in demuxer and
// muxer.
func DefaultFormats() *format.Registry {
	formatsOnce.Do(func() {
		r := format.NewRegistry()
		demux.Register(r)
		mux.Register(r)
		defaultFormats = r
	})
	return defaultFormats
}

// Capabilities lists what a pair of registries can do.
type Capabilities struct {
	Demuxers       []format.Descriptor        `json:"demuxers"`
	Muxers         []format.Descriptor        `json:"muxers"`
	Decoders       []codec.Descriptor         `json:"decoders"`
	Encoders       []codec.Descriptor         `json:"encoders"`
	Codecs         []media.CodecDescriptor    `json:"codecs"`
	ChannelLayouts []media.ChannelLayoutEntry `json:"channelLayouts"`
	SampleFormats  []media.SampleFormat       `json:"sampleFormats"`
	PixelFormats   []media.PixelFormat        `json:"pixelFormats"`
}

// DescribeCapabilities returns the capability tables of formats and codecs.
func DescribeCapabilities(formats *format.Registry, codecs *codec.Registry) Capabilities {
	return Capabilities{
		Demuxers:       formats.Demuxers(),
		Muxers:         formats.Muxers(),
		Decoders:       codecs.Decoders(),
		Encoders:       codecs.Encoders(),
		Codecs:         media.Codecs(),
		ChannelLayouts: media.ChannelLayouts(),
		SampleFormats:  media.SampleFormats(),
		PixelFormats:   media.PixelFormats(),
	}
}
