// Package mux implements the output containers: MPEG-TS, RTP over a byte
// stream (RFC 4571) and streaming WAV. Each muxer writes synchronously to
// the io.Writer it was created with and never seeks.
package mux

import (
	"io"

	"github.com/zsiec/refract/internal/format"
)

// Register adds the muxers of this package to r.
func Register(r *format.Registry) {
	r.RegisterMuxer(tsDescriptor, func(w io.Writer, opts format.Options) format.Muxer {
		return NewTSMuxer(w, opts)
	})
	r.RegisterMuxer(rtpDescriptor, func(w io.Writer, opts format.Options) format.Muxer {
		return NewRTPMuxer(w, opts)
	})
	r.RegisterMuxer(wavDescriptor, func(w io.Writer, opts format.Options) format.Muxer {
		return NewWAVMuxer(w, opts)
	})
}
