// Package format defines the container capabilities of the transcoder: the
// Demuxer and Muxer interfaces and a Registry that resolves them by name,
// file extension, MIME type or content probe.
package format

import (
	"errors"
	"io"

	"github.com/zsiec/refract/internal/media"
)

// ErrUnsupported is returned when no registered format matches a request or
// a muxer cannot carry a codec.
var ErrUnsupported = errors.New("format: unsupported")

// Demuxer splits a container into elementary stream packets.
//
// Every method may fail with whatever error the underlying reader returned.
// A Demuxer must keep its parsing state across such failures so that the
// same call can be repeated once the reader has more bytes.
type Demuxer interface {
	// ReadHeader reads until the container's stream list is known.
	ReadHeader() error
	// FindStreamInfo reads ahead until every stream's parameters are known.
	// Packets consumed while probing are returned later by ReadPacket.
	FindStreamInfo() error
	Streams() []media.StreamInfo
	// ReadPacket returns the next packet, or io.EOF once the reader is
	// exhausted and all buffered packets have been returned.
	ReadPacket() (*media.Packet, error)
	Close() error
}

// Muxer serializes packets into a container written to an io.Writer.
type Muxer interface {
	// AddStream declares an output stream and returns its index. Streams
	// must be added before WriteHeader.
	AddStream(info media.StreamInfo) (int, error)
	WriteHeader() error
	WritePacket(pkt *media.Packet) error
	WriteTrailer() error
	Close() error
}

// DemuxerFactory creates a Demuxer reading from r.
type DemuxerFactory func(r io.Reader, opts Options) Demuxer

// MuxerFactory creates a Muxer writing to w.
type MuxerFactory func(w io.Writer, opts Options) Muxer
