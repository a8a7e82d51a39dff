// Package codec provides the decoders and encoders bound to each selected
// stream of a transcode job.
//
// Both sides use send/receive semantics. A send queues work; a receive
// returns one result, ErrAgain when more input is needed, or io.EOF once a
// flush (a nil send) has been fully drained. Compressed video and AAC are
// carried as access units and copied through; PCM is decoded to interleaved
// signed 16-bit samples and re-encoded.
package codec

import (
	"errors"
	"io"
	"log/slog"

	"github.com/zsiec/refract/internal/media"
)

var (
	// ErrAgain is returned by a receive call when no output is available
	// until more input is sent.
	ErrAgain = errors.New("codec: resource temporarily unavailable")

	// ErrUnavailable is returned when no decoder or encoder is registered
	// under the requested name.
	ErrUnavailable = errors.New("codec: unavailable")

	// ErrFlushed is returned when input is sent after a flush.
	ErrFlushed = errors.New("codec: send after flush")
)

// Decoder turns packets of one stream into frames.
type Decoder interface {
	// SendPacket queues a packet for decoding. A nil packet starts the flush.
	SendPacket(pkt *media.Packet) error
	// ReceiveFrame returns the next decoded frame, ErrAgain or io.EOF.
	ReceiveFrame() (*media.Frame, error)
	Close() error
}

// Encoder turns frames into packets of one output stream.
type Encoder interface {
	// SendFrame queues a frame for encoding. A nil frame starts the flush.
	SendFrame(f *media.Frame) error
	// ReceivePacket returns the next encoded packet, ErrAgain or io.EOF.
	// StreamIndex is left for the caller to assign.
	ReceivePacket() (*media.Packet, error)
	// StreamInfo describes the output stream for the muxer.
	StreamInfo() media.StreamInfo
	Close() error
}

// EncoderConfig carries the source stream and the requested output
// parameters. Fields that do not apply to an encoder are ignored.
type EncoderConfig struct {
	Source media.StreamInfo

	SampleRate int
	Layout     media.ChannelLayout
	Volume     float64

	FrameRate media.Rational
	Width     int
	Height    int
	Aspect    media.Rational // display aspect ratio

	Log *slog.Logger
}

func (c EncoderConfig) logger() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

// queue is the send/receive buffer shared by every implementation.
type queue[T any] struct {
	items   []T
	flushed bool
}

func (q *queue[T]) push(v ...T) {
	q.items = append(q.items, v...)
}

func (q *queue[T]) flush() error {
	if q.flushed {
		return ErrFlushed
	}
	q.flushed = true
	return nil
}

func (q *queue[T]) pop() (T, error) {
	var zero T
	if len(q.items) == 0 {
		if q.flushed {
			return zero, io.EOF
		}
		return zero, ErrAgain
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, nil
}

func (q *queue[T]) reset() {
	q.items = nil
}
