package mux

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/refract/internal/format"
	"github.com/zsiec/refract/internal/media"
)

// WAVE format tags.
const (
	wavFormatPCM   = 0x0001
	wavFormatALaw  = 0x0006
	wavFormatMuLaw = 0x0007

	// wavUnknownSize marks RIFF and data chunk sizes of a stream whose
	// length is not known when the header is written.
	wavUnknownSize = 0xFFFFFFFF
)

var wavDescriptor = format.Descriptor{
	Name:       "wav",
	LongName:   "WAV / WAVE (Waveform Audio)",
	Extensions: []string{"wav"},
	MIMETypes:  []string{"audio/wav", "audio/x-wav"},
	Codecs:     []media.CodecID{media.CodecPCMS16LE, media.CodecPCMMulaw, media.CodecPCMAlaw},
}

// WAVMuxer writes a single audio stream as a streaming RIFF/WAVE file.
type WAVMuxer struct {
	log     *slog.Logger
	w       io.Writer
	info    *media.StreamInfo
	started bool
	written int64
}

// NewWAVMuxer creates a WAV muxer writing to w.
func NewWAVMuxer(w io.Writer, opts format.Options) *WAVMuxer {
	return &WAVMuxer{
		log: opts.Logger().With("component", "mux", "format", "wav"),
		w:   w,
	}
}

func wavFormat(codec media.CodecID) (tag uint16, bits int, ok bool) {
	switch codec {
	case media.CodecPCMS16LE:
		return wavFormatPCM, 16, true
	case media.CodecPCMMulaw:
		return wavFormatMuLaw, 8, true
	case media.CodecPCMAlaw:
		return wavFormatALaw, 8, true
	}
	return 0, 0, false
}

// AddStream accepts exactly one audio stream.
func (m *WAVMuxer) AddStream(info media.StreamInfo) (int, error) {
	if m.started {
		return 0, errHeaderWritten
	}
	if m.info != nil {
		return 0, fmt.Errorf("mux: wav holds a single stream: %w", format.ErrUnsupported)
	}
	if _, _, ok := wavFormat(info.Codec); !ok {
		return 0, fmt.Errorf("mux: wav cannot carry %s: %w", info.Codec, format.ErrUnsupported)
	}
	if info.SampleRate <= 0 || info.Channels <= 0 {
		return 0, fmt.Errorf("mux: wav: sample rate and channel count required")
	}
	info.Index = 0
	m.info = &info
	return 0, nil
}

// WriteHeader writes the RIFF, fmt and data chunk headers. Non-PCM formats
// get the 18-byte fmt chunk with an empty extension.
func (m *WAVMuxer) WriteHeader() error {
	if m.info == nil {
		return fmt.Errorf("mux: wav: no stream")
	}
	m.started = true
	tag, bits, _ := wavFormat(m.info.Codec)
	fmtSize := 16
	if tag != wavFormatPCM {
		fmtSize = 18
	}
	blockAlign := m.info.Channels * bits / 8

	b := make([]byte, 0, 20+fmtSize+8)
	b = append(b, "RIFF"...)
	b = binary.LittleEndian.AppendUint32(b, wavUnknownSize)
	b = append(b, "WAVEfmt "...)
	b = binary.LittleEndian.AppendUint32(b, uint32(fmtSize))
	b = binary.LittleEndian.AppendUint16(b, tag)
	b = binary.LittleEndian.AppendUint16(b, uint16(m.info.Channels))
	b = binary.LittleEndian.AppendUint32(b, uint32(m.info.SampleRate))
	b = binary.LittleEndian.AppendUint32(b, uint32(m.info.SampleRate*blockAlign))
	b = binary.LittleEndian.AppendUint16(b, uint16(blockAlign))
	b = binary.LittleEndian.AppendUint16(b, uint16(bits))
	if fmtSize == 18 {
		b = binary.LittleEndian.AppendUint16(b, 0)
	}
	b = append(b, "data"...)
	b = binary.LittleEndian.AppendUint32(b, wavUnknownSize)
	_, err := m.w.Write(b)
	return err
}

// WritePacket appends the sample data.
func (m *WAVMuxer) WritePacket(pkt *media.Packet) error {
	if pkt.StreamIndex != 0 {
		return fmt.Errorf("mux: wav: no stream %d", pkt.StreamIndex)
	}
	n, err := m.w.Write(pkt.Data)
	m.written += int64(n)
	return err
}

// WriteTrailer leaves the sizes unknown; the output is never rewound.
func (m *WAVMuxer) WriteTrailer() error {
	m.log.Debug("wav finished", "dataBytes", m.written)
	return nil
}

func (m *WAVMuxer) Close() error {
	return nil
}
