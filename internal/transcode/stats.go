package transcode

import "sync/atomic"

// Stats is a snapshot of a Job's counters.
type Stats struct {
	BytesIn          int64 `json:"bytesIn"`
	BytesOut         int64 `json:"bytesOut"`
	PacketsDemuxed   int64 `json:"packetsDemuxed"`
	PacketsDiscarded int64 `json:"packetsDiscarded"`
	FramesDecoded    int64 `json:"framesDecoded"`
	PacketsEncoded   int64 `json:"packetsEncoded"`
	PacketsMuxed     int64 `json:"packetsMuxed"`
	Samples          int64 `json:"samples"` // decoded PCM samples per channel
}

// Pipeline stages passed to StatsRecorder.RecordPacket.
const (
	StageDemux   = "demux"
	StageDiscard = "discard"
	StageDecode  = "decode"
	StageEncode  = "encode"
	StageMux     = "mux"
)

// StatsRecorder receives job events as they happen. Implementations must be
// safe for concurrent use by many jobs.
type StatsRecorder interface {
	RecordInput(n int)
	RecordOutput(n int)
	RecordPacket(stage string)
	RecordTerminal(state State, kind Kind)
}

type nopRecorder struct{}

func (nopRecorder) RecordInput(int)            {}
func (nopRecorder) RecordOutput(int)           {}
func (nopRecorder) RecordPacket(string)        {}
func (nopRecorder) RecordTerminal(State, Kind) {}

// counters are updated by the job and read by Stats from any goroutine.
type counters struct {
	bytesIn          atomic.Int64
	bytesOut         atomic.Int64
	packetsDemuxed   atomic.Int64
	packetsDiscarded atomic.Int64
	framesDecoded    atomic.Int64
	packetsEncoded   atomic.Int64
	packetsMuxed     atomic.Int64
	samples          atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		BytesIn:          c.bytesIn.Load(),
		BytesOut:         c.bytesOut.Load(),
		PacketsDemuxed:   c.packetsDemuxed.Load(),
		PacketsDiscarded: c.packetsDiscarded.Load(),
		FramesDecoded:    c.framesDecoded.Load(),
		PacketsEncoded:   c.packetsEncoded.Load(),
		PacketsMuxed:     c.packetsMuxed.Load(),
		Samples:          c.samples.Load(),
	}
}
