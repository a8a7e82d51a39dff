// Package mpegts reads and writes MPEG-TS transport streams. The Demuxer
// discovers PAT/PMT, reassembles PES with PTS/DTS and can be resumed after a
// starved read; the Muxer writes PSI tables and packetizes PES with PCR and
// random access signalling.
package mpegts

// Packet is a parsed 188-byte MPEG-TS transport stream packet.
type Packet struct {
	Header  PacketHeader
	Payload []byte
}

// PacketHeader contains the parsed header fields of a transport stream packet.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
	RandomAccessIndicator     bool
	PCR                       *ClockReference
}

// DemuxerData is one unit produced by the Demuxer: a PAT, a PMT or a PES.
// Exactly one of them is non-nil.
type DemuxerData struct {
	PID         uint16
	FirstPacket *Packet
	PAT         *PATData
	PMT         *PMTData
	PES         *PESData
}

// PATData is a Program Association Table.
type PATData struct {
	TransportStreamID uint16
	Version           uint8
	Programs          []*PATProgram
}

// PATProgram maps a program number to its PMT PID.
type PATProgram struct {
	ProgramMapID  uint16
	ProgramNumber uint16
}

// PMTData is a Program Map Table.
type PMTData struct {
	ProgramNumber     uint16
	Version           uint8
	PCRPID            uint16
	Registration      string // program-level registration descriptor, e.g. "HDMV"
	ElementaryStreams []*PMTElementaryStream
}

// PMTElementaryStream is one elementary stream entry of a PMT.
type PMTElementaryStream struct {
	ElementaryPID uint16
	StreamType    uint8
	Language      string // ISO 639-2 code from the language descriptor
	Registration  string
}

// PESData is a reassembled PES packet. PTS and DTS are nil when the header
// does not carry them.
type PESData struct {
	StreamID      uint8
	PTS           *ClockReference
	DTS           *ClockReference
	DataAlignment bool
	Data          []byte
}

// ClockReference is an MPEG-TS timestamp: a 33-bit base in 90 kHz units
// and, for a PCR, a 9-bit extension in 27 MHz units.
type ClockReference struct {
	Base      int64
	Extension uint16
}

// PIDFilter reports whether packets of pid should be reassembled. PAT and
// PMT PIDs are always kept.
type PIDFilter func(pid uint16) bool

// Elementary stream types carried in PMT entries.
const (
	StreamTypeAAC        uint8 = 0x0F
	StreamTypeH264       uint8 = 0x1B
	StreamTypeHEVC       uint8 = 0x24
	StreamTypeBlurayLPCM uint8 = 0x80
)
