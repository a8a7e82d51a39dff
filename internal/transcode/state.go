package transcode

import "fmt"

// State is a stage of a Job.
type State int

// Job states in execution order. Done and Failed are terminal.
const (
	StateOpenDemuxer State = iota
	StateReadStreamInfo
	StateSelectStreams
	StateValidateSelection
	StateOpenMuxer
	StateCreateOutputStreams
	StateWriteHeader
	StateDemux
	StateDecode
	StateEncode
	StateMux
	StateWriteTrailer
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateOpenDemuxer:         "open_demuxer",
	StateReadStreamInfo:      "read_stream_info",
	StateSelectStreams:       "select_streams",
	StateValidateSelection:   "validate_selection",
	StateOpenMuxer:           "open_muxer",
	StateCreateOutputStreams: "create_output_streams",
	StateWriteHeader:         "write_header",
	StateDemux:               "demux",
	StateDecode:              "decode",
	StateEncode:              "encode",
	StateMux:                 "mux",
	StateWriteTrailer:        "write_trailer",
	StateDone:                "done",
	StateFailed:              "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether s is Done or Failed.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
