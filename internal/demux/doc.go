// Package demux implements the MPEG-TS demuxer of the transcoder along with
// the elementary stream parsers it uses to discover stream parameters:
// H.264 and H.265 sequence parameter sets, ADTS headers and Blu-ray LPCM
// headers.
//
// [TSDemuxer] satisfies [format.Demuxer]. It never blocks: when its reader
// reports an error, the error is returned unchanged and the call can be
// repeated once more input is available.
package demux
