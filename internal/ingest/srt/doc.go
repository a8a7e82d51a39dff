// Package srt implements SRT (Secure Reliable Transport) ingest: a listener
// (Server) accepting publish connections and a Caller pulling streams from
// remote SRT listeners. Both feed the ingest registry, which hands each
// connection to a transcode pipeline.
package srt
