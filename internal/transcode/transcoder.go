// Package transcode implements the push-driven transcode job: a state
// machine that feeds pushed input through demux, decode, encode and mux and
// hands the muxed bytes to a callback as they are produced.
//
// A Job never blocks and owns no goroutines. Each Push runs the pipeline
// until it needs more input; Finish marks the end of input and drains it.
package transcode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/refract/internal/codec"
	"github.com/zsiec/refract/internal/format"
	"github.com/zsiec/refract/internal/media"
)

// probeSize is the input prefix needed to probe the container.
const probeSize = 3 * 188

// outputBufferSize is the write buffer between the muxer and OnData.
const outputBufferSize = 4096

// Callbacks receive a Job's output. They are called synchronously from
// Push, Finish and Abort.
type Callbacks struct {
	// OnData receives muxed output. The slice is only valid during the call.
	OnData func([]byte)
	// OnDone is called once the trailer has been written.
	OnDone func()
	// OnError is called when the job fails. Exactly one of OnDone and
	// OnError is called.
	OnError func(*Error)
}

// Option configures a Job.
type Option func(*Job)

// WithLogger sets the logger. The default is slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(j *Job) {
		if log != nil {
			j.log = log
		}
	}
}

// WithFormats sets the container registry. The default is DefaultFormats.
func WithFormats(r *format.Registry) Option {
	return func(j *Job) {
		if r != nil {
			j.formats = r
		}
	}
}

// WithCodecs sets the codec registry. The default is codec.DefaultRegistry.
func WithCodecs(r *codec.Registry) Option {
	return func(j *Job) {
		if r != nil {
			j.codecs = r
		}
	}
}

// WithStats sets a recorder that observes the job.
func WithStats(rec StatsRecorder) Option {
	return func(j *Job) {
		if rec != nil {
			j.rec = rec
		}
	}
}

// WithID sets the id attached to the job's log lines.
func WithID(id string) Option {
	return func(j *Job) {
		j.id = id
	}
}

// Binding pairs a selected input stream with its output stream.
type Binding struct {
	Input   media.StreamInfo `json:"input"`
	Output  media.StreamInfo `json:"output"`
	Encoder string           `json:"encoder"`
}

type binding struct {
	Binding
	dec codec.Decoder
	enc codec.Encoder

	decIdle      bool // decoder needs another packet
	flushSent    bool
	decDrained   bool
	encFlushSent bool
	drained      bool
}

// Job is one transcode. It is not safe for concurrent use, except for
// State, Stats and Streams.
type Job struct {
	cfg     Config
	cb      Callbacks
	log     *slog.Logger
	id      string
	formats *format.Registry
	codecs  *codec.Registry
	rec     StatsRecorder

	state    atomic.Int32
	in       *Cursor
	release  releaseStack
	finished bool
	running  bool
	err      *Error
	stats    counters

	demuxer format.Demuxer
	muxer   format.Muxer
	out     *bufio.Writer

	mu       sync.Mutex // guards bindings for Streams
	bindings []*binding
	selected bool

	// Stage scratch.
	cur      *binding
	pkt      *media.Packet
	frame    *media.Frame
	draining bool
}

// New validates cfg and returns a Job in the OpenDemuxer state. Nothing is
// read or written until the first Push.
func New(cfg Config, cb Callbacks, opts ...Option) (*Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	j := &Job{
		cfg:     cfg,
		cb:      cb,
		log:     slog.Default(),
		formats: DefaultFormats(),
		codecs:  codec.DefaultRegistry(),
		rec:     nopRecorder{},
		in:      NewCursor(cfg.MaxPendingBytes),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.log = j.log.With("component", "transcode")
	if j.id != "" {
		j.log = j.log.With("job", j.id)
	}
	if j.cb.OnData == nil {
		j.cb.OnData = func([]byte) {}
	}
	j.setState(StateOpenDemuxer)
	return j, nil
}

// State returns the current state.
func (j *Job) State() State {
	return State(j.state.Load())
}

// setState moves to s unless the job is already terminal. A callback can
// fail the job while a stage is still running; the stage's own transition
// must not undo that.
func (j *Job) setState(s State) {
	for {
		cur := j.state.Load()
		prev := State(cur)
		if prev.Terminal() {
			return
		}
		if j.state.CompareAndSwap(cur, int32(s)) {
			if prev != s {
				j.log.Debug("state", "from", prev, "to", s)
			}
			return
		}
	}
}

// halted reports whether the job ended, possibly from inside a callback.
func (j *Job) halted() bool {
	return j.State().Terminal()
}

// Stats returns a snapshot of the job's counters.
func (j *Job) Stats() Stats {
	return j.stats.snapshot()
}

// Streams returns the stream bindings once the output streams exist.
func (j *Job) Streams() []Binding {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Binding, len(j.bindings))
	for i, b := range j.bindings {
		out[i] = b.Binding
	}
	return out
}

// Err returns the failure of a Failed job.
func (j *Job) Err() *Error {
	return j.err
}

// Push queues chunk and runs the pipeline until it needs more input or
// reaches a terminal state. It returns the job's *Error if the job failed
// during this call, and a ProtocolMisuse error after Finish or a terminal
// state. An empty chunk does nothing.
func (j *Job) Push(chunk []byte) error {
	if j.finished || j.State().Terminal() {
		return j.misuse("push after end of input")
	}
	if len(chunk) == 0 {
		return nil
	}
	if err := j.in.Supply(chunk); err != nil {
		j.fail(newError(KindResourceExhaustion, j.State(), err))
		return j.err
	}
	j.stats.bytesIn.Add(int64(len(chunk)))
	j.rec.RecordInput(len(chunk))
	if j.running {
		// Pushed from a callback; the running loop picks it up.
		return nil
	}
	return j.run()
}

// Finish declares the end of input and drains the pipeline to Done or
// Failed.
func (j *Job) Finish() error {
	if j.finished || j.State().Terminal() {
		return j.misuse("finish after end of input")
	}
	j.finished = true
	j.in.Close()
	if j.running {
		return nil
	}
	return j.run()
}

// Abort releases every resource without writing a trailer and fails the
// job with KindAborted. It does nothing once the job is terminal.
func (j *Job) Abort() {
	if j.State().Terminal() {
		return
	}
	j.finished = true
	j.fail(&Error{Kind: KindAborted, Stage: j.State(), Err: errors.New("aborted by caller")})
}

func (j *Job) misuse(msg string) error {
	return &Error{Kind: KindProtocolMisuse, Stage: j.State(), Err: errors.New(msg)}
}

// run steps until the job suspends or terminates.
func (j *Job) run() error {
	j.running = true
	defer func() { j.running = false }()
	for !j.State().Terminal() {
		suspend, err := j.step()
		if j.halted() {
			break
		}
		if err != nil {
			j.fail(newError(classify(err, KindCodecError), j.State(), err))
			break
		}
		if suspend {
			return nil
		}
	}
	if j.State() == StateFailed {
		return j.err
	}
	return nil
}

// step executes the current state once.
func (j *Job) step() (suspend bool, err error) {
	switch s := j.State(); s {
	case StateOpenDemuxer:
		return j.openDemuxer()
	case StateReadStreamInfo:
		if err := j.demuxer.FindStreamInfo(); err != nil {
			return j.suspendOr(err, KindUnsupportedFormat)
		}
		j.setState(StateSelectStreams)
	case StateSelectStreams:
		if err := j.selectStreams(); err != nil {
			return false, err
		}
		j.setState(StateValidateSelection)
	case StateValidateSelection:
		if len(j.bindings) == 0 {
			return false, newError(KindStreamNotFound, s, errors.New("no audio or video stream selected"))
		}
		j.setState(StateOpenMuxer)
	case StateOpenMuxer:
		if err := j.openMuxer(); err != nil {
			return false, err
		}
		j.setState(StateCreateOutputStreams)
	case StateCreateOutputStreams:
		if err := j.createOutputStreams(); err != nil {
			return false, err
		}
		j.setState(StateWriteHeader)
	case StateWriteHeader:
		if err := j.muxer.WriteHeader(); err != nil || j.halted() {
			return false, errOrNil(err, classify(err, KindUnsupportedFormat), s)
		}
		if err := j.out.Flush(); err != nil || j.halted() {
			return false, err
		}
		j.log.Debug("header written", "streams", len(j.bindings))
		j.setState(StateDemux)
	case StateDemux:
		return j.demux()
	case StateDecode:
		return false, j.decode()
	case StateEncode:
		return false, j.encode()
	case StateMux:
		return false, j.mux()
	case StateWriteTrailer:
		return false, j.writeTrailer()
	default:
		return false, fmt.Errorf("transcode: step in state %s", s)
	}
	return false, nil
}

// suspendOr suspends on ErrNeedMoreData and classifies anything else.
func (j *Job) suspendOr(err error, fallback Kind) (bool, error) {
	if errors.Is(err, ErrNeedMoreData) {
		return true, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = fmt.Errorf("input ended early: %w", err)
	}
	return false, newError(classify(err, fallback), j.State(), err)
}

func (j *Job) openDemuxer() (bool, error) {
	if j.demuxer == nil {
		name := j.cfg.InputFormat
		if name == "" {
			prefix := j.in.Peek(probeSize)
			if len(prefix) < probeSize && !j.in.Closed() {
				return true, nil
			}
			var err error
			if name, err = j.formats.Probe(prefix); err != nil {
				return false, newError(KindUnsupportedFormat, StateOpenDemuxer, err)
			}
			j.log.Debug("input probed", "format", name)
		}
		_, factory, err := j.formats.Demuxer(name)
		if err != nil {
			return false, newError(KindUnsupportedFormat, StateOpenDemuxer, err)
		}
		j.demuxer = factory(j.in, format.Options{Log: j.log})
		j.release.push("demuxer", j.demuxer.Close)
	}
	if err := j.demuxer.ReadHeader(); err != nil {
		return j.suspendOr(err, KindUnsupportedFormat)
	}
	j.setState(StateReadStreamInfo)
	return false, nil
}

func (j *Job) selectStreams() error {
	if j.selected {
		return nil
	}
	streams := j.demuxer.Streams()
	a, v := selectStreams(streams, j.cfg.Audio.Enabled, j.cfg.Video.Enabled)
	for _, idx := range []int{v, a} {
		if idx < 0 {
			continue
		}
		in := streams[idx]
		dec, err := j.codecs.NewDecoder(in)
		if err != nil {
			return newError(classify(err, KindCodecError), StateSelectStreams, err)
		}
		j.release.push(fmt.Sprintf("decoder %d", in.Index), dec.Close)
		j.mu.Lock()
		j.bindings = append(j.bindings, &binding{Binding: Binding{Input: in}, dec: dec})
		j.mu.Unlock()
		j.log.Info("stream selected", "index", in.Index, "kind", in.Kind, "codec", in.Codec)
	}
	j.selected = true
	return nil
}

func (j *Job) openMuxer() error {
	if j.muxer != nil {
		return nil
	}
	name, err := j.formats.Guess(j.cfg.OutputFormat, j.cfg.OutputFilename, j.cfg.OutputMIME)
	if err != nil {
		return newError(KindUnsupportedFormat, StateOpenMuxer, err)
	}
	_, factory, err := j.formats.Muxer(name)
	if err != nil {
		return newError(KindUnsupportedFormat, StateOpenMuxer, err)
	}
	s := &sink{
		onData: j.cb.OnData,
		live:   func() bool { return !j.halted() },
		count: func(n int) {
			j.stats.bytesOut.Add(int64(n))
			j.rec.RecordOutput(n)
		},
	}
	j.out = bufio.NewWriterSize(s, outputBufferSize)
	j.muxer = factory(j.out, format.Options{Log: j.log})
	j.release.push("muxer", j.muxer.Close)
	j.log.Debug("muxer opened", "format", name)
	return nil
}

func (j *Job) createOutputStreams() error {
	for _, b := range j.bindings {
		if b.enc != nil {
			continue
		}
		name, cfg := j.cfg.encoder(b.Input, j.log)
		enc, err := j.codecs.NewEncoder(name, cfg)
		if err != nil {
			return newError(classify(err, KindCodecError), StateCreateOutputStreams, err)
		}
		j.release.push("encoder "+name, enc.Close)
		b.enc = enc
		info := enc.StreamInfo()
		idx, err := j.muxer.AddStream(info)
		if err != nil {
			return newError(classify(err, KindUnsupportedFormat), StateCreateOutputStreams, err)
		}
		info.Index = idx
		j.mu.Lock()
		b.Encoder, b.Output = name, info
		j.mu.Unlock()
		j.log.Info("output stream", "index", idx, "input", b.Input.Index, "encoder", name, "codec", info.Codec)
	}
	return nil
}

func (j *Job) bindingFor(streamIndex int) *binding {
	for _, b := range j.bindings {
		if b.Input.Index == streamIndex {
			return b
		}
	}
	return nil
}

func (j *Job) demux() (bool, error) {
	if j.draining {
		for _, b := range j.bindings {
			if !b.drained {
				j.cur, j.pkt = b, nil
				j.setState(StateDecode)
				return false, nil
			}
		}
		j.setState(StateWriteTrailer)
		return false, nil
	}

	pkt, err := j.demuxer.ReadPacket()
	if errors.Is(err, io.EOF) {
		j.log.Debug("end of input, draining", "bytes", j.in.Consumed())
		j.draining = true
		return false, nil
	}
	if err != nil {
		return j.suspendOr(err, KindUnsupportedFormat)
	}
	j.stats.packetsDemuxed.Add(1)
	j.rec.RecordPacket(StageDemux)

	b := j.bindingFor(pkt.StreamIndex)
	if b == nil {
		j.stats.packetsDiscarded.Add(1)
		j.rec.RecordPacket(StageDiscard)
		return false, nil
	}
	j.cur, j.pkt = b, pkt
	j.setState(StateDecode)
	return false, nil
}

func (j *Job) decode() error {
	b := j.cur
	if !b.decDrained {
		switch {
		case j.pkt != nil:
			pkt := j.pkt
			j.pkt = nil
			if err := b.dec.SendPacket(pkt); err != nil {
				return newError(KindCodecError, StateDecode, err)
			}
		case j.draining && !b.flushSent:
			b.flushSent = true
			if err := b.dec.SendPacket(nil); err != nil {
				return newError(KindCodecError, StateDecode, err)
			}
		}
	}

	f, err := b.dec.ReceiveFrame()
	switch {
	case err == nil:
		b.decIdle = false
		j.frame = f
		j.stats.framesDecoded.Add(1)
		if !f.Compressed() {
			j.stats.samples.Add(int64(f.NumSamples()))
		}
		j.rec.RecordPacket(StageDecode)
	case errors.Is(err, codec.ErrAgain):
		b.decIdle = true
		j.frame = nil
	case errors.Is(err, io.EOF):
		b.decDrained = true
		j.frame = nil
	default:
		return newError(KindCodecError, StateDecode, err)
	}
	j.setState(StateEncode)
	return nil
}

func (j *Job) encode() error {
	b := j.cur
	switch {
	case j.frame != nil:
		f := j.frame
		j.frame = nil
		if err := b.enc.SendFrame(f); err != nil {
			return newError(KindCodecError, StateEncode, err)
		}
	case b.decDrained && !b.encFlushSent:
		b.encFlushSent = true
		if err := b.enc.SendFrame(nil); err != nil {
			return newError(KindCodecError, StateEncode, err)
		}
	}
	j.setState(StateMux)
	return nil
}

func (j *Job) mux() error {
	b := j.cur
	for {
		pkt, err := b.enc.ReceivePacket()
		switch {
		case err == nil:
			j.stats.packetsEncoded.Add(1)
			j.rec.RecordPacket(StageEncode)
			pkt.StreamIndex = b.Output.Index
			err := j.muxer.WritePacket(pkt)
			if j.halted() {
				return nil
			}
			if err != nil {
				return newError(classify(err, KindUnsupportedFormat), StateMux, err)
			}
			j.stats.packetsMuxed.Add(1)
			j.rec.RecordPacket(StageMux)
			continue
		case errors.Is(err, codec.ErrAgain):
			if b.encFlushSent {
				return newError(KindCodecError, StateMux, errors.New("encoder stalled after flush"))
			}
			if b.decIdle {
				j.setState(StateDemux)
			} else {
				j.setState(StateDecode)
			}
		case errors.Is(err, io.EOF):
			b.drained = true
			j.log.Debug("stream drained", "output", b.Output.Index)
			j.setState(StateDemux)
		default:
			return newError(KindCodecError, StateMux, err)
		}
		return nil
	}
}

func (j *Job) writeTrailer() error {
	if err := j.muxer.WriteTrailer(); err != nil || j.halted() {
		return errOrNil(err, classify(err, KindUnsupportedFormat), StateWriteTrailer)
	}
	if err := j.out.Flush(); err != nil || j.halted() {
		return err
	}
	j.release.release(j.log)
	j.in.reset()
	j.setState(StateDone)
	if j.State() != StateDone {
		return nil
	}
	st := j.Stats()
	j.log.Info("transcode done",
		"bytesIn", st.BytesIn,
		"bytesOut", st.BytesOut,
		"packetsMuxed", st.PacketsMuxed)
	j.rec.RecordTerminal(StateDone, 0)
	if j.cb.OnDone != nil {
		j.cb.OnDone()
	}
	return nil
}

// errOrNil wraps err as a stage error, or returns nil for a nil err.
func errOrNil(err error, kind Kind, stage State) error {
	if err == nil {
		return nil
	}
	return newError(kind, stage, err)
}

// fail releases everything, enters Failed and reports e once.
func (j *Job) fail(e *Error) {
	if j.State().Terminal() {
		return
	}
	j.err = e
	j.release.release(j.log)
	j.in.reset()
	j.setState(StateFailed)
	if e.Kind == KindAborted {
		j.log.Info("transcode aborted", "stage", e.Stage)
	} else {
		j.log.Warn("transcode failed", "stage", e.Stage, "kind", e.Kind, "error", e.Err)
	}
	j.rec.RecordTerminal(StateFailed, e.Kind)
	if j.cb.OnError != nil {
		j.cb.OnError(e)
	}
}
