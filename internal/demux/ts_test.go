package demux

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/zsiec/refract/internal/format"
	"github.com/zsiec/refract/internal/media"
	"github.com/zsiec/refract/internal/mpegts"
)

var (
	testPPS = []byte{0x68, 0xCE, 0x38, 0x80}
	testIDR = []byte{0x65, 0x88, 0x84, 0x00, 0x33, 0xFF}
	testP   = []byte{0x41, 0x9A, 0x02, 0x04}
)

type tsUnit struct {
	pid      uint16
	data     []byte
	pts, dts int64
	keyframe bool
}

// buildTS muxes units into a transport stream. Stream types are declared in
// order; PIDs are assigned from 0x100.
func buildTS(t *testing.T, streamTypes []uint8, units []tsUnit) []byte {
	t.Helper()
	var buf bytes.Buffer
	m := mpegts.NewMuxer(&buf)
	for _, st := range streamTypes {
		if _, err := m.AddStream(st, 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.WriteTables(); err != nil {
		t.Fatal(err)
	}
	for _, u := range units {
		d := &mpegts.MuxerData{
			PID:          u.pid,
			Data:         u.data,
			PTS:          &mpegts.ClockReference{Base: u.pts},
			DTS:          &mpegts.ClockReference{Base: u.dts},
			RandomAccess: u.keyframe,
		}
		if err := m.WriteData(d); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func lpcmUnit(samples []byte) []byte {
	h := LPCMHeader{PayloadSize: len(samples), SampleRate: 48000, BitsPerSample: 16, Layout: media.LayoutStereo}
	return append(h.Bytes(), samples...)
}

func threeStreamTS(t *testing.T) []byte {
	var idr []byte
	idr = AppendAnnexB(idr, sps320x240VUI)
	idr = AppendAnnexB(idr, testPPS)
	idr = AppendAnnexB(idr, testIDR)
	p := AppendAnnexB(nil, testP)

	return buildTS(t,
		[]uint8{mpegts.StreamTypeH264, mpegts.StreamTypeAAC, mpegts.StreamTypeBlurayLPCM},
		[]tsUnit{
			{pid: 0x100, data: idr, pts: 3003, dts: 0, keyframe: true},
			{pid: 0x101, data: adtsFrame(3, 2, 1, []byte{1, 2, 3, 4}), pts: 0, dts: 0},
			{pid: 0x102, data: lpcmUnit(make([]byte, 16)), pts: 0, dts: 0},
			{pid: 0x100, data: p, pts: 6006, dts: 3003},
			{pid: 0x101, data: adtsFrame(3, 2, 1, []byte{5, 6, 7, 8}), pts: 1920, dts: 1920},
			{pid: 0x102, data: lpcmUnit(make([]byte, 16)), pts: 360, dts: 360},
		})
}

func openStreams(t *testing.T, d *TSDemuxer) {
	t.Helper()
	if err := d.ReadHeader(); err != nil {
		t.Fatal(err)
	}
	if err := d.FindStreamInfo(); err != nil {
		t.Fatal(err)
	}
}

func readAll(t *testing.T, d *TSDemuxer) map[int][]*media.Packet {
	t.Helper()
	out := make(map[int][]*media.Packet)
	for {
		pkt, err := d.ReadPacket()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
		out[pkt.StreamIndex] = append(out[pkt.StreamIndex], pkt)
	}
}

func checkThreeStreams(t *testing.T, streams []media.StreamInfo) {
	t.Helper()
	if len(streams) != 3 {
		t.Fatalf("got %d streams, want 3", len(streams))
	}
	v := streams[0]
	if v.Kind != media.KindVideo || v.Codec != media.CodecH264 || v.ID != 0x100 {
		t.Errorf("stream 0 = %+v", v)
	}
	if v.Width != 320 || v.Height != 240 {
		t.Errorf("video size = %dx%d", v.Width, v.Height)
	}
	if v.FrameRate != (media.Rational{Num: 30000, Den: 1001}) {
		t.Errorf("frame rate = %v", v.FrameRate)
	}
	a := streams[1]
	if a.Codec != media.CodecAAC || a.SampleRate != 48000 || a.Channels != 2 || a.Layout != media.LayoutStereo {
		t.Errorf("stream 1 = %+v", a)
	}
	l := streams[2]
	if l.Codec != media.CodecPCMBluray || l.SampleRate != 48000 || l.Channels != 2 {
		t.Errorf("stream 2 = %+v", l)
	}
	for i, s := range streams {
		if s.Index != i {
			t.Errorf("stream %d has index %d", i, s.Index)
		}
		if !s.Complete() {
			t.Errorf("stream %d incomplete", i)
		}
	}
}

func checkThreeStreamPackets(t *testing.T, pkts map[int][]*media.Packet) {
	t.Helper()
	video := pkts[0]
	if len(video) != 2 {
		t.Fatalf("video packets = %d, want 2", len(video))
	}
	if !video[0].Keyframe || video[0].PTS != 3003 || video[0].DTS != 0 {
		t.Errorf("video[0] = key %v pts %d dts %d", video[0].Keyframe, video[0].PTS, video[0].DTS)
	}
	if video[1].Keyframe || video[1].PTS != 6006 || video[1].DTS != 3003 {
		t.Errorf("video[1] = key %v pts %d dts %d", video[1].Keyframe, video[1].PTS, video[1].DTS)
	}
	if !bytes.Equal(video[1].Data, AppendAnnexB(nil, testP)) {
		t.Errorf("video[1] data = %x", video[1].Data)
	}

	audio := pkts[1]
	if len(audio) != 2 || audio[1].PTS != 1920 || !audio[0].Keyframe {
		t.Errorf("audio packets = %d", len(audio))
	}
	lpcm := pkts[2]
	if len(lpcm) != 2 || len(lpcm[0].Data) != LPCMHeaderSize+16 {
		t.Errorf("lpcm packets = %d", len(lpcm))
	}
}

func TestTSDemuxer_StreamsAndPackets(t *testing.T) {
	t.Parallel()
	d := NewTSDemuxer(bytes.NewReader(threeStreamTS(t)), format.Options{})
	openStreams(t, d)
	checkThreeStreams(t, d.Streams())
	checkThreeStreamPackets(t, readAll(t, d))
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestTSDemuxer_StreamsIsACopy(t *testing.T) {
	t.Parallel()
	d := NewTSDemuxer(bytes.NewReader(threeStreamTS(t)), format.Options{})
	openStreams(t, d)
	s := d.Streams()
	s[0].Width = 1
	if d.Streams()[0].Width != 320 {
		t.Error("Streams exposed internal state")
	}
}

var errStarved = errors.New("starved")

// starvingReader hands out at most chunk bytes per call and fails every
// other call, like a push source that has run dry.
type starvingReader struct {
	data   []byte
	chunk  int
	starve bool
}

func (r *starvingReader) Read(p []byte) (int, error) {
	r.starve = !r.starve
	if r.starve {
		return 0, errStarved
	}
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := min(len(p), r.chunk, len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func retry(t *testing.T, fn func() error) {
	t.Helper()
	for i := 0; ; i++ {
		err := fn()
		if !errors.Is(err, errStarved) {
			if err != nil {
				t.Fatal(err)
			}
			return
		}
		if i > 100000 {
			t.Fatal("no progress")
		}
	}
}

func TestTSDemuxer_ResumesAfterStarvedReads(t *testing.T) {
	t.Parallel()
	d := NewTSDemuxer(&starvingReader{data: threeStreamTS(t), chunk: 50}, format.Options{})
	retry(t, d.ReadHeader)
	retry(t, d.FindStreamInfo)
	checkThreeStreams(t, d.Streams())

	pkts := make(map[int][]*media.Packet)
	for done := false; !done; {
		retry(t, func() error {
			pkt, err := d.ReadPacket()
			if errors.Is(err, io.EOF) {
				done = true
				return nil
			}
			if err == nil {
				pkts[pkt.StreamIndex] = append(pkts[pkt.StreamIndex], pkt)
			}
			return err
		})
	}
	checkThreeStreamPackets(t, pkts)
}

func TestTSDemuxer_M2TS(t *testing.T) {
	t.Parallel()
	ts := threeStreamTS(t)
	var m2ts []byte
	for off := 0; off < len(ts); off += mpegts.PacketSize {
		m2ts = append(m2ts, 0x00, 0x00, 0x00, 0x00)
		m2ts = append(m2ts, ts[off:off+mpegts.PacketSize]...)
	}
	d := NewM2TSDemuxer(bytes.NewReader(m2ts), format.Options{})
	openStreams(t, d)
	checkThreeStreams(t, d.Streams())
	checkThreeStreamPackets(t, readAll(t, d))
}

func TestTSDemuxer_EOFBeforePMT(t *testing.T) {
	t.Parallel()
	d := NewTSDemuxer(bytes.NewReader([]byte{0x47, 0x1F, 0xFF, 0x10}), format.Options{})
	openStreams(t, d)
	if n := len(d.Streams()); n != 0 {
		t.Fatalf("got %d streams, want 0", n)
	}
	if _, err := d.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Errorf("ReadPacket err = %v, want io.EOF", err)
	}
}

func TestTSDemuxer_FindStreamInfoBeforeHeader(t *testing.T) {
	t.Parallel()
	d := NewTSDemuxer(bytes.NewReader(nil), format.Options{})
	if err := d.FindStreamInfo(); err == nil {
		t.Error("expected error")
	}
}

func TestTSDemuxer_IgnoresUnknownStreamTypes(t *testing.T) {
	t.Parallel()
	const privateData = 0x06
	data := buildTS(t,
		[]uint8{privateData, mpegts.StreamTypeHEVC},
		[]tsUnit{
			{pid: 0x100, data: []byte{0xDE, 0xAD}, pts: 0, dts: 0},
			{pid: 0x101, data: AppendAnnexB(nil, hevcSPS320x240), pts: 0, dts: 0, keyframe: true},
			{pid: 0x100, data: []byte{0xBE, 0xEF}, pts: 100, dts: 100},
		})
	d := NewTSDemuxer(bytes.NewReader(data), format.Options{})
	openStreams(t, d)
	streams := d.Streams()
	if len(streams) != 1 {
		t.Fatalf("got %d streams, want 1", len(streams))
	}
	if streams[0].Codec != media.CodecHEVC || streams[0].ID != 0x101 || streams[0].Width != 320 {
		t.Errorf("stream = %+v", streams[0])
	}
	pkts := readAll(t, d)
	if len(pkts) != 1 || len(pkts[0]) != 1 || !pkts[0][0].Keyframe {
		t.Errorf("packets = %v", pkts)
	}
}

func TestProbe(t *testing.T) {
	t.Parallel()
	ts := threeStreamTS(t)
	if got := ProbeTS(ts[:ProbeSize]); got != 100 {
		t.Errorf("ProbeTS(3 packets) = %d", got)
	}
	if got := ProbeTS(ts[:2*mpegts.PacketSize]); got != 50 {
		t.Errorf("ProbeTS(2 packets) = %d", got)
	}
	if got := ProbeTS([]byte("RIFF....WAVEfmt ")); got != 0 {
		t.Errorf("ProbeTS(wav) = %d", got)
	}
	if got := ProbeM2TS(ts[:ProbeSize]); got != 0 {
		t.Errorf("ProbeM2TS(ts) = %d", got)
	}

	m2ts := make([]byte, 3*m2tsPacketSize)
	for i := 0; i < 3; i++ {
		m2ts[i*m2tsPacketSize+4] = 0x47
	}
	if got := ProbeM2TS(m2ts); got != 100 {
		t.Errorf("ProbeM2TS = %d", got)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	r := format.NewRegistry()
	Register(r)
	name, err := r.Probe(threeStreamTS(t)[:ProbeSize])
	if err != nil || name != "mpegts" {
		t.Errorf("Probe = %q, %v; want mpegts", name, err)
	}
	if _, _, err := r.Demuxer("m2ts"); err != nil {
		t.Errorf("m2ts demuxer: %v", err)
	}
}
