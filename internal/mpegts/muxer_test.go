package mpegts

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// packetWriter records every Write separately.
type packetWriter struct {
	writes [][]byte
}

func (w *packetWriter) Write(p []byte) (int, error) {
	w.writes = append(w.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (w *packetWriter) bytes() []byte {
	var out []byte
	for _, b := range w.writes {
		out = append(out, b...)
	}
	return out
}

func TestMuxer_RoundTrip(t *testing.T) {
	t.Parallel()
	var w packetWriter
	m := NewMuxer(&w)

	audioPID, err := m.AddStream(StreamTypeAAC, 0)
	if err != nil {
		t.Fatal(err)
	}
	videoPID, err := m.AddStream(StreamTypeH264, 0)
	if err != nil {
		t.Fatal(err)
	}
	if audioPID != 0x100 || videoPID != 0x101 {
		t.Fatalf("PIDs = 0x%X, 0x%X", audioPID, videoPID)
	}
	if m.PCRPID() != videoPID {
		t.Errorf("PCR PID = 0x%X, want video 0x%X", m.PCRPID(), videoPID)
	}

	if err := m.WriteTables(); err != nil {
		t.Fatal(err)
	}

	bigFrame := bytes.Repeat([]byte{0x00, 0x00, 0x01, 0x65, 0xAB}, 100)
	writes := []*MuxerData{
		{PID: videoPID, Data: bigFrame, PTS: &ClockReference{Base: 9000}, DTS: &ClockReference{Base: 6000}, RandomAccess: true},
		{PID: audioPID, Data: []byte{0xFF, 0xF1, 0x50, 0x80, 0x01, 0x7F, 0xFC}, PTS: &ClockReference{Base: 6000}},
		{PID: videoPID, Data: []byte{0x00, 0x00, 0x01, 0x41, 0x9A}, PTS: &ClockReference{Base: 12000}},
		{PID: audioPID, Data: []byte{0xFF, 0xF1, 0x50, 0x80, 0x01, 0x7F, 0xFC, 0x21}, PTS: &ClockReference{Base: 7920}},
	}
	for _, d := range writes {
		if err := m.WriteData(d); err != nil {
			t.Fatal(err)
		}
	}

	for i, p := range w.writes {
		if len(p) != PacketSize {
			t.Fatalf("write %d is %d bytes", i, len(p))
		}
	}

	dmx := NewDemuxer(bytes.NewReader(w.bytes()))
	var pmt *PMTData
	var got []*DemuxerData
	for {
		d, err := dmx.NextData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if d.PMT != nil {
			pmt = d.PMT
		}
		if d.PES != nil {
			got = append(got, d)
		}
	}

	if pmt == nil {
		t.Fatal("no PMT")
	}
	if pmt.PCRPID != videoPID || len(pmt.ElementaryStreams) != 2 {
		t.Fatalf("PMT = %+v", pmt)
	}
	if pmt.ElementaryStreams[1].StreamType != StreamTypeH264 {
		t.Errorf("stream type = 0x%X", pmt.ElementaryStreams[1].StreamType)
	}

	byPID := map[uint16][]*DemuxerData{}
	for _, d := range got {
		byPID[d.FirstPacket.Header.PID] = append(byPID[d.FirstPacket.Header.PID], d)
	}
	video := byPID[videoPID]
	if len(video) != 2 {
		t.Fatalf("video PES = %d, want 2", len(video))
	}
	if !bytes.Equal(video[0].PES.Data, bigFrame) {
		t.Errorf("video payload mismatch: %d bytes, want %d", len(video[0].PES.Data), len(bigFrame))
	}
	oh := video[0].PES
	if oh.PTS.Base != 9000 || oh.DTS == nil || oh.DTS.Base != 6000 {
		t.Errorf("video timestamps = %+v %+v", oh.PTS, oh.DTS)
	}
	if !video[0].FirstPacket.Header.RandomAccessIndicator {
		t.Error("keyframe lacks random access indicator")
	}
	if pcr := video[0].FirstPacket.Header.PCR; pcr == nil || pcr.Base != 6000 {
		t.Errorf("PCR = %+v, want 6000", pcr)
	}
	if video[1].FirstPacket.Header.RandomAccessIndicator {
		t.Error("non-keyframe flagged random access")
	}

	audio := byPID[audioPID]
	if len(audio) != 2 {
		t.Fatalf("audio PES = %d, want 2", len(audio))
	}
	if !bytes.Equal(audio[1].PES.Data, writes[3].Data) {
		t.Errorf("audio payload = %x", audio[1].PES.Data)
	}
	if audio[0].FirstPacket.Header.PCR != nil {
		t.Error("PCR on non-PCR PID")
	}
}

func TestMuxer_ContinuityCounters(t *testing.T) {
	t.Parallel()
	var w packetWriter
	m := NewMuxer(&w)
	pid, _ := m.AddStream(StreamTypeH264, 0x200)
	for i := 0; i < 20; i++ {
		if err := m.WriteData(&MuxerData{PID: pid, Data: make([]byte, 300)}); err != nil {
			t.Fatal(err)
		}
	}
	var expect uint8
	for i, p := range w.writes {
		pkt, err := parsePacket(p)
		if err != nil {
			t.Fatal(err)
		}
		if pkt.Header.ContinuityCounter != expect {
			t.Fatalf("packet %d CC = %d, want %d", i, pkt.Header.ContinuityCounter, expect)
		}
		expect = (expect + 1) & 0x0F
	}
	if m.PacketCount() != int64(len(w.writes)) {
		t.Errorf("PacketCount = %d, want %d", m.PacketCount(), len(w.writes))
	}
}

func TestMuxer_AddStreamRejectsReservedPID(t *testing.T) {
	t.Parallel()
	m := NewMuxer(io.Discard)
	if _, err := m.AddStream(StreamTypeAAC, defaultPMTPID); err == nil {
		t.Error("expected error for PMT PID")
	}
	if _, err := m.AddStream(StreamTypeAAC, 0x300); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddStream(StreamTypeAAC, 0x300); err == nil {
		t.Error("expected error for duplicate PID")
	}
	if err := m.WriteData(&MuxerData{PID: 0x301}); err == nil {
		t.Error("expected error for unknown PID")
	}
}

func TestMuxer_TablesVerifyCRC(t *testing.T) {
	t.Parallel()
	m := NewMuxer(io.Discard, MuxerOptProgramNumber(7))
	if _, err := m.AddStream(StreamTypeHEVC, 0); err != nil {
		t.Fatal(err)
	}
	pat, err := parsePATSection(m.patSection())
	if err != nil {
		t.Fatal(err)
	}
	if len(pat.Programs) != 1 || pat.Programs[0].ProgramNumber != 7 || pat.Programs[0].ProgramMapID != defaultPMTPID {
		t.Errorf("PAT = %+v", pat.Programs[0])
	}
	pmt, err := parsePMTSection(m.pmtSection())
	if err != nil {
		t.Fatal(err)
	}
	if pmt.ProgramNumber != 7 || pmt.ElementaryStreams[0].StreamType != StreamTypeHEVC {
		t.Errorf("PMT = %+v", pmt)
	}
}
