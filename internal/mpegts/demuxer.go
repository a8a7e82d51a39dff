package mpegts

import (
	"bytes"
	"errors"
	"io"
)

// maxEmptyReads bounds consecutive (0, nil) reads before NextData gives up
// with io.ErrNoProgress.
const maxEmptyReads = 100

// Demuxer reads MPEG-TS packets from a reader and produces DemuxerData
// containing parsed PAT, PMT, and PES payloads.
//
// The demuxer is resumable: when the reader fails with a non-EOF error the
// partially read transport packet and all per-PID reassembly state are kept,
// and the next NextData call continues from the same byte.
type Demuxer struct {
	reader     io.Reader
	readBuf    []byte
	filled     int
	units      *reassembler
	dataBuffer []*DemuxerData
	pktSize    int
	eof        bool
	eofData    []*DemuxerData

	packets      int64
	skippedBytes int64
}

// NewDemuxer creates a new MPEG-TS demuxer reading from r.
func NewDemuxer(r io.Reader, opts ...func(*Demuxer)) *Demuxer {
	d := &Demuxer{
		reader:  r,
		pktSize: PacketSize,
		units:   newReassembler(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.readBuf = make([]byte, d.pktSize)
	return d
}

// DemuxerOptPacketSize sets the TS packet size: 188, or 192 for streams
// carrying a 4-byte timecode prefix before each packet.
func DemuxerOptPacketSize(size int) func(*Demuxer) {
	return func(d *Demuxer) {
		if size >= PacketSize {
			d.pktSize = size
		}
	}
}

// DemuxerOptPIDFilter drops packets of PIDs that keep rejects before
// reassembly. keep is consulted for every packet, so it may change its
// answer as the program is discovered.
func DemuxerOptPIDFilter(keep PIDFilter) func(*Demuxer) {
	return func(d *Demuxer) {
		d.units.keep = keep
	}
}

// DemuxerOptMaxUnitSize bounds the bytes buffered for one PES or PSI unit.
// Larger units are dropped.
func DemuxerOptMaxUnitSize(n int) func(*Demuxer) {
	return func(d *Demuxer) {
		if n > 0 {
			d.units.maxUnit = n
		}
	}
}

// IsPMTPID reports whether pid has been announced as a PMT PID by a PAT.
func (d *Demuxer) IsPMTPID(pid uint16) bool {
	return d.units.pmtPIDs[pid]
}

// PacketCount returns the number of transport packets parsed so far.
func (d *Demuxer) PacketCount() int64 {
	return d.packets
}

// SkippedBytes returns the number of bytes dropped while resynchronizing on
// the sync byte.
func (d *Demuxer) SkippedBytes() int64 {
	return d.skippedBytes
}

// Discontinuities returns the number of unexpected continuity counter
// jumps seen.
func (d *Demuxer) Discontinuities() int64 {
	return d.units.discontinuities
}

// DroppedUnits returns the number of partially reassembled units discarded
// because of transport errors, continuity errors or the size bound.
func (d *Demuxer) DroppedUnits() int64 {
	return d.units.droppedUnits
}

// NextData returns the next parsed unit from the stream. Returns io.EOF
// when all data has been consumed. Any other reader error is returned
// unchanged and leaves the demuxer ready to resume.
func (d *Demuxer) NextData() (*DemuxerData, error) {
	for {
		// Drain buffered results first.
		if len(d.dataBuffer) > 0 {
			data := d.dataBuffer[0]
			d.dataBuffer = d.dataBuffer[1:]
			return data, nil
		}

		// Drain EOF results.
		if d.eof {
			if len(d.eofData) > 0 {
				data := d.eofData[0]
				d.eofData = d.eofData[1:]
				return data, nil
			}
			return nil, io.EOF
		}

		if err := d.fill(); err != nil {
			if errors.Is(err, io.EOF) {
				d.eof = true
				d.filled = 0
				d.drain()
				continue
			}
			return nil, err
		}

		if !d.synced() {
			continue
		}

		raw := d.readBuf[d.pktSize-PacketSize:]
		d.filled = 0

		pkt, err := parsePacket(raw)
		if err != nil {
			continue // skip corrupt packets
		}
		d.packets++
		if pkt.Header.PID == pidNull {
			continue
		}

		u := d.units.add(pkt)
		if u == nil {
			continue
		}

		results, err := d.process(u)
		if err != nil {
			continue // skip corrupt sections
		}
		if len(results) == 0 {
			continue
		}

		d.trackPrograms(results)

		d.dataBuffer = results[1:]
		return results[0], nil
	}
}

// fill reads until a whole transport packet is buffered.
func (d *Demuxer) fill() error {
	empty := 0
	for d.filled < d.pktSize {
		n, err := d.reader.Read(d.readBuf[d.filled:])
		d.filled += n
		if err != nil {
			if errors.Is(err, io.EOF) && d.filled < d.pktSize {
				return io.EOF
			}
			if d.filled == d.pktSize {
				return nil
			}
			return err
		}
		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				return io.ErrNoProgress
			}
			continue
		}
		empty = 0
	}
	return nil
}

// synced reports whether the buffered packet starts on a sync byte. If not,
// the buffer is shifted to the next candidate sync byte and false is
// returned so that the caller reads the remainder.
func (d *Demuxer) synced() bool {
	off := d.pktSize - PacketSize
	if d.readBuf[off] == syncByte {
		return true
	}
	next := bytes.IndexByte(d.readBuf[off+1:d.filled], syncByte)
	var drop int
	if next < 0 {
		drop = d.filled
	} else {
		drop = next + 1
	}
	copy(d.readBuf, d.readBuf[drop:d.filled])
	d.filled -= drop
	d.skippedBytes += int64(drop)
	return false
}

// trackPrograms marks the PMT PIDs announced by PAT results as PSI.
func (d *Demuxer) trackPrograms(results []*DemuxerData) {
	for _, r := range results {
		if r.PAT == nil {
			continue
		}
		for _, p := range r.PAT.Programs {
			d.units.addPMTPID(p.ProgramMapID)
		}
	}
}

func (d *Demuxer) drain() {
	for _, u := range d.units.drain() {
		results, err := d.process(u)
		if err != nil {
			continue
		}
		d.trackPrograms(results)
		d.eofData = append(d.eofData, results...)
	}
}

func (d *Demuxer) process(u *unit) ([]*DemuxerData, error) {
	if len(u.payload) == 0 {
		return nil, nil
	}
	if d.units.isPSI(u.pid) {
		return parsePSI(u)
	}
	if !isPESPayload(u.payload) {
		return nil, nil
	}
	pes, err := parsePES(u.payload)
	if err != nil {
		return nil, err
	}
	return []*DemuxerData{{PID: u.pid, FirstPacket: u.first, PES: pes}}, nil
}
