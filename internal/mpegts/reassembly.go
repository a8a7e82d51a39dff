package mpegts

import (
	"maps"
	"slices"
)

const pidPAT = 0x0000

// DefaultMaxUnitSize bounds the payload buffered for one PES or PSI unit.
const DefaultMaxUnitSize = 8 << 20

// unit is one reassembled payload unit of a PID.
type unit struct {
	pid     uint16
	first   *Packet
	payload []byte
}

// pidBuffer reassembles the payload units of a single PID. A unit starts
// at a packet with the payload unit start indicator; packets that arrive
// before one are dropped.
type pidBuffer struct {
	pid     uint16
	first   *Packet
	payload []byte

	lastCC uint8
	haveCC bool
}

func (b *pidBuffer) buffering() bool {
	return b.first != nil
}

func (b *pidBuffer) take() *unit {
	if b.first == nil {
		return nil
	}
	u := &unit{pid: b.pid, first: b.first, payload: b.payload}
	b.first, b.payload = nil, nil
	return u
}

func (b *pidBuffer) reset() {
	b.first, b.payload = nil, nil
}

// reassembler routes packets to per-PID buffers and tracks which PIDs carry
// PSI.
type reassembler struct {
	bufs    map[uint16]*pidBuffer
	pmtPIDs map[uint16]bool
	keep    PIDFilter
	maxUnit int

	discontinuities int64
	droppedUnits    int64
}

func newReassembler() *reassembler {
	return &reassembler{
		bufs:    make(map[uint16]*pidBuffer),
		pmtPIDs: make(map[uint16]bool),
		maxUnit: DefaultMaxUnitSize,
	}
}

func (r *reassembler) addPMTPID(pid uint16) {
	r.pmtPIDs[pid] = true
}

func (r *reassembler) isPSI(pid uint16) bool {
	return pid == pidPAT || r.pmtPIDs[pid]
}

// add consumes p and returns a unit when p completes one.
func (r *reassembler) add(p *Packet) *unit {
	pid := p.Header.PID
	if !r.isPSI(pid) && r.keep != nil && !r.keep(pid) {
		return nil
	}
	b, ok := r.bufs[pid]
	if !ok {
		b = &pidBuffer{pid: pid}
		r.bufs[pid] = b
	}

	if p.Header.TransportErrorIndicator {
		if b.buffering() {
			r.droppedUnits++
		}
		b.reset()
		return nil
	}
	if !p.Header.HasPayload {
		return nil
	}

	if b.haveCC && !p.Header.DiscontinuityIndicator {
		expected := (b.lastCC + 1) & 0x0F
		switch p.Header.ContinuityCounter {
		case expected:
		case b.lastCC:
			return nil // duplicate
		default:
			r.discontinuities++
			if b.buffering() {
				r.droppedUnits++
			}
			b.reset()
		}
	}
	b.lastCC, b.haveCC = p.Header.ContinuityCounter, true

	var done *unit
	if p.Header.PayloadUnitStartIndicator {
		done = b.take()
		b.first = p
	} else if !b.buffering() {
		return nil
	}

	if len(b.payload)+len(p.Payload) > r.maxUnit {
		r.droppedUnits++
		b.reset()
		return done
	}
	b.payload = append(b.payload, p.Payload...)

	if done == nil && r.isPSI(pid) && psiComplete(b.payload) {
		done = b.take()
	}
	return done
}

// drain returns every partially buffered unit in PID order, so the PAT is
// handled before any PMT.
func (r *reassembler) drain() []*unit {
	var out []*unit
	for _, pid := range slices.Sorted(maps.Keys(r.bufs)) {
		if u := r.bufs[pid].take(); u != nil {
			out = append(out, u)
		}
	}
	return out
}
