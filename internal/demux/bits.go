package demux

import "errors"

var errShortRead = errors.New("demux: bitstream truncated")

// bitReader reads MSB-first bit fields. The first read past the end sets err
// and every later read returns zero, so parsers check err once per section.
type bitReader struct {
	buf []byte
	off int // in bits
	err error
}

func newBitReader(b []byte) *bitReader {
	return &bitReader{buf: b}
}

func (r *bitReader) u(n int) uint64 {
	if r.err != nil {
		return 0
	}
	if r.off+n > len(r.buf)*8 {
		r.err = errShortRead
		return 0
	}
	var v uint64
	for i := 0; i < n; i++ {
		b := r.buf[r.off>>3] >> (7 - uint(r.off&7)) & 1
		v = v<<1 | uint64(b)
		r.off++
	}
	return v
}

func (r *bitReader) flag() bool {
	return r.u(1) == 1
}

func (r *bitReader) skip(n int) {
	if r.err != nil {
		return
	}
	if r.off+n > len(r.buf)*8 {
		r.err = errShortRead
		return
	}
	r.off += n
}

// ue reads an unsigned Exp-Golomb code.
func (r *bitReader) ue() uint64 {
	zeros := 0
	for !r.flag() {
		if r.err != nil {
			return 0
		}
		zeros++
		if zeros > 32 {
			r.err = errors.New("demux: Exp-Golomb code too long")
			return 0
		}
	}
	return 1<<zeros - 1 + r.u(zeros)
}

// se reads a signed Exp-Golomb code.
func (r *bitReader) se() int64 {
	v := r.ue()
	if v&1 == 1 {
		return int64(v+1) / 2
	}
	return -int64(v / 2)
}
