package codec

// G.711 companding after the ITU-T reference segment tables.

var (
	alawSegEnd  = [8]int{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}
	mulawSegEnd = [8]int{0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF}
)

const (
	mulawBias = 0x84
	mulawClip = 8159
)

func segment(v int, table *[8]int) int {
	for i, end := range table {
		if v <= end {
			return i
		}
	}
	return len(table)
}

// linearToALaw compands a 16-bit sample to A-law.
func linearToALaw(s int16) byte {
	v := int(s) >> 3
	mask := 0xD5
	if v < 0 {
		mask = 0x55
		v = -v - 1
	}
	seg := segment(v, &alawSegEnd)
	if seg >= 8 {
		return byte(0x7F ^ mask)
	}
	a := seg << 4
	if seg < 2 {
		a |= v >> 1 & 0x0F
	} else {
		a |= v >> seg & 0x0F
	}
	return byte(a ^ mask)
}

// linearToMuLaw compands a 16-bit sample to mu-law.
func linearToMuLaw(s int16) byte {
	v := int(s) >> 2
	mask := 0xFF
	if v < 0 {
		v = -v
		mask = 0x7F
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias >> 2
	seg := segment(v, &mulawSegEnd)
	if seg >= 8 {
		return byte(0x7F ^ mask)
	}
	u := seg<<4 | v>>(seg+1)&0x0F
	return byte(u ^ mask)
}

// aLawToLinear expands an A-law byte.
func aLawToLinear(a byte) int16 {
	a ^= 0x55
	t := int(a&0x0F) << 4
	seg := int(a&0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

// muLawToLinear expands a mu-law byte.
func muLawToLinear(u byte) int16 {
	u = ^u
	t := (int(u&0x0F) << 3) + mulawBias
	t <<= int(u&0x70) >> 4
	if u&0x80 != 0 {
		return int16(mulawBias - t)
	}
	return int16(t - mulawBias)
}
