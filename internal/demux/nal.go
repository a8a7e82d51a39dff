package demux

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// H.265 NAL unit types (ITU-T H.265 Table 7-1).
const (
	HEVCNALBlaWLP    = 16
	HEVCNALCraNut    = 21
	HEVCNALVPS       = 32
	HEVCNALSPS       = 33
	HEVCNALPPS       = 34
	HEVCNALAUD       = 35
	HEVCNALSEIPrefix = 39
)

// NALUnit is one NAL unit of an Annex B stream, header included, start code
// excluded.
type NALUnit struct {
	Type byte
	Data []byte
}

// H264NALType extracts the 5-bit type from the first NAL header byte.
func H264NALType(b byte) byte { return b & 0x1F }

// HEVCNALType extracts the 6-bit type from the first NAL header byte.
func HEVCNALType(b byte) byte { return b >> 1 & 0x3F }

// IsHEVCIRAP reports whether t is an intra random access point (BLA, IDR or
// CRA).
func IsHEVCIRAP(t byte) bool { return t >= HEVCNALBlaWLP && t <= HEVCNALCraNut }

// ParseAnnexB splits an H.264 Annex B stream into NAL units.
func ParseAnnexB(data []byte) []NALUnit {
	return splitAnnexB(data, 1, H264NALType)
}

// ParseAnnexBHEVC splits an H.265 Annex B stream into NAL units.
func ParseAnnexBHEVC(data []byte) []NALUnit {
	return splitAnnexB(data, 2, HEVCNALType)
}

// splitAnnexB finds 3- and 4-byte start codes. Zero bytes directly before a
// start code belong to the start code, not to the preceding unit.
func splitAnnexB(data []byte, minLen int, typeOf func(byte) byte) []NALUnit {
	var units []NALUnit
	start := -1
	i := 0
	for i+2 < len(data) {
		if data[i] != 0 || data[i+1] != 0 || data[i+2] != 1 {
			i++
			continue
		}
		if start >= 0 {
			units = appendNAL(units, data[start:trimZeros(data, start, i)], minLen, typeOf)
		}
		i += 3
		start = i
	}
	if start >= 0 && start < len(data) {
		units = appendNAL(units, data[start:], minLen, typeOf)
	}
	return units
}

func trimZeros(data []byte, start, end int) int {
	for end > start && data[end-1] == 0 {
		end--
	}
	return end
}

func appendNAL(units []NALUnit, nal []byte, minLen int, typeOf func(byte) byte) []NALUnit {
	if len(nal) < minLen {
		return units
	}
	return append(units, NALUnit{Type: typeOf(nal[0]), Data: nal})
}

// AppendAnnexB appends nal to dst behind a 4-byte start code.
func AppendAnnexB(dst, nal []byte) []byte {
	dst = append(dst, 0, 0, 0, 1)
	return append(dst, nal...)
}

// unescapeRBSP strips emulation prevention bytes (00 00 03 → 00 00).
func unescapeRBSP(data []byte) []byte {
	out := make([]byte, 0, len(data))
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b == 3 {
			zeros = 0
			continue
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}
