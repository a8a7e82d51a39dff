package demux

import (
	"errors"

	"github.com/zsiec/refract/internal/media"
)

var errSPSTooShort = errors.New("demux: SPS too short")

// SPSInfo holds the stream parameters carried by an H.264 sequence parameter
// set.
type SPSInfo struct {
	Width        int
	Height       int
	ProfileIDC   byte
	LevelIDC     byte
	FrameRate    media.Rational
	SampleAspect media.Rational
}

// sampleAspectTable is Table E-1, indexed by aspect_ratio_idc.
var sampleAspectTable = [...]media.Rational{
	{}, {Num: 1, Den: 1}, {Num: 12, Den: 11}, {Num: 10, Den: 11}, {Num: 16, Den: 11}, {Num: 40, Den: 33}, {Num: 24, Den: 11}, {Num: 20, Den: 11},
	{Num: 32, Den: 11}, {Num: 80, Den: 33}, {Num: 18, Den: 11}, {Num: 15, Den: 11}, {Num: 64, Den: 33}, {Num: 160, Den: 99}, {Num: 4, Den: 3},
	{Num: 3, Den: 2}, {Num: 2, Den: 1},
}

const aspectRatioExtendedSAR = 255

// ParseSPS parses an H.264 SPS NAL unit (header byte included, start code
// excluded). Geometry is required; VUI fields are filled when present and
// readable.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errSPSTooShort
	}
	r := newBitReader(unescapeRBSP(nalu[1:]))

	var info SPSInfo
	info.ProfileIDC = byte(r.u(8))
	r.skip(8) // constraint flags
	info.LevelIDC = byte(r.u(8))
	r.ue() // seq_parameter_set_id

	chromaFormat := uint64(1)
	separatePlanes := false
	if hasChromaInfo(info.ProfileIDC) {
		chromaFormat = r.ue()
		if chromaFormat == 3 {
			separatePlanes = r.flag()
		}
		r.ue()    // bit_depth_luma_minus8
		r.ue()    // bit_depth_chroma_minus8
		r.skip(1) // qpprime_y_zero_transform_bypass_flag
		if r.flag() {
			lists := 8
			if chromaFormat == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if !r.flag() {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				skipScalingList(r, size)
			}
		}
	}

	r.ue() // log2_max_frame_num_minus4
	switch r.ue() {
	case 0:
		r.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		r.skip(1)
		r.se()
		r.se()
		n := r.ue()
		for i := uint64(0); i < n && r.err == nil; i++ {
			r.se()
		}
	}
	r.ue()    // max_num_ref_frames
	r.skip(1) // gaps_in_frame_num_value_allowed_flag

	widthMbs := r.ue() + 1
	heightMapUnits := r.ue() + 1
	frameMbsOnly := r.u(1)
	if frameMbsOnly == 0 {
		r.skip(1) // mb_adaptive_frame_field_flag
	}
	r.skip(1) // direct_8x8_inference_flag

	var cropL, cropR, cropT, cropB uint64
	if r.flag() {
		cropL, cropR, cropT, cropB = r.ue(), r.ue(), r.ue(), r.ue()
	}
	if r.err != nil {
		return SPSInfo{}, r.err
	}

	subW, subH := uint64(2), uint64(2)
	switch {
	case separatePlanes || chromaFormat == 0 || chromaFormat == 3:
		subW, subH = 1, 1
	case chromaFormat == 2:
		subH = 1
	}
	cropUnitY := subH * (2 - frameMbsOnly)
	info.Width = int(widthMbs*16 - subW*(cropL+cropR))
	info.Height = int(heightMapUnits*16*(2-frameMbsOnly) - cropUnitY*(cropT+cropB))

	if r.flag() {
		parseVUI(r, &info)
	}
	return info, nil
}

func hasChromaInfo(profile byte) bool {
	switch profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		return true
	}
	return false
}

func skipScalingList(r *bitReader, size int) {
	last, next := int64(8), int64(8)
	for j := 0; j < size && r.err == nil; j++ {
		if next != 0 {
			next = (last + r.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// parseVUI reads the aspect ratio and timing info. Anything after the
// timing info is ignored.
func parseVUI(r *bitReader, info *SPSInfo) {
	if r.flag() {
		idc := r.u(8)
		switch {
		case idc == aspectRatioExtendedSAR:
			num, den := r.u(16), r.u(16)
			if r.err == nil {
				info.SampleAspect = media.Rational{Num: int(num), Den: int(den)}
			}
		case idc < uint64(len(sampleAspectTable)):
			info.SampleAspect = sampleAspectTable[idc]
		}
	}
	if r.flag() { // overscan_info_present_flag
		r.skip(1)
	}
	if r.flag() { // video_signal_type_present_flag
		r.skip(4)
		if r.flag() {
			r.skip(24)
		}
	}
	if r.flag() { // chroma_loc_info_present_flag
		r.ue()
		r.ue()
	}
	if r.flag() { // timing_info_present_flag
		unitsInTick := r.u(32)
		timeScale := r.u(32)
		if r.err == nil && unitsInTick > 0 && timeScale > 0 {
			info.FrameRate = reduce(int64(timeScale), 2*int64(unitsInTick))
		}
	}
}

func reduce(num, den int64) media.Rational {
	a, b := num, den
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return media.Rational{}
	}
	return media.Rational{Num: int(num / a), Den: int(den / a)}
}
