package demux

// HEVCSPSInfo holds the stream parameters carried by an H.265 sequence
// parameter set.
type HEVCSPSInfo struct {
	Width          int
	Height         int
	ProfileIDC     byte
	TierFlag       byte
	LevelIDC       byte
	ChromaFormat   byte
	BitDepthLuma   int
	BitDepthChroma int
}

// ParseHEVCSPS parses an H.265 SPS NAL unit (2-byte header included).
// Fields after the picture size are best effort.
func ParseHEVCSPS(nalu []byte) (HEVCSPSInfo, error) {
	if len(nalu) < 4 {
		return HEVCSPSInfo{}, errSPSTooShort
	}
	r := newBitReader(unescapeRBSP(nalu[2:]))

	r.skip(4) // sps_video_parameter_set_id
	maxSubLayersMinus1 := int(r.u(3))
	r.skip(1) // sps_temporal_id_nesting_flag

	var info HEVCSPSInfo
	skipProfileTierLevel(r, &info, maxSubLayersMinus1)

	r.ue() // sps_seq_parameter_set_id
	chroma := r.ue()
	if chroma == 3 {
		r.skip(1) // separate_colour_plane_flag
	}
	width, height := r.ue(), r.ue()
	if r.err != nil {
		return HEVCSPSInfo{}, r.err
	}
	info.ChromaFormat = byte(chroma)
	info.Width, info.Height = int(width), int(height)

	if r.flag() { // conformance_window_flag
		left, right, top, bottom := r.ue(), r.ue(), r.ue(), r.ue()
		if r.err != nil {
			return info, nil
		}
		subW, subH := uint64(1), uint64(1)
		switch chroma {
		case 1:
			subW, subH = 2, 2
		case 2:
			subW = 2
		}
		info.Width -= int((left + right) * subW)
		info.Height -= int((top + bottom) * subH)
	}

	luma, chromaDepth := r.ue(), r.ue()
	if r.err == nil {
		info.BitDepthLuma = int(luma) + 8
		info.BitDepthChroma = int(chromaDepth) + 8
	}
	return info, nil
}

// skipProfileTierLevel reads profile_tier_level(1, maxSubLayersMinus1),
// keeping the general profile, tier and level.
func skipProfileTierLevel(r *bitReader, info *HEVCSPSInfo, maxSubLayersMinus1 int) {
	r.skip(2) // general_profile_space
	info.TierFlag = byte(r.u(1))
	info.ProfileIDC = byte(r.u(5))
	r.skip(32) // general_profile_compatibility_flags
	r.skip(48) // constraint indicator flags
	info.LevelIDC = byte(r.u(8))

	if maxSubLayersMinus1 == 0 {
		return
	}
	profilePresent := make([]bool, maxSubLayersMinus1)
	levelPresent := make([]bool, maxSubLayersMinus1)
	for i := range profilePresent {
		profilePresent[i] = r.flag()
		levelPresent[i] = r.flag()
	}
	for i := maxSubLayersMinus1; i < 8; i++ {
		r.skip(2) // reserved_zero_2bits
	}
	for i := range profilePresent {
		if profilePresent[i] {
			r.skip(88)
		}
		if levelPresent[i] {
			r.skip(8)
		}
	}
}
