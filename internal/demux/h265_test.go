package demux

import "testing"

var hevcSPS320x240 = []byte{
	0x42, 0x01, 0x01, 0x01, 0x40, 0x00, 0x00, 0x00,
	0xB0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x5D, 0xA0,
	0x0A, 0x08, 0x0F, 0x10,
}

func TestParseHEVCSPS(t *testing.T) {
	t.Parallel()
	info, err := ParseHEVCSPS(hevcSPS320x240)
	if err != nil {
		t.Fatal(err)
	}
	if info.Width != 320 || info.Height != 240 {
		t.Errorf("size = %dx%d, want 320x240", info.Width, info.Height)
	}
	if info.ProfileIDC != 1 {
		t.Errorf("profile = %d, want 1 (Main)", info.ProfileIDC)
	}
	if info.TierFlag != 0 {
		t.Errorf("tier = %d, want 0", info.TierFlag)
	}
	if info.LevelIDC != 93 {
		t.Errorf("level = %d, want 93", info.LevelIDC)
	}
}

func TestParseHEVCSPSTooShort(t *testing.T) {
	t.Parallel()
	if _, err := ParseHEVCSPS([]byte{0x42, 0x01}); err == nil {
		t.Error("expected error for 2-byte SPS")
	}
	if _, err := ParseHEVCSPS(hevcSPS320x240[:8]); err == nil {
		t.Error("expected error for SPS truncated inside profile_tier_level")
	}
}
