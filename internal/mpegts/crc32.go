package mpegts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// crcPoly is the non-reflected CRC-32/MPEG-2 polynomial used by PSI sections.
const crcPoly = 0x04C11DB7

var errCRCMismatch = errors.New("mpegts: CRC32 mismatch")

var crcTable = func() (t [256]uint32) {
	for i := range t {
		c := uint32(i) << 24
		for range 8 {
			c = c<<1 ^ crcPoly*(c>>31)
		}
		t[i] = c
	}
	return t
}()

func computeCRC32(data []byte) uint32 {
	c := ^uint32(0)
	for _, b := range data {
		c = c<<8 ^ crcTable[byte(c>>24)^b]
	}
	return c
}

// appendCRC32 appends the big-endian CRC of section to section.
func appendCRC32(section []byte) []byte {
	return binary.BigEndian.AppendUint32(section, computeCRC32(section))
}

// verifyCRC32 checks a section that ends in its own CRC. Running the CRC
// over such a section yields zero.
func verifyCRC32(section []byte) error {
	if len(section) < 4 {
		return fmt.Errorf("mpegts: section of %d bytes too short for CRC32", len(section))
	}
	if computeCRC32(section) != 0 {
		return errCRCMismatch
	}
	return nil
}
