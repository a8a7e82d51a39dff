package mpegts

import (
	"errors"
	"fmt"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02

	descriptorRegistration = 0x05
	descriptorLanguage     = 0x0A
)

var errPointerField = errors.New("mpegts: PSI pointer field out of range")

// splitSections walks the sections of a PSI payload that starts with a
// pointer field. complete is false when the last section is cut short.
// Stuffing (0xFF) or a section without the syntax indicator ends the walk.
func splitSections(payload []byte) (sections [][]byte, complete bool, err error) {
	if len(payload) < 1 {
		return nil, false, errors.New("mpegts: PSI payload too short")
	}
	offset := 1 + int(payload[0])
	if offset >= len(payload) {
		return nil, false, errPointerField
	}
	for offset < len(payload) {
		if payload[offset] == 0xFF {
			return sections, true, nil
		}
		if offset+3 > len(payload) {
			return sections, false, nil
		}
		if payload[offset+1]&0x80 == 0 {
			return sections, true, nil
		}
		end := offset + 3 + (int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2]))
		if end > len(payload) {
			return sections, false, nil
		}
		sections = append(sections, payload[offset:end])
		offset = end
	}
	return sections, true, nil
}

func psiComplete(payload []byte) bool {
	_, complete, _ := splitSections(payload)
	return complete
}

func parsePSI(u *unit) ([]*DemuxerData, error) {
	sections, _, err := splitSections(u.payload)
	if err != nil {
		return nil, err
	}

	var results []*DemuxerData
	for _, sec := range sections {
		switch sec[0] {
		case tableIDPAT:
			pat, err := parsePATSection(sec)
			if err != nil {
				return results, err
			}
			if pat != nil {
				results = append(results, &DemuxerData{PID: u.pid, FirstPacket: u.first, PAT: pat})
			}
		case tableIDPMT:
			pmt, err := parsePMTSection(sec)
			if err != nil {
				return results, err
			}
			if pmt != nil {
				results = append(results, &DemuxerData{PID: u.pid, FirstPacket: u.first, PMT: pmt})
			}
		}
	}
	return results, nil
}

// sectionHeader holds the long-form section header fields shared by PAT and
// PMT.
type sectionHeader struct {
	idExtension uint16 // transport_stream_id or program_number
	version     uint8
	current     bool
	end         int // offset of the CRC32
}

func readSectionHeader(data []byte, minLen int) (sectionHeader, error) {
	if len(data) < minLen {
		return sectionHeader{}, fmt.Errorf("section of %d bytes too short", len(data))
	}
	if err := verifyCRC32(data); err != nil {
		return sectionHeader{}, err
	}
	end := 3 + (int(data[1]&0x0F)<<8 | int(data[2])) - 4
	if end > len(data)-4 {
		end = len(data) - 4
	}
	return sectionHeader{
		idExtension: uint16(data[3])<<8 | uint16(data[4]),
		version:     data[5] >> 1 & 0x1F,
		current:     data[5]&0x01 != 0,
		end:         end,
	}, nil
}

// parsePATSection parses a PAT section. It returns nil for a section that
// is not yet current.
func parsePATSection(data []byte) (*PATData, error) {
	h, err := readSectionHeader(data, 12)
	if err != nil {
		return nil, fmt.Errorf("mpegts: PAT %w", err)
	}
	if !h.current {
		return nil, nil
	}

	pat := &PATData{TransportStreamID: h.idExtension, Version: h.version}
	for i := 8; i+4 <= h.end; i += 4 {
		number := uint16(data[i])<<8 | uint16(data[i+1])
		if number == 0 {
			continue // network PID
		}
		pat.Programs = append(pat.Programs, &PATProgram{
			ProgramNumber: number,
			ProgramMapID:  uint16(data[i+2]&0x1F)<<8 | uint16(data[i+3]),
		})
	}
	return pat, nil
}

// parsePMTSection parses a PMT section. It returns nil for a section that
// is not yet current.
func parsePMTSection(data []byte) (*PMTData, error) {
	h, err := readSectionHeader(data, 16)
	if err != nil {
		return nil, fmt.Errorf("mpegts: PMT %w", err)
	}
	if !h.current {
		return nil, nil
	}

	pmt := &PMTData{
		ProgramNumber: h.idExtension,
		Version:       h.version,
		PCRPID:        uint16(data[8]&0x1F)<<8 | uint16(data[9]),
	}
	infoEnd := min(12+(int(data[10]&0x0F)<<8|int(data[11])), h.end)
	pmt.Registration, _ = parseDescriptors(data[12:infoEnd])

	for offset := infoEnd; offset+5 <= h.end; {
		es := &PMTElementaryStream{
			StreamType:    data[offset],
			ElementaryPID: uint16(data[offset+1]&0x1F)<<8 | uint16(data[offset+2]),
		}
		esEnd := min(offset+5+(int(data[offset+3]&0x0F)<<8|int(data[offset+4])), h.end)
		es.Registration, es.Language = parseDescriptors(data[offset+5 : esEnd])
		pmt.ElementaryStreams = append(pmt.ElementaryStreams, es)
		offset = esEnd
	}
	return pmt, nil
}

// parseDescriptors extracts the registration format identifier and the
// first ISO 639 language code from a descriptor loop.
func parseDescriptors(b []byte) (registration, language string) {
	for len(b) >= 2 {
		tag, n := b[0], int(b[1])
		if 2+n > len(b) {
			return
		}
		body := b[2 : 2+n]
		switch tag {
		case descriptorRegistration:
			if n >= 4 {
				registration = string(body[:4])
			}
		case descriptorLanguage:
			if n >= 3 && language == "" {
				language = string(body[:3])
			}
		}
		b = b[2+n:]
	}
	return
}
