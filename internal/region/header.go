package region

import (
	"encoding/binary"
	"strings"
)

// Header probe locations and sizes.
const (
	LoROMHeaderOffset = 0x7FC0
	HiROMHeaderOffset = 0xFFC0
	HeaderSize        = 32
	TitleSize         = 21

	// CopierHeaderSize is the length of the SMC copier header some dumps
	// carry in front of the ROM data.
	CopierHeaderSize = 0x200
)

// Header layouts.
const (
	LayoutLoROM   = "LoROM"
	LayoutHiROM   = "HiROM"
	LayoutUnknown = "Unknown"
)

// Header is the internal cartridge header found at one of the probe offsets.
type Header struct {
	Layout       string
	Offset       int64
	CopierHeader bool
	Title        string
	MapMode      byte
	ROMType      byte
	ROMSize      byte
	SRAMSize     byte
	Region       byte
	Version      byte
	Complement   uint16
	Checksum     uint16
}

// Valid reports whether a header was found.
func (h Header) Valid() bool {
	return h.Layout != LayoutUnknown
}

// DeclaredSize returns the ROM size in bytes the header claims, or 0 when
// the size byte is out of range.
func (h Header) DeclaredSize() int64 {
	if h.ROMSize == 0 || h.ROMSize > 16 {
		return 0
	}
	return 1024 << h.ROMSize
}

// ReadHeader probes the LoROM and HiROM header offsets and returns the first
// header with a plausible title. Files whose length leaves a 512 byte
// remainder are assumed to carry a copier header and are probed 0x200 bytes
// further in. When neither offset matches, or the Cache is closed, the
// returned Header has Layout LayoutUnknown.
func (c *Cache) ReadHeader() Header {
	var shift int64
	if c.size%1024 == CopierHeaderSize {
		shift = CopierHeaderSize
	}

	probes := []struct {
		layout string
		offset int64
	}{
		{LayoutLoROM, LoROMHeaderOffset},
		{LayoutHiROM, HiROMHeaderOffset},
	}
	for _, p := range probes {
		raw, err := c.ReadBytes(p.offset+shift, HeaderSize, true)
		if err != nil {
			continue
		}
		h, ok := parseHeader(raw)
		if !ok {
			continue
		}
		h.Layout = p.layout
		h.Offset = p.offset + shift
		h.CopierHeader = shift != 0
		return h
	}
	return Header{Layout: LayoutUnknown}
}

func parseHeader(raw []byte) (Header, bool) {
	title, ok := parseTitle(raw[:TitleSize])
	if !ok {
		return Header{}, false
	}
	return Header{
		Title:      title,
		MapMode:    raw[0x15],
		ROMType:    raw[0x16],
		ROMSize:    raw[0x17],
		SRAMSize:   raw[0x18],
		Region:     raw[0x19],
		Version:    raw[0x1B],
		Complement: binary.LittleEndian.Uint16(raw[0x1C:]),
		Checksum:   binary.LittleEndian.Uint16(raw[0x1E:]),
	}, true
}

// parseTitle accepts printable ASCII padded with spaces or NULs. Blank titles
// and erased (0xFF) flash are rejected.
func parseTitle(raw []byte) (string, bool) {
	end := len(raw)
	for end > 0 && (raw[end-1] == ' ' || raw[end-1] == 0) {
		end--
	}
	if end == 0 {
		return "", false
	}
	for _, b := range raw[:end] {
		if b < 0x20 || b > 0x7E {
			return "", false
		}
	}
	return strings.TrimSpace(string(raw[:end])), true
}
