package memory

import (
	"fmt"
	"log/slog"

	"github.com/kestrelgb/dmgcore/dmgcore/util"
)

const titleLength = 11

const (
	entryPointAddress       = 0x100
	logoAddress             = 0x104
	titleAddress            = 0x134
	manufacturerCodeAddress = 0x13F
	cgbFlagAddress          = 0x143
	newLicenseCodeAddress   = 0x144
	sgbFlagAddress          = 0x146
	cartridgeTypeAddress    = 0x147
	romSizeAddress          = 0x148
	ramSizeAddress          = 0x149
	destinationCodeAddress  = 0x14A
	oldLicenseCodeAddress   = 0x14B
	versionNumberAddress    = 0x14C
	headerChecksumAddress   = 0x14D
	globalChecksumAddress   = 0x14E
)

// nintendoLogo is the fixed bitmap every cartridge header must carry at
// 0x104-0x133. Boot ROMs on real hardware refuse to run anything that
// doesn't match it; we reject those ROMs at load time instead.
var nintendoLogo = [48]byte{
	0xCE, 0xED, 0x66, 0x66, 0xCC, 0x0D, 0x00, 0x0B, 0x03, 0x73, 0x00, 0x83,
	0x00, 0x0C, 0x00, 0x0D, 0x00, 0x08, 0x11, 0x1F, 0x88, 0x89, 0x00, 0x0E,
	0xDC, 0xCC, 0x6E, 0xE6, 0xDD, 0xDD, 0xD9, 0x99, 0xBB, 0xBB, 0x67, 0x63,
	0x6E, 0x0E, 0xEC, 0xCC, 0xDD, 0xDC, 0x99, 0x9F, 0xBB, 0xB9, 0x33, 0x3E,
}

// MBCType enumerates the bank controller family declared by the cartridge
// header's type byte. Only the families with no battery-RTC-rumble
// dependencies are supported; the rest are reported as unsupported at
// load time rather than emulated incorrectly.
type MBCType uint8

const (
	NoMBCType MBCType = iota
	MBC1Type
	MBC1MultiType
	MBC2Type
	MBC3Type
	MBC5Type
	MBCUnknownType
)

func (t MBCType) String() string {
	switch t {
	case NoMBCType:
		return "ROM ONLY"
	case MBC1Type:
		return "MBC1"
	case MBC1MultiType:
		return "MBC1 (multicart)"
	case MBC2Type:
		return "MBC2"
	case MBC3Type:
		return "MBC3"
	case MBC5Type:
		return "MBC5"
	default:
		return "unknown"
	}
}

type Cartridge struct {
	data           []byte
	title          string
	headerChecksum uint16
	globalChecksum uint16
	version        uint8
	cartType       uint8
	romSize        uint8
	ramSize        uint8

	mbcType      MBCType
	hasBattery   bool
	ramBankCount uint8
}

// NewCartridge creates an empty cartridge, useful only for debugging purposes.
func NewCartridge() *Cartridge {
	return &Cartridge{
		data:    make([]byte, 0x10000),
		mbcType: NoMBCType,
	}
}

// mbcTypeFromHeader maps the cartridge type header byte (0x147) to the MBC
// family and whether it carries battery-backed RAM. Types outside the
// ROM-only/MBC1 families are reported as MBCUnknownType; callers that need
// strict support should check for it and refuse to load the ROM.
func mbcTypeFromHeader(cartType uint8) (mbcType MBCType, hasBattery bool) {
	switch cartType {
	case 0x00:
		return NoMBCType, false
	case 0x08, 0x09:
		return NoMBCType, cartType == 0x09
	case 0x01:
		return MBC1Type, false
	case 0x02:
		return MBC1Type, false
	case 0x03:
		return MBC1Type, true
	case 0x05, 0x06:
		return MBC2Type, cartType == 0x06
	case 0x0F, 0x10, 0x11, 0x12, 0x13:
		return MBC3Type, cartType == 0x0F || cartType == 0x10 || cartType == 0x13
	case 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E:
		return MBC5Type, cartType == 0x1B || cartType == 0x1E
	default:
		return MBCUnknownType, false
	}
}

// ramBankCountFromHeader maps the RAM size header byte (0x149) to a number
// of 8KB RAM banks.
func ramBankCountFromHeader(ramSize uint8) uint8 {
	switch ramSize {
	case 0x00:
		return 0
	case 0x01:
		return 1 // unofficial 2KB value, rounded up to one bank
	case 0x02:
		return 1
	case 0x03:
		return 4
	case 0x04:
		return 16
	case 0x05:
		return 8
	default:
		return 0
	}
}

// NewCartridgeWithData initializes a new Cartridge from a slice of bytes,
// validating the header the way real hardware's boot ROM does: Nintendo
// logo match, header checksum, and (non-fatally) the global ROM checksum.
func NewCartridgeWithData(bytes []byte) (*Cartridge, error) {
	if len(bytes) < 0x150 {
		return nil, fmt.Errorf("cartridge: ROM too small to contain a header (%d bytes)", len(bytes))
	}

	logo := bytes[logoAddress : logoAddress+48]
	for i, b := range nintendoLogo {
		if logo[i] != b {
			return nil, fmt.Errorf("cartridge: Nintendo logo mismatch at offset %d", i)
		}
	}

	computedHeaderChecksum := uint8(0)
	for i := 0x134; i <= 0x14C; i++ {
		computedHeaderChecksum = computedHeaderChecksum - bytes[i] - 1
	}
	if computedHeaderChecksum != bytes[headerChecksumAddress] {
		return nil, fmt.Errorf("cartridge: header checksum mismatch (want 0x%02X, got 0x%02X)",
			bytes[headerChecksumAddress], computedHeaderChecksum)
	}

	computedGlobalChecksum := uint16(0)
	for i, b := range bytes {
		if i == globalChecksumAddress || i == globalChecksumAddress+1 {
			continue
		}
		computedGlobalChecksum += uint16(b)
	}
	declaredGlobalChecksum := util.CombineBytes(bytes[globalChecksumAddress+1], bytes[globalChecksumAddress])
	if computedGlobalChecksum != declaredGlobalChecksum {
		// The global checksum isn't verified by the boot ROM on real hardware
		// and is commonly wrong in homebrew/test ROMs, so we only log it.
		slog.Warn("cartridge global checksum mismatch",
			"computed", computedGlobalChecksum, "declared", declaredGlobalChecksum)
	}

	titleBytes := bytes[titleAddress : titleAddress+titleLength]
	cartType := bytes[cartridgeTypeAddress]
	mbcType, hasBattery := mbcTypeFromHeader(cartType)

	cart := &Cartridge{
		data:           make([]byte, len(bytes)),
		title:          cleanGameboyTitle(titleBytes),
		headerChecksum: uint16(bytes[headerChecksumAddress]),
		globalChecksum: declaredGlobalChecksum,
		version:        bytes[versionNumberAddress],
		cartType:       cartType,
		romSize:        bytes[romSizeAddress],
		ramSize:        bytes[ramSizeAddress],
		mbcType:        mbcType,
		hasBattery:     hasBattery,
		ramBankCount:   ramBankCountFromHeader(bytes[ramSizeAddress]),
	}

	copy(cart.data, bytes)

	return cart, nil
}

// Title returns the cleaned-up game title read from the cartridge header.
func (c *Cartridge) Title() string {
	return c.title
}

// MBCType returns the bank controller family declared by the header.
func (c *Cartridge) MBCType() MBCType {
	return c.mbcType
}

// ReadByte reads a byte at the specified address. Does not check bounds, so the caller must make sure the
// address is valid for the cartridge.
func (c Cartridge) ReadByte(addr uint16) uint8 {
	return c.data[addr]
}

// WriteByte returns the byte currently stored at the specified address; it does not modify the
// cartridge data, and value is ignored.
func (c Cartridge) WriteByte(addr uint16, value uint8) uint8 {
	return c.data[addr]
}
