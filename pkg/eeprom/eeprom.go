// Package eeprom builds the identification EEPROM image an FT245BM based
// download cable carries. Host drivers read it word by word through vendor
// request 0x90 and use it to recognise the cable.
package eeprom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"
)

const (
	// Size is the 93C46 capacity in bytes.
	Size = 128
	// Words is the number of 16-bit words.
	Words = Size / 2

	checksumWord = Words - 1
	stringsStart = 0x18
	stringsEnd   = checksumWord * 2

	descString   = 0x03
	stringOffset = 0x80
)

// Field offsets of the FT245BM header.
const (
	offChip        = 0x00
	offVendorID    = 0x02
	offProductID   = 0x04
	offRelease     = 0x06
	offAttributes  = 0x08
	offMaxPower    = 0x09
	offChipConfig  = 0x0A
	offUSBVersion  = 0x0C
	offManufString = 0x0E
	offProductStr  = 0x10
	offSerialStr   = 0x12
)

var (
	// ErrTooLong is returned when the identity strings do not fit.
	ErrTooLong = errors.New("eeprom: strings exceed image capacity")
	// ErrChecksum is returned by Parse for a corrupted image.
	ErrChecksum = errors.New("eeprom: checksum mismatch")
)

// Identity is the information encoded in the image.
type Identity struct {
	VendorID     uint16
	ProductID    uint16
	Release      uint16
	Manufacturer string
	Product      string
	Serial       string
	// MaxPower is the bus current draw in mA.
	MaxPower     int
	SelfPowered  bool
	RemoteWakeup bool
}

// Blaster returns the identity of an original Altera USB-Blaster.
func Blaster() Identity {
	return Identity{
		VendorID:     0x09FB,
		ProductID:    0x6001,
		Release:      0x0400,
		Manufacturer: "Altera",
		Product:      "USB-Blaster",
		Serial:       "00000000",
		MaxPower:     100,
	}
}

// Image is a complete EEPROM content.
type Image [Size]byte

// Build encodes id and seals the image with its checksum.
func Build(id Identity) (Image, error) {
	var img Image

	binary.LittleEndian.PutUint16(img[offChip:], 0x0000)
	binary.LittleEndian.PutUint16(img[offVendorID:], id.VendorID)
	binary.LittleEndian.PutUint16(img[offProductID:], id.ProductID)
	binary.LittleEndian.PutUint16(img[offRelease:], id.Release)

	attr := byte(0x80)
	if id.SelfPowered {
		attr |= 0x40
	}
	if id.RemoteWakeup {
		attr |= 0x20
	}
	img[offAttributes] = attr
	img[offMaxPower] = byte(id.MaxPower / 2)
	img[offChipConfig] = 0x00
	binary.LittleEndian.PutUint16(img[offUSBVersion:], 0x0110)

	pos := stringsStart
	for _, f := range []struct {
		off int
		s   string
	}{
		{offManufString, id.Manufacturer},
		{offProductStr, id.Product},
		{offSerialStr, id.Serial},
	} {
		desc := descriptor(f.s)
		if pos+len(desc) > stringsEnd {
			return Image{}, fmt.Errorf("%w: %q", ErrTooLong, f.s)
		}
		img[f.off] = byte(pos) | stringOffset
		img[f.off+1] = byte(len(desc))
		copy(img[pos:], desc)
		pos += len(desc)
	}

	img.seal()
	return img, nil
}

// MustBuild is Build for identities known to fit.
func MustBuild(id Identity) Image {
	img, err := Build(id)
	if err != nil {
		panic(err)
	}
	return img
}

// descriptor encodes s as a USB string descriptor.
func descriptor(s string) []byte {
	units := utf16.Encode([]rune(s))
	b := make([]byte, 2+2*len(units))
	b[0] = byte(len(b))
	b[1] = descString
	for i, u := range units {
		binary.LittleEndian.PutUint16(b[2+2*i:], u)
	}
	return b
}

// Word returns word n, or zero past the end of the image.
func (img *Image) Word(n int) uint16 {
	if n < 0 || n >= Words {
		return 0
	}
	return binary.LittleEndian.Uint16(img[2*n:])
}

// ReadWord returns the two bytes the vendor request for word n answers with.
func (img *Image) ReadWord(n int) [2]byte {
	var b [2]byte
	addr := 2 * n
	if n >= 0 && addr+1 < Size {
		b[0], b[1] = img[addr], img[addr+1]
	}
	return b
}

// Checksum computes the FTDI checksum over words 0..62.
func (img *Image) Checksum() uint16 {
	sum := uint16(0xAAAA)
	for i := 0; i < checksumWord; i++ {
		sum ^= img.Word(i)
		sum = sum<<1 | sum>>15
	}
	return sum
}

// Valid reports whether the stored checksum matches.
func (img *Image) Valid() bool {
	return img.Word(checksumWord) == img.Checksum()
}

func (img *Image) seal() {
	binary.LittleEndian.PutUint16(img[2*checksumWord:], img.Checksum())
}

// Parse decodes an image back into its identity.
func Parse(img Image) (Identity, error) {
	if !img.Valid() {
		return Identity{}, ErrChecksum
	}
	id := Identity{
		VendorID:     img.Word(offVendorID / 2),
		ProductID:    img.Word(offProductID / 2),
		Release:      img.Word(offRelease / 2),
		MaxPower:     int(img[offMaxPower]) * 2,
		SelfPowered:  img[offAttributes]&0x40 != 0,
		RemoteWakeup: img[offAttributes]&0x20 != 0,
	}
	var err error
	if id.Manufacturer, err = img.str(offManufString); err != nil {
		return Identity{}, err
	}
	if id.Product, err = img.str(offProductStr); err != nil {
		return Identity{}, err
	}
	if id.Serial, err = img.str(offSerialStr); err != nil {
		return Identity{}, err
	}
	return id, nil
}

func (img *Image) str(off int) (string, error) {
	pos := int(img[off] &^ stringOffset)
	n := int(img[off+1])
	if n == 0 {
		return "", nil
	}
	if n < 2 || n%2 != 0 || pos+n > Size || img[pos] != byte(n) || img[pos+1] != descString {
		return "", fmt.Errorf("eeprom: bad string descriptor at %#02x", pos)
	}
	units := make([]uint16, 0, (n-2)/2)
	for i := pos + 2; i < pos+n; i += 2 {
		units = append(units, binary.LittleEndian.Uint16(img[i:]))
	}
	return string(utf16.Decode(units)), nil
}
