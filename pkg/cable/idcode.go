package cable

import (
	"context"
	"fmt"

	"github.com/OpenTraceLab/picoblaster/pkg/tap"
)

// IDCode is a decoded IEEE 1149.1 device identification register.
type IDCode struct {
	Raw        uint32
	Version    uint8
	PartNumber uint16
	// Bank is the JEP106 continuation count, ID the 7-bit code in that bank.
	Bank uint8
	ID   uint8
}

// ParseIDCode splits raw into its fields.
func ParseIDCode(raw uint32) IDCode {
	return IDCode{
		Raw:        raw,
		Version:    uint8(raw >> 28),
		PartNumber: uint16(raw >> 12),
		Bank:       uint8(raw>>8) & 0xF,
		ID:         uint8(raw>>1) & 0x7F,
	}
}

// Valid reports whether the mandatory LSB is set and the code is not the
// all-ones value of an open chain.
func (c IDCode) Valid() bool { return c.Raw&1 == 1 && c.Raw != 0xFFFFFFFF }

// Manufacturer returns the JEP106 name, or "" when unknown.
func (c IDCode) Manufacturer() string {
	return manufacturers[uint16(c.Bank)<<7|uint16(c.ID)]
}

func (c IDCode) String() string {
	m := c.Manufacturer()
	if m == "" {
		m = fmt.Sprintf("bank %d id %#02x", c.Bank, c.ID)
	}
	return fmt.Sprintf("%#08x (version %d, part %#04x, %s)", c.Raw, c.Version, c.PartNumber, m)
}

// manufacturers maps bank<<7|id to a name for vendors that ship JTAG parts.
var manufacturers = map[uint16]string{
	0x009: "Intel",
	0x00F: "National",
	0x015: "NXP (Philips)",
	0x017: "Texas Instruments",
	0x01F: "Atmel",
	0x020: "STMicroelectronics",
	0x021: "Lattice",
	0x029: "Microchip",
	0x049: "Xilinx",
	0x06E: "Altera",
	0x23B: "ARM",
	0x2B4: "Efinix",
	0x41B: "Gowin",
}

// ReadIDCode resets the TAP, reads the 32-bit DR that IDCODE selects after
// reset and returns the controller to Run-Test/Idle.
func (c *Cable) ReadIDCode(ctx context.Context) (IDCode, error) {
	enc := NewEncoder()
	enc.Set(NCS).OutputEnable(true)

	enc.TMS(tap.ResetPath())
	path, err := tap.Path(tap.TestLogicReset, tap.ShiftDR)
	if err != nil {
		return IDCode{}, err
	}
	enc.TMS(path)

	// 24 bits through the shifter, the last byte bit by bit so TMS can rise
	// on bit 31.
	enc.Shift([]byte{0, 0, 0}, true)
	for i := 0; i < 8; i++ {
		enc.Clock(i == 7, false, true)
	}
	enc.TMS([]bool{true, false})
	enc.OutputEnable(false)

	reply, err := c.Run(ctx, enc)
	if err != nil {
		return IDCode{}, err
	}
	if len(reply) != 11 {
		return IDCode{}, fmt.Errorf("cable: IDCODE reply of %d bytes", len(reply))
	}

	raw := uint32(reply[0]) | uint32(reply[1])<<8 | uint32(reply[2])<<16
	for i, b := range reply[3:] {
		raw |= uint32(b&1) << uint(24+i)
	}
	return ParseIDCode(raw), nil
}
