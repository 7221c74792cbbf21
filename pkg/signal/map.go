package signal

import (
	"errors"
	"fmt"
)

// Signal identifies one of the seven cable lines. The value doubles as the
// pin offset from the map's base pin.
type Signal uint8

const (
	TCK     Signal = iota // TCK / DCLK
	TMS                   // TMS / nCONFIG
	NCE                   // nCE
	NCS                   // nCS, selects the sampled input in shift mode
	TDI                   // TDI / ASDI / DATA0
	TDO                   // TDO / CONF_DONE (input only)
	DataOut               // DATAOUT / nSTATUS (input only)

	NumSignals
)

// NumWritable is the count of output capable signals, TCK through TDI.
const NumWritable = 5

// NoPin marks an absent auxiliary pin.
const NoPin = -1

// BankWidth is the number of pins addressable through a Pins bank.
const BankWidth = 32

var signalNames = [NumSignals]string{
	TCK:     "TCK/DCLK",
	TMS:     "TMS/nCONFIG",
	NCE:     "nCE",
	NCS:     "nCS",
	TDI:     "TDI/ASDI",
	TDO:     "TDO/CONF_DONE",
	DataOut: "DATAOUT/nSTATUS",
}

func (s Signal) String() string {
	if s < NumSignals {
		return signalNames[s]
	}
	return fmt.Sprintf("Signal(%d)", s)
}

// Writable reports whether the signal can be driven by the cable.
func (s Signal) Writable() bool {
	return s < NumWritable
}

// ErrInvalidMap is returned when a pin assignment does not fit the bank.
var ErrInvalidMap = errors.New("signal: invalid pin map")

// Map places the seven signals on contiguous pins starting at a base pin and
// optionally names an auxiliary level-shifter enable pin. It is immutable
// once built.
type Map struct {
	base  uint8
	oePin int
}

// NewMap validates a base pin and optional output-enable pin (NoPin for none).
func NewMap(base int, oePin int) (Map, error) {
	if base < 0 || base+int(NumSignals) > BankWidth {
		return Map{}, fmt.Errorf("%w: base pin %d leaves no room for %d signals", ErrInvalidMap, base, NumSignals)
	}
	if oePin != NoPin {
		if oePin < 0 || oePin >= BankWidth {
			return Map{}, fmt.Errorf("%w: oe pin %d out of range", ErrInvalidMap, oePin)
		}
		if oePin >= base && oePin < base+int(NumSignals) {
			return Map{}, fmt.Errorf("%w: oe pin %d overlaps signal pins %d-%d", ErrInvalidMap, oePin, base, base+int(NumSignals)-1)
		}
	}
	return Map{base: uint8(base), oePin: oePin}, nil
}

// MustMap is NewMap for constant configurations.
func MustMap(base int, oePin int) Map {
	m, err := NewMap(base, oePin)
	if err != nil {
		panic(err)
	}
	return m
}

// Base returns the pin carrying TCK.
func (m Map) Base() int { return int(m.base) }

// Pin returns the bank pin number of s.
func (m Map) Pin(s Signal) int { return int(m.base) + int(s) }

// Mask returns the single-bit bank mask of s.
func (m Map) Mask(s Signal) uint32 { return 1 << (uint(m.base) + uint(s)) }

// WritableMask covers the five output capable signals.
func (m Map) WritableMask() uint32 { return 0x1F << m.base }

// SignalMask covers all seven signals.
func (m Map) SignalMask() uint32 { return 0x7F << m.base }

// HasOEPin reports whether a level-shifter enable pin is configured.
func (m Map) HasOEPin() bool { return m.oePin != NoPin }

// OEPin returns the level-shifter enable pin or NoPin.
func (m Map) OEPin() int { return m.oePin }

// OEMask returns the bank mask of the enable pin, zero when absent.
func (m Map) OEMask() uint32 {
	if m.oePin == NoPin {
		return 0
	}
	return 1 << uint(m.oePin)
}

// Pack moves a 5-bit payload (bit0 = TCK ... bit4 = TDI) onto the bank.
func (m Map) Pack(payload uint8) uint32 {
	return uint32(payload&0x1F) << m.base
}

// Unpack extracts the seven signal levels from bank levels, bit0 = TCK.
func (m Map) Unpack(levels uint32) uint8 {
	return uint8((levels >> m.base) & 0x7F)
}
