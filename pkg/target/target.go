// Package target simulates a JTAG device wired to a SimPins bank. It watches
// TCK, TMS and TDI, runs a TAP controller with IDCODE and BYPASS registers
// and answers on TDO, so a whole cable can be exercised without hardware.
package target

import (
	"fmt"
	"sync"

	"github.com/OpenTraceLab/picoblaster/pkg/signal"
	"github.com/OpenTraceLab/picoblaster/pkg/tap"
)

// Defaults describe a 10-bit IR device with an Altera IDCODE.
const (
	DefaultIDCode   uint32 = 0x020F30DD
	DefaultIRLength        = 10
	InstrIDCode     uint32 = 0x006
)

// Config describes the simulated device.
type Config struct {
	IDCode   uint32
	IRLength int
	// IDCodeInstr selects the IDCODE register. All ones is always BYPASS.
	IDCodeInstr uint32
}

// DefaultConfig returns the default device description.
func DefaultConfig() Config {
	return Config{IDCode: DefaultIDCode, IRLength: DefaultIRLength, IDCodeInstr: InstrIDCode}
}

// Validate checks the IR length and the IDCODE marker bit.
func (c Config) Validate() error {
	if c.IRLength < 2 || c.IRLength > 32 {
		return fmt.Errorf("target: IR length %d out of range 2..32", c.IRLength)
	}
	if c.IDCode&1 == 0 {
		return fmt.Errorf("target: IDCODE %#08x lacks the mandatory LSB", c.IDCode)
	}
	return nil
}

// Device is one simulated TAP. It implements signal.Watcher.
type Device struct {
	cfg  Config
	pins *signal.SimPins
	m    signal.Map

	mu     sync.Mutex
	state  tap.State
	ir     uint32
	shift  uint64
	length int
	tck    bool
	clocks uint64
}

// Attach wires a device to the signal lines of pins described by m.
func Attach(pins *signal.SimPins, m signal.Map, cfg Config) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Device{cfg: cfg, pins: pins, m: m}
	d.reset()
	pins.Watch(d)
	return d, nil
}

func (d *Device) reset() {
	d.state = tap.TestLogicReset
	d.ir = d.cfg.IDCodeInstr
	d.drive(false)
}

// State returns the TAP state.
func (d *Device) State() tap.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Instruction returns the active instruction.
func (d *Device) Instruction() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ir
}

// Clocks returns the number of rising TCK edges seen.
func (d *Device) Clocks() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clocks
}

// PinsChanged implements signal.Watcher.
func (d *Device) PinsChanged(levels uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tck := levels&d.m.Mask(signal.TCK) != 0
	rising := tck && !d.tck
	falling := !tck && d.tck
	d.tck = tck

	switch {
	case rising:
		d.clocks++
		d.rise(levels&d.m.Mask(signal.TMS) != 0, levels&d.m.Mask(signal.TDI) != 0)
	case falling:
		d.fall()
	}
}

func (d *Device) rise(tms, tdi bool) {
	switch d.state {
	case tap.CaptureDR:
		d.captureDR()
	case tap.CaptureIR:
		d.shift = 1
		d.length = d.cfg.IRLength
	case tap.ShiftDR, tap.ShiftIR:
		d.shift >>= 1
		if tdi {
			d.shift |= 1 << uint(d.length-1)
		}
	}
	d.state = d.state.Next(tms)

	switch d.state {
	case tap.TestLogicReset:
		d.ir = d.cfg.IDCodeInstr
	case tap.UpdateIR:
		d.ir = uint32(d.shift) & (1<<uint(d.cfg.IRLength) - 1)
	}
}

// fall updates TDO, which only carries data in the shift states.
func (d *Device) fall() {
	d.drive(d.state.IsShift() && d.shift&1 != 0)
}

func (d *Device) captureDR() {
	if d.ir == d.cfg.IDCodeInstr {
		d.shift = uint64(d.cfg.IDCode)
		d.length = 32
		return
	}
	d.shift = 0
	d.length = 1
}

func (d *Device) drive(high bool) {
	mask := d.m.Mask(signal.TDO)
	var v uint32
	if high {
		v = mask
	}
	d.pins.Drive(mask, v)
}
