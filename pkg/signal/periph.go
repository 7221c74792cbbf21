package signal

import (
	"fmt"
	"math/bits"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/bcm283x"
)

// PeriphPins drives host GPIO lines through periph.io. On BCM283x SoCs
// (Raspberry Pi) masked writes go straight to the GPSET0/GPCLR0 registers
// and reads come from GPLEV0; elsewhere each pin is accessed individually.
//
// Neither path changes every masked pin in one store: a BCM283x write needs
// a set and a clear register access. Write therefore settles all other pins
// first and changes the clock pins last, so the target never sees a TCK
// edge while TMS or TDI still hold their previous level.
type PeriphPins struct {
	pins  [BankWidth]gpio.PinIO
	clock uint32
	out   uint32
	dir   uint32
	fast  bool
	err   error
}

// OpenPeriphPins initializes the periph.io host drivers and claims the pins
// named by mask ("GPIO<n>" for bit n). Pins in clock are written after the
// rest of every Write.
func OpenPeriphPins(mask, clock uint32) (*PeriphPins, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	p := &PeriphPins{clock: clock, fast: bcm283x.Present()}
	for m := mask; m != 0; m &= m - 1 {
		n := bits.TrailingZeros32(m)
		pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
		if pin == nil {
			return nil, fmt.Errorf("periph: GPIO%d not found", n)
		}
		p.pins[n] = pin
	}
	return p, nil
}

// Err returns the first error reported by a pin operation.
func (p *PeriphPins) Err() error { return p.err }

func (p *PeriphPins) note(err error) {
	if err != nil && p.err == nil {
		p.err = err
	}
}

func (p *PeriphPins) each(mask uint32, fn func(n int, pin gpio.PinIO)) {
	for m := mask; m != 0; m &= m - 1 {
		n := bits.TrailingZeros32(m)
		if p.pins[n] != nil {
			fn(n, p.pins[n])
		}
	}
}

func (p *PeriphPins) Init(mask uint32) {
	p.out &^= mask
	p.dir &^= mask
	p.each(mask, func(_ int, pin gpio.PinIO) {
		p.note(pin.In(gpio.Float, gpio.NoEdge))
	})
}

func (p *PeriphPins) SetDirection(mask, outputs uint32) {
	p.dir = (p.dir &^ mask) | (outputs & mask)
	p.each(mask, func(n int, pin gpio.PinIO) {
		if outputs&(1<<uint(n)) != 0 {
			p.note(pin.Out(gpio.Level(p.out&(1<<uint(n)) != 0)))
			return
		}
		p.note(pin.In(gpio.Float, gpio.NoEdge))
	})
}

func (p *PeriphPins) Read() uint32 {
	if p.fast {
		return bcm283x.PinsRead0To31()
	}
	var levels uint32
	p.each(^uint32(0), func(n int, pin gpio.PinIO) {
		if pin.Read() == gpio.High {
			levels |= 1 << uint(n)
		}
	})
	return levels
}

func (p *PeriphPins) Write(mask, value uint32) {
	p.out = (p.out &^ mask) | (value & mask)
	p.drive(mask&^p.clock, value)
	p.drive(mask&p.clock, value)
}

func (p *PeriphPins) drive(mask, value uint32) {
	if mask == 0 {
		return
	}
	if p.fast {
		bcm283x.PinsSet0To31(value & mask)
		bcm283x.PinsClear0To31(mask &^ value)
		return
	}
	p.each(mask&p.dir, func(n int, pin gpio.PinIO) {
		p.note(pin.Out(gpio.Level(value&(1<<uint(n)) != 0)))
	})
}

func (p *PeriphPins) OutputLevels() uint32 {
	return p.out
}
