package signal

import (
	"sync/atomic"
	"time"
)

// Pins abstracts a bank of up to 32 GPIO lines. Bit n of every mask and
// level word addresses pin n. Implementations must apply Write as a single
// operation so that all masked pins change together, or, where the hardware
// cannot, change TCK only after every other masked pin has settled.
type Pins interface {
	// Init configures the masked pins as inputs with a low output latch.
	Init(mask uint32)
	// SetDirection makes masked pins outputs where the bit in outputs is set
	// and inputs (high impedance) otherwise.
	SetDirection(mask, outputs uint32)
	// Read returns the pad level of every pin.
	Read() uint32
	// Write sets the output latch of the masked pins to value.
	Write(mask, value uint32)
	// OutputLevels returns the output latch, independent of direction.
	OutputLevels() uint32
}

// Delay is a short calibrated busy wait. One unit corresponds to five CPU
// cycles of the reference 120 MHz target (about 42 ns). Implementations must
// not yield.
type Delay interface {
	Wait(units int)
}

// Indicator mirrors the output-enable state, usually on an LED.
type Indicator interface {
	SetActive(on bool)
}

// NopDelay returns immediately. It keeps protocol tests deterministic.
type NopDelay struct{}

func (NopDelay) Wait(int) {}

// DefaultUnit is the reference length of one delay unit.
const DefaultUnit = 42 * time.Nanosecond

var spinSink atomic.Uint32

func spin(n int) {
	for i := 0; i < n; i++ {
		spinSink.Add(1)
	}
}

// CycleDelay burns a fixed number of loop iterations per unit.
type CycleDelay struct {
	loops int
}

// NewCycleDelay builds a delay running loops iterations per unit.
func NewCycleDelay(loops int) CycleDelay {
	if loops < 1 {
		loops = 1
	}
	return CycleDelay{loops: loops}
}

// Calibrate measures the host loop speed and returns a CycleDelay whose unit
// approximates the requested duration.
func Calibrate(unit time.Duration) CycleDelay {
	const probe = 1 << 18
	start := time.Now()
	spin(probe)
	elapsed := time.Since(start)
	if elapsed <= 0 || unit <= 0 {
		return NewCycleDelay(1)
	}
	return NewCycleDelay(int(int64(probe) * int64(unit) / int64(elapsed)))
}

// Loops returns the iteration count per unit.
func (d CycleDelay) Loops() int { return d.loops }

func (d CycleDelay) Wait(units int) {
	spin(units * d.loops)
}

type nopIndicator struct{}

func (nopIndicator) SetActive(bool) {}
