// Package engine interprets the Blaster host byte stream.
//
// Every inbound byte is either a control byte or, while a shift burst is
// active, raw shift-register data:
//
//	bit 7    1 = start a shift burst
//	bit 6    read flag (capture shift results / sample inputs)
//	bit 5-0  shift: burst length 0-63
//	bit 5    bitbang: output enable
//	bit 4-0  bitbang: levels of TDI, nCS, nCE, TMS, TCK
//
// The engine relays signal levels only; it never decodes JTAG instructions.
package engine

import "fmt"

const (
	flagShift   = 0x80
	flagRead    = 0x40
	flagOE      = 0x20
	lengthMask  = 0x3F
	bitbangMask = 0x1F

	// MaxBurst is the largest shift burst a control byte can announce.
	MaxBurst = lengthMask
)

// Signals is the part of the signal layer the engine drives.
type Signals interface {
	Initialize()
	SetOutputEnable(enable bool)
	BitbangExchange(payload uint8) uint8
	ShiftExchange(data uint8) uint8
	ClockLow()
	DriveLow()
	OutputEnabled() bool
}

// Mode tags the active engine state.
type Mode uint8

const (
	// ModeIdle reads the next byte as a control byte.
	ModeIdle Mode = iota
	// ModeShift feeds the next Remaining bytes to the shift register.
	ModeShift
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeShift:
		return "shift"
	default:
		return fmt.Sprintf("Mode(%d)", m)
	}
}

// State is the engine state. Remaining and Capture are meaningful only in
// ModeShift, where Remaining is in 1..MaxBurst.
type State struct {
	Mode      Mode
	Remaining uint8
	Capture   bool
}

// Idle reports whether the next byte is a control byte.
func (s State) Idle() bool { return s.Mode == ModeIdle }

func (s State) String() string {
	if s.Mode != ModeShift {
		return s.Mode.String()
	}
	return fmt.Sprintf("shift(remaining=%d capture=%v)", s.Remaining, s.Capture)
}

// Stats counts processed traffic since the engine was created.
type Stats struct {
	BytesIn    uint64
	BytesOut   uint64
	Bitbangs   uint64
	Bursts     uint64
	ShiftBytes uint64
	Resets     uint64
}

// Engine is the protocol state machine. It is not safe for concurrent use.
type Engine struct {
	sig   Signals
	state State
	stats Stats
}

// New returns an idle engine driving sig.
func New(sig Signals) *Engine {
	return &Engine{sig: sig}
}

// State returns the current state.
func (e *Engine) State() State { return e.state }

// Stats returns the traffic counters.
func (e *Engine) Stats() Stats { return e.stats }

// OutputEnabled reports the output-enable state of the signal layer.
func (e *Engine) OutputEnabled() bool { return e.sig.OutputEnabled() }

// Reset returns to idle, disables the outputs and drives all writable lines
// low. A burst in progress is dropped without emitting a partial byte.
func (e *Engine) Reset() {
	e.sig.Initialize()
	e.state = State{}
	e.sig.SetOutputEnable(false)
	e.sig.DriveLow()
	e.stats.Resets++
}

// Process interprets in and appends produced bytes to out. It never appends
// more bytes than it consumes.
func (e *Engine) Process(out, in []byte) []byte {
	e.sig.Initialize()
	e.stats.BytesIn += uint64(len(in))
	start := len(out)

	for _, b := range in {
		if e.state.Mode == ModeShift {
			v := e.sig.ShiftExchange(b)
			if e.state.Capture {
				out = append(out, v)
			}
			e.stats.ShiftBytes++
			e.state.Remaining--
			if e.state.Remaining == 0 {
				e.state = State{}
			}
			continue
		}

		if b&flagShift != 0 {
			e.sig.ClockLow()
			e.stats.Bursts++
			if n := b & lengthMask; n > 0 {
				e.state = State{Mode: ModeShift, Remaining: n, Capture: b&flagRead != 0}
			}
			continue
		}

		e.sig.SetOutputEnable(b&flagOE != 0)
		v := e.sig.BitbangExchange(b & bitbangMask)
		e.stats.Bitbangs++
		if b&flagRead != 0 {
			out = append(out, v)
		}
	}

	e.stats.BytesOut += uint64(len(out) - start)
	return out
}
