// Package indicator drives the cable's status lights: the activity light
// that follows output enable and the blinking link-state light.
package indicator

import (
	"github.com/rs/zerolog"

	"github.com/OpenTraceLab/picoblaster/pkg/signal"
)

// Pixel colours are 32-bit words carrying GRB in the top 24 bits, sent MSB
// first.
const (
	ColorOn  uint32 = 0x08000000
	ColorOff uint32 = 0x00080000
)

// LED is a single light on a pin of a signal bank.
type LED struct {
	pins signal.Pins
	mask uint32
}

// NewLED claims pin as an output, initially off.
func NewLED(pins signal.Pins, pin int) *LED {
	l := &LED{pins: pins, mask: 1 << uint(pin)}
	pins.Write(l.mask, 0)
	pins.SetDirection(l.mask, l.mask)
	return l
}

// SetActive implements signal.Indicator.
func (l *LED) SetActive(on bool) {
	var v uint32
	if on {
		v = l.mask
	}
	l.pins.Write(l.mask, v)
}

// PixelWriter shows one colour word on an addressable RGB light.
type PixelWriter interface {
	SetPixel(color uint32) error
}

// Pixel maps the active state onto two colours.
type Pixel struct {
	w       PixelWriter
	on, off uint32
	log     zerolog.Logger
}

// NewPixel shows off on w right away.
func NewPixel(w PixelWriter, on, off uint32, log zerolog.Logger) *Pixel {
	p := &Pixel{w: w, on: on, off: off, log: log}
	p.SetActive(false)
	return p
}

// SetActive implements signal.Indicator.
func (p *Pixel) SetActive(on bool) {
	c := p.off
	if on {
		c = p.on
	}
	if err := p.w.SetPixel(c); err != nil {
		p.log.Warn().Err(err).Msg("pixel write failed")
	}
}

// Log reports state changes through a logger.
type Log struct {
	log   zerolog.Logger
	label string
}

// NewLog returns an indicator logging at debug level.
func NewLog(log zerolog.Logger, label string) *Log {
	return &Log{log: log, label: label}
}

// SetActive implements signal.Indicator.
func (l *Log) SetActive(on bool) {
	l.log.Debug().Str("light", l.label).Bool("on", on).Msg("indicator")
}

// Multi fans a state change out to several indicators.
type Multi []signal.Indicator

// SetActive implements signal.Indicator.
func (m Multi) SetActive(on bool) {
	for _, ind := range m {
		ind.SetActive(on)
	}
}
