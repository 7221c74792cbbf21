package indicator

import (
	"time"

	"github.com/OpenTraceLab/picoblaster/pkg/signal"
)

// Link-state blink intervals.
const (
	BlinkUnmounted = 250 * time.Millisecond
	BlinkMounted   = 1000 * time.Millisecond
	BlinkSuspended = 2500 * time.Millisecond

	// AlwaysOff keeps the light dark.
	AlwaysOff time.Duration = 0
	// AlwaysOn keeps the light lit.
	AlwaysOn time.Duration = -1
)

// Blinker toggles a light at a configurable interval. It is polled with
// Tick from the device goroutine.
type Blinker struct {
	light    signal.Indicator
	interval time.Duration
	start    time.Time
	lit      bool
	written  bool
	started  bool
}

// NewBlinker starts in the unmounted pattern.
func NewBlinker(light signal.Indicator) *Blinker {
	return &Blinker{light: light, interval: BlinkUnmounted}
}

// Interval returns the current blink interval.
func (b *Blinker) Interval() time.Duration { return b.interval }

// Lit reports the last state written to the light.
func (b *Blinker) Lit() bool { return b.lit }

// SetInterval switches the pattern. The phase carries over.
func (b *Blinker) SetInterval(d time.Duration) { b.interval = d }

// Tick toggles the light once per elapsed interval.
func (b *Blinker) Tick(now time.Time) {
	if !b.started {
		b.start = now
		b.started = true
	}
	switch {
	case b.interval == AlwaysOff:
		b.set(false)
		return
	case b.interval < 0:
		b.set(true)
		return
	}
	if now.Sub(b.start) < b.interval {
		return
	}
	b.start = b.start.Add(b.interval)
	if now.Sub(b.start) >= b.interval {
		// Resync after a long stall.
		b.start = now
	}
	b.set(!b.lit)
}

func (b *Blinker) set(on bool) {
	if b.lit == on && b.written {
		return
	}
	b.lit = on
	b.written = true
	b.light.SetActive(on)
}
