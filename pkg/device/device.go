// Package device ties the protocol engine, the transport adapter and the
// status lights into one emulated cable and runs them on a single goroutine.
package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/OpenTraceLab/picoblaster/pkg/eeprom"
	"github.com/OpenTraceLab/picoblaster/pkg/engine"
	"github.com/OpenTraceLab/picoblaster/pkg/indicator"
	"github.com/OpenTraceLab/picoblaster/pkg/signal"
	"github.com/OpenTraceLab/picoblaster/pkg/transport"
)

// USB identity of the emulated cable.
const (
	VendorID     = 0x09FB
	ProductID    = 0x6001
	Release      = 0x0400
	Manufacturer = "Pico"
	Product      = "USB Blaster"
)

// DefaultPollInterval is how often Run services the device when idle.
const DefaultPollInterval = time.Millisecond

// Event is a bus lifecycle notification.
type Event uint8

const (
	EventMount Event = iota + 1
	EventUnmount
	EventSuspend
	EventResume
	EventBusReset
)

func (e Event) String() string {
	switch e {
	case EventMount:
		return "mount"
	case EventUnmount:
		return "unmount"
	case EventSuspend:
		return "suspend"
	case EventResume:
		return "resume"
	case EventBusReset:
		return "bus reset"
	default:
		return fmt.Sprintf("Event(%d)", uint8(e))
	}
}

// Config assembles a device.
type Config struct {
	// Signals is the signal layer the engine drives.
	Signals engine.Signals
	// Levels, if set, reports the seven signal levels for snapshots.
	Levels func() uint8
	// Status is the link-state light. Nil disables blinking.
	Status signal.Indicator
	// EEPROM answers vendor request 0x90. Nil means eeprom.Blaster().
	EEPROM *eeprom.Image

	FlushInterval time.Duration
	PollInterval  time.Duration
	FIFODepth     int
	Log           zerolog.Logger
}

// Snapshot is a consistent view of the device for monitoring.
type Snapshot struct {
	Mounted   bool
	Suspended bool
	OE        bool
	Levels    uint8
	Blink     time.Duration
	Engine    engine.State
	Stats     engine.Stats
	Transport transport.Stats
	Pending   int
	Controls  uint64
	Updated   time.Time
}

// Device is an emulated download cable. Run (or Step) must be called from
// a single goroutine; Post, Attach, Detach, Control and Snapshot are safe
// from any goroutine.
type Device struct {
	eng     *engine.Engine
	fifo    *transport.FIFO
	adapter *transport.Adapter
	blink   *indicator.Blinker
	levels  func() uint8
	rom     eeprom.Image
	poll    time.Duration
	log     zerolog.Logger

	events    chan Event
	mounted   bool
	suspended bool
	controls  atomic.Uint64

	mu   sync.Mutex
	snap Snapshot
}

// New builds a device from cfg.
func New(cfg Config) (*Device, error) {
	if cfg.Signals == nil {
		return nil, fmt.Errorf("device: no signal layer")
	}
	d := &Device{
		eng:    engine.New(cfg.Signals),
		fifo:   transport.NewFIFO(cfg.FIFODepth),
		levels: cfg.Levels,
		poll:   cfg.PollInterval,
		log:    cfg.Log,
		events: make(chan Event, 16),
	}
	if d.poll <= 0 {
		d.poll = DefaultPollInterval
	}
	if cfg.EEPROM != nil {
		d.rom = *cfg.EEPROM
	} else {
		rom, err := eeprom.Build(eeprom.Blaster())
		if err != nil {
			return nil, err
		}
		d.rom = rom
	}
	if cfg.Status != nil {
		d.blink = indicator.NewBlinker(cfg.Status)
	}

	var opts []transport.Option
	if cfg.FlushInterval > 0 {
		opts = append(opts, transport.WithFlushInterval(cfg.FlushInterval))
	}
	d.adapter = transport.NewAdapter(d.eng, d.fifo, opts...)
	d.eng.Reset()
	return d, nil
}

// Engine exposes the protocol engine. It must only be used from the
// device goroutine.
func (d *Device) Engine() *engine.Engine { return d.eng }

// FIFO implements transport.Port.
func (d *Device) FIFO() *transport.FIFO { return d.fifo }

// Attach implements transport.Port.
func (d *Device) Attach() {
	d.Post(EventMount)
	d.fifo.SetMounted(true)
}

// Detach implements transport.Port.
func (d *Device) Detach() {
	d.fifo.SetMounted(false)
	d.Post(EventUnmount)
}

// Post queues a lifecycle event for the device goroutine.
func (d *Device) Post(ev Event) {
	d.events <- ev
}

// Snapshot returns the state recorded after the last step.
func (d *Device) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snap
}

// Run services the device until ctx ends.
func (d *Device) Run(ctx context.Context) error {
	d.log.Info().Dur("poll", d.poll).Msg("device running")
	tick := time.NewTicker(d.poll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("device stopped")
			return nil
		case ev := <-d.events:
			d.handle(ev)
		case <-d.fifo.Notify():
		case <-tick.C:
		}
		for d.Step(time.Now()) {
		}
	}
}

// Step handles queued events, runs one transport pass and updates the
// lights. It reports whether data moved.
func (d *Device) Step(now time.Time) bool {
	for drained := false; !drained; {
		select {
		case ev := <-d.events:
			d.handle(ev)
		default:
			drained = true
		}
	}

	worked := d.adapter.Tick(now)
	if d.blink != nil {
		d.blink.Tick(now)
	}
	d.record(now)
	return worked
}

func (d *Device) handle(ev Event) {
	switch ev {
	case EventMount:
		d.eng.Reset()
		d.mounted = true
		d.suspended = false
		d.setBlink(indicator.BlinkMounted)
	case EventUnmount:
		d.mounted = false
		d.fifo.Discard()
		d.setBlink(indicator.BlinkUnmounted)
	case EventSuspend:
		d.suspended = true
		d.setBlink(indicator.BlinkSuspended)
	case EventResume:
		d.eng.Reset()
		d.suspended = false
		if d.mounted {
			d.setBlink(indicator.BlinkMounted)
		} else {
			d.setBlink(indicator.BlinkUnmounted)
		}
	case EventBusReset:
		d.eng.Reset()
	default:
		d.log.Warn().Stringer("event", ev).Msg("unknown event")
		return
	}
	d.log.Info().Stringer("event", ev).Bool("mounted", d.mounted).Msg("device " + ev.String())
}

func (d *Device) setBlink(iv time.Duration) {
	if d.blink != nil {
		d.blink.SetInterval(iv)
	}
}

func (d *Device) record(now time.Time) {
	s := Snapshot{
		Mounted:   d.mounted,
		Suspended: d.suspended,
		OE:        d.eng.OutputEnabled(),
		Engine:    d.eng.State(),
		Stats:     d.eng.Stats(),
		Transport: d.adapter.Stats(),
		Pending:   d.adapter.Pending(),
		Controls:  d.controls.Load(),
		Updated:   now,
	}
	if d.blink != nil {
		s.Blink = d.blink.Interval()
	}
	if d.levels != nil {
		s.Levels = d.levels()
	}
	d.mu.Lock()
	d.snap = s
	d.mu.Unlock()
}
