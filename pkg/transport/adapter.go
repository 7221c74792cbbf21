// Package transport frames engine output into bulk IN packets and feeds bulk
// OUT data to the engine, bounding both latency and packet size.
package transport

import "time"

const (
	// PacketSize is the full-speed bulk endpoint packet size.
	PacketSize = 64
	// HeaderSize is the length of the constant status prefix of every IN packet.
	HeaderSize = 2
	// MaxPayload is the number of engine bytes carried by one IN packet.
	MaxPayload = PacketSize - HeaderSize

	// readLimit stops inbound reads once more than this many bytes are
	// waiting. The gate is checked before a chunk is processed, so pending
	// output can reach readLimit plus one chunk, not just MaxPayload.
	readLimit = PacketSize
	// bufferSize holds readLimit pending bytes plus the output of one full
	// inbound chunk.
	bufferSize = readLimit + PacketSize

	// DefaultFlushInterval bounds how long produced bytes may wait.
	DefaultFlushInterval = 10 * time.Millisecond
)

// DefaultHeader is the FT245 modem status pair prefixed to every IN packet.
var DefaultHeader = [HeaderSize]byte{0x31, 0x60}

// Processor turns inbound bytes into response bytes, appending them to out.
type Processor interface {
	Process(out, in []byte) []byte
}

// Link is the device side of a vendor-class bulk endpoint pair. All calls
// are non-blocking polls.
type Link interface {
	// Mounted reports whether a host is attached and configured.
	Mounted() bool
	// Available reports whether inbound data is waiting.
	Available() bool
	// Read copies up to len(p) inbound bytes into p.
	Read(p []byte) int
	// WriteAvailable returns how many bytes Write accepts right now.
	WriteAvailable() int
	// Write queues p for transmission and returns the bytes accepted.
	Write(p []byte) int
	// Flush sends queued bytes as one packet.
	Flush()
}

// Stats counts adapter activity.
type Stats struct {
	Chunks   uint64
	Frames   uint64
	Stalls   uint64
	Dropped  uint64
	BytesIn  uint64
	BytesOut uint64
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithFlushInterval overrides DefaultFlushInterval.
func WithFlushInterval(d time.Duration) Option {
	return func(a *Adapter) { a.interval = d }
}

// WithHeader overrides DefaultHeader.
func WithHeader(h [HeaderSize]byte) Option {
	return func(a *Adapter) { a.header = h }
}

// Adapter moves bytes between a Link and a Processor. Tick must be called
// from a single goroutine.
type Adapter struct {
	proc     Processor
	link     Link
	header   [HeaderSize]byte
	interval time.Duration

	rx        [PacketSize]byte
	buf       [HeaderSize + bufferSize]byte
	pending   int
	lastFlush time.Time
	stats     Stats
}

// NewAdapter binds proc to link.
func NewAdapter(proc Processor, link Link, opts ...Option) *Adapter {
	a := &Adapter{
		proc:     proc,
		link:     link,
		header:   DefaultHeader,
		interval: DefaultFlushInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	copy(a.buf[:HeaderSize], a.header[:])
	return a
}

// Pending returns the number of produced bytes not yet sent.
func (a *Adapter) Pending() int { return a.pending }

// Stats returns activity counters.
func (a *Adapter) Stats() Stats { return a.stats }

// Tick runs one service pass and reports whether any data moved.
func (a *Adapter) Tick(now time.Time) bool {
	if !a.link.Mounted() {
		if a.pending > 0 {
			a.stats.Dropped += uint64(a.pending)
		}
		a.pending = 0
		return false
	}

	worked := false
	if a.pending <= readLimit && a.link.Available() {
		if n := a.link.Read(a.rx[:]); n > 0 {
			start := HeaderSize + a.pending
			out := a.proc.Process(a.buf[start:start], a.rx[:n])
			a.pending += copy(a.buf[start:], out)
			a.stats.Chunks++
			a.stats.BytesIn += uint64(n)
			worked = true
		}
	}

	if a.pending+HeaderSize < PacketSize && now.Sub(a.lastFlush) < a.interval {
		return worked
	}

	n := a.pending
	if n > MaxPayload {
		n = MaxPayload
	}
	if a.link.WriteAvailable() < n+HeaderSize {
		a.stats.Stalls++
		return worked
	}

	a.link.Write(a.buf[:HeaderSize+n])
	a.link.Flush()
	a.lastFlush = now
	a.stats.Frames++
	a.stats.BytesOut += uint64(n)

	a.pending -= n
	if a.pending > 0 {
		copy(a.buf[HeaderSize:], a.buf[HeaderSize+n:HeaderSize+n+a.pending])
	}
	return worked || n > 0
}
