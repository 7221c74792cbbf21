package transport

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	// ErrLinkClosed is returned by link operations after Close.
	ErrLinkClosed = errors.New("transport: link closed")
	// ErrNotMounted is returned when the host side pushes data to an
	// unmounted FIFO.
	ErrNotMounted = errors.New("transport: not mounted")
	// ErrPacketSize is returned for packets larger than PacketSize.
	ErrPacketSize = errors.New("transport: packet exceeds endpoint size")
)

// DefaultDepth is the number of packets each FIFO direction buffers.
const DefaultDepth = 4

// FIFO is an in-memory bulk endpoint pair. The device side implements Link
// and is used by exactly one goroutine; the host side (Receive, Transmit)
// may be used from any goroutine.
type FIFO struct {
	mounted atomic.Bool
	closed  atomic.Bool

	rx     chan []byte
	tx     chan []byte
	notify chan struct{}
	done   chan struct{}

	cur   []byte
	stage []byte
}

// NewFIFO returns an unmounted FIFO buffering depth packets per direction.
func NewFIFO(depth int) *FIFO {
	if depth < 1 {
		depth = DefaultDepth
	}
	return &FIFO{
		rx:     make(chan []byte, depth),
		tx:     make(chan []byte, depth),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		stage:  make([]byte, 0, PacketSize),
	}
}

// SetMounted changes the attach state seen by the device side.
func (f *FIFO) SetMounted(on bool) {
	f.mounted.Store(on)
	f.wake()
}

// Mounted implements Link.
func (f *FIFO) Mounted() bool { return f.mounted.Load() && !f.closed.Load() }

// Available implements Link.
func (f *FIFO) Available() bool { return len(f.cur) > 0 || len(f.rx) > 0 }

// Read implements Link.
func (f *FIFO) Read(p []byte) int {
	if len(f.cur) == 0 {
		select {
		case pkt := <-f.rx:
			f.cur = pkt
		default:
			return 0
		}
	}
	n := copy(p, f.cur)
	f.cur = f.cur[n:]
	return n
}

// WriteAvailable implements Link. Space is offered one packet at a time.
func (f *FIFO) WriteAvailable() int {
	if f.closed.Load() || len(f.tx) == cap(f.tx) {
		return 0
	}
	return PacketSize - len(f.stage)
}

// Write implements Link.
func (f *FIFO) Write(p []byte) int {
	n := PacketSize - len(f.stage)
	if n > len(p) {
		n = len(p)
	}
	f.stage = append(f.stage, p[:n]...)
	return n
}

// Flush implements Link.
func (f *FIFO) Flush() {
	if len(f.stage) == 0 {
		return
	}
	pkt := append([]byte(nil), f.stage...)
	f.stage = f.stage[:0]
	select {
	case f.tx <- pkt:
	default:
	}
}

// Discard drops every queued packet in both directions.
func (f *FIFO) Discard() {
	f.cur = nil
	f.stage = f.stage[:0]
	for {
		select {
		case <-f.rx:
		case <-f.tx:
		default:
			return
		}
	}
}

// Receive queues one host-to-device packet, blocking while the FIFO is full.
func (f *FIFO) Receive(ctx context.Context, pkt []byte) error {
	if len(pkt) > PacketSize {
		return ErrPacketSize
	}
	if f.closed.Load() {
		return ErrLinkClosed
	}
	if !f.mounted.Load() {
		return ErrNotMounted
	}
	select {
	case f.rx <- append([]byte(nil), pkt...):
		f.wake()
		return nil
	case <-f.done:
		return ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Transmit returns the device-to-host packet queue.
func (f *FIFO) Transmit() <-chan []byte { return f.tx }

// Next waits for the next device-to-host packet.
func (f *FIFO) Next(ctx context.Context) ([]byte, error) {
	select {
	case pkt := <-f.tx:
		return pkt, nil
	case <-f.done:
		return nil, ErrLinkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify fires after inbound data or a mount change arrives.
func (f *FIFO) Notify() <-chan struct{} { return f.notify }

// Done is closed by Close.
func (f *FIFO) Done() <-chan struct{} { return f.done }

// Close detaches both sides. It is safe to call more than once.
func (f *FIFO) Close() error {
	if f.closed.CompareAndSwap(false, true) {
		close(f.done)
		f.wake()
	}
	return nil
}

func (f *FIFO) wake() {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}
