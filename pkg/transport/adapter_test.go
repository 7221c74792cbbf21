package transport

import (
	"bytes"
	"testing"
	"time"
)

// echo produces one byte per inbound byte.
type echo struct{}

func (echo) Process(out, in []byte) []byte { return append(out, in...) }

// fakeLink is a scripted Link.
type fakeLink struct {
	mounted  bool
	inbound  [][]byte
	space    int
	staged   []byte
	packets  [][]byte
	readSize []int
}

func newFakeLink() *fakeLink {
	return &fakeLink{mounted: true, space: PacketSize}
}

func (f *fakeLink) Mounted() bool       { return f.mounted }
func (f *fakeLink) Available() bool     { return len(f.inbound) > 0 }
func (f *fakeLink) WriteAvailable() int { return f.space }

func (f *fakeLink) Read(p []byte) int {
	if len(f.inbound) == 0 {
		return 0
	}
	n := copy(p, f.inbound[0])
	f.inbound[0] = f.inbound[0][n:]
	if len(f.inbound[0]) == 0 {
		f.inbound = f.inbound[1:]
	}
	f.readSize = append(f.readSize, n)
	return n
}

func (f *fakeLink) Write(p []byte) int {
	f.staged = append(f.staged, p...)
	return len(p)
}

func (f *fakeLink) Flush() {
	f.packets = append(f.packets, f.staged)
	f.staged = nil
}

func (f *fakeLink) push(n int, start byte) {
	pkt := make([]byte, n)
	for i := range pkt {
		pkt[i] = start + byte(i)
	}
	f.inbound = append(f.inbound, pkt)
}

var t0 = time.Unix(1000, 0)

func TestFlushOnFirstTick(t *testing.T) {
	link := newFakeLink()
	a := NewAdapter(echo{}, link)
	link.push(1, 0x42)

	a.Tick(t0)

	if len(link.packets) != 1 {
		t.Fatalf("packets = %d, want 1", len(link.packets))
	}
	if want := []byte{0x31, 0x60, 0x42}; !bytes.Equal(link.packets[0], want) {
		t.Fatalf("packet = %x, want %x", link.packets[0], want)
	}
}

func TestIdleFlushWithinInterval(t *testing.T) {
	link := newFakeLink()
	a := NewAdapter(echo{}, link)
	a.Tick(t0) // empty status packet, sets lastFlush
	link.packets = nil

	link.push(1, 0x42)
	a.Tick(t0.Add(time.Millisecond))
	if len(link.packets) != 0 {
		t.Fatalf("flushed after 1ms: %x", link.packets)
	}
	if a.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", a.Pending())
	}

	a.Tick(t0.Add(DefaultFlushInterval))
	if len(link.packets) != 1 || !bytes.Equal(link.packets[0], []byte{0x31, 0x60, 0x42}) {
		t.Fatalf("packets = %x", link.packets)
	}
}

func TestEmptyStatusPacketOnInterval(t *testing.T) {
	link := newFakeLink()
	a := NewAdapter(echo{}, link)
	a.Tick(t0)
	a.Tick(t0.Add(DefaultFlushInterval))
	if len(link.packets) != 2 {
		t.Fatalf("packets = %d, want 2", len(link.packets))
	}
	for _, p := range link.packets {
		if !bytes.Equal(p, DefaultHeader[:]) {
			t.Fatalf("status packet = %x", p)
		}
	}
}

func TestFullPacketFlushesImmediately(t *testing.T) {
	link := newFakeLink()
	a := NewAdapter(echo{}, link)
	a.Tick(t0)
	link.packets = nil

	link.push(PacketSize, 0)
	a.Tick(t0.Add(time.Microsecond))

	if len(link.packets) != 1 || len(link.packets[0]) != PacketSize {
		t.Fatalf("packets = %d, first len %d", len(link.packets), len(link.packets[0]))
	}
	if a.Pending() != PacketSize-MaxPayload {
		t.Fatalf("pending = %d, want %d", a.Pending(), PacketSize-MaxPayload)
	}
}

func TestCompactionKeepsOrder(t *testing.T) {
	link := newFakeLink()
	a := NewAdapter(echo{}, link)
	link.push(PacketSize, 0)
	link.push(PacketSize, PacketSize)

	var got []byte
	now := t0
	for i := 0; i < 10; i++ {
		a.Tick(now)
		now = now.Add(DefaultFlushInterval)
	}
	for _, p := range link.packets {
		if !bytes.Equal(p[:HeaderSize], DefaultHeader[:]) {
			t.Fatalf("bad header %x", p[:HeaderSize])
		}
		if len(p) > PacketSize {
			t.Fatalf("packet of %d bytes", len(p))
		}
		got = append(got, p[HeaderSize:]...)
	}
	if len(got) != 2*PacketSize {
		t.Fatalf("delivered %d bytes, want %d", len(got), 2*PacketSize)
	}
	for i, b := range got {
		if b != byte(i) {
			t.Fatalf("byte %d = %#x, want %#x", i, b, byte(i))
		}
	}
}

func TestBackpressureStopsReads(t *testing.T) {
	link := newFakeLink()
	link.space = 0
	a := NewAdapter(echo{}, link)
	for i := 0; i < 4; i++ {
		link.push(PacketSize, byte(i*PacketSize))
	}

	now := t0
	for i := 0; i < 8; i++ {
		a.Tick(now)
		now = now.Add(DefaultFlushInterval)
	}
	// One read while empty, a second while 64 are pending, then no more.
	if len(link.readSize) != 2 {
		t.Fatalf("reads = %v, want 2", link.readSize)
	}
	if a.Pending() != 2*PacketSize {
		t.Fatalf("pending = %d, want %d", a.Pending(), 2*PacketSize)
	}
	if len(link.packets) != 0 {
		t.Fatalf("sent %d packets without space", len(link.packets))
	}
	if a.Stats().Stalls == 0 {
		t.Fatalf("stall not counted")
	}

	link.space = PacketSize
	for i := 0; i < 16; i++ {
		a.Tick(now)
		now = now.Add(DefaultFlushInterval)
	}
	var total int
	for _, p := range link.packets {
		total += len(p) - HeaderSize
	}
	if total != 4*PacketSize {
		t.Fatalf("delivered %d bytes, want %d", total, 4*PacketSize)
	}
}

func TestSkipWhenSpaceShort(t *testing.T) {
	link := newFakeLink()
	a := NewAdapter(echo{}, link)
	link.push(10, 0)
	link.space = 11

	a.Tick(t0)
	if len(link.packets) != 0 {
		t.Fatalf("wrote without room for header")
	}
	link.space = 12
	a.Tick(t0.Add(time.Microsecond))
	if len(link.packets) != 1 || len(link.packets[0]) != 12 {
		t.Fatalf("packets = %x", link.packets)
	}
}

func TestUnmountedDropsPending(t *testing.T) {
	link := newFakeLink()
	a := NewAdapter(echo{}, link)
	a.Tick(t0)
	link.push(5, 0)
	a.Tick(t0.Add(time.Microsecond))
	if a.Pending() != 5 {
		t.Fatalf("pending = %d, want 5", a.Pending())
	}

	link.mounted = false
	a.Tick(t0.Add(2 * time.Microsecond))
	if a.Pending() != 0 {
		t.Fatalf("pending after unmount = %d", a.Pending())
	}
	if a.Stats().Dropped != 5 {
		t.Fatalf("dropped = %d, want 5", a.Stats().Dropped)
	}
}

func TestCustomHeaderAndInterval(t *testing.T) {
	link := newFakeLink()
	a := NewAdapter(echo{}, link, WithHeader([2]byte{0xAA, 0xBB}), WithFlushInterval(time.Second))
	a.Tick(t0)
	link.push(1, 7)
	a.Tick(t0.Add(500 * time.Millisecond))
	if len(link.packets) != 1 {
		t.Fatalf("flushed early: %x", link.packets)
	}
	a.Tick(t0.Add(time.Second))
	if !bytes.Equal(link.packets[1], []byte{0xAA, 0xBB, 7}) {
		t.Fatalf("packet = %x", link.packets[1])
	}
}
