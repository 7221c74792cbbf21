package transport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestFIFOReceiveRequiresMount(t *testing.T) {
	f := NewFIFO(2)
	if err := f.Receive(context.Background(), []byte{1}); !errors.Is(err, ErrNotMounted) {
		t.Fatalf("Receive unmounted error = %v", err)
	}
	f.SetMounted(true)
	if err := f.Receive(context.Background(), make([]byte, PacketSize+1)); !errors.Is(err, ErrPacketSize) {
		t.Fatalf("oversize error = %v", err)
	}
	if err := f.Receive(context.Background(), []byte{1, 2, 3}); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	select {
	case <-f.Notify():
	default:
		t.Fatalf("no notification after receive")
	}
}

func TestFIFOPartialReads(t *testing.T) {
	f := NewFIFO(2)
	f.SetMounted(true)
	ctx := context.Background()
	f.Receive(ctx, []byte{1, 2, 3})
	f.Receive(ctx, []byte{4})

	buf := make([]byte, 2)
	var got []byte
	for f.Available() {
		n := f.Read(buf)
		got = append(got, buf[:n]...)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("read %v", got)
	}
	if f.Read(buf) != 0 {
		t.Fatalf("read from empty FIFO")
	}
}

func TestFIFOTransmitSpace(t *testing.T) {
	f := NewFIFO(1)
	f.SetMounted(true)

	if got := f.WriteAvailable(); got != PacketSize {
		t.Fatalf("WriteAvailable = %d, want %d", got, PacketSize)
	}
	f.Write([]byte{0x31, 0x60, 9})
	f.Flush()
	if got := f.WriteAvailable(); got != 0 {
		t.Fatalf("WriteAvailable with full queue = %d", got)
	}

	pkt, err := f.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !bytes.Equal(pkt, []byte{0x31, 0x60, 9}) {
		t.Fatalf("packet = %x", pkt)
	}
	if f.WriteAvailable() != PacketSize {
		t.Fatalf("space not released")
	}
}

func TestFIFOWriteCapsAtPacket(t *testing.T) {
	f := NewFIFO(1)
	if n := f.Write(make([]byte, PacketSize+10)); n != PacketSize {
		t.Fatalf("Write accepted %d", n)
	}
	if f.WriteAvailable() != 0 {
		t.Fatalf("staged packet not accounted")
	}
}

func TestFIFODiscard(t *testing.T) {
	f := NewFIFO(2)
	f.SetMounted(true)
	f.Receive(context.Background(), []byte{1})
	f.Write([]byte{2})
	f.Flush()

	f.Discard()
	if f.Available() {
		t.Fatalf("inbound data survived Discard")
	}
	select {
	case pkt := <-f.Transmit():
		t.Fatalf("outbound packet survived Discard: %x", pkt)
	default:
	}
}

func TestFIFOClose(t *testing.T) {
	f := NewFIFO(1)
	f.SetMounted(true)
	f.Close()
	f.Close()

	if f.Mounted() {
		t.Fatalf("closed FIFO reports mounted")
	}
	if err := f.Receive(context.Background(), []byte{1}); !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("Receive after close = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := f.Next(ctx); !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("Next after close = %v", err)
	}
}

func TestFIFOReceiveBlocksUntilContextDone(t *testing.T) {
	f := NewFIFO(1)
	f.SetMounted(true)
	f.Receive(context.Background(), []byte{1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.Receive(ctx, []byte{2}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Receive on full FIFO = %v", err)
	}
}

func TestAdapterOverFIFO(t *testing.T) {
	f := NewFIFO(DefaultDepth)
	f.SetMounted(true)
	a := NewAdapter(echo{}, f)

	f.Receive(context.Background(), []byte("hello"))
	a.Tick(t0)

	pkt, err := f.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if want := append(DefaultHeader[:], "hello"...); !bytes.Equal(pkt, want) {
		t.Fatalf("packet = %q, want %q", pkt, want)
	}
}
