package cable

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/OpenTraceLab/picoblaster/pkg/transport"
)

// MemConn talks to an in-process device port.
type MemConn struct {
	port   transport.Port
	fifo   *transport.FIFO
	closed atomic.Bool
}

// NewMemConn attaches to port.
func NewMemConn(port transport.Port) *MemConn {
	port.Attach()
	return &MemConn{port: port, fifo: port.FIFO()}
}

func (m *MemConn) WritePacket(ctx context.Context, p []byte) error {
	if m.closed.Load() {
		return ErrClosed
	}
	for len(p) > 0 {
		n := min(len(p), transport.PacketSize)
		if err := m.fifo.Receive(ctx, p[:n]); err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func (m *MemConn) ReadPacket(ctx context.Context, buf []byte) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	pkt, err := m.fifo.Next(ctx)
	if errors.Is(err, transport.ErrLinkClosed) {
		return 0, ErrClosed
	}
	if err != nil {
		return 0, err
	}
	return copy(buf, pkt), nil
}

func (m *MemConn) Control(ctx context.Context, s transport.Setup, data []byte) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	return m.port.Control(s, data), nil
}

// Close detaches from the port.
func (m *MemConn) Close() error {
	if m.closed.CompareAndSwap(false, true) {
		m.port.Detach()
	}
	return nil
}
