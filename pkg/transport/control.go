package transport

import (
	"context"
	"fmt"
	"sync"
)

// Request type fields of bmRequestType.
const (
	DirIn        = 0x80
	TypeMask     = 0x60
	TypeStandard = 0x00
	TypeClass    = 0x20
	TypeVendor   = 0x40
)

// Setup is the 8-byte SETUP stage of a control transfer.
type Setup struct {
	RequestType uint8  `json:"bmRequestType"`
	Request     uint8  `json:"bRequest"`
	Value       uint16 `json:"wValue"`
	Index       uint16 `json:"wIndex"`
	Length      uint16 `json:"wLength"`
}

// In reports a device-to-host transfer.
func (s Setup) In() bool { return s.RequestType&DirIn != 0 }

// Vendor reports a vendor-class request.
func (s Setup) Vendor() bool { return s.RequestType&TypeMask == TypeVendor }

func (s Setup) String() string {
	dir := "OUT"
	if s.In() {
		dir = "IN"
	}
	return fmt.Sprintf("Setup{%s type=%#02x req=%#02x value=%#04x index=%#04x length=%d}",
		dir, s.RequestType, s.Request, s.Value, s.Index, s.Length)
}

// Port is the device behind a link: its endpoint FIFO plus attach and
// control handling. Attach, Detach and Control may be called from link
// goroutines.
type Port interface {
	FIFO() *FIFO
	Attach()
	Detach()
	Control(s Setup, data []byte) []byte
}

// hostSession is one attached host on a Port. OUT packets go through
// Receive; End detaches the port only after no Receive is in flight, so a
// packet from this host can never land after the unmount discard.
type hostSession struct {
	port   Port
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

func attachHost(ctx context.Context, port Port) *hostSession {
	s := &hostSession{port: port}
	s.ctx, s.cancel = context.WithCancel(ctx)
	port.Attach()
	return s
}

// Receive queues pkt on the port FIFO, blocking while it is full.
func (s *hostSession) Receive(pkt []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctx.Err(); err != nil {
		return err
	}
	return s.port.FIFO().Receive(s.ctx, pkt)
}

// End cancels the session and detaches the port.
func (s *hostSession) End() {
	s.cancel()
	s.mu.Lock()
	s.port.Detach()
	s.mu.Unlock()
}
