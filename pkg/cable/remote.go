package cable

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"

	"github.com/OpenTraceLab/picoblaster/pkg/transport"
)

// demux splits an incoming message stream into bulk packets and control
// replies. Control transfers are serialized by ctl.
type demux struct {
	bulk    chan []byte
	replies chan []byte
	done    chan struct{}
	errOnce sync.Once
	err     error

	wmu sync.Mutex
	ctl sync.Mutex
}

func newDemux() *demux {
	return &demux{
		bulk:    make(chan []byte, 16),
		replies: make(chan []byte, 1),
		done:    make(chan struct{}),
	}
}

func (d *demux) fail(err error) {
	d.errOnce.Do(func() {
		d.err = err
		close(d.done)
	})
}

func (d *demux) deliver(ch chan []byte, p []byte) bool {
	select {
	case ch <- append([]byte(nil), p...):
		return true
	case <-d.done:
		return false
	}
}

func (d *demux) read(ctx context.Context, buf []byte) (int, error) {
	select {
	case pkt := <-d.bulk:
		return copy(buf, pkt), nil
	case <-d.done:
		return 0, d.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (d *demux) reply(ctx context.Context) ([]byte, error) {
	select {
	case r := <-d.replies:
		return r, nil
	case <-d.done:
		return nil, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WebSocketConn talks to an emulator serving transport.WebSocketLink.
type WebSocketConn struct {
	conn *websocket.Conn
	*demux
}

// DialWebSocket connects to a ws:// or wss:// cable URL.
func DialWebSocket(ctx context.Context, rawURL string, skipVerify bool) (*WebSocketConn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipVerify}
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connection failed: %w", err)
	}

	w := &WebSocketConn{conn: conn, demux: newDemux()}
	go w.readLoop()
	return w, nil
}

func (w *WebSocketConn) readLoop() {
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			w.fail(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			if !w.deliver(w.bulk, data) {
				return
			}
		case websocket.TextMessage:
			var msg transport.ControlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if !w.deliver(w.replies, msg.Data) {
				return
			}
		}
	}
}

func (w *WebSocketConn) WritePacket(_ context.Context, p []byte) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, p)
}

func (w *WebSocketConn) ReadPacket(ctx context.Context, buf []byte) (int, error) {
	return w.read(ctx, buf)
}

func (w *WebSocketConn) Control(ctx context.Context, s transport.Setup, data []byte) ([]byte, error) {
	w.ctl.Lock()
	defer w.ctl.Unlock()

	w.wmu.Lock()
	err := w.conn.WriteJSON(transport.ControlMessage{Setup: s, Data: data})
	w.wmu.Unlock()
	if err != nil {
		return nil, err
	}
	return w.reply(ctx)
}

func (w *WebSocketConn) Close() error {
	w.fail(ErrClosed)
	w.wmu.Lock()
	w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	w.wmu.Unlock()
	return w.conn.Close()
}

// StreamConn talks to an emulator over a framed byte stream such as a
// serial line.
type StreamConn struct {
	rw io.ReadWriteCloser
	*demux
}

// NewStreamConn starts reading frames from rw.
func NewStreamConn(rw io.ReadWriteCloser) *StreamConn {
	s := &StreamConn{rw: rw, demux: newDemux()}
	go s.readLoop()
	return s
}

// OpenSerial opens a serial port and wraps it in a StreamConn.
func OpenSerial(name string, baud int) (*StreamConn, error) {
	if baud <= 0 {
		baud = transport.DefaultBaud
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return NewStreamConn(port), nil
}

func (s *StreamConn) readLoop() {
	buf := make([]byte, transport.MaxFrame)
	for {
		kind, payload, err := transport.ReadFrame(s.rw, buf)
		if err != nil {
			s.fail(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		var ch chan []byte
		switch kind {
		case transport.FrameBulk:
			ch = s.bulk
		case transport.FrameReply:
			ch = s.replies
		default:
			continue
		}
		if !s.deliver(ch, payload) {
			return
		}
	}
}

func (s *StreamConn) WritePacket(_ context.Context, p []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	for len(p) > 0 {
		n := min(len(p), transport.MaxFrame)
		if err := transport.WriteFrame(s.rw, transport.FrameBulk, p[:n]); err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func (s *StreamConn) ReadPacket(ctx context.Context, buf []byte) (int, error) {
	return s.read(ctx, buf)
}

func (s *StreamConn) Control(ctx context.Context, setup transport.Setup, data []byte) ([]byte, error) {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	hdr, _ := setup.MarshalBinary()
	s.wmu.Lock()
	err := transport.WriteFrame(s.rw, transport.FrameControl, append(hdr, data...))
	s.wmu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.reply(ctx)
}

func (s *StreamConn) Close() error {
	s.fail(ErrClosed)
	return s.rw.Close()
}
