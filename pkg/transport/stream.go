package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Frame kinds of the packet stream used over byte-oriented links.
const (
	FrameBulk    byte = 0x01
	FrameControl byte = 0x02
	FrameReply   byte = 0x03
)

// SetupSize is the encoded size of a Setup.
const SetupSize = 8

// MaxFrame is the largest frame payload.
const MaxFrame = 0xFF

var errFrameSize = errors.New("transport: frame too large")

// MarshalBinary encodes s in USB wire order.
func (s Setup) MarshalBinary() ([]byte, error) {
	b := make([]byte, SetupSize)
	b[0] = s.RequestType
	b[1] = s.Request
	binary.LittleEndian.PutUint16(b[2:], s.Value)
	binary.LittleEndian.PutUint16(b[4:], s.Index)
	binary.LittleEndian.PutUint16(b[6:], s.Length)
	return b, nil
}

// UnmarshalBinary decodes a Setup in USB wire order.
func (s *Setup) UnmarshalBinary(b []byte) error {
	if len(b) < SetupSize {
		return fmt.Errorf("transport: short setup packet (%d bytes)", len(b))
	}
	s.RequestType = b[0]
	s.Request = b[1]
	s.Value = binary.LittleEndian.Uint16(b[2:])
	s.Index = binary.LittleEndian.Uint16(b[4:])
	s.Length = binary.LittleEndian.Uint16(b[6:])
	return nil
}

// WriteFrame writes one frame: kind, payload length, payload.
func WriteFrame(w io.Writer, kind byte, payload []byte) error {
	if len(payload) > MaxFrame {
		return errFrameSize
	}
	buf := make([]byte, 0, 2+len(payload))
	buf = append(buf, kind, byte(len(payload)))
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame into buf, which must hold MaxFrame bytes.
func ReadFrame(r io.Reader, buf []byte) (byte, []byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := int(hdr[1])
	if n > len(buf) {
		return 0, nil, errFrameSize
	}
	if _, err := io.ReadFull(r, buf[:n]); err != nil {
		return 0, nil, err
	}
	return hdr[0], buf[:n], nil
}

// ServeStream attaches port to a framed byte stream until ctx ends or the
// stream fails. Bulk frames from the host feed the OUT endpoint, control
// frames are answered with reply frames and IN packets go out as bulk
// frames.
func ServeStream(ctx context.Context, port Port, rw io.ReadWriter, log zerolog.Logger) error {
	host := attachHost(ctx, port)
	defer host.End()
	ctx = host.ctx

	fifo := port.FIFO()
	replies := make(chan []byte, 1)
	errc := make(chan error, 1)

	go func() {
		buf := make([]byte, MaxFrame)
		for {
			kind, payload, err := ReadFrame(rw, buf)
			if err != nil {
				errc <- fmt.Errorf("read frame: %w", err)
				return
			}
			switch kind {
			case FrameBulk:
				for len(payload) > 0 {
					n := min(len(payload), PacketSize)
					if err := host.Receive(payload[:n]); err != nil {
						errc <- err
						return
					}
					payload = payload[n:]
				}
			case FrameControl:
				var s Setup
				if err := s.UnmarshalBinary(payload); err != nil {
					log.Warn().Err(err).Msg("bad control frame")
					continue
				}
				reply := port.Control(s, payload[SetupSize:])
				select {
				case replies <- reply:
				case <-ctx.Done():
					return
				}
			default:
				log.Warn().Uint8("kind", kind).Msg("unknown frame kind")
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case pkt := <-fifo.Transmit():
			if err := WriteFrame(rw, FrameBulk, pkt); err != nil {
				return fmt.Errorf("write bulk frame: %w", err)
			}
		case reply := <-replies:
			if err := WriteFrame(rw, FrameReply, reply); err != nil {
				return fmt.Errorf("write reply frame: %w", err)
			}
		}
	}
}
