// Package cable is the host side of a Blaster download cable. It encodes
// bitbang and shift commands, moves them over USB, WebSocket, serial or an
// in-process link and decodes the framed replies.
package cable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/OpenTraceLab/picoblaster/pkg/eeprom"
	"github.com/OpenTraceLab/picoblaster/pkg/transport"
)

var (
	// ErrNotFound is returned when no cable matches.
	ErrNotFound = errors.New("cable: not found")
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("cable: closed")
)

// DefaultTimeout bounds a single exchange.
const DefaultTimeout = 5 * time.Second

// FTDI vendor requests the cable driver issues on open.
const (
	requestReset      = 0x00
	requestSetLatency = 0x09
	requestReadEEPROM = 0x90
)

// Conn carries bulk packets and control transfers to a cable.
type Conn interface {
	// WritePacket sends host-to-device bytes.
	WritePacket(ctx context.Context, p []byte) error
	// ReadPacket receives one device-to-host packet, header included.
	ReadPacket(ctx context.Context, buf []byte) (int, error)
	// Control performs a control transfer and returns the IN data stage.
	Control(ctx context.Context, s transport.Setup, data []byte) ([]byte, error)
	Close() error
}

// Option configures a Cable.
type Option func(*Cable)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Cable) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Cable) { c.log = log }
}

// Cable drives a download cable over a Conn. It is not safe for concurrent
// use.
type Cable struct {
	conn    Conn
	dec     Decoder
	timeout time.Duration
	log     zerolog.Logger
	rx      []byte
}

// New wraps conn.
func New(conn Conn, opts ...Option) *Cable {
	c := &Cable{conn: conn, timeout: DefaultTimeout, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the connection.
func (c *Cable) Close() error { return c.conn.Close() }

// Init resets the interface chip and sets its latency timer.
func (c *Cable) Init(ctx context.Context) error {
	out := func(req uint8, value uint16) error {
		_, err := c.conn.Control(ctx, transport.Setup{
			RequestType: transport.TypeVendor,
			Request:     req,
			Value:       value,
		}, nil)
		return err
	}
	if err := out(requestReset, 0); err != nil {
		return fmt.Errorf("cable: reset: %w", err)
	}
	if err := out(requestSetLatency, 2); err != nil {
		return fmt.Errorf("cable: set latency: %w", err)
	}
	return nil
}

// ReadEEPROM reads the identification EEPROM word by word.
func (c *Cable) ReadEEPROM(ctx context.Context) (eeprom.Image, error) {
	var img eeprom.Image
	for w := 0; w < eeprom.Words; w++ {
		data, err := c.conn.Control(ctx, transport.Setup{
			RequestType: transport.DirIn | transport.TypeVendor,
			Request:     requestReadEEPROM,
			Index:       uint16(w),
			Length:      2,
		}, nil)
		if err != nil {
			return img, fmt.Errorf("cable: read eeprom word %d: %w", w, err)
		}
		if len(data) != 2 {
			return img, fmt.Errorf("cable: read eeprom word %d: %d bytes", w, len(data))
		}
		img[2*w], img[2*w+1] = data[0], data[1]
	}
	return img, nil
}

// Run sends the stream built by enc and returns its reply bytes.
func (c *Cable) Run(ctx context.Context, enc *Encoder) ([]byte, error) {
	return c.Exchange(ctx, enc.Bytes(), enc.Expect())
}

// Exchange writes out and collects expect reply bytes. Writing runs
// concurrently with reading since the cable stops accepting data while its
// replies are not drained.
func (c *Cable) Exchange(ctx context.Context, out []byte, expect int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	werr := make(chan error, 1)
	go func() {
		for len(out) > 0 {
			n := min(len(out), transport.PacketSize)
			if err := c.conn.WritePacket(ctx, out[:n]); err != nil {
				werr <- fmt.Errorf("cable: write: %w", err)
				return
			}
			out = out[n:]
		}
		werr <- nil
	}()

	reply := make([]byte, 0, expect)
	buf := make([]byte, transport.PacketSize)
	for len(c.rx) > 0 && len(reply) < expect {
		n := min(len(c.rx), expect-len(reply))
		reply = append(reply, c.rx[:n]...)
		c.rx = c.rx[n:]
	}
	for len(reply) < expect {
		n, err := c.conn.ReadPacket(ctx, buf)
		if err != nil {
			cancel()
			<-werr
			return reply, fmt.Errorf("cable: read after %d of %d bytes: %w", len(reply), expect, err)
		}
		payload, err := c.dec.Decode(buf[:n])
		if err != nil {
			c.log.Warn().Err(err).Int("len", n).Msg("dropping packet")
			continue
		}
		take := min(len(payload), expect-len(reply))
		reply = append(reply, payload[:take]...)
		c.rx = append(c.rx, payload[take:]...)
	}

	if err := <-werr; err != nil {
		return reply, err
	}
	c.log.Debug().Int("reply", len(reply)).Msg("exchange")
	return reply, nil
}
