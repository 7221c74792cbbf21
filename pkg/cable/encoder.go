package cable

import (
	"errors"

	"github.com/OpenTraceLab/picoblaster/pkg/transport"
)

// Bitbang byte layout.
const (
	TCK   = 0x01
	TMS   = 0x02
	NCE   = 0x04
	NCS   = 0x08
	TDI   = 0x10
	OE    = 0x20
	Read  = 0x40
	Shift = 0x80

	levelMask = 0x1F
	// MaxShift is the longest burst one control byte announces.
	MaxShift = 63
)

// ErrShortPacket is returned for an IN packet without its status header.
var ErrShortPacket = errors.New("cable: short packet")

// Encoder builds a host byte stream and counts the reply bytes it asks for.
type Encoder struct {
	buf    []byte
	levels uint8
	oe     bool
	expect int
}

// NewEncoder starts with all lines low and the outputs disabled.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Levels returns the line levels of the last bitbang byte.
func (e *Encoder) Levels() uint8 { return e.levels }

func (e *Encoder) bitbang(read bool) {
	b := e.levels & levelMask
	if e.oe {
		b |= OE
	}
	if read {
		b |= Read
		e.expect++
	}
	e.buf = append(e.buf, b)
}

// OutputEnable drives (or releases) the writable lines.
func (e *Encoder) OutputEnable(on bool) *Encoder {
	e.oe = on
	e.bitbang(false)
	return e
}

// Set applies new line levels.
func (e *Encoder) Set(levels uint8) *Encoder {
	e.levels = levels & levelMask
	e.bitbang(false)
	return e
}

// Sample reads both inputs without changing the lines. The reply byte holds
// TDO/CONF_DONE in bit0 and DATAOUT/nSTATUS in bit1.
func (e *Encoder) Sample() *Encoder {
	e.bitbang(true)
	return e
}

// Clock runs one TCK cycle with the given TMS and TDI levels. With read set
// the input is sampled before the rising edge.
func (e *Encoder) Clock(tms, tdi, read bool) *Encoder {
	l := e.levels &^ (TCK | TMS | TDI)
	if tms {
		l |= TMS
	}
	if tdi {
		l |= TDI
	}
	e.levels = l
	e.bitbang(read)
	e.levels = l | TCK
	e.bitbang(false)
	e.levels = l
	e.bitbang(false)
	return e
}

// TMS clocks each level of seq on TMS with TDI low.
func (e *Encoder) TMS(seq []bool) *Encoder {
	for _, tms := range seq {
		e.Clock(tms, false, false)
	}
	return e
}

// Shift sends data through the byte shifter, LSB first, in bursts of at
// most MaxShift bytes. With read set every byte returns the sampled input.
func (e *Encoder) Shift(data []byte, read bool) *Encoder {
	for len(data) > 0 {
		n := min(len(data), MaxShift)
		ctl := byte(Shift | n)
		if read {
			ctl |= Read
			e.expect += n
		}
		e.buf = append(e.buf, ctl)
		e.buf = append(e.buf, data[:n]...)
		data = data[n:]
	}
	// The shifter leaves TCK low.
	e.levels &^= TCK
	return e
}

// Bytes returns the encoded stream.
func (e *Encoder) Bytes() []byte { return e.buf }

// Expect returns the number of reply bytes the stream produces.
func (e *Encoder) Expect() int { return e.expect }

// Reset clears the stream but keeps the line state.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
	e.expect = 0
}

// Decoder strips the status header of IN packets.
type Decoder struct {
	header [transport.HeaderSize]byte
	seen   bool
}

// Decode returns the payload of pkt.
func (d *Decoder) Decode(pkt []byte) ([]byte, error) {
	if len(pkt) < transport.HeaderSize {
		return nil, ErrShortPacket
	}
	copy(d.header[:], pkt[:transport.HeaderSize])
	d.seen = true
	return pkt[transport.HeaderSize:], nil
}

// Status returns the header of the last decoded packet.
func (d *Decoder) Status() ([transport.HeaderSize]byte, bool) {
	return d.header, d.seen
}
