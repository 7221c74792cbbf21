package indicator

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// ws2812Rate sends each pixel bit as three SPI bits (1 -> 110, 0 -> 100).
const ws2812Rate = 2400 * physic.KiloHertz

// SPIPixel drives a single WS2812 light from an SPI MOSI line.
type SPIPixel struct {
	port spi.PortCloser
	conn spi.Conn
}

// OpenSPIPixel opens the named SPI port ("" for the first one).
func OpenSPIPixel(name string) (*SPIPixel, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open spi %q: %w", name, err)
	}
	conn, err := port.Connect(ws2812Rate, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("connect spi %q: %w", name, err)
	}
	return &SPIPixel{port: port, conn: conn}, nil
}

// SetPixel implements PixelWriter.
func (p *SPIPixel) SetPixel(color uint32) error {
	return p.conn.Tx(EncodeWS2812(color), nil)
}

// Close releases the SPI port.
func (p *SPIPixel) Close() error {
	return p.port.Close()
}

// EncodeWS2812 expands the 24 GRB bits of color into the SPI bit stream,
// followed by a low latch period.
func EncodeWS2812(color uint32) []byte {
	const latch = 8
	out := make([]byte, 9, 9+latch)
	var acc uint32
	var n, pos int
	for i := 31; i >= 8; i-- {
		sym := uint32(0b100)
		if color&(1<<uint(i)) != 0 {
			sym = 0b110
		}
		acc = acc<<3 | sym
		n += 3
		for n >= 8 {
			out[pos] = byte(acc >> uint(n-8))
			pos++
			n -= 8
		}
	}
	return append(out, make([]byte, latch)...)
}
