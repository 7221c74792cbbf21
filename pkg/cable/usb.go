package cable

import (
	"context"
	"fmt"

	"github.com/google/gousb"

	"github.com/OpenTraceLab/picoblaster/pkg/transport"
)

// Blaster USB identifiers.
const (
	VendorIDAltera    = 0x09FB
	ProductIDBlaster  = 0x6001
	ProductIDBlaster2 = 0x6010
	ProductIDBlaster3 = 0x6810
)

// Kind categorizes cable families.
type Kind string

const (
	KindBlaster  Kind = "usb-blaster"
	KindBlaster2 Kind = "usb-blaster-ii"
	KindSim      Kind = "simulator"
)

// Info describes a detected cable.
type Info struct {
	Kind        Kind
	Description string
	VendorID    uint16
	ProductID   uint16
	Bus         int
	Address     int
}

// Label returns a user-friendly description.
func (i Info) Label() string {
	if i.Description != "" {
		return i.Description
	}
	return fmt.Sprintf("%s (%04X:%04X)", string(i.Kind), i.VendorID, i.ProductID)
}

type knownDevice struct {
	VendorID    uint16
	ProductID   uint16
	Kind        Kind
	Description string
}

var knownDevices = []knownDevice{
	{VendorIDAltera, ProductIDBlaster, KindBlaster, "USB-Blaster"},
	{VendorIDAltera, ProductIDBlaster2, KindBlaster2, "USB-Blaster II (unconfigured)"},
	{VendorIDAltera, ProductIDBlaster3, KindBlaster2, "USB-Blaster II"},
}

func classify(desc *gousb.DeviceDesc) (Info, bool) {
	for _, k := range knownDevices {
		if uint16(desc.Vendor) == k.VendorID && uint16(desc.Product) == k.ProductID {
			return Info{
				Kind:        k.Kind,
				Description: k.Description,
				VendorID:    k.VendorID,
				ProductID:   k.ProductID,
				Bus:         desc.Bus,
				Address:     desc.Address,
			}, true
		}
	}
	return Info{}, false
}

// Discover lists connected cables with known VID/PID pairs. The simulator
// entry is always present.
func Discover(ctx context.Context) ([]Info, error) {
	var results []Info
	usb := gousb.NewContext()
	defer usb.Close()

	_, err := usb.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if info, ok := classify(desc); ok {
			results = append(results, info)
		}
		return false
	})
	if err != nil && err != gousb.ErrorAccess {
		return results, err
	}

	results = append(results, Info{Kind: KindSim, Description: "Simulator (in-process emulator)"})
	return results, nil
}

// USBConn talks to a cable over libusb.
type USBConn struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	done func()

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint
}

// OpenUSB opens the first cable with the given ids.
func OpenUSB(vid, pid uint16) (*USBConn, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("USB error: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("%w (VID:0x%04X PID:0x%04X)", ErrNotFound, vid, pid)
	}

	// Not supported on every platform.
	_ = dev.SetAutoDetach(true)

	c := &USBConn{ctx: ctx, dev: dev}
	if err := c.claim(); err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	return c, nil
}

// claim takes the vendor interface (or interface 0) and its bulk pair.
func (c *USBConn) claim() error {
	cfg, err := c.dev.Config(1)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	num := 0
	for _, intf := range cfg.Desc.Interfaces {
		if len(intf.AltSettings) > 0 && intf.AltSettings[0].Class == gousb.ClassVendorSpec {
			num = intf.Number
			break
		}
	}
	intf, err := cfg.Interface(num, 0)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("failed to claim interface %d: %w", num, err)
	}
	c.done = func() {
		intf.Close()
		cfg.Close()
	}

	var inAddr, outAddr int
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch {
		case ep.Direction == gousb.EndpointDirectionIn && inAddr == 0:
			inAddr = ep.Number
		case ep.Direction == gousb.EndpointDirectionOut && outAddr == 0:
			outAddr = ep.Number
		}
	}
	if inAddr == 0 || outAddr == 0 {
		c.done()
		return fmt.Errorf("bulk endpoints not found (in=%d out=%d)", inAddr, outAddr)
	}

	if c.epOut, err = intf.OutEndpoint(outAddr); err != nil {
		c.done()
		return fmt.Errorf("failed to open OUT endpoint: %w", err)
	}
	if c.epIn, err = intf.InEndpoint(inAddr); err != nil {
		c.done()
		return fmt.Errorf("failed to open IN endpoint: %w", err)
	}
	return nil
}

func (c *USBConn) WritePacket(ctx context.Context, p []byte) error {
	if _, err := c.epOut.WriteContext(ctx, p); err != nil {
		return fmt.Errorf("USB write failed: %w", err)
	}
	return nil
}

func (c *USBConn) ReadPacket(ctx context.Context, buf []byte) (int, error) {
	n, err := c.epIn.ReadContext(ctx, buf)
	if err != nil {
		return 0, fmt.Errorf("USB read failed: %w", err)
	}
	return n, nil
}

func (c *USBConn) Control(_ context.Context, s transport.Setup, data []byte) ([]byte, error) {
	buf := data
	if s.In() {
		buf = make([]byte, s.Length)
	}
	n, err := c.dev.Control(s.RequestType, s.Request, s.Value, s.Index, buf)
	if err != nil {
		return nil, fmt.Errorf("USB control %#02x failed: %w", s.Request, err)
	}
	if !s.In() {
		return nil, nil
	}
	return buf[:n], nil
}

// Close releases the interface, device and libusb context.
func (c *USBConn) Close() error {
	if c.done != nil {
		c.done()
	}
	err := c.dev.Close()
	c.ctx.Close()
	return err
}
