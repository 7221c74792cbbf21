package device

import "github.com/OpenTraceLab/picoblaster/pkg/transport"

// Vendor requests.
const (
	RequestReadEEPROM = 0x90
)

// defaultReply answers unknown vendor IN requests.
var defaultReply = [2]byte{0x36, 0x83}

// Control implements transport.Port. Vendor IN requests return at most two
// bytes; vendor OUT requests are acknowledged without data. Other request
// types are not handled and yield nil.
func (d *Device) Control(s transport.Setup, _ []byte) []byte {
	d.controls.Add(1)
	if !s.Vendor() {
		d.log.Debug().Stringer("setup", s).Msg("unhandled control request")
		return nil
	}
	if !s.In() {
		d.log.Debug().Uint8("request", s.Request).Msg("vendor OUT request")
		return nil
	}

	var resp [2]byte
	if s.Request == RequestReadEEPROM {
		resp = d.rom.ReadWord(int(s.Index))
		d.log.Debug().Uint16("index", s.Index).Msg("vendor IN eeprom request")
	} else {
		resp = defaultReply
		d.log.Debug().Uint8("request", s.Request).Msg("vendor IN unknown request")
	}

	n := int(s.Length)
	if n > len(resp) {
		n = len(resp)
	}
	return append([]byte(nil), resp[:n]...)
}
