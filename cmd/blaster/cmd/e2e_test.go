package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OpenTraceLab/picoblaster/pkg/signal"
	"github.com/OpenTraceLab/picoblaster/pkg/trace"
)

const idcodeScript = `# read IDCODE after reset
set ncs=1
oe on
reset
tms 0 1 0 0
shift read 0 0 0
clock 7 read
clock 1 tms=1 read
tms 1 0
oe off
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func writeTrace(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pins.cbor")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create trace: %v", err)
	}
	defer f.Close()

	rec := trace.NewRecorder(signal.NewSimPins(), f)
	rec.Init(0x7F << 11)
	rec.SetDirection(0x1F<<11, 0x1F<<11)
	rec.Write(1<<11, 1<<11)
	rec.Read()
	if err := rec.Err(); err != nil {
		t.Fatalf("record: %v", err)
	}
	return path
}

func resetFlags() {
	verbose = false
	configPath = ""
	logLevel = ""
	logJSON = false
	cableSpec = "sim"
	cableBaud = 0
	eepromDump = false
	eepromLocal = false
	runDry = false
	traceLimit = 0
}

// TestCommandsE2E runs the host commands against the in-process emulator.
func TestCommandsE2E(t *testing.T) {
	scriptPath := writeFile(t, "idcode.bs", idcodeScript)
	badScript := writeFile(t, "bad.bs", "set foo=1\n")
	tracePath := writeTrace(t)
	cfgPath := writeFile(t, "blaster.toml", "[target]\nidcode = 0x13631093\nir_length = 6\n")

	tests := []struct {
		name        string
		args        []string
		wantErr     bool
		wantContain []string
	}{
		{
			name: "idcode sim",
			args: []string{"idcode", "--cable", "sim"},
			wantContain: []string{
				"IDCODE:       0x020F30DD",
				"Part number:  0x20F3",
				"Manufacturer: Altera",
			},
		},
		{
			name: "idcode with config",
			args: []string{"idcode", "--config", cfgPath},
			wantContain: []string{
				"0x13631093",
				"Xilinx",
			},
		},
		{
			name: "eeprom local",
			args: []string{"eeprom", "--local"},
			wantContain: []string{
				"VID:PID:      09FB:6001",
				"Product:      USB-Blaster",
				"Checksum:     ok",
			},
		},
		{
			name: "eeprom sim dump",
			args: []string{"eeprom", "--dump"},
			wantContain: []string{
				"00000000",
				"Manufacturer: Altera",
				"Serial:       00000000",
			},
		},
		{
			name: "run script",
			args: []string{"run", scriptPath},
			wantContain: []string{
				"line 6: dd 30 0f",
				"line 7: 00 01 00 00 00 00 00",
				"line 8: 00",
			},
		},
		{
			name: "run dry",
			args: []string{"run", "--dry-run", scriptPath},
			wantContain: []string{
				"reply bytes",
				"08 28 2a 2b 2a",
			},
		},
		{
			name:    "run bad script",
			args:    []string{"run", badScript},
			wantErr: true,
		},
		{
			name:    "run missing argument",
			args:    []string{"run"},
			wantErr: true,
		},
		{
			name: "trace dump",
			args: []string{"trace", tracePath},
			wantContain: []string{
				"4 records:",
				"init=1",
				"write=1",
			},
		},
		{
			name:    "unknown cable",
			args:    []string{"idcode", "--cable", "parallel"},
			wantErr: true,
		},
		{
			name:    "missing config",
			args:    []string{"idcode", "--config", "/nonexistent/blaster.toml"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()

			var buf bytes.Buffer
			rootCmd.SetOut(&buf)
			rootCmd.SetErr(&buf)
			rootCmd.SetArgs(tt.args)

			err := rootCmd.Execute()
			output := buf.String()

			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error but got none\nOutput: %s", output)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v\nOutput: %s", err, output)
			}
			for _, want := range tt.wantContain {
				if !strings.Contains(output, want) {
					t.Fatalf("Output missing expected string: %q\nGot:\n%s", want, output)
				}
			}
		})
	}
}

func TestServeConfigFlags(t *testing.T) {
	resetFlags()
	serveCmd.Flags().Set("serial", "/dev/ttyGS0")
	serveCmd.Flags().Set("pins", "sim")
	t.Cleanup(func() {
		serveCmd.Flags().Lookup("serial").Changed = false
		serveCmd.Flags().Lookup("pins").Changed = false
		serveSerial = ""
		servePins = ""
	})

	cfg, err := serveConfig(serveCmd)
	if err != nil {
		t.Fatalf("serveConfig: %v", err)
	}
	if cfg.Transport.Kind != "serial" || cfg.Transport.Port != "/dev/ttyGS0" {
		t.Fatalf("transport = %+v", cfg.Transport)
	}
}
