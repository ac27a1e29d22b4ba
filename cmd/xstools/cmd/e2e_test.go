package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OpenTraceLab/xstools/pkg/bitstream"
	"github.com/OpenTraceLab/xstools/pkg/board"
	"github.com/OpenTraceLab/xstools/pkg/flash"
	"github.com/OpenTraceLab/xstools/pkg/hostio"
)

func writeBit(t *testing.T, path, deviceType string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll returned error: %v", err)
	}
	b := &bitstream.Bitstream{
		DesignName:  strings.TrimSuffix(filepath.Base(path), ".bit") + ".ncd",
		DeviceType:  deviceType,
		CompileDate: "2014/05/21",
		CompileTime: "09:30:00",
		Data:        []byte{0xff, 0xff, 0xaa, 0x99, 0x55, 0x66, 0x00, 0x01},
	}
	if err := b.WriteFile(path); err != nil {
		t.Fatalf("WriteFile(%s) returned error: %v", path, err)
	}
}

// newWorkspace lays out helper bitstreams for every model and a config file
// pointing at them.
func newWorkspace(t *testing.T) (dir, config string) {
	t.Helper()
	dir = t.TempDir()
	for _, m := range board.Models {
		for _, h := range []string{"test_board_jtag.bit", "fintf_jtag.bit", "ramintfc_jtag.bit"} {
			writeBit(t, filepath.Join(dir, "helpers", filepath.FromSlash(m.Dir), h), m.Part.DeviceType)
		}
	}
	config = filepath.Join(dir, "xstools.yaml")
	body := "bitstreams:\n  directory: helpers\npolling:\n  maxAttempts: 200\n"
	if err := os.WriteFile(config, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile returned error: %v", err)
	}
	return dir, config
}

func writeHex(t *testing.T, path string, addr uint32, data []byte) {
	t.Helper()
	img := flash.NewImage()
	img.Set(addr, data)
	if err := img.SaveImage(path); err != nil {
		t.Fatalf("SaveImage(%s) returned error: %v", path, err)
	}
}

func resetFlags() {
	verbose = false
	configPath = "xstools.yaml"
	boardName = ""
	usbIndex = -1
	simulate = false
	traceUSB = false
	logDir = ""
	showADC = false
	flashRange = ""
	ramRange = ""
	jtagFlag = ""
	flashFlag = ""
	commModule = hostio.DefaultCommModule
	commReceive = 0
	commReset = false
	commBreak = false
	i2cModule = hostio.DefaultModule
	i2cAddr = 0
	i2cWrite = ""
	i2cRead = 0
	i2cSpeed = 100_000
	onSim = nil
}

// run executes args and returns what the command printed.
func run(t *testing.T, args []string, sim func(*board.Sim)) (string, error) {
	t.Helper()
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		buf.ReadFrom(r)
		close(done)
	}()

	resetFlags()
	onSim = sim
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	teardown()

	w.Close()
	os.Stdout = old
	<-done
	return buf.String(), err
}

func TestE2E(t *testing.T) {
	dir, config := newWorkspace(t)
	design := filepath.Join(dir, "blinker.bit")
	writeBit(t, design, "3s200avq100")
	wrong := filepath.Join(dir, "other.bit")
	writeBit(t, wrong, "6slx9ftg256")
	data := filepath.Join(dir, "data.hex")
	writeHex(t, data, 0x100, []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04})
	firmware := filepath.Join(dir, "fw.hex")
	writeHex(t, firmware, 0x0800, []byte{0x12, 0x34, 0x56, 0x78})

	var last *board.Sim
	capture := func(s *board.Sim) { last = s }

	tests := []struct {
		name        string
		args        []string
		sim         func(*board.Sim)
		wantErr     bool
		wantContain []string
		check       func(t *testing.T)
	}{
		{
			name:        "boards",
			args:        []string{"boards", "--sim"},
			wantContain: []string{"XuLA-50", "XuLA2-LX25", "XC6SLX25", "simulated XuLA-200"},
		},
		{
			name:        "info",
			args:        []string{"info", "--sim"},
			wantContain: []string{"Board:       XuLA-200", "Product ID:  0123", "Firmware:    1.2", "XC3S200A", "0x02218093"},
		},
		{
			name:        "info named board",
			args:        []string{"info", "--sim", "-b", "xula2-lx25"},
			wantContain: []string{"XuLA2-LX25", "XC6SLX25", "0x04004093"},
		},
		{
			name:    "unknown board",
			args:    []string{"info", "--sim", "-b", "xula-1000"},
			wantErr: true,
		},
		{
			name:        "idcode",
			args:        []string{"idcode", "--sim", "-b", "xula-50"},
			wantContain: []string{"0x02210093", "Part number:  0x2210", "Xilinx", "XC3S50A", "USERCODE:     0xffffffff"},
		},
		{
			name:    "idcode without marker bit",
			args:    []string{"idcode", "--sim", "-b", "xula-50"},
			sim:     func(s *board.Sim) { s.FPGA.IDCODE = 0x02210092 },
			wantErr: true,
		},
		{
			name:        "configure",
			args:        []string{"fpga", "--sim", "--config", config, design},
			sim:         capture,
			wantContain: []string{"Success: Bitstream in", "XuLA-200"},
			check: func(t *testing.T) {
				if !last.FPGA.Configured {
					t.Fatal("FPGA not configured")
				}
			},
		},
		{
			name:    "configure wrong part",
			args:    []string{"fpga", "--sim", "--config", config, wrong},
			wantErr: true,
		},
		{
			name:        "status",
			args:        []string{"status", "--sim"},
			wantContain: []string{"DONE:   false"},
		},
		{
			name:        "selftest",
			args:        []string{"selftest", "--sim", "--config", config},
			wantContain: []string{"Writing SDRAM", "Reading SDRAM", "Success: XuLA-200 passed diagnostic test!"},
		},
		{
			name:    "selftest failure",
			args:    []string{"selftest", "--sim", "--config", config, "-b", "xula2-lx9"},
			sim:     func(s *board.Sim) { s.FailSelfTest = true },
			wantErr: true,
		},
		{
			name:    "selftest without helpers",
			args:    []string{"selftest", "--sim", "--config", filepath.Join(dir, "absent.yaml")},
			wantErr: true,
		},
		{
			name:        "flash write",
			args:        []string{"flash", "write", "--sim", "--config", config, data},
			sim:         capture,
			wantContain: []string{"downloaded to serial flash on XuLA-200"},
			check: func(t *testing.T) {
				if got := last.Flash.Byte(0x101); got != 0xad {
					t.Fatalf("flash[0x101] = 0x%02x, want 0xad", got)
				}
				if last.Flash.Erases != 1 {
					t.Fatalf("%d chip erases, want 1", last.Flash.Erases)
				}
			},
		},
		{
			name: "flash verify mismatch",
			args: []string{"flash", "verify", "--sim", "--config", config, data},
			sim: func(s *board.Sim) {
				for i, b := range []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03} {
					s.Flash.Mem[0x100+uint32(i)] = b
				}
			},
			wantErr: true,
		},
		{
			name: "flash verify",
			args: []string{"flash", "verify", "--sim", "--config", config, data},
			sim: func(s *board.Sim) {
				for i, b := range []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04} {
					s.Flash.Mem[0x100+uint32(i)] = b
				}
			},
			wantContain: []string{"matches"},
		},
		{
			name: "flash read",
			args: []string{"flash", "read", "--sim", "--config", config, "--range", "0x100:0x104", filepath.Join(dir, "up.hex")},
			sim: func(s *board.Sim) {
				s.Flash.Mem[0x102] = 0x5a
			},
			wantContain: []string{"[0x000100, 0x000104)", "uploaded"},
			check: func(t *testing.T) {
				img, err := flash.LoadImage(filepath.Join(dir, "up.hex"))
				if err != nil {
					t.Fatalf("LoadImage returned error: %v", err)
				}
				if got := img.Bytes(0x100, 4); !bytes.Equal(got, []byte{0xff, 0xff, 0x5a, 0xff}) {
					t.Fatalf("uploaded % x, want ff ff 5a ff", got)
				}
			},
		},
		{
			name:    "flash bad range",
			args:    []string{"flash", "read", "--sim", "--range", "0x100", filepath.Join(dir, "bad.hex")},
			wantErr: true,
		},
		{
			name:        "flash erase",
			args:        []string{"flash", "erase", "--sim", "--config", config, "-b", "xula2-lx9"},
			wantContain: []string{"Serial flash on XuLA2-LX9 erased"},
		},
		{
			name:        "ram write",
			args:        []string{"ram", "write", "--sim", "--config", config, "-b", "xula2-lx25", data},
			sim:         capture,
			wantContain: []string{"downloaded to RAM on XuLA2-LX25"},
			check: func(t *testing.T) {
				if got := last.RAM.Mem[0x81]; got != 0xbeef {
					t.Fatalf("SDRAM word 0x81 = 0x%04x, want 0xbeef", got)
				}
			},
		},
		{
			name: "ram read",
			args: []string{"ram", "read", "--sim", "--config", config, "--range", "0x0:0x4", filepath.Join(dir, "ram.hex")},
			sim: func(s *board.Sim) {
				s.RAM.Mem[1] = 0x1234
			},
			wantContain: []string{"of RAM on XuLA-200 uploaded"},
			check: func(t *testing.T) {
				img, err := flash.LoadImage(filepath.Join(dir, "ram.hex"))
				if err != nil {
					t.Fatalf("LoadImage returned error: %v", err)
				}
				if got := img.Bytes(0, 4); !bytes.Equal(got, []byte{0x00, 0x00, 0x12, 0x34}) {
					t.Fatalf("uploaded % x, want 00 00 12 34", got)
				}
			},
		},
		{
			name:        "firmware program",
			args:        []string{"firmware", "program", "--sim", firmware},
			sim:         capture,
			wantContain: []string{"Programming microcontroller firmware with", "Programming completed!"},
			check: func(t *testing.T) {
				if got := last.SimBoard.Flash[0x0801]; got != 0x34 {
					t.Fatalf("firmware flash[0x0801] = 0x%02x, want 0x34", got)
				}
			},
		},
		{
			name:    "firmware verify mismatch",
			args:    []string{"firmware", "verify", "--sim", firmware},
			wantErr: true,
		},
		{
			name:    "firmware without file",
			args:    []string{"firmware", "program", "--sim"},
			wantErr: true,
		},
		{
			name:        "reflash",
			args:        []string{"reflash", "--sim", "-b", "xula2-lx9", firmware},
			wantContain: []string{"Programming completed and verified!"},
		},
		{
			name:        "flags",
			args:        []string{"flags", "--sim", "--jtag", "off"},
			wantContain: []string{"Auxiliary JTAG port: off", "Serial flash:        off"},
		},
		{
			name:    "flags on ungated board",
			args:    []string{"flags", "--sim", "-b", "xula2-lx25", "--flash", "on"},
			wantErr: true,
		},
		{
			name:        "comm loopback",
			args:        []string{"comm", "--sim", "hello"},
			sim:         capture,
			wantContain: []string{"Sent 5 bytes", `Received 5 bytes: "hello"`},
		},
		{
			name:        "i2c write",
			args:        []string{"i2c", "--sim", "--addr", "0x58", "--write", "10 aa bb"},
			sim:         capture,
			wantContain: []string{"Wrote 3 bytes to 0x58"},
			check: func(t *testing.T) {
				if last.I2C.Regs[0x10] != 0xaa || last.I2C.Regs[0x11] != 0xbb {
					t.Fatalf("slave registers = % x, want aa bb", last.I2C.Regs[0x10:0x12])
				}
			},
		},
		{
			name: "i2c read",
			args: []string{"i2c", "--sim", "--addr", "0x58", "--write", "20", "--read", "2"},
			sim: func(s *board.Sim) {
				s.I2C.Regs[0x20], s.I2C.Regs[0x21] = 0x5a, 0xa5
			},
			wantContain: []string{"Read: 5a a5"},
		},
		{
			name:    "i2c absent slave",
			args:    []string{"i2c", "--sim", "--addr", "0x22", "--write", "00"},
			wantErr: true,
		},
		{
			name:        "bit info",
			args:        []string{"bit", "info", design},
			wantContain: []string{"Design:      blinker.ncd", "Device:      3s200avq100", "Part:        XC3S200A", "2014/05/21 09:30:00"},
		},
		{
			name:        "bit hex",
			args:        []string{"bit", "hex", design, filepath.Join(dir, "blinker.hex")},
			wantContain: []string{"converted to"},
			check: func(t *testing.T) {
				img, err := flash.LoadImage(filepath.Join(dir, "blinker.hex"))
				if err != nil {
					t.Fatalf("LoadImage returned error: %v", err)
				}
				if img.Len() == 0 {
					t.Fatal("empty flash image")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			last = nil
			output, err := run(t, tt.args, tt.sim)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error but got none\nOutput: %s", output)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v\nOutput: %s", err, output)
			}
			for _, want := range tt.wantContain {
				if !strings.Contains(output, want) {
					t.Errorf("Output missing %q\nGot: %s", want, output)
				}
			}
			if tt.check != nil {
				t.Run("check", tt.check)
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in      string
		want    flash.Range
		wantErr bool
	}{
		{"", flash.All, false},
		{"0x100:0x200", flash.Range{Bottom: 0x100, Top: 0x200}, false},
		{":4096", flash.Range{Top: 4096}, false},
		{"16:", flash.Range{Bottom: 16}, false},
		{"0x100", flash.Range{}, true},
		{"zz:1", flash.Range{}, true},
	}
	for _, tt := range tests {
		got, err := parseRange(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("parseRange(%q) = %v, %v, want %v (error %v)", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
