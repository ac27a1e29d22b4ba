// Package config loads the xstools configuration file and sets up the
// command-line tool's log files.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/xstools/pkg/board"
	"github.com/OpenTraceLab/xstools/pkg/hostio"
	"github.com/OpenTraceLab/xstools/pkg/xserr"
	"github.com/OpenTraceLab/xstools/pkg/xsusb"
)

// DefaultI2CClock is the clock feeding the I2C master in the helper
// bitstreams.
const DefaultI2CClock = 12_000_000

type USB struct {
	Index        int `yaml:"index"`
	Endpoint     int `yaml:"endpoint"`
	BitrateHz    int `yaml:"bitrateHz"`
	MinTimeoutMs int `yaml:"minTimeoutMs"`
}

// Bitstreams names the helper bitstreams. Directory is a helper root laid
// out per board model; explicit file names override it.
type Bitstreams struct {
	Directory      string `yaml:"directory"`
	SelfTest       string `yaml:"selfTest"`
	FlashInterface string `yaml:"flashInterface"`
	RAMInterface   string `yaml:"ramInterface"`
}

type Polling struct {
	MaxAttempts        int           `yaml:"maxAttempts"`
	ReenumerateTimeout time.Duration `yaml:"reenumerateTimeout"`
}

type I2C struct {
	CoreClockHz int `yaml:"coreClockHz"`
}

type Logs struct {
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
	Trace      bool   `yaml:"trace"`
}

// Config is the parsed configuration file.
type Config struct {
	Board      string     `yaml:"board"`
	USB        USB        `yaml:"usb"`
	Bitstreams Bitstreams `yaml:"bitstreams"`
	Firmware   string     `yaml:"firmware"`
	Polling    Polling    `yaml:"polling"`
	I2C        I2C        `yaml:"i2c"`
	Logs       Logs       `yaml:"logs"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// Load reads the configuration at path. A missing file yields the defaults.
// Relative paths in the file resolve against its directory.
func Load(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return cfg, xserr.Configurationf("config: %v", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, xserr.Configurationf("config: %s: %v", path, err)
	}

	baseDir := filepath.Dir(path)
	resolve := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Clean(filepath.Join(baseDir, p))
	}
	cfg.Bitstreams.Directory = resolve(cfg.Bitstreams.Directory)
	cfg.Bitstreams.SelfTest = resolve(cfg.Bitstreams.SelfTest)
	cfg.Bitstreams.FlashInterface = resolve(cfg.Bitstreams.FlashInterface)
	cfg.Bitstreams.RAMInterface = resolve(cfg.Bitstreams.RAMInterface)
	cfg.Firmware = resolve(cfg.Firmware)
	cfg.Logs.Directory = resolve(cfg.Logs.Directory)

	if cfg.USB.Index < 0 {
		return cfg, xserr.Configurationf("config: %s: usb.index %d is negative", path, cfg.USB.Index)
	}
	if cfg.Board != "" {
		if _, ok := board.LookupModel(cfg.Board); !ok {
			return cfg, xserr.Configurationf("config: %s: unknown board %q", path, cfg.Board)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.USB.Endpoint == 0 {
		c.USB.Endpoint = xsusb.DefaultEndpoint
	}
	if c.USB.BitrateHz <= 0 {
		c.USB.BitrateHz = xsusb.DefaultBitrate
	}
	if c.USB.MinTimeoutMs <= 0 {
		c.USB.MinTimeoutMs = int(xsusb.DefaultMinTimeout / time.Millisecond)
	}
	if c.Polling.MaxAttempts <= 0 {
		c.Polling.MaxAttempts = hostio.DefaultMaxPolls
	}
	if c.Polling.ReenumerateTimeout <= 0 {
		c.Polling.ReenumerateTimeout = xsusb.DefaultReenumerateTimeout
	}
	if c.I2C.CoreClockHz <= 0 {
		c.I2C.CoreClockHz = DefaultI2CClock
	}
	if c.Logs.MaxSizeMB <= 0 {
		c.Logs.MaxSizeMB = 25
	}
	if c.Logs.MaxAgeDays <= 0 {
		c.Logs.MaxAgeDays = 7
	}
	if c.Logs.MaxBackups <= 0 {
		c.Logs.MaxBackups = 5
	}
}

// TransportOptions converts the usb and polling sections.
func (c Config) TransportOptions() xsusb.Options {
	return xsusb.Options{
		Endpoint:           c.USB.Endpoint,
		BitrateHz:          c.USB.BitrateHz,
		MinTimeout:         time.Duration(c.USB.MinTimeoutMs) * time.Millisecond,
		ReenumerateTimeout: c.Polling.ReenumerateTimeout,
	}
}

// Helpers returns the helper files for m: the per-model defaults under the
// bitstream directory, overridden by any file named explicitly.
func (c Config) Helpers(m board.Model) board.Helpers {
	h := board.DefaultHelpers(m, c.Bitstreams.Directory)
	if c.Bitstreams.SelfTest != "" {
		h.SelfTest = c.Bitstreams.SelfTest
	}
	if c.Bitstreams.FlashInterface != "" {
		h.FlashInterface = c.Bitstreams.FlashInterface
	}
	if c.Bitstreams.RAMInterface != "" {
		h.RAMInterface = c.Bitstreams.RAMInterface
	}
	if c.Firmware != "" {
		h.Firmware = c.Firmware
	}
	return h
}

// Logging holds the open log files. Close releases them.
type Logging struct {
	// Trace receives the USB transfer trace, nil when tracing is off.
	Trace io.Writer

	closers []io.Closer
}

// SetupLogging points the standard logger at stderr plus, when a log
// directory is configured, a rotating <name>.log. With trace set it also
// opens a rotating <name>-usb.log for the transfer trace.
func SetupLogging(cfg Config, name string, trace bool) (*Logging, error) {
	l := &Logging{}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	trace = trace || cfg.Logs.Trace
	if cfg.Logs.Directory == "" {
		log.SetOutput(os.Stderr)
		if trace {
			return nil, xserr.Configurationf("config: a USB trace needs logs.directory")
		}
		return l, nil
	}
	if err := os.MkdirAll(cfg.Logs.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	rotator := l.rotator(cfg.Logs, name+".log")
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	if trace {
		l.Trace = l.rotator(cfg.Logs, name+"-usb.log")
	}
	return l, nil
}

func (l *Logging) rotator(c Logs, file string) *lumberjack.Logger {
	r := &lumberjack.Logger{
		Filename:   filepath.Join(c.Directory, file),
		MaxSize:    c.MaxSizeMB,
		MaxAge:     c.MaxAgeDays,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
	}
	l.closers = append(l.closers, r)
	return r
}

// Close closes the log files and returns the standard logger to stderr.
func (l *Logging) Close() error {
	log.SetOutput(os.Stderr)
	var errs []error
	for _, c := range l.closers {
		errs = append(errs, c.Close())
	}
	l.closers = nil
	return errors.Join(errs...)
}
