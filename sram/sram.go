// Package sram drives a Microchip 23A512/23LC512 512 Kbit SPI serial SRAM
// over a periph.io spi.Conn.
//
// Datasheet reference: 23A512/23LC512, Table 2-1 Instruction Set, 32 byte page.
// The device accepts SPI mode 0 and 3 up to 20 MHz.
package sram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/soypat/sram512"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

const (
	// Capacity is the size of the memory array in bytes.
	Capacity = 64 * 1024
	// PageSize is the size of a page in Page mode.
	PageSize = 32

	// MaxFrequency is the fastest clock the device accepts.
	MaxFrequency           = 20 * physic.MegaHertz
	DefaultFrequency       = 5 * physic.MegaHertz
	SPIMode                = spi.Mode0
	headerLen              = 3 // opcode + 16 bit address.
	defaultMode            = sram512.ModeSequential
	levelTrace  slog.Level = slog.LevelDebug - 1
)

var (
	ErrLength        = errors.New("transfer length not allowed in current mode")
	ErrReservedMode  = errors.New("reserved mode cannot be written")
	ErrBufferLengths = errors.New("spi read and write buffers must have equal length")
)

// Config is the device setup applied by Init.
type Config struct {
	// Mode written to the MODE register by Init. The zero value is Byte mode,
	// so set it explicitly when Page or Sequential access is desired.
	Mode   sram512.Mode
	Logger *slog.Logger
}

// Connect opens a connection on port with the device's bus settings.
// A zero freq selects DefaultFrequency.
func Connect(port spi.Port, freq physic.Frequency) (spi.Conn, error) {
	if freq == 0 {
		freq = DefaultFrequency
	}
	if freq > MaxFrequency {
		return nil, fmt.Errorf("frequency %s exceeds device maximum %s", freq, MaxFrequency)
	}
	return port.Connect(freq, SPIMode, 8)
}

// Device is a 23LC512 on a SPI bus. Device is not safe for concurrent use.
type Device struct {
	conn   spi.Conn
	mode   sram512.Mode
	buf    []byte
	logger *slog.Logger
}

// New returns a Device using conn. Call Init to set the MODE register,
// otherwise the device is assumed to be in its power-on Sequential mode.
func New(conn spi.Conn, logger *slog.Logger) *Device {
	return &Device{conn: conn, mode: defaultMode, logger: logger}
}

// Init writes cfg.Mode to the MODE register and reads it back.
func (d *Device) Init(cfg Config) error {
	if cfg.Logger != nil {
		d.logger = cfg.Logger
	}
	err := d.WriteMode(cfg.Mode)
	if err != nil {
		return err
	}
	got, err := d.ReadMode()
	if err != nil {
		return err
	}
	if got != cfg.Mode {
		return fmt.Errorf("mode readback mismatch: wrote %s, read %s", cfg.Mode, got)
	}
	d.info("init", slog.String("mode", got.String()), slog.String("conn", d.conn.String()))
	return nil
}

// Mode returns the last MODE known to be set on the device.
func (d *Device) Mode() sram512.Mode { return d.mode }

// Read reads len(buf) bytes starting at addr.
func (d *Device) Read(addr uint16, buf []byte) error {
	if err := d.checkLength(addr, len(buf)); err != nil {
		return err
	}
	w, r := d.txbufs(headerLen + len(buf))
	w[0] = byte(sram512.InstrRead)
	w[1] = byte(addr >> 8)
	w[2] = byte(addr)
	err := d.conn.Tx(w, r)
	if err != nil {
		return fmt.Errorf("read %s: %w", sram512.Hex(addr, 4), err)
	}
	copy(buf, r[headerLen:])
	d.trace("read", slog.Uint64("addr", uint64(addr)), slog.Int("n", len(buf)))
	return nil
}

// Write writes data starting at addr.
func (d *Device) Write(addr uint16, data []byte) error {
	if err := d.checkLength(addr, len(data)); err != nil {
		return err
	}
	w, _ := d.txbufs(headerLen + len(data))
	w[0] = byte(sram512.InstrWrite)
	w[1] = byte(addr >> 8)
	w[2] = byte(addr)
	copy(w[headerLen:], data)
	err := d.conn.Tx(w, nil)
	if err != nil {
		return fmt.Errorf("write %s: %w", sram512.Hex(addr, 4), err)
	}
	d.trace("write", slog.Uint64("addr", uint64(addr)), slog.Int("n", len(data)))
	return nil
}

// ReadMode reads the MODE register.
func (d *Device) ReadMode() (sram512.Mode, error) {
	w, r := d.txbufs(2)
	w[0] = byte(sram512.InstrReadModeRegister)
	err := d.conn.Tx(w, r)
	if err != nil {
		return 0, fmt.Errorf("read mode register: %w", err)
	}
	mode := sram512.ModeFromRegister(r[1])
	if mode != sram512.ModeReserved {
		d.mode = mode
	}
	return mode, nil
}

// WriteMode writes the MODE register.
func (d *Device) WriteMode(mode sram512.Mode) error {
	if mode == sram512.ModeReserved {
		return ErrReservedMode
	}
	w, _ := d.txbufs(2)
	w[0] = byte(sram512.InstrWriteModeRegister)
	w[1] = mode.Register()
	err := d.conn.Tx(w, nil)
	if err != nil {
		return fmt.Errorf("write mode register: %w", err)
	}
	d.mode = mode
	d.debug("mode set", slog.String("mode", mode.String()))
	return nil
}

// checkLength validates a data transfer of n bytes at addr against the current mode.
func (d *Device) checkLength(addr uint16, n int) error {
	if n == 0 {
		return fmt.Errorf("%w: empty transfer", ErrLength)
	}
	switch d.mode {
	case sram512.ModeByte:
		if n != 1 {
			return fmt.Errorf("%w: byte mode transfers one byte, got %d", ErrLength, n)
		}
	case sram512.ModePage:
		if int(addr%PageSize)+n > PageSize {
			return fmt.Errorf("%w: %d bytes at %s cross page boundary", ErrLength, n, sram512.Hex(addr, 4))
		}
	case sram512.ModeSequential:
		if n > Capacity {
			return fmt.Errorf("%w: %d bytes exceeds capacity", ErrLength, n)
		}
	default:
		return fmt.Errorf("%w: device in reserved mode", ErrLength)
	}
	return nil
}

// txbufs returns zeroed write and read buffers of length n backed by the device buffer.
func (d *Device) txbufs(n int) (w, r []byte) {
	if cap(d.buf) < 2*n {
		d.buf = make([]byte, 2*n)
	}
	buf := d.buf[:2*n]
	clear(buf)
	return buf[:n], buf[n:]
}

func (d *Device) info(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelInfo, msg, attrs...)
}

func (d *Device) debug(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelDebug, msg, attrs...)
}

func (d *Device) trace(msg string, attrs ...slog.Attr) {
	d.logattrs(levelTrace, msg, attrs...)
}

func (d *Device) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if d.logger != nil {
		d.logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
