package capture

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/soypat/sram512"
	"go.bug.st/serial"
)

const serialReadTimeout = 50 * time.Millisecond

// OpenSerial opens a serial port on which a bridge streams SPI analyzer rows
// in the CSV export format, one row per line, header first.
func OpenSerial(portName string, baud int) (serial.Port, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	// A read timeout lets the line source observe context cancellation.
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set serial read timeout: %w", err)
	}
	return port, nil
}

// LineSource reads CSV export rows line by line from a stream.
type LineSource struct {
	R      io.Reader
	Logger *slog.Logger
}

// Run reads rows until EOF or until ctx is done, calling fn for every event.
// Malformed rows are logged and skipped so a glitch on a live link does not
// end the session.
func (ls *LineSource) Run(ctx context.Context, fn func(sram512.Event)) error {
	scanner := bufio.NewScanner(&ctxReader{ctx: ctx, r: ls.R})
	var cols csvColumns
	haveHeader := false
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec, err := csv.NewReader(strings.NewReader(line)).Read()
		if err != nil {
			ls.warn("line source:bad-row", slog.Int("line", lineno), slog.String("err", err.Error()))
			continue
		}
		if !haveHeader {
			cols, err = parseHeader(rec)
			if err != nil {
				return err
			}
			haveHeader = true
			continue
		}
		ev, ok, err := cols.event(rec)
		if err != nil {
			ls.warn("line source:bad-row", slog.Int("line", lineno), slog.String("err", err.Error()))
			continue
		}
		if ok {
			fn(ev)
		}
	}
	err := scanner.Err()
	if err == nil && !haveHeader {
		return ErrShortCSV
	}
	return err
}

func (ls *LineSource) warn(msg string, attrs ...slog.Attr) {
	if ls.Logger != nil {
		ls.Logger.LogAttrs(context.Background(), slog.LevelWarn, msg, attrs...)
	}
}

// ctxReader retries reads that time out without data until ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	for {
		if err := cr.ctx.Err(); err != nil {
			return 0, err
		}
		n, err := cr.r.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
}
