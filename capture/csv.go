// Package capture turns logic analyzer exports and live SPI traffic into
// the byte level event stream consumed by sram512.Decoder.
package capture

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/soypat/sram512"
)

var (
	ErrShortCSV      = errors.New("csv export has no header")
	ErrMissingColumn = errors.New("csv export missing required column")
)

// Frame types of the Saleae SPI analyzer export.
const (
	typeEnable  = "enable"
	typeResult  = "result"
	typeDisable = "disable"
)

// csvColumns maps column names of a Saleae SPI analyzer export to their index.
type csvColumns struct {
	typ, start, duration, mosi, miso int
}

func parseHeader(header []string) (cols csvColumns, err error) {
	cols = csvColumns{typ: -1, start: -1, duration: -1, mosi: -1, miso: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "type":
			cols.typ = i
		case "start_time":
			cols.start = i
		case "duration":
			cols.duration = i
		case "mosi":
			cols.mosi = i
		case "miso":
			cols.miso = i
		}
	}
	switch {
	case cols.typ < 0:
		err = fmt.Errorf("%w: type", ErrMissingColumn)
	case cols.start < 0:
		err = fmt.Errorf("%w: start_time", ErrMissingColumn)
	case cols.mosi < 0 && cols.miso < 0:
		err = fmt.Errorf("%w: mosi or miso", ErrMissingColumn)
	}
	return cols, err
}

// event converts one export record. ok is false for frame types the decoder
// does not consume, such as "error".
func (cols csvColumns) event(rec []string) (ev sram512.Event, ok bool, err error) {
	get := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	start, err := strconv.ParseFloat(get(cols.start), 64)
	if err != nil {
		return ev, false, fmt.Errorf("start_time: %w", err)
	}
	switch strings.ToLower(get(cols.typ)) {
	case typeEnable:
		return sram512.BeginEvent(start), true, nil
	case typeDisable:
		return sram512.EndEvent(start), true, nil
	case typeResult:
	default:
		return ev, false, nil
	}
	ev = sram512.Event{Kind: sram512.EventByte, Span: sram512.Span{Start: start, End: start}}
	if s := get(cols.duration); s != "" {
		dur, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return ev, false, fmt.Errorf("duration: %w", err)
		}
		ev.Span.End = start + dur
	}
	if s := get(cols.mosi); s != "" {
		ev.MOSI, err = parseByte(s)
		if err != nil {
			return ev, false, fmt.Errorf("mosi: %w", err)
		}
		ev.Lines |= sram512.LineMOSI
	}
	if s := get(cols.miso); s != "" {
		ev.MISO, err = parseByte(s)
		if err != nil {
			return ev, false, fmt.Errorf("miso: %w", err)
		}
		ev.Lines |= sram512.LineMISO
	}
	return ev, true, nil
}

// parseByte accepts "0x1F", "1F" and the Saleae byte string form "b'\x1f'".
func parseByte(s string) (byte, error) {
	if strings.HasPrefix(s, "b'") && strings.HasSuffix(s, "'") {
		unq, err := strconv.Unquote(`"` + s[2:len(s)-1] + `"`)
		if err != nil || len(unq) != 1 {
			return 0, fmt.Errorf("invalid byte string %q", s)
		}
		return unq[0], nil
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}

// ReadCSV reads a Saleae Logic 2 SPI analyzer CSV export. Columns are located
// by header name: type, start_time, duration, mosi and miso.
func ReadCSV(r io.Reader) ([]sram512.Event, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true
	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrShortCSV
	} else if err != nil {
		return nil, err
	}
	cols, err := parseHeader(header)
	if err != nil {
		return nil, err
	}
	var events []sram512.Event
	line := 1
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return events, err
		}
		line++
		ev, ok, err := cols.event(rec)
		if err != nil {
			return events, fmt.Errorf("line %d: %w", line, err)
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events, nil
}
