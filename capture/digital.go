package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
	"github.com/soypat/sram512"
	"periph.io/x/conn/v3/physic"
)

// DigitalConfig names the Saleae binary digital exports of each SPI channel.
type DigitalConfig struct {
	Clock  string
	Enable string
	MOSI   string
	// MISO may be empty when only the controller line was captured.
	MISO string
	// Frequency is the nominal SPI clock, used to place bytes in time
	// relative to the start of each transaction.
	Frequency physic.Frequency
}

const (
	digitalHeaderSize = 44
	// Offset of the transition count, the last field of the digital header.
	numTransitionsOffset = 36
)

// ReadDigital scans binary digital exports with the Saleae SPI analyzer and
// returns the resulting event stream.
func ReadDigital(cfg DigitalConfig) ([]sram512.Event, error) {
	if cfg.Frequency <= 0 {
		return nil, errors.New("digital capture needs a nominal clock frequency")
	}
	clk, err := openDigital(cfg.Clock)
	if err != nil {
		return nil, err
	}
	enable, err := openDigital(cfg.Enable)
	if err != nil {
		return nil, err
	}
	mosi, err := openDigital(cfg.MOSI)
	if err != nil {
		return nil, err
	}
	lines := sram512.LineMOSI | sram512.LineMISO
	miso := mosi
	if cfg.MISO != "" {
		miso, err = openDigital(cfg.MISO)
		if err != nil {
			return nil, err
		}
	} else {
		lines = sram512.LineMOSI
	}
	if constant(clk) {
		return nil, nil // No clock, no bytes.
	}
	spi := analyzers.SPI{}
	txs, err := spi.Scan(clk, enable, mosi, miso)
	if err != nil {
		return nil, err
	}
	bytePeriod := 8 * cfg.Frequency.Period()
	var events []sram512.Event
	for _, tx := range txs {
		events = appendTx(events, tx.StartTime(), bytePeriod, tx.SDO, tx.SDI, lines)
	}
	return events, nil
}

// appendTx appends the begin, byte and end events of a single chip select
// window starting at start. Byte i occupies [start+i*bytePeriod, start+(i+1)*bytePeriod].
func appendTx(events []sram512.Event, start float64, bytePeriod time.Duration, sdo, sdi []byte, lines sram512.Lines) []sram512.Event {
	period := bytePeriod.Seconds()
	n := max(len(sdo), len(sdi))
	events = append(events, sram512.BeginEvent(start))
	for i := 0; i < n; i++ {
		ev := sram512.Event{
			Kind: sram512.EventByte,
			Span: sram512.Span{Start: start + float64(i)*period, End: start + float64(i+1)*period},
		}
		if lines.Has(sram512.LineMOSI) && i < len(sdo) {
			ev.MOSI = sdo[i]
			ev.Lines |= sram512.LineMOSI
		}
		if lines.Has(sram512.LineMISO) && i < len(sdi) {
			ev.MISO = sdi[i]
			ev.Lines |= sram512.LineMISO
		}
		events = append(events, ev)
	}
	return append(events, sram512.EndEvent(start+float64(n)*period))
}

// openDigital reads a digital export. A channel with no transitions is given
// a single transition at +Inf so it holds its initial state for the whole
// capture.
func openDigital(filename string) (*saleae.DigitalFile, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if len(b) < digitalHeaderSize {
		return nil, fmt.Errorf("%s: short digital header", filename)
	}
	if binary.LittleEndian.Uint64(b[numTransitionsOffset:]) == 0 {
		b = binary.LittleEndian.AppendUint64(b[:digitalHeaderSize:digitalHeaderSize], math.Float64bits(math.Inf(1)))
		binary.LittleEndian.PutUint64(b[numTransitionsOffset:], 1)
	}
	df, err := saleae.ReadDigitalFile(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return df, nil
}

// constant reports whether df never changes state.
func constant(df *saleae.DigitalFile) bool {
	return len(df.Data) == 1 && math.IsInf(df.Data[0], 1)
}
