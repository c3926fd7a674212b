package capture

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/soypat/sram512"
	"periph.io/x/conn/v3/physic"
)

func TestAppendTxSpans(t *testing.T) {
	// 1MHz clock: 8us per byte.
	bytePeriod := 8 * (1 * physic.MegaHertz).Period()
	events := appendTx(nil, 1.0, bytePeriod, []byte{0x03, 0x00, 0x10, 0x00}, []byte{0, 0, 0, 0x77}, sram512.LineMOSI|sram512.LineMISO)
	if len(events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(events))
	}
	if events[0].Kind != sram512.EventBegin || events[5].Kind != sram512.EventEnd {
		t.Fatal("transaction not bounded by begin/end", events)
	}
	const eps = 1e-12
	last := events[4]
	if d := last.Span.Start - (1.0 + 24e-6); d > eps || d < -eps {
		t.Errorf("bad start %v", last.Span.Start)
	}
	if d := events[5].Span.End - (1.0 + 32e-6); d > eps || d < -eps {
		t.Errorf("bad end %v", events[5].Span.End)
	}

	dec, err := sram512.NewDecoder(sram512.DecoderConfig{})
	if err != nil {
		t.Fatal(err)
	}
	var frames []sram512.Frame
	dec.Feed(events, func(f sram512.Frame) { frames = append(frames, f) })
	want := []sram512.Frame{
		{Kind: sram512.FrameInstruction, Span: events[1].Span, Instruction: sram512.InstrRead},
		{Kind: sram512.FrameAddress, Span: sram512.Span{Start: events[2].Span.Start, End: events[3].Span.End}, Address: 0x0010},
		{Kind: sram512.FrameData, Span: events[4].Span, Data: []byte{0x77}},
	}
	if diff := cmp.Diff(want, frames); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendTxSingleLine(t *testing.T) {
	events := appendTx(nil, 0, 8, []byte{0x02, 0x00}, []byte{0x02, 0x00}, sram512.LineMOSI)
	for _, ev := range events[1 : len(events)-1] {
		if ev.Lines != sram512.LineMOSI {
			t.Fatalf("expected only MOSI present, got %v", ev.Lines)
		}
	}
}

func TestReadDigitalNeedsFrequency(t *testing.T) {
	_, err := ReadDigital(DigitalConfig{Clock: "clk.bin", Enable: "cs.bin", MOSI: "mosi.bin"})
	if err == nil {
		t.Fatal("expected error without clock frequency")
	}
}

var fixtureConfig = DigitalConfig{
	Clock:     "testdata/digital_spiclk.bin",
	Enable:    "testdata/digital_spienable.bin",
	MOSI:      "testdata/digital_spisdo.bin",
	MISO:      "testdata/digital_spisdi.bin",
	Frequency: physic.MegaHertz,
}

// writeIdleChannel writes a digital export with no transitions.
func writeIdleChannel(t *testing.T, initialState uint32) string {
	t.Helper()
	b := []byte("<SALEAE>")
	b = binary.LittleEndian.AppendUint32(b, 0) // Version.
	b = binary.LittleEndian.AppendUint32(b, 0) // Digital.
	b = binary.LittleEndian.AppendUint32(b, initialState)
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(0))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(8.3))
	b = binary.LittleEndian.AppendUint64(b, 0)
	name := filepath.Join(t.TempDir(), "idle.bin")
	if err := os.WriteFile(name, b, 0o644); err != nil {
		t.Fatal(err)
	}
	return name
}

func countKind(events []sram512.Event, kind sram512.EventKind) (n int) {
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func TestReadDigitalFixture(t *testing.T) {
	events, err := ReadDigital(fixtureConfig)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 506 {
		t.Fatalf("expected 506 events, got %d", len(events))
	}
	if begins, ends := countKind(events, sram512.EventBegin), countKind(events, sram512.EventEnd); begins != 47 || ends != 47 {
		t.Fatalf("expected 47 transactions, got %d begin %d end", begins, ends)
	}
	if math.Abs(events[0].Span.Start-8.04525095) > 1e-9 {
		t.Errorf("bad first transaction start %v", events[0].Span.Start)
	}
	var mosi, miso []byte
	for _, ev := range events[1:9] {
		if ev.Kind != sram512.EventByte || ev.Lines != sram512.LineMOSI|sram512.LineMISO {
			t.Fatalf("unexpected event %+v", ev)
		}
		mosi = append(mosi, ev.MOSI)
		miso = append(miso, ev.MISO)
	}
	if diff := cmp.Diff([]byte{0xa0, 0x04, 0x40, 0x00, 0x03, 0x03, 0x03, 0x03}, mosi); diff != "" {
		t.Errorf("MOSI mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]byte{0xa0, 0x04, 0x40, 0x00, 0x00, 0x00, 0x00, 0x00}, miso); diff != "" {
		t.Errorf("MISO mismatch (-want +got):\n%s", diff)
	}
	if events[9].Kind != sram512.EventEnd {
		t.Errorf("expected end of first transaction, got %v", events[9].Kind)
	}
}

func TestReadDigitalIdleMISO(t *testing.T) {
	cfg := fixtureConfig
	cfg.MISO = writeIdleChannel(t, 1)
	events, err := ReadDigital(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 506 {
		t.Fatalf("expected 506 events, got %d", len(events))
	}
	for _, ev := range events {
		if ev.Kind == sram512.EventByte && ev.MISO != 0xff {
			t.Fatalf("idle high MISO read as %#x", ev.MISO)
		}
	}
}

func TestReadDigitalIdleClock(t *testing.T) {
	cfg := fixtureConfig
	cfg.Clock = writeIdleChannel(t, 0)
	events, err := ReadDigital(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events without clock, got %d", len(events))
	}
}

func TestReadDigitalShortHeader(t *testing.T) {
	name := filepath.Join(t.TempDir(), "short.bin")
	if err := os.WriteFile(name, []byte("<SALEAE>"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := fixtureConfig
	cfg.Enable = name
	if _, err := ReadDigital(cfg); err == nil {
		t.Fatal("expected error for truncated header")
	}
}
