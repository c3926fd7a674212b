package main

import (
	"testing"

	"github.com/soypat/sram512"
	"github.com/soypat/sram512/capture"
	"github.com/soypat/sram512/sram"
)

func TestParseRead(t *testing.T) {
	addr, n, err := parseRead("0x100:16")
	if err != nil {
		t.Fatal(err)
	}
	if addr != 0x100 || n != 16 {
		t.Errorf("got addr=%#x n=%d", addr, n)
	}
	for _, bad := range []string{"0x100", "0x10000:1", "0:0", "0:x", "0:70000"} {
		if _, _, err := parseRead(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestParseWrite(t *testing.T) {
	addr, data, err := parseWrite("4096:0xdeadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if addr != 4096 || len(data) != 4 || data[0] != 0xde || data[3] != 0xef {
		t.Errorf("got addr=%#x data=%x", addr, data)
	}
	for _, bad := range []string{"0x10", "0x10:", "0x10:abc", "zz:00"} {
		if _, _, err := parseWrite(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestTransferFor(t *testing.T) {
	tests := map[sram512.Mode]sram512.TransferMode{
		sram512.ModeByte:       sram512.TransferByte,
		sram512.ModeSequential: sram512.TransferSequential,
		sram512.ModePage:       sram512.TransferPage,
		sram512.ModeReserved:   sram512.TransferByte,
	}
	for m, want := range tests {
		if got := transferFor(m); got != want {
			t.Errorf("%s: got %s want %s", m, got, want)
		}
	}
}

func TestSimTrace(t *testing.T) {
	port, err := openPort("sim")
	if err != nil {
		t.Fatal(err)
	}
	conn, err := sram.Connect(port, 0)
	if err != nil {
		t.Fatal(err)
	}
	dev := sram.New(conn, nil)
	if err := dev.Init(sram.Config{Mode: sram512.ModePage}); err != nil {
		t.Fatal(err)
	}
	dec, err := sram512.NewDecoder(sram512.DecoderConfig{Transfer: transferFor(dev.Mode())})
	if err != nil {
		t.Fatal(err)
	}
	var frames []string
	traced := sram.New(capture.NewTap(conn, dec, func(f sram512.Frame) { frames = append(frames, f.String()) }), nil)
	if _, err := traced.ReadMode(); err != nil {
		t.Fatal(err)
	}
	if err := traced.Write(0x20, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	want := []string{"Read Mode Register", "Mode Page", "Write", "Address 0x0020", "Data: 01 02 03"}
	if len(frames) != len(want) {
		t.Fatalf("got %q", frames)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("frame %d: got %q want %q", i, frames[i], want[i])
		}
	}
}
