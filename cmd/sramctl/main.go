package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/soypat/sram512"
	"github.com/soypat/sram512/capture"
	"github.com/soypat/sram512/sram"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "sramctl - Read and write a 23A512/23LC512 SPI SRAM.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	portName := flag.String("port", "", "SPI port name as known to periph (i.e: /dev/spidev0.0 or SPI0.0). Use 'sim' for an in-memory device.")
	freq := sram.DefaultFrequency
	flag.Var(&freq, "clk", "SPI clock frequency.")
	readArg := flag.String("read", "", "Read bytes: addr:n, i.e: 0x100:16")
	writeArg := flag.String("write", "", "Write bytes: addr:hexdata, i.e: 0x100:deadbeef")
	setMode := flag.String("set-mode", "", "Write the MODE register: Byte, Sequential or Page.")
	getMode := flag.Bool("get-mode", false, "Read the MODE register.")
	trace := flag.Bool("trace", false, "Print decoded bus transactions.")
	verbose := flag.Bool("v", false, "Verbose driver logging.")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug - 1
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	port, err := openPort(*portName)
	if err != nil {
		log.Fatal(err)
	}
	defer port.Close()
	conn, err := sram.Connect(port, freq)
	if err != nil {
		log.Fatal(err)
	}
	dev := sram.New(conn, logger)

	// The decoder's transfer mode is fixed, so settle the device mode before tapping the bus.
	if *setMode != "" {
		tm, err := sram512.ParseTransferMode(*setMode)
		if err != nil {
			log.Fatal(err)
		}
		if err = dev.Init(sram.Config{Mode: tm.Mode(), Logger: logger}); err != nil {
			log.Fatal(err)
		}
	}
	mode, err := dev.ReadMode()
	if err != nil {
		log.Fatal(err)
	}
	if *getMode {
		fmt.Println("mode:", mode.String())
	}

	if *trace {
		dec, err := sram512.NewDecoder(sram512.DecoderConfig{Transfer: transferFor(mode), Logger: logger})
		if err != nil {
			log.Fatal(err)
		}
		tap := capture.NewTap(conn, dec, func(f sram512.Frame) {
			fmt.Printf("%12.6f %s\n", f.Span.Start, f.String())
		})
		dev = sram.New(tap, logger)
		// Refresh the driver's cached mode through the tap.
		if _, err = dev.ReadMode(); err != nil {
			log.Fatal(err)
		}
	}

	if *writeArg != "" {
		addr, data, err := parseWrite(*writeArg)
		if err != nil {
			log.Fatal(err)
		}
		if err = dev.Write(addr, data); err != nil {
			log.Fatal(err)
		}
	}
	if *readArg != "" {
		addr, n, err := parseRead(*readArg)
		if err != nil {
			log.Fatal(err)
		}
		buf := make([]byte, n)
		if err = dev.Read(addr, buf); err != nil {
			log.Fatal(err)
		}
		fmt.Print(hex.Dump(buf))
	}
}

func openPort(name string) (spi.PortCloser, error) {
	if name == "sim" {
		return &sram.SimPort{}, nil
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", name, err)
	}
	return port, nil
}

// transferFor maps the device MODE to the decoder framing. The reserved
// encoding behaves like Byte mode as far as the decoder is concerned.
func transferFor(m sram512.Mode) sram512.TransferMode {
	switch m {
	case sram512.ModeSequential:
		return sram512.TransferSequential
	case sram512.ModePage:
		return sram512.TransferPage
	}
	return sram512.TransferByte
}

func parseAddr(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("address %q: %w", s, err)
	}
	return uint16(v), nil
}

func parseRead(arg string) (addr uint16, n int, err error) {
	a, count, ok := strings.Cut(arg, ":")
	if !ok {
		return 0, 0, errors.New("read argument must be addr:n")
	}
	addr, err = parseAddr(a)
	if err != nil {
		return 0, 0, err
	}
	n, err = strconv.Atoi(count)
	if err != nil || n <= 0 || n > sram.Capacity {
		return 0, 0, fmt.Errorf("invalid read length %q", count)
	}
	return addr, n, nil
}

func parseWrite(arg string) (addr uint16, data []byte, err error) {
	a, hexdata, ok := strings.Cut(arg, ":")
	if !ok {
		return 0, nil, errors.New("write argument must be addr:hexdata")
	}
	addr, err = parseAddr(a)
	if err != nil {
		return 0, nil, err
	}
	data, err = hex.DecodeString(strings.TrimPrefix(hexdata, "0x"))
	if err != nil {
		return 0, nil, fmt.Errorf("write data: %w", err)
	}
	if len(data) == 0 {
		return 0, nil, errors.New("write data empty")
	}
	return addr, data, nil
}
