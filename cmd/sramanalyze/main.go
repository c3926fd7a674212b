package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/soypat/sram512"
	"github.com/soypat/sram512/capture"
	"github.com/soypat/sram512/report"
	"periph.io/x/conn/v3/physic"
)

// Optional flags.
var (
	timingsOutput string
	mqttBroker    string
	mqttTopic     string
)

type analyzer struct {
	dec      *sram512.Decoder
	filter   report.Filter
	collapse bool
	out      *report.Writer
	pub      *report.Publisher
	logger   *slog.Logger
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "sramanalyze - Decode 23A512/23LC512 SPI SRAM transactions from logic analyzer captures.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	fcsv := flag.String("f-csv", "", "Input filename: Saleae SPI analyzer CSV export.")
	fclk := flag.String("f-clk", "", "Input filename: SPI SCK binary digital data.")
	fcs := flag.String("f-cs", "", "Input filename: SPI CS binary digital data.")
	fmosi := flag.String("f-mosi", "", "Input filename: SPI MOSI binary digital data.")
	fmiso := flag.String("f-miso", "", "Input filename: SPI MISO binary digital data (optional).")
	clkFreq := physic.MegaHertz
	flag.Var(&clkFreq, "clk", "Nominal SPI clock of binary digital captures, i.e: 1MHz")
	serialPort := flag.String("serial", "", "Serial port streaming CSV export rows from a live bridge.")
	baud := flag.Int("baud", 115200, "Baud rate of -serial.")
	output := flag.String("o-cmd", "commands.txt", "Output filename of decoded transactions. Use - for stdout.")
	flag.StringVar(&timingsOutput, "o-time", "", "Output timing data to a file corresponding to output transactions line-by-line.")
	flag.StringVar(&mqttBroker, "mqtt", "", "MQTT broker host:port to publish decoded transactions to.")
	flag.StringVar(&mqttTopic, "topic", "sram512/tx", "MQTT topic.")
	var transfer sram512.TransferMode
	flag.Var(&transfer, "mode", "Transfer mode of the device: Byte, Sequential or Page.")
	noModeReg := flag.Bool("no-mode-register", false, "Do not interpret WRMR/RDMR instructions.")
	omitReadData := flag.Bool("omit-read-data", false, "Choose to omit read data in output.")
	omitRead := flag.Bool("omit-read", false, "Choose to omit read transactions in output.")
	omitWrite := flag.Bool("omit-write", false, "Choose to omit write transactions in output.")
	omitModeReg := flag.Bool("omit-modereg", false, "Choose to omit mode register transactions in output.")
	noCollapse := flag.Bool("no-collapse", false, "Print repeated identical transactions individually.")
	verbose := flag.Bool("v", false, "Verbose decoder logging.")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = sram512.LevelTrace
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	flt := report.Filter{
		OmitRead:         *omitRead,
		OmitWrite:        *omitWrite,
		OmitReadData:     *omitReadData,
		OmitModeRegister: *omitModeReg,
	}
	if flt.OmitRead && flt.OmitWrite {
		log.Fatal("cannot omit both read and write transactions")
	}
	dec, err := sram512.NewDecoder(sram512.DecoderConfig{
		Transfer:            transfer,
		DisableModeRegister: *noModeReg,
		Logger:              logger,
	})
	if err != nil {
		log.Fatal(err)
	}
	an := analyzer{dec: dec, filter: flt, collapse: !*noCollapse, logger: logger}

	var outw io.Writer = os.Stdout
	if *output != "-" {
		fp, err := os.Create(*output)
		if err != nil {
			log.Fatal(err)
		}
		defer fp.Close()
		outw = fp
	}
	var timings io.Writer
	if timingsOutput != "" {
		log.Println("creating timings file", timingsOutput)
		fp, err := os.Create(timingsOutput)
		if err != nil {
			log.Fatal(err)
		}
		defer fp.Close()
		timings = fp
	}
	an.out = report.NewWriter(outw, timings)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if mqttBroker != "" {
		an.pub, err = report.DialMQTT(ctx, report.MQTTConfig{
			Broker: mqttBroker,
			Topic:  mqttTopic,
			Logger: logger,
		})
		if err != nil {
			log.Fatal(err)
		}
		defer an.pub.Close()
	}

	start := time.Now()
	switch {
	case *serialPort != "":
		port, err := capture.OpenSerial(*serialPort, *baud)
		if err != nil {
			log.Fatal(err)
		}
		defer port.Close()
		err = an.stream(ctx, &capture.LineSource{R: port, Logger: logger})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal(err)
		}
	default:
		events, err := loadEvents(*fcsv, capture.DigitalConfig{
			Clock:     *fclk,
			Enable:    *fcs,
			MOSI:      *fmosi,
			MISO:      *fmiso,
			Frequency: clkFreq,
		})
		if err != nil {
			log.Fatal(err)
		}
		if err = an.run(events); err != nil {
			log.Fatal(err)
		}
	}
	logger.Info("finished", slog.Duration("elapsed", time.Since(start)), slog.Int("strays", dec.Strays()))
}

// loadEvents reads the CSV export if given, otherwise the binary digital files.
func loadEvents(csvName string, digital capture.DigitalConfig) ([]sram512.Event, error) {
	if csvName != "" {
		fp, err := os.Open(csvName)
		if err != nil {
			return nil, err
		}
		defer fp.Close()
		return capture.ReadCSV(fp)
	}
	if digital.Clock == "" || digital.Enable == "" || digital.MOSI == "" {
		return nil, errors.New("need -f-csv, -serial or all of -f-clk, -f-cs and -f-mosi")
	}
	return capture.ReadDigital(digital)
}

// run decodes a complete capture.
func (an *analyzer) run(events []sram512.Event) error {
	txs := report.Fold(an.dec, events)
	an.logger.Debug("decoded", slog.Int("events", len(events)), slog.Int("transactions", len(txs)))
	if an.collapse {
		txs = report.Collapse(txs)
	}
	for _, tx := range txs {
		if err := an.emit(tx); err != nil {
			return err
		}
	}
	return nil
}

// stream decodes a live source, reporting each transaction as it ends.
func (an *analyzer) stream(ctx context.Context, src *capture.LineSource) error {
	var emitErr error
	asm := report.NewAssembler(an.dec, func(tx report.Transaction) {
		if emitErr == nil {
			emitErr = an.emit(tx)
		}
	})
	err := src.Run(ctx, asm.Handle)
	return errors.Join(err, emitErr)
}

func (an *analyzer) emit(tx report.Transaction) error {
	tx, ok := an.filter.Apply(tx)
	if !ok {
		return nil
	}
	if err := an.out.WriteTransaction(tx); err != nil {
		return err
	}
	if an.pub != nil {
		return an.pub.Publish(tx)
	}
	return nil
}
