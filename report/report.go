// Package report assembles decoded frames into per-transaction records and
// renders them for files, terminals and MQTT subscribers.
package report

import (
	"bytes"
	"fmt"
	"io"

	"github.com/soypat/sram512"
)

// Transaction is everything decoded from one chip select window.
type Transaction struct {
	// Num is the number of identical consecutive transactions this record stands for.
	Num         int
	Instruction sram512.Instruction
	HasAddress  bool
	Address     uint16
	Data        []byte
	HasMode     bool
	Mode        sram512.Mode
	Span        sram512.Span
}

func (tx *Transaction) String() string {
	if tx.HasMode {
		return fmt.Sprintf("%-19s mode=%s", tx.Instruction.String(), tx.Mode.String())
	}
	if !tx.HasAddress {
		return fmt.Sprintf("%-19s incomplete", tx.Instruction.String())
	}
	return fmt.Sprintf("%-19s addr=%s data=%#x", tx.Instruction.String(), sram512.Hex(tx.Address, 4), tx.Data)
}

// equal reports whether two transactions moved the same thing, ignoring time.
func (tx *Transaction) equal(other *Transaction) bool {
	return tx.Instruction == other.Instruction &&
		tx.HasAddress == other.HasAddress && tx.Address == other.Address &&
		tx.HasMode == other.HasMode && tx.Mode == other.Mode &&
		bytes.Equal(tx.Data, other.Data)
}

// Assembler drives a decoder and groups its frames into transactions.
type Assembler struct {
	dec    *sram512.Decoder
	onTx   func(Transaction)
	cur    Transaction
	active bool
}

// NewAssembler returns an Assembler calling onTx at the end of every
// transaction that issued an instruction.
func NewAssembler(dec *sram512.Decoder, onTx func(Transaction)) *Assembler {
	return &Assembler{dec: dec, onTx: onTx}
}

// Handle feeds one event to the decoder.
func (a *Assembler) Handle(ev sram512.Event) {
	f, ok := a.dec.Decode(ev)
	if ok {
		a.add(f)
	}
	switch ev.Kind {
	case sram512.EventBegin:
		a.cur = Transaction{Num: 1, Span: ev.Span}
		a.active = false
	case sram512.EventEnd:
		if a.active && a.onTx != nil {
			a.cur.Span.End = ev.Span.End
			a.onTx(a.cur)
		}
		a.active = false
	}
}

func (a *Assembler) add(f sram512.Frame) {
	switch f.Kind {
	case sram512.FrameInstruction:
		a.active = true
		a.cur.Instruction = f.Instruction
	case sram512.FrameAddress:
		a.cur.HasAddress = true
		a.cur.Address = f.Address
	case sram512.FrameData:
		a.cur.Data = f.Data
	case sram512.FrameMode:
		a.cur.HasMode = true
		a.cur.Mode = f.Mode
	}
}

// Fold decodes a complete event stream into transactions.
func Fold(dec *sram512.Decoder, events []sram512.Event) (txs []Transaction) {
	a := NewAssembler(dec, func(tx Transaction) { txs = append(txs, tx) })
	for _, ev := range events {
		a.Handle(ev)
	}
	return txs
}

// Collapse merges runs of identical consecutive transactions into one record
// whose Num counts the run and whose Span covers it.
func Collapse(txs []Transaction) (collapsed []Transaction) {
	for i := 0; i < len(txs); i++ {
		tx := txs[i]
		for j := i + 1; j < len(txs); j++ {
			if !tx.equal(&txs[j]) {
				break
			}
			tx.Num += txs[j].Num
			tx.Span.End = txs[j].Span.End
			i = j
		}
		collapsed = append(collapsed, tx)
	}
	return collapsed
}

// Filter selects which transactions are reported.
type Filter struct {
	OmitRead         bool
	OmitWrite        bool
	OmitReadData     bool
	OmitModeRegister bool
}

// Apply returns the transaction as it should be reported and false if it is omitted.
func (flt Filter) Apply(tx Transaction) (Transaction, bool) {
	switch {
	case flt.OmitRead && tx.Instruction == sram512.InstrRead,
		flt.OmitWrite && tx.Instruction == sram512.InstrWrite,
		flt.OmitModeRegister && tx.Instruction.IsModeRegister():
		return tx, false
	}
	if flt.OmitReadData && tx.Instruction == sram512.InstrRead {
		tx.Data = []byte{}
	}
	return tx, true
}

// Writer renders one line per transaction, and optionally a matching line
// of timing data to a second writer.
type Writer struct {
	w       io.Writer
	timings io.Writer
}

// NewWriter returns a Writer to w. timings may be nil.
func NewWriter(w, timings io.Writer) *Writer {
	return &Writer{w: w, timings: timings}
}

// WriteTransaction writes the line for tx, and its timing line when enabled.
func (wr *Writer) WriteTransaction(tx Transaction) error {
	_, err := fmt.Fprintf(wr.w, "tx×%2d %s\n", tx.Num, tx.String())
	if err != nil {
		return err
	}
	if wr.timings != nil {
		_, err = fmt.Fprintf(wr.timings, "t=%f\tdur=%f\n", tx.Span.Start, tx.Span.Duration())
	}
	return err
}
