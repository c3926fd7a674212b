package sram512

import (
	"errors"
	"log/slog"
	"strconv"
)

// State is the position of the decoder within the grammar of the current transaction.
type State uint8

const (
	// StateIdle is the quiescent state between transactions.
	StateIdle State = iota
	StateInstruction
	StateAddressHigh
	StateAddressLow
	StateData
	StateModeByte
	// StateDone is entered once the transaction has emitted everything it can.
	// Further bytes until the end of the transaction are strays.
	StateDone
)

func (s State) String() (str string) {
	switch s {
	case StateIdle:
		str = "idle"
	case StateInstruction:
		str = "await-instruction"
	case StateAddressHigh:
		str = "await-address-high"
	case StateAddressLow:
		str = "await-address-low"
	case StateData:
		str = "await-data"
	case StateModeByte:
		str = "await-mode"
	case StateDone:
		str = "done"
	default:
		str = "State(" + strconv.Itoa(int(s)) + ")"
	}
	return str
}

// DecoderConfig configures a Decoder.
type DecoderConfig struct {
	// Transfer selects Data framing. Fixed for the decoder's lifetime.
	Transfer TransferMode
	// DisableModeRegister makes the decoder treat WRMR/RDMR opcodes as unknown,
	// which matches analyzers that only know about Read and Write.
	DisableModeRegister bool
	Logger              *slog.Logger
}

// transaction is the record of everything known about the current chip select window.
// It is replaced as a whole on transaction begin.
type transaction struct {
	state     State
	instr     Instruction
	addr      uint16
	addrStart float64
	data      []byte
	dataSpan  Span
}

// Decoder reconstructs 23A512/23LC512 transactions from a byte level SPI event stream.
// It is not safe for concurrent use.
type Decoder struct {
	cfg    DecoderConfig
	tx     transaction
	strays int
	logger *slog.Logger
}

// NewDecoder returns a decoder in the idle state.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	switch cfg.Transfer {
	case TransferByte, TransferSequential, TransferPage:
	default:
		return nil, errors.New("invalid transfer mode " + cfg.Transfer.String())
	}
	return &Decoder{cfg: cfg, logger: cfg.Logger}, nil
}

// State returns the current decoder state.
func (d *Decoder) State() State { return d.tx.state }

// Transfer returns the configured transfer mode.
func (d *Decoder) Transfer() TransferMode { return d.cfg.Transfer }

// Strays returns the number of events that arrived in a state that did not expect them.
func (d *Decoder) Strays() int { return d.strays }

// Feed decodes events in order and calls fn for every frame produced.
func (d *Decoder) Feed(events []Event, fn func(Frame)) {
	for i := range events {
		if f, ok := d.Decode(events[i]); ok && fn != nil {
			fn(f)
		}
	}
}

// Decode consumes a single event. It returns a frame and true when the event
// completes a field of the transaction.
func (d *Decoder) Decode(ev Event) (Frame, bool) {
	switch ev.Kind {
	case EventBegin:
		d.Begin(ev.Span.Start)
		return Frame{}, false
	case EventByte:
		return d.Byte(ev)
	case EventEnd:
		return d.End(ev.Span.End)
	}
	d.stray(ev)
	return Frame{}, false
}

// Begin starts a new transaction at time t. Any state of an unfinished
// transaction is discarded.
func (d *Decoder) Begin(t float64) {
	if d.tx.state != StateIdle {
		d.debug("begin:unterminated", slog.String("state", d.tx.state.String()), slog.Float64("t", t))
	}
	d.tx = transaction{state: StateInstruction, data: d.tx.data[:0]}
}

// Byte consumes one byte event.
func (d *Decoder) Byte(ev Event) (Frame, bool) {
	switch d.tx.state {
	case StateInstruction:
		opcode, ok := ev.line(LineMOSI)
		if !ok {
			break
		}
		d.tx.instr = ParseInstruction(opcode, !d.cfg.DisableModeRegister)
		if d.tx.instr.IsModeRegister() {
			d.tx.state = StateModeByte
		} else {
			d.tx.state = StateAddressHigh
		}
		d.trace("instruction", slog.String("instr", d.tx.instr.String()), slog.Uint64("opcode", uint64(opcode)))
		return Frame{Kind: FrameInstruction, Span: ev.Span, Instruction: d.tx.instr}, true

	case StateAddressHigh:
		hi, ok := ev.line(LineMOSI)
		if !ok {
			break
		}
		d.tx.addr = uint16(hi) << 8
		d.tx.addrStart = ev.Span.Start
		d.tx.state = StateAddressLow
		return Frame{}, false

	case StateAddressLow:
		lo, ok := ev.line(LineMOSI)
		if !ok {
			break
		}
		d.tx.addr |= uint16(lo)
		d.tx.state = StateData
		d.tx.data = d.tx.data[:0]
		d.tx.dataSpan = Span{}
		return Frame{Kind: FrameAddress, Span: Span{Start: d.tx.addrStart, End: ev.Span.End}, Address: d.tx.addr}, true

	case StateData:
		b, ok := ev.line(d.dataLine(ev))
		if !ok {
			break
		}
		switch d.cfg.Transfer {
		case TransferByte:
			d.tx.state = StateDone
			return Frame{Kind: FrameData, Span: ev.Span, Data: []byte{b}}, true
		case TransferSequential, TransferPage:
			if len(d.tx.data) == 0 {
				d.tx.dataSpan.Start = ev.Span.Start
			}
			d.tx.data = append(d.tx.data, b)
			d.tx.dataSpan.End = ev.Span.End
			return Frame{}, false
		default:
			panic("unreachable transfer mode " + d.cfg.Transfer.String())
		}

	case StateModeByte:
		line := LineMOSI
		if d.tx.instr == InstrReadModeRegister {
			line = LineMISO
		}
		reg, ok := ev.line(line)
		if !ok {
			break
		}
		d.tx.state = StateDone
		mode := ModeFromRegister(reg)
		if mode == ModeReserved {
			d.debug("mode:reserved", slog.Uint64("reg", uint64(reg)))
		}
		return Frame{Kind: FrameMode, Span: ev.Span, Mode: mode}, true
	}
	d.stray(ev)
	return Frame{}, false
}

// End terminates the transaction at time t. Data accumulated in Sequential
// or Page transfer mode is returned as a single frame.
func (d *Decoder) End(t float64) (f Frame, ok bool) {
	if d.tx.state == StateData && len(d.tx.data) > 0 {
		switch d.cfg.Transfer {
		case TransferSequential, TransferPage:
			f = Frame{Kind: FrameData, Span: d.tx.dataSpan, Data: append([]byte(nil), d.tx.data...)}
			ok = true
		case TransferByte:
			// Byte mode emits on arrival.
		}
	}
	if d.tx.state == StateIdle || d.tx.state == StateInstruction {
		d.stray(EndEvent(t))
	}
	d.tx.state = StateIdle
	return f, ok
}

// dataLine returns the line carrying data for the current instruction.
func (d *Decoder) dataLine(ev Event) Lines {
	switch d.tx.instr {
	case InstrWrite:
		return LineMOSI
	case InstrRead:
		return LineMISO
	}
	// Unknown opcodes are framed as Write/Read. Prefer the controller's line.
	if ev.Lines.Has(LineMOSI) {
		return LineMOSI
	}
	return LineMISO
}

func (d *Decoder) stray(ev Event) {
	d.strays++
	d.trace("stray", slog.String("kind", ev.Kind.String()), slog.String("state", d.tx.state.String()), slog.Float64("t", ev.Span.Start))
}
