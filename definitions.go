package sram512

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownTransferMode is returned by ParseTransferMode for unrecognized names.
var ErrUnknownTransferMode = errors.New("unknown transfer mode")

// Instruction is the first byte of a transaction. See the 23A512/23LC512
// datasheet, INSTRUCTION SET.
type Instruction uint8

const (
	// Write data to memory array beginning at selected address.
	InstrWrite Instruction = 0x02
	// Read data from memory array beginning at selected address.
	InstrRead Instruction = 0x03
	// Write MODE register (WRMR).
	InstrWriteModeRegister Instruction = 0x01
	// Read MODE register (RDMR).
	InstrReadModeRegister Instruction = 0x05
	// InstrUnknown is any opcode not in the instruction set. It is framed as
	// if it were a Write/Read.
	InstrUnknown Instruction = 0xff
)

// ParseInstruction classifies an opcode. When modeRegister is false the
// mode-register opcodes are not recognized and map to InstrUnknown.
func ParseInstruction(opcode byte, modeRegister bool) Instruction {
	switch Instruction(opcode) {
	case InstrWrite, InstrRead:
		return Instruction(opcode)
	case InstrWriteModeRegister, InstrReadModeRegister:
		if modeRegister {
			return Instruction(opcode)
		}
	}
	return InstrUnknown
}

// IsModeRegister reports whether the instruction is WRMR or RDMR.
func (ins Instruction) IsModeRegister() bool {
	return ins == InstrWriteModeRegister || ins == InstrReadModeRegister
}

func (ins Instruction) String() (s string) {
	switch ins {
	case InstrWrite:
		s = "Write"
	case InstrRead:
		s = "Read"
	case InstrWriteModeRegister:
		s = "Write Mode Register"
	case InstrReadModeRegister:
		s = "Read Mode Register"
	default:
		s = "Unknown"
	}
	return s
}

// Mode is the operating mode stored in bits 7:6 of the MODE register.
type Mode uint8

const (
	ModeByte       Mode = 0b00
	ModeSequential Mode = 0b01
	ModePage       Mode = 0b10
	// ModeReserved has no defined meaning in the datasheet.
	ModeReserved Mode = 0b11
)

const modeShift = 6

// ModeFromRegister decodes the MODE register value. Bits 5:0 are ignored.
func ModeFromRegister(reg byte) Mode { return Mode(reg>>modeShift) & 0b11 }

// Register returns the MODE register value that selects m.
func (m Mode) Register() byte { return byte(m&0b11) << modeShift }

// Name returns the mode name. ok is false for the reserved encoding.
func (m Mode) Name() (name string, ok bool) {
	switch m {
	case ModeByte:
		return "Byte", true
	case ModeSequential:
		return "Sequential", true
	case ModePage:
		return "Page", true
	}
	return "", false
}

func (m Mode) String() string {
	name, ok := m.Name()
	if !ok {
		return "undefined"
	}
	return name
}

// TransferMode selects how data payloads are framed by the decoder.
// It is fixed for the lifetime of a capture session.
type TransferMode uint8

const (
	// One data byte per transaction, emitted as soon as it arrives.
	TransferByte TransferMode = iota
	// All data bytes of a transaction emitted as one payload on transaction end.
	TransferSequential
	// Accumulated like TransferSequential. The 32 byte page wrap is a device
	// side effect and is not modelled in the frame.
	TransferPage
)

// ParseTransferMode parses "Byte", "Sequential" or "Page" (case insensitive).
func ParseTransferMode(s string) (TransferMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "byte":
		return TransferByte, nil
	case "sequential":
		return TransferSequential, nil
	case "page":
		return TransferPage, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTransferMode, s)
}

// Mode returns the MODE register encoding corresponding to tm.
func (tm TransferMode) Mode() Mode {
	switch tm {
	case TransferSequential:
		return ModeSequential
	case TransferPage:
		return ModePage
	}
	return ModeByte
}

func (tm TransferMode) String() (s string) {
	switch tm {
	case TransferByte:
		s = "Byte"
	case TransferSequential:
		s = "Sequential"
	case TransferPage:
		s = "Page"
	default:
		s = "TransferMode(" + strconv.Itoa(int(tm)) + ")"
	}
	return s
}

// Set implements flag.Value.
func (tm *TransferMode) Set(s string) error {
	v, err := ParseTransferMode(s)
	if err != nil {
		return err
	}
	*tm = v
	return nil
}

// Span is a time interval in seconds relative to capture start.
type Span struct {
	Start float64
	End   float64
}

// Duration returns End-Start in seconds.
func (s Span) Duration() float64 { return s.End - s.Start }

// Lines is a bit mask of the data lines present in a byte event.
type Lines uint8

const (
	// Controller to device line.
	LineMOSI Lines = 1 << iota
	// Device to controller line.
	LineMISO
)

// Has reports whether every line in line is present.
func (l Lines) Has(line Lines) bool { return l&line == line }

// EventKind identifies what happened on the bus.
type EventKind uint8

const (
	// Chip select asserted.
	EventBegin EventKind = iota
	// One byte clocked on the bus.
	EventByte
	// Chip select deasserted.
	EventEnd
)

func (k EventKind) String() (s string) {
	switch k {
	case EventBegin:
		s = "begin"
	case EventByte:
		s = "byte"
	case EventEnd:
		s = "end"
	default:
		s = "unknown"
	}
	return s
}

// Event is one input to the decoder as delivered by a capture source.
// Begin and End events carry their time in Span.Start and Span.End alike.
type Event struct {
	Kind  EventKind
	Span  Span
	MOSI  byte
	MISO  byte
	Lines Lines
}

// BeginEvent returns a transaction-begin event at time t.
func BeginEvent(t float64) Event { return Event{Kind: EventBegin, Span: Span{Start: t, End: t}} }

// EndEvent returns a transaction-end event at time t.
func EndEvent(t float64) Event { return Event{Kind: EventEnd, Span: Span{Start: t, End: t}} }

// ByteEvent returns a byte event with both lines present.
func ByteEvent(start, end float64, mosi, miso byte) Event {
	return Event{Kind: EventByte, Span: Span{Start: start, End: end}, MOSI: mosi, MISO: miso, Lines: LineMOSI | LineMISO}
}

// line returns the value on the requested line and whether it was sampled.
func (ev Event) line(l Lines) (byte, bool) {
	switch l {
	case LineMOSI:
		return ev.MOSI, ev.Lines.Has(LineMOSI)
	case LineMISO:
		return ev.MISO, ev.Lines.Has(LineMISO)
	}
	return 0, false
}

// FrameKind identifies the field of a transaction a Frame reports.
type FrameKind uint8

const (
	FrameInstruction FrameKind = iota
	FrameAddress
	FrameData
	FrameMode
)

func (k FrameKind) String() (s string) {
	switch k {
	case FrameInstruction:
		s = "Instruction"
	case FrameAddress:
		s = "Address"
	case FrameData:
		s = "Data"
	case FrameMode:
		s = "Mode"
	default:
		s = "unknown"
	}
	return s
}

// Frame is a decoded output of the decoder. Only the field matching Kind is meaningful.
type Frame struct {
	Kind        FrameKind
	Span        Span
	Instruction Instruction
	Address     uint16
	Data        []byte
	Mode        Mode
}

// String renders the frame the way a logic analyzer annotates it.
func (f Frame) String() string {
	switch f.Kind {
	case FrameInstruction:
		return f.Instruction.String()
	case FrameAddress:
		return "Address " + Hex(f.Address, 4)
	case FrameData:
		return "Data: " + hexBytes(f.Data)
	case FrameMode:
		return "Mode " + f.Mode.String()
	}
	return "unknown frame"
}
