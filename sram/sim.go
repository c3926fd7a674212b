package sram

import (
	"github.com/soypat/sram512"
	"github.com/soypat/sram512/internal/syncutil"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Sim is an in-memory 23LC512 that implements spi.Conn. Every Tx call is one
// chip select window. Packets chained with KeepCS share a window, which stays
// open across TxPackets calls while the last packet keeps CS asserted.
type Sim struct {
	mu      syncutil.Mutex
	mem     [Capacity]byte
	modeReg byte
	txs     int
	// Current chip select window.
	open  bool
	n     int // Bytes clocked since CS was asserted.
	instr sram512.Instruction
	addr  uint16
}

var (
	_ spi.Conn       = (*Sim)(nil)
	_ spi.PortCloser = (*SimPort)(nil)
)

// NewSim returns a simulated device in its power-on state: Sequential mode, memory cleared.
func NewSim() *Sim {
	return &Sim{modeReg: defaultMode.Register()}
}

// Tx performs one transaction. r may be nil for write-only transactions.
func (s *Sim) Tx(w, r []byte) error {
	return s.TxPackets([]spi.Packet{{W: w, R: r}})
}

// TxPackets implements spi.Conn. A failed call releases chip select.
func (s *Sim) TxPackets(pkts []spi.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pkts {
		if p.R != nil && len(p.R) != len(p.W) {
			s.open = false
			return ErrBufferLengths
		}
	}
	for _, p := range pkts {
		if !s.open {
			s.selectChip()
		}
		for i, b := range p.W {
			out, driven := s.shift(b)
			if driven && p.R != nil {
				p.R[i] = out
			}
		}
		if !p.KeepCS {
			s.open = false
		}
	}
	return nil
}

func (s *Sim) selectChip() {
	s.open = true
	s.n = 0
	s.txs++
}

// shift clocks in one byte on SI and returns the byte driven on SO, if any.
func (s *Sim) shift(in byte) (out byte, driven bool) {
	n := s.n
	s.n++
	if n == 0 {
		s.instr = sram512.Instruction(in)
		return 0, false
	}
	switch s.instr {
	case sram512.InstrWrite, sram512.InstrRead:
		switch {
		case n == 1:
			s.addr = uint16(in) << 8
			return 0, false
		case n == 2:
			s.addr |= uint16(in)
			return 0, false
		case n > headerLen && s.mode() == sram512.ModeByte:
			if s.instr == sram512.InstrRead {
				return 0xff, true // Output is high impedance after the first byte.
			}
			return 0, false
		}
		addr := s.addr
		s.addr = s.next(addr)
		if s.instr == sram512.InstrWrite {
			s.mem[addr] = in
			return 0, false
		}
		return s.mem[addr], true
	case sram512.InstrWriteModeRegister:
		if n == 1 {
			s.modeReg = in
		}
	case sram512.InstrReadModeRegister:
		return s.modeReg, true
	}
	return 0, false
}

// Duplex implements conn.Conn.
func (*Sim) Duplex() conn.Duplex { return conn.Full }

func (*Sim) String() string { return "sim://23lc512" }

// Peek copies memory contents at addr into buf without a bus transaction.
func (s *Sim) Peek(addr uint16, buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range buf {
		buf[i] = s.mem[addr]
		addr++
	}
}

// ModeRegister returns the raw MODE register value.
func (s *Sim) ModeRegister() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modeReg
}

// Transactions returns the number of chip select windows seen.
func (s *Sim) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txs
}

func (s *Sim) mode() sram512.Mode { return sram512.ModeFromRegister(s.modeReg) }

// next returns the address following addr according to the current mode.
// Sequential wraps at the end of the array, Page wraps within the page.
func (s *Sim) next(addr uint16) uint16 {
	if s.mode() == sram512.ModePage {
		return addr&^(PageSize-1) | (addr+1)&(PageSize-1)
	}
	return addr + 1
}

// SimPort is a spi.PortCloser that hands out a single Sim.
type SimPort struct {
	Sim *Sim
}

// Connect implements spi.Port.
func (p *SimPort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	if p.Sim == nil {
		p.Sim = NewSim()
	}
	return p.Sim, nil
}

// LimitSpeed implements spi.Port.
func (*SimPort) LimitSpeed(physic.Frequency) error { return nil }

// Close implements io.Closer.
func (*SimPort) Close() error { return nil }

func (*SimPort) String() string { return "sim://23lc512" }
