package capture

import (
	"time"

	"github.com/soypat/sram512"
	"github.com/soypat/sram512/internal/syncutil"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"
)

// Tap is a spi.Conn that forwards transactions to another connection and
// decodes what went over the bus. Each Tx call ends a chip select window;
// packets with KeepCS set keep it open, also across TxPackets calls.
type Tap struct {
	mu      syncutil.Mutex
	conn    spi.Conn
	dec     *sram512.Decoder
	onFrame func(sram512.Frame)
	epoch   time.Time
	now     func() time.Time
	open    bool
}

var _ spi.Conn = (*Tap)(nil)

// NewTap wraps c. Frames decoded by dec are passed to onFrame. Times are
// seconds since NewTap was called.
func NewTap(c spi.Conn, dec *sram512.Decoder, onFrame func(sram512.Frame)) *Tap {
	t := &Tap{conn: c, dec: dec, onFrame: onFrame, now: time.Now}
	t.epoch = t.now()
	return t
}

// Tx implements conn.Conn.
func (t *Tap) Tx(w, r []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.packet(spi.Packet{W: w, R: r}, func() error { return t.conn.Tx(w, r) })
}

// TxPackets implements spi.Conn. A last packet with KeepCS set leaves the
// window open for the next call.
func (t *Tap) TxPackets(pkts []spi.Packet) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range pkts {
		// Drivers send packets in one go, so packets are forwarded one by one
		// to get per packet times.
		err := t.packet(pkts[i], func() error { return t.conn.TxPackets(pkts[i : i+1]) })
		if err != nil {
			return err
		}
	}
	return nil
}

// packet sends p with send and decodes it. A failed send ends the window
// with what made it onto the bus before the failure.
func (t *Tap) packet(p spi.Packet, send func() error) error {
	start := t.since()
	err := send()
	end := t.since()
	if err != nil {
		if t.open {
			t.end(end)
		}
		return err
	}
	if !t.open {
		t.begin(start)
	}
	t.bytes(start, end, p.W, p.R)
	if !p.KeepCS {
		t.end(end)
	}
	return nil
}

// Duplex implements conn.Conn.
func (t *Tap) Duplex() conn.Duplex { return t.conn.Duplex() }

func (t *Tap) String() string { return "tap(" + t.conn.String() + ")" }

func (t *Tap) since() float64 { return t.now().Sub(t.epoch).Seconds() }

func (t *Tap) begin(at float64) {
	t.dec.Begin(at)
	t.open = true
}

func (t *Tap) end(at float64) {
	t.emit(t.dec.End(at))
	t.open = false
}

// bytes spreads the bytes of w and r evenly over [start, end].
func (t *Tap) bytes(start, end float64, w, r []byte) {
	n := max(len(w), len(r))
	if n == 0 {
		return
	}
	step := (end - start) / float64(n)
	for i := 0; i < n; i++ {
		ev := sram512.Event{
			Kind: sram512.EventByte,
			Span: sram512.Span{Start: start + float64(i)*step, End: start + float64(i+1)*step},
		}
		if i < len(w) {
			ev.MOSI = w[i]
			ev.Lines |= sram512.LineMOSI
		}
		if i < len(r) {
			ev.MISO = r[i]
			ev.Lines |= sram512.LineMISO
		}
		t.emit(t.dec.Byte(ev))
	}
}

func (t *Tap) emit(f sram512.Frame, ok bool) {
	if ok && t.onFrame != nil {
		t.onFrame(f)
	}
}
