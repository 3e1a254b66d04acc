// Package sim models the USART2 peripheral closely enough to run the usart
// driver on a host: a register file, a TX holding/shift register pair that
// drains one bit per Step, a single-byte RX data register with overrun, and
// an interrupt line gated by the CR1 enables and the controller enable.
//
// Reading SR costs one bit time. A driver spinning on TC inside its handler
// therefore sees the line drain, as it would on hardware, without a second
// goroutine driving the clock.
package sim

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/jangala-dev/tinygo-usart/usart"
)

// Peripheral is an in-memory USART. It implements usart.Bus and
// usart.Interrupt. All methods are safe for concurrent use; the attached
// handler is always called without the model lock held.
type Peripheral struct {
	mu   sync.Mutex
	regs [usart.NumRegs]uint32

	// TX
	tdr      byte
	tdrFull  bool
	shift    byte
	shifting bool
	bitsLeft int
	sent     []byte
	out      io.Writer

	// RX
	rdr      byte
	rxne     bool
	ore      bool
	overruns int

	nvic    bool
	handler func()
}

// New returns a peripheral in its reset state. Transmitted frames are
// recorded and, if out is non-nil, written to it. out is called with the
// model lock held and must not block.
func New(out io.Writer) *Peripheral {
	return &Peripheral{out: out}
}

// Attach installs the interrupt handler.
func (p *Peripheral) Attach(handler func()) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

// Enable implements usart.Interrupt.
func (p *Peripheral) Enable() {
	p.mu.Lock()
	p.nvic = true
	p.mu.Unlock()
}

// Get implements usart.Bus. SR reads advance the line by one bit time; DR
// reads return the received byte and clear RXNE and ORE.
func (p *Peripheral) Get(r usart.Reg) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.get(r)
}

func (p *Peripheral) get(r usart.Reg) uint32 {
	switch r {
	case usart.RegSR:
		p.tick()
		return p.sr()
	case usart.RegDR:
		p.rxne, p.ore = false, false
		return uint32(p.rdr)
	}
	return p.regs[r]
}

// Set implements usart.Bus. A DR write loads the transmit holding register;
// SR is read-only in this model.
func (p *Peripheral) Set(r usart.Reg, v uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set(r, v)
}

func (p *Peripheral) set(r usart.Reg, v uint32) {
	switch r {
	case usart.RegSR:
		return
	case usart.RegDR:
		p.writeDR(byte(v))
		return
	}
	p.regs[r] = v
}

// SetBits implements usart.Bus.
func (p *Peripheral) SetBits(r usart.Reg, m uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set(r, p.get(r)|m)
}

// ClearBits implements usart.Bus.
func (p *Peripheral) ClearBits(r usart.Reg, m uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set(r, p.get(r)&^m)
}

// HasBits implements usart.Bus with volatile.Register32 semantics: true if
// any bit of m is set.
func (p *Peripheral) HasBits(r usart.Reg, m uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.get(r)&m != 0
}

// Peek returns a register value without side effects.
func (p *Peripheral) Peek(r usart.Reg) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch r {
	case usart.RegSR:
		return p.sr()
	case usart.RegDR:
		return uint32(p.rdr)
	}
	return p.regs[r]
}

// Inject delivers one frame on the RX line. It reports false if the
// receiver is disabled. If the previous byte has not been read yet the new
// one is lost and ORE is set. The interrupt is raised on the next Step.
func (p *Peripheral) Inject(b byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled(usart.CR1_RE) {
		return false
	}
	if p.rxne {
		p.ore = true
		p.overruns++
		glog.Warningf("sim: RX overrun, dropped 0x%02x", b)
		return true
	}
	p.rdr, p.rxne = b, true
	return true
}

// Step advances the line by one bit time and, if an enabled interrupt
// condition is pending, runs the handler once. It reports whether the
// handler ran.
func (p *Peripheral) Step() bool {
	p.mu.Lock()
	p.tick()
	pending, h := p.pending(), p.handler
	p.mu.Unlock()
	if pending && h != nil {
		h()
		return true
	}
	return false
}

// Run steps the model every period until ctx is done.
func (p *Peripheral) Run(ctx context.Context, period time.Duration) error {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.Step()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Idle reports whether nothing is waiting in or shifting out of the
// transmitter.
func (p *Peripheral) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.tdrFull && !p.shifting
}

// Sent returns a copy of every frame that has left the transmitter.
func (p *Peripheral) Sent() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.sent...)
}

// ClearSent forgets the recorded frames.
func (p *Peripheral) ClearSent() {
	p.mu.Lock()
	p.sent = p.sent[:0]
	p.mu.Unlock()
}

// Overruns returns how many injected bytes were lost to RX overrun.
func (p *Peripheral) Overruns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overruns
}

// ---------------- internals (mu held) ----------------

func (p *Peripheral) enabled(bits uint32) bool {
	cr1 := p.regs[usart.RegCR1]
	return cr1&usart.CR1_UE != 0 && cr1&bits == bits
}

func (p *Peripheral) sr() uint32 {
	var v uint32
	if !p.tdrFull {
		v |= usart.SR_TXE
		if !p.shifting {
			v |= usart.SR_TC
		}
	}
	if p.rxne {
		v |= usart.SR_RXNE
	}
	if p.ore {
		v |= usart.SR_ORE
	}
	return v
}

func (p *Peripheral) pending() bool {
	if !p.nvic || !p.enabled(0) {
		return false
	}
	cr1, sr := p.regs[usart.RegCR1], p.sr()
	return (cr1&usart.CR1_TXEIE != 0 && sr&usart.SR_TXE != 0) ||
		(cr1&usart.CR1_TCIE != 0 && sr&usart.SR_TC != 0) ||
		(cr1&usart.CR1_RXNEIE != 0 && sr&usart.SR_RXNE != 0)
}

func (p *Peripheral) writeDR(b byte) {
	if !p.enabled(usart.CR1_TE) {
		glog.V(2).Infof("sim: DR write 0x%02x with transmitter disabled", b)
		return
	}
	// A write while TXE is clear overwrites the holding register, as on
	// hardware.
	p.tdr, p.tdrFull = b, true
	p.load()
}

// load moves the holding register into an idle shifter.
func (p *Peripheral) load() {
	if p.shifting || !p.tdrFull {
		return
	}
	p.shift, p.shifting, p.bitsLeft = p.tdr, true, p.frameBits()
	p.tdrFull = false
}

func (p *Peripheral) tick() {
	if p.shifting {
		p.bitsLeft--
		if p.bitsLeft <= 0 {
			p.shifting = false
			p.emit(p.shift)
		}
	}
	p.load()
}

func (p *Peripheral) emit(b byte) {
	glog.V(3).Infof("sim: TX frame 0x%02x", b)
	p.sent = append(p.sent, b)
	if p.out != nil {
		if _, err := p.out.Write([]byte{b}); err != nil {
			glog.Errorf("sim: line output: %v", err)
		}
	}
}

// frameBits is start + data + stop for the configured format.
func (p *Peripheral) frameBits() int {
	n := 1 + 8 + 1
	if p.regs[usart.RegCR1]&usart.CR1_M != 0 {
		n++
	}
	if (p.regs[usart.RegCR2]&usart.CR2_STOP_Msk)>>usart.CR2_STOP_Pos == 2 {
		n++
	}
	return n
}
