// Package usart provides an interrupt-driven driver for the STM32F4 USART2
// peripheral with software ring buffers.
//
// Writes are non-blocking and all-or-nothing: TryWrite queues one message of
// up to 128 bytes and arms the TX interrupts, and the handler moves it to the
// wire a byte at a time. A second message is refused until the first has
// physically left the shift register. Received bytes are pushed by the
// handler into a 128-slot ring (127 usable) and read back without blocking;
// when the ring is full new bytes are dropped.
//
// The driver reaches hardware only through Bus and Interrupt, so the same
// code runs on target (see usart_stm32.go) and against an in-memory model.
package usart

import (
	"errors"
	"sync/atomic"
)

// Fixed line configuration: 115200 baud, 8N1, no flow control.
const (
	BaudRate = 115200
	PCLK1    = 16000000 // APB1 clock after reset (HSI)
)

var (
	ErrBufferEmpty = errors.New("USART buffer empty")
	ErrBusy        = errors.New("USART transmission in progress")
	ErrTooLarge    = errors.New("USART message exceeds TX buffer")
	ErrClosed      = errors.New("USART closed")
)

// UART is one USART channel and its software buffers.
//
// Ownership: the foreground is the only writer of TxBuffer while it is idle
// and of the RX ring's read index; HandleInterrupt is the only writer of
// TxBuffer while it is busy and of the RX ring's write index.
type UART struct {
	Bus       Bus
	Interrupt Interrupt

	// RX
	Buffer *RingBuffer
	notify chan struct{} // coalesced RX readiness

	// TX
	TxBuffer *TxBuffer
	txNotify chan struct{} // coalesced "TX went idle"

	closed chan struct{}
	stats  Stats
}

// New returns a driver bound to bus and irq. Configure must be called before
// the first read or write.
func New(bus Bus, irq Interrupt) *UART {
	return &UART{
		Bus:       bus,
		Interrupt: irq,
		Buffer:    NewRingBuffer(),
		notify:    make(chan struct{}, 1),
		TxBuffer:  NewTxBuffer(),
		txNotify:  make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
}

// Configure brings the peripheral up: GPIOA and USART2 clocks, PA2/PA3 in
// alternate function 7 with a pull-up on RX, 8N1 with 16x oversampling and
// parity off, the fixed baud divisor, the RX interrupt and the controller
// line, then TE, RE and UE. Calling it again rewrites the same values.
func (u *UART) Configure() {
	// 1) Pins.
	u.Bus.SetBits(RegAHB1ENR, AHB1ENR_GPIOAEN)
	for _, pin := range [...]uint32{TxPin, RxPin} {
		u.Bus.ClearBits(RegMODER, 0x3<<(pin*2))
		u.Bus.SetBits(RegMODER, moderAltFunc<<(pin*2))
		u.Bus.ClearBits(RegAFRL, 0xF<<(pin*4))
		u.Bus.SetBits(RegAFRL, afUSART2<<(pin*4))
	}
	u.Bus.ClearBits(RegPUPDR, 0x3<<(RxPin*2))
	u.Bus.SetBits(RegPUPDR, pupdPullUp<<(RxPin*2))

	// 2) Frame format: 8 data bits, 1 stop bit, 16x oversampling,
	// three-sample bit method, no parity.
	u.Bus.SetBits(RegAPB1ENR, APB1ENR_USART2EN)
	u.Bus.ClearBits(RegCR1, CR1_M|CR1_OVER8|CR1_PCE)
	u.Bus.ClearBits(RegCR2, CR2_STOP_Msk)
	u.Bus.ClearBits(RegCR3, CR3_ONEBIT)

	// 3) Baud.
	u.Bus.Set(RegBRR, Divisor(PCLK1, BaudRate))

	// 4) Interrupts: RX always on; TX sources are armed per message.
	u.Bus.SetBits(RegCR1, CR1_RXNEIE)
	if u.Interrupt != nil {
		u.Interrupt.Enable()
	}

	// 5) Enable.
	u.Bus.SetBits(RegCR1, CR1_TE|CR1_RE)
	u.Bus.SetBits(RegCR1, CR1_UE)
}

// Divisor returns the BRR value for 16x oversampling, rounded to nearest.
// The low four bits are the fraction in sixteenths.
func Divisor(pclk, baud uint32) uint32 {
	return (pclk + baud/2) / baud
}

// TryWrite queues p as one message and arms the TX interrupts. It returns
// len(p), or 0 if a message is still in flight, p is empty, or p is larger
// than the TX buffer. It never blocks.
func (u *UART) TryWrite(p []byte) int {
	if !u.send(p) {
		atomic.AddUint32(&u.stats.TxRejects, 1)
		return 0
	}
	return len(p)
}

func (u *UART) send(p []byte) bool {
	if !u.TxBuffer.Load(p) {
		return false
	}
	u.Bus.SetBits(RegCR1, CR1_TXEIE|CR1_TCIE)
	return true
}

// Write implements io.Writer on top of TryWrite. It does not wait: a
// refused message returns 0 and ErrBusy or ErrTooLarge.
func (u *UART) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if n := u.TryWrite(p); n > 0 {
		return n, nil
	}
	if len(p) > u.TxBuffer.Size() {
		return 0, ErrTooLarge
	}
	return 0, ErrBusy
}

// WriteByte queues a one-byte message.
func (u *UART) WriteByte(c byte) error {
	_, err := u.Write([]byte{c})
	return err
}

// Busy reports whether a transmission is in flight.
func (u *UART) Busy() bool { return u.TxBuffer.Busy() }

// TryReadByte returns the oldest received byte, if any.
func (u *UART) TryReadByte() (byte, bool) {
	return u.Buffer.Get()
}

// ReadByte reads a single byte from the RX ring. If there is no data
// available, it returns ErrBufferEmpty.
func (u *UART) ReadByte() (byte, error) {
	if b, ok := u.Buffer.Get(); ok {
		return b, nil
	}
	return 0, ErrBufferEmpty
}

// TryRead copies up to len(p) buffered bytes and returns how many. A return
// value of 0 means "no data now".
func (u *UART) TryRead(p []byte) int {
	n := 0
	for n < len(p) {
		b, ok := u.Buffer.Get()
		if !ok {
			break
		}
		p[n] = b
		n++
	}
	return n
}

// Read implements io.Reader without blocking: it returns 0, nil when
// nothing has arrived. Use ReadContext to wait.
func (u *UART) Read(p []byte) (int, error) {
	return u.TryRead(p), nil
}

// Buffered returns the number of bytes waiting in the RX ring.
func (u *UART) Buffered() int { return u.Buffer.Used() }

// Receive stores one byte in the RX ring. It is intended to be called by
// the interrupt handler after the byte has been read from DR; when the ring
// is full the byte is lost.
func (u *UART) Receive(b byte) {
	u.statRx(u.Buffer.Put(b))
	notify(u.notify)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
