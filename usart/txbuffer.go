package usart

import "sync/atomic"

const txBufferSize = 128

// TxBuffer holds the single message in flight. The foreground fills it with
// Load while idle; the interrupt handler drains it and calls Reset once the
// line has gone quiet. The busy flag is the only handshake: Load refuses to
// touch index/length while it is set, and the handler only advances them
// while it is set, so the two writers never overlap.
type TxBuffer struct {
	data   [txBufferSize]byte
	index  uint8 // next byte to send
	length uint8 // bytes queued
	busy   atomic.Bool
}

// NewTxBuffer returns an idle buffer.
func NewTxBuffer() *TxBuffer {
	return &TxBuffer{}
}

// Size returns the capacity of a single message.
func (tb *TxBuffer) Size() int { return txBufferSize }

// Busy reports whether a transmission is in flight.
func (tb *TxBuffer) Busy() bool { return tb.busy.Load() }

// Load queues p as the next message. It fails without side effects when a
// message is already in flight, when p is empty, or when p does not fit.
func (tb *TxBuffer) Load(p []byte) bool {
	if tb.busy.Load() || len(p) == 0 || len(p) > txBufferSize {
		return false
	}
	copy(tb.data[:], p)
	tb.length = uint8(len(p))
	tb.index = 0
	tb.busy.Store(true) // publish after the data is in place
	return true
}

// Reset returns the buffer to idle.
func (tb *TxBuffer) Reset() {
	tb.index = 0
	tb.length = 0
	tb.busy.Store(false)
}

// next yields the next queued byte. Interrupt context only.
func (tb *TxBuffer) next() (byte, bool) {
	if tb.index >= tb.length {
		return 0, false
	}
	b := tb.data[tb.index]
	tb.index++
	return b, true
}
