package usart

import "sync/atomic"

// tcSpinLimit bounds the transmission-complete wait in SR polls. At 115200
// baud the final frame needs well under a thousand polls on a 16 MHz core;
// the limit only matters when the peripheral is misconfigured.
const tcSpinLimit = 1 << 16

// HandleInterrupt services one USART interrupt. TX and RX share the vector.
//
// TX (only while the driver has armed TXEIE): each data-register-empty
// event moves one queued byte to DR. Once the message is exhausted the
// handler spins until TC reports the last stop bit has left the shifter,
// masks TXEIE and TCIE, and returns the TX buffer to idle.
//
// RX: DR is read whenever RXNE is set, which clears the flag, and only then
// is the byte offered to the ring. Receive errors (PE, FE, NF, ORE) are not
// inspected.
func (u *UART) HandleInterrupt() {
	atomic.AddUint32(&u.stats.ISRCount, 1)

	if u.Bus.HasBits(RegCR1, CR1_TXEIE) && u.Bus.HasBits(RegSR, SR_TXE) {
		if b, ok := u.TxBuffer.next(); ok {
			u.Bus.Set(RegDR, uint32(b))
			atomic.AddUint32(&u.stats.TxBytes, 1)
		} else {
			u.finishTx()
		}
	}

	if u.Bus.HasBits(RegSR, SR_RXNE) {
		u.Receive(byte(u.Bus.Get(RegDR)))
	}
}

// finishTx is the Sending -> Idle transition. The interrupt sources are
// masked before the buffer is released so a message queued right after
// Reset cannot have its TXEIE cleared by this handler.
func (u *UART) finishTx() {
	polls, ok := u.waitTransmissionComplete()
	u.statTCWait(polls, !ok)

	u.Bus.ClearBits(RegCR1, CR1_TXEIE|CR1_TCIE)
	u.TxBuffer.Reset()
	atomic.AddUint32(&u.stats.TxMessages, 1)
	notify(u.txNotify)
}

// waitTransmissionComplete busy-polls SR.TC. It runs in interrupt context
// where nothing can be scheduled, and lasts at most one frame time.
func (u *UART) waitTransmissionComplete() (uint32, bool) {
	for n := uint32(1); n <= tcSpinLimit; n++ {
		if u.Bus.HasBits(RegSR, SR_TC) {
			return n, true
		}
	}
	return tcSpinLimit, false
}
