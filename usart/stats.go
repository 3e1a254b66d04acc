package usart

import "sync/atomic"

// Stats holds counters since the last reset. They are observational only:
// a dropped byte is still dropped silently as far as the data path goes.
type Stats struct {
	// ISR-level
	ISRCount uint32 // handler entries

	// TX
	TxBytes    uint32 // bytes pushed to DR
	TxMessages uint32 // transmissions that reached transmission-complete
	TxRejects  uint32 // TryWrite calls refused (busy, empty, oversize)
	TCSpinMax  uint32 // longest transmission-complete wait, in SR polls
	TCTimeouts uint32 // waits that hit tcSpinLimit

	// RX
	RxBytes   uint32 // bytes stored in the ring
	RxDrops   uint32 // bytes read from DR while the ring was full
	RxMaxUsed uint32 // high-water mark of ring occupancy
}

// Stats returns a snapshot of the counters.
func (u *UART) Stats() Stats {
	return Stats{
		ISRCount: atomic.LoadUint32(&u.stats.ISRCount),

		TxBytes:    atomic.LoadUint32(&u.stats.TxBytes),
		TxMessages: atomic.LoadUint32(&u.stats.TxMessages),
		TxRejects:  atomic.LoadUint32(&u.stats.TxRejects),
		TCSpinMax:  atomic.LoadUint32(&u.stats.TCSpinMax),
		TCTimeouts: atomic.LoadUint32(&u.stats.TCTimeouts),

		RxBytes:   atomic.LoadUint32(&u.stats.RxBytes),
		RxDrops:   atomic.LoadUint32(&u.stats.RxDrops),
		RxMaxUsed: atomic.LoadUint32(&u.stats.RxMaxUsed),
	}
}

// ResetStats zeroes all counters.
func (u *UART) ResetStats() {
	for _, p := range []*uint32{
		&u.stats.ISRCount,
		&u.stats.TxBytes, &u.stats.TxMessages, &u.stats.TxRejects,
		&u.stats.TCSpinMax, &u.stats.TCTimeouts,
		&u.stats.RxBytes, &u.stats.RxDrops, &u.stats.RxMaxUsed,
	} {
		atomic.StoreUint32(p, 0)
	}
}

// storeMax raises *addr to v if v is larger.
func storeMax(addr *uint32, v uint32) {
	for {
		max := atomic.LoadUint32(addr)
		if v <= max {
			return
		}
		if atomic.CompareAndSwapUint32(addr, max, v) {
			return
		}
	}
}

func (u *UART) statRx(putOK bool) {
	if !putOK {
		atomic.AddUint32(&u.stats.RxDrops, 1)
		return
	}
	atomic.AddUint32(&u.stats.RxBytes, 1)
	storeMax(&u.stats.RxMaxUsed, uint32(u.Buffer.Used()))
}

func (u *UART) statTCWait(polls uint32, timedOut bool) {
	storeMax(&u.stats.TCSpinMax, polls)
	if timedOut {
		atomic.AddUint32(&u.stats.TCTimeouts, 1)
	}
}
