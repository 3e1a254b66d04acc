//go:build stm32f4

package main

import (
	"time"

	"github.com/jangala-dev/tinygo-usart/usart"
)

/*
STM32F4 USART2 diagnostic

Wiring assumed:
  PA2 (TX) -> PA3 (RX)

Every period: queue one full TX message, read back whatever arrived, then
dump the registers and the driver counters.
*/

// ---------- Tunables ----------
const (
	period  = 2 * time.Second
	burstSz = 128
)

var u = usart.USART2

// ---------- Minimal formatting helpers (no fmt) ----------
func u32hex(v uint32) string {
	const hd = "0123456789abcdef"
	var b [8]byte
	for i := 0; i < 8; i++ {
		shift := uint(28 - 4*i)
		b[i] = hd[(v>>shift)&0xF]
	}
	return string(b[:])
}

func dumpRegs() {
	for _, r := range [...]usart.Reg{
		usart.RegSR, usart.RegCR1, usart.RegCR2, usart.RegCR3, usart.RegBRR,
		usart.RegMODER, usart.RegAFRL, usart.RegPUPDR,
	} {
		println("  ", r.String(), "= 0x"+u32hex(u.Bus.Get(r)))
	}
}

func dumpStats() {
	st := u.Stats()
	println("  isr        =", st.ISRCount)
	println("  tx bytes   =", st.TxBytes, "msgs =", st.TxMessages, "rejects =", st.TxRejects)
	println("  tc spin    =", st.TCSpinMax, "timeouts =", st.TCTimeouts)
	println("  rx bytes   =", st.RxBytes, "drops =", st.RxDrops, "max used =", st.RxMaxUsed)
}

func main() {
	time.Sleep(2 * time.Second)
	u.Configure()
	println("USART2 diag: BRR divisor", usart.Divisor(usart.PCLK1, usart.BaudRate))
	dumpRegs()

	burst := make([]byte, burstSz)
	for i := range burst {
		burst[i] = byte('A' + i%26)
	}
	var rx [128]byte
	for round := 0; ; round++ {
		t0 := time.Now()
		for u.TryWrite(burst) == 0 {
			time.Sleep(time.Millisecond)
		}
		for u.Busy() {
			time.Sleep(100 * time.Microsecond)
		}
		elapsed := time.Since(t0)
		time.Sleep(time.Millisecond)

		got, bad := 0, 0
		for {
			n := u.TryRead(rx[:])
			if n == 0 {
				break
			}
			for i := 0; i < n; i++ {
				if rx[i] != burst[(got+i)%burstSz] {
					bad++
				}
			}
			got += n
		}

		println("")
		println("[round", round, "] sent", burstSz, "in", int(elapsed/time.Microsecond), "us, read back", got, "mismatches", bad)
		dumpRegs()
		dumpStats()
		time.Sleep(period)
	}
}
