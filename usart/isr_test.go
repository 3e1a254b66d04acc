package usart

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// regBus is a plain register file that records DR traffic. SR is whatever
// the test puts there, except that TC can be held off for a number of polls.
type regBus struct {
	regs    [NumRegs]uint32
	written []byte
	rdr     byte
	drReads int
	srReads int
	tcAfter int // SR polls before TC reads as set; <0 never
}

func (b *regBus) Get(r Reg) uint32 {
	switch r {
	case RegDR:
		b.drReads++
		b.regs[RegSR] &^= SR_RXNE
		return uint32(b.rdr)
	case RegSR:
		b.srReads++
		v := b.regs[RegSR] &^ SR_TC
		if b.tcAfter >= 0 && b.srReads > b.tcAfter {
			v |= SR_TC
		}
		return v
	}
	return b.regs[r]
}

func (b *regBus) Set(r Reg, v uint32) {
	if r == RegDR {
		b.written = append(b.written, byte(v))
		return
	}
	b.regs[r] = v
}

func (b *regBus) SetBits(r Reg, m uint32)      { b.regs[r] |= m }
func (b *regBus) ClearBits(r Reg, m uint32)    { b.regs[r] &^= m }
func (b *regBus) HasBits(r Reg, m uint32) bool { return b.Get(r)&m != 0 }

type countIRQ int

func (c *countIRQ) Enable() { *c++ }

func TestConfigure_Registers(t *testing.T) {
	bus := &regBus{}
	var irq countIRQ
	u := New(bus, &irq)

	// Reset-ish garbage that Configure must clear.
	bus.regs[RegCR1] = CR1_M | CR1_OVER8 | CR1_PCE
	bus.regs[RegCR2] = CR2_STOP_Msk
	bus.regs[RegCR3] = CR3_ONEBIT
	bus.regs[RegMODER] = 0xF << 4
	bus.regs[RegPUPDR] = 0x2 << 6

	u.Configure()

	require.Equal(t, uint32(AHB1ENR_GPIOAEN), bus.regs[RegAHB1ENR])
	require.Equal(t, uint32(APB1ENR_USART2EN), bus.regs[RegAPB1ENR])
	require.Equal(t, uint32(0xA0), bus.regs[RegMODER], "PA2/PA3 alternate function")
	require.Equal(t, uint32(0x7700), bus.regs[RegAFRL], "AF7 on PA2/PA3")
	require.Equal(t, uint32(0x40), bus.regs[RegPUPDR], "pull-up on PA3 only")
	require.Equal(t, uint32(CR1_RXNEIE|CR1_TE|CR1_RE|CR1_UE), bus.regs[RegCR1])
	require.Zero(t, bus.regs[RegCR2])
	require.Zero(t, bus.regs[RegCR3])
	require.Equal(t, uint32(8<<4|11), bus.regs[RegBRR])
	require.Equal(t, countIRQ(1), irq)

	snapshot := bus.regs
	u.Configure()
	require.Equal(t, snapshot, bus.regs, "Configure is idempotent")
}

func TestDivisor(t *testing.T) {
	require.Equal(t, uint32(0x8B), Divisor(16000000, 115200))
	require.Equal(t, uint32(0x683), Divisor(16000000, 9600))
}

func TestHandleInterrupt_RxReadsDRBeforeDrop(t *testing.T) {
	bus := &regBus{tcAfter: -1}
	u := New(bus, nil)
	for i := 0; i < u.Buffer.Size(); i++ {
		require.True(t, u.Buffer.Put(byte(i)))
	}

	bus.rdr = 0xEE
	bus.regs[RegSR] = SR_RXNE
	u.HandleInterrupt()

	require.Equal(t, 1, bus.drReads, "DR must be read even when the ring is full")
	require.Zero(t, bus.regs[RegSR]&SR_RXNE)
	require.Equal(t, uint32(1), u.Stats().RxDrops)
	require.Equal(t, u.Buffer.Size(), u.Buffered())
}

func TestHandleInterrupt_TxIgnoredUnlessArmed(t *testing.T) {
	bus := &regBus{tcAfter: 0}
	u := New(bus, nil)
	bus.regs[RegSR] = SR_TXE

	u.HandleInterrupt()

	require.Empty(t, bus.written)
	require.Zero(t, u.Stats().TxMessages)
}

func TestHandleInterrupt_WaitsForTransmissionComplete(t *testing.T) {
	bus := &regBus{tcAfter: 1 << 20}
	u := New(bus, nil)
	bus.regs[RegSR] = SR_TXE
	require.Equal(t, 2, u.TryWrite([]byte("ok")))

	u.HandleInterrupt()
	u.HandleInterrupt()
	require.Equal(t, []byte("ok"), bus.written)
	require.True(t, u.Busy())

	bus.srReads = 0
	bus.tcAfter = 5
	u.HandleInterrupt()

	require.False(t, u.Busy())
	require.Zero(t, bus.regs[RegCR1]&(CR1_TXEIE|CR1_TCIE))
	st := u.Stats()
	require.Equal(t, uint32(1), st.TxMessages)
	require.Equal(t, uint32(2), st.TxBytes)
	require.Zero(t, st.TCTimeouts)
	require.True(t, st.TCSpinMax >= 1 && st.TCSpinMax <= 5, "spin %d", st.TCSpinMax)
}

func TestHandleInterrupt_TCSpinIsBounded(t *testing.T) {
	bus := &regBus{tcAfter: -1}
	u := New(bus, nil)
	bus.regs[RegSR] = SR_TXE
	require.Equal(t, 1, u.TryWrite([]byte{0x42}))

	u.HandleInterrupt() // byte out
	u.HandleInterrupt() // TC never comes

	require.False(t, u.Busy(), "the driver gives up on TC rather than hang")
	st := u.Stats()
	require.Equal(t, uint32(1), st.TCTimeouts)
	require.Equal(t, uint32(tcSpinLimit), st.TCSpinMax)
}
