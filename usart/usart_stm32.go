//go:build stm32f4

package usart

import (
	"device/stm32"
	"runtime/interrupt"
	"runtime/volatile"
)

// stm32Bus maps Reg onto the USART2, RCC and GPIOA register blocks.
type stm32Bus struct{}

func (stm32Bus) reg(r Reg) *volatile.Register32 {
	switch r {
	case RegSR:
		return &stm32.USART2.SR
	case RegDR:
		return &stm32.USART2.DR
	case RegBRR:
		return &stm32.USART2.BRR
	case RegCR1:
		return &stm32.USART2.CR1
	case RegCR2:
		return &stm32.USART2.CR2
	case RegCR3:
		return &stm32.USART2.CR3
	case RegAHB1ENR:
		return &stm32.RCC.AHB1ENR
	case RegAPB1ENR:
		return &stm32.RCC.APB1ENR
	case RegMODER:
		return &stm32.GPIOA.MODER
	case RegAFRL:
		return &stm32.GPIOA.AFRL
	case RegPUPDR:
		return &stm32.GPIOA.PUPDR
	}
	return nil
}

func (b stm32Bus) Get(r Reg) uint32             { return b.reg(r).Get() }
func (b stm32Bus) Set(r Reg, v uint32)          { b.reg(r).Set(v) }
func (b stm32Bus) SetBits(r Reg, m uint32)      { b.reg(r).SetBits(m) }
func (b stm32Bus) ClearBits(r Reg, m uint32)    { b.reg(r).ClearBits(m) }
func (b stm32Bus) HasBits(r Reg, m uint32) bool { return b.reg(r).HasBits(m) }

// USART2 on PA2 (TX) / PA3 (RX).
var (
	USART2  = &_USART2
	_USART2 = UART{
		Bus: stm32Bus{},
		// RX
		Buffer: NewRingBuffer(),
		notify: make(chan struct{}, 1),
		// TX
		TxBuffer: NewTxBuffer(),
		txNotify: make(chan struct{}, 1),

		closed: make(chan struct{}),
	}
)

func init() {
	irq := interrupt.New(stm32.IRQ_USART2, _USART2.handleInterrupt)
	irq.SetPriority(0xc0)
	USART2.Interrupt = irq
}

func (u *UART) handleInterrupt(interrupt.Interrupt) {
	u.HandleInterrupt()
}
