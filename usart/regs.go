package usart

// Reg names one register of the USART block or of its clock and pin-mux
// prerequisites. The set covers exactly what the driver touches.
type Reg uint8

const (
	RegSR Reg = iota // status
	RegDR            // data (byte wide in practice)
	RegBRR           // baud-rate divisor
	RegCR1
	RegCR2
	RegCR3
	RegAHB1ENR // RCC: GPIO clocks
	RegAPB1ENR // RCC: USART2 clock
	RegMODER   // GPIOA pin mode
	RegAFRL    // GPIOA alternate function, pins 0..7
	RegPUPDR   // GPIOA pull-up/pull-down

	NumRegs
)

var regNames = [NumRegs]string{
	"SR", "DR", "BRR", "CR1", "CR2", "CR3",
	"AHB1ENR", "APB1ENR", "MODER", "AFRL", "PUPDR",
}

func (r Reg) String() string {
	if r < NumRegs {
		return regNames[r]
	}
	return "Reg(?)"
}

// Bus is the register capability the driver is written against. The method
// set matches volatile.Register32 so a target binding is a thin switch, and
// tests can substitute an in-memory model.
type Bus interface {
	Get(r Reg) uint32
	Set(r Reg, value uint32)
	SetBits(r Reg, mask uint32)
	ClearBits(r Reg, mask uint32)
	HasBits(r Reg, mask uint32) bool
}

// Interrupt is the interrupt-controller line of the peripheral.
// runtime/interrupt.Interrupt satisfies it.
type Interrupt interface {
	Enable()
}

// Status register.
const (
	SR_PE   = 1 << 0
	SR_FE   = 1 << 1
	SR_NF   = 1 << 2
	SR_ORE  = 1 << 3
	SR_RXNE = 1 << 5
	SR_TC   = 1 << 6
	SR_TXE  = 1 << 7
)

// Control register 1.
const (
	CR1_RE     = 1 << 2
	CR1_TE     = 1 << 3
	CR1_RXNEIE = 1 << 5
	CR1_TCIE   = 1 << 6
	CR1_TXEIE  = 1 << 7
	CR1_PCE    = 1 << 10
	CR1_M      = 1 << 12
	CR1_UE     = 1 << 13
	CR1_OVER8  = 1 << 15
)

// Control registers 2 and 3.
const (
	CR2_STOP_Pos = 12
	CR2_STOP_Msk = 0x3 << CR2_STOP_Pos
	CR3_ONEBIT   = 1 << 11
)

// Clock enables.
const (
	AHB1ENR_GPIOAEN  = 1 << 0
	APB1ENR_USART2EN = 1 << 17
)

// Pin-mux fields for PA2 (TX) and PA3 (RX).
const (
	TxPin = 2
	RxPin = 3

	moderAltFunc = 0x2 // MODER: 10 = alternate function
	pupdPullUp   = 0x1 // PUPDR: 01 = pull-up
	afUSART2     = 0x7 // AF7 = USART1..3
)
