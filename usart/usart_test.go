package usart_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jangala-dev/tinygo-usart/sim"
	"github.com/jangala-dev/tinygo-usart/usart"
)

// newTestUART returns a configured driver wired to a fresh peripheral model.
func newTestUART(t *testing.T) (*usart.UART, *sim.Peripheral) {
	t.Helper()
	p := sim.New(nil)
	u := usart.New(p, p)
	p.Attach(u.HandleInterrupt)
	u.Configure()
	return u, p
}

// drain steps the model until the driver is idle and the line is quiet.
func drain(t *testing.T, u *usart.UART, p *sim.Peripheral) {
	t.Helper()
	for i := 0; i < 100000; i++ {
		if !u.Busy() && p.Idle() {
			return
		}
		p.Step()
	}
	t.Fatal("transmission did not drain")
}

func TestWrite_DrainsInOrderForEveryLength(t *testing.T) {
	u, p := newTestUART(t)
	for n := 1; n <= 128; n++ {
		msg := make([]byte, n)
		for i := range msg {
			msg[i] = byte(n*7 + i)
		}
		p.ClearSent()

		require.Equal(t, n, u.TryWrite(msg))
		require.NotZero(t, p.Peek(usart.RegCR1)&usart.CR1_TXEIE)
		drain(t, u, p)

		require.Equal(t, msg, p.Sent(), "length %d", n)
		require.False(t, u.Busy())
		require.Zero(t, p.Peek(usart.RegCR1)&(usart.CR1_TXEIE|usart.CR1_TCIE))
	}
	st := u.Stats()
	require.Equal(t, uint32(128), st.TxMessages)
	require.Equal(t, uint32(128*129/2), st.TxBytes)
	require.Zero(t, st.TCTimeouts)
}

func TestWrite_RejectedWhileBusy(t *testing.T) {
	u, p := newTestUART(t)
	require.Equal(t, 5, u.TryWrite([]byte("first")))
	p.Step()
	p.Step()

	require.Zero(t, u.TryWrite([]byte("second")))
	n, err := u.Write([]byte("second"))
	require.Zero(t, n)
	require.Equal(t, usart.ErrBusy, err)

	drain(t, u, p)
	require.Equal(t, []byte("first"), p.Sent())
	require.Equal(t, uint32(2), u.Stats().TxRejects)
}

func TestWrite_InvalidArguments(t *testing.T) {
	u, p := newTestUART(t)
	require.Zero(t, u.TryWrite(nil))
	require.Zero(t, u.TryWrite([]byte{}))
	require.Zero(t, u.TryWrite(make([]byte, 129)))
	require.False(t, u.Busy())
	require.Zero(t, p.Peek(usart.RegCR1)&usart.CR1_TXEIE)

	_, err := u.Write(make([]byte, 129))
	require.Equal(t, usart.ErrTooLarge, err)
	n, err := u.Write(nil)
	require.Zero(t, n)
	require.NoError(t, err)
}

func TestEcho_EndToEnd(t *testing.T) {
	u, p := newTestUART(t)

	require.True(t, p.Inject(0x41))
	require.True(t, p.Step(), "RXNE raises the interrupt")

	b, ok := u.TryReadByte()
	require.True(t, ok)
	require.Equal(t, byte(0x41), b)
	_, ok = u.TryReadByte()
	require.False(t, ok)

	require.Equal(t, 1, u.TryWrite([]byte{0x42}))
	require.NotZero(t, p.Peek(usart.RegCR1)&usart.CR1_TXEIE)
	require.NotZero(t, p.Peek(usart.RegCR1)&usart.CR1_TCIE)
	drain(t, u, p)

	require.Equal(t, []byte{0x42}, p.Sent())
	require.False(t, u.Busy())
}

func TestReceive_OverflowDropsNewest(t *testing.T) {
	u, p := newTestUART(t)
	for i := 0; i < 130; i++ {
		require.True(t, p.Inject(byte(i)))
		require.True(t, p.Step())
	}
	require.Zero(t, p.Overruns(), "handler keeps up with the line")
	require.Equal(t, 127, u.Buffered())

	st := u.Stats()
	require.Equal(t, uint32(127), st.RxBytes)
	require.Equal(t, uint32(3), st.RxDrops)
	require.Equal(t, uint32(127), st.RxMaxUsed)

	buf := make([]byte, 200)
	n, err := u.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 127, n)
	for i := 0; i < n; i++ {
		require.Equal(t, byte(i), buf[i])
	}
	_, err = u.ReadByte()
	require.Equal(t, usart.ErrBufferEmpty, err)
}

func TestFullDuplex(t *testing.T) {
	u, p := newTestUART(t)
	msg := []byte("The quick brown fox jumps over the lazy dog.")
	require.Equal(t, len(msg), u.TryWrite(msg))

	// One received byte every frame time while the message goes out.
	for i := 0; i < 10*len(msg) || u.Busy() || !p.Idle(); i++ {
		if i%10 == 0 && i/10 < len(msg) {
			require.True(t, p.Inject(msg[i/10]))
		}
		p.Step()
		if i > 100000 {
			t.Fatal("line never went idle")
		}
	}

	require.Equal(t, msg, p.Sent())
	got := make([]byte, len(msg))
	require.Equal(t, len(msg), u.TryRead(got))
	require.Equal(t, msg, got)
	require.Zero(t, p.Overruns())
}

func TestResetStats(t *testing.T) {
	u, p := newTestUART(t)
	p.Inject('x')
	p.Step()
	require.NotZero(t, u.Stats().ISRCount)
	u.ResetStats()
	require.Equal(t, usart.Stats{}, u.Stats())
}

func TestBlocking_WriteContextWaitsForIdle(t *testing.T) {
	u, p := newTestUART(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go p.Run(ctx, 20*time.Microsecond)

	for _, m := range []string{"one ", "two ", "three"} {
		n, err := u.WriteContext(ctx, []byte(m))
		require.NoError(t, err)
		require.Equal(t, len(m), n)
	}
	require.NoError(t, u.Flush(ctx))
	require.False(t, u.Busy())
	require.Equal(t, "one two three", string(p.Sent()))
	require.Zero(t, u.Stats().TxRejects)
}

func TestBlocking_ReadByteContext(t *testing.T) {
	u, p := newTestUART(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go p.Run(ctx, 20*time.Microsecond)

	done := make(chan struct{})
	var got byte
	var err error
	go func() {
		defer close(done)
		got, err = u.ReadByteContext(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	p.Inject('Z')

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for ReadByteContext")
	}
	require.NoError(t, err)
	require.Equal(t, byte('Z'), got)
}

func TestBlocking_TimeoutAndClose(t *testing.T) {
	u, _ := newTestUART(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := u.ReadContext(ctx, make([]byte, 4))
	require.Equal(t, context.DeadlineExceeded, err)

	done := make(chan error, 1)
	go func() { done <- u.WaitReadable(context.Background()) }()
	require.NoError(t, u.Close())
	require.NoError(t, u.Close())

	select {
	case err := <-done:
		require.Equal(t, usart.ErrClosed, err)
	case <-time.After(time.Second):
		t.Fatal("WaitReadable did not return after Close")
	}
}

func TestBlocking_WriteContextRejectsOversize(t *testing.T) {
	u, _ := newTestUART(t)
	_, err := u.WriteContext(context.Background(), make([]byte, 200))
	require.Equal(t, usart.ErrTooLarge, err)
}
