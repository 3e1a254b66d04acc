//go:build stm32f4

package main

import (
	"context"
	"crypto/sha1"
	"time"

	"machine"

	"github.com/jangala-dev/tinygo-usart/usart"
)

// Loopback self-test for USART2. Jumper PA2 (TX) to PA3 (RX) before flashing.

var u = usart.USART2

func drain(u *usart.UART) {
	var tmp [64]byte
	for u.TryRead(tmp[:]) > 0 {
	}
}

// sendAllContext queues p in TX-buffer-sized messages, waiting on Writable
// whenever the driver is busy.
func sendAllContext(ctx context.Context, u *usart.UART, p []byte) (int, error) {
	sent := 0
	for sent < len(p) {
		end := sent + u.TxBuffer.Size()
		if end > len(p) {
			end = len(p)
		}
		if n := u.TryWrite(p[sent:end]); n > 0 {
			sent += n
			continue
		}
		select {
		case <-u.Writable():
		case <-ctx.Done():
			return sent, ctx.Err()
		}
	}
	return sent, nil
}

// recvExact reads exactly n bytes (or ctx error) using TryRead+Readable.
func recvExact(ctx context.Context, u *usart.UART, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	var buf [128]byte
	for len(out) < n {
		if k := u.TryRead(buf[:]); k > 0 {
			out = append(out, buf[:k]...)
			continue
		}
		select {
		case <-u.Readable():
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
	return out, nil
}

func ledBlink(times int, on time.Duration) {
	for i := 0; i < times; i++ {
		machine.LED.High()
		time.Sleep(on)
		machine.LED.Low()
		time.Sleep(on)
	}
}

func main() {
	// Give the monitor time to attach.
	time.Sleep(3 * time.Second)

	println("usart self-test starting")

	u.Configure()
	machine.LED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	drain(u)

	pass, fail := 0, 0
	defer func() {
		println("")
		println("Summary")
		println("  passed =", pass)
		println("  failed =", fail)
		st := u.Stats()
		println("  isr =", st.ISRCount, "tx =", st.TxBytes, "rx =", st.RxBytes, "drops =", st.RxDrops, "tc_spin_max =", st.TCSpinMax)
		if fail == 0 {
			ledBlink(3, 120*time.Millisecond)
		} else {
			for {
				ledBlink(1, 600*time.Millisecond)
				time.Sleep(800 * time.Millisecond)
			}
		}
	}()

	run := func(name string, f func() string) {
		println("")
		println("[Test]", name)
		if msg := f(); msg == "" {
			println("  PASS")
			pass++
		} else {
			println("  FAIL:", msg)
			fail++
		}
	}

	run("config: BRR divisor for 115200 @ 16 MHz", func() string {
		if got := u.Bus.Get(usart.RegBRR); got != 0x8B {
			return "BRR = " + itoa(int(got))
		}
		return ""
	})

	run("single byte round trip", func() string {
		drain(u)
		if u.TryWrite([]byte{'X'}) != 1 {
			return "not accepted"
		}
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		got, err := recvExact(ctx, u, 1)
		if err != nil || got[0] != 'X' {
			return "echo failed"
		}
		return ""
	})

	run("full 128-byte message", func() string {
		drain(u)
		msg := make([]byte, 128)
		for i := range msg {
			msg[i] = byte(i * 3)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if _, err := u.WriteContext(ctx, msg); err != nil {
			return "write failed"
		}
		got, err := recvExact(ctx, u, len(msg))
		if err != nil {
			return "timeout"
		}
		if string(got) != string(msg) {
			return "mismatch"
		}
		return ""
	})

	run("busy: second message refused until the first is out", func() string {
		drain(u)
		first := []byte("first message on the wire\r\n")
		if u.TryWrite(first) != len(first) {
			return "first not accepted"
		}
		if u.TryWrite([]byte("second")) != 0 {
			return "second accepted while busy"
		}
		if _, err := u.Write([]byte("second")); err != usart.ErrBusy {
			return "Write did not report ErrBusy"
		}
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := u.Flush(ctx); err != nil {
			return "never went idle"
		}
		got, err := recvExact(ctx, u, len(first))
		if err != nil || string(got) != string(first) {
			return "first message corrupted"
		}
		return ""
	})

	run("oversize and empty writes rejected", func() string {
		if u.TryWrite(make([]byte, 129)) != 0 || u.TryWrite(nil) != 0 {
			return "accepted"
		}
		if _, err := u.Write(make([]byte, 129)); err != usart.ErrTooLarge {
			return "Write did not report ErrTooLarge"
		}
		if u.Busy() {
			return "left busy"
		}
		return ""
	})

	run("timeout: no data within 200ms", func() string {
		drain(u)
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		if err := u.WaitReadable(ctx); err != context.DeadlineExceeded {
			return "unexpected data"
		}
		return ""
	})

	run("overflow: 256 bytes unread keeps the oldest 127", func() string {
		drain(u)
		before := u.Stats().RxDrops
		src := make([]byte, 256)
		for i := range src {
			src[i] = byte(i)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if _, err := sendAllContext(ctx, u, src); err != nil {
			return "send timeout"
		}
		if err := u.Flush(ctx); err != nil {
			return "flush timeout"
		}
		time.Sleep(2 * time.Millisecond) // last stop bit
		if u.Buffered() != 127 {
			return "buffered " + itoa(u.Buffered())
		}
		if drops := u.Stats().RxDrops - before; drops != 129 {
			return "drops " + itoa(int(drops))
		}
		got, _ := recvExact(ctx, u, 127)
		for i, b := range got {
			if b != byte(i) {
				return "newest byte kept instead of oldest"
			}
		}
		return ""
	})

	run("binary: 4 KiB integrity (SHA-1)", func() string {
		drain(u)
		n := 4 * 1024
		src := make([]byte, n)
		var x uint32 = 0x12345678
		for i := range src {
			x = 1664525*x + 1013904223
			src[i] = byte(x >> 24)
		}
		want := sha1.Sum(src)

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		go func() { _, _ = sendAllContext(ctx, u, src) }()
		got, err := recvExact(ctx, u, n)
		if err != nil || len(got) != n {
			return "timeout/short read"
		}
		if sha1.Sum(got) != want {
			return "hash mismatch"
		}
		return ""
	})

	run("throughput: 8 KiB", func() string {
		drain(u)
		n := 8 * 1024
		src := make([]byte, n)
		for i := 0; i < n; i++ {
			src[i] = byte(i * 31)
		}

		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		go func() { _, _ = sendAllContext(ctx, u, src) }()
		if _, err := recvExact(ctx, u, n); err != nil {
			return "timeout"
		}

		ms := int(time.Since(start) / time.Millisecond)
		if ms <= 0 {
			ms = 1
		}
		kbpsX100 := (n*8*100 + ms/2) / ms
		println("  speed =", formatFixed2(kbpsX100), "kbps")
		return ""
	})

	println("")
	println("All tests completed")
}

// --- tiny helpers (no fmt) ---

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + (n % 10))
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func formatFixed2(x int) string {
	frac := x % 100
	s := itoa(x/100) + "."
	if frac < 10 {
		s += "0"
	}
	return s + itoa(frac)
}
