// Command usartsim runs the usart driver against the in-memory peripheral
// model with the far end of the line attached to a wire (stdio, a terminal,
// a serial port, MQTT or a WebSocket).
//
//	usartsim -wire serial:/dev/ttyUSB0@115200            # echo +1
//	usartsim -mode shell -wire mqtt://localhost:1883/bench
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/jangala-dev/tinygo-usart/sim"
	"github.com/jangala-dev/tinygo-usart/usart"
	"github.com/jangala-dev/tinygo-usart/wire"
)

var (
	wireAddr   = "stdio"
	mode       = "echo"
	tick       = 20 * time.Microsecond
	statsEvery time.Duration
)

func init() {
	if val := os.Getenv("USARTSIM_WIRE"); val != "" {
		wireAddr = val
	}
	flag.StringVar(&wireAddr, "wire", wireAddr, "Far end of the line: stdio, tty[:dev], serial:dev[@baud], mqtt://host/prefix, ws://host/path.")
	flag.StringVar(&mode, "mode", mode, "echo (reply with byte+1) or shell.")
	flag.DurationVar(&tick, "tick", tick, "Bit time of the simulated line.")
	flag.DurationVar(&statsEvery, "stats", statsEvery, "Log driver counters at this interval, 0 disables.")
}

func main() {
	flag.Parse()
	defer glog.Flush()

	if mode != "echo" && mode != "shell" {
		glog.Exitf("unknown mode %q", mode)
	}
	ep, err := wire.Parse(wireAddr)
	if err != nil {
		glog.Exit(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// stdin belongs to the shell in shell mode; the line is then only
	// observable through the "line" command.
	useWire := mode == "echo" || ep.Kind != wire.Stdio

	out := newChanWriter(1024)
	var lineOut io.Writer
	if useWire {
		lineOut = out
	}
	p := sim.New(lineOut)
	u := usart.New(p, p)
	p.Attach(u.HandleInterrupt)
	u.Configure()
	go p.Run(ctx, tick)

	var wg sync.WaitGroup
	if useWire {
		line, err := wire.Dial(ep)
		if err != nil {
			glog.Exit(err)
		}
		defer line.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			out.pump(ctx, line)
		}()
		go func() {
			err := feed(ctx, line, p, frameTime(tick))
			if err != nil && !errors.Is(err, context.Canceled) {
				glog.Errorf("wire: %v", err)
			}
			if mode == "echo" {
				settle(ctx, u, frameTime(tick))
				cancel()
			}
		}()
	}
	if statsEvery > 0 {
		go reportStats(ctx, u, statsEvery)
	}

	switch mode {
	case "echo":
		err = echo(ctx, u)
	case "shell":
		err = runShell(ctx, u, p)
		cancel()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		glog.Errorf("%s: %v", mode, err)
	}
	u.Close()
	wg.Wait()
	glog.Infof("final %s, line overruns=%d, wire drops=%d", formatStats(u.Stats()), p.Overruns(), out.Dropped())
}

// echo is the classic demo loop: every received byte is answered with the
// byte plus one, retrying until the TX buffer takes it.
func echo(ctx context.Context, u *usart.UART) error {
	for {
		b, err := u.ReadByteContext(ctx)
		if err != nil {
			return err
		}
		if _, err := u.WriteContext(ctx, []byte{b + 1}); err != nil {
			return err
		}
		if glog.V(2) {
			glog.Infof("echo %#02x -> %#02x", b, b+1)
		}
	}
}

// frameTime is the duration of one 8N1 frame.
func frameTime(bit time.Duration) time.Duration { return 10 * bit }

// feed delivers wire bytes to the receiver until the wire reaches EOF.
func feed(ctx context.Context, r io.Reader, p *sim.Peripheral, frame time.Duration) error {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if err := injectLine(ctx, p, buf[:n], frame); err != nil {
				return err
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// injectLine paces data into the receiver one frame apart, waiting out any
// unread byte so the model never overruns.
func injectLine(ctx context.Context, p *sim.Peripheral, data []byte, frame time.Duration) error {
	for _, b := range data {
		for p.Peek(usart.RegSR)&usart.SR_RXNE != 0 {
			if err := sleep(ctx, frame); err != nil {
				return err
			}
		}
		if !p.Inject(b) {
			return fmt.Errorf("receiver disabled")
		}
		if err := sleep(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

// settle waits for the echo loop to answer what is buffered and for the
// line to drain.
func settle(ctx context.Context, u *usart.UART, frame time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, time.Second+2*frame*time.Duration(u.Buffer.Size()))
	defer cancel()
	for u.Buffered() > 0 {
		if sleep(ctx, frame) != nil {
			return
		}
	}
	sleep(ctx, 2*frame)
	u.Flush(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func reportStats(ctx context.Context, u *usart.UART, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			glog.Info(formatStats(u.Stats()))
		case <-ctx.Done():
			return
		}
	}
}

func formatStats(st usart.Stats) string {
	return fmt.Sprintf("isr=%d tx=%dB/%dmsg rejects=%d tc_spin_max=%d tc_timeouts=%d rx=%dB drops=%d rx_max=%d",
		st.ISRCount, st.TxBytes, st.TxMessages, st.TxRejects, st.TCSpinMax, st.TCTimeouts,
		st.RxBytes, st.RxDrops, st.RxMaxUsed)
}

// chanWriter decouples the peripheral model, which writes frames with its
// lock held, from a wire that may block.
type chanWriter struct {
	ch      chan byte
	dropped atomic.Uint64
}

func newChanWriter(depth int) *chanWriter {
	return &chanWriter{ch: make(chan byte, depth)}
}

func (w *chanWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		select {
		case w.ch <- b:
		default:
			w.dropped.Add(1)
		}
	}
	return len(p), nil
}

func (w *chanWriter) Dropped() uint64 { return w.dropped.Load() }

// pump copies queued bytes to dst until ctx is done, then flushes what is
// left.
func (w *chanWriter) pump(ctx context.Context, dst io.Writer) {
	buf := make([]byte, 0, cap(w.ch))
	for {
		select {
		case b := <-w.ch:
			buf = w.collect(append(buf[:0], b))
			if _, err := dst.Write(buf); err != nil {
				glog.Errorf("wire write: %v", err)
			}
		case <-ctx.Done():
			if buf = w.collect(buf[:0]); len(buf) > 0 {
				dst.Write(buf)
			}
			return
		}
	}
}

func (w *chanWriter) collect(buf []byte) []byte {
	for {
		select {
		case b := <-w.ch:
			buf = append(buf, b)
		default:
			return buf
		}
	}
}
