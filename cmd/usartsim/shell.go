package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/jangala-dev/tinygo-usart/sim"
	"github.com/jangala-dev/tinygo-usart/usart"
)

// session is what the shell commands operate on.
type session struct {
	ctx context.Context
	u   *usart.UART
	p   *sim.Peripheral
}

const sessionKey = "$session"

func sessionFrom(c *ishell.Context) *session {
	return c.Get(sessionKey).(*session)
}

var (
	sendCmd = ishell.Cmd{
		Name: "send",
		Help: "TEXT - queue one message; refused while a message is in flight",
		Func: func(c *ishell.Context) {
			sendBytes(c, []byte(strings.Join(c.Args, " ")))
		},
	}

	sendHexCmd = ishell.Cmd{
		Name:    "sendhex",
		Aliases: []string{"sx"},
		Help:    "HEX... - queue one message given as hex bytes",
		Func: func(c *ishell.Context) {
			msg, err := hex.DecodeString(strings.Join(c.Args, ""))
			if err != nil {
				c.Err(err)
				return
			}
			sendBytes(c, msg)
		},
	}

	injectCmd = ishell.Cmd{
		Name: "inject",
		Help: "TEXT - deliver bytes to the receiver as if they arrived on the line",
		Func: func(c *ishell.Context) {
			s := sessionFrom(c)
			data := []byte(strings.Join(c.Args, " "))
			if err := injectLine(s.ctx, s.p, data, frameTime(tick)); err != nil {
				c.Err(err)
				return
			}
			c.Printf("injected %d bytes\n", len(data))
		},
	}

	recvCmd = ishell.Cmd{
		Name: "recv",
		Help: "drain the receive buffer",
		Func: func(c *ishell.Context) {
			buf := make([]byte, 128)
			n := sessionFrom(c).u.TryRead(buf)
			if n == 0 {
				c.Println("(empty)")
				return
			}
			c.Printf("%d bytes %q\n%s", n, buf[:n], hex.Dump(buf[:n]))
		},
	}

	lineCmd = ishell.Cmd{
		Name: "line",
		Help: "show and clear what has gone out on the line",
		Func: func(c *ishell.Context) {
			s := sessionFrom(c)
			sent := s.p.Sent()
			s.p.ClearSent()
			c.Printf("%d bytes %q\n", len(sent), sent)
		},
	}

	statusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"st"},
		Help:    "driver and register state",
		Func: func(c *ishell.Context) {
			c.Println(formatStatus(sessionFrom(c)))
		},
	}

	statsCmd = ishell.Cmd{
		Name: "stats",
		Help: "driver counters",
		Func: func(c *ishell.Context) {
			c.Println(formatStats(sessionFrom(c).u.Stats()))
		},
	}

	resetStatsCmd = ishell.Cmd{
		Name: "reset-stats",
		Help: "zero the driver counters",
		Func: func(c *ishell.Context) {
			sessionFrom(c).u.ResetStats()
		},
	}

	commands = []*ishell.Cmd{
		&sendCmd,
		&sendHexCmd,
		&injectCmd,
		&recvCmd,
		&lineCmd,
		&statusCmd,
		&statsCmd,
		&resetStatsCmd,
	}
)

func newShell(s *session) *ishell.Shell {
	sh := ishell.New()
	sh.Set(sessionKey, s)
	sh.SetPrompt("usart2> ")
	for _, cmd := range commands {
		sh.AddCmd(cmd)
	}
	return sh
}

func runShell(ctx context.Context, u *usart.UART, p *sim.Peripheral) error {
	sh := newShell(&session{ctx: ctx, u: u, p: p})
	if args := flag.Args(); len(args) > 0 {
		return sh.Process(args...)
	}
	sh.Println("USART2 simulator. Type help for commands.")
	sh.Run()
	return nil
}

func sendBytes(c *ishell.Context, msg []byte) {
	n, err := sessionFrom(c).u.Write(msg)
	if err != nil {
		c.Err(err)
		return
	}
	c.Printf("queued %d bytes\n", n)
}

func formatStatus(s *session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tx busy=%v buffered=%d/%d line idle=%v overruns=%d\n",
		s.u.Busy(), s.u.Buffered(), s.u.Buffer.Size(), s.p.Idle(), s.p.Overruns())
	for _, r := range []usart.Reg{usart.RegSR, usart.RegCR1, usart.RegCR2, usart.RegCR3, usart.RegBRR} {
		fmt.Fprintf(&b, "  %-4s 0x%08x\n", r, s.p.Peek(r))
	}
	return strings.TrimSuffix(b.String(), "\n")
}
