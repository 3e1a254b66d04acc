// Package wire opens the far end of the simulated serial line: whatever the
// driver transmits is written to the wire, and whatever the wire produces is
// delivered to the receiver.
//
// Endpoints are written as:
//
//	stdio                      process stdin/stdout (default)
//	tty[:/dev/pts/N]           a terminal in raw mode
//	serial:/dev/ttyUSB0[@baud] a real serial port
//	mqtt://host:1883/prefix    publish on prefix/tx, subscribe to prefix/rx
//	ws://host/path             binary WebSocket frames
package wire

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"
)

// Kind selects a backend.
type Kind int

const (
	Stdio Kind = iota
	TTY
	Serial
	MQTT
	WebSocket
)

var kindNames = map[Kind]string{
	Stdio:     "stdio",
	TTY:       "tty",
	Serial:    "serial",
	MQTT:      "mqtt",
	WebSocket: "websocket",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// DefaultBaud is used for serial endpoints without an explicit rate.
const DefaultBaud = 115200

// Endpoint is a parsed -wire value.
type Endpoint struct {
	Kind Kind
	Addr string // device path or URL; empty for stdio and the default tty
	Baud int    // serial only
}

func (e Endpoint) String() string {
	switch {
	case e.Kind == Serial:
		return fmt.Sprintf("serial:%s@%d", e.Addr, e.Baud)
	case e.Addr == "":
		return e.Kind.String()
	}
	return e.Kind.String() + ":" + e.Addr
}

// Parse decodes a -wire value.
func Parse(s string) (Endpoint, error) {
	switch {
	case s == "" || s == "stdio" || s == "-":
		return Endpoint{Kind: Stdio}, nil
	case s == "tty":
		return Endpoint{Kind: TTY}, nil
	case strings.HasPrefix(s, "tty:"):
		return Endpoint{Kind: TTY, Addr: strings.TrimPrefix(s, "tty:")}, nil
	case strings.HasPrefix(s, "serial:"):
		return parseSerial(strings.TrimPrefix(s, "serial:"))
	}

	u, err := url.Parse(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("wire %q: %w", s, err)
	}
	switch u.Scheme {
	case "mqtt", "mqtts", "tcp", "ssl":
		if u.Host == "" {
			return Endpoint{}, fmt.Errorf("wire %q: missing broker host", s)
		}
		return Endpoint{Kind: MQTT, Addr: s}, nil
	case "ws", "wss":
		return Endpoint{Kind: WebSocket, Addr: s}, nil
	}
	return Endpoint{}, fmt.Errorf("wire %q: unknown endpoint", s)
}

func parseSerial(s string) (Endpoint, error) {
	ep := Endpoint{Kind: Serial, Addr: s, Baud: DefaultBaud}
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		baud, err := strconv.Atoi(s[i+1:])
		if err != nil || baud <= 0 {
			return Endpoint{}, fmt.Errorf("wire serial %q: bad baud rate", s)
		}
		ep.Addr, ep.Baud = s[:i], baud
	}
	if ep.Addr == "" {
		return Endpoint{}, fmt.Errorf("wire serial: missing device")
	}
	return ep, nil
}

// Open parses s and connects the backend.
func Open(s string) (io.ReadWriteCloser, error) {
	ep, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return Dial(ep)
}

// Dial connects a parsed endpoint.
func Dial(ep Endpoint) (io.ReadWriteCloser, error) {
	glog.Infof("wire: opening %s", ep)
	switch ep.Kind {
	case Stdio:
		return stdio{os.Stdin, os.Stdout}, nil
	case TTY:
		return openTTY(ep.Addr)
	case Serial:
		return openSerial(ep.Addr, ep.Baud)
	case MQTT:
		return openMQTT(ep.Addr)
	case WebSocket:
		return openWebSocket(ep.Addr)
	}
	return nil, fmt.Errorf("wire: unsupported kind %v", ep.Kind)
}

type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error { return nil }
