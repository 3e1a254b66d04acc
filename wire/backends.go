package wire

import (
	"fmt"
	"io"

	tty "github.com/mattn/go-tty"
	"github.com/tarm/serial"
	"golang.org/x/net/websocket"
)

// ---------------- terminal ----------------

type ttyLine struct {
	t       *tty.TTY
	restore func() error
}

func openTTY(path string) (io.ReadWriteCloser, error) {
	var (
		t   *tty.TTY
		err error
	)
	if path == "" {
		t, err = tty.Open()
	} else {
		t, err = tty.OpenDevice(path)
	}
	if err != nil {
		return nil, fmt.Errorf("wire tty %q: %w", path, err)
	}
	return &ttyLine{t: t, restore: t.MustRaw()}, nil
}

func (l *ttyLine) Read(p []byte) (int, error)  { return l.t.Input().Read(p) }
func (l *ttyLine) Write(p []byte) (int, error) { return l.t.Output().Write(p) }

func (l *ttyLine) Close() error {
	if err := l.restore(); err != nil {
		l.t.Close()
		return err
	}
	return l.t.Close()
}

// ---------------- serial port ----------------

func openSerial(dev string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.OpenPort(&serial.Config{Name: dev, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("wire serial %s@%d: %w", dev, baud, err)
	}
	return port, nil
}

// ---------------- websocket ----------------

func openWebSocket(rawURL string) (io.ReadWriteCloser, error) {
	conn, err := websocket.Dial(rawURL, "", "http://localhost/")
	if err != nil {
		return nil, fmt.Errorf("wire websocket %s: %w", rawURL, err)
	}
	conn.PayloadType = websocket.BinaryFrame
	return conn, nil
}
