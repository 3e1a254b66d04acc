package wire

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/denisbrodbeck/machineid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

const defaultTopicPrefix = "usart"

// mqttLine carries line bytes as MQTT payloads. Bytes written go out on
// <prefix>/tx; payloads arriving on <prefix>/rx are read back in order.
type mqttLine struct {
	client  paho.Client
	txTopic string
	rxTopic string

	rx      chan []byte
	pending []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// mqttOptions builds client options from an mqtt:// URL. The URL path is the
// topic prefix; ?client-id= overrides the machine-derived client ID.
func mqttOptions(rawURL string) (*paho.ClientOptions, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", err
	}
	var scheme string
	switch u.Scheme {
	case "", "mqtt", "tcp":
		scheme = "tcp"
	case "mqtts", "ssl":
		scheme = "ssl"
	default:
		return nil, "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	prefix := strings.Trim(u.Path, "/")
	if prefix == "" {
		prefix = defaultTopicPrefix
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(scheme + "://" + u.Host).
		SetAutoReconnect(true).
		SetCleanSession(true)
	if u.User != nil {
		opts.SetUsername(u.User.Username())
		if pwd, ok := u.User.Password(); ok {
			opts.SetPassword(pwd)
		}
	}
	clientID := u.Query().Get("client-id")
	if clientID == "" {
		clientID = defaultClientID()
	}
	opts.SetClientID(clientID)
	return opts, prefix, nil
}

func defaultClientID() string {
	id, err := machineid.ID()
	if err != nil {
		glog.Warningf("wire mqtt: machine id: %v", err)
		return "usartsim"
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return "usartsim-" + id
}

func openMQTT(rawURL string) (io.ReadWriteCloser, error) {
	opts, prefix, err := mqttOptions(rawURL)
	if err != nil {
		return nil, fmt.Errorf("wire mqtt %s: %w", rawURL, err)
	}
	l := &mqttLine{
		txTopic: prefix + "/tx",
		rxTopic: prefix + "/rx",
		rx:      make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
	opts.SetOnConnectHandler(l.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		glog.Warningf("wire mqtt: connection lost: %v", err)
	})
	l.client = paho.NewClient(opts)

	if tok := l.client.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, fmt.Errorf("wire mqtt %s: %w", rawURL, tok.Error())
	}
	return l, nil
}

// onConnect subscribes on every (re)connect since the session is clean.
func (l *mqttLine) onConnect(c paho.Client) {
	if glog.V(2) {
		glog.Infof("SUB %q", l.rxTopic)
	}
	tok := c.Subscribe(l.rxTopic, 0, l.deliver)
	go func() {
		if tok.Wait() && tok.Error() != nil {
			glog.Errorf("wire mqtt: subscribe %s: %v", l.rxTopic, tok.Error())
		}
	}()
}

func (l *mqttLine) deliver(_ paho.Client, m paho.Message) {
	p := append([]byte(nil), m.Payload()...)
	if len(p) == 0 {
		return
	}
	select {
	case l.rx <- p:
	case <-l.closed:
	}
}

func (l *mqttLine) Read(p []byte) (int, error) {
	if len(l.pending) == 0 {
		select {
		case b := <-l.rx:
			l.pending = b
		case <-l.closed:
			return 0, io.EOF
		}
	}
	n := copy(p, l.pending)
	l.pending = l.pending[n:]
	return n, nil
}

func (l *mqttLine) Write(p []byte) (int, error) {
	select {
	case <-l.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	tok := l.client.Publish(l.txTopic, 0, false, p)
	if tok.Wait() && tok.Error() != nil {
		return 0, tok.Error()
	}
	return len(p), nil
}

func (l *mqttLine) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.client.Disconnect(250)
	})
	return nil
}
