package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	// ErrClosed is returned by Send after the transport has been closed.
	ErrClosed = errors.New("transport closed")
	// ErrSendQueueFull is returned by Send when the outbound queue is full,
	// meaning the peer is not draining frames fast enough.
	ErrSendQueueFull = errors.New("send queue full")
)

// Transport is one bidirectional frame channel to a client.
//
// Read blocks until the next inbound frame and must return an error once the
// transport is closed. Send never blocks. Close is idempotent and safe to
// call from any goroutine.
type Transport interface {
	Read() ([]byte, error)
	Send(payload []byte) error
	Close(code int, reason string) error
}

// TransportConfig tunes a websocket transport.
type TransportConfig struct {
	WriteWait       time.Duration
	PongWait        time.Duration
	SendBuffer      int
	MaxMessageBytes int64
}

func (c TransportConfig) withDefaults() TransportConfig {
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	return c
}

// wsTransport adapts a gorilla connection. All data frames and pings are
// written by one writer goroutine; close frames go through WriteControl,
// which gorilla allows concurrently with the writer.
type wsTransport struct {
	conn *websocket.Conn
	cfg  TransportConfig
	log  zerolog.Logger

	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewWSTransport wraps conn and starts its writer goroutine.
func NewWSTransport(conn *websocket.Conn, cfg TransportConfig, log zerolog.Logger) Transport {
	cfg = cfg.withDefaults()
	t := &wsTransport{
		conn: conn,
		cfg:  cfg,
		log:  log,
		send: make(chan []byte, cfg.SendBuffer),
		done: make(chan struct{}),
	}

	conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	go t.writeLoop()
	return t
}

func (t *wsTransport) Read() ([]byte, error) {
	for {
		typ, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) Send(payload []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	select {
	case t.send <- payload:
		return nil
	case <-t.done:
		return ErrClosed
	default:
		return ErrSendQueueFull
	}
}

func (t *wsTransport) Close(code int, reason string) error {
	var err error
	t.once.Do(func() {
		close(t.done)
		msg := websocket.FormatCloseMessage(code, reason)
		if werr := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.cfg.WriteWait)); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			t.log.Debug().Err(werr).Int("code", code).Msg("ws close frame not delivered")
		}
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) writeLoop() {
	ping := time.NewTicker(t.cfg.PongWait * 9 / 10)
	defer ping.Stop()

	for {
		select {
		case <-t.done:
			return
		case msg := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				t.log.Debug().Err(err).Msg("ws write failed")
				t.abort()
				return
			}
		case <-ping.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.log.Debug().Err(err).Msg("ws ping failed")
				t.abort()
				return
			}
		}
	}
}

// abort tears the connection down without a close handshake; the reader
// then fails and the owning handler runs its disconnect path.
func (t *wsTransport) abort() {
	t.once.Do(func() {
		close(t.done)
		_ = t.conn.Close()
	})
}
