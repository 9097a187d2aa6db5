package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ms-restaurant/internal/events"
)

// Transport is one open connection to the router.
type Transport interface {
	Send(ctx context.Context, msgType string, data any) error
	// Receive blocks until the next frame or until the transport fails.
	Receive() (events.Envelope, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// Clock schedules the backoff and auth timers.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// WSDialer opens gorilla websocket transports.
type WSDialer struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
}

func (d WSDialer) Dial(ctx context.Context) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func (t *wsTransport) Send(ctx context.Context, msgType string, data any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	t.conn.SetWriteDeadline(deadline)
	return t.conn.WriteJSON(outbound{Type: msgType, Data: data})
}

// Receive skips frames that are not envelopes.
func (t *wsTransport) Receive() (events.Envelope, error) {
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			return events.Envelope{}, err
		}
		var env events.Envelope
		if err := json.Unmarshal(raw, &env); err == nil && env.Event != "" {
			return env, nil
		}
	}
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
