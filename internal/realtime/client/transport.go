package client

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of a websocket connection the client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a connection. On a rejected handshake it returns the HTTP
// response alongside the error.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, *http.Response, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, *http.Response, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}

// Timer is a pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules reconnect attempts.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock returns a Clock backed by time.AfterFunc.
func RealClock() Clock { return realClock{} }
