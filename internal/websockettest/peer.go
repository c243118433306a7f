// Package websockettest provides websocket clients that misbehave in controlled ways.
package websockettest

import (
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// SilentPeer is a client that reads everything the server sends but never answers pings, the
// way a frozen browser tab behaves.
type SilentPeer struct {
	Conn     *websocket.Conn
	messages atomic.Uint64
	closed   chan struct{}
	err      error
}

// DialSilent connects and starts draining messages without pong replies.
func DialSilent(urlStr string, header http.Header) (*SilentPeer, *http.Response, error) {
	conn, resp, err := websocket.DefaultDialer.Dial(urlStr, header)
	if err != nil {
		return nil, resp, err
	}
	peer := &SilentPeer{Conn: conn, closed: make(chan struct{})}
	conn.SetPingHandler(func(string) error { return nil })
	go peer.drain()
	return peer, resp, nil
}

func (p *SilentPeer) drain() {
	defer close(p.closed)
	for {
		if _, _, err := p.Conn.ReadMessage(); err != nil {
			p.err = err
			return
		}
		p.messages.Add(1)
	}
}

// Closed is closed once the server drops the connection.
func (p *SilentPeer) Closed() <-chan struct{} { return p.closed }

// Err reports why the connection ended. Only valid after Closed fires.
func (p *SilentPeer) Err() error { return p.err }

// Messages counts data frames received so far.
func (p *SilentPeer) Messages() uint64 { return p.messages.Load() }

// Close drops the client side of the connection.
func (p *SilentPeer) Close() error { return p.Conn.Close() }
