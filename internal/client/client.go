// Package client is a minimal headless consumer of the wire protocol.
// It shows how a renderer is expected to apply the snapshot stream and
// doubles as a test harness for the websocket endpoints.
package client

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pongclash/server/internal/pong"
	"github.com/pongclash/server/internal/protocol"
	"github.com/pongclash/server/internal/reconcile"
)

// Client wraps one websocket connection to a namespace endpoint.
type Client struct {
	ws     *websocket.Conn
	ackSeq atomic.Uint64
}

// Dial connects to a namespace endpoint, e.g. ws://host/ws/lobby.
func Dial(url string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{ws: ws}, nil
}

// Send emits a fire-and-forget event.
func (c *Client) Send(event string, data any) error {
	msg, err := protocol.Marshal(event, data)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

// Request emits an event carrying a fresh ack id and returns the id so
// the caller can match the acknowledgment.
func (c *Client) Request(event string, data any) (uint64, error) {
	ack := c.ackSeq.Add(1)
	raw, err := json.Marshal(data)
	if err != nil {
		return 0, err
	}
	msg, err := json.Marshal(protocol.Envelope{Event: event, Data: raw, Ack: ack})
	if err != nil {
		return 0, err
	}
	return ack, c.ws.WriteMessage(websocket.TextMessage, msg)
}

// Next reads the next envelope from the server.
func (c *Client) Next() (protocol.Envelope, error) {
	var env protocol.Envelope
	_, message, err := c.ws.ReadMessage()
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(message, &env); err != nil {
		return env, err
	}
	return env, nil
}

// NextEvent reads envelopes until one matches the wanted event, with a
// read deadline to bound the wait.
func (c *Client) NextEvent(event string, timeout time.Duration) (protocol.Envelope, error) {
	c.ws.SetReadDeadline(time.Now().Add(timeout))
	defer c.ws.SetReadDeadline(time.Time{})
	for {
		env, err := c.Next()
		if err != nil {
			return env, err
		}
		if env.Event == event {
			return env, nil
		}
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.ws.Close()
}

// PongView is the client-side rendered ball: predicted from the last
// known velocity every frame, corrected against the authoritative
// snapshot stream.
type PongView struct {
	corrector reconcile.Corrector

	// X, Z is the rendered position.
	X, Z float64

	vx, vz       float64
	authX, authZ float64
	pending      bool
}

// NewPongView returns a view with the default correction constants.
func NewPongView() *PongView {
	return &PongView{corrector: reconcile.NewCorrector()}
}

// Observe records an authoritative snapshot.
func (v *PongView) Observe(s pong.Snapshot) {
	v.authX = s.Ball.X
	v.authZ = s.Ball.Z
	v.vx = s.Ball.VX
	v.vz = s.Ball.VZ
	v.pending = true
}

// Frame advances the rendered ball by dt seconds of prediction, then
// applies the pending correction, if any.
func (v *PongView) Frame(dt float64) {
	v.X = reconcile.Predict(v.X, v.vx, dt)
	v.Z = reconcile.Predict(v.Z, v.vz, dt)
	if !v.pending {
		return
	}
	v.X, v.Z = v.corrector.Correct2D(v.X, v.Z, v.authX, v.authZ)
	v.pending = false
}
