package transport

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/tanishqkancharla/sync-kv/internal/logging"
	"github.com/tanishqkancharla/sync-kv/synckv"
)

// WSConn is the client.ServerConn implementation talking to a
// transport.Handler over a websocket. Each WSConn owns exactly one
// connection for exactly one client.Client.
type WSConn struct {
	conn   *websocket.Conn
	logger logging.Logger

	writeMu sync.Mutex

	mu            sync.Mutex
	pullWaiters   []chan synckv.PullResult
	onPoke        func()
}

// Dial connects to serverURL (e.g. "ws://host:8081/ws") with clientID
// appended as a query parameter, retrying with exponential backoff
// until the connection succeeds or the backoff gives up.
func Dial(serverURL string, clientID synckv.ClientID, logger logging.Logger) (*WSConn, error) {
	if logger == nil {
		logger = logging.Nop{}
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("transport: bad server url: %w", err)
	}
	q := u.Query()
	q.Set("clientId", clientID)
	u.RawQuery = q.Encode()

	var conn *websocket.Conn
	dial := func() error {
		c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(dial, backoff.NewExponentialBackOff()); err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", serverURL, err)
	}

	wc := &WSConn{
		conn:   conn,
		logger: logger.Subspace("ws-client"),
		onPoke: func() {},
	}
	go wc.readLoop()
	return wc, nil
}

// SetPokeHandler installs fn to be called whenever a poke frame
// arrives. cmd/client wires this to the Client's own Poke method.
func (c *WSConn) SetPokeHandler(fn func()) {
	c.mu.Lock()
	c.onPoke = fn
	c.mu.Unlock()
}

// Close closes the underlying connection.
func (c *WSConn) Close() error {
	return c.conn.Close()
}

// Push sends mutations as a single push frame.
func (c *WSConn) Push(clientID synckv.ClientID, mutations []synckv.Mutation) {
	c.writeFrame(frame{Type: frameTypePush, Push: &pushPayload{Mutations: mutations}})
}

// Pull sends a pull frame and blocks until the matching pullResponse
// frame arrives off the read loop.
func (c *WSConn) Pull(clientID synckv.ClientID, cookie synckv.Cookie) synckv.PullResult {
	waiter := make(chan synckv.PullResult, 1)
	c.mu.Lock()
	c.pullWaiters = append(c.pullWaiters, waiter)
	c.mu.Unlock()

	c.writeFrame(frame{Type: frameTypePull, Pull: &pullPayload{Cookie: cookie}})

	return <-waiter
}

func (c *WSConn) writeFrame(f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.logger.Errorf("failed to marshal frame: %v", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Errorf("write failed: %v", err)
	}
}

// readLoop dispatches inbound frames: pull responses are delivered to
// the oldest waiting Pull call, and pokes invoke the installed
// handler.
func (c *WSConn) readLoop() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Infof("connection closed: %v", err)
			return
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.logger.Warningf("malformed frame: %v", err)
			continue
		}
		switch f.Type {
		case frameTypePullResponse:
			if f.PullResponse == nil {
				continue
			}
			c.deliverPullResponse(toPullResult(*f.PullResponse))
		case frameTypePoke:
			c.mu.Lock()
			handler := c.onPoke
			c.mu.Unlock()
			handler()
		}
	}
}

func (c *WSConn) deliverPullResponse(result synckv.PullResult) {
	c.mu.Lock()
	if len(c.pullWaiters) == 0 {
		c.mu.Unlock()
		c.logger.Warningf("pull response with no waiter; dropping")
		return
	}
	waiter := c.pullWaiters[0]
	c.pullWaiters = c.pullWaiters[1:]
	c.mu.Unlock()
	waiter <- result
}
