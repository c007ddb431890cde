package transport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/tanishqkancharla/sync-kv/internal/logging"
	"github.com/tanishqkancharla/sync-kv/server"
	"github.com/tanishqkancharla/sync-kv/synckv"
)

// upgrader accepts connections from any origin; callers that need to
// restrict origins should front this handler with their own check.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler wires a *server.Server to HTTP, upgrading each incoming
// connection to a websocket and dispatching frames to the server on
// behalf of whichever clientId the connection carries.
type Handler struct {
	srv    *server.Server
	logger logging.Logger
}

// NewHandler returns a Handler serving srv.
func NewHandler(srv *server.Server, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Handler{srv: srv, logger: logger.Subspace("transport")}
}

// Router returns a gorilla/mux router exposing the websocket endpoint
// at /ws and a liveness check at /healthz.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", h.serveWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

// serveWS upgrades the connection, mints a clientId if the caller
// didn't supply one, registers a ClientHandle with the server, and
// pumps push/pull frames until the socket closes.
func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("upgrade failed for client %s: %v", clientID, err)
		return
	}
	defer conn.Close()

	h.logger.Infof("client %s connected", clientID)

	handle := &wsClientHandle{conn: conn, send: make(chan frame, 16)}
	disconnect := h.srv.ConnectToClient(handle)
	defer disconnect()

	go handle.writePump()
	defer close(handle.send)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			h.logger.Infof("client %s disconnected: %v", clientID, err)
			return
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			h.logger.Warningf("client %s sent malformed frame: %v", clientID, err)
			continue
		}
		h.handleFrame(clientID, handle, f)
	}
}

func (h *Handler) handleFrame(clientID synckv.ClientID, handle *wsClientHandle, f frame) {
	switch f.Type {
	case frameTypePush:
		if f.Push == nil {
			h.logger.Warningf("client %s sent push with no payload", clientID)
			return
		}
		h.srv.Push(clientID, f.Push.Mutations)
	case frameTypePull:
		cookie := synckv.Cookie(0)
		if f.Pull != nil {
			cookie = f.Pull.Cookie
		}
		result := h.srv.Pull(clientID, cookie)
		handle.send <- frame{Type: frameTypePullResponse, PullResponse: ptr(fromPullResult(result))}
	default:
		h.logger.Warningf("client %s sent unexpected frame type %q", clientID, f.Type)
	}
}

func ptr[T any](v T) *T { return &v }

// wsClientHandle is the server.ClientHandle for one websocket
// connection. Poke() is fire-and-forget: it enqueues a poke frame on a
// buffered channel and never blocks the caller.
type wsClientHandle struct {
	conn *websocket.Conn
	send chan frame
}

func (h *wsClientHandle) Poke() {
	select {
	case h.send <- frame{Type: frameTypePoke}:
	default:
		// slow consumer; drop the poke, the client will catch up on
		// its next successful pull regardless (pokes are best-effort).
	}
}

func (h *wsClientHandle) writePump() {
	for f := range h.send {
		data, err := json.Marshal(f)
		if err != nil {
			continue
		}
		if err := h.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// RedisFanout broadcasts a server's pokes to sibling server replicas
// over a Redis pub/sub channel, and relays inbound broadcasts from
// siblings back into the local server's connected clients.
type RedisFanout struct {
	rdb     *redis.Client
	channel string
	srv     *server.Server
	origin  string
	logger  logging.Logger
}

// NewRedisFanout returns a fan-out publishing to and subscribing from
// channel on rdb, waking srv's locally connected clients on inbound
// broadcasts from other processes.
func NewRedisFanout(rdb *redis.Client, channel string, srv *server.Server, logger logging.Logger) *RedisFanout {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &RedisFanout{
		rdb:     rdb,
		channel: channel,
		srv:     srv,
		origin:  uuid.NewString(),
		logger:  logger.Subspace("redis-fanout"),
	}
}

// BroadcastPoke publishes a poke notification for sibling processes.
// It is fire-and-forget; a publish error is logged, not returned.
func (f *RedisFanout) BroadcastPoke() {
	data, err := json.Marshal(pokeChannelMessage{Origin: f.origin})
	if err != nil {
		return
	}
	if err := f.rdb.Publish(context.Background(), f.channel, data).Err(); err != nil {
		f.logger.Warningf("publish failed: %v", err)
	}
}

// Listen subscribes to the fan-out channel and wakes the local
// server's clients on every message from another process, until ctx
// is cancelled. Run it in its own goroutine.
func (f *RedisFanout) Listen(ctx context.Context) error {
	pubsub := f.rdb.Subscribe(ctx, f.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m pokeChannelMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				continue
			}
			if m.Origin == f.origin {
				continue
			}
			f.srv.PokeLocal()
		}
	}
}

var _ server.Broadcaster = (*RedisFanout)(nil)
