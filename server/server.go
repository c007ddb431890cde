// Package server implements the authoritative half of the sync
// engine: a versioned patch log, push (authoritative mutation
// execution), pull (cookie-scoped catch-up plus ack of a client's
// last mutation), and poke fan-out to connected clients.
package server

import (
	"fmt"
	"sync"

	"github.com/tanishqkancharla/sync-kv/internal/logging"
	"github.com/tanishqkancharla/sync-kv/synckv"
)

// ClientHandle is what a transport registers with the server so the
// server can notify it that there may be news. Poke must not block;
// implementations typically just signal a goroutine to call Pull.
type ClientHandle interface {
	Poke()
}

// Server is the authoritative log of patches for one replica group.
// All its methods are safe for concurrent use; the single mutex keeps
// push/pull/poke logically single-threaded while still letting a real
// transport call in from multiple goroutines.
type Server struct {
	mu       sync.Mutex
	log      Log
	registry *synckv.Registry
	logger   logging.Logger

	clients      map[uint64]ClientHandle
	nextClientID uint64

	// pending maps clientId to the last mutation id this server has
	// incorporated from that client but not yet acknowledged via
	// pull. Consumed (removed) the moment it is returned by Pull.
	pending map[synckv.ClientID]synckv.MutationID

	// fanout additionally broadcasts pokes outside this process
	// (e.g. to sibling server replicas over Redis). Optional.
	fanout Broadcaster
}

// Broadcaster lets a Server announce a poke to collaborators outside
// its own process. See transport's Redis-backed implementation.
type Broadcaster interface {
	BroadcastPoke()
}

// Option configures a Server at construction.
type Option func(*Server)

// WithLog overrides the default in-memory log, e.g. with a durable
// Postgres-backed one.
func WithLog(log Log) Option {
	return func(s *Server) { s.log = log }
}

// WithLogger overrides the default no-op logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithBroadcaster installs a cross-process poke fan-out.
func WithBroadcaster(b Broadcaster) Option {
	return func(s *Server) { s.fanout = b }
}

// New returns a Server executing mutators from registry, opts applied
// in order.
func New(registry *synckv.Registry, opts ...Option) *Server {
	s := &Server{
		log:      NewMemoryLog(nil),
		registry: registry,
		logger:   logging.Nop{},
		clients:  make(map[uint64]ClientHandle),
		pending:  make(map[synckv.ClientID]synckv.MutationID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetBroadcaster installs or replaces the cross-process poke
// fan-out after construction, for wiring that needs a *Server to exist
// before the broadcaster can be built (e.g. a Redis fan-out that pokes
// this same server's local clients on inbound messages).
func (s *Server) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fanout = b
}

// ConnectToClient registers handle so future pokes reach it, and
// returns a disconnect function removing it. Disconnecting an
// already-removed handle is a no-op.
func (s *Server) ConnectToClient(handle ClientHandle) (disconnect func()) {
	s.mu.Lock()
	id := s.nextClientID
	s.nextClientID++
	s.clients[id] = handle
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.clients, id)
		s.mu.Unlock()
	}
}

// Get scans the log newest-first and returns the first value found for
// key.
func (s *Server) Get(key synckv.Key) (synckv.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Newest(key)
}

// Push runs every mutation in order against a shared batch view of the
// log, appends the merged result as a single new log entry, records
// the id of the last mutation in the batch as this client's pending
// ack, and pokes every connected client (including the sender).
//
// An unknown mutator name is a programming error and panics. A
// mutator that panics while running is recovered, logged, and
// skipped — that single mutation is dropped from the merged patch,
// but the rest of the batch and the server's state are unaffected.
func (s *Server) Push(clientID synckv.ClientID, mutations []synckv.Mutation) {
	if len(mutations) == 0 {
		s.logger.Warningf("push from %s with no mutations, ignoring", clientID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := synckv.Patch{}
	var lastID synckv.MutationID
	for _, m := range mutations {
		fn, ok := s.registry.Lookup(m.Name)
		if !ok {
			panic(fmt.Sprintf("server: unknown mutator %q pushed by client %s", m.Name, clientID))
		}
		patch := s.runMutator(fn, m, merged)
		merged.Merge(patch)
		lastID = m.MutationID
	}

	s.log.Append(merged)
	s.pending[clientID] = lastID
	s.pokeAll()
}

// runMutator executes fn against a fresh transaction overlaying the
// batch's writes so far, recovering a panic from the mutator itself
// rather than letting it take down the whole push.
func (s *Server) runMutator(fn synckv.MutatorFunc, m synckv.Mutation, batchSoFar synckv.Patch) (patch synckv.Patch) {
	tx := newBatchTransaction(s.log, batchSoFar)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("mutator %q (mutation %s) panicked: %v; skipping", m.Name, m.MutationID, r)
			patch = synckv.Patch{}
		}
	}()
	fn(tx, m.Args...)
	return tx.patch
}

// Pull computes the merged patch for everything since cookie, consumes
// and returns this client's pending last-mutation ack if one exists,
// and returns the server's current version as the new cookie. A
// cookie past the current version clamps to the current version
// (empty patch).
func (s *Server) Pull(clientID synckv.ClientID, cookie synckv.Cookie) synckv.PullResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.log.Version()
	if cookie > version {
		cookie = version
	}

	merged := synckv.Patch{}
	for _, patch := range s.log.Since(cookie) {
		merged.Merge(patch)
	}

	result := synckv.PullResult{Cookie: version, Patch: merged}
	if lastID, ok := s.pending[clientID]; ok {
		result.LastMutationID = lastID
		result.HasLastMutation = true
		delete(s.pending, clientID)
	}
	return result
}

// pokeAll fires Poke on every connected handle and, if a cross-process
// broadcaster is installed, forwards the notification outside this
// process too. Pokes are fire-and-forget: a slow or dead handle must
// not block this call, so each Poke runs on its own goroutine.
func (s *Server) pokeAll() {
	for _, handle := range s.clients {
		go handle.Poke()
	}
	if s.fanout != nil {
		s.fanout.BroadcastPoke()
	}
}

// PokeLocal is invoked by the transport layer when a sibling server
// replica broadcasts a poke over the fan-out channel: it wakes this
// process's own locally connected clients without touching the log.
func (s *Server) PokeLocal() {
	s.mu.Lock()
	handles := make([]ClientHandle, 0, len(s.clients))
	for _, h := range s.clients {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, handle := range handles {
		go handle.Poke()
	}
}
