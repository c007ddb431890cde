// Package client implements the optimistic, local-first half of the
// sync engine: mutate applies a mutator immediately against the local
// database and queues it for the server, poke drives a pull, and
// onPull reconciles authoritative state with whatever mutations are
// still outstanding by rebasing them.
package client

import (
	"sync"

	"github.com/google/uuid"
	"github.com/tanishqkancharla/sync-kv/internal/logging"
	"github.com/tanishqkancharla/sync-kv/synckv"
)

// ServerConn is the client's view of the server: push submits
// mutations for authoritative execution, pull fetches everything since
// a cookie plus an ack of this client's last applied mutation. The
// transport (websocket, in-process call, anything) lives behind this
// interface.
type ServerConn interface {
	Push(clientID synckv.ClientID, mutations []synckv.Mutation)
	Pull(clientID synckv.ClientID, cookie synckv.Cookie) synckv.PullResult
}

// IDGenerator mints fresh opaque mutation ids.
type IDGenerator func() string

func uuidGenerator() string {
	return uuid.NewString()
}

// Option configures a Client at construction.
type Option func(*Client)

// WithLogger overrides the default no-op logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithIDGenerator overrides mutation id generation, mainly for tests
// that want deterministic ids.
func WithIDGenerator(gen IDGenerator) Option {
	return func(c *Client) { c.idGen = gen }
}

// Client is one replica's local database, optimistic queue, and
// subscription registry. A Client is mutated only from its own event
// loop (mutate and onPull); the mutex below exists because real
// transports deliver pokes from a different goroutine than the one
// calling mutate, not because the protocol itself is concurrent.
type Client struct {
	mu sync.Mutex

	id       synckv.ClientID
	conn     ServerConn
	registry *synckv.Registry
	logger   logging.Logger
	idGen    IDGenerator

	db      map[synckv.Key]synckv.Value
	queue   []synckv.OptimisticRecord
	watches *watchRegistry

	hasCookie bool
	cookie    synckv.Cookie

	// pullPending and pokeQueued let a poke that arrives while the
	// first pull is still in flight be remembered and re-pulled once
	// that pull lands, instead of being dropped.
	pullPending bool
	pokeQueued  bool
}

// New constructs a Client for id against conn, running mutators from
// registry, and kicks off the initial pull (cookie 0) in the
// background. Until that pull returns, Get sees an empty database and
// Poke is queued rather than acted on.
func New(id synckv.ClientID, registry *synckv.Registry, conn ServerConn, opts ...Option) *Client {
	c := &Client{
		id:       id,
		conn:     conn,
		registry: registry,
		logger:   logging.Nop{},
		idGen:    uuidGenerator,
		db:       make(map[synckv.Key]synckv.Value),
		watches:  newWatchRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.mu.Lock()
	c.pullPending = true
	c.mu.Unlock()
	go c.pullAndReconcile(0)

	return c
}

// Get returns the value from the newest optimistic record whose
// patch contains key, else the database's value, else not-found.
func (c *Client) Get(key synckv.Key) (synckv.Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effective(key)
}

// effective must be called with c.mu held.
func (c *Client) effective(key synckv.Key) (synckv.Value, bool) {
	for i := len(c.queue) - 1; i >= 0; i-- {
		if v, ok := c.queue[i].Patch[key]; ok {
			return v, true
		}
	}
	v, ok := c.db[key]
	return v, ok
}

// Cookie returns the client's current cookie and whether the initial
// pull has landed yet. The cookie is undefined until then.
func (c *Client) Cookie() (synckv.Cookie, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cookie, c.hasCookie
}

// Watch registers cb for key and returns an unsubscribe function.
// Watch does not deliver an immediate value; callers that want the
// current value should call Get themselves first.
func (c *Client) Watch(key synckv.Key, cb WatchFunc) (unsubscribe func()) {
	return c.watches.add(key, cb)
}

// Mutate runs the named mutator locally against a fresh transaction,
// queues the result as an optimistic record, fires watchers for every
// key the patch touched, and pushes the mutation to the server. An
// unknown mutator name is a programming error and panics immediately,
// before any local state changes.
func (c *Client) Mutate(name string, args ...any) {
	fn, ok := c.registry.Lookup(name)
	if !ok {
		panic("client: unknown mutator " + name)
	}

	c.mu.Lock()
	mutationID := c.idGen()
	tx := newTransaction(c.db, mutationID)
	fn(tx, args...)

	c.queue = append(c.queue, synckv.OptimisticRecord{
		MutationID: mutationID,
		Name:       name,
		Args:       args,
		Patch:      tx.patch,
	})
	keys := tx.patch.Keys()
	c.mu.Unlock()

	c.emit(keys)

	c.conn.Push(c.id, []synckv.Mutation{{MutationID: mutationID, Name: name, Args: args}})
}

// Poke is the inbound notification from the server that there may be
// news. If the initial pull hasn't landed yet it is remembered rather
// than dropped; otherwise it triggers an immediate pull at the
// client's current cookie.
func (c *Client) Poke() {
	c.mu.Lock()
	if c.pullPending {
		c.pokeQueued = true
		c.mu.Unlock()
		return
	}
	cookie := c.cookie
	c.mu.Unlock()

	go c.pullAndReconcile(cookie)
}

// pullAndReconcile calls the server and feeds the result through
// onPull. It is always run on its own goroutine since pull is the
// protocol's one true suspension point on the client.
func (c *Client) pullAndReconcile(cookie synckv.Cookie) {
	result := c.conn.Pull(c.id, cookie)
	c.onPull(result)
}

// onPull is the heart of the client. It distinguishes the initial
// pull (no ack present) from a steady-state pull (ack present), and
// in the latter case rebases every optimistic record that survives
// the ack.
func (c *Client) onPull(result synckv.PullResult) {
	c.mu.Lock()

	if !result.HasLastMutation {
		keys, requeue := c.onInitialPull(result)
		c.mu.Unlock()
		c.emit(keys)
		if requeue {
			go c.pullAndReconcile(result.Cookie)
		}
		return
	}

	emitKeys, ok := c.onAckedPull(result)
	c.mu.Unlock()
	if !ok {
		return
	}
	c.emit(emitKeys)
}

// onInitialPull must be called with c.mu held; it does not unlock.
// It overwrites the database from the patch, sets the cookie, and
// reports whether a poke arrived while this pull was in flight — if
// so, the caller must schedule the follow-up pull it was queuing for,
// once it has released the lock.
func (c *Client) onInitialPull(result synckv.PullResult) ([]synckv.Key, bool) {
	for k, v := range result.Patch {
		c.db[k] = v
	}
	c.cookie = result.Cookie
	c.hasCookie = true
	c.pullPending = false

	requeue := c.pokeQueued
	c.pokeQueued = false

	return result.Patch.Keys(), requeue
}

// onAckedPull must be called with c.mu held. It returns the set of
// keys to emit notifications for, and false if the ack didn't match
// any queued record (protocol divergence: logged, not acted on).
func (c *Client) onAckedPull(result synckv.PullResult) ([]synckv.Key, bool) {
	ackIndex := -1
	for i, rec := range c.queue {
		if rec.MutationID == result.LastMutationID {
			ackIndex = i
			break
		}
	}
	if ackIndex < 0 {
		c.logger.Errorf("pull acked unknown mutation %s; ignoring", result.LastMutationID)
		return nil, false
	}

	for k, v := range result.Patch {
		c.db[k] = v
	}

	emitSet := make(map[synckv.Key]struct{})
	for k := range result.Patch {
		emitSet[k] = struct{}{}
	}

	survivors := c.queue[ackIndex+1:]
	rebased := make([]synckv.OptimisticRecord, len(survivors))
	for i, rec := range survivors {
		tx := newTransaction(c.db, rec.MutationID)
		fn, ok := c.registry.Lookup(rec.Name)
		if !ok {
			panic("client: unknown mutator " + rec.Name)
		}
		c.runRebase(fn, tx, rec.Args)
		rebased[i] = synckv.OptimisticRecord{
			MutationID: rec.MutationID,
			Name:       rec.Name,
			Args:       rec.Args,
			Patch:      tx.patch,
		}
		for k := range tx.patch {
			emitSet[k] = struct{}{}
		}
	}
	c.queue = rebased

	c.cookie = result.Cookie

	keys := make([]synckv.Key, 0, len(emitSet))
	for k := range emitSet {
		keys = append(keys, k)
	}
	return keys, true
}

// runRebase executes fn against tx, recovering a panic so one bad
// mutator doesn't poison the rest of the rebase.
func (c *Client) runRebase(fn synckv.MutatorFunc, tx *Transaction, args []any) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("mutator panicked during rebase: %v; dropping its patch", r)
			tx.patch = synckv.Patch{}
		}
	}()
	fn(tx, args...)
}

// emit fires every watcher registered on each of keys with the
// current effective value. Must not be called with c.mu held.
func (c *Client) emit(keys []synckv.Key) {
	for _, key := range keys {
		subs := c.watches.snapshot(key)
		if len(subs) == 0 {
			continue
		}
		value, ok := c.Get(key)
		for _, cb := range subs {
			cb(value, ok)
		}
	}
}
