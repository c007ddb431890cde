package client

import (
	"sync"

	"github.com/tanishqkancharla/sync-kv/synckv"
)

// WatchFunc receives the effective value of a watched key whenever it
// changes. It is called synchronously from the client's own event
// loop (mutate or onPull); it must not block.
type WatchFunc func(value synckv.Value, ok bool)

type subscription struct {
	id       uint64
	callback WatchFunc
}

// watchRegistry holds per-key subscriptions and fires them in
// registration order. Subscriptions are matched by id on removal,
// since Go function values aren't comparable.
type watchRegistry struct {
	mu      sync.Mutex
	nextID  uint64
	byKey   map[synckv.Key][]subscription
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{byKey: make(map[synckv.Key][]subscription)}
}

// add registers cb under key and returns an unsubscribe function.
// Unsubscribing more than once is a no-op.
func (r *watchRegistry) add(key synckv.Key, cb WatchFunc) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.byKey[key] = append(r.byKey[key], subscription{id: id, callback: cb})
	r.mu.Unlock()

	removed := false
	return func() {
		if removed {
			return
		}
		removed = true
		r.mu.Lock()
		defer r.mu.Unlock()
		subs := r.byKey[key]
		for i, s := range subs {
			if s.id == id {
				r.byKey[key] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(r.byKey[key]) == 0 {
			delete(r.byKey, key)
		}
	}
}

// snapshot returns the callbacks currently registered for key, in
// registration order, safe to invoke without holding the registry's
// lock (so a callback that calls watch/unwatch doesn't deadlock).
func (r *watchRegistry) snapshot(key synckv.Key) []WatchFunc {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.byKey[key]
	if len(subs) == 0 {
		return nil
	}
	out := make([]WatchFunc, len(subs))
	for i, s := range subs {
		out[i] = s.callback
	}
	return out
}
