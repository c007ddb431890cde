package server

import "github.com/tanishqkancharla/sync-kv/synckv"

// Log is the server's append-only patch history. Patch at index i is
// the result of push #i+1 (or the initial seed, if one was supplied).
// The index-after-last is the server's version/cookie. Implementations
// must preserve insertion order; compaction is out of scope.
type Log interface {
	// Append adds patch as the newest entry and returns the new
	// version (len after append).
	Append(patch synckv.Patch) (version int)
	// Version returns the current length of the log.
	Version() int
	// Since returns the patches at index cookie..Version(), in order.
	// A cookie beyond the current version clamps to an empty slice.
	Since(cookie synckv.Cookie) []synckv.Patch
	// Newest scans from the newest patch to the oldest and returns
	// the first value found for key.
	Newest(key synckv.Key) (synckv.Value, bool)
}

// memoryLog is the default in-process Log: a plain growable slice.
// A slice rather than a map, since rebase and Since both need stable,
// position-addressable order.
type memoryLog struct {
	patches []synckv.Patch
}

// NewMemoryLog returns a Log seeded with an optional initial patch.
// A nil or empty seed starts the log empty (version 0).
func NewMemoryLog(seed synckv.Patch) Log {
	l := &memoryLog{}
	if len(seed) > 0 {
		l.patches = append(l.patches, seed.Clone())
	}
	return l
}

func (l *memoryLog) Append(patch synckv.Patch) int {
	l.patches = append(l.patches, patch)
	return len(l.patches)
}

func (l *memoryLog) Version() int {
	return len(l.patches)
}

func (l *memoryLog) Since(cookie synckv.Cookie) []synckv.Patch {
	if cookie < 0 {
		cookie = 0
	}
	if cookie >= len(l.patches) {
		return nil
	}
	return l.patches[cookie:]
}

func (l *memoryLog) Newest(key synckv.Key) (synckv.Value, bool) {
	for i := len(l.patches) - 1; i >= 0; i-- {
		if v, ok := l.patches[i][key]; ok {
			return v, true
		}
	}
	return nil, false
}
