// Package synckv holds the data vocabulary shared by the server and
// client halves of the sync engine: keys, values, patches, and the
// mutator registry. Nothing in this package talks to a network or a
// disk.
package synckv

// Value is an opaque, JSON-serializable datum. The engine never
// inspects its shape.
type Value = any

// Key names a slot in the database.
type Key = string

// Cookie is the count of patches a client has observed on the server
// as of its last successful pull. Cookie 0 means "give me everything."
type Cookie = int

// Patch is the set of writes produced by a single mutation (or, on the
// wire, several merged mutations). A missing key means "no change";
// there is no delete sentinel.
type Patch map[Key]Value

// Clone makes a shallow copy of the patch. Values are never mutated
// in place by this engine, so a shallow copy is a safe, independent
// snapshot for crossing a transport boundary.
func (p Patch) Clone() Patch {
	clone := make(Patch, len(p))
	for k, v := range p {
		clone[k] = v
	}
	return clone
}

// Merge overwrites receiver keys with other's, left-to-right,
// newest-last-wins, and returns the receiver for chaining.
func (p Patch) Merge(other Patch) Patch {
	for k, v := range other {
		p[k] = v
	}
	return p
}

// Keys returns the patch's keys in no particular order.
func (p Patch) Keys() []Key {
	keys := make([]Key, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	return keys
}

// MutationID is a fresh opaque string minted per local mutate() call.
type MutationID = string

// ClientID identifies a client to the server across its lifetime.
type ClientID = string

// Mutation is a named, deterministic call: the mutator to run plus its
// arguments, tagged with the id of the local invocation that produced
// it.
type Mutation struct {
	MutationID MutationID `json:"mutationId"`
	Name       string     `json:"name"`
	Args       []any      `json:"args"`
}

// OptimisticRecord is a client-side pending mutation together with the
// latest patch its mutator produced, either at local invocation time
// or at the most recent rebase.
type OptimisticRecord struct {
	MutationID MutationID
	Name       string
	Args       []any
	Patch      Patch
}

// PullResult is the server's response to a pull: the merged patch over
// the requested cookie range, the server's version as the new cookie,
// and, if the server has an unacknowledged mutation pending for this
// client, its id. This is the shared wire-shaped vocabulary between
// server.Server.Pull and client.ServerConn so neither package needs to
// import the other.
type PullResult struct {
	Cookie          Cookie
	Patch           Patch
	LastMutationID  MutationID
	HasLastMutation bool
}
