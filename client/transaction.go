package client

import "github.com/tanishqkancharla/sync-kv/synckv"

// Transaction is the client-side view a mutator runs against (spec
// §4.1): an immutable snapshot of the client's database plus a fresh
// patch buffer. It carries the mutation id its caller supplies: Mutate
// mints a fresh one for each local invocation, and rebase reuses the
// id of the optimistic record being re-run.
type Transaction struct {
	db        map[synckv.Key]synckv.Value
	patch     synckv.Patch
	MutationID synckv.MutationID
}

// newTransaction snapshots db (by reference; db is never mutated
// through a Transaction) and tags it with mutationID.
func newTransaction(db map[synckv.Key]synckv.Value, mutationID synckv.MutationID) *Transaction {
	return &Transaction{db: db, patch: synckv.Patch{}, MutationID: mutationID}
}

// Get returns this transaction's own write for key if any, else the
// snapshotted database's value.
func (t *Transaction) Get(key synckv.Key) (synckv.Value, bool) {
	if v, ok := t.patch[key]; ok {
		return v, true
	}
	v, ok := t.db[key]
	return v, ok
}

// Set records a write in this transaction's patch buffer.
func (t *Transaction) Set(key synckv.Key, value synckv.Value) {
	t.patch[key] = value
}

var _ synckv.Transaction = (*Transaction)(nil)
