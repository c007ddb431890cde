package server

import "github.com/tanishqkancharla/sync-kv/synckv"

// Transaction is the server-side view a mutator runs against during
// push: reads fall through this mutation's own writes, then through
// the writes of earlier mutations in the same push batch (overlay),
// then to the newest value already committed to the log. Writes land
// only in this mutation's own patch buffer; the batch's buffers are
// merged and appended to the log in one atomic step once the whole
// push completes.
type Transaction struct {
	log     Log
	overlay synckv.Patch
	patch   synckv.Patch
}

// newBatchTransaction opens a transaction that also reads through
// overlay, the merged writes of earlier mutations already executed in
// the same push call.
func newBatchTransaction(log Log, overlay synckv.Patch) *Transaction {
	return &Transaction{log: log, overlay: overlay, patch: synckv.Patch{}}
}

// Get returns this transaction's own write for key if any, else the
// batch overlay's value, else the newest value already in the log.
func (t *Transaction) Get(key synckv.Key) (synckv.Value, bool) {
	if v, ok := t.patch[key]; ok {
		return v, true
	}
	if v, ok := t.overlay[key]; ok {
		return v, true
	}
	return t.log.Newest(key)
}

// Set records a write in this transaction's patch buffer.
func (t *Transaction) Set(key synckv.Key, value synckv.Value) {
	t.patch[key] = value
}

var _ synckv.Transaction = (*Transaction)(nil)
