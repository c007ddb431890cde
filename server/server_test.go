package server

import (
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/tanishqkancharla/sync-kv/synckv"
)

func addMutator(tx synckv.Transaction, args ...any) {
	delta := args[0].(int)
	current := 0
	if v, ok := tx.Get("value"); ok {
		current = v.(int)
	}
	tx.Set("value", current+delta)
}

func newAddServer() *Server {
	reg := synckv.NewRegistry()
	reg.Register("add", addMutator)
	return New(reg)
}

func push(s *Server, clientID string, mutationID string, args ...any) {
	s.Push(clientID, []synckv.Mutation{{MutationID: mutationID, Name: "add", Args: args}})
}

// A single client's push is applied and visible via Get.
func TestSingleAdd(t *testing.T) {
	s := newAddServer()
	push(s, "c1", "m1", 2)
	v, ok := s.Get("value")
	assert.Equal(t, true, ok)
	assert.Equal(t, 2, v)
}

// Sequential pushes from one client accumulate.
func TestSequentialAdds(t *testing.T) {
	s := newAddServer()
	push(s, "c1", "m1", 2)
	push(s, "c1", "m2", 3)
	v, _ := s.Get("value")
	assert.Equal(t, 5, v)
}

// Pushes from two different clients interleave onto the same log.
func TestTwoClientsInterleaved(t *testing.T) {
	s := newAddServer()
	push(s, "c1", "m1", 2)
	push(s, "c2", "m1", 3)
	v, _ := s.Get("value")
	assert.Equal(t, 5, v)
}

// Four pushes across two clients all accumulate in push order.
func TestTwoClientsFourPushes(t *testing.T) {
	s := newAddServer()
	push(s, "c1", "m1", 2)
	push(s, "c2", "m1", 3)
	push(s, "c1", "m2", 4)
	push(s, "c2", "m2", 5)
	v, _ := s.Get("value")
	assert.Equal(t, 14, v)
}

// A batched push (multiple mutations in one call) lets later
// mutations in the batch see earlier ones' writes, and the batch
// counts as a single log entry/version bump.
func TestBatchedPushSeesEarlierWritesInSameBatch(t *testing.T) {
	s := newAddServer()
	before := s.log.Version()
	s.Push("c1", []synckv.Mutation{
		{MutationID: "m1", Name: "add", Args: []any{2}},
		{MutationID: "m2", Name: "add", Args: []any{3}},
	})
	assert.Equal(t, before+1, s.log.Version())
	v, _ := s.Get("value")
	assert.Equal(t, 5, v)
}

func TestPushEmptyBatchIsNoOp(t *testing.T) {
	s := newAddServer()
	before := s.log.Version()
	s.Push("c1", nil)
	assert.Equal(t, before, s.log.Version())
}

func TestPushUnknownMutatorPanics(t *testing.T) {
	s := newAddServer()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown mutator")
		}
	}()
	s.Push("c1", []synckv.Mutation{{MutationID: "m1", Name: "nope"}})
}

func panicMutator(tx synckv.Transaction, args ...any) {
	tx.Set("untouched", "should not land")
	panic("boom")
}

func TestPushMutatorPanicIsSkippedNotFatal(t *testing.T) {
	reg := synckv.NewRegistry()
	reg.Register("add", addMutator)
	reg.Register("panic", panicMutator)
	s := New(reg)

	s.Push("c1", []synckv.Mutation{
		{MutationID: "m1", Name: "add", Args: []any{2}},
		{MutationID: "m2", Name: "panic"},
		{MutationID: "m3", Name: "add", Args: []any{3}},
	})

	v, _ := s.Get("value")
	assert.Equal(t, 5, v)
	_, ok := s.Get("untouched")
	assert.Equal(t, false, ok)
}

// Pull: a cookie ahead of the server's version clamps to the current
// version with an empty patch.
func TestPullCookieAheadOfVersionClamps(t *testing.T) {
	s := newAddServer()
	push(s, "c1", "m1", 2)

	result := s.Pull("c2", 100)
	assert.Equal(t, s.log.Version(), result.Cookie)
	assert.Equal(t, 0, len(result.Patch))
}

// Pull: lastMutationId is present exactly once, then consumed.
func TestPullConsumesLastMutationID(t *testing.T) {
	s := newAddServer()
	push(s, "c1", "m1", 2)

	first := s.Pull("c1", 0)
	assert.Equal(t, true, first.HasLastMutation)
	assert.Equal(t, "m1", first.LastMutationID)

	second := s.Pull("c1", first.Cookie)
	assert.Equal(t, false, second.HasLastMutation)
}

// Pull: merges patches since cookie newest-last-wins.
func TestPullMergesSinceCookie(t *testing.T) {
	s := newAddServer()
	push(s, "c1", "m1", 2)
	push(s, "c1", "m2", 3)

	result := s.Pull("c2", 0)
	assert.Equal(t, 5, result.Patch["value"])
}

// ConnectToClient/poke fan-out: pushing pokes every connected handle,
// including the sender, and disconnecting stops further pokes.
type countingHandle struct {
	pokes chan struct{}
}

func (h *countingHandle) Poke() {
	h.pokes <- struct{}{}
}

func TestPushPokesAllConnectedClients(t *testing.T) {
	s := newAddServer()
	h1 := &countingHandle{pokes: make(chan struct{}, 4)}
	h2 := &countingHandle{pokes: make(chan struct{}, 4)}
	s.ConnectToClient(h1)
	disconnect2 := s.ConnectToClient(h2)

	push(s, "c1", "m1", 2)
	<-h1.pokes
	<-h2.pokes

	disconnect2()
	push(s, "c1", "m2", 3)
	<-h1.pokes
	select {
	case <-h2.pokes:
		t.Fatal("disconnected handle should not be poked")
	default:
	}
}

type fakeBroadcaster struct {
	calls chan struct{}
}

func (f *fakeBroadcaster) BroadcastPoke() {
	f.calls <- struct{}{}
}

func TestPushBroadcastsThroughInstalledBroadcaster(t *testing.T) {
	b := &fakeBroadcaster{calls: make(chan struct{}, 1)}
	s := newAddServer()
	s.SetBroadcaster(b)

	push(s, "c1", "m1", 2)
	<-b.calls
}
