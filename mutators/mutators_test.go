package mutators

import (
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/tanishqkancharla/sync-kv/synckv"
)

// fakeTx is the smallest synckv.Transaction that can see a seeded
// database and record writes, used to exercise mutators directly
// without a client or server.
type fakeTx struct {
	db    map[synckv.Key]synckv.Value
	patch synckv.Patch
}

func newFakeTx(db map[synckv.Key]synckv.Value) *fakeTx {
	return &fakeTx{db: db, patch: synckv.Patch{}}
}

func (f *fakeTx) Get(key synckv.Key) (synckv.Value, bool) {
	if v, ok := f.patch[key]; ok {
		return v, true
	}
	v, ok := f.db[key]
	return v, ok
}

func (f *fakeTx) Set(key synckv.Key, value synckv.Value) {
	f.patch[key] = value
}

func TestAddFromEmptyDatabase(t *testing.T) {
	tx := newFakeTx(nil)
	Add(tx, 5)
	assert.Equal(t, 5, tx.patch[ValueKey])
}

func TestAddAccumulatesOnExistingValue(t *testing.T) {
	tx := newFakeTx(map[synckv.Key]synckv.Value{ValueKey: 10})
	Add(tx, 3)
	assert.Equal(t, 13, tx.patch[ValueKey])
}

func TestAddAcceptsFloat64AfterJSONRoundTrip(t *testing.T) {
	tx := newFakeTx(map[synckv.Key]synckv.Value{ValueKey: float64(10)})
	Add(tx, 3)
	assert.Equal(t, 13, tx.patch[ValueKey])
}

func TestAddTodoAppendsToEmptyList(t *testing.T) {
	tx := newFakeTx(nil)
	AddTodo(tx, "buy milk")

	todos := tx.patch[TodosKey].([]Todo)
	assert.Equal(t, 1, len(todos))
	assert.Equal(t, "buy milk", todos[0].Text)
	assert.Equal(t, false, todos[0].Done)
}

func TestAddTodoDoesNotMutateSharedSlice(t *testing.T) {
	existing := []Todo{{Text: "first", Done: false}}
	db := map[synckv.Key]synckv.Value{TodosKey: existing}

	tx := newFakeTx(db)
	AddTodo(tx, "second")

	assert.Equal(t, 1, len(existing))
	assert.Equal(t, 2, len(tx.patch[TodosKey].([]Todo)))
}

func TestToggleTodoFlipsDone(t *testing.T) {
	db := map[synckv.Key]synckv.Value{
		TodosKey: []Todo{{Text: "first", Done: false}},
	}
	tx := newFakeTx(db)
	ToggleTodo(tx, 0)

	todos := tx.patch[TodosKey].([]Todo)
	assert.Equal(t, true, todos[0].Done)
}

func TestToggleTodoOutOfRangeIsNoOp(t *testing.T) {
	db := map[synckv.Key]synckv.Value{
		TodosKey: []Todo{{Text: "first", Done: false}},
	}
	tx := newFakeTx(db)
	ToggleTodo(tx, 5)

	_, wrote := tx.patch[TodosKey]
	assert.Equal(t, false, wrote)
}

func TestToggleTodoReadsPostJSONShape(t *testing.T) {
	db := map[synckv.Key]synckv.Value{
		TodosKey: []any{
			map[string]any{"text": "first", "done": false},
		},
	}
	tx := newFakeTx(db)
	ToggleTodo(tx, 0)

	todos := tx.patch[TodosKey].([]Todo)
	assert.Equal(t, "first", todos[0].Text)
	assert.Equal(t, true, todos[0].Done)
}

// Determinism: running Add twice from the same starting database
// produces the same patch, the property rebase on the client side
// depends on.
func TestAddIsDeterministic(t *testing.T) {
	db := map[synckv.Key]synckv.Value{ValueKey: 7}

	tx1 := newFakeTx(db)
	Add(tx1, 4)

	tx2 := newFakeTx(db)
	Add(tx2, 4)

	assert.Equal(t, tx1.patch[ValueKey], tx2.patch[ValueKey])
}

func TestRegisterAddsAllThreeMutators(t *testing.T) {
	reg := synckv.NewRegistry()
	Register(reg)

	for _, name := range []string{"add", "addTodo", "toggleTodo"} {
		_, ok := reg.Lookup(name)
		assert.Equal(t, true, ok)
	}
}
