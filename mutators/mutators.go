// Package mutators holds the mutators shipped with sync-kv: add (a
// running counter) and addTodo/toggleTodo (a todo list). They are
// ordinary deterministic functions over a synckv.Transaction,
// registered under the names mutate.<name> dispatches to on both the
// client and the server.
package mutators

import "github.com/tanishqkancharla/sync-kv/synckv"

// ValueKey is the counter key the add mutator reads and writes.
const ValueKey = "value"

// TodosKey is the list key the todo mutators read and write.
const TodosKey = "todos"

// Todo is one entry of the list stored under TodosKey.
type Todo struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Add sets ValueKey to its current value (0 if unset) plus args[0].
func Add(tx synckv.Transaction, args ...any) {
	delta := toInt(args[0])
	current := 0
	if v, ok := tx.Get(ValueKey); ok {
		current = toInt(v)
	}
	tx.Set(ValueKey, current+delta)
}

// AddTodo appends a new, not-done todo with the given text.
func AddTodo(tx synckv.Transaction, args ...any) {
	text, _ := args[0].(string)
	todos := readTodos(tx)
	todos = append(todos, Todo{Text: text, Done: false})
	tx.Set(TodosKey, todos)
}

// ToggleTodo flips the Done flag of the todo at index. Out-of-range
// indices are ignored: mutators must be deterministic and must not
// panic on adversarial-but-plausible rebase input, so this is treated
// as a no-op rather than an assertion.
func ToggleTodo(tx synckv.Transaction, args ...any) {
	index := toInt(args[0])
	todos := readTodos(tx)
	if index < 0 || index >= len(todos) {
		return
	}
	todos[index].Done = !todos[index].Done
	tx.Set(TodosKey, todos)
}

// Register adds Add, AddTodo, and ToggleTodo to reg under their
// mutate.<name> names.
func Register(reg *synckv.Registry) {
	reg.Register("add", Add)
	reg.Register("addTodo", AddTodo)
	reg.Register("toggleTodo", ToggleTodo)
}

// readTodos copies the current todo list out of tx so mutators never
// mutate a slice shared with a previous patch or the database in
// place — every write replaces the whole value, keeping each patch's
// copy independent.
func readTodos(tx synckv.Transaction) []Todo {
	v, ok := tx.Get(TodosKey)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []Todo:
		out := make([]Todo, len(list))
		copy(out, list)
		return out
	case []any:
		// Arrives in this shape after a round trip through JSON (the
		// transport layer decodes patches into generic interfaces).
		out := make([]Todo, 0, len(list))
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			text, _ := m["text"].(string)
			done, _ := m["done"].(bool)
			out = append(out, Todo{Text: text, Done: done})
		}
		return out
	default:
		return nil
	}
}

// toInt accepts the numeric shapes a mutator argument or stored value
// can plausibly arrive in: a native int from an in-process call, or a
// float64 after a JSON round trip.
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
