// Package history runs reversible edits against a remote document store and
// keeps bounded undo and redo stacks of the ones that succeeded.
package history

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ivlev/papeterie/internal/model"
)

// DefaultMaxHistory bounds |undo|+|redo| when no explicit limit is given.
const DefaultMaxHistory = 50

// Op is the stack transition reported to listeners.
type Op int

const (
	OpExecute Op = iota
	OpUndo
	OpRedo
	OpClear
)

func (o Op) String() string {
	switch o {
	case OpExecute:
		return "execute"
	case OpUndo:
		return "undo"
	case OpRedo:
		return "redo"
	case OpClear:
		return "clear"
	}
	return "unknown"
}

// Event describes a completed transition. Command is nil for OpClear.
type Event struct {
	Op      Op
	Command Command
}

// Engine executes commands one at a time, in submission order.
type Engine struct {
	store  ConfigStore
	max    int
	sem    *semaphore.Weighted // weight 1; waiters are served FIFO
	logger *log.Logger

	mu        sync.Mutex
	undo      []Command
	redo      []Command
	retired   map[string]bool
	listeners map[int]func(Event)
	nextID    int
}

// NewEngine creates an engine bounded to max commands (DefaultMaxHistory when max <= 0).
func NewEngine(store ConfigStore, max int) *Engine {
	if max <= 0 {
		max = DefaultMaxHistory
	}
	return &Engine{
		store:     store,
		max:       max,
		sem:       semaphore.NewWeighted(1),
		logger:    log.Default(),
		retired:   make(map[string]bool),
		listeners: make(map[int]func(Event)),
	}
}

// SetLogger replaces the engine's logger.
func (e *Engine) SetLogger(l *log.Logger) {
	if l != nil {
		e.logger = l
	}
}

// Execute applies cmd. On success it is pushed on the undo stack and the redo
// stack is cleared; on failure the stacks are untouched and the error is returned.
func (e *Engine) Execute(ctx context.Context, cmd Command) error {
	return e.ExecuteFunc(ctx, func() (Command, error) { return cmd, nil })
}

// ExecuteFunc runs build once every earlier submission has settled and
// executes the command it returns. build sees the effects of all commands
// submitted before it; a nil command means there is nothing to do.
func (e *Engine) ExecuteFunc(ctx context.Context, build func() (Command, error)) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)

	cmd, err := build()
	if err != nil || cmd == nil {
		return err
	}
	if err := e.run(ctx, cmd, cmd.Apply); err != nil {
		return err
	}

	e.mu.Lock()
	e.undo = append(e.undo, cmd)
	e.redo = nil
	if over := len(e.undo) - e.max; over > 0 {
		e.undo = append([]Command(nil), e.undo[over:]...)
	}
	e.mu.Unlock()

	e.emit(Event{Op: OpExecute, Command: cmd})
	return nil
}

// Undo reverts the most recent command. It returns (nil, nil) when there is nothing to undo.
// A failed revert leaves the command on the undo stack.
func (e *Engine) Undo(ctx context.Context) (Command, error) {
	return e.step(ctx, OpUndo)
}

// Redo re-applies the most recently undone command. It returns (nil, nil) when there is nothing to redo.
func (e *Engine) Redo(ctx context.Context) (Command, error) {
	return e.step(ctx, OpRedo)
}

func (e *Engine) step(ctx context.Context, op Op) (Command, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)

	e.mu.Lock()
	from := &e.undo
	to := &e.redo
	if op == OpRedo {
		from, to = to, from
	}
	if len(*from) == 0 {
		e.mu.Unlock()
		return nil, nil
	}
	cmd := (*from)[len(*from)-1]
	e.mu.Unlock()

	action := cmd.Revert
	if op == OpRedo {
		action = cmd.Apply
	}
	if err := e.run(ctx, cmd, action); err != nil {
		return nil, err
	}

	e.mu.Lock()
	*from = (*from)[:len(*from)-1]
	*to = append(*to, cmd)
	e.mu.Unlock()

	e.emit(Event{Op: op, Command: cmd})
	return cmd, nil
}

func (e *Engine) run(ctx context.Context, cmd Command, action func(context.Context, ConfigStore) error) error {
	if t, ok := cmd.(Targeted); ok {
		kind, name := t.Target()
		e.mu.Lock()
		gone := e.retired[retireKey(kind, name)]
		e.mu.Unlock()
		if gone {
			e.logger.Printf("[*] history: %s/%s was deleted, skipping %q", kind, name, cmd.Description())
			return nil
		}
	}
	return action(ctx, e.store)
}

// Retire marks an asset as hard-deleted. Commands targeting it still move
// between the stacks but no longer touch the store.
func (e *Engine) Retire(kind model.AssetKind, name string) {
	e.mu.Lock()
	e.retired[retireKey(kind, name)] = true
	e.mu.Unlock()
}

func retireKey(kind model.AssetKind, name string) string {
	return string(kind) + "/" + name
}

// Do runs fn in the serialized section without recording anything. Writes
// that bypass history use it to stay ordered with commands.
func (e *Engine) Do(ctx context.Context, fn func() error) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)
	return fn()
}

// Clear drops both stacks. It waits for any in-flight command.
func (e *Engine) Clear(ctx context.Context) error {
	return e.ClearIf(ctx, func() bool { return true })
}

// ClearIf drops both stacks when ok reports true, checked once every earlier
// submission has settled.
func (e *Engine) ClearIf(ctx context.Context, ok func() bool) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)
	if !ok() {
		return nil
	}

	e.mu.Lock()
	e.undo = nil
	e.redo = nil
	e.mu.Unlock()

	e.emit(Event{Op: OpClear})
	return nil
}

func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.undo) > 0
}

func (e *Engine) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.redo) > 0
}

// UndoStack returns a copy of the undo stack, oldest first.
func (e *Engine) UndoStack() []Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Command(nil), e.undo...)
}

// RedoStack returns a copy of the redo stack; the last entry is redone first.
func (e *Engine) RedoStack() []Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Command(nil), e.redo...)
}

// Max returns the history bound.
func (e *Engine) Max() int { return e.max }

// Subscribe registers fn for every completed transition and returns a function that removes it.
// Listeners run in the engine's serialized section, so they observe transitions in order
// and must not call Execute, Undo, Redo or Clear themselves.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	fns := make([]func(Event), 0, len(e.listeners))
	for id := 0; id < e.nextID; id++ {
		if fn, ok := e.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
