package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ivlev/papeterie/internal/model"
)

// memStore is an in-memory ConfigStore recording every PUT.
type memStore struct {
	mu     sync.Mutex
	docs   map[string]string
	puts   []string
	fail   error
	block  chan struct{}
	active int32
	peak   int32
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]string)}
}

func (s *memStore) PutConfig(ctx context.Context, kind model.AssetKind, name string, config []byte) error {
	n := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}

	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.docs[string(kind)+"/"+name] = string(config)
	s.puts = append(s.puts, string(config))
	return nil
}

func (s *memStore) doc(kind model.AssetKind, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[string(kind)+"/"+name]
}

func cmdN(i int) *UpdateConfig {
	return NewUpdateConfig(KindUpdateConfig, model.KindScene, "harbor",
		[]byte(fmt.Sprintf(`{"v":%d}`, i-1)),
		[]byte(fmt.Sprintf(`{"v":%d}`, i)),
		fmt.Sprintf("edit %d", i))
}

func TestExecuteUndoRedo(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	e := NewEngine(store, 0)

	if e.Max() != DefaultMaxHistory {
		t.Errorf("expected default max %d, got %d", DefaultMaxHistory, e.Max())
	}

	if err := e.Execute(ctx, cmdN(1)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := e.Execute(ctx, cmdN(2)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := store.doc(model.KindScene, "harbor"); got != `{"v":2}` {
		t.Fatalf("expected v2 stored, got %s", got)
	}

	undone, err := e.Undo(ctx)
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if undone.Description() != "edit 2" {
		t.Errorf("undid %q", undone.Description())
	}
	before := store.doc(model.KindScene, "harbor")
	if before != `{"v":1}` {
		t.Fatalf("expected v1 after undo, got %s", before)
	}

	if _, err := e.Redo(ctx); err != nil {
		t.Fatalf("redo: %v", err)
	}
	if _, err := e.Undo(ctx); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if got := store.doc(model.KindScene, "harbor"); got != before {
		t.Errorf("undo/redo round trip changed state: %s vs %s", got, before)
	}

	// New command clears redo.
	if !e.CanRedo() {
		t.Fatal("expected redo available")
	}
	if err := e.Execute(ctx, cmdN(3)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if e.CanRedo() || len(e.RedoStack()) != 0 {
		t.Error("redo stack not cleared by execute")
	}
}

func TestUndoRedoOnEmptyIsNoop(t *testing.T) {
	e := NewEngine(newMemStore(), 5)
	cmd, err := e.Undo(context.Background())
	if cmd != nil || err != nil {
		t.Errorf("expected no-op undo, got %v %v", cmd, err)
	}
	cmd, err = e.Redo(context.Background())
	if cmd != nil || err != nil {
		t.Errorf("expected no-op redo, got %v %v", cmd, err)
	}
}

func TestBoundedHistoryDropsOldest(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(newMemStore(), 2)
	c1, c2, c3 := cmdN(1), cmdN(2), cmdN(3)
	for _, c := range []Command{c1, c2, c3} {
		if err := e.Execute(ctx, c); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}
	undo := e.UndoStack()
	if len(undo) != 2 || undo[0] != c2 || undo[1] != c3 {
		t.Fatalf("expected [cmd2 cmd3], got %v", undo)
	}

	if _, err := e.Undo(ctx); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if n := len(e.UndoStack()) + len(e.RedoStack()); n > e.Max() {
		t.Errorf("history holds %d commands, bound is %d", n, e.Max())
	}
}

func TestFailedExecuteLeavesStacks(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	e := NewEngine(store, 10)
	if err := e.Execute(ctx, cmdN(1)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := e.Undo(ctx); err != nil {
		t.Fatalf("undo: %v", err)
	}

	boom := errors.New("boom")
	store.fail = boom
	if err := e.Execute(ctx, cmdN(2)); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(e.UndoStack()) != 0 || len(e.RedoStack()) != 1 {
		t.Errorf("stacks changed on failure: undo=%d redo=%d", len(e.UndoStack()), len(e.RedoStack()))
	}

	if _, err := e.Redo(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected boom on redo, got %v", err)
	}
	if len(e.RedoStack()) != 1 {
		t.Error("failed redo removed the command")
	}
}

func TestFailedUndoKeepsCommand(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	e := NewEngine(store, 10)
	c := cmdN(1)
	if err := e.Execute(ctx, c); err != nil {
		t.Fatalf("execute: %v", err)
	}
	store.fail = errors.New("offline")
	if _, err := e.Undo(ctx); err == nil {
		t.Fatal("expected error")
	}
	undo := e.UndoStack()
	if len(undo) != 1 || undo[0] != c {
		t.Error("failed undo should keep the command on the undo stack")
	}
}

func TestSnapshotsAreCopied(t *testing.T) {
	oldDoc := []byte(`{"v":0}`)
	newDoc := []byte(`{"v":1}`)
	c := NewUpdateConfig("", model.KindScene, "harbor", oldDoc, newDoc, "edit")
	oldDoc[5] = '9'
	newDoc[5] = '9'

	if string(c.OldConfig) != `{"v":0}` || string(c.NewConfig) != `{"v":1}` {
		t.Errorf("command aliases caller buffers: %s %s", c.OldConfig, c.NewConfig)
	}
	if c.Kind != KindUpdateConfig {
		t.Errorf("expected default kind, got %s", c.Kind)
	}
}

func TestCommandsAreSerialized(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.block = make(chan struct{})
	e := NewEngine(store, 10)

	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := e.Execute(ctx, cmdN(i)); err != nil {
				t.Errorf("execute %d: %v", i, err)
			}
		}(i)
		// Give each submission time to queue before the next.
		time.Sleep(20 * time.Millisecond)
	}
	for i := 0; i < 3; i++ {
		store.block <- struct{}{}
	}
	wg.Wait()

	if p := atomic.LoadInt32(&store.peak); p != 1 {
		t.Errorf("expected one PUT in flight at a time, saw %d", p)
	}
	want := []string{`{"v":1}`, `{"v":2}`, `{"v":3}`}
	for i, w := range want {
		if store.puts[i] != w {
			t.Errorf("put %d: expected %s, got %s", i, w, store.puts[i])
		}
	}
}

func TestRetiredAssetSkipsStore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	e := NewEngine(store, 10)
	c := NewUpdateConfig(KindBehaviors, model.KindSprite, "boat", []byte(`{}`), []byte(`{"a":1}`), "edit boat")
	if err := e.Execute(ctx, c); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := e.Undo(ctx); err != nil {
		t.Fatalf("undo: %v", err)
	}
	e.Retire(model.KindSprite, "boat")
	puts := len(store.puts)

	redone, err := e.Redo(ctx)
	if err != nil || redone != c {
		t.Fatalf("redo: %v %v", redone, err)
	}
	if len(store.puts) != puts {
		t.Error("redo of retired asset reached the store")
	}
}

func TestSubscribeReportsTransitions(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(newMemStore(), 10)
	var ops []Op
	unsubscribe := e.Subscribe(func(ev Event) { ops = append(ops, ev.Op) })

	e.Execute(ctx, cmdN(1))
	e.Undo(ctx)
	e.Redo(ctx)
	e.Clear(ctx)
	unsubscribe()
	e.Execute(ctx, cmdN(2))

	want := []Op{OpExecute, OpUndo, OpRedo, OpClear}
	if len(ops) != len(want) {
		t.Fatalf("expected %v, got %v", want, ops)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], ops[i])
		}
	}
}

func TestCanceledContextDoesNotQueue(t *testing.T) {
	store := newMemStore()
	store.block = make(chan struct{})
	e := NewEngine(store, 10)

	done := make(chan struct{})
	go func() {
		e.Execute(context.Background(), cmdN(1))
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Execute(ctx, cmdN(2)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	store.block <- struct{}{}
	<-done
	if len(e.UndoStack()) != 1 {
		t.Errorf("expected only the first command recorded, got %d", len(e.UndoStack()))
	}
}

func TestExecuteFuncBuildsAfterEarlierCommands(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.block = make(chan struct{})
	e := NewEngine(store, 10)

	first := make(chan error, 1)
	go func() { first <- e.Execute(ctx, cmdN(1)) }()
	time.Sleep(20 * time.Millisecond)

	// The builder must see the first PUT, not the state at submission.
	second := make(chan error, 1)
	go func() {
		second <- e.ExecuteFunc(ctx, func() (Command, error) {
			if got := store.doc(model.KindScene, "harbor"); got != `{"v":1}` {
				return nil, fmt.Errorf("built before the first edit settled: %q", got)
			}
			return cmdN(2), nil
		})
	}()
	time.Sleep(20 * time.Millisecond)
	store.block <- struct{}{}
	store.block <- struct{}{}

	if err := <-first; err != nil {
		t.Fatal(err)
	}
	if err := <-second; err != nil {
		t.Fatal(err)
	}
	if n := len(e.UndoStack()); n != 2 {
		t.Errorf("undo stack = %d", n)
	}
}

func TestExecuteFuncNothingToDo(t *testing.T) {
	store := newMemStore()
	e := NewEngine(store, 10)
	if err := e.ExecuteFunc(context.Background(), func() (Command, error) { return nil, nil }); err != nil {
		t.Fatal(err)
	}
	if e.CanUndo() || len(store.puts) != 0 {
		t.Error("an empty build must not touch the stacks or the store")
	}

	boom := errors.New("boom")
	if err := e.ExecuteFunc(context.Background(), func() (Command, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Errorf("got %v", err)
	}
}

func TestDoAndClearIf(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(newMemStore(), 10)
	if err := e.Execute(ctx, cmdN(1)); err != nil {
		t.Fatal(err)
	}

	ran := false
	if err := e.Do(ctx, func() error { ran = true; return nil }); err != nil || !ran {
		t.Fatalf("Do: ran=%v err=%v", ran, err)
	}
	if !e.CanUndo() {
		t.Error("Do touched the stacks")
	}

	e.ClearIf(ctx, func() bool { return false })
	if !e.CanUndo() {
		t.Error("declined clear dropped the stacks")
	}
	e.ClearIf(ctx, func() bool { return true })
	if e.CanUndo() {
		t.Error("clear kept the stacks")
	}
}
