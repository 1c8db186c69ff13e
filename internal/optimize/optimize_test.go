package optimize

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/ivlev/papeterie/internal/model"
	"github.com/ivlev/papeterie/internal/remote"
	"github.com/ivlev/papeterie/internal/storage"
)

type fakeBackend struct {
	mu        sync.Mutex
	calls     []string
	process   remote.ProcessOptions
	optimize  remote.OptimizeOptions
	angle     float64
	release   chan struct{} // when set, jobs block until closed
	logs      string
	failLogs  bool
	jobStarts chan struct{}
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) wait(ctx context.Context) error {
	if f.jobStarts != nil {
		f.jobStarts <- struct{}{}
	}
	if f.release == nil {
		return nil
	}
	select {
	case <-f.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeBackend) Process(ctx context.Context, name string, opts remote.ProcessOptions) error {
	f.record("process " + name)
	f.mu.Lock()
	f.process = opts
	f.mu.Unlock()
	return f.wait(ctx)
}

func (f *fakeBackend) OptimizeScene(ctx context.Context, name string, opts remote.OptimizeOptions) error {
	f.record("optimize " + name)
	f.mu.Lock()
	f.optimize = opts
	f.mu.Unlock()
	return f.wait(ctx)
}

func (f *fakeBackend) Rotate(ctx context.Context, kind model.AssetKind, name string, angle float64) (remote.RotateResult, error) {
	f.record("rotate " + string(kind) + " " + name)
	f.mu.Lock()
	f.angle = angle
	f.mu.Unlock()
	return remote.RotateResult{Message: "rotated"}, nil
}

func (f *fakeBackend) Revert(ctx context.Context, name string) error {
	f.record("revert " + name)
	return nil
}

func (f *fakeBackend) Logs(ctx context.Context, kind model.AssetKind, name string) (remote.LogResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLogs {
		return remote.LogResult{}, &remote.Error{Kind: remote.KindNetwork, Op: "GET /logs"}
	}
	return remote.LogResult{Content: f.logs}, nil
}

type fakeAsset struct {
	mu        sync.Mutex
	used      []string
	refreshes int
	selected  []string
}

func (a *fakeAsset) Refresh(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshes++
	return append([]string(nil), a.used...), nil
}

func (a *fakeAsset) SelectSprite(name string) {
	a.mu.Lock()
	a.selected = append(a.selected, name)
	a.mu.Unlock()
}

func (a *fakeAsset) snapshot() (int, []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshes, append([]string(nil), a.selected...)
}

type answer bool

func (a answer) Confirm(context.Context, string) bool { return bool(a) }

func newController(t *testing.T, b *fakeBackend, a *fakeAsset, confirm bool, poll time.Duration) (*Controller, *storage.Store) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	store := storage.New(nil, logger)
	c := New(b, answer(confirm), a, store, Options{PollInterval: poll, Logger: logger})
	t.Cleanup(c.Close)
	return c, store
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOptimizeSprite(t *testing.T) {
	b := &fakeBackend{}
	a := &fakeAsset{}
	c, _ := newController(t, b, a, true, time.Hour)
	c.SetAsset(model.KindSprite, "boat", nil)

	var seen []bool
	c.Subscribe(func(s State) { seen = append(seen, s.IsOptimizing) })

	if err := c.Optimize(context.Background()); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if b.process != (remote.ProcessOptions{Optimize: true, RemoveBackground: true}) {
		t.Errorf("process options = %+v", b.process)
	}
	if c.IsOptimizing() {
		t.Error("still optimizing after completion")
	}
	if len(seen) < 2 || !seen[0] || seen[len(seen)-1] {
		t.Errorf("optimizing transitions = %v", seen)
	}
	if c.ImageTimestamp() == 0 {
		t.Error("image timestamp not bumped")
	}
	if n, _ := a.snapshot(); n != 1 {
		t.Errorf("refreshes = %d, want 1", n)
	}
}

func TestOptimizeSceneSendsPromptAndMode(t *testing.T) {
	b := &fakeBackend{}
	c, _ := newController(t, b, &fakeAsset{}, true, time.Hour)
	c.SetAsset(model.KindScene, "harbor", nil)
	c.SetPrompt("calm sea at dawn")
	c.SetProcessingMode(remote.ProcessingLLM)

	if err := c.Optimize(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := remote.OptimizeOptions{PromptGuidance: "calm sea at dawn", ProcessingMode: remote.ProcessingLLM}
	if b.optimize != want {
		t.Errorf("optimize options = %+v, want %+v", b.optimize, want)
	}
}

func TestOptimizeTailsLogAndSelectsNewSprites(t *testing.T) {
	b := &fakeBackend{release: make(chan struct{}), logs: "step 1"}
	a := &fakeAsset{used: []string{"sky"}}
	c, _ := newController(t, b, a, true, 5*time.Millisecond)
	c.SetAsset(model.KindScene, "harbor", []string{"sky"})

	errc := make(chan error, 1)
	go func() { errc <- c.Optimize(context.Background()) }()

	waitFor(t, "log content", func() bool { return c.State().LogContent == "step 1" })

	a.mu.Lock()
	a.used = append(a.used, "boat")
	a.mu.Unlock()
	waitFor(t, "auto-select", func() bool {
		_, sel := a.snapshot()
		return len(sel) == 1 && sel[0] == "boat"
	})

	if !c.IsOptimizing() {
		t.Error("should be optimizing while the job runs")
	}
	close(b.release)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if c.IsOptimizing() {
		t.Error("still optimizing")
	}

	// The tail is stopped; no more selections happen.
	_, sel := a.snapshot()
	time.Sleep(20 * time.Millisecond)
	if _, after := a.snapshot(); len(after) != len(sel) {
		t.Errorf("selections continued after the job: %v", after)
	}
}

func TestLogPollFailuresAreSwallowed(t *testing.T) {
	b := &fakeBackend{release: make(chan struct{}), failLogs: true}
	a := &fakeAsset{}
	c, _ := newController(t, b, a, true, 5*time.Millisecond)
	c.SetAsset(model.KindScene, "harbor", nil)

	errc := make(chan error, 1)
	go func() { errc <- c.Optimize(context.Background()) }()
	waitFor(t, "refresh during tail", func() bool { n, _ := a.snapshot(); return n > 0 })
	close(b.release)
	if err := <-errc; err != nil {
		t.Errorf("log failures leaked: %v", err)
	}
}

func TestFinishedSceneJobKeepsFinalLog(t *testing.T) {
	b := &fakeBackend{logs: "step 1\nstep 2\ndone"}
	a := &fakeAsset{}
	c, _ := newController(t, b, a, true, time.Hour)
	c.SetAsset(model.KindScene, "harbor", nil)

	if err := c.Optimize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := c.State().LogContent; got != "step 1\nstep 2\ndone" {
		t.Errorf("log content %q", got)
	}
	if n, _ := a.snapshot(); n != 1 {
		t.Errorf("refreshes = %d, want 1", n)
	}
}

func TestFinalLogFailureStillRefreshes(t *testing.T) {
	b := &fakeBackend{failLogs: true}
	a := &fakeAsset{}
	c, _ := newController(t, b, a, true, time.Hour)
	c.SetAsset(model.KindScene, "harbor", nil)

	if err := c.Optimize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n, _ := a.snapshot(); n != 1 {
		t.Errorf("refreshes = %d, want 1", n)
	}
}

func TestStaleCompletionIsDropped(t *testing.T) {
	b := &fakeBackend{release: make(chan struct{}), jobStarts: make(chan struct{}, 1)}
	a := &fakeAsset{}
	c, _ := newController(t, b, a, true, time.Hour)
	c.SetAsset(model.KindScene, "harbor", nil)

	errc := make(chan error, 1)
	go func() { errc <- c.Optimize(context.Background()) }()
	<-b.jobStarts

	c.SetAsset(model.KindScene, "forest", nil)
	if c.IsOptimizing() {
		t.Error("new asset should not inherit the running flag")
	}
	close(b.release)
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	if c.ImageTimestamp() != 0 {
		t.Error("stale job bumped the image timestamp")
	}
	if n, _ := a.snapshot(); n != 0 {
		t.Errorf("stale job refreshed the new asset %d times", n)
	}
	if s := c.State(); s.Name != "forest" || s.IsOptimizing {
		t.Errorf("state = %+v", s)
	}
}

func TestOptimizeWhileRunning(t *testing.T) {
	b := &fakeBackend{release: make(chan struct{}), jobStarts: make(chan struct{}, 1)}
	c, _ := newController(t, b, &fakeAsset{}, true, time.Hour)
	c.SetAsset(model.KindSprite, "boat", nil)

	errc := make(chan error, 1)
	go func() { errc <- c.Optimize(context.Background()) }()
	<-b.jobStarts

	if err := c.Optimize(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("got %v, want ErrRunning", err)
	}
	close(b.release)
	<-errc
}

func TestOptimizeWithoutAsset(t *testing.T) {
	c, _ := newController(t, &fakeBackend{}, &fakeAsset{}, true, time.Hour)
	if err := c.Optimize(context.Background()); !errors.Is(err, ErrNoAsset) {
		t.Errorf("got %v, want ErrNoAsset", err)
	}
}

func TestRevertNeedsConfirmation(t *testing.T) {
	b := &fakeBackend{}
	c, _ := newController(t, b, &fakeAsset{}, false, time.Hour)
	c.SetAsset(model.KindSprite, "boat", nil)

	if err := c.Revert(context.Background()); !errors.Is(err, ErrDeclined) {
		t.Errorf("got %v, want ErrDeclined", err)
	}
	if len(b.Calls()) != 0 {
		t.Errorf("declined revert called backend: %v", b.Calls())
	}
}

func TestRevertSprite(t *testing.T) {
	b := &fakeBackend{}
	a := &fakeAsset{}
	c, _ := newController(t, b, a, true, time.Hour)

	c.SetAsset(model.KindScene, "harbor", nil)
	if err := c.Revert(context.Background()); !errors.Is(err, ErrKind) {
		t.Errorf("scene revert: got %v", err)
	}

	c.SetAsset(model.KindSprite, "boat", nil)
	if err := c.Revert(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls := b.Calls(); len(calls) != 1 || calls[0] != "revert boat" {
		t.Errorf("calls = %v", calls)
	}
	if c.ImageTimestamp() == 0 {
		t.Error("image timestamp not bumped")
	}
}

func TestSaveRotation(t *testing.T) {
	b := &fakeBackend{}
	c, _ := newController(t, b, &fakeAsset{}, true, time.Hour)
	c.SetAsset(model.KindScene, "harbor", nil)

	msg, err := c.SaveRotation(context.Background(), 90)
	if err != nil {
		t.Fatal(err)
	}
	if msg != "rotated" || b.angle != 90 {
		t.Errorf("msg %q angle %v", msg, b.angle)
	}
	if calls := b.Calls(); calls[0] != "rotate scene harbor" {
		t.Errorf("calls = %v", calls)
	}
}

func TestPromptPersistsPerAsset(t *testing.T) {
	c, store := newController(t, &fakeBackend{}, &fakeAsset{}, true, time.Hour)

	c.SetAsset(model.KindScene, "harbor", nil)
	c.SetPrompt("foggy")
	if got := storage.Load(store, storage.PromptKey(model.KindScene, "harbor"), ""); got != "foggy" {
		t.Errorf("stored prompt = %q", got)
	}

	c.SetAsset(model.KindScene, "forest", nil)
	if c.Prompt() != "" {
		t.Errorf("forest prompt = %q, want empty", c.Prompt())
	}

	c.SetAsset(model.KindScene, "harbor", nil)
	if c.Prompt() != "foggy" {
		t.Errorf("harbor prompt = %q, want foggy", c.Prompt())
	}
}
