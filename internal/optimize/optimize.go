// Package optimize drives the long-running backend jobs of an open asset:
// sprite processing, scene optimization, rotation baking and revert.
package optimize

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ivlev/papeterie/internal/model"
	"github.com/ivlev/papeterie/internal/remote"
	"github.com/ivlev/papeterie/internal/storage"
)

var (
	ErrNoAsset  = errors.New("no asset open")
	ErrRunning  = errors.New("optimization already running")
	ErrDeclined = errors.New("declined by user")
	ErrKind     = errors.New("not supported for this asset kind")
)

// DefaultPollInterval is how often the log tail polls while a scene optimizes.
const DefaultPollInterval = time.Second

// Backend is the part of the remote store the controller calls.
type Backend interface {
	Process(ctx context.Context, name string, opts remote.ProcessOptions) error
	OptimizeScene(ctx context.Context, name string, opts remote.OptimizeOptions) error
	Rotate(ctx context.Context, kind model.AssetKind, name string, angle float64) (remote.RotateResult, error)
	Revert(ctx context.Context, name string) error
	Logs(ctx context.Context, kind model.AssetKind, name string) (remote.LogResult, error)
}

// Confirmer asks the user before a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, message string) bool
}

// Asset is the open document the controller keeps fresh.
type Asset interface {
	// Refresh re-fetches the document and returns its used sprites.
	Refresh(ctx context.Context) (usedSprites []string, err error)
	// SelectSprite makes name the selected layer.
	SelectSprite(name string)
}

type Options struct {
	PollInterval time.Duration
	Logger       *log.Logger
	// Verbose logs log-tail failures, which are otherwise dropped silently.
	Verbose bool
}

// State is a snapshot of the controller for views.
type State struct {
	Kind           model.AssetKind
	Name           string
	IsOptimizing   bool
	ImageTimestamp int64
	VisualPrompt   string
	ProcessingMode remote.ProcessingMode
	LogContent     string
}

// Controller runs optimization jobs for whichever asset is currently open.
// Responses that arrive after the asset was swapped are dropped.
type Controller struct {
	backend Backend
	confirm Confirmer
	asset   Asset
	prompt  *storage.Bound[string]
	opts    Options
	flight  singleflight.Group
	now     func() time.Time

	mu             sync.Mutex
	kind           model.AssetKind
	name           string
	gen            uint64
	optimizing     bool
	imageTimestamp int64
	mode           remote.ProcessingMode
	logContent     string
	knownSprites   int
	stopTail       func()
	listeners      map[int]func(State)
	nextID         int
}

// New creates a controller. The visual prompt is persisted in store.
func New(backend Backend, confirm Confirmer, asset Asset, store *storage.Store, opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	c := &Controller{
		backend:   backend,
		confirm:   confirm,
		asset:     asset,
		opts:      opts,
		now:       time.Now,
		mode:      remote.ProcessingLocal,
		listeners: make(map[int]func(State)),
	}
	c.prompt = storage.Bind(store, "", "")
	c.prompt.Subscribe(func(string) { c.notify() })
	return c
}

// SetAsset switches to another asset. In-flight work for the previous one
// keeps running remotely but its results are ignored.
func (c *Controller) SetAsset(kind model.AssetKind, name string, usedSprites []string) {
	c.mu.Lock()
	c.gen++
	stop := c.stopTail
	c.stopTail = nil
	c.kind, c.name = kind, name
	c.optimizing = false
	c.logContent = ""
	c.knownSprites = len(usedSprites)
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	key := ""
	if name != "" {
		key = storage.PromptKey(kind, name)
	}
	c.prompt.Rebind(key, "")
	c.notify()
}

// Close stops observing the current asset.
func (c *Controller) Close() {
	c.SetAsset("", "", nil)
	c.prompt.Release()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Kind:           c.kind,
		Name:           c.name,
		IsOptimizing:   c.optimizing,
		ImageTimestamp: c.imageTimestamp,
		VisualPrompt:   c.prompt.Get(),
		ProcessingMode: c.mode,
		LogContent:     c.logContent,
	}
}

func (c *Controller) IsOptimizing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.optimizing
}

// ImageTimestamp is the cache-buster for preview URLs; it changes whenever
// a job rewrote the asset's images.
func (c *Controller) ImageTimestamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.imageTimestamp
}

func (c *Controller) Prompt() string { return c.prompt.Get() }

// SetPrompt updates the visual prompt of the current asset and persists it.
func (c *Controller) SetPrompt(p string) { c.prompt.Set(p) }

func (c *Controller) SetProcessingMode(m remote.ProcessingMode) {
	c.mu.Lock()
	c.mode = m
	c.mu.Unlock()
	c.notify()
}

// Optimize runs the processing job of the current asset and blocks until it
// finishes. While a scene optimizes its log is tailed and the asset refreshed.
func (c *Controller) Optimize(ctx context.Context) error {
	c.mu.Lock()
	if c.name == "" {
		c.mu.Unlock()
		return ErrNoAsset
	}
	if c.optimizing {
		c.mu.Unlock()
		return ErrRunning
	}
	c.optimizing = true
	gen, kind, name, mode := c.gen, c.kind, c.name, c.mode
	c.mu.Unlock()
	c.notify()

	var err error
	switch kind {
	case model.KindSprite:
		err = c.backend.Process(ctx, name, remote.ProcessOptions{Optimize: true, RemoveBackground: true})
	case model.KindScene:
		c.startTail(gen, kind, name)
		err = c.backend.OptimizeScene(ctx, name, remote.OptimizeOptions{
			PromptGuidance: c.prompt.Get(),
			ProcessingMode: mode,
		})
	default:
		err = ErrKind
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.opts.Logger.Printf("[*] optimize: %s %q finished after the asset was closed", kind, name)
		return err
	}
	c.optimizing = false
	stop := c.stopTail
	c.stopTail = nil
	if err == nil {
		c.imageTimestamp = c.now().UnixMilli()
	}
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
	c.notify()

	if err != nil {
		return fmt.Errorf("optimize %s %q: %w", kind, name, err)
	}
	c.opts.Logger.Printf("[*] optimize: %s %q done", kind, name)
	c.settle(ctx, gen, kind, name)
	return nil
}

// settle picks up the last log lines of a finished job together with the
// document it rewrote. Either may fail without affecting the other.
func (c *Controller) settle(ctx context.Context, gen uint64, kind model.AssetKind, name string) {
	var g errgroup.Group
	if kind == model.KindScene {
		g.Go(func() error {
			res, err := c.backend.Logs(ctx, kind, name)
			if err != nil {
				return fmt.Errorf("final log %s %q: %w", kind, name, err)
			}
			c.setLog(gen, res.Content)
			return nil
		})
	}
	g.Go(func() error {
		c.refresh(ctx, gen)
		return nil
	})
	if err := g.Wait(); err != nil && c.opts.Verbose {
		c.opts.Logger.Printf("[*] optimize: %v", err)
	}
}

// Revert restores the original image of the current sprite after confirmation.
func (c *Controller) Revert(ctx context.Context) error {
	gen, kind, name, err := c.current()
	if err != nil {
		return err
	}
	if kind != model.KindSprite {
		return fmt.Errorf("revert %s: %w", kind, ErrKind)
	}
	if !c.confirm.Confirm(ctx, fmt.Sprintf("Revert '%s' to its original image? This cannot be undone.", name)) {
		return ErrDeclined
	}
	if err := c.backend.Revert(ctx, name); err != nil {
		return fmt.Errorf("revert %q: %w", name, err)
	}
	c.imagesChanged(ctx, gen)
	return nil
}

// SaveRotation bakes deg into the asset's image files after confirmation.
func (c *Controller) SaveRotation(ctx context.Context, deg float64) (string, error) {
	gen, kind, name, err := c.current()
	if err != nil {
		return "", err
	}
	msg := fmt.Sprintf("Permanently rotate '%s' by %s°? This cannot be undone.", name, strconv.FormatFloat(deg, 'g', -1, 64))
	if !c.confirm.Confirm(ctx, msg) {
		return "", ErrDeclined
	}
	res, err := c.backend.Rotate(ctx, kind, name, deg)
	if err != nil {
		return "", fmt.Errorf("rotate %s %q: %w", kind, name, err)
	}
	c.imagesChanged(ctx, gen)
	return res.Message, nil
}

func (c *Controller) current() (uint64, model.AssetKind, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.name == "" {
		return 0, "", "", ErrNoAsset
	}
	return c.gen, c.kind, c.name, nil
}

func (c *Controller) imagesChanged(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.imageTimestamp = c.now().UnixMilli()
	c.mu.Unlock()
	c.notify()
	c.refresh(ctx, gen)
}

// startTail polls the job log until the returned tail is stopped or the asset changes.
func (c *Controller) startTail(gen uint64, kind model.AssetKind, name string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		cancel()
		return
	}
	c.stopTail = func() {
		cancel()
		<-done
	}
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.pollOnce(ctx, gen, kind, name)
			}
		}
	}()
}

func (c *Controller) pollOnce(ctx context.Context, gen uint64, kind model.AssetKind, name string) {
	res, err := c.backend.Logs(ctx, kind, name)
	if err != nil {
		if c.opts.Verbose && ctx.Err() == nil {
			c.opts.Logger.Printf("[*] optimize: log poll %s %q: %v", kind, name, err)
		}
	} else {
		c.setLog(gen, res.Content)
	}
	c.refresh(ctx, gen)
}

func (c *Controller) setLog(gen uint64, content string) {
	c.mu.Lock()
	fresh := c.gen == gen && c.logContent != content
	if fresh {
		c.logContent = content
	}
	c.mu.Unlock()
	if fresh {
		c.notify()
	}
}

// refresh re-fetches the asset. Overlapping refreshes of one generation share
// a single request. A grown used_sprites list selects its newest entry.
func (c *Controller) refresh(ctx context.Context, gen uint64) {
	if c.asset == nil {
		return
	}
	v, err, _ := c.flight.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		return c.asset.Refresh(ctx)
	})
	if err != nil {
		if c.opts.Verbose && ctx.Err() == nil {
			c.opts.Logger.Printf("[*] optimize: refresh: %v", err)
		}
		return
	}
	used, _ := v.([]string)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	grew := len(used) > c.knownSprites
	if len(used) != c.knownSprites {
		c.knownSprites = len(used)
	}
	c.mu.Unlock()

	if grew {
		c.asset.SelectSprite(used[len(used)-1])
	}
}

// Subscribe calls fn after every state change and returns a function that removes it.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Controller) notify() {
	s := c.State()
	c.mu.Lock()
	fns := make([]func(State), 0, len(c.listeners))
	for id := 0; id < c.nextID; id++ {
		if fn, ok := c.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}
