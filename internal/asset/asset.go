// Package asset is the façade a view binds to for one open scene or sprite.
// It owns the authoritative copy of the document and routes every edit
// through the history engine.
package asset

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ivlev/papeterie/internal/history"
	"github.com/ivlev/papeterie/internal/model"
	"github.com/ivlev/papeterie/internal/optimize"
	"github.com/ivlev/papeterie/internal/remote"
	"github.com/ivlev/papeterie/internal/storage"
	"github.com/ivlev/papeterie/internal/timeline"
)

// Remote is the backend surface the façade uses.
type Remote interface {
	history.ConfigStore
	optimize.Backend
	GetConfig(ctx context.Context, kind model.AssetKind, name string) (json.RawMessage, error)
	Delete(ctx context.Context, kind model.AssetKind, name string, mode remote.DeleteMode) (remote.DeleteResult, error)
}

var _ Remote = (*remote.Client)(nil)

// Tab is the side panel shown next to the preview.
type Tab string

const (
	TabSprites Tab = "sprites"
	TabJSON    Tab = "json"
)

type Options struct {
	MaxHistory   int
	PollInterval time.Duration
	Layout       timeline.Layout
	// DirectVisibility writes visibility toggles straight to the backend
	// instead of recording them in history.
	DirectVisibility bool
	Logger           *log.Logger
	Verbose          bool
}

// Controller is the façade for one open asset at a time.
type Controller struct {
	remote    Remote
	notifier  Notifier
	confirm   optimize.Confirmer
	logger    *log.Logger
	opts      Options
	history   *history.Engine
	timeline  *timeline.Engine
	optimizer *optimize.Controller
	tab       *storage.Bound[Tab]

	mu         sync.Mutex
	kind       model.AssetKind
	name       string
	gen        uint64
	ctx        context.Context
	cancel     context.CancelFunc
	doc        []byte
	scene      *model.Scene
	sprite     *model.SpriteMetadata
	visibility map[string]bool
	pending    map[string]bool
	dragBase   []byte
	listeners  map[int]func()
	nextID     int
}

// New wires a façade to a backend. UI state is persisted in store.
func New(r Remote, store *storage.Store, notifier Notifier, confirm optimize.Confirmer, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Layout == (timeline.Layout{}) {
		opts.Layout = timeline.DefaultLayout()
	}
	c := &Controller{
		remote:     r,
		notifier:   notifier,
		confirm:    confirm,
		logger:     opts.Logger,
		opts:       opts,
		visibility: make(map[string]bool),
		pending:    make(map[string]bool),
		listeners:  make(map[int]func()),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.history = history.NewEngine(r, opts.MaxHistory)
	c.history.SetLogger(opts.Logger)
	c.history.Subscribe(c.onHistory)

	c.timeline = timeline.New(timelineHost{c}, opts.Layout, opts.Logger)
	c.timeline.Subscribe(c.notify)

	c.optimizer = optimize.New(r, confirm, c, store, optimize.Options{
		PollInterval: opts.PollInterval,
		Logger:       opts.Logger,
		Verbose:      opts.Verbose,
	})
	c.optimizer.Subscribe(func(optimize.State) { c.notify() })

	c.tab = storage.Bind(store, storage.LastActiveTabKey, TabSprites)
	return c
}

func (c *Controller) History() *history.Engine       { return c.history }
func (c *Controller) Timeline() *timeline.Engine     { return c.timeline }
func (c *Controller) Optimizer() *optimize.Controller { return c.optimizer }

// Open loads an asset and makes it current. History is cleared, selection
// resets to the scene itself (or the sprite), and the prompt is re-hydrated.
// When the asset cannot be loaded the current one stays open, history intact.
func (c *Controller) Open(ctx context.Context, kind model.AssetKind, name string) error {
	doc, err := c.remote.GetConfig(ctx, kind, name)
	if err != nil {
		return c.fail("open", fmt.Errorf("open %s %q: %w", kind, name, err))
	}
	if err := checkDoc(kind, name, doc); err != nil {
		return c.fail("open", err)
	}

	var (
		used     []string
		duration float64
	)
	// The swap happens between commands, so no edit of the previous asset
	// lands in the fresh history.
	err = c.history.ClearIf(ctx, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.cancel()
		c.ctx, c.cancel = context.WithCancel(context.Background())
		c.gen++
		c.kind, c.name = kind, name
		c.pending = make(map[string]bool)
		c.visibility = make(map[string]bool)
		c.dragBase = nil
		c.setDocLocked(doc)
		used = c.usedSpritesLocked()
		duration = c.durationLocked()
		return true
	})
	if err != nil {
		return c.fail("open", err)
	}

	selected := timeline.Original
	if kind == model.KindSprite {
		selected = name
	}
	c.timeline.Reset(duration, selected)
	c.syncTimeline()
	c.optimizer.SetAsset(kind, name, used)
	c.logger.Printf("[*] opened %s %q", kind, name)
	c.notify()
	return nil
}

// checkDoc reports whether doc decodes as an asset of kind.
func checkDoc(kind model.AssetKind, name string, doc []byte) error {
	switch kind {
	case model.KindScene:
		_, err := decodeScene(doc)
		return err
	case model.KindSprite:
		_, err := decodeSprite(doc, name)
		return err
	}
	return fmt.Errorf("%s %q: %w", kind, name, ErrWrongKind)
}

// Close stops observing the current asset. In-flight requests still settle
// but their responses are dropped.
func (c *Controller) Close() {
	c.mu.Lock()
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.gen++
	c.kind, c.name = "", ""
	c.doc, c.scene, c.sprite = nil, nil, nil
	c.visibility = make(map[string]bool)
	c.pending = make(map[string]bool)
	c.dragBase = nil
	c.mu.Unlock()

	c.optimizer.SetAsset("", "", nil)
	c.timeline.Reset(model.DefaultDuration, "")
	c.timeline.SetLayers(nil, 0)
	c.notify()
}

// Shutdown closes the asset and releases background resources.
func (c *Controller) Shutdown() {
	c.Close()
	c.timeline.Close()
	c.optimizer.Close()
	c.tab.Release()
}

// Refresh re-fetches the current document without touching history. It
// returns the scene's used sprites so optimization can follow new ones.
func (c *Controller) Refresh(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	gen, kind, name := c.gen, c.kind, c.name
	c.mu.Unlock()
	if name == "" {
		return nil, ErrNoAsset
	}

	doc, err := c.remote.GetConfig(ctx, kind, name)
	if err != nil {
		return nil, fmt.Errorf("refresh %s %q: %w", kind, name, err)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil, nil
	}
	if c.dragBase != nil {
		// A drag preview owns the document until it is dropped.
		used := c.usedSpritesLocked()
		c.mu.Unlock()
		return used, nil
	}
	if err := c.setDocLocked(doc); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	used := c.usedSpritesLocked()
	c.mu.Unlock()

	c.syncTimeline()
	c.notify()
	return used, nil
}

// SelectSprite selects a layer of the open scene.
func (c *Controller) SelectSprite(name string) {
	c.timeline.Select(name)
}

func (c *Controller) Selection() timeline.Selection {
	return c.timeline.Selection()
}

// Asset returns the kind and name of the open asset.
func (c *Controller) Asset() (model.AssetKind, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind, c.name
}

// Document returns the current document as JSON.
func (c *Controller) Document() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.doc...)
}

// Scene returns a copy of the open scene, or nil.
func (c *Controller) Scene() *model.Scene {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scene == nil {
		return nil
	}
	s, err := c.scene.Clone()
	if err != nil {
		return nil
	}
	return s
}

// Sprite returns a copy of the open sprite's metadata, or nil.
func (c *Controller) Sprite() *model.SpriteMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sprite == nil {
		return nil
	}
	m, err := c.sprite.Clone()
	if err != nil {
		return nil
	}
	return m
}

// Visible reports the displayed visibility of a layer, including optimistic changes.
func (c *Controller) Visible(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibility[name]
}

func (c *Controller) Tab() Tab { return c.tab.Get() }

func (c *Controller) SetTab(t Tab) { c.tab.Set(t) }

func (c *Controller) VisualPrompt() string { return c.optimizer.Prompt() }

func (c *Controller) SetVisualPrompt(p string) { c.optimizer.SetPrompt(p) }

// Subscribe calls fn after every observable change and returns a function that removes it.
func (c *Controller) Subscribe(fn func()) (unsubscribe func()) {
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
	c.mu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for id := 0; id < c.nextID; id++ {
		if fn, ok := c.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// onHistory keeps the document in step with the stacks. It runs inside the
// engine's serialized section, so documents change in submission order.
func (c *Controller) onHistory(ev history.Event) {
	cmd, ok := ev.Command.(*history.UpdateConfig)
	if !ok {
		return
	}
	doc := cmd.NewConfig
	if ev.Op == history.OpUndo {
		doc = cmd.OldConfig
	}

	c.mu.Lock()
	if cmd.AssetKind != c.kind || cmd.AssetName != c.name {
		c.mu.Unlock()
		return
	}
	if err := c.setDocLocked(doc); err != nil {
		c.logger.Printf("[!] %s %q: %v", c.kind, c.name, err)
	}
	c.mu.Unlock()
	c.syncTimeline()
	c.notify()
}

// setDocLocked installs doc as the current document.
func (c *Controller) setDocLocked(doc []byte) error {
	switch c.kind {
	case model.KindScene:
		var s model.Scene
		if err := json.Unmarshal(doc, &s); err != nil {
			return fmt.Errorf("decode scene: %w", err)
		}
		c.scene, c.sprite = &s, nil
		for _, l := range s.Layers {
			if !c.pending[l.SpriteName] {
				c.visibility[l.SpriteName] = l.Visible
			}
		}
	case model.KindSprite:
		var m model.SpriteMetadata
		if err := json.Unmarshal(doc, &m); err != nil {
			return fmt.Errorf("decode sprite: %w", err)
		}
		if m.Name == "" {
			m.Name = c.name
		}
		c.scene, c.sprite = nil, &m
	default:
		return ErrNoAsset
	}
	c.doc = append([]byte(nil), doc...)
	return nil
}

func (c *Controller) usedSpritesLocked() []string {
	if c.scene == nil {
		return nil
	}
	return append([]string(nil), c.scene.UsedSprites...)
}

func (c *Controller) durationLocked() float64 {
	if c.scene == nil {
		return model.DefaultDuration
	}
	return c.scene.Duration()
}

// syncTimeline redraws the timeline lanes from the current document.
func (c *Controller) syncTimeline() {
	c.mu.Lock()
	var layers []timeline.LayerInfo
	duration := c.durationLocked()
	switch {
	case c.scene != nil:
		for _, l := range c.scene.Layers {
			layers = append(layers, timeline.LayerInfo{
				Sprite:    l.SpriteName,
				ZDepth:    l.ZDepth,
				Keyframes: keyframes(l.SpriteName, l.Behaviors),
			})
		}
	case c.sprite != nil:
		z := c.sprite.ZDepth
		if z == 0 {
			z = model.DefaultZDepth
		}
		layers = append(layers, timeline.LayerInfo{
			Sprite:    c.name,
			ZDepth:    z,
			Keyframes: keyframes(c.name, c.sprite.Behaviors),
		})
	}
	c.mu.Unlock()
	c.timeline.SetLayers(layers, duration)
}

// keyframes lists the timed behaviors of a layer.
func keyframes(sprite string, list model.BehaviorList) []timeline.Keyframe {
	var out []timeline.Keyframe
	for i, b := range list {
		if t := b.Time(); t > 0 {
			out = append(out, timeline.Keyframe{Sprite: sprite, Index: i, Time: t})
		}
	}
	return out
}
