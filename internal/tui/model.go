// Package tui is the terminal front end: a bubbletea program hosting one
// asset.Controller, with the timeline drawn in character cells.
package tui

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ivlev/papeterie/internal/asset"
	"github.com/ivlev/papeterie/internal/model"
	"github.com/ivlev/papeterie/internal/panel"
	"github.com/ivlev/papeterie/internal/storage"
	"github.com/ivlev/papeterie/internal/timeline"
)

const (
	// timelineTop is the screen row of the ruler; the header sits above it.
	timelineTop     = 1
	labelWidth      = 16
	defaultLaneRows = 8
	maxLaneRows     = 20
	maxToasts       = 3

	// Share of the screen below the header given to the timeline.
	timelineSplitDefault = 0.4
	timelineSplitMin     = 0.15
	timelineSplitMax     = 0.8
)

// Layout is the timeline geometry with one cell standing for one pixel.
func Layout() timeline.Layout {
	return timeline.Layout{
		RulerHeight:    1,
		TrackOrigin:    labelWidth,
		LaneHeight:     1,
		ViewportHeight: 1 + defaultLaneRows,
		EdgeZone:       1,
		HitBox:         1,
		ScrollStep:     1,
		ScrollInterval: 100 * time.Millisecond,
		MinZoom:        0.25,
		MaxZoom:        40,
	}
}

// AssetLinker builds static URLs for asset files.
type AssetLinker interface {
	AssetURL(kind model.AssetKind, name, file string, cacheBuster int64) string
}

type Options struct {
	Store       *storage.Store
	SnapshotDir string
	Logger      *log.Logger
	// Assets, when set, shows where the selected sprite's image is served.
	Assets AssetLinker
	// OpenKind and OpenName name an asset to open at start.
	OpenKind model.AssetKind
	OpenName string
}

// opDoneMsg reports the outcome of a command run off the update loop.
type opDoneMsg struct {
	status string
	opened bool // a new asset is open; refit the timeline
}

type Model struct {
	ctx    context.Context
	ctl    *asset.Controller
	bridge *Bridge
	opts   Options
	logger *log.Logger
	unsub  func()

	split   *panel.Split
	tlSplit *panel.Split // per asset; nil until one is opened
	logWin  *panel.Draggable
	sizes   *panel.Sizes

	width, height int
	input         textinput.Model
	commanding    bool
	confirm       *confirmMsg
	toasts        []asset.Toast
	status        string
}

// New builds the program model. ctl must have been created with bridge as
// its notifier and confirmer.
func New(ctx context.Context, ctl *asset.Controller, bridge *Bridge, opts Options) *Model {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	in := textinput.New()
	in.Prompt = ":"
	in.CharLimit = 512

	m := &Model{
		ctx:    ctx,
		ctl:    ctl,
		bridge: bridge,
		opts:   opts,
		logger: opts.Logger,
		split:  panel.NewSplit(opts.Store, storage.PanelSplitKey, 0.55, 0.2, 0.8),
		logWin: panel.NewDraggable(opts.Store, "papeterie-optimize-log-position", panel.Position{}),
		sizes:  panel.NewSizes(opts.Store, "papeterie-panel-sizes", map[string]float64{"log": 6}),
		input:  in,
		width:  100,
		height: 30,
	}
	m.unsub = ctl.Subscribe(bridge.Changed)
	ctl.Timeline().SetInputContext(timeline.ContextTimeline)
	return m
}

func (m *Model) Init() tea.Cmd {
	if m.opts.OpenName != "" {
		return tea.Batch(m.bridge.wait(), m.open(m.opts.OpenKind, m.opts.OpenName))
	}
	return m.bridge.wait()
}

// Close detaches the model from the façade and its persisted panels.
func (m *Model) Close() {
	m.unsub()
	m.split.Release()
	if m.tlSplit != nil {
		m.tlSplit.Release()
	}
	m.logWin.Release()
	m.sizes.Release()
	m.bridge.Close()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.syncViewport()
		m.fitZoom()
		return m, nil

	case toastMsg:
		m.toasts = append(m.toasts, asset.Toast(msg))
		if len(m.toasts) > maxToasts {
			m.toasts = m.toasts[len(m.toasts)-maxToasts:]
		}
		return m, m.bridge.wait()

	case confirmMsg:
		m.confirm = &msg
		return m, m.bridge.wait()

	case changedMsg:
		return m, m.bridge.wait()

	case opDoneMsg:
		if msg.status != "" {
			m.status = msg.status
		}
		if msg.opened {
			m.bindTimelineSplit()
			m.fitZoom()
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m, m.handleMouse(msg)
	}

	if m.commanding {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// bindTimelineSplit points the theatre/timeline split at the open asset.
func (m *Model) bindTimelineSplit() {
	_, name := m.ctl.Asset()
	if name == "" {
		return
	}
	key := storage.TimelineSplitKey(name)
	if m.tlSplit == nil {
		m.tlSplit = panel.NewSplit(m.opts.Store, key, timelineSplitDefault, timelineSplitMin, timelineSplitMax)
	} else {
		m.tlSplit.Rebind(key, timelineSplitDefault)
	}
	m.syncViewport()
}

// laneRows is how many lanes fit under the ruler.
func (m *Model) laneRows() int {
	if m.tlSplit == nil {
		return defaultLaneRows
	}
	avail := float64(m.height - 1 - footerRows)
	rows := int(math.Round(m.tlSplit.Ratio()*avail)) - 1
	return min(max(rows, 2), maxLaneRows)
}

// syncViewport keeps the engine's hit area equal to the drawn rows.
func (m *Model) syncViewport() {
	m.ctl.Timeline().SetViewportHeight(float64(1 + m.laneRows()))
}

// fitZoom scales the timeline so the whole duration fits the track width.
func (m *Model) fitZoom() {
	v := m.ctl.Timeline().View()
	track := float64(m.width - labelWidth - 1)
	if v.Duration <= 0 || track <= 0 {
		return
	}
	m.ctl.Timeline().SetZoom(track / v.Duration)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	if m.confirm != nil {
		switch msg.String() {
		case "y", "Y", "enter":
			m.confirm.reply <- true
			m.confirm = nil
		case "n", "N", "esc":
			m.confirm.reply <- false
			m.confirm = nil
		}
		return m, nil
	}

	if m.commanding {
		switch msg.Type {
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.SetValue("")
			m.input.Blur()
			m.commanding = false
			return m.run(line)
		case tea.KeyEsc:
			m.input.SetValue("")
			m.input.Blur()
			m.commanding = false
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	tl := m.ctl.Timeline()
	view := tl.View()

	switch s := msg.String(); s {
	case "q":
		return m, tea.Quit
	case ":":
		m.commanding = true
		return m, m.input.Focus()
	case "tab":
		if m.ctl.Tab() == asset.TabSprites {
			m.ctl.SetTab(asset.TabJSON)
		} else {
			m.ctl.SetTab(asset.TabSprites)
		}
		return m, nil
	case "[":
		m.split.SetRatio(m.split.Ratio() - 0.05)
		return m, nil
	case "]":
		m.split.SetRatio(m.split.Ratio() + 0.05)
		return m, nil
	case "{", "}":
		if m.tlSplit != nil {
			d := 0.05
			if s == "{" {
				d = -d
			}
			m.tlSplit.SetRatio(m.tlSplit.Ratio() + d)
			m.syncViewport()
		}
		return m, nil
	case "+", "=":
		m.sizes.Resize("log", m.sizes.Size("log")+1, 2)
		return m, nil
	case "-":
		m.sizes.Resize("log", m.sizes.Size("log")-1, 2)
		return m, nil
	case "alt+left", "alt+right", "alt+up", "alt+down":
		m.moveLogWindow(s)
		return m, nil
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		i := int(s[0] - '1')
		switch {
		case view.State == timeline.PendingTieBreak && i < len(view.TieBreak):
			tl.ResolveTieBreak(i)
		case len(view.Overlaps) > 1 && i < len(view.Overlaps):
			tl.PickOverlap(view.Overlaps[i], timeline.Mods{})
		}
		return m, nil
	case "esc":
		if view.State == timeline.PendingTieBreak {
			tl.CancelTieBreak()
			return m, nil
		}
	case "v":
		if name := view.Selection.Sprite; name != "" && name != timeline.Original {
			return m, m.op(func(ctx context.Context) string {
				m.ctl.ToggleVisibility(ctx, name)
				return ""
			})
		}
		return m, nil
	case "x", "delete":
		if k := view.Selection.Keyframe; k != nil {
			kf := *k
			return m, m.op(func(ctx context.Context) string {
				m.ctl.DeleteKeyframe(ctx, kf.Sprite, kf.Index)
				return ""
			})
		}
		return m, nil
	case "o":
		return m, m.op(func(ctx context.Context) string {
			m.ctl.Optimize(ctx)
			return ""
		})
	}

	k, ok := timelineKey(msg)
	if !ok {
		return m, nil
	}
	// Shortcuts may reach the backend; keep the update loop free.
	return m, func() tea.Msg {
		tl.HandleKey(k, timeline.FocusNone)
		return nil
	}
}

// timelineKey translates a terminal key into a timeline shortcut.
func timelineKey(msg tea.KeyMsg) (timeline.Key, bool) {
	switch msg.Type {
	case tea.KeyUp:
		return timeline.Key{Code: "ArrowUp"}, true
	case tea.KeyDown:
		return timeline.Key{Code: "ArrowDown"}, true
	case tea.KeyLeft:
		return timeline.Key{Code: "ArrowLeft"}, true
	case tea.KeyRight:
		return timeline.Key{Code: "ArrowRight"}, true
	case tea.KeyEsc:
		return timeline.Key{Code: "Escape"}, true
	case tea.KeyCtrlZ:
		return timeline.Key{Code: "z", Ctrl: true}, true
	case tea.KeyCtrlY:
		return timeline.Key{Code: "y", Ctrl: true}, true
	case tea.KeyCtrlR:
		// Terminals cannot tell ctrl+shift+z from ctrl+z.
		return timeline.Key{Code: "z", Ctrl: true, Shift: true}, true
	}
	return timeline.Key{}, false
}

func (m *Model) moveLogWindow(dir string) {
	w, h := m.logBoxSize()
	vw, vh := float64(m.rightWidth()), float64(m.bodyRows())
	switch dir {
	case "alt+left":
		m.logWin.MoveBy(-2, 0, w, h, vw, vh)
	case "alt+right":
		m.logWin.MoveBy(2, 0, w, h, vw, vh)
	case "alt+up":
		m.logWin.MoveBy(0, -1, w, h, vw, vh)
	case "alt+down":
		m.logWin.MoveBy(0, 1, w, h, vw, vh)
	}
}

func (m *Model) handleMouse(msg tea.MouseMsg) tea.Cmd {
	tl := m.ctl.Timeline()
	p := timeline.Point{X: float64(msg.X), Y: float64(msg.Y-timelineTop) + 0.5}
	mods := timeline.Mods{Shift: msg.Shift, Ctrl: msg.Ctrl}
	inTimeline := msg.Y >= timelineTop && msg.Y < timelineTop+1+m.laneRows()

	switch {
	case msg.Button == tea.MouseButtonWheelUp || msg.Button == tea.MouseButtonWheelDown:
		dy := 1.0
		if msg.Button == tea.MouseButtonWheelUp {
			dy = -1
		}
		if inTimeline {
			tl.Wheel(dy, mods)
		}
		return nil

	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft:
		if inTimeline {
			tl.SetInputContext(timeline.ContextTimeline)
			tl.MouseDown(p, mods)
		} else {
			tl.SetInputContext(timeline.ContextVis)
		}
		return nil

	case msg.Action == tea.MouseActionMotion:
		tl.MouseMove(p)
		if inTimeline {
			tl.Hover(p)
		}
		return nil

	case msg.Action == tea.MouseActionRelease:
		// Committing a drag reaches the backend.
		return func() tea.Msg {
			tl.MouseUp(p)
			return nil
		}
	}
	return nil
}

// op runs fn off the update loop under the model's context.
func (m *Model) op(fn func(ctx context.Context) string) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg{status: fn(ctx)}
	}
}
