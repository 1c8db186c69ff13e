package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ivlev/papeterie/internal/asset"
	"github.com/ivlev/papeterie/internal/director"
	"github.com/ivlev/papeterie/internal/model"
	"github.com/ivlev/papeterie/internal/remote"
)

const commandHelp = "open scene|sprite NAME · add NAME · rm NAME · vis NAME · z NAME DEPTH · " +
	"pos NAME X Y [T] · rot NAME DEG [T] · scale NAME S [T] · behaviors JSON · undo · redo · " +
	"optimize · revert · rotate DEG · prompt TEXT · mode local|llm · delete-sprite NAME · " +
	"delete-scene [cascade|keep] · snapshot [last] · tab sprites|json · zoom N · close · q"

// errUsage marks a malformed command line.
type errUsage string

func (e errUsage) Error() string { return "usage: " + string(e) }

func (m *Model) run(line string) (tea.Model, tea.Cmd) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return m, nil
	}
	if args[0] == "q" || args[0] == "quit" {
		return m, tea.Quit
	}
	cmd, err := m.command(args[0], args[1:], strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), args[0])))
	if err != nil {
		m.status = err.Error()
		return m, nil
	}
	m.status = ""
	return m, cmd
}

// command maps one command line onto a façade call. rest is the raw text after the verb.
func (m *Model) command(verb string, args []string, rest string) (tea.Cmd, error) {
	ctl := m.ctl
	at := ctl.Timeline().Time()

	switch verb {
	case "help", "?":
		return func() tea.Msg { return opDoneMsg{status: commandHelp} }, nil

	case "open":
		if len(args) != 2 {
			return nil, errUsage("open scene|sprite NAME")
		}
		kind := model.AssetKind(args[0])
		if kind != model.KindScene && kind != model.KindSprite {
			return nil, errUsage("open scene|sprite NAME")
		}
		return m.open(kind, args[1]), nil

	case "close":
		ctl.Close()
		return nil, nil

	case "add":
		if len(args) != 1 {
			return nil, errUsage("add NAME")
		}
		return m.op(func(ctx context.Context) string {
			ctl.AddSprite(ctx, args[0], nil)
			return ""
		}), nil

	case "rm":
		if len(args) != 1 {
			return nil, errUsage("rm NAME")
		}
		return m.op(func(ctx context.Context) string {
			ctl.RemoveLayer(ctx, args[0])
			return ""
		}), nil

	case "vis":
		if len(args) != 1 {
			return nil, errUsage("vis NAME")
		}
		return m.op(func(ctx context.Context) string {
			ctl.ToggleVisibility(ctx, args[0])
			return ""
		}), nil

	case "z":
		if len(args) != 2 {
			return nil, errUsage("z NAME DEPTH")
		}
		z, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, errUsage("z NAME DEPTH")
		}
		return m.op(func(ctx context.Context) string {
			ctl.UpdateLayerOrder(ctx, map[string]int{args[0]: z})
			return ""
		}), nil

	case "pos":
		nums, err := floats(args, 2, 3)
		if err != nil {
			return nil, errUsage("pos NAME X Y [T]")
		}
		t := timeArg(nums, 2, at)
		return m.op(func(ctx context.Context) string {
			ctl.PositionChange(ctx, args[0], nums[0], nums[1], t)
			return ""
		}), nil

	case "rot":
		nums, err := floats(args, 1, 2)
		if err != nil {
			return nil, errUsage("rot NAME DEG [T]")
		}
		t := timeArg(nums, 1, at)
		return m.op(func(ctx context.Context) string {
			ctl.RotationChange(ctx, args[0], nums[0], t)
			return ""
		}), nil

	case "scale":
		nums, err := floats(args, 1, 2)
		if err != nil {
			return nil, errUsage("scale NAME S [T]")
		}
		t := timeArg(nums, 1, at)
		return m.op(func(ctx context.Context) string {
			ctl.ScaleChange(ctx, args[0], nums[0], t)
			return ""
		}), nil

	case "behaviors":
		var list model.BehaviorList
		if err := json.Unmarshal([]byte(rest), &list); err != nil {
			return nil, fmt.Errorf("behaviors: %w", err)
		}
		return m.op(func(ctx context.Context) string {
			ctl.ReplaceBehaviors(ctx, list)
			return ""
		}), nil

	case "undo", "redo":
		return m.op(func(ctx context.Context) string {
			do := ctl.Undo
			if verb == "redo" {
				do = ctl.Redo
			}
			desc, err := do(ctx)
			if err != nil || desc == "" {
				return ""
			}
			return strings.ToUpper(verb[:1]) + verb[1:] + ": " + desc
		}), nil

	case "optimize":
		return m.op(func(ctx context.Context) string {
			ctl.Optimize(ctx)
			return ""
		}), nil

	case "revert":
		return m.op(func(ctx context.Context) string {
			ctl.RevertSprite(ctx)
			return ""
		}), nil

	case "rotate":
		nums, err := floats(append([]string{""}, args...), 1, 1)
		if err != nil {
			return nil, errUsage("rotate DEG")
		}
		return m.op(func(ctx context.Context) string {
			ctl.SaveRotation(ctx, nums[0])
			return ""
		}), nil

	case "prompt":
		ctl.SetVisualPrompt(rest)
		return nil, nil

	case "mode":
		if len(args) != 1 || (args[0] != string(remote.ProcessingLocal) && args[0] != string(remote.ProcessingLLM)) {
			return nil, errUsage("mode local|llm")
		}
		ctl.Optimizer().SetProcessingMode(remote.ProcessingMode(args[0]))
		return nil, nil

	case "delete-sprite":
		if len(args) != 1 {
			return nil, errUsage("delete-sprite NAME")
		}
		return m.op(func(ctx context.Context) string {
			ctl.DeleteSprite(ctx, args[0])
			return ""
		}), nil

	case "delete-scene":
		mode := remote.DeleteMode("")
		if len(args) == 1 {
			mode = remote.DeleteMode(args[0])
		}
		if mode != "" && mode != remote.DeleteCascade && mode != remote.DeleteKeep {
			return nil, errUsage("delete-scene [cascade|keep]")
		}
		return m.op(func(ctx context.Context) string {
			ctl.DeleteScene(ctx, mode)
			return ""
		}), nil

	case "snapshot":
		if len(args) == 1 && args[0] == "last" {
			return m.op(m.lastSnapshot), nil
		}
		return m.op(m.writeSnapshot), nil

	case "tab":
		if len(args) != 1 || (args[0] != string(asset.TabSprites) && args[0] != string(asset.TabJSON)) {
			return nil, errUsage("tab sprites|json")
		}
		ctl.SetTab(asset.Tab(args[0]))
		return nil, nil

	case "zoom":
		nums, err := floats(append([]string{""}, args...), 1, 1)
		if err != nil {
			return nil, errUsage("zoom CELLS_PER_SECOND")
		}
		ctl.Timeline().SetZoom(nums[0])
		return nil, nil
	}
	return nil, fmt.Errorf("unknown command %q, try :help", verb)
}

func (m *Model) open(kind model.AssetKind, name string) tea.Cmd {
	ctx, ctl := m.ctx, m.ctl
	return func() tea.Msg {
		if err := ctl.Open(ctx, kind, name); err != nil {
			return opDoneMsg{}
		}
		return opDoneMsg{status: fmt.Sprintf("Opened %s '%s'", kind, name), opened: true}
	}
}

func (m *Model) writeSnapshot(context.Context) string {
	s := m.ctl.Scene()
	if s == nil {
		m.bridge.Notify(asset.Toast{Level: asset.LevelWarning, Message: "Open a scene first"})
		return ""
	}
	path := director.SnapshotPath(m.opts.SnapshotDir, s.Name)
	if err := director.WriteSnapshot(s, path); err != nil {
		m.logger.Printf("[!] snapshot: %v", err)
		m.bridge.Notify(asset.Toast{Level: asset.LevelError, Message: err.Error()})
		return ""
	}
	m.logger.Printf("[*] snapshot written: %s", path)
	return "Snapshot saved to " + path
}

func (m *Model) lastSnapshot(context.Context) string {
	path, err := director.FindLatestSnapshot(m.opts.SnapshotDir)
	if err != nil {
		m.bridge.Notify(asset.Toast{Level: asset.LevelInfo, Message: err.Error()})
		return ""
	}
	s, err := director.ReadSnapshot(path)
	if err != nil {
		m.bridge.Notify(asset.Toast{Level: asset.LevelError, Message: err.Error()})
		return ""
	}
	return fmt.Sprintf("Latest snapshot %s: scene '%s', %d layers", path, s.Name, len(s.Layers))
}

// floats parses args[1:] as numbers, accepting between lo and hi of them.
func floats(args []string, lo, hi int) ([]float64, error) {
	if len(args) < 1+lo || len(args) > 1+hi {
		return nil, fmt.Errorf("want %d to %d numbers", lo, hi)
	}
	out := make([]float64, 0, len(args)-1)
	for _, a := range args[1:] {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// timeArg returns nums[i] when given, else the playhead.
func timeArg(nums []float64, i int, playhead float64) float64 {
	if len(nums) > i {
		return nums[i]
	}
	return playhead
}
