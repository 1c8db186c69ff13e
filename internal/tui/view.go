package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ivlev/papeterie/internal/asset"
	"github.com/ivlev/papeterie/internal/model"
	"github.com/ivlev/papeterie/internal/renderer"
	"github.com/ivlev/papeterie/internal/timeline"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	selectedStyle = lipgloss.NewStyle().Reverse(true)
	rulerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("109"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	promptStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))

	toastStyles = map[asset.Level]lipgloss.Style{
		asset.LevelInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("81")),
		asset.LevelSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		asset.LevelWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		asset.LevelError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

const footerRows = maxToasts + 2

func (m *Model) View() string {
	v := m.ctl.Timeline().View()

	sections := []string{
		m.header(),
		m.timeline(v),
		m.body(v),
		m.footer(v),
	}
	return strings.Join(sections, "\n")
}

func (m *Model) header() string {
	kind, name := m.ctl.Asset()
	title := " papeterie "
	if name != "" {
		title += fmt.Sprintf("· %s '%s' ", kind, name)
	}
	if m.ctl.Optimizer().IsOptimizing() {
		title += "· optimizing… "
	}
	title += fmt.Sprintf("· tab %s ", m.ctl.Tab())
	return headerStyle.Width(m.width).Render(title)
}

// timeline draws the ruler and one row per lane, aligned with the engine's cell geometry.
func (m *Model) timeline(v timeline.View) string {
	track := max(m.width-labelWidth, 1)
	lanes := m.laneRows()
	rows := make([]string, 0, lanes+1)

	label := fmt.Sprintf("t=%.2fs", v.Time)
	rows = append(rows, pad(label, labelWidth)+rulerStyle.Render(ruler(v.Duration, v.Time, v.Zoom, track)))

	first := int(math.Floor(v.ScrollY))
	for i := first; i < first+lanes; i++ {
		if i < 0 || i >= len(v.Lanes) {
			rows = append(rows, "")
			continue
		}
		lane := v.Lanes[i]
		times := make([]float64, 0, len(lane.Keyframes))
		for _, k := range lane.Keyframes {
			times = append(times, k.Time)
		}
		name := pad(fmt.Sprintf("z%-3d %s", lane.ZDepth, strings.Join(lane.Sprites, ",")), labelWidth-1) + " "
		if laneSelected(lane, v.Selection) {
			name = selectedStyle.Render(name)
		}
		rows = append(rows, name+renderer.Strip(times, v.Time, v.Zoom, track))
	}
	return strings.Join(rows, "\n")
}

func laneSelected(lane timeline.Lane, sel timeline.Selection) bool {
	for _, s := range lane.Sprites {
		if s == sel.Sprite {
			return true
		}
		for _, multi := range sel.Sprites {
			if s == multi {
				return true
			}
		}
	}
	return false
}

// ruler marks whole seconds up to the duration and the playhead.
func ruler(duration, t, zoom float64, width int) string {
	row := []rune(strings.Repeat(" ", width))
	for s := 0.0; s <= duration; s++ {
		c := int(math.Round(s * zoom))
		if c >= width {
			break
		}
		row[c] = '┊'
	}
	if c := int(math.Round(t * zoom)); c >= 0 && c < width {
		row[c] = '▼'
	}
	return string(row)
}

func (m *Model) leftWidth() int  { return int(float64(m.width) * m.split.Ratio()) }
func (m *Model) rightWidth() int { return max(m.width-m.leftWidth(), 10) }

func (m *Model) bodyRows() int {
	return max(m.height-1-(m.laneRows()+1)-footerRows, 4)
}

func (m *Model) body(v timeline.View) string {
	rows := m.bodyRows()
	var left string
	if m.ctl.Tab() == asset.TabJSON {
		left = m.jsonPane(rows)
	} else {
		left = m.layersPane(v, rows)
	}
	left = lipgloss.NewStyle().Width(m.leftWidth()).Height(rows).MaxHeight(rows).Render(left)
	right := lipgloss.NewStyle().Width(m.rightWidth()).Height(rows).MaxHeight(rows).Render(m.inspector(v, rows))
	return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}

func (m *Model) layersPane(v timeline.View, rows int) string {
	if s := m.ctl.Scene(); s != nil {
		lines := []string{mutedStyle.Render("  sprite           z    x       y       scale rotation")}
		for _, fl := range renderer.SampleScene(s, v.Time) {
			line := "  " + fl.String()
			if fl.Sprite == v.Selection.Sprite {
				line = selectedStyle.Render(line)
			}
			lines = append(lines, line)
		}
		for _, l := range s.Layers {
			if !l.Visible {
				lines = append(lines, mutedStyle.Render(fmt.Sprintf("  %-16s hidden", l.SpriteName)))
			}
		}
		return clip(lines, rows)
	}
	if sp := m.ctl.Sprite(); sp != nil {
		lines := []string{fmt.Sprintf("  %s  z=%d", sp.Name, sp.ZDepth)}
		for i, b := range sp.Behaviors {
			lines = append(lines, describe(i, b))
		}
		return clip(lines, rows)
	}
	return mutedStyle.Render("  No asset open. Type :open scene NAME")
}

func (m *Model) jsonPane(rows int) string {
	doc := m.ctl.Document()
	if len(doc) == 0 {
		return mutedStyle.Render("  No document")
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return string(doc)
	}
	return clip(strings.Split(buf.String(), "\n"), rows)
}

func describe(i int, b model.Behavior) string {
	state := "on "
	if !b.Base().Enabled {
		state = "off"
	}
	line := fmt.Sprintf("  %2d %s %-12s", i, state, b.Kind())
	if t := b.Time(); t > 0 {
		line += fmt.Sprintf(" @%.2fs", t)
	}
	if c := b.Base().Coordinate; c != "" {
		line += " " + string(c)
	}
	return line
}

func (m *Model) inspector(v timeline.View, rows int) string {
	var lines []string
	if sel := v.Selection.Sprite; sel != "" {
		lines = append(lines, "selected: "+sel)
		if k := v.Selection.Keyframe; k != nil {
			lines = append(lines, fmt.Sprintf("keyframe %d @ %.2fs", k.Index, k.Time))
		}
		if s := m.ctl.Scene(); s != nil {
			if l := s.Layer(sel); l != nil {
				for i, b := range l.Behaviors {
					lines = append(lines, describe(i, b))
				}
			}
		}
	}

	st := m.ctl.Optimizer().State()
	if url := m.imageURL(v.Selection.Sprite, st.ImageTimestamp); url != "" {
		lines = append(lines, mutedStyle.Render("image: "+url))
	}
	lines = append(lines, "", fmt.Sprintf("prompt: %q  mode: %s", st.VisualPrompt, st.ProcessingMode))

	if box := m.logBox(st.LogContent); box != "" {
		pos := m.logWin.Position()
		for i := 0; i < int(pos.Y); i++ {
			lines = append(lines, "")
		}
		indent := strings.Repeat(" ", int(pos.X))
		for _, l := range strings.Split(box, "\n") {
			lines = append(lines, indent+l)
		}
	}
	return clip(lines, rows)
}

// imageURL is where the selected sprite's image is served. The timestamp
// changes after a job rewrote the images, so the link never goes stale.
func (m *Model) imageURL(sprite string, ts int64) string {
	if m.opts.Assets == nil || sprite == "" || sprite == timeline.Original {
		return ""
	}
	return m.opts.Assets.AssetURL(model.KindSprite, sprite, spriteImageFile(sprite), ts)
}

func spriteImageFile(sprite string) string { return sprite + ".png" }

// logBoxSize is the outer size of the optimization log window.
func (m *Model) logBoxSize() (w, h float64) {
	return float64(min(m.rightWidth(), 60)), m.sizes.Size("log") + 2
}

func (m *Model) logBox(content string) string {
	if content == "" {
		return ""
	}
	w, h := m.logBoxSize()
	n := int(h) - 2
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	inner := int(w) - 2
	for i, l := range lines {
		if len([]rune(l)) > inner {
			lines[i] = string([]rune(l)[:inner])
		}
	}
	return boxStyle.Width(inner).Render(strings.Join(lines, "\n"))
}

func (m *Model) footer(v timeline.View) string {
	var rows []string
	for _, t := range m.toasts {
		rows = append(rows, toastStyles[t.Level].Render(t.Message))
	}
	for len(rows) < maxToasts {
		rows = append(rows, "")
	}

	switch {
	case m.confirm != nil:
		rows = append(rows, promptStyle.Render(m.confirm.text+" [y/n]"))
	case m.commanding:
		rows = append(rows, m.input.View())
	case v.State == timeline.PendingTieBreak:
		rows = append(rows, promptStyle.Render("Pick keyframe: "+choices(v.TieBreak)))
	case len(v.Overlaps) > 1:
		rows = append(rows, promptStyle.Render("Overlapping: "+numbered(v.Overlaps)))
	default:
		rows = append(rows, m.status)
	}
	rows = append(rows, mutedStyle.Render(": command · tab json/sprites · ←→ scrub · ↑↓ depth · v visibility · x delete keyframe · o optimize · ctrl+z/ctrl+y undo/redo · q quit"))
	return strings.Join(rows, "\n")
}

func choices(ks []timeline.Keyframe) string {
	parts := make([]string, len(ks))
	for i, k := range ks {
		parts[i] = fmt.Sprintf("%d) %s@%.2f", i+1, k.Sprite, k.Time)
	}
	return strings.Join(parts, "  ")
}

func numbered(names []string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%d) %s", i+1, n)
	}
	return strings.Join(parts, "  ")
}

func pad(s string, w int) string {
	r := []rune(s)
	if len(r) > w {
		return string(r[:w])
	}
	return s + strings.Repeat(" ", w-len(r))
}

func clip(lines []string, n int) string {
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
