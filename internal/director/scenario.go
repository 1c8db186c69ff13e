package director

import (
	"time"

	"github.com/ivlev/papeterie/internal/model"
)

// SnapshotVersion is written into every snapshot file.
const SnapshotVersion = "1.0"

// Snapshot is a scene saved to disk as YAML
type Snapshot struct {
	Version string    `yaml:"version"`
	Scene   string    `yaml:"scene"`
	SavedAt time.Time `yaml:"saved_at"`
	// Document is the scene's JSON document re-encoded as YAML.
	Document map[string]any `yaml:"document"`
	// Summary lists layers in draw order for quick reading.
	Summary []LayerSummary `yaml:"summary"`
}

// LayerSummary describes one layer at a glance
type LayerSummary struct {
	Sprite    string    `yaml:"sprite"`
	ZDepth    int       `yaml:"z_depth"`
	Visible   bool      `yaml:"visible"`
	Keyframes []float64 `yaml:"keyframes,omitempty"` // Keyframe times in seconds
}

func summarize(s *model.Scene) []LayerSummary {
	out := make([]LayerSummary, 0, len(s.Layers))
	for _, l := range s.Layers {
		ls := LayerSummary{Sprite: l.SpriteName, ZDepth: l.ZDepth, Visible: l.Visible}
		for _, b := range l.Behaviors {
			if t := b.Time(); t > 0 {
				ls.Keyframes = append(ls.Keyframes, t)
			}
		}
		out = append(out, ls)
	}
	return out
}
