package director

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/papeterie/internal/model"
)

// WriteSnapshot writes a scene to a YAML file
func WriteSnapshot(scene *model.Scene, path string) error {
	if scene == nil {
		return fmt.Errorf("no scene to write")
	}
	raw, err := json.Marshal(scene)
	if err != nil {
		return fmt.Errorf("encode scene: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("encode scene: %w", err)
	}

	summary := summarize(scene)
	sort.SliceStable(summary, func(i, j int) bool { return summary[i].ZDepth < summary[j].ZDepth })

	data, err := yaml.Marshal(&Snapshot{
		Version:  SnapshotVersion,
		Scene:    scene.Name,
		SavedAt:  time.Now().UTC().Truncate(time.Second),
		Document: doc,
		Summary:  summary,
	})
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ReadSnapshot reads a scene back from a YAML snapshot
func ReadSnapshot(path string) (*model.Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if snap.Document == nil {
		return nil, fmt.Errorf("%s: snapshot has no document", path)
	}

	raw, err := json.Marshal(snap.Document)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	var scene model.Scene
	if err := json.Unmarshal(raw, &scene); err != nil {
		return nil, fmt.Errorf("%s: decode scene: %w", path, err)
	}

	return &scene, nil
}
