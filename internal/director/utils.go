package director

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SnapshotPath creates a timestamped snapshot filename for a scene in dir
func SnapshotPath(dir, sceneName string) string {
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, sceneName)
	return filepath.Join(dir, fmt.Sprintf("%s_%s.yaml", name, timestamp))
}

// FindLatestSnapshot finds the most recent snapshot file in dir
func FindLatestSnapshot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	type candidate struct {
		path string
		mod  time.Time
	}
	var snapshots []candidate
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, candidate{filepath.Join(dir, entry.Name()), info.ModTime()})
	}

	if len(snapshots) == 0 {
		return "", fmt.Errorf("no snapshot files found in %s", dir)
	}

	// Sort by modification time (newest first)
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].mod.After(snapshots[j].mod)
	})

	return snapshots[0].path, nil
}
