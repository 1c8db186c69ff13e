package storage

import "github.com/ivlev/papeterie/internal/model"

const (
	LastActiveTabKey = "lastActiveTab"
	PanelSplitKey    = "papeterie-panel-split"
)

// PromptKey is where the optimization prompt of one asset lives.
func PromptKey(kind model.AssetKind, name string) string {
	return "papeterie_optimize_prompt_" + string(kind) + "_" + name
}

// TimelineSplitKey is where the theatre/timeline split of one asset lives.
func TimelineSplitKey(assetName string) string {
	return "papeterie-theatre-timeline-split-" + assetName
}
