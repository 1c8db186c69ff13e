package history

import (
	"bytes"
	"context"

	"github.com/google/uuid"

	"github.com/ivlev/papeterie/internal/model"
)

// ConfigStore persists whole asset documents.
type ConfigStore interface {
	PutConfig(ctx context.Context, kind model.AssetKind, name string, config []byte) error
}

// Command is a reversible edit.
type Command interface {
	Apply(ctx context.Context, store ConfigStore) error
	Revert(ctx context.Context, store ConfigStore) error
	Description() string
}

// Targeted is implemented by commands bound to one asset document.
type Targeted interface {
	Target() (model.AssetKind, string)
}

// Kind labels what an UpdateConfig command changed.
type Kind string

const (
	KindUpdateConfig     Kind = "updateConfig"
	KindAddLayer         Kind = "addLayer"
	KindDeleteLayer      Kind = "deleteLayer"
	KindToggleVisibility Kind = "toggleVisibility"
	KindReorder          Kind = "reorder"
	KindTransform        Kind = "transform"
	KindKeyframe         Kind = "keyframe"
	KindBehaviors        Kind = "behaviors"
)

// UpdateConfig replaces an asset document with NewConfig and restores OldConfig on revert.
type UpdateConfig struct {
	ID        uuid.UUID
	Kind      Kind
	AssetKind model.AssetKind
	AssetName string
	OldConfig []byte
	NewConfig []byte
	Desc      string
}

// NewUpdateConfig builds a command from snapshots of the document before and after an edit.
// Both snapshots are copied.
func NewUpdateConfig(kind Kind, assetKind model.AssetKind, name string, oldConfig, newConfig []byte, desc string) *UpdateConfig {
	if kind == "" {
		kind = KindUpdateConfig
	}
	return &UpdateConfig{
		ID:        uuid.New(),
		Kind:      kind,
		AssetKind: assetKind,
		AssetName: name,
		OldConfig: bytes.Clone(oldConfig),
		NewConfig: bytes.Clone(newConfig),
		Desc:      desc,
	}
}

func (c *UpdateConfig) Apply(ctx context.Context, store ConfigStore) error {
	return store.PutConfig(ctx, c.AssetKind, c.AssetName, c.NewConfig)
}

func (c *UpdateConfig) Revert(ctx context.Context, store ConfigStore) error {
	return store.PutConfig(ctx, c.AssetKind, c.AssetName, c.OldConfig)
}

func (c *UpdateConfig) Description() string { return c.Desc }

func (c *UpdateConfig) Target() (model.AssetKind, string) { return c.AssetKind, c.AssetName }
