// Package model holds the scene and sprite documents edited by Papeterie
// together with their JSON codec and schema checks.
package model

import (
	"encoding/json"
	"fmt"
)

// AssetKind distinguishes the two editable document kinds.
type AssetKind string

const (
	KindScene  AssetKind = "scene"
	KindSprite AssetKind = "sprite"
)

// Collection is the URL segment the backend uses for the kind.
func (k AssetKind) Collection() string {
	switch k {
	case KindScene:
		return "scenes"
	case KindSprite:
		return "sprites"
	}
	return string(k) + "s"
}

const (
	DefaultDuration = 30.0
	DefaultZDepth   = 50
	MinZDepth       = 1
	MaxZDepth       = 100
)

// Scene is an ordered composition of sprite layers.
// Layer order is insertion order; draw order derives from z_depth.
type Scene struct {
	Name        string       `json:"name"`
	DurationSec float64      `json:"duration_sec"`
	Layers      []*Layer     `json:"layers"`
	Sounds      BehaviorList `json:"sounds,omitempty"`
	UsedSprites []string     `json:"used_sprites,omitempty"`
}

func (s *Scene) UnmarshalJSON(data []byte) error {
	type alias Scene
	a := alias{DurationSec: DefaultDuration}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Layers == nil {
		a.Layers = []*Layer{}
	}
	*s = Scene(a)
	return nil
}

// Layer is one sprite placement within a scene.
type Layer struct {
	SpriteName       string       `json:"sprite_name"`
	ZDepth           int          `json:"z_depth"`
	XOffset          *float64     `json:"x_offset,omitempty"`
	YOffset          *float64     `json:"y_offset,omitempty"`
	Scale            *float64     `json:"scale,omitempty"`
	Rotation         *float64     `json:"rotation,omitempty"`
	Visible          bool         `json:"visible"`
	Behaviors        BehaviorList `json:"behaviors"`
	BehaviorGuidance string       `json:"behavior_guidance,omitempty"`
}

func (l *Layer) UnmarshalJSON(data []byte) error {
	type alias Layer
	a := alias{ZDepth: DefaultZDepth, Visible: true}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Behaviors == nil {
		a.Behaviors = BehaviorList{}
	}
	*l = Layer(a)
	return nil
}

// Layer returns the layer placing the named sprite, or nil.
func (s *Scene) Layer(name string) *Layer {
	for _, l := range s.Layers {
		if l.SpriteName == name {
			return l
		}
	}
	return nil
}

// LayerIndex returns the position of the named layer, or -1.
func (s *Scene) LayerIndex(name string) int {
	for i, l := range s.Layers {
		if l.SpriteName == name {
			return i
		}
	}
	return -1
}

// Duration returns the scene length, falling back to the default.
func (s *Scene) Duration() float64 {
	if s.DurationSec <= 0 {
		return DefaultDuration
	}
	return s.DurationSec
}

// Clone deep-copies the scene through its JSON form.
func (s *Scene) Clone() (*Scene, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("clone scene: %w", err)
	}
	var out Scene
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone scene: %w", err)
	}
	return &out, nil
}

// VerticalAnchor pins a sprite vertically within its placement box.
type VerticalAnchor string

const (
	AnchorCenter VerticalAnchor = "center"
	AnchorBottom VerticalAnchor = "bottom"
	AnchorTop    VerticalAnchor = "top"
)

// SpriteMetadata is the editable configuration document of a sprite.
type SpriteMetadata struct {
	Name                  string                 `json:"name"`
	ZDepth                int                    `json:"z_depth,omitempty"`
	Behaviors             BehaviorList           `json:"behaviors"`
	VerticalPercent       *float64               `json:"vertical_percent,omitempty"`
	TargetHeight          *int                   `json:"target_height,omitempty"`
	TileHorizontal        bool                   `json:"tile_horizontal,omitempty"`
	TileBorder            *int                   `json:"tile_border,omitempty"`
	HeightScale           *float64               `json:"height_scale,omitempty"`
	FillDown              bool                   `json:"fill_down,omitempty"`
	VerticalAnchor        VerticalAnchor         `json:"vertical_anchor,omitempty"`
	XOffset               *float64               `json:"x_offset,omitempty"`
	YOffset               *float64               `json:"y_offset,omitempty"`
	EnvironmentalReaction *EnvironmentalReaction `json:"environmental_reaction,omitempty"`
}

func (m *SpriteMetadata) UnmarshalJSON(data []byte) error {
	type alias SpriteMetadata
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Behaviors == nil {
		a.Behaviors = BehaviorList{}
	}
	if a.EnvironmentalReaction != nil {
		a.EnvironmentalReaction.Type = BehaviorEnvironmentalReaction
	}
	*m = SpriteMetadata(a)
	return nil
}

// Clone deep-copies the metadata through its JSON form.
func (m *SpriteMetadata) Clone() (*SpriteMetadata, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("clone sprite metadata: %w", err)
	}
	var out SpriteMetadata
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone sprite metadata: %w", err)
	}
	return &out, nil
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Value dereferences p, returning def when p is nil.
func Value[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
