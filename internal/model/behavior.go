package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// BehaviorType is the discriminator of the behavior union.
type BehaviorType string

const (
	BehaviorLocation              BehaviorType = "location"
	BehaviorOscillate             BehaviorType = "oscillate"
	BehaviorDrift                 BehaviorType = "drift"
	BehaviorPulse                 BehaviorType = "pulse"
	BehaviorBackground            BehaviorType = "background"
	BehaviorSound                 BehaviorType = "sound"
	BehaviorEnvironmentalReaction BehaviorType = "environmental_reaction"
)

// Coordinate names the property a behavior drives.
type Coordinate string

const (
	CoordinateX        Coordinate = "x"
	CoordinateY        Coordinate = "y"
	CoordinateScale    Coordinate = "scale"
	CoordinateRotation Coordinate = "rotation"
	CoordinateOpacity  Coordinate = "opacity"
)

// Behavior is one entry of a layer or sprite behavior list.
// The set of implementations is closed; see BehaviorList for the codec.
type Behavior interface {
	Kind() BehaviorType
	Base() *BehaviorBase
	// Time is the behavior's time_offset, 0 when the variant has none.
	Time() float64
}

// BehaviorBase holds the fields every variant shares.
type BehaviorBase struct {
	Type        BehaviorType `json:"type"`
	Enabled     bool         `json:"enabled"`
	Coordinate  Coordinate   `json:"coordinate,omitempty"`
	LLMGuidance string       `json:"llm_guidance,omitempty"`
}

func (b *BehaviorBase) Base() *BehaviorBase { return b }

// Location pins a sprite's placement; with a positive time offset it is a keyframe.
type Location struct {
	BehaviorBase
	X                 *float64 `json:"x,omitempty"`
	Y                 *float64 `json:"y,omitempty"`
	Scale             *float64 `json:"scale,omitempty"`
	Rotation          *float64 `json:"rotation,omitempty"`
	ZDepth            *int     `json:"z_depth,omitempty"`
	TimeOffset        float64  `json:"time_offset,omitempty"`
	Interpolate       bool     `json:"interpolate,omitempty"`
	VerticalPercent   *float64 `json:"vertical_percent,omitempty"`
	HorizontalPercent *float64 `json:"horizontal_percent,omitempty"`
}

func (*Location) Kind() BehaviorType { return BehaviorLocation }
func (l *Location) Time() float64    { return l.TimeOffset }

type Oscillate struct {
	BehaviorBase
	Frequency   float64 `json:"frequency"`
	Amplitude   float64 `json:"amplitude"`
	PhaseOffset float64 `json:"phase_offset,omitempty"`
}

func (*Oscillate) Kind() BehaviorType { return BehaviorOscillate }
func (*Oscillate) Time() float64      { return 0 }

// CapBehavior says what a drift does when it reaches its cap.
type CapBehavior string

const (
	CapStop   CapBehavior = "stop"
	CapBounce CapBehavior = "bounce"
	CapLoop   CapBehavior = "loop"
)

type Drift struct {
	BehaviorBase
	Velocity     float64     `json:"velocity"`
	Acceleration float64     `json:"acceleration,omitempty"`
	DriftCap     *float64    `json:"drift_cap,omitempty"`
	CapBehavior  CapBehavior `json:"cap_behavior,omitempty"`
}

func (*Drift) Kind() BehaviorType { return BehaviorDrift }
func (*Drift) Time() float64      { return 0 }

// Waveform shapes a pulse.
type Waveform string

const (
	WaveformSine  Waveform = "sine"
	WaveformSpike Waveform = "spike"
)

type Pulse struct {
	BehaviorBase
	Frequency float64  `json:"frequency"`
	MinValue  float64  `json:"min_value"`
	MaxValue  float64  `json:"max_value"`
	Waveform  Waveform `json:"waveform,omitempty"`
}

func (*Pulse) Kind() BehaviorType { return BehaviorPulse }
func (*Pulse) Time() float64      { return 0 }

type Background struct {
	BehaviorBase
	ScrollSpeed float64 `json:"scroll_speed"`
}

func (*Background) Kind() BehaviorType { return BehaviorBackground }
func (*Background) Time() float64      { return 0 }

type Sound struct {
	BehaviorBase
	SoundFile    string  `json:"sound_file"`
	Volume       float64 `json:"volume"`
	TimeOffset   float64 `json:"time_offset,omitempty"`
	TriggerEvent string  `json:"trigger_event,omitempty"`
	Loop         bool    `json:"loop,omitempty"`
	FadeIn       float64 `json:"fade_in,omitempty"`
	FadeOut      float64 `json:"fade_out,omitempty"`
}

func (*Sound) Kind() BehaviorType { return BehaviorSound }
func (s *Sound) Time() float64    { return s.TimeOffset }

// EnvironmentalReaction anchors a sprite to a target sprite (e.g. a boat riding a wave).
type EnvironmentalReaction struct {
	BehaviorBase
	ReactionType         string   `json:"reaction_type"`
	TargetSpriteName     string   `json:"target_sprite_name"`
	MaxTiltAngle         float64  `json:"max_tilt_angle"`
	VerticalFollowFactor *float64 `json:"vertical_follow_factor,omitempty"`
	HullLengthFactor     *float64 `json:"hull_length_factor,omitempty"`
}

func (*EnvironmentalReaction) Kind() BehaviorType { return BehaviorEnvironmentalReaction }
func (*EnvironmentalReaction) Time() float64      { return 0 }

// Unknown keeps a behavior of an unrecognised type verbatim.
type Unknown struct {
	BehaviorBase
	Raw        json.RawMessage `json:"-"`
	TimeOffset float64         `json:"-"`
}

func (u *Unknown) Kind() BehaviorType { return u.Type }
func (u *Unknown) Time() float64      { return u.TimeOffset }

// NewLocation returns an enabled location behavior.
func NewLocation() *Location {
	return &Location{BehaviorBase: BehaviorBase{Type: BehaviorLocation, Enabled: true}}
}

// BehaviorList is an ordered behavior sequence with a discriminated-union JSON codec.
type BehaviorList []Behavior

func (l BehaviorList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	items := make([]json.RawMessage, 0, len(l))
	for i, b := range l {
		if b == nil {
			return nil, fmt.Errorf("behavior %d is nil", i)
		}
		if u, ok := b.(*Unknown); ok {
			items = append(items, u.Raw)
			continue
		}
		b.Base().Type = b.Kind()
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("behavior %d: %w", i, err)
		}
		items = append(items, data)
	}
	return json.Marshal(items)
}

func (l *BehaviorList) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(BehaviorList, 0, len(raws))
	for i, raw := range raws {
		b, err := DecodeBehavior(raw)
		if err != nil {
			return fmt.Errorf("behavior %d: %w", i, err)
		}
		out = append(out, b)
	}
	*l = out
	return nil
}

// DecodeBehavior decodes one behavior document, dispatching on its type field.
func DecodeBehavior(raw json.RawMessage) (Behavior, error) {
	var head struct {
		Type       BehaviorType `json:"type"`
		Enabled    *bool        `json:"enabled"`
		TimeOffset float64      `json:"time_offset"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	var b Behavior
	switch head.Type {
	case BehaviorLocation:
		b = &Location{}
	case BehaviorOscillate:
		b = &Oscillate{}
	case BehaviorDrift:
		b = &Drift{}
	case BehaviorPulse:
		b = &Pulse{}
	case BehaviorBackground:
		b = &Background{}
	case BehaviorSound:
		b = &Sound{}
	case BehaviorEnvironmentalReaction:
		b = &EnvironmentalReaction{}
	case "":
		return nil, fmt.Errorf("behavior has no type")
	default:
		u := &Unknown{Raw: append(json.RawMessage(nil), raw...), TimeOffset: head.TimeOffset}
		u.Type = head.Type
		u.Enabled = head.Enabled == nil || *head.Enabled
		return u, nil
	}

	if err := json.Unmarshal(raw, b); err != nil {
		return nil, fmt.Errorf("decode %s behavior: %w", head.Type, err)
	}
	b.Base().Type = head.Type
	b.Base().Enabled = head.Enabled == nil || *head.Enabled
	return b, nil
}

// Clone deep-copies the list through its JSON form.
func (l BehaviorList) Clone() (BehaviorList, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("clone behaviors: %w", err)
	}
	var out BehaviorList
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone behaviors: %w", err)
	}
	return out, nil
}

// SortByTime orders behaviors ascending by time offset, keeping ties stable.
func (l BehaviorList) SortByTime() {
	sort.SliceStable(l, func(i, j int) bool { return l[i].Time() < l[j].Time() })
}

// Sorted reports whether the list is ordered by time offset.
func (l BehaviorList) Sorted() bool {
	return sort.SliceIsSorted(l, func(i, j int) bool { return l[i].Time() < l[j].Time() })
}

// Locations returns the location behaviors together with their indexes.
func (l BehaviorList) Locations() ([]*Location, []int) {
	var locs []*Location
	var idx []int
	for i, b := range l {
		if loc, ok := b.(*Location); ok {
			locs = append(locs, loc)
			idx = append(idx, i)
		}
	}
	return locs, idx
}

// FirstLocation returns the first location behavior, or nil.
func (l BehaviorList) FirstLocation() *Location {
	for _, b := range l {
		if loc, ok := b.(*Location); ok {
			return loc
		}
	}
	return nil
}

// SetTime rewrites the time offset of a timed behavior.
// It reports false for variants that carry no time offset.
func SetTime(b Behavior, t float64) bool {
	switch v := b.(type) {
	case *Location:
		v.TimeOffset = t
	case *Sound:
		v.TimeOffset = t
	default:
		return false
	}
	return true
}
