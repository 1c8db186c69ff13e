package model

import (
	"fmt"
	"strings"
)

// ValidationError lists every schema violation found in a document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid document: " + strings.Join(e.Problems, "; ")
}

type checker struct {
	problems []string
}

func (c *checker) failf(format string, args ...any) {
	c.problems = append(c.problems, fmt.Sprintf(format, args...))
}

func (c *checker) rangeFloat(field string, v *float64, lo, hi float64) {
	if v != nil && (*v < lo || *v > hi) {
		c.failf("%s %.3g outside [%g,%g]", field, *v, lo, hi)
	}
}

func (c *checker) rangeInt(field string, v, lo, hi int) {
	if v < lo || v > hi {
		c.failf("%s %d outside [%d,%d]", field, v, lo, hi)
	}
}

func (c *checker) err() error {
	if len(c.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: c.problems}
}

// ValidateScene checks a scene against the document schema.
func ValidateScene(s *Scene) error {
	c := &checker{}
	if s.DurationSec < 0 {
		c.failf("duration_sec must not be negative")
	}
	seen := make(map[string]bool, len(s.Layers))
	for i, l := range s.Layers {
		if l == nil {
			c.failf("layers[%d] is null", i)
			continue
		}
		if l.SpriteName == "" {
			c.failf("layers[%d] has no sprite_name", i)
		}
		if seen[l.SpriteName] {
			c.failf("duplicate layer %q", l.SpriteName)
		}
		seen[l.SpriteName] = true
		c.rangeInt(fmt.Sprintf("layers[%s].z_depth", l.SpriteName), l.ZDepth, MinZDepth, MaxZDepth)
		checkBehaviors(c, "layers["+l.SpriteName+"]", l.Behaviors)
	}
	checkBehaviors(c, "sounds", s.Sounds)
	return c.err()
}

// ValidateSprite checks sprite metadata against the document schema.
func ValidateSprite(m *SpriteMetadata) error {
	c := &checker{}
	if m.ZDepth != 0 {
		c.rangeInt("z_depth", m.ZDepth, MinZDepth, MaxZDepth)
	}
	c.rangeFloat("vertical_percent", m.VerticalPercent, 0, 1)
	switch m.VerticalAnchor {
	case "", AnchorCenter, AnchorBottom, AnchorTop:
	default:
		c.failf("vertical_anchor %q unknown", m.VerticalAnchor)
	}
	if m.EnvironmentalReaction != nil {
		checkBehavior(c, "environmental_reaction", m.EnvironmentalReaction)
	}
	checkBehaviors(c, "behaviors", m.Behaviors)
	return c.err()
}

func checkBehaviors(c *checker, path string, list BehaviorList) {
	for i, b := range list {
		if b == nil {
			c.failf("%s.behaviors[%d] is null", path, i)
			continue
		}
		checkBehavior(c, fmt.Sprintf("%s.behaviors[%d]", path, i), b)
	}
	if !list.Sorted() {
		c.failf("%s behaviors not sorted by time_offset", path)
	}
}

func checkBehavior(c *checker, path string, b Behavior) {
	switch b.Base().Coordinate {
	case "", CoordinateX, CoordinateY, CoordinateScale, CoordinateRotation, CoordinateOpacity:
	default:
		c.failf("%s.coordinate %q unknown", path, b.Base().Coordinate)
	}
	if b.Time() < 0 {
		c.failf("%s.time_offset must not be negative", path)
	}

	switch v := b.(type) {
	case *Location:
		if v.ZDepth != nil {
			c.rangeInt(path+".z_depth", *v.ZDepth, MinZDepth, MaxZDepth)
		}
		c.rangeFloat(path+".vertical_percent", v.VerticalPercent, 0, 1)
		c.rangeFloat(path+".horizontal_percent", v.HorizontalPercent, 0, 1)
	case *Drift:
		switch v.CapBehavior {
		case "", CapStop, CapBounce, CapLoop:
		default:
			c.failf("%s.cap_behavior %q unknown", path, v.CapBehavior)
		}
	case *Pulse:
		switch v.Waveform {
		case "", WaveformSine, WaveformSpike:
		default:
			c.failf("%s.waveform %q unknown", path, v.Waveform)
		}
	case *Sound:
		c.rangeFloat(path+".volume", &v.Volume, 0, 1)
	case *EnvironmentalReaction:
		c.rangeFloat(path+".max_tilt_angle", &v.MaxTiltAngle, 0, 90)
		if v.TargetSpriteName == "" {
			c.failf("%s.target_sprite_name is required", path)
		}
	}
}
