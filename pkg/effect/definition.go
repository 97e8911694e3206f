// Package effect converts YAML/JSON particle effect definitions into compiled
// effects whose formulas are ready for evaluation.
package effect

import (
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

// MaxSourceSize is the maximum effect source size in bytes (64 KB).
const MaxSourceSize = 64 * 1024

// DefaultMaxParticles caps the particle pool when maxParticles is omitted.
const DefaultMaxParticles = 256

// MaxParticlesLimit is the largest pool an effect may request.
const MaxParticlesLimit = 10000

// Default formulas for fields that are omitted.
const (
	DefaultPosition = "0"
	DefaultSize     = "1"
	DefaultOpacity  = "1"
)

// Vec3 is a point in effect space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// PositionFormulas holds the per-axis position offset formulas.
type PositionFormulas struct {
	X string `json:"x"`
	Y string `json:"y"`
	Z string `json:"z"`
}

// Definition is the declarative form of an effect, as written in an effect
// file. Formulas are kept as source text until Compile.
type Definition struct {
	Name             string           `json:"name"`
	Rate             float64          `json:"rate"`     // particles per second
	Lifespan         float64          `json:"lifespan"` // seconds
	MaxParticles     int              `json:"maxParticles"`
	Unit             float64          `json:"unit"`
	Origin           Vec3             `json:"origin"`
	Position         PositionFormulas `json:"position"`
	Size             string           `json:"size"`
	Opacity          string           `json:"opacity"`
	Texture          string           `json:"texture,omitempty"`
	AdditiveBlending bool             `json:"additiveBlending"`
}

// applyDefaults fills omitted fields. A zero unit or pool size counts as
// omitted.
func (d *Definition) applyDefaults() {
	if d.MaxParticles == 0 {
		d.MaxParticles = DefaultMaxParticles
	}
	if d.Unit == 0 {
		d.Unit = 1
	}
	if d.Position.X == "" {
		d.Position.X = DefaultPosition
	}
	if d.Position.Y == "" {
		d.Position.Y = DefaultPosition
	}
	if d.Position.Z == "" {
		d.Position.Z = DefaultPosition
	}
	if d.Size == "" {
		d.Size = DefaultSize
	}
	if d.Opacity == "" {
		d.Opacity = DefaultOpacity
	}
}

// ParseError represents an error encountered while reading an effect source.
type ParseError struct {
	Message  string
	Location string // e.g., "field 'position.x'"
}

func (e *ParseError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("parse error at %s: %s", e.Location, e.Message)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

// Parse parses a YAML or JSON effect definition. Omitted fields take their
// defaults; formulas are not compiled.
func Parse(source []byte) (*Definition, error) {
	if len(source) > MaxSourceSize {
		return nil, &ParseError{Message: fmt.Sprintf("effect source size %d exceeds maximum %d bytes", len(source), MaxSourceSize)}
	}

	var raw yaml.Node
	if err := yaml.Unmarshal(source, &raw); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if raw.Kind != yaml.DocumentNode || len(raw.Content) == 0 {
		return nil, &ParseError{Message: "empty effect definition"}
	}

	root := raw.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &ParseError{Message: "effect definition must be a mapping"}
	}

	def := &Definition{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		val := root.Content[i+1]
		loc := fmt.Sprintf("field '%s'", key)

		var err error
		switch key {
		case "name":
			def.Name, err = stringFromNode(val, loc)
		case "rate":
			def.Rate, err = floatFromNode(val, loc)
		case "lifespan":
			def.Lifespan, err = floatFromNode(val, loc)
		case "maxParticles":
			def.MaxParticles, err = intFromNode(val, loc)
		case "unit":
			def.Unit, err = floatFromNode(val, loc)
		case "origin":
			def.Origin, err = parseOrigin(val, loc)
		case "position":
			def.Position, err = parsePosition(val, loc)
		case "size":
			def.Size, err = formulaFromNode(val, loc)
		case "opacity":
			def.Opacity, err = formulaFromNode(val, loc)
		case "texture":
			def.Texture, err = stringFromNode(val, loc)
		case "additiveBlending":
			def.AdditiveBlending, err = boolFromNode(val, loc)
		default:
			return nil, &ParseError{Message: fmt.Sprintf("unknown key '%s' in effect definition", key)}
		}
		if err != nil {
			return nil, err
		}
	}

	def.applyDefaults()
	return def, nil
}

// parseOrigin parses an {x, y, z} mapping of numbers. Missing axes are zero.
func parseOrigin(node *yaml.Node, loc string) (Vec3, error) {
	var v Vec3
	if node.Kind != yaml.MappingNode {
		return v, &ParseError{Message: "origin must be a mapping of x, y, z", Location: loc}
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		axisLoc := fmt.Sprintf("field 'origin.%s'", key)
		f, err := floatFromNode(node.Content[i+1], axisLoc)
		if err != nil {
			return v, err
		}
		switch key {
		case "x":
			v.X = f
		case "y":
			v.Y = f
		case "z":
			v.Z = f
		default:
			return v, &ParseError{Message: fmt.Sprintf("unknown axis '%s'", key), Location: loc}
		}
	}
	return v, nil
}

// parsePosition parses an {x, y, z} mapping of formulas.
func parsePosition(node *yaml.Node, loc string) (PositionFormulas, error) {
	var p PositionFormulas
	if node.Kind != yaml.MappingNode {
		return p, &ParseError{Message: "position must be a mapping of x, y, z formulas", Location: loc}
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		axisLoc := fmt.Sprintf("field 'position.%s'", key)
		text, err := formulaFromNode(node.Content[i+1], axisLoc)
		if err != nil {
			return p, err
		}
		switch key {
		case "x":
			p.X = text
		case "y":
			p.Y = text
		case "z":
			p.Z = text
		default:
			return p, &ParseError{Message: fmt.Sprintf("unknown axis '%s'", key), Location: loc}
		}
	}
	return p, nil
}

// formulaFromNode reads a formula. Plain numbers are accepted as constant
// formulas.
func formulaFromNode(node *yaml.Node, loc string) (string, error) {
	if node.Kind != yaml.ScalarNode {
		return "", &ParseError{Message: "formula must be a string", Location: loc}
	}
	return node.Value, nil
}

func stringFromNode(node *yaml.Node, loc string) (string, error) {
	if node.Kind != yaml.ScalarNode {
		return "", &ParseError{Message: "expected a string", Location: loc}
	}
	return node.Value, nil
}

func floatFromNode(node *yaml.Node, loc string) (float64, error) {
	var f float64
	if node.Kind != yaml.ScalarNode || node.Decode(&f) != nil {
		return 0, &ParseError{Message: fmt.Sprintf("expected a number, got %q", node.Value), Location: loc}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &ParseError{Message: "number must be finite", Location: loc}
	}
	return f, nil
}

func intFromNode(node *yaml.Node, loc string) (int, error) {
	var i int
	if node.Kind != yaml.ScalarNode || node.Decode(&i) != nil {
		return 0, &ParseError{Message: fmt.Sprintf("expected an integer, got %q", node.Value), Location: loc}
	}
	return i, nil
}

func boolFromNode(node *yaml.Node, loc string) (bool, error) {
	var b bool
	if node.Kind != yaml.ScalarNode || node.Decode(&b) != nil {
		return false, &ParseError{Message: fmt.Sprintf("expected a boolean, got %q", node.Value), Location: loc}
	}
	return b, nil
}
