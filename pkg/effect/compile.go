package effect

import (
	"fmt"
	"math"
	"strings"

	"github.com/lemonberrylabs/particlefx/pkg/formula"
	"github.com/lemonberrylabs/particlefx/pkg/types"
)

// Field names used in diagnostics, in evaluation order.
const (
	FieldPositionX    = "position.x"
	FieldPositionY    = "position.y"
	FieldPositionZ    = "position.z"
	FieldSize         = "size"
	FieldOpacity      = "opacity"
	FieldRate         = "rate"
	FieldLifespan     = "lifespan"
	FieldMaxParticles = "maxParticles"
	FieldUnit         = "unit"
)

// FieldError is a failure attached to one field of a definition.
type FieldError struct {
	Field string
	Err   error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e FieldError) Unwrap() error { return e.Err }

// CompileError collects every field of a definition that failed to compile
// or validate, so the host can report them in one diagnostic.
type CompileError struct {
	Effect string
	Fields []FieldError
}

func (e *CompileError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Error()
	}
	name := e.Effect
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("effect %s: %d invalid field(s): %s", name, len(e.Fields), strings.Join(parts, "; "))
}

// Unwrap exposes the per-field errors to errors.Is and errors.As.
func (e *CompileError) Unwrap() []error {
	errs := make([]error, len(e.Fields))
	for i, f := range e.Fields {
		errs[i] = f.Err
	}
	return errs
}

// Has reports whether field is among the failures.
func (e *CompileError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// NamedFormula pairs a compiled formula with the field it drives.
type NamedFormula struct {
	Field   string
	Formula *formula.Formula
}

// Effect is a definition whose formulas are compiled. It is immutable and may
// be shared by any number of emitters.
type Effect struct {
	Def Definition

	PositionX *formula.Formula
	PositionY *formula.Formula
	PositionZ *formula.Formula
	Size      *formula.Formula
	Opacity   *formula.Formula
}

// Formulas returns the compiled formulas in field order.
func (e *Effect) Formulas() []NamedFormula {
	return []NamedFormula{
		{Field: FieldPositionX, Formula: e.PositionX},
		{Field: FieldPositionY, Formula: e.PositionY},
		{Field: FieldPositionZ, Formula: e.PositionZ},
		{Field: FieldSize, Formula: e.Size},
		{Field: FieldOpacity, Formula: e.Opacity},
	}
}

// Compile validates def and compiles all of its formulas. Every failing field
// is reported in a single *CompileError.
func Compile(def Definition) (*Effect, error) {
	def.applyDefaults()
	ce := &CompileError{Effect: def.Name}

	if math.IsNaN(def.Rate) || math.IsInf(def.Rate, 0) || def.Rate < 0 {
		ce.Fields = append(ce.Fields, FieldError{Field: FieldRate,
			Err: fmt.Errorf("must be a finite number >= 0, got %v", def.Rate)})
	}
	if math.IsNaN(def.Lifespan) || math.IsInf(def.Lifespan, 0) || def.Lifespan <= 0 {
		ce.Fields = append(ce.Fields, FieldError{Field: FieldLifespan,
			Err: fmt.Errorf("must be a finite number > 0, got %v", def.Lifespan)})
	}
	if def.MaxParticles < 0 || def.MaxParticles > MaxParticlesLimit {
		ce.Fields = append(ce.Fields, FieldError{Field: FieldMaxParticles,
			Err: fmt.Errorf("must be between 1 and %d, got %d", MaxParticlesLimit, def.MaxParticles)})
	}
	if math.IsNaN(def.Unit) || math.IsInf(def.Unit, 0) {
		ce.Fields = append(ce.Fields, FieldError{Field: FieldUnit,
			Err: fmt.Errorf("must be finite, got %v", def.Unit)})
	}

	eff := &Effect{Def: def}
	targets := []struct {
		field string
		text  string
		dst   **formula.Formula
	}{
		{FieldPositionX, def.Position.X, &eff.PositionX},
		{FieldPositionY, def.Position.Y, &eff.PositionY},
		{FieldPositionZ, def.Position.Z, &eff.PositionZ},
		{FieldSize, def.Size, &eff.Size},
		{FieldOpacity, def.Opacity, &eff.Opacity},
	}
	for _, tgt := range targets {
		f, err := compileScalar(tgt.text)
		if err != nil {
			ce.Fields = append(ce.Fields, FieldError{Field: tgt.field, Err: err})
			continue
		}
		*tgt.dst = f
	}

	if len(ce.Fields) > 0 {
		return nil, ce
	}
	return eff, nil
}

// compileScalar compiles text and rejects formulas whose root is an argument
// list, since a particle attribute needs a single number.
func compileScalar(text string) (*formula.Formula, error) {
	f, err := formula.Compile(text)
	if err != nil {
		return nil, err
	}
	if b, ok := f.Root.(*formula.BinaryNode); ok && b.Op == formula.TokenComma {
		return nil, types.NewEvalError("formula produces a list of values, expected a number")
	}
	return f, nil
}

// Load parses and compiles an effect source in one step.
func Load(source []byte) (*Effect, error) {
	def, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return Compile(*def)
}
