package effect

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/lemonberrylabs/particlefx/pkg/types"
)

func TestParseFullDefinition(t *testing.T) {
	src := []byte(`
name: sparks
rate: 30
lifespan: 1.5
maxParticles: 64
unit: 32
origin:
  x: 10
  y: -4
position:
  x: "sin(t * 6) * sqr"
  y: "t * -40"
  z: 0
size: "2 - t"
opacity: "1 - t / 1.5"
texture: spark.png
additiveBlending: true
`)

	def, err := Parse(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := &Definition{
		Name:         "sparks",
		Rate:         30,
		Lifespan:     1.5,
		MaxParticles: 64,
		Unit:         32,
		Origin:       Vec3{X: 10, Y: -4},
		Position: PositionFormulas{
			X: "sin(t * 6) * sqr",
			Y: "t * -40",
			Z: "0",
		},
		Size:             "2 - t",
		Opacity:          "1 - t / 1.5",
		Texture:          "spark.png",
		AdditiveBlending: true,
	}
	if diff := cmp.Diff(want, def); diff != "" {
		t.Errorf("definition mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDefaults(t *testing.T) {
	def, err := Parse([]byte("name: minimal\nrate: 5\nlifespan: 2\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.MaxParticles != DefaultMaxParticles {
		t.Errorf("expected maxParticles %d, got %d", DefaultMaxParticles, def.MaxParticles)
	}
	if def.Unit != 1 {
		t.Errorf("expected unit 1, got %v", def.Unit)
	}
	if def.Position.X != "0" || def.Position.Y != "0" || def.Position.Z != "0" {
		t.Errorf("expected zero position formulas, got %+v", def.Position)
	}
	if def.Size != "1" || def.Opacity != "1" {
		t.Errorf("expected size and opacity '1', got %q and %q", def.Size, def.Opacity)
	}
}

func TestParseJSON(t *testing.T) {
	def, err := Parse([]byte(`{"name": "puff", "rate": 2, "lifespan": 3, "size": "t"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Name != "puff" || def.Size != "t" {
		t.Errorf("unexpected definition: %+v", def)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		location string
		contains string
	}{
		{"empty", "", "", "empty effect definition"},
		{"not a mapping", "- a\n- b\n", "", "must be a mapping"},
		{"invalid yaml", "name: [unclosed", "", "invalid YAML"},
		{"unknown key", "name: x\ncolour: red\n", "", "unknown key 'colour'"},
		{"rate not a number", "rate: fast\n", "field 'rate'", "expected a number"},
		{"lifespan infinite", "lifespan: .inf\n", "field 'lifespan'", "finite"},
		{"maxParticles not a number", "maxParticles: lots\n", "field 'maxParticles'", "expected an integer"},
		{"blending not bool", "additiveBlending: maybe\n", "field 'additiveBlending'", "expected a boolean"},
		{"origin scalar", "origin: 3\n", "field 'origin'", "mapping"},
		{"origin axis", "origin:\n  w: 1\n", "field 'origin'", "unknown axis 'w'"},
		{"position scalar", "position: t\n", "field 'position'", "mapping"},
		{"position nested", "position:\n  x: [1, 2]\n", "field 'position.x'", "must be a string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			if err == nil {
				t.Fatal("expected error")
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %T: %v", err, err)
			}
			if pe.Location != tt.location {
				t.Errorf("expected location %q, got %q", tt.location, pe.Location)
			}
			if !strings.Contains(pe.Message, tt.contains) {
				t.Errorf("expected message containing %q, got %q", tt.contains, pe.Message)
			}
		})
	}
}

func TestParseSourceTooLarge(t *testing.T) {
	src := []byte("name: " + strings.Repeat("x", MaxSourceSize))
	_, err := Parse(src)
	if err == nil {
		t.Fatal("expected error for oversized source")
	}
	if !strings.Contains(err.Error(), "exceeds maximum") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCompile(t *testing.T) {
	eff, err := Compile(Definition{
		Name:     "ok",
		Rate:     10,
		Lifespan: 1,
		Position: PositionFormulas{X: "r * 10", Y: "t**2"},
		Size:     "max(1, 2, t)",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := map[string]string{}
	for _, nf := range eff.Formulas() {
		got[nf.Field] = nf.Formula.String()
	}
	want := map[string]string{
		FieldPositionX: "(r * 10)",
		FieldPositionY: "(t ** 2)",
		FieldPositionZ: "0",
		FieldSize:      "max(1, 2, t)",
		FieldOpacity:   "1",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("compiled formulas mismatch (-want +got):\n%s", diff)
	}
	if eff.Def.MaxParticles != DefaultMaxParticles {
		t.Errorf("expected defaults applied, got maxParticles %d", eff.Def.MaxParticles)
	}
}

func TestFormulasFieldOrder(t *testing.T) {
	eff, err := Compile(Definition{Rate: 1, Lifespan: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var fields []string
	for _, nf := range eff.Formulas() {
		fields = append(fields, nf.Field)
	}
	want := []string{FieldPositionX, FieldPositionY, FieldPositionZ, FieldSize, FieldOpacity}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Errorf("field order mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileReportsEveryFailingField(t *testing.T) {
	_, err := Compile(Definition{
		Name:     "broken",
		Rate:     -1,
		Lifespan: 0,
		Position: PositionFormulas{X: "sin", Y: "t +", Z: "1,2"},
		Size:     "(t",
		Opacity:  "1 - t",
	})
	if err == nil {
		t.Fatal("expected compile error")
	}

	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CompileError, got %T", err)
	}
	if ce.Effect != "broken" {
		t.Errorf("expected effect name 'broken', got %q", ce.Effect)
	}

	var fields []string
	for _, f := range ce.Fields {
		fields = append(fields, f.Field)
	}
	want := []string{FieldRate, FieldLifespan, FieldPositionX, FieldPositionY, FieldPositionZ, FieldSize}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Errorf("failing fields mismatch (-want +got):\n%s", diff)
	}
	if ce.Has(FieldOpacity) {
		t.Error("opacity compiled and should not be reported")
	}

	msg := err.Error()
	for _, field := range want {
		if !strings.Contains(msg, field+":") {
			t.Errorf("diagnostic %q does not name %s", msg, field)
		}
	}
}

func TestCompileErrorTags(t *testing.T) {
	tests := []struct {
		formula string
		tag     string
	}{
		{"t $ 2", types.TagLexError},
		{"t +", types.TagParseError},
		{"t, r", types.TagEvalError},
	}

	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			_, err := Compile(Definition{Rate: 1, Lifespan: 1, Size: tt.formula})
			var ce *CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *CompileError, got %v", err)
			}
			if len(ce.Fields) != 1 || ce.Fields[0].Field != FieldSize {
				t.Fatalf("expected a single size failure, got %+v", ce.Fields)
			}
			if !types.HasTag(err, tt.tag) {
				t.Errorf("expected tag %s in %v", tt.tag, err)
			}
		})
	}
}

func TestCompileRejectsPoolSize(t *testing.T) {
	_, err := Compile(Definition{Rate: 1, Lifespan: 1, MaxParticles: MaxParticlesLimit + 1})
	var ce *CompileError
	if !errors.As(err, &ce) || !ce.Has(FieldMaxParticles) {
		t.Fatalf("expected maxParticles failure, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	eff, err := Load([]byte("name: l\nrate: 1\nlifespan: 1\nopacity: 1 - t\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eff.Opacity.String() != "(1 - t)" {
		t.Errorf("unexpected opacity tree %s", eff.Opacity)
	}

	if _, err := Load([]byte("rate: x")); err == nil {
		t.Error("expected parse error to propagate")
	}
}

func TestExampleEffects(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "..", "examples", "effects", "*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no example effects found")
	}

	for _, path := range files {
		t.Run(filepath.Base(path), func(t *testing.T) {
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			eff, err := Load(data)
			if err != nil {
				t.Fatalf("example does not compile: %v", err)
			}
			if eff.Def.Name == "" {
				t.Error("example effects should be named")
			}
		})
	}
}
