package runtime

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/lemonberrylabs/particlefx/pkg/effect"
	"github.com/lemonberrylabs/particlefx/pkg/types"
)

// Steps of a quarter second at four particles per second spawn exactly one
// particle per update.
const (
	testDT   = 0.25
	testRate = 4
)

func compileEffect(t *testing.T, def effect.Definition) *effect.Effect {
	t.Helper()
	if def.Rate == 0 {
		def.Rate = testRate
	}
	if def.Lifespan == 0 {
		def.Lifespan = 1
	}
	eff, err := effect.Compile(def)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	return eff
}

func update(t *testing.T, e *Emitter, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := e.Update(testDT); err != nil {
			t.Fatalf("update %d: unexpected error: %v", i, err)
		}
	}
}

type recorder struct {
	mu       sync.Mutex
	started  []string
	finished []string
	disabled map[string]error
	ticks    int
}

func newRecorder() *recorder {
	return &recorder{disabled: make(map[string]error)}
}

func (r *recorder) InstanceStarted(inst InstanceSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, inst.ID)
}

func (r *recorder) InstanceDisabled(inst InstanceSnapshot, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[inst.ID] = err
}

func (r *recorder) InstanceFinished(inst InstanceSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, inst.ID)
}

func (r *recorder) Ticked(TickStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks++
}

func (r *recorder) tickCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}

func TestVariableStore(t *testing.T) {
	s := NewVariableStore(2)
	if s.Len() != 2 {
		t.Fatalf("expected 2 slots, got %d", s.Len())
	}

	if err := s.Set(1, 7.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := s.Variable(1)
	if err != nil || v != 7.5 {
		t.Errorf("expected 7.5, got %v (%v)", v, err)
	}

	if err := s.Set(4, -1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]float64{0, 7.5, 0, 0, -1}, s.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestVariableStoreErrors(t *testing.T) {
	s := NewVariableStore(3)

	for _, idx := range []int{-1, 3, 100} {
		_, err := s.Variable(idx)
		if !types.HasTag(err, types.TagIndexError) {
			t.Errorf("Variable(%d): expected IndexError, got %v", idx, err)
		}
	}
	if err := s.Set(-1, 1); !types.HasTag(err, types.TagIndexError) {
		t.Errorf("Set(-1): expected IndexError, got %v", err)
	}
	if err := s.Set(MaxVariables, 1); !types.HasTag(err, types.TagIndexError) {
		t.Errorf("Set(MaxVariables): expected IndexError, got %v", err)
	}
	if err := s.Set(0, math.NaN()); err == nil {
		t.Error("expected error for NaN value")
	}
}

func TestEmitterSpawnAndExpire(t *testing.T) {
	e := NewEmitter(compileEffect(t, effect.Definition{}), effect.Vec3{}, nil, 1)

	counts := []int{1, 2, 3, 4, 4, 4}
	for i, want := range counts {
		update(t, e, 1)
		if got := e.AliveCount(); got != want {
			t.Errorf("after update %d: expected %d alive, got %d", i+1, want, got)
		}
	}
	for _, p := range e.Particles() {
		if p.Elapsed >= 1 {
			t.Errorf("particle outlived its lifespan: elapsed %v", p.Elapsed)
		}
	}
}

func TestEmitterPoolCap(t *testing.T) {
	eff := compileEffect(t, effect.Definition{Rate: 100, Lifespan: 10, MaxParticles: 5})
	e := NewEmitter(eff, effect.Vec3{}, nil, 1)
	update(t, e, 3)
	if got := e.AliveCount(); got != 5 {
		t.Errorf("expected pool capped at 5, got %d", got)
	}
}

func TestEmitterEvaluatesFormulas(t *testing.T) {
	eff := compileEffect(t, effect.Definition{
		Unit: 2,
		Position: effect.PositionFormulas{
			X: "t * 8",
			Y: "sqr",
			Z: "-1",
		},
		Size:    "1 + t",
		Opacity: "1 - t",
	})
	e := NewEmitter(eff, effect.Vec3{X: 100, Y: 50}, nil, 1)
	update(t, e, 3)

	ps := e.Particles()
	if len(ps) != 3 {
		t.Fatalf("expected 3 particles, got %d", len(ps))
	}
	for i, elapsed := range []float64{0.5, 0.25, 0} {
		p := ps[i]
		if p.Elapsed != elapsed {
			t.Fatalf("particle %d: expected elapsed %v, got %v", i, elapsed, p.Elapsed)
		}
		want := effect.Vec3{X: 100 + elapsed*8, Y: 52, Z: -1}
		if p.Position != want {
			t.Errorf("particle %d: expected position %+v, got %+v", i, want, p.Position)
		}
		if p.Size != 1+elapsed || p.Opacity != 1-elapsed {
			t.Errorf("particle %d: unexpected size %v opacity %v", i, p.Size, p.Opacity)
		}
	}
}

func TestEmitterRandomnessFixedAtSpawn(t *testing.T) {
	eff := compileEffect(t, effect.Definition{Lifespan: 10, Position: effect.PositionFormulas{X: "r", Y: "r2"}})
	e := NewEmitter(eff, effect.Vec3{}, nil, 42)
	update(t, e, 1)
	first := e.Particles()[0]
	if first.Rand < 0 || first.Rand >= 1 || first.Rand2 < 0 || first.Rand2 >= 1 {
		t.Fatalf("random draws out of range: %v %v", first.Rand, first.Rand2)
	}

	update(t, e, 5)
	later := e.Particles()[0]
	if later.Rand != first.Rand || later.Rand2 != first.Rand2 {
		t.Errorf("randomness changed over the particle's life")
	}
	if later.Position.X != first.Rand || later.Position.Y != first.Rand2 {
		t.Errorf("position does not follow r and r2: %+v", later.Position)
	}

	other := NewEmitter(eff, effect.Vec3{}, nil, 42)
	update(t, other, 6)
	if diff := cmp.Diff(e.Particles(), other.Particles()); diff != "" {
		t.Errorf("same seed produced different particles (-a +b):\n%s", diff)
	}
}

func TestEmitterDisabledByEvaluationError(t *testing.T) {
	tests := []struct {
		name  string
		def   effect.Definition
		vars  *VariableStore
		field string
		tag   string
	}{
		{
			name:  "list operand",
			def:   effect.Definition{Size: "(1, 2) * t"},
			field: effect.FieldSize,
			tag:   types.TagEvalError,
		},
		{
			name:  "variable out of range",
			def:   effect.Definition{Opacity: "var(5)"},
			vars:  NewVariableStore(2),
			field: effect.FieldOpacity,
			tag:   types.TagIndexError,
		},
		{
			name:  "no variable store",
			def:   effect.Definition{Position: effect.PositionFormulas{Y: "var(0)"}},
			field: effect.FieldPositionY,
			tag:   types.TagIndexError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e *Emitter
			if tt.vars != nil {
				e = NewEmitter(compileEffect(t, tt.def), effect.Vec3{}, tt.vars, 1)
			} else {
				e = NewEmitter(compileEffect(t, tt.def), effect.Vec3{}, nil, 1)
			}

			_, err := e.Update(testDT)
			if err == nil {
				t.Fatal("expected evaluation error")
			}
			var fe effect.FieldError
			if !errors.As(err, &fe) || fe.Field != tt.field {
				t.Errorf("expected failure in %s, got %v", tt.field, err)
			}
			if !types.HasTag(err, tt.tag) {
				t.Errorf("expected tag %s, got %v", tt.tag, err)
			}

			if !e.Done() || e.Emitting() || e.AliveCount() != 0 {
				t.Error("disabled emitter should be done with no particles")
			}
			evals, err := e.Update(testDT)
			if evals != 0 || err != nil {
				t.Errorf("disabled emitter evaluated again: %d evals, err %v", evals, err)
			}
			if e.Err() == nil {
				t.Error("expected Err to report the disabling error")
			}
		})
	}
}

func TestEmitterVariables(t *testing.T) {
	vars := NewVariableStore(1)
	if err := vars.Set(0, 3); err != nil {
		t.Fatal(err)
	}
	e := NewEmitter(compileEffect(t, effect.Definition{Size: "var(0) * 2"}), effect.Vec3{}, vars, 1)
	update(t, e, 1)
	if got := e.Particles()[0].Size; got != 6 {
		t.Errorf("expected size 6, got %v", got)
	}

	if err := vars.Set(0, 5); err != nil {
		t.Fatal(err)
	}
	update(t, e, 1)
	if got := e.Particles()[0].Size; got != 10 {
		t.Errorf("expected size to track the variable, got %v", got)
	}
}

func TestEmitterStop(t *testing.T) {
	eff := compileEffect(t, effect.Definition{})

	smooth := NewEmitter(eff, effect.Vec3{}, nil, 1)
	update(t, smooth, 2)
	smooth.Stop(true)
	if smooth.Done() {
		t.Fatal("smooth stop should keep live particles")
	}
	update(t, smooth, 3)
	if smooth.AliveCount() != 1 {
		t.Errorf("expected the youngest particle alive, got %d", smooth.AliveCount())
	}
	update(t, smooth, 1)
	if !smooth.Done() {
		t.Error("expected emitter done after particles expired")
	}

	hard := NewEmitter(eff, effect.Vec3{}, nil, 1)
	update(t, hard, 2)
	hard.Stop(false)
	if !hard.Done() || hard.AliveCount() != 0 {
		t.Error("hard stop should clear particles")
	}
}

func TestDriverLifecycle(t *testing.T) {
	rec := newRecorder()
	d := NewDriver(Config{Seed: 7}, nil, rec)
	eff := compileEffect(t, effect.Definition{Name: "sparks", Origin: effect.Vec3{X: 1}})

	inst, err := d.Start("sparks", eff, effect.Vec3{X: 2, Y: 3})
	if err != nil {
		t.Fatalf("start error: %v", err)
	}
	if inst.State != StateActive || inst.EffectName != "sparks" {
		t.Errorf("unexpected snapshot %+v", inst)
	}
	if inst.Origin != (effect.Vec3{X: 3, Y: 3}) {
		t.Errorf("expected origin offset by the effect origin, got %+v", inst.Origin)
	}

	d.Tick(testDT)
	stats := d.Tick(testDT)
	if stats.Instances != 1 || stats.Particles != 2 || stats.Evaluations != 10 {
		t.Errorf("unexpected tick stats %+v", stats)
	}

	got, err := d.Get(inst.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if len(got.Particles) != 2 || got.Age != 0.5 {
		t.Errorf("unexpected instance %+v", got)
	}

	ended, err := d.End(inst.ID, true)
	if err != nil {
		t.Fatalf("end error: %v", err)
	}
	if ended.State != StateEnding {
		t.Errorf("expected ENDING, got %s", ended.State)
	}
	if len(d.List()) != 1 {
		t.Fatal("smoothly ending instance should still be listed")
	}

	for i := 0; i < 4; i++ {
		d.Tick(testDT)
	}
	if len(d.List()) != 0 {
		t.Errorf("expected instance removed after particles expired")
	}
	if diff := cmp.Diff([]string{inst.ID}, rec.finished); diff != "" {
		t.Errorf("finished events mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{inst.ID}, rec.started); diff != "" {
		t.Errorf("started events mismatch (-want +got):\n%s", diff)
	}
	if rec.ticks != 6 {
		t.Errorf("expected 6 ticks reported, got %d", rec.ticks)
	}
}

func TestDriverEndImmediately(t *testing.T) {
	rec := newRecorder()
	d := NewDriver(Config{}, nil, rec)
	inst, err := d.Start("e", compileEffect(t, effect.Definition{}), effect.Vec3{})
	if err != nil {
		t.Fatal(err)
	}
	d.Tick(testDT)

	ended, err := d.End(inst.ID, false)
	if err != nil {
		t.Fatalf("end error: %v", err)
	}
	if ended.State != StateFinished {
		t.Errorf("expected FINISHED, got %s", ended.State)
	}
	if _, err := d.Get(inst.ID); !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("expected not found after hard end, got %v", err)
	}
	if len(rec.finished) != 1 {
		t.Errorf("expected one finished event, got %d", len(rec.finished))
	}

	if _, err := d.End(inst.ID, false); !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("expected not found for second end, got %v", err)
	}
}

func TestDriverDisablesFailingInstance(t *testing.T) {
	rec := newRecorder()
	d := NewDriver(Config{}, NewVariableStore(1), rec)

	bad, err := d.Start("bad", compileEffect(t, effect.Definition{Size: "var(9)"}), effect.Vec3{})
	if err != nil {
		t.Fatal(err)
	}
	good, err := d.Start("good", compileEffect(t, effect.Definition{Size: "var(0)"}), effect.Vec3{})
	if err != nil {
		t.Fatal(err)
	}

	stats := d.Tick(testDT)
	if stats.Instances != 1 {
		t.Errorf("expected one surviving instance, got %d", stats.Instances)
	}
	if err := rec.disabled[bad.ID]; !types.HasTag(err, types.TagIndexError) {
		t.Errorf("expected IndexError for disabled instance, got %v", err)
	}
	if _, ok := rec.disabled[good.ID]; ok {
		t.Error("healthy instance was disabled")
	}
	if _, err := d.Get(good.ID); err != nil {
		t.Errorf("healthy instance missing: %v", err)
	}
}

func TestDriverMaxInstances(t *testing.T) {
	d := NewDriver(Config{MaxInstances: 2}, nil)
	eff := compileEffect(t, effect.Definition{})
	for i := 0; i < 2; i++ {
		if _, err := d.Start("e", eff, effect.Vec3{}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := d.Start("e", eff, effect.Vec3{}); !errors.Is(err, ErrTooManyInstances) {
		t.Errorf("expected ErrTooManyInstances, got %v", err)
	}
	if _, err := d.Start("e", nil, effect.Vec3{}); err == nil {
		t.Error("expected error for nil effect")
	}
}

func TestDriverListOrder(t *testing.T) {
	d := NewDriver(Config{}, nil)
	eff := compileEffect(t, effect.Definition{})
	var ids []string
	for i := 0; i < 3; i++ {
		inst, err := d.Start("e", eff, effect.Vec3{})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, inst.ID)
		time.Sleep(time.Millisecond)
	}

	var got []string
	for _, inst := range d.List() {
		got = append(got, inst.ID)
	}
	if diff := cmp.Diff(ids, got); diff != "" {
		t.Errorf("list order mismatch (-want +got):\n%s", diff)
	}
}

func TestDriverRun(t *testing.T) {
	rec := newRecorder()
	d := NewDriver(Config{TickRate: 500}, nil, rec)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if rec.tickCount() == 0 {
		t.Error("expected at least one tick")
	}
}

// sequenceListener records every lifecycle event in delivery order. A
// non-nil gate holds InstanceStarted until it is closed.
type sequenceListener struct {
	mu      sync.Mutex
	events  []string
	entered chan struct{}
	gate    chan struct{}
}

func (s *sequenceListener) add(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *sequenceListener) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *sequenceListener) InstanceStarted(InstanceSnapshot) {
	if s.gate != nil {
		close(s.entered)
		<-s.gate
	}
	s.add("started")
}

func (s *sequenceListener) InstanceDisabled(InstanceSnapshot, error) { s.add("disabled") }
func (s *sequenceListener) InstanceFinished(InstanceSnapshot)        { s.add("finished") }
func (s *sequenceListener) Ticked(TickStats)                         {}

func TestDriverDeliversStartBeforeDisable(t *testing.T) {
	seq := &sequenceListener{entered: make(chan struct{}), gate: make(chan struct{})}
	d := NewDriver(Config{}, NewVariableStore(1), seq)
	eff := compileEffect(t, effect.Definition{Size: "var(9)"})

	started := make(chan error, 1)
	go func() {
		_, err := d.Start("bad", eff, effect.Vec3{})
		started <- err
	}()
	<-seq.entered

	ticked := make(chan struct{})
	go func() {
		defer close(ticked)
		d.Tick(testDT)
	}()

	// The tick must wait until the start notification has been delivered.
	select {
	case <-ticked:
		t.Fatal("tick completed while the start notification was pending")
	case <-time.After(20 * time.Millisecond):
	}

	close(seq.gate)
	if err := <-started; err != nil {
		t.Fatal(err)
	}
	<-ticked

	if diff := cmp.Diff([]string{"started", "disabled"}, seq.snapshot()); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}
}
