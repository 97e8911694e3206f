package runtime

import (
	"math/rand/v2"

	"github.com/lemonberrylabs/particlefx/pkg/effect"
	"github.com/lemonberrylabs/particlefx/pkg/formula"
)

// Particle is one live particle. Rand and Rand2 are drawn once at spawn and
// stay fixed for the particle's lifetime.
type Particle struct {
	Elapsed  float64     `json:"elapsed"`
	Rand     float64     `json:"rand"`
	Rand2    float64     `json:"rand2"`
	Origin   effect.Vec3 `json:"origin"`
	Position effect.Vec3 `json:"position"`
	Size     float64     `json:"size"`
	Opacity  float64     `json:"opacity"`
}

// Emitter spawns and animates the particles of one effect instance. It is
// not safe for concurrent use; the Driver serialises access.
type Emitter struct {
	eff       *effect.Effect
	formulas  []effect.NamedFormula
	vars      formula.VariableReader
	origin    effect.Vec3
	rng       *rand.Rand
	particles []Particle
	alive     int
	emitAccum float64
	emitting  bool
	err       error
}

// NewEmitter creates an emitting Emitter with a preallocated pool. vars may be
// nil, in which case any var() call disables the emitter.
func NewEmitter(eff *effect.Effect, origin effect.Vec3, vars formula.VariableReader, seed uint64) *Emitter {
	size := eff.Def.MaxParticles
	if size <= 0 {
		size = effect.DefaultMaxParticles
	}
	return &Emitter{
		eff:       eff,
		formulas:  eff.Formulas(),
		vars:      vars,
		origin:    origin,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		particles: make([]Particle, size),
		emitting:  true,
	}
}

// Update advances the emitter by dt seconds: particles age, expired ones are
// removed, new ones spawn at the effect's rate, and every formula is
// evaluated for every live particle. It returns the number of formula
// evaluations performed.
//
// The first evaluation error disables the emitter, drops its particles and is
// returned as an effect.FieldError naming the failing formula. A disabled
// emitter ignores further updates.
func (e *Emitter) Update(dt float64) (int, error) {
	if e.err != nil {
		return 0, nil
	}

	lifespan := e.eff.Def.Lifespan
	i := 0
	for i < e.alive {
		p := &e.particles[i]
		p.Elapsed += dt
		if p.Elapsed >= lifespan {
			e.alive--
			e.particles[i] = e.particles[e.alive]
			continue
		}
		i++
	}

	if e.emitting && e.eff.Def.Rate > 0 {
		e.emitAccum += e.eff.Def.Rate * dt
		for e.emitAccum >= 1.0 {
			e.emitAccum -= 1.0
			if e.alive < len(e.particles) {
				e.spawnParticle()
			}
		}
	}

	return e.evaluate()
}

// spawnParticle initializes the particle at slot e.alive and increments alive.
func (e *Emitter) spawnParticle() {
	e.particles[e.alive] = Particle{
		Rand:     e.rng.Float64(),
		Rand2:    e.rng.Float64(),
		Origin:   e.origin,
		Position: e.origin,
	}
	e.alive++
}

func (e *Emitter) evaluate() (int, error) {
	evals := 0
	ctx := formula.Context{EngineUnit: e.eff.Def.Unit, Variables: e.vars}
	for i := 0; i < e.alive; i++ {
		p := &e.particles[i]
		ctx.Elapsed = p.Elapsed
		ctx.Rand = p.Rand
		ctx.Rand2 = p.Rand2

		var out [5]float64
		for j, nf := range e.formulas {
			v, err := nf.Formula.EvalNumber(&ctx)
			evals++
			if err != nil {
				e.disable(effect.FieldError{Field: nf.Field, Err: err})
				return evals, e.err
			}
			out[j] = v
		}
		p.Position = p.Origin.Add(effect.Vec3{X: out[0], Y: out[1], Z: out[2]})
		p.Size = out[3]
		p.Opacity = out[4]
	}
	return evals, nil
}

func (e *Emitter) disable(err error) {
	e.err = err
	e.emitting = false
	e.alive = 0
	e.emitAccum = 0
}

// Stop ends emission. With smooth, live particles run out their lifespan;
// otherwise they are removed immediately.
func (e *Emitter) Stop(smooth bool) {
	e.emitting = false
	if !smooth {
		e.alive = 0
		e.emitAccum = 0
	}
}

// Done reports whether the emitter has stopped or been disabled and has no
// live particles left.
func (e *Emitter) Done() bool {
	return (!e.emitting || e.err != nil) && e.alive == 0
}

// Emitting reports whether new particles are still being spawned.
func (e *Emitter) Emitting() bool {
	return e.emitting
}

// Err returns the error that disabled the emitter, or nil.
func (e *Emitter) Err() error {
	return e.err
}

// AliveCount returns the number of live particles.
func (e *Emitter) AliveCount() int {
	return e.alive
}

// Particles returns a copy of the live particles.
func (e *Emitter) Particles() []Particle {
	out := make([]Particle, e.alive)
	copy(out, e.particles[:e.alive])
	return out
}

// Effect returns the compiled effect the emitter animates.
func (e *Emitter) Effect() *effect.Effect {
	return e.eff
}
