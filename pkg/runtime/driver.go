package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lemonberrylabs/particlefx/pkg/effect"
	"github.com/lemonberrylabs/particlefx/pkg/formula"
)

// DefaultTickRate is the number of driver ticks per second.
const DefaultTickRate = 60

// DefaultMaxInstances is the number of instances a driver runs at once.
const DefaultMaxInstances = 1024

// ErrInstanceNotFound is returned for an unknown instance ID.
var ErrInstanceNotFound = errors.New("instance not found")

// ErrTooManyInstances is returned when the driver is at capacity.
var ErrTooManyInstances = errors.New("too many running instances")

// State represents the lifecycle state of an effect instance.
type State string

const (
	StateActive   State = "ACTIVE"
	StateEnding   State = "ENDING"
	StateFinished State = "FINISHED"
	StateDisabled State = "DISABLED"
)

// InstanceSnapshot is a point-in-time copy of an instance.
type InstanceSnapshot struct {
	ID         string      `json:"id"`
	EffectID   string      `json:"effectId"`
	EffectName string      `json:"effectName"`
	State      State       `json:"state"`
	Origin     effect.Vec3 `json:"origin"`
	StartTime  time.Time   `json:"startTime"`
	Age        float64     `json:"age"`
	Alive      int         `json:"alive"`
	Particles  []Particle  `json:"particles,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// TickStats summarises one driver step.
type TickStats struct {
	Duration    time.Duration
	Instances   int
	Particles   int
	Evaluations int
}

// Listener observes instance lifecycle and driver ticks. Methods are called
// outside the instance lock but one event batch at a time, so an instance's
// start is always delivered before its end. Listeners must not call Start,
// End or Tick.
type Listener interface {
	InstanceStarted(inst InstanceSnapshot)
	InstanceDisabled(inst InstanceSnapshot, err error)
	InstanceFinished(inst InstanceSnapshot)
	Ticked(stats TickStats)
}

// Config controls a Driver.
type Config struct {
	TickRate     float64 // ticks per second
	MaxInstances int
	Seed         uint64 // when non-zero, instance randomness is reproducible
}

type instance struct {
	id        string
	effectID  string
	emitter   *Emitter
	state     State
	origin    effect.Vec3
	startTime time.Time
	age       float64
}

func (i *instance) snapshot(withParticles bool) InstanceSnapshot {
	s := InstanceSnapshot{
		ID:         i.id,
		EffectID:   i.effectID,
		EffectName: i.emitter.Effect().Def.Name,
		State:      i.state,
		Origin:     i.origin,
		StartTime:  i.startTime,
		Age:        i.age,
		Alive:      i.emitter.AliveCount(),
	}
	if withParticles {
		s.Particles = i.emitter.Particles()
	}
	if err := i.emitter.Err(); err != nil {
		s.Error = err.Error()
	}
	return s
}

// event is a lifecycle notification queued under the lock and delivered
// after it is released.
type event struct {
	snap InstanceSnapshot
	err  error
}

// Driver owns every running effect instance and steps them together.
type Driver struct {
	cfg       Config
	vars      formula.VariableReader
	listeners []Listener

	// notifyMu orders state changes with their listener delivery. It is
	// always taken before mu.
	notifyMu sync.Mutex

	mu        sync.Mutex
	instances map[string]*instance
	seeds     *rand.Rand
}

// NewDriver creates a driver. vars backs var() in every instance's formulas.
func NewDriver(cfg Config, vars formula.VariableReader, listeners ...Listener) *Driver {
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = DefaultMaxInstances
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Driver{
		cfg:       cfg,
		vars:      vars,
		listeners: listeners,
		instances: make(map[string]*instance),
		seeds:     rand.New(rand.NewPCG(seed, ^seed)),
	}
}

// TickInterval returns the wall-clock time between ticks.
func (d *Driver) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / d.cfg.TickRate)
}

// Run steps all instances at the configured rate until ctx is done.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.TickInterval())
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			d.Tick(dt)
		}
	}
}

// Start creates a new instance of eff at origin and begins emitting.
func (d *Driver) Start(effectID string, eff *effect.Effect, origin effect.Vec3) (InstanceSnapshot, error) {
	if eff == nil {
		return InstanceSnapshot{}, fmt.Errorf("start instance of %q: effect is not compiled", effectID)
	}

	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()

	d.mu.Lock()
	if len(d.instances) >= d.cfg.MaxInstances {
		d.mu.Unlock()
		return InstanceSnapshot{}, fmt.Errorf("%w (limit %d)", ErrTooManyInstances, d.cfg.MaxInstances)
	}
	at := eff.Def.Origin.Add(origin)
	inst := &instance{
		id:        uuid.NewString(),
		effectID:  effectID,
		emitter:   NewEmitter(eff, at, d.vars, d.seeds.Uint64()),
		state:     StateActive,
		origin:    at,
		startTime: time.Now().UTC(),
	}
	d.instances[inst.id] = inst
	snap := inst.snapshot(false)
	d.mu.Unlock()

	for _, l := range d.listeners {
		l.InstanceStarted(snap)
	}
	return snap, nil
}

// End stops an instance. With smooth, its particles live out their lifespan
// before it finishes; otherwise it finishes immediately.
func (d *Driver) End(id string, smooth bool) (InstanceSnapshot, error) {
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()

	d.mu.Lock()
	inst, ok := d.instances[id]
	if !ok {
		d.mu.Unlock()
		return InstanceSnapshot{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	inst.emitter.Stop(smooth)
	inst.state = StateEnding

	finished := inst.emitter.Done()
	if finished {
		inst.state = StateFinished
		delete(d.instances, id)
	}
	snap := inst.snapshot(false)
	d.mu.Unlock()

	if finished {
		for _, l := range d.listeners {
			l.InstanceFinished(snap)
		}
	}
	return snap, nil
}

// Get returns a snapshot of a running instance including its particles.
func (d *Driver) Get(id string) (InstanceSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	inst, ok := d.instances[id]
	if !ok {
		return InstanceSnapshot{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return inst.snapshot(true), nil
}

// List returns snapshots of all running instances, oldest first. Particles
// are omitted.
func (d *Driver) List() []InstanceSnapshot {
	d.mu.Lock()
	out := make([]InstanceSnapshot, 0, len(d.instances))
	for _, inst := range d.instances {
		out = append(out, inst.snapshot(false))
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Tick advances every instance by dt seconds. Instances that finish or are
// disabled by an evaluation error are removed and reported to listeners.
func (d *Driver) Tick(dt float64) TickStats {
	start := time.Now()
	var stats TickStats
	var finished, disabled []event

	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()

	d.mu.Lock()
	for id, inst := range d.instances {
		inst.age += dt
		evals, err := inst.emitter.Update(dt)
		stats.Evaluations += evals

		switch {
		case err != nil:
			inst.state = StateDisabled
			log.Printf("Warning: instance %s of effect %q disabled: %v", id, inst.effectID, err)
			disabled = append(disabled, event{snap: inst.snapshot(false), err: err})
			delete(d.instances, id)
		case inst.emitter.Done():
			inst.state = StateFinished
			finished = append(finished, event{snap: inst.snapshot(false)})
			delete(d.instances, id)
		default:
			stats.Instances++
			stats.Particles += inst.emitter.AliveCount()
		}
	}
	d.mu.Unlock()
	stats.Duration = time.Since(start)

	for _, l := range d.listeners {
		for _, ev := range disabled {
			l.InstanceDisabled(ev.snap, ev.err)
		}
		for _, ev := range finished {
			l.InstanceFinished(ev.snap)
		}
		l.Ticked(stats)
	}
	return stats
}
