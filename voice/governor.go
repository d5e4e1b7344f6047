package voice

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-render/dsp/core"
)

const (
	velocityWeight = 0.5
	recencyWeight  = 0.3
	pitchWeight    = 0.2

	// Epsilon in the recency term, in seconds. Keeps the weight in
	// (0, 1] so one term cannot dominate the score.
	recencyEpsilon = 1.0

	// Ceiling shrink factor per reduction step.
	reduceFactor = 0.8

	// Slots kept beyond the hard cap so stolen and released voices can
	// finish their fades while new voices start.
	arenaHeadroom = 2

	maxReductionDepth = 8
)

// Config parameterizes a Governor. Zero values fall back to defaults.
type Config struct {
	// MaxVoices is the hard polyphony cap and the initial ceiling.
	MaxVoices int
	// MinVoices floors the ceiling under load shedding. Default 4.
	MinVoices int
	// PitchBias scales the pitch term of the priority score. Default 1.
	PitchBias float64
	// HighLoadThreshold triggers ceiling reduction. Default 0.8.
	HighLoadThreshold float64
	// LowLoadThreshold arms restoration. Default 0.6.
	LowLoadThreshold float64
	// DwellSeconds is how long the load must stay below the low
	// threshold before each restore step. Default 1.
	DwellSeconds float64
	// LoadWindow is the load-average ring length. Default 32.
	LoadWindow int
}

func (c Config) withDefaults() Config {
	if c.MaxVoices == 0 {
		c.MaxVoices = 32
	}
	if c.MinVoices == 0 {
		c.MinVoices = 4
		if c.MaxVoices > 0 && c.MinVoices > c.MaxVoices {
			c.MinVoices = c.MaxVoices
		}
	}
	if c.PitchBias == 0 {
		c.PitchBias = 1
	}
	if c.HighLoadThreshold == 0 {
		c.HighLoadThreshold = 0.8
	}
	if c.LowLoadThreshold == 0 {
		c.LowLoadThreshold = 0.6
	}
	if c.DwellSeconds == 0 {
		c.DwellSeconds = 1
	}
	if c.LoadWindow == 0 {
		c.LoadWindow = 32
	}
	return c
}

// Governor owns the voice arena and the polyphony ceiling. All methods
// must be called from the render thread; the governor performs no
// allocation after construction.
type Governor struct {
	cfg Config

	voices    []Voice
	active    int
	ceiling   int
	hardCap   int
	nextID    uint64
	rejected  uint64
	stolen    uint64
	priorCeil [maxReductionDepth]int
	depth     int

	monitor *LoadMonitor
}

// NewGovernor constructs a governor with all state pre-allocated.
func NewGovernor(cfg Config) (*Governor, error) {
	cfg = cfg.withDefaults()

	if cfg.MaxVoices < 1 {
		return nil, fmt.Errorf("max voices must be >= 1: %d", cfg.MaxVoices)
	}
	if cfg.MinVoices < 1 || cfg.MinVoices > cfg.MaxVoices {
		return nil, fmt.Errorf("min voices must be in [1, %d]: %d", cfg.MaxVoices, cfg.MinVoices)
	}
	if cfg.PitchBias < 0 || cfg.PitchBias > 4 || math.IsNaN(cfg.PitchBias) {
		return nil, fmt.Errorf("pitch bias must be in [0, 4]: %f", cfg.PitchBias)
	}

	monitor, err := NewLoadMonitor(cfg.LoadWindow, cfg.HighLoadThreshold,
		cfg.LowLoadThreshold, cfg.DwellSeconds)
	if err != nil {
		return nil, err
	}

	return &Governor{
		cfg:     cfg,
		voices:  make([]Voice, arenaHeadroom*cfg.MaxVoices),
		ceiling: cfg.MaxVoices,
		hardCap: cfg.MaxVoices,
		monitor: monitor,
	}, nil
}

// Slots returns the arena size. Valid slot indices are [0, Slots).
func (g *Governor) Slots() int { return len(g.voices) }

// At returns the voice in a slot. The pointer stays valid for the life
// of the governor; callers must not retain it across a Free.
func (g *Governor) At(slot int) *Voice { return &g.voices[slot] }

// ActiveCount returns the number of voices counted against the ceiling.
func (g *Governor) ActiveCount() int { return g.active }

// MaxVoices returns the current polyphony ceiling.
func (g *Governor) MaxVoices() int { return g.ceiling }

// HardCap returns the current maximum ceiling.
func (g *Governor) HardCap() int { return g.hardCap }

// SetHardCap changes the maximum ceiling without resizing the arena, so
// n can never exceed the construction-time MaxVoices. Lowering the cap
// below the current ceiling sheds voices immediately.
func (g *Governor) SetHardCap(n int, now float64) error {
	if n < g.cfg.MinVoices || n > g.cfg.MaxVoices {
		return fmt.Errorf("hard cap must be in [%d, %d]: %d", g.cfg.MinVoices, g.cfg.MaxVoices, n)
	}

	g.hardCap = n
	if g.ceiling > n {
		g.ceiling = n
		g.shedExcess(now)
	}
	return nil
}

// SetLoadResponse replaces the load-governance hysteresis parameters.
func (g *Governor) SetLoadResponse(high, low, dwellSeconds float64) error {
	return g.monitor.SetThresholds(high, low, dwellSeconds)
}

// Quality returns the tier implied by the current reduction depth.
func (g *Governor) Quality() Quality {
	switch g.depth {
	case 0:
		return QualityFull
	case 1:
		return QualityReduced
	default:
		return QualityMinimal
	}
}

// RejectedCount returns how many note-on requests were dropped.
func (g *Governor) RejectedCount() uint64 { return g.rejected }

// StolenCount returns how many voices have been stolen.
func (g *Governor) StolenCount() uint64 { return g.stolen }

// DeadlineMisses returns the monitor's cumulative miss count.
func (g *Governor) DeadlineMisses() uint64 { return g.monitor.DeadlineMisses() }

// LoadAverage returns the monitor's trailing load average.
func (g *Governor) LoadAverage() float64 { return g.monitor.Average() }

// NoteOn resolves an allocation request at render time now. It returns
// the slot of the started voice, or ok=false when the request was
// rejected (the event's priority did not beat the weakest sounding
// voice, or the arena is exhausted).
func (g *Governor) NoteOn(ev NoteOn, now float64) (slot int, ok bool) {
	if g.active >= g.ceiling {
		victim := g.weakestActive(now)
		if victim < 0 {
			g.rejected++
			return -1, false
		}

		incoming := g.priority(ev.Velocity, ev.Timestamp, ev.Pitch, now)
		v := &g.voices[victim]
		if incoming <= g.priority(v.Velocity, v.StartTime, v.Pitch, now) {
			g.rejected++
			return -1, false
		}

		v.State = StateStolen
		g.active--
		g.stolen++
	}

	slot = g.freeSlot()
	if slot < 0 {
		// Arena full of fading voices: hard-cut the oldest fade.
		slot = g.oldestFading()
		if slot < 0 {
			g.rejected++
			return -1, false
		}
	}

	g.nextID++
	g.voices[slot] = Voice{
		ID:        g.nextID,
		Pitch:     ev.Pitch,
		Velocity:  core.Clamp(ev.Velocity, 0, 1),
		StartTime: ev.Timestamp,
		State:     StateActive,
	}
	g.active++

	return slot, true
}

// NoteOff releases the earliest-started active voice with the matching
// pitch. Unmatched note-offs are ignored.
func (g *Governor) NoteOff(ev NoteOff) {
	slot := -1
	for i := range g.voices {
		v := &g.voices[i]
		if v.State != StateActive || v.Pitch != ev.Pitch {
			continue
		}
		if slot < 0 || v.StartTime < g.voices[slot].StartTime {
			slot = i
		}
	}
	if slot < 0 {
		return
	}

	g.voices[slot].State = StateReleased
	g.active--
}

// Free returns a slot to the pool once its fade-out has completed.
func (g *Governor) Free(slot int) {
	v := &g.voices[slot]
	if v.State == StateActive {
		g.active--
	}
	*v = Voice{}
}

// HandleLoad records one per-buffer load ratio and applies the
// resulting governance action: reductions shrink the ceiling by 0.8x
// (flooring at MinVoices) and shed the weakest voices immediately;
// restores bring back the exact prior ceiling one step per dwell
// period. The action is returned so the caller can retune DSP stages.
func (g *Governor) HandleLoad(ratio, now float64) Action {
	action := g.monitor.Add(ratio, now)

	switch action {
	case ActionReduce:
		g.reduceCeiling(now)
	case ActionRestore:
		g.restoreCeiling()
	}

	return action
}

func (g *Governor) reduceCeiling(now float64) {
	next := int(math.Floor(float64(g.ceiling) * reduceFactor))
	if next < g.cfg.MinVoices {
		next = g.cfg.MinVoices
	}
	if next >= g.ceiling {
		return
	}
	if g.depth < maxReductionDepth {
		g.priorCeil[g.depth] = g.ceiling
		g.depth++
	}
	g.ceiling = next
	g.shedExcess(now)
}

func (g *Governor) restoreCeiling() {
	if g.depth == 0 {
		return
	}
	g.depth--
	g.ceiling = g.priorCeil[g.depth]
	if g.ceiling > g.hardCap {
		g.ceiling = g.hardCap
	}
}

func (g *Governor) shedExcess(now float64) {
	for g.active > g.ceiling {
		victim := g.weakestActive(now)
		if victim < 0 {
			return
		}
		g.voices[victim].State = StateStolen
		g.active--
		g.stolen++
	}
}

func (g *Governor) freeSlot() int {
	for i := range g.voices {
		if g.voices[i].State == StateFree {
			return i
		}
	}
	return -1
}

func (g *Governor) oldestFading() int {
	slot := -1
	for i := range g.voices {
		v := &g.voices[i]
		if v.State != StateStolen && v.State != StateReleased {
			continue
		}
		if slot < 0 || v.StartTime < g.voices[slot].StartTime {
			slot = i
		}
	}
	return slot
}

func (g *Governor) weakestActive(now float64) int {
	slot := -1
	best := math.Inf(1)
	for i := range g.voices {
		v := &g.voices[i]
		if v.State != StateActive {
			continue
		}
		p := g.priority(v.Velocity, v.StartTime, v.Pitch, now)
		if slot < 0 || p < best ||
			(p == best && v.StartTime < g.voices[slot].StartTime) {
			slot = i
			best = p
		}
	}
	return slot
}

// priority scores an event: louder, more recent and higher-pitched
// notes survive longer.
func (g *Governor) priority(velocity, startTime float64, pitch int, now float64) float64 {
	age := now - startTime
	if age < 0 {
		age = 0
	}
	recency := 1 / (age + recencyEpsilon)
	pitchTerm := core.Clamp(float64(pitch)/127, 0, 1) * g.cfg.PitchBias

	return velocityWeight*velocity + recencyWeight*recency + pitchWeight*pitchTerm
}
