package granular

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/algo-render/dsp/delay"
)

const (
	poolSize = 32

	defaultGrainSeconds    = 0.1
	defaultGrainsPerSecond = 10.0
	defaultShimmer         = 0.0
	defaultWet             = 0.5
	defaultSeed            = 1

	minGrainSeconds    = 0.005
	maxGrainSeconds    = 0.5
	maxGrainsPerSecond = 200.0
	maxShimmer         = 1.0

	// Duration, amplitude and pan randomization ranges per trigger.
	durationJitter = 0.2
	minAmplitude   = 0.3
	maxAmplitude   = 0.7
	panSpread      = 0.4

	// Trigger interval jitter.
	intervalJitter = 0.2
)

type grain struct {
	active    bool
	position  int
	duration  int
	offset    float64
	amplitude float64
	pitch     float64
	panL      float64
	panR      float64
}

// Granular resynthesizes its input from a continuously recorded history
// line using a fixed pool of short, Hann-enveloped grains. Grains are
// triggered at a configurable rate with per-trigger jitter; each grain
// carries its own amplitude, playback ratio and stereo pan.
//
// The pool never grows: when every slot is busy a trigger is dropped
// silently, which is a normal operating mode under load rather than an
// error. The process path performs no allocation; the type is not safe
// for concurrent use.
type Granular struct {
	sampleRate      float64
	grainSeconds    float64
	grainsPerSecond float64
	shimmer         float64
	wet             float64
	seed            int64

	history *delay.Line
	grains  [poolSize]grain

	maxActiveGrains int
	framesUntilNext int
	spawned         uint64
	dropped         uint64

	rng *rand.Rand
}

// New creates a granular engine with a 100 ms grain size, 10 grains per
// second and a 50% wet mix.
func New(sampleRate float64) (*Granular, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("granular sample rate must be > 0: %f", sampleRate)
	}

	// History holds twice the largest possible grain span (duration at
	// maximum jitter times the fastest playback ratio), so no grain can
	// read samples that have already been overwritten.
	maxSpan := maxGrainSeconds * (1 + durationJitter) * (1 + maxShimmer/2) * sampleRate
	histLen := 2 * int(math.Ceil(maxSpan))
	if histLen < 256 {
		histLen = 256
	}

	history, err := delay.New(histLen)
	if err != nil {
		return nil, err
	}

	g := &Granular{
		sampleRate:      sampleRate,
		grainSeconds:    defaultGrainSeconds,
		grainsPerSecond: defaultGrainsPerSecond,
		shimmer:         defaultShimmer,
		wet:             defaultWet,
		seed:            defaultSeed,
		history:         history,
		maxActiveGrains: poolSize,
		rng:             rand.New(rand.NewSource(defaultSeed)),
	}
	g.framesUntilNext = g.nextInterval()

	return g, nil
}

// SampleRate returns the sample rate in Hz.
func (g *Granular) SampleRate() float64 { return g.sampleRate }

// GrainSeconds returns the nominal grain duration in seconds.
func (g *Granular) GrainSeconds() float64 { return g.grainSeconds }

// GrainsPerSecond returns the trigger rate.
func (g *Granular) GrainsPerSecond() float64 { return g.grainsPerSecond }

// Shimmer returns the pitch jitter amount in [0, 1].
func (g *Granular) Shimmer() float64 { return g.shimmer }

// Wet returns the wet mix in [0, 1].
func (g *Granular) Wet() float64 { return g.wet }

// MaxActiveGrains returns the current grain slot budget.
func (g *Granular) MaxActiveGrains() int { return g.maxActiveGrains }

// ActiveGrains returns how many grains are currently sounding.
func (g *Granular) ActiveGrains() int {
	n := 0
	for i := range g.grains {
		if g.grains[i].active {
			n++
		}
	}
	return n
}

// SpawnCount returns how many grains have been activated since the last
// Reset.
func (g *Granular) SpawnCount() uint64 { return g.spawned }

// DroppedCount returns how many triggers were dropped because the pool
// was exhausted since the last Reset.
func (g *Granular) DroppedCount() uint64 { return g.dropped }

// SetGrainSeconds sets the nominal grain duration in [0.005, 0.5] seconds.
func (g *Granular) SetGrainSeconds(seconds float64) error {
	if seconds < minGrainSeconds || seconds > maxGrainSeconds ||
		math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("granular grain seconds must be in [%g, %g]: %f",
			minGrainSeconds, maxGrainSeconds, seconds)
	}
	g.grainSeconds = seconds
	return nil
}

// SetGrainsPerSecond sets the trigger rate in [0, 200]. Zero disables
// triggering; grains already sounding play out.
func (g *Granular) SetGrainsPerSecond(rate float64) error {
	if rate < 0 || rate > maxGrainsPerSecond || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("granular rate must be in [0, %g]: %f", maxGrainsPerSecond, rate)
	}
	g.grainsPerSecond = rate
	g.framesUntilNext = g.nextInterval()
	return nil
}

// SetShimmer sets the pitch jitter amount in [0, 1]. A grain's playback
// ratio is drawn from 1 +/- shimmer/2.
func (g *Granular) SetShimmer(amount float64) error {
	if amount < 0 || amount > maxShimmer || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("granular shimmer must be in [0, %g]: %f", maxShimmer, amount)
	}
	g.shimmer = amount
	return nil
}

// SetWet sets the wet mix in [0, 1].
func (g *Granular) SetWet(level float64) error {
	if level < 0 || level > 1 || math.IsNaN(level) || math.IsInf(level, 0) {
		return fmt.Errorf("granular wet must be in [0, 1]: %f", level)
	}
	g.wet = level
	return nil
}

// SetMaxActiveGrains limits the usable pool slots in [1, 32]. Used by
// the quality governor; grains above the budget finish playing out.
func (g *Granular) SetMaxActiveGrains(n int) error {
	if n < 1 || n > poolSize {
		return fmt.Errorf("granular active grains must be in [1, %d]: %d", poolSize, n)
	}
	g.maxActiveGrains = n
	return nil
}

// SetRandomSeed sets the RNG seed for deterministic scheduling and
// resets all state.
func (g *Granular) SetRandomSeed(seed int64) {
	g.seed = seed
	g.Reset()
}

// Reset clears history and grain state and rewinds the random state.
func (g *Granular) Reset() {
	g.history.Reset()
	for i := range g.grains {
		g.grains[i] = grain{}
	}
	g.spawned = 0
	g.dropped = 0
	g.rng.Seed(g.seed)
	g.framesUntilNext = g.nextInterval()
}

// ProcessSample records one input sample and renders the active grains
// into a stereo frame mixed with the dry input.
func (g *Granular) ProcessSample(input float64) (outL, outR float64) {
	g.history.Write(input)

	if g.grainsPerSecond > 0 {
		g.framesUntilNext--
		if g.framesUntilNext <= 0 {
			g.spawnGrain()
			g.framesUntilNext = g.nextInterval()
		}
	}

	var wetL, wetR float64
	for i := range g.grains {
		gr := &g.grains[i]
		if !gr.active {
			continue
		}

		// The grain start is a fixed absolute sample while the write
		// cursor advances one frame per sample, so the delay seen from
		// the cursor is offset + position*(1 - pitch).
		readDelay := gr.offset + float64(gr.position)*(1-gr.pitch)
		s := g.history.ReadFractional(readDelay)

		env := 0.5 * (1 - math.Cos(2*math.Pi*float64(gr.position)/float64(gr.duration)))
		s *= env * gr.amplitude

		wetL += s * gr.panL
		wetR += s * gr.panR

		gr.position++
		if gr.position >= gr.duration {
			gr.active = false
		}
	}

	dry := 1 - g.wet
	outL = dry*input + g.wet*wetL
	outR = dry*input + g.wet*wetR
	return outL, outR
}

// ProcessBlock processes input into left/right output slices. All three
// slices must have the same length.
func (g *Granular) ProcessBlock(input, outL, outR []float64) {
	n := len(input)
	for i := 0; i < n; i++ {
		outL[i], outR[i] = g.ProcessSample(input[i])
	}
}

func (g *Granular) nextInterval() int {
	if g.grainsPerSecond <= 0 {
		return 0
	}
	base := g.sampleRate / g.grainsPerSecond
	jittered := base * (1 + (g.rng.Float64()*2-1)*intervalJitter)
	interval := int(math.Round(jittered))
	if interval < 1 {
		interval = 1
	}
	return interval
}

func (g *Granular) spawnGrain() {
	slot := -1
	for i := 0; i < g.maxActiveGrains; i++ {
		if !g.grains[i].active {
			slot = i
			break
		}
	}
	if slot < 0 {
		g.dropped++
		return
	}

	duration := int(math.Round(g.grainSeconds * g.sampleRate *
		(1 + (g.rng.Float64()*2-1)*durationJitter)))
	if duration < 2 {
		duration = 2
	}

	pitch := 1 + (g.rng.Float64()*2-1)*g.shimmer/2
	pan := (g.rng.Float64()*2 - 1) * panSpread

	// The grain must start far enough behind the write cursor that its
	// read never overtakes unwritten samples, and close enough that its
	// oldest read stays inside the history span.
	minOffset := math.Ceil(float64(duration)*pitch) + 2
	maxOffset := float64(g.history.Len() - duration - 2)
	if maxOffset < minOffset {
		maxOffset = minOffset
	}
	offset := minOffset + g.rng.Float64()*(maxOffset-minOffset)

	g.grains[slot] = grain{
		active:    true,
		position:  0,
		duration:  duration,
		offset:    offset,
		amplitude: minAmplitude + g.rng.Float64()*(maxAmplitude-minAmplitude),
		pitch:     pitch,
		panL:      math.Cos((pan + 1) * math.Pi / 4),
		panR:      math.Sin((pan + 1) * math.Pi / 4),
	}
	g.spawned++
}
