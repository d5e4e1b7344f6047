package reverb

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-render/dsp/core"
	"github.com/cwbudde/algo-render/dsp/delay"
)

const (
	numCombs     = 8
	numAllpasses = 4

	// Comb and allpass tunings in samples at the 44.1 kHz reference rate,
	// scaled to the actual sample rate at construction. The lengths are
	// mutually prime-ish so the parallel bank does not reinforce a common
	// periodicity.
	combTuningRef1 = 1116
	combTuningRef2 = 1188
	combTuningRef3 = 1277
	combTuningRef4 = 1356
	combTuningRef5 = 1422
	combTuningRef6 = 1491
	combTuningRef7 = 1557
	combTuningRef8 = 1617

	allpassTuningRef1 = 556
	allpassTuningRef2 = 441
	allpassTuningRef3 = 341
	allpassTuningRef4 = 225

	allpassGain = 0.5

	// Right channel reads the same tail through this extra offset.
	stereoSpreadSamples = 23

	referenceRate = 44100.0

	defaultDecaySeconds    = 2.0
	defaultPreDelaySeconds = 0.0
	defaultWet             = 0.3
	defaultDry             = 1.0
	defaultDamp            = 0.0

	maxDecaySeconds    = 10.0
	maxPreDelaySeconds = 0.25
	maxDamp            = 0.95

	// Hard ceiling on comb feedback. Keeps every stage strictly below
	// unity gain no matter the requested decay, which bounds the output
	// for any bounded input.
	maxFeedback = 0.9995
)

type comb struct {
	line        *delay.Line
	length      int
	feedback    float64
	filterStore float64
	dampA       float64
	dampB       float64
}

func (c *comb) setDamp(v float64) {
	c.dampA = v
	c.dampB = 1 - v
}

func (c *comb) process(input float64) float64 {
	delayed := c.line.Read(c.length - 1)
	c.filterStore = core.FlushDenormals(delayed*c.dampB + c.filterStore*c.dampA)
	c.line.Write(input + c.filterStore*c.feedback)
	return delayed
}

func (c *comb) reset() {
	c.line.Reset()
	c.filterStore = 0
}

type allpass struct {
	line   *delay.Line
	length int
	gain   float64
}

// process implements the Schroeder allpass. The sign inversion on the
// direct path is what makes the stage allpass; do not "fix" it.
func (a *allpass) process(input float64) float64 {
	delayed := a.line.Read(a.length - 1)
	a.line.Write(input + delayed*a.gain)
	return -input + delayed
}

// Reverb is a Schroeder delay-network reverberator: a pre-delay line
// feeding a parallel comb bank whose averaged output runs through a
// series allpass diffuser. The comb feedback gains are derived from the
// requested decay time so the tail reaches -60 dB at that time.
//
// All state is allocated at construction. ProcessStereoSample performs
// no allocation and is safe to call from a real-time render callback;
// the type is not safe for concurrent use.
type Reverb struct {
	sampleRate float64

	decaySeconds    float64
	preDelaySeconds float64
	wet             float64
	dry             float64
	damp            float64

	preDelay       *delay.Line
	preDelayFrames int

	combs       [numCombs]comb
	allpasses   [numAllpasses]allpass
	activeCombs int

	tail *delay.Line
}

// New constructs a reverb for the given sample rate with defaults of a
// 2 s decay, no pre-delay and a 30% wet mix.
func New(sampleRate float64) (*Reverb, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("reverb sample rate must be > 0: %f", sampleRate)
	}

	r := &Reverb{
		sampleRate:  sampleRate,
		wet:         defaultWet,
		dry:         defaultDry,
		damp:        defaultDamp,
		activeCombs: numCombs,
	}

	preLen := int(math.Ceil(maxPreDelaySeconds*sampleRate)) + 4
	pre, err := delay.New(preLen)
	if err != nil {
		return nil, err
	}
	r.preDelay = pre

	combRefs := [numCombs]int{
		combTuningRef1, combTuningRef2, combTuningRef3, combTuningRef4,
		combTuningRef5, combTuningRef6, combTuningRef7, combTuningRef8,
	}
	for i, ref := range combRefs {
		length := scaleTuning(ref, sampleRate)
		line, err := delay.New(length)
		if err != nil {
			return nil, err
		}
		r.combs[i] = comb{line: line, length: length}
		r.combs[i].setDamp(defaultDamp)
	}

	allpassRefs := [numAllpasses]int{
		allpassTuningRef1, allpassTuningRef2, allpassTuningRef3, allpassTuningRef4,
	}
	for i, ref := range allpassRefs {
		length := scaleTuning(ref, sampleRate)
		line, err := delay.New(length)
		if err != nil {
			return nil, err
		}
		r.allpasses[i] = allpass{line: line, length: length, gain: allpassGain}
	}

	tailLine, err := delay.New(stereoSpreadSamples + 1)
	if err != nil {
		return nil, err
	}
	r.tail = tailLine

	if err := r.SetDecay(defaultDecaySeconds); err != nil {
		return nil, err
	}
	if err := r.SetPreDelay(defaultPreDelaySeconds); err != nil {
		return nil, err
	}

	return r, nil
}

func scaleTuning(ref int, sampleRate float64) int {
	length := int(math.Round(float64(ref) * sampleRate / referenceRate))
	if length < 4 {
		length = 4
	}
	return length
}

// SampleRate returns the sample rate in Hz.
func (r *Reverb) SampleRate() float64 { return r.sampleRate }

// Decay returns the decay time in seconds.
func (r *Reverb) Decay() float64 { return r.decaySeconds }

// PreDelay returns the pre-delay in seconds.
func (r *Reverb) PreDelay() float64 { return r.preDelaySeconds }

// Wet returns the wet level.
func (r *Reverb) Wet() float64 { return r.wet }

// Dry returns the dry level.
func (r *Reverb) Dry() float64 { return r.dry }

// Damp returns the comb feedback damping.
func (r *Reverb) Damp() float64 { return r.damp }

// ActiveCombs returns the number of comb stages currently processed.
func (r *Reverb) ActiveCombs() int { return r.activeCombs }

// SetDecay sets the -60 dB decay time in (0, 10] seconds and derives
// each comb stage's feedback gain from its delay length.
func (r *Reverb) SetDecay(seconds float64) error {
	if seconds <= 0 || seconds > maxDecaySeconds || math.IsNaN(seconds) {
		return fmt.Errorf("reverb decay must be in (0, %g]: %f", maxDecaySeconds, seconds)
	}

	r.decaySeconds = seconds
	for i := range r.combs {
		// A stage recirculating every L samples must lose 60*L/(T*sr) dB
		// per pass to put the tail at -60 dB after T seconds.
		gain := core.DBToLinear(-60 * float64(r.combs[i].length) / (seconds * r.sampleRate))
		r.combs[i].feedback = math.Min(gain, maxFeedback)
	}

	return nil
}

// SetPreDelay sets the pre-delay in [0, 0.25] seconds.
func (r *Reverb) SetPreDelay(seconds float64) error {
	if seconds < 0 || seconds > maxPreDelaySeconds || math.IsNaN(seconds) {
		return fmt.Errorf("reverb pre-delay must be in [0, %g]: %f", maxPreDelaySeconds, seconds)
	}

	r.preDelaySeconds = seconds
	r.preDelayFrames = int(math.Round(seconds * r.sampleRate))

	return nil
}

// SetWet sets the wet level in [0, 1].
func (r *Reverb) SetWet(level float64) error {
	if level < 0 || level > 1 || math.IsNaN(level) {
		return fmt.Errorf("reverb wet must be in [0, 1]: %f", level)
	}
	r.wet = level
	return nil
}

// SetDry sets the dry level in [0, 1].
func (r *Reverb) SetDry(level float64) error {
	if level < 0 || level > 1 || math.IsNaN(level) {
		return fmt.Errorf("reverb dry must be in [0, 1]: %f", level)
	}
	r.dry = level
	return nil
}

// SetDamp sets the one-pole damping inside the comb feedback in
// [0, 0.95]. Zero keeps the decay time exact; higher values darken and
// shorten the tail.
func (r *Reverb) SetDamp(v float64) error {
	if v < 0 || v > maxDamp || math.IsNaN(v) {
		return fmt.Errorf("reverb damp must be in [0, %g]: %f", maxDamp, v)
	}
	r.damp = v
	for i := range r.combs {
		r.combs[i].setDamp(v)
	}
	return nil
}

// SetActiveCombs limits processing to the first n comb stages. Used by
// the quality governor to trade density for render time.
func (r *Reverb) SetActiveCombs(n int) error {
	if n < 1 || n > numCombs {
		return fmt.Errorf("reverb active combs must be in [1, %d]: %d", numCombs, n)
	}
	r.activeCombs = n
	return nil
}

// Reset clears all delay and filter state.
func (r *Reverb) Reset() {
	r.preDelay.Reset()
	r.tail.Reset()
	for i := range r.combs {
		r.combs[i].reset()
	}
	for i := range r.allpasses {
		r.allpasses[i].line.Reset()
	}
}

// ProcessStereoSample processes one stereo frame. The tail is computed
// from the mono mid signal; the right channel reads the same tail a few
// samples later for decorrelation.
func (r *Reverb) ProcessStereoSample(inL, inR float64) (outL, outR float64) {
	mono := 0.5 * (inL + inR)

	r.preDelay.Write(mono)
	delayed := r.preDelay.Read(r.preDelayFrames)

	var sum float64
	for i := 0; i < r.activeCombs; i++ {
		sum += r.combs[i].process(delayed)
	}
	sum /= float64(r.activeCombs)

	for i := range r.allpasses {
		sum = r.allpasses[i].process(sum)
	}

	r.tail.Write(sum)
	tailR := r.tail.Read(stereoSpreadSamples)

	outL = r.dry*inL + r.wet*sum
	outR = r.dry*inR + r.wet*tailR
	return outL, outR
}

// ProcessSample processes one mono input frame into a stereo frame.
func (r *Reverb) ProcessSample(input float64) (outL, outR float64) {
	return r.ProcessStereoSample(input, input)
}

// ProcessStereoInPlace applies the reverb to left and right in place.
// Both slices must have the same length.
func (r *Reverb) ProcessStereoInPlace(left, right []float64) {
	n := len(left)
	if len(right) < n {
		n = len(right)
	}
	for i := 0; i < n; i++ {
		left[i], right[i] = r.ProcessStereoSample(left[i], right[i])
	}
}
