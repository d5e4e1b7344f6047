// Package decay analyzes reverberant decay from impulse responses. It
// derives reverberation times from the Schroeder backward integral and
// rates the diffuseness of the late tail by spectral flatness.
package decay

import (
	"errors"
	"math"

	algofft "github.com/cwbudde/algo-fft"

	"github.com/cwbudde/algo-render/dsp/core"
)

// Errors returned by decay analysis functions.
var (
	ErrEmptyResponse     = errors.New("decay: impulse response is empty")
	ErrInvalidSampleRate = errors.New("decay: sample rate must be positive")
	ErrNoDecay           = errors.New("decay: response does not decay far enough")
	ErrTailTooShort      = errors.New("decay: tail too short for flatness analysis")
)

const (
	curveFloorDB   = -200
	maxFlatnessFFT = 8192
)

// Metrics holds the decay analysis results for one impulse response.
type Metrics struct {
	RT60         float64 // time to -60 dB, extrapolated from T30 (or T20)
	EDT          float64 // early decay time, 0 to -10 dB slope
	T20          float64 // -5 to -25 dB slope, extrapolated
	T30          float64 // -5 to -35 dB slope, extrapolated
	PeakIndex    int     // sample index of the direct sound
	TailFlatness float64 // spectral flatness of the late tail, 0..1
}

// Analyzer computes decay metrics at a fixed sample rate.
type Analyzer struct {
	sampleRate float64
}

// NewAnalyzer returns an analyzer for responses at the given rate.
func NewAnalyzer(sampleRate float64) (*Analyzer, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) {
		return nil, ErrInvalidSampleRate
	}
	return &Analyzer{sampleRate: sampleRate}, nil
}

// Analyze computes all metrics from an impulse response. The response
// may include silence before the direct sound; analysis starts at the
// absolute peak.
func (a *Analyzer) Analyze(response []float64) (Metrics, error) {
	if len(response) == 0 {
		return Metrics{}, ErrEmptyResponse
	}

	peak := peakIndex(response)
	tail := response[peak:]
	curve := a.schroederCurve(tail)

	m := Metrics{
		PeakIndex: peak,
		EDT:       a.slopeTime(curve, 0, -10),
		T20:       a.slopeTime(curve, -5, -25),
		T30:       a.slopeTime(curve, -5, -35),
	}

	// T30 needs 35 dB of usable range; fall back to T20 on short or
	// noisy responses.
	switch {
	case m.T30 > 0:
		m.RT60 = m.T30
	case m.T20 > 0:
		m.RT60 = m.T20
	default:
		return m, ErrNoDecay
	}

	if flat, err := a.tailFlatness(tail); err == nil {
		m.TailFlatness = flat
	}

	return m, nil
}

// Curve returns the Schroeder backward integral of the response in dB,
// normalized so the first sample is 0 dB. The curve is monotonically
// nonincreasing.
func (a *Analyzer) Curve(response []float64) ([]float64, error) {
	if len(response) == 0 {
		return nil, ErrEmptyResponse
	}
	return a.schroederCurve(response), nil
}

// TailFlatness measures how noise-like the second half of the response
// is: 1 for a perfectly flat (diffuse) spectrum, near 0 for a tail
// dominated by isolated modes.
func (a *Analyzer) TailFlatness(response []float64) (float64, error) {
	if len(response) == 0 {
		return 0, ErrEmptyResponse
	}
	return a.tailFlatness(response[peakIndex(response):])
}

func peakIndex(response []float64) int {
	idx := 0
	best := 0.0
	for i, v := range response {
		if abs := math.Abs(v); abs > best {
			best = abs
			idx = i
		}
	}
	return idx
}

// schroederCurve integrates the squared response backwards and converts
// the remaining-energy fraction to dB.
func (a *Analyzer) schroederCurve(response []float64) []float64 {
	curve := make([]float64, len(response))

	energy := 0.0
	for i := len(response) - 1; i >= 0; i-- {
		energy += response[i] * response[i]
		curve[i] = energy
	}

	total := curve[0]
	if total <= 0 {
		for i := range curve {
			curve[i] = curveFloorDB
		}
		return curve
	}

	for i := range curve {
		frac := curve[i] / total
		if frac <= 0 {
			curve[i] = curveFloorDB
		} else {
			curve[i] = core.LinearPowerToDB(frac)
		}
	}
	return curve
}

// slopeTime fits a line to the Schroeder curve between two dB marks and
// extrapolates the fitted slope to -60 dB. Zero means the curve never
// covered the requested range or did not fall.
func (a *Analyzer) slopeTime(curve []float64, fromDB, toDB float64) float64 {
	from := firstBelow(curve, fromDB, 0)
	if from < 0 {
		return 0
	}
	to := firstBelow(curve, toDB, from)
	if to < 0 || to-from < 2 {
		return 0
	}

	var sx, sy, sxx, sxy float64
	for i := from; i <= to; i++ {
		x := float64(i - from)
		y := curve[i]
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}

	n := float64(to - from + 1)
	denom := n*sxx - sx*sx
	if denom == 0 {
		return 0
	}
	slope := (n*sxy - sx*sy) / denom
	if slope >= 0 {
		return 0
	}

	// slope is dB per sample; -60 dB at that rate is the decay time.
	return -60 / (slope * a.sampleRate)
}

func firstBelow(curve []float64, threshold float64, start int) int {
	for i := start; i < len(curve); i++ {
		if curve[i] <= threshold {
			return i
		}
	}
	return -1
}

// tailFlatness takes the late half of the response, windows it, and
// computes the geometric-to-arithmetic mean ratio of the magnitude
// spectrum.
func (a *Analyzer) tailFlatness(response []float64) (float64, error) {
	tail := response[len(response)/2:]
	if len(tail) < 64 {
		return 0, ErrTailTooShort
	}

	fftSize := 64
	for fftSize < len(tail) && fftSize < maxFlatnessFFT {
		fftSize *= 2
	}
	if len(tail) > fftSize {
		tail = tail[:fftSize]
	}

	in := make([]complex128, fftSize)
	for i, v := range tail {
		// Hann window against leakage from the segment edges.
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(len(tail)-1)))
		in[i] = complex(v*w, 0)
	}

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return 0, err
	}
	out := make([]complex128, fftSize)
	if err := plan.Forward(out, in); err != nil {
		return 0, err
	}

	// Positive-frequency bins, DC and Nyquist excluded.
	bins := out[1 : fftSize/2]
	var logSum, sum float64
	count := 0
	for _, c := range bins {
		mag := math.Hypot(real(c), imag(c))
		if mag <= 0 {
			continue
		}
		logSum += math.Log(mag)
		sum += mag
		count++
	}
	if count == 0 || sum <= 0 {
		return 0, nil
	}

	geo := math.Exp(logSum / float64(count))
	arith := sum / float64(count)
	return geo / arith, nil
}
