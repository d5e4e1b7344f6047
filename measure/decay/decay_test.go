package decay

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/algo-render/dsp/core"
)

// exponentialDecay builds a response whose amplitude reaches -60 dB at
// exactly rt seconds, so every reverberation-time estimate should equal
// rt.
func exponentialDecay(rt, sampleRate float64, frames int) []float64 {
	response := make([]float64, frames)
	for i := range response {
		t := float64(i) / sampleRate
		response[i] = math.Pow(10, -3*t/rt)
	}
	return response
}

func TestNewAnalyzerValidation(t *testing.T) {
	if _, err := NewAnalyzer(0); err == nil {
		t.Fatalf("zero sample rate expected error")
	}
	if _, err := NewAnalyzer(math.NaN()); err == nil {
		t.Fatalf("NaN sample rate expected error")
	}
}

func TestAnalyzeEmptyResponse(t *testing.T) {
	a, _ := NewAnalyzer(48000)
	if _, err := a.Analyze(nil); err != ErrEmptyResponse {
		t.Fatalf("Analyze(nil) error = %v, want ErrEmptyResponse", err)
	}
}

func TestAnalyzeExponentialDecay(t *testing.T) {
	const sampleRate = 48000.0
	const rt = 1.5

	a, err := NewAnalyzer(sampleRate)
	if err != nil {
		t.Fatalf("NewAnalyzer() error = %v", err)
	}

	response := exponentialDecay(rt, sampleRate, int(2.5*sampleRate))
	m, err := a.Analyze(response)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	for _, tc := range []struct {
		name string
		got  float64
	}{
		{"RT60", m.RT60},
		{"EDT", m.EDT},
		{"T20", m.T20},
		{"T30", m.T30},
	} {
		if !core.NearlyEqual(tc.got, rt, 0.05) {
			t.Fatalf("%s = %.3fs, want %.3fs within 5%%", tc.name, tc.got, rt)
		}
	}
	if m.PeakIndex != 0 {
		t.Fatalf("PeakIndex = %d, want 0", m.PeakIndex)
	}
}

func TestAnalyzeSkipsLeadingSilence(t *testing.T) {
	const sampleRate = 48000.0
	const lead = 1000

	a, _ := NewAnalyzer(sampleRate)
	tail := exponentialDecay(1.0, sampleRate, int(1.8*sampleRate))
	response := append(make([]float64, lead), tail...)

	m, err := a.Analyze(response)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if m.PeakIndex != lead {
		t.Fatalf("PeakIndex = %d, want %d", m.PeakIndex, lead)
	}
	if !core.NearlyEqual(m.RT60, 1.0, 0.05) {
		t.Fatalf("RT60 with leading silence = %.3fs, want 1.0s", m.RT60)
	}
}

func TestAnalyzeRejectsNonDecaying(t *testing.T) {
	a, _ := NewAnalyzer(48000)

	// Steeply rising level: the backward integral stays near 0 dB, so
	// no fit range exists.
	rising := make([]float64, 100)
	for i := range rising {
		rising[i] = math.Pow(10, float64(i)/10)
	}
	if _, err := a.Analyze(rising); err != ErrNoDecay {
		t.Fatalf("Analyze(rising) error = %v, want ErrNoDecay", err)
	}
}

func TestCurveIsNormalizedAndNonincreasing(t *testing.T) {
	a, _ := NewAnalyzer(48000)
	response := exponentialDecay(0.5, 48000, 24000)

	curve, err := a.Curve(response)
	if err != nil {
		t.Fatalf("Curve() error = %v", err)
	}
	if curve[0] != 0 {
		t.Fatalf("curve[0] = %g dB, want 0", curve[0])
	}
	for i := 1; i < len(curve); i++ {
		if curve[i] > curve[i-1] {
			t.Fatalf("curve rises at %d: %g -> %g", i, curve[i-1], curve[i])
		}
	}
}

func TestTailFlatnessSeparatesNoiseFromTone(t *testing.T) {
	const sampleRate = 48000.0
	const frames = 16384

	a, _ := NewAnalyzer(sampleRate)
	rng := rand.New(rand.NewSource(3))

	noise := make([]float64, frames)
	tone := make([]float64, frames)
	for i := range noise {
		env := math.Pow(10, -3*float64(i)/frames)
		noise[i] = env * (rng.Float64()*2 - 1)
		tone[i] = env * math.Sin(2*math.Pi*1000*float64(i)/sampleRate)
	}

	flatNoise, err := a.TailFlatness(noise)
	if err != nil {
		t.Fatalf("TailFlatness(noise) error = %v", err)
	}
	flatTone, err := a.TailFlatness(tone)
	if err != nil {
		t.Fatalf("TailFlatness(tone) error = %v", err)
	}

	if flatNoise < 0.3 {
		t.Fatalf("noise flatness = %.3f, want >= 0.3", flatNoise)
	}
	if flatTone > 0.15 {
		t.Fatalf("tone flatness = %.3f, want <= 0.15", flatTone)
	}
	if flatNoise <= flatTone {
		t.Fatalf("noise flatness %.3f not above tone flatness %.3f", flatNoise, flatTone)
	}
}

func TestTailFlatnessTooShort(t *testing.T) {
	a, _ := NewAnalyzer(48000)
	if _, err := a.TailFlatness(make([]float64, 100)); err != ErrTailTooShort {
		t.Fatalf("TailFlatness(short) error = %v, want ErrTailTooShort", err)
	}
}
