package engine

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-render/voice"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func bypassEffects(e *Engine) {
	e.SetReverb(ReverbParams{DecaySeconds: 2, WetLevel: 0, DryLevel: 1})
	e.SetGranular(GranularParams{GrainSizeSeconds: 0.1, GrainsPerSecond: 10, WetLevel: 0})
}

func stereoBuffer(frames int) [][]float32 {
	return [][]float32{make([]float32, frames), make([]float32, frames)}
}

func maxAbs32(buf []float32) float64 {
	m := 0.0
	for _, v := range buf {
		if a := math.Abs(float64(v)); a > m {
			m = a
		}
	}
	return m
}

func TestNewValidation(t *testing.T) {
	if _, err := New(WithSampleRate(0)); err == nil {
		t.Fatalf("zero sample rate expected error")
	}
	if _, err := New(WithBlockSize(-1)); err == nil {
		t.Fatalf("negative block size expected error")
	}
	if _, err := New(WithMaxVoices(-2)); err == nil {
		t.Fatalf("negative max voices expected error")
	}
}

func TestRenderSilenceWithoutInput(t *testing.T) {
	e := newTestEngine(t)

	out := stereoBuffer(e.BlockSize())
	for i := 0; i < 10; i++ {
		e.Render(nil, out)
	}
	for ch := range out {
		if got := maxAbs32(out[ch]); got != 0 {
			t.Fatalf("channel %d peak = %g, want silence", ch, got)
		}
	}
}

func TestRenderPassthroughWhenBypassed(t *testing.T) {
	e := newTestEngine(t)
	bypassEffects(e)

	frames := e.BlockSize()
	in := [][]float32{make([]float32, frames)}
	for i := range in[0] {
		in[0][i] = float32(i%17) / 17
	}
	out := stereoBuffer(frames)
	e.Render(in, out)

	for i := range in[0] {
		if out[0][i] != in[0][i] || out[1][i] != in[0][i] {
			t.Fatalf("frame %d: out = (%g, %g), want %g on both channels",
				i, out[0][i], out[1][i], in[0][i])
		}
	}
}

func TestNoteOnProducesAudio(t *testing.T) {
	e := newTestEngine(t)
	bypassEffects(e)

	if !e.SendNote(NoteEvent{Kind: EventNoteOn, Pitch: 69, Velocity: 0.8}) {
		t.Fatalf("SendNote dropped the event")
	}

	out := stereoBuffer(e.BlockSize())
	e.Render(nil, out)

	if got := maxAbs32(out[0]); got == 0 {
		t.Fatalf("note-on buffer is silent")
	}

	st, ok := e.Status()
	if !ok {
		t.Fatalf("Status() empty after render")
	}
	if st.ActiveVoices != 1 {
		t.Fatalf("active voices = %d, want 1", st.ActiveVoices)
	}
	if st.PeakLevel == 0 {
		t.Fatalf("telemetry peak = 0, want > 0")
	}
	if st.Quality != voice.QualityFull {
		t.Fatalf("quality = %v, want full under light load", st.Quality)
	}
}

func TestVoiceCeilingUnderEventBurst(t *testing.T) {
	e := newTestEngine(t, WithMaxVoices(4))
	bypassEffects(e)

	for i := 0; i < 16; i++ {
		ev := NoteEvent{Kind: EventNoteOn, Pitch: 40 + i, Velocity: 0.2 + 0.05*float64(i)}
		if !e.SendNote(ev) {
			t.Fatalf("note %d dropped by queue", i)
		}
	}

	out := stereoBuffer(e.BlockSize())
	e.Render(nil, out)

	st, ok := e.Status()
	if !ok {
		t.Fatalf("Status() empty after render")
	}
	if st.ActiveVoices > st.MaxVoices {
		t.Fatalf("active %d exceeds ceiling %d", st.ActiveVoices, st.MaxVoices)
	}
	if st.RejectedNotes+st.StolenVoices == 0 {
		t.Fatalf("16 notes into 4 slots produced no rejections or steals")
	}
}

func TestNoteOffFadesToSilence(t *testing.T) {
	e := newTestEngine(t)
	bypassEffects(e)

	e.SendNote(NoteEvent{Kind: EventNoteOn, Pitch: 60, Velocity: 0.8})
	out := stereoBuffer(e.BlockSize())
	for i := 0; i < 5; i++ {
		e.Render(nil, out)
	}

	e.SendNote(NoteEvent{Kind: EventNoteOff, Pitch: 60})
	for i := 0; i < 40; i++ {
		e.Render(nil, out)
	}

	if got := maxAbs32(out[0]); got != 0 {
		t.Fatalf("post-release buffer peak = %g, want exact silence", got)
	}
	st, _ := e.Status()
	if st.ActiveVoices != 0 {
		t.Fatalf("active voices after release = %d, want 0", st.ActiveVoices)
	}
}

func TestParamRejectionKeepsPreviousValues(t *testing.T) {
	e := newTestEngine(t)
	bypassEffects(e)

	out := stereoBuffer(e.BlockSize())
	e.Render(nil, out)

	e.SetReverb(ReverbParams{DecaySeconds: -1, WetLevel: 0, DryLevel: 1})
	e.Render(nil, out)

	st, ok := e.Status()
	if !ok {
		t.Fatalf("Status() empty after render")
	}
	if st.RejectedParams != 1 {
		t.Fatalf("rejected params = %d, want 1", st.RejectedParams)
	}

	// The bypass settings from before the bad update must still hold.
	frames := e.BlockSize()
	in := [][]float32{make([]float32, frames)}
	for i := range in[0] {
		in[0][i] = float32(i%11) / 11
	}
	e.Render(in, out)
	for i := range in[0] {
		if out[0][i] != in[0][i] {
			t.Fatalf("frame %d: out = %g, want passthrough %g", i, out[0][i], in[0][i])
		}
	}
}

func TestStatusQueueDrains(t *testing.T) {
	e := newTestEngine(t)

	out := stereoBuffer(e.BlockSize())
	e.Render(nil, out)
	e.Render(nil, out)

	if _, ok := e.Status(); !ok {
		t.Fatalf("Status() empty after two renders")
	}
	if _, ok := e.Status(); ok {
		t.Fatalf("Status() not drained by previous call")
	}
}

func TestChunkingMatchesSingleBlock(t *testing.T) {
	render := func(blockSize int) [][]float32 {
		e := newTestEngine(t, WithBlockSize(blockSize), WithSeed(7))
		e.SendNote(NoteEvent{Kind: EventNoteOn, Pitch: 57, Velocity: 0.6})
		out := stereoBuffer(256)
		e.Render(nil, out)
		return out
	}

	small := render(64)
	big := render(256)

	for ch := range small {
		for i := range small[ch] {
			if small[ch][i] != big[ch][i] {
				t.Fatalf("channel %d frame %d: chunked = %g, single = %g",
					ch, i, small[ch][i], big[ch][i])
			}
		}
	}
}

func TestRenderRecoversFromFault(t *testing.T) {
	e := newTestEngine(t)
	bypassEffects(e)
	e.SendNote(NoteEvent{Kind: EventNoteOn, Pitch: 60, Velocity: 0.8})

	// Mismatched channel lengths fault mid-buffer; the engine must
	// swallow the fault and hand back a defined, silent buffer.
	out := [][]float32{make([]float32, e.BlockSize()), make([]float32, e.BlockSize()/2)}
	e.Render(nil, out)

	for ch := range out {
		if got := maxAbs32(out[ch]); got != 0 {
			t.Fatalf("channel %d peak = %g after fault, want silence", ch, got)
		}
	}

	// The next well-formed buffer renders normally.
	good := stereoBuffer(e.BlockSize())
	e.Render(nil, good)
	if got := maxAbs32(good[0]); got == 0 {
		t.Fatalf("engine dead after recovered fault")
	}
}

func TestGovernorParamsApply(t *testing.T) {
	e := newTestEngine(t, WithMaxVoices(8))
	bypassEffects(e)
	e.SetGovernor(GovernorParams{
		MaxVoicesHardCap:  4,
		HighLoadThreshold: 0.8,
		LowLoadThreshold:  0.6,
		DwellSeconds:      1,
	})

	for i := 0; i < 8; i++ {
		e.SendNote(NoteEvent{Kind: EventNoteOn, Pitch: 50 + i, Velocity: 0.5})
	}
	out := stereoBuffer(e.BlockSize())
	e.Render(nil, out)

	st, _ := e.Status()
	if st.MaxVoices != 4 {
		t.Fatalf("ceiling after hard-cap update = %d, want 4", st.MaxVoices)
	}
	if st.ActiveVoices > 4 {
		t.Fatalf("active %d exceeds lowered cap", st.ActiveVoices)
	}
}

func BenchmarkRender(b *testing.B) {
	e, err := New()
	if err != nil {
		b.Fatalf("New() error = %v", err)
	}
	for i := 0; i < 8; i++ {
		e.SendNote(NoteEvent{Kind: EventNoteOn, Pitch: 48 + 3*i, Velocity: 0.7})
	}
	out := stereoBuffer(e.BlockSize())

	b.ReportAllocs()
	for b.Loop() {
		e.Render(nil, out)
	}
}
