package engine

import (
	"fmt"
	"time"

	"github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-render/dsp/core"
	"github.com/cwbudde/algo-render/dsp/granular"
	"github.com/cwbudde/algo-render/dsp/reverb"
	"github.com/cwbudde/algo-render/rt"
	"github.com/cwbudde/algo-render/voice"
)

const (
	defaultNoteQueueDepth = 256
	defaultStatusDepth    = 16

	fullCombs    = 8
	reducedCombs = 6
	minimalCombs = 4

	fullGrainBudget    = 32
	reducedGrainBudget = 16
	minimalGrainBudget = 8

	reducedDamp = 0.25
	minimalDamp = 0.5
)

type config struct {
	proc     core.ProcessorConfig
	governor voice.Config
	seed     int64
}

// Option configures an Engine at construction time.
type Option func(*config)

// WithSampleRate sets the render sample rate in Hz.
func WithSampleRate(sampleRate float64) Option {
	return func(c *config) { c.proc.SampleRate = sampleRate }
}

// WithBlockSize sets the internal processing block size in frames.
// Render accepts buffers of any length and chunks them to this size.
func WithBlockSize(blockSize int) Option {
	return func(c *config) { c.proc.BlockSize = blockSize }
}

// WithMaxVoices sets the polyphony hard cap.
func WithMaxVoices(n int) Option {
	return func(c *config) { c.governor.MaxVoices = n }
}

// WithGovernorConfig replaces the whole voice governor configuration.
func WithGovernorConfig(cfg voice.Config) Option {
	return func(c *config) { c.governor = cfg }
}

// WithSeed seeds the granular stage's random source.
func WithSeed(seed int64) Option {
	return func(c *config) { c.seed = seed }
}

// Engine is the render core. Construct it on the control thread, then
// call Render from the audio callback and everything else from the
// control thread.
type Engine struct {
	sampleRate float64
	blockSize  int

	rev    *reverb.Reverb
	gran   *granular.Granular
	gov    *voice.Governor
	synths []synthVoice

	reverbCell   rt.Cell[ReverbParams]
	granularCell rt.Cell[GranularParams]
	governorCell rt.Cell[GovernorParams]
	notes        *rt.Queue[NoteEvent]
	statusQ      *rt.Queue[Status]

	mix      []float64
	voiceBuf []float64
	wetL     []float64
	wetR     []float64

	clock        float64
	lastRatio    float64
	peak         float64
	paramRejects uint64
	userDamp     float64
	quality      voice.Quality
}

// New constructs an engine with all render-path state pre-allocated.
func New(opts ...Option) (*Engine, error) {
	cfg := config{proc: core.DefaultProcessorConfig(), seed: 1}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.proc.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be > 0: %f", cfg.proc.SampleRate)
	}
	if cfg.proc.BlockSize <= 0 {
		return nil, fmt.Errorf("block size must be > 0: %d", cfg.proc.BlockSize)
	}

	rev, err := reverb.New(cfg.proc.SampleRate)
	if err != nil {
		return nil, err
	}
	gran, err := granular.New(cfg.proc.SampleRate)
	if err != nil {
		return nil, err
	}
	gran.SetRandomSeed(cfg.seed)
	gov, err := voice.NewGovernor(cfg.governor)
	if err != nil {
		return nil, err
	}
	notes, err := rt.NewQueue[NoteEvent](defaultNoteQueueDepth)
	if err != nil {
		return nil, err
	}
	statusQ, err := rt.NewQueue[Status](defaultStatusDepth)
	if err != nil {
		return nil, err
	}

	n := cfg.proc.BlockSize
	return &Engine{
		sampleRate: cfg.proc.SampleRate,
		blockSize:  n,
		rev:        rev,
		gran:       gran,
		gov:        gov,
		synths:     make([]synthVoice, gov.Slots()),
		notes:      notes,
		statusQ:    statusQ,
		mix:        make([]float64, n),
		voiceBuf:   make([]float64, n),
		wetL:       make([]float64, n),
		wetR:       make([]float64, n),
	}, nil
}

// SampleRate returns the render sample rate in Hz.
func (e *Engine) SampleRate() float64 { return e.sampleRate }

// BlockSize returns the internal processing block size in frames.
func (e *Engine) BlockSize() int { return e.blockSize }

// SetReverb hands a reverb parameter set to the render thread. It takes
// effect at the next buffer boundary; a later call before then replaces
// the pending set.
func (e *Engine) SetReverb(p ReverbParams) { e.reverbCell.Store(p) }

// SetGranular hands a granular parameter set to the render thread.
func (e *Engine) SetGranular(p GranularParams) { e.granularCell.Store(p) }

// SetGovernor hands governance parameters to the render thread.
func (e *Engine) SetGovernor(p GovernorParams) { e.governorCell.Store(p) }

// SendNote queues a note event for the next buffer. It reports false
// when the queue is full and the event was dropped.
func (e *Engine) SendNote(ev NoteEvent) bool { return e.notes.Push(ev) }

// Status drains the telemetry queue and returns the latest snapshot,
// or ok=false when no Render has completed since the last call.
func (e *Engine) Status() (Status, bool) {
	var latest Status
	var ok bool
	for {
		st, more := e.statusQ.Pop()
		if !more {
			return latest, ok
		}
		latest = st
		ok = true
	}
}

// Render produces one buffer of audio. in and out are planar float32
// channel slices; in may be nil for a pure synthesis buffer, and out
// must have at least one channel. Render never fails: on an internal
// fault the whole buffer is replaced with silence and processing
// resumes on the next call.
func (e *Engine) Render(in, out [][]float32) {
	if len(out) == 0 || len(out[0]) == 0 {
		return
	}

	defer func() {
		if recover() != nil {
			silence(out)
		}
	}()

	started := time.Now()
	frames := len(out[0])
	e.peak = 0

	e.applyParams()
	e.drainNotes()
	e.syncVoices()

	for offset := 0; offset < frames; offset += e.blockSize {
		n := frames - offset
		if n > e.blockSize {
			n = e.blockSize
		}
		e.renderChunk(in, out, offset, n)
	}

	e.retireVoices()

	deadline := float64(frames) / e.sampleRate
	elapsed := time.Since(started).Seconds()
	e.lastRatio = elapsed / deadline
	e.clock += deadline

	if action := e.gov.HandleLoad(e.lastRatio, e.clock); action != voice.ActionNone {
		e.applyQuality(e.gov.Quality())
	}

	e.publishStatus()
}

func (e *Engine) renderChunk(in, out [][]float32, offset, n int) {
	mix := e.mix[:n]
	for i := range mix {
		mix[i] = 0
	}

	// Fold any input channels into the mono bus.
	if len(in) > 0 {
		buf := e.voiceBuf[:n]
		for ch := range in {
			src := in[ch]
			for i := range buf {
				j := offset + i
				if j < len(src) {
					buf[i] = float64(src[j])
				} else {
					buf[i] = 0
				}
			}
			vecmath.AddBlockInPlace(mix, buf)
		}
		vecmath.ScaleBlockInPlace(mix, 1/float64(len(in)))
	}

	for slot := range e.synths {
		s := &e.synths[slot]
		if !s.active() {
			continue
		}
		s.renderBlock(e.voiceBuf[:n])
		vecmath.AddBlockInPlace(mix, e.voiceBuf[:n])
	}

	wetL, wetR := e.wetL[:n], e.wetR[:n]
	e.gran.ProcessBlock(mix, wetL, wetR)
	e.rev.ProcessStereoInPlace(wetL, wetR)

	if p := vecmath.MaxAbs(wetL); p > e.peak {
		e.peak = p
	}
	if p := vecmath.MaxAbs(wetR); p > e.peak {
		e.peak = p
	}

	for i := 0; i < n; i++ {
		out[0][offset+i] = float32(wetL[i])
	}
	if len(out) > 1 {
		for i := 0; i < n; i++ {
			out[1][offset+i] = float32(wetR[i])
		}
	}
	for ch := 2; ch < len(out); ch++ {
		dst := out[ch]
		for i := 0; i < n; i++ {
			dst[offset+i] = 0
		}
	}
}

// applyParams drains the parameter cells. Every field is validated by
// its stage setter, which keeps the previous value on rejection; a
// struct with any rejected field bumps the telemetry counter once.
func (e *Engine) applyParams() {
	if p, ok := e.reverbCell.Take(); ok {
		errDamp := e.rev.SetDamp(p.Damping)
		if firstError(
			e.rev.SetDecay(p.DecaySeconds),
			e.rev.SetPreDelay(p.PreDelaySeconds),
			e.rev.SetWet(p.WetLevel),
			e.rev.SetDry(p.DryLevel),
			errDamp,
		) != nil {
			e.paramRejects++
		}
		if errDamp == nil {
			e.userDamp = p.Damping
			e.applyQuality(e.quality)
		}
	}

	if p, ok := e.granularCell.Take(); ok {
		if firstError(
			e.gran.SetGrainSeconds(p.GrainSizeSeconds),
			e.gran.SetGrainsPerSecond(p.GrainsPerSecond),
			e.gran.SetShimmer(p.ShimmerAmount),
			e.gran.SetWet(p.WetLevel),
		) != nil {
			e.paramRejects++
		}
	}

	if p, ok := e.governorCell.Take(); ok {
		if firstError(
			e.gov.SetHardCap(p.MaxVoicesHardCap, e.clock),
			e.gov.SetLoadResponse(p.HighLoadThreshold, p.LowLoadThreshold, p.DwellSeconds),
		) != nil {
			e.paramRejects++
		}
	}
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) drainNotes() {
	for {
		ev, ok := e.notes.Pop()
		if !ok {
			return
		}
		if ev.Timestamp == 0 {
			ev.Timestamp = e.clock
		}

		switch ev.Kind {
		case EventNoteOn:
			e.gov.NoteOn(voice.NoteOn{
				Pitch:     ev.Pitch,
				Velocity:  ev.Velocity,
				Timestamp: ev.Timestamp,
			}, e.clock)
		case EventNoteOff:
			e.gov.NoteOff(voice.NoteOff{Pitch: ev.Pitch, Timestamp: ev.Timestamp})
		}
	}
}

// syncVoices reconciles the synth bank with the governor arena. Slot
// reuse is detected by voice id, so a stolen slot retriggers cleanly.
func (e *Engine) syncVoices() {
	for slot := range e.synths {
		v := e.gov.At(slot)
		s := &e.synths[slot]

		switch v.State {
		case voice.StateFree:
			if s.active() {
				s.stage = stageIdle
			}
		case voice.StateActive:
			if s.voiceID != v.ID {
				s.start(v.ID, v.Pitch, v.Velocity, e.sampleRate)
			}
		case voice.StateReleased:
			s.release(e.sampleRate)
		case voice.StateStolen:
			s.fade(e.sampleRate)
		}
	}
}

// retireVoices frees governor slots whose fade has run out.
func (e *Engine) retireVoices() {
	for slot := range e.synths {
		if e.synths[slot].active() {
			continue
		}
		switch e.gov.At(slot).State {
		case voice.StateReleased, voice.StateStolen:
			e.gov.Free(slot)
		}
	}
}

func (e *Engine) applyQuality(q voice.Quality) {
	e.quality = q

	combs, grains, damp := fullCombs, fullGrainBudget, e.userDamp
	switch q {
	case voice.QualityReduced:
		combs, grains = reducedCombs, reducedGrainBudget
		if damp < reducedDamp {
			damp = reducedDamp
		}
	case voice.QualityMinimal:
		combs, grains = minimalCombs, minimalGrainBudget
		if damp < minimalDamp {
			damp = minimalDamp
		}
	}

	// These cannot fail: every tier value is inside the setters' ranges.
	_ = e.rev.SetActiveCombs(combs)
	_ = e.rev.SetDamp(damp)
	_ = e.gran.SetMaxActiveGrains(grains)
}

func (e *Engine) publishStatus() {
	st := Status{
		MaxVoices:      e.gov.MaxVoices(),
		ActiveVoices:   e.gov.ActiveCount(),
		Quality:        e.gov.Quality(),
		LoadRatio:      e.lastRatio,
		DeadlineMisses: e.gov.DeadlineMisses(),
		RejectedNotes:  e.gov.RejectedCount(),
		StolenVoices:   e.gov.StolenCount(),
		DroppedGrains:  e.gran.DroppedCount(),
		RejectedParams: e.paramRejects,
		PeakLevel:      e.peak,
	}
	// Telemetry is lossy: if the control thread is behind, drop.
	e.statusQ.Push(st)
}

func silence(out [][]float32) {
	for ch := range out {
		for i := range out[ch] {
			out[ch][i] = 0
		}
	}
}
