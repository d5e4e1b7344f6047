package engine

import "math"

type synthStage uint8

const (
	stageIdle synthStage = iota
	stageAttack
	stageSustain
	stageRelease
	stageFade
)

const (
	attackSeconds  = 0.005
	releaseSeconds = 0.06
	// Steal fade. Short enough to free the slot quickly, long enough
	// to avoid a click.
	fadeSeconds = 0.002
)

// synthVoice renders one sine voice with a linear attack/release
// envelope. It mirrors a governor slot; voiceID detects slot reuse.
type synthVoice struct {
	voiceID uint64
	phase   float64
	incr    float64
	amp     float64
	env     float64
	envStep float64
	stage   synthStage
}

func pitchToFreq(pitch int) float64 {
	return 440 * math.Pow(2, float64(pitch-69)/12)
}

func (s *synthVoice) start(id uint64, pitch int, velocity, sampleRate float64) {
	s.voiceID = id
	s.phase = 0
	s.incr = pitchToFreq(pitch) / sampleRate
	s.amp = velocity
	s.env = 0
	s.envStep = 1 / (attackSeconds * sampleRate)
	s.stage = stageAttack
}

func (s *synthVoice) release(sampleRate float64) {
	if s.stage == stageIdle || s.stage == stageFade {
		return
	}
	s.envStep = 1 / (releaseSeconds * sampleRate)
	s.stage = stageRelease
}

func (s *synthVoice) fade(sampleRate float64) {
	if s.stage == stageIdle {
		return
	}
	s.envStep = 1 / (fadeSeconds * sampleRate)
	s.stage = stageFade
}

func (s *synthVoice) active() bool {
	return s.stage != stageIdle
}

// renderBlock writes n samples into dst and returns false once the
// envelope has run out.
func (s *synthVoice) renderBlock(dst []float64) bool {
	for i := range dst {
		switch s.stage {
		case stageIdle:
			dst[i] = 0
			continue
		case stageAttack:
			s.env += s.envStep
			if s.env >= 1 {
				s.env = 1
				s.stage = stageSustain
			}
		case stageRelease, stageFade:
			s.env -= s.envStep
			if s.env <= 0 {
				s.env = 0
				s.stage = stageIdle
			}
		}

		dst[i] = s.amp * s.env * math.Sin(2*math.Pi*s.phase)
		s.phase += s.incr
		if s.phase >= 1 {
			s.phase -= 1
		}
	}
	return s.stage != stageIdle
}
