package engine

import "github.com/cwbudde/algo-render/voice"

// ReverbParams is the control-plane view of the reverb stage. Values
// out of range are rejected as a unit and the previous settings stay
// in effect; rejections show up in Status.RejectedParams.
type ReverbParams struct {
	DecaySeconds    float64
	PreDelaySeconds float64
	WetLevel        float64
	DryLevel        float64
	Damping         float64
}

// GranularParams is the control-plane view of the granular stage.
type GranularParams struct {
	GrainSizeSeconds float64
	GrainsPerSecond  float64
	ShimmerAmount    float64
	WetLevel         float64
}

// GovernorParams tunes voice allocation and load governance. The hard
// cap can move at runtime but never above the construction-time
// maximum, since the voice arena is sized once.
type GovernorParams struct {
	MaxVoicesHardCap  int
	HighLoadThreshold float64
	LowLoadThreshold  float64
	DwellSeconds      float64
}

// EventKind discriminates queued note events.
type EventKind uint8

const (
	// EventNoteOn starts a voice.
	EventNoteOn EventKind = iota
	// EventNoteOff releases the earliest matching voice.
	EventNoteOff
)

// NoteEvent is one control-to-render note message. A zero Timestamp
// means "now" and is stamped with the render clock on arrival.
type NoteEvent struct {
	Kind      EventKind
	Pitch     int
	Velocity  float64
	Timestamp float64
}

// Status is one telemetry snapshot, published after every Render call.
type Status struct {
	MaxVoices      int
	ActiveVoices   int
	Quality        voice.Quality
	LoadRatio      float64
	DeadlineMisses uint64
	RejectedNotes  uint64
	StolenVoices   uint64
	DroppedGrains  uint64
	RejectedParams uint64
	PeakLevel      float64
}
