package voice

// State is the lifecycle state of a voice slot.
type State uint8

const (
	// StateFree marks an unused slot.
	StateFree State = iota
	// StateActive marks a sounding voice counted against the ceiling.
	StateActive
	// StateReleased marks a voice fading out after its note-off.
	StateReleased
	// StateStolen marks a voice reclaimed for a higher-priority note;
	// it fades fast and no longer counts against the ceiling.
	StateStolen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateActive:
		return "active"
	case StateReleased:
		return "released"
	case StateStolen:
		return "stolen"
	default:
		return "unknown"
	}
}

// NoteOn requests a new voice. Timestamp is in seconds on the render
// clock.
type NoteOn struct {
	Pitch     int
	Velocity  float64
	Timestamp float64
}

// NoteOff releases the matching voice.
type NoteOff struct {
	Pitch     int
	Timestamp float64
}

// Voice is one slot in the governor's arena.
type Voice struct {
	ID        uint64
	Pitch     int
	Velocity  float64
	StartTime float64
	State     State
}

// Quality is the DSP quality tier selected by load governance.
type Quality int

const (
	// QualityFull runs every comb stage and the whole grain pool.
	QualityFull Quality = iota
	// QualityReduced trims reverb density and the grain budget.
	QualityReduced
	// QualityMinimal keeps only enough processing to stay audible.
	QualityMinimal
)

// String returns the tier name.
func (q Quality) String() string {
	switch q {
	case QualityFull:
		return "full"
	case QualityReduced:
		return "reduced"
	case QualityMinimal:
		return "minimal"
	default:
		return "unknown"
	}
}
