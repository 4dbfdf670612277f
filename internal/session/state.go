package session

// State is the coordinator's exclusive-activity tag. Exactly one activity
// may hold the session at a time; all transitions pass through the
// coordinator's mutex.
type State int

const (
	StateIdle State = iota
	StateListening
	StateRecording
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRecording:
		return "recording"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}
