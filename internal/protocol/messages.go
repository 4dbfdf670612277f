package protocol

import "time"

// Situation is the derived context snapshot broadcast by the sampler.
type Situation struct {
	TimeOfDay  string    `json:"timeOfDay"`
	DayType    string    `json:"dayType"`
	Place      string    `json:"place"`
	Activity   string    `json:"activity,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Transcript carries speech-to-text output, live or recorded.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Source     string    `json:"source,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// VoiceSettings parametrize speech synthesis.
type VoiceSettings struct {
	Gender string  `json:"gender"`
	Pitch  float64 `json:"pitch"`
	Rate   float64 `json:"rate"`
}

// SpeakRequest asks for a single utterance.
type SpeakRequest struct {
	UtteranceID string         `json:"utterance_id,omitempty"`
	Text        string         `json:"text"`
	Voice       *VoiceSettings `json:"voice,omitempty"`
}

// SpeakStatus reports one utterance lifecycle transition.
type SpeakStatus struct {
	UtteranceID string    `json:"utterance_id"`
	State       string    `json:"state"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// SpeakToggle enables or disables speech output at runtime.
type SpeakToggle struct {
	Enabled bool `json:"enabled"`
}

// ListenStatus reports live-recognition session transitions.
type ListenStatus struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordStatus reports push-to-talk take transitions.
type RecordStatus struct {
	TakeID    string    `json:"take_id"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionState is broadcast on every coordinator transition.
type SessionState struct {
	State     string    `json:"state"`
	ActiveID  string    `json:"active_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notice is a transient, user-visible degradation message.
type Notice struct {
	Level     string    `json:"level"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SituationSet pins the activity label manually; empty clears the pin.
type SituationSet struct {
	Activity string `json:"activity"`
}

// SuggestRequest asks for phrases by category or predictions for free text.
type SuggestRequest struct {
	Category string `json:"category,omitempty"`
	Text     string `json:"text,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// SuggestResponse answers a SuggestRequest.
type SuggestResponse struct {
	Source    string    `json:"source"`
	Category  string    `json:"category,omitempty"`
	Phrases   []string  `json:"phrases"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusReply answers a session.status request.
type StatusReply struct {
	State         string        `json:"state"`
	ActiveID      string        `json:"active_id,omitempty"`
	Voice         VoiceSettings `json:"voice"`
	SpeechEnabled bool          `json:"speech_enabled"`
	Recent        []string      `json:"recent,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Speak lifecycle states.
const (
	SpeakStateSpeaking = "speaking"
	SpeakStateFinished = "finished"
	SpeakStateErrored  = "errored"
)

// Listen session states.
const (
	ListenStateListening = "listening"
	ListenStateEnded     = "ended"
	ListenStateErrored   = "errored"
)

// Record take states.
const (
	RecordStateRecording    = "recording"
	RecordStateTranscribing = "transcribing"
	RecordStateDone         = "done"
	RecordStateErrored      = "errored"
)

// Control subjects, UI to coordinator.
const (
	SubjectListenStart  = "ctrl.listen.start"
	SubjectListenStop   = "ctrl.listen.stop"
	SubjectRecordStart  = "ctrl.record.start"
	SubjectRecordStop   = "ctrl.record.stop"
	SubjectSpeak        = "ctrl.speak"
	SubjectVoiceSet     = "ctrl.voice.set"
	SubjectVoiceToggle  = "ctrl.voice.toggle"
	SubjectSituationSet = "ctrl.situation.set"
)

// Event subjects, daemon to UI.
const (
	SubjectSessionState      = "session.state"
	SubjectNotice            = "session.notice"
	SubjectTranscriptPartial = "listen.text.partial"
	SubjectTranscriptFinal   = "listen.text.final"
	SubjectListenStatus      = "listen.status"
	SubjectRecordStatus      = "record.status"
	SubjectRecordText        = "record.text"
	SubjectSpeakStatus       = "speak.status"
	SubjectSituationSnapshot = "situation.snapshot"
)

// Request/reply subjects.
const (
	SubjectSuggestRequest = "suggest.request"
	SubjectSessionStatus  = "session.status"
)
