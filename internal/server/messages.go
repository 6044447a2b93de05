package server

// Client to server message types
const (
	TypeText     = "text"
	TypeCancel   = "cancel"
	TypeAudio    = "audio"
	TypeAudioEnd = "audio_end"
	TypeNewChat  = "new_chat"
)

// Server to client message types
const (
	TypeReady        = "ready"
	TypeToken        = "token"
	TypeChunk        = "chunk"
	TypeSpeaking     = "speaking"
	TypeError        = "error"
	TypeTurnComplete = "turn_complete"
	TypeTranscript   = "transcript"
)

// ClientMessage is a frame sent by the UI
type ClientMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Payload string `json:"payload,omitempty"` // base64 audio in the connection encoding
}

// ServerMessage is a frame sent to the UI. Only the fields relevant to Type are set.
type ServerMessage struct {
	Type            string  `json:"type"`
	ChatID          string  `json:"chat_id,omitempty"`
	Text            string  `json:"text,omitempty"`
	Index           int     `json:"index,omitempty"`
	Filler          bool    `json:"filler,omitempty"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	Encoding        string  `json:"encoding,omitempty"`
	Payload         string  `json:"payload,omitempty"`
	Value           *bool   `json:"value,omitempty"`
	Final           *bool   `json:"final,omitempty"`
	Message         string  `json:"message,omitempty"`
	TokensPerSecond float64 `json:"tokens_per_second,omitempty"`
}

func boolPtr(v bool) *bool {
	return &v
}
