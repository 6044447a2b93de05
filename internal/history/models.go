package history

import "time"

// Message is one entry of a chat transcript
type Message struct {
	Text            string    `json:"text"`
	FromUser        bool      `json:"from_user"`
	Timestamp       time.Time `json:"timestamp"`
	TokensPerSecond *float64  `json:"tokens_per_second,omitempty"`
}

// Chat is a persisted transcript
type Chat struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item is one row of the history list, most recent first
type Item struct {
	ChatID    string    `json:"chat_id"`
	Preview   string    `json:"preview"`
	UpdatedAt time.Time `json:"updated_at"`
}
