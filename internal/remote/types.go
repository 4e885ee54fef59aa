package remote

import "time"

// Message is one record returned by the message-window endpoint. Optional
// fields are zero when the service omits them.
type Message struct {
	ID            string
	Content       string
	Role          string
	CreatedAt     time.Time
	Type          string
	AudioDuration *float64
}

// Agent is the remote peer's descriptive snapshot.
type Agent struct {
	ID          string
	Name        string
	Avatar      string
	Description string
	Personality string
	Category    string
}

// SendRequest is the body of a message upload. IdempotencyKey is sent as a
// header, never in the body.
type SendRequest struct {
	Content        string   `json:"content"`
	Type           string   `json:"message_type,omitempty"`
	AudioDuration  *float64 `json:"audio_duration,omitempty"`
	IdempotencyKey string   `json:"-"`
}

// SendResult carries the server-issued id and, when the service produced
// one, the synthesized reply.
type SendResult struct {
	ID        string
	CreatedAt time.Time
	Reply     *Message
}
