// Package cache keeps typed, per-scope records on top of a store.KV.
package cache

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// MessageType is the payload kind of a message.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeAudio MessageType = "audio"
	TypeGIF   MessageType = "gif"
)

// ParseMessageType maps free-form type names onto the known set. Unknown
// values become text.
func ParseMessageType(s string) MessageType {
	switch strings.ToLower(s) {
	case "audio", "voice":
		return TypeAudio
	case "gif":
		return TypeGIF
	default:
		return TypeText
	}
}

// TempIDPrefix marks ids generated locally for messages not yet confirmed.
const TempIDPrefix = "local-"

// NewTempID returns a fresh temporary message id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was generated locally.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// CachedMessage is one message as stored locally.
type CachedMessage struct {
	ID            string      `json:"id"`
	Content       string      `json:"content"`
	Sender        Sender      `json:"sender"`
	Timestamp     time.Time   `json:"timestamp"`
	MessageType   MessageType `json:"messageType"`
	AudioDuration *float64    `json:"audioDuration,omitempty"`
	Synced        bool        `json:"synced"`
	LocalOnly     bool        `json:"localOnly"`
	AgentName     string      `json:"agentName,omitempty"`
	AgentAvatar   string      `json:"agentAvatar,omitempty"`
}

var (
	ErrSyncedAndLocal = errors.New("message is both synced and local-only")
	ErrSyncedTempID   = errors.New("synced message carries a temporary id")
	ErrLocalRemoteID  = errors.New("local-only message carries a remote id")
	ErrMissingID      = errors.New("message has no id")
)

// Validate checks that a record's id agrees with its sync state.
func (m CachedMessage) Validate() error {
	switch {
	case m.ID == "":
		return ErrMissingID
	case m.Synced && m.LocalOnly:
		return ErrSyncedAndLocal
	case m.Synced && IsTempID(m.ID):
		return ErrSyncedTempID
	case m.LocalOnly && !IsTempID(m.ID):
		return ErrLocalRemoteID
	}
	return nil
}

// Confirm returns the record as acknowledged by the remote service under
// serverID.
func (m CachedMessage) Confirm(serverID string) CachedMessage {
	m.ID = serverID
	m.Synced = true
	m.LocalOnly = false
	return m
}

// MessagePatch is a partial update. Nil fields are left unchanged.
type MessagePatch struct {
	ID        *string
	Content   *string
	Timestamp *time.Time
	Synced    *bool
	LocalOnly *bool
}

// ConfirmPatch is the patch applied when an upload is acknowledged.
func ConfirmPatch(serverID string) MessagePatch {
	synced, local := true, false
	return MessagePatch{ID: &serverID, Synced: &synced, LocalOnly: &local}
}

func (p MessagePatch) apply(m CachedMessage) CachedMessage {
	if p.ID != nil {
		m.ID = *p.ID
	}
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Timestamp != nil {
		m.Timestamp = *p.Timestamp
	}
	if p.Synced != nil {
		m.Synced = *p.Synced
	}
	if p.LocalOnly != nil {
		m.LocalOnly = *p.LocalOnly
	}
	return m
}

// CachedAgent is the last-known snapshot of a conversation's peer.
type CachedAgent struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Avatar      string    `json:"avatar,omitempty"`
	Description string    `json:"description,omitempty"`
	Personality string    `json:"personality,omitempty"`
	Category    string    `json:"category,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// ChatListItem is one row of a user's conversation list.
type ChatListItem struct {
	AgentID         string    `json:"agentId"`
	AgentName       string    `json:"agentName"`
	AgentAvatar     string    `json:"agentAvatar,omitempty"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	UnreadCount     int       `json:"unreadCount"`
}
