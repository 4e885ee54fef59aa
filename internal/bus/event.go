package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event kinds published by the sync engine.
const (
	KindNetOnline  = "net.online"
	KindNetOffline = "net.offline"

	KindMessageLocal        = "message.local"
	KindMessageConfirmed    = "message.confirmed"
	KindMessageUploadFailed = "message.upload_failed"

	KindSyncCompleted = "sync.completed"
	KindSyncFailed    = "sync.failed"

	KindAuthFailed = "auth.failed"

	KindStatusChanged = "daemon.status_changed"
)

// Event represents a domain event published on the bus. Payload values are
// strings so events can be streamed to clients as-is.
type Event struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// NewEvent stamps a fresh event of the given kind.
func NewEvent(kind string, payload map[string]string) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
