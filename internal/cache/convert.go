package cache

import (
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/remote"
)

// MessageFromRemote converts a remote record into a synced cache record.
// Agent display fields are copied from agent when it is known.
func MessageFromRemote(m remote.Message, agent *CachedAgent) CachedMessage {
	out := CachedMessage{
		ID:          m.ID,
		Content:     m.Content,
		Sender:      SenderAgent,
		Timestamp:   m.CreatedAt.UTC(),
		MessageType: ParseMessageType(m.Type),
		Synced:      true,
	}
	if strings.EqualFold(m.Role, string(SenderUser)) {
		out.Sender = SenderUser
	}
	if out.MessageType == TypeAudio && m.AudioDuration != nil {
		d := *m.AudioDuration
		out.AudioDuration = &d
	}
	if out.Sender == SenderAgent && agent != nil {
		out.AgentName = agent.Name
		out.AgentAvatar = agent.Avatar
	}
	return out
}

// AgentFromRemote converts a remote agent snapshot, stamping it with now.
func AgentFromRemote(a remote.Agent, now time.Time) CachedAgent {
	return CachedAgent{
		ID:          a.ID,
		Name:        a.Name,
		Avatar:      a.Avatar,
		Description: a.Description,
		Personality: a.Personality,
		Category:    a.Category,
		LastUpdated: now.UTC(),
	}
}
