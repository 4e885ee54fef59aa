package api

import (
	"time"

	"github.com/matheus3301/chatsync/internal/cache"
)

// Scope fields are shared by most requests. An empty User means the
// daemon's configured user.
type Scope struct {
	Conversation string `json:"conversation"`
	User         string `json:"user,omitempty"`
}

type StatusRequest struct{}

type StatusResponse struct {
	Profile       string `json:"profile"`
	State         string `json:"state"`
	Online        bool   `json:"online"`
	User          string `json:"user"`
	Scopes        int    `json:"scopes"`
	Pending       int    `json:"pending"`
	DroppedEvents uint64 `json:"dropped_events"`
}

type SyncRequest struct {
	Scope
	Limit int `json:"limit,omitempty"`
}

type SyncResponse struct {
	Source         string                `json:"source"`
	Messages       []cache.CachedMessage `json:"messages"`
	Agent          *cache.CachedAgent    `json:"agent,omitempty"`
	HasNewMessages bool                  `json:"has_new_messages"`
	IsOnline       bool                  `json:"is_online"`
}

type SendRequest struct {
	Scope
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

type SendResponse struct {
	Message cache.CachedMessage `json:"message"`
}

type DrainRequest struct {
	Scope
	// All drains every scope holding pending messages; Scope is ignored.
	All bool `json:"all,omitempty"`
}

type DrainResponse struct {
	Uploaded int `json:"uploaded"`
	Failed   int `json:"failed"`
}

type ListMessagesRequest struct {
	Scope
	Limit int `json:"limit,omitempty"`
}

type ListMessagesResponse struct {
	Messages []cache.CachedMessage `json:"messages"`
	Pending  int                   `json:"pending"`
	LastSync time.Time             `json:"last_sync"`
}

type SearchMessagesRequest struct {
	Scope
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type SearchMessagesResponse struct {
	Messages []cache.CachedMessage `json:"messages"`
}

type ListChatsRequest struct {
	User string `json:"user,omitempty"`
}

type ListChatsResponse struct {
	Chats []cache.ChatListItem `json:"chats"`
}

type MarkReadRequest struct {
	Scope
}

type MarkReadResponse struct{}

type ClearConversationRequest struct {
	Scope
}

type ClearConversationResponse struct{}

type WatchEventsRequest struct {
	// Namespace filters events by kind prefix, e.g. "message.".
	Namespace string `json:"namespace,omitempty"`
}

type WatchConversationRequest struct {
	Scope
	Limit int `json:"limit,omitempty"`
}
