package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/scope"
	"github.com/matheus3301/chatsync/internal/store"
)

// Manager reads and writes cache records. Storage failures are logged and
// turned into empty results or no-ops; no method returns an error.
//
// Message mutations are whole-record read-modify-writes with no locking of
// their own; callers that mutate the same scope concurrently must hold the
// scope lock. A mutation whose read fails is dropped rather than written
// over records it could not see. The per-user chat list is shared by every
// conversation of that user and is serialized here.
type Manager struct {
	kv     store.KV
	logger *zap.Logger
	chats  *scope.Locks
}

// NewManager creates a cache manager over kv.
func NewManager(kv store.KV, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{kv: kv, logger: logger, chats: scope.NewLocks()}
}

// read decodes key into v. found reports a decoded record; ok is false
// only when the store itself failed, so the caller cannot know what is
// stored. A corrupt record counts as absent.
func (m *Manager) read(ctx context.Context, key string, v any) (found, ok bool) {
	data, err := m.kv.Get(ctx, key)
	if err != nil {
		m.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false, false
	}
	if data == nil {
		return false, true
	}
	if err := json.Unmarshal(data, v); err != nil {
		m.logger.Warn("cache record corrupt", zap.String("key", key), zap.Error(err))
		return false, true
	}
	return true, true
}

func (m *Manager) load(ctx context.Context, key string, v any) bool {
	found, _ := m.read(ctx, key, v)
	return found
}

func (m *Manager) save(ctx context.Context, key string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := m.kv.Set(ctx, key, data); err != nil {
		m.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// LoadMessages returns the cached messages of a scope, never nil.
func (m *Manager) LoadMessages(ctx context.Context, conv, user string) []CachedMessage {
	msgs, _ := m.ReadMessages(ctx, conv, user)
	return msgs
}

// ReadMessages is LoadMessages that also reports whether the store could be
// read. When ok is false the list is empty but the scope may not be, and
// the caller must not write a list derived from it.
func (m *Manager) ReadMessages(ctx context.Context, conv, user string) (msgs []CachedMessage, ok bool) {
	_, ok = m.read(ctx, messagesKey(conv, user), &msgs)
	if msgs == nil {
		msgs = []CachedMessage{}
	}
	return msgs, ok
}

// SaveMessages replaces the whole cached list of a scope.
func (m *Manager) SaveMessages(ctx context.Context, conv, user string, msgs []CachedMessage) {
	if msgs == nil {
		msgs = []CachedMessage{}
	}
	m.save(ctx, messagesKey(conv, user), msgs)
}

// AddMessage appends one message to a scope. It reports false when the
// current list could not be read and nothing was written.
func (m *Manager) AddMessage(ctx context.Context, conv, user string, msg CachedMessage) bool {
	msgs, ok := m.ReadMessages(ctx, conv, user)
	if !ok {
		return false
	}
	return m.save(ctx, messagesKey(conv, user), append(msgs, msg))
}

// UpdateMessage applies patch to the message with the given id. It reports
// whether the message was found.
func (m *Manager) UpdateMessage(ctx context.Context, conv, user, id string, patch MessagePatch) bool {
	msgs, ok := m.ReadMessages(ctx, conv, user)
	if !ok {
		return false
	}
	for i := range msgs {
		if msgs[i].ID == id {
			msgs[i] = patch.apply(msgs[i])
			m.SaveMessages(ctx, conv, user, msgs)
			return true
		}
	}
	return false
}

// RemoveMessage deletes the message with the given id, if present.
func (m *Manager) RemoveMessage(ctx context.Context, conv, user, id string) bool {
	msgs, ok := m.ReadMessages(ctx, conv, user)
	if !ok {
		return false
	}
	for i := range msgs {
		if msgs[i].ID == id {
			m.SaveMessages(ctx, conv, user, append(msgs[:i], msgs[i+1:]...))
			return true
		}
	}
	return false
}

// UnsyncedMessages returns pending local writes in stored order.
func (m *Manager) UnsyncedMessages(ctx context.Context, conv, user string) []CachedMessage {
	var out []CachedMessage
	for _, msg := range m.LoadMessages(ctx, conv, user) {
		if msg.LocalOnly {
			out = append(out, msg)
		}
	}
	return out
}

// SearchMessages returns up to limit messages whose content contains query,
// case-insensitively, most recent first. A non-positive limit means no cap.
func (m *Manager) SearchMessages(ctx context.Context, conv, user, query string, limit int) []CachedMessage {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	msgs := m.LoadMessages(ctx, conv, user)
	var out []CachedMessage
	for i := len(msgs) - 1; i >= 0; i-- {
		if strings.Contains(strings.ToLower(msgs[i].Content), q) {
			out = append(out, msgs[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}

// SaveAgent overwrites the agent snapshot of a conversation.
func (m *Manager) SaveAgent(ctx context.Context, conv string, agent CachedAgent) {
	m.save(ctx, agentKey(conv), agent)
}

// LoadAgent returns the cached agent snapshot, or nil.
func (m *Manager) LoadAgent(ctx context.Context, conv string) *CachedAgent {
	var a CachedAgent
	if !m.load(ctx, agentKey(conv), &a) {
		return nil
	}
	return &a
}

// LoadChatList returns a user's conversation list, most recent first.
func (m *Manager) LoadChatList(ctx context.Context, user string) []ChatListItem {
	var items []ChatListItem
	m.load(ctx, chatListKey(user), &items)
	if items == nil {
		items = []ChatListItem{}
	}
	return items
}

// ChatListEntry returns the list entry for agentID.
func (m *Manager) ChatListEntry(ctx context.Context, user, agentID string) (ChatListItem, bool) {
	for _, it := range m.LoadChatList(ctx, user) {
		if it.AgentID == agentID {
			return it, true
		}
	}
	return ChatListItem{}, false
}

// UpdateChatListEntry inserts or replaces the entry for item.AgentID and
// resorts the list by recency.
func (m *Manager) UpdateChatListEntry(ctx context.Context, user string, item ChatListItem) {
	m.EditChatListEntry(ctx, user, item.AgentID, func(it *ChatListItem) bool {
		*it = item
		return true
	})
}

// EditChatListEntry runs edit on the entry for agentID, or on a fresh entry
// carrying only agentID when there is none, and stores the result unless
// edit returns false. The read-modify-write is serialized per user.
func (m *Manager) EditChatListEntry(ctx context.Context, user, agentID string, edit func(*ChatListItem) bool) {
	m.withChatList(ctx, user, func(items []ChatListItem) ([]ChatListItem, bool) {
		idx := -1
		for i := range items {
			if items[i].AgentID == agentID {
				idx = i
				break
			}
		}
		item := ChatListItem{AgentID: agentID}
		if idx >= 0 {
			item = items[idx]
		}
		if !edit(&item) {
			return nil, false
		}
		item.AgentID = agentID
		if idx >= 0 {
			items[idx] = item
		} else {
			items = append(items, item)
		}
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].LastMessageTime.After(items[j].LastMessageTime)
		})
		return items, true
	})
}

// MarkChatRead zeroes the unread counter of one entry.
func (m *Manager) MarkChatRead(ctx context.Context, user, agentID string) bool {
	found := false
	m.withChatList(ctx, user, func(items []ChatListItem) ([]ChatListItem, bool) {
		for i := range items {
			if items[i].AgentID == agentID {
				found = true
				if items[i].UnreadCount == 0 {
					return nil, false
				}
				items[i].UnreadCount = 0
				return items, true
			}
		}
		return nil, false
	})
	return found
}

// withChatList holds the user's chat list lock while fn rewrites the list.
// The write is skipped when fn declines or the list could not be read.
func (m *Manager) withChatList(ctx context.Context, user string, fn func([]ChatListItem) ([]ChatListItem, bool)) {
	unlock, err := m.chats.Lock(context.WithoutCancel(ctx), scope.Key{User: user})
	if err != nil {
		return
	}
	defer unlock()

	var items []ChatListItem
	if _, ok := m.read(ctx, chatListKey(user), &items); !ok {
		return
	}
	if out, write := fn(items); write {
		m.save(ctx, chatListKey(user), out)
	}
}

// SaveLastSync records when a scope last synced. The marker is advisory.
func (m *Manager) SaveLastSync(ctx context.Context, conv, user string, t time.Time) {
	m.save(ctx, lastSyncKey(conv, user), t.UTC())
}

// LoadLastSync returns the last sync time, or the zero time.
func (m *Manager) LoadLastSync(ctx context.Context, conv, user string) time.Time {
	var t time.Time
	m.load(ctx, lastSyncKey(conv, user), &t)
	return t
}

// Scopes lists every scope that has a stored message list.
func (m *Manager) Scopes(ctx context.Context) []scope.Key {
	keys, err := m.kv.ListKeys(ctx, messagesPrefix)
	if err != nil {
		m.logger.Warn("cache list failed", zap.Error(err))
		return nil
	}
	out := make([]scope.Key, 0, len(keys))
	for _, k := range keys {
		if sk, ok := parseMessagesKey(k); ok {
			out = append(out, sk)
		}
	}
	return out
}

// ClearConversation drops a scope's messages and its last-sync marker.
func (m *Manager) ClearConversation(ctx context.Context, conv, user string) {
	keys := []string{messagesKey(conv, user), lastSyncKey(conv, user)}
	if err := m.kv.RemoveAll(ctx, keys); err != nil {
		m.logger.Warn("cache clear failed",
			zap.String("conversation", conv),
			zap.String("user", user),
			zap.Error(err),
		)
	}
}
