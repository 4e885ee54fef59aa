package cache

import (
	"net/url"
	"strings"

	"github.com/matheus3301/chatsync/internal/scope"
)

const (
	keyPrefix      = "chatsync:"
	messagesPrefix = keyPrefix + "messages:"
)

func esc(s string) string { return url.QueryEscape(s) }

func messagesKey(conv, user string) string {
	return messagesPrefix + esc(conv) + ":" + esc(user)
}

func agentKey(conv string) string {
	return keyPrefix + "agent:" + esc(conv)
}

func chatListKey(user string) string {
	return keyPrefix + "chatlist:" + esc(user)
}

func lastSyncKey(conv, user string) string {
	return keyPrefix + "lastsync:" + esc(conv) + ":" + esc(user)
}

// parseMessagesKey recovers the scope from a messages key.
func parseMessagesKey(key string) (scope.Key, bool) {
	rest, ok := strings.CutPrefix(key, messagesPrefix)
	if !ok {
		return scope.Key{}, false
	}
	convEsc, userEsc, ok := strings.Cut(rest, ":")
	if !ok {
		return scope.Key{}, false
	}
	conv, err := url.QueryUnescape(convEsc)
	if err != nil {
		return scope.Key{}, false
	}
	user, err := url.QueryUnescape(userEsc)
	if err != nil {
		return scope.Key{}, false
	}
	return scope.Key{Conversation: conv, User: user}, true
}
