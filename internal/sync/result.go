package sync

import "github.com/matheus3301/chatsync/internal/cache"

// Source says where the messages of a Result came from.
type Source string

const (
	// SourceCache means the remote service was not consulted or could not
	// be reached.
	SourceCache Source = "cache"
	// SourceBackend means the scope had nothing cached and the list is the
	// remote window alone.
	SourceBackend Source = "backend"
	// SourceHybrid means a remote window was merged into cached state.
	SourceHybrid Source = "hybrid"
)

// Result is the outcome of one sync.
type Result struct {
	Source         Source
	Messages       []cache.CachedMessage
	Agent          *cache.CachedAgent
	HasNewMessages bool
	IsOnline       bool
}

func (r Result) clone() Result {
	r.Messages = append([]cache.CachedMessage(nil), r.Messages...)
	if r.Messages == nil {
		r.Messages = []cache.CachedMessage{}
	}
	if r.Agent != nil {
		a := *r.Agent
		r.Agent = &a
	}
	return r
}
