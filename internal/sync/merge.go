package sync

import (
	"sort"
	"time"

	"github.com/matheus3301/chatsync/internal/cache"
)

// Merge combines the cached list of a scope with a freshly fetched remote
// window. Remote records win for every id they carry. Pending local writes
// the window has not absorbed are kept. A synced record missing from the
// window is treated as deleted remotely, unless the window was full and the
// record is older than everything in it, in which case it simply fell out
// of the window and is kept.
//
// The result is sorted ascending by timestamp, ties broken by id.
func Merge(cached, fetched []cache.CachedMessage, windowLimit int) []cache.CachedMessage {
	byID := make(map[string]int, len(fetched))
	merged := make([]cache.CachedMessage, 0, len(fetched)+len(cached))
	for _, m := range fetched {
		m.Synced = true
		m.LocalOnly = false
		if i, ok := byID[m.ID]; ok {
			merged[i] = m
			continue
		}
		byID[m.ID] = len(merged)
		merged = append(merged, m)
	}

	// Records without a usable timestamp do not bound the window.
	var oldest time.Time
	for _, m := range fetched {
		if !m.Timestamp.IsZero() && (oldest.IsZero() || m.Timestamp.Before(oldest)) {
			oldest = m.Timestamp
		}
	}
	full := windowLimit > 0 && len(fetched) >= windowLimit && !oldest.IsZero()

	for _, m := range cached {
		if _, ok := byID[m.ID]; ok {
			continue
		}
		switch {
		case m.LocalOnly:
		case full && m.Timestamp.Before(oldest):
		default:
			continue
		}
		byID[m.ID] = len(merged)
		merged = append(merged, m)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})
	return merged
}
