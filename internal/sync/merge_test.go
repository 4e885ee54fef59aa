package sync

import (
	"reflect"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/cache"
)

var t0 = time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

func synced(id string, ts time.Time) cache.CachedMessage {
	return cache.CachedMessage{ID: id, Content: id, Sender: cache.SenderUser, Timestamp: ts, MessageType: cache.TypeText, Synced: true}
}

func pending(id string, ts time.Time) cache.CachedMessage {
	return cache.CachedMessage{ID: id, Content: id, Sender: cache.SenderUser, Timestamp: ts, MessageType: cache.TypeText, LocalOnly: true}
}

func ids(msgs []cache.CachedMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name   string
		cached []cache.CachedMessage
		remote []cache.CachedMessage
		limit  int
		want   []string
	}{
		{
			name:   "growth",
			cached: []cache.CachedMessage{synced("m1", at(1))},
			remote: []cache.CachedMessage{synced("m1", at(1)), synced("m2", at(2))},
			limit:  50,
			want:   []string{"m1", "m2"},
		},
		{
			name:   "pending plus growth",
			cached: []cache.CachedMessage{synced("m1", at(1)), pending("local-x", at(3))},
			remote: []cache.CachedMessage{synced("m1", at(1)), synced("m2", at(2))},
			limit:  50,
			want:   []string{"m1", "m2", "local-x"},
		},
		{
			name:   "pending sorted between remote",
			cached: []cache.CachedMessage{pending("local-x", at(2))},
			remote: []cache.CachedMessage{synced("m3", at(3)), synced("m1", at(1))},
			limit:  50,
			want:   []string{"m1", "local-x", "m3"},
		},
		{
			name:   "deletion propagation",
			cached: []cache.CachedMessage{synced("m1", at(1)), synced("m2", at(2)), synced("m3", at(3))},
			remote: []cache.CachedMessage{synced("m1", at(1))},
			limit:  50,
			want:   []string{"m1"},
		},
		{
			name:   "empty remote clears synced history",
			cached: []cache.CachedMessage{synced("m1", at(1)), pending("local-x", at(2))},
			remote: nil,
			limit:  50,
			want:   []string{"local-x"},
		},
		{
			name:   "full window keeps older history",
			cached: []cache.CachedMessage{synced("m1", at(1)), synced("m2", at(2)), synced("m3", at(3))},
			remote: []cache.CachedMessage{synced("m2", at(2)), synced("m3", at(3))},
			limit:  2,
			want:   []string{"m1", "m2", "m3"},
		},
		{
			name:   "full window still evicts inside the window",
			cached: []cache.CachedMessage{synced("m1", at(1)), synced("m2", at(2)), synced("m3", at(3))},
			remote: []cache.CachedMessage{synced("m1", at(1)), synced("m3", at(3))},
			limit:  2,
			want:   []string{"m1", "m3"},
		},
		{
			name:   "partial window evicts older history",
			cached: []cache.CachedMessage{synced("m1", at(1)), synced("m2", at(2))},
			remote: []cache.CachedMessage{synced("m2", at(2))},
			limit:  2,
			want:   []string{"m2"},
		},
		{
			name:   "equal timestamps ordered by id",
			cached: []cache.CachedMessage{pending("local-a", at(1))},
			remote: []cache.CachedMessage{synced("b", at(1)), synced("a", at(1))},
			limit:  50,
			want:   []string{"a", "b", "local-a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Merge(tt.cached, tt.remote, tt.limit))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Merge = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeRemoteWinsOverCached(t *testing.T) {
	stale := synced("m1", at(1))
	stale.Content = "old"
	fresh := synced("m1", at(1))
	fresh.Content = "edited"
	fresh.Synced = false

	got := Merge([]cache.CachedMessage{stale}, []cache.CachedMessage{fresh}, 50)
	if len(got) != 1 || got[0].Content != "edited" {
		t.Fatalf("got %+v", got)
	}
	if !got[0].Synced || got[0].LocalOnly {
		t.Errorf("remote record not marked synced: %+v", got[0])
	}
}

func TestMergeIsDeterministic(t *testing.T) {
	cached := []cache.CachedMessage{pending("local-b", at(2)), synced("m1", at(1)), pending("local-a", at(2))}
	remote := []cache.CachedMessage{synced("m2", at(2)), synced("m1", at(1))}

	first := Merge(cached, remote, 50)
	second := Merge(first, remote, 50)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("merge not idempotent:\n%v\n%v", ids(first), ids(second))
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	cached := []cache.CachedMessage{synced("m2", at(2)), synced("m1", at(1))}
	remote := []cache.CachedMessage{synced("m3", at(3)), synced("m1", at(1))}
	_ = Merge(cached, remote, 50)

	if cached[0].ID != "m2" || remote[0].ID != "m3" {
		t.Error("Merge reordered its inputs")
	}
}

func TestMergeIgnoresUndatedRemoteRecordsForWindowBound(t *testing.T) {
	cached := []cache.CachedMessage{synced("old", at(1)), synced("m2", at(2))}
	remote := []cache.CachedMessage{synced("undated", time.Time{}), synced("m2", at(2)), synced("m3", at(3))}

	got := ids(Merge(cached, remote, 3))
	want := []string{"undated", "old", "m2", "m3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Merge = %v, want %v", got, want)
	}
}
