package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/remote"
	"github.com/matheus3301/chatsync/internal/scope"
	"github.com/matheus3301/chatsync/internal/store"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func testManager(t *testing.T) (*Manager, *store.Memory) {
	t.Helper()
	kv := store.NewMemory()
	return NewManager(kv, zap.NewNop()), kv
}

// brokenKV fails every call.
type brokenKV struct{}

var errBroken = errors.New("disk on fire")

func (brokenKV) Get(context.Context, string) ([]byte, error)        { return nil, errBroken }
func (brokenKV) Set(context.Context, string, []byte) error          { return errBroken }
func (brokenKV) Remove(context.Context, string) error               { return errBroken }
func (brokenKV) RemoveAll(context.Context, []string) error          { return errBroken }
func (brokenKV) ListKeys(context.Context, string) ([]string, error) { return nil, errBroken }

func msg(id string, at time.Time) CachedMessage {
	return CachedMessage{ID: id, Content: id, Sender: SenderUser, Timestamp: at, MessageType: TypeText, Synced: true}
}

func TestLoadMessagesEmpty(t *testing.T) {
	m, _ := testManager(t)
	got := m.LoadMessages(context.Background(), "c1", "u1")
	if got == nil || len(got) != 0 {
		t.Errorf("LoadMessages = %#v, want empty non-nil slice", got)
	}
}

func TestSaveAndAddMessages(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	m.SaveMessages(ctx, "c1", "u1", []CachedMessage{msg("m1", t0)})
	m.AddMessage(ctx, "c1", "u1", msg("m2", t0.Add(time.Minute)))

	got := m.LoadMessages(ctx, "c1", "u1")
	if len(got) != 2 || got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("got %+v", got)
	}
	if !got[1].Timestamp.Equal(t0.Add(time.Minute)) {
		t.Errorf("timestamp lost in round trip: %v", got[1].Timestamp)
	}

	// Other scopes are untouched.
	if other := m.LoadMessages(ctx, "c1", "u2"); len(other) != 0 {
		t.Errorf("scope leak: %+v", other)
	}
}

func TestUpdateMessage(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	pending := CachedMessage{ID: "local-1", Content: "hi", Sender: SenderUser, Timestamp: t0, LocalOnly: true}
	m.AddMessage(ctx, "c1", "u1", pending)

	if !m.UpdateMessage(ctx, "c1", "u1", "local-1", ConfirmPatch("srv-1")) {
		t.Fatal("UpdateMessage reported not found")
	}
	got := m.LoadMessages(ctx, "c1", "u1")[0]
	if got.ID != "srv-1" || !got.Synced || got.LocalOnly || got.Content != "hi" {
		t.Errorf("got %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("confirmed record invalid: %v", err)
	}

	if m.UpdateMessage(ctx, "c1", "u1", "missing", ConfirmPatch("x")) {
		t.Error("UpdateMessage(missing) reported found")
	}
	if n := len(m.LoadMessages(ctx, "c1", "u1")); n != 1 {
		t.Errorf("no-op update changed list length to %d", n)
	}
}

func TestRemoveMessage(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	m.SaveMessages(ctx, "c1", "u1", []CachedMessage{msg("a", t0), msg("b", t0), msg("c", t0)})

	if !m.RemoveMessage(ctx, "c1", "u1", "b") {
		t.Fatal("RemoveMessage(b) not found")
	}
	got := m.LoadMessages(ctx, "c1", "u1")
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("got %+v", got)
	}
}

func TestUnsyncedMessages(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	m.SaveMessages(ctx, "c1", "u1", []CachedMessage{
		msg("m1", t0),
		{ID: "local-a", LocalOnly: true, Timestamp: t0},
		msg("m2", t0),
		{ID: "local-b", LocalOnly: true, Timestamp: t0},
	})

	got := m.UnsyncedMessages(ctx, "c1", "u1")
	if len(got) != 2 || got[0].ID != "local-a" || got[1].ID != "local-b" {
		t.Errorf("got %+v", got)
	}
}

func TestAgentRoundTrip(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	if a := m.LoadAgent(ctx, "c1"); a != nil {
		t.Fatalf("LoadAgent on empty cache = %+v", a)
	}
	m.SaveAgent(ctx, "c1", CachedAgent{ID: "c1", Name: "Ada", LastUpdated: t0})
	m.SaveAgent(ctx, "c1", CachedAgent{ID: "c1", Name: "Ada Lovelace", LastUpdated: t0})

	a := m.LoadAgent(ctx, "c1")
	if a == nil || a.Name != "Ada Lovelace" {
		t.Errorf("LoadAgent = %+v", a)
	}
}

func TestChatListUpsertAndOrder(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	m.UpdateChatListEntry(ctx, "u1", ChatListItem{AgentID: "a", LastMessage: "old", LastMessageTime: t0})
	m.UpdateChatListEntry(ctx, "u1", ChatListItem{AgentID: "b", LastMessage: "newer", LastMessageTime: t0.Add(time.Hour)})
	m.UpdateChatListEntry(ctx, "u1", ChatListItem{AgentID: "a", LastMessage: "newest", LastMessageTime: t0.Add(2 * time.Hour), UnreadCount: 3})

	items := m.LoadChatList(ctx, "u1")
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].AgentID != "a" || items[0].LastMessage != "newest" || items[1].AgentID != "b" {
		t.Errorf("order = %+v", items)
	}

	if !m.MarkChatRead(ctx, "u1", "a") {
		t.Fatal("MarkChatRead(a) not found")
	}
	if it, _ := m.ChatListEntry(ctx, "u1", "a"); it.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d after MarkChatRead", it.UnreadCount)
	}
	if m.MarkChatRead(ctx, "u1", "zzz") {
		t.Error("MarkChatRead on unknown entry reported found")
	}
}

func TestLastSync(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	if got := m.LoadLastSync(ctx, "c1", "u1"); !got.IsZero() {
		t.Errorf("LoadLastSync on empty = %v", got)
	}
	m.SaveLastSync(ctx, "c1", "u1", t0)
	if got := m.LoadLastSync(ctx, "c1", "u1"); !got.Equal(t0) {
		t.Errorf("LoadLastSync = %v, want %v", got, t0)
	}
}

func TestSearchMessages(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	m.SaveMessages(ctx, "c1", "u1", []CachedMessage{
		{ID: "1", Content: "Hello there", Timestamp: t0},
		{ID: "2", Content: "nothing", Timestamp: t0},
		{ID: "3", Content: "oh HELLO again", Timestamp: t0},
		{ID: "4", Content: "hello hello", Timestamp: t0},
	})

	got := m.SearchMessages(ctx, "c1", "u1", "hello", 2)
	if len(got) != 2 || got[0].ID != "4" || got[1].ID != "3" {
		t.Errorf("got %+v", got)
	}
	if got := m.SearchMessages(ctx, "c1", "u1", "  ", 0); got != nil {
		t.Errorf("blank query returned %+v", got)
	}
}

func TestScopesAndClear(t *testing.T) {
	m, kv := testManager(t)
	ctx := context.Background()
	m.AddMessage(ctx, "conv:1", "user/a", msg("m1", t0))
	m.AddMessage(ctx, "conv2", "user b", msg("m2", t0))
	m.SaveLastSync(ctx, "conv:1", "user/a", t0)
	m.SaveAgent(ctx, "conv:1", CachedAgent{ID: "conv:1"})

	scopes := m.Scopes(ctx)
	want := map[scope.Key]bool{
		{Conversation: "conv:1", User: "user/a"}: true,
		{Conversation: "conv2", User: "user b"}:  true,
	}
	if len(scopes) != 2 {
		t.Fatalf("Scopes = %+v", scopes)
	}
	for _, s := range scopes {
		if !want[s] {
			t.Errorf("unexpected scope %+v", s)
		}
	}

	m.ClearConversation(ctx, "conv:1", "user/a")
	if got := m.LoadMessages(ctx, "conv:1", "user/a"); len(got) != 0 {
		t.Errorf("messages survived clear: %+v", got)
	}
	if got := m.LoadLastSync(ctx, "conv:1", "user/a"); !got.IsZero() {
		t.Errorf("last sync survived clear: %v", got)
	}
	if m.LoadAgent(ctx, "conv:1") == nil {
		t.Error("clear should keep the agent snapshot")
	}
	keys, _ := kv.ListKeys(ctx, messagesPrefix)
	if len(keys) != 1 {
		t.Errorf("remaining message keys = %v", keys)
	}
}

func TestStorageErrorsDegrade(t *testing.T) {
	m := NewManager(brokenKV{}, zap.NewNop())
	ctx := context.Background()

	if got := m.LoadMessages(ctx, "c1", "u1"); got == nil || len(got) != 0 {
		t.Errorf("LoadMessages = %#v", got)
	}
	m.AddMessage(ctx, "c1", "u1", msg("m1", t0))
	if m.UpdateMessage(ctx, "c1", "u1", "m1", ConfirmPatch("x")) {
		t.Error("UpdateMessage succeeded on broken store")
	}
	if a := m.LoadAgent(ctx, "c1"); a != nil {
		t.Errorf("LoadAgent = %+v", a)
	}
	if s := m.Scopes(ctx); len(s) != 0 {
		t.Errorf("Scopes = %+v", s)
	}
	m.ClearConversation(ctx, "c1", "u1")
}

func TestCorruptRecordDegrades(t *testing.T) {
	m, kv := testManager(t)
	ctx := context.Background()
	_ = kv.Set(ctx, messagesKey("c1", "u1"), []byte("{not json"))

	if got := m.LoadMessages(ctx, "c1", "u1"); len(got) != 0 {
		t.Errorf("corrupt record decoded to %+v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		msg  CachedMessage
		want error
	}{
		{"synced remote id", CachedMessage{ID: "srv-1", Synced: true}, nil},
		{"pending temp id", CachedMessage{ID: NewTempID(), LocalOnly: true}, nil},
		{"unreconciled remote", CachedMessage{ID: "srv-1"}, nil},
		{"missing id", CachedMessage{}, ErrMissingID},
		{"both flags", CachedMessage{ID: "local-x", Synced: true, LocalOnly: true}, ErrSyncedAndLocal},
		{"synced temp id", CachedMessage{ID: "local-x", Synced: true}, ErrSyncedTempID},
		{"local remote id", CachedMessage{ID: "srv-1", LocalOnly: true}, ErrLocalRemoteID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.msg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMessageFromRemote(t *testing.T) {
	dur := 4.2
	agent := &CachedAgent{Name: "Ada", Avatar: "ada.png"}

	user := MessageFromRemote(remote.Message{ID: "m1", Role: "user", Content: "hi", CreatedAt: t0}, agent)
	if user.Sender != SenderUser || user.AgentName != "" || !user.Synced || user.LocalOnly {
		t.Errorf("user message = %+v", user)
	}

	reply := MessageFromRemote(remote.Message{ID: "m2", Role: "assistant", Type: "voice", AudioDuration: &dur, CreatedAt: t0}, agent)
	if reply.Sender != SenderAgent || reply.MessageType != TypeAudio || reply.AgentName != "Ada" {
		t.Errorf("agent message = %+v", reply)
	}
	if reply.AudioDuration == nil || *reply.AudioDuration != dur {
		t.Errorf("AudioDuration = %v", reply.AudioDuration)
	}

	text := MessageFromRemote(remote.Message{ID: "m3", Role: "agent", Type: "text", AudioDuration: &dur}, nil)
	if text.AudioDuration != nil {
		t.Error("text message kept an audio duration")
	}
}

func TestParseMessageKeyRejectsForeignKeys(t *testing.T) {
	for _, k := range []string{"chatsync:agent:c1", "chatsync:messages:noseparator", "other"} {
		if _, ok := parseMessagesKey(k); ok {
			t.Errorf("parseMessagesKey(%q) accepted", k)
		}
	}
}

// flakyKV fails reads while failGets is set and slows every write.
type flakyKV struct {
	store.KV
	failGets  atomic.Bool
	slowWrite time.Duration
}

func (f *flakyKV) Get(ctx context.Context, key string) ([]byte, error) {
	if f.failGets.Load() {
		return nil, errBroken
	}
	return f.KV.Get(ctx, key)
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	time.Sleep(f.slowWrite)
	return f.KV.Set(ctx, key, value)
}

func TestMutationsSkipWriteWhenReadFails(t *testing.T) {
	kv := &flakyKV{KV: store.NewMemory()}
	m := NewManager(kv, zap.NewNop())
	ctx := context.Background()
	pending := CachedMessage{ID: "local-1", Content: "hi", Sender: SenderUser, Timestamp: t0, LocalOnly: true}
	m.SaveMessages(ctx, "c1", "u1", []CachedMessage{pending})
	m.UpdateChatListEntry(ctx, "u1", ChatListItem{AgentID: "a", LastMessageTime: t0, UnreadCount: 2})

	kv.failGets.Store(true)
	if _, ok := m.ReadMessages(ctx, "c1", "u1"); ok {
		t.Error("ReadMessages reported ok on a failed read")
	}
	if m.AddMessage(ctx, "c1", "u1", msg("m2", t0.Add(time.Minute))) {
		t.Error("AddMessage wrote after a failed read")
	}
	if m.RemoveMessage(ctx, "c1", "u1", "local-1") {
		t.Error("RemoveMessage wrote after a failed read")
	}
	m.UpdateChatListEntry(ctx, "u1", ChatListItem{AgentID: "b", LastMessageTime: t0})
	kv.failGets.Store(false)

	got := m.LoadMessages(ctx, "c1", "u1")
	if len(got) != 1 || got[0].ID != "local-1" {
		t.Errorf("messages = %+v, want the pending message only", got)
	}
	if items := m.LoadChatList(ctx, "u1"); len(items) != 1 || items[0].UnreadCount != 2 {
		t.Errorf("chat list = %+v, want the original entry", items)
	}

	if _, ok := m.ReadMessages(ctx, "c9", "u1"); !ok {
		t.Error("ReadMessages of an empty scope reported a failure")
	}
}

func TestChatListEditsAreSerializedPerUser(t *testing.T) {
	kv := &flakyKV{KV: store.NewMemory(), slowWrite: time.Millisecond}
	m := NewManager(kv, zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agent := fmt.Sprintf("conv-%d", i)
			m.EditChatListEntry(ctx, "u1", agent, func(it *ChatListItem) bool {
				it.LastMessageTime = t0.Add(time.Duration(i) * time.Minute)
				it.UnreadCount++
				return true
			})
		}(i)
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.EditChatListEntry(ctx, "u1", "shared", func(it *ChatListItem) bool {
				it.UnreadCount++
				return true
			})
		}()
	}
	wg.Wait()

	items := m.LoadChatList(ctx, "u1")
	if len(items) != 21 {
		t.Fatalf("chat list entries = %d, want 21", len(items))
	}
	if it, _ := m.ChatListEntry(ctx, "u1", "shared"); it.UnreadCount != 10 {
		t.Errorf("shared unread = %d, want 10", it.UnreadCount)
	}
	if items[0].AgentID != "conv-19" {
		t.Errorf("most recent entry = %s, want conv-19", items[0].AgentID)
	}
}

func TestEditChatListEntryCanDecline(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	m.EditChatListEntry(ctx, "u1", "a", func(*ChatListItem) bool { return false })
	if items := m.LoadChatList(ctx, "u1"); len(items) != 0 {
		t.Errorf("declined edit stored %+v", items)
	}
}
