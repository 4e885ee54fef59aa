// Package remotetest runs an in-process fake of the remote message service
// with switches for injecting failures.
package remotetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matheus3301/chatsync/internal/remote"
)

// Sent records one upload the server received.
type Sent struct {
	Conversation   string
	Content        string
	Type           string
	IdempotencyKey string
	ID             string
	Replayed       bool
}

// Server is a fake remote service. The zero value is not usable; call New.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	messages  map[string][]remote.Message
	agents    map[string]remote.Agent
	sent      []Sent
	idem      map[string]string
	nextID    int
	clock     time.Time
	token     string
	autoReply bool

	failMessages bool
	failAgent    bool
	failSend     bool
	dropSendAck  bool
	down         bool
	unauthorized bool
}

// New starts a server that is shut down when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		messages: make(map[string][]remote.Message),
		agents:   make(map[string]remote.Agent),
		idem:     make(map[string]string),
		nextID:   1,
		clock:    time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.gate)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/conversations/{id}/messages", s.listMessages)
	r.Post("/conversations/{id}/messages", s.sendMessage)
	r.Get("/agents/{id}", s.getAgent)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// gate applies the down / unauthorized switches and the token check.
func (s *Server) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		down, unauthorized, token := s.down, s.unauthorized, s.token
		s.mu.Unlock()

		if down {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "down"})
			return
		}
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if unauthorized || (token != "" && r.Header.Get("Authorization") != "Bearer "+token) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	conv := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	s.mu.Lock()
	if s.failMessages {
		s.mu.Unlock()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "messages unavailable"})
		return
	}
	msgs := s.messages[conv]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, encodeMessage(m))
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	fail := s.failAgent
	a, ok := s.agents[id]
	s.mu.Unlock()

	if fail {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "agent unavailable"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          a.ID,
		"name":        a.Name,
		"avatar_url":  a.Avatar,
		"description": a.Description,
		"personality": a.Personality,
		"category":    a.Category,
	})
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	conv := chi.URLParam(r, "id")
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var body struct {
		Content       string   `json:"content"`
		Type          string   `json:"message_type"`
		AudioDuration *float64 `json:"audio_duration"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	key := r.Header.Get("Idempotency-Key")

	s.mu.Lock()
	if s.failSend {
		s.mu.Unlock()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "send failed"})
		return
	}

	if id, ok := s.idem[key]; key != "" && ok {
		s.sent = append(s.sent, Sent{Conversation: conv, Content: body.Content, Type: body.Type, IdempotencyKey: key, ID: id, Replayed: true})
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"id": id})
		return
	}

	msg := remote.Message{
		ID:            s.allocID(),
		Content:       body.Content,
		Role:          "user",
		CreatedAt:     s.tick(),
		Type:          body.Type,
		AudioDuration: body.AudioDuration,
	}
	s.messages[conv] = append(s.messages[conv], msg)
	if key != "" {
		s.idem[key] = msg.ID
	}
	s.sent = append(s.sent, Sent{Conversation: conv, Content: body.Content, Type: body.Type, IdempotencyKey: key, ID: msg.ID})

	resp := map[string]any{"id": msg.ID, "created_at": msg.CreatedAt.Format(time.RFC3339Nano)}
	if s.autoReply {
		reply := remote.Message{
			ID:        s.allocID(),
			Content:   "re: " + body.Content,
			Role:      "assistant",
			CreatedAt: s.tick(),
			Type:      "text",
		}
		s.messages[conv] = append(s.messages[conv], reply)
		resp["reply"] = encodeMessage(reply)
	}
	drop := s.dropSendAck
	s.mu.Unlock()

	if drop {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "ack lost"})
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// allocID and tick must be called with mu held.
func (s *Server) allocID() string {
	id := fmt.Sprintf("srv-%d", s.nextID)
	s.nextID++
	return id
}

func (s *Server) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

// SetMessages replaces the stored history of a conversation.
func (s *Server) SetMessages(conversation string, msgs ...remote.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[conversation] = append([]remote.Message(nil), msgs...)
	for _, m := range msgs {
		if m.CreatedAt.After(s.clock) {
			s.clock = m.CreatedAt
		}
	}
}

// AddMessage appends one message to a conversation's history.
func (s *Server) AddMessage(conversation string, m remote.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.tick()
	}
	s.messages[conversation] = append(s.messages[conversation], m)
}

// Messages returns a copy of a conversation's stored history.
func (s *Server) Messages(conversation string) []remote.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]remote.Message(nil), s.messages[conversation]...)
}

// SetAgent stores an agent snapshot.
func (s *Server) SetAgent(a remote.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = a
}

// Sends returns every upload received so far, replays included.
func (s *Server) Sends() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

// SetNextID sets the numeric suffix of the next issued id.
func (s *Server) SetNextID(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = n
}

func (s *Server) RequireToken(token string) { s.set(func() { s.token = token }) }
func (s *Server) SetAutoReply(on bool)      { s.set(func() { s.autoReply = on }) }
func (s *Server) FailMessages(on bool)      { s.set(func() { s.failMessages = on }) }
func (s *Server) FailAgent(on bool)         { s.set(func() { s.failAgent = on }) }
func (s *Server) FailSend(on bool)          { s.set(func() { s.failSend = on }) }
func (s *Server) SetDown(on bool)           { s.set(func() { s.down = on }) }
func (s *Server) SetUnauthorized(on bool)   { s.set(func() { s.unauthorized = on }) }

// DropSendAck makes uploads commit server-side but answer with an error,
// as if the acknowledgement was lost in transit.
func (s *Server) DropSendAck(on bool) { s.set(func() { s.dropSendAck = on }) }

func (s *Server) set(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func encodeMessage(m remote.Message) map[string]any {
	out := map[string]any{
		"id":         m.ID,
		"content":    m.Content,
		"role":       m.Role,
		"created_at": m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if m.Type != "" {
		out["message_type"] = m.Type
	}
	if m.AudioDuration != nil {
		out["audio_duration"] = *m.AudioDuration
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
