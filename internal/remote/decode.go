package remote

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// firstOf returns the first present field among paths.
func firstOf(v gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := v.Get(p); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

// parseTime accepts RFC 3339 strings and unix timestamps in seconds or
// milliseconds. Unparseable values yield the zero time.
func parseTime(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		n := v.Int()
		if n > 1e12 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

func decodeMessage(v gjson.Result) Message {
	m := Message{
		ID:        firstOf(v, "id", "_id").String(),
		Content:   firstOf(v, "content", "text", "body").String(),
		Role:      strings.ToLower(firstOf(v, "role", "sender").String()),
		CreatedAt: parseTime(firstOf(v, "created_at", "createdAt", "timestamp")),
		Type:      strings.ToLower(firstOf(v, "message_type", "messageType", "type").String()),
	}
	if d := firstOf(v, "audio_duration", "audioDuration", "duration"); d.Exists() {
		f := d.Float()
		m.AudioDuration = &f
	}
	return m
}

// decodeMessages reads a message window. The list may be the document root
// or nested under "messages" or "data".
func decodeMessages(body []byte) []Message {
	root := gjson.ParseBytes(body)
	list := root
	if !root.IsArray() {
		list = firstOf(root, "messages", "data")
	}
	var out []Message
	list.ForEach(func(_, v gjson.Result) bool {
		m := decodeMessage(v)
		if m.ID != "" {
			out = append(out, m)
		}
		return true
	})
	return out
}

func decodeAgent(body []byte, id string) Agent {
	v := gjson.ParseBytes(body)
	if inner := v.Get("agent"); inner.IsObject() {
		v = inner
	}
	a := Agent{
		ID:          firstOf(v, "id").String(),
		Name:        firstOf(v, "name").String(),
		Avatar:      firstOf(v, "avatar", "avatar_url", "avatarUrl").String(),
		Description: firstOf(v, "description").String(),
		Personality: firstOf(v, "personality").String(),
		Category:    firstOf(v, "category").String(),
	}
	if a.ID == "" {
		a.ID = id
	}
	return a
}

func decodeSendResult(body []byte) *SendResult {
	v := gjson.ParseBytes(body)
	res := &SendResult{
		ID:        firstOf(v, "id", "message.id").String(),
		CreatedAt: parseTime(firstOf(v, "created_at", "message.created_at", "message.createdAt")),
	}
	if r := v.Get("reply"); r.IsObject() {
		reply := decodeMessage(r)
		if reply.ID != "" {
			if reply.Role == "" {
				reply.Role = "agent"
			}
			res.Reply = &reply
		}
	}
	return res
}
