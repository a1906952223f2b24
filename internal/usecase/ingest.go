package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/powerpulse/powerpulse/internal/domain"
	"github.com/powerpulse/powerpulse/pkg/textx"
)

// Transcript is the decoded upload payload: chats in document order, each
// carrying its raw message records for later validation.
type Transcript struct {
	Chats []TranscriptChat
}

// TranscriptChat pairs a chat id with its undecoded message records.
type TranscriptChat struct {
	ChatID string
	Raw    []json.RawMessage
}

// TotalMessages counts raw records across all chats.
func (t Transcript) TotalMessages() int {
	n := 0
	for _, c := range t.Chats {
		n += len(c.Raw)
	}
	return n
}

// ParseTranscript strictly decodes an upload payload. The top level must be a
// JSON object mapping chat ids to arrays; any other shape fails the upload
// before it is registered. Chats keep first-appearance order; a duplicated
// key merges into the earlier entry.
func ParseTranscript(r io.Reader) (Transcript, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return Transcript{}, fmt.Errorf("%w: invalid JSON: %v", domain.ErrInvalidArgument, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return Transcript{}, fmt.Errorf("%w: top level must be an object of chat arrays", domain.ErrInvalidArgument)
	}
	var t Transcript
	index := map[string]int{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Transcript{}, fmt.Errorf("%w: invalid JSON: %v", domain.ErrInvalidArgument, err)
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return Transcript{}, fmt.Errorf("%w: invalid JSON: %v", domain.ErrInvalidArgument, err)
		}
		body := bytes.TrimSpace(raw)
		if len(body) == 0 || body[0] != '[' {
			return Transcript{}, fmt.Errorf("%w: chat %q: messages must be an array", domain.ErrInvalidArgument, key)
		}
		var arr []json.RawMessage
		if err := json.Unmarshal(body, &arr); err != nil {
			return Transcript{}, fmt.Errorf("%w: chat %q: %v", domain.ErrInvalidArgument, key, err)
		}
		if i, seen := index[key]; seen {
			t.Chats[i].Raw = append(t.Chats[i].Raw, arr...)
			continue
		}
		index[key] = len(t.Chats)
		t.Chats = append(t.Chats, TranscriptChat{ChatID: key, Raw: arr})
	}
	if _, err := dec.Token(); err != nil {
		return Transcript{}, fmt.Errorf("%w: invalid JSON: %v", domain.ErrInvalidArgument, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Transcript{}, fmt.Errorf("%w: trailing data after transcript object", domain.ErrInvalidArgument)
	}
	return t, nil
}

// MessageFilter validates raw message records and filters auto-replies.
// Matching is exact against Sentence; when SubstringMatch is enabled any
// content containing Substring is filtered instead.
type MessageFilter struct {
	Sentence       string
	Substring      string
	SubstringMatch bool
}

// FilterStats counts the records a chat lost to validation.
type FilterStats struct {
	Autoresponses int
	Invalid       int
}

// Add accumulates another chat's counts.
func (s *FilterStats) Add(o FilterStats) {
	s.Autoresponses += o.Autoresponses
	s.Invalid += o.Invalid
}

type rawMessage struct {
	Content       json.RawMessage `json:"MESSAGE_CONTENT"`
	Direction     json.RawMessage `json:"DIRECTION"`
	CreateTime    json.RawMessage `json:"SOCIAL_CREATE_TIME"`
	AgentUsername json.RawMessage `json:"AGENT_USERNAME"`
	AgentEmail    json.RawMessage `json:"AGENT_EMAIL"`
}

// Validate turns raw records into normalized messages. Rejected records are
// counted, never fatal: non-string content (null included), an unknown
// direction, or an unparseable timestamp count as invalid; the configured
// auto-reply counts separately. Empty content is accepted.
func (f MessageFilter) Validate(chatID string, raw []json.RawMessage) ([]domain.Message, FilterStats) {
	msgs := make([]domain.Message, 0, len(raw))
	var stats FilterStats
	for _, rec := range raw {
		var rm rawMessage
		if err := json.Unmarshal(rec, &rm); err != nil {
			stats.Invalid++
			continue
		}
		content, ok := stringField(rm.Content)
		if !ok {
			stats.Invalid++
			continue
		}
		dir, ok := stringField(rm.Direction)
		if !ok || (dir != string(domain.DirectionToCompany) && dir != string(domain.DirectionToClient)) {
			stats.Invalid++
			continue
		}
		ts, ok := stringField(rm.CreateTime)
		if !ok {
			stats.Invalid++
			continue
		}
		at, err := parseTimestamp(ts)
		if err != nil {
			stats.Invalid++
			continue
		}
		content = textx.Clean(content)
		if f.isAutoresponse(content) {
			stats.Autoresponses++
			continue
		}
		m := domain.Message{ChatID: chatID, Content: content, Direction: domain.Direction(dir), SocialCreateTime: at}
		if u, ok := stringField(rm.AgentUsername); ok {
			m.AgentUsername = &u
		}
		if e, ok := stringField(rm.AgentEmail); ok {
			m.AgentEmail = &e
		}
		msgs = append(msgs, m)
	}
	return msgs, stats
}

func (f MessageFilter) isAutoresponse(content string) bool {
	if f.SubstringMatch && f.Substring != "" {
		return strings.Contains(content, f.Substring)
	}
	return content == f.Sentence
}

// stringField reports whether raw holds a JSON string and returns its value.
// JSON null is not a string here.
func stringField(raw json.RawMessage) (string, bool) {
	b := bytes.TrimSpace(raw)
	if len(b) == 0 || b[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return "", false
	}
	return s, true
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	// Zone-less forms seen in historical exports are taken as UTC.
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// GroupMessages orders a chat's validated messages by SocialCreateTime
// (input order breaking ties) and splits them into UTC calendar days. The
// second return is false when nothing survived validation.
func GroupMessages(chatID string, msgs []domain.Message) (domain.GroupedChat, bool) {
	if len(msgs) == 0 {
		return domain.GroupedChat{}, false
	}
	ordered := make([]domain.Message, len(msgs))
	copy(ordered, msgs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SocialCreateTime.Before(ordered[j].SocialCreateTime)
	})
	g := domain.GroupedChat{
		ChatID:           chatID,
		TotalMessages:    len(ordered),
		FirstMessageTime: ordered[0].SocialCreateTime,
		LastMessageTime:  ordered[len(ordered)-1].SocialCreateTime,
	}
	for _, m := range ordered {
		switch m.Direction {
		case domain.DirectionToCompany:
			g.CustomerMessages++
		case domain.DirectionToClient:
			g.AgentMessages++
		}
		day := utcDate(m.SocialCreateTime)
		if n := len(g.Days); n == 0 || !g.Days[n-1].Date.Equal(day) {
			g.Days = append(g.Days, domain.DayGroup{Date: day})
		}
		last := &g.Days[len(g.Days)-1]
		last.Messages = append(last.Messages, m)
	}
	return g, true
}

// utcDate truncates an instant to its UTC calendar day.
func utcDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
