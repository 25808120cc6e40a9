package domain

import "time"

// Sender identifies who authored a message in a session transcript.
type Sender string

const (
	SenderUser Sender = "User"
	SenderBot  Sender = "Bot"
)

// Message is a single entry of a session transcript.
type Message struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// Session is a run of messages grouped by the continuity window.
type Session struct {
	ID            string
	AccountID     string
	Messages      []Message
	CreatedAt     time.Time
	LastMessageAt time.Time
}

// Transcript returns the message texts in order, without sender roles.
func (s Session) Transcript() []string {
	out := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		out = append(out, m.Text)
	}
	return out
}

// FirstMessage returns the text of the opening message, or "" for an empty session.
func (s Session) FirstMessage() string {
	if len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[0].Text
}

// TextSize returns the total byte length of the message texts.
func (s Session) TextSize() int {
	n := 0
	for _, m := range s.Messages {
		n += len(m.Text)
	}
	return n
}
