package notify

import (
	"encoding/json"
	"time"
)

// Kinds of notification messages carried over the bus. KindInvite is
// addressed by invitee email because no account exists yet; every other
// kind is addressed by user id.
const (
	KindInvite   = "invitation"
	KindAccepted = "invitation_accepted"
	KindLate     = "late_contribution"
	KindConfirm  = "contribution_confirmed"
	KindReminder = "confirmation_reminder"
)

// Message is the envelope published for the delivery worker. It carries
// everything the worker needs to persist the in-app notification and
// push it to external channels, so the worker never has to query back.
type Message struct {
	Kind      string            `json:"kind"`
	UserID    string            `json:"userId"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Priority  string            `json:"priority"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func NewMessage(kind, userID, title, body, priority string) *Message {
	return &Message{
		Kind:      kind,
		UserID:    userID,
		Title:     title,
		Body:      body,
		Priority:  priority,
		Timestamp: time.Now(),
	}
}

func (m *Message) WithMeta(key, value string) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
	return m
}

func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func MessageFromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
