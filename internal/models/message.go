package models

import "time"

// Message is a direct message. The same record is stored in both participants' partitions.
type Message struct {
	ID        string    `json:"id"`
	FromID    string    `json:"fromId"`
	FromName  string    `json:"fromName,omitempty"`
	ToID      string    `json:"toId"`
	ToName    string    `json:"toName,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// Between reports whether the message was exchanged by a and b.
func (m Message) Between(a, b string) bool {
	return (m.FromID == a && m.ToID == b) || (m.FromID == b && m.ToID == a)
}

// Peer returns the participant that is not userID.
func (m Message) Peer(userID string) string {
	if m.FromID == userID {
		return m.ToID
	}
	return m.FromID
}
