package models

import "time"

// RequestStatus is the persisted state of a connection request.
// Accepting or rejecting deletes the record, so pending is the only stored value.
type RequestStatus string

const StatusPending RequestStatus = "pending"

// ConnectionRequest is a pending request for the ordered pair (SenderID, RecipientID).
// The primary copy lives in the recipient's pendingRequests partition and carries a
// snapshot of the sender. The copy in the sender's sentRequests projection also carries
// a snapshot of the recipient.
type ConnectionRequest struct {
	ID          string        `json:"id"`
	SenderID    string        `json:"senderId"`
	RecipientID string        `json:"recipientId"`
	Status      RequestStatus `json:"status"`
	SentAt      time.Time     `json:"sentAt"`
	Sender      UserRecord    `json:"sender"`
	Recipient   *UserRecord   `json:"recipient,omitempty"`
}

// Involves reports whether the request is between a and b in either direction.
func (r ConnectionRequest) Involves(a, b string) bool {
	return (r.SenderID == a && r.RecipientID == b) || (r.SenderID == b && r.RecipientID == a)
}
