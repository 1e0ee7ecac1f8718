package models

import "time"

// Connection is one mirror of a symmetric connection, stored in the owner's partition.
// Peer is the other party's profile as it was when the connection was made.
type Connection struct {
	PeerID      string     `json:"peerId"`
	Peer        UserRecord `json:"peer"`
	ConnectedAt time.Time  `json:"connectedAt"`
}
