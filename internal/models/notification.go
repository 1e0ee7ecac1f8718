package models

import "time"

// NotificationType enumerates the events fanned out to users.
type NotificationType string

const (
	NotificationConnectionRequest     NotificationType = "connection_request"
	NotificationConnectionRequestSent NotificationType = "connection_request_sent"
	NotificationConnectionAccepted    NotificationType = "connection_accepted"
	NotificationNewMessage            NotificationType = "new_message"
)

// Notification is an event record in a user's notification partition.
type Notification struct {
	ID             string           `json:"id"`
	Type           NotificationType `json:"type"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	FromUserID     string           `json:"fromUserId,omitempty"`
	FromName       string           `json:"fromName,omitempty"`
	ActionRequired bool             `json:"actionRequired,omitempty"`
	Read           bool             `json:"read"`
	CreatedAt      time.Time        `json:"createdAt"`
}
