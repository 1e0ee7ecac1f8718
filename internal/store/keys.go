package store

// DirectoryKey addresses the global roster. It is the only key not partitioned by user.
const DirectoryKey = "directory"

// SeedMarkerKey records the fixtures that have been applied to this store.
const SeedMarkerKey = "seeded"

// ConnectionsKey addresses a user's connection mirrors.
func ConnectionsKey(userID string) string { return "connections:" + userID }

// PendingRequestsKey addresses the requests a user has received.
func PendingRequestsKey(userID string) string { return "pendingRequests:" + userID }

// SentRequestsKey addresses the projection of requests a user has sent.
func SentRequestsKey(userID string) string { return "sentRequests:" + userID }

// NotificationsKey addresses a user's notifications, most recent first.
func NotificationsKey(userID string) string { return "notifications:" + userID }

// MessagesKey addresses every message a user has sent or received.
func MessagesKey(userID string) string { return "messages:" + userID }
