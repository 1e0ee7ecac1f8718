// Package reconcile keeps a signed-in user's view of shared state fresh.
//
// Other sessions' writes only become visible through re-reads. A ChangeFeed hides how those
// re-reads are scheduled; PollingFeed re-reads every partition the view depends on at a fixed
// interval for as long as the session is held.
package reconcile

import (
	"context"
	"errors"
	"time"

	"researchhub/backend/internal/metrics"
	"researchhub/backend/internal/models"

	"go.uber.org/zap"
)

// ErrInvalidSession is returned by Start for a missing user id or callback.
var ErrInvalidSession = errors.New("reconcile: user id and update callback are required")

// View is the refreshed state published to a session's owner.
type View struct {
	UserID          string                     `json:"userId"`
	Notifications   []models.Notification      `json:"notifications"`
	UnreadCount     int                        `json:"unreadCount"`
	PendingRequests []models.ConnectionRequest `json:"pendingRequests"`
	SentRequests    []models.ConnectionRequest `json:"sentRequests"`
	Connections     []models.UserRecord        `json:"connections"`
	Directory       []models.UserRecord        `json:"directory"`
	PeerID          string                     `json:"peerId,omitempty"`
	Conversation    []models.Message           `json:"conversation,omitempty"`

	// Degraded is set while at least one section has failed on consecutive ticks. Those
	// sections hold their last successfully read value.
	Degraded         bool      `json:"degraded"`
	DegradedSections []string  `json:"degradedSections,omitempty"`
	RefreshedAt      time.Time `json:"refreshedAt"`
}

// Subscription is a running feed for one user. Stop must be called when the owning session
// ends; after Stop returns no further updates are published.
type Subscription interface {
	// SetConversation selects the peer whose conversation is refreshed. An empty id closes it.
	SetConversation(peerID string)
	Stop()
	Done() <-chan struct{}
}

// ChangeFeed starts delivering refreshed views of userID's state to onUpdate.
// Cancelling ctx has the same effect as stopping the subscription.
type ChangeFeed interface {
	Start(ctx context.Context, userID string, onUpdate func(View)) (Subscription, error)
}

type NotificationSource interface {
	List(ctx context.Context, owner string) ([]models.Notification, error)
}

type RequestSource interface {
	PendingRequests(ctx context.Context, userID string) ([]models.ConnectionRequest, error)
	SentRequests(ctx context.Context, userID string) ([]models.ConnectionRequest, error)
	RepairSent(ctx context.Context, userID string) ([]string, error)
}

type ConnectionSource interface {
	ListConnections(ctx context.Context, userID string) ([]models.UserRecord, error)
	RepairOrphans(ctx context.Context, userID string) ([]string, error)
}

type DirectorySource interface {
	ListAll(ctx context.Context) ([]models.UserRecord, error)
}

type ConversationSource interface {
	Conversation(ctx context.Context, a, b string) ([]models.Message, error)
	RepairMirror(ctx context.Context, userID, peerID string) (int, error)
}

// Sources are the read paths a tick refreshes.
type Sources struct {
	Notifications NotificationSource
	Requests      RequestSource
	Connections   ConnectionSource
	Directory     DirectorySource
	Conversations ConversationSource
}

// PollingFeed is a ChangeFeed backed by a ticker.
type PollingFeed struct {
	sources  Sources
	interval time.Duration
	metrics  *metrics.Collector
	logger   *zap.Logger
	now      func() time.Time
}

var _ ChangeFeed = (*PollingFeed)(nil)

// NewPollingFeed creates a PollingFeed that ticks every interval.
func NewPollingFeed(sources Sources, interval time.Duration, collector *metrics.Collector, logger *zap.Logger) *PollingFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollingFeed{
		sources:  sources,
		interval: interval,
		metrics:  collector,
		logger:   logger,
		now:      time.Now,
	}
}

// Start runs a first tick immediately and then one per interval until the subscription is
// stopped or ctx is done. onUpdate is called from the feed's goroutines, one call at a time,
// and must not call Stop.
func (f *PollingFeed) Start(ctx context.Context, userID string, onUpdate func(View)) (Subscription, error) {
	if userID == "" || onUpdate == nil {
		return nil, ErrInvalidSession
	}

	s := newSession(ctx, f, userID, onUpdate)
	f.metrics.SessionStarted()
	f.logger.Debug("Reconciliation session started", zap.String("user_id", userID))

	go s.run()
	return s, nil
}
