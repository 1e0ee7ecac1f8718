package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"researchhub/backend/internal/models"
	"researchhub/backend/internal/notify"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Section names reported in View.DegradedSections.
const (
	SectionNotifications = "notifications"
	SectionPending       = "pendingRequests"
	SectionSent          = "sentRequests"
	SectionConnections   = "connections"
	SectionDirectory     = "directory"
	SectionConversation  = "conversation"
)

// degradedAfter is the number of consecutive failed reads before a section is reported.
// A single failure is retried by the next tick first.
const degradedAfter = 2

// Session is the PollingFeed Subscription.
type Session struct {
	feed     *PollingFeed
	userID   string
	onUpdate func(View)

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	refresh chan struct{}
	once    sync.Once

	// inFlight keeps ticks from overlapping. A tick stuck on the store only delays later ticks.
	// Triggers that arrive meanwhile set pending and are run once the tick finishes.
	inFlight atomic.Bool
	pending  atomic.Bool

	mu       sync.Mutex
	stopped  bool
	peerID   string
	last     View
	failures map[string]int
}

var _ Subscription = (*Session)(nil)

func newSession(parent context.Context, feed *PollingFeed, userID string, onUpdate func(View)) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		feed:     feed,
		userID:   userID,
		onUpdate: onUpdate,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		refresh:  make(chan struct{}, 1),
		last:     View{UserID: userID},
		failures: make(map[string]int),
	}
}

// SetConversation switches the open conversation and schedules an immediate refresh.
func (s *Session) SetConversation(peerID string) {
	s.mu.Lock()
	if s.peerID != peerID {
		s.peerID = peerID
		s.last.PeerID = peerID
		s.last.Conversation = nil
		delete(s.failures, SectionConversation)
	}
	s.mu.Unlock()

	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Stop ends the session. It is safe to call more than once and from any goroutine other
// than the update callback.
func (s *Session) Stop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.cancel()
	})
	<-s.done
}

// Done is closed once the session's loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) run() {
	defer close(s.done)
	defer s.feed.metrics.SessionStopped()

	ticker := time.NewTicker(s.feed.interval)
	defer ticker.Stop()

	s.trigger()
	for {
		select {
		case <-s.ctx.Done():
			s.mu.Lock()
			s.stopped = true
			s.mu.Unlock()
			s.feed.logger.Debug("Reconciliation session stopped", zap.String("user_id", s.userID))
			return
		case <-ticker.C:
			s.trigger()
		case <-s.refresh:
			s.trigger()
		}
	}
}

func (s *Session) trigger() {
	s.pending.Store(true)
	if !s.inFlight.CompareAndSwap(false, true) {
		s.feed.metrics.ReconcileTick("coalesced")
		return
	}
	go func() {
		for s.pending.Swap(false) && s.ctx.Err() == nil {
			s.tick()
		}
		s.inFlight.Store(false)
		// A trigger may have landed between the last check and the store above.
		if s.pending.Load() && s.ctx.Err() == nil {
			s.trigger()
		}
	}()
}

type tickResult struct {
	notifications []models.Notification
	pending       []models.ConnectionRequest
	sent          []models.ConnectionRequest
	connections   []models.UserRecord
	directory     []models.UserRecord
	conversation  []models.Message
	errs          map[string]error
}

func (s *Session) tick() {
	ctx := s.ctx
	s.mu.Lock()
	peerID := s.peerID
	s.mu.Unlock()

	s.repair(ctx, peerID)
	res := s.read(ctx, peerID)

	if ctx.Err() != nil {
		return
	}
	s.publish(peerID, res)
}

// repair narrows inconsistency windows left by earlier partial writes. Failures only log;
// the reads that follow report store trouble.
func (s *Session) repair(ctx context.Context, peerID string) {
	src := s.feed.sources
	if src.Requests != nil {
		if _, err := src.Requests.RepairSent(ctx, s.userID); err != nil {
			s.feed.logger.Debug("Sent-request repair failed", zap.String("user_id", s.userID), zap.Error(err))
		}
	}
	if src.Connections != nil {
		if _, err := src.Connections.RepairOrphans(ctx, s.userID); err != nil {
			s.feed.logger.Debug("Orphan repair failed", zap.String("user_id", s.userID), zap.Error(err))
		}
	}
	if src.Conversations != nil && peerID != "" {
		if _, err := src.Conversations.RepairMirror(ctx, s.userID, peerID); err != nil {
			s.feed.logger.Debug("Message mirror repair failed",
				zap.String("user_id", s.userID),
				zap.String("peer_id", peerID),
				zap.Error(err),
			)
		}
	}
}

func (s *Session) read(ctx context.Context, peerID string) tickResult {
	src := s.feed.sources
	var (
		res   tickResult
		errMu sync.Mutex
		g     errgroup.Group
	)
	res.errs = make(map[string]error)
	record := func(section string, err error) {
		if err != nil {
			errMu.Lock()
			res.errs[section] = err
			errMu.Unlock()
		}
	}

	// Sections fail independently, so every goroutine reports through record and returns nil.
	if src.Notifications != nil {
		g.Go(func() error {
			var err error
			res.notifications, err = src.Notifications.List(ctx, s.userID)
			record(SectionNotifications, err)
			return nil
		})
	}
	if src.Requests != nil {
		g.Go(func() error {
			var err error
			res.pending, err = src.Requests.PendingRequests(ctx, s.userID)
			record(SectionPending, err)
			return nil
		})
		g.Go(func() error {
			var err error
			res.sent, err = src.Requests.SentRequests(ctx, s.userID)
			record(SectionSent, err)
			return nil
		})
	}
	if src.Connections != nil {
		g.Go(func() error {
			var err error
			res.connections, err = src.Connections.ListConnections(ctx, s.userID)
			record(SectionConnections, err)
			return nil
		})
	}
	if src.Directory != nil {
		g.Go(func() error {
			var err error
			res.directory, err = src.Directory.ListAll(ctx)
			record(SectionDirectory, err)
			return nil
		})
	}
	if src.Conversations != nil && peerID != "" {
		g.Go(func() error {
			var err error
			res.conversation, err = src.Conversations.Conversation(ctx, s.userID, peerID)
			record(SectionConversation, err)
			return nil
		})
	}
	_ = g.Wait()
	return res
}

func (s *Session) publish(peerID string, res tickResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	// The conversation was switched while this tick was reading.
	conversationStale := peerID != s.peerID

	v := s.last
	apply := func(section string, ok func()) {
		if err, failed := res.errs[section]; failed {
			s.failures[section]++
			if s.failures[section] == degradedAfter {
				s.feed.logger.Warn("Reconciliation section degraded",
					zap.String("user_id", s.userID),
					zap.String("section", section),
					zap.Error(err),
				)
			}
			return
		}
		if s.failures[section] >= degradedAfter {
			s.feed.logger.Info("Reconciliation section recovered",
				zap.String("user_id", s.userID),
				zap.String("section", section),
			)
		}
		delete(s.failures, section)
		ok()
	}

	src := s.feed.sources
	if src.Notifications != nil {
		apply(SectionNotifications, func() {
			v.Notifications = res.notifications
			v.UnreadCount = notify.CountUnread(res.notifications)
		})
	}
	if src.Requests != nil {
		apply(SectionPending, func() { v.PendingRequests = res.pending })
		apply(SectionSent, func() { v.SentRequests = res.sent })
	}
	if src.Connections != nil {
		apply(SectionConnections, func() { v.Connections = res.connections })
	}
	if src.Directory != nil {
		apply(SectionDirectory, func() { v.Directory = res.directory })
	}
	if src.Conversations != nil && peerID != "" && !conversationStale {
		apply(SectionConversation, func() { v.Conversation = res.conversation })
	}

	v.UserID = s.userID
	v.PeerID = s.peerID
	v.Degraded = false
	v.DegradedSections = nil
	for _, section := range []string{SectionNotifications, SectionPending, SectionSent, SectionConnections, SectionDirectory, SectionConversation} {
		if s.failures[section] >= degradedAfter {
			v.Degraded = true
			v.DegradedSections = append(v.DegradedSections, section)
		}
	}
	v.RefreshedAt = s.feed.now().UTC()
	s.last = v

	switch {
	case v.Degraded:
		s.feed.metrics.ReconcileTick("degraded")
	case len(res.errs) > 0:
		s.feed.metrics.ReconcileTick("retrying")
	default:
		s.feed.metrics.ReconcileTick("ok")
	}

	s.onUpdate(v)
}
