package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"researchhub/backend/internal/conversation"
	"researchhub/backend/internal/directory"
	"researchhub/backend/internal/models"
	"researchhub/backend/internal/notify"
	"researchhub/backend/internal/social"
	"researchhub/backend/internal/store"
	"researchhub/backend/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testInterval = 10 * time.Millisecond
	waitFor      = 2 * time.Second
)

type harness struct {
	faulty        *storetest.Faulty
	dir           *directory.Directory
	registry      *social.Registry
	engine        *social.Engine
	fanout        *notify.Fanout
	conversations *conversation.Store
	sources       Sources
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	faulty := storetest.NewFaulty(store.NewMemoryStore())
	parts := store.NewPartitions(faulty)
	dir := directory.New(parts, nil)
	for _, u := range []models.UserRecord{
		{ID: "user_1", FirstName: "Sarah", LastName: "Johnson"},
		{ID: "user_2", FirstName: "Michael", LastName: "Chen"},
	} {
		_, err := dir.Upsert(context.Background(), u)
		require.NoError(t, err)
	}
	fanout := notify.NewFanout(parts, nil, nil)
	registry := social.NewRegistry(parts, nil, nil, time.Hour)
	engine := social.NewEngine(parts, dir, registry, fanout, nil, nil)
	conversations := conversation.NewStore(parts, dir, fanout, nil, nil)

	return &harness{
		faulty:        faulty,
		dir:           dir,
		registry:      registry,
		engine:        engine,
		fanout:        fanout,
		conversations: conversations,
		sources: Sources{
			Notifications: fanout,
			Requests:      engine,
			Connections:   registry,
			Directory:     dir,
			Conversations: conversations,
		},
	}
}

// recorder keeps every published view.
type recorder struct {
	mu    sync.Mutex
	views []View
}

func (r *recorder) record(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *recorder) latest() (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return View{}, false
	}
	return r.views[len(r.views)-1], true
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

func (r *recorder) eventually(t *testing.T, cond func(View) bool) View {
	t.Helper()
	var got View
	require.Eventually(t, func() bool {
		v, ok := r.latest()
		if ok && cond(v) {
			got = v
			return true
		}
		return false
	}, waitFor, testInterval)
	return got
}

func TestStartRejectsInvalidSession(t *testing.T) {
	feed := NewPollingFeed(Sources{}, testInterval, nil, nil)

	_, err := feed.Start(context.Background(), "", func(View) {})
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, err = feed.Start(context.Background(), "user_1", nil)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionSeesOtherSessionsWrites(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec := &recorder{}

	sub, err := NewPollingFeed(h.sources, testInterval, nil, nil).Start(ctx, "user_2", rec.record)
	require.NoError(t, err)
	defer sub.Stop()

	first := rec.eventually(t, func(v View) bool { return len(v.Directory) == 2 })
	assert.Equal(t, "user_2", first.UserID)
	assert.Empty(t, first.PendingRequests)
	assert.False(t, first.Degraded)

	_, err = h.engine.Send(ctx, "user_1", "user_2")
	require.NoError(t, err)

	v := rec.eventually(t, func(v View) bool { return len(v.PendingRequests) == 1 })
	assert.Equal(t, "user_1", v.PendingRequests[0].SenderID)
	assert.Equal(t, 1, v.UnreadCount)
	require.Len(t, v.Notifications, 1)
	assert.Equal(t, models.NotificationConnectionRequest, v.Notifications[0].Type)
}

func TestConversationIsRefreshedAndRepaired(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec := &recorder{}

	h.faulty.FailPuts(store.MessagesKey("user_2"), 1)
	msg, err := h.conversations.Send(ctx, "user_1", "user_2", "hello")
	require.NoError(t, err)

	sub, err := NewPollingFeed(h.sources, testInterval, nil, nil).Start(ctx, "user_1", rec.record)
	require.NoError(t, err)
	defer sub.Stop()

	sub.SetConversation("user_2")
	v := rec.eventually(t, func(v View) bool { return v.PeerID == "user_2" && len(v.Conversation) == 1 })
	assert.Equal(t, msg.ID, v.Conversation[0].ID)

	require.Eventually(t, func() bool {
		theirs, err := h.conversations.Conversation(ctx, "user_2", "user_1")
		return err == nil && len(theirs) == 1
	}, waitFor, testInterval)

	sub.SetConversation("")
	rec.eventually(t, func(v View) bool { return v.PeerID == "" && v.Conversation == nil })
}

func TestFailingSectionKeepsLastKnownAndDegrades(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec := &recorder{}

	_, err := h.fanout.Deliver(ctx, "user_1", models.Notification{Title: "welcome"})
	require.NoError(t, err)

	sub, err := NewPollingFeed(h.sources, testInterval, nil, nil).Start(ctx, "user_1", rec.record)
	require.NoError(t, err)
	defer sub.Stop()
	rec.eventually(t, func(v View) bool { return len(v.Notifications) == 1 })

	h.faulty.FailGets(store.NotificationsKey("user_1"), -1)
	v := rec.eventually(t, func(v View) bool { return v.Degraded })
	assert.Equal(t, []string{SectionNotifications}, v.DegradedSections)
	require.Len(t, v.Notifications, 1)
	assert.Equal(t, "welcome", v.Notifications[0].Title)
	assert.Len(t, v.Directory, 2)

	h.faulty.Heal()
	rec.eventually(t, func(v View) bool { return !v.Degraded })
}

func TestSingleFailureIsRetriedBeforeDegrading(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec := &recorder{}

	h.faulty.FailGets(store.DirectoryKey, 1)
	sub, err := NewPollingFeed(h.sources, testInterval, nil, nil).Start(ctx, "user_1", rec.record)
	require.NoError(t, err)
	defer sub.Stop()

	rec.eventually(t, func(v View) bool { return len(v.Directory) == 2 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, v := range rec.views {
		assert.False(t, v.Degraded)
	}
}

type stallingNotifications struct {
	release chan struct{}
	calls   chan struct{}
}

func (s *stallingNotifications) List(_ context.Context, _ string) ([]models.Notification, error) {
	select {
	case s.calls <- struct{}{}:
	default:
	}
	<-s.release
	return []models.Notification{{ID: "late"}}, nil
}

func TestStopIsNotBlockedByStalledStore(t *testing.T) {
	stall := &stallingNotifications{release: make(chan struct{}), calls: make(chan struct{}, 1)}
	rec := &recorder{}

	sub, err := NewPollingFeed(Sources{Notifications: stall}, testInterval, nil, nil).Start(context.Background(), "user_1", rec.record)
	require.NoError(t, err)

	select {
	case <-stall.calls:
	case <-time.After(waitFor):
		t.Fatal("tick never reached the store")
	}

	stopped := make(chan struct{})
	go func() {
		sub.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("Stop blocked on a stalled tick")
	}

	close(stall.release)
	time.Sleep(5 * testInterval)
	assert.Zero(t, rec.count())
}

func TestStopEndsUpdates(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}

	sub, err := NewPollingFeed(h.sources, testInterval, nil, nil).Start(context.Background(), "user_1", rec.record)
	require.NoError(t, err)
	rec.eventually(t, func(View) bool { return true })

	sub.Stop()
	sub.Stop()
	<-sub.Done()

	n := rec.count()
	time.Sleep(5 * testInterval)
	assert.Equal(t, n, rec.count())
}

func TestCancelledContextStopsSession(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := NewPollingFeed(h.sources, testInterval, nil, nil).Start(ctx, "user_1", func(View) {})
	require.NoError(t, err)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(waitFor):
		t.Fatal("session outlived its context")
	}
}

func TestOrphanedMirrorIsDroppedByTick(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	registry := social.NewRegistry(store.NewPartitions(h.faulty), nil, nil, 0)
	h.sources.Connections = registry

	sarah, _ := h.dir.FindByID(ctx, "user_1")
	michael, _ := h.dir.FindByID(ctx, "user_2")
	_, err := registry.Connect(ctx, sarah, michael)
	require.NoError(t, err)
	h.faulty.FailPuts(store.ConnectionsKey("user_2"), 1)
	_, err = registry.RemoveConnection(ctx, "user_1", "user_2")
	require.NoError(t, err)

	rec := &recorder{}
	sub, err := NewPollingFeed(h.sources, testInterval, nil, nil).Start(ctx, "user_2", rec.record)
	require.NoError(t, err)
	defer sub.Stop()

	rec.eventually(t, func(v View) bool { return len(v.Directory) == 2 && len(v.Connections) == 0 })
	ok, err := registry.IsConnected(ctx, "user_2", "user_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConversationOpenedDuringFirstTickIsRefreshedRightAway(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.conversations.Send(ctx, "user_1", "user_2", "hello")
	require.NoError(t, err)

	stall := &stallingNotifications{release: make(chan struct{}), calls: make(chan struct{}, 1)}
	rec := &recorder{}
	// The interval is long enough that only the queued refresh can pick up the conversation.
	sub, err := NewPollingFeed(Sources{Notifications: stall, Conversations: h.conversations}, time.Hour, nil, nil).
		Start(ctx, "user_2", rec.record)
	require.NoError(t, err)
	defer sub.Stop()

	select {
	case <-stall.calls:
	case <-time.After(waitFor):
		t.Fatal("tick never reached the store")
	}
	sub.SetConversation("user_1")
	close(stall.release)

	v := rec.eventually(t, func(v View) bool { return len(v.Conversation) == 1 })
	assert.Equal(t, "user_1", v.PeerID)
	assert.Equal(t, "hello", v.Conversation[0].Text)
}

func TestStaleSentRequestIsDroppedByTick(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.engine.Send(ctx, "user_1", "user_2")
	require.NoError(t, err)
	h.faulty.FailPuts(store.SentRequestsKey("user_1"), 1)
	require.NoError(t, h.engine.Reject(ctx, "user_2", "user_1"))

	stale, err := h.engine.SentRequests(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, stale, 1)

	rec := &recorder{}
	sub, err := NewPollingFeed(h.sources, testInterval, nil, nil).Start(ctx, "user_1", rec.record)
	require.NoError(t, err)
	defer sub.Stop()

	rec.eventually(t, func(v View) bool { return len(v.Directory) == 2 && len(v.SentRequests) == 0 })
}
