package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"researchhub/backend/internal/conversation"
	"researchhub/backend/internal/directory"
	"researchhub/backend/internal/metrics"
	"researchhub/backend/internal/models"
	"researchhub/backend/internal/notify"
	"researchhub/backend/internal/reconcile"
	"researchhub/backend/internal/social"
	"researchhub/backend/internal/store"
	"researchhub/backend/internal/store/storetest"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type testAPI struct {
	router *gin.Engine
	faulty *storetest.Faulty
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	faulty := storetest.NewFaulty(store.NewMemoryStore())
	parts := store.NewPartitions(faulty)
	collector := metrics.NewCollector("researchhub_test")
	dir := directory.New(parts, nil)
	fanout := notify.NewFanout(parts, collector, nil)
	registry := social.NewRegistry(parts, collector, nil, time.Minute)
	engine := social.NewEngine(parts, dir, registry, fanout, collector, nil)
	conversations := conversation.NewStore(parts, dir, fanout, collector, nil)
	feed := reconcile.NewPollingFeed(reconcile.Sources{
		Notifications: fanout,
		Requests:      engine,
		Connections:   registry,
		Directory:     dir,
		Conversations: conversations,
	}, 20*time.Millisecond, collector, nil)

	h := New(Deps{
		Directory:     dir,
		Engine:        engine,
		Registry:      registry,
		Notifications: fanout,
		Conversations: conversations,
		Feed:          feed,
		Metrics:       collector,
		JWTSecret:     testSecret,
	})
	router := gin.New()
	h.RegisterRoutes(router)
	return &testAPI{router: router, faulty: faulty}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

// signIn starts a session and returns the token and user id.
func (a *testAPI) signIn(t *testing.T, email, first, last string) (string, string) {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/auth/session", "", SessionInput{Email: email, FirstName: first, LastName: last})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token, resp.User.ID
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestPing(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"pong"}`, w.Body.String())
}

func TestSessionReusesDirectoryEntry(t *testing.T) {
	api := newTestAPI(t)
	_, first := api.signIn(t, "sarah.johnson@university.edu", "Sarah", "Johnson")
	token, second := api.signIn(t, "Sarah.Johnson@University.edu", "", "")
	assert.Equal(t, first, second)

	w := api.do(t, http.MethodGet, "/api/v1/users/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[PrivateUserResponse](t, w)
	assert.Equal(t, "Sarah Johnson", me.Name)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(t, http.MethodGet, "/api/v1/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/notifications", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	sarahToken, sarahID := api.signIn(t, "sarah.johnson@university.edu", "Sarah", "Johnson")
	michaelToken, michaelID := api.signIn(t, "michael.chen@university.edu", "Michael", "Chen")

	w := api.do(t, http.MethodPost, "/api/v1/users/"+michaelID+"/request", sarahToken, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(t, http.MethodPost, "/api/v1/users/"+michaelID+"/request", sarahToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_REQUEST", decode[ErrorResponse](t, w).Code)

	w = api.do(t, http.MethodGet, "/api/v1/users/me/requests/outgoing", sarahToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.ConnectionRequest](t, w), 1)

	w = api.do(t, http.MethodGet, "/api/v1/users/"+sarahID, michaelToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	profile := decode[PublicUserResponse](t, w)
	assert.True(t, profile.RequestReceived)
	assert.False(t, profile.Connected)

	w = api.do(t, http.MethodPost, "/api/v1/users/"+sarahID+"/accept", michaelToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, sarahID, decode[models.Connection](t, w).PeerID)

	w = api.do(t, http.MethodPost, "/api/v1/users/"+sarahID+"/accept", michaelToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	for _, tc := range []struct{ token, peer string }{{sarahToken, michaelID}, {michaelToken, sarahID}} {
		w = api.do(t, http.MethodGet, "/api/v1/users/"+tc.peer+"/connected", tc.token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, decode[ConnectedResponse](t, w).Connected)
	}

	w = api.do(t, http.MethodPost, "/api/v1/users/"+michaelID+"/request", sarahToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_CONNECTED", decode[ErrorResponse](t, w).Code)

	w = api.do(t, http.MethodGet, "/api/v1/users/me/connections", sarahToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	peers := decode[[]models.UserRecord](t, w)
	require.Len(t, peers, 1)
	assert.Equal(t, michaelID, peers[0].ID)

	w = api.do(t, http.MethodPost, "/api/v1/users/"+michaelID+"/remove", sarahToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	removed := decode[RemoveConnectionResponse](t, w)
	assert.True(t, removed.LocalRemoved)
	assert.True(t, removed.MirrorRemoved)
}

func TestDeclineAndCancel(t *testing.T) {
	api := newTestAPI(t)
	sarahToken, sarahID := api.signIn(t, "sarah.johnson@university.edu", "Sarah", "Johnson")
	michaelToken, michaelID := api.signIn(t, "michael.chen@university.edu", "Michael", "Chen")

	api.do(t, http.MethodPost, "/api/v1/users/"+michaelID+"/request", sarahToken, nil)
	w := api.do(t, http.MethodPost, "/api/v1/users/"+sarahID+"/decline", michaelToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(t, http.MethodPost, "/api/v1/users/"+sarahID+"/decline", michaelToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/users/me/requests/incoming", michaelToken, nil)
	assert.Empty(t, decode[[]models.ConnectionRequest](t, w))

	api.do(t, http.MethodPost, "/api/v1/users/"+michaelID+"/request", sarahToken, nil)
	w = api.do(t, http.MethodPost, "/api/v1/users/"+michaelID+"/cancel", sarahToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(t, http.MethodGet, "/api/v1/users/me/requests/outgoing", sarahToken, nil)
	assert.Empty(t, decode[[]models.ConnectionRequest](t, w))

	w = api.do(t, http.MethodPost, "/api/v1/users/"+sarahID+"/accept", michaelToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "REQUEST_NOT_FOUND", decode[ErrorResponse](t, w).Code)
}

func TestUnknownUserIsNotFound(t *testing.T) {
	api := newTestAPI(t)
	token, _ := api.signIn(t, "emma.wilson@university.edu", "Emma", "Wilson")

	w := api.do(t, http.MethodPost, "/api/v1/users/ghost/request", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "USER_NOT_FOUND", decode[ErrorResponse](t, w).Code)
}

func TestStoreFailureIsServiceUnavailable(t *testing.T) {
	api := newTestAPI(t)
	token, id := api.signIn(t, "emma.wilson@university.edu", "Emma", "Wilson")

	api.faulty.FailGets(store.NotificationsKey(id), 1)
	w := api.do(t, http.MethodGet, "/api/v1/notifications", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/notifications", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSearchUsersPaginates(t *testing.T) {
	api := newTestAPI(t)
	token, _ := api.signIn(t, "sarah.johnson@university.edu", "Sarah", "Johnson")
	api.signIn(t, "michael.chen@university.edu", "Michael", "Chen")
	api.signIn(t, "emma.wilson@university.edu", "Emma", "Wilson")

	w := api.do(t, http.MethodGet, "/api/v1/users?limit=1&page=2", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[PaginatedResponse[PublicUserResponse]](t, w)
	assert.Len(t, page.Data, 1)
	assert.EqualValues(t, 2, page.Meta.TotalItems)
	assert.Equal(t, 2, page.Meta.TotalPages)

	w = api.do(t, http.MethodGet, "/api/v1/users?q=wilson", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[PaginatedResponse[PublicUserResponse]](t, w)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "Emma Wilson", page.Data[0].Name)
}

func TestNotificationsAndMessages(t *testing.T) {
	api := newTestAPI(t)
	sarahToken, sarahID := api.signIn(t, "sarah.johnson@university.edu", "Sarah", "Johnson")
	michaelToken, michaelID := api.signIn(t, "michael.chen@university.edu", "Michael", "Chen")

	w := api.do(t, http.MethodPost, "/api/v1/messages/"+michaelID, sarahToken, SendMessageInput{Text: "hello"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sent := decode[models.Message](t, w)

	w = api.do(t, http.MethodGet, "/api/v1/messages/"+sarahID, michaelToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decode[[]models.Message](t, w)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)

	w = api.do(t, http.MethodGet, "/api/v1/messages", michaelToken, nil)
	threads := decode[[]conversation.Thread](t, w)
	require.Len(t, threads, 1)
	assert.Equal(t, 1, threads[0].Unread)

	w = api.do(t, http.MethodPost, "/api/v1/messages/"+sarahID+"/read", michaelToken, nil)
	assert.Equal(t, 1, decode[MarkReadResponse](t, w).Marked)

	w = api.do(t, http.MethodPost, "/api/v1/messages/"+michaelID, sarahToken, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/notifications", michaelToken, nil)
	inbox := decode[NotificationsResponse](t, w)
	require.Len(t, inbox.Notifications, 1)
	assert.Equal(t, models.NotificationNewMessage, inbox.Notifications[0].Type)
	assert.Equal(t, 1, inbox.UnreadCount)

	w = api.do(t, http.MethodPost, "/api/v1/notifications/"+inbox.Notifications[0].ID+"/read", michaelToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(t, http.MethodGet, "/api/v1/notifications", michaelToken, nil)
	assert.Zero(t, decode[NotificationsResponse](t, w).UnreadCount)

	w = api.do(t, http.MethodDelete, "/api/v1/notifications", michaelToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(t, http.MethodGet, "/api/v1/notifications", michaelToken, nil)
	assert.Empty(t, decode[NotificationsResponse](t, w).Notifications)
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.signIn(t, "sarah.johnson@university.edu", "Sarah", "Johnson")

	w := api.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "researchhub_test_")
}

func TestStreamDeliversViews(t *testing.T) {
	api := newTestAPI(t)
	token, id := api.signIn(t, "sarah.johnson@university.edu", "Sarah", "Johnson")

	srv := httptest.NewServer(api.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/sync/stream?token="+token, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var data string
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			break
		}
	}
	require.NotEmpty(t, data)

	var ev struct {
		Type    string         `json:"type"`
		Payload reconcile.View `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "view", ev.Type)
	assert.Equal(t, id, ev.Payload.UserID)
	assert.Len(t, ev.Payload.Directory, 1)
}
