// Package social owns the connection-request lifecycle and the symmetric connection
// relation built from accepted requests.
//
// Per ordered pair (sender, recipient) a request is either absent or pending. The pending
// record lives in pendingRequests:<recipient>; a copy is projected into
// sentRequests:<sender> so a user's outgoing requests never need a scan of every other
// partition. Accepting or rejecting deletes the record rather than keeping history.
package social

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"researchhub/backend/internal/apperr"
	"researchhub/backend/internal/directory"
	"researchhub/backend/internal/metrics"
	"researchhub/backend/internal/models"
	"researchhub/backend/internal/notify"
	"researchhub/backend/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine runs the request state machine.
type Engine struct {
	parts     *store.Partitions
	directory *directory.Directory
	registry  *Registry
	fanout    *notify.Fanout
	metrics   *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(parts *store.Partitions, dir *directory.Directory, registry *Registry, fanout *notify.Fanout, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		parts:     parts,
		directory: dir,
		registry:  registry,
		fanout:    fanout,
		metrics:   collector,
		logger:    logger,
		now:       time.Now,
	}
}

// PendingRequests returns the requests userID has received.
func (e *Engine) PendingRequests(ctx context.Context, userID string) ([]models.ConnectionRequest, error) {
	return store.LoadList[models.ConnectionRequest](ctx, e.parts, store.PendingRequestsKey(userID))
}

// SentRequests returns the requests userID has sent and that are still pending.
func (e *Engine) SentRequests(ctx context.Context, userID string) ([]models.ConnectionRequest, error) {
	return store.LoadList[models.ConnectionRequest](ctx, e.parts, store.SentRequestsKey(userID))
}

// Send stores a pending request from senderID to recipientID.
//
// It fails with CONFLICT/ALREADY_CONNECTED when the sender already sees the pair as
// connected and with CONFLICT/DUPLICATE_REQUEST when the recipient already holds a pending
// request from the sender. A duplicate still re-projects the existing record into the
// sender's sentRequests, which repairs a projection lost to an earlier partial write.
func (e *Engine) Send(ctx context.Context, senderID, recipientID string) (models.ConnectionRequest, error) {
	senderID, recipientID = strings.TrimSpace(senderID), strings.TrimSpace(recipientID)
	if senderID == "" || recipientID == "" {
		return models.ConnectionRequest{}, apperr.Validation("sender and recipient are required")
	}
	if senderID == recipientID {
		return models.ConnectionRequest{}, apperr.Validation("cannot send a connection request to yourself")
	}

	sender, err := e.directory.FindByID(ctx, senderID)
	if err != nil {
		return models.ConnectionRequest{}, err
	}
	recipient, err := e.directory.FindByID(ctx, recipientID)
	if err != nil {
		return models.ConnectionRequest{}, err
	}

	connected, err := e.registry.IsConnected(ctx, senderID, recipientID)
	if err != nil {
		return models.ConnectionRequest{}, err
	}
	if connected {
		e.metrics.RequestTransition("send", "already_connected")
		return models.ConnectionRequest{}, apperr.Conflict("already connected").WithCode(apperr.CodeAlreadyConnected)
	}

	req := models.ConnectionRequest{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Status:      models.StatusPending,
		SentAt:      e.now().UTC(),
		Sender:      sender,
		Recipient:   &recipient,
	}
	duplicate := false

	pendingKey := store.PendingRequestsKey(recipientID)
	err = store.DualWrite(ctx, e.parts, pendingKey, store.SentRequestsKey(senderID), func(key string, items []models.ConnectionRequest) ([]models.ConnectionRequest, error) {
		for i, existing := range items {
			if existing.SenderID != senderID || existing.RecipientID != recipientID {
				continue
			}
			if key == pendingKey {
				duplicate = true
				req = existing
				req.Recipient = &recipient
				return nil, store.ErrUnchanged
			}
			// A projection entry left over from a withdrawn request is replaced.
			if existing.ID == req.ID {
				return nil, store.ErrUnchanged
			}
			items[i] = req
			return items, nil
		}
		if key == pendingKey {
			// The recipient's copy only needs the sender's snapshot.
			primary := req
			primary.Recipient = nil
			return append(items, primary), nil
		}
		return append(items, req), nil
	})
	if err != nil {
		var partial *store.PartialWriteError
		if !errors.As(err, &partial) {
			e.metrics.RequestTransition("send", "error")
			return models.ConnectionRequest{}, err
		}
		// The recipient holds the request; only the sender's projection is missing.
		// Re-sending repairs it.
		e.metrics.PartialWrite("send_request")
		e.logger.Warn("Sent-request projection write failed",
			zap.String("sender_id", senderID),
			zap.String("recipient_id", recipientID),
			zap.Error(err),
		)
	}

	if duplicate {
		e.metrics.RequestTransition("send", "duplicate")
		return req, apperr.Conflict("connection request already pending").WithCode(apperr.CodeDuplicateRequest)
	}

	e.notify(ctx, recipientID, models.Notification{
		Type:           models.NotificationConnectionRequest,
		Title:          "New Connection Request",
		Message:        fmt.Sprintf("%s sent you a connection request", sender.FullName()),
		FromUserID:     senderID,
		FromName:       sender.FullName(),
		ActionRequired: true,
	})
	e.notify(ctx, senderID, models.Notification{
		Type:       models.NotificationConnectionRequestSent,
		Title:      "Connection Request Sent",
		Message:    fmt.Sprintf("Your connection request to %s is pending", recipient.FullName()),
		FromUserID: recipientID,
		FromName:   recipient.FullName(),
	})

	e.metrics.RequestTransition("send", "ok")
	e.logger.Info("Connection request sent",
		zap.String("sender_id", senderID),
		zap.String("recipient_id", recipientID),
	)
	return req, nil
}

// Accept connects recipientID with senderID and deletes the pending request.
//
// The sender's profile comes from the directory, falling back to the snapshot embedded in
// the request. Connection mirrors are written before the request is deleted so that a
// failure leaves the request in place for a retry. Accepting a request that is already
// gone while the pair is connected returns the existing connection and notifies nobody.
func (e *Engine) Accept(ctx context.Context, recipientID, senderID string) (models.Connection, error) {
	recipientID, senderID = strings.TrimSpace(recipientID), strings.TrimSpace(senderID)
	if senderID == "" {
		return models.Connection{}, apperr.NotFound("connection request").WithCode(apperr.CodeRequestNotFound)
	}

	pending, err := e.PendingRequests(ctx, recipientID)
	if err != nil {
		return models.Connection{}, err
	}
	req, found := findRequest(pending, senderID, recipientID)
	if !found {
		conns, err := e.registry.Connections(ctx, recipientID)
		if err != nil {
			return models.Connection{}, err
		}
		if existing, ok := findConnection(conns, senderID); ok {
			e.metrics.RequestTransition("accept", "already_accepted")
			return existing, nil
		}
		e.metrics.RequestTransition("accept", "not_found")
		return models.Connection{}, apperr.NotFound("connection request from " + senderID).WithCode(apperr.CodeRequestNotFound)
	}

	sender := e.resolveProfile(ctx, senderID, req.Sender)
	recipient := e.resolveProfile(ctx, recipientID, models.UserRecord{ID: recipientID})

	conn, err := e.registry.Connect(ctx, recipient, sender)
	if err != nil {
		e.metrics.RequestTransition("accept", "error")
		return models.Connection{}, err
	}

	// Once connected no request may remain between the pair in either direction.
	if err := e.removePending(ctx, recipientID, func(r models.ConnectionRequest) bool {
		return r.Involves(recipientID, senderID)
	}); err != nil {
		e.metrics.RequestTransition("accept", "error")
		return models.Connection{}, err
	}
	e.bestEffort("accept", recipientID, senderID,
		func() error {
			return e.removePending(ctx, senderID, func(r models.ConnectionRequest) bool {
				return r.Involves(recipientID, senderID)
			})
		},
		func() error { return e.removeSent(ctx, senderID, recipientID) },
		func() error { return e.removeSent(ctx, recipientID, senderID) },
	)

	e.notify(ctx, senderID, models.Notification{
		Type:       models.NotificationConnectionAccepted,
		Title:      "Connection Accepted",
		Message:    fmt.Sprintf("%s accepted your connection request", recipient.FullName()),
		FromUserID: recipientID,
		FromName:   recipient.FullName(),
	})
	e.notify(ctx, recipientID, models.Notification{
		Type:       models.NotificationConnectionAccepted,
		Title:      "Connection Accepted",
		Message:    fmt.Sprintf("You are now connected with %s", sender.FullName()),
		FromUserID: senderID,
		FromName:   sender.FullName(),
	})

	e.metrics.RequestTransition("accept", "ok")
	e.logger.Info("Connection request accepted",
		zap.String("sender_id", senderID),
		zap.String("recipient_id", recipientID),
	)
	return conn, nil
}

// Reject deletes the pending request from senderID to recipientID. Rejecting a request
// that no longer exists is a no-op.
func (e *Engine) Reject(ctx context.Context, recipientID, senderID string) error {
	return e.withdraw(ctx, "reject", strings.TrimSpace(senderID), strings.TrimSpace(recipientID))
}

// Cancel lets the sender withdraw a pending request. It is idempotent like Reject.
func (e *Engine) Cancel(ctx context.Context, senderID, recipientID string) error {
	return e.withdraw(ctx, "cancel", strings.TrimSpace(senderID), strings.TrimSpace(recipientID))
}

// withdraw removes every copy of the ordered pair's request. The recipient's partition
// is authoritative and its failure is returned; the other copies are best effort.
func (e *Engine) withdraw(ctx context.Context, transition, senderID, recipientID string) error {
	isPair := func(r models.ConnectionRequest) bool {
		return r.SenderID == senderID && r.RecipientID == recipientID
	}
	if err := e.removePending(ctx, recipientID, isPair); err != nil {
		e.metrics.RequestTransition(transition, "error")
		return err
	}
	e.bestEffort(transition, recipientID, senderID,
		func() error { return e.removePending(ctx, senderID, isPair) },
		func() error { return e.removeSent(ctx, senderID, recipientID) },
	)

	e.metrics.RequestTransition(transition, "ok")
	return nil
}

// RepairSent reconciles userID's sentRequests projection against the recipients' pending
// partitions. Entries whose request is gone are dropped and entries that disagree with the
// recipient's record are replaced by it. It returns the recipients whose entry was dropped.
// Recipients whose partition cannot be read are skipped; the first such error is returned.
func (e *Engine) RepairSent(ctx context.Context, userID string) ([]string, error) {
	sent, err := e.SentRequests(ctx, userID)
	if err != nil {
		return nil, err
	}

	stale := make(map[string]*models.ConnectionRequest)
	var firstErr error
	for _, r := range sent {
		pending, err := e.PendingRequests(ctx, r.RecipientID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		current, ok := findRequest(pending, userID, r.RecipientID)
		switch {
		case !ok:
			stale[r.ID] = nil
		case current.ID != r.ID:
			current.Recipient = r.Recipient
			stale[r.ID] = &current
		}
	}
	if len(stale) == 0 {
		return nil, firstErr
	}

	var dropped []string
	_, err = store.UpdateList(ctx, e.parts, store.SentRequestsKey(userID), func(items []models.ConnectionRequest) ([]models.ConnectionRequest, error) {
		dropped = dropped[:0]
		kept := make([]models.ConnectionRequest, 0, len(items))
		for _, r := range items {
			replacement, isStale := stale[r.ID]
			switch {
			case !isStale:
				kept = append(kept, r)
			case replacement != nil:
				kept = append(kept, *replacement)
			default:
				dropped = append(dropped, r.RecipientID)
			}
		}
		return kept, nil
	})
	if err != nil {
		return nil, err
	}
	if len(dropped) > 0 {
		e.logger.Info("Dropped stale sent-request projections",
			zap.String("user_id", userID),
			zap.Strings("recipient_ids", dropped),
		)
	}
	return dropped, firstErr
}

func (e *Engine) removePending(ctx context.Context, owner string, match func(models.ConnectionRequest) bool) error {
	_, err := store.UpdateList(ctx, e.parts, store.PendingRequestsKey(owner), removeMatching(match))
	return err
}

func (e *Engine) removeSent(ctx context.Context, senderID, recipientID string) error {
	_, err := store.UpdateList(ctx, e.parts, store.SentRequestsKey(senderID), removeMatching(func(r models.ConnectionRequest) bool {
		return r.SenderID == senderID && r.RecipientID == recipientID
	}))
	return err
}

func removeMatching(match func(models.ConnectionRequest) bool) func([]models.ConnectionRequest) ([]models.ConnectionRequest, error) {
	return func(items []models.ConnectionRequest) ([]models.ConnectionRequest, error) {
		kept := items[:0]
		for _, r := range items {
			if !match(r) {
				kept = append(kept, r)
			}
		}
		if len(kept) == len(items) {
			return nil, store.ErrUnchanged
		}
		return kept, nil
	}
}

// bestEffort runs secondary cleanup writes, logging rather than returning their failures.
func (e *Engine) bestEffort(transition, recipientID, senderID string, steps ...func() error) {
	for _, step := range steps {
		if err := step(); err != nil {
			e.metrics.PartialWrite(transition)
			e.logger.Warn("Secondary request cleanup failed",
				zap.String("transition", transition),
				zap.String("sender_id", senderID),
				zap.String("recipient_id", recipientID),
				zap.Error(err),
			)
		}
	}
}

func (e *Engine) resolveProfile(ctx context.Context, id string, fallback models.UserRecord) models.UserRecord {
	u, err := e.directory.FindByID(ctx, id)
	if err == nil {
		return u
	}
	if !apperr.IsKind(err, apperr.KindNotFound) {
		e.logger.Warn("Directory lookup failed, using embedded profile", zap.String("user_id", id), zap.Error(err))
	}
	fallback.ID = id
	return fallback
}

// notify delivers a notification without failing the calling operation.
func (e *Engine) notify(ctx context.Context, target string, n models.Notification) {
	if e.fanout == nil {
		return
	}
	_, _ = e.fanout.Deliver(ctx, target, n)
}

func findRequest(items []models.ConnectionRequest, senderID, recipientID string) (models.ConnectionRequest, bool) {
	for _, r := range items {
		if r.SenderID == senderID && r.RecipientID == recipientID {
			return r, true
		}
	}
	return models.ConnectionRequest{}, false
}
