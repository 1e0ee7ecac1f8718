// Package conversation stores direct messages. Each message is written into both
// participants' messages partitions as two independent writes, so either side may briefly
// hold a message the other does not.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
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

// MaxTextLength bounds a single message body.
const MaxTextLength = 4000

// Thread summarises the conversation with one peer.
type Thread struct {
	PeerID      string         `json:"peerId"`
	PeerName    string         `json:"peerName"`
	LastMessage models.Message `json:"lastMessage"`
	Unread      int            `json:"unread"`
}

// Store is the ConversationStore.
type Store struct {
	parts     *store.Partitions
	directory *directory.Directory
	fanout    *notify.Fanout
	metrics   *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time
}

// NewStore creates a Store. fanout may be nil to skip new_message notifications.
func NewStore(parts *store.Partitions, dir *directory.Directory, fanout *notify.Fanout, collector *metrics.Collector, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		parts:     parts,
		directory: dir,
		fanout:    fanout,
		metrics:   collector,
		logger:    logger,
		now:       time.Now,
	}
}

// Send writes a new message into the sender's partition and then the recipient's.
// When only the sender's copy lands the message is still returned; the recipient's copy is
// restored by RepairMirror.
func (s *Store) Send(ctx context.Context, fromID, toID, text string) (models.Message, error) {
	fromID, toID = strings.TrimSpace(fromID), strings.TrimSpace(toID)
	text = strings.TrimSpace(text)
	switch {
	case fromID == "" || toID == "":
		return models.Message{}, apperr.Validation("sender and recipient are required")
	case fromID == toID:
		return models.Message{}, apperr.Validation("cannot message yourself")
	case text == "":
		return models.Message{}, apperr.Validation("message text is required")
	case len(text) > MaxTextLength:
		return models.Message{}, apperr.Validation(fmt.Sprintf("message text exceeds %d bytes", MaxTextLength))
	}

	from, err := s.directory.FindByID(ctx, fromID)
	if err != nil {
		return models.Message{}, err
	}
	to, err := s.directory.FindByID(ctx, toID)
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		ID:        uuid.NewString(),
		FromID:    fromID,
		FromName:  from.FullName(),
		ToID:      toID,
		ToName:    to.FullName(),
		Text:      text,
		Timestamp: s.now().UTC(),
	}

	err = store.DualWrite(ctx, s.parts, store.MessagesKey(fromID), store.MessagesKey(toID), appendMessage(msg))
	if err != nil {
		var partial *store.PartialWriteError
		if !errors.As(err, &partial) {
			return models.Message{}, err
		}
		s.metrics.PartialWrite("send_message")
		s.logger.Warn("Recipient message mirror write failed",
			zap.String("from_id", fromID),
			zap.String("to_id", toID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
	s.metrics.MessageSent()

	if s.fanout != nil {
		_, _ = s.fanout.Deliver(ctx, toID, models.Notification{
			Type:       models.NotificationNewMessage,
			Title:      "New Message",
			Message:    fmt.Sprintf("%s sent you a message", msg.FromName),
			FromUserID: fromID,
			FromName:   msg.FromName,
		})
	}
	return msg, nil
}

// Conversation returns the messages between a and b as recorded in a's partition, oldest
// first. Ties on timestamp are broken by id so the order is stable across reads.
func (s *Store) Conversation(ctx context.Context, a, b string) ([]models.Message, error) {
	all, err := s.messages(ctx, a)
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(all))
	for _, m := range all {
		if m.Between(a, b) {
			out = append(out, m)
		}
	}
	sortMessages(out)
	return out, nil
}

// Threads lists one entry per peer, most recent conversation first.
func (s *Store) Threads(ctx context.Context, userID string) ([]Thread, error) {
	all, err := s.messages(ctx, userID)
	if err != nil {
		return nil, err
	}
	sortMessages(all)

	byPeer := make(map[string]*Thread)
	for _, m := range all {
		peer := m.Peer(userID)
		t, ok := byPeer[peer]
		if !ok {
			t = &Thread{PeerID: peer}
			byPeer[peer] = t
		}
		t.LastMessage = m
		if m.FromID == peer {
			t.PeerName = m.FromName
			if !m.Read {
				t.Unread++
			}
		} else if t.PeerName == "" {
			t.PeerName = m.ToName
		}
	}

	threads := make([]Thread, 0, len(byPeer))
	for _, t := range byPeer {
		threads = append(threads, *t)
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].LastMessage.Timestamp.After(threads[j].LastMessage.Timestamp)
	})
	return threads, nil
}

// MarkRead flags every message peerID sent to readerID as read. The reader's partition is
// authoritative; the same messages are then flagged in the peer's copy best effort. Messages
// that never reached the reader stay unread on both sides. It returns how many messages in
// the reader's partition changed.
func (s *Store) MarkRead(ctx context.Context, readerID, peerID string) (int, error) {
	marked := make(map[string]struct{})
	_, err := store.UpdateList(ctx, s.parts, store.MessagesKey(readerID), markFrom(peerID, readerID, marked))
	if err != nil {
		return 0, err
	}
	if len(marked) == 0 {
		return 0, nil
	}

	if _, err := store.UpdateList(ctx, s.parts, store.MessagesKey(peerID), markIDs(marked)); err != nil {
		s.logger.Warn("Failed to mark peer's message mirror read",
			zap.String("reader_id", readerID),
			zap.String("peer_id", peerID),
			zap.Error(err),
		)
	}
	return len(marked), nil
}

// RepairMirror copies messages userID sent to peerID that are missing from peerID's
// partition. It returns the number of messages restored.
func (s *Store) RepairMirror(ctx context.Context, userID, peerID string) (int, error) {
	own, err := s.messages(ctx, userID)
	if err != nil {
		return 0, err
	}
	var outgoing []models.Message
	for _, m := range own {
		if m.FromID == userID && m.ToID == peerID {
			outgoing = append(outgoing, m)
		}
	}
	if len(outgoing) == 0 {
		return 0, nil
	}

	restored := 0
	_, err = store.UpdateList(ctx, s.parts, store.MessagesKey(peerID), func(items []models.Message) ([]models.Message, error) {
		seen := make(map[string]struct{}, len(items))
		for _, m := range items {
			seen[m.ID] = struct{}{}
		}
		for _, m := range outgoing {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			items = append(items, m)
			restored++
		}
		if restored == 0 {
			return nil, store.ErrUnchanged
		}
		return items, nil
	})
	if err != nil {
		return 0, err
	}
	if restored > 0 {
		s.logger.Info("Restored missing message mirrors",
			zap.String("user_id", userID),
			zap.String("peer_id", peerID),
			zap.Int("count", restored),
		)
	}
	return restored, nil
}

func (s *Store) messages(ctx context.Context, userID string) ([]models.Message, error) {
	return store.LoadList[models.Message](ctx, s.parts, store.MessagesKey(userID))
}

func appendMessage(msg models.Message) func(string, []models.Message) ([]models.Message, error) {
	return func(_ string, items []models.Message) ([]models.Message, error) {
		for _, m := range items {
			if m.ID == msg.ID {
				return nil, store.ErrUnchanged
			}
		}
		return append(items, msg), nil
	}
}

func markFrom(senderID, recipientID string, marked map[string]struct{}) func([]models.Message) ([]models.Message, error) {
	return func(items []models.Message) ([]models.Message, error) {
		for i := range items {
			if items[i].FromID == senderID && items[i].ToID == recipientID && !items[i].Read {
				items[i].Read = true
				marked[items[i].ID] = struct{}{}
			}
		}
		if len(marked) == 0 {
			return nil, store.ErrUnchanged
		}
		return items, nil
	}
}

func markIDs(ids map[string]struct{}) func([]models.Message) ([]models.Message, error) {
	return func(items []models.Message) ([]models.Message, error) {
		changed := false
		for i := range items {
			if _, ok := ids[items[i].ID]; ok && !items[i].Read {
				items[i].Read = true
				changed = true
			}
		}
		if !changed {
			return nil, store.ErrUnchanged
		}
		return items, nil
	}
}

func sortMessages(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
