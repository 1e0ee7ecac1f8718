// Package seed loads YAML fixtures of researchers, connections, pending requests and
// messages into the partition store.
package seed

import (
	"bytes"
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"researchhub/backend/internal/directory"
	"researchhub/backend/internal/models"
	"researchhub/backend/internal/social"
	"researchhub/backend/internal/store"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed demo.yaml
var demoFixture []byte

// Fixture is the YAML document shape.
type Fixture struct {
	Users       []User     `yaml:"users"`
	Connections [][]string `yaml:"connections"`
	Requests    []Request  `yaml:"requests,omitempty"`
	Messages    []Message  `yaml:"messages,omitempty"`
}

type User struct {
	ID          string `yaml:"id"`
	Email       string `yaml:"email"`
	FirstName   string `yaml:"firstName"`
	LastName    string `yaml:"lastName"`
	Role        string `yaml:"role,omitempty"`
	Institution string `yaml:"institution,omitempty"`
	Department  string `yaml:"department,omitempty"`
	Bio         string `yaml:"bio,omitempty"`
}

type Request struct {
	ID     string    `yaml:"id"`
	From   string    `yaml:"from"`
	To     string    `yaml:"to"`
	SentAt time.Time `yaml:"sentAt"`
}

type Message struct {
	ID        string    `yaml:"id"`
	From      string    `yaml:"from"`
	To        string    `yaml:"to"`
	Text      string    `yaml:"text"`
	Timestamp time.Time `yaml:"timestamp"`
	Read      bool      `yaml:"read,omitempty"`
}

// Summary counts what Apply wrote. Records that were already present are not counted.
type Summary struct {
	Users       int
	Connections int
	Requests    int
	Messages    int
}

// Demo returns the embedded demo fixture.
func Demo() (*Fixture, error) {
	return Load(bytes.NewReader(demoFixture))
}

// LoadFile reads a fixture from disk.
func LoadFile(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates a fixture.
func Load(r io.Reader) (*Fixture, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true) // Reject unknown fields

	var fx Fixture
	if err := decoder.Decode(&fx); err != nil {
		return nil, fmt.Errorf("failed to parse seed fixture: %w", err)
	}
	if err := fx.validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

func (f *Fixture) validate() error {
	known := make(map[string]bool, len(f.Users))
	for i, u := range f.Users {
		if u.ID == "" {
			return fmt.Errorf("users[%d]: id is required", i)
		}
		if known[u.ID] {
			return fmt.Errorf("users[%d]: duplicate id %q", i, u.ID)
		}
		known[u.ID] = true
	}

	var errs []error
	for i, pair := range f.Connections {
		if len(pair) != 2 {
			errs = append(errs, fmt.Errorf("connections[%d]: want a pair of user ids", i))
			continue
		}
		for _, id := range pair {
			if !known[id] {
				errs = append(errs, fmt.Errorf("connections[%d]: unknown user %q", i, id))
			}
		}
	}
	for i, r := range f.Requests {
		if r.ID == "" || !known[r.From] || !known[r.To] || r.From == r.To {
			errs = append(errs, fmt.Errorf("requests[%d]: needs an id and two distinct known users", i))
		}
	}
	for i, m := range f.Messages {
		if m.ID == "" || !known[m.From] || !known[m.To] || m.Text == "" {
			errs = append(errs, fmt.Errorf("messages[%d]: needs an id, known users and text", i))
		}
	}
	return errors.Join(errs...)
}

// Seeder writes fixtures through the same services the API uses.
type Seeder struct {
	parts     *store.Partitions
	directory *directory.Directory
	registry  *social.Registry
	logger    *zap.Logger
}

// NewSeeder creates a Seeder.
func NewSeeder(parts *store.Partitions, dir *directory.Directory, registry *social.Registry, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{parts: parts, directory: dir, registry: registry, logger: logger}
}

// appliedFixture is one entry of the seed marker partition.
type appliedFixture struct {
	Digest    string    `json:"digest"`
	AppliedAt time.Time `json:"appliedAt"`
}

func (f *Fixture) digest() (string, error) {
	raw, err := yaml.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to encode seed fixture: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Apply writes the fixture once per store. A fixture that was applied before is skipped
// entirely, so edits and removals made since then survive a restart. Within a first
// application, users already in the directory keep their profile and every other record
// that already exists is left alone.
func (s *Seeder) Apply(ctx context.Context, fx *Fixture) (Summary, error) {
	var sum Summary

	digest, err := fx.digest()
	if err != nil {
		return sum, err
	}
	applied, err := store.LoadList[appliedFixture](ctx, s.parts, store.SeedMarkerKey)
	if err != nil {
		return sum, err
	}
	for _, a := range applied {
		if a.Digest == digest {
			s.logger.Info("Seed fixture already applied", zap.String("digest", digest), zap.Time("applied_at", a.AppliedAt))
			return sum, nil
		}
	}

	if err := s.write(ctx, fx, &sum); err != nil {
		return sum, err
	}

	_, err = store.UpdateList(ctx, s.parts, store.SeedMarkerKey, func(items []appliedFixture) ([]appliedFixture, error) {
		for _, a := range items {
			if a.Digest == digest {
				return nil, store.ErrUnchanged
			}
		}
		return append(items, appliedFixture{Digest: digest, AppliedAt: time.Now().UTC()}), nil
	})
	if err != nil {
		return sum, fmt.Errorf("record seed marker: %w", err)
	}

	s.logger.Info("Seed fixture applied",
		zap.String("digest", digest),
		zap.Int("users", sum.Users),
		zap.Int("connections", sum.Connections),
		zap.Int("requests", sum.Requests),
		zap.Int("messages", sum.Messages),
	)
	return sum, nil
}

func (s *Seeder) write(ctx context.Context, fx *Fixture, sum *Summary) error {
	existing, err := s.directory.ListAll(ctx)
	if err != nil {
		return err
	}
	users := make(map[string]models.UserRecord, len(fx.Users)+len(existing))
	for _, u := range existing {
		users[u.ID] = u
	}

	for _, u := range fx.Users {
		if _, ok := users[u.ID]; ok {
			continue
		}
		rec, err := s.directory.Upsert(ctx, models.UserRecord{
			ID:          u.ID,
			Email:       u.Email,
			FirstName:   u.FirstName,
			LastName:    u.LastName,
			Role:        u.Role,
			Institution: u.Institution,
			Department:  u.Department,
			Bio:         u.Bio,
		})
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
		users[u.ID] = rec
		sum.Users++
	}

	for _, pair := range fx.Connections {
		a, b := users[pair[0]], users[pair[1]]
		already, err := s.registry.IsConnected(ctx, a.ID, b.ID)
		if err != nil {
			return err
		}
		if _, err := s.registry.Connect(ctx, a, b); err != nil {
			return fmt.Errorf("seed connection %s-%s: %w", a.ID, b.ID, err)
		}
		if !already {
			sum.Connections++
		}
	}

	for _, r := range fx.Requests {
		sender, recipient := users[r.From], users[r.To]
		connected, err := s.registry.IsConnected(ctx, r.To, r.From)
		if err != nil {
			return err
		}
		if connected {
			s.logger.Warn("Skipping seed request between connected users", zap.String("request_id", r.ID))
			continue
		}

		req := models.ConnectionRequest{
			ID:          r.ID,
			SenderID:    r.From,
			RecipientID: r.To,
			Status:      models.StatusPending,
			SentAt:      r.SentAt.UTC(),
			Sender:      sender,
		}
		primaryKey := store.PendingRequestsKey(r.To)
		added := false
		err = store.DualWrite(ctx, s.parts, primaryKey, store.SentRequestsKey(r.From), func(key string, items []models.ConnectionRequest) ([]models.ConnectionRequest, error) {
			for _, existing := range items {
				if existing.SenderID == r.From && existing.RecipientID == r.To {
					return nil, store.ErrUnchanged
				}
			}
			rec := req
			if key == primaryKey {
				added = true
			} else {
				rec.Recipient = &recipient
			}
			return append(items, rec), nil
		})
		if err != nil {
			return fmt.Errorf("seed request %s: %w", r.ID, err)
		}
		if added {
			sum.Requests++
		}
	}

	for _, m := range fx.Messages {
		msg := models.Message{
			ID:        m.ID,
			FromID:    m.From,
			FromName:  users[m.From].FullName(),
			ToID:      m.To,
			ToName:    users[m.To].FullName(),
			Text:      m.Text,
			Timestamp: m.Timestamp.UTC(),
			Read:      m.Read,
		}
		primaryKey := store.MessagesKey(m.From)
		added := false
		err := store.DualWrite(ctx, s.parts, primaryKey, store.MessagesKey(m.To), func(key string, items []models.Message) ([]models.Message, error) {
			for _, existing := range items {
				if existing.ID == msg.ID {
					return nil, store.ErrUnchanged
				}
			}
			if key == primaryKey {
				added = true
			}
			return append(items, msg), nil
		})
		if err != nil {
			return fmt.Errorf("seed message %s: %w", m.ID, err)
		}
		if added {
			sum.Messages++
		}
	}

	return nil
}
