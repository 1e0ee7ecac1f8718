// Package directory is the global roster of known researchers. Every other component
// resolves user ids against it.
package directory

import (
	"context"
	"strings"
	"time"

	"researchhub/backend/internal/apperr"
	"researchhub/backend/internal/models"
	"researchhub/backend/internal/store"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Directory stores every UserRecord in the single global "directory" partition.
type Directory struct {
	parts    *store.Partitions
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a directory over the given partitions.
func New(parts *store.Partitions, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		parts:    parts,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// ListAll returns the roster in insertion order.
func (d *Directory) ListAll(ctx context.Context) ([]models.UserRecord, error) {
	return store.LoadList[models.UserRecord](ctx, d.parts, store.DirectoryKey)
}

// Upsert inserts rec or replaces the record with the same id. Last write wins; CreatedAt of
// an existing record is kept.
func (d *Directory) Upsert(ctx context.Context, rec models.UserRecord) (models.UserRecord, error) {
	rec.ID = strings.TrimSpace(rec.ID)
	rec.Email = normalizeEmail(rec.Email)
	if err := d.validate.Struct(rec); err != nil {
		return models.UserRecord{}, apperr.Validation(err.Error()).WithCause(err)
	}

	now := d.now().UTC()
	rec.UpdatedAt = now

	_, err := store.UpdateList(ctx, d.parts, store.DirectoryKey, func(users []models.UserRecord) ([]models.UserRecord, error) {
		for i, u := range users {
			if u.ID == rec.ID {
				rec.CreatedAt = u.CreatedAt
				users[i] = rec
				return users, nil
			}
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		return append(users, rec), nil
	})
	if err != nil {
		return models.UserRecord{}, err
	}

	d.logger.Debug("Directory record upserted", zap.String("user_id", rec.ID))
	return rec, nil
}

// FindByID resolves an id to its record.
func (d *Directory) FindByID(ctx context.Context, id string) (models.UserRecord, error) {
	users, err := d.ListAll(ctx)
	if err != nil {
		return models.UserRecord{}, err
	}
	for _, u := range users {
		if u.ID == id {
			return u, nil
		}
	}
	return models.UserRecord{}, apperr.NotFound("user " + id).WithCode(apperr.CodeUserNotFound)
}

// FindByEmail looks a user up by email, case-insensitively.
func (d *Directory) FindByEmail(ctx context.Context, email string) (models.UserRecord, error) {
	email = normalizeEmail(email)
	users, err := d.ListAll(ctx)
	if err != nil {
		return models.UserRecord{}, err
	}
	for _, u := range users {
		if u.Email != "" && u.Email == email {
			return u, nil
		}
	}
	return models.UserRecord{}, apperr.NotFound("user with email " + email).WithCode(apperr.CodeUserNotFound)
}

// Search matches query against full name, institution and department. An empty query
// matches everyone. excludeID drops the viewer from the results.
func (d *Directory) Search(ctx context.Context, query, excludeID string) ([]models.UserRecord, error) {
	users, err := d.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	results := make([]models.UserRecord, 0, len(users))
	for _, u := range users {
		if u.ID == excludeID {
			continue
		}
		if q == "" ||
			strings.Contains(strings.ToLower(u.FullName()), q) ||
			strings.Contains(strings.ToLower(u.Institution), q) ||
			strings.Contains(strings.ToLower(u.Department), q) {
			results = append(results, u)
		}
	}
	return results, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
