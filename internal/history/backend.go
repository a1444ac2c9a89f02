package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/reviewqa/internal/config"
	"github.com/kalambet/reviewqa/internal/domain"
	"github.com/kalambet/reviewqa/internal/storage"
)

// Backend persists session turns outside the process cache.
type Backend interface {
	// Load returns all turns of the session in order; unknown sessions yield none.
	Load(ctx context.Context, sessionID string) ([]domain.Turn, error)
	// Append stores turns atomically after the existing ones.
	Append(ctx context.Context, sessionID string, turns []domain.Turn) error
	// Delete removes the session. Deleting an unknown session is not an error.
	Delete(ctx context.Context, sessionID string) error
}

// SQLiteBackend keeps turns in the conversation_turns table.
type SQLiteBackend struct {
	store *storage.Store
}

// NewSQLiteBackend wraps an opened storage.Store.
func NewSQLiteBackend(store *storage.Store) *SQLiteBackend {
	return &SQLiteBackend{store: store}
}

func (b *SQLiteBackend) Load(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	recs, err := b.store.LoadTurns(ctx, sessionID)
	if err != nil {
		return nil, domain.StoreUnavailable("loading turns", err)
	}
	turns := make([]domain.Turn, len(recs))
	for i, r := range recs {
		turns[i] = domain.Turn{Role: domain.Role(r.Role), Text: r.Text}
	}
	return turns, nil
}

func (b *SQLiteBackend) Append(ctx context.Context, sessionID string, turns []domain.Turn) error {
	recs := make([]storage.TurnRecord, len(turns))
	for i, t := range turns {
		recs[i] = storage.TurnRecord{SessionID: sessionID, Role: string(t.Role), Text: t.Text}
	}
	if err := b.store.AppendTurns(ctx, sessionID, recs); err != nil {
		return domain.StoreUnavailable("appending turns", err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, sessionID string) error {
	err := b.store.DeleteTurns(ctx, sessionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return domain.StoreUnavailable("deleting turns", err)
	}
	return nil
}

// NewBackend returns the backend selected by session.backend. The memory
// backend is nil: turns live only in the cache.
func NewBackend(cfg config.Config, db *storage.Store) (Backend, error) {
	switch cfg.Session.Backend {
	case config.SessionMemory:
		return nil, nil
	case config.SessionSQLite:
		if db == nil {
			return nil, errors.New("sqlite session backend needs an open store")
		}
		return NewSQLiteBackend(db), nil
	case config.SessionRedis:
		return NewRedisBackend(cfg.RedisURL(), cfg.SessionTTL())
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}
