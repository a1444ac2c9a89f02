// Package history keeps per-session conversation turns. The in-process map
// is a cache bounded by idle TTL and LRU size; a Backend holds the durable
// copy so an evicted session reloads with the same turns.
package history

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kalambet/reviewqa/internal/domain"
)

// ErrEmptySessionID is returned for operations addressed to "".
var ErrEmptySessionID = errors.New("session id must not be empty")

// History is the cached log of one session. Turns are append-only and
// guarded by the history's own mutex.
type History struct {
	id string

	mu     sync.Mutex
	turns  []domain.Turn
	loaded bool
	closed bool // set by Store.Close; a closed handle is never written again
}

// Turns returns a copy of the turns in append order.
func (h *History) Turns() []domain.Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

func (h *History) snapshotLocked() []domain.Turn {
	out := make([]domain.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// ensureLoaded fills the history from the backend once. Callers hold h.mu.
func (h *History) ensureLoaded(ctx context.Context, b Backend) error {
	if h.loaded {
		return nil
	}
	if b != nil {
		turns, err := b.Load(ctx, h.id)
		if err != nil {
			return fmt.Errorf("loading session %s: %w", h.id, err)
		}
		h.turns = turns
	}
	h.loaded = true
	return nil
}

type entry struct {
	h          *History
	lastAccess time.Time
	elem       *list.Element
}

// Options configures a Store.
type Options struct {
	// TTL evicts sessions idle for longer. Zero disables idle eviction.
	TTL time.Duration
	// MaxSessions bounds the cache; the least recently used session is
	// evicted first. Zero means unbounded.
	MaxSessions int
}

// Store maps session ids to histories.
type Store struct {
	backend Backend
	opts    Options
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
	lru      *list.List // front is most recently used; values are session ids
}

// NewStore creates a Store. backend may be nil for a purely in-memory store.
func NewStore(backend Backend, opts Options) *Store {
	return &Store{
		backend:  backend,
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*entry),
		lru:      list.New(),
	}
}

// GetOrCreate returns the history for id, creating an empty one on first
// reference. While cached, the same handle is returned for the same id.
func (s *Store) GetOrCreate(ctx context.Context, id string) (*History, error) {
	h, err := s.lockOpen(ctx, id)
	if err != nil {
		return nil, err
	}
	h.mu.Unlock()
	return h, nil
}

// lockOpen returns the loaded, open handle for id with h.mu held. A handle
// closed between lookup and locking is replaced by a fresh one.
func (s *Store) lockOpen(ctx context.Context, id string) (*History, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}
	for {
		h := s.handle(id)
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			continue
		}
		if err := h.ensureLoaded(ctx, s.backend); err != nil {
			h.mu.Unlock()
			return nil, err
		}
		return h, nil
	}
}

// peek returns the cached handle for id, or nil. It refreshes the entry's
// recency but never inserts, so lookups cannot evict other sessions.
func (s *Store) peek(id string) *History {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)

	e, ok := s.sessions[id]
	if !ok {
		return nil
	}
	e.lastAccess = now
	s.lru.MoveToFront(e.elem)
	return e.h
}

// handle returns the cached handle for id or inserts a new unloaded one.
// Backend I/O happens outside s.mu.
func (s *Store) handle(id string) *History {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)

	if e, ok := s.sessions[id]; ok {
		e.lastAccess = now
		s.lru.MoveToFront(e.elem)
		return e.h
	}

	e := &entry{h: &History{id: id}, lastAccess: now}
	e.elem = s.lru.PushFront(id)
	s.sessions[id] = e

	if s.opts.MaxSessions > 0 {
		for len(s.sessions) > s.opts.MaxSessions {
			s.removeLocked(s.lru.Back().Value.(string))
		}
	}
	return e.h
}

// sweepLocked drops entries idle for longer than the TTL. The LRU list is
// ordered by access, so the scan stops at the first fresh entry.
func (s *Store) sweepLocked(now time.Time) {
	if s.opts.TTL <= 0 {
		return
	}
	for el := s.lru.Back(); el != nil; {
		id := el.Value.(string)
		if now.Sub(s.sessions[id].lastAccess) <= s.opts.TTL {
			return
		}
		prev := el.Prev()
		s.removeLocked(id)
		el = prev
	}
}

func (s *Store) removeLocked(id string) {
	e, ok := s.sessions[id]
	if !ok {
		return
	}
	s.lru.Remove(e.elem)
	delete(s.sessions, id)
}

// Append atomically adds turns to the session: all turns of one call land
// contiguously and in order. The backend is written before the cache.
func (s *Store) Append(ctx context.Context, id string, turns ...domain.Turn) error {
	for _, t := range turns {
		if !t.Role.Valid() {
			return fmt.Errorf("invalid turn role %q", t.Role)
		}
	}
	if len(turns) == 0 {
		return nil
	}

	h, err := s.lockOpen(ctx, id)
	if err != nil {
		return err
	}
	defer h.mu.Unlock()

	if s.backend != nil {
		if err := s.backend.Append(ctx, id, turns); err != nil {
			return fmt.Errorf("appending to session %s: %w", id, err)
		}
	}
	h.turns = append(h.turns, turns...)
	return nil
}

// Turns returns a snapshot of the session's turns. It reads the cached
// history when there is one and the backend otherwise, without caching the
// session. An unseen id yields an empty history.
func (s *Store) Turns(ctx context.Context, id string) ([]domain.Turn, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}
	if h := s.peek(id); h != nil {
		turns, ok, err := s.cachedTurns(ctx, h)
		if ok || err != nil {
			return turns, err
		}
	}
	if s.backend == nil {
		return nil, nil
	}
	turns, err := s.backend.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	return turns, nil
}

// cachedTurns reads h under its lock. ok is false when h was closed.
func (s *Store) cachedTurns(ctx context.Context, h *History) ([]domain.Turn, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false, nil
	}
	if err := h.ensureLoaded(ctx, s.backend); err != nil {
		return nil, false, err
	}
	return h.snapshotLocked(), true, nil
}

// Close ends a session: it drops the cache entry and deletes the stored
// turns. It waits for an in-flight Append on the session, and appends that
// start afterwards begin a new, empty session.
func (s *Store) Close(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptySessionID
	}

	s.mu.Lock()
	e, ok := s.sessions[id]
	s.mu.Unlock()

	if ok {
		h := e.h
		h.mu.Lock()
		defer h.mu.Unlock()
		h.closed = true

		s.mu.Lock()
		if cur, ok := s.sessions[id]; ok && cur.h == h {
			s.removeLocked(id)
		}
		s.mu.Unlock()
	}

	if s.backend != nil {
		if err := s.backend.Delete(ctx, id); err != nil {
			return fmt.Errorf("deleting session %s: %w", id, err)
		}
	}
	return nil
}

// Len returns the number of cached sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
