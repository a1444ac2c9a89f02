package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// TurnRecord is one persisted conversation turn.
type TurnRecord struct {
	SessionID string
	Seq       int
	Role      string
	Text      string
	CreatedAt time.Time
}
