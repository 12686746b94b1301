// Package store persists per-session game state and conversation history.
// Every record is addressed solely by a SessionKey.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// SessionKey identifies one player's game.
type SessionKey struct {
	PlayerID  string
	SessionID string
}

func (k SessionKey) Validate() error {
	switch {
	case strings.TrimSpace(k.PlayerID) == "":
		return errors.New("playerId must be provided")
	case strings.TrimSpace(k.SessionID) == "":
		return errors.New("sessionId must be provided")
	}
	return nil
}

func (k SessionKey) String() string {
	return k.PlayerID + "/" + k.SessionID
}

// World is the narrative state of a session. Logs only ever grow.
type World struct {
	Logs []string `json:"logs"`
}

// Record is the game state row for a session.
type Record struct {
	// Character is the serialized character payload, nil until first saved.
	Character   *string
	World       *World
	LastUpdated time.Time
}

// Patch is a partial update. Character fully replaces the stored payload;
// AppendLog adds exactly one entry to world.logs, creating world and logs
// when missing.
type Patch struct {
	Character *string
	AppendLog *string
}

func (p Patch) Empty() bool {
	return p.Character == nil && p.AppendLog == nil
}

// StateStore reads and patches game state. Read reports absence with ok=false,
// never with an error.
type StateStore interface {
	Read(ctx context.Context, key SessionKey) (rec Record, ok bool, err error)
	Write(ctx context.Context, key SessionKey, patch Patch) error
}

// Restorer puts a session's state row back the way an earlier Read found it.
// With exists=false the row is removed.
type Restorer interface {
	Read(ctx context.Context, key SessionKey) (rec Record, ok bool, err error)
	Restore(ctx context.Context, key SessionKey, rec Record, exists bool) error
}

// Transcript is the conversation blob of one session.
type Transcript struct {
	Text      string
	Version   int64
	UpdatedAt time.Time
}

// AnyVersion disables the version check on WriteHistory.
const AnyVersion int64 = -1

// ErrVersionConflict is returned by WriteHistory when the stored version no
// longer matches the expected one.
var ErrVersionConflict = errors.New("history version conflict")

// HistoryStore keeps one overwritten transcript per session.
type HistoryStore interface {
	ReadHistory(ctx context.Context, key SessionKey) (t Transcript, ok bool, err error)
	// WriteHistory replaces the transcript and returns the new version.
	// With expected >= 0 the write only lands if the stored version equals
	// expected (0 meaning no transcript yet).
	WriteHistory(ctx context.Context, key SessionKey, text string, expected int64) (int64, error)
}

// Store is the full persistence surface used by the game.
type Store interface {
	StateStore
	Restorer
	HistoryStore
	Close() error
}

func copyWorld(w *World) *World {
	if w == nil {
		return nil
	}
	logs := make([]string, len(w.Logs))
	copy(logs, w.Logs)
	return &World{Logs: logs}
}
