package store

import (
	"context"
	"sync"
	"time"
)

type historyRow struct {
	text      string
	version   int64
	updatedAt time.Time
}

// MemoryStore keeps everything in process. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	state   map[SessionKey]Record
	history map[SessionKey]historyRow
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state:   make(map[SessionKey]Record),
		history: make(map[SessionKey]historyRow),
		now:     time.Now,
	}
}

func (m *MemoryStore) Read(_ context.Context, key SessionKey) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.state[key]
	if !ok {
		return Record{}, false, nil
	}
	out := Record{World: copyWorld(rec.World), LastUpdated: rec.LastUpdated}
	if rec.Character != nil {
		c := *rec.Character
		out.Character = &c
	}
	return out, true, nil
}

func (m *MemoryStore) Write(_ context.Context, key SessionKey, patch Patch) error {
	if patch.Empty() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.state[key]
	if patch.Character != nil {
		c := *patch.Character
		rec.Character = &c
	}
	if patch.AppendLog != nil {
		if rec.World == nil {
			rec.World = &World{}
		}
		rec.World = copyWorld(rec.World)
		rec.World.Logs = append(rec.World.Logs, *patch.AppendLog)
	}
	rec.LastUpdated = m.now()
	m.state[key] = rec
	return nil
}

func (m *MemoryStore) Restore(_ context.Context, key SessionKey, rec Record, exists bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !exists {
		delete(m.state, key)
		return nil
	}
	out := Record{World: copyWorld(rec.World), LastUpdated: rec.LastUpdated}
	if rec.Character != nil {
		c := *rec.Character
		out.Character = &c
	}
	m.state[key] = out
	return nil
}

func (m *MemoryStore) ReadHistory(_ context.Context, key SessionKey) (Transcript, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.history[key]
	if !ok {
		return Transcript{}, false, nil
	}
	return Transcript{Text: row.text, Version: row.version, UpdatedAt: row.updatedAt}, true, nil
}

func (m *MemoryStore) WriteHistory(_ context.Context, key SessionKey, text string, expected int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := m.history[key]
	if expected >= 0 && row.version != expected {
		return row.version, ErrVersionConflict
	}
	row.text = text
	row.version++
	row.updatedAt = m.now()
	m.history[key] = row
	return row.version, nil
}

func (m *MemoryStore) Close() error { return nil }
