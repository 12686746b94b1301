package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	// Both drivers are linked so deployments can pick cgo SQLite ("sqlite3")
	// or the pure Go translation ("sqlite") at runtime.
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS game_state (
	player_id        TEXT NOT NULL,
	session_id       TEXT NOT NULL,
	player_character TEXT,
	world            TEXT,
	last_updated     INTEGER NOT NULL,
	PRIMARY KEY (player_id, session_id)
);

CREATE TABLE IF NOT EXISTS conversation_history (
	player_id  TEXT NOT NULL,
	session_id TEXT NOT NULL,
	history    TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (player_id, session_id)
);
`

// busyTimeout is how long a writer waits on a lock held by another process
// sharing the file, such as a separate action server.
const busyTimeout = 5 * time.Second

func dsn(driver, path string) string {
	ms := busyTimeout.Milliseconds()
	if driver == "sqlite" {
		return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, ms)
	}
	return fmt.Sprintf("file:%s?_busy_timeout=%d", path, ms)
}

// SQLStore persists state in SQLite.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQL opens (creating if needed) a SQLite database with the named driver.
func OpenSQL(driver, path string) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	db, err := sql.Open(driver, dsn(driver, filepath.Clean(path)))
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	// One connection serializes writers; SQLite would otherwise answer
	// concurrent tool writes with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) Read(ctx context.Context, key SessionKey) (Record, bool, error) {
	var (
		character sql.NullString
		world     sql.NullString
		updated   int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT player_character, world, last_updated
		FROM game_state
		WHERE player_id = ? AND session_id = ?
	`, key.PlayerID, key.SessionID).Scan(&character, &world, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read game state %s: %w", key, err)
	}

	rec := Record{LastUpdated: time.UnixMilli(updated)}
	if character.Valid {
		c := character.String
		rec.Character = &c
	}
	if world.Valid {
		var w World
		if err := json.Unmarshal([]byte(world.String), &w); err != nil {
			return Record{}, false, fmt.Errorf("decode world %s: %w", key, err)
		}
		if w.Logs == nil {
			w.Logs = []string{}
		}
		rec.World = &w
	}
	return rec, true, nil
}

func (s *SQLStore) Write(ctx context.Context, key SessionKey, patch Patch) error {
	if patch.Empty() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write %s: %w", key, err)
	}
	defer tx.Rollback()

	now := s.now().UnixMilli()
	if patch.Character != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO game_state (player_id, session_id, player_character, last_updated)
			VALUES (?1, ?2, ?3, ?4)
			ON CONFLICT (player_id, session_id) DO UPDATE SET
				player_character = excluded.player_character,
				last_updated = excluded.last_updated
		`, key.PlayerID, key.SessionID, *patch.Character, now); err != nil {
			return fmt.Errorf("save character %s: %w", key, err)
		}
	}
	if patch.AppendLog != nil {
		// world and world.logs are created on first use; the append is a
		// single statement so concurrent appends never lose entries.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO game_state (player_id, session_id, world, last_updated)
			VALUES (?1, ?2, json_object('logs', json_array(?3)), ?4)
			ON CONFLICT (player_id, session_id) DO UPDATE SET
				world = json_insert(
					json_insert(COALESCE(game_state.world, '{}'), '$.logs', json('[]')),
					'$.logs[#]', ?3),
				last_updated = excluded.last_updated
		`, key.PlayerID, key.SessionID, *patch.AppendLog, now); err != nil {
			return fmt.Errorf("append log %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Restore(ctx context.Context, key SessionKey, rec Record, exists bool) error {
	if !exists {
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM game_state WHERE player_id = ? AND session_id = ?
		`, key.PlayerID, key.SessionID); err != nil {
			return fmt.Errorf("restore game state %s: %w", key, err)
		}
		return nil
	}

	var character, world sql.NullString
	if rec.Character != nil {
		character = sql.NullString{String: *rec.Character, Valid: true}
	}
	if rec.World != nil {
		raw, err := json.Marshal(rec.World)
		if err != nil {
			return fmt.Errorf("encode world %s: %w", key, err)
		}
		world = sql.NullString{String: string(raw), Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO game_state (player_id, session_id, player_character, world, last_updated)
		VALUES (?1, ?2, ?3, ?4, ?5)
		ON CONFLICT (player_id, session_id) DO UPDATE SET
			player_character = excluded.player_character,
			world = excluded.world,
			last_updated = excluded.last_updated
	`, key.PlayerID, key.SessionID, character, world, rec.LastUpdated.UnixMilli()); err != nil {
		return fmt.Errorf("restore game state %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) ReadHistory(ctx context.Context, key SessionKey) (Transcript, bool, error) {
	var (
		t       Transcript
		updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT history, version, updated_at
		FROM conversation_history
		WHERE player_id = ? AND session_id = ?
	`, key.PlayerID, key.SessionID).Scan(&t.Text, &t.Version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Transcript{}, false, nil
	}
	if err != nil {
		return Transcript{}, false, fmt.Errorf("read history %s: %w", key, err)
	}
	if ts, perr := time.Parse(time.RFC3339Nano, updated); perr == nil {
		t.UpdatedAt = ts
	}
	return t, true, nil
}

func (s *SQLStore) WriteHistory(ctx context.Context, key SessionKey, text string, expected int64) (int64, error) {
	updated := s.now().UTC().Format(time.RFC3339Nano)

	switch {
	case expected < 0:
		var version int64
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO conversation_history (player_id, session_id, history, version, updated_at)
			VALUES (?1, ?2, ?3, 1, ?4)
			ON CONFLICT (player_id, session_id) DO UPDATE SET
				history = excluded.history,
				version = conversation_history.version + 1,
				updated_at = excluded.updated_at
			RETURNING version
		`, key.PlayerID, key.SessionID, text, updated).Scan(&version)
		if err != nil {
			return 0, fmt.Errorf("write history %s: %w", key, err)
		}
		return version, nil

	case expected == 0:
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO conversation_history (player_id, session_id, history, version, updated_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT (player_id, session_id) DO NOTHING
		`, key.PlayerID, key.SessionID, text, updated)
		if err != nil {
			return 0, fmt.Errorf("write history %s: %w", key, err)
		}
		if err := checkAffected(res, key); err != nil {
			return 0, err
		}
		return 1, nil

	default:
		res, err := s.db.ExecContext(ctx, `
			UPDATE conversation_history
			SET history = ?, version = version + 1, updated_at = ?
			WHERE player_id = ? AND session_id = ? AND version = ?
		`, text, updated, key.PlayerID, key.SessionID, expected)
		if err != nil {
			return 0, fmt.Errorf("write history %s: %w", key, err)
		}
		if err := checkAffected(res, key); err != nil {
			return 0, err
		}
		return expected + 1, nil
	}
}

func checkAffected(res sql.Result, key SessionKey) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write history %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("write history %s: %w", key, ErrVersionConflict)
	}
	return nil
}
