// Package logging keeps an audit trail of every model invocation so turns can
// be reviewed and rated after the fact.
package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Pass identifies which model call of a turn a completion belongs to.
type Pass string

const (
	PassFirst  Pass = "first"
	PassSecond Pass = "second"
)

type CompletionLog struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	PlayerID  string    `json:"player_id"`
	SessionID string    `json:"session_id"`
	Pass      Pass      `json:"pass"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Metadata  string    `json:"metadata"`
	Rating    *int      `json:"rating,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
}

type CompletionMetadata struct {
	Model        string        `json:"model"`
	MaxTokens    int           `json:"max_tokens"`
	ResponseTime time.Duration `json:"response_time_ms"`
	ToolCalls    int           `json:"tool_calls"`
	Error        *string       `json:"error,omitempty"`
}

type CompletionLogger struct {
	db *sql.DB
}

// NewCompletionLogger opens (or creates) the audit database at path using the
// named database/sql driver.
func NewCompletionLogger(driver, path string) (*CompletionLogger, error) {
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	logger := &CompletionLogger{db: db}
	if err := logger.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return logger, nil
}

func (cl *CompletionLogger) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS completions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		player_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		pass TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		metadata TEXT NOT NULL,
		rating INTEGER,
		notes TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_completions_timestamp ON completions(timestamp);
	CREATE INDEX IF NOT EXISTS idx_completions_session ON completions(player_id, session_id);
	CREATE INDEX IF NOT EXISTS idx_completions_rating ON completions(rating);
	`

	_, err := cl.db.Exec(schema)
	return err
}

func (cl *CompletionLogger) LogCompletion(
	ctx context.Context,
	playerID, sessionID string,
	pass Pass,
	prompt string,
	response string,
	metadata CompletionMetadata,
) error {
	metadataJson, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = cl.db.ExecContext(ctx, `
		INSERT INTO completions (timestamp, player_id, session_id, pass, prompt, response, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, time.Now().UnixNano(), playerID, sessionID, string(pass), prompt, response, string(metadataJson))

	return err
}

// GetRecentCompletions returns up to limit completions, newest first.
func (cl *CompletionLogger) GetRecentCompletions(limit int) ([]CompletionLog, error) {
	rows, err := cl.db.Query(`
		SELECT id, timestamp, player_id, session_id, pass, prompt, response, metadata, rating, notes
		FROM completions
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var completions []CompletionLog
	for rows.Next() {
		var c CompletionLog
		var ts int64
		var pass string
		var rating sql.NullInt64
		var notes sql.NullString
		err := rows.Scan(&c.ID, &ts, &c.PlayerID, &c.SessionID, &pass,
			&c.Prompt, &c.Response, &c.Metadata, &rating, &notes)
		if err != nil {
			return nil, err
		}
		c.Timestamp = time.Unix(0, ts)
		c.Pass = Pass(pass)
		if rating.Valid {
			r := int(rating.Int64)
			c.Rating = &r
		}
		if notes.Valid {
			n := notes.String
			c.Notes = &n
		}
		completions = append(completions, c)
	}

	return completions, rows.Err()
}

func (cl *CompletionLogger) RateCompletion(id int, rating int, notes string) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5, got %d", rating)
	}
	var notesPtr *string
	if notes != "" {
		notesPtr = &notes
	}

	res, err := cl.db.Exec(`
		UPDATE completions
		SET rating = ?, notes = ?
		WHERE id = ?
	`, rating, notesPtr, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("completion %d not found", id)
	}
	return nil
}

func (cl *CompletionLogger) Close() error {
	return cl.db.Close()
}
