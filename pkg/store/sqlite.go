package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sipeed/execclient/pkg/domain"
	"github.com/sipeed/execclient/pkg/logger"
)

// SQLiteStore persists records in a single sqlite database file.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore returns a store for the database at path. Nothing is opened
// until Connect.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", s.path+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open store db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping store db: %w", err)
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("init store schema: %w", err)
	}
	s.db = db

	logger.InfoCF("store", "Store connected", map[string]interface{}{
		"db_path": s.path,
	})
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, fmt.Errorf("store not connected")
	}
	return s.db, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		character_id TEXT NOT NULL,
		sender_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		response TEXT,
		answered INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		answered_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_messages_answered ON messages(answered, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_character ON messages(character_id);

	CREATE TABLE IF NOT EXISTS execution_client_states (
		scope_key TEXT PRIMARY KEY,
		total_processed INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		supported_message_types TEXT NOT NULL DEFAULT '[]',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS prompt_enhancement_logs (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL,
		original TEXT NOT NULL,
		enhanced TEXT NOT NULL,
		enhancers TEXT NOT NULL DEFAULT '[]',
		context TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_enhancement_logs_message ON prompt_enhancement_logs(message_id);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

const messageColumns = "id, character_id, sender_id, content, response, answered, created_at, answered_at"

func (s *SQLiteStore) FindMessages(ctx context.Context, filter MessageFilter, limit int) ([]*domain.Message, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	query := "SELECT " + messageColumns + " FROM messages WHERE 1=1"
	var args []interface{}
	if filter.Answered != nil {
		query += " AND answered = ?"
		args = append(args, boolInt(*filter.Answered))
	}
	if len(filter.CharacterIDs) > 0 {
		query += " AND character_id IN (?" + strings.Repeat(", ?", len(filter.CharacterIDs)-1) + ")"
		for _, id := range filter.CharacterIDs {
			args = append(args, id)
		}
	}
	query += " ORDER BY created_at ASC, rowid ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) FindMessage(ctx context.Context, id domain.EntityID) (*domain.Message, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	row := db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ?", string(id))
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound.With("message " + id.String())
	}
	return m, err
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, m *domain.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	db, err := s.conn()
	if err != nil {
		return err
	}
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = db.ExecContext(ctx, `INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(m.ID), m.CharacterID, m.SenderID, m.Content,
		nullString(m.Response), boolInt(m.Answered),
		created.UTC().Format(time.RFC3339), nullTime(m.AnsweredAt),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateMessage(ctx context.Context, id domain.EntityID, patch MessagePatch) (bool, error) {
	if err := patch.validate(); err != nil {
		return false, err
	}
	db, err := s.conn()
	if err != nil {
		return false, err
	}

	var sets []string
	var args []interface{}
	if patch.Response != nil {
		sets = append(sets, "response = ?")
		args = append(args, *patch.Response)
	}
	if patch.Answered != nil {
		sets = append(sets, "answered = ?")
		args = append(args, boolInt(*patch.Answered))
	}
	if patch.AnsweredAt != nil {
		sets = append(sets, "answered_at = ?")
		args = append(args, patch.AnsweredAt.UTC().Format(time.RFC3339))
	}
	if len(sets) == 0 {
		return false, nil
	}

	query := "UPDATE messages SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, string(id))
	if patch.OnlyUnanswered {
		query += " AND answered = 0"
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (*domain.Message, error) {
	var m domain.Message
	var id, createdAt string
	var response, answeredAt sql.NullString
	var answered int
	if err := row.Scan(&id, &m.CharacterID, &m.SenderID, &m.Content, &response, &answered, &createdAt, &answeredAt); err != nil {
		return nil, err
	}
	m.ID = domain.EntityID(id)
	m.Answered = answered != 0
	m.Origin = domain.OriginStore
	if response.Valid {
		r := response.String
		m.Response = &r
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if answeredAt.Valid {
		t, _ := time.Parse(time.RFC3339, answeredAt.String)
		m.AnsweredAt = &t
	}
	return &m, nil
}

// ---------------------------------------------------------------------------
// Execution client state
// ---------------------------------------------------------------------------

func (s *SQLiteStore) FindState(ctx context.Context, scope string) (*domain.ExecutionClientState, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	return findState(ctx, db, scope)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func findState(ctx context.Context, q queryRower, scope string) (*domain.ExecutionClientState, error) {
	var st domain.ExecutionClientState
	var active int
	var types, updatedAt string
	err := q.QueryRowContext(ctx, `SELECT scope_key, total_processed, active, supported_message_types, updated_at
		FROM execution_client_states WHERE scope_key = ?`, scope).
		Scan(&st.ScopeKey, &st.TotalProcessed, &active, &types, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound.With("execution client state " + scope)
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}
	st.Active = active != 0
	if err := json.Unmarshal([]byte(types), &st.SupportedMessageTypes); err != nil {
		return nil, fmt.Errorf("decode message types: %w", err)
	}
	st.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &st, nil
}

func (s *SQLiteStore) CreateState(ctx context.Context, st *domain.ExecutionClientState) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	types, err := json.Marshal(st.SupportedMessageTypes)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO execution_client_states
		(scope_key, total_processed, active, supported_message_types, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		st.ScopeKey, st.TotalProcessed, boolInt(st.Active), string(types),
		st.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateState(ctx context.Context, scope string, patch StatePatch) (*domain.ExecutionClientState, error) {
	if err := patch.validate(); err != nil {
		return nil, err
	}
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	updated := patch.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := "UPDATE execution_client_states SET total_processed = total_processed + ?, updated_at = ?"
	args := []interface{}{patch.Increment, updated.UTC().Format(time.RFC3339)}
	if patch.Active != nil {
		query += ", active = ?"
		args = append(args, boolInt(*patch.Active))
	}
	query += " WHERE scope_key = ?"
	args = append(args, scope)

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound.With("execution client state " + scope)
	}
	st, err := findState(ctx, tx, scope)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return st, nil
}

// ---------------------------------------------------------------------------
// Enhancement logs
// ---------------------------------------------------------------------------

func (s *SQLiteStore) CreateEnhancementLog(ctx context.Context, l *domain.PromptEnhancementLog) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if l.ID.IsZero() {
		l.ID = domain.NewID()
	}
	enhancers, err := json.Marshal(l.Enhancers)
	if err != nil {
		return err
	}
	var contextJSON sql.NullString
	if l.Context != nil {
		b, err := json.Marshal(l.Context)
		if err != nil {
			return fmt.Errorf("encode enhancement context: %w", err)
		}
		contextJSON = sql.NullString{String: string(b), Valid: true}
	}
	created := l.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = db.ExecContext(ctx, `INSERT INTO prompt_enhancement_logs
		(id, message_id, original, enhanced, enhancers, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(l.ID), string(l.MessageID), l.Original, l.Enhanced,
		string(enhancers), contextJSON, created.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert enhancement log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) EnhancementLogs(ctx context.Context, messageID domain.EntityID) ([]*domain.PromptEnhancementLog, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT id, message_id, original, enhanced, enhancers, context, created_at
		FROM prompt_enhancement_logs WHERE message_id = ? ORDER BY created_at ASC, rowid ASC`, string(messageID))
	if err != nil {
		return nil, fmt.Errorf("query enhancement logs: %w", err)
	}
	defer rows.Close()

	var out []*domain.PromptEnhancementLog
	for rows.Next() {
		var l domain.PromptEnhancementLog
		var id, msgID, enhancers, createdAt string
		var contextJSON sql.NullString
		if err := rows.Scan(&id, &msgID, &l.Original, &l.Enhanced, &enhancers, &contextJSON, &createdAt); err != nil {
			return nil, err
		}
		l.ID = domain.EntityID(id)
		l.MessageID = domain.EntityID(msgID)
		json.Unmarshal([]byte(enhancers), &l.Enhancers)
		if contextJSON.Valid {
			json.Unmarshal([]byte(contextJSON.String), &l.Context)
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, &l)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
