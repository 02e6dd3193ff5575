package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported SQL dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// SQLStore implements Store on database/sql. Queries are written with "?"
// placeholders and rebound for postgres.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

var _ Store = (*SQLStore)(nil)

// NormalizeDialect maps driver names and aliases to a dialect.
func NormalizeDialect(dialect string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case "sqlite", "sqlite3", "":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	}
	return "", fmt.Errorf("unsupported dialect: %s (supported: sqlite, postgres, mysql)", dialect)
}

func driverName(dialect string) string {
	switch dialect {
	case DialectPostgres:
		return "postgres"
	case DialectMySQL:
		return "mysql"
	}
	return "sqlite3"
}

// OpenSQLStore opens a database for dialect and prepares the schema.
func OpenSQLStore(dialect, dsn string) (*SQLStore, error) {
	d, err := NormalizeDialect(dialect)
	if err != nil {
		return nil, err
	}
	switch d {
	case DialectSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
	case DialectMySQL:
		// TIMESTAMP columns scan into time.Time only with parseTime.
		if !strings.Contains(dsn, "parseTime") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "parseTime=true"
		}
	}
	db, err := sql.Open(driverName(d), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d, err)
	}
	if d == DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	s, err := NewSQLStore(db, d)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database and prepares the schema.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	d, err := NormalizeDialect(dialect)
	if err != nil {
		return nil, err
	}
	s := &SQLStore{db: db, dialect: d}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

const createSessionsSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(64) PRIMARY KEY,
    repo_id VARCHAR(255) NOT NULL,
    task TEXT NOT NULL,
    mode VARCHAR(32) NOT NULL,
    model VARCHAR(255) NOT NULL,
    status VARCHAR(32) NOT NULL,
    auto_commit BOOLEAN NOT NULL DEFAULT FALSE,
    max_iterations INTEGER NOT NULL,
    current_iteration INTEGER NOT NULL DEFAULT 0,
    abort_requested BOOLEAN NOT NULL DEFAULT FALSE,
    error TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP NULL
)`

const createMessagesSQL = `
CREATE TABLE IF NOT EXISTS messages (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    seq INTEGER NOT NULL,
    role VARCHAR(16) NOT NULL,
    content TEXT NOT NULL,
    iteration INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

const createLLMCallsSQL = `
CREATE TABLE IF NOT EXISTS llm_calls (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    iteration INTEGER NOT NULL,
    provider VARCHAR(64) NOT NULL,
    model VARCHAR(255) NOT NULL,
    prompt TEXT NOT NULL,
    raw_output TEXT NOT NULL,
    parse_success BOOLEAN NOT NULL DEFAULT FALSE,
    parse_stage VARCHAR(32),
    error TEXT,
    error_kind VARCHAR(32),
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
)`

const createOperationsSQL = `
CREATE TABLE IF NOT EXISTS operation_logs (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    iteration INTEGER NOT NULL,
    seq INTEGER NOT NULL,
    op_type VARCHAR(64) NOT NULL,
    path TEXT,
    params TEXT,
    status VARCHAR(16) NOT NULL,
    output TEXT,
    error TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createBlackboardSQL = `
CREATE TABLE IF NOT EXISTS blackboard_entries (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    iteration INTEGER NOT NULL,
    entry_type VARCHAR(32) NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

var indexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_calls_session ON llm_calls(session_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_operation_logs_session ON operation_logs(session_id, iteration, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_blackboard_session ON blackboard_entries(session_id, created_at)`,
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{createSessionsSQL, createMessagesSQL, createLLMCallsSQL, createOperationsSQL, createBlackboardSQL}
	// MySQL has no CREATE INDEX IF NOT EXISTS.
	if s.dialect != DialectMySQL {
		statements = append(statements, indexSQL...)
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts "?" placeholders to "$n" for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

const sessionColumns = `id, repo_id, task, mode, model, status, auto_commit, max_iterations,
    current_iteration, abort_requested, error, created_at, updated_at, completed_at`

func (s *SQLStore) CreateSession(ctx context.Context, sess *Session) error {
	ensureID(&sess.ID)
	ensureTime(&sess.CreatedAt)
	sess.UpdatedAt = sess.CreatedAt
	_, err := s.exec(ctx, `INSERT INTO sessions (`+sessionColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.RepoID, sess.Task, sess.Mode, sess.Model, sess.Status, sess.AutoCommit, sess.MaxIterations,
		sess.CurrentIteration, sess.AbortRequested, sess.Error, sess.CreatedAt, sess.UpdatedAt, nullTime(sess.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	var errText sql.NullString
	var completed sql.NullTime
	err := row.Scan(&sess.ID, &sess.RepoID, &sess.Task, &sess.Mode, &sess.Model, &sess.Status, &sess.AutoCommit,
		&sess.MaxIterations, &sess.CurrentIteration, &sess.AbortRequested, &errText,
		&sess.CreatedAt, &sess.UpdatedAt, &completed)
	if err != nil {
		return nil, err
	}
	sess.Error = errText.String
	if completed.Valid {
		t := completed.Time
		sess.CompletedAt = &t
	}
	return &sess, nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`), id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SQLStore) UpdateSession(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()
	res, err := s.exec(ctx, `UPDATE sessions SET status = ?, current_iteration = ?, abort_requested = ?,
        error = ?, updated_at = ?, completed_at = ?, max_iterations = ? WHERE id = ?`,
		sess.Status, sess.CurrentIteration, sess.AbortRequested, sess.Error, sess.UpdatedAt,
		nullTime(sess.CompletedAt), sess.MaxIterations, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s: %w", sess.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLStore) InsertMessage(ctx context.Context, m *Message) error {
	ensureID(&m.ID)
	ensureTime(&m.CreatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`),
		m.SessionID).Scan(&m.Seq); err != nil {
		return fmt.Errorf("next message seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO messages (id, session_id, seq, role, content, iteration, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.SessionID, m.Seq, m.Role, m.Content, m.Iteration, m.CreatedAt); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return tx.Commit()
}

func (s *SQLStore) ListMessages(ctx context.Context, sessionID string, includeSystem bool) ([]Message, error) {
	q := `SELECT id, session_id, seq, role, content, iteration, created_at FROM messages WHERE session_id = ?`
	args := []any{sessionID}
	if !includeSystem {
		q += ` AND role <> ?`
		args = append(args, RoleSystem)
	}
	q += ` ORDER BY seq`
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &m.Role, &m.Content, &m.Iteration, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) InsertLLMCall(ctx context.Context, c *LLMCall) error {
	ensureID(&c.ID)
	ensureTime(&c.CreatedAt)
	_, err := s.exec(ctx, `INSERT INTO llm_calls (id, session_id, iteration, provider, model, prompt, raw_output,
        parse_success, parse_stage, error, error_kind, input_tokens, output_tokens, duration_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.Iteration, c.Provider, c.Model, c.Prompt, c.RawOutput,
		c.ParseSuccess, c.ParseStage, c.Error, c.ErrorKind, c.InputTokens, c.OutputTokens, c.DurationMS, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}

func (s *SQLStore) ListLLMCalls(ctx context.Context, sessionID string) ([]LLMCall, error) {
	rows, err := s.query(ctx, `SELECT id, session_id, iteration, provider, model, prompt, raw_output, parse_success,
        parse_stage, error, error_kind, input_tokens, output_tokens, duration_ms, created_at
        FROM llm_calls WHERE session_id = ? ORDER BY iteration, created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list llm calls: %w", err)
	}
	defer rows.Close()

	out := []LLMCall{}
	for rows.Next() {
		var c LLMCall
		var stage, errText, kind sql.NullString
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Iteration, &c.Provider, &c.Model, &c.Prompt, &c.RawOutput,
			&c.ParseSuccess, &stage, &errText, &kind, &c.InputTokens, &c.OutputTokens, &c.DurationMS, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.ParseStage, c.Error, c.ErrorKind = stage.String, errText.String, kind.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) LogOperation(ctx context.Context, op *OperationLog) error {
	ensureID(&op.ID)
	ensureTime(&op.CreatedAt)
	op.UpdatedAt = op.CreatedAt
	if op.Status == "" {
		op.Status = OpPending
	}
	_, err := s.exec(ctx, `INSERT INTO operation_logs (id, session_id, iteration, seq, op_type, path, params, status,
        output, error, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.SessionID, op.Iteration, op.Seq, op.Type, op.Path, op.Params, op.Status,
		op.Output, op.Error, op.CreatedAt, op.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("log operation: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateOperation(ctx context.Context, id, status, output, errMsg string) error {
	res, err := s.exec(ctx, `UPDATE operation_logs SET status = ?, output = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, output, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update operation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) ListOperations(ctx context.Context, sessionID string) ([]OperationLog, error) {
	rows, err := s.query(ctx, `SELECT id, session_id, iteration, seq, op_type, path, params, status, output, error,
        created_at, updated_at FROM operation_logs WHERE session_id = ? ORDER BY iteration, seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	out := []OperationLog{}
	for rows.Next() {
		var op OperationLog
		var path, params, output, errText sql.NullString
		if err := rows.Scan(&op.ID, &op.SessionID, &op.Iteration, &op.Seq, &op.Type, &path, &params, &op.Status,
			&output, &errText, &op.CreatedAt, &op.UpdatedAt); err != nil {
			return nil, err
		}
		op.Path, op.Params, op.Output, op.Error = path.String, params.String, output.String, errText.String
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *SQLStore) InsertBlackboardEntry(ctx context.Context, e *BlackboardEntry) error {
	ensureID(&e.ID)
	ensureTime(&e.CreatedAt)
	_, err := s.exec(ctx, `INSERT INTO blackboard_entries (id, session_id, iteration, entry_type, content, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Iteration, e.EntryType, e.Content, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert blackboard entry: %w", err)
	}
	return nil
}

func (s *SQLStore) ListBlackboard(ctx context.Context, sessionID string, limit int) ([]BlackboardEntry, error) {
	q := `SELECT id, session_id, iteration, entry_type, content, created_at FROM blackboard_entries
        WHERE session_id = ? ORDER BY iteration DESC, created_at DESC`
	args := []any{sessionID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list blackboard: %w", err)
	}
	defer rows.Close()

	var out []BlackboardEntry
	for rows.Next() {
		var e BlackboardEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Iteration, &e.EntryType, &e.Content, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Newest first from the query; callers want oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if out == nil {
		out = []BlackboardEntry{}
	}
	return out, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
