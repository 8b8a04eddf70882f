package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLStore is a SQL-backed session store.
// It works with any database/sql compatible driver (PostgreSQL, MySQL,
// SQLite). Requires a table with schema:
//
//	CREATE TABLE viewsync_sessions (
//	    id VARCHAR(64) PRIMARY KEY,
//	    data BYTEA NOT NULL,
//	    expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
//	    created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
//	    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
//	);
//	CREATE INDEX idx_viewsync_sessions_expires ON viewsync_sessions(expires_at);
//
// CreateTable builds the dialect-appropriate variant of this schema.
type SQLStore struct {
	db              *sql.DB
	tableName       string
	dialect         SQLDialect
	queries         sqlQueries
	cleanupInterval time.Duration
	closed          bool
	done            chan struct{}
}

// SQLDialect selects the SQL syntax used for query generation.
type SQLDialect int

const (
	// DialectPostgreSQL uses PostgreSQL syntax ($1, $2 placeholders).
	DialectPostgreSQL SQLDialect = iota
	// DialectMySQL uses MySQL syntax (? placeholders).
	DialectMySQL
	// DialectSQLite uses SQLite syntax (? placeholders).
	DialectSQLite
)

// String returns the dialect name.
func (d SQLDialect) String() string {
	switch d {
	case DialectPostgreSQL:
		return "postgresql"
	case DialectMySQL:
		return "mysql"
	case DialectSQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// sqlQueries holds the statements for one dialect/table combination,
// built once at construction.
type sqlQueries struct {
	save    string
	load    string
	del     string
	touch   string
	cleanup string
}

func buildQueries(dialect SQLDialect, table string) sqlQueries {
	switch dialect {
	case DialectMySQL:
		return sqlQueries{
			save: fmt.Sprintf(`INSERT INTO %s (id, data, expires_at, updated_at)
				VALUES (?, ?, ?, NOW())
				ON DUPLICATE KEY UPDATE
					data = VALUES(data),
					expires_at = VALUES(expires_at),
					updated_at = NOW()`, table),
			load:    fmt.Sprintf(`SELECT data FROM %s WHERE id = ? AND expires_at > NOW()`, table),
			del:     fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table),
			touch:   fmt.Sprintf(`UPDATE %s SET expires_at = ?, updated_at = NOW() WHERE id = ?`, table),
			cleanup: fmt.Sprintf(`DELETE FROM %s WHERE expires_at < NOW()`, table),
		}
	case DialectSQLite:
		return sqlQueries{
			save: fmt.Sprintf(`INSERT OR REPLACE INTO %s (id, data, expires_at, updated_at)
				VALUES (?, ?, ?, datetime('now'))`, table),
			load:    fmt.Sprintf(`SELECT data FROM %s WHERE id = ? AND expires_at > ?`, table),
			del:     fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table),
			touch:   fmt.Sprintf(`UPDATE %s SET expires_at = ?, updated_at = datetime('now') WHERE id = ?`, table),
			cleanup: fmt.Sprintf(`DELETE FROM %s WHERE expires_at < ?`, table),
		}
	default: // DialectPostgreSQL
		return sqlQueries{
			save: fmt.Sprintf(`INSERT INTO %s (id, data, expires_at, updated_at)
				VALUES ($1, $2, $3, NOW())
				ON CONFLICT (id) DO UPDATE SET
					data = EXCLUDED.data,
					expires_at = EXCLUDED.expires_at,
					updated_at = NOW()`, table),
			load:    fmt.Sprintf(`SELECT data FROM %s WHERE id = $1 AND expires_at > NOW()`, table),
			del:     fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table),
			touch:   fmt.Sprintf(`UPDATE %s SET expires_at = $1, updated_at = NOW() WHERE id = $2`, table),
			cleanup: fmt.Sprintf(`DELETE FROM %s WHERE expires_at < NOW()`, table),
		}
	}
}

// SQLStoreOption configures SQLStore behavior.
type SQLStoreOption func(*sqlStoreConfig)

type sqlStoreConfig struct {
	tableName       string
	dialect         SQLDialect
	cleanupInterval time.Duration
}

// WithSQLTableName sets the table name for session storage.
// Default: "viewsync_sessions".
func WithSQLTableName(name string) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.tableName = name
	}
}

// WithSQLDialect sets the SQL dialect for query generation.
// Default: DialectPostgreSQL.
func WithSQLDialect(dialect SQLDialect) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.dialect = dialect
	}
}

// WithSQLCleanupInterval sets how often expired sessions are removed.
// Default: 5 minutes.
func WithSQLCleanupInterval(d time.Duration) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.cleanupInterval = d
	}
}

// NewSQLStore creates a new SQL-backed session store.
func NewSQLStore(db *sql.DB, opts ...SQLStoreOption) *SQLStore {
	cfg := &sqlStoreConfig{
		tableName:       "viewsync_sessions",
		dialect:         DialectPostgreSQL,
		cleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := &SQLStore{
		db:              db,
		tableName:       cfg.tableName,
		dialect:         cfg.dialect,
		queries:         buildQueries(cfg.dialect, cfg.tableName),
		cleanupInterval: cfg.cleanupInterval,
		done:            make(chan struct{}),
	}

	go store.cleanupLoop()
	return store
}

// Save stores a session snapshot with an expiration time.
func (s *SQLStore) Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error {
	if s.closed {
		return ErrStoreClosed{}
	}

	_, err := s.db.ExecContext(ctx, s.queries.save, sessionID, data, s.formatTime(expiresAt))
	return err
}

// Load retrieves a session snapshot if it exists and hasn't expired.
func (s *SQLStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	if s.closed {
		return nil, ErrStoreClosed{}
	}

	args := []any{sessionID}
	if s.dialect == DialectSQLite {
		args = append(args, s.formatTime(time.Now()))
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, s.queries.load, args...).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return data, nil
}

// Delete removes a session from the database.
func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	if s.closed {
		return ErrStoreClosed{}
	}

	_, err := s.db.ExecContext(ctx, s.queries.del, sessionID)
	return err
}

// Touch updates the expiration time for a session.
func (s *SQLStore) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	if s.closed {
		return ErrStoreClosed{}
	}

	_, err := s.db.ExecContext(ctx, s.queries.touch, s.formatTime(expiresAt), sessionID)
	return err
}

// SaveAll saves multiple sessions in a single transaction.
func (s *SQLStore) SaveAll(ctx context.Context, sessions map[string]Record) error {
	if s.closed {
		return ErrStoreClosed{}
	}

	if len(sessions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.queries.save)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, rec := range sessions {
		if _, err := stmt.ExecContext(ctx, id, rec.Data, s.formatTime(rec.ExpiresAt)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Close shuts down the store. The underlying *sql.DB is not closed, as it
// may be shared with other components.
func (s *SQLStore) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true
	close(s.done)
	return nil
}

// formatTime converts a time for storage. SQLite compares its TEXT dates
// lexically, so times are stored in UTC with a second precision format
// that matches datetime('now').
func (s *SQLStore) formatTime(t time.Time) any {
	if s.dialect == DialectSQLite {
		return t.UTC().Format("2006-01-02 15:04:05")
	}
	return t
}

// cleanupLoop periodically removes expired sessions.
func (s *SQLStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.done:
			return
		}
	}
}

func (s *SQLStore) cleanup() {
	if s.closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var args []any
	if s.dialect == DialectSQLite {
		args = append(args, s.formatTime(time.Now()))
	}
	s.db.ExecContext(ctx, s.queries.cleanup, args...)
}

// CreateTable creates the session table and its expiry index if they don't
// exist. This is a convenience for development and testing; production
// deployments usually manage schema with migrations.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	var query string
	switch s.dialect {
	case DialectMySQL:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(64) PRIMARY KEY,
				data BLOB NOT NULL,
				expires_at DATETIME NOT NULL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
			)
		`, s.tableName)
	case DialectSQLite:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				data BLOB NOT NULL,
				expires_at TEXT NOT NULL,
				created_at TEXT DEFAULT (datetime('now')),
				updated_at TEXT DEFAULT (datetime('now'))
			)
		`, s.tableName)
	default:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(64) PRIMARY KEY,
				data BYTEA NOT NULL,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
			)
		`, s.tableName)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return err
	}

	var indexQuery string
	switch s.dialect {
	case DialectMySQL:
		// MySQL has no IF NOT EXISTS for indexes; the error from a
		// duplicate index is ignored below.
		indexQuery = fmt.Sprintf(`CREATE INDEX idx_%s_expires ON %s(expires_at)`, s.tableName, s.tableName)
	default:
		indexQuery = fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_expires ON %s(expires_at)`, s.tableName, s.tableName)
	}

	s.db.ExecContext(ctx, indexQuery)

	return nil
}
