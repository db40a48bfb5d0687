package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/code-sleuth/ike-rag/pkg/migrations"
	"github.com/code-sleuth/ike-rag/pkg/util"

	"github.com/rs/zerolog"
	"github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite" // local SQLite driver
)

var (
	ErrDatabaseURLRequired = errors.New("database URL is required")
	ErrAuthTokenRequired   = errors.New("auth token is required for remote libsql databases")
)

type DB struct {
	*sql.DB
	URL    string
	Remote bool
}

// NewConnection opens the database at dbURL. libsql://, https:// and wss://
// URLs go to a remote libsql (Turso) server and need authToken; anything
// else is handed to the local SQLite driver ("file:ike.db", ":memory:").
func NewConnection(dbURL, authToken string) (*DB, error) {
	logger := util.NewLogger(zerolog.ErrorLevel)
	if strings.TrimSpace(dbURL) == "" {
		logger.Error().Msg("database URL not set")
		return nil, ErrDatabaseURLRequired
	}

	if isRemote(dbURL) {
		if strings.EqualFold(authToken, "") {
			logger.Error().Str("database_url", dbURL).Msg("auth token not set for remote database")
			return nil, ErrAuthTokenRequired
		}

		connector, err := libsql.NewConnector(dbURL, libsql.WithAuthToken(authToken))
		if err != nil {
			logger.Err(err).Msg("failed to create connector")
			return nil, err
		}

		db := sql.OpenDB(connector)
		if err := db.Ping(); err != nil {
			logger.Err(err).Msg("failed to ping database")
			return nil, err
		}
		return &DB{DB: db, URL: dbURL, Remote: true}, nil
	}

	dsn := localDSN(dbURL)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		logger.Err(err).Str("dsn", dsn).Msg("failed to open sqlite database")
		return nil, err
	}
	if isMemory(dbURL) {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		logger.Err(err).Msg("failed to ping database")
		_ = db.Close()
		return nil, err
	}
	return &DB{DB: db, URL: dbURL}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// Migrate applies the embedded schema migrations in order. Every statement is
// idempotent, so re-running is safe.
func (db *DB) Migrate(ctx context.Context) error {
	return Migrate(ctx, db.DB)
}

// Migrate applies the embedded schema migrations to an open database.
func Migrate(ctx context.Context, database *sql.DB) error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		for _, stmt := range splitStatements(string(content)) {
			if _, err := database.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("executing migration %s: %w", name, err)
			}
		}
	}
	return nil
}

// splitStatements breaks a migration into single statements; remote libsql
// executes one statement per request.
func splitStatements(script string) []string {
	var lines []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}

	var stmts []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

func isRemote(dbURL string) bool {
	for _, prefix := range []string{"libsql://", "https://", "http://", "wss://", "ws://"} {
		if strings.HasPrefix(dbURL, prefix) {
			return true
		}
	}
	return false
}

func isMemory(dbURL string) bool {
	return dbURL == ":memory:" || strings.Contains(dbURL, "mode=memory")
}

func localDSN(dbURL string) string {
	if isMemory(dbURL) {
		return dbURL
	}
	dsn := dbURL
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}
