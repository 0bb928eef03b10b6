package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	logx "newsbot/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

var errEmptyURL = errors.New("ledger: empty url")

type sqlStore struct {
	db  *sql.DB
	log logx.Logger

	// placeholder style differs between drivers: "?" for sqlite, "$n" for postgres.
	insertQ string
	existsQ string
}

func openSQLite(cfg Config, log logx.Logger) (Ledger, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "articles.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	// FULL: a committed record must survive power loss, it is the only dedup state.
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	st := &sqlStore{
		db:      db,
		log:     log,
		insertQ: `INSERT INTO articles(url, title, source, published_at) VALUES(?,?,?,?) ON CONFLICT(url) DO NOTHING`,
		existsQ: `SELECT 1 FROM articles WHERE url = ?`,
	}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite ledger opened", logx.String("path", path))
	return st, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("ledger schema: %w", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Exists(ctx context.Context, url string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx, s.existsQ, url).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqlStore) Record(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	url := strings.TrimSpace(r.URL)
	if url == "" {
		return errEmptyURL
	}
	res, err := s.db.ExecContext(ctx, s.insertQ, url, nullStr(r.Title), nullStr(r.Source), nullStr(r.PublishedAt))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *sqlStore) Count(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
