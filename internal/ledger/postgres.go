package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/lib/pq"

	logx "newsbot/pkg/logx"
)

func openPostgres(cfg Config, log logx.Logger) (Ledger, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required when storage.driver=postgres")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	st := &sqlStore{
		db:      db,
		log:     log,
		insertQ: `INSERT INTO articles(url, title, source, published_at) VALUES($1,$2,$3,$4) ON CONFLICT(url) DO NOTHING`,
		existsQ: `SELECT 1 FROM articles WHERE url = $1`,
	}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("postgres ledger opened")
	return st, nil
}
