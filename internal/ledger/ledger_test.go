package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	logx "newsbot/pkg/logx"
)

func drivers(t *testing.T) map[string]Config {
	t.Helper()
	dir := t.TempDir()
	return map[string]Config{
		"sqlite": {Driver: "sqlite", Path: filepath.Join(dir, "articles.db")},
		"file":   {Driver: "file", Path: filepath.Join(dir, "articles.jsonl")},
	}
}

func TestRecordDuplicateKeepsOneRow(t *testing.T) {
	t.Parallel()
	for name, cfg := range drivers(t) {
		cfg := cfg
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer l.Close()

			r := Record{URL: "https://x/1", Title: "A", Source: "S", PublishedAt: "2024-05-01T10:00:00Z"}
			if err := l.Record(ctx, r); err != nil {
				t.Fatalf("first Record: %v", err)
			}
			if err := l.Record(ctx, r); !errors.Is(err, ErrDuplicate) {
				t.Fatalf("second Record err = %v, want ErrDuplicate", err)
			}
			n, err := l.Count(ctx)
			if err != nil || n != 1 {
				t.Fatalf("Count = %d, %v; want 1", n, err)
			}
			ok, err := l.Exists(ctx, "https://x/1")
			if err != nil || !ok {
				t.Fatalf("Exists = %v, %v", ok, err)
			}
			ok, err = l.Exists(ctx, "https://x/2")
			if err != nil || ok {
				t.Fatalf("Exists(unknown) = %v, %v", ok, err)
			}
		})
	}
}

func TestRecordPaddedURLIsFoundByExists(t *testing.T) {
	t.Parallel()
	for name, cfg := range drivers(t) {
		cfg := cfg
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer l.Close()

			if err := l.Record(ctx, Record{URL: " https://x/1 ", Title: "A"}); err != nil {
				t.Fatalf("Record: %v", err)
			}
			for _, u := range []string{" https://x/1 ", "https://x/1"} {
				ok, err := l.Exists(ctx, u)
				if err != nil || !ok {
					t.Fatalf("Exists(%q) = %v, %v", u, ok, err)
				}
			}
			if err := l.Record(ctx, Record{URL: "https://x/1"}); !errors.Is(err, ErrDuplicate) {
				t.Fatalf("unpadded Record err = %v, want ErrDuplicate", err)
			}
			if n, err := l.Count(ctx); err != nil || n != 1 {
				t.Fatalf("Count = %d, %v; want 1", n, err)
			}
		})
	}
}

func TestRecordsSurviveReopen(t *testing.T) {
	t.Parallel()
	for name, cfg := range drivers(t) {
		cfg := cfg
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			for _, u := range []string{"https://x/a", "https://x/b"} {
				if err := l.Record(ctx, Record{URL: u, Title: "t", Source: "s"}); err != nil {
					t.Fatalf("Record(%s): %v", u, err)
				}
			}
			if err := l.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			l, err = Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer l.Close()
			ok, err := l.Exists(ctx, "https://x/b")
			if err != nil || !ok {
				t.Fatalf("Exists after reopen = %v, %v", ok, err)
			}
			if n, _ := l.Count(ctx); n != 2 {
				t.Fatalf("Count after reopen = %d, want 2", n)
			}
		})
	}
}

func TestRecordRejectsEmptyURL(t *testing.T) {
	t.Parallel()
	l, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "l.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if err := l.Record(context.Background(), Record{URL: "  "}); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestFileJournalSkipsTornLine(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "l.jsonl")
	data := `{"url":"https://x/1","title":"a","source":"s","published_at":""}` + "\n" + `{"url":"https://x/2","ti`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	l, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()
	if n, _ := l.Count(context.Background()); n != 1 {
		t.Fatalf("Count = %d, want 1", n)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error without dsn")
	}
}
