package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "newsbot/pkg/logx"
)

// fileStore keeps the ledger as an append-only JSON Lines journal.
// Every Record is fsynced before it returns; the full url set lives in memory.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	f    *os.File
	seen map[string]struct{}
}

func openFile(cfg Config, log logx.Logger) (Ledger, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	if err := replayJournal(path, seen); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	if err := terminateTornLine(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	log.Debug("file ledger opened", logx.String("path", path), logx.Int("records", len(seen)))
	return &fileStore{log: log, f: f, seen: seen}, nil
}

// replayJournal loads urls from an existing journal. A torn trailing line
// (crash mid-write) is skipped.
func replayJournal(path string, dst map[string]struct{}) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			continue
		}
		if u := strings.TrimSpace(r.URL); u != "" {
			dst[u] = struct{}{}
		}
	}
	return sc.Err()
}

// terminateTornLine appends a newline when the journal does not end with one,
// so the next record starts on its own line.
func terminateTornLine(f *os.File) error {
	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		return err
	}
	r, err := os.Open(f.Name())
	if err != nil {
		return err
	}
	defer r.Close()
	last := make([]byte, 1)
	if _, err := r.ReadAt(last, st.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) Exists(ctx context.Context, url string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return false, ErrClosed
	}
	_, ok := s.seen[strings.TrimSpace(url)]
	return ok, nil
}

func (s *fileStore) Record(ctx context.Context, r Record) error {
	_ = ctx
	r.URL = strings.TrimSpace(r.URL)
	if r.URL == "" {
		return errEmptyURL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if _, ok := s.seen[r.URL]; ok {
		return ErrDuplicate
	}

	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := s.f.Write(b); err != nil {
		return err
	}
	if err := s.f.Sync(); err != nil {
		return err
	}
	s.seen[r.URL] = struct{}{}
	return nil
}

func (s *fileStore) Count(ctx context.Context) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, ErrClosed
	}
	return int64(len(s.seen)), nil
}
