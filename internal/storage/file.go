package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "castbot/pkg/logx"
)

// fileStore appends records to a JSON Lines file and serves reads from an
// in-memory tail of the last Retain records.
//
// When the file grows past twice Retain lines it is compacted down to the tail.
type fileStore struct {
	log    logx.Logger
	path   string
	retain int

	rename func(oldpath, newpath string) error

	mu     sync.Mutex
	f      *os.File
	tail   []Record
	lines  int
	nextID int64
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path, retain: cfg.Retain, rename: os.Rename}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		log.Warn("audit file unreadable, starting fresh tail", logx.Err(err))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	return s, nil
}

func (s *fileStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		s.lines++
		if r.ID > s.nextID {
			s.nextID = r.ID
		}
		s.pushLocked(r)
	}
	return sc.Err()
}

func (s *fileStore) pushLocked(r Record) {
	s.tail = append(s.tail, r)
	if len(s.tail) > s.retain {
		s.tail = append(s.tail[:0:0], s.tail[len(s.tail)-s.retain:]...)
	}
}

func (s *fileStore) AppendBroadcast(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("audit file closed")
	}
	s.nextID++
	r.ID = s.nextID
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.lines++
	s.pushLocked(r)
	if s.lines > 2*s.retain {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("audit compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentBroadcasts(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.tail) {
		limit = len(s.tail)
	}
	out := make([]Record, 0, limit)
	for i := len(s.tail) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.tail[i])
	}
	return out, nil
}

// compactLocked rewrites the file with only the retained tail.
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range s.tail {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	// The append handle is reopened on every path below, so a failed
	// compaction leaves the store writable on the uncompacted file.
	closeErr := s.f.Close()
	var renameErr error
	if closeErr == nil {
		renameErr = s.rename(tmp, s.path)
	}
	if closeErr != nil || renameErr != nil {
		_ = os.Remove(tmp)
	}
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.f = nil
		return errors.Join(closeErr, renameErr, err)
	}
	s.f = nf
	if closeErr != nil || renameErr != nil {
		return errors.Join(closeErr, renameErr)
	}
	s.lines = len(s.tail)
	return nil
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
