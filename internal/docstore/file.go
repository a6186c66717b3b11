package docstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore keeps one JSON file per key under root. Logs written through
// AppendRecord live next to documents as JSON-lines files.
type FileStore struct {
	root string
	mu   sync.RWMutex
}

func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, &IOError{Op: "init", Key: root, Err: err}
	}
	return &FileStore{root: root}, nil
}

// Root returns the directory holding the documents.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) docPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key)+".json")
}

func (s *FileStore) logPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key)+".jsonl")
}

func (s *FileStore) Read(ctx context.Context, key string) (*Document, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.docPath(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, &IOError{Op: "read", Key: key, Err: err}
	}
	doc := &Document{Key: key, Data: data}
	if info, err := os.Stat(path); err == nil {
		doc.UpdatedAt = info.ModTime().UTC()
		doc.Version = info.ModTime().UnixNano()
	}
	return doc, nil
}

// Write replaces the document by writing a temp file in the same directory
// and renaming it over the target, so readers never observe a torn file.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.docPath(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &IOError{Op: "write", Key: key, Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &IOError{Op: "write", Key: key, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &IOError{Op: "write", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &IOError{Op: "write", Key: key, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &IOError{Op: "write", Key: key, Err: err}
	}
	return nil
}

func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(s.docPath(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, &IOError{Op: "stat", Key: key, Err: err}
}

func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), ".json")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, &IOError{Op: "list", Key: prefix, Err: err}
	}
	sort.Strings(keys)
	return keys, nil
}

// AppendRecord appends one JSON line. O_APPEND writes of a single line are
// not interleaved by concurrent appenders on local filesystems.
func (s *FileStore) AppendRecord(ctx context.Context, key string, record []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	path := s.logPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &IOError{Op: "append", Key: key, Err: err}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return &IOError{Op: "append", Key: key, Err: err}
	}
	defer f.Close()

	line := append(bytes.TrimSpace(record), '\n')
	if _, err := f.Write(line); err != nil {
		return &IOError{Op: "append", Key: key, Err: err}
	}
	return nil
}

// ReadRecords returns the records of a JSON-lines log. Lines that are not
// valid JSON are skipped.
func (s *FileStore) ReadRecords(ctx context.Context, key string) ([]json.RawMessage, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(s.logPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &IOError{Op: "read", Key: key, Err: err}
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		records = append(records, json.RawMessage(append([]byte(nil), line...)))
	}
	if err := scanner.Err(); err != nil {
		return nil, &IOError{Op: "read", Key: key, Err: err}
	}
	return records, nil
}

// Dirs returns the directories currently holding documents whose key starts
// with prefix, for file watchers.
func (s *FileStore) Dirs(prefix string) []string {
	base := filepath.Join(s.root, filepath.FromSlash(strings.TrimSuffix(prefix, "/")))
	if info, err := os.Stat(base); err == nil && info.IsDir() {
		return []string{base}
	}
	return []string{filepath.Dir(base)}
}
