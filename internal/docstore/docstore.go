// Package docstore persists whole JSON documents under slash-separated keys.
//
// A document is always read as a whole and replaced as a whole. No backend
// offers a compare-and-swap across processes: two writers that read the same
// document before either writes will race, and the last write wins. Callers
// that need to detect such races guard their writes with a status
// precondition (see package queue).
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agusx1211/switchyard/internal/debug"
)

// ErrNotFound is returned when a key has no document.
var ErrNotFound = errors.New("document not found")

// IOError wraps a failure of the underlying storage medium.
type IOError struct {
	Op  string
	Key string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("docstore: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// CorruptionError reports stored bytes that do not parse as the expected schema.
type CorruptionError struct {
	Key string
	Err error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("docstore: corrupt document %s: %v", e.Key, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// IsCorrupt reports whether err is (or wraps) a CorruptionError.
func IsCorrupt(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}

// IsIO reports whether err is (or wraps) an IOError.
func IsIO(err error) bool {
	var ie *IOError
	return errors.As(err, &ie)
}

// Document is a stored value together with its storage metadata.
type Document struct {
	Key       string
	Data      []byte
	Version   int64 // backend-specific, informational only
	UpdatedAt time.Time
}

// Reader is the read side of a store. Components that must not write a
// document are handed a Reader.
//
// Read returns the raw bytes without interpreting them; schema checks happen
// in Decode so a writer still holds the bytes it may need to quarantine.
type Reader interface {
	Read(ctx context.Context, key string) (*Document, error)
	Exists(ctx context.Context, key string) (bool, error)
	// List returns the sorted keys that start with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Store is a full read/write document store.
type Store interface {
	Reader
	Write(ctx context.Context, key string, data []byte) error
	Close() error
}

// Appender is implemented by backends with a native append for logs.
type Appender interface {
	AppendRecord(ctx context.Context, key string, record []byte) error
}

// ValidateKey rejects keys that could escape the store namespace.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("docstore: empty key")
	}
	if strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return fmt.Errorf("docstore: key %q must not start or end with /", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("docstore: invalid key %q", key)
		}
	}
	return nil
}

// Decode unmarshals a document, reporting parse failures as corruption.
func Decode(doc *Document, v any) error {
	if err := json.Unmarshal(doc.Data, v); err != nil {
		return &CorruptionError{Key: doc.Key, Err: err}
	}
	return nil
}

// Load reads key into v. A missing or corrupt document leaves v untouched and
// reports found=false; corruption is logged. Only IO failures are returned.
func Load(ctx context.Context, r Reader, key string, v any) (found bool, err error) {
	doc, err := r.Read(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := Decode(doc, v); err != nil {
		debug.LogKV("docstore", "corrupt document treated as empty", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

// Save marshals v and writes it under key.
func Save(ctx context.Context, s Store, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.Write(ctx, key, data)
}

// Quarantine copies the raw bytes of a corrupt document to a sibling key so
// a writer about to replace it does not destroy the evidence.
func Quarantine(ctx context.Context, s Store, key string, raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	dst := fmt.Sprintf("%s.corrupt-%d", key, time.Now().UTC().UnixNano())
	if err := s.Write(ctx, dst, raw); err != nil {
		return "", err
	}
	debug.LogKV("docstore", "quarantined corrupt document", "key", key, "copy", dst)
	return dst, nil
}

// Append adds one JSON record to an append-only log document. Backends
// without a native append keep the log as a JSON array that is rewritten.
func Append(ctx context.Context, s Store, key string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding record for %s: %w", key, err)
	}
	if a, ok := s.(Appender); ok {
		return a.AppendRecord(ctx, key, data)
	}
	mu := DocLock(s, key)
	mu.Lock()
	defer mu.Unlock()

	var records []json.RawMessage
	doc, err := s.Read(ctx, key)
	switch {
	case err == nil:
		if derr := json.Unmarshal(doc.Data, &records); derr != nil {
			if _, qerr := Quarantine(ctx, s, key, doc.Data); qerr != nil {
				return qerr
			}
			records = nil
		}
	case errors.Is(err, ErrNotFound):
	default:
		return err
	}
	records = append(records, data)
	out, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return s.Write(ctx, key, out)
}

// ReadRecords returns every record of a log written with Append.
func ReadRecords(ctx context.Context, r Reader, key string) ([]json.RawMessage, error) {
	if lr, ok := r.(interface {
		ReadRecords(ctx context.Context, key string) ([]json.RawMessage, error)
	}); ok {
		return lr.ReadRecords(ctx, key)
	}
	var records []json.RawMessage
	if _, err := Load(ctx, r, key, &records); err != nil {
		return nil, err
	}
	return records, nil
}
