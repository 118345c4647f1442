package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a requested document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPath is returned for paths with empty or reserved segments.
	ErrInvalidPath = errors.New("invalid path")

	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("store closed")
)

// PersistenceError reports a failed store read or write.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Child is one entry of a pushed list.
type Child struct {
	Key   string
	Value json.RawMessage
}

// Snapshot is the state of a document delivered to subscribers.
// Exists is false once the document has been deleted or was never written.
type Snapshot struct {
	Path   string
	Value  json.RawMessage
	Exists bool
}

const reservedSegmentChars = ".#$[]/"

// Path joins segments into a document path, rejecting empty segments and
// segments containing reserved characters.
func Path(segments ...string) (string, error) {
	if len(segments) == 0 {
		return "", fmt.Errorf("%w: no segments", ErrInvalidPath)
	}
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			return "", fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, strings.Join(segments, "/"))
		}
		if strings.ContainsAny(seg, reservedSegmentChars) {
			return "", fmt.Errorf("%w: segment %q contains one of %q", ErrInvalidPath, seg, reservedSegmentChars)
		}
	}
	return strings.Join(segments, "/"), nil
}

func parentOf(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	_, err := Path(strings.Split(path, "/")...)
	return err
}
