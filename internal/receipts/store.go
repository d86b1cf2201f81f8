// Package receipts persists uploaded receipt files under a fixed directory.
// Expenses reference receipts by bare filename only; the reference is weak,
// so a stored name whose file is gone must not break listing or export.
package receipts

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrUnsafeFilename is returned when an uploaded filename reduces to nothing
// safe to store.
var ErrUnsafeFilename = errors.New("unsafe filename")

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

type Store struct {
	dir string
}

// NewStore ensures dir exists and returns a store rooted there.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create receipts directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory receipts are stored under.
func (s *Store) Dir() string {
	return s.dir
}

// SanitizeFilename strips directory components and replaces anything outside
// [A-Za-z0-9_.-] with underscores. Names that reduce to empty or dot-only
// strings are rejected so a stored name can never traverse out of the
// receipts directory.
func SanitizeFilename(name string) (string, error) {
	// Drop any path the client sent, whichever separator it used.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "", ErrUnsafeFilename
	}
	return name, nil
}

// Save writes the uploaded content under the sanitized filename and returns
// the stored name. The caller persists the name on the expense row only after
// Save succeeds, so a failed write never leaves a row pointing at a file that
// was never created.
func (s *Store) Save(name string, r io.Reader) (string, error) {
	safe, err := SanitizeFilename(name)
	if err != nil {
		return "", err
	}

	dst, err := os.Create(filepath.Join(s.dir, safe))
	if err != nil {
		return "", fmt.Errorf("create receipt file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		return "", fmt.Errorf("write receipt file: %w", err)
	}
	return safe, nil
}
