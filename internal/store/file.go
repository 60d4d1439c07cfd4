package store

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// FileStore keeps each record as a decimal integer in its own file. The
// file's modification time doubles as the record's set-at time.
type FileStore struct {
	fs    afero.Fs
	paths map[Kind]string
}

// NewFileStore maps every Kind to a file path on fs.
func NewFileStore(fs afero.Fs, paths map[Kind]string) (*FileStore, error) {
	for _, k := range Kinds {
		if paths[k] == "" {
			return nil, fmt.Errorf("no record file configured for %s", k)
		}
	}
	cp := make(map[Kind]string, len(paths))
	for k, p := range paths {
		cp[k] = p
	}
	return &FileStore{fs: fs, paths: cp}, nil
}

func (s *FileStore) path(k Kind) (string, error) {
	p, ok := s.paths[k]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
	return p, nil
}

// Read parses the record file. Anything but plain digits is an error.
func (s *FileStore) Read(k Kind) (int64, error) {
	p, err := s.path(k)
	if err != nil {
		return 0, err
	}
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 63)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", p, err)
	}
	return int64(v), nil
}

// Write replaces the record file with value and a trailing newline.
func (s *FileStore) Write(k Kind, value int64) error {
	p, err := s.path(k)
	if err != nil {
		return err
	}
	if value < 0 {
		return fmt.Errorf("negative record %d for %s", value, k)
	}
	return afero.WriteFile(s.fs, p, []byte(strconv.FormatInt(value, 10)+"\n"), 0o644)
}

// SetAt returns the record file's modification time.
func (s *FileStore) SetAt(k Kind) (time.Time, error) {
	p, err := s.path(k)
	if err != nil {
		return time.Time{}, err
	}
	st, err := s.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return time.Time{}, err
	}
	return st.ModTime(), nil
}

// Close is a no-op; files are opened per call.
func (s *FileStore) Close() error { return nil }
