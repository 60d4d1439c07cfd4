// Package store persists the best-ever bandwidth records.
// Records live either in one plain-text file each (the glftpd layout) or
// in a small SQLite database.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/vesaa/bwrecord/internal/config"
)

// Kind names one of the three tracked records.
type Kind string

const (
	Up    Kind = "up"
	Dn    Kind = "dn"
	Total Kind = "total"
)

// Kinds lists every record in the order they are checked and logged.
var Kinds = []Kind{Up, Dn, Total}

// Label is the upper-case tag used in site log lines.
func (k Kind) Label() string {
	switch k {
	case Up:
		return "UP"
	case Dn:
		return "DN"
	case Total:
		return "TOTAL"
	}
	return string(k)
}

var (
	// ErrUnknownKind is returned for a Kind the store was not set up for.
	ErrUnknownKind = errors.New("unknown record kind")
	// ErrNotFound is returned when a record has never been written.
	ErrNotFound = errors.New("record not found")
)

// Store reads and writes record values. Callers pick their own defaults on
// error: the daemon treats an unreadable record as 0 and an unknown SetAt
// as "N/A".
type Store interface {
	Read(k Kind) (int64, error)
	Write(k Kind, value int64) error
	// SetAt is when the record was last written.
	SetAt(k Kind) (time.Time, error)
	Close() error
}

// Open returns the store selected by cfg.StoreDriver.
func Open(cfg config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case config.StoreFile, "":
		return NewFileStore(afero.NewOsFs(), map[Kind]string{
			Up:    cfg.RecordFileUp,
			Dn:    cfg.RecordFileDn,
			Total: cfg.RecordFileTotal,
		})
	case config.StoreSQLite:
		return OpenDB(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unsupported store_driver %q (use 'file' or 'sqlite')", cfg.StoreDriver)
	}
}
