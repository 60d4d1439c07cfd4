// Package feed writes BWRECORD announcements to the shared site log that
// the glftpd bot tails. Lines carry mIRC colour codes.
package feed

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
)

// NotAvailable stands in for an unknown set-at time.
const NotAvailable = "N/A"

// Feed appends lines to a log file.
type Feed struct {
	fs   afero.Fs
	path string
	eol  string
}

// New returns a Feed appending to path on fs. Every line is terminated by
// eol, which defaults to "\r\n" when empty.
func New(fs afero.Fs, path, eol string) *Feed {
	if eol == "" {
		eol = "\r\n"
	}
	return &Feed{fs: fs, path: path, eol: eol}
}

// Append writes line plus the terminator at the end of the log, creating
// the file if needed.
func (f *Feed) Append(line string) error {
	fh, err := f.fs.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening site log: %w", err)
	}
	if _, err := fh.Write([]byte(line + f.eol)); err != nil {
		_ = fh.Close()
		return fmt.Errorf("writing site log: %w", err)
	}
	return fh.Close()
}

// Ctime formats t like C's ctime(3), e.g. "Sun Mar  3 09:05:00 2024".
func Ctime(t time.Time) string {
	return t.Format(time.ANSIC)
}

// SetAt renders a record's set-at time, or NotAvailable when it is unknown.
func SetAt(t time.Time, err error) string {
	if err != nil || t.IsZero() {
		return NotAvailable
	}
	return Ctime(t.Local())
}

// RecordLine builds the announcement for a broken record. Rates are in
// KiB/s and printed in MiB/s with two decimals.
//
//	<ts> BWRECORD: "[BWRECORD] - [UP]: 0.09MB/s - (old: 0.08MB/s set at: N/A)"
func RecordLine(at time.Time, label string, newKiB, oldKiB int64, oldSetAt string) string {
	return fmt.Sprintf("%s BWRECORD: \"\x037[\x0314BWRECORD\x037] - \x037[\x0314%s\x037]\x030: %.2fMB/s - (old: %.2fMB/s set at: %s)\"",
		Ctime(at), label, float64(newKiB)/1024, float64(oldKiB)/1024, oldSetAt)
}
