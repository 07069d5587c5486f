// Package audit appends one CSV row per successful roast to a shared file.
package audit

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// TimestampLayout renders timestamps as ISO-8601 UTC with milliseconds.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Header is written once, as the first row of an empty file.
var Header = []string{"Timestamp", "Processor", "GPU", "Motherboard", "PSU", "RAM", "Storage", "Use Case", "Response"}

// Record is one accepted request and the text generated for it.
type Record struct {
	Timestamp   time.Time
	Processor   string
	GPU         string
	Motherboard string
	PSU         string
	RAM         string
	Storage     string
	UseCase     string
	Response    string
}

func (r Record) row() []string {
	return []string{
		r.Timestamp.UTC().Format(TimestampLayout),
		r.Processor,
		r.GPU,
		r.Motherboard,
		r.PSU,
		r.RAM,
		r.Storage,
		r.UseCase,
		r.Response,
	}
}

// WriteError reports a record that could not be persisted.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("audit write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Log is an append-only CSV file. Appends are serialized so rows never
// interleave, and each append reopens the file so a restart simply continues
// where the previous process stopped.
type Log struct {
	Path  string
	Clock func() time.Time

	mu sync.Mutex
}

// New returns a Log writing to path.
func New(path string) *Log {
	return &Log{Path: path}
}

// Append stamps rec with the current time and writes it. The timestamp is
// assigned under the lock so file order matches timestamp order.
func (l *Log) Append(ctx context.Context, rec Record) (err error) {
	if l == nil {
		return &WriteError{Err: errors.New("audit log is not initialized")}
	}
	if ctx != nil {
		if cerr := ctx.Err(); cerr != nil {
			return &WriteError{Path: l.Path, Err: cerr}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// #nosec G302 G304 -- audit path comes from operator configuration
	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &WriteError{Path: l.Path, Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &WriteError{Path: l.Path, Err: cerr}
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return &WriteError{Path: l.Path, Err: err}
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return &WriteError{Path: l.Path, Err: err}
		}
	}

	rec.Timestamp = l.now()
	if err := w.Write(rec.row()); err != nil {
		return &WriteError{Path: l.Path, Err: err}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return &WriteError{Path: l.Path, Err: err}
	}
	if err := f.Sync(); err != nil {
		return &WriteError{Path: l.Path, Err: err}
	}

	return nil
}

func (l *Log) now() time.Time {
	if l.Clock != nil {
		return l.Clock().UTC()
	}
	return time.Now().UTC()
}
