// Package tasklog appends completed task records to a CSV ratings log. The
// log is the operator-facing artifact of a session and survives process
// restarts, so writes go straight to disk.
package tasklog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/crowdeval/mapseval/internal/model"
)

// Logger writes task records to a CSV file, one row per completed task.
type Logger struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *csv.Writer
	enc  *csvutil.Encoder
}

// Open opens or creates the ratings log at path. Appending to an existing
// log keeps its header; a fresh file gets one on the first record.
func Open(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "tasklog: create dir for %s", path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "tasklog: open %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, eris.Wrapf(err, "tasklog: stat %s", path)
	}

	w := csv.NewWriter(f)
	enc := csvutil.NewEncoder(w)
	enc.AutoHeader = info.Size() == 0

	zap.L().Info("tasklog: opened",
		zap.String("path", path),
		zap.Bool("resumed", info.Size() > 0),
	)

	return &Logger{path: path, f: f, w: w, enc: enc}, nil
}

// Append writes one task record and flushes it to disk.
func (l *Logger) Append(record model.TaskRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enc.Encode(record); err != nil {
		return eris.Wrap(err, "tasklog: encode record")
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return eris.Wrap(err, "tasklog: flush")
	}
	return nil
}

// Path returns the log file location.
func (l *Logger) Path() string {
	return l.path
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.w.Flush()
	if err := l.w.Error(); err != nil {
		l.f.Close()
		return eris.Wrap(err, "tasklog: flush on close")
	}
	if err := l.f.Close(); err != nil {
		return eris.Wrap(err, "tasklog: close")
	}
	return nil
}

// ReadAll loads every record from a ratings log, for the status and
// monitoring commands.
func ReadAll(path string) ([]model.TaskRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tasklog: open %s", path)
	}
	defer f.Close()

	dec, err := csvutil.NewDecoder(csv.NewReader(f))
	if err != nil {
		return nil, eris.Wrap(err, "tasklog: read header")
	}

	var records []model.TaskRecord
	if err := dec.Decode(&records); err != nil {
		return nil, eris.Wrap(err, "tasklog: decode records")
	}
	for i := range records {
		records[i].Duration = time.Duration(records[i].DurationSecs * float64(time.Second))
	}
	return records, nil
}
