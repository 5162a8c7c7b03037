package proclog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// spillFlushCount forces a flush once this many events are buffered.
	spillFlushCount = 100

	// spillFlushIdle flushes a partial buffer after this much idle time.
	spillFlushIdle = 100 * time.Millisecond

	spillFilePerm = 0o600
	spillDirPerm  = 0o750
)

type (
	// SpillSink durably absorbs events the logger cannot deliver.
	SpillSink interface {
		Spill(e Event) error
		Close() error
	}

	// FileSpillSink writes newline-delimited JSON to dated files under a
	// directory. Writes are debounced: an immediate flush at
	// spillFlushCount buffered events, otherwise after spillFlushIdle of
	// inactivity.
	FileSpillSink struct {
		dir string

		mu     sync.Mutex
		buf    []Event
		timer  *time.Timer
		closed bool
	}
)

// NewFileSpillSink creates the spill directory if needed and returns a sink
// writing to it.
func NewFileSpillSink(dir string) (*FileSpillSink, error) {
	if err := os.MkdirAll(dir, spillDirPerm); err != nil {
		return nil, fmt.Errorf("creating spill directory: %w", err)
	}

	return &FileSpillSink{dir: dir}, nil
}

// Spill buffers the event for the next debounced flush.
func (s *FileSpillSink) Spill(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return os.ErrClosed
	}

	s.buf = append(s.buf, e)

	if len(s.buf) >= spillFlushCount {
		return s.flushLocked()
	}

	if s.timer == nil {
		s.timer = time.AfterFunc(spillFlushIdle, s.idleFlush)
	} else {
		s.timer.Reset(spillFlushIdle)
	}

	return nil
}

// Close flushes any buffered events and stops the idle timer. The sink
// rejects further spills afterwards.
func (s *FileSpillSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	if s.timer != nil {
		s.timer.Stop()
	}

	return s.flushLocked()
}

func (s *FileSpillSink) idleFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	_ = s.flushLocked()
}

// flushLocked appends the buffer to today's spill file. Caller holds s.mu.
func (s *FileSpillSink) flushLocked() error {
	if len(s.buf) == 0 {
		return nil
	}

	path := s.currentFile()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, spillFilePerm) //nolint:gosec
	if err != nil {
		return fmt.Errorf("opening spill file: %w", err)
	}

	encoder := json.NewEncoder(file)

	for i := range s.buf {
		if err := encoder.Encode(&s.buf[i]); err != nil {
			_ = file.Close()

			return fmt.Errorf("writing spill file: %w", err)
		}
	}

	s.buf = s.buf[:0]

	if err := file.Close(); err != nil {
		return fmt.Errorf("closing spill file: %w", err)
	}

	return nil
}

// currentFile returns today's spill file path. A new UTC day starts a new
// file, which also gives the replayer a safe boundary: it only touches
// files from previous days.
func (s *FileSpillSink) currentFile() string {
	name := "spill-" + time.Now().UTC().Format("2006-01-02") + ".ndjson"

	return filepath.Join(s.dir, name)
}
