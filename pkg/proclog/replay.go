package proclog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// replayedSuffix marks spill files whose events have been re-enqueued.
const replayedSuffix = ".replayed"

// Replayer periodically re-reads spilled NDJSON files and feeds their
// events back through the logger while the circuit breaker is closed.
// Fully replayed files are renamed so they are not replayed twice; a file
// abandoned mid-replay is retried whole on the next tick, with the
// idempotency key deduplicating any events that did get through.
//
// The current UTC day's file is never touched, since the sink may still be
// appending to it.
type Replayer struct {
	logger   *Logger
	dir      string
	interval time.Duration
}

// NewReplayer creates a replayer over the given spill directory.
func NewReplayer(logger *Logger, dir string, interval time.Duration) *Replayer {
	return &Replayer{
		logger:   logger,
		dir:      dir,
		interval: interval,
	}
}

// Run replays on each tick until ctx is cancelled.
func (r *Replayer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = r.replayOnce()
		}
	}
}

// replayOnce replays every eligible spill file. Skipped entirely while the
// breaker is open: re-enqueueing would only feed a failing sender.
func (r *Replayer) replayOnce() error {
	if r.logger.circuitOpen() {
		return nil
	}

	pattern := filepath.Join(r.dir, "spill-*.ndjson")

	files, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("listing spill files: %w", err)
	}

	sort.Strings(files)

	today := "spill-" + time.Now().UTC().Format("2006-01-02") + ".ndjson"

	for _, path := range files {
		if filepath.Base(path) == today {
			continue
		}

		if err := r.replayFile(path); err != nil {
			return err
		}
	}

	return nil
}

func (r *Replayer) replayFile(path string) error {
	file, err := os.Open(path) //nolint:gosec
	if err != nil {
		return fmt.Errorf("opening spill file: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			// A corrupt line is skipped; the rest of the file still replays.
			continue
		}

		if !r.logger.Log(e) {
			// Queue full again. Abandon this pass and retry the whole file
			// on the next tick.
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading spill file: %w", err)
	}

	if err := os.Rename(path, path+replayedSuffix); err != nil {
		return fmt.Errorf("marking spill file replayed: %w", err)
	}

	return nil
}
