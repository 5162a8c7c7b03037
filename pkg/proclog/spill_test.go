package proclog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spillFilePath(t *testing.T, dir string) string {
	t.Helper()

	return filepath.Join(dir, "spill-"+time.Now().UTC().Format("2006-01-02")+".ndjson")
}

func countSpillLines(t *testing.T, path string) int {
	t.Helper()

	file, err := os.Open(path) //nolint:gosec
	require.NoError(t, err)

	defer func() {
		_ = file.Close()
	}()

	count := 0
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))

		count++
	}

	require.NoError(t, scanner.Err())

	return count
}

func TestFileSpillSink_IdleFlush(t *testing.T) {
	dir := t.TempDir()

	sink, err := NewFileSpillSink(dir)
	require.NoError(t, err)

	defer func() {
		_ = sink.Close()
	}()

	require.NoError(t, sink.Spill(sampleEvent()))
	require.NoError(t, sink.Spill(sampleEvent()))

	path := spillFilePath(t, dir)

	// Nothing is written before the idle window elapses.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)

		return err == nil
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, countSpillLines(t, path))
}

func TestFileSpillSink_ThresholdFlush(t *testing.T) {
	dir := t.TempDir()

	sink, err := NewFileSpillSink(dir)
	require.NoError(t, err)

	defer func() {
		_ = sink.Close()
	}()

	for i := 0; i < spillFlushCount; i++ {
		require.NoError(t, sink.Spill(sampleEvent()))
	}

	// The threshold flush is synchronous, no idle wait needed.
	assert.Equal(t, spillFlushCount, countSpillLines(t, spillFilePath(t, dir)))
}

func TestFileSpillSink_CloseFlushesAndRejectsSpills(t *testing.T) {
	dir := t.TempDir()

	sink, err := NewFileSpillSink(dir)
	require.NoError(t, err)

	require.NoError(t, sink.Spill(sampleEvent()))
	require.NoError(t, sink.Close())

	assert.Equal(t, 1, countSpillLines(t, spillFilePath(t, dir)))

	assert.ErrorIs(t, sink.Spill(sampleEvent()), os.ErrClosed)
	assert.NoError(t, sink.Close(), "double close is a no-op")
}

func TestFileSpillSink_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	sink, err := NewFileSpillSink(dir)
	require.NoError(t, err)

	want := sampleEvent()
	want.IdempotencyKey = "idem-42"

	require.NoError(t, sink.Spill(want))
	require.NoError(t, sink.Close())

	file, err := os.ReadFile(spillFilePath(t, dir)) //nolint:gosec
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(file, &got))

	assert.Equal(t, want.CorrelationID, got.CorrelationID)
	assert.Equal(t, want.IdempotencyKey, got.IdempotencyKey)
	assert.Equal(t, want.EventType, got.EventType)
}
