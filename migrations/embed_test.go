package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrationFS(names ...string) fstest.MapFS {
	m := fstest.MapFS{}
	for _, n := range names {
		m[n] = &fstest.MapFile{Data: []byte("SELECT 1;")}
	}

	return m
}

func TestList_FiltersNonConformingFiles(t *testing.T) {
	e := NewEmbedded(migrationFS(
		"001_create_events.up.sql",
		"001_create_events.down.sql",
		"README.md",
		"notes.sql",
		"01_short_sequence.up.sql",
	))

	files, err := e.List()

	require.NoError(t, err)
	assert.Equal(t, []string{
		"001_create_events.down.sql",
		"001_create_events.up.sql",
	}, files)
}

func TestValidate_EmbeddedMigrations(t *testing.T) {
	// The real embedded set must always pass validation.
	e := NewEmbedded(nil)

	require.NoError(t, e.Validate())
	assert.Greater(t, e.MaxSequence(), 0)
}

func TestValidate_EmptyFS(t *testing.T) {
	e := NewEmbedded(migrationFS())

	assert.ErrorIs(t, e.Validate(), ErrNoMigrations)
}

func TestValidate_Pairing(t *testing.T) {
	t.Run("missing down", func(t *testing.T) {
		e := NewEmbedded(migrationFS("001_create_events.up.sql"))

		err := e.Validate()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing down migration")
	})

	t.Run("missing up", func(t *testing.T) {
		e := NewEmbedded(migrationFS("001_create_events.down.sql"))

		err := e.Validate()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing up migration")
	})
}

func TestValidate_Sequence(t *testing.T) {
	t.Run("gap", func(t *testing.T) {
		e := NewEmbedded(migrationFS(
			"001_a.up.sql", "001_a.down.sql",
			"003_c.up.sql", "003_c.down.sql",
		))

		err := e.Validate()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "gap in migration sequence")
	})

	t.Run("does not start at one", func(t *testing.T) {
		e := NewEmbedded(migrationFS("002_b.up.sql", "002_b.down.sql"))

		err := e.Validate()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "should start with 001")
	})
}

func TestValidate_ChecksumMismatch(t *testing.T) {
	fsys := migrationFS("001_a.up.sql", "001_a.down.sql")
	e := NewEmbedded(fsys)

	require.NoError(t, e.Validate())

	fsys["001_a.up.sql"] = &fstest.MapFile{Data: []byte("ALTER TABLE tampered;")}

	err := e.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestParseFilename(t *testing.T) {
	info, err := parseFilename("004_create_account_timeline_summary.up.sql")

	require.NoError(t, err)
	assert.Equal(t, 4, info.Sequence)
	assert.Equal(t, "create_account_timeline_summary", info.Name)
	assert.Equal(t, "up", info.Direction)

	_, err = parseFilename("invalid.sql")
	require.Error(t, err)
}

func TestMaxSequence(t *testing.T) {
	e := NewEmbedded(migrationFS(
		"001_a.up.sql", "001_a.down.sql",
		"002_b.up.sql", "002_b.down.sql",
	))

	assert.Equal(t, 2, e.MaxSequence())
}
