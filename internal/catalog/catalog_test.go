package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procpulse-io/procpulse/internal/event"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ".procpulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_ValidCatalog(t *testing.T) {
	path := writeCatalog(t, `
process_definitions:
  - process_name: card-replacement
    owning_team: cards
    expected_steps: 5
    sla_seconds: 3600
    description: Replace a lost or stolen card
  - process_name: account-open
    owning_team: onboarding
`)

	cat, err := Load(path)

	require.NoError(t, err)
	require.Len(t, cat.ProcessDefinitions, 2)
	assert.Equal(t, "card-replacement", cat.ProcessDefinitions[0].ProcessName)
	assert.Equal(t, 5, cat.ProcessDefinitions[0].ExpectedSteps)
	assert.Equal(t, 3600, cat.ProcessDefinitions[0].SLASeconds)
	assert.Equal(t, "onboarding", cat.ProcessDefinitions[1].OwningTeam)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cat, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.NoError(t, err)
	assert.Empty(t, cat.ProcessDefinitions)
}

func TestLoad_InvalidYAMLDegradesGracefully(t *testing.T) {
	path := writeCatalog(t, "process_definitions: [not: {valid")

	cat, err := Load(path)

	require.NoError(t, err)
	assert.Empty(t, cat.ProcessDefinitions)
}

func TestLoad_DropsEntriesWithoutName(t *testing.T) {
	path := writeCatalog(t, `
process_definitions:
  - process_name: keep-me
  - owning_team: orphans
`)

	cat, err := Load(path)

	require.NoError(t, err)
	require.Len(t, cat.ProcessDefinitions, 1)
	assert.Equal(t, "keep-me", cat.ProcessDefinitions[0].ProcessName)
}

func TestLoadFromEnv(t *testing.T) {
	path := writeCatalog(t, `
process_definitions:
  - process_name: from-env
`)
	t.Setenv(ConfigPathEnvVar, path)

	cat, err := LoadFromEnv()

	require.NoError(t, err)
	require.Len(t, cat.ProcessDefinitions, 1)
	assert.Equal(t, "from-env", cat.ProcessDefinitions[0].ProcessName)
}

type fakeDefinitionStore struct {
	upserted []event.ProcessDefinition
	err      error
}

func (f *fakeDefinitionStore) UpsertDefinition(_ context.Context, def *event.ProcessDefinition) error {
	if f.err != nil {
		return f.err
	}

	f.upserted = append(f.upserted, *def)

	return nil
}

func (f *fakeDefinitionStore) GetDefinition(_ context.Context, _ string) (*event.ProcessDefinition, error) {
	return nil, nil
}

func (f *fakeDefinitionStore) ListDefinitions(_ context.Context) ([]event.ProcessDefinition, error) {
	return f.upserted, nil
}

func TestSeed(t *testing.T) {
	cat := &Catalog{ProcessDefinitions: []Entry{
		{ProcessName: "a", OwningTeam: "t1"},
		{ProcessName: "b", ExpectedSteps: 3},
	}}

	store := &fakeDefinitionStore{}

	require.NoError(t, cat.Seed(context.Background(), store))
	require.Len(t, store.upserted, 2)
	assert.Equal(t, "a", store.upserted[0].ProcessName)
	assert.Equal(t, 3, store.upserted[1].ExpectedSteps)
}

func TestSeed_StoreFailure(t *testing.T) {
	cat := &Catalog{ProcessDefinitions: []Entry{{ProcessName: "a"}}}
	store := &fakeDefinitionStore{err: errors.New("boom")}

	err := cat.Seed(context.Background(), store)

	assert.ErrorIs(t, err, ErrSeedFailed)
}
