// Package catalog loads the process-definition catalog from .procpulse.yaml.
//
// The catalog is a static list of known process names with owning team,
// expected step count and SLA. It is seeded into the process_definitions
// table at startup so the API can serve descriptions without producers
// having to register anything.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/procpulse-io/procpulse/internal/config"
	"github.com/procpulse-io/procpulse/internal/event"
)

// DefaultConfigPath is the default location for the catalog file.
// Uses hidden file format following common tool conventions (.eslintrc, .prettierrc, etc.).
const DefaultConfigPath = ".procpulse.yaml"

// ConfigPathEnvVar is the environment variable name for a custom catalog path.
const ConfigPathEnvVar = "PROCPULSE_CATALOG_PATH"

// ErrSeedFailed is returned when catalog entries cannot be written to the store.
var ErrSeedFailed = errors.New("catalog seeding failed")

type (
	// Catalog holds process definitions loaded from YAML.
	Catalog struct {
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		ProcessDefinitions []Entry `yaml:"process_definitions"`
	}

	// Entry is one catalog row as written in the YAML file.
	Entry struct {
		ProcessName   string `yaml:"process_name"`   //nolint:tagliatelle
		OwningTeam    string `yaml:"owning_team"`    //nolint:tagliatelle
		ExpectedSteps int    `yaml:"expected_steps"` //nolint:tagliatelle
		SLASeconds    int    `yaml:"sla_seconds"`    //nolint:tagliatelle
		Description   string `yaml:"description"`
	}
)

// Load reads the catalog from a YAML file at the given path.
//
// Behavior:
//   - Returns an empty catalog (not an error) if the file doesn't exist -
//     the catalog is optional
//   - Returns an empty catalog + logs a warning if the YAML is invalid
//     (graceful degradation)
//   - Returns the populated catalog on success
//
// Entries without a process name are dropped with a warning.
func Load(path string) (*Catalog, error) {
	cat := &Catalog{}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Catalog file not found, continuing without process definitions",
				slog.String("path", path))

			return cat, nil
		}

		slog.Warn("Failed to read catalog file, continuing without process definitions",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cat, nil
	}

	if len(data) == 0 {
		return cat, nil
	}

	if err := yaml.Unmarshal(data, cat); err != nil {
		slog.Warn("Failed to parse catalog file, continuing without process definitions",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Catalog{}, nil
	}

	valid := make([]Entry, 0, len(cat.ProcessDefinitions))

	for _, entry := range cat.ProcessDefinitions {
		if strings.TrimSpace(entry.ProcessName) == "" {
			slog.Warn("Dropping catalog entry without process_name",
				slog.String("path", path))

			continue
		}

		valid = append(valid, entry)
	}

	cat.ProcessDefinitions = valid

	return cat, nil
}

// LoadFromEnv loads the catalog from the path in PROCPULSE_CATALOG_PATH,
// falling back to .procpulse.yaml in the current directory.
func LoadFromEnv() (*Catalog, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return Load(path)
}

// Seed upserts every catalog entry into the definition store. Re-seeding
// the same file on every startup is idempotent.
func (c *Catalog) Seed(ctx context.Context, store event.DefinitionStore) error {
	for _, entry := range c.ProcessDefinitions {
		def := &event.ProcessDefinition{
			ProcessName:   entry.ProcessName,
			OwningTeam:    entry.OwningTeam,
			ExpectedSteps: entry.ExpectedSteps,
			SLASeconds:    entry.SLASeconds,
			Description:   entry.Description,
		}

		if err := store.UpsertDefinition(ctx, def); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSeedFailed, entry.ProcessName, err)
		}
	}

	return nil
}
