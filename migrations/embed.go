// Package migrations embeds the SQL schema migrations and provides a
// validated runner over golang-migrate. Embedding via go:embed gives
// zero-config deployment: the migrator binary carries its own schema.
package migrations

import (
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embeddedFiles embed.FS

// Migration filename standard: 001_name.up.sql / 001_name.down.sql.
var filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// ErrNoMigrations is returned when the embedded filesystem holds no
// migration files.
var ErrNoMigrations = errors.New("no embedded migration files found")

type (
	// Embedded wraps the embedded migration filesystem with validation:
	// filename format, up/down pairing, gap-free sequencing, and checksum
	// integrity across repeated validations in one process.
	Embedded struct {
		fs        fs.FS
		checksums map[string]string // filename -> sha256, set on first validation
	}

	// FileInfo contains the parsed components of a migration filename.
	FileInfo struct {
		Sequence  int
		Name      string
		Direction string // "up" or "down"
		Filename  string
	}
)

// NewEmbedded creates an Embedded over the given filesystem.
// Pass nil to use the migrations compiled into the binary.
func NewEmbedded(filesystem fs.FS) *Embedded {
	if filesystem == nil {
		filesystem = embeddedFiles
	}

	return &Embedded{
		fs:        filesystem,
		checksums: make(map[string]string),
	}
}

// FS returns the underlying migration filesystem for golang-migrate's iofs source.
func (e *Embedded) FS() fs.FS {
	return e.fs
}

// List returns all migration files conforming to the naming standard,
// lexicographically sorted. Non-conforming files are ignored so stray
// files can never be applied by accident.
func (e *Embedded) List() ([]string, error) {
	entries, err := fs.ReadDir(e.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()

		if filepath.Ext(filename) == ".sql" && filenameRegex.MatchString(filename) {
			files = append(files, filename)
		}
	}

	sort.Strings(files)

	return files, nil
}

// Validate performs the full validation pass: readable files, filename
// format, up/down pairing, sequence continuity, and checksum integrity
// against any previously recorded checksums.
func (e *Embedded) Validate() error {
	files, err := e.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return ErrNoMigrations
	}

	contents := make(map[string][]byte, len(files))

	for _, file := range files {
		content, err := fs.ReadFile(e.fs, file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		contents[file] = content
	}

	if err := e.validatePairing(files); err != nil {
		return err
	}

	if err := e.validateSequence(files); err != nil {
		return err
	}

	if len(e.checksums) > 0 {
		for _, file := range files {
			current := checksum(contents[file])
			if stored, ok := e.checksums[file]; ok && stored != current {
				return fmt.Errorf("checksum mismatch for %s: file has been modified", file)
			}
		}
	}

	for _, file := range files {
		e.checksums[file] = checksum(contents[file])
	}

	return nil
}

// MaxSequence returns the highest migration sequence number embedded in
// this binary, or 0 when none parse.
func (e *Embedded) MaxSequence() int {
	files, err := e.List()
	if err != nil {
		return 0
	}

	maxSeq := 0

	for _, filename := range files {
		if info, err := parseFilename(filename); err == nil && info.Sequence > maxSeq {
			maxSeq = info.Sequence
		}
	}

	return maxSeq
}

// parseFilename extracts the components of a migration filename.
func parseFilename(filename string) (*FileInfo, error) {
	matches := filenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"invalid migration filename format: %s (expected: 001_name.up.sql or 001_name.down.sql)",
			filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &FileInfo{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

// validatePairing ensures every up migration has its down counterpart and
// vice versa.
func (e *Embedded) validatePairing(files []string) error {
	directions := make(map[string]map[string]bool)

	for _, file := range files {
		info, err := parseFilename(file)
		if err != nil {
			return err
		}

		key := fmt.Sprintf("%03d_%s", info.Sequence, info.Name)
		if directions[key] == nil {
			directions[key] = make(map[string]bool)
		}

		directions[key][info.Direction] = true
	}

	for key, dirs := range directions {
		if !dirs["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !dirs["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures sequences start at 001 with no gaps.
func (e *Embedded) validateSequence(files []string) error {
	seen := make(map[int]bool)

	for _, file := range files {
		info, err := parseFilename(file)
		if err != nil {
			return err
		}

		seen[info.Sequence] = true
	}

	sequences := make([]int, 0, len(seen))
	for seq := range seen {
		sequences = append(sequences, seq)
	}

	sort.Ints(sequences)

	if len(sequences) == 0 {
		return nil
	}

	if sequences[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if sequences[i] != sequences[i-1]+1 {
			return fmt.Errorf(
				"gap in migration sequence: expected %03d, found %03d",
				sequences[i-1]+1,
				sequences[i],
			)
		}
	}

	return nil
}

func checksum(content []byte) string {
	hash := sha256.Sum256(content)

	return fmt.Sprintf("%x", hash)
}
