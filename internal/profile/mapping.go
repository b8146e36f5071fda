package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/manyfold/manyfold/internal/fsop"
)

// Mapping assigns each source path of a profile a short stable folder name
// inside every destination root. A source basename says nothing about
// where its backup lives, so the mapping is what keeps old backups
// reachable: once assigned, a name survives every synchronization, even
// when the user renames the source folder itself.
type Mapping struct {
	BackupID int
	entries  map[string]string
}

// sidecarDoc is the persisted form of a Mapping, written into each
// destination root.
type sidecarDoc struct {
	BackupID int               `json:"backupid"`
	Mapping  map[string]string `json:"mapping"`
}

// NewMapping returns an empty Mapping.
func NewMapping() *Mapping {
	return &Mapping{entries: make(map[string]string)}
}

// Generate assigns fresh names to every source of the profile and adopts
// its ID. Any previous content is discarded.
func (m *Mapping) Generate(p Profile) {
	m.BackupID = p.ID
	m.entries = make(map[string]string, len(p.Sources))

	for _, source := range p.Sources {
		m.entries[source] = m.newName()
	}
}

// Synchronize brings the mapping in line with the profile: names of
// sources no longer present are dropped, new sources get the smallest
// unused name, and a surviving source is never renumbered.
func (m *Mapping) Synchronize(p Profile) {
	current := make(map[string]struct{}, len(p.Sources))
	for _, source := range p.Sources {
		current[source] = struct{}{}
	}

	for source := range m.entries {
		if _, ok := current[source]; !ok {
			delete(m.entries, source)
		}
	}

	for _, source := range p.Sources {
		if _, ok := m.entries[source]; !ok {
			m.entries[source] = m.newName()
		}
	}
}

// Get returns the destination folder name assigned to source, or the empty
// string when none is.
func (m *Mapping) Get(source string) string {
	return m.entries[source]
}

// Len returns how many sources are mapped.
func (m *Mapping) Len() int {
	return len(m.entries)
}

// newName returns the smallest three-hex-digit name not in use, starting
// at "001".
func (m *Mapping) newName() string {
	used := make(map[string]struct{}, len(m.entries))
	for _, name := range m.entries {
		used[name] = struct{}{}
	}

	for n := 1; ; n++ {
		name := fmt.Sprintf("%03X", n)
		if _, taken := used[name]; !taken {
			return name
		}
	}
}

// Save writes the sidecar document, indented with sorted keys.
func (m *Mapping) Save(fsys afero.Fs, path string) error {
	data, err := json.MarshalIndent(sidecarDoc{BackupID: m.BackupID, Mapping: m.entries}, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode mapping: %w", err)
	}

	if err := afero.WriteFile(fsys, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write mapping: %q (%w)", path, err)
	}

	return nil
}

// Load reads a sidecar document. It reports false instead of failing when
// the file is missing, malformed or a symlink; a symlinked sidecar is
// never followed.
func (m *Mapping) Load(fsys afero.Fs, path string) bool {
	fi, err := fsop.Lstat(fsys, path)
	if err != nil || fi.IsDir() || fi.Mode()&os.ModeSymlink != 0 {
		return false
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return false
	}

	var doc sidecarDoc
	if err := json.Unmarshal(data, &doc); err != nil || doc.Mapping == nil {
		return false
	}

	m.BackupID = doc.BackupID
	m.entries = doc.Mapping

	return true
}

// TryLoad scans the candidate destination roots for a sidecar file with
// the configured name and loads the first one that works. Symlinked roots
// are skipped.
func (m *Mapping) TryLoad(fsys afero.Fs, log *slog.Logger, dirs []string, name string) bool {
	if len(dirs) == 0 || name == "" {
		return false
	}

	for _, dir := range dirs {
		if !usableMapDir(fsys, dir) {
			continue
		}

		path := filepath.Join(dir, name)
		if m.Load(fsys, path) {
			log.Info("loaded source mapping", "path", path)

			return true
		}
	}

	return false
}

// TrySave writes the sidecar into every candidate destination root that is
// usable, reporting whether at least one write succeeded.
func (m *Mapping) TrySave(fsys afero.Fs, log *slog.Logger, dirs []string, name string) bool {
	if len(dirs) == 0 || name == "" {
		return false
	}

	saved := false
	for _, dir := range dirs {
		if !usableMapDir(fsys, dir) {
			continue
		}

		path := filepath.Join(dir, name)
		if err := m.Save(fsys, path); err != nil {
			log.Warn("failed to save source mapping", "path", path, "error", err)

			continue
		}

		log.Info("saved source mapping", "path", path)
		saved = true
	}

	return saved
}

func usableMapDir(fsys afero.Fs, dir string) bool {
	fi, err := fsop.Lstat(fsys, dir)

	return err == nil && fi.IsDir() && fi.Mode()&os.ModeSymlink == 0
}
