// Package profile holds the user-facing backup data: named profiles of
// source and destination directories, and the persistent mapping of source
// paths onto stable destination folder names.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/manyfold/manyfold/internal/fsop"
)

var (
	errPathNotAbs    = errors.New("profile paths must all be absolute")
	errDestInSource  = errors.New("a destination overlaps a source of the same profile")
	errProfileNoName = errors.New("profile has no name")
)

// Profile names one backup: the directories to mirror and the roots the
// mirrors live under. The engine only ever consumes read-only snapshots.
// Field order matches the sorted-key JSON document on disk.
type Profile struct {
	Destinations []string `json:"destinations"`
	ID           int      `json:"id"`
	Name         string   `json:"name"`
	Sources      []string `json:"sources"`
}

// Clone returns a deep copy, safe to hand to a running driver.
func (p Profile) Clone() Profile {
	return Profile{
		Destinations: append([]string(nil), p.Destinations...),
		ID:           p.ID,
		Name:         p.Name,
		Sources:      append([]string(nil), p.Sources...),
	}
}

// Validate checks the path invariants: every source and destination is
// absolute, and no destination equals, contains or is contained by a
// source of the same profile.
func (p Profile) Validate() error {
	if p.Name == "" {
		return errProfileNoName
	}

	for _, path := range append(append([]string(nil), p.Sources...), p.Destinations...) {
		if !filepath.IsAbs(path) {
			return fmt.Errorf("%w: %q", errPathNotAbs, path)
		}
	}

	for _, src := range p.Sources {
		for _, dest := range p.Destinations {
			if dest == src || fsop.IsChild(src, dest) || fsop.IsChild(dest, src) {
				return fmt.Errorf("%w: %q and %q", errDestInSource, dest, src)
			}
		}
	}

	return nil
}

// ReadFile reads the profile document. A missing file yields an empty set;
// unknown keys are ignored.
func ReadFile(fsys afero.Fs, path string) ([]Profile, error) {
	data, err := afero.ReadFile(fsys, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles: %q (%w)", path, err)
	}

	var profiles []Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("profile document malformed: %q (%w)", path, err)
	}

	return profiles, nil
}

// WriteFile writes the profile document, indented with sorted keys,
// creating the parent directory when needed.
func WriteFile(fsys afero.Fs, path string, profiles []Profile) error {
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create: %q (%w)", filepath.Dir(path), err)
	}

	data, err := json.MarshalIndent(profiles, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode profiles: %w", err)
	}

	if err := afero.WriteFile(fsys, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write profiles: %q (%w)", path, err)
	}

	return nil
}

// AssignID gives the profile at index idx the lowest ID not used by any
// other profile in the collection.
func AssignID(profiles []Profile, idx int) {
	used := make(map[int]struct{}, len(profiles))
	for i, p := range profiles {
		if i != idx {
			used[p.ID] = struct{}{}
		}
	}

	id := 0
	for {
		if _, taken := used[id]; !taken {
			break
		}
		id++
	}
	profiles[idx].ID = id
}

// ReassignIDs renumbers every profile; the persisted document may have
// been edited by hand, so IDs are never trusted after a load.
func ReassignIDs(profiles []Profile) {
	for i := range profiles {
		profiles[i].ID = -1
	}
	for i := range profiles {
		AssignID(profiles, i)
	}
}

// ByID returns the profile with the matching ID, or nil when none or more
// than one matches.
func ByID(profiles []Profile, id int) *Profile {
	var found *Profile
	for i := range profiles {
		if profiles[i].ID == id {
			if found != nil {
				return nil
			}
			found = &profiles[i]
		}
	}

	return found
}

// ByName returns the first profile with the given name, or nil.
func ByName(profiles []Profile, name string) *Profile {
	for i := range profiles {
		if profiles[i].Name == name {
			return &profiles[i]
		}
	}

	return nil
}

// Store owns the profile collection. UI edits are serialized against
// engine reads with a single exclusive lock; the engine only ever receives
// value snapshots.
type Store struct {
	mu       sync.Mutex
	fsys     afero.Fs
	path     string
	profiles []Profile
}

// NewStore returns an empty Store persisting at path. Nothing is loaded on
// construction.
func NewStore(fsys afero.Fs, path string) *Store {
	return &Store{fsys: fsys, path: path}
}

// Load replaces the collection with the persisted document and renumbers
// the IDs.
func (s *Store) Load() error {
	profiles, err := ReadFile(s.fsys, s.path)
	if err != nil {
		return err
	}
	ReassignIDs(profiles)

	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()

	return nil
}

// Save persists the current collection.
func (s *Store) Save() error {
	s.mu.Lock()
	profiles := s.snapshotLocked()
	s.mu.Unlock()

	return WriteFile(s.fsys, s.path, profiles)
}

// Snapshot returns a deep copy of the collection.
func (s *Store) Snapshot() []Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

// Add validates and inserts a profile, assigning it a fresh ID.
func (s *Store) Add(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles = append(s.profiles, p.Clone())
	AssignID(s.profiles, len(s.profiles)-1)

	return nil
}

// Update replaces the profile with the same ID.
func (s *Store) Update(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.profiles {
		if s.profiles[i].ID == p.ID {
			s.profiles[i] = p.Clone()

			return nil
		}
	}

	return fmt.Errorf("no profile with id %d", p.ID)
}

// Remove drops the profile with the given ID; unknown IDs are a no-op.
func (s *Store) Remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.profiles[:0]
	for _, p := range s.profiles {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	s.profiles = kept
}

func (s *Store) snapshotLocked() []Profile {
	snapshot := make([]Profile, len(s.profiles))
	for i, p := range s.profiles {
		snapshot[i] = p.Clone()
	}

	return snapshot
}
