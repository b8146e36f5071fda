package backup

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/manyfold/manyfold/internal/fsop"
)

// Pruner enumerates every path below one destination's per-source folder
// that no longer has a counterpart of the same type in the source. The
// delete set is collected at construction from a single walker pass, so
// deletions performed while iterating cannot invalidate it. The Pruner
// itself never deletes; the driver removes file-like paths first, then
// directories, deepest first.
type Pruner struct {
	fsys afero.Fs
	log  *slog.Logger

	source string
	top    string

	entries []pruneEntry
	pos     int
}

type pruneEntry struct {
	path string
	dir  bool
}

// NewPruner collects the delete set for source against the per-source
// folder of destRoot. destName overrides the basename of the source as
// that folder's name.
func NewPruner(fsys afero.Fs, log *slog.Logger, source string, destRoot string, destName string) (*Pruner, error) {
	name := destName
	if name == "" {
		name = filepath.Base(source)
	}

	p := &Pruner{
		fsys:   fsys,
		log:    log,
		source: source,
		top:    filepath.Join(destRoot, name),
	}

	if _, err := fsys.Stat(p.top); err != nil {
		return nil, fmt.Errorf("failed to stat: %q (%w)", p.top, err)
	}

	w := fsop.NewWalker(fsys, log, p.top)
	for path, ok := w.Next(); ok; path, ok = w.Next() {
		if path == p.top {
			continue
		}

		fi, err := fsop.Lstat(fsys, path)
		if err != nil {
			// Already gone; nothing left to prune there.
			continue
		}

		if !p.inSource(path, fi) {
			p.entries = append(p.entries, pruneEntry{path: path, dir: fi.IsDir()})
		}
	}

	return p, nil
}

// inSource reports whether the destination path still has a source
// counterpart of the same type. A destination symlink only matches a
// source symlink, regardless of what either points to.
func (p *Pruner) inSource(path string, dfi os.FileInfo) bool {
	_, rel := fsop.SplitBelow(p.top, path)
	counterpart := filepath.Join(p.source, rel)

	sfi, err := fsop.Lstat(p.fsys, counterpart)
	if err != nil {
		return false
	}

	switch {
	case dfi.Mode()&os.ModeSymlink != 0:
		return sfi.Mode()&os.ModeSymlink != 0

	case dfi.IsDir():
		return sfi.IsDir() && sfi.Mode()&os.ModeSymlink == 0

	default:
		return !sfi.IsDir() && sfi.Mode()&os.ModeSymlink == 0
	}
}

// Next returns the next path of the delete set, or false once exhausted.
func (p *Pruner) Next() (string, bool) {
	if p.pos >= len(p.entries) {
		return "", false
	}

	path := p.entries[p.pos].path
	p.pos++

	return path, true
}

// Files returns the file-like part of the delete set, symlinks included,
// in walk order.
func (p *Pruner) Files() []string {
	var files []string
	for _, e := range p.entries {
		if !e.dir {
			files = append(files, e.path)
		}
	}

	return files
}

// Dirs returns the directories of the delete set, deepest first, so a
// directory is never removed before its own doomed descendants.
func (p *Pruner) Dirs() []string {
	var dirs []string
	for _, e := range p.entries {
		if e.dir {
			dirs = append(dirs, e.path)
		}
	}

	sort.SliceStable(dirs, func(i, j int) bool {
		sep := string(filepath.Separator)

		return strings.Count(dirs[i], sep) > strings.Count(dirs[j], sep)
	})

	return dirs
}
