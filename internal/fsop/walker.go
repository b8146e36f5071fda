package fsop

import (
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
)

// Walker enumerates a directory subtree depth-first without holding it in
// memory at once. The root is the first yielded element; every directory is
// yielded before the files it contains, files come in the order the
// directory read produced them, and subdirectories are descended into after
// the parent's files. A subtree whose directory cannot be read ends at that
// branch; the failure is logged, not fatal.
//
// A Walker is finite and not restartable.
type Walker struct {
	fsys  afero.Fs
	log   *slog.Logger
	stack []walkEntry
}

type walkEntry struct {
	path string
	dir  bool
}

// NewWalker returns a Walker over the subtree rooted at root.
func NewWalker(fsys afero.Fs, log *slog.Logger, root string) *Walker {
	return &Walker{
		fsys:  fsys,
		log:   log,
		stack: []walkEntry{{path: root, dir: true}},
	}
}

// Next returns the next path of the subtree, or false once exhausted.
func (w *Walker) Next() (string, bool) {
	if len(w.stack) == 0 {
		return "", false
	}

	e := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]

	if e.dir {
		w.expand(e.path)
	}

	return e.path, true
}

// expand reads a directory and pushes its contents onto the stack so that
// files pop before subdirectories, both in readdir order.
func (w *Walker) expand(dir string) {
	entries, err := afero.ReadDir(w.fsys, dir)
	if err != nil {
		w.log.Warn("directory not readable; skipping branch", "path", dir, "error", err)

		return
	}

	var files, dirs []walkEntry
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, walkEntry{path: filepath.Join(dir, e.Name()), dir: true})
		} else {
			files = append(files, walkEntry{path: filepath.Join(dir, e.Name())})
		}
	}

	// The stack pops newest-first, so directories go on below the files:
	// files surface in order, then the first subdirectory is descended.
	for i := len(dirs) - 1; i >= 0; i-- {
		w.stack = append(w.stack, dirs[i])
	}
	for i := len(files) - 1; i >= 0; i-- {
		w.stack = append(w.stack, files[i])
	}
}

// CountEntries walks root and returns the number of paths contained below
// it, not counting root itself. It is used as a progress denominator.
func CountEntries(fsys afero.Fs, log *slog.Logger, root string) int {
	w := NewWalker(fsys, log, root)

	n := -1
	for _, ok := w.Next(); ok; _, ok = w.Next() {
		n++
	}

	if n < 0 {
		return 0
	}

	return n
}
