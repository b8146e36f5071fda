package backup

import "github.com/spf13/afero"

// Predicate decides per (source, prospective destination) whether a copy
// should proceed. Implementations must be pure and free of side effects; a
// Predicate is consulted once per destination per walked path.
type Predicate func(source string, destination string) bool

// ModifiedMoreRecently returns the stock predicate: copy when the
// destination does not exist, or when the source's modification time
// strictly exceeds the destination's.
func ModifiedMoreRecently(fsys afero.Fs) Predicate {
	return func(source string, destination string) bool {
		dfi, err := fsys.Stat(destination)
		if err != nil {
			return true
		}

		sfi, err := fsys.Stat(source)
		if err != nil {
			return true
		}

		return sfi.ModTime().After(dfi.ModTime())
	}
}
