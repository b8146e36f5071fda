// Package fsop provides the filesystem primitives shared by the backup
// engine: parent/child path relations, platform detection and a lazy
// depth-first directory walker.
package fsop

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/afero"
)

// OSType identifies the platform the program is running on.
type OSType int

const (
	OSUnknown OSType = iota
	OSWindows
	OSLinux
	OSMac
)

func (t OSType) String() string {
	switch t {
	case OSWindows:
		return "windows"
	case OSLinux:
		return "linux"
	case OSMac:
		return "mac"
	default:
		return "unknown"
	}
}

// CurrentOS maps [runtime.GOOS] onto an OSType.
func CurrentOS() OSType {
	switch runtime.GOOS {
	case "windows":
		return OSWindows
	case "linux":
		return OSLinux
	case "darwin":
		return OSMac
	default:
		return OSUnknown
	}
}

// IsChild reports whether child lies below parent. Both paths are made
// absolute first; the comparison is a byte-exact prefix check, so equal
// paths count as children and no case folding takes place.
func IsChild(parent string, child string) bool {
	parent = absolutize(parent)
	child = absolutize(child)

	if len(parent) > len(child) {
		return false
	}

	return parent == child[:len(parent)]
}

// SplitBelow splits child against parent and returns the absolute parent
// together with the relative suffix below it. The suffix is empty when
// child is not below parent, or equal to it.
func SplitBelow(parent string, child string) (string, string) {
	parent = absolutize(parent)
	child = absolutize(child)

	if !IsChild(parent, child) || len(child) <= len(parent)+1 {
		return parent, ""
	}

	return parent, child[len(parent)+1:]
}

// Lstat stats a path without following a trailing symlink when the
// filesystem supports that, falling back to a regular stat otherwise.
func Lstat(fsys afero.Fs, path string) (os.FileInfo, error) {
	if lst, ok := fsys.(afero.Lstater); ok {
		fi, _, err := lst.LstatIfPossible(path)

		return fi, err //nolint:wrapcheck
	}

	return fsys.Stat(path) //nolint:wrapcheck
}

func absolutize(path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	return abs
}
