package backup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: Only destination paths without a source counterpart land in
// the delete set.
func Test_Unit_Pruner_CollectsOrphansOnly_Success(t *testing.T) {
	t.Parallel()

	fs := setupTestFs()
	require.NoError(t, createFiles(fs, map[string]string{
		"/src/keep.txt":      "k",
		"/src/sub/inner.txt": "i",
	}))
	require.NoError(t, createFiles(fs, map[string]string{
		"/d1/001/keep.txt":        "k",
		"/d1/001/sub/inner.txt":   "i",
		"/d1/001/stale.txt":       "s",
		"/d1/001/gone/below.txt":  "b",
		"/d1/001/gone/deep/x.txt": "x",
	}))

	p, err := NewPruner(fs, testLogger(), "/src", "/d1", "001")
	require.NoError(t, err)

	require.ElementsMatch(t, []string{
		"/d1/001/stale.txt",
		"/d1/001/gone/below.txt",
		"/d1/001/gone/deep/x.txt",
	}, p.Files())
	require.ElementsMatch(t, []string{
		"/d1/001/gone",
		"/d1/001/gone/deep",
	}, p.Dirs())
}

// Expectation: Directories come out deepest first, so none is removed
// before its own doomed descendants.
func Test_Unit_Pruner_DirsDeepestFirst_Success(t *testing.T) {
	t.Parallel()

	fs := setupTestFs()
	require.NoError(t, createDirStructure(fs, []string{
		"/src",
		"/d1/001/a/b/c",
	}))

	p, err := NewPruner(fs, testLogger(), "/src", "/d1", "001")
	require.NoError(t, err)

	dirs := p.Dirs()
	require.Equal(t, []string{"/d1/001/a/b/c", "/d1/001/a/b", "/d1/001/a"}, dirs)
}

// Expectation: A type mismatch counts as an orphan; a destination
// directory is not covered by a source file of the same name.
func Test_Unit_Pruner_TypeMismatch_IsOrphan_Success(t *testing.T) {
	t.Parallel()

	fs := setupTestFs()
	require.NoError(t, createFiles(fs, map[string]string{"/src/x": "now a file"}))
	require.NoError(t, createDirStructure(fs, []string{"/d1/001/x"}))

	p, err := NewPruner(fs, testLogger(), "/src", "/d1", "001")
	require.NoError(t, err)

	require.Equal(t, []string{"/d1/001/x"}, p.Dirs())
	require.Empty(t, p.Files())
}

// Expectation: A fully mirrored destination yields an empty delete set.
func Test_Unit_Pruner_NothingStale_EmptySet_Success(t *testing.T) {
	t.Parallel()

	fs := setupTestFs()
	require.NoError(t, createFiles(fs, map[string]string{
		"/src/a.txt":     "a",
		"/src/sub/b.txt": "b",
	}))
	require.NoError(t, createFiles(fs, map[string]string{
		"/d1/001/a.txt":     "a",
		"/d1/001/sub/b.txt": "b",
	}))

	p, err := NewPruner(fs, testLogger(), "/src", "/d1", "001")
	require.NoError(t, err)

	_, ok := p.Next()
	require.False(t, ok)
}

// Expectation: A missing per-source folder fails construction; there is
// nothing to prune then.
func Test_Unit_Pruner_MissingTop_Error(t *testing.T) {
	t.Parallel()

	fs := setupTestFs()
	require.NoError(t, createDirStructure(fs, []string{"/src", "/d1"}))

	_, err := NewPruner(fs, testLogger(), "/src", "/d1", "001")
	require.Error(t, err)
}

// Expectation: Without an override name the source basename locates the
// per-source folder.
func Test_Unit_Pruner_NoOverride_UsesBasename_Success(t *testing.T) {
	t.Parallel()

	fs := setupTestFs()
	require.NoError(t, createDirStructure(fs, []string{"/home/docs"}))
	require.NoError(t, createFiles(fs, map[string]string{"/d1/docs/stale.txt": "s"}))

	p, err := NewPruner(fs, testLogger(), "/home/docs", "/d1", "")
	require.NoError(t, err)

	require.Equal(t, []string{"/d1/docs/stale.txt"}, p.Files())
}

// Expectation: Iteration over the collected set is unaffected by deletions
// happening in between.
func Test_Unit_Pruner_IterationSurvivesDeletes_Success(t *testing.T) {
	t.Parallel()

	fs := setupTestFs()
	require.NoError(t, createDirStructure(fs, []string{"/src"}))
	require.NoError(t, createFiles(fs, map[string]string{
		"/d1/001/one.txt": "1",
		"/d1/001/two.txt": "2",
	}))

	p, err := NewPruner(fs, testLogger(), "/src", "/d1", "001")
	require.NoError(t, err)

	first, ok := p.Next()
	require.True(t, ok)
	require.NoError(t, fs.Remove(first))

	second, ok := p.Next()
	require.True(t, ok)
	require.NotEqual(t, first, second)

	_, ok = p.Next()
	require.False(t, ok)
}
