package backup

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestFs() afero.Fs {
	return afero.NewMemMapFs()
}

func createDirStructure(fs afero.Fs, paths []string) error {
	for _, path := range paths {
		if err := fs.MkdirAll(path, 0o777); err != nil {
			return err
		}
	}

	return nil
}

func createFiles(fs afero.Fs, files map[string]string) error {
	for path, content := range files {
		if err := fs.MkdirAll(filepath.Dir(path), 0o777); err != nil {
			return err
		}
		if err := afero.WriteFile(fs, path, []byte(content), 0o666); err != nil {
			return err
		}
	}

	return nil
}

// openCountingFs counts how often specific paths are opened for reading,
// so tests can prove that an up-to-date file is never touched again.
type openCountingFs struct {
	afero.Fs

	mu     sync.Mutex
	counts map[string]int
}

func newOpenCountingFs(base afero.Fs) *openCountingFs {
	return &openCountingFs{Fs: base, counts: make(map[string]int)}
}

func (f *openCountingFs) Open(name string) (afero.File, error) {
	f.mu.Lock()
	f.counts[name]++
	f.mu.Unlock()

	return f.Fs.Open(name)
}

func (f *openCountingFs) opens(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.counts[name]
}

// denyOpenFs denies reading one specific path with a permission error.
type denyOpenFs struct {
	afero.Fs
	denied string
}

func (f *denyOpenFs) Open(name string) (afero.File, error) {
	if name == f.denied {
		return nil, fmt.Errorf("open %s: %w", name, os.ErrPermission)
	}

	return f.Fs.Open(name)
}

// failWriteFs hands out files whose writes fail for every path below one
// directory, simulating a destination going bad mid-copy.
type failWriteFs struct {
	afero.Fs
	failBelow string
}

func (f *failWriteFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(name, f.failBelow) {
		return &failingWriteFile{File: file}, nil
	}

	return file, nil
}

type failingWriteFile struct {
	afero.File
}

func (f *failingWriteFile) Write(p []byte) (int, error) {
	return 0, errors.New("simulated write failure")
}
