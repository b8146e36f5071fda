package backup

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"

	"github.com/manyfold/manyfold/internal/fsop"
)

const (
	// copyBlockSize is how much is read from the source at a time; every
	// block fans out to all destinations before the next read.
	copyBlockSize = 10 << 20

	// largeFileBytes is the size from which a copy warns and reports
	// intermediate progress.
	largeFileBytes = 1 << 30

	dirBasePerm = 0o777
)

var (
	errSourceNotDir  = errors.New("source is not an existing directory")
	errDestNotDir    = errors.New("destination is not an existing directory")
	errDestIsSource  = errors.New("destination is the same as the source")
	errDestOverlaps  = errors.New("destination and source contain one another")
	errNoDestination = errors.New("no destinations given")
)

// CopierOptions adjust how a Copier maps and filters its work.
type CopierOptions struct {
	// Predicate, when set, decides per destination whether a path is copied.
	Predicate Predicate

	// DestName overrides the basename of the source as the per-source
	// folder name inside each destination root.
	DestName string

	// Verify re-reads every completely written destination file and
	// compares its hash against the bytes that were read from the source.
	Verify bool
}

// Copier mirrors one source subtree into any number of destination roots,
// reading every source byte exactly once. It is a pull iterator: each Next
// call handles one walker path and reports that step's per-destination
// errors. Expected failures never abort the iteration; an unclassified
// source read failure ends it and is surfaced through Err.
type Copier struct {
	fsys afero.Fs
	log  *slog.Logger

	source  string
	topDirs []string
	walker  *fsop.Walker
	opts    CopierOptions
	osType  fsop.OSType

	current string
	err     error
	done    bool
}

// NewCopier validates its arguments and returns a Copier over source and
// the given destination roots. Construction fails when the source is not a
// directory, any destination is missing or not a directory, or any
// destination equals, contains or is contained by the source.
func NewCopier(fsys afero.Fs, log *slog.Logger, source string, destinations []string, opts CopierOptions) (*Copier, error) {
	if len(destinations) == 0 {
		return nil, errNoDestination
	}

	if fi, err := fsys.Stat(source); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %q", errSourceNotDir, source)
	}

	for _, d := range destinations {
		if fi, err := fsys.Stat(d); err != nil || !fi.IsDir() {
			return nil, fmt.Errorf("%w: %q", errDestNotDir, d)
		}
		if d == source {
			return nil, fmt.Errorf("%w: %q", errDestIsSource, d)
		}
		if fsop.IsChild(source, d) || fsop.IsChild(d, source) {
			return nil, fmt.Errorf("%w: %q", errDestOverlaps, d)
		}
	}

	name := opts.DestName
	if name == "" {
		name = filepath.Base(source)
	}

	topDirs := make([]string, len(destinations))
	for i, d := range destinations {
		topDirs[i] = filepath.Join(d, name)
	}

	if opts.Predicate != nil {
		log.Debug("copy predicate in use", "source", source)
	}

	return &Copier{
		fsys:    fsys,
		log:     log,
		source:  source,
		topDirs: topDirs,
		walker:  fsop.NewWalker(fsys, log, source),
		opts:    opts,
		osType:  fsop.CurrentOS(),
	}, nil
}

// Current returns the source path handled by the last Next call.
func (c *Copier) Current() string {
	return c.current
}

// Err returns the fatal error that ended the iteration early, if any. It is
// only meaningful after Next has returned false.
func (c *Copier) Err() error {
	return c.err
}

// Next advances to the next source path and mirrors it into every
// destination. The returned slice holds the per-destination errors of this
// step and is empty on full success. Next reports false once the subtree is
// exhausted or a fatal failure stopped the copy; in the latter case Err is
// set.
func (c *Copier) Next() ([]OpError, bool) {
	if c.done {
		return nil, false
	}

	path, ok := c.walker.Next()
	if !ok {
		c.done = true

		return nil, false
	}
	c.current = path

	errs := c.copyPath(path)
	if c.err != nil {
		c.done = true

		return nil, false
	}

	return errs, true
}

func (c *Copier) copyPath(path string) []OpError {
	if !fsop.IsChild(c.source, path) {
		c.log.Error("walker path is not below the source", "source", c.source, "path", path)

		return []OpError{{Kind: WrongArgumentValue, Message: "path is not below the source", Path: path, Argument: path}}
	}

	_, rel := fsop.SplitBelow(c.source, path)

	targets := make([]string, len(c.topDirs))
	for i, top := range c.topDirs {
		targets[i] = filepath.Join(top, rel)
	}

	if c.opts.Predicate != nil {
		var kept, excluded []string
		for _, t := range targets {
			if c.opts.Predicate(path, t) {
				kept = append(kept, t)
			} else {
				excluded = append(excluded, t)
			}
		}

		if len(excluded) > 0 {
			c.log.Debug("predicate ruled out destinations", "source", path, "excluded", excluded)
		}

		// Nothing left to copy to; yield an empty step and advance.
		if len(kept) == 0 {
			return nil
		}
		targets = kept
	}

	fi, err := c.fsys.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// The element disappeared between the walk and now.
			return []OpError{{Kind: PathNotThere, Message: "path vanished during the walk", Path: path, Cause: err}}
		}

		return []OpError{{Kind: PathNotWorking, Message: "source path is not usable", Path: path, Cause: err}}
	}

	if fi.IsDir() {
		return c.copyDir(path, targets, fi)
	}

	return c.copyFile(path, targets, fi)
}

func (c *Copier) copyDir(path string, targets []string, fi os.FileInfo) []OpError {
	var errs []OpError

	for _, target := range targets {
		if target == path {
			c.log.Error("directory target equals its source", "path", path)
			errs = append(errs, OpError{Kind: WrongArgumentValue, Message: "destination is the source", Path: target, Argument: target})

			continue
		}

		if _, err := c.fsys.Stat(target); errors.Is(err, os.ErrNotExist) {
			if err := c.fsys.MkdirAll(target, dirBasePerm); err != nil {
				errs = append(errs, OpError{Kind: PathOperationFailed, Message: "failed to create directory", Path: target, Cause: err})

				continue
			}
		} else if err != nil {
			errs = append(errs, OpError{Kind: PathNotWorking, Message: "destination directory is not usable", Path: target, Cause: err})

			continue
		}

		c.copyMeta(target, fi)
	}

	return errs
}

// destStream tracks one destination of an in-flight file copy.
type destStream struct {
	path string
	file afero.File
	err  *OpError
}

//nolint:gocognit,gocyclo
func (c *Copier) copyFile(path string, targets []string, fi os.FileInfo) []OpError {
	in, err := c.fsys.Open(path)
	if err != nil {
		// One record per destination, zero writes; the walk continues.
		operr := classifyOpenErr(path, err, c.osType)
		errs := make([]OpError, len(targets))
		for i := range targets {
			errs[i] = operr
		}

		return errs
	}
	defer in.Close()

	if fi.Size() > largeFileBytes {
		c.log.Warn("large file, copy will take a while", "path", path, "size", fi.Size())
	}

	streams := make([]*destStream, len(targets))
	anyOpen := false
	for i, target := range targets {
		streams[i] = &destStream{path: target}

		if err := c.ensureParent(target); err != nil {
			streams[i].err = &OpError{Kind: PathOperationFailed, Message: "failed to create parent directory", Path: target, Cause: err}

			continue
		}

		out, err := c.fsys.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
		if err != nil {
			operr := classifyOpenErr(target, err, c.osType)
			streams[i].err = &operr

			continue
		}

		streams[i].file = out
		anyOpen = true
	}

	var hasher *blake3.Hasher
	if c.opts.Verify {
		hasher = blake3.New()
	}

	buf := make([]byte, copyBlockSize)
	var read, lastHint int64
	complete := false

	for anyOpen {
		n, rerr := in.Read(buf)

		if n > 0 {
			read += int64(n)
			if hasher != nil {
				hasher.Write(buf[:n])
			}

			block := buf[:n]
			for _, s := range streams {
				if s.file == nil {
					continue
				}

				w, werr := s.file.Write(block)
				if werr != nil || w < len(block) {
					if werr == nil {
						werr = io.ErrShortWrite
					}

					kind := FileWriteFailure
					if errors.Is(werr, os.ErrPermission) {
						kind = AccessDenied
					}
					s.err = &OpError{Kind: kind, Message: "failed to write all the bytes", Path: s.path, Cause: werr}

					s.file.Close()
					s.file = nil
				}
			}

			if fi.Size() > largeFileBytes && read-lastHint >= fi.Size()/10 {
				c.log.Info("large file progress", "path", path, "percent", (read*100)/fi.Size())
				lastHint = read
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				complete = true

				break
			}

			switch {
			case errors.Is(rerr, os.ErrPermission):
				c.failSurviving(streams, OpError{Kind: AccessDenied, Message: "permission denied reading source", Path: path, Cause: rerr})

			case isCloudPlaceholder(rerr, c.osType):
				c.failSurviving(streams, OpError{Kind: PathOperationFailed, Message: "cloud placeholder could not be read", Path: path, Cause: rerr})

			default:
				// An invariant violation; the whole copy cannot proceed.
				c.closeStreams(streams)
				c.err = fmt.Errorf("unclassified read failure: %q (%w)", path, rerr)

				return nil
			}

			break
		}

		anyOpen = false
		for _, s := range streams {
			if s.file != nil {
				anyOpen = true
			}
		}
	}

	c.closeStreams(streams)

	for _, s := range streams {
		tfi, err := c.fsys.Stat(s.path)
		if err != nil || tfi.IsDir() {
			continue
		}
		c.copyMeta(s.path, fi)
	}

	if c.opts.Verify && hasher != nil && complete {
		want := hex.EncodeToString(hasher.Sum(nil))
		for _, s := range streams {
			if s.err != nil {
				continue
			}

			got, err := c.hashFile(s.path)
			if err != nil {
				s.err = &OpError{Kind: PathOperationFailed, Message: "failed to re-read for verification", Path: s.path, Cause: err}
			} else if got != want {
				s.err = &OpError{Kind: PathOperationFailed, Message: "verification hash mismatch", Path: s.path}
			}
		}
	}

	var errs []OpError
	for _, s := range streams {
		if s.err != nil {
			errs = append(errs, *s.err)
		}
	}

	return errs
}

// failSurviving records err on every destination that is still writable and
// closes it; the current file is abandoned.
func (c *Copier) failSurviving(streams []*destStream, operr OpError) {
	for _, s := range streams {
		if s.file == nil {
			continue
		}

		e := operr
		s.err = &e
		s.file.Close()
		s.file = nil
	}
}

func (c *Copier) closeStreams(streams []*destStream) {
	for _, s := range streams {
		if s.file == nil {
			continue
		}

		if err := s.file.Close(); err != nil && s.err == nil {
			s.err = &OpError{Kind: PathOperationFailed, Message: "failed to close destination", Path: s.path, Cause: err}
		}
		s.file = nil
	}
}

// copyMeta mirrors permissions and modification time onto dst; failures are
// logged only, a complete copy is not discarded over metadata.
func (c *Copier) copyMeta(dst string, fi os.FileInfo) {
	if err := c.fsys.Chmod(dst, fi.Mode().Perm()); err != nil {
		c.log.Warn("failed to copy permissions", "path", dst, "error", err)
	}
	if err := c.fsys.Chtimes(dst, fi.ModTime(), fi.ModTime()); err != nil {
		c.log.Warn("failed to copy timestamps", "path", dst, "error", err)
	}
}

func (c *Copier) ensureParent(target string) error {
	parent := filepath.Dir(target)
	if _, err := c.fsys.Stat(parent); err == nil {
		return nil
	}

	return c.fsys.MkdirAll(parent, dirBasePerm) //nolint:wrapcheck
}

func (c *Copier) hashFile(path string) (string, error) {
	f, err := c.fsys.Open(path)
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err //nolint:wrapcheck
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
