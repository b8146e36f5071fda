package backup

import (
	"log/slog"
	"sync/atomic"

	"github.com/spf13/afero"

	"github.com/manyfold/manyfold/internal/fsop"
)

// DriverOptions configure one backup driver.
type DriverOptions struct {
	// DestName is the stable per-source folder name from the mapping;
	// empty falls back to the basename of the source.
	DestName string

	// Verify enables the post-copy hash verification pass.
	Verify bool

	// IgnoredErrors lists error variant names that are not forwarded to
	// the observer.
	IgnoredErrors []string
}

// Driver runs the whole backup of one source of one profile: it mirrors
// the source into every destination in a single pass, then prunes each
// destination of paths the source no longer has. Every driver owns its
// walker, copier and pruners for the duration of a run and reports to a
// shared observer channel.
type Driver struct {
	fsys afero.Fs
	log  *slog.Logger

	source       string
	destinations []string
	destName     string
	verify       bool
	ignored      map[string]struct{}

	observer chan<- Message
	abort    atomic.Bool
}

// NewDriver returns a Driver over one source and the destination roots of
// its profile. The caller passes a profile snapshot; the driver never sees
// later edits.
func NewDriver(fsys afero.Fs, log *slog.Logger, source string, destinations []string, observer chan<- Message, opts DriverOptions) *Driver {
	ignored := make(map[string]struct{}, len(opts.IgnoredErrors))
	for _, name := range opts.IgnoredErrors {
		ignored[name] = struct{}{}
	}

	return &Driver{
		fsys:         fsys,
		log:          log,
		source:       source,
		destinations: append([]string(nil), destinations...),
		destName:     opts.DestName,
		verify:       opts.Verify,
		ignored:      ignored,
		observer:     observer,
	}
}

// Source returns the source path this driver is responsible for.
func (d *Driver) Source() string {
	return d.source
}

// Abort asks the driver to stop. The flag is one-way and polled between
// copy steps and between prune deletions; an in-flight file is finished
// first, and no further progress is emitted afterwards.
func (d *Driver) Abort() {
	d.abort.Store(true)
}

// Run executes the backup. It emits Finished exactly once, also on abort
// and failure paths.
func (d *Driver) Run() {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("internal panic recovered in backup driver", "source", d.source, "error", r)
		}
		d.observer <- Finished{Source: d.source}
	}()

	valid := d.validDestinations()
	if len(valid) == 0 {
		d.log.Warn("no usable destinations, doing nothing", "source", d.source)

		return
	}

	d.update(0, "preparing...")

	// The walker also yields the source root itself, hence the extra step.
	total := fsop.CountEntries(d.fsys, d.log, d.source) + 1

	copier, err := NewCopier(d.fsys, d.log, d.source, valid, CopierOptions{
		Predicate: ModifiedMoreRecently(d.fsys),
		DestName:  d.destName,
		Verify:    d.verify,
	})
	if err != nil {
		d.log.Error("failed to construct copier", "source", d.source, "error", err)

		return
	}

	d.log.Info("executing copy", "source", d.source, "destinations", valid)

	copied := 0
	for !d.abort.Load() {
		errs, ok := copier.Next()
		if !ok {
			break
		}

		for _, e := range errs {
			d.forward(e)
		}

		copied++
		percent := 100.0
		if total > 0 {
			percent = float64(copied) * 100 / float64(total)
		}
		d.update(percent, displayString(copier.Current()))
	}

	if err := copier.Err(); err != nil {
		d.log.Error("fatal failure during copy", "source", d.source, "error", err)

		return
	}

	d.update(100, "copy complete")

	if d.abort.Load() {
		return
	}

	d.log.Info("executing prune", "source", d.source)

	for _, dest := range valid {
		if d.abort.Load() {
			return
		}

		d.update(100, "pruning "+displayString(dest))
		d.prune(dest)
	}
}

// validDestinations filters the profile's destinations down to those that
// exist as directories; missing ones are skipped with a warning.
func (d *Driver) validDestinations() []string {
	var valid []string
	for _, dest := range d.destinations {
		if fi, err := d.fsys.Stat(dest); err != nil || !fi.IsDir() {
			d.log.Warn("destination missing, skipping it", "source", d.source, "destination", dest)

			continue
		}
		valid = append(valid, dest)
	}

	return valid
}

func (d *Driver) prune(dest string) {
	pruner, err := NewPruner(d.fsys, d.log, d.source, dest, d.destName)
	if err != nil {
		d.log.Warn("nothing to prune", "source", d.source, "destination", dest, "error", err)

		return
	}

	for _, path := range pruner.Files() {
		if d.abort.Load() {
			return
		}
		d.deletePath(path, false)
	}

	for _, path := range pruner.Dirs() {
		if d.abort.Load() {
			return
		}
		d.deletePath(path, true)
	}
}

// deletePath removes one pruned path: unlink for file-like paths, a
// recursive delete for directories. Failures are reported, never fatal.
func (d *Driver) deletePath(path string, dir bool) {
	if _, err := fsop.Lstat(d.fsys, path); err != nil {
		// Already gone, fine by us.
		return
	}

	var err error
	if dir {
		err = d.fsys.RemoveAll(path)
	} else {
		err = d.fsys.Remove(path)
	}

	if err != nil {
		d.log.Error("failed to delete while pruning", "path", path, "error", err)
		d.forward(classifyRemoveErr(path, err))

		return
	}

	d.log.Warn("deleted while pruning", "path", path)
	d.update(100, "deleted "+displayString(path))
}

// forward hands a recorded error to the observer unless its variant name
// is in the configured ignore set.
func (d *Driver) forward(e OpError) {
	if _, ok := d.ignored[string(e.Kind)]; ok {
		d.log.Debug("error suppressed by configuration", "source", d.source, "variant", string(e.Kind))

		return
	}

	d.observer <- ErrorMessage{Source: d.source, Err: e}
}

func (d *Driver) update(percent float64, message string) {
	if d.abort.Load() {
		return
	}

	d.observer <- ProgressUpdate{Source: d.source, Percent: percent, Message: message}
}

// displayString shortens long paths for progress messages.
func displayString(s string) string {
	const maxLen = 100

	if len(s) <= maxLen {
		return s
	}

	return s[:maxLen/2-3] + "..." + s[len(s)-(maxLen/2+1):]
}
