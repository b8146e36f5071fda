/*
manyfold is a CLI utility that runs user-configured directory backups. A
backup profile names a set of source directories and a set of destination
directories; running a profile mirrors every source subtree, in one pass,
into every destination, then prunes destination content that no longer has
a counterpart in its source.

Each source is read exactly once per run: blocks are read from the source
and fanned out to every destination, so a profile with many destinations
does not multiply the load on the source drive. Failures against one
destination are recorded and reported without aborting the copy to the
others. Inside every destination root a source's subtree lives under a
short stable folder name ("001".."FFF") kept in a sidecar mapping file, so
backups stay restorable even after the user renames a source folder.

# USAGE

	manyfold --profile=NAME | --list | --listerrortypes [flags]

# ARGUMENTS

	--profile string
		Run the backup profile with this name. Mutually exclusive with
		--list and --listerrortypes.

	--list
		List the names of all configured profiles and exit.

	--listerrortypes
		List the error variant names usable in the configuration key
		'ignorederrors' and exit.

	--config string
		Optional. Path to the INI configuration file. Defaults to
		~/.manyfold/manyfold.conf, which is created on first run.

	--loglevel [critical|error|warning|info|debug]
		Optional. Overrides the configured verbosity of emitted logs.

	--json
		Optional. Outputs the emitted logs in JSON format on stderr.

# CONFIGURATION

	[DEFAULT]
	profilepath = /home/user/.manyfold/backup_profiles.json
	loglevel = warning
	ignorederrors =
	logfile =

	[ui]
	font = monospaced
	font_size = 12

	[BackupBehavior]
	threadcount = 3
	sourcemapname = mapfile

'ignorederrors' is a space-separated list of error variant names that are
suppressed from output. 'threadcount' bounds how many sources are backed
up concurrently. 'sourcemapname' is the sidecar file name kept in each
destination root. 'logfile' additionally copies logs into a rotated file.

# RETURN CODES

  - `0`: Success (also for both list queries)
  - `1`: Failure, no profile matched, or inconsistent arguments
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/manyfold/manyfold/internal/backup"
	"github.com/manyfold/manyfold/internal/config"
	"github.com/manyfold/manyfold/internal/profile"
)

const (
	exitCodeSuccess = 0
	exitCodeFailure = 1

	defaultLogLevel = slog.LevelWarn

	exitTimeout = 10 * time.Second
)

var (
	// Version is the application's version (filled in during compilation).
	Version string

	errArgNothingToDo     = errors.New("one of --profile, --list or --listerrortypes is needed")
	errArgModesExclusive  = errors.New("--profile, --list and --listerrortypes are mutually exclusive")
	errArgInvalidLogLevel = errors.New("--loglevel has a not recognized value")

	errProfileNotFound = errors.New("no profile with that name exists")
)

type program struct {
	fsys   afero.Fs
	stdout io.Writer
	stderr io.Writer

	home string
	opts *programOptions
	cfg  config.Config

	log   *slog.Logger
	flags *flag.FlagSet
}

type programOptions struct {
	ProfileName    string `yaml:"profile"`
	List           bool   `yaml:"list"`
	ListErrorTypes bool   `yaml:"list-error-types"`
	ConfigPath     string `yaml:"config"`
	LogLevel       string `yaml:"log-level"`
	JSON           bool   `yaml:"json"`
}

func main() {
	var prog *program
	var exitCode int

	defer func() {
		if prog != nil {
			prog.log.Info("program exited",
				"code", exitCode,
			)
		}
		os.Exit(exitCode)
	}()

	fmt.Fprintf(os.Stdout, "manyfold (v%s) - One read, many mirrors.\n\n", Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	doneChan := make(chan int, 1)

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: failed to resolve home directory: %v\n", err)
		exitCode = exitCodeFailure

		return
	}

	prog, err = newProgram(os.Args, afero.NewOsFs(), home, os.Stdout, os.Stderr)
	if prog == nil || err != nil {
		exitCode = exitCodeFailure

		return
	}

	go func() {
		exitCode, _ := prog.run(ctx)
		doneChan <- exitCode
	}()

	select {
	case code := <-doneChan:
		exitCode = code

		return

	case <-sigChan:
		prog.log.Warn("received interrupt signal; shutting down (waiting up to 10s)...")
		cancel()

		select {
		case code := <-doneChan:
			exitCode = code

			return

		case <-time.After(exitTimeout):
			prog.log.Error("timed out while waiting for program exit; killing...",
				"error-type", "fatal",
			)
			exitCode = exitCodeFailure

			return
		}
	}
}

func newProgram(cliArgs []string, fsys afero.Fs, home string, stdout io.Writer, stderr io.Writer) (*program, error) {
	prog := &program{
		fsys:   fsys,
		stdout: stdout,
		stderr: stderr,
		home:   home,
		opts:   &programOptions{},
	}

	if err := prog.parseArgs(cliArgs); err != nil {
		fmt.Fprintf(prog.stderr, "fatal: failed to parse arguments: %v\n\n", err)
		prog.flags.Usage()

		return nil, fmt.Errorf("failed to parse arguments: %w", err)
	}

	if err := prog.validateOpts(); err != nil {
		fmt.Fprintf(prog.stderr, "fatal: failed to validate arguments: %v\n\n", err)
		prog.flags.Usage()

		return nil, fmt.Errorf("failed to validate arguments: %w", err)
	}

	if err := prog.loadConfig(); err != nil {
		fmt.Fprintf(prog.stderr, "fatal: failed to load configuration: %v\n\n", err)

		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := prog.printOpts(); err != nil {
		fmt.Fprintf(prog.stderr, "fatal: failed to print configuration: %v\n\n", err)

		return nil, fmt.Errorf("failed to print configuration: %w", err)
	}

	prog.log = slog.New(prog.logHandler())

	return prog, nil
}

func (prog *program) run(ctx context.Context) (retExitCode int, retError error) {
	defer func() {
		if r := recover(); r != nil {
			prog.log.Error("internal panic recovered",
				"error", r,
				"error-type", "fatal",
			)
			debug.PrintStack()
			retExitCode = exitCodeFailure
		}
	}()

	store := profile.NewStore(prog.fsys, prog.cfg.ProfilePath)
	if err := store.Load(); err != nil {
		prog.log.Error("failed to load profiles",
			"path", prog.cfg.ProfilePath,
			"error", err,
			"error-type", "fatal",
		)

		return exitCodeFailure, fmt.Errorf("failed to load profiles: %w", err)
	}
	profiles := store.Snapshot()

	switch {
	case prog.opts.List:
		fmt.Fprintln(prog.stdout, "backup profiles available:")
		for _, p := range profiles {
			fmt.Fprintf(prog.stdout, "\t%s\n", p.Name)
		}

		return exitCodeSuccess, nil

	case prog.opts.ListErrorTypes:
		fmt.Fprintln(prog.stdout, "error types:")
		for _, name := range backup.Kinds() {
			fmt.Fprintf(prog.stdout, "\t%s\n", name)
		}

		return exitCodeSuccess, nil
	}

	target := profile.ByName(profiles, prog.opts.ProfileName)
	if target == nil {
		prog.log.Error("no profile with that name exists",
			"profile", prog.opts.ProfileName,
			"error-type", "fatal",
		)

		return exitCodeFailure, fmt.Errorf("%w: %q", errProfileNotFound, prog.opts.ProfileName)
	}

	if err := prog.runProfile(ctx, target.Clone()); err != nil {
		if !errors.Is(err, context.Canceled) {
			prog.log.Error("backup run failed",
				"profile", target.Name,
				"error", err,
				"error-type", "fatal",
			)
		}

		return exitCodeFailure, fmt.Errorf("backup run failed: %w", err)
	}

	prog.log.Info("backup run completed; exiting...",
		"profile", target.Name,
	)

	return exitCodeSuccess, nil
}
