package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/manyfold/manyfold/internal/config"
)

const (
	logFileMaxSizeMB = 10
	logFileBackups   = 3
)

func (prog *program) parseArgs(cliArgs []string) error {
	prog.flags = flag.NewFlagSet("manyfold", flag.ContinueOnError)
	prog.flags.SetOutput(prog.stderr)
	prog.flags.Usage = func() {
		fmt.Fprintf(prog.stderr, "usage: %q --profile=NAME | --list | --listerrortypes\n", cliArgs[0])
		fmt.Fprintf(prog.stderr, "\t[--config=PATH] [--loglevel=critical|error|warning|info|debug] [--json]\n\n")
		prog.flags.PrintDefaults()
	}

	prog.flags.StringVar(&prog.opts.ProfileName, "profile", "", "name of the backup profile to run")
	prog.flags.BoolVar(&prog.opts.List, "list", false, "list the names of all configured profiles and exit")
	prog.flags.BoolVar(&prog.opts.ListErrorTypes, "listerrortypes", false, "list the error variant names and exit")
	prog.flags.StringVar(&prog.opts.ConfigPath, "config", "", "path to the ini configuration file")
	prog.flags.StringVar(&prog.opts.LogLevel, "loglevel", "", "overrides the configured verbosity of emitted logs")
	prog.flags.BoolVar(&prog.opts.JSON, "json", false, "output all emitted logs in the JSON format; results can be read from stderr")

	if err := prog.flags.Parse(cliArgs[1:]); err != nil {
		return fmt.Errorf("failed parsing flags: %w", err)
	}

	return nil
}

func (prog *program) validateOpts() error {
	selected := 0
	if prog.opts.ProfileName != "" {
		selected++
	}
	if prog.opts.List {
		selected++
	}
	if prog.opts.ListErrorTypes {
		selected++
	}

	if selected == 0 {
		return errArgNothingToDo
	}
	if selected > 1 {
		return errArgModesExclusive
	}

	if prog.opts.LogLevel != "" {
		if _, err := parseLogLevel(prog.opts.LogLevel); err != nil {
			return fmt.Errorf("%w: %q", err, prog.opts.LogLevel)
		}
	}

	return nil
}

func (prog *program) loadConfig() error {
	path := prog.opts.ConfigPath
	if path == "" {
		path = config.DefaultPath(prog.home)
	}

	// Bootstrap logger; the real handler needs the loaded configuration.
	bootLog := slog.New(slog.NewTextHandler(prog.stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.Ensure(prog.fsys, bootLog, prog.home, path)
	if err != nil {
		return err //nolint:wrapcheck
	}
	prog.cfg = cfg

	// A --loglevel flag beats the configured level.
	if prog.opts.LogLevel == "" {
		prog.opts.LogLevel = prog.cfg.LogLevel
	}

	return nil
}

func (prog *program) printOpts() error {
	out, err := yaml.Marshal(prog.opts)
	if err != nil {
		return fmt.Errorf("failed printing configuration: %w", err)
	}

	fmt.Fprintln(prog.stdout, "effective arguments:")

	lines := strings.SplitSeq(string(out), "\n")
	for line := range lines {
		if line != "" {
			fmt.Fprintf(prog.stdout, "\t%s\n", line)
		}
	}

	fmt.Fprintln(prog.stdout)

	return nil
}

func parseLogLevel(levelStr string) (slog.Level, error) {
	switch strings.TrimSpace(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "critical":
		return slog.LevelError, nil
	default:
		return defaultLogLevel, errArgInvalidLogLevel
	}
}

func (prog *program) logHandler() slog.Handler {
	logLevel, _ := parseLogLevel(prog.opts.LogLevel)

	sink := prog.stderr
	if prog.cfg.LogFile != "" {
		sink = io.MultiWriter(prog.stderr, &lumberjack.Logger{
			Filename:   prog.cfg.LogFile,
			MaxSize:    logFileMaxSizeMB,
			MaxBackups: logFileBackups,
		})
	}

	if prog.opts.JSON {
		return slog.NewJSONHandler(sink, &slog.HandlerOptions{
			Level: logLevel,
		})
	}

	return tint.NewHandler(sink,
		&tint.Options{
			Level:      logLevel,
			TimeFormat: time.TimeOnly,
		})
}
