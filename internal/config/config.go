// Package config loads and persists the program's INI configuration. The
// engine only ever sees a read-only snapshot; there is no process-wide
// mutable configuration state.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/ini.v1"
)

const (
	// DirName is the per-user program directory below the home directory.
	DirName = ".manyfold"

	// FileName is the configuration file inside DirName.
	FileName = "manyfold.conf"

	defaultProfileFile   = "backup_profiles.json"
	defaultLogLevel      = "warning"
	defaultThreadCount   = 3
	defaultSourceMapName = "mapfile"
	defaultUIFont        = "monospaced"
	defaultUIFontSize    = 12
)

// Config is a read-only snapshot of the program configuration.
type Config struct {
	// [DEFAULT]
	ProfilePath   string
	LogLevel      string
	IgnoredErrors []string
	LogFile       string

	// [ui] — not interpreted here, forwarded unchanged.
	UIFont     string
	UIFontSize int

	// [BackupBehavior]
	ThreadCount   int
	SourceMapName string
}

// Default returns the configuration used when no file exists yet.
func Default(home string) Config {
	return Config{
		ProfilePath:   filepath.Join(home, DirName, defaultProfileFile),
		LogLevel:      defaultLogLevel,
		ThreadCount:   defaultThreadCount,
		SourceMapName: defaultSourceMapName,
		UIFont:        defaultUIFont,
		UIFontSize:    defaultUIFontSize,
	}
}

// DefaultPath returns the location of the configuration file for home.
func DefaultPath(home string) string {
	return filepath.Join(home, DirName, FileName)
}

// Load reads an INI configuration file. A missing file yields the
// defaults; unknown keys are ignored and malformed values fall back to
// their defaults. Only an unrecognized loglevel and a threadcount below one
// are logged as warnings; other malformed values fall back silently.
func Load(fsys afero.Fs, log *slog.Logger, home string, path string) (Config, error) {
	cfg := Default(home)

	data, err := afero.ReadFile(fsys, path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn("configuration file not found, using defaults", "path", path)

		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read configuration: %q (%w)", path, err)
	}

	file, err := ini.Load(data)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse configuration: %q (%w)", path, err)
	}

	def := file.Section(ini.DefaultSection)
	cfg.ProfilePath = def.Key("profilepath").MustString(cfg.ProfilePath)
	cfg.LogFile = def.Key("logfile").MustString("")
	if fields := strings.Fields(def.Key("ignorederrors").MustString("")); len(fields) > 0 {
		cfg.IgnoredErrors = fields
	}

	switch level := def.Key("loglevel").MustString(cfg.LogLevel); level {
	case "critical", "error", "warning", "info", "debug":
		cfg.LogLevel = level
	default:
		log.Warn("unrecognized loglevel in configuration, using default", "value", level)
	}

	uiSec := file.Section("ui")
	cfg.UIFont = uiSec.Key("font").MustString(cfg.UIFont)
	cfg.UIFontSize = uiSec.Key("font_size").MustInt(cfg.UIFontSize)

	behavior := file.Section("BackupBehavior")
	cfg.SourceMapName = behavior.Key("sourcemapname").MustString(cfg.SourceMapName)

	cfg.ThreadCount = behavior.Key("threadcount").MustInt(cfg.ThreadCount)
	if cfg.ThreadCount < 1 {
		log.Warn("threadcount below one, using default", "value", cfg.ThreadCount)
		cfg.ThreadCount = defaultThreadCount
	}

	return cfg, nil
}

// Save writes the configuration as an INI file, creating the parent
// directory when needed.
func Save(fsys afero.Fs, path string, cfg Config) error {
	file := ini.Empty()

	def := file.Section(ini.DefaultSection)
	def.Key("profilepath").SetValue(cfg.ProfilePath)
	def.Key("loglevel").SetValue(cfg.LogLevel)
	def.Key("ignorederrors").SetValue(strings.Join(cfg.IgnoredErrors, " "))
	if cfg.LogFile != "" {
		def.Key("logfile").SetValue(cfg.LogFile)
	}

	uiSec := file.Section("ui")
	uiSec.Key("font").SetValue(cfg.UIFont)
	uiSec.Key("font_size").SetValue(fmt.Sprintf("%d", cfg.UIFontSize))

	behavior := file.Section("BackupBehavior")
	behavior.Key("threadcount").SetValue(fmt.Sprintf("%d", cfg.ThreadCount))
	behavior.Key("sourcemapname").SetValue(cfg.SourceMapName)

	var buf bytes.Buffer
	if _, err := file.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create: %q (%w)", filepath.Dir(path), err)
	}

	if err := afero.WriteFile(fsys, path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write configuration: %q (%w)", path, err)
	}

	return nil
}

// Ensure makes sure a configuration file exists, writing the defaults on
// first run, and returns the loaded snapshot.
func Ensure(fsys afero.Fs, log *slog.Logger, home string, path string) (Config, error) {
	if _, err := fsys.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(fsys, path, Default(home)); err != nil {
			return Default(home), err
		}
		log.Info("wrote default configuration", "path", path)
	}

	return Load(fsys, log, home, path)
}
