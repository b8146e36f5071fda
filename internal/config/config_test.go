package config

import (
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const testHome = "/home/user"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Expectation: A missing file yields the defaults without error.
func Test_Unit_Config_LoadMissing_Defaults_Success(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()

	cfg, err := Load(fs, testLogger(), testHome, DefaultPath(testHome))
	require.NoError(t, err)
	require.Equal(t, Default(testHome), cfg)
	require.Equal(t, "/home/user/.manyfold/backup_profiles.json", cfg.ProfilePath)
	require.Equal(t, 3, cfg.ThreadCount)
	require.Equal(t, "mapfile", cfg.SourceMapName)
	require.Equal(t, "warning", cfg.LogLevel)
}

// Expectation: All sections parse into the snapshot.
func Test_Unit_Config_LoadFull_Parsed_Success(t *testing.T) {
	t.Parallel()

	doc := `[DEFAULT]
profilepath = /data/profiles.json
loglevel = debug
ignorederrors = PathTooLong AccessDenied
logfile = /var/log/manyfold.log

[ui]
font = sans
font_size = 14

[BackupBehavior]
threadcount = 5
sourcemapname = sidecar.json
`

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/conf.ini", []byte(doc), 0o644))

	cfg, err := Load(fs, testLogger(), testHome, "/conf.ini")
	require.NoError(t, err)

	require.Equal(t, "/data/profiles.json", cfg.ProfilePath)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, []string{"PathTooLong", "AccessDenied"}, cfg.IgnoredErrors)
	require.Equal(t, "/var/log/manyfold.log", cfg.LogFile)
	require.Equal(t, "sans", cfg.UIFont)
	require.Equal(t, 14, cfg.UIFontSize)
	require.Equal(t, 5, cfg.ThreadCount)
	require.Equal(t, "sidecar.json", cfg.SourceMapName)
}

// Expectation: Malformed or out-of-range values fall back to defaults.
func Test_Unit_Config_LoadMalformedValues_Defaults_Success(t *testing.T) {
	t.Parallel()

	doc := `[DEFAULT]
loglevel = shouting

[BackupBehavior]
threadcount = zero
`

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/conf.ini", []byte(doc), 0o644))

	cfg, err := Load(fs, testLogger(), testHome, "/conf.ini")
	require.NoError(t, err)
	require.Equal(t, "warning", cfg.LogLevel)
	require.Equal(t, 3, cfg.ThreadCount)
}

// Expectation: A below-one threadcount is rejected in favor of the
// default.
func Test_Unit_Config_ThreadCountBelowOne_Default_Success(t *testing.T) {
	t.Parallel()

	doc := "[BackupBehavior]\nthreadcount = 0\n"

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/conf.ini", []byte(doc), 0o644))

	cfg, err := Load(fs, testLogger(), testHome, "/conf.ini")
	require.NoError(t, err)
	require.Equal(t, 3, cfg.ThreadCount)
}

// Expectation: Unknown keys and sections are ignored.
func Test_Unit_Config_UnknownKeys_Ignored_Success(t *testing.T) {
	t.Parallel()

	doc := `[DEFAULT]
mysterykey = whatever

[experimental]
flag = on
`

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/conf.ini", []byte(doc), 0o644))

	cfg, err := Load(fs, testLogger(), testHome, "/conf.ini")
	require.NoError(t, err)
	require.Equal(t, Default(testHome), cfg)
}

// Expectation: Save then Load round-trips the snapshot.
func Test_Unit_Config_SaveLoad_RoundTrip_Success(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()

	want := Config{
		ProfilePath:   "/data/profiles.json",
		LogLevel:      "info",
		IgnoredErrors: []string{"NothingWasDone"},
		LogFile:       "/var/log/m.log",
		UIFont:        "mono",
		UIFontSize:    11,
		ThreadCount:   2,
		SourceMapName: "mapfile",
	}

	require.NoError(t, Save(fs, "/etc/manyfold.conf", want))

	got, err := Load(fs, testLogger(), testHome, "/etc/manyfold.conf")
	require.NoError(t, err)
	require.Equal(t, want, got)
}

// Expectation: Ensure writes the defaults on first run, then loads them.
func Test_Unit_Config_Ensure_FirstRun_Success(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	path := DefaultPath(testHome)

	cfg, err := Ensure(fs, testLogger(), testHome, path)
	require.NoError(t, err)
	require.Equal(t, Default(testHome), cfg)

	exists, err := afero.Exists(fs, path)
	require.NoError(t, err)
	require.True(t, exists)
}
