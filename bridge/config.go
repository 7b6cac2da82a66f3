package bridge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LogLevel is the native engine log level. Values match the engine's enum.
type LogLevel int32

const (
	LogTrace LogLevel = iota
	LogDebug
	LogInfo
	LogWarn
	LogError
	LogCritical
	LogOff
)

var logLevelNames = [...]string{"trace", "debug", "info", "warn", "err", "critical", "off"}

func (l LogLevel) String() string {
	if l < LogTrace || l > LogOff {
		return fmt.Sprintf("LogLevel(%d)", int32(l))
	}
	return logLevelNames[l]
}

// ParseLogLevel parses a level name. "error" is accepted as an alias of "err".
func ParseLogLevel(s string) (LogLevel, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "error" {
		name = "err"
	}
	for i, n := range logLevelNames {
		if n == name {
			return LogLevel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Config is the configuration handed to the native engine on creation.
type Config struct {
	Level      LogLevel
	LogPath    string
	WALPath    string
	DiskPath   string
	WALOn      bool
	DiskOn     bool
	SyncToDisk bool
}

// DefaultConfig returns a trace-level configuration rooted in the working
// directory with WAL, disk persistence and WAL syncing enabled.
func DefaultConfig() Config {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return ConfigAt(wd)
}

// ConfigAt returns the default configuration with log, wal and disk
// directories under base.
func ConfigAt(base string) Config {
	return Config{
		Level:      LogTrace,
		LogPath:    filepath.Join(base, "log"),
		WALPath:    filepath.Join(base, "wal"),
		DiskPath:   filepath.Join(base, "disk"),
		WALOn:      true,
		DiskOn:     true,
		SyncToDisk: true,
	}
}

// Validate checks that enabled persistence layers have a path.
func (c Config) Validate() error {
	var errs []error
	if c.Level < LogTrace || c.Level > LogOff {
		errs = append(errs, fmt.Errorf("invalid log level %d", int32(c.Level)))
	}
	if c.WALOn && c.WALPath == "" {
		errs = append(errs, errors.New("wal enabled without wal path"))
	}
	if c.DiskOn && c.DiskPath == "" {
		errs = append(errs, errors.New("disk enabled without disk path"))
	}
	return errors.Join(errs...)
}
