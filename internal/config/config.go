// Package config defines the typed configuration for mounting an lcfs
// device and binds it to command-line flags and an optional config file:
// pflag-bound fields, viper-backed unmarshal into a typed struct.
package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of knobs accepted by the mount command.
type Config struct {
	Device FileSystemConfig `mapstructure:"file-system"`
	Debug  DebugConfig      `mapstructure:"debug"`
	Log    LogConfig        `mapstructure:"logging"`
}

// FileSystemConfig controls the core registry and flush pipeline.
type FileSystemConfig struct {
	// Path to the block device or backing file to mount.
	DevicePath string `mapstructure:"device-path"`

	// MaxLayers is the registry capacity (spec.md's CAP).
	MaxLayers int `mapstructure:"max-layers"`

	// ClusterSize is the maximum number of inode-index pages batched into
	// one clustered write by the flush pipeline.
	ClusterSize int `mapstructure:"cluster-size"`

	// ReadOnly mounts every layer read-only.
	ReadOnly bool `mapstructure:"read-only"`
}

// DebugConfig controls invariant-checking behavior.
type DebugConfig struct {
	// ExitOnInvariantViolation panics (rather than merely logging) when an
	// assertion-class invariant from spec.md §7 is violated.
	ExitOnInvariantViolation bool `mapstructure:"exit-on-invariant-violation"`
}

// LogConfig selects the logger's output format and minimum severity.
type LogConfig struct {
	Format string `mapstructure:"format"` // "text" or "json"
	Level  string `mapstructure:"level"`  // TRACE/DEBUG/INFO/WARNING/ERROR
}

// Defaults matches the values a fresh mount uses absent any flag or config
// file override.
func Defaults() Config {
	return Config{
		Device: FileSystemConfig{
			MaxLayers:   256,
			ClusterSize: 256,
			ReadOnly:    false,
		},
		Debug: DebugConfig{
			ExitOnInvariantViolation: true,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "INFO",
		},
	}
}

// BindFlags registers every config field as a flag on flagSet and wires it
// to viper, the same division of labor as cfg.BindFlags: pflag owns parsing
// and help text, viper owns precedence (flag > config file > default).
func BindFlags(flagSet *pflag.FlagSet) error {
	d := Defaults()

	flagSet.String("file-system.device-path", d.Device.DevicePath, "Path to the block device or backing file to mount.")
	flagSet.Int("file-system.max-layers", d.Device.MaxLayers, "Maximum number of simultaneously mounted layers.")
	flagSet.Int("file-system.cluster-size", d.Device.ClusterSize, "Inode-index pages per flushed cluster.")
	flagSet.Bool("file-system.read-only", d.Device.ReadOnly, "Mount every layer read-only.")
	flagSet.Bool("debug.exit-on-invariant-violation", d.Debug.ExitOnInvariantViolation, "Panic instead of logging on an internal invariant violation.")
	flagSet.String("logging.format", d.Log.Format, "Log output format: text or json.")
	flagSet.String("logging.level", d.Log.Level, "Minimum log severity: TRACE, DEBUG, INFO, WARNING, or ERROR.")

	for _, name := range []string{
		"file-system.device-path",
		"file-system.max-layers",
		"file-system.cluster-size",
		"file-system.read-only",
		"debug.exit-on-invariant-violation",
		"logging.format",
		"logging.level",
	} {
		if err := viper.BindPFlag(name, flagSet.Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

// Load unmarshals viper's current state (flags, config file, defaults) into
// a Config.
func Load() (Config, error) {
	cfg := Defaults()
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
