// Package config provides configuration management for bbdev.
//
// Configuration is loaded from three sources with the following precedence
// (highest to lowest):
//  1. CLI flags
//  2. Environment variables (BBDEV_ prefix)
//  3. Config file (.bbdev.yaml in the workspace root)
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Supported log levels.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Supported log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config represents the global configuration for bbdev.
type Config struct {
	// LogLevel controls the verbosity of log output.
	// Valid values: debug, info, warn, error.
	LogLevel string `mapstructure:"log-level" json:"logLevel"`

	// LogFormat controls the format of log output.
	// Valid values: text, json.
	LogFormat string `mapstructure:"log-format" json:"logFormat"`

	// NoColor disables colored output.
	NoColor bool `mapstructure:"no-color" json:"noColor"`

	// Quiet suppresses all log output below error level.
	Quiet bool `mapstructure:"quiet" json:"quiet"`

	// Workspace holds the orchestrator settings.
	Workspace `mapstructure:",squash" json:"workspace"`

	// ConfigFile is the resolved path to the config file used.
	// Set after Load(), never read from the config itself.
	ConfigFile string `mapstructure:"-" json:"-"`
}

// Workspace configures how sibling repositories are updated, built and served.
type Workspace struct {
	// Root is the directory holding the sibling repositories.
	Root string `mapstructure:"root" json:"root" validate:"required"`

	// AutoUpdate names the repositories cloned or pulled on setup.
	AutoUpdate []string `mapstructure:"autoUpdate" json:"autoUpdate" validate:"dive,required"`

	// GitBase is the URL prefix used to clone missing AutoUpdate repositories.
	GitBase string `mapstructure:"git-base" json:"gitBase" validate:"required"`

	// PackageManager is the binary used for install and build.
	PackageManager string `mapstructure:"package-manager" json:"packageManager" validate:"required"`

	// BuildScript is the package script run by the Builder.
	BuildScript string `mapstructure:"build-script" json:"buildScript" validate:"required"`

	// ServerCommand is the runtime that executes ServerEntry, e.g. node.
	ServerCommand string `mapstructure:"server-command" json:"serverCommand" validate:"required"`

	// ServerEntry is the server entry point relative to the server directory.
	ServerEntry string `mapstructure:"server-entry" json:"serverEntry" validate:"required"`

	// PluginArtifact is the plugin bundle path relative to each plugin directory.
	PluginArtifact string `mapstructure:"plugin-artifact" json:"pluginArtifact" validate:"required"`

	// Port is passed to the server as PORT.
	Port int `mapstructure:"port" json:"port" validate:"min=1,max=65535"`

	// ServerLogLevel is passed to the server as LOG_LEVEL.
	ServerLogLevel string `mapstructure:"server-log-level" json:"serverLogLevel" validate:"required"`

	// GracePeriod is how long to wait after terminating the previous server.
	GracePeriod time.Duration `mapstructure:"grace-period" json:"gracePeriod" validate:"gte=0"`

	// Debounce is the quiet period applied to file events.
	Debounce time.Duration `mapstructure:"debounce" json:"debounce" validate:"gt=0"`

	// SetupRetryDelay is the pause before a coalesced setup replays.
	SetupRetryDelay time.Duration `mapstructure:"setup-retry-delay" json:"setupRetryDelay" validate:"gte=0"`

	// CacheDirs are per-project bundler caches removed by "bbdev clean".
	CacheDirs []string `mapstructure:"cache-dirs" json:"cacheDirs" validate:"dive,required,ne=.,ne=..,excludesall=/\\"`

	// SystemDirs are top-level directories never treated as projects.
	SystemDirs []string `mapstructure:"system-dirs" json:"systemDirs"`
}

// Core project directory names. They are built before any plugin and never
// loaded as plugins.
const (
	SDKDir    = "sdk"
	ServerDir = "server"
)

// CoreDirs returns the core directories in build order.
func CoreDirs() []string {
	return []string{SDKDir, ServerDir}
}

// DefaultSystemDirs lists directories ignored at the workspace root.
func DefaultSystemDirs() []string {
	return []string{".git", ".github", ".vscode", ".idea", "node_modules"}
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:  LogLevelInfo,
		LogFormat: LogFormatText,
		NoColor:   false,
		Quiet:     false,
		Workspace: DefaultWorkspace(),
	}
}

// DefaultWorkspace returns the workspace defaults rooted at ".".
func DefaultWorkspace() Workspace {
	return Workspace{
		Root:            ".",
		AutoUpdate:      CoreDirs(),
		GitBase:         "https://github.com/board-bound",
		PackageManager:  "bun",
		BuildScript:     "build",
		ServerCommand:   "node",
		ServerEntry:     "dist/index.js",
		PluginArtifact:  "dist/index.js",
		Port:            3000,
		ServerLogLevel:  "debug",
		GracePeriod:     time.Second,
		Debounce:        100 * time.Millisecond,
		SetupRetryDelay: time.Second,
		CacheDirs:       []string{".parcel-cache"},
		SystemDirs:      DefaultSystemDirs(),
	}
}

// Validate checks that all config values are valid.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		// valid
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.LogLevel)
	}

	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
		// valid
	default:
		return fmt.Errorf("invalid log format %q: must be one of text, json", c.LogFormat)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c.Workspace); err != nil {
		return fmt.Errorf("invalid workspace settings: %w", err)
	}

	return nil
}

// EffectiveLogLevel returns the log level to use. When Quiet is true the log
// level is overridden to "error" regardless of the configured LogLevel.
func (c *Config) EffectiveLogLevel() string {
	if c.Quiet {
		return LogLevelError
	}

	return c.LogLevel
}

// IsSystemDir reports whether name is excluded from project scanning.
// Hidden directories are always system directories.
func (w Workspace) IsSystemDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}

	for _, s := range w.SystemDirs {
		if s == name {
			return true
		}
	}

	return false
}

// IsCoreDir reports whether name is one of the core projects.
func IsCoreDir(name string) bool {
	return name == SDKDir || name == ServerDir
}

// Load initialises configuration from flags, environment variables, and an
// optional config file. A fresh viper instance is used on every call so that
// Load is safe for concurrent tests.
func Load(cmd *cobra.Command, configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	configureEnv(v)

	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	if err := configureFile(v, configFile, v.GetString("root")); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Store the resolved config file path so downstream code can locate it.
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}

	cfg.Workspace.Root = root

	return &cfg, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper) {
	d := DefaultWorkspace()

	v.SetDefault("log-level", LogLevelInfo)
	v.SetDefault("log-format", LogFormatText)
	v.SetDefault("no-color", false)
	v.SetDefault("quiet", false)

	v.SetDefault("root", d.Root)
	v.SetDefault("autoUpdate", d.AutoUpdate)
	v.SetDefault("git-base", d.GitBase)
	v.SetDefault("package-manager", d.PackageManager)
	v.SetDefault("build-script", d.BuildScript)
	v.SetDefault("server-command", d.ServerCommand)
	v.SetDefault("server-entry", d.ServerEntry)
	v.SetDefault("plugin-artifact", d.PluginArtifact)
	v.SetDefault("port", d.Port)
	v.SetDefault("server-log-level", d.ServerLogLevel)
	v.SetDefault("grace-period", d.GracePeriod)
	v.SetDefault("debounce", d.Debounce)
	v.SetDefault("setup-retry-delay", d.SetupRetryDelay)
	v.SetDefault("cache-dirs", d.CacheDirs)
	v.SetDefault("system-dirs", d.SystemDirs)
}

// configureEnv sets up environment variable support.
func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("BBDEV")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

// configureFile sets up the config file source. Without an explicit file
// the workspace root and the user config directory are searched.
func configureFile(v *viper.Viper, configFile, root string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %q: %w", configFile, err)
		}

		return nil
	}

	// Auto-discovery mode.
	v.SetConfigName(".bbdev")
	v.AddConfigPath(root)

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "bbdev"))
	}

	if err := v.ReadInConfig(); err != nil {
		// No config file found → perfectly fine in auto-discovery.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}

		// Found a file but it was malformed.
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// bindFlags walks from cmd up to the root and binds all PersistentFlags.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if cmd == nil {
		return nil
	}

	// Bind the current command's own flags.
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	// Walk up to root and bind all persistent flags at each level.
	for c := cmd; c != nil; c = c.Parent() {
		if err := v.BindPFlags(c.PersistentFlags()); err != nil {
			return fmt.Errorf("binding persistent flags: %w", err)
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

type ctxKey struct{}

// NewContext returns a child context carrying cfg.
func NewContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext extracts a Config from ctx, falling back to Default().
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(ctxKey{}).(*Config); ok {
		return cfg
	}

	return Default()
}
