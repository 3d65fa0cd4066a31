// Package config handles configuration loading for matrixgate.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProjectConfigName is the project-level config file discovered by walking up
// from the working directory.
const ProjectConfigName = ".matrixgate.yaml"

// EnvPrefix prefixes environment overrides, e.g. MATRIXGATE_MATRIX_TIMEOUT.
const EnvPrefix = "MATRIXGATE"

// Config holds all configuration for matrixgate.
type Config struct {
	Matrix   MatrixConfig   `mapstructure:"matrix" yaml:"matrix"`
	Resolver ResolverConfig `mapstructure:"resolver" yaml:"resolver"`
	Executor ExecutorConfig `mapstructure:"executor" yaml:"executor"`
	Report   ReportConfig   `mapstructure:"report" yaml:"report"`
	History  HistoryConfig  `mapstructure:"history" yaml:"history"`
	Watch    WatchConfig    `mapstructure:"watch" yaml:"watch"`
}

// MatrixConfig controls how the matrix is run.
type MatrixConfig struct {
	File        string        `mapstructure:"file" yaml:"file"`
	Parallelism int           `mapstructure:"parallelism" yaml:"parallelism"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	FailFast    bool          `mapstructure:"fail_fast" yaml:"fail_fast"`
}

// ResolverConfig lists the local artifact repositories, searched in order.
type ResolverConfig struct {
	Repositories []string `mapstructure:"repositories" yaml:"repositories"`
}

// ExecutorConfig describes how the java test process is launched.
type ExecutorConfig struct {
	Java string `mapstructure:"java" yaml:"java"`
	// JavaHomes maps a major Java version ("8", "11", "17") to a JDK home.
	JavaHomes        map[string]string `mapstructure:"java_homes" yaml:"java_homes"`
	MainClass        string            `mapstructure:"main_class" yaml:"main_class"`
	Args             []string          `mapstructure:"args" yaml:"args"`
	FailureExitCodes []int             `mapstructure:"failure_exit_codes" yaml:"failure_exit_codes"`
	OutputTailLines  int               `mapstructure:"output_tail_lines" yaml:"output_tail_lines"`
	WorkDir          string            `mapstructure:"work_dir" yaml:"work_dir"`
}

// ReportConfig holds report output settings.
type ReportConfig struct {
	// LogFile receives one JSON record per outcome. Empty disables it.
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
}

// HistoryConfig holds run history settings.
type HistoryConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Driver    string        `mapstructure:"driver" yaml:"driver"`
	Path      string        `mapstructure:"path" yaml:"path"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// WatchConfig holds watch mode settings.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (MATRIXGATE_MATRIX_TIMEOUT, ...)
// 2. Project config (.matrixgate.yaml in current directory or parent)
// 3. User config (~/.config/matrixgate/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file on top of the
// defaults. Environment overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	for i, repo := range cfg.Resolver.Repositories {
		cfg.Resolver.Repositories[i] = os.ExpandEnv(repo)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the harness cannot run with.
func (c *Config) Validate() error {
	if c.Matrix.Parallelism < 1 {
		return fmt.Errorf("matrix.parallelism must be at least 1, got %d", c.Matrix.Parallelism)
	}
	if c.Matrix.Timeout <= 0 {
		return fmt.Errorf("matrix.timeout must be positive, got %s", c.Matrix.Timeout)
	}
	switch c.History.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("history.driver must be sqlite or sqlite3, got %q", c.History.Driver)
	}
	return nil
}

// WriteProjectConfig writes cfg to path as a project config file.
func WriteProjectConfig(path string, cfg *Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("matrix.file", cfg.Matrix.File)
	v.Set("matrix.parallelism", cfg.Matrix.Parallelism)
	v.Set("matrix.timeout", cfg.Matrix.Timeout.String())
	v.Set("matrix.fail_fast", cfg.Matrix.FailFast)
	v.Set("resolver.repositories", cfg.Resolver.Repositories)
	v.Set("executor.java", cfg.Executor.Java)
	v.Set("executor.main_class", cfg.Executor.MainClass)
	v.Set("executor.args", cfg.Executor.Args)
	v.Set("executor.failure_exit_codes", cfg.Executor.FailureExitCodes)
	v.Set("history.enabled", cfg.History.Enabled)
	v.Set("history.path", cfg.History.Path)

	return v.WriteConfigAs(path)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("matrix.file", d.Matrix.File)
	v.SetDefault("matrix.parallelism", d.Matrix.Parallelism)
	v.SetDefault("matrix.timeout", d.Matrix.Timeout.String())
	v.SetDefault("matrix.fail_fast", d.Matrix.FailFast)

	v.SetDefault("resolver.repositories", d.Resolver.Repositories)

	v.SetDefault("executor.java", d.Executor.Java)
	v.SetDefault("executor.java_homes", map[string]string{})
	v.SetDefault("executor.main_class", d.Executor.MainClass)
	v.SetDefault("executor.args", d.Executor.Args)
	v.SetDefault("executor.failure_exit_codes", d.Executor.FailureExitCodes)
	v.SetDefault("executor.output_tail_lines", d.Executor.OutputTailLines)
	v.SetDefault("executor.work_dir", d.Executor.WorkDir)

	v.SetDefault("report.log_file", d.Report.LogFile)

	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.driver", d.History.Driver)
	v.SetDefault("history.path", d.History.Path)
	v.SetDefault("history.retention", d.History.Retention.String())

	v.SetDefault("watch.debounce", d.Watch.Debounce.String())
}

// getUserConfigDir returns the XDG config directory for matrixgate.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "matrixgate")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "matrixgate")
	}
	return filepath.Join(home, ".config", "matrixgate")
}

// findProjectConfig searches for .matrixgate.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Matrix: MatrixConfig{
			File:        "matrix.yaml",
			Parallelism: 1,
			Timeout:     10 * time.Minute,
		},
		Resolver: ResolverConfig{
			Repositories: []string{"~/.m2/repository", "build/libs"},
		},
		Executor: ExecutorConfig{
			Java:             "java",
			JavaHomes:        map[string]string{},
			MainClass:        "org.junit.platform.console.ConsoleLauncher",
			Args:             []string{"--scan-classpath", "--disable-banner"},
			FailureExitCodes: []int{1},
			OutputTailLines:  40,
		},
		History: HistoryConfig{
			Enabled:   true,
			Driver:    "sqlite",
			Path:      filepath.Join(".matrixgate", "history.db"),
			Retention: 720 * time.Hour,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}
