package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the project-level config file, searched for from
	// the working directory upwards.
	ProjectConfigFile = "semdilemma.yaml"
	// UserConfigDir is the directory for user-level config, relative to home.
	UserConfigDir = ".config/semdilemma"
	// UserConfigFile is the user-level config file name.
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger  *slog.Logger
	homeDir string
	workDir string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithHomeDir overrides the home directory used to find the user config.
func WithHomeDir(dir string) LoaderOption {
	return func(l *Loader) { l.homeDir = dir }
}

// WithWorkDir overrides the directory the project config search starts from.
func WithWorkDir(dir string) LoaderOption {
	return func(l *Loader) { l.workDir = dir }
}

// NewLoader creates a configuration loader.
func NewLoader(logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	if l.homeDir == "" {
		l.homeDir, _ = os.UserHomeDir()
	}
	if l.workDir == "" {
		l.workDir, _ = os.Getwd()
	}
	return l
}

// Load builds the configuration from, in increasing precedence:
//  1. defaults
//  2. user config (~/.config/semdilemma/config.yaml)
//  3. project config (semdilemma.yaml in the working directory or a parent)
//  4. explicit, the --config flag value, if non-empty
//
// A missing user or project file is skipped. A missing explicit file, or any
// file that fails to parse, is an error.
func (l *Loader) Load(explicit string) (*Config, error) {
	cfg := DefaultConfig()

	if path := l.UserConfigPath(); path != "" {
		overlay, err := loadOverlay(path)
		switch {
		case err == nil:
			l.logger.Debug("Loaded user config", "path", path)
			cfg.Merge(overlay)
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("user config: %w", err)
		}
	}

	if path := l.FindProjectConfig(); path != "" {
		overlay, err := loadOverlay(path)
		if err != nil {
			return nil, fmt.Errorf("project config: %w", err)
		}
		l.logger.Debug("Loaded project config", "path", path)
		cfg.Merge(overlay)
	} else {
		l.logger.Debug("No project config found", "from", l.workDir)
	}

	if explicit != "" {
		overlay, err := loadOverlay(explicit)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", explicit, err)
		}
		l.logger.Debug("Loaded explicit config", "path", explicit)
		cfg.Merge(overlay)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UserConfigPath returns the user config file path, or "" without a home dir.
func (l *Loader) UserConfigPath() string {
	if l.homeDir == "" {
		return ""
	}
	return filepath.Join(l.homeDir, UserConfigDir, UserConfigFile)
}

// FindProjectConfig searches for semdilemma.yaml from the working directory
// up to the filesystem root.
func (l *Loader) FindProjectConfig() string {
	if l.workDir == "" {
		return ""
	}
	dir := l.workDir
	for {
		path := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
