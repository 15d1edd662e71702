// Package config loads the settings of the fsdb command line tool.
//
// Settings come from JSONC files (JSON with comments and trailing commas)
// layered over defaults, then from command line overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/fsdb/pkg/fs"
	"github.com/calvinalkan/fsdb/pkg/fsdb"
)

// FileName is the project config file name.
const FileName = ".fsdb.json"

var (
	ErrFileNotFound = errors.New("config file not found")
	ErrFileRead     = errors.New("cannot read config file")
	ErrInvalid      = errors.New("invalid config file")
	ErrDirEmpty     = errors.New("dir cannot be empty")
	ErrNegative     = errors.New("value must not be negative")
	ErrBadPrefix    = errors.New("prefix must not contain a path separator")
)

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	Dir           string `json:"dir"`
	Prefix        string `json:"prefix,omitempty"`
	MinRecordLen  int    `json:"min_record_len,omitempty"`
	MaxFileLength int64  `json:"max_file_length,omitempty"`
	BatchSizeMB   int    `json:"batch_size_mb,omitempty"`
	Compress      *bool  `json:"compress,omitempty"`

	// Resolved (computed, not serialized)
	EffectiveCwd string `json:"-"`
	DirAbs       string `json:"-"`

	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Dir:    ".fsdb",
		Prefix: fsdb.DefaultPrefix,
	}
}

// Compressed reports whether values are stored compressed.
func (c Config) Compressed() bool {
	return c.Compress != nil && *c.Compress
}

// DB converts the resolved config into the options of [fsdb.Open].
func (c Config) DB() fsdb.Config {
	dir := c.DirAbs
	if dir == "" {
		dir = c.Dir
	}

	return fsdb.Config{
		Dir:           dir,
		Prefix:        c.Prefix,
		MinRecordLen:  c.MinRecordLen,
		MaxFileLength: c.MaxFileLength,
		BatchSizeMB:   c.BatchSizeMB,
		Compress:      c.Compressed(),
	}
}

// Overrides are values set on the command line. Zero fields are ignored.
type Overrides struct {
	Dir      string
	Compress *bool
}

// LoadInput holds the inputs for [Load].
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Overrides       Overrides         // flag overrides
	Env             map[string]string // environment variables
	FS              fs.FS             // default fs.NewReal()
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config ($XDG_CONFIG_HOME/fsdb/config.json or ~/.config/fsdb/config.json)
// 3. Project config file (.fsdb.json in the working directory, if it exists)
// 4. Explicit config file via ConfigPath (replaces 3)
// 5. Command line overrides.
func Load(input LoadInput) (Config, error) {
	fsys := input.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	if globalPath := globalConfigPath(input.Env); globalPath != "" {
		globalCfg, loaded, err := loadFile(fsys, globalPath, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg = merge(cfg, globalCfg)
			cfg.Sources.Global = globalPath
		}
	}

	projectPath, mustExist := filepath.Join(workDir, FileName), false
	if input.ConfigPath != "" {
		projectPath, mustExist = input.ConfigPath, true
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}
	}

	projectCfg, loaded, err := loadFile(fsys, projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = merge(cfg, projectCfg)
		cfg.Sources.Project = projectPath
	}

	if input.Overrides.Dir != "" {
		cfg.Dir = input.Overrides.Dir
	}

	if input.Overrides.Compress != nil {
		cfg.Compress = input.Overrides.Compress
	}

	err = validate(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	if filepath.IsAbs(cfg.Dir) {
		cfg.DirAbs = cfg.Dir
	} else {
		cfg.DirAbs = filepath.Join(workDir, cfg.Dir)
	}

	return cfg, nil
}

// Write stores the serialized settings of cfg at path, replacing any
// existing file atomically.
func Write(fsys fs.FS, path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	err = fsys.WriteFileAtomic(path, append(data, '\n'))
	if err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}

	return nil
}

// globalConfigPath returns the path to the global config file, or "" if
// neither XDG_CONFIG_HOME nor HOME is set.
func globalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "fsdb", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "fsdb", "config.json")
	}

	return ""
}

// loadFile reads and parses a config file. If mustExist is false, a missing
// file is not an error and reports loaded=false.
func loadFile(fsys fs.FS, path string, mustExist bool) (Config, bool, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if mustExist {
				return Config{}, false, fmt.Errorf("%w: %s", ErrFileNotFound, path)
			}

			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w %s: %w", ErrFileRead, path, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrInvalid, path, err)
	}

	return cfg, true, nil
}

func parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	// "dir": "" is an explicit mistake, not an unset field.
	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	if val, ok := raw["dir"].(string); ok && val == "" {
		return Config{}, ErrDirEmpty
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.Dir != "" {
		base.Dir = overlay.Dir
	}

	if overlay.Prefix != "" {
		base.Prefix = overlay.Prefix
	}

	if overlay.MinRecordLen != 0 {
		base.MinRecordLen = overlay.MinRecordLen
	}

	if overlay.MaxFileLength != 0 {
		base.MaxFileLength = overlay.MaxFileLength
	}

	if overlay.BatchSizeMB != 0 {
		base.BatchSizeMB = overlay.BatchSizeMB
	}

	if overlay.Compress != nil {
		base.Compress = overlay.Compress
	}

	return base
}

func validate(cfg Config) error {
	if cfg.Dir == "" {
		return ErrDirEmpty
	}

	if strings.ContainsRune(cfg.Prefix, filepath.Separator) {
		return fmt.Errorf("%w: %q", ErrBadPrefix, cfg.Prefix)
	}

	if cfg.MinRecordLen < 0 {
		return fmt.Errorf("min_record_len: %w", ErrNegative)
	}

	if cfg.MaxFileLength < 0 {
		return fmt.Errorf("max_file_length: %w", ErrNegative)
	}

	if cfg.BatchSizeMB < 0 {
		return fmt.Errorf("batch_size_mb: %w", ErrNegative)
	}

	return nil
}
