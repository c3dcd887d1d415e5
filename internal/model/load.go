package model

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const (
	// ProjectFileName is looked up from the working directory upwards.
	ProjectFileName = "taskflow.yaml"
	// StateDirName holds logs, the watch socket and the watch lock, next to
	// the project file.
	StateDirName = ".taskflow"
	// UserConfigRel is resolved against $XDG_CONFIG_HOME (and XDG_CONFIG_DIRS).
	UserConfigRel = "taskflow/config.yaml"

	defaultDebounceMs      = 100
	defaultShutdownWarn = 30
)

var ErrProjectNotFound = errors.New(ProjectFileName + " not found")

// FindProjectFile walks up from dir until it finds a taskflow.yaml.
func FindProjectFile(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(dir, ProjectFileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrProjectNotFound
		}
		dir = parent
	}
}

// LoadProject reads and decodes a project file.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return ParseProject(data)
}

func ParseProject(data []byte) (*Project, error) {
	var p Project
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ProjectFileName, err)
	}
	return &p, nil
}

// UserDefaults are per-user settings applied where a project leaves a
// field unset.
type UserDefaults struct {
	Logging LoggingConfig `yaml:"logging"`
	Watch   struct {
		DebounceMs      int `yaml:"debounce_ms"`
		ShutdownWarnSec int `yaml:"shutdown_warn_sec"`
	} `yaml:"watch"`
}

// LoadUserDefaults reads the XDG user config. A missing file is not an
// error.
func LoadUserDefaults() (UserDefaults, error) {
	var d UserDefaults
	path, err := xdg.SearchConfigFile(UserConfigRel)
	if err != nil {
		return d, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return d, fmt.Errorf("read user config: %w", err)
	}
	if err := yaml.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("parse user config %s: %w", path, err)
	}
	return d, nil
}

// ApplyDefaults fills unset settings from user defaults, then from built-in
// defaults.
func (p *Project) ApplyDefaults(user UserDefaults) {
	if p.Logging.Level == "" {
		p.Logging.Level = user.Logging.Level
	}
	if !p.Logging.JSON {
		p.Logging.JSON = user.Logging.JSON
	}
	if !p.Logging.Audit {
		p.Logging.Audit = user.Logging.Audit
	}
	if p.Logging.AuditMaxSize <= 0 {
		p.Logging.AuditMaxSize = user.Logging.AuditMaxSize
	}
	if p.Watch.DebounceMs <= 0 {
		p.Watch.DebounceMs = user.Watch.DebounceMs
	}
	if p.Watch.DebounceMs <= 0 {
		p.Watch.DebounceMs = defaultDebounceMs
	}
	if p.Watch.ShutdownWarnSec <= 0 {
		p.Watch.ShutdownWarnSec = user.Watch.ShutdownWarnSec
	}
	if p.Watch.ShutdownWarnSec <= 0 {
		p.Watch.ShutdownWarnSec = defaultShutdownWarn
	}
	if p.Logging.Level == "" {
		p.Logging.Level = "info"
	}
}
