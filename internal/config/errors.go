package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingConfig = errors.New("missing config")
	ErrConfigCycle   = errors.New("config reference cycle")
)

// MissingConfigError reports a path with no value in the tree.
type MissingConfigError struct {
	Path string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("missing config: %s", e.Path)
}

func (e *MissingConfigError) Is(target error) bool { return target == ErrMissingConfig }

// ConfigCycleError reports a reference chain that revisits a path already
// being resolved. Chain starts and ends with the repeated path.
type ConfigCycleError struct {
	Chain []string
}

func (e *ConfigCycleError) Error() string {
	return fmt.Sprintf("config reference cycle: %s", strings.Join(e.Chain, " -> "))
}

func (e *ConfigCycleError) Is(target error) bool { return target == ErrConfigCycle }
