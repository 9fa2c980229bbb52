package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for commands that open a
// database. Flags override file values; the file is optional.
type Config struct {
	Database        string `yaml:"database"`
	SchemaDir       string `yaml:"schema_dir"`
	MergePolicy     string `yaml:"merge_policy"` // "auto-merge" | "manual-reload"
	SerializedSaves bool   `yaml:"serialized_saves"`
}

var validPolicies = map[string]bool{"": true, "auto-merge": true, "manual-reload": true}

// LoadConfig reads a YAML config file. A missing path yields the zero
// config without error; a present but unreadable or invalid file is an
// error.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, &ExitError{Code: ExitCommandError, Message: "reading config", Err: err}
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, &ExitError{Code: ExitCommandError, Message: "parsing config", Err: err}
	}
	if !validPolicies[cfg.MergePolicy] {
		return cfg, &ExitError{
			Code:    ExitCommandError,
			Message: fmt.Sprintf("invalid merge_policy %q: must be auto-merge or manual-reload", cfg.MergePolicy),
		}
	}
	return cfg, nil
}
