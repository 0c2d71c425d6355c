package monitor

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TrialRef identifies one monitored study in the targets config.
type TrialRef struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Target is a named group of trials monitored together.
type Target struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`
	Trials      []TrialRef `yaml:"trials" json:"trials"`
}

// TargetsFile accepts three config shapes:
//  1. current form:   targets: [{name, description, trials: [...]}]
//  2. renamed form:   topics:  [...]            (old key, same structure)
//  3. legacy form:    trials:  [{id, name}, …]  (flat list, no grouping)
//
// Legacy flat lists become a single "Default" target.
type TargetsFile struct {
	Targets []Target `yaml:"targets"`
}

func (t *TargetsFile) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	var raw struct {
		Targets []Target   `yaml:"targets"`
		Topics  []Target   `yaml:"topics"`
		Trials  []TrialRef `yaml:"trials"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch {
	case len(raw.Targets) > 0:
		t.Targets = raw.Targets
	case len(raw.Topics) > 0:
		t.Targets = raw.Topics
	case len(raw.Trials) > 0:
		t.Targets = []Target{{
			Name:        "Default",
			Description: "Migrated from legacy format",
			Trials:      raw.Trials,
		}}
	}
	return nil
}

// FindTarget returns the target with the given name, case-insensitive.
func (t *TargetsFile) FindTarget(name string) *Target {
	for i := range t.Targets {
		if strings.EqualFold(t.Targets[i].Name, name) {
			return &t.Targets[i]
		}
	}
	return nil
}

// LoadTargets reads and normalizes a targets config file.
func LoadTargets(path string) (*TargetsFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tf TargetsFile
	if err := yaml.Unmarshal(b, &tf); err != nil {
		return nil, fmt.Errorf("parse targets config: %w", err)
	}
	return &tf, nil
}

// SaveTargets writes the targets config back in the current form.
func SaveTargets(path string, tf *TargetsFile) error {
	b, err := yaml.Marshal(struct {
		Targets []Target `yaml:"targets"`
	}{Targets: tf.Targets})
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// FileConfig is the runner configuration file. Every field can be
// overridden from the command line.
type FileConfig struct {
	DataDir     string `yaml:"data_dir"`
	TargetsPath string `yaml:"targets"`
	APIBaseURL  string `yaml:"api_base_url"`

	MaxWorkers int `yaml:"max_workers"`

	// Watchlist restricts change detection to the fixed field watch-list
	// instead of the full structural diff.
	Watchlist bool `yaml:"watchlist"`

	// RunLog is the SQLite run-log path. Empty disables the run log.
	RunLog string `yaml:"run_log"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads the runner configuration file.
func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
