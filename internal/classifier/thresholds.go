package classifier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Thresholds are the tunable limits behind the classification rules.
type Thresholds struct {
	CPUCritical       ConditionSpec `json:"cpuCritical" yaml:"cpuCritical"`
	MemoryCritical    ConditionSpec `json:"memoryCritical" yaml:"memoryCritical"`
	CPUWarning        ConditionSpec `json:"cpuWarning" yaml:"cpuWarning"`
	MemoryWarning     ConditionSpec `json:"memoryWarning" yaml:"memoryWarning"`
	CrashLoopRestarts ConditionSpec `json:"crashLoopRestarts" yaml:"crashLoopRestarts"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUCritical:       ConditionSpec{Op: ">", Value: 90.0},
		MemoryCritical:    ConditionSpec{Op: ">", Value: 90.0},
		CPUWarning:        ConditionSpec{Op: ">", Value: 75.0},
		MemoryWarning:     ConditionSpec{Op: ">", Value: 80.0},
		CrashLoopRestarts: ConditionSpec{Op: ">", Value: 2},
	}
}

func (t Thresholds) Validate() error {
	checks := []struct {
		name string
		cond ConditionSpec
	}{
		{"cpuCritical", t.CPUCritical},
		{"memoryCritical", t.MemoryCritical},
		{"cpuWarning", t.CPUWarning},
		{"memoryWarning", t.MemoryWarning},
		{"crashLoopRestarts", t.CrashLoopRestarts},
	}
	for _, c := range checks {
		if err := c.cond.Validate(); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}

// LoadThresholds reads a YAML file; keys it omits keep their defaults.
func LoadThresholds(path string) (Thresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Thresholds{}, err
	}
	return ParseThresholds(data)
}

func ParseThresholds(data []byte) (Thresholds, error) {
	t := DefaultThresholds()
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Thresholds{}, fmt.Errorf("parse thresholds: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Thresholds{}, err
	}
	return t, nil
}
