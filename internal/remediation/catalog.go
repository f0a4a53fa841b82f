package remediation

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"kubeheal-backend/internal/anomaly"
)

const (
	ActionRestartPod      = "restart_pod"
	ActionIncreaseMemory  = "increase_memory"
	ActionIncreaseCPU     = "increase_cpu"
	ActionScaleDeployment = "scale_deployment"
)

type Action struct {
	ID              string         `json:"id" yaml:"id"`
	Label           string         `json:"label" yaml:"label"`
	ApplicableKinds []anomaly.Kind `json:"applicableKinds" yaml:"applicableKinds"`
	Destructive     bool           `json:"destructive" yaml:"destructive"`
}

func (a Action) AppliesTo(kind anomaly.Kind) bool {
	for _, k := range a.ApplicableKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Catalog is immutable once built and safe for concurrent use.
type Catalog struct {
	actions []Action
	byID    map[string]Action
}

func DefaultActions() []Action {
	return []Action{
		{
			ID:              ActionRestartPod,
			Label:           "Restart pod",
			ApplicableKinds: []anomaly.Kind{anomaly.KindCrashLoop, anomaly.KindOomRisk, anomaly.KindConnectionFailure, anomaly.KindOther},
			Destructive:     true,
		},
		{
			ID:              ActionIncreaseMemory,
			Label:           "Increase memory limit",
			ApplicableKinds: []anomaly.Kind{anomaly.KindOomRisk, anomaly.KindResourceExhaustion},
		},
		{
			ID:              ActionIncreaseCPU,
			Label:           "Increase CPU limit",
			ApplicableKinds: []anomaly.Kind{anomaly.KindResourceExhaustion},
		},
		{
			ID:              ActionScaleDeployment,
			Label:           "Scale deployment",
			ApplicableKinds: []anomaly.Kind{anomaly.KindResourceExhaustion, anomaly.KindConnectionFailure},
		},
	}
}

func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultActions())
	if err != nil {
		panic(err)
	}
	return c
}

func NewCatalog(actions []Action) (*Catalog, error) {
	if len(actions) == 0 {
		return nil, fmt.Errorf("no actions configured")
	}
	c := &Catalog{byID: make(map[string]Action, len(actions))}
	for _, a := range actions {
		a.ID = strings.TrimSpace(a.ID)
		if a.ID == "" {
			return nil, fmt.Errorf("action id is required")
		}
		if _, dup := c.byID[a.ID]; dup {
			return nil, fmt.Errorf("duplicate action %q", a.ID)
		}
		if len(a.ApplicableKinds) == 0 {
			return nil, fmt.Errorf("action %q applies to no kind", a.ID)
		}
		kinds := make([]anomaly.Kind, 0, len(a.ApplicableKinds))
		for _, k := range a.ApplicableKinds {
			kind, err := anomaly.ParseKind(string(k))
			if err != nil {
				return nil, fmt.Errorf("action %q: %w", a.ID, err)
			}
			kinds = append(kinds, kind)
		}
		a.ApplicableKinds = kinds
		if a.Label == "" {
			a.Label = a.ID
		}
		c.actions = append(c.actions, a)
		c.byID[a.ID] = a
	}
	return c, nil
}

type catalogFile struct {
	Actions []Action `yaml:"actions"`
}

func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse action catalog: %w", err)
	}
	return NewCatalog(file.Actions)
}

func (c *Catalog) Actions() []Action {
	out := make([]Action, len(c.actions))
	copy(out, c.actions)
	return out
}

func (c *Catalog) Get(id string) (Action, bool) {
	a, ok := c.byID[id]
	return a, ok
}

func (c *Catalog) ForKind(kind anomaly.Kind) []Action {
	var out []Action
	for _, a := range c.actions {
		if a.AppliesTo(kind) {
			out = append(out, a)
		}
	}
	return out
}

// Applicable returns the action when it exists and covers kind.
func (c *Catalog) Applicable(actionID string, kind anomaly.Kind) (Action, error) {
	a, ok := c.byID[actionID]
	if !ok {
		return Action{}, fmt.Errorf("%w: unknown action %q", ErrInapplicableAction, actionID)
	}
	if !a.AppliesTo(kind) {
		return Action{}, fmt.Errorf("%w: %s does not apply to %s", ErrInapplicableAction, actionID, kind)
	}
	return a, nil
}

// Suggest picks the preferred action for kind and severity when the catalog
// carries it, otherwise the first action that applies.
func (c *Catalog) Suggest(kind anomaly.Kind, sev anomaly.Severity) string {
	if preferred := PreferredAction(kind, sev); preferred != "" {
		if a, ok := c.byID[preferred]; ok && a.AppliesTo(kind) {
			return preferred
		}
	}
	if actions := c.ForKind(kind); len(actions) > 0 {
		return actions[0].ID
	}
	return ""
}

// PreferredAction is the default operator choice per anomaly kind.
func PreferredAction(kind anomaly.Kind, sev anomaly.Severity) string {
	switch kind {
	case anomaly.KindOomRisk:
		return ActionIncreaseMemory
	case anomaly.KindResourceExhaustion:
		if sev >= anomaly.SeverityCritical {
			return ActionScaleDeployment
		}
		return ActionIncreaseCPU
	case anomaly.KindCrashLoop, anomaly.KindConnectionFailure, anomaly.KindOther:
		return ActionRestartPod
	}
	return ""
}
