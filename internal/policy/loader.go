package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlSnapshot mirrors Snapshot with yaml tags; kept separate so
// Snapshot itself (used on the hot decide() path) carries no struct
// tag overhead or third-party coupling.
type yamlSnapshot struct {
	BypassAllowedPrincipals []string            `yaml:"bypassAllowedPrincipals"`
	EnforceRegistryOnly     bool                `yaml:"enforceRegistryOnly"`
	RiskThreshold           float64             `yaml:"riskThreshold"`
	RequireAdminForHighRisk bool                `yaml:"requireAdminForHighRisk"`
	GlobalToolDenylist      []string            `yaml:"globalToolDenylist"`
	DeniedToolCategories    []string            `yaml:"deniedToolCategories"`
	TeamAllowlists          map[string][]string `yaml:"teamAllowlists"`
	TeamDenylists           map[string][]string `yaml:"teamDenylists"`
}

// LoadSnapshotFromFile reads a policy.yaml file (an alternative to
// embedding policy directly in the JSON governor config) and decodes it
// into a Snapshot, ready to pass to NewEngine or Engine.Reload.
func LoadSnapshotFromFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read policy file: %w", err)
	}
	var y yamlSnapshot
	if err := yaml.Unmarshal(data, &y); err != nil {
		return Snapshot{}, fmt.Errorf("parse policy yaml: %w", err)
	}
	return Snapshot{
		BypassAllowedPrincipals: y.BypassAllowedPrincipals,
		EnforceRegistryOnly:     y.EnforceRegistryOnly,
		RiskThreshold:           y.RiskThreshold,
		RequireAdminForHighRisk: y.RequireAdminForHighRisk,
		GlobalToolDenylist:      y.GlobalToolDenylist,
		DeniedToolCategories:    y.DeniedToolCategories,
		TeamAllowlists:          y.TeamAllowlists,
		TeamDenylists:           y.TeamDenylists,
	}, nil
}
