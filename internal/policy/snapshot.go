package policy

import "strings"

// Snapshot is the immutable policy configuration consulted by decide().
// It is swapped atomically on reload (spec §4.D "Configuration reload");
// in-flight decisions keep using the snapshot pointer they captured.
type Snapshot struct {
	BypassAllowedPrincipals []string
	EnforceRegistryOnly     bool
	RiskThreshold           float64
	RequireAdminForHighRisk bool
	GlobalToolDenylist      []string
	DeniedToolCategories    []string
	TeamAllowlists          map[string][]string
	TeamDenylists           map[string][]string
}

func containsFold(list []string, needle string) bool {
	for _, v := range list {
		if strings.EqualFold(v, needle) {
			return true
		}
	}
	return false
}

func containsSubstringFold(categories []string, toolName string) bool {
	lower := strings.ToLower(toolName)
	for _, c := range categories {
		if c == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(c)) {
			return true
		}
	}
	return false
}
