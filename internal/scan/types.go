// Package scan implements the scan orchestrator: submitting isolated
// scan workloads on a cluster scheduler, reconciling their completion,
// and normalizing their results onto registry.Scan rows (spec §4.C).
package scan

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/marcus-qen/legator/internal/config"
	"github.com/marcus-qen/legator/internal/registry"
)

// Descriptor is the scan-relevant slice of a Server, base64-JSON-encoded
// into the workload's environment (spec §4.C trigger path).
type Descriptor struct {
	ServerID      string                  `json:"serverId"`
	CanonicalID   string                  `json:"canonicalId"`
	SourceType    registry.SourceType     `json:"sourceType"`
	SourceURL     string                  `json:"sourceUrl,omitempty"`
	TestEndpoint  string                  `json:"testEndpoint,omitempty"`
	MCPConfig     map[string]any          `json:"mcpConfig,omitempty"`
	DeclaredTools []registry.DeclaredTool `json:"declaredTools,omitempty"`

	// DynamicTestingEnabled and AnalysisAPIURL carry the orchestrator's
	// "also run the scanner against the live endpoint" instruction into
	// the workload (spec §4.C: "If enableDynamicTesting is set and
	// testEndpoint is non-empty, additionally run the scanner against
	// that endpoint"). DynamicTestingEnabled is only ever true when both
	// the scanner config and the server's TestEndpoint agree.
	DynamicTestingEnabled bool   `json:"dynamicTestingEnabled,omitempty"`
	AnalysisAPIURL        string `json:"analysisApiUrl,omitempty"`
}

// NewDescriptor builds the scan descriptor for server under cfg.
func NewDescriptor(server *registry.Server, cfg config.ScannerConfig) Descriptor {
	return Descriptor{
		ServerID:              server.ID,
		CanonicalID:           server.CanonicalID,
		SourceType:            server.SourceType,
		SourceURL:             server.SourceURL,
		TestEndpoint:          server.TestEndpoint,
		MCPConfig:             server.MCPConfig,
		DeclaredTools:         server.DeclaredTools,
		DynamicTestingEnabled: cfg.EnableDynamicTesting && server.TestEndpoint != "",
		AnalysisAPIURL:        cfg.AnalysisAPIURL,
	}
}

// EncodeEnv base64-encodes the descriptor's JSON for injection as a
// single environment variable.
func (d Descriptor) EncodeEnv() (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

const descriptorEnvVar = "SCAN_DESCRIPTOR"

var nonAlnum = regexp.MustCompile(`[^a-z0-9-]+`)

// jobName derives a deterministic, DNS-1123-safe Kubernetes object name
// from a scan id: lowercase, non-alphanumeric runs collapsed to '-',
// truncated to the 63-character object-name limit (spec §4.C).
func jobName(scanID string) string {
	name := "scan-" + strings.ToLower(scanID)
	name = nonAlnum.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	const maxLen = 63
	if len(name) > maxLen {
		name = strings.TrimRight(name[:maxLen], "-")
	}
	if name == "" {
		name = "scan-job"
	}
	return name
}

// JobPhase is the orchestrator's abstraction over a workload's lifecycle,
// independent of the scheduler backend (spec §4.C reconciliation cases).
type JobPhase int

const (
	JobRunning JobPhase = iota
	JobSucceeded
	JobFailed
	JobNotFound
)

// JobStatus is what the reconciler needs to know about a submitted workload.
type JobStatus struct {
	Phase JobPhase
}
