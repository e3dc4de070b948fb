// Package config provides configuration loading for the governance core.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all governance-core configuration (§6).
type Config struct {
	ListenAddr string `json:"listen_addr"`

	Enabled         bool   `json:"enabled"`
	EnforcementMode string `json:"enforcement_mode"`

	// MCPUpstreamURL is the byte-forwarding MCP transport proxy the
	// enforcement adapter sits in front of (spec §1 names it an external
	// collaborator; this core only decides, it never speaks MCP itself).
	MCPUpstreamURL string `json:"mcp_upstream_url"`

	PostgresConnection string `json:"postgres_connection"`

	// AuditPurgeSchedule is a plain duration ("6h") or standard cron
	// expression ("0 3 * * *") governing how often audit retention
	// purges run. Empty disables scheduled purging.
	AuditPurgeSchedule string `json:"audit_purge_schedule"`
	AuditRetention     string `json:"audit_retention"`

	Scanner ScannerConfig `json:"scanner"`
	Policy  PolicyConfig  `json:"policy"`

	LogLevel string `json:"log_level"`

	// OTLPEndpoint is the collector gRPC endpoint tracing spans are
	// exported to (e.g. "otel-collector:4317"). Empty disables tracing.
	OTLPEndpoint string `json:"otlp_endpoint"`
}

// ScannerConfig configures the scan orchestrator's workload submission (§4.C, §6).
type ScannerConfig struct {
	Image                string `json:"image"`
	TimeoutSeconds       int    `json:"timeout_seconds"`
	Retries              int    `json:"retries"`
	JobNamespace         string `json:"job_namespace"`
	JobServiceAccount    string `json:"job_service_account"`
	CPURequest           string `json:"cpu_request"`
	CPULimit             string `json:"cpu_limit"`
	MemoryRequest        string `json:"memory_request"`
	MemoryLimit          string `json:"memory_limit"`
	EnableDynamicTesting bool   `json:"enable_dynamic_testing"`
	AnalysisAPIURL       string `json:"analysis_api_url,omitempty"`
	ReconcileInterval    string `json:"reconcile_interval"`
	TTLSecondsAfterDone  int32  `json:"ttl_seconds_after_finished"`
}

// PolicyConfig configures the policy engine's decision inputs (§4.D, §6).
type PolicyConfig struct {
	GlobalToolDenylist      []string            `json:"global_tool_denylist"`
	DeniedToolCategories    []string            `json:"denied_tool_categories"`
	TeamAllowlists          map[string][]string `json:"team_allowlists"`
	TeamDenylists           map[string][]string `json:"team_denylists"`
	RateLimitPerUser        int                 `json:"rate_limit_per_user"`
	RateLimitPerTeam        int                 `json:"rate_limit_per_team"`
	DefaultTimeoutMs        int                 `json:"default_timeout_ms"`
	MaxRequestPayloadBytes  int64               `json:"max_request_payload_bytes"`
	MaxResponsePayloadBytes int64               `json:"max_response_payload_bytes"`
	RiskThreshold           float64             `json:"risk_threshold"`
	ScanPassThreshold       float64             `json:"scan_pass_threshold"`
	RequireAdminForHighRisk bool                `json:"require_admin_for_high_risk"`
	EnforceRegistryOnly     bool                `json:"enforce_registry_only"`
	BypassAllowedPrincipals []string            `json:"bypass_allowed_principals"`
}

const (
	EnforcementModeAudit   = "Audit"
	EnforcementModeEnforce = "Enforce"
)

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:      ":8443",
		Enabled:         true,
		EnforcementMode: EnforcementModeAudit,
		LogLevel:           "info",
		AuditPurgeSchedule: "6h",
		AuditRetention:     "2160h",
		Scanner: ScannerConfig{
			Image:             "governor/scanner:latest",
			TimeoutSeconds:    300,
			Retries:           1,
			JobNamespace:      "mcp-governance",
			JobServiceAccount: "mcp-scanner",
			CPURequest:        "250m",
			CPULimit:          "1",
			MemoryRequest:     "256Mi",
			MemoryLimit:       "1Gi",
			ReconcileInterval: "15s",
		},
		Policy: PolicyConfig{
			DefaultTimeoutMs:        30_000,
			MaxRequestPayloadBytes:  1 << 20,
			MaxResponsePayloadBytes: 4 << 20,
			RiskThreshold:           0.7,
			ScanPassThreshold:       0.5,
			RequireAdminForHighRisk: true,
			EnforceRegistryOnly:     true,
		},
	}
}

// Load reads configuration from a file, then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("GOVERNOR_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("GOVERNOR_ENABLED"); v != "" {
		cfg.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("GOVERNOR_ENFORCEMENT_MODE"); v != "" {
		cfg.EnforcementMode = v
	}
	if v := os.Getenv("GOVERNOR_POSTGRES_CONNECTION"); v != "" {
		cfg.PostgresConnection = v
	}
	if v := os.Getenv("GOVERNOR_MCP_UPSTREAM_URL"); v != "" {
		cfg.MCPUpstreamURL = v
	}
	if v := os.Getenv("GOVERNOR_AUDIT_PURGE_SCHEDULE"); v != "" {
		cfg.AuditPurgeSchedule = v
	}
	if v := os.Getenv("GOVERNOR_AUDIT_RETENTION"); v != "" {
		cfg.AuditRetention = v
	}
	if v := os.Getenv("GOVERNOR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GOVERNOR_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if v := os.Getenv("GOVERNOR_SCANNER_IMAGE"); v != "" {
		cfg.Scanner.Image = v
	}
	if v := os.Getenv("GOVERNOR_SCANNER_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scanner.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("GOVERNOR_SCANNER_NAMESPACE"); v != "" {
		cfg.Scanner.JobNamespace = v
	}
	if v := os.Getenv("GOVERNOR_POLICY_RISK_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Policy.RiskThreshold = f
		}
	}
	if v := os.Getenv("GOVERNOR_POLICY_SCAN_PASS_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Policy.ScanPassThreshold = f
		}
	}
	if v := os.Getenv("GOVERNOR_POLICY_GLOBAL_TOOL_DENYLIST"); v != "" {
		cfg.Policy.GlobalToolDenylist = splitCSV(v)
	}
	if v := os.Getenv("GOVERNOR_POLICY_BYPASS_PRINCIPALS"); v != "" {
		cfg.Policy.BypassAllowedPrincipals = splitCSV(v)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

// Save writes configuration to a file.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// HasPostgres reports whether a persistence connection is configured.
func (c Config) HasPostgres() bool {
	return strings.TrimSpace(c.PostgresConnection) != ""
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
