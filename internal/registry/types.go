// Package registry implements the server lifecycle state machine and the
// authorization rules gating every registry operation (spec §3, §4.B).
package registry

import "time"

// SourceType identifies where a server's scannable artifact comes from.
type SourceType string

const (
	SourceExternalRepo    SourceType = "ExternalRepo"
	SourceInternalRepo    SourceType = "InternalRepo"
	SourceLocalDeclared   SourceType = "LocalDeclared"
	SourceContainerImage  SourceType = "ContainerImage"
	SourcePackageArtifact SourceType = "PackageArtifact"
)

// Status is a Server's position in the registry state machine (spec §3).
// Persisted as an integer ordinal in this declaration order; extend only
// by appending.
type Status int

const (
	StatusDraft Status = iota
	StatusPendingScan
	StatusScanning
	StatusScannedPass
	StatusScannedFail
	StatusPendingApproval
	StatusApproved
	StatusDenied
	StatusDeprecated
	StatusSuspended
)

func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusPendingScan:
		return "PendingScan"
	case StatusScanning:
		return "Scanning"
	case StatusScannedPass:
		return "ScannedPass"
	case StatusScannedFail:
		return "ScannedFail"
	case StatusPendingApproval:
		return "PendingApproval"
	case StatusApproved:
		return "Approved"
	case StatusDenied:
		return "Denied"
	case StatusDeprecated:
		return "Deprecated"
	case StatusSuspended:
		return "Suspended"
	default:
		return "Unknown"
	}
}

// DeclaredTool is a tool the server's registrant claims it exposes.
type DeclaredTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Server is the registry's primary entity (spec §3).
type Server struct {
	ID              string         `json:"id"`
	CanonicalID     string         `json:"canonicalId"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	OwnerTeam       string         `json:"ownerTeam"`
	SourceType      SourceType     `json:"sourceType"`
	SourceURL       string         `json:"sourceUrl,omitempty"`
	Version         string         `json:"version"`
	Status          Status         `json:"status"`
	DeclaredTools   []DeclaredTool `json:"declaredTools,omitempty"`
	MCPConfig       map[string]any `json:"mcpConfig,omitempty"`
	TestEndpoint    string         `json:"testEndpoint,omitempty"`
	Tags            []string       `json:"tags,omitempty"`
	CreatedBy       string         `json:"createdBy"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	LatestScanID    *string        `json:"latestScanId,omitempty"`
	LatestRiskScore *float64       `json:"latestRiskScore,omitempty"`
}

// RegisterInput is the payload for register().
type RegisterInput struct {
	CanonicalID   string
	Name          string
	Description   string
	OwnerTeam     string
	SourceType    SourceType
	SourceURL     string
	Version       string
	DeclaredTools []DeclaredTool
	MCPConfig     map[string]any
	TestEndpoint  string
	Tags          []string
}

// UpdateInput is the payload for update(). Pointer fields that are nil
// leave the corresponding Server field untouched.
type UpdateInput struct {
	Name          *string
	Description   *string
	OwnerTeam     *string
	SourceURL     *string
	Version       *string
	DeclaredTools []DeclaredTool
	DeclaredToolsSet bool
	MCPConfig     map[string]any
	MCPConfigSet  bool
	TestEndpoint  *string
	Tags          []string
}

// ScanStatus is a Scan's terminal/non-terminal lifecycle position (spec §3).
type ScanStatus int

const (
	ScanPending ScanStatus = iota
	ScanRunning
	ScanCompleted
	ScanFailed
	ScanCancelled
	ScanTimedOut
)

func (s ScanStatus) String() string {
	switch s {
	case ScanPending:
		return "Pending"
	case ScanRunning:
		return "Running"
	case ScanCompleted:
		return "Completed"
	case ScanFailed:
		return "Failed"
	case ScanCancelled:
		return "Cancelled"
	case ScanTimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is a terminal scan status (spec §8 invariant 1:
// finishedAt is non-null iff status is terminal).
func (s ScanStatus) Terminal() bool {
	switch s {
	case ScanCompleted, ScanFailed, ScanCancelled, ScanTimedOut:
		return true
	default:
		return false
	}
}

// IssueSeverity classifies a scan-reported issue.
type IssueSeverity string

const (
	SeverityInfo     IssueSeverity = "info"
	SeverityWarning  IssueSeverity = "warning"
	SeverityError    IssueSeverity = "error"
	SeverityCritical IssueSeverity = "critical"
)

// Issue is a single scanner-reported finding (spec §3).
type Issue struct {
	Code            string        `json:"code,omitempty"`
	Severity        IssueSeverity `json:"severity"`
	Message         string        `json:"message"`
	AffectedEntity  string        `json:"affectedEntity,omitempty"`
	Remediation     string        `json:"remediation,omitempty"`
}

// ToolLabels captures a discovered tool's risk-relevant attributes, each a
// unit-interval float per spec §3.
type ToolLabels struct {
	IsPublicSink     float64 `json:"isPublicSink"`
	Destructive      float64 `json:"destructive"`
	UntrustedContent float64 `json:"untrustedContent"`
	PrivateData      float64 `json:"privateData"`
}

// DiscoveredTool is a tool the scanner actually found exposed by the server.
type DiscoveredTool struct {
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	DescriptionHash string     `json:"descriptionHash,omitempty"`
	Labels          ToolLabels `json:"labels"`
}

// Scan is one security-analysis run over a Server (spec §3).
type Scan struct {
	ID              string           `json:"id"`
	ServerID        string           `json:"serverId"`
	ScannerVersion  string           `json:"scannerVersion,omitempty"`
	Status          ScanStatus       `json:"status"`
	RiskScore       *float64         `json:"riskScore,omitempty"`
	Summary         string           `json:"summary,omitempty"`
	ReportJSON      string           `json:"reportJson,omitempty"`
	Issues          []Issue          `json:"issues,omitempty"`
	DiscoveredTools []DiscoveredTool `json:"discoveredTools,omitempty"`
	JobName         string           `json:"jobName,omitempty"`
	ErrorMessage    string           `json:"errorMessage,omitempty"`
	StartedAt       time.Time        `json:"startedAt"`
	FinishedAt      *time.Time       `json:"finishedAt,omitempty"`
	TriggeredBy     string           `json:"triggeredBy"`
}

// ApprovalAction enumerates the actions an Approval row can record (spec §3).
type ApprovalAction int

const (
	ActionApproved ApprovalAction = iota
	ActionDenied
	ActionDeprecated
	ActionSuspended
	ActionReinstated
	ActionRevoked
)

func (a ApprovalAction) String() string {
	switch a {
	case ActionApproved:
		return "Approved"
	case ActionDenied:
		return "Denied"
	case ActionDeprecated:
		return "Deprecated"
	case ActionSuspended:
		return "Suspended"
	case ActionReinstated:
		return "Reinstated"
	case ActionRevoked:
		return "Revoked"
	default:
		return "Unknown"
	}
}

// Approval is an append-only admin decision record (spec §3).
type Approval struct {
	ID                string         `json:"id"`
	ServerID          string         `json:"serverId"`
	ServerCanonicalID string         `json:"serverCanonicalId"`
	Actor             string         `json:"actor"`
	Action            ApprovalAction `json:"action"`
	Reason            string         `json:"reason"`
	Notes             string         `json:"notes,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
	ExpiresAt         *time.Time     `json:"expiresAt,omitempty"`
	ScanID            *string        `json:"scanId,omitempty"`
	OverrideReason    *string        `json:"overrideReason,omitempty"`
}

// DecisionInput is the payload shared by approve/deny/suspend.
type DecisionInput struct {
	Reason         string
	Notes          string
	ExpiresAt      *time.Time
	OverrideReason string
}
