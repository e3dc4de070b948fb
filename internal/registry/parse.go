package registry

import (
	"encoding/json"

	"github.com/marcus-qen/legator/internal/governanceerr"
)

// rawScanOutput is the defensive, partial-decode shape of a scanner's JSON
// report (spec §4.C "Result parsing"). The scanner is external and its
// schema drifts, so every field is optional and unknown fields are
// ignored by virtue of json.Unmarshal's default behavior.
type rawScanOutput struct {
	RiskScore *float64        `json:"risk_score"`
	Issues    []rawIssue      `json:"issues"`
	Tools     []rawTool       `json:"tools"`
	Summary   string          `json:"summary"`
}

type rawIssue struct {
	Code           string `json:"code"`
	Severity       string `json:"severity"`
	Message        string `json:"message"`
	AffectedEntity string `json:"affected_entity"`
	Remediation    string `json:"remediation"`
}

type rawTool struct {
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	DescriptionHash string  `json:"description_hash"`
	IsPublicSink    float64 `json:"is_public_sink"`
	Destructive     float64 `json:"destructive"`
	UntrustedInput  float64 `json:"untrusted_content"`
	PrivateData     float64 `json:"private_data"`
}

// ParsedScanResult is the normalized output of ParseScanOutput, ready to
// be attached to a Scan row.
type ParsedScanResult struct {
	RiskScore       float64
	Summary         string
	Issues          []Issue
	DiscoveredTools []DiscoveredTool
}

func normalizeSeverity(s string) IssueSeverity {
	switch IssueSeverity(s) {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return IssueSeverity(s)
	default:
		return SeverityInfo
	}
}

// normalizeRiskScore implements the §9/§4.C open-question decision
// (SPEC_FULL.md "Threshold units"): scores already in [0,1] pass through;
// a 0-100 scale is detected by exceeding 1.0 and divided down once.
func normalizeRiskScore(v float64) float64 {
	if v > 1.0 {
		v = v / 100.0
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v
}

// ParseScanOutput implements spec §4.C's shared parsing rules, used by
// both the orchestrator (scan job stdout) and uploadLocalScan.
func ParseScanOutput(raw []byte) (*ParsedScanResult, error) {
	var out rawScanOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, governanceerr.InvalidArgumentf("scan output is not valid JSON: %v", err)
	}

	score := 0.0
	if out.RiskScore != nil {
		score = normalizeRiskScore(*out.RiskScore)
	}

	issues := make([]Issue, 0, len(out.Issues))
	for _, ri := range out.Issues {
		issues = append(issues, Issue{
			Code:           ri.Code,
			Severity:       normalizeSeverity(ri.Severity),
			Message:        ri.Message,
			AffectedEntity: ri.AffectedEntity,
			Remediation:    ri.Remediation,
		})
	}

	tools := make([]DiscoveredTool, 0, len(out.Tools))
	for _, rt := range out.Tools {
		tools = append(tools, DiscoveredTool{
			Name:            rt.Name,
			Description:     rt.Description,
			DescriptionHash: rt.DescriptionHash,
			Labels: ToolLabels{
				IsPublicSink:     normalizeRiskScore(rt.IsPublicSink),
				Destructive:      normalizeRiskScore(rt.Destructive),
				UntrustedContent: normalizeRiskScore(rt.UntrustedInput),
				PrivateData:      normalizeRiskScore(rt.PrivateData),
			},
		})
	}

	return &ParsedScanResult{
		RiskScore:       score,
		Summary:         out.Summary,
		Issues:          issues,
		DiscoveredTools: tools,
	}, nil
}

// Serialize round-trips a ParsedScanResult back to the wire shape, used
// by spec §8's round-trip parse law in tests.
func (r *ParsedScanResult) Serialize() ([]byte, error) {
	out := rawScanOutput{RiskScore: &r.RiskScore, Summary: r.Summary}
	for _, i := range r.Issues {
		out.Issues = append(out.Issues, rawIssue{
			Code: i.Code, Severity: string(i.Severity), Message: i.Message,
			AffectedEntity: i.AffectedEntity, Remediation: i.Remediation,
		})
	}
	for _, t := range r.DiscoveredTools {
		out.Tools = append(out.Tools, rawTool{
			Name: t.Name, Description: t.Description, DescriptionHash: t.DescriptionHash,
			IsPublicSink: t.Labels.IsPublicSink, Destructive: t.Labels.Destructive,
			UntrustedInput: t.Labels.UntrustedContent, PrivateData: t.Labels.PrivateData,
		})
	}
	return json.Marshal(out)
}
