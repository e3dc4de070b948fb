package registry

import (
	"regexp"

	"github.com/marcus-qen/legator/internal/governanceerr"
)

// canonicalIDPattern implements spec §3's canonicalId invariant.
var canonicalIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9\-_/]*[a-z0-9]$`)

// ValidCanonicalID reports whether id satisfies the registry's canonicalId
// regex. The regex itself accepts lowercase only; Register lowercases its
// input before calling this, which makes registration case-insensitive
// (spec §3), and the stored form is always lowercase. No length limit is
// checked here.
func ValidCanonicalID(id string) bool {
	if len(id) < 1 {
		return false
	}
	return canonicalIDPattern.MatchString(id)
}

// transitionKey identifies a single-state trigger edge.
type transitionKey struct {
	from Status
	to   Status
}

// transitions is the permitted (from,to) set. service.go checks it via
// validateTransition for submit-scan, approve, suspend and reinstate
// (approve's override-reason precondition is checked before it). deny is
// checked against nonTerminal instead. The scan-starts, scan-completes
// and material-update edges are listed here, but the orchestrator,
// reconciler and Update write those statuses without consulting it.
var transitions = map[transitionKey]bool{
	// submit-scan: {Draft, ScannedPass, ScannedFail, Denied} -> PendingScan
	{StatusDraft, StatusPendingScan}:       true,
	{StatusScannedPass, StatusPendingScan}: true,
	{StatusScannedFail, StatusPendingScan}: true,
	{StatusDenied, StatusPendingScan}:      true,

	// scan-starts (orchestrator)
	{StatusPendingScan, StatusScanning}: true,

	// scan-completes
	{StatusScanning, StatusScannedPass}: true,
	{StatusScanning, StatusScannedFail}: true,

	// approve
	{StatusScannedPass, StatusApproved}:     true,
	{StatusPendingApproval, StatusApproved}: true,
	{StatusScannedFail, StatusApproved}:     true, // requires override reason, checked in service.go

	// suspend / reinstate
	{StatusApproved, StatusSuspended}:  true,
	{StatusSuspended, StatusApproved}:  true,

	// material update while Approved reverts to Draft
	{StatusApproved, StatusDraft}: true,
}

// nonTerminal lists statuses deny() may act on (spec §3: "deny: any
// non-terminal -> Denied"). Approved, Denied, Deprecated and Suspended are
// terminal with respect to deny (Suspended is reached only from Approved and
// reinstated back to Approved; it is not itself re-denied in this model).
var nonTerminal = map[Status]bool{
	StatusDraft:           true,
	StatusPendingScan:     true,
	StatusScanning:        true,
	StatusScannedPass:     true,
	StatusScannedFail:     true,
	StatusPendingApproval: true,
}

// canTransition reports whether (from,to) is a permitted registry edge,
// independent of any role or payload precondition.
func canTransition(from, to Status) bool {
	return transitions[transitionKey{from, to}]
}

// validateTransition returns InvalidState unless (from,to) is permitted.
func validateTransition(from, to Status) error {
	if !canTransition(from, to) {
		return governanceerr.InvalidStatef("transition %s -> %s is not permitted", from, to)
	}
	return nil
}
