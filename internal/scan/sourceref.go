package scan

import (
	"fmt"

	digest "github.com/opencontainers/go-digest"
	orasregistry "oras.land/oras-go/v2/registry"

	"github.com/marcus-qen/legator/internal/registry"
)

// validateSourceRef checks that a server's sourceUrl is a well-formed
// reference for its sourceType before a scan workload is submitted,
// rather than letting a malformed reference fail inside the scan
// container (spec §4.C: the orchestrator only validates reference
// shape client-side, the pull itself happens inside the job).
func validateSourceRef(sourceType registry.SourceType, sourceURL string) error {
	switch sourceType {
	case registry.SourceContainerImage:
		return validateContainerImageRef(sourceURL)
	case registry.SourcePackageArtifact:
		return validatePackageArtifactRef(sourceURL)
	default:
		return nil
	}
}

// validateContainerImageRef accepts name:tag or name@digest references,
// validating the digest algorithm/encoding when one is present via
// opencontainers/go-digest (the same digest package image-spec manifests
// use for their own Descriptor.Digest field).
func validateContainerImageRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("container image sourceUrl must not be empty")
	}
	if idx := lastIndexByte(ref, '@'); idx >= 0 {
		d := digest.Digest(ref[idx+1:])
		if err := d.Validate(); err != nil {
			return fmt.Errorf("invalid container image digest %q: %w", ref[idx+1:], err)
		}
	}
	return nil
}

// validatePackageArtifactRef validates an OCI artifact reference using
// oras-go's registry reference parser, so a bad reference is rejected
// before a Job is ever created — the pull itself happens in the scan
// container, which runs its own ORAS client against the cluster's
// artifact registry.
func validatePackageArtifactRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("package artifact sourceUrl must not be empty")
	}
	if _, err := orasregistry.ParseReference(ref); err != nil {
		return fmt.Errorf("invalid package artifact reference %q: %w", ref, err)
	}
	return nil
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}
