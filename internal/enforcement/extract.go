package enforcement

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// enforcedPathMarkers are the substrings that mark a request as subject
// to enforcement (spec §4.E: "substring matches on /adapters/, /tools/,
// or /mcp suffix").
var enforcedPathMarkers = []string{"/adapters/", "/tools/"}

// IsEnforcedPath reports whether path should be evaluated by the adapter.
func IsEnforcedPath(path string) bool {
	for _, marker := range enforcedPathMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return strings.HasSuffix(path, "/mcp")
}

// serverPathMarkers are the mount-point prefixes serverCanonicalIDFromPath
// knows how to strip, kept in lockstep with what cmd/governor actually
// mounts the enforcement middleware on (today: /adapters/ and /tools/).
var serverPathMarkers = []string{"adapters/", "tools/"}

// serverCanonicalIDFromPath extracts the path segment after the first
// marker, in serverPathMarkers order, that occurs in path and is followed
// by a non-empty segment.
func serverCanonicalIDFromPath(path string) (string, bool) {
	for _, marker := range serverPathMarkers {
		idx := strings.Index(path, marker)
		if idx < 0 {
			continue
		}
		rest := path[idx+len(marker):]
		rest = strings.TrimPrefix(rest, "/")
		if seg := strings.IndexByte(rest, '/'); seg >= 0 {
			rest = rest[:seg]
		}
		if rest != "" {
			return rest, true
		}
	}
	return "", false
}

// mcpEnvelope is the minimal wire shape of an MCP JSON-RPC tool call this
// package needs, decoded locally rather than via the MCP SDK (see
// DESIGN.md's enforcement-adapter entry for why).
type mcpEnvelope struct {
	Method string `json:"method"`
	Params struct {
		Name string `json:"name"`
	} `json:"params"`
}

// toolNameFromBody reads up to maxBytes+1 bytes from r.Body and extracts
// the tool name. When the body fits within maxBytes, r.Body is replaced
// with a replayable reader so downstream handlers still see the full
// original body. When the body exceeds maxBytes, tooLarge is true and
// r.Body is replaced with http.NoBody: the caller must deny the request rather than
// forward a body this function never buffered in full (spec §4.D's
// DeniedPayloadTooLarge path).
func toolNameFromBody(r *http.Request, maxBytes int64) (toolName string, ok bool, tooLarge bool) {
	if r.Body == nil {
		return "", false, false
	}
	limited := io.LimitReader(r.Body, maxBytes+1)
	data, err := io.ReadAll(limited)
	_ = r.Body.Close()
	if err != nil {
		r.Body = http.NoBody
		return "", false, false
	}
	if int64(len(data)) > maxBytes {
		r.Body = http.NoBody
		return "", false, true
	}
	r.Body = io.NopCloser(bytes.NewReader(data))

	if len(data) == 0 {
		return "", false, false
	}

	var env mcpEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", false, false
	}
	if env.Method == "tools/call" && env.Params.Name != "" {
		return env.Params.Name, true, false
	}
	if env.Method != "" {
		return env.Method, true, false
	}
	return "", false, false
}
