package mcp

import (
	schema2024 "github.com/mcpserve/mcpserve/shared/mcp/2024/schema"
	schema2025 "github.com/mcpserve/mcpserve/shared/mcp/2025/schema"
)

// SupportedVersions lists the protocol versions this server speaks,
// newest first.
var SupportedVersions = []string{
	schema2025.PROTOCOL_VERSION,
	schema2024.PROTOCOL_VERSION,
}

// IsSupported reports whether the exact version is served.
func IsSupported(version string) bool {
	for _, v := range SupportedVersions {
		if v == version {
			return true
		}
	}
	return false
}

// Negotiate picks the protocol version for a session. An exact match wins;
// otherwise the newest supported version not newer than the client's is
// chosen. Versions are dates in YYYY-MM-DD form, so plain string comparison
// orders them. Returns false when the client is older than everything we
// serve.
func Negotiate(clientVersion string) (string, bool) {
	if IsSupported(clientVersion) {
		return clientVersion, true
	}
	for _, v := range SupportedVersions {
		if v <= clientVersion {
			return v, true
		}
	}
	return "", false
}
