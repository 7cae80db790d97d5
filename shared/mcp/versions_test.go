package mcp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcpserve/mcpserve/shared/mcp"
)

func TestNegotiate_ExactMatch(t *testing.T) {
	v, ok := mcp.Negotiate("2025-03-26")
	assert.True(t, ok)
	assert.Equal(t, "2025-03-26", v)

	v, ok = mcp.Negotiate("2024-11-05")
	assert.True(t, ok)
	assert.Equal(t, "2024-11-05", v)
}

func TestNegotiate_NewerClientGetsLatestSupported(t *testing.T) {
	v, ok := mcp.Negotiate("2026-01-01")
	assert.True(t, ok)
	assert.Equal(t, "2025-03-26", v)
}

func TestNegotiate_BetweenVersions(t *testing.T) {
	v, ok := mcp.Negotiate("2025-01-01")
	assert.True(t, ok)
	assert.Equal(t, "2024-11-05", v)
}

func TestNegotiate_TooOld(t *testing.T) {
	_, ok := mcp.Negotiate("2023-01-01")
	assert.False(t, ok)
}
