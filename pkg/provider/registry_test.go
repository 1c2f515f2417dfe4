package provider_test

import (
	"testing"

	"github.com/agtrace/agtrace/pkg/provider"
	"github.com/agtrace/agtrace/pkg/provider/claude"
	"github.com/agtrace/agtrace/pkg/provider/codex"
	"github.com/agtrace/agtrace/pkg/provider/gemini"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDetectsEachVendorByHighestConfidence(t *testing.T) {
	reg := provider.NewRegistry(claude.New(), codex.New(), gemini.New())

	p, ok := reg.Detect("../claude/testdata/session_basic.jsonl")
	require.True(t, ok)
	assert.Equal(t, "claude", p.Name())

	p, ok = reg.Detect("../codex/testdata/session_basic.jsonl")
	require.True(t, ok)
	assert.Equal(t, "codex", p.Name())

	p, ok = reg.Detect("../gemini/testdata/session_basic.json")
	require.True(t, ok)
	assert.Equal(t, "gemini", p.Name())
}

func TestRegistryByName(t *testing.T) {
	reg := provider.NewRegistry(claude.New(), codex.New())
	p, ok := reg.ByName("codex")
	require.True(t, ok)
	assert.Equal(t, "codex", p.Name())

	_, ok = reg.ByName("unknown")
	assert.False(t, ok)
}
