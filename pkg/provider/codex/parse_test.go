package codex

import (
	"encoding/json"
	"testing"

	"github.com/agtrace/agtrace/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeMatchesCodexEnvelope(t *testing.T) {
	p := New()
	res, err := p.Probe("testdata/session_basic.jsonl")
	require.NoError(t, err)
	assert.True(t, res.Match)
}

func TestExtractSessionIDAndProjectHash(t *testing.T) {
	p := New()
	id, err := p.ExtractSessionID("testdata/session_basic.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "codex-session-123", id)

	hash, ok := p.ExtractProjectHash("testdata/session_basic.jsonl")
	assert.True(t, ok)
	assert.NotEmpty(t, hash)
}

func TestApplyPatchHeaderParsing(t *testing.T) {
	op, path, ok := applyPatchHeader("*** Update File: fetcher.go\n@@\n-x\n+y\n")
	require.True(t, ok)
	assert.Equal(t, "update", op)
	assert.Equal(t, "fetcher.go", path)

	op, path, ok = applyPatchHeader("*** Add File: new.go\ncontent\n")
	require.True(t, ok)
	assert.Equal(t, "add", op)
	assert.Equal(t, "new.go", path)

	_, _, ok = applyPatchHeader("not a patch header")
	assert.False(t, ok)
}

func TestParseProducesExpectedEventKinds(t *testing.T) {
	p := New()
	result, err := p.Parse("testdata/session_basic.jsonl")
	require.NoError(t, err)

	counts := map[string]int{}
	var patchArgs map[string]any
	for _, e := range result.Events {
		switch payload := e.Payload().(type) {
		case event.User:
			counts["user"]++
		case event.Reasoning:
			counts["reasoning"]++
		case event.ToolCall:
			counts["tool_call"]++
			if payload.Name == "apply_patch" {
				patchArgs = map[string]any{}
				_ = json.Unmarshal(payload.Arguments, &patchArgs)
			}
		case event.ToolResult:
			counts["tool_result"]++
		case event.Message:
			counts["message"]++
		case event.TokenUsage:
			counts["token_usage"]++
		}
	}
	assert.Equal(t, 1, counts["user"])
	assert.Equal(t, 1, counts["reasoning"])
	assert.Equal(t, 2, counts["tool_call"])
	assert.Equal(t, 2, counts["tool_result"])
	assert.Equal(t, 2, counts["message"])
	assert.Equal(t, 1, counts["token_usage"])
	require.NotNil(t, patchArgs)
	assert.Equal(t, "update", patchArgs["operation"])
	assert.Equal(t, "fetcher.go", patchArgs["path"])
}
