// Package tokenmodel answers "how much of this model's context window is
// in use" from the cumulative TokenUsage sidecars the session assembler
// produces, per §4.J. It is seeded once at process start and never
// mutated afterward.
package tokenmodel

import (
	"math"
	"sort"
	"strings"

	"github.com/agtrace/agtrace/pkg/event"
)

// ModelSpec pairs a model-name prefix with its total context window.
type ModelSpec struct {
	Prefix        string
	ContextWindow int
}

// Registry resolves a reported model name to a context window by
// longest-prefix match over a slice kept sorted by descending prefix
// length, so resolution is a deterministic linear scan rather than a
// map's unordered bucket walk.
type Registry struct {
	specs []ModelSpec
}

// NewRegistry builds a Registry from specs, sorting a copy by descending
// prefix length. Later entries with an equal-length prefix never
// displace earlier ones (stable sort), so callers control tie-breaking
// by ordering their input.
func NewRegistry(specs []ModelSpec) *Registry {
	sorted := make([]ModelSpec, len(specs))
	copy(sorted, specs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Registry{specs: sorted}
}

// Default seeds the registry from the claude, codex, and gemini model
// tables in original_source's claude/models.rs and token_limits.rs.
func Default() *Registry {
	return NewRegistry([]ModelSpec{
		// Claude, most to least specific.
		{Prefix: "claude-sonnet-4-5", ContextWindow: 200_000},
		{Prefix: "claude-haiku-4-5", ContextWindow: 200_000},
		{Prefix: "claude-opus-4-5", ContextWindow: 200_000},
		{Prefix: "claude-sonnet-4", ContextWindow: 200_000},
		{Prefix: "claude-haiku-4", ContextWindow: 200_000},
		{Prefix: "claude-opus-4", ContextWindow: 200_000},
		{Prefix: "claude-3-5", ContextWindow: 200_000},
		{Prefix: "claude-3", ContextWindow: 200_000},
		// Codex.
		{Prefix: "gpt-4o-mini", ContextWindow: 128_000},
		{Prefix: "gpt-4o", ContextWindow: 128_000},
		{Prefix: "gpt-4-turbo", ContextWindow: 128_000},
		// Gemini.
		{Prefix: "gemini-2.0-flash-exp", ContextWindow: 1_000_000},
		{Prefix: "gemini-1.5-flash", ContextWindow: 1_000_000},
		{Prefix: "gemini-1.5-pro", ContextWindow: 2_000_000},
	})
}

// WithOverride returns a copy of the registry with model's context
// window replaced (or added, if model is unknown), for
// internal/config's per-vendor ContextWindowOverride.
func (r *Registry) WithOverride(model string, contextWindow int) *Registry {
	next := make([]ModelSpec, 0, len(r.specs)+1)
	replaced := false
	for _, s := range r.specs {
		if s.Prefix == model {
			next = append(next, ModelSpec{Prefix: model, ContextWindow: contextWindow})
			replaced = true
			continue
		}
		next = append(next, s)
	}
	if !replaced {
		next = append(next, ModelSpec{Prefix: model, ContextWindow: contextWindow})
	}
	return NewRegistry(next)
}

// Limit returns the context window for model by longest matching
// prefix in either direction, mirroring get_limit's
// starts_with(key) || key.starts_with(model) exact-or-variant match.
func (r *Registry) Limit(model string) (int, bool) {
	for _, s := range r.specs {
		if strings.HasPrefix(model, s.Prefix) || strings.HasPrefix(s.Prefix, model) {
			return s.ContextWindow, true
		}
	}
	return 0, false
}

// EffectiveLimit applies a safety buffer to the raw context window:
// floor(total * (1 - bufferPct/100)), never below 1.
func (r *Registry) EffectiveLimit(model string, bufferPct float64) (int, bool) {
	total, ok := r.Limit(model)
	if !ok {
		return 0, false
	}
	effective := int(math.Floor(float64(total) * (1 - bufferPct/100)))
	if effective < 1 {
		effective = 1
	}
	return effective, true
}

// UsagePercentage reports input/output/total usage as percentages of
// limit, including cache tokens on the input side, mirroring
// get_usage_percentage_from_state's cache-inclusive accounting.
func UsagePercentage(usage event.TokenUsage, limit int) (inputPct, outputPct, totalPct float64) {
	if limit <= 0 {
		return 0, 0, 0
	}
	inputSide := usage.Input
	outputSide := usage.Output
	if usage.Details != nil {
		inputSide += usage.Details.CacheCreationTokens + usage.Details.CacheReadTokens
	}
	total := inputSide + outputSide
	limitF := float64(limit)
	return float64(inputSide) / limitF * 100, float64(outputSide) / limitF * 100, float64(total) / limitF * 100
}
