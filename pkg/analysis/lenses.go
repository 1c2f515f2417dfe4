package analysis

import (
	"fmt"
	"sort"
)

// LensType names which concern a Lens looks for.
type LensType int

const (
	LensFailures LensType = iota
	LensBottlenecks
	LensToolchains
	LensLoops
)

func (l LensType) String() string {
	switch l {
	case LensFailures:
		return "failures"
	case LensBottlenecks:
		return "bottlenecks"
	case LensToolchains:
		return "toolchains"
	case LensLoops:
		return "loops"
	default:
		return "unknown"
	}
}

// Lens is a named predicate/score/reason triple. It decides whether a
// session is interesting for its concern, ranks the ones that qualify,
// and explains the ranking — the three questions SelectTopN needs
// answered per lens without hardcoding any of them.
type Lens struct {
	Type      LensType
	Predicate func(Metrics, Thresholds) bool
	Score     func(Metrics, int) int64
	Reason    func(Metrics) string
}

func Failures() Lens {
	return Lens{
		Type: LensFailures,
		Predicate: func(m Metrics, _ Thresholds) bool {
			return m.ToolFailuresTotal > 0 || m.MissingToolPairs > 0
		},
		Score: func(m Metrics, boost int) int64 {
			return int64(m.ToolFailuresTotal)*100 + int64(m.MissingToolPairs)*50 + int64(boost)
		},
		Reason: func(m Metrics) string {
			return fmt.Sprintf("fails=%d missing=%d", m.ToolFailuresTotal, m.MissingToolPairs)
		},
	}
}

func Bottlenecks() Lens {
	return Lens{
		Type: LensBottlenecks,
		Predicate: func(m Metrics, t Thresholds) bool {
			return m.MaxE2EMS > t.P90E2EMS || m.MaxToolMS > t.P90ToolMS
		},
		Score: func(m Metrics, _ int) int64 {
			return m.MaxToolMS + m.MaxE2EMS
		},
		Reason: func(m Metrics) string {
			return fmt.Sprintf("max_tool=%.1fs max_e2e=%.1fs", float64(m.MaxToolMS)/1000, float64(m.MaxE2EMS)/1000)
		},
	}
}

func Toolchains() Lens {
	return Lens{
		Type: LensToolchains,
		Predicate: func(m Metrics, t Thresholds) bool {
			return m.ToolCallsTotal > maxInt(t.P90ToolCalls, 5)
		},
		Score: func(m Metrics, boost int) int64 {
			return int64(m.ToolCallsTotal)*10 + int64(boost)
		},
		Reason: func(m Metrics) string {
			return fmt.Sprintf("tool_calls=%d longest_chain=%d", m.ToolCallsTotal, m.LongestChain)
		},
	}
}

func Loops() Lens {
	return Lens{
		Type: LensLoops,
		Predicate: func(m Metrics, _ Thresholds) bool {
			return m.LoopSignals > 0
		},
		Score: func(m Metrics, boost int) int64 {
			return int64(m.LoopSignals)*100 + int64(boost)
		},
		Reason: func(m Metrics) string {
			return fmt.Sprintf("loop_signals=%d", m.LoopSignals)
		},
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Thresholds are the p90 cutoffs Bottlenecks and Toolchains compare
// against, computed once per selection batch so a single slow session
// doesn't make every other session look fast by comparison.
type Thresholds struct {
	P90E2EMS     int64
	P90ToolMS    int64
	P90ToolCalls int
}

// ComputeThresholds derives p90 cutoffs from digests, with sane floors
// when the batch is too small to have a meaningful p90.
func ComputeThresholds(digests []Digest) Thresholds {
	if len(digests) == 0 {
		return Thresholds{P90E2EMS: 5000, P90ToolMS: 5000, P90ToolCalls: 10}
	}

	e2e := make([]int64, len(digests))
	tool := make([]int64, len(digests))
	calls := make([]int, len(digests))
	for i, d := range digests {
		e2e[i] = d.Metrics.MaxE2EMS
		tool[i] = d.Metrics.MaxToolMS
		calls[i] = d.Metrics.ToolCallsTotal
	}
	sort.Slice(e2e, func(i, j int) bool { return e2e[i] < e2e[j] })
	sort.Slice(tool, func(i, j int) bool { return tool[i] < tool[j] })
	sort.Ints(calls)

	idx := int(float64(len(digests)) * 0.9)
	if idx >= len(digests) {
		idx = len(digests) - 1
	}

	return Thresholds{P90E2EMS: e2e[idx], P90ToolMS: tool[idx], P90ToolCalls: calls[idx]}
}

// SelectTopN runs the fixed four-lens panel over digests and returns up
// to totalLimit of the most noteworthy sessions: each lens claims its
// share of slots among sessions matching its concern, ranked by that
// lens's score, and any remaining slots are filled by raw tool-call
// activity. A session is claimed by at most one lens — the first lens
// in panel order that wants it.
func SelectTopN(digests []Digest, totalLimit int) []Digest {
	if totalLimit <= 0 || len(digests) == 0 {
		return nil
	}

	thresholds := ComputeThresholds(digests)
	panel := []Lens{Failures(), Loops(), Bottlenecks(), Toolchains()}
	limitPerLens := maxInt(totalLimit/len(panel), 1)

	used := map[string]bool{}
	var selected []Digest

	for _, lens := range panel {
		var candidates []Digest
		for _, d := range digests {
			if used[d.SessionID] || !lens.Predicate(d.Metrics, thresholds) {
				continue
			}
			candidates = append(candidates, d)
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return lens.Score(candidates[i].Metrics, candidates[i].RecencyBoost) >
				lens.Score(candidates[j].Metrics, candidates[j].RecencyBoost)
		})

		for i := 0; i < len(candidates) && i < limitPerLens; i++ {
			c := candidates[i]
			c.SelectionReason = fmt.Sprintf("%s (%s)", lens.Type, lens.Reason(c.Metrics))
			used[c.SessionID] = true
			selected = append(selected, c)
		}
	}

	if len(selected) < totalLimit {
		var remaining []Digest
		for _, d := range digests {
			if !used[d.SessionID] {
				remaining = append(remaining, d)
			}
		}
		sort.SliceStable(remaining, func(i, j int) bool {
			return remaining[i].Metrics.ToolCallsTotal > remaining[j].Metrics.ToolCallsTotal
		})
		need := totalLimit - len(selected)
		for i := 0; i < len(remaining) && i < need; i++ {
			c := remaining[i]
			c.SelectionReason = "activity (filler)"
			selected = append(selected, c)
		}
	}

	return selected
}
