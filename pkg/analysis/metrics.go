// Package analysis computes per-session metrics and selects the most
// noteworthy sessions out of a larger set via a small panel of lenses,
// grounded on agtrace-engine/src/analysis/{metrics,digest,lenses}.rs.
package analysis

import (
	"time"

	"github.com/agtrace/agtrace/pkg/event"
	"github.com/agtrace/agtrace/pkg/session"
)

// loopWindow bounds how far back a repeated fingerprint still counts as
// a loop signal, rather than two unrelated calls to the same tool much
// later in a long session.
const loopWindow = 5

// Metrics summarizes one session's tool-call behavior and timing.
type Metrics struct {
	ToolCallsTotal    int
	ToolFailuresTotal int
	MissingToolPairs  int
	LongestChain      int
	LoopSignals       int
	MaxToolMS         int64
	MaxE2EMS          int64
}

// ComputeMetrics walks every turn and step of sess once, accumulating
// the counts and timings Lens predicates read.
func ComputeMetrics(sess session.Session) Metrics {
	var m Metrics
	var recentFingerprints []string

	for _, turn := range sess.Turns {
		e2e := turnDurationMS(turn)
		if e2e > m.MaxE2EMS {
			m.MaxE2EMS = e2e
		}

		chainLen := 0
		for _, step := range turn.Steps {
			chainLen += len(step.Tools)
			if chainLen > m.LongestChain {
				m.LongestChain = chainLen
			}

			for _, exchange := range step.Tools {
				m.ToolCallsTotal++

				fp := toolCallFingerprint(exchange)
				if fp != "" {
					if isRecentDuplicate(recentFingerprints, fp) {
						m.LoopSignals++
					}
					recentFingerprints = appendBounded(recentFingerprints, fp, loopWindow)
				}

				if exchange.Result == nil {
					m.MissingToolPairs++
					continue
				}
				if latency := toolLatencyMS(exchange); latency > m.MaxToolMS {
					m.MaxToolMS = latency
				}
				if result, ok := resultPayload(exchange); ok && result.IsError {
					m.ToolFailuresTotal++
				}
			}
		}
	}

	return m
}

func turnDurationMS(turn session.Turn) int64 {
	if len(turn.Steps) == 0 {
		return 0
	}
	last := turn.Steps[len(turn.Steps)-1].Timestamp
	return durationMS(turn.Timestamp, last)
}

func toolLatencyMS(exchange session.ToolExchange) int64 {
	if exchange.Result == nil {
		return 0
	}
	return durationMS(exchange.Call.Timestamp(), exchange.Result.Timestamp())
}

func durationMS(start, end time.Time) int64 {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}

func toolCallFingerprint(exchange session.ToolExchange) string {
	call, ok := exchange.Call.Payload().(event.ToolCall)
	if !ok {
		return ""
	}
	return fingerprint(call.Name, call.Arguments)
}

func resultPayload(exchange session.ToolExchange) (event.ToolResult, bool) {
	if exchange.Result == nil {
		return event.ToolResult{}, false
	}
	result, ok := exchange.Result.Payload().(event.ToolResult)
	return result, ok
}

func isRecentDuplicate(recent []string, fp string) bool {
	for _, seen := range recent {
		if seen == fp {
			return true
		}
	}
	return false
}

func appendBounded(recent []string, fp string, max int) []string {
	recent = append(recent, fp)
	if len(recent) > max {
		recent = recent[len(recent)-max:]
	}
	return recent
}
