package analysis

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/agtrace/agtrace/pkg/event"
	"github.com/agtrace/agtrace/pkg/session"
)

func toolExchange(traceID event.ID, callAt, resultAt time.Time, name string, args string, isError bool, noResult bool) session.ToolExchange {
	call := event.New(traceID, callAt, event.ToolCall{Name: name, Arguments: json.RawMessage(args)})
	if noResult {
		return session.ToolExchange{Call: call}
	}
	result := event.New(traceID, resultAt, event.ToolResult{ToolCallID: call.ID(), IsError: isError})
	return session.ToolExchange{Call: call, Result: &result}
}

func TestComputeMetricsCountsFailuresAndMissingPairs(t *testing.T) {
	traceID := event.NewID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	sess := session.Session{
		TraceID: traceID,
		Turns: []session.Turn{
			{
				ID:        event.NewID(),
				Timestamp: base,
				Steps: []session.Step{
					{
						ID:        event.NewID(),
						Timestamp: base,
						Tools: []session.ToolExchange{
							toolExchange(traceID, base, base.Add(time.Second), "bash", `{"command":"ls"}`, true, false),
							toolExchange(traceID, base.Add(2*time.Second), time.Time{}, "bash", `{"command":"pwd"}`, false, true),
						},
					},
				},
			},
		},
	}

	m := ComputeMetrics(sess)
	if m.ToolCallsTotal != 2 {
		t.Errorf("ToolCallsTotal = %d, want 2", m.ToolCallsTotal)
	}
	if m.ToolFailuresTotal != 1 {
		t.Errorf("ToolFailuresTotal = %d, want 1", m.ToolFailuresTotal)
	}
	if m.MissingToolPairs != 1 {
		t.Errorf("MissingToolPairs = %d, want 1", m.MissingToolPairs)
	}
	if m.MaxToolMS != 1000 {
		t.Errorf("MaxToolMS = %d, want 1000", m.MaxToolMS)
	}
}

func TestComputeMetricsTracksLongestChain(t *testing.T) {
	traceID := event.NewID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	sess := session.Session{
		TraceID: traceID,
		Turns: []session.Turn{
			{
				ID:        event.NewID(),
				Timestamp: base,
				Steps: []session.Step{
					{ID: event.NewID(), Timestamp: base, Tools: []session.ToolExchange{
						toolExchange(traceID, base, base, "a", `{}`, false, false),
					}},
					{ID: event.NewID(), Timestamp: base, Tools: []session.ToolExchange{
						toolExchange(traceID, base, base, "b", `{}`, false, false),
						toolExchange(traceID, base, base, "c", `{}`, false, false),
					}},
				},
			},
		},
	}

	m := ComputeMetrics(sess)
	if m.LongestChain != 3 {
		t.Errorf("LongestChain = %d, want 3", m.LongestChain)
	}
}

func TestComputeMetricsDetectsLoopSignalWithinWindow(t *testing.T) {
	traceID := event.NewID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var tools []session.ToolExchange
	for i := 0; i < 2; i++ {
		tools = append(tools, toolExchange(traceID, base, base, "bash", `{"command":"ls"}`, false, false))
	}

	sess := session.Session{
		TraceID: traceID,
		Turns: []session.Turn{
			{ID: event.NewID(), Timestamp: base, Steps: []session.Step{
				{ID: event.NewID(), Timestamp: base, Tools: tools},
			}},
		},
	}

	m := ComputeMetrics(sess)
	if m.LoopSignals != 1 {
		t.Errorf("LoopSignals = %d, want 1", m.LoopSignals)
	}
}

func TestComputeMetricsNoLoopSignalOutsideWindow(t *testing.T) {
	traceID := event.NewID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var tools []session.ToolExchange
	tools = append(tools, toolExchange(traceID, base, base, "bash", `{"command":"ls"}`, false, false))
	for i := 0; i < loopWindow; i++ {
		tools = append(tools, toolExchange(traceID, base, base, "other", fmt.Sprintf(`{"n":%d}`, i), false, false))
	}
	tools = append(tools, toolExchange(traceID, base, base, "bash", `{"command":"ls"}`, false, false))

	sess := session.Session{
		TraceID: traceID,
		Turns: []session.Turn{
			{ID: event.NewID(), Timestamp: base, Steps: []session.Step{
				{ID: event.NewID(), Timestamp: base, Tools: tools},
			}},
		},
	}

	m := ComputeMetrics(sess)
	if m.LoopSignals != 0 {
		t.Errorf("LoopSignals = %d, want 0 (duplicate fell outside window)", m.LoopSignals)
	}
}

func TestComputeMetricsTracksMaxE2ELatency(t *testing.T) {
	traceID := event.NewID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	sess := session.Session{
		TraceID: traceID,
		Turns: []session.Turn{
			{
				ID:        event.NewID(),
				Timestamp: base,
				Steps: []session.Step{
					{ID: event.NewID(), Timestamp: base.Add(3 * time.Second)},
				},
			},
		},
	}

	m := ComputeMetrics(sess)
	if m.MaxE2EMS != 3000 {
		t.Errorf("MaxE2EMS = %d, want 3000", m.MaxE2EMS)
	}
}

func TestComputeMetricsEmptySession(t *testing.T) {
	m := ComputeMetrics(session.Session{})
	if m != (Metrics{}) {
		t.Errorf("expected zero-value Metrics, got %+v", m)
	}
}
