// Package session assembles a flat, matched event stream into the
// hierarchical User → Turn → Step → (Reasoning/Tools/Message/Usage) tree
// a reader actually wants to look at.
package session

import (
	"time"

	"github.com/agtrace/agtrace/pkg/event"
)

type StepStatus int

const (
	StatusDone StepStatus = iota
	StatusInProgress
	StatusFailed
)

func (s StepStatus) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusInProgress:
		return "in_progress"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ToolExchange pairs a ToolCall event with its ToolResult, when resolved.
type ToolExchange struct {
	Call   event.Event
	Result *event.Event
}

type Step struct {
	ID        event.ID
	Timestamp time.Time
	Reasoning []event.Reasoning
	Message   *event.Message
	Tools     []ToolExchange
	Usage     *event.TokenUsage
	Status    StepStatus
}

type Turn struct {
	ID        event.ID
	Timestamp time.Time
	User      event.User
	Steps     []Step
}

type Stats struct {
	TurnCount   int
	Duration    time.Duration
	TotalTokens int
}

type Session struct {
	TraceID   event.ID
	StartTime time.Time
	EndTime   *time.Time
	Turns     []Turn
	Stats     Stats
}

// Assemble implements the six-step algorithm: input must already be
// timestamp-ordered and tool-result-resolved (the output of
// matcher.Match). Assembly itself is pure and deterministic.
func Assemble(sorted []event.Event) (Session, error) {
	if len(sorted) == 0 {
		return Session{}, nil
	}

	traceID := sorted[0].TraceID()
	start := sorted[0].Timestamp()
	end := sorted[len(sorted)-1].Timestamp()

	builder := &sessionBuilder{}

	i := 0
	// Step 1: leading non-User events attach to a synthetic opener turn.
	if _, isUser := sorted[0].Payload().(event.User); !isUser {
		builder.openSyntheticTurn(sorted[0])
	}

	for i < len(sorted) {
		e := sorted[i]
		if u, ok := e.Payload().(event.User); ok {
			builder.openTurn(e, u)
			i++
			continue
		}
		builder.addToCurrentStep(e)
		i++
	}
	builder.closeCurrentStep()
	builder.closeCurrentTurn()

	sess := Session{
		TraceID:   traceID,
		StartTime: start,
		EndTime:   &end,
		Turns:     builder.turns,
	}
	sess.Stats = computeStats(sess, start, end)
	return sess, nil
}

func computeStats(sess Session, start, end time.Time) Stats {
	stats := Stats{TurnCount: len(sess.Turns), Duration: end.Sub(start)}
	for _, t := range sess.Turns {
		for _, s := range t.Steps {
			if s.Usage != nil {
				stats.TotalTokens += s.Usage.Total
			}
		}
	}
	return stats
}

// sessionBuilder is the single-pass state machine steps 1-5 run through.
type sessionBuilder struct {
	turns []Turn

	currentTurn *Turn
	currentStep *Step
}

func (b *sessionBuilder) openSyntheticTurn(first event.Event) {
	t := Turn{ID: event.NewID(), Timestamp: first.Timestamp()}
	b.currentTurn = &t
}

func (b *sessionBuilder) openTurn(e event.Event, u event.User) {
	b.closeCurrentStep()
	b.closeCurrentTurn()
	t := Turn{ID: e.ID(), Timestamp: e.Timestamp(), User: u}
	b.currentTurn = &t
}

func (b *sessionBuilder) closeCurrentTurn() {
	if b.currentTurn == nil {
		return
	}
	b.turns = append(b.turns, *b.currentTurn)
	b.currentTurn = nil
}

// addToCurrentStep implements step boundary rule 3: a Message event
// closes the step it belongs to (terminal boundary), everything else
// accumulates into the open step.
func (b *sessionBuilder) addToCurrentStep(e event.Event) {
	if b.currentTurn == nil {
		b.openSyntheticTurn(e)
	}
	if b.currentStep == nil {
		step := Step{ID: e.ID(), Timestamp: e.Timestamp()}
		b.currentStep = &step
	}

	switch payload := e.Payload().(type) {
	case event.Reasoning:
		b.currentStep.Reasoning = append(b.currentStep.Reasoning, payload)
	case event.ToolCall:
		b.currentStep.Tools = append(b.currentStep.Tools, ToolExchange{Call: e})
	case event.ToolResult:
		b.attachResult(e, payload)
	case event.TokenUsage:
		b.mergeUsage(payload)
	case event.Message:
		m := payload
		b.currentStep.Message = &m
		b.closeCurrentStep()
	case event.Notification:
		// carried for inspection only; no structural effect on assembly.
	}
}

func (b *sessionBuilder) attachResult(e event.Event, result event.ToolResult) {
	for i := range b.currentStep.Tools {
		if b.currentStep.Tools[i].Call.ID() == result.ToolCallID {
			r := e
			b.currentStep.Tools[i].Result = &r
			return
		}
	}
	// ToolCall opened in a previous step (e.g. result arrives after the
	// step's Message closed it) — attach to the most recent step that has
	// the matching call, searching backward through the turn so far.
	if b.currentTurn != nil {
		for si := len(b.currentTurn.Steps) - 1; si >= 0; si-- {
			step := &b.currentTurn.Steps[si]
			for ti := range step.Tools {
				if step.Tools[ti].Call.ID() == result.ToolCallID {
					r := e
					step.Tools[ti].Result = &r
					return
				}
			}
		}
	}
}

func (b *sessionBuilder) mergeUsage(u event.TokenUsage) {
	if b.currentStep.Usage == nil {
		merged := u
		b.currentStep.Usage = &merged
		return
	}
	b.currentStep.Usage = mergeTokenUsage(*b.currentStep.Usage, u)
}

// mergeTokenUsage implements step 5: field-wise maximum, independently
// for the top-level counters and the sidecar detail fields.
func mergeTokenUsage(a, c event.TokenUsage) *event.TokenUsage {
	merged := event.TokenUsage{
		Input:  maxInt(a.Input, c.Input),
		Output: maxInt(a.Output, c.Output),
		Total:  maxInt(a.Total, c.Total),
	}
	if a.Details == nil && c.Details == nil {
		return &merged
	}
	d := event.UsageDetails{}
	if a.Details != nil {
		d = *a.Details
	}
	if c.Details != nil {
		d.CacheCreationTokens = maxInt(d.CacheCreationTokens, c.Details.CacheCreationTokens)
		d.CacheReadTokens = maxInt(d.CacheReadTokens, c.Details.CacheReadTokens)
		d.ReasoningTokens = maxInt(d.ReasoningTokens, c.Details.ReasoningTokens)
		if c.Details.ModelContextWindow > d.ModelContextWindow {
			d.ModelContextWindow = c.Details.ModelContextWindow
		}
		if c.Details.Model != "" {
			d.Model = c.Details.Model
		}
		d.Cumulative = d.Cumulative || c.Details.Cumulative
	}
	merged.Details = &d
	return &merged
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// closeCurrentStep finalizes status per step 4 and appends the step to
// the current turn.
func (b *sessionBuilder) closeCurrentStep() {
	if b.currentStep == nil {
		return
	}
	b.currentStep.Status = deriveStatus(b.currentStep.Tools)
	b.currentTurn.Steps = append(b.currentTurn.Steps, *b.currentStep)
	b.currentStep = nil
}

func deriveStatus(tools []ToolExchange) StepStatus {
	anyInProgress := false
	for _, t := range tools {
		if t.Result == nil {
			anyInProgress = true
			continue
		}
		if r, ok := t.Result.Payload().(event.ToolResult); ok && r.IsError {
			return StatusFailed
		}
	}
	if anyInProgress {
		return StatusInProgress
	}
	return StatusDone
}
