// Package matcher resolves ToolResult events to the ToolCall events they
// answer. Parsers only know a vendor-native call id at parse time;
// resolving that to a canonical event.ID requires seeing every event in
// the trace, which is why this is a separate pass over the whole
// sequence rather than something the per-vendor parsers do inline.
package matcher

import "github.com/agtrace/agtrace/pkg/event"

// OrphanRun records a burst of consecutive ToolResults that could not be
// matched to any pending ToolCall — a signal that something upstream
// (provider_call_id wiring, event ordering) is broken, not a single
// isolated miss.
type OrphanRun struct {
	Length  int
	FirstID event.ID
	LastID  event.ID
}

const orphanBurstThreshold = 3

// pending tracks in-flight ToolCalls three ways at once: by vendor call
// id (exact match), by tool name (LIFO same-name fallback), and in one
// global LIFO chain (last-resort fallback when the vendor format gives
// the result neither a call id nor a name).
type pending struct {
	byCallID map[string]event.ID
	byName   map[string][]event.ID
	global   []event.ID
}

func newPending() *pending {
	return &pending{byCallID: map[string]event.ID{}, byName: map[string][]event.ID{}}
}

func (p *pending) push(call event.ToolCall, id event.ID) {
	if call.ProviderCallID != "" {
		p.byCallID[call.ProviderCallID] = id
	}
	p.byName[call.Name] = append(p.byName[call.Name], id)
	p.global = append(p.global, id)
}

func (p *pending) popByCallID(callID string) (event.ID, bool) {
	id, ok := p.byCallID[callID]
	if !ok {
		return event.ID{}, false
	}
	delete(p.byCallID, callID)
	p.removeEverywhereExceptCallID(id)
	return id, true
}

func (p *pending) popByName(name string) (event.ID, bool) {
	stack := p.byName[name]
	if len(stack) == 0 {
		return event.ID{}, false
	}
	id := stack[len(stack)-1]
	p.byName[name] = stack[:len(stack)-1]
	p.removeFromCallIDAndGlobal(id)
	return id, true
}

func (p *pending) popGlobal() (event.ID, bool) {
	if len(p.global) == 0 {
		return event.ID{}, false
	}
	id := p.global[len(p.global)-1]
	p.global = p.global[:len(p.global)-1]
	p.removeFromCallIDAndName(id)
	return id, true
}

func (p *pending) removeEverywhereExceptCallID(id event.ID) {
	for name, stack := range p.byName {
		p.byName[name] = removeID(stack, id)
	}
	p.global = removeID(p.global, id)
}

func (p *pending) removeFromCallIDAndGlobal(id event.ID) {
	deleteByValue(p.byCallID, id)
	p.global = removeID(p.global, id)
}

func (p *pending) removeFromCallIDAndName(id event.ID) {
	deleteByValue(p.byCallID, id)
	for name, stack := range p.byName {
		p.byName[name] = removeID(stack, id)
	}
}

func removeID(stack []event.ID, id event.ID) []event.ID {
	for i, v := range stack {
		if v == id {
			return append(stack[:i], stack[i+1:]...)
		}
	}
	return stack
}

func deleteByValue(m map[string]event.ID, id event.ID) {
	for k, v := range m {
		if v == id {
			delete(m, k)
			return
		}
	}
}

// Match returns a new event slice with every ToolResult.ToolCallID bound
// to its originating ToolCall, leaving the input slice untouched.
// Resolution order per result, in timestamp order:
//  1. exact match by ProviderCallID against a still-pending ToolCall
//  2. most-recently-unmatched ToolCall sharing the result's Name
//  3. most-recently-unmatched ToolCall overall, when the result carries
//     neither a ProviderCallID nor a Name
//  4. synthetic orphan: ToolCallID set to the result's own event id, with
//     metadata.orphaned = true
func Match(events []event.Event) ([]event.Event, []OrphanRun) {
	out := make([]event.Event, len(events))
	copy(out, events)

	p := newPending()

	var orphans []OrphanRun
	runStart := -1
	runLen := 0
	var runLastID event.ID

	flushRun := func() {
		if runLen >= orphanBurstThreshold {
			orphans = append(orphans, OrphanRun{
				Length:  runLen,
				FirstID: out[runStart].ID(),
				LastID:  runLastID,
			})
		}
		runStart = -1
		runLen = 0
	}

	for i, e := range out {
		switch payload := e.Payload().(type) {
		case event.ToolCall:
			p.push(payload, e.ID())
			flushRun()
		case event.ToolResult:
			resolved, orphaned := resolveResult(payload, p)
			newPayload := payload
			if orphaned {
				newPayload.ToolCallID = e.ID()
			} else {
				newPayload.ToolCallID = resolved
			}
			out[i] = e.WithPayload(newPayload)
			if orphaned {
				out[i] = out[i].WithExtraMetadata(map[string]any{"orphaned": true})
				if runStart == -1 {
					runStart = i
				}
				runLen++
				runLastID = e.ID()
			} else {
				flushRun()
			}
		default:
			flushRun()
		}
	}
	flushRun()

	return out, orphans
}

func resolveResult(result event.ToolResult, p *pending) (event.ID, bool) {
	if result.ProviderCallID != "" {
		if id, ok := p.popByCallID(result.ProviderCallID); ok {
			return id, false
		}
	}
	if result.Name != "" {
		if id, ok := p.popByName(result.Name); ok {
			return id, false
		}
	}
	if result.ProviderCallID == "" && result.Name == "" {
		if id, ok := p.popGlobal(); ok {
			return id, false
		}
	}
	return event.ID{}, true
}
