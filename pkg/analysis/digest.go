package analysis

import (
	"strings"

	"github.com/agtrace/agtrace/pkg/session"
)

// activationMinTools is the tool-count floor digest.rs's find_activation
// requires before a turn counts as the session's "activation" moment.
const activationMinTools = 3

// Digest is a session summary built once and reused across every lens
// pass, so ComputeMetrics never runs twice for the same session.
type Digest struct {
	SessionID       string
	Provider        string
	Session         session.Session
	Opening         string
	Activation      string
	Metrics         Metrics
	RecencyBoost    int
	SelectionReason string
}

// NewDigest builds a Digest for sess. recencyBoost is an external input
// (e.g. derived from how recently the session was active) the caller
// supplies; this package never reads a clock itself.
func NewDigest(sessionID, provider string, sess session.Session, recencyBoost int) Digest {
	var opening string
	if len(sess.Turns) > 0 {
		if cleaned := cleanSnippet(sess.Turns[0].User.Text); cleaned != "" {
			opening = truncateRunes(cleaned, 100)
		}
	}

	return Digest{
		SessionID:    sessionID,
		Provider:     provider,
		Session:      sess,
		Opening:      opening,
		Activation:   findActivation(sess),
		Metrics:      ComputeMetrics(sess),
		RecencyBoost: recencyBoost,
	}
}

// noiseTags are wrapper tags some vendors inject around large
// environment/command dumps; they add no value to a one-line preview.
var noiseTags = [][2]string{
	{"<environment_context>", "</environment_context>"},
	{"<command_output>", "</command_output>"},
	{"<changed_files>", "</changed_files>"},
}

func cleanSnippet(text string) string {
	cleaned := text
	for _, tag := range noiseTags {
		for {
			start := strings.Index(cleaned, tag[0])
			if start < 0 {
				break
			}
			rest := cleaned[start:]
			end := strings.Index(rest, tag[1])
			if end < 0 {
				break
			}
			absoluteEnd := start + end + len(tag[1])
			cleaned = cleaned[:start] + " [..meta..] " + cleaned[absoluteEnd:]
		}
	}
	return strings.Join(strings.Fields(cleaned), " ")
}

// findActivation locates the turn with the most tool calls and returns
// its cleaned, truncated opening text — the moment the session's real
// work began, as opposed to its literal first message.
func findActivation(sess session.Session) string {
	if len(sess.Turns) == 0 {
		return ""
	}

	bestIdx, maxTools := 0, 0
	for i, turn := range sess.Turns {
		count := 0
		for _, step := range turn.Steps {
			count += len(step.Tools)
		}
		if count > maxTools {
			bestIdx, maxTools = i, count
		}
	}
	if maxTools < activationMinTools {
		return ""
	}

	cleaned := cleanSnippet(sess.Turns[bestIdx].User.Text)
	if cleaned == "" {
		return ""
	}
	return truncateRunes(cleaned, 120)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
