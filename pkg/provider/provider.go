// Package provider defines the per-vendor parser contract of §4.B and
// hosts the registry used by discovery, the repository, and the watcher
// to pick the right implementation for a given file without dynamic
// dispatch machinery — a plain slice and a loop, per the design notes'
// "no dynamic dispatch required" guidance.
package provider

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/agtrace/agtrace/pkg/event"
)

// FileRole distinguishes a session's main transcript from its
// subordinate (sidechain/subagent) files.
type FileRole int

const (
	RoleMain FileRole = iota
	RoleSidechain
	RoleSubagent
)

func (r FileRole) String() string {
	switch r {
	case RoleMain:
		return "main"
	case RoleSidechain:
		return "sidechain"
	case RoleSubagent:
		return "subagent"
	default:
		return "unknown"
	}
}

// ProbeResult is the outcome of a cheap, header-only format check.
type ProbeResult struct {
	Match      bool
	Confidence float64 // 0..1, meaningful only when Match is true
}

// DiagnosticCategory mirrors the taxonomy of spec.md §7 restricted to the
// per-record/per-file categories a parser can itself observe.
type DiagnosticCategory int

const (
	DiagMissingField DiagnosticCategory = iota
	DiagTypeMismatch
	DiagMalformedRecord
	DiagToolOrphanBurst
	DiagFileUnreadable
)

// Diagnostic is a non-fatal, categorized parse warning. Parsers
// accumulate these instead of aborting — per-record and per-file
// failures are local (§7's propagation policy).
type Diagnostic struct {
	Category DiagnosticCategory
	Path     string
	Line     int // 1-indexed; 0 when not line-addressable
	Field    string
	Detail   string
}

// SessionFile is one file belonging to a discovered session, with the
// role discovery/probing assigned it.
type SessionFile struct {
	Path string
	Role FileRole
}

// ParseResult is the output of a full Parse call: a finite, ordered
// event sequence plus whatever diagnostics were collected along the way.
type ParseResult struct {
	Events      []event.Event
	Diagnostics []Diagnostic
}

// Provider implements the four operations every vendor parser must
// support (§4.B).
type Provider interface {
	// Name identifies the vendor ("claude", "codex", "gemini").
	Name() string

	// Probe checks the file extension and the shape of its first record
	// (the first non-empty line for line-delimited formats, the whole
	// document for single-document formats).
	Probe(path string) (ProbeResult, error)

	// ExtractSessionID reads the file's header (≤200 records) to recover
	// the vendor-native session identifier without fully parsing it.
	ExtractSessionID(path string) (string, error)

	// FindSessionFiles returns every file under root whose header
	// reports the given vendor-native session id, each tagged with its
	// role.
	FindSessionFiles(root, sessionID string) ([]SessionFile, error)

	// Parse performs full normalization of a single file into canonical
	// events, in file order, sharing one TraceId derived from the
	// session id.
	Parse(path string) (ParseResult, error)

	// ExtractProjectHash recovers the vendor's working-directory
	// fingerprint from the file header without full parsing. The second
	// return value is false when no project context could be extracted
	// (the caller must then fall back to hashing the log file's own
	// path, per §4.E).
	ExtractProjectHash(path string) (string, bool)

	// ExtractSnippet returns the truncated first non-empty user message
	// for listing previews, or "" if none is found in the header window.
	ExtractSnippet(path string) (string, error)
}

// Registry holds the providers configured for this process and selects
// one by highest probe confidence (Detect) or by name (ByName) with a
// plain loop, not an interface-based dispatch table. It does no matching
// against log roots.
type Registry struct {
	providers []Provider
}

func NewRegistry(providers ...Provider) *Registry {
	return &Registry{providers: providers}
}

func (r *Registry) All() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Detect probes every registered provider against path and returns the
// one with the highest confidence match, or ok=false if none matched.
func (r *Registry) Detect(path string) (Provider, bool) {
	var best Provider
	bestConfidence := -1.0
	for _, p := range r.providers {
		res, err := p.Probe(path)
		if err != nil || !res.Match {
			continue
		}
		if res.Confidence > bestConfidence {
			best = p
			bestConfidence = res.Confidence
		}
	}
	return best, best != nil
}

// Classifier inspects one candidate file's header and reports whether it
// belongs to sessionID and, if so, which role it plays.
type Classifier func(path string) (matched bool, role FileRole, err error)

// WalkMatchingSessionFiles is the shared bounded-depth directory walk
// every vendor's FindSessionFiles builds on: filter by extension, run the
// vendor's header classifier, collect matches. Vendor-specific role
// assignment (sidechain vs. subagent vs. main) lives in the closure since
// each vendor signals it differently.
func WalkMatchingSessionFiles(root, ext string, classify Classifier) ([]SessionFile, error) {
	var out []SessionFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree entries are skipped, not fatal
		}
		if d.IsDir() || !strings.HasSuffix(path, ext) {
			return nil
		}
		matched, role, cerr := classify(path)
		if cerr != nil || !matched {
			return nil
		}
		out = append(out, SessionFile{Path: path, Role: role})
		return nil
	})
	return out, err
}

// ByName returns the provider registered under name, if any.
func (r *Registry) ByName(name string) (Provider, bool) {
	for _, p := range r.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}
