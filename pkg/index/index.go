// Package index defines the persistent catalog records of §3.4 and the
// Store interface every query surface (the repository, the watcher, a
// future CLI front-end) reads and writes through. The concrete backing
// engine is a separate concern (see sqlite.go) deliberately hidden
// behind this interface — which embedded database ships with the module
// is itself an external-collaborator decision, not core logic.
package index

import "time"

// ProjectHash is the lowercase SHA-256 hex of a canonicalized project
// root, or of a log file's own path for orphaned sessions with no
// discoverable root (§4.E).
type ProjectHash string

// Project is one distinct working directory a vendor's agent has been
// run from.
type Project struct {
	Hash        ProjectHash
	RootPath    string
	LastScanned *time.Time
}

// FileRole mirrors provider.FileRole at the persistence boundary — kept
// as a separate string-backed type so the index schema doesn't depend on
// pkg/provider's in-memory enum representation.
type FileRole string

const (
	RoleMain     FileRole = "main"
	RoleSidechain FileRole = "sidechain"
	RoleSubagent FileRole = "subagent"
)

// Session is one catalog row: the discovered identity of a trace, not
// its assembled content (pkg/session.Session holds that).
type Session struct {
	ID              string
	ProjectHash     ProjectHash
	Provider        string
	StartTS         *time.Time
	EndTS           *time.Time
	Snippet         string
	IsValid         bool
	ParentSessionID string
	SpawnContext    string
}

// LogFile is one on-disk file contributing events to a Session.
type LogFile struct {
	Path      string
	SessionID string
	Role      FileRole
	FileSize  int64
	ModTime   *time.Time
}

const snippetMaxChars = 200
const snippetTruncationMarker = "...(truncated)"

// TruncateSnippet applies §3.4's snippet rule: cut by UTF-8 character
// count, not byte count, and append the truncation marker only when the
// text was actually cut.
func TruncateSnippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetMaxChars {
		return text
	}
	return string(runes[:snippetMaxChars]) + snippetTruncationMarker
}
