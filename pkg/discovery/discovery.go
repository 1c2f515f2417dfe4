// Package discovery walks each vendor's on-disk log roots, groups files
// by the session id their headers report, and derives the ProjectHash
// that ties a session to a working directory (§4.E).
package discovery

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/agtrace/agtrace/internal/pathhash"
	"github.com/agtrace/agtrace/pkg/index"
	"github.com/agtrace/agtrace/pkg/provider"
)

// walkDepth bounds how deep Scan descends under a vendor's log root, per
// spec.md §4.E: claude and codex group files one level below the root
// (a per-session directory or a flat file), gemini groups by a
// project-hash directory first, so it gets one extra level.
const (
	walkDepthDefault = 2
	walkDepthGemini  = 3
)

// VendorConfig is one entry of the per-vendor table internal/config
// resolves; discovery only needs the two fields it actually consumes.
type VendorConfig struct {
	LogRoot string
	Enabled bool
}

// DiscoveredSession is one session grouping produced by a scan, ready to
// be upserted into the index.
type DiscoveredSession struct {
	SessionID   string
	Provider    string
	ProjectHash index.ProjectHash
	Files       []provider.SessionFile
	Snippet     string
}

// Scanner walks the configured vendor roots and groups their session
// files. It holds no state across calls — Scan is a pure read of the
// filesystem at call time.
type Scanner struct {
	providers []provider.Provider
	configs   map[string]VendorConfig // keyed by provider.Name()
}

func NewScanner(providers []provider.Provider, configs map[string]VendorConfig) *Scanner {
	return &Scanner{providers: providers, configs: configs}
}

// Scan walks every enabled vendor's log root and returns one
// DiscoveredSession per distinct session id found.
func (s *Scanner) Scan(ctx context.Context) ([]DiscoveredSession, error) {
	var out []DiscoveredSession
	for _, p := range s.providers {
		cfg, ok := s.configs[p.Name()]
		if !ok || !cfg.Enabled || cfg.LogRoot == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		sessions, err := s.scanVendor(p, cfg)
		if err != nil {
			continue // a vendor root that can't be walked doesn't abort the whole scan
		}
		out = append(out, sessions...)
	}
	return out, nil
}

func depthFor(vendorName string) int {
	if vendorName == "gemini" {
		return walkDepthGemini
	}
	return walkDepthDefault
}

func (s *Scanner) scanVendor(p provider.Provider, cfg VendorConfig) ([]DiscoveredSession, error) {
	files, err := walkBounded(cfg.LogRoot, depthFor(p.Name()), sessionFileExtension(p.Name()))
	if err != nil {
		return nil, err
	}

	bySession := map[string]*DiscoveredSession{}
	var order []string
	for _, path := range files {
		sessionID, err := p.ExtractSessionID(path)
		if err != nil || sessionID == "" {
			continue
		}
		ds, exists := bySession[sessionID]
		if !exists {
			ds = &DiscoveredSession{SessionID: sessionID, Provider: p.Name()}
			bySession[sessionID] = ds
			order = append(order, sessionID)
		}
		ds.Files = append(ds.Files, classifyFile(p, path, sessionID))
		if ds.ProjectHash == "" {
			if hash, ok := ProjectHashFor(path, p); ok {
				ds.ProjectHash = hash
			}
		}
		if ds.Snippet == "" {
			if snippet, err := p.ExtractSnippet(path); err == nil {
				ds.Snippet = index.TruncateSnippet(snippet)
			}
		}
	}

	out := make([]DiscoveredSession, 0, len(order))
	for _, id := range order {
		out = append(out, *bySession[id])
	}
	return out, nil
}

func classifyFile(p provider.Provider, path, sessionID string) provider.SessionFile {
	role := provider.RoleMain
	files, err := p.FindSessionFiles(filepath.Dir(path), sessionID)
	if err == nil {
		for _, f := range files {
			if f.Path == path {
				role = f.Role
				break
			}
		}
	}
	return provider.SessionFile{Path: path, Role: role}
}

// ProjectHashFor implements §4.E's derivation order: the vendor's own
// bit-exact hash first, then a hash of the vendor-reported working
// directory, then — when neither is available — a hash of the log
// file's own path, which keeps orphaned sessions partitioned from each
// other instead of collapsing into one bucket.
func ProjectHashFor(path string, p provider.Provider) (index.ProjectHash, bool) {
	if hash, ok := p.ExtractProjectHash(path); ok && hash != "" {
		return index.ProjectHash(hash), true
	}
	return index.ProjectHash(pathhash.FromLogPath(path)), true
}

func sessionFileExtension(vendorName string) string {
	if vendorName == "gemini" {
		return ".json"
	}
	return ".jsonl"
}

// WalkDirsBounded calls fn once for root and every directory beneath it,
// never descending more than maxDepth levels, stopping at the first
// error fn returns. pkg/watch uses this to seed the set of directories
// fsnotify needs to be told about explicitly, since it does not watch
// descendants on its own.
func WalkDirsBounded(root string, maxDepth int, fn func(dir string) error) error {
	rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		depth := strings.Count(filepath.Clean(path), string(filepath.Separator)) - rootDepth
		if depth > maxDepth {
			return filepath.SkipDir
		}
		return fn(path)
	})
}

// walkBounded lists every file under root matching ext, never descending
// more than maxDepth directories below root.
func walkBounded(root string, maxDepth int, ext string) ([]string, error) {
	var out []string
	rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		depth := strings.Count(filepath.Clean(path), string(filepath.Separator)) - rootDepth
		if d.IsDir() {
			if depth > maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if depth > maxDepth || !strings.HasSuffix(path, ext) {
			return nil
		}
		out = append(out, path)
		return nil
	})
	return out, err
}
