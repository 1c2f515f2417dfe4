// Package watch turns filesystem change notifications into discovery and
// stream events for subscribers, implementing the state machine spelled
// out in §4.H: one cooperative worker goroutine per Watcher, no shared
// mutable state a caller could race against.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agtrace/agtrace/pkg/discovery"
	"github.com/agtrace/agtrace/pkg/event"
	"github.com/agtrace/agtrace/pkg/index"
	"github.com/agtrace/agtrace/pkg/provider"
)

// defaultPollInterval is the suspension point §5 describes: the worker
// blocks on the fsnotify channels with this timeout, bounding how stale
// a missed notification can get and doubling as the backpressure retry
// interval.
const defaultPollInterval = time.Second

// outcomeBufferSize bounds the output channel; a full channel makes the
// worker retry rather than drop, per §4.H's backpressure rule.
const outcomeBufferSize = 256

// Outcome is the closed sum type of everything a Watcher can emit.
type Outcome interface{ isOutcome() }

type DiscoveryNewSession struct {
	SessionID   string
	Provider    string
	ProjectHash index.ProjectHash
	Snippet     string
}

type DiscoverySessionUpdated struct {
	SessionID string
	Provider  string
	IsNew     bool
	ModTime   time.Time
}

type DiscoverySessionRemoved struct {
	SessionID string
}

type StreamAttached struct {
	SessionID string
	Path      string
}

type StreamEvents struct {
	SessionID string
	Events    []event.Event
}

type StreamDisconnected struct {
	SessionID string
	Reason    string
}

type WatchError struct {
	Err error
}

func (DiscoveryNewSession) isOutcome()     {}
func (DiscoverySessionUpdated) isOutcome() {}
func (DiscoverySessionRemoved) isOutcome() {}
func (StreamAttached) isOutcome()          {}
func (StreamEvents) isOutcome()            {}
func (StreamDisconnected) isOutcome()      {}
func (WatchError) isOutcome()              {}

// RootConfig is one vendor's watched log root, paired with the provider
// that understands its wire format.
type RootConfig struct {
	Vendor   string
	Root     string
	Provider provider.Provider
}

// attachment tracks one session's main file under active observation.
type attachment struct {
	sessionID string
	provider  provider.Provider
	path      string
	modTime   time.Time
	size      int64
	emitted   map[event.ID]struct{}
}

// Watcher is the single-worker live tail over a set of vendor log roots.
type Watcher struct {
	fsw           *fsnotify.Watcher
	roots         []RootConfig
	projectFilter *index.ProjectHash
	out           chan Outcome
	logger        *slog.Logger
	pollInterval  time.Duration

	attachments map[string]*attachment // by session id
	knownByPath map[string]string      // watched main file path -> session id, for rotation/removal detection

	closeOnce sync.Once
	stop      chan struct{}
}

// New creates a Watcher over roots, optionally restricted to sessions
// whose ProjectHash matches projectFilter. A nil logger falls back to
// slog.Default().
func New(roots []RootConfig, projectFilter *index.ProjectHash, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:           fsw,
		roots:         roots,
		projectFilter: projectFilter,
		out:           make(chan Outcome, outcomeBufferSize),
		logger:        logger,
		pollInterval:  defaultPollInterval,
		attachments:   map[string]*attachment{},
		knownByPath:   map[string]string{},
		stop:          make(chan struct{}),
	}
	for _, r := range roots {
		if err := addRootRecursive(fsw, r.Root); err != nil {
			logger.Warn("failed to watch root", slog.String("root", r.Root), slog.Any("error", err))
		}
	}
	return w, nil
}

// addRootRecursive registers root and the directories up to three levels
// below it with fsnotify;
// the library only watches the directories you explicitly add, not their
// descendants.
func addRootRecursive(fsw *fsnotify.Watcher, root string) error {
	return discovery.WalkDirsBounded(root, 3, func(dir string) error {
		return fsw.Add(dir)
	})
}

// Out returns the outcome channel. Callers must keep draining it; the
// worker blocks (with retry, never drop) when it's full.
func (w *Watcher) Out() <-chan Outcome { return w.out }

// Run is the single cooperative worker. It returns when ctx is
// cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer w.fsw.Close()
	defer close(w.out)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.send(WatchError{Err: err})
		case <-ticker.C:
			// Suspension point only; this module has no periodic work
			// beyond what fsnotify already delivers.
		}
	}
}

// Close stops the worker and releases its resources deterministically.
// Safe to call more than once.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() { close(w.stop) })
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	switch {
	case ev.Op&fsnotify.Remove != 0:
		w.handleRemove(ev.Name)
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.handleChange(ev.Name)
	}
}

func (w *Watcher) handleRemove(path string) {
	sessionID, ok := w.knownByPath[path]
	if !ok {
		return
	}
	delete(w.knownByPath, path)
	delete(w.attachments, sessionID)
	w.send(StreamDisconnected{SessionID: sessionID, Reason: "removed"})
	w.send(DiscoverySessionRemoved{SessionID: sessionID})
}

func (w *Watcher) handleChange(path string) {
	root, p, ok := w.classify(path)
	if !ok {
		return
	}

	res, err := p.Probe(path)
	if err != nil || !res.Match {
		return
	}
	sessionID, err := p.ExtractSessionID(path)
	if err != nil || sessionID == "" {
		return // header may still be writing; dropped silently per §4.H
	}
	role := w.roleOf(p, path, sessionID)
	if role != provider.RoleMain {
		return // subordinate file changes never drive discovery/streaming
	}

	if w.projectFilter != nil {
		hash, ok := p.ExtractProjectHash(path)
		if !ok || index.ProjectHash(hash) != *w.projectFilter {
			return // conservative drop under an active project filter
		}
	}

	info, _ := osStat(path)

	existing, attached := w.attachments[sessionID]
	if attached && existing.path != path && info.modTime.After(existing.modTime) {
		w.send(StreamDisconnected{SessionID: existing.sessionID, Reason: "rotated"})
		delete(w.knownByPath, existing.path)
		delete(w.attachments, sessionID)
		attached = false
	}

	if !attached {
		w.attach(root.Vendor, p, sessionID, path, info)
		return
	}

	w.tail(existing, info)
}

type fileInfo struct {
	modTime time.Time
	size    int64
}

func (w *Watcher) attach(vendorName string, p provider.Provider, sessionID, path string, info fileInfo) {
	a := &attachment{sessionID: sessionID, provider: p, path: path, modTime: info.modTime, emitted: map[event.ID]struct{}{}}
	w.attachments[sessionID] = a
	w.knownByPath[path] = sessionID

	result, err := p.Parse(path)
	if err != nil {
		w.send(WatchError{Err: err})
		return
	}
	for _, e := range result.Events {
		a.emitted[e.ID()] = struct{}{}
	}
	a.size = info.size

	hash, _ := discovery.ProjectHashFor(path, p)
	snippet, _ := p.ExtractSnippet(path)
	w.send(DiscoveryNewSession{SessionID: sessionID, Provider: vendorName, ProjectHash: hash, Snippet: index.TruncateSnippet(snippet)})
	w.send(DiscoverySessionUpdated{SessionID: sessionID, Provider: vendorName, IsNew: true, ModTime: info.modTime})
	w.send(StreamAttached{SessionID: sessionID, Path: path})
	if len(result.Events) > 0 {
		w.send(StreamEvents{SessionID: sessionID, Events: result.Events})
	}
}

func (w *Watcher) tail(a *attachment, info fileInfo) {
	if info.size == a.size {
		return // no growth since last observation
	}
	result, err := a.provider.Parse(a.path)
	if err != nil {
		w.send(WatchError{Err: err})
		return
	}

	var fresh []event.Event
	for _, e := range result.Events {
		if _, seen := a.emitted[e.ID()]; seen {
			continue
		}
		a.emitted[e.ID()] = struct{}{}
		fresh = append(fresh, e)
	}
	a.size = info.size
	a.modTime = info.modTime

	w.send(DiscoverySessionUpdated{SessionID: a.sessionID, IsNew: false, ModTime: info.modTime})
	if len(fresh) > 0 {
		w.send(StreamEvents{SessionID: a.sessionID, Events: fresh})
	}
}

// classify implements the longest-prefix vendor match of §4.H.
func (w *Watcher) classify(path string) (RootConfig, provider.Provider, bool) {
	var best RootConfig
	bestLen := -1
	found := false
	for _, r := range w.roots {
		if strings.HasPrefix(path, r.Root) && len(r.Root) > bestLen {
			best = r
			bestLen = len(r.Root)
			found = true
		}
	}
	if !found {
		return RootConfig{}, nil, false
	}
	return best, best.Provider, true
}

func (w *Watcher) roleOf(p provider.Provider, path, sessionID string) provider.FileRole {
	files, err := p.FindSessionFiles(filepath.Dir(path), sessionID)
	if err != nil {
		return provider.RoleMain
	}
	for _, f := range files {
		if f.Path == path {
			return f.Role
		}
	}
	return provider.RoleMain
}

// send implements the bounded-channel backpressure rule: retry on a full
// channel rather than drop, sleeping one poll interval between attempts.
func (w *Watcher) send(o Outcome) {
	for {
		select {
		case w.out <- o:
			return
		case <-w.stop:
			return
		default:
			time.Sleep(w.pollInterval)
		}
	}
}

// osStat adapts os.Stat to the fileInfo shape handleChange works with; a
// file that vanishes between the fsnotify event and the stat call
// reports a zero-value fileInfo; when the attachment's recorded size is
// not zero, tail() re-parses the path and sends the failure as a
// WatchError.
func osStat(path string) (fileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return fileInfo{}, err
	}
	return fileInfo{modTime: fi.ModTime(), size: fi.Size()}, nil
}
