// Package repository loads the full, matched event stream for a
// session id by resolving it against the catalog, fetching its files,
// and re-parsing them with whichever provider actually recognizes each
// file's format (§4.G).
package repository

import (
	"context"
	"fmt"

	"github.com/agtrace/agtrace/internal/agtraceerr"
	"github.com/agtrace/agtrace/pkg/event"
	"github.com/agtrace/agtrace/pkg/index"
	"github.com/agtrace/agtrace/pkg/matcher"
	"github.com/agtrace/agtrace/pkg/provider"
)

// Repository combines the catalog with the provider set needed to
// re-parse whatever the catalog points at.
type Repository struct {
	Store     index.Store
	Providers []provider.Provider
}

func New(store index.Store, providers []provider.Provider) *Repository {
	return &Repository{Store: store, Providers: providers}
}

// LoadEvents resolves sessionIDOrPrefix (a full id, or an 8+ character
// prefix per spec.md's ambiguity rule), loads every file belonging to
// that session, parses each with the provider that actually probes it
// as a match (not a stored per-file vendor tag, so a moved or renamed
// catalog entry still parses correctly), resolves tool pairing across
// the combined stream, and returns one ordered, deduplicated sequence.
//
// A file that fails to parse, or that no provider recognizes, is skipped
// without being reported; only when no file yields any event is the
// first such failure returned as a FileUnreadable error.
func (r *Repository) LoadEvents(ctx context.Context, sessionIDOrPrefix string) ([]event.Event, error) {
	sess, err := r.Store.FindSessionByPrefix(ctx, sessionIDOrPrefix)
	if err != nil {
		return nil, err
	}

	files, err := r.Store.GetSessionFiles(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("get session files: %w", err)
	}
	if len(files) == 0 {
		return nil, agtraceerr.New(agtraceerr.KindNotFound, fmt.Sprintf("session %s has no catalogued files", sess.ID))
	}

	var all []event.Event
	var failures []error
	for _, f := range files {
		p, ok := r.selectProvider(f.Path)
		if !ok {
			failures = append(failures, agtraceerr.Unreadable(f.Path, fmt.Errorf("no provider recognizes this file")))
			continue
		}
		result, err := p.Parse(f.Path)
		if err != nil {
			failures = append(failures, agtraceerr.Unreadable(f.Path, err))
			continue
		}
		all = append(all, result.Events...)
	}

	if len(all) == 0 && len(failures) > 0 {
		return nil, fmt.Errorf("no readable files for session %s: %w", sess.ID, failures[0])
	}

	event.SortEvents(all)
	matched, _ := matcher.Match(all)
	event.SortEvents(matched)
	return event.Dedupe(matched), nil
}

func (r *Repository) selectProvider(path string) (provider.Provider, bool) {
	return provider.NewRegistry(r.Providers...).Detect(path)
}
