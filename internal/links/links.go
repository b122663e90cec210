// Package links extracts wikilink references from note content and defines
// the notification boundary to the link-index collaborator.
package links

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

var wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)

// Notifier receives the extracted reference set whenever a note's content
// changes. Notifications are fire-and-forget; the core never consumes a
// return value from the indexer.
type Notifier interface {
	NoteLinksChanged(noteID string, targets []string)
}

// Discard is a Notifier that drops all notifications. Used when no link
// index is attached.
type Discard struct{}

// NoteLinksChanged implements Notifier.
func (Discard) NoteLinksChanged(string, []string) {}

// Index is an in-memory Notifier that maintains forward and reverse link
// maps. Notifications arrive from goroutines spawned by the entity manager,
// so every map access is serialized by the mutex.
type Index struct {
	mu      sync.Mutex
	forward map[string][]string            // note id -> targets
	reverse map[string]map[string]struct{} // target -> note ids
}

var _ Notifier = (*Index)(nil)

func NewIndex() *Index {
	return &Index{
		forward: make(map[string][]string),
		reverse: make(map[string]map[string]struct{}),
	}
}

// NoteLinksChanged replaces the note's entry in the index. A nil or empty
// target set removes the note entirely, which is how deletions are signalled.
func (ix *Index) NoteLinksChanged(noteID string, targets []string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, old := range ix.forward[noteID] {
		delete(ix.reverse[old], noteID)
		if len(ix.reverse[old]) == 0 {
			delete(ix.reverse, old)
		}
	}
	if len(targets) == 0 {
		delete(ix.forward, noteID)
		return
	}
	ix.forward[noteID] = targets
	for _, target := range targets {
		if ix.reverse[target] == nil {
			ix.reverse[target] = make(map[string]struct{})
		}
		ix.reverse[target][noteID] = struct{}{}
	}
}

// Backlinks returns the ids of notes that link to target, sorted for
// stable output.
func (ix *Index) Backlinks(target string) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ids := make([]string, 0, len(ix.reverse[target]))
	for id := range ix.reverse[target] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Extract returns deduplicated wikilink targets, normalising aliases.
func Extract(content string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(content, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		raw := m[1]
		// Handle aliases: [[Target|Alias]] → Target.
		target := raw
		if i := strings.Index(raw, "|"); i >= 0 {
			target = raw[:i]
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}
