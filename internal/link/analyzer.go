// Package link implements the Link Analyzer / Healer (C11): classifying
// every link C2 extracted as valid or broken against a name map built
// from the current vault snapshot, and suggesting/applying fuzzy-match
// repairs for broken wiki, embed, and markdown links.
package link

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkm-agent/vaultd/internal/note"
	"github.com/pkm-agent/vaultd/internal/store"
)

// NameMap maps a candidate key (a note's filename stem, or its
// rel-path-without-extension) to the canonical rel_path it names. Both
// forms are registered for every note so `[[Title]]` and
// `[[folder/Title]]`-style links both resolve.
type NameMap map[string]string

// BuildNameMap indexes every note's rel_path under both its stem and
// its rel-path-without-extension.
func BuildNameMap(relPaths []string) NameMap {
	m := make(NameMap, len(relPaths)*2)
	for _, rp := range relPaths {
		stem := strings.TrimSuffix(filepath.Base(rp), filepath.Ext(rp))
		withoutExt := strings.TrimSuffix(rp, filepath.Ext(rp))
		m[stem] = rp
		m[withoutExt] = rp
	}
	return m
}

// lookup resolves a wiki/embed target against the name map, trying the
// target as given and with a ".md" suffix appended.
func (m NameMap) lookup(target string) (string, bool) {
	if rp, ok := m[target]; ok {
		return rp, true
	}
	if rp, ok := m[target+".md"]; ok {
		return rp, true
	}
	return "", false
}

// NoteLinks is one note's links, keyed to the rel_path that contains
// them.
type NoteLinks struct {
	RelPath string
	Links   []note.Link
}

// ClassifiedLink is one link after Analyze has resolved its status.
type ClassifiedLink struct {
	Source         string
	Kind           note.LinkKind
	Target         string
	DisplayText    string
	Line           int
	Column         int
	Status         store.LinkStatus
	ResolvedTarget string // rel_path, set only when Status == valid
}

// HubNote is a note ranked by incoming non-tag link count.
type HubNote struct {
	RelPath  string
	InDegree int
}

// Result is the Analyzer's output: the shape handed back by
// validate_links().
type Result struct {
	TotalLinks  int
	Broken      []ClassifiedLink
	OrphanNotes []string
	HubNotes    []HubNote
	// Forward is the adjacency map built fresh on every call: source
	// rel_path -> set of resolved target rel_paths. Tags are excluded.
	Forward map[string]map[string]struct{}
}

// maxHubNotes bounds the hub-notes list returned by Analyze.
const maxHubNotes = 10

// Analyze builds a name map from every note's rel_path, classifies
// every link in notes, and derives orphan/hub/adjacency statistics.
// vaultRoot is used to resolve and existence-check markdown links.
func Analyze(vaultRoot string, notes []NoteLinks) *Result {
	relPaths := make([]string, len(notes))
	for i, n := range notes {
		relPaths[i] = n.RelPath
	}
	nameMap := BuildNameMap(relPaths)

	allNotes := make(map[string]struct{}, len(notes))
	for _, rp := range relPaths {
		allNotes[rp] = struct{}{}
	}

	var (
		broken    []ClassifiedLink
		total     int
		incoming  = make(map[string]int)
		forward   = make(map[string]map[string]struct{})
	)

	for _, n := range notes {
		for _, l := range n.Links {
			if l.Kind == note.KindTag {
				continue
			}
			total++

			cl := ClassifiedLink{
				Source: n.RelPath, Kind: l.Kind, Target: l.Target,
				DisplayText: l.DisplayText, Line: l.Line, Column: l.Column,
			}
			cl.Status, cl.ResolvedTarget = classify(vaultRoot, nameMap, n.RelPath, l)

			if cl.Status != store.LinkStatusValid {
				broken = append(broken, cl)
				continue
			}

			incoming[cl.ResolvedTarget]++
			if forward[n.RelPath] == nil {
				forward[n.RelPath] = make(map[string]struct{})
			}
			forward[n.RelPath][cl.ResolvedTarget] = struct{}{}
		}
	}

	var orphans []string
	for rp := range allNotes {
		if incoming[rp] == 0 {
			orphans = append(orphans, rp)
		}
	}
	sort.Strings(orphans)

	hubs := make([]HubNote, 0, len(incoming))
	for rp, n := range incoming {
		hubs = append(hubs, HubNote{RelPath: rp, InDegree: n})
	}
	sort.Slice(hubs, func(i, j int) bool {
		if hubs[i].InDegree != hubs[j].InDegree {
			return hubs[i].InDegree > hubs[j].InDegree
		}
		return hubs[i].RelPath < hubs[j].RelPath
	})
	if len(hubs) > maxHubNotes {
		hubs = hubs[:maxHubNotes]
	}

	return &Result{
		TotalLinks:  total,
		Broken:      broken,
		OrphanNotes: orphans,
		HubNotes:    hubs,
		Forward:     forward,
	}
}

// classify resolves a single link's validity and, when valid, the
// rel_path it resolves to.
func classify(vaultRoot string, nameMap NameMap, sourceRelPath string, l note.Link) (store.LinkStatus, string) {
	switch l.Kind {
	case note.KindWiki, note.KindWikiAlias, note.KindEmbed:
		if rp, ok := nameMap.lookup(l.Target); ok {
			return store.LinkStatusValid, rp
		}
		return store.LinkStatusBroken, ""

	case note.KindMarkdown:
		if isExternalTarget(l.Target) {
			return store.LinkStatusValid, l.Target
		}
		rp, ok := resolveMarkdownTarget(vaultRoot, sourceRelPath, l.Target)
		if !ok {
			return store.LinkStatusBroken, ""
		}
		return store.LinkStatusValid, rp

	default:
		return store.LinkStatusBroken, ""
	}
}

var externalSchemes = []string{"http://", "https://", "ftp://", "mailto:", "data:"}

func isExternalTarget(target string) bool {
	lower := strings.ToLower(target)
	for _, scheme := range externalSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// resolveMarkdownTarget resolves target relative to the directory of
// sourceRelPath, requiring the result to land inside vaultRoot and
// exist on disk.
func resolveMarkdownTarget(vaultRoot, sourceRelPath, target string) (string, bool) {
	if vaultRoot == "" {
		return "", false
	}
	target = strings.SplitN(target, "#", 2)[0]
	if target == "" {
		return "", false
	}

	sourceDir := filepath.Dir(filepath.Join(vaultRoot, sourceRelPath))
	abs := filepath.Clean(filepath.Join(sourceDir, filepath.FromSlash(target)))

	rel, err := filepath.Rel(vaultRoot, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	if _, err := os.Stat(abs); err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
