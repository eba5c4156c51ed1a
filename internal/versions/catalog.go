// Package versions lists the library versions a playground run can select.
package versions

import (
	"regexp"
	"sort"

	"codeberg.org/sigterm-de/goplay/internal/library"
	"github.com/sahilm/fuzzy"
	"golang.org/x/mod/semver"
)

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-.+)?$`)

// Valid reports whether v is a release version or the master sentinel.
func Valid(v string) bool {
	return v == library.Master || versionPattern.MatchString(v)
}

// Catalog is the ordered set of selectable versions.
type Catalog interface {
	// All returns master first, then releases newest first.
	All() []string

	// Search fuzzy-matches query against the versions. Returns All() when
	// query is empty and an empty, non-nil slice when nothing matches.
	Search(query string) []string

	// Contains reports whether v is in the catalog.
	Contains(v string) bool

	// Len returns the number of versions.
	Len() int
}

type catalog struct {
	sorted []string
}

// New builds a catalog from versions. Invalid entries are dropped, master
// is always present.
func New(versions []string) Catalog {
	seen := map[string]bool{library.Master: true}
	releases := make([]string, 0, len(versions))
	for _, v := range versions {
		if seen[v] || !Valid(v) {
			continue
		}
		seen[v] = true
		releases = append(releases, v)
	}
	sort.SliceStable(releases, func(i, j int) bool {
		return semver.Compare("v"+releases[i], "v"+releases[j]) > 0
	})
	return &catalog{sorted: append([]string{library.Master}, releases...)}
}

func (c *catalog) All() []string { return append([]string(nil), c.sorted...) }

func (c *catalog) Len() int { return len(c.sorted) }

func (c *catalog) Contains(v string) bool {
	for _, x := range c.sorted {
		if x == v {
			return true
		}
	}
	return false
}

func (c *catalog) Search(query string) []string {
	if query == "" {
		return c.All()
	}
	matches := fuzzy.Find(query, c.sorted)
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Str
	}
	return out
}
