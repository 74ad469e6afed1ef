// Package scope maps UI page contexts to the collections a session may touch.
package scope

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ashureev/fleetguard/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed scopes.yaml
var defaultScopes []byte

type fileConfig struct {
	Pages map[string]pageConfig `yaml:"pages"`
}

type pageConfig struct {
	Aliases     []string `yaml:"aliases"`
	Collections []string `yaml:"collections"`
}

// Resolver is the immutable page to AllowedTableSet mapping.
type Resolver struct {
	pages    map[string]map[domain.Collection]struct{}
	aliases  map[string]string
	fallback string
}

// Load reads the page table from path, or the embedded default when path is empty.
func Load(path string) (*Resolver, error) {
	data := defaultScopes
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read page scopes: %w", err)
		}
		data = b
	}
	return Parse(data)
}

// Parse builds a Resolver from YAML.
func Parse(data []byte) (*Resolver, error) {
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse page scopes: %w", err)
	}
	if len(cfg.Pages) == 0 {
		return nil, fmt.Errorf("page scopes: no pages defined")
	}

	r := &Resolver{
		pages:   make(map[string]map[domain.Collection]struct{}, len(cfg.Pages)),
		aliases: make(map[string]string),
	}
	for name, page := range cfg.Pages {
		key := normalize(name)
		if len(page.Collections) == 0 {
			return nil, fmt.Errorf("page scopes: page %q has no collections", name)
		}
		set := make(map[domain.Collection]struct{}, len(page.Collections))
		for _, c := range page.Collections {
			col := domain.Collection(c)
			if !col.Valid() {
				return nil, fmt.Errorf("page scopes: page %q: unknown collection %q", name, c)
			}
			set[col] = struct{}{}
		}
		r.pages[key] = set
		for _, alias := range page.Aliases {
			r.aliases[normalize(alias)] = key
		}
	}

	r.fallback = r.smallestPage()
	return r, nil
}

// smallestPage picks the most restrictive set, breaking ties by name.
func (r *Resolver) smallestPage() string {
	names := make([]string, 0, len(r.pages))
	for name := range r.pages {
		names = append(names, name)
	}
	sort.Strings(names)

	best := names[0]
	for _, name := range names[1:] {
		if len(r.pages[name]) < len(r.pages[best]) {
			best = name
		}
	}
	return best
}

func normalize(page string) string {
	return strings.ToLower(strings.TrimSpace(page))
}

// Canonical returns the known page name for pageContext and whether it was recognized.
// Unrecognized contexts map to the most restrictive page.
func (r *Resolver) Canonical(pageContext string) (string, bool) {
	key := normalize(pageContext)
	if _, ok := r.pages[key]; ok {
		return key, true
	}
	if target, ok := r.aliases[key]; ok {
		return target, true
	}
	return r.fallback, false
}

// ResolveAllowed returns the collections pageContext may touch, sorted.
func (r *Resolver) ResolveAllowed(pageContext string) []domain.Collection {
	page, _ := r.Canonical(pageContext)
	out := make([]domain.Collection, 0, len(r.pages[page]))
	for c := range r.pages[page] {
		out = append(out, c)
	}
	domain.SortCollections(out)
	return out
}

// IsAllowed reports whether pageContext may touch collection.
func (r *Resolver) IsAllowed(pageContext string, c domain.Collection) bool {
	page, _ := r.Canonical(pageContext)
	_, ok := r.pages[page][c]
	return ok
}

// PagesFor lists the pages that allow collection, sorted.
func (r *Resolver) PagesFor(c domain.Collection) []string {
	var out []string
	for name, set := range r.pages {
		if _, ok := set[c]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Pages lists all known page names, sorted.
func (r *Resolver) Pages() []string {
	out := make([]string, 0, len(r.pages))
	for name := range r.pages {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Fallback is the page used for unrecognized contexts.
func (r *Resolver) Fallback() string {
	return r.fallback
}
