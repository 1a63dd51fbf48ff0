// Package sites models the federation: the read-only Site Registry and
// the per-site local account stores it connects to.
package sites

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Site describes one independently administered database instance
// participating in the federation.
type Site struct {
	// ID is the stable site identifier, e.g. "enwiki".
	ID string `json:"id"`
	// Name is a human-readable label.
	Name string `json:"name"`
	// URL is the site's public base URL.
	URL string `json:"url"`
	// DSN is the connection string for the site's local database.
	DSN string `json:"dsn"`
}

// Registry maps site ids to their metadata. It is loaded once at start
// and read-only at runtime, so no locking is needed.
type Registry struct {
	byID  map[string]Site
	order []string
}

// NewRegistry builds a registry from a site list.
func NewRegistry(list []Site) (*Registry, error) {
	byID := make(map[string]Site, len(list))
	for _, s := range list {
		if s.ID == "" {
			return nil, fmt.Errorf("sites: site with empty id")
		}
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("sites: duplicate site id %q", s.ID)
		}
		byID[s.ID] = s
	}

	order := make([]string, 0, len(byID))
	for id := range byID {
		order = append(order, id)
	}
	sort.Strings(order)

	return &Registry{byID: byID, order: order}, nil
}

// LoadRegistry reads a JSON site list from disk.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sites: read registry: %w", err)
	}

	var list []Site
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("sites: parse registry: %w", err)
	}

	return NewRegistry(list)
}

// Get returns a site by id.
func (r *Registry) Get(id string) (Site, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// List returns every known site in stable id order.
func (r *Registry) List() []Site {
	out := make([]Site, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len returns the number of registered sites.
func (r *Registry) Len() int { return len(r.byID) }
