// Package catalog maps the Claude model names clients send to the
// Gemini models the upstream actually serves, with an optional
// models.yaml override and a fallback chain for demotion.
package catalog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

var modelIDRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*$`)

// Route maps one client-facing model to an upstream model plus the
// weaker variant used when the primary is exhausted.
type Route struct {
	Upstream string `yaml:"upstream" json:"upstream"`
	Fallback string `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

type fileConfig struct {
	Models map[string]Route `yaml:"models"`
}

// defaultRoutes is the built-in table. models.yaml entries override
// per key; unknown keys in the file add new routes.
var defaultRoutes = map[string]Route{
	"claude-sonnet-4-5":          {Upstream: "gemini-2.5-pro", Fallback: "gemini-2.5-flash"},
	"claude-sonnet-4-5-thinking": {Upstream: "gemini-2.5-pro", Fallback: "gemini-2.5-flash"},
	"claude-opus-4-5":            {Upstream: "gemini-3-pro-preview", Fallback: "gemini-2.5-pro"},
	"claude-haiku-4-5":           {Upstream: "gemini-2.5-flash", Fallback: "gemini-2.5-flash-lite"},
	"claude-3-5-haiku":           {Upstream: "gemini-2.5-flash", Fallback: "gemini-2.5-flash-lite"},
	"gemini-2.5-pro":             {Upstream: "gemini-2.5-pro", Fallback: "gemini-2.5-flash"},
	"gemini-2.5-flash":           {Upstream: "gemini-2.5-flash", Fallback: "gemini-2.5-flash-lite"},
	"gemini-2.5-flash-lite":      {Upstream: "gemini-2.5-flash-lite"},
	"gemini-3-pro-preview":       {Upstream: "gemini-3-pro-preview", Fallback: "gemini-2.5-pro"},
}

// Catalog is the resolved route table. Immutable after Load; reads need
// no lock beyond the swap guard.
type Catalog struct {
	mu     sync.RWMutex
	routes map[string]Route
	path   string
}

// Load builds the catalog from the defaults merged with models.yaml in
// dir when present. A broken override file fails loudly: serving with
// half a route table routes requests to the wrong models.
func Load(dir string) (*Catalog, error) {
	c := &Catalog{
		routes: make(map[string]Route, len(defaultRoutes)),
		path:   filepath.Join(dir, "models.yaml"),
	}
	for k, v := range defaultRoutes {
		c.routes[k] = v
	}

	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", c.path, err)
	}
	for id, route := range fc.Models {
		if !modelIDRegexp.MatchString(id) {
			return nil, fmt.Errorf("%s: invalid model id %q", c.path, id)
		}
		if route.Upstream == "" {
			return nil, fmt.Errorf("%s: model %q has no upstream", c.path, id)
		}
		c.routes[id] = route
	}
	log.Printf("📦 [Catalog] loaded %d overrides from %s", len(fc.Models), c.path)
	return c, nil
}

// Resolve maps a client model to its upstream model. Unknown models
// pass through unchanged so new upstream models work without a
// catalog release.
func (c *Catalog) Resolve(clientModel string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.routes[clientModel]; ok {
		return r.Upstream
	}
	return clientModel
}

// Fallback returns the weaker variant for an upstream model, walking
// the table by upstream id. Empty means no demotion target exists.
func (c *Catalog) Fallback(upstreamModel string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.routes {
		if r.Upstream == upstreamModel && r.Fallback != "" {
			return r.Fallback
		}
	}
	return ""
}

// Known reports whether clientModel has an explicit route.
func (c *Catalog) Known(clientModel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.routes[clientModel]
	return ok
}

// ClientModels lists the client-facing model ids, sorted.
func (c *Catalog) ClientModels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.routes))
	for id := range c.routes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// UpstreamModels lists the distinct upstream ids, sorted.
func (c *Catalog) UpstreamModels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := map[string]bool{}
	for _, r := range c.routes {
		seen[r.Upstream] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Routes returns a copy of the full table for the dashboard.
func (c *Catalog) Routes() map[string]Route {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Route, len(c.routes))
	for k, v := range c.routes {
		out[k] = v
	}
	return out
}
