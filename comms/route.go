package comms

import (
	"fmt"
	"os"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/legion/agent"
)

// Route assigns research questions whose category matches Pattern to Agent.
type Route struct {
	// Pattern is a glob over the question category (e.g. "market_*").
	Pattern string `yaml:"pattern" json:"pattern"`

	// Agent is the role that collects data for matching questions.
	Agent string `yaml:"agent" json:"agent"`

	// Capability, when set, must appear on the agent's card.
	Capability agent.Capability `yaml:"capability,omitempty" json:"capability,omitempty"`
}

// RoutesConfig is the YAML form of a routing table.
type RoutesConfig struct {
	Version string  `yaml:"version"`
	Routes  []Route `yaml:"routes"`
	Default Route   `yaml:"default"`
}

// Router maps question categories to collecting agents. The first matching
// route wins; unmatched categories use the default route.
type Router struct {
	mu           sync.RWMutex
	routes       []Route
	defaultRoute Route
}

// NewRouter creates a router with no routes and the researcher as default.
func NewRouter() *Router {
	return &Router{
		defaultRoute: Route{Pattern: "**", Agent: agent.RoleResearcher, Capability: agent.CapabilityQuestionResearch},
	}
}

// DefaultRouter returns the built-in table. Every category is collected by
// the researcher; the explicit entries document the known categories.
func DefaultRouter() *Router {
	r := NewRouter()
	for _, category := range []string{"current_state", "key_players", "trends", "challenges", "market_impact", "future_outlook"} {
		r.AddRoute(Route{Pattern: category, Agent: agent.RoleResearcher, Capability: agent.CapabilityQuestionResearch})
	}
	return r
}

// LoadRoutes reads a routing table from a YAML file.
func LoadRoutes(path string) (*Router, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}

	var cfg RoutesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse routes file: %w", err)
	}

	r := NewRouter()
	for _, route := range cfg.Routes {
		if !doublestar.ValidatePattern(route.Pattern) {
			return nil, fmt.Errorf("invalid route pattern %q", route.Pattern)
		}
		r.routes = append(r.routes, route)
	}
	if cfg.Default.Agent != "" {
		r.defaultRoute = cfg.Default
	}
	return r, nil
}

// Match returns the route for a category.
func (r *Router) Match(category string) Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, route := range r.routes {
		if ok, err := doublestar.Match(route.Pattern, category); err == nil && ok {
			return route
		}
	}
	return r.defaultRoute
}

// AddRoute appends a route.
func (r *Router) AddRoute(route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

// SetDefault replaces the default route.
func (r *Router) SetDefault(route Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultRoute = route
}

// Routes returns a copy of the configured routes.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}
