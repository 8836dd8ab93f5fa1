package fetch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrStrategyExists  = errors.New("fetch: strategy already exists")
	ErrStrategyNil     = errors.New("fetch: strategy is nil")
	ErrUnknownStrategy = errors.New("fetch: unknown strategy")
	ErrInvalidName     = errors.New("fetch: invalid strategy name")
)

var (
	DefaultConversationChain = []string{"primary", "cache", "store", "eval"}
	DefaultMessageChain      = []string{"primary", "store", "eval"}
)

// Registry stores strategies by name.
type Registry struct {
	items map[string]Strategy
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Strategy)}
}

// DefaultRegistry holds the built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, s := range []Strategy{Primary{}, Cache{}, Store{}, Eval{}} {
		// built-in names are valid and unique
		_ = r.Register(s)
	}
	return r
}

// Register adds a strategy to the registry.
func (r *Registry) Register(s Strategy) error {
	if s == nil {
		return ErrStrategyNil
	}
	name := s.Name()
	if !isValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("%w: %s", ErrStrategyExists, name)
	}
	r.items[name] = s
	return nil
}

// Resolve returns a strategy by name.
func (r *Registry) Resolve(name string) (Strategy, bool) {
	s, ok := r.items[name]
	return s, ok
}

// Chain resolves names into an ordered strategy list. Blank and repeated
// names are skipped.
func (r *Registry) Chain(names []string) ([]Strategy, error) {
	seen := make(map[string]struct{})
	out := make([]Strategy, 0, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		s, ok := r.Resolve(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s (known: %s)", ErrUnknownStrategy, name, strings.Join(r.Names(), ", "))
		}
		out = append(out, s)
	}
	return out, nil
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isValidName(name string) bool {
	if name == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if (i == 0 || i == len(name)-1) && isSep {
			return false
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
