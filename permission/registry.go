package permission

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrRegistryFrozen is returned by Register after Freeze.
	ErrRegistryFrozen = errors.New("registry frozen")
	// ErrInvalidPermission is returned for names not of the form resource:action.
	ErrInvalidPermission = errors.New("invalid permission name")
	// ErrDuplicatePermission is returned when a permission is registered twice.
	ErrDuplicatePermission = errors.New("permission already registered")
)

// Permission is a parsed "resource:action" pair.
type Permission struct {
	Resource string
	Action   string
}

// String returns the canonical "resource:action" form.
func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// Parse splits a permission name. Both halves must be non-empty and the name must
// contain exactly one colon.
func Parse(name string) (Permission, error) {
	resource, action, ok := strings.Cut(name, ":")
	if !ok || resource == "" || action == "" || strings.Contains(action, ":") {
		return Permission{}, fmt.Errorf("%w: %q", ErrInvalidPermission, name)
	}
	return Permission{Resource: resource, Action: action}, nil
}

// Registry is the set of known permissions. The resources it names are the targets of
// elevated role actions.
//
//	Docs: docs/permission.md
type Registry struct {
	mu        sync.RWMutex
	perms     map[string]Permission
	resources map[string]struct{}
	frozen    bool
}

// NewRegistry creates an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		perms:     make(map[string]Permission),
		resources: make(map[string]struct{}),
	}
}

// Register adds a permission. Must be called before [Registry.Freeze].
func (r *Registry) Register(name string) error {
	p, err := Parse(name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, exists := r.perms[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePermission, name)
	}

	r.perms[name] = p
	r.resources[p.Resource] = struct{}{}
	return nil
}

// Known reports whether name was registered.
func (r *Registry) Known(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.perms[name]
	return ok
}

// Resources returns the registered resource names, sorted.
func (r *Registry) Resources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.resources))
	for res := range r.resources {
		out = append(out, res)
	}
	sort.Strings(out)
	return out
}

// Names returns every registered permission, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.perms))
	for name := range r.perms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Count returns the number of registered permissions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.perms)
}
