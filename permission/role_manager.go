package permission

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrRoleManagerFrozen is returned by RegisterRole after Freeze.
	ErrRoleManagerFrozen = errors.New("role manager frozen")
	// ErrUnknownRole is returned by Freeze when a role includes an unregistered role.
	ErrUnknownRole = errors.New("unknown role")
)

// Role declares what a role name grants.
type Role struct {
	Name string
	// Permissions are granted as-is and must be registered.
	Permissions []string
	// Includes names roles whose full expansion this role also receives.
	Includes []string
	// ElevatedActions are granted on every registered resource.
	ElevatedActions []string
}

// RoleManager holds role definitions and expands them into permission sets.
//
// Roles are registered during initialization and frozen before use; after Freeze the
// manager is read-only and Expand is safe for concurrent use.
type RoleManager struct {
	registry *Registry

	mu       sync.RWMutex
	roles    map[string]Role
	expanded map[string][]string
	frozen   bool
}

// NewRoleManager creates a [RoleManager] validating permissions against registry.
func NewRoleManager(registry *Registry) *RoleManager {
	return &RoleManager{
		registry: registry,
		roles:    make(map[string]Role),
	}
}

// RegisterRole adds a role definition.
func (rm *RoleManager) RegisterRole(role Role) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return ErrRoleManagerFrozen
	}
	if role.Name == "" {
		return errors.New("role name empty")
	}
	if strings.Contains(role.Name, ",") {
		return fmt.Errorf("role name contains comma: %s", role.Name)
	}
	if _, exists := rm.roles[role.Name]; exists {
		return fmt.Errorf("role already registered: %s", role.Name)
	}
	for _, perm := range role.Permissions {
		if !rm.registry.Known(perm) {
			return fmt.Errorf("permission not registered: %s", perm)
		}
	}
	for _, action := range role.ElevatedActions {
		if action == "" {
			return fmt.Errorf("role %s: empty elevated action", role.Name)
		}
	}

	rm.roles[role.Name] = role
	return nil
}

// Freeze validates includes, precomputes every role's expansion, and makes the manager
// read-only. Include cycles are allowed; each role is visited once.
func (rm *RoleManager) Freeze() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.frozen {
		return nil
	}
	for _, role := range rm.roles {
		for _, inc := range role.Includes {
			if _, ok := rm.roles[inc]; !ok {
				return fmt.Errorf("%w: %s included by %s", ErrUnknownRole, inc, role.Name)
			}
		}
	}

	resources := rm.registry.Resources()
	rm.expanded = make(map[string][]string, len(rm.roles))
	for name := range rm.roles {
		set := make(map[string]struct{})
		rm.collect(name, resources, set, make(map[string]bool))
		rm.expanded[name] = sortedKeys(set)
	}
	rm.frozen = true
	return nil
}

func (rm *RoleManager) collect(name string, resources []string, into map[string]struct{}, seen map[string]bool) {
	if seen[name] {
		return
	}
	seen[name] = true

	role := rm.roles[name]
	for _, perm := range role.Permissions {
		into[perm] = struct{}{}
	}
	for _, action := range role.ElevatedActions {
		for _, res := range resources {
			into[Permission{Resource: res, Action: action}.String()] = struct{}{}
		}
	}
	for _, inc := range role.Includes {
		rm.collect(inc, resources, into, seen)
	}
}

// Expand returns the sorted permission list of one role. Unknown roles, and any role
// before Freeze, yield false.
func (rm *RoleManager) Expand(name string) ([]string, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	perms, ok := rm.expanded[name]
	return perms, ok
}

// Frozen reports whether Freeze has completed.
func (rm *RoleManager) Frozen() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.frozen
}

// Count returns the number of registered roles.
func (rm *RoleManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.roles)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
