package wire

import (
	"context"
	"sync"

	"github.com/relaydb/wire/auth"
)

// StaticRoles is the simplest auth.Roles implementation: an in-memory,
// mutex-guarded map of role credentials configured up front.
type StaticRoles struct {
	mu    sync.RWMutex
	roles map[string]auth.RoleCredentials
}

// NewStaticRoles constructs a StaticRoles populated from the given map.
func NewStaticRoles(roles map[string]auth.RoleCredentials) *StaticRoles {
	r := &StaticRoles{roles: make(map[string]auth.RoleCredentials, len(roles))}
	for k, v := range roles {
		r.roles[k] = v
	}
	return r
}

// Lookup implements auth.Roles.
func (r *StaticRoles) Lookup(ctx context.Context, username string) (auth.RoleCredentials, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	creds, ok := r.roles[username]
	return creds, ok
}

// Set adds or replaces a role's stored credentials.
func (r *StaticRoles) Set(username string, creds auth.RoleCredentials) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roles == nil {
		r.roles = map[string]auth.RoleCredentials{}
	}
	r.roles[username] = creds
}
