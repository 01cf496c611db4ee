// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"path/filepath"
	"sync"
)

// Registry owns every named env for one repository handle. It exists so
// the repository can keep "global mutable state" as explicit fields
// (spec.md §9) instead of process-wide singletons: each Repository gets
// its own Registry, and closing the Repository closes every env it
// opened.
type Registry struct {
	root string
	mu   sync.Mutex
	envs map[string]*Env
}

// NewRegistry creates a registry rooted at dir (conventionally
// "<repo>/.store").
func NewRegistry(dir string) *Registry {
	return &Registry{root: dir, envs: make(map[string]*Env)}
}

// Open returns the named env, creating its backing file on first use.
// Calling Open twice for the same name returns the same *Env.
func (r *Registry) Open(name string) (*Env, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.envs[name]; ok {
		return e, nil
	}
	e, err := openEnv(name, filepath.Join(r.root, name+".db"))
	if err != nil {
		return nil, err
	}
	r.envs[name] = e
	return e, nil
}

// OpenNamed opens a sub-keyed env, used for the per-commit commit_cache
// envs (spec.md §6: "commit_cache/ KV envs keyed by commit digest").
func (r *Registry) OpenNamed(group, key string) (*Env, error) {
	return r.Open(filepath.Join(group, key))
}

// Close closes every env this registry has opened.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for name, e := range r.envs {
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.envs, name)
	}
	return first
}
