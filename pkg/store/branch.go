// SPDX-License-Identifier: Apache-2.0

package store

import (
	"sort"
	"strings"

	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/kvstore"
)

// ForceReleaseSentinel is the reserved holder uuid that always succeeds
// at releasing the writer lock regardless of who holds it (spec.md §4.4
// "release(uuid) succeeds if ... uuid == force_release_sentinel").
const ForceReleaseSentinel = "FORCE-RELEASE-0000-0000-000000000000"

const (
	branchPrefix = "branch/"
	remotePrefix = "remote/"
	writerLockKey = "writer_lock"
)

// Branches is the branch pointer, writer lock, and remote bookkeeping
// store, backed by the "branch" KV env (spec.md §6).
type Branches struct {
	env *kvstore.Env
}

func NewBranches(env *kvstore.Env) *Branches { return &Branches{env: env} }

func branchKey(name string) []byte { return []byte(branchPrefix + name) }

// Get returns a branch's current HEAD digest.
func (b *Branches) Get(name string) (digest.Digest, error) {
	v, err := b.env.Get(branchKey(name))
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return digest.Zero, wrapErr(KindNotFound, ErrBranchNotFound, "branch %q", name)
		}
		return digest.Zero, wrapErr(KindTransport, err, "read branch %q", name)
	}
	return digest.FromBytes(v)
}

// Exists reports whether a branch has been created.
func (b *Branches) Exists(name string) (bool, error) {
	return b.env.Has(branchKey(name))
}

// Set points a branch at a commit digest, creating it if absent
// (spec.md §4.4 "Update the writing branch HEAD").
func (b *Branches) Set(name string, head digest.Digest) error {
	if err := b.env.Put(branchKey(name), head.Bytes()); err != nil {
		return wrapErr(KindTransport, err, "update branch %q", name)
	}
	return nil
}

// Remove deletes a branch pointer.
func (b *Branches) Remove(name string) error {
	ok, err := b.Exists(name)
	if err != nil {
		return err
	}
	if !ok {
		return wrapErr(KindNotFound, ErrBranchNotFound, "branch %q", name)
	}
	if err := b.env.Delete(branchKey(name)); err != nil {
		return wrapErr(KindTransport, err, "remove branch %q", name)
	}
	return nil
}

// List returns every branch name in lexicographic order.
func (b *Branches) List() ([]string, error) {
	var names []string
	err := b.env.PrefixIterate([]byte(branchPrefix), func(key, _ []byte) error {
		names = append(names, strings.TrimPrefix(string(key), branchPrefix))
		return nil
	})
	if err != nil {
		return nil, wrapErr(KindTransport, err, "list branches")
	}
	sort.Strings(names)
	return names, nil
}

// AcquireWriterLock implements spec.md §4.4's single-valued writer lock
// sentinel: acquire(uuid) fails if the held uuid is non-empty and
// different from uuid.
func (b *Branches) AcquireWriterLock(holderUUID string) error {
	cur, err := b.env.Get([]byte(writerLockKey))
	if err != nil && err != kvstore.ErrKeyNotFound {
		return wrapErr(KindTransport, err, "read writer lock")
	}
	if len(cur) != 0 && string(cur) != holderUUID {
		return wrapErr(KindStateError, ErrWriterLockHeld, "writer lock held by %s", cur)
	}
	if err := b.env.Put([]byte(writerLockKey), []byte(holderUUID)); err != nil {
		return wrapErr(KindTransport, err, "acquire writer lock")
	}
	return nil
}

// ReleaseWriterLock releases the lock if held by holderUUID, or
// unconditionally if holderUUID is ForceReleaseSentinel.
func (b *Branches) ReleaseWriterLock(holderUUID string) error {
	if holderUUID == ForceReleaseSentinel {
		if err := b.env.Delete([]byte(writerLockKey)); err != nil {
			return wrapErr(KindTransport, err, "force release writer lock")
		}
		return nil
	}
	cur, err := b.env.Get([]byte(writerLockKey))
	if err != nil && err != kvstore.ErrKeyNotFound {
		return wrapErr(KindTransport, err, "read writer lock")
	}
	if string(cur) != holderUUID {
		return wrapErr(KindStateError, ErrWriterLockNotYou, "writer lock held by %s", cur)
	}
	if err := b.env.Delete([]byte(writerLockKey)); err != nil {
		return wrapErr(KindTransport, err, "release writer lock")
	}
	return nil
}

// WriterLockHolder returns the current holder uuid, or "" if the lock is
// free.
func (b *Branches) WriterLockHolder() (string, error) {
	v, err := b.env.Get([]byte(writerLockKey))
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return "", nil
		}
		return "", wrapErr(KindTransport, err, "read writer lock")
	}
	return string(v), nil
}

func remoteKey(name string) []byte { return []byte(remotePrefix + name) }

// AddRemote registers a remote address, supplementing spec.md's
// RemoteRef entity with the CRUD surface original_source/remotes.py
// exposes via the CLI's "remote add/remove/list".
func (b *Branches) AddRemote(name, address string) error {
	ok, err := b.env.Has(remoteKey(name))
	if err != nil {
		return wrapErr(KindTransport, err, "check remote %q", name)
	}
	if ok {
		return newErr(KindInvalidArgument, "remote %q already exists", name)
	}
	if err := b.env.Put(remoteKey(name), []byte(address)); err != nil {
		return wrapErr(KindTransport, err, "add remote %q", name)
	}
	return nil
}

func (b *Branches) RemoveRemote(name string) error {
	ok, err := b.env.Has(remoteKey(name))
	if err != nil {
		return wrapErr(KindTransport, err, "check remote %q", name)
	}
	if !ok {
		return wrapErr(KindNotFound, ErrRemoteNotFound, "remote %q", name)
	}
	return b.env.Delete(remoteKey(name))
}

func (b *Branches) GetRemote(name string) (RemoteRef, error) {
	v, err := b.env.Get(remoteKey(name))
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return RemoteRef{}, wrapErr(KindNotFound, ErrRemoteNotFound, "remote %q", name)
		}
		return RemoteRef{}, wrapErr(KindTransport, err, "read remote %q", name)
	}
	return RemoteRef{Name: name, Address: string(v)}, nil
}

func (b *Branches) ListRemotes() ([]RemoteRef, error) {
	var out []RemoteRef
	err := b.env.PrefixIterate([]byte(remotePrefix), func(key, value []byte) error {
		out = append(out, RemoteRef{Name: strings.TrimPrefix(string(key), remotePrefix), Address: string(value)})
		return nil
	})
	if err != nil {
		return nil, wrapErr(KindTransport, err, "list remotes")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
