// SPDX-License-Identifier: Apache-2.0

// Package kvstore wraps named, transactional, ordered KV stores (one
// bbolt.DB per env) behind the small interface spec.md §1 assumes:
// "a transactional ordered KV store with prefix iteration and
// putmulti(append=true) bulk-load". The repository never reaches for
// bbolt directly; every other package goes through an *Env.
package kvstore

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

var dataBucket = []byte("data")

// Env is one named transactional KV store, backed by a single bbolt
// database file holding one bucket ("data"). bbolt already serializes
// writers per file, which is what gives us "at most one open write txn
// per env" for free; Registry adds the bookkeeping that hands back the
// same *Env when a name is opened twice from one process, and closes
// every env it opened. Read snapshots are not tracked: each read runs in
// its own bbolt View transaction that ends when the call returns.
type Env struct {
	name string
	path string
	db   *bbolt.DB
}

func openEnv(name, path string) (*Env, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(dataBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Env{name: name, path: path, db: db}, nil
}

// Name returns the env's registry name.
func (e *Env) Name() string { return e.name }

// Close releases the underlying database file.
func (e *Env) Close() error {
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

// Get reads one value. Returns ErrKeyNotFound if absent.
func (e *Env) Get(key []byte) ([]byte, error) {
	if e.db == nil {
		return nil, ErrClosed
	}
	var out []byte
	err := e.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(dataBucket).Get(key)
		if v == nil {
			return ErrKeyNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Has reports whether key exists.
func (e *Env) Has(key []byte) (bool, error) {
	_, err := e.Get(key)
	if err == ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Put writes one key/value pair in its own transaction.
func (e *Env) Put(key, value []byte) error {
	if e.db == nil {
		return ErrClosed
	}
	return e.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(dataBucket).Put(key, value)
	})
}

// Delete removes one key. No error if absent (idempotent, matching
// teacher's ReferenceRemove style).
func (e *Env) Delete(key []byte) error {
	if e.db == nil {
		return ErrClosed
	}
	return e.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(dataBucket).Delete(key)
	})
}

// KV is one key/value pair, used by bulk load and snapshot iteration.
type KV struct {
	Key   []byte
	Value []byte
}

// BulkLoad writes many pairs in a single write transaction. When append is
// true, pairs must already be in ascending key order: this is the
// equivalent of the assumed `putmulti(append=true)` primitive, and lets
// bbolt use its sequential-fill fast path instead of re-balancing the
// B+tree per insert.
func (e *Env) BulkLoad(pairs []KV, append bool) error {
	if e.db == nil {
		return ErrClosed
	}
	if append {
		sorted := sort.SliceIsSorted(pairs, func(i, j int) bool {
			return bytes.Compare(pairs[i].Key, pairs[j].Key) < 0
		})
		if !sorted {
			pairs = append2(pairs)
		}
	}
	return e.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(dataBucket)
		if append {
			b.FillPercent = 0.9
		}
		for _, kv := range pairs {
			if err := b.Put(kv.Key, kv.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

func append2(pairs []KV) []KV {
	out := append([]KV(nil), pairs...)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out
}

// PrefixIterate calls fn for every key with the given prefix, in
// ascending key order, within one read snapshot.
func (e *Env) PrefixIterate(prefix []byte, fn func(key, value []byte) error) error {
	if e.db == nil {
		return ErrClosed
	}
	return e.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(dataBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeletePrefix removes every key with the given prefix.
func (e *Env) DeletePrefix(prefix []byte) error {
	if e.db == nil {
		return ErrClosed
	}
	return e.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(dataBucket)
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Snapshot returns every key/value pair in ascending key order, the byte
// stream staging's CLEAN/DIRTY check and commit promotion both operate
// over.
func (e *Env) Snapshot() ([]KV, error) {
	if e.db == nil {
		return nil, ErrClosed
	}
	var out []KV
	err := e.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(dataBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			out = append(out, KV{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)})
		}
		return nil
	})
	return out, err
}

// Reset replaces the entire contents of the env with pairs, in one write
// transaction (used by reset_staging_area to rewrite staging to equal
// HEAD byte-for-byte).
func (e *Env) Reset(pairs []KV) error {
	if e.db == nil {
		return ErrClosed
	}
	return e.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(dataBucket); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(dataBucket)
		if err != nil {
			return err
		}
		for _, kv := range pairs {
			if err := b.Put(kv.Key, kv.Value); err != nil {
				return err
			}
		}
		return nil
	})
}
