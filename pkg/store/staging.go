// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"

	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/keycodec"
	"github.com/arrayvc/arrayvc/modules/kvstore"
)

var sampleSegPrefix = append([]byte("sample"), 0x00)

// Staging is the working area spec.md §4.3 describes: a KV env ("stage")
// whose keyspace mirrors the commit-ref keyspace exactly, so that a
// commit can promote it byte-for-byte and CLEAN/DIRTY can be decided by
// comparing raw tuple streams rather than reasoning about individual
// arraysets.
type Staging struct {
	env *kvstore.Env
}

func NewStaging(env *kvstore.Env) *Staging { return &Staging{env: env} }

func (s *Staging) readUint64(key []byte) (uint64, error) {
	v, err := s.env.Get(key)
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return 0, nil
		}
		return 0, err
	}
	return keycodec.DecodeUint64(v), nil
}

func (s *Staging) bump(key []byte, delta int64) error {
	cur, err := s.readUint64(key)
	if err != nil {
		return wrapErr(KindTransport, err, "read counter")
	}
	next := int64(cur) + delta
	if next < 0 {
		next = 0
	}
	return s.env.Put(key, keycodec.EncodeUint64(uint64(next)))
}

// HasArrayset reports whether name has been initialized in staging.
func (s *Staging) HasArrayset(name string) (bool, error) {
	ok, err := s.env.Has(keycodec.ArraysetSchemaKey(name))
	if err != nil {
		return false, wrapErr(KindTransport, err, "check arrayset %q", name)
	}
	return ok, nil
}

// ArraysetSchema returns the schema an arrayset was initialized with.
func (s *Staging) ArraysetSchema(name string) (Schema, error) {
	v, err := s.env.Get(keycodec.ArraysetSchemaKey(name))
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return Schema{}, wrapErr(KindNotFound, ErrArraysetMissing, "arrayset %q", name)
		}
		return Schema{}, wrapErr(KindTransport, err, "read schema for %q", name)
	}
	schema, err := DecodeSchema(v)
	if err != nil {
		return Schema{}, wrapErr(KindCorruption, err, "decode schema for %q", name)
	}
	return schema, nil
}

// GetSample returns the digest staged for one sample.
func (s *Staging) GetSample(arrayset string, key SampleKey) (digest.Digest, error) {
	v, err := s.env.Get(keycodec.ArraysetSampleKey(arrayset, key.Encode()))
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return digest.Zero, newErr(KindNotFound, "sample %s/%s not found", arrayset, key)
		}
		return digest.Zero, wrapErr(KindTransport, err, "read sample %s/%s", arrayset, key)
	}
	return digest.FromBytes(v)
}

// InitArrayset declares a new arrayset with a fixed schema (spec.md §4.3
// "init_arrayset"). Fails if the name is already in use.
func (s *Staging) InitArrayset(name string, schema Schema) error {
	exists, err := s.HasArrayset(name)
	if err != nil {
		return err
	}
	if exists {
		return newErr(KindInvalidArgument, "arrayset %q already exists", name)
	}
	if err := s.env.Put(keycodec.ArraysetSchemaKey(name), schema.Bytes()); err != nil {
		return wrapErr(KindTransport, err, "init arrayset %q", name)
	}
	if err := s.env.Put(keycodec.ArraysetSampleCountKey(name), keycodec.EncodeUint64(0)); err != nil {
		return wrapErr(KindTransport, err, "init arrayset %q", name)
	}
	if err := s.bump(keycodec.ArraysetCountKey(), 1); err != nil {
		return wrapErr(KindTransport, err, "bump arrayset count")
	}
	return nil
}

// DeleteArrayset removes an arrayset and every sample under it.
func (s *Staging) DeleteArrayset(name string) error {
	exists, err := s.HasArrayset(name)
	if err != nil {
		return err
	}
	if !exists {
		return wrapErr(KindNotFound, ErrArraysetMissing, "arrayset %q", name)
	}
	if err := s.env.DeletePrefix(keycodec.ArraysetPrefix(name)); err != nil {
		return wrapErr(KindTransport, err, "delete arrayset %q", name)
	}
	if err := s.bump(keycodec.ArraysetCountKey(), -1); err != nil {
		return wrapErr(KindTransport, err, "bump arrayset count")
	}
	return nil
}

// PutSample writes one sample's digest into an arrayset, replacing any
// existing value for the same key (spec.md §4.3 "put_sample").
func (s *Staging) PutSample(arrayset string, key SampleKey, d digest.Digest) error {
	exists, err := s.HasArrayset(arrayset)
	if err != nil {
		return err
	}
	if !exists {
		return wrapErr(KindNotFound, ErrArraysetMissing, "arrayset %q", arrayset)
	}
	fullKey := keycodec.ArraysetSampleKey(arrayset, key.Encode())
	had, err := s.env.Has(fullKey)
	if err != nil {
		return wrapErr(KindTransport, err, "check sample %s/%s", arrayset, key)
	}
	if err := s.env.Put(fullKey, d.Bytes()); err != nil {
		return wrapErr(KindTransport, err, "put sample %s/%s", arrayset, key)
	}
	if !had {
		if err := s.bump(keycodec.ArraysetSampleCountKey(arrayset), 1); err != nil {
			return wrapErr(KindTransport, err, "bump sample count for %q", arrayset)
		}
	}
	return nil
}

// DeleteSample removes one sample from an arrayset.
func (s *Staging) DeleteSample(arrayset string, key SampleKey) error {
	fullKey := keycodec.ArraysetSampleKey(arrayset, key.Encode())
	had, err := s.env.Has(fullKey)
	if err != nil {
		return wrapErr(KindTransport, err, "check sample %s/%s", arrayset, key)
	}
	if !had {
		return newErr(KindNotFound, "sample %s/%s not found", arrayset, key)
	}
	if err := s.env.Delete(fullKey); err != nil {
		return wrapErr(KindTransport, err, "delete sample %s/%s", arrayset, key)
	}
	return s.bump(keycodec.ArraysetSampleCountKey(arrayset), -1)
}

// SetMetadata writes a repository-wide key/value pair.
func (s *Staging) SetMetadata(key, value string) error {
	fullKey := keycodec.MetadataKey(key)
	had, err := s.env.Has(fullKey)
	if err != nil {
		return wrapErr(KindTransport, err, "check metadata %q", key)
	}
	if err := s.env.Put(fullKey, []byte(value)); err != nil {
		return wrapErr(KindTransport, err, "set metadata %q", key)
	}
	if !had {
		return s.bump(keycodec.MetadataCountKey(), 1)
	}
	return nil
}

// DeleteMetadata removes a metadata entry.
func (s *Staging) DeleteMetadata(key string) error {
	fullKey := keycodec.MetadataKey(key)
	had, err := s.env.Has(fullKey)
	if err != nil {
		return wrapErr(KindTransport, err, "check metadata %q", key)
	}
	if !had {
		return newErr(KindNotFound, "metadata %q not found", key)
	}
	if err := s.env.Delete(fullKey); err != nil {
		return wrapErr(KindTransport, err, "delete metadata %q", key)
	}
	return s.bump(keycodec.MetadataCountKey(), -1)
}

// Snapshot returns the raw tuple stream backing staging, for promotion
// into a commit's commit_cache env.
func (s *Staging) Snapshot() ([]kvstore.KV, error) {
	pairs, err := s.env.Snapshot()
	if err != nil {
		return nil, wrapErr(KindTransport, err, "snapshot staging")
	}
	return pairs, nil
}

// Reset rewrites staging to exactly match pairs (spec.md §4.6
// "reset_staging_area" rewinds staging to equal HEAD byte-for-byte).
func (s *Staging) Reset(pairs []kvstore.KV) error {
	if err := s.env.Reset(pairs); err != nil {
		return wrapErr(KindTransport, err, "reset staging")
	}
	return nil
}

// LoadSnapshot rewrites staging to exactly hold snap's records, used by
// merge to stage the synthesized merge result before committing it
// (spec.md §4.5's patched record set becomes the next commit's refs).
func (s *Staging) LoadSnapshot(snap *RefSnapshot) error {
	var pairs []kvstore.KV
	for _, name := range snap.sortedArraysetNames() {
		rec := snap.Arraysets[name]
		pairs = append(pairs,
			kvstore.KV{Key: keycodec.ArraysetSchemaKey(name), Value: rec.Schema.Bytes()},
			kvstore.KV{Key: keycodec.ArraysetSampleCountKey(name), Value: keycodec.EncodeUint64(uint64(len(rec.Samples)))},
		)
		for _, k := range rec.sortedSampleKeys() {
			pairs = append(pairs, kvstore.KV{
				Key:   keycodec.ArraysetSampleKey(name, []byte(k)),
				Value: rec.Samples[k].Bytes(),
			})
		}
	}
	pairs = append(pairs, kvstore.KV{Key: keycodec.ArraysetCountKey(), Value: keycodec.EncodeUint64(uint64(len(snap.Arraysets)))})
	for _, k := range snap.Metadata.sortedKeys() {
		pairs = append(pairs, kvstore.KV{Key: keycodec.MetadataKey(k), Value: []byte(snap.Metadata[k])})
	}
	pairs = append(pairs, kvstore.KV{Key: keycodec.MetadataCountKey(), Value: keycodec.EncodeUint64(uint64(len(snap.Metadata)))})
	return s.Reset(pairs)
}

// Status reports whether staging differs from head's materialized
// tuple stream. spec.md §4.3: "Dirtiness ... must be a byte-level
// comparison to preserve round-trip equality" — two KV lists compare
// equal only if they have the same length and every pair matches in
// order, since both Snapshot calls walk keys in the same ascending
// byte order.
func (s *Staging) Status(head []kvstore.KV) (dirty bool, err error) {
	cur, err := s.Snapshot()
	if err != nil {
		return false, err
	}
	if len(cur) != len(head) {
		return true, nil
	}
	for i := range cur {
		if !bytes.Equal(cur[i].Key, head[i].Key) || !bytes.Equal(cur[i].Value, head[i].Value) {
			return true, nil
		}
	}
	return false, nil
}

// ToRefSnapshot materializes staging's full keyspace into a RefSnapshot,
// the form a commit persists as its "refs" blob.
func (s *Staging) ToRefSnapshot() (*RefSnapshot, error) {
	snap := newRefSnapshot()
	err := s.env.PrefixIterate(keycodec.ArraysetsRootPrefix(), func(key, value []byte) error {
		name, rest, ok := keycodec.SplitArraysetName(key)
		if !ok {
			return nil
		}
		rec, ok := snap.Arraysets[name]
		if !ok {
			rec = newArraysetRecord(name, Schema{})
			snap.Arraysets[name] = rec
		}
		switch {
		case bytes.Equal(rest, []byte("schema")):
			schema, err := DecodeSchema(value)
			if err != nil {
				return wrapErr(KindCorruption, err, "decode schema for %q", name)
			}
			rec.Schema = schema
		case bytes.Equal(rest, []byte("count")):
			// derivable from len(rec.Samples); not needed for the snapshot.
		case bytes.HasPrefix(rest, sampleSegPrefix):
			encoded := rest[len(sampleSegPrefix):]
			d, err := digest.FromBytes(value)
			if err != nil {
				return wrapErr(KindCorruption, err, "decode sample digest in %q", name)
			}
			rec.Samples[string(encoded)] = d
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metaRoot := keycodec.MetadataRootPrefix()
	err = s.env.PrefixIterate(metaRoot, func(key, value []byte) error {
		snap.Metadata[string(key[len(metaRoot):])] = string(value)
		return nil
	})
	if err != nil {
		return nil, wrapErr(KindTransport, err, "read metadata")
	}
	return snap, nil
}
