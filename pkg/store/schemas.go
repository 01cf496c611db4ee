// SPDX-License-Identifier: Apache-2.0

package store

import (
	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/kvstore"
)

// Schemas is the content-addressed schema registry backed by the
// "schema" KV env: schema hash -> canonical schema bytes. A Schema already
// carries its own digest (schema.go's Hash method); this store exists so
// sync's missing-schema discovery can ask "does this repository already
// know schema X" directly, the same way Labels answers that question for
// metadata values and HashIndex answers it for sample bytes, without
// replaying every commit's RefSnapshot.
type Schemas struct {
	env *kvstore.Env
}

func NewSchemas(env *kvstore.Env) *Schemas { return &Schemas{env: env} }

// Put stores schema under its own hash, idempotently, and returns it.
func (s *Schemas) Put(schema Schema) (digest.Digest, error) {
	d := schema.Hash()
	ok, err := s.env.Has(d.Bytes())
	if err != nil {
		return digest.Zero, wrapErr(KindTransport, err, "check schema %s", d)
	}
	if ok {
		return d, nil
	}
	if err := s.env.Put(d.Bytes(), schema.Bytes()); err != nil {
		return digest.Zero, wrapErr(KindTransport, err, "put schema %s", d)
	}
	return d, nil
}

// Get resolves a schema digest back to the Schema it identifies.
func (s *Schemas) Get(d digest.Digest) (Schema, error) {
	v, err := s.env.Get(d.Bytes())
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return Schema{}, wrapErr(KindNotFound, ErrSchemaNotFound, "schema %s", d)
		}
		return Schema{}, wrapErr(KindTransport, err, "read schema %s", d)
	}
	return DecodeSchema(v)
}

// Has reports whether a schema digest is already known locally.
func (s *Schemas) Has(d digest.Digest) (bool, error) {
	ok, err := s.env.Has(d.Bytes())
	if err != nil {
		return false, wrapErr(KindTransport, err, "check schema %s", d)
	}
	return ok, nil
}

// PutSnapshot registers every arrayset's schema in snap, called at commit
// time so the schema store stays in sync with refs.
func (s *Schemas) PutSnapshot(snap *RefSnapshot) error {
	for _, rec := range snap.Arraysets {
		if _, err := s.Put(rec.Schema); err != nil {
			return err
		}
	}
	return nil
}
