// SPDX-License-Identifier: Apache-2.0

package store

import (
	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/kvstore"
)

// Labels is the content-addressed metadata-value store backed by the
// "label" KV env (spec.md §6 "label/ KV env: metadata digest -> bytes").
// MetadataRecord itself is a plain key->value-string map (spec.md §3);
// Labels exists alongside it purely so sync has a digest-addressed,
// deduplicated object to enumerate and transfer per value, the same way
// HashIndex does for sample bytes. A commit populates it from the
// metadata strings in its RefSnapshot; nothing else needs to read
// through it for local reads, which go straight to the ref snapshot.
type Labels struct {
	env *kvstore.Env
}

func NewLabels(env *kvstore.Env) *Labels { return &Labels{env: env} }

// Put stores value under its content digest, idempotently, and returns
// that digest.
func (l *Labels) Put(value string) (digest.Digest, error) {
	d := digest.Compute([]byte(value))
	ok, err := l.env.Has(d.Bytes())
	if err != nil {
		return digest.Zero, wrapErr(KindTransport, err, "check label %s", d)
	}
	if ok {
		return d, nil
	}
	if err := l.env.Put(d.Bytes(), []byte(value)); err != nil {
		return digest.Zero, wrapErr(KindTransport, err, "put label %s", d)
	}
	return d, nil
}

// Get resolves a label digest back to its string value.
func (l *Labels) Get(d digest.Digest) (string, error) {
	v, err := l.env.Get(d.Bytes())
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return "", newErr(KindNotFound, "label %s not found", d)
		}
		return "", wrapErr(KindTransport, err, "read label %s", d)
	}
	return string(v), nil
}

// Has reports whether a label digest is already stored.
func (l *Labels) Has(d digest.Digest) (bool, error) {
	ok, err := l.env.Has(d.Bytes())
	if err != nil {
		return false, wrapErr(KindTransport, err, "check label %s", d)
	}
	return ok, nil
}

// PutSnapshot registers every metadata value in snap under its digest,
// called at commit time so the label store stays in sync with refs.
func (l *Labels) PutSnapshot(snap *RefSnapshot) error {
	for _, v := range snap.Metadata {
		if _, err := l.Put(v); err != nil {
			return err
		}
	}
	return nil
}
