// SPDX-License-Identifier: Apache-2.0

package store

import (
	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/kvstore"
)

// locationRecord is the value stored per digest: the backend format code
// plus its encoded BackendLocation (spec.md §4.2 "Digest -> (backend_code,
// location) mapping").
type locationRecord struct {
	FormatCode string
	Location   []byte // backend-specific encoded location, e.g. chunked.Location.Encode()
}

func encodeLocationRecord(r locationRecord) []byte {
	buf := make([]byte, 0, 2+len(r.Location))
	buf = append(buf, r.FormatCode...)
	buf = append(buf, ':')
	buf = append(buf, r.Location...)
	return buf
}

func decodeLocationRecord(b []byte) locationRecord {
	if len(b) < 3 {
		return locationRecord{Location: b}
	}
	return locationRecord{FormatCode: string(b[:2]), Location: b[3:]}
}

// HashIndex is the digest -> location mapping plus the "pending in
// staging" set spec.md §4.2 describes, backed by the "hash" and
// "stagehash" KV envs.
type HashIndex struct {
	hash      *kvstore.Env
	stagehash *kvstore.Env
}

func NewHashIndex(hash, stagehash *kvstore.Env) *HashIndex {
	return &HashIndex{hash: hash, stagehash: stagehash}
}

// Put records a digest's location and marks it pending in staging until
// the next commit (or clear_stage).
func (h *HashIndex) Put(d digest.Digest, formatCode string, encodedLocation []byte) error {
	rec := encodeLocationRecord(locationRecord{FormatCode: formatCode, Location: encodedLocation})
	if err := h.hash.Put(d.Bytes(), rec); err != nil {
		return wrapErr(KindTransport, err, "put hash index entry %s", d)
	}
	if err := h.stagehash.Put(d.Bytes(), nil); err != nil {
		return wrapErr(KindTransport, err, "mark digest %s pending", d)
	}
	return nil
}

// Get resolves a digest to its backend format code and encoded location.
func (h *HashIndex) Get(d digest.Digest) (formatCode string, encodedLocation []byte, err error) {
	v, err := h.hash.Get(d.Bytes())
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return "", nil, wrapErr(KindNotFound, ErrDigestNotFound, "digest %s", d)
		}
		return "", nil, wrapErr(KindTransport, err, "read hash index entry %s", d)
	}
	rec := decodeLocationRecord(v)
	return rec.FormatCode, rec.Location, nil
}

// Has reports whether a digest is known to the hash index.
func (h *HashIndex) Has(d digest.Digest) (bool, error) {
	ok, err := h.hash.Has(d.Bytes())
	if err != nil {
		return false, wrapErr(KindTransport, err, "check hash index entry")
	}
	return ok, nil
}

// ListAll returns every known digest, in ascending byte order.
func (h *HashIndex) ListAll() ([]digest.Digest, error) {
	var out []digest.Digest
	err := h.hash.PrefixIterate(nil, func(key, _ []byte) error {
		d, err := digest.FromBytes(key)
		if err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	if err != nil {
		return nil, wrapErr(KindTransport, err, "list hash index")
	}
	return out, nil
}

// ListPending returns every digest added since the last clear_stage —
// the set the stage sweep in ResetStagingArea consults. Push discovery
// does not use it; it walks commit ancestry instead.
func (h *HashIndex) ListPending() ([]digest.Digest, error) {
	var out []digest.Digest
	err := h.stagehash.PrefixIterate(nil, func(key, _ []byte) error {
		d, err := digest.FromBytes(key)
		if err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	if err != nil {
		return nil, wrapErr(KindTransport, err, "list pending digests")
	}
	return out, nil
}

// ClearStage empties the pending set after a successful commit.
func (h *HashIndex) ClearStage() error {
	if err := h.stagehash.DeletePrefix(nil); err != nil {
		return wrapErr(KindTransport, err, "clear stage hash index")
	}
	return nil
}
