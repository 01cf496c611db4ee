// SPDX-License-Identifier: Apache-2.0

// Package digest implements content-addressing for the store: a fixed-size
// BLAKE3 digest type used to identify tensors, schemas, commits and
// metadata values.
package digest

import (
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/zeebo/blake3"
)

// Size is the length in bytes of a digest.
const Size = 32

// Digest is an opaque content hash. Equality defines identity.
type Digest [Size]byte

// Zero is the digest with no content, used as a sentinel "no parent" /
// "no value" marker.
var Zero Digest

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Zero
}

// String renders the digest as lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Bytes returns the raw digest bytes. The wire protocol transmits digests
// as raw bytes, never hex.
func (d Digest) Bytes() []byte {
	return d[:]
}

// Compare provides a total order over digests, used to break ties when
// picking a closest common ancestor (spec: "ties broken by digest lex
// order").
func (d Digest) Compare(o Digest) int {
	for i := range d {
		if d[i] != o[i] {
			if d[i] < o[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Digest) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := FromHex(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ErrBadDigest is returned when decoding a malformed digest string.
var ErrBadDigest = errors.New("digest: malformed hex digest")

// FromHex parses a hex-encoded digest.
func FromHex(s string) (Digest, error) {
	var d Digest
	if len(s) != Size*2 {
		return d, ErrBadDigest
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, ErrBadDigest
	}
	copy(d[:], b)
	return d, nil
}

// FromBytes wraps a raw digest value, as received over the wire.
func FromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != Size {
		return d, ErrBadDigest
	}
	copy(d[:], b)
	return d, nil
}

// Compute returns the BLAKE3 digest of content.
func Compute(content []byte) Digest {
	var d Digest
	sum := blake3.Sum256(content)
	copy(d[:], sum[:])
	return d
}

// Hasher streams content into a running BLAKE3 digest, used when content is
// assembled incrementally (e.g. canonical commit bytes).
type Hasher struct {
	h *blake3.Hasher
}

// NewHasher returns a ready-to-use streaming hasher.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Sum finalizes the digest computed so far.
func (h *Hasher) Sum() Digest {
	var d Digest
	sum := h.h.Sum(nil)
	copy(d[:], sum)
	return d
}
