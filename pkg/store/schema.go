// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/keycodec"
	"github.com/arrayvc/arrayvc/modules/ndarray"
)

// Schema describes one arrayset's sample shape. Identified by its own
// content hash so identical schemas declared on different branches share
// storage (spec.md §3 "Schema" entity).
type Schema struct {
	UUID            string
	IsVariableShape bool
	MaxShape        ndarray.Shape
	DType           ndarray.DType
	IsNamedSamples  bool
}

func writeUvarintBytes(buf *bytes.Buffer, b []byte) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
	buf.Write(lenBuf[:n])
	buf.Write(b)
}

func readUvarintBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return nil, fmt.Errorf("store: truncated record: %w", err)
	}
	return b, nil
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

// Bytes renders a Schema's canonical byte encoding, used both as its hash
// preimage and as the value stored under a schema_record key.
func (s Schema) Bytes() []byte {
	buf := &bytes.Buffer{}
	writeUvarintBytes(buf, []byte(s.UUID))
	writeBool(buf, s.IsVariableShape)
	writeBool(buf, s.IsNamedSamples)
	buf.WriteByte(byte(s.DType))
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(s.MaxShape)))
	buf.Write(lenBuf[:n])
	for _, d := range s.MaxShape {
		n := binary.PutUvarint(lenBuf[:], uint64(d))
		buf.Write(lenBuf[:n])
	}
	return buf.Bytes()
}

// Hash is the content digest identifying this schema.
func (s Schema) Hash() digest.Digest { return digest.Compute(s.Bytes()) }

// DecodeSchema parses the bytes produced by Schema.Bytes.
func DecodeSchema(b []byte) (Schema, error) {
	r := bytes.NewReader(b)
	uuidB, err := readUvarintBytes(r)
	if err != nil {
		return Schema{}, err
	}
	varShape, err := readBool(r)
	if err != nil {
		return Schema{}, err
	}
	named, err := readBool(r)
	if err != nil {
		return Schema{}, err
	}
	dtByte, err := r.ReadByte()
	if err != nil {
		return Schema{}, err
	}
	rank, err := binary.ReadUvarint(r)
	if err != nil {
		return Schema{}, err
	}
	shape := make(ndarray.Shape, rank)
	for i := range shape {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return Schema{}, err
		}
		shape[i] = int64(v)
	}
	return Schema{
		UUID:            string(uuidB),
		IsVariableShape: varShape,
		IsNamedSamples:  named,
		DType:           ndarray.DType(dtByte),
		MaxShape:        shape,
	}, nil
}

// SampleKey names one sample within an arrayset: either a user-given
// string name or a sequential integer index (spec.md §3 "SampleKey").
type SampleKey struct {
	Name  string
	Seq   int64
	Named bool
}

// Encode renders the key-codec byte form used both as a KV suffix and as
// the canonical ordering key within an arrayset.
func (k SampleKey) Encode() []byte { return keycodec.EncodeSampleName(k.Name, k.Seq, k.Named) }

func (k SampleKey) String() string {
	if k.Named {
		return k.Name
	}
	return fmt.Sprintf("%d", k.Seq)
}

// ArraysetRecord is one arrayset's schema plus its sample digests
// (spec.md §3 "ArraysetRecord").
type ArraysetRecord struct {
	Name    string
	Schema  Schema
	Samples map[string]digest.Digest // keyed by SampleKey.Encode(), string-cast for map use
}

func newArraysetRecord(name string, schema Schema) *ArraysetRecord {
	return &ArraysetRecord{Name: name, Schema: schema, Samples: make(map[string]digest.Digest)}
}

// sortedSampleKeys returns this arrayset's sample keys in ascending
// byte order, matching the KV keyspace's lexicographic order.
func (a *ArraysetRecord) sortedSampleKeys() []string {
	keys := make([]string, 0, len(a.Samples))
	for k := range a.Samples {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MetadataRecord is the repository-wide key→value string map (spec.md §3
// "MetadataRecord").
type MetadataRecord map[string]string

func (m MetadataRecord) sortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RefSnapshot is the full closure of a repository's state at one instant:
// every arrayset's schema and samples, plus metadata. It is what
// Staging.Snapshot and a commit's "refs" blob both materialize (spec.md
// §3's "refs: serialized snapshot of all arrayset records + metadata at
// commit time").
type RefSnapshot struct {
	Arraysets map[string]*ArraysetRecord
	Metadata  MetadataRecord
}

func newRefSnapshot() *RefSnapshot {
	return &RefSnapshot{Arraysets: make(map[string]*ArraysetRecord), Metadata: make(MetadataRecord)}
}

func (s *RefSnapshot) sortedArraysetNames() []string {
	names := make([]string, 0, len(s.Arraysets))
	for n := range s.Arraysets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Bytes renders the canonical, order-independent encoding of a full
// snapshot: used as the "refs" blob stored in the ref env and as the
// refs-bytes operand of the commit digest formula (spec.md §3 "Commit
// digest = hash over (sorted refs bytes, sorted parents, spec bytes)").
func (s *RefSnapshot) Bytes() []byte {
	buf := &bytes.Buffer{}
	names := s.sortedArraysetNames()
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(names)))
	buf.Write(lenBuf[:n])
	for _, name := range names {
		a := s.Arraysets[name]
		writeUvarintBytes(buf, []byte(name))
		writeUvarintBytes(buf, a.Schema.Bytes())
		keys := a.sortedSampleKeys()
		n := binary.PutUvarint(lenBuf[:], uint64(len(keys)))
		buf.Write(lenBuf[:n])
		for _, k := range keys {
			writeUvarintBytes(buf, []byte(k))
			d := a.Samples[k]
			buf.Write(d.Bytes())
		}
	}
	mkeys := s.Metadata.sortedKeys()
	n = binary.PutUvarint(lenBuf[:], uint64(len(mkeys)))
	buf.Write(lenBuf[:n])
	for _, k := range mkeys {
		writeUvarintBytes(buf, []byte(k))
		writeUvarintBytes(buf, []byte(s.Metadata[k]))
	}
	return buf.Bytes()
}

// DecodeRefSnapshot parses the bytes produced by RefSnapshot.Bytes.
func DecodeRefSnapshot(b []byte) (*RefSnapshot, error) {
	r := bytes.NewReader(b)
	snap := newRefSnapshot()
	numArraysets, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < numArraysets; i++ {
		nameB, err := readUvarintBytes(r)
		if err != nil {
			return nil, err
		}
		schemaB, err := readUvarintBytes(r)
		if err != nil {
			return nil, err
		}
		schema, err := DecodeSchema(schemaB)
		if err != nil {
			return nil, err
		}
		rec := newArraysetRecord(string(nameB), schema)
		numSamples, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		for j := uint64(0); j < numSamples; j++ {
			keyB, err := readUvarintBytes(r)
			if err != nil {
				return nil, err
			}
			var dBytes [digest.Size]byte
			if _, err := r.Read(dBytes[:]); err != nil {
				return nil, fmt.Errorf("store: truncated digest: %w", err)
			}
			rec.Samples[string(keyB)] = digest.Digest(dBytes)
		}
		snap.Arraysets[rec.Name] = rec
	}
	numMeta, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < numMeta; i++ {
		kB, err := readUvarintBytes(r)
		if err != nil {
			return nil, err
		}
		vB, err := readUvarintBytes(r)
		if err != nil {
			return nil, err
		}
		snap.Metadata[string(kB)] = string(vB)
	}
	return snap, nil
}

// Branch is a named pointer to a commit digest (spec.md §3 "Branch").
type Branch struct {
	Name string
	Head digest.Digest
}

// RemoteRef names a remote repository address (spec.md §3 "RemoteRef"),
// supplemented per original_source/remotes.py's remote bookkeeping.
type RemoteRef struct {
	Name    string
	Address string
}
