// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/trees/binaryheap"

	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/kvstore"
)

// CommitSpec is the user-facing metadata attached to a commit (spec.md §3
// "CommitRecord.spec"), including the merge-provenance fields merger.py
// always populates for merge commits.
type CommitSpec struct {
	User        string
	Email       string
	Message     string
	Time        time.Time
	IsMerge     bool
	MergeMaster string // branch name merged into (Merge takes branch names only)
	MergeDev    string // branch name merged from
}

// Bytes renders the canonical encoding used as the spec-bytes operand of
// the commit digest formula.
func (s CommitSpec) Bytes() []byte {
	buf := &bytes.Buffer{}
	writeUvarintBytes(buf, []byte(s.User))
	writeUvarintBytes(buf, []byte(s.Email))
	writeUvarintBytes(buf, []byte(s.Message))
	var tbuf [8]byte
	binary.BigEndian.PutUint64(tbuf[:], uint64(s.Time.UTC().UnixNano()))
	buf.Write(tbuf[:])
	writeBool(buf, s.IsMerge)
	writeUvarintBytes(buf, []byte(s.MergeMaster))
	writeUvarintBytes(buf, []byte(s.MergeDev))
	return buf.Bytes()
}

// DecodeCommitSpec parses the bytes produced by CommitSpec.Bytes.
func DecodeCommitSpec(b []byte) (CommitSpec, error) {
	r := bytes.NewReader(b)
	user, err := readUvarintBytes(r)
	if err != nil {
		return CommitSpec{}, err
	}
	email, err := readUvarintBytes(r)
	if err != nil {
		return CommitSpec{}, err
	}
	message, err := readUvarintBytes(r)
	if err != nil {
		return CommitSpec{}, err
	}
	var tbuf [8]byte
	if _, err := r.Read(tbuf[:]); err != nil {
		return CommitSpec{}, err
	}
	when := time.Unix(0, int64(binary.BigEndian.Uint64(tbuf[:]))).UTC()
	isMerge, err := readBool(r)
	if err != nil {
		return CommitSpec{}, err
	}
	master, err := readUvarintBytes(r)
	if err != nil {
		return CommitSpec{}, err
	}
	dev, err := readUvarintBytes(r)
	if err != nil {
		return CommitSpec{}, err
	}
	return CommitSpec{
		User: string(user), Email: string(email), Message: string(message),
		Time: when, IsMerge: isMerge, MergeMaster: string(master), MergeDev: string(dev),
	}, nil
}

// ComputeCommitDigest implements spec.md §3's "Commit digest = hash over
// (sorted refs bytes, sorted parents, spec bytes)". Parents are sorted by
// digest value for the hash input only; CommitRecord.Parents preserves
// primary/secondary order for display and ancestor walking.
func ComputeCommitDigest(refsBytes []byte, parents []digest.Digest, spec CommitSpec) digest.Digest {
	sorted := append([]digest.Digest(nil), parents...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Compare(sorted[j]) < 0 })

	buf := &bytes.Buffer{}
	writeUvarintBytes(buf, refsBytes)
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(sorted)))
	buf.Write(lenBuf[:n])
	for _, p := range sorted {
		buf.Write(p.Bytes())
	}
	writeUvarintBytes(buf, spec.Bytes())
	return digest.Compute(buf.Bytes())
}

func encodeParents(parents []digest.Digest) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(len(parents)))
	for _, p := range parents {
		buf.Write(p.Bytes())
	}
	return buf.Bytes()
}

func decodeParents(b []byte) ([]digest.Digest, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("store: truncated parents record")
	}
	n := int(b[0])
	if len(b) != 1+n*digest.Size {
		return nil, fmt.Errorf("store: malformed parents record")
	}
	out := make([]digest.Digest, n)
	for i := 0; i < n; i++ {
		d, err := digest.FromBytes(b[1+i*digest.Size : 1+(i+1)*digest.Size])
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

const (
	sufParents byte = 'P'
	sufSpec    byte = 'S'
	sufRefs    byte = 'R'
)

func refKey(d digest.Digest, suffix byte) []byte {
	return append(d.Bytes(), suffix)
}

// Commits is the commit DAG store, backed by the "ref" KV env (spec.md §6
// "ref/ KV env: commit digest -> (parents, spec, refs)").
type Commits struct {
	env *kvstore.Env
}

func NewCommits(env *kvstore.Env) *Commits { return &Commits{env: env} }

// Create computes and persists a new commit's three records, returning
// its digest. It does not update any branch HEAD; callers do that
// (spec.md §4.4 "Commit creation").
func (c *Commits) Create(refsBytes []byte, parents []digest.Digest, spec CommitSpec) (digest.Digest, error) {
	d := ComputeCommitDigest(refsBytes, parents, spec)
	if err := c.env.Put(refKey(d, sufParents), encodeParents(parents)); err != nil {
		return digest.Zero, wrapErr(KindTransport, err, "persist commit parents")
	}
	if err := c.env.Put(refKey(d, sufSpec), spec.Bytes()); err != nil {
		return digest.Zero, wrapErr(KindTransport, err, "persist commit spec")
	}
	if err := c.env.Put(refKey(d, sufRefs), refsBytes); err != nil {
		return digest.Zero, wrapErr(KindTransport, err, "persist commit refs")
	}
	return d, nil
}

// Exists reports whether a commit digest has a stored spec record.
func (c *Commits) Exists(d digest.Digest) (bool, error) {
	return c.env.Has(refKey(d, sufSpec))
}

func (c *Commits) Parents(d digest.Digest) ([]digest.Digest, error) {
	b, err := c.env.Get(refKey(d, sufParents))
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return nil, wrapErr(KindNotFound, ErrCommitNotFound, "commit %s", d)
		}
		return nil, wrapErr(KindTransport, err, "read commit parents")
	}
	return decodeParents(b)
}

func (c *Commits) Spec(d digest.Digest) (CommitSpec, error) {
	b, err := c.env.Get(refKey(d, sufSpec))
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return CommitSpec{}, wrapErr(KindNotFound, ErrCommitNotFound, "commit %s", d)
		}
		return CommitSpec{}, wrapErr(KindTransport, err, "read commit spec")
	}
	return DecodeCommitSpec(b)
}

func (c *Commits) Refs(d digest.Digest) ([]byte, error) {
	b, err := c.env.Get(refKey(d, sufRefs))
	if err != nil {
		if err == kvstore.ErrKeyNotFound {
			return nil, wrapErr(KindNotFound, ErrCommitNotFound, "commit %s", d)
		}
		return nil, wrapErr(KindTransport, err, "read commit refs")
	}
	return b, nil
}

func digestComparator(a, b any) int { return a.(digest.Digest).Compare(b.(digest.Digest)) }

// Ancestors performs the BFS of spec.md §4.4 "ancestors(c) = BFS over
// parent links producing {digest -> parent_set}".
func (c *Commits) Ancestors(start digest.Digest) (map[digest.Digest][]digest.Digest, error) {
	result := make(map[digest.Digest][]digest.Digest)
	seen := treeset.NewWith(digestComparator, start)
	queue := []digest.Digest{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		parents, err := c.Parents(cur)
		if err != nil {
			return nil, err
		}
		result[cur] = parents
		for _, p := range parents {
			if !seen.Contains(p) {
				seen.Add(p)
				queue = append(queue, p)
			}
		}
	}
	return result, nil
}

// CommonAncestors is the set intersection of a and b's ancestor digests
// (spec.md §4.4 "common_ancestors(a,b)").
func (c *Commits) CommonAncestors(a, b digest.Digest) (*treeset.Set, error) {
	aAnc, err := c.Ancestors(a)
	if err != nil {
		return nil, err
	}
	bAnc, err := c.Ancestors(b)
	if err != nil {
		return nil, err
	}
	common := treeset.NewWith(digestComparator)
	for d := range aAnc {
		if _, ok := bAnc[d]; ok {
			common.Add(d)
		}
	}
	return common, nil
}

// ClosestCommonAncestor picks the common ancestor with the maximum commit
// time, ties broken by lexicographic digest order (spec.md §4.4, with the
// tie-break spec.md §9 "Ancestor tie-breaking" pins for reproducibility).
// Candidates are ranked with a max-heap the same way the teacher's
// ctime commit walker orders commits by committer timestamp.
func (c *Commits) ClosestCommonAncestor(a, b digest.Digest) (digest.Digest, error) {
	common, err := c.CommonAncestors(a, b)
	if err != nil {
		return digest.Zero, err
	}
	if common.Empty() {
		return digest.Zero, newErr(KindNotFound, "no common ancestor")
	}
	type candidate struct {
		d    digest.Digest
		when time.Time
	}
	heap := binaryheap.NewWith(func(x, y any) int {
		cx, cy := x.(candidate), y.(candidate)
		if cx.when.After(cy.when) {
			return -1
		}
		if cx.when.Before(cy.when) {
			return 1
		}
		return cx.d.Compare(cy.d) // ascending digest order ⇒ lexicographically smallest floats to top on tie
	})
	for _, v := range common.Values() {
		d := v.(digest.Digest)
		spec, err := c.Spec(d)
		if err != nil {
			return digest.Zero, err
		}
		heap.Push(candidate{d: d, when: spec.Time})
	}
	top, _ := heap.Pop()
	return top.(candidate).d, nil
}

// CanFF reports spec.md §4.4 "canFF(master, dev) iff master ∈
// ancestors(dev)".
func (c *Commits) CanFF(master, dev digest.Digest) (bool, error) {
	if master == dev {
		return true, nil
	}
	anc, err := c.Ancestors(dev)
	if err != nil {
		return false, err
	}
	_, ok := anc[master]
	return ok, nil
}
