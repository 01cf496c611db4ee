// SPDX-License-Identifier: Apache-2.0

// Package sync implements the fetch/push wire protocol of spec.md §4.7:
// a logical RPC surface (Transport), an HTTP/JSON transport and server
// grounded on the teacher's pkg/serve/protocol and pkg/transport, and the
// missing-set discovery and transfer algorithms that drive a repository's
// fetch, fetch-data, and push operations.
package sync

import (
	"github.com/arrayvc/arrayvc/modules/digest"
)

// ProtocolVersion identifies the wire format these types encode.
const ProtocolVersion = 1

// ProtocolHeader is the HTTP header a request must carry to be routed by
// the Z1Matcher-equivalent in server.go, grounded on the teacher's
// ZETA_PROTOCOL header convention.
const ProtocolHeader = "X-Arrayvc-Protocol"

// ProtocolValue is ProtocolHeader's required value.
const ProtocolValue = "AV1"

// Operation names the capability a bearer token grants (spec.md §4.7's
// pass-through credential pair is carried as a signed operation claim,
// grounded on the teacher's protocol.Operation / BearerMD.Match).
type Operation string

const (
	Download Operation = "download"
	Upload   Operation = "upload"
)

// Allows reports whether a token issued for op permits performing want,
// mirroring the teacher's BearerMD.Match: upload implies download.
func (op Operation) Allows(want Operation) bool {
	if want == Download {
		return op == Download || op == Upload
	}
	return op == want
}

// ErrorCode is the JSON error body every non-2xx response carries, grounded
// on the teacher's protocol.ErrorCode.
type ErrorCode struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *ErrorCode) Error() string { return e.Message }

// CommitRecord is a commit's three persisted records plus its digest, the
// unit fetch and push transfer one at a time (spec.md §3 "CommitRecord").
type CommitRecord struct {
	Digest  digest.Digest   `json:"digest"`
	Parents []digest.Digest `json:"parents,omitempty"`
	Spec    []byte          `json:"spec"` // store.CommitSpec.Bytes()
	Refs    []byte          `json:"refs"` // store.RefSnapshot.Bytes()
}

// HashRecord names one sample digest and the schema it belongs to,
// transferred as an index entry only — never the backing tensor bytes
// (spec.md §4.7 "fetch_find_missing_hash_records(commit) →
// [(digest, schema_digest)] — index entries, not bytes").
type HashRecord struct {
	Digest digest.Digest `json:"digest"`
	Schema digest.Digest `json:"schema"`
}

// DataRecord carries one sample's tensor bytes plus enough shape/dtype
// metadata to reconstruct an ndarray.Array, used by fetch_data and
// push_data (spec.md §4.7).
type DataRecord struct {
	Digest digest.Digest `json:"digest"`
	Shape  []int64       `json:"shape"`
	DType  uint8         `json:"dtype"`
	Data   []byte        `json:"data"`
}

// branchHeadRequest/Response carry a plain branch lookup.
type branchHeadRequest struct {
	Branch string `json:"branch"`
}

type branchHeadResponse struct {
	Head digest.Digest `json:"head"`
}

// missingCommitsRequest carries the asking side's local knowledge: the
// newest commit it already has on this branch, or the zero digest if it
// has none (spec.md §4.7's missing-commit discovery negotiates from a
// single "have" point since branch histories here are not required to be
// rewritten or rebased).
type missingCommitsRequest struct {
	Branch string        `json:"branch"`
	Have   digest.Digest `json:"have"`
}

type digestListResponse struct {
	Digests []digest.Digest `json:"digests"`
}

type commitScopedRequest struct {
	Commit digest.Digest `json:"commit"`
}

type hashRecordsResponse struct {
	Records []HashRecord `json:"records"`
}

type blobResponse struct {
	Data []byte `json:"data"`
}

type fetchDataRequest struct {
	Schema  digest.Digest   `json:"schema"`
	Digests []digest.Digest `json:"digests"`
}

type dataRecordsResponse struct {
	Records []DataRecord `json:"records"`
}

// pushMissingRequest carries the client-built temporary ref db (spec.md
// §4.7 "the client builds a temporary ref db per missing commit and sends
// it with each push_find_missing_* so the server can compute its missing
// set authoritatively").
type pushMissingRequest struct {
	Branch  string         `json:"branch"`
	Commits []CommitRecord `json:"commits"`
	Scope   digest.Digest  `json:"scope,omitempty"` // commit digest, for schema/hash-record/label scoping
}

type pushBlobRequest struct {
	Digest digest.Digest `json:"digest"`
	Data   []byte        `json:"data"`
}

type pushDataRequest struct {
	Schema  digest.Digest `json:"schema"`
	Records []DataRecord  `json:"records"`
}

type pushDataResponse struct {
	Persisted []digest.Digest `json:"persisted"`
}

type pushCommitRecordRequest struct {
	Commit CommitRecord `json:"commit"`
}

type pushCommitRequest struct {
	Branch       string        `json:"branch"`
	Commit       CommitRecord  `json:"commit"`
	ExpectedHead digest.Digest `json:"expected_head"`
}
