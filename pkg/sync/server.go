// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/ndarray"
	"github.com/arrayvc/arrayvc/pkg/store"
)

// Server exposes one Repository over HTTP for Fetch/Push, grounded on the
// teacher's httpserver.Server: a mux.Router, a wrapped *http.Server, and
// one shared secret standing in for the teacher's per-user signature
// token lookup (spec.md's Non-goals exclude a real user/session
// database — this is a pass-through credential pair, not multi-tenant
// auth).
type Server struct {
	repo   *store.Repository
	secret []byte
	log    logrus.FieldLogger

	router *mux.Router
	srv    *http.Server
}

// NewServer wires every Transport method to an HTTP route under addr,
// each guarded by an auth middleware checking the bearer token's
// Operation claim against the route's required Operation.
func NewServer(repo *store.Repository, secret []byte, addr string, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{repo: repo, secret: secret, log: log}
	r := mux.NewRouter()
	s.router = r

	r.Handle("/fetch/branch", s.guard(Download, s.handleFetchBranch)).Methods(http.MethodPost)
	r.Handle("/fetch/missing-commits", s.guard(Download, s.handleFetchMissingCommits)).Methods(http.MethodPost)
	r.Handle("/fetch/commit", s.guard(Download, s.handleFetchCommit)).Methods(http.MethodPost)
	r.Handle("/fetch/missing-schemas", s.guard(Download, s.handleFetchMissingSchemas)).Methods(http.MethodPost)
	r.Handle("/fetch/schema", s.guard(Download, s.handleFetchSchema)).Methods(http.MethodPost)
	r.Handle("/fetch/missing-labels", s.guard(Download, s.handleFetchMissingLabels)).Methods(http.MethodPost)
	r.Handle("/fetch/label", s.guard(Download, s.handleFetchLabel)).Methods(http.MethodPost)
	r.Handle("/fetch/missing-hash-records", s.guard(Download, s.handleFetchMissingHashRecords)).Methods(http.MethodPost)
	r.Handle("/fetch/data", s.guard(Download, s.handleFetchData)).Methods(http.MethodPost)

	r.Handle("/push/missing-commits", s.guard(Upload, s.handlePushMissingCommits)).Methods(http.MethodPost)
	r.Handle("/push/missing-schemas", s.guard(Upload, s.handlePushMissingSchemas)).Methods(http.MethodPost)
	r.Handle("/push/missing-labels", s.guard(Upload, s.handlePushMissingLabels)).Methods(http.MethodPost)
	r.Handle("/push/missing-hash-records", s.guard(Upload, s.handlePushMissingHashRecords)).Methods(http.MethodPost)
	r.Handle("/push/schema", s.guard(Upload, s.handlePushSchema)).Methods(http.MethodPost)
	r.Handle("/push/label", s.guard(Upload, s.handlePushLabel)).Methods(http.MethodPost)
	r.Handle("/push/data", s.guard(Upload, s.handlePushData)).Methods(http.MethodPost)
	r.Handle("/push/commit-record", s.guard(Upload, s.handlePushCommitRecord)).Methods(http.MethodPost)
	r.Handle("/push/commit", s.guard(Upload, s.handlePushCommit)).Methods(http.MethodPost)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  90 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving requests until the server is closed.
func (s *Server) ListenAndServe() error { return s.srv.ListenAndServe() }

// Close shuts the HTTP server down without interrupting in-flight
// requests past ctx's deadline.
func (s *Server) Close(ctx context.Context) error { return s.srv.Shutdown(ctx) }

// guard wraps handler with the protocol header check and bearer-token
// Operation authorization every route needs (spec.md §4.7 "Permission
// denied is surfaced separately from other transport errors").
func (s *Server) guard(want Operation, handler func(w http.ResponseWriter, r *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(ProtocolHeader) != ProtocolValue {
			writeError(w, http.StatusBadRequest, "unrecognized protocol")
			return
		}
		tok, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := ParseToken(s.secret, tok)
		if err != nil || !claims.Allows(want) {
			writeError(w, http.StatusForbidden, "permission denied")
			return
		}
		handler(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorCode{Code: status, Message: msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

// writeStoreError maps a *store.Error's Kind onto an HTTP status that a
// client's statusError translates back. NotFound, Permission and
// StateError survive the round trip; Conflict arrives as StateError, and
// every other Kind arrives as Transport.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case store.IsKind(err, store.KindNotFound):
		status = http.StatusNotFound
	case store.IsKind(err, store.KindPermission):
		status = http.StatusForbidden
	case store.IsKind(err, store.KindStateError), store.IsKind(err, store.KindConflict):
		status = http.StatusConflict
	case store.IsKind(err, store.KindInvalidArgument):
		status = http.StatusBadRequest
	}
	writeError(w, status, err.Error())
}

func (s *Server) handleFetchBranch(w http.ResponseWriter, r *http.Request) {
	var req branchHeadRequest
	if !s.decode(w, r, &req) {
		return
	}
	head, err := s.repo.Branches.Get(req.Branch)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, branchHeadResponse{Head: head})
}

func (s *Server) handleFetchMissingCommits(w http.ResponseWriter, r *http.Request) {
	var req missingCommitsRequest
	if !s.decode(w, r, &req) {
		return
	}
	head, err := s.repo.Branches.Get(req.Branch)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	digests, err := missingCommits(s.repo.Commits, head, req.Have)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, digestListResponse{Digests: digests})
}

func (s *Server) handleFetchCommit(w http.ResponseWriter, r *http.Request) {
	var req commitScopedRequest
	if !s.decode(w, r, &req) {
		return
	}
	spec, err := s.repo.Commits.Spec(req.Commit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	parents, err := s.repo.Commits.Parents(req.Commit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	refs, err := s.repo.Commits.Refs(req.Commit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, CommitRecord{Digest: req.Commit, Parents: parents, Spec: spec.Bytes(), Refs: refs})
}

func (s *Server) snapshotFor(w http.ResponseWriter, commit digest.Digest) (*store.RefSnapshot, bool) {
	refs, err := s.repo.Commits.Refs(commit)
	if err != nil {
		s.writeStoreError(w, err)
		return nil, false
	}
	snap, err := store.DecodeRefSnapshot(refs)
	if err != nil {
		s.writeStoreError(w, wrapErr(store.KindCorruption, err, "decode refs for commit %s", commit))
		return nil, false
	}
	return snap, true
}

func (s *Server) handleFetchMissingSchemas(w http.ResponseWriter, r *http.Request) {
	var req commitScopedRequest
	if !s.decode(w, r, &req) {
		return
	}
	snap, ok := s.snapshotFor(w, req.Commit)
	if !ok {
		return
	}
	writeJSON(w, digestListResponse{Digests: commitSchemaDigests(snap)})
}

func (s *Server) handleFetchSchema(w http.ResponseWriter, r *http.Request) {
	var req commitScopedRequest
	if !s.decode(w, r, &req) {
		return
	}
	schema, err := s.repo.Schemas.Get(req.Commit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, blobResponse{Data: schema.Bytes()})
}

func (s *Server) handleFetchMissingLabels(w http.ResponseWriter, r *http.Request) {
	var req commitScopedRequest
	if !s.decode(w, r, &req) {
		return
	}
	snap, ok := s.snapshotFor(w, req.Commit)
	if !ok {
		return
	}
	writeJSON(w, digestListResponse{Digests: commitLabelDigests(snap)})
}

func (s *Server) handleFetchLabel(w http.ResponseWriter, r *http.Request) {
	var req commitScopedRequest
	if !s.decode(w, r, &req) {
		return
	}
	value, err := s.repo.Labels.Get(req.Commit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, blobResponse{Data: []byte(value)})
}

func (s *Server) handleFetchMissingHashRecords(w http.ResponseWriter, r *http.Request) {
	var req commitScopedRequest
	if !s.decode(w, r, &req) {
		return
	}
	snap, ok := s.snapshotFor(w, req.Commit)
	if !ok {
		return
	}
	writeJSON(w, hashRecordsResponse{Records: commitHashRecords(snap)})
}

// fetchDataBatchLimit bounds how many samples one fetch_data response
// carries, forcing a large transfer to page rather than buffer an
// unbounded batch of tensor bytes in memory at once.
const fetchDataBatchLimit = 64

func (s *Server) handleFetchData(w http.ResponseWriter, r *http.Request) {
	var req fetchDataRequest
	if !s.decode(w, r, &req) {
		return
	}
	schema, err := s.repo.Schemas.Get(req.Schema)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	var records []DataRecord
	for _, d := range req.Digests {
		if len(records) >= fetchDataBatchLimit {
			break
		}
		arr, err := s.repo.ReadSampleByDigest(schema, d)
		if err != nil {
			if store.IsKind(err, store.KindNotFound) {
				continue // not materialized on this server either; left out of the response
			}
			s.writeStoreError(w, err)
			return
		}
		records = append(records, DataRecord{Digest: d, Shape: []int64(arr.Shape), DType: uint8(arr.DType), Data: arr.Data})
	}
	writeJSON(w, dataRecordsResponse{Records: records})
}

func (s *Server) handlePushMissingCommits(w http.ResponseWriter, r *http.Request) {
	var req pushMissingRequest
	if !s.decode(w, r, &req) {
		return
	}
	digests, err := pushMissingCommits(s.repo, req.Commits)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, digestListResponse{Digests: digests})
}

func (s *Server) handlePushMissingSchemas(w http.ResponseWriter, r *http.Request) {
	var req pushMissingRequest
	if !s.decode(w, r, &req) {
		return
	}
	digests, err := pushMissingSchemas(s.repo, req.Scope, req.Commits)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, digestListResponse{Digests: digests})
}

func (s *Server) handlePushMissingLabels(w http.ResponseWriter, r *http.Request) {
	var req pushMissingRequest
	if !s.decode(w, r, &req) {
		return
	}
	digests, err := pushMissingLabels(s.repo, req.Scope, req.Commits)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, digestListResponse{Digests: digests})
}

func (s *Server) handlePushMissingHashRecords(w http.ResponseWriter, r *http.Request) {
	var req pushMissingRequest
	if !s.decode(w, r, &req) {
		return
	}
	records, err := pushMissingHashRecords(s.repo, req.Scope, req.Commits)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, hashRecordsResponse{Records: records})
}

func (s *Server) handlePushSchema(w http.ResponseWriter, r *http.Request) {
	var req pushBlobRequest
	if !s.decode(w, r, &req) {
		return
	}
	schema, err := store.DecodeSchema(req.Data)
	if err != nil {
		s.writeStoreError(w, wrapErr(store.KindInvalidArgument, err, "decode pushed schema"))
		return
	}
	if _, err := s.repo.Schemas.Put(schema); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (s *Server) handlePushLabel(w http.ResponseWriter, r *http.Request) {
	var req pushBlobRequest
	if !s.decode(w, r, &req) {
		return
	}
	if _, err := s.repo.Labels.Put(string(req.Data)); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (s *Server) handlePushData(w http.ResponseWriter, r *http.Request) {
	var req pushDataRequest
	if !s.decode(w, r, &req) {
		return
	}
	schema, err := s.repo.Schemas.Get(req.Schema)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	var persisted []digest.Digest
	for _, rec := range req.Records {
		shape := ndarray.Shape(rec.Shape)
		arr, err := ndarray.NewFromBytes(shape, ndarray.DType(rec.DType), rec.Data)
		if err != nil {
			s.writeStoreError(w, wrapErr(store.KindInvalidArgument, err, "decode pushed sample %s", rec.Digest))
			return
		}
		// MaterializeSample also registers the hash index entry: there is
		// no separate "push hash records" step, since nothing is true of
		// a digest here until its bytes have actually landed.
		if err := s.repo.MaterializeSample(schema, rec.Digest, arr); err != nil {
			s.writeStoreError(w, err)
			return
		}
		persisted = append(persisted, rec.Digest)
	}
	writeJSON(w, pushDataResponse{Persisted: persisted})
}

// createCommitIfMissing idempotently materializes one CommitRecord into
// the commit DAG, used by both handlePushCommitRecord (intermediate
// commits in a multi-commit push) and handlePushCommit (the final,
// branch-advancing one, which may arrive having already been created by
// a prior handlePushCommitRecord call).
func (s *Server) createCommitIfMissing(rec CommitRecord) error {
	has, err := s.repo.Commits.Exists(rec.Digest)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	spec, err := store.DecodeCommitSpec(rec.Spec)
	if err != nil {
		return wrapErr(store.KindInvalidArgument, err, "decode pushed commit spec")
	}
	_, err = s.repo.Commits.Create(rec.Refs, rec.Parents, spec)
	return err
}

func (s *Server) handlePushCommitRecord(w http.ResponseWriter, r *http.Request) {
	var req pushCommitRecordRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.createCommitIfMissing(req.Commit); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

func (s *Server) handlePushCommit(w http.ResponseWriter, r *http.Request) {
	var req pushCommitRequest
	if !s.decode(w, r, &req) {
		return
	}
	currentHead, err := s.repo.Branches.Get(req.Branch)
	if err != nil {
		currentHead = digest.Zero // unknown branch: first push creates it
	}
	if currentHead != req.ExpectedHead {
		s.writeStoreError(w, wrapErr(store.KindStateError, ErrDivergedPush, "push %q", req.Branch))
		return
	}
	if err := s.createCommitIfMissing(req.Commit); err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.repo.Branches.Set(req.Branch, req.Commit.Digest); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}
