// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/pkg/store"
)

// HTTPTransport is the Transport implementation a client speaks over
// net/http against server.go's routes, grounded on the teacher's
// pkg/transport's HTTP-backed implementation: one JSON request/response
// pair per logical RPC, a bearer token on every call, and status codes
// mapped back onto this system's error Kind vocabulary rather than the
// teacher's git-specific ErrRepositoryNotFound/ErrReferenceNotExist.
type HTTPTransport struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPTransport builds a client authorized for a single operation
// (spec.md's pass-through credential pair: one token per fetch or push).
func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{BaseURL: strings.TrimSuffix(baseURL, "/"), Token: token, Client: http.DefaultClient}
}

func (h *HTTPTransport) do(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return wrapErr(store.KindInvalidArgument, err, "encode request body")
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+path, body)
	if err != nil {
		return wrapErr(store.KindTransport, err, "build request %s", path)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ProtocolHeader, ProtocolValue)
	if h.Token != "" {
		req.Header.Set("Authorization", BearerPrefix+h.Token)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return wrapErr(store.KindTransport, err, "request %s", path)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrapErr(store.KindTransport, err, "read response %s", path)
	}
	if resp.StatusCode >= 300 {
		return h.statusError(resp.StatusCode, path, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return wrapErr(store.KindCorruption, err, "decode response %s", path)
	}
	return nil
}

func (h *HTTPTransport) statusError(status int, path string, raw []byte) error {
	var ec ErrorCode
	msg := string(raw)
	if json.Unmarshal(raw, &ec) == nil && ec.Message != "" {
		msg = ec.Message
	}
	switch status {
	case http.StatusNotFound:
		return newErr(store.KindNotFound, "%s: %s", path, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return newErr(store.KindPermission, "%s: %s", path, msg)
	case http.StatusConflict:
		return newErr(store.KindStateError, "%s: %s", path, msg)
	default:
		return newErr(store.KindTransport, "%s: %d %s", path, status, msg)
	}
}

func (h *HTTPTransport) FetchBranch(ctx context.Context, branch string) (digest.Digest, error) {
	var resp branchHeadResponse
	if err := h.do(ctx, "/fetch/branch", branchHeadRequest{Branch: branch}, &resp); err != nil {
		if store.IsKind(err, store.KindNotFound) {
			return digest.Zero, nil // spec.md's first-push convention: unknown branch, not an error
		}
		return digest.Zero, err
	}
	return resp.Head, nil
}

func (h *HTTPTransport) FetchFindMissingCommits(ctx context.Context, branch string, have digest.Digest) ([]digest.Digest, error) {
	var resp digestListResponse
	if err := h.do(ctx, "/fetch/missing-commits", missingCommitsRequest{Branch: branch, Have: have}, &resp); err != nil {
		return nil, err
	}
	return resp.Digests, nil
}

func (h *HTTPTransport) FetchCommit(ctx context.Context, d digest.Digest) (CommitRecord, error) {
	var resp CommitRecord
	if err := h.do(ctx, "/fetch/commit", commitScopedRequest{Commit: d}, &resp); err != nil {
		return CommitRecord{}, err
	}
	return resp, nil
}

func (h *HTTPTransport) FetchFindMissingSchemas(ctx context.Context, commit digest.Digest) ([]digest.Digest, error) {
	var resp digestListResponse
	if err := h.do(ctx, "/fetch/missing-schemas", commitScopedRequest{Commit: commit}, &resp); err != nil {
		return nil, err
	}
	return resp.Digests, nil
}

func (h *HTTPTransport) FetchSchema(ctx context.Context, d digest.Digest) ([]byte, error) {
	var resp blobResponse
	if err := h.do(ctx, "/fetch/schema", commitScopedRequest{Commit: d}, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (h *HTTPTransport) FetchFindMissingLabels(ctx context.Context, commit digest.Digest) ([]digest.Digest, error) {
	var resp digestListResponse
	if err := h.do(ctx, "/fetch/missing-labels", commitScopedRequest{Commit: commit}, &resp); err != nil {
		return nil, err
	}
	return resp.Digests, nil
}

func (h *HTTPTransport) FetchLabel(ctx context.Context, d digest.Digest) (string, error) {
	var resp blobResponse
	if err := h.do(ctx, "/fetch/label", commitScopedRequest{Commit: d}, &resp); err != nil {
		return "", err
	}
	return string(resp.Data), nil
}

func (h *HTTPTransport) FetchFindMissingHashRecords(ctx context.Context, commit digest.Digest) ([]HashRecord, error) {
	var resp hashRecordsResponse
	if err := h.do(ctx, "/fetch/missing-hash-records", commitScopedRequest{Commit: commit}, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (h *HTTPTransport) FetchData(ctx context.Context, schema digest.Digest, digests []digest.Digest) ([]DataRecord, error) {
	var resp dataRecordsResponse
	if err := h.do(ctx, "/fetch/data", fetchDataRequest{Schema: schema, Digests: digests}, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (h *HTTPTransport) PushFindMissingCommits(ctx context.Context, branch string, tmp []CommitRecord) ([]digest.Digest, error) {
	var resp digestListResponse
	if err := h.do(ctx, "/push/missing-commits", pushMissingRequest{Branch: branch, Commits: tmp}, &resp); err != nil {
		return nil, err
	}
	return resp.Digests, nil
}

func (h *HTTPTransport) PushFindMissingSchemas(ctx context.Context, commit digest.Digest, tmp []CommitRecord) ([]digest.Digest, error) {
	var resp digestListResponse
	if err := h.do(ctx, "/push/missing-schemas", pushMissingRequest{Commits: tmp, Scope: commit}, &resp); err != nil {
		return nil, err
	}
	return resp.Digests, nil
}

func (h *HTTPTransport) PushFindMissingLabels(ctx context.Context, commit digest.Digest, tmp []CommitRecord) ([]digest.Digest, error) {
	var resp digestListResponse
	if err := h.do(ctx, "/push/missing-labels", pushMissingRequest{Commits: tmp, Scope: commit}, &resp); err != nil {
		return nil, err
	}
	return resp.Digests, nil
}

func (h *HTTPTransport) PushFindMissingHashRecords(ctx context.Context, commit digest.Digest, tmp []CommitRecord) ([]HashRecord, error) {
	var resp hashRecordsResponse
	if err := h.do(ctx, "/push/missing-hash-records", pushMissingRequest{Commits: tmp, Scope: commit}, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (h *HTTPTransport) PushSchema(ctx context.Context, d digest.Digest, raw []byte) error {
	return h.do(ctx, "/push/schema", pushBlobRequest{Digest: d, Data: raw}, nil)
}

func (h *HTTPTransport) PushLabel(ctx context.Context, d digest.Digest, value string) error {
	return h.do(ctx, "/push/label", pushBlobRequest{Digest: d, Data: []byte(value)}, nil)
}

func (h *HTTPTransport) PushCommitRecord(ctx context.Context, rec CommitRecord) error {
	return h.do(ctx, "/push/commit-record", pushCommitRecordRequest{Commit: rec}, nil)
}

func (h *HTTPTransport) PushData(ctx context.Context, schema digest.Digest, records []DataRecord) ([]digest.Digest, error) {
	var resp pushDataResponse
	if err := h.do(ctx, "/push/data", pushDataRequest{Schema: schema, Records: records}, &resp); err != nil {
		return nil, err
	}
	return resp.Persisted, nil
}

func (h *HTTPTransport) PushCommit(ctx context.Context, branch string, rec CommitRecord, expectedHead digest.Digest) error {
	err := h.do(ctx, "/push/commit", pushCommitRequest{Branch: branch, Commit: rec, ExpectedHead: expectedHead}, nil)
	if err != nil && store.IsKind(err, store.KindStateError) {
		return fmt.Errorf("%w: %s", ErrDivergedPush, err)
	}
	return err
}
