package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"scriptorium/internal/auth"
	"scriptorium/internal/compare"
	"scriptorium/internal/config"
	"scriptorium/internal/lock"
	"scriptorium/internal/search"
)

func bearerFor(t *testing.T, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:  "user-1",
		Name: "Avery",
		Role: role,
		JTI:  "jti-1",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return "Bearer " + token
}

func serve(t *testing.T, svc *Service, method, path, body, authorization string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	NewHTTPServer(svc, "*", nil).Handler().ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, payload
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, payload map[string]any, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
	if code != "" && payload["code"] != code {
		t.Fatalf("expected code %s, got %v", code, payload["code"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	rr, payload := serve(t, newTestService(twoDrafts()), http.MethodGet, "/api/health", "", "")
	expectStatus(t, rr, payload, http.StatusOK, "")
	if payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload["ok"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected generated X-Request-ID header")
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected CORS origin *, got %q", got)
	}
}

func TestReadyEndpoint(t *testing.T) {
	fs, fc := twoDrafts()
	svc := newTestService(fs, fc)

	rr, payload := serve(t, svc, http.MethodGet, "/api/ready", "", "")
	expectStatus(t, rr, payload, http.StatusOK, "")
	if payload["status"] != "ready" {
		t.Fatalf("expected status ready, got %v", payload["status"])
	}

	fs.pingFn = func(context.Context) error { return errors.New("connection refused") }
	rr, payload = serve(t, svc, http.MethodGet, "/api/ready", "", "")
	expectStatus(t, rr, payload, http.StatusServiceUnavailable, "")
	checks, _ := payload["checks"].(map[string]any)
	database, _ := checks["database"].(map[string]any)
	if payload["ok"] != false || database["status"] != "error" || database["error"] != "connection refused" {
		t.Fatalf("unexpected readiness payload %v", payload)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()
	NewHTTPServer(newTestService(twoDrafts()), "*", nil).Handler().ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	svc := newTestService(twoDrafts())

	rr, payload := serve(t, svc, http.MethodPost, "/api/compare/match", `{}`, "")
	expectStatus(t, rr, payload, http.StatusUnauthorized, "UNAUTHORIZED")

	rr, payload = serve(t, svc, http.MethodPost, "/api/compare/match", `{}`, "Bearer not-a-token")
	expectStatus(t, rr, payload, http.StatusUnauthorized, "UNAUTHORIZED")

	expired, err := auth.IssueToken([]byte(testSecret), auth.Claims{Sub: "user-1", JTI: "jti-1", Exp: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	rr, payload = serve(t, svc, http.MethodGet, "/api/search?q=storm", "", "Bearer "+expired)
	expectStatus(t, rr, payload, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestCompareMatchRoute(t *testing.T) {
	rr, payload := serve(t, newTestService(twoDrafts()), http.MethodPost, "/api/compare/match",
		`{"manuscriptIdA":"man_a","manuscriptIdB":"man_b"}`, bearerFor(t, "viewer"))
	expectStatus(t, rr, payload, http.StatusOK, "")

	pairs, _ := payload["pairs"].([]any)
	if len(pairs) != 3 {
		t.Fatalf("expected 3 pairs, got %v", payload["pairs"])
	}
	first, _ := pairs[0].(map[string]any)
	if first["method"] != string(compare.MethodExactTitle) {
		t.Fatalf("unexpected first pair %v", first)
	}
	manuscriptA, _ := payload["manuscriptA"].(map[string]any)
	if manuscriptA["id"] != "man_a" || manuscriptA["title"] != "Draft One" {
		t.Fatalf("unexpected manuscriptA %v", manuscriptA)
	}
}

func TestCompareMatchRouteErrors(t *testing.T) {
	svc := newTestService(twoDrafts())
	viewer := bearerFor(t, "viewer")

	rr, payload := serve(t, svc, http.MethodPost, "/api/compare/match", `{"manuscriptIdA":`, viewer)
	expectStatus(t, rr, payload, http.StatusBadRequest, "INVALID_BODY")

	rr, payload = serve(t, svc, http.MethodPost, "/api/compare/match", `{"manuscriptIdA":"man_a"}`, viewer)
	expectStatus(t, rr, payload, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	rr, payload = serve(t, svc, http.MethodPost, "/api/compare/match", `{"manuscriptIdA":"man_a","manuscriptIdB":"man_x"}`, viewer)
	expectStatus(t, rr, payload, http.StatusNotFound, "NOT_FOUND")
}

func TestCompareDiffRoute(t *testing.T) {
	svc := newTestService(twoDrafts())
	viewer := bearerFor(t, "viewer")

	rr, payload := serve(t, svc, http.MethodPost, "/api/compare/diff",
		`{"manuscriptIdA":"man_a","manuscriptIdB":"man_b","pairIndex":0}`, viewer)
	expectStatus(t, rr, payload, http.StatusOK, "")
	if payload["pairIndex"] != float64(0) || payload["wordCountA"] != float64(5) || payload["wordCountB"] != float64(6) {
		t.Fatalf("unexpected diff payload %v", payload)
	}
	if changes, _ := payload["changes"].([]any); len(changes) == 0 {
		t.Fatalf("expected changes, got %v", payload["changes"])
	}

	rr, payload = serve(t, svc, http.MethodPost, "/api/compare/diff",
		`{"manuscriptIdA":"man_a","manuscriptIdB":"man_b","pairIndex":9}`, viewer)
	expectStatus(t, rr, payload, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	rr, payload = serve(t, svc, http.MethodPost, "/api/compare/diff",
		`{"manuscriptIdA":"man_a","documentIdA":"doc_a1","manuscriptIdB":"man_b","documentIdB":"doc_missing"}`, viewer)
	expectStatus(t, rr, payload, http.StatusNotFound, "NOT_FOUND")
}

func TestMergeRouteRequiresWritePermission(t *testing.T) {
	svc := newTestService(twoDrafts())
	svc.merger = &fakeMerger{executeFn: func(context.Context, compare.MergeRequest) (compare.MergeReport, error) {
		t.Fatal("viewer must not reach the merge")
		return compare.MergeReport{}, nil
	}}

	rr, payload := serve(t, svc, http.MethodPost, "/api/compare/merge",
		`{"manuscriptIdA":"man_a","manuscriptIdB":"man_b","mergedTitle":"Final","instructions":[]}`, bearerFor(t, "viewer"))
	expectStatus(t, rr, payload, http.StatusForbidden, "FORBIDDEN")

	rr, payload = serve(t, svc, http.MethodPost, "/api/compare/merge",
		`{"manuscriptIdA":"man_a","manuscriptIdB":"man_b","mergedTitle":"Final","instructions":[]}`, bearerFor(t, ""))
	expectStatus(t, rr, payload, http.StatusForbidden, "FORBIDDEN")
}

func TestMergeRouteCreatesManuscript(t *testing.T) {
	svc := newTestService(twoDrafts())
	var actor string
	svc.merger = &fakeMerger{executeFn: func(_ context.Context, req compare.MergeRequest) (compare.MergeReport, error) {
		actor = req.ActorID
		if len(req.Instructions) != 3 || req.Instructions[2].Choice != compare.ChoiceBoth {
			t.Fatalf("unexpected instructions %+v", req.Instructions)
		}
		return compare.MergeReport{ManuscriptID: "man_new", Title: req.Title, DocumentsCreated: 3, TotalWordCount: 11}, nil
	}}

	body := `{"manuscriptIdA":"man_a","manuscriptIdB":"man_b","mergedTitle":"Final","instructions":[
		{"pairIndex":0,"choice":"a"},{"pairIndex":1,"choice":"skip"},{"pairIndex":2,"choice":"both"}]}`
	rr, payload := serve(t, svc, http.MethodPost, "/api/compare/merge", body, bearerFor(t, "editor"))
	expectStatus(t, rr, payload, http.StatusCreated, "")
	if payload["manuscriptId"] != "man_new" || payload["documentsCreated"] != float64(3) {
		t.Fatalf("unexpected report %v", payload)
	}
	if actor != "user-1" {
		t.Fatalf("expected token subject as actor, got %q", actor)
	}
}

func TestMergeRouteMapsErrors(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		code    string
		details map[string]any
	}{
		{
			name:    "validation",
			err:     &compare.ValidationError{PairIndex: 2, Message: "duplicate pair index"},
			status:  http.StatusUnprocessableEntity,
			code:    "VALIDATION_ERROR",
			details: map[string]any{"pairIndex": float64(2)},
		},
		{
			name:   "count mismatch",
			err:    &compare.ValidationError{PairIndex: -1, Message: "expected 3 instructions, got 2"},
			status: http.StatusUnprocessableEntity,
			code:   "VALIDATION_ERROR",
		},
		{
			name:   "transaction failure",
			err:    fmt.Errorf("%w: %w", compare.ErrMergeFailed, errors.New("write content: disk full")),
			status: http.StatusInternalServerError,
			code:   "MERGE_FAILED",
		},
		{
			name:   "unexpected",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			code:   "SERVER_ERROR",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(twoDrafts())
			svc.merger = &fakeMerger{executeFn: func(context.Context, compare.MergeRequest) (compare.MergeReport, error) {
				return compare.MergeReport{}, tc.err
			}}
			rr, payload := serve(t, svc, http.MethodPost, "/api/compare/merge",
				`{"manuscriptIdA":"man_a","manuscriptIdB":"man_b","mergedTitle":"Final","instructions":[]}`, bearerFor(t, "admin"))
			expectStatus(t, rr, payload, tc.status, tc.code)

			details, _ := payload["details"].(map[string]any)
			if tc.details == nil && details != nil {
				t.Fatalf("expected no details, got %v", details)
			}
			for key, want := range tc.details {
				if details[key] != want {
					t.Fatalf("details[%s] = %v, want %v", key, details[key], want)
				}
			}
			if tc.code == "MERGE_FAILED" && payload["error"] != "Merge failed, no changes made" {
				t.Fatalf("unexpected message %v", payload["error"])
			}
		})
	}
}

func TestMergeRouteConflictWhileLocked(t *testing.T) {
	svc := newTestService(twoDrafts())
	release, err := svc.locker.Acquire(context.Background(), mergeLockKey("man_a", "man_b"), time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release()

	rr, payload := serve(t, svc, http.MethodPost, "/api/compare/merge",
		`{"manuscriptIdA":"man_a","manuscriptIdB":"man_b","mergedTitle":"Final","instructions":[]}`, bearerFor(t, "editor"))
	expectStatus(t, rr, payload, http.StatusConflict, "MERGE_IN_PROGRESS")
}

func TestSearchRoute(t *testing.T) {
	svc := newTestService(twoDrafts())
	var got search.Query
	svc.search = &fakeSearch{searchFn: func(q search.Query) search.Response {
		got = q
		return search.Response{Results: []search.Result{{ID: "doc_a1", ManuscriptID: "man_a", Title: "Storm"}}, Total: 1, Query: q.Text}
	}}

	rr, payload := serve(t, svc, http.MethodGet, "/api/search?q=+storm+&manuscriptId=man_a&limit=500&offset=20", "", bearerFor(t, "viewer"))
	expectStatus(t, rr, payload, http.StatusOK, "")
	if got.Text != "storm" || got.FilterManuscriptID != "man_a" || got.Limit != maxSearchLimit || got.Offset != 20 {
		t.Fatalf("unexpected query %+v", got)
	}
	if payload["total"] != float64(1) {
		t.Fatalf("unexpected payload %v", payload)
	}

	rr, payload = serve(t, svc, http.MethodGet, "/api/search?q=storm&limit=-1", "", bearerFor(t, "viewer"))
	expectStatus(t, rr, payload, http.StatusBadRequest, "INVALID_QUERY")
}

func TestUnknownRoutes(t *testing.T) {
	svc := newTestService(twoDrafts())

	rr, payload := serve(t, svc, http.MethodGet, "/api/compare/merge", "", bearerFor(t, "admin"))
	expectStatus(t, rr, payload, http.StatusNotFound, "NOT_FOUND")

	rr, payload = serve(t, svc, http.MethodGet, "/metrics", "", "")
	expectStatus(t, rr, payload, http.StatusNotFound, "NOT_FOUND")
}

type pingingLocker struct {
	*lock.LocalLocker
	pingFn func(context.Context) error
}

func (l *pingingLocker) Ping(ctx context.Context) error {
	return l.pingFn(ctx)
}

func TestReadyEndpointChecksSharedLock(t *testing.T) {
	fs, fc := twoDrafts()
	locker := &pingingLocker{LocalLocker: lock.NewLocalLocker(), pingFn: func(context.Context) error {
		return errors.New("redis down")
	}}
	svc := New(config.Config{TokenSecret: testSecret}, fs, fc, &fakeMerger{}, locker, nil, nil)

	rr, payload := serve(t, svc, http.MethodGet, "/api/ready", "", "")
	expectStatus(t, rr, payload, http.StatusServiceUnavailable, "")
	checks, _ := payload["checks"].(map[string]any)
	database, _ := checks["database"].(map[string]any)
	lockCheck, _ := checks["lock"].(map[string]any)
	if database["status"] != "ok" || lockCheck["status"] != "error" || lockCheck["error"] != "redis down" {
		t.Fatalf("unexpected checks %v", checks)
	}
}
