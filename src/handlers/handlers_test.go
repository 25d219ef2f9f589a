package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/username/slips/src/models"
	"github.com/username/slips/src/security"
	"github.com/username/slips/src/services"
)

type fakeInsertion struct {
	ingested   []string
	staged     [][2]string
	ingestErr  error
	reconciled *services.InwardReconciliation
}

func (f *fakeInsertion) Ingest(ctx context.Context, dir models.Direction, file io.Reader, fileName string) (*models.SlipFile, error) {
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	if _, err := io.ReadAll(file); err != nil {
		return nil, err
	}
	f.ingested = append(f.ingested, string(dir)+"/"+fileName)
	return &models.SlipFile{Name: fileName, Header: models.FileHeader{Status: models.StatusInserted},
		Branches: []models.Branch{{Transactions: make([]models.Transaction, 2)}}}, nil
}

func (f *fakeInsertion) ReconcileInward(ctx context.Context, fileName string) (*services.InwardReconciliation, error) {
	if f.reconciled == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrFileNotFound, fileName)
	}
	return f.reconciled, nil
}

func (f *fakeInsertion) StageFromInward(ctx context.Context, inwardName, outwardName string) error {
	f.staged = append(f.staged, [2]string{inwardName, outwardName})
	return nil
}

func (f *fakeInsertion) ListFiles(ctx context.Context, dir models.Direction) ([]models.FileHeader, error) {
	return nil, nil
}

type fakeOrchestrator struct {
	runs     map[string]*services.Run
	startErr error
}

func (f *fakeOrchestrator) Start(ctx context.Context, fileName string, batch models.BatchType) (*services.Run, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	run := &services.Run{ID: "run-1", FileName: fileName, BatchType: batch, State: models.RunReleased,
		Lines: []string{"5555", "4444", "0000"}}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeOrchestrator) Retry(ctx context.Context, runID string) (*services.Run, error) {
	run, err := f.Get(runID)
	if err != nil {
		return nil, err
	}
	if run.State != models.RunHalted {
		return nil, models.ErrRunNotHalted
	}
	run.State = models.RunReleased
	return run, nil
}

func (f *fakeOrchestrator) Discard(ctx context.Context, runID string) error {
	if _, err := f.Get(runID); err != nil {
		return err
	}
	delete(f.runs, runID)
	return nil
}

func (f *fakeOrchestrator) Get(runID string) (*services.Run, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrRunNotFound, runID)
	}
	return run, nil
}

func (f *fakeOrchestrator) List() []*services.Run { return nil }

type fakeMappings struct{ saved map[string]string }

func (f *fakeMappings) SaveCodeMapping(from, to string) error {
	f.saved[from] = to
	return nil
}

type testServer struct {
	handler   http.Handler
	token     string
	insertion *fakeInsertion
	runs      *fakeOrchestrator
	mappings  *fakeMappings
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	auth := security.NewAuthService("handler-test-secret-with-32-bytes-or-more", time.Hour, "")
	token, err := auth.GenerateToken("ops-1")
	if err != nil {
		t.Fatal(err)
	}
	ts := &testServer{
		token:     token,
		insertion: &fakeInsertion{},
		runs:      &fakeOrchestrator{runs: map[string]*services.Run{}},
		mappings:  &fakeMappings{saved: map[string]string{}},
	}
	ts.handler = NewAPIRouter(auth, NewAuthHandler(auth), NewSlipHandler(ts.insertion, ts.mappings), NewRunHandler(ts.runs))
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range header {
		req.Header[k] = v
	}
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"garbage", "Bearer not-a-token"},
		{"empty bearer", "Bearer "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestLoginDisabledWithoutKeyHash(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/auth/token", strings.NewReader(`{"operator":"ops-1","key":"x"}`), nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func multipartUpload(t *testing.T, fileName, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(content))
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t)
	line := "5555" + strings.Repeat("0", 180) + "\n"

	body, ct := multipartUpload(t, "OUT001.txt", "text/plain", line)
	rec := ts.do(t, http.MethodPost, "/api/slips/outward/upload", body, http.Header{"Content-Type": {ct}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var resp uploadResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.FileName != "OUT001.txt" || resp.Transactions != 2 || resp.Direction != "outward" {
		t.Errorf("response = %+v", resp)
	}
	if len(ts.insertion.ingested) != 1 || ts.insertion.ingested[0] != "outward/OUT001.txt" {
		t.Errorf("ingested = %v", ts.insertion.ingested)
	}

	body, ct = multipartUpload(t, "OUT001.csv", "text/csv", line)
	if rec := ts.do(t, http.MethodPost, "/api/slips/outward/upload", body, http.Header{"Content-Type": {ct}}); rec.Code != http.StatusBadRequest {
		t.Errorf("csv upload status = %d, want 400", rec.Code)
	}

	body, ct = multipartUpload(t, "X.txt", "text/plain", line)
	if rec := ts.do(t, http.MethodPost, "/api/slips/sideways/upload", body, http.Header{"Content-Type": {ct}}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown direction status = %d, want 404", rec.Code)
	}

	ts.insertion.ingestErr = &models.RecordError{FileName: "BAD.txt", Line: 1, Err: models.ErrMalformedMarker}
	body, ct = multipartUpload(t, "BAD.txt", "text/plain", line)
	if rec := ts.do(t, http.MethodPost, "/api/slips/inward/upload", body, http.Header{"Content-Type": {ct}}); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("malformed file status = %d, want 422", rec.Code)
	}
}

func TestStageAndMapping(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/slips/outward/stage", strings.NewReader(`{"inward_file":"IN001.txt","outward_file":"OUT001.txt"}`), nil)
	if rec.Code != http.StatusCreated || len(ts.insertion.staged) != 1 {
		t.Errorf("stage status = %d staged = %v", rec.Code, ts.insertion.staged)
	}
	rec = ts.do(t, http.MethodPost, "/api/slips/outward/stage", strings.NewReader(`{"inward_file":"../IN 1","outward_file":"OUT001.txt"}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad stage status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPut, "/api/reference/code-mappings", strings.NewReader(`{"from":"99","to":"10"}`), nil)
	if rec.Code != http.StatusOK || ts.mappings.saved["99"] != "10" {
		t.Errorf("mapping status = %d saved = %v", rec.Code, ts.mappings.saved)
	}
	rec = ts.do(t, http.MethodPut, "/api/reference/code-mappings", strings.NewReader(`{"from":"9A","to":"10"}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad mapping status = %d", rec.Code)
	}
}

func TestReconcileInwardNotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/slips/inward/IN404.txt/reconcile", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRunLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/runs", strings.NewReader(`{"file_name":"OUT001.txt","batch_type":"salary"}`), nil)
	if rec.Code != http.StatusCreated || rec.Header().Get("Location") != "/api/runs/run-1" {
		t.Fatalf("start status = %d location = %q", rec.Code, rec.Header().Get("Location"))
	}
	if rec := ts.do(t, http.MethodPost, "/api/runs", strings.NewReader(`{"file_name":"OUT001.txt","batch_type":"weekly"}`), nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad batch status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/runs/run-1", nil, nil)
	etag := rec.Header().Get("ETag")
	if rec.Code != http.StatusOK || etag == "" {
		t.Fatalf("get status = %d etag = %q", rec.Code, etag)
	}
	rec = ts.do(t, http.MethodGet, "/api/runs/run-1", nil, http.Header{"If-None-Match": {etag}})
	if rec.Code != http.StatusNotModified {
		t.Errorf("conditional get status = %d, want 304", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/runs/run-1/file", nil, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "5555\n4444\n0000\n" {
		t.Errorf("file status = %d body = %q", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodGet, "/api/runs/run-1/report.xlsx", nil, nil)
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Errorf("xlsx status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/api/runs/run-1/report", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"invalid_transactions":[]`) {
		t.Errorf("report status = %d body = %s", rec.Code, rec.Body)
	}

	if rec := ts.do(t, http.MethodPost, "/api/runs/run-1/retry", nil, nil); rec.Code != http.StatusConflict {
		t.Errorf("retry released status = %d, want 409", rec.Code)
	}
	if rec := ts.do(t, http.MethodDelete, "/api/runs/run-1", nil, nil); rec.Code != http.StatusNoContent {
		t.Errorf("discard status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/runs/run-1", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get discarded status = %d, want 404", rec.Code)
	}
}

func TestRunFileRequiresRelease(t *testing.T) {
	ts := newTestServer(t)
	ts.runs.runs["halted"] = &services.Run{ID: "halted", State: models.RunHalted, HaltReason: models.ReasonUnresolvableCode}
	if rec := ts.do(t, http.MethodGet, "/api/runs/halted/file", nil, nil); rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestStartRunStoreBusy(t *testing.T) {
	ts := newTestServer(t)
	ts.runs.startErr = fmt.Errorf("%w after 4 attempts", models.ErrStoreBusy)
	rec := ts.do(t, http.MethodPost, "/api/runs", strings.NewReader(`{"file_name":"OUT001.txt"}`), nil)
	if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") == "" {
		t.Errorf("status = %d retry-after = %q", rec.Code, rec.Header().Get("Retry-After"))
	}
}

func TestStartRunReleasedFile(t *testing.T) {
	ts := newTestServer(t)
	ts.runs.startErr = fmt.Errorf("%w: OUT001.txt", models.ErrFileReleased)
	rec := ts.do(t, http.MethodPost, "/api/runs", strings.NewReader(`{"file_name":"OUT001.txt"}`), nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}
