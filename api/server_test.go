package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Aidin1998/amlwatch/api"
	"github.com/Aidin1998/amlwatch/internal/compliance/aml/jobs"
	"github.com/Aidin1998/amlwatch/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type stubJobs struct {
	requests []jobs.Request
	results  map[string]*jobs.Result
	err      error
}

func (s *stubJobs) Submit(_ context.Context, req jobs.Request) (*store.AnalysisJob, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.requests = append(s.requests, req)
	id := req.JobID
	if id == "" {
		id = "generated-id"
	}
	return &store.AnalysisJob{JobID: id, Kind: req.Kind, Status: store.JobPending}, nil
}

func (s *stubJobs) Poll(_ context.Context, jobID string) (*jobs.Result, error) {
	if res, ok := s.results[jobID]; ok {
		return res, nil
	}
	return nil, store.ErrJobNotFound.Explain("job %s not found", jobID)
}

type fixture struct {
	router *gin.Engine
	store  *store.GormStore
	jobs   *stubJobs
}

func setup(t *testing.T) *fixture {
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	st := store.NewGormStore(db)
	require.NoError(t, st.Migrate())

	js := &stubJobs{results: map[string]*jobs.Result{}}
	srv := api.NewServer(zap.NewNop(), st, js)
	return &fixture{router: srv.Router(), store: st, jobs: js}
}

func (f *fixture) do(method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) user(t *testing.T, name string) uuid.UUID {
	u := &store.User{ID: uuid.New(), FullName: name, Country: "India"}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u.ID
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthCheck(t *testing.T) {
	f := setup(t)
	w := f.do(http.MethodGet, "/api/v1/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestIngestBatch(t *testing.T) {
	f := setup(t)
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"accepted", `{"job_id":"b-1","transactions":[{"from_account":"ACC1001","to_account":"ACC2001","amount":45000}]}`, http.StatusAccepted},
		{"malformed", `{"transactions":`, http.StatusBadRequest},
		{"empty", `{"transactions":[]}`, http.StatusBadRequest},
		{"missing account", `{"transactions":[{"from_account":"ACC1001","amount":1}]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/api/v1/ingest/batch", []byte(tt.body), "application/json")
			assert.Equal(t, tt.status, w.Code)
		})
	}

	require.Len(t, f.jobs.requests, 1)
	assert.Equal(t, "b-1", f.jobs.requests[0].JobID)
	assert.Equal(t, store.JobIngestBatch, f.jobs.requests[0].Kind)
}

func TestIngestBatch_ProblemDetails(t *testing.T) {
	f := setup(t)
	w := f.do(http.MethodPost, "/api/v1/ingest/batch", []byte(`{"transactions":[{"from_account":"A","amount":1}]}`), "application/json")
	require.Equal(t, http.StatusBadRequest, w.Code)

	resp := decode(t, w)
	assert.Equal(t, float64(http.StatusBadRequest), resp["status"])
	assert.Equal(t, "/api/v1/ingest/batch", resp["instance"])
	assert.NotEmpty(t, resp["errors"])
}

func multipartBody(t *testing.T, filename, content string) ([]byte, string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestUploadCSV(t *testing.T) {
	f := setup(t)
	csv := "Debit_Account,Credit_Account,Amount,Currency,Description\n" +
		"ACC1001,ACC2001,45000,INR,rent\n" +
		"ACC1001,,45000,INR,missing\n" +
		"ACC1001,ACC2002,abc,INR,bad amount\n"

	body, ct := multipartBody(t, "export.CSV", csv)
	w := f.do(http.MethodPost, "/api/v1/ingest/upload-csv", body, ct)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, float64(1), resp["rows"])
	assert.Equal(t, float64(2), resp["skipped"])
	require.Len(t, f.jobs.requests, 1)
	assert.Len(t, f.jobs.requests[0].Params.Rows, 1)

	body, ct = multipartBody(t, "export.xlsx", csv)
	w = f.do(http.MethodPost, "/api/v1/ingest/upload-csv", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, ct = multipartBody(t, "empty.csv", "Debit_Account,Credit_Account,Amount\n")
	w = f.do(http.MethodPost, "/api/v1/ingest/upload-csv", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, f.jobs.requests, 1)
}

func TestCreateDeposit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := f.user(t, "Alice")

	w := f.do(http.MethodPost, "/api/v1/users/"+id.String()+"/transactions", []byte(`{"amount":"48000.50"}`), "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, "generated-id", resp["job_id"])

	require.Len(t, f.jobs.requests, 1)
	req := f.jobs.requests[0]
	assert.Equal(t, store.JobTransactionScreen, req.Kind)
	require.NotNil(t, req.Params.TransactionID)

	tx, err := f.store.GetTransaction(ctx, *req.Params.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "INR", tx.Currency)
	assert.Equal(t, "48000.5", tx.Amount.String())
	ext, err := f.store.ExternalSystemUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, ext.ID, *tx.FromUserID)

	w = f.do(http.MethodPost, "/api/v1/users/"+uuid.NewString()+"/transactions", []byte(`{"amount":10}`), "application/json")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/api/v1/users/"+id.String()+"/transactions", []byte(`{"amount":-5}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/v1/users/not-a-uuid/transactions", []byte(`{"amount":10}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, f.jobs.requests, 1)
}

func TestSubmitUserJobs(t *testing.T) {
	f := setup(t)
	id := uuid.New().String()

	tests := []struct {
		path  string
		body  string
		kind  store.JobKind
		jobID string
	}{
		{"/api/v1/users/" + id + "/run-kyc-check", "", store.JobKYCCheck, ""},
		{"/api/v1/users/" + id + "/run-graph-analysis?job_id=graph-1", "", store.JobGraphAnalysis, "graph-1"},
		{"/api/v1/users/" + id + "/run-graph-analysis", `{"job_id":"graph-2"}`, store.JobGraphAnalysis, "graph-2"},
		{"/api/v1/advisor/explain-risk/" + id, "", store.JobExplainRisk, ""},
		{"/api/v1/advisor/generate-sar/" + id, "", store.JobGenerateSAR, ""},
	}
	for i, tt := range tests {
		w := f.do(http.MethodPost, tt.path, []byte(tt.body), "application/json")
		require.Equal(t, http.StatusAccepted, w.Code, tt.path)
		require.Len(t, f.jobs.requests, i+1)
		got := f.jobs.requests[i]
		assert.Equal(t, tt.kind, got.Kind)
		assert.Equal(t, tt.jobID, got.JobID)
		assert.Equal(t, id, got.UserID.String())
	}

	w := f.do(http.MethodPost, "/api/v1/users/"+id+"/run-graph-analysis?job_id="+strings.Repeat("x", 65), nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetResult(t *testing.T) {
	f := setup(t)
	explanation := "No significant graph patterns were detected."
	f.jobs.results["done"] = &jobs.Result{
		JobID:       "done",
		Kind:        store.JobGraphAnalysis,
		Status:      store.JobCompleted,
		Findings:    json.RawMessage(`{"nodeCount":3}`),
		Explanation: &explanation,
	}
	f.jobs.results["waiting"] = &jobs.Result{JobID: "waiting", Status: store.JobPending}

	w := f.do(http.MethodGet, "/api/v1/results/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/api/v1/results/waiting", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"job_id":"waiting","status":"PENDING"}`, w.Body.String())

	w = f.do(http.MethodGet, "/api/v1/results/done", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "COMPLETED", resp["status"])
	assert.Equal(t, float64(3), resp["findings"].(map[string]interface{})["nodeCount"])
	assert.Equal(t, explanation, resp["explanation"])
}

func TestReadSurfaceAndClear(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice, bob := f.user(t, "Alice"), f.user(t, "Bob")
	require.NoError(t, f.store.CreateTransaction(ctx, &store.Transaction{
		ID: uuid.New(), FromUserID: &alice, ToUserID: bob, Currency: "INR",
	}))

	w := f.do(http.MethodGet, "/api/v1/users?skip=0&limit=10", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["users"], 2)

	w = f.do(http.MethodGet, "/api/v1/users?limit=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/api/v1/users/"+bob.String(), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["transactions_received"], 1)

	w = f.do(http.MethodGet, "/api/v1/users/"+alice.String()+"/transactions", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["transactions"], 1)

	w = f.do(http.MethodGet, "/api/v1/users/"+alice.String()+"/alerts", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["alerts"])

	w = f.do(http.MethodGet, "/api/v1/users/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodDelete, "/api/v1/admin/data", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	users, err := f.store.ListUsers(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, users)
}
