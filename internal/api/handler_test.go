package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-ingest/internal/domain"
	"auction-ingest/internal/ingestion"
	"auction-ingest/internal/orchestrator"
	"auction-ingest/internal/reconcile"
	"auction-ingest/internal/storage/memory"
	"auction-ingest/internal/upsert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubProcessor succeeds for every URL not containing "fail".
type stubProcessor struct{}

func (stubProcessor) Process(_ context.Context, url string) ingestion.URLResult {
	if strings.Contains(url, "fail") {
		err := assert.AnError
		return ingestion.URLResult{URL: url, Stage: ingestion.StageFetch, Err: err, Error: err.Error()}
	}
	return ingestion.URLResult{URL: url, Stage: ingestion.StageDone, Action: domain.ActionUpdate, RecordID: "rescraped"}
}

type testServer struct {
	router       *gin.Engine
	listings     *memory.ListingStore
	observations *memory.ObservationStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	listings := memory.NewListingStore()
	observations := memory.NewObservationStore()
	writer := upsert.NewWriter(listings)

	orch, err := orchestrator.New(orchestrator.Options{Processor: stubProcessor{}, Workers: 2, Logger: logger})
	require.NoError(t, err)
	rec, err := reconcile.New(reconcile.Options{Store: listings, Writer: writer, Logger: logger})
	require.NoError(t, err)

	h, err := New(Options{
		Store:        listings,
		Observations: observations,
		Writer:       writer,
		Orchestrator: orch,
		Processor:    stubProcessor{},
		Reconciler:   rec,
		Logger:       logger,
	})
	require.NoError(t, err)
	return &testServer{router: h.Router(), listings: listings, observations: observations}
}

func (s *testServer) seed(t *testing.T, id, url, title string, status domain.ListingStatus) {
	t.Helper()
	require.NoError(t, s.listings.Insert(context.Background(), &domain.ListingRecord{
		ID:              id,
		SourceURL:       url,
		Platform:        "Example",
		Title:           title,
		PriceMinor:      domain.Ptr(int64(1500)),
		PriceNormalized: decimal.RequireFromString("10.00"),
		Images:          []string{"https://img.example.com/" + id + ".jpg"},
		Condition:       domain.ConditionUsed,
		Status:          status,
		Target:          domain.TargetDraft{State: domain.PublishDraft},
		LastScrapedAt:   1704067200000,
		CreatedAt:       1704067200000,
		UpdatedAt:       1704067200000,
	}))
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) request(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.do(req)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.request(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = s.request(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIngest(t *testing.T) {
	s := newTestServer(t)

	w := s.request(http.MethodPost, "/api/ingest", `{"urls":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.request(http.MethodPost, "/api/ingest", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.request(http.MethodPost, "/api/ingest",
		`{"urls":["https://a.example.com/item/1","https://a.example.com/item/fail","https://a.example.com/item/2"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var result orchestrator.BatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailureCount)
	assert.Len(t, result.Results, 3)
	assert.NotEmpty(t, result.RunID)
}

func TestListAndGetListings(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "20240101-a", "https://a.example.com/item/1", "Seiko 5 automatic watch 1970s", domain.StatusActive)
	s.seed(t, "20240101-b", "https://a.example.com/item/2", "Casio G-Shock DW-5600 square", domain.StatusEnded)

	w := s.request(http.MethodGet, "/api/listings", "")
	require.Equal(t, http.StatusOK, w.Code)
	var all []ListingView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	w = s.request(http.MethodGet, "/api/listings?status=ended", "")
	require.Equal(t, http.StatusOK, w.Code)
	var ended []ListingView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ended))
	require.Len(t, ended, 1)
	assert.Equal(t, "20240101-b", ended[0].ID)
	assert.Contains(t, ended[0].RiskFlags, reconcile.FlagEnded)

	w = s.request(http.MethodGet, "/api/listings?status=sold", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.request(http.MethodGet, "/api/listings/20240101-a", "")
	require.Equal(t, http.StatusOK, w.Code)
	var one ListingView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, "Seiko 5 automatic watch 1970s", one.Title)
	assert.True(t, one.PriceNormalized.Equal(decimal.RequireFromString("10.00")))
	assert.True(t, one.Pricing.CostBasis.Equal(decimal.RequireFromString("10.00")))
	assert.Equal(t, domain.PublishDraft, one.Target.State)

	w = s.request(http.MethodGet, "/api/listings/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistory(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "20240101-a", "https://a.example.com/item/1", "Seiko 5 automatic watch 1970s", domain.StatusActive)

	ctx := context.Background()
	for i, price := range []int64{1500, 3000} {
		require.NoError(t, s.observations.Append(ctx, &domain.PriceObservation{
			ListingID:       "20240101-a",
			SourceURL:       "https://a.example.com/item/1",
			ObservedAt:      1704067200000 + int64(i)*60000,
			PriceMinor:      domain.Ptr(price),
			PriceNormalized: decimal.NewFromInt(price).Div(decimal.NewFromInt(150)),
			Status:          domain.StatusActive,
		}))
	}

	w := s.request(http.MethodGet, "/api/listings/20240101-a/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	var history []ObservationView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 2)
	assert.Equal(t, int64(3000), *history[1].PriceMinor)

	w = s.request(http.MethodGet, "/api/listings/missing/history", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteListing(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "20240101-a", "https://a.example.com/item/1", "Seiko 5 automatic watch 1970s", domain.StatusActive)

	w := s.request(http.MethodDelete, "/api/listings/20240101-a", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.request(http.MethodGet, "/api/listings/20240101-a", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.request(http.MethodDelete, "/api/listings/20240101-a", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRescrape(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "20240101-a", "https://a.example.com/item/1", "Seiko 5 automatic watch 1970s", domain.StatusActive)
	s.seed(t, "20240101-b", "https://a.example.com/item/fail", "Casio G-Shock DW-5600 square", domain.StatusActive)

	w := s.request(http.MethodPost, "/api/listings/20240101-a/rescrape", "")
	require.Equal(t, http.StatusOK, w.Code)
	var res ingestion.URLResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, ingestion.StageDone, res.Stage)

	w = s.request(http.MethodPost, "/api/listings/20240101-b/rescrape", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = s.request(http.MethodPost, "/api/listings/missing/rescrape", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "20240101-a", "https://a.example.com/item/1", "Seiko 5 automatic watch 1970s", domain.StatusActive)
	s.seed(t, "20240101-b", "https://a.example.com/item/2", "Casio G-Shock DW-5600 square", domain.StatusEnded)

	w := s.request(http.MethodGet, "/api/export.csv?status=active", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	exported := w.Body.String()
	assert.Equal(t, 2, strings.Count(exported, "\n"), "header plus one active row")

	w = s.request(http.MethodGet, "/api/export.csv?updated_since=tomorrow", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/import", strings.NewReader(exported))
	req.Header.Set("Content-Type", "text/csv")
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var summary reconcile.ImportSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Rows)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Updated)
	assert.Empty(t, summary.Errors)
}

func TestImport_Multipart(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "20240101-a", "https://a.example.com/item/1", "Seiko 5 automatic watch 1970s", domain.StatusActive)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "edits.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte("operation,record_id,source_url,target_price\nPREPARE,20240101-a,,42.00\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	rec, err := s.listings.GetByID(context.Background(), "20240101-a")
	require.NoError(t, err)
	assert.Equal(t, domain.PublishPrepared, rec.Target.State)
	assert.Equal(t, "42.00", rec.Target.Price.StringFixed(2))
}

func TestImport_HeaderInvalid(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/import", strings.NewReader("foo,bar\n1,2\n"))
	req.Header.Set("Content-Type", "text/csv")
	w := s.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDuplicates(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "20240101-a", "https://a.example.com/item/1", "Seiko 5 automatic watch 1970s", domain.StatusActive)
	s.seed(t, "20240102-b", "https://b.example.com/listing/1", "Seiko 5 automatic watch 1970s", domain.StatusActive)

	w := s.request(http.MethodGet, "/api/duplicates", "")
	require.Equal(t, http.StatusOK, w.Code)
	var report reconcile.DuplicateReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.Pairs, 1)
	assert.Equal(t, "exact_title", report.Pairs[0].Tier)

	w = s.request(http.MethodPost, "/api/duplicates/merge", "")
	require.Equal(t, http.StatusOK, w.Code)
	var merged reconcile.MergeSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &merged))
	assert.Equal(t, []string{"20240101-a"}, merged.Kept)
	assert.Equal(t, []string{"20240102-b"}, merged.Deleted)
}
