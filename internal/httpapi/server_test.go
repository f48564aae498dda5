package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeetl/internal/multitable"
	"tradeetl/internal/storage"
)

type fakeEngine struct {
	runScope storage.Scope
	runMode  multitable.Mode
	runErr   error
	resetErr error
	runs     int
	ctxErrs  []error
}

func (f *fakeEngine) Run(ctx context.Context, scope storage.Scope, mode multitable.Mode) (multitable.RunResult, error) {
	f.runs++
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.runScope, f.runMode = scope, mode
	res := multitable.RunResult{ProcessID: "p-1", Scope: scope.String(), Mode: mode, TotalRecords: 10}
	if f.runErr != nil {
		res.Status = multitable.StatusFailed
		res.Message = "ETL failed at load: " + f.runErr.Error()
		return res, f.runErr
	}
	res.Status = multitable.StatusComplete
	res.ProcessedRecords = 10
	res.Percent = 100
	return res, nil
}

func (f *fakeEngine) ResetAll(ctx context.Context) error {
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.resetErr
}

func (f *fakeEngine) ResetYear(ctx context.Context, year int) (multitable.ResetStats, error) {
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.resetErr != nil {
		return multitable.ResetStats{}, f.resetErr
	}
	return multitable.ResetStats{Facts: 7, Dimensions: multitable.DimensionCounts{Countries: 1}}, nil
}

func (f *fakeEngine) Status(_ context.Context, year int) (multitable.Status, error) {
	return multitable.Status{Year: year, FactRecords: 42, Dimensions: multitable.DimensionCounts{Countries: 3, HS2: 2, HS4: 5}}, nil
}

func (f *fakeEngine) TableCounts(context.Context) (storage.TableCounts, error) {
	return storage.TableCounts{Facts: 42, Countries: 3, HS2: 2, HS4: 5}, nil
}

type fakeStore struct {
	lastQuery storage.FactQuery
	lastMonth *int
	lastLimit int
	err       error
}

func (f *fakeStore) FactDetails(_ context.Context, q storage.FactQuery) (storage.FactPage, error) {
	f.lastQuery = q
	return storage.NewFactPage([]storage.FactDetail{{FactID: 1, Country: "Japan", Year: 2023}}, q, 21), f.err
}

func (f *fakeStore) FactTotals(_ context.Context, year int, month *int) (storage.FactTotals, error) {
	f.lastMonth = month
	return storage.FactTotals{TotalThaipValue: decimal.RequireFromString("1000.50"), RecordCount: 2}, f.err
}

func (f *fakeStore) TopCountries(_ context.Context, year, limit int) ([]storage.RankedValue, error) {
	f.lastLimit = limit
	return []storage.RankedValue{{Label: "Japan", TotalValue: decimal.NewFromInt(10), RecordCount: 1}}, f.err
}

func (f *fakeStore) TopHS2(_ context.Context, year, limit int) ([]storage.RankedValue, error) {
	f.lastLimit = limit
	return nil, f.err
}

func (f *fakeStore) FactSummary(_ context.Context, year int, month *int, limit int) ([]storage.FactSummary, error) {
	f.lastMonth, f.lastLimit = month, limit
	return nil, f.err
}

func (f *fakeStore) LoadDimensions(_ context.Context, kind storage.DimensionKind) ([]storage.Dimension, error) {
	switch kind {
	case storage.DimCountry:
		return []storage.Dimension{{ID: 1, Label: "Japan"}}, f.err
	case storage.DimHS2:
		return []storage.Dimension{{ID: 2, Code: 1, Label: "Animals"}}, f.err
	default:
		return []storage.Dimension{{ID: 3, Code: 101, Label: "Horses"}}, f.err
	}
}

func (f *fakeStore) SourceYears(context.Context) ([]string, error) {
	return []string{"2022", "2023"}, f.err
}

var testNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func newTestServer(t *testing.T, eng *fakeEngine, store *fakeStore) (http.Handler, *bytes.Buffer) {
	t.Helper()
	logs := &bytes.Buffer{}
	h := New(eng, store, Options{
		Logger:  slog.New(slog.NewTextHandler(logs, nil)),
		Clock:   clockwork.NewFakeClockAt(testNow),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "etl_rows_total 1\n") }),
	})
	return h, logs
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v))
	return v
}

func TestProcess(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	h, _ := newTestServer(t, eng, &fakeStore{})

	rr := do(t, h, http.MethodPost, "/api/etl/process/2023?mode=strict")
	require.Equal(t, http.StatusOK, rr.Code)
	res := decode[map[string]any](t, rr)
	assert.Equal(t, "COMPLETE", res["status"])
	assert.Equal(t, "2023", res["year"])
	assert.Equal(t, "strict", res["mode"])
	assert.Equal(t, "p-1", res["processId"])
	assert.Equal(t, float64(100), res["progressPercentage"])
	assert.Equal(t, storage.ForYear(2023), eng.runScope)

	rr = do(t, h, http.MethodGet, "/api/etl/process/all")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, eng.runScope.All)
	assert.Equal(t, multitable.Lenient, eng.runMode)
}

func TestProcess_BadInput(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	h, _ := newTestServer(t, eng, &fakeStore{})

	for _, target := range []string{"/api/etl/process/20x3", "/api/etl/process/1200", "/api/etl/process/2023?mode=loose"} {
		rr := do(t, h, http.MethodPost, target)
		require.Equal(t, http.StatusBadRequest, rr.Code, target)
		env := decode[ErrorResponse](t, rr)
		assert.Equal(t, "BAD_REQUEST", env.Error)
		assert.True(t, env.Timestamp.Equal(testNow))
	}
	assert.Zero(t, eng.runs)
}

func TestProcess_EngineFailure(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{runErr: errors.New("password authentication failed for user etl")}
	h, logs := newTestServer(t, eng, &fakeStore{})

	rr := do(t, h, http.MethodPost, "/api/etl/process/2023")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	env := decode[ErrorResponse](t, rr)
	assert.Equal(t, "ETL_ERROR", env.Error)
	assert.Contains(t, env.Message, "p-1")
	assert.NotContains(t, env.Message, "password")
	assert.Contains(t, logs.String(), "password authentication failed")
}

func TestStatusAndClear(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	h, _ := newTestServer(t, eng, &fakeStore{})

	rr := do(t, h, http.MethodGet, "/api/etl/status/2023")
	require.Equal(t, http.StatusOK, rr.Code)
	st := decode[map[string]any](t, rr)
	assert.Equal(t, float64(2023), st["year"])
	assert.Equal(t, float64(42), st["factRecords"])
	assert.Equal(t, map[string]any{"countries": float64(3), "hs2": float64(2), "hs4": float64(5)}, st["dimensions"])

	rr = do(t, h, http.MethodDelete, "/api/clear/all")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "All tables cleared successfully", decode[MessageResponse](t, rr).Message)

	rr = do(t, h, http.MethodDelete, "/api/clear/year/2022")
	require.Equal(t, http.StatusOK, rr.Code)
	cy := decode[map[string]any](t, rr)
	assert.Equal(t, "Tables cleared for year 2022 successfully", cy["message"])
	assert.Equal(t, float64(7), cy["factsDeleted"])

	rr = do(t, h, http.MethodGet, "/api/clear/status")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{
		"fact_export_th": float64(42), "dim_country": float64(3), "dim_hs2": float64(2), "dim_hs4": float64(5),
	}, decode[map[string]any](t, rr))

	rr = do(t, h, http.MethodGet, "/api/clear/all")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestClear_IntegrityFailure(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{resetErr: &multitable.IntegrityError{Err: errors.New("conn lost")}}
	h, _ := newTestServer(t, eng, &fakeStore{})

	rr := do(t, h, http.MethodDelete, "/api/clear/all")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "ETL_ERROR", decode[ErrorResponse](t, rr).Error)
}

func TestFacts(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	h, _ := newTestServer(t, &fakeEngine{}, store)

	rr := do(t, h, http.MethodGet, "/api/facts?page=2&size=5&year=2023&month=4")
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[storage.FactPage](t, rr)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 5, page.TotalPages)
	require.NotNil(t, store.lastQuery.Year)
	require.NotNil(t, store.lastQuery.Month)
	assert.Equal(t, 2023, *store.lastQuery.Year)
	assert.Equal(t, 4, *store.lastQuery.Month)

	rr = do(t, h, http.MethodGet, "/api/facts")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 10, store.lastQuery.Size)
	assert.Nil(t, store.lastQuery.Year)

	for _, target := range []string{"/api/facts?size=0", "/api/facts?month=13", "/api/facts?year=abc", "/api/facts?page=-1"} {
		assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, target).Code, target)
	}
}

func TestSummaries(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	h, _ := newTestServer(t, &fakeEngine{}, store)

	rr := do(t, h, http.MethodGet, "/api/facts/summary/year/2023")
	require.Equal(t, http.StatusOK, rr.Code)
	totals := decode[map[string]any](t, rr)
	assert.Equal(t, "1000.5", totals["totalThaipValue"])
	assert.Nil(t, store.lastMonth)

	rr = do(t, h, http.MethodGet, "/api/facts/summary/year/2023/month/6")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, store.lastMonth)
	assert.Equal(t, 6, *store.lastMonth)

	rr = do(t, h, http.MethodGet, "/api/facts/summary/2023/7?limit=3")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]\n", rr.Body.String())
	assert.Equal(t, 3, store.lastLimit)
	assert.Equal(t, 7, *store.lastMonth)

	rr = do(t, h, http.MethodGet, "/api/facts/top-countries/2023?limit=5")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]storage.RankedValue](t, rr), 1)
	assert.Equal(t, 5, store.lastLimit)

	rr = do(t, h, http.MethodGet, "/api/facts/top-hs2/2023")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, defaultLimit, store.lastLimit)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/facts/top-hs2/2023?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/data/facts/summary").Code)

	rr = do(t, h, http.MethodGet, "/api/data/facts/summary?year=2023&month=2")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, *store.lastMonth)
}

func TestDimensionsAndYears(t *testing.T) {
	t.Parallel()

	h, _ := newTestServer(t, &fakeEngine{}, &fakeStore{})

	rr := do(t, h, http.MethodGet, "/api/data/dimensions/hs4")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []HS4View{{HS4ID: 3, HS4Code: 101, Description: "Horses"}}, decode[[]HS4View](t, rr))

	rr = do(t, h, http.MethodGet, "/api/data/dimensions/countries")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []CountryView{{CountryID: 1, Country: "Japan"}}, decode[[]CountryView](t, rr))

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/data/dimensions/ports").Code)

	rr = do(t, h, http.MethodGet, "/api/data/years")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"2022", "2023"}, decode[[]string](t, rr))
}

func TestStoreFailureIsSanitized(t *testing.T) {
	t.Parallel()

	h, logs := newTestServer(t, &fakeEngine{}, &fakeStore{err: errors.New("relation fact_export_th does not exist")})

	rr := do(t, h, http.MethodGet, "/api/data/years")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	env := decode[ErrorResponse](t, rr)
	assert.Equal(t, "INTERNAL_ERROR", env.Error)
	assert.Equal(t, "years failed", env.Message)
	assert.Contains(t, logs.String(), "relation fact_export_th")
}

func TestHealthMetricsAndCORS(t *testing.T) {
	t.Parallel()

	h, _ := newTestServer(t, &fakeEngine{}, &fakeStore{})

	rr := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	rr = do(t, h, http.MethodGet, "/metrics")
	assert.Contains(t, rr.Body.String(), "etl_rows_total")

	req := httptest.NewRequest(http.MethodOptions, "/api/data/years", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = do(t, h, http.MethodGet, "/api/nope")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", decode[ErrorResponse](t, rr).Error)
}
