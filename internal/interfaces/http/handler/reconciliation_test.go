package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	app "github.com/erp/stockrecon/internal/application/reconciliation"
	"github.com/erp/stockrecon/internal/domain/reconciliation"
	"github.com/erp/stockrecon/internal/infrastructure/export"
	"github.com/erp/stockrecon/internal/infrastructure/persistence"
	"github.com/erp/stockrecon/internal/interfaces/http/dto"
	"github.com/erp/stockrecon/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// testAPI wires the record store, the service and both handlers the way the server does
type testAPI struct {
	engine  *gin.Engine
	store   *persistence.MemoryStore
	service *app.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	middleware.SetupValidator()

	formula, err := reconciliation.NewFormulaEngine(reconciliation.DefaultProfile())
	require.NoError(t, err)

	store := persistence.NewMemoryStore()
	svc := app.NewService(store, formula, app.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })

	engine := gin.New()
	engine.Use(middleware.RequestID())
	api := engine.Group("/api/v1")
	NewReconciliationHandler(svc).RegisterRoutes(api)
	NewSourceRecordHandler(store).RegisterRoutes(api)

	return &testAPI{engine: engine, store: store, service: svc}
}

func (a *testAPI) seed(t *testing.T, collection reconciliation.Collection, records ...reconciliation.Record) {
	t.Helper()
	for _, r := range records {
		_, err := a.store.Create(context.Background(), collection, r)
		require.NoError(t, err)
	}
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

// decodeData unmarshals the data field of a success envelope into T
func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Success bool      `json:"success"`
		Data    T         `json:"data"`
		Meta    *dto.Meta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	require.True(t, env.Success, w.Body.String())
	return env.Data
}

func (a *testAPI) seedBoltStock(t *testing.T) {
	t.Helper()
	a.seed(t, reconciliation.CollectionStockSnapshots,
		reconciliation.Record{"itemCode": "BOLT-1", "itemName": "Hex bolt", "openingQty": 50})
	a.seed(t, reconciliation.CollectionPurchases,
		reconciliation.Record{"itemCode": "BOLT-1", "orderedQty": 40, "status": "open"})
	a.seed(t, reconciliation.CollectionRequests,
		reconciliation.Record{"indentNo": "IND-2", "items": []any{
			map[string]any{"itemCode": "BOLT-1", "requestedQty": 30, "closed": true},
		}},
		reconciliation.Record{"indentNo": "IND-1", "items": []any{
			map[string]any{"itemCode": "BOLT-1", "requestedQty": 30},
		}},
	)
}

func TestReconciliationHandler_GetItem(t *testing.T) {
	api := newTestAPI(t)
	api.seedBoltStock(t)

	t.Run("by path code", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/reconciliation/items/bolt-1", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		got := decodeData[app.ItemQuantitiesResponse](t, w)
		assert.True(t, got.Matched)
		assert.Equal(t, "BOLT1", got.ItemKey)
		assert.Equal(t, "50", got.ClosingStock.String())
		assert.Equal(t, "40", got.IncomingPurchaseQty.String())
	})

	t.Run("by name query", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/reconciliation/items?name=hex+bolt", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		got := decodeData[app.ItemQuantitiesResponse](t, w)
		assert.True(t, got.Matched)
	})

	t.Run("unknown item is unmatched", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/reconciliation/items/NUT-9", nil)
		require.Equal(t, http.StatusOK, w.Code)

		got := decodeData[app.ItemQuantitiesResponse](t, w)
		assert.False(t, got.Matched)
		assert.True(t, got.ClosingStock.IsZero())
	})

	t.Run("missing code and name", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/reconciliation/items", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidInput, decode(t, w).Error.Code)
	})
}

func TestReconciliationHandler_Allocate(t *testing.T) {
	api := newTestAPI(t)
	api.seedBoltStock(t)

	t.Run("stored requests when the body is empty", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/reconciliation/allocations", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		report := decodeData[app.AllocationReport](t, w)
		require.Len(t, report.Results, 2)
		assert.Equal(t, "IND-1", report.Results[0].BatchRef)
		assert.Equal(t, "30", report.Results[0].AllocatedAmount.String())
		assert.Equal(t, "20", report.Results[1].AllocatedAmount.String())
		assert.Len(t, report.StatusChanges, 2)
	})

	t.Run("supplied batches", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/reconciliation/allocations", map[string]any{
			"batches": []map[string]any{{
				"ref": "REQ-5",
				"lines": []map[string]any{
					{"item_code": "BOLT-1", "requested_qty": "70"},
				},
			}},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		report := decodeData[app.AllocationReport](t, w)
		require.Len(t, report.Results, 1)
		assert.Equal(t, "1", report.Results[0].LineRef)
		assert.Equal(t, "50", report.Results[0].AllocatedAmount.String())
		assert.False(t, report.Results[0].IsClosed)
	})

	t.Run("line without item is rejected", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/reconciliation/allocations", map[string]any{
			"batches": []map[string]any{{
				"ref":   "REQ-6",
				"lines": []map[string]any{{"requested_qty": "1"}},
			}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decode(t, w)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
		assert.NotEmpty(t, resp.Error.Details)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/reconciliation/allocations", "{not json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidJSON, decode(t, w).Error.Code)
	})
}

func TestReconciliationHandler_BatchesAndStatusChanges(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/api/v1/reconciliation/status-changes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeData[[]reconciliation.StatusChange](t, w))

	api.seedBoltStock(t)

	w = api.do(http.MethodGet, "/api/v1/reconciliation/batches", nil)
	require.Equal(t, http.StatusOK, w.Code)
	batches := decodeData[[]reconciliation.RequestBatch](t, w)
	require.Len(t, batches, 2)
	assert.Equal(t, "IND-2", batches[0].Ref)

	w = api.do(http.MethodGet, "/api/v1/reconciliation/status-changes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	changes := decodeData[[]reconciliation.StatusChange](t, w)
	assert.Len(t, changes, 2)
}

func TestReconciliationHandler_Export(t *testing.T) {
	api := newTestAPI(t)
	api.seedBoltStock(t)

	w := api.do(http.MethodGet, "/api/v1/reconciliation/allocations/export", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, export.ContentType, w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Disposition"), "attachment; filename=\"allocations-g"))
	// xlsx files are zip archives
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))
}

func TestReconciliationHandler_GetAllocationLine(t *testing.T) {
	api := newTestAPI(t)
	api.seedBoltStock(t)

	w := api.do(http.MethodGet, "/api/v1/reconciliation/allocations/line?batch=IND-2&code=BOLT-1&line=1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decodeData[app.AllocationLineResponse](t, w)
	assert.Equal(t, "IND-2", got.BatchRef)
	assert.Equal(t, "20", got.AllocatedAmount.String())
	assert.Equal(t, reconciliation.LineOpen, got.Status)

	w = api.do(http.MethodGet, "/api/v1/reconciliation/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decodeData[reconciliation.CacheStats](t, w).Lines)

	t.Run("unknown line", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/reconciliation/allocations/line?batch=IND-2&code=BOLT-1&line=7", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing item", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/reconciliation/allocations/line?batch=IND-2&line=1", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestReconciliationHandler_InvalidateAndStats(t *testing.T) {
	api := newTestAPI(t)
	api.seedBoltStock(t)

	w := api.do(http.MethodGet, "/api/v1/reconciliation/items/BOLT-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	before := decodeData[app.ItemQuantitiesResponse](t, w)

	w = api.do(http.MethodPost, "/api/v1/reconciliation/invalidate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	inv := decodeData[InvalidateResponse](t, w)
	assert.Greater(t, inv.Generation, before.Generation)

	w = api.do(http.MethodGet, "/api/v1/reconciliation/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decodeData[reconciliation.CacheStats](t, w)
	assert.Equal(t, inv.Generation, stats.Generation)
	assert.Zero(t, stats.DerivedItems)
}

func TestReconciliationHandler_RecordWriteRefreshesQuantities(t *testing.T) {
	api := newTestAPI(t)
	api.seedBoltStock(t)

	w := api.do(http.MethodGet, "/api/v1/reconciliation/items/BOLT-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "50", decodeData[app.ItemQuantitiesResponse](t, w).ClosingStock.String())

	w = api.do(http.MethodPost, "/api/v1/records/internal_issues", map[string]any{
		"itemCode": "BOLT-1", "issuedQty": 12, "issueCategory": "raw stock",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(http.MethodGet, "/api/v1/reconciliation/items/BOLT-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeData[app.ItemQuantitiesResponse](t, w)
	assert.Equal(t, "12", got.IssuedFromRawStock.String())
	assert.Equal(t, "38", got.ClosingStock.String())
}
