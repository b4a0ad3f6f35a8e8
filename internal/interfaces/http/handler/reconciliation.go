package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	app "github.com/erp/stockrecon/internal/application/reconciliation"
	"github.com/erp/stockrecon/internal/domain/reconciliation"
	"github.com/erp/stockrecon/internal/infrastructure/export"
	"github.com/erp/stockrecon/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ReconciliationService is the part of the application service the HTTP API uses
type ReconciliationService interface {
	DerivedQuantities(ctx context.Context, item reconciliation.ItemRef) (*app.ItemQuantitiesResponse, error)
	StoredBatches(ctx context.Context) ([]reconciliation.RequestBatch, error)
	Allocate(ctx context.Context, batches []reconciliation.RequestBatch) (*app.AllocationReport, error)
	AllocationLine(ctx context.Context, batchRef string, item reconciliation.ItemRef, lineRef string) (*app.AllocationLineResponse, error)
	Export(ctx context.Context) (*app.AllocationExport, error)
	StatusChanges(ctx context.Context) ([]reconciliation.StatusChange, error)
	Invalidate(ctx context.Context, reason string) uint64
	Stats() reconciliation.CacheStats
}

var _ ReconciliationService = (*app.Service)(nil)

// ReconciliationHandler serves derived quantities and allocations
type ReconciliationHandler struct {
	BaseHandler
	service ReconciliationService
}

// NewReconciliationHandler creates a new ReconciliationHandler
func NewReconciliationHandler(service ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{service: service}
}

// RegisterRoutes mounts the reconciliation routes under rg
func (h *ReconciliationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/reconciliation")
	g.GET("/items", h.GetItem)
	g.GET("/items/:code", h.GetItem)
	g.GET("/batches", h.ListBatches)
	g.POST("/allocations", h.Allocate)
	g.GET("/allocations/line", h.GetAllocationLine)
	g.GET("/allocations/export", h.ExportAllocations)
	g.GET("/status-changes", h.ListStatusChanges)
	g.POST("/invalidate", h.Invalidate)
	g.GET("/stats", h.GetStats)
}

// itemQuery selects an item by code and/or name; the path code wins
type itemQuery struct {
	Code string `form:"code" binding:"max=100"`
	Name string `form:"name" binding:"max=200"`
}

// GetItem returns the derived stage quantities of one item
func (h *ReconciliationHandler) GetItem(c *gin.Context) {
	var q itemQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}
	if code := c.Param("code"); code != "" {
		q.Code = code
	}

	resp, err := h.service.DerivedQuantities(c.Request.Context(), reconciliation.ItemRef{Code: q.Code, Name: q.Name})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// ListBatches returns the stored requests decoded into batches
func (h *ReconciliationHandler) ListBatches(c *gin.Context) {
	batches, err := h.service.StoredBatches(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.List(c, batches, len(batches))
}

// Allocate runs the sequential allocation over the posted batches, or over
// the stored requests when the body carries none.
func (h *ReconciliationHandler) Allocate(c *gin.Context) {
	var req app.AllocateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.BindError(c, err)
			return
		}
	}

	report, err := h.service.Allocate(c.Request.Context(), req.ToBatches())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}

// lineQuery selects one stored request line
type lineQuery struct {
	Batch string `form:"batch" binding:"required,max=100"`
	Line  string `form:"line" binding:"required,max=100"`
	Code  string `form:"code" binding:"required_without=Name,max=100"`
	Name  string `form:"name" binding:"max=200"`
}

// GetAllocationLine returns the allocation of one stored request line
func (h *ReconciliationHandler) GetAllocationLine(c *gin.Context) {
	var q lineQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.BindError(c, err)
		return
	}

	item := reconciliation.ItemRef{Code: q.Code, Name: q.Name}
	resp, err := h.service.AllocationLine(c.Request.Context(), q.Batch, item, q.Line)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// ExportAllocations downloads the allocation of the stored requests as XLSX
func (h *ReconciliationHandler) ExportAllocations(c *gin.Context) {
	report, err := h.service.Export(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}

	var buf bytes.Buffer
	wb := export.AllocationWorkbook{
		Generation:    report.Generation,
		Results:       report.Results,
		Summary:       report.Summary,
		StatusChanges: report.StatusChanges,
		Quantities:    report.Quantities,
	}
	if err := wb.Write(&buf); err != nil {
		h.HandleError(c, err)
		return
	}

	logger.GetGinLogger(c).Debug("allocation exported",
		zap.Uint64("generation", report.Generation),
		zap.Int("lines", len(report.Results)),
		zap.Int("bytes", buf.Len()),
	)
	filename := fmt.Sprintf("allocations-g%d.xlsx", report.Generation)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}

// ListStatusChanges returns the closed-flag updates the stored requests need
func (h *ReconciliationHandler) ListStatusChanges(c *gin.Context) {
	changes, err := h.service.StatusChanges(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if changes == nil {
		changes = []reconciliation.StatusChange{}
	}
	h.List(c, changes, len(changes))
}

// InvalidateResponse reports the generation started by a manual reset
type InvalidateResponse struct {
	Generation uint64 `json:"generation"`
}

// Invalidate discards every cached figure; data is reloaded on the next query
func (h *ReconciliationHandler) Invalidate(c *gin.Context) {
	gen := h.service.Invalidate(c.Request.Context(), reconciliation.ReasonManual)
	logger.GetGinLogger(c).Info("reconciliation cache reset", zap.Uint64("generation", gen))
	h.Success(c, InvalidateResponse{Generation: gen})
}

// GetStats returns the cache statistics
func (h *ReconciliationHandler) GetStats(c *gin.Context) {
	h.Success(c, h.service.Stats())
}
