package handler

import (
	"github.com/erp/stockrecon/internal/domain/reconciliation"
	"github.com/erp/stockrecon/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SourceRecordHandler exposes the record store so collaborators can feed
// collections. Every write notifies the reconciliation service.
type SourceRecordHandler struct {
	BaseHandler
	store reconciliation.RecordStore
}

// NewSourceRecordHandler creates a new SourceRecordHandler
func NewSourceRecordHandler(store reconciliation.RecordStore) *SourceRecordHandler {
	return &SourceRecordHandler{store: store}
}

// RegisterRoutes mounts the record routes under rg
func (h *SourceRecordHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/records/:collection")
	g.GET("", h.List)
	g.POST("", h.Create)
	g.DELETE("/:id", h.Delete)
}

type collectionURI struct {
	Collection string `uri:"collection" binding:"required,collection"`
}

type recordURI struct {
	Collection string `uri:"collection" binding:"required,collection"`
	ID         string `uri:"id" binding:"required,uuid"`
}

// List returns the stored records of a collection, oldest first
func (h *SourceRecordHandler) List(c *gin.Context) {
	var uri collectionURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BindError(c, err)
		return
	}

	records, err := h.store.List(c.Request.Context(), reconciliation.Collection(uri.Collection))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.BaseHandler.List(c, records, len(records))
}

// Create stores the JSON object of the body as a new record
func (h *SourceRecordHandler) Create(c *gin.Context) {
	var uri collectionURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BindError(c, err)
		return
	}
	var data reconciliation.Record
	if err := c.ShouldBindJSON(&data); err != nil {
		h.BindError(c, err)
		return
	}
	if len(data) == 0 {
		h.BadRequest(c, "record must be a non-empty JSON object")
		return
	}

	rec, err := h.store.Create(c.Request.Context(), reconciliation.Collection(uri.Collection), data)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	logger.GetGinLogger(c).Debug("source record created",
		zap.String("collection", uri.Collection),
		zap.String("record_id", rec.ID.String()),
	)
	h.Created(c, rec)
}

// Delete removes one record
func (h *SourceRecordHandler) Delete(c *gin.Context) {
	var uri recordURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.BindError(c, err)
		return
	}

	id := uuid.MustParse(uri.ID)
	if err := h.store.Delete(c.Request.Context(), reconciliation.Collection(uri.Collection), id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}
