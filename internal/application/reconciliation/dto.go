package reconciliation

import (
	"strconv"

	"github.com/erp/stockrecon/internal/domain/reconciliation"
	"github.com/shopspring/decimal"
)

// ItemQuantitiesResponse represents the derived quantities of an item in API responses
type ItemQuantitiesResponse struct {
	Generation uint64 `json:"generation"`
	reconciliation.DerivedQuantities
}

// ToItemQuantitiesResponse converts derived quantities into a response
func ToItemQuantitiesResponse(d reconciliation.DerivedQuantities, generation uint64) *ItemQuantitiesResponse {
	return &ItemQuantitiesResponse{
		Generation:        generation,
		DerivedQuantities: d,
	}
}

// AllocationReport is the outcome of one allocation pass
type AllocationReport struct {
	Generation    uint64                            `json:"generation"`
	Results       []reconciliation.AllocationResult `json:"results"`
	Summary       []reconciliation.ItemSummary      `json:"summary"`
	StatusChanges []reconciliation.StatusChange     `json:"status_changes"`
}

// AllocationLineResponse is one stored request line with the generation it was allocated at
type AllocationLineResponse struct {
	Generation uint64 `json:"generation"`
	reconciliation.AllocationResult
}

// AllocationExport is an allocation report with the stage quantities of its items
type AllocationExport struct {
	*AllocationReport
	Quantities []reconciliation.DerivedQuantities `json:"quantities"`
}

// AllocateRequest is the body of an allocation request. Without batches the
// stored requests are allocated.
type AllocateRequest struct {
	Batches []BatchInput `json:"batches" binding:"omitempty,dive"`
}

// BatchInput is one request batch supplied by the caller
type BatchInput struct {
	Ref   string      `json:"ref" binding:"required,max=100"`
	Lines []LineInput `json:"lines" binding:"required,min=1,dive"`
}

// LineInput is one line of a supplied batch
type LineInput struct {
	LineRef      string          `json:"line_ref" binding:"max=100"`
	ItemCode     string          `json:"item_code" binding:"required_without=ItemName,max=100"`
	ItemName     string          `json:"item_name" binding:"max=200"`
	RequestedQty decimal.Decimal `json:"requested_qty"`
	Closed       bool            `json:"closed"`
}

// ToBatches converts the request into domain batches; nil when no batches were sent
func (r AllocateRequest) ToBatches() []reconciliation.RequestBatch {
	if len(r.Batches) == 0 {
		return nil
	}
	batches := make([]reconciliation.RequestBatch, 0, len(r.Batches))
	for _, b := range r.Batches {
		batch := reconciliation.RequestBatch{
			Ref:   b.Ref,
			Lines: make([]reconciliation.RequestLine, 0, len(b.Lines)),
		}
		for i, l := range b.Lines {
			lineRef := l.LineRef
			if lineRef == "" {
				lineRef = strconv.Itoa(i + 1)
			}
			batch.Lines = append(batch.Lines, reconciliation.RequestLine{
				LineRef:      lineRef,
				Item:         reconciliation.ItemRef{Code: l.ItemCode, Name: l.ItemName},
				RequestedQty: l.RequestedQty,
				Closed:       l.Closed,
			})
		}
		batches = append(batches, batch)
	}
	return batches
}
