// Package export renders reconciliation results as spreadsheets.
package export

import (
	"fmt"
	"io"
	"strconv"

	"github.com/erp/stockrecon/internal/domain/reconciliation"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of the workbooks written by this package
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Sheet names of the allocation workbook
const (
	SheetAllocations   = "Allocations"
	SheetSummary       = "Summary"
	SheetStatusChanges = "Status Changes"
	SheetQuantities    = "Quantities"
)

// AllocationWorkbook is the content of an allocation export
type AllocationWorkbook struct {
	Generation    uint64
	Results       []reconciliation.AllocationResult
	Summary       []reconciliation.ItemSummary
	StatusChanges []reconciliation.StatusChange
	// Quantities is optional; the sheet is omitted when empty.
	Quantities []reconciliation.DerivedQuantities
}

var allocationHeader = []any{
	"Sequence", "Batch", "Serial", "Line", "Item Code", "Item Name", "Item Key",
	"Requested", "Total Supply", "Incoming", "Allocated Before", "Available Before",
	"Allocated", "Net Available", "Shortfall", "Closed", "Stored Closed", "Status",
}

var summaryHeader = []any{
	"Item Code", "Item Name", "Item Key", "Requested", "Supply", "Allocated", "Shortfall",
	"Lines", "Closed", "Open", "Skipped", "Unmatched",
}

var statusChangeHeader = []any{"Batch", "Line", "Item Key", "From", "To"}

var quantitiesHeader = []any{
	"Item Code", "Item Name", "Item Key", "Opening", "Purchase Accepted Gross", "Issued From Purchase",
	"Purchase Accepted", "Vendor Accepted Gross", "Issued From Vendor", "Vendor Accepted",
	"Vendor Issued Gross", "Vendor Returned", "Vendor Issued Net", "Issued From Raw Stock",
	"Closing Stock", "Ordered", "Received", "Incoming", "Matched",
}

// Write renders the workbook as XLSX into w
func (wb AllocationWorkbook) Write(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetAllocations); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	sw := sheetWriter{f: f, header: header}
	sw.table(SheetAllocations, allocationHeader, len(wb.Results), func(i int) []any {
		r := wb.Results[i]
		return []any{
			r.Sequence, r.BatchRef, r.Serial, r.LineRef, r.Item.Code, r.Item.Name, r.ItemKey,
			number(r.RequestedQty), number(r.TotalSupply), number(r.IncomingQty),
			number(r.CumulativeAllocatedBefore), number(r.AvailableBefore),
			number(r.AllocatedAmount), number(r.NetAvailable), number(r.Shortfall()),
			r.IsClosed, r.StoredClosed, string(r.Status),
		}
	})
	sw.table(SheetSummary, summaryHeader, len(wb.Summary), func(i int) []any {
		s := wb.Summary[i]
		return []any{
			s.Item.Code, s.Item.Name, s.ItemKey,
			number(s.TotalRequested), number(s.TotalSupply), number(s.TotalAllocated), number(s.Shortfall),
			s.Lines, s.ClosedLines, s.OpenLines, s.SkippedLines, s.UnmatchedLines,
		}
	})
	sw.table(SheetStatusChanges, statusChangeHeader, len(wb.StatusChanges), func(i int) []any {
		c := wb.StatusChanges[i]
		return []any{c.BatchRef, c.LineRef, c.ItemKey, closedLabel(c.From), closedLabel(c.To)}
	})
	if len(wb.Quantities) > 0 {
		sw.table(SheetQuantities, quantitiesHeader, len(wb.Quantities), func(i int) []any {
			q := wb.Quantities[i]
			return []any{
				q.Item.Code, q.Item.Name, q.ItemKey,
				number(q.OpeningQty), number(q.PurchaseAcceptedGross), number(q.IssuedFromPurchase),
				number(q.PurchaseAccepted), number(q.VendorAcceptedGross), number(q.IssuedFromVendor),
				number(q.VendorAccepted), number(q.VendorIssuedGross), number(q.VendorReturnedViaInspection),
				number(q.VendorIssuedNet), number(q.IssuedFromRawStock), number(q.ClosingStock),
				number(q.OrderedQty), number(q.ReceivedQty), number(q.IncomingPurchaseQty), q.Matched,
			}
		})
	}
	if sw.err != nil {
		return sw.err
	}

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:       "Allocation report",
		Description: "generation " + strconv.FormatUint(wb.Generation, 10),
	}); err != nil {
		return fmt.Errorf("failed to set document properties: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// sheetWriter keeps the first error so sheets can be written back to back
type sheetWriter struct {
	f      *excelize.File
	header int
	err    error
}

func (sw *sheetWriter) table(sheet string, header []any, rows int, row func(i int) []any) {
	if sw.err != nil {
		return
	}
	idx, err := sw.f.GetSheetIndex(sheet)
	if err != nil {
		sw.err = fmt.Errorf("invalid sheet %s: %w", sheet, err)
		return
	}
	if idx < 0 {
		if _, err := sw.f.NewSheet(sheet); err != nil {
			sw.err = fmt.Errorf("failed to create sheet %s: %w", sheet, err)
			return
		}
	}

	if err := sw.f.SetSheetRow(sheet, "A1", &header); err != nil {
		sw.err = fmt.Errorf("failed to write header of %s: %w", sheet, err)
		return
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := sw.f.SetCellStyle(sheet, "A1", last, sw.header); err != nil {
		sw.err = fmt.Errorf("failed to style header of %s: %w", sheet, err)
		return
	}
	lastCol, _, _ := excelize.SplitCellName(last)
	if err := sw.f.SetColWidth(sheet, "A", lastCol, 16); err != nil {
		sw.err = fmt.Errorf("failed to size columns of %s: %w", sheet, err)
		return
	}

	for i := 0; i < rows; i++ {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := row(i)
		if err := sw.f.SetSheetRow(sheet, cell, &values); err != nil {
			sw.err = fmt.Errorf("failed to write row %d of %s: %w", i+1, sheet, err)
			return
		}
	}
}

// number converts a quantity into a spreadsheet number
func number(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

func closedLabel(closed bool) string {
	if closed {
		return "closed"
	}
	return "open"
}
