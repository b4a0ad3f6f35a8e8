package reconciliation

import (
	"strings"

	"github.com/shopspring/decimal"
)

// IssueCategory names the stage an internal issue draws material from
type IssueCategory string

const (
	IssueFromPurchase IssueCategory = "from-purchase"
	IssueFromVendor   IssueCategory = "from-vendor"
	IssueFromRawStock IssueCategory = "from-raw-stock"
)

// ParseIssueCategory maps a free-text category onto a stage.
// Anything that does not name purchase or vendor stock draws from raw stock.
func ParseIssueCategory(value any) IssueCategory {
	loose := NormalizeLoose(value)
	switch {
	case strings.Contains(loose, "PURCHASE"), strings.Contains(loose, "PSIR"):
		return IssueFromPurchase
	case strings.Contains(loose, "VENDOR"), strings.Contains(loose, "VSIR"):
		return IssueFromVendor
	default:
		return IssueFromRawStock
	}
}

var cancelledStatuses = map[string]struct{}{
	"CANCELLED": {},
	"CANCELED":  {},
	"VOID":      {},
	"REJECTED":  {},
}

// DerivedQuantities is the per-item result of one formula pass
type DerivedQuantities struct {
	ItemKey string  `json:"item_key"`
	Item    ItemRef `json:"item"`

	OpeningQty                  decimal.Decimal `json:"opening_qty"`
	PurchaseAcceptedGross       decimal.Decimal `json:"purchase_accepted_gross"`
	IssuedFromPurchase          decimal.Decimal `json:"issued_from_purchase"`
	PurchaseAccepted            decimal.Decimal `json:"purchase_accepted"`
	VendorAcceptedGross         decimal.Decimal `json:"vendor_accepted_gross"`
	IssuedFromVendor            decimal.Decimal `json:"issued_from_vendor"`
	VendorAccepted              decimal.Decimal `json:"vendor_accepted"`
	VendorIssuedGross           decimal.Decimal `json:"vendor_issued_gross"`
	VendorReturnedViaInspection decimal.Decimal `json:"vendor_returned_via_inspection"`
	VendorIssuedNet             decimal.Decimal `json:"vendor_issued_net"`
	IssuedFromRawStock          decimal.Decimal `json:"issued_from_raw_stock"`
	ClosingStock                decimal.Decimal `json:"closing_stock"`

	OrderedQty          decimal.Decimal `json:"ordered_qty"`
	ReceivedQty         decimal.Decimal `json:"received_qty"`
	IncomingPurchaseQty decimal.Decimal `json:"incoming_purchase_qty"`

	// Matched is false when no supply-side collection references the item.
	Matched bool `json:"matched"`
}

// FormulaEngine composes aggregator sums into per-item stage quantities
type FormulaEngine struct {
	agg     *Aggregator
	profile Profile
}

// NewFormulaEngine validates the profile and builds an engine
func NewFormulaEngine(profile Profile, opts ...AggregatorOption) (*FormulaEngine, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	agg, err := NewAggregator(profile.Items, opts...)
	if err != nil {
		return nil, err
	}
	return &FormulaEngine{agg: agg, profile: profile}, nil
}

// Aggregator returns the aggregator used by the engine
func (e *FormulaEngine) Aggregator() *Aggregator {
	return e.agg
}

// Profile returns the field profile used by the engine
func (e *FormulaEngine) Profile() Profile {
	return e.profile
}

// Derive computes the stage quantities of one item over a snapshot.
//
//	purchaseAccepted = max(0, PSIR accepted - issued from purchase)
//	vendorAccepted   = max(0, vendor dept ok - issued from vendor)
//	vendorIssuedNet  = max(0, vendor issued - VSIR accepted+rework+rejected)
//	closingStock     = opening + purchaseAccepted + vendorAccepted
//	                   - issued from raw stock - vendorIssuedNet
//
// vendorIssuedNet is only ever deducted from closing stock.
func (e *FormulaEngine) Derive(snap *Snapshot, item ItemRef) DerivedQuantities {
	p := e.profile
	d := DerivedQuantities{ItemKey: item.Key(), Item: item}
	matched := false
	track := func(sel Selection) Selection {
		if !sel.Empty() {
			matched = true
		}
		return sel
	}

	if best, ok := e.agg.Best(snap.Records(CollectionStockSnapshots), item, p.SnapshotRank, p.CreatedAt); ok {
		matched = true
		d.OpeningQty = best.QuantityOrZero(p.SnapshotOpening)
	}

	psir := track(e.agg.Select(snap.Records(CollectionPurchaseInspections), item))
	d.PurchaseAcceptedGross = SumSelection(psir, p.PurchaseAccepted)
	d.ReceivedQty = SumSelection(psir, p.PurchaseReceived)

	issues := track(e.agg.Select(snap.Records(CollectionInternalIssues), item))
	d.IssuedFromPurchase = SumSelection(e.byCategory(issues, IssueFromPurchase), p.IssueQty)
	d.IssuedFromVendor = SumSelection(e.byCategory(issues, IssueFromVendor), p.IssueQty)
	d.IssuedFromRawStock = SumSelection(e.byCategory(issues, IssueFromRawStock), p.IssueQty)

	d.PurchaseAccepted = clampZero(d.PurchaseAcceptedGross.Sub(d.IssuedFromPurchase))

	vendorDept := track(e.agg.Select(snap.Records(CollectionVendorDeptOrders), item))
	d.VendorAcceptedGross = SumSelection(vendorDept, p.VendorDeptAccepted)
	d.VendorAccepted = clampZero(d.VendorAcceptedGross.Sub(d.IssuedFromVendor))

	vendorIssues := track(e.agg.Select(snap.Records(CollectionVendorIssues), item))
	d.VendorIssuedGross = SumSelection(vendorIssues, p.VendorIssueQty)
	vsir := track(e.agg.Select(snap.Records(CollectionVendorInspections), item))
	d.VendorReturnedViaInspection = SumSelection(vsir, p.VendorReturned...)
	d.VendorIssuedNet = clampZero(d.VendorIssuedGross.Sub(d.VendorReturnedViaInspection))

	d.ClosingStock = d.OpeningQty.
		Add(d.PurchaseAccepted).
		Add(d.VendorAccepted).
		Sub(d.IssuedFromRawStock).
		Sub(d.VendorIssuedNet)

	purchases := track(e.agg.Select(snap.Records(CollectionPurchases), item, e.notCancelled))
	d.OrderedQty = SumSelection(purchases, p.PurchaseOrdered)
	d.IncomingPurchaseQty = clampZero(d.OrderedQty.Sub(d.ReceivedQty))

	d.Matched = matched
	return d
}

func (e *FormulaEngine) byCategory(sel Selection, category IssueCategory) Selection {
	out := Selection{Level: sel.Level}
	for _, rec := range sel.Records {
		if ParseIssueCategory(rec.Identifier(e.profile.IssueCategory)) == category {
			out.Records = append(out.Records, rec)
		}
	}
	return out
}

func (e *FormulaEngine) notCancelled(rec Record) bool {
	_, cancelled := cancelledStatuses[NormalizeLoose(rec.Identifier(e.profile.PurchaseStatus))]
	return !cancelled
}
