package reconciliation

import (
	"slices"

	"github.com/shopspring/decimal"
)

// RequestLine is one item line of a request batch
type RequestLine struct {
	LineRef      string          `json:"line_ref"`
	Item         ItemRef         `json:"item"`
	RequestedQty decimal.Decimal `json:"requested_qty"`
	// Closed is the flag currently stored on the line.
	Closed bool `json:"closed"`
}

// RequestBatch is a request document with its ordered lines
type RequestBatch struct {
	Ref   string        `json:"ref"`
	Lines []RequestLine `json:"lines"`
}

// Supply is what a provider knows about one item
type Supply struct {
	Available decimal.Decimal
	Incoming  decimal.Decimal
	Matched   bool
}

// SupplyProvider returns the supply of an item
type SupplyProvider interface {
	Supply(item ItemRef) Supply
}

// SupplyFunc adapts a function to SupplyProvider
type SupplyFunc func(item ItemRef) Supply

// Supply implements SupplyProvider
func (f SupplyFunc) Supply(item ItemRef) Supply {
	return f(item)
}

// LineStatus is the allocation outcome of a line
type LineStatus string

const (
	LineClosed    LineStatus = "closed"
	LineOpen      LineStatus = "open"
	LineSkipped   LineStatus = "skipped"
	LineUnmatched LineStatus = "unmatched"
)

// AllocationResult is the outcome of one request line
type AllocationResult struct {
	Sequence  int    `json:"sequence"`
	BatchRef  string `json:"batch_ref"`
	Serial    string `json:"serial,omitempty"`
	LineRef   string `json:"line_ref"`
	LineIndex int    `json:"line_index"`

	Item    ItemRef `json:"item"`
	ItemKey string  `json:"item_key"`

	RequestedQty              decimal.Decimal `json:"requested_qty"`
	TotalSupply               decimal.Decimal `json:"total_supply"`
	IncomingQty               decimal.Decimal `json:"incoming_qty"`
	CumulativeAllocatedBefore decimal.Decimal `json:"cumulative_allocated_before"`
	AvailableBefore           decimal.Decimal `json:"available_before"`
	AllocatedAmount           decimal.Decimal `json:"allocated_amount"`
	NetAvailable              decimal.Decimal `json:"net_available"`

	IsClosed     bool       `json:"is_closed"`
	StoredClosed bool       `json:"stored_closed"`
	Matched      bool       `json:"matched"`
	Status       LineStatus `json:"status"`
}

// Shortfall returns the requested quantity the line could not claim
func (r AllocationResult) Shortfall() decimal.Decimal {
	if r.Status == LineSkipped {
		return decimal.Zero
	}
	return clampZero(r.RequestedQty.Sub(r.AllocatedAmount))
}

// Key returns the cache key of the line
func (r AllocationResult) Key() LineKey {
	return LineKey{BatchRef: r.BatchRef, ItemKey: r.ItemKey, LineRef: r.LineRef}
}

// SortBatches returns the batches ordered by ascending serial.
// Batches with equal or missing serials keep their input order.
func SortBatches(batches []RequestBatch) []RequestBatch {
	type keyed struct {
		batch  RequestBatch
		serial Serial
	}
	items := make([]keyed, len(batches))
	for i, b := range batches {
		items[i] = keyed{batch: b, serial: ParseSerial(b.Ref)}
	}
	slices.SortStableFunc(items, func(a, b keyed) int {
		return a.serial.Compare(b.serial)
	})
	out := make([]RequestBatch, len(items))
	for i, it := range items {
		out[i] = it.batch
	}
	return out
}

// Allocate walks the batches in serial order and lets each line claim what
// earlier lines left of its item's supply. The returned results follow the
// processing order.
//
// Supply is looked up once per match key. Claims accumulate per item key, so
// lines spelling the same item differently draw from one running total.
func Allocate(batches []RequestBatch, supply SupplyProvider) []AllocationResult {
	ordered := SortBatches(batches)
	cumulative := make(map[string]decimal.Decimal)
	supplies := make(map[string]Supply)
	var results []AllocationResult

	for _, batch := range ordered {
		serial := ParseSerial(batch.Ref)
		for i, line := range batch.Lines {
			key := line.Item.Key()
			s, ok := supplies[line.Item.MatchKey()]
			if !ok {
				s = supply.Supply(line.Item)
				supplies[line.Item.MatchKey()] = s
			}
			before := cumulative[key]
			available := s.Available.Sub(before)

			res := AllocationResult{
				Sequence:                  len(results),
				BatchRef:                  batch.Ref,
				Serial:                    serial.String(),
				LineRef:                   line.LineRef,
				LineIndex:                 i,
				Item:                      line.Item,
				ItemKey:                   key,
				RequestedQty:              line.RequestedQty,
				TotalSupply:               s.Available,
				IncomingQty:               s.Incoming,
				CumulativeAllocatedBefore: before,
				AvailableBefore:           available,
				AllocatedAmount:           decimal.Zero,
				NetAvailable:              s.Available.Add(s.Incoming).Sub(before).Sub(line.RequestedQty),
				StoredClosed:              line.Closed,
				Matched:                   s.Matched,
			}

			switch {
			case !line.RequestedQty.IsPositive():
				res.Status = LineSkipped
			default:
				res.IsClosed = available.GreaterThanOrEqual(line.RequestedQty)
				res.AllocatedAmount = decimal.Min(clampZero(available), line.RequestedQty)
				cumulative[key] = before.Add(res.AllocatedAmount)
				switch {
				case res.IsClosed:
					res.Status = LineClosed
				case !s.Matched:
					res.Status = LineUnmatched
				default:
					res.Status = LineOpen
				}
			}
			results = append(results, res)
		}
	}
	return results
}

// ItemSummary totals the allocation of one item
type ItemSummary struct {
	ItemKey        string          `json:"item_key"`
	Item           ItemRef         `json:"item"`
	TotalRequested decimal.Decimal `json:"total_requested"`
	TotalSupply    decimal.Decimal `json:"total_supply"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	Shortfall      decimal.Decimal `json:"shortfall"`
	Lines          int             `json:"lines"`
	ClosedLines    int             `json:"closed_lines"`
	OpenLines      int             `json:"open_lines"`
	SkippedLines   int             `json:"skipped_lines"`
	UnmatchedLines int             `json:"unmatched_lines"`
}

// Summarize groups results per item in order of first appearance
func Summarize(results []AllocationResult) []ItemSummary {
	index := make(map[string]int)
	var out []ItemSummary
	for _, r := range results {
		i, ok := index[r.ItemKey]
		if !ok {
			i = len(out)
			index[r.ItemKey] = i
			out = append(out, ItemSummary{
				ItemKey:     r.ItemKey,
				Item:        r.Item,
				TotalSupply: r.TotalSupply,
			})
		}
		s := &out[i]
		s.Lines++
		switch r.Status {
		case LineClosed:
			s.ClosedLines++
		case LineOpen:
			s.OpenLines++
		case LineSkipped:
			s.SkippedLines++
			continue
		case LineUnmatched:
			s.UnmatchedLines++
		}
		s.TotalRequested = s.TotalRequested.Add(r.RequestedQty)
		s.TotalAllocated = s.TotalAllocated.Add(r.AllocatedAmount)
	}
	for i := range out {
		out[i].Shortfall = clampZero(out[i].TotalRequested.Sub(out[i].TotalAllocated))
	}
	return out
}

// StatusChange proposes a new closed flag for a stored request line
type StatusChange struct {
	BatchRef string `json:"batch_ref"`
	LineRef  string `json:"line_ref"`
	ItemKey  string `json:"item_key"`
	From     bool   `json:"from"`
	To       bool   `json:"to"`
}

// StatusChanges lists lines whose computed closed state differs from the
// stored flag. Skipped lines carry no opinion and are left alone.
func StatusChanges(results []AllocationResult) []StatusChange {
	var changes []StatusChange
	for _, r := range results {
		if r.Status == LineSkipped || r.IsClosed == r.StoredClosed {
			continue
		}
		changes = append(changes, StatusChange{
			BatchRef: r.BatchRef,
			LineRef:  r.LineRef,
			ItemKey:  r.ItemKey,
			From:     r.StoredClosed,
			To:       r.IsClosed,
		})
	}
	return changes
}
