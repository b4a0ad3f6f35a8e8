package reconciliation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/erp/stockrecon/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Record is one key-value row handed over by the source collaborator.
// The engine only reads records; it never writes to them.
type Record map[string]any

// Collection names a source record collection
type Collection string

const (
	CollectionRequests            Collection = "requests"
	CollectionPurchases           Collection = "purchases"
	CollectionPurchaseInspections Collection = "purchase_inspections"
	CollectionVendorInspections   Collection = "vendor_inspections"
	CollectionInternalIssues      Collection = "internal_issues"
	CollectionVendorIssues        Collection = "vendor_issues"
	CollectionVendorDeptOrders    Collection = "vendor_dept_orders"
	CollectionStockSnapshots      Collection = "stock_snapshots"
)

// AllCollections returns every collection the engine reads, in load order
func AllCollections() []Collection {
	return []Collection{
		CollectionRequests,
		CollectionPurchases,
		CollectionPurchaseInspections,
		CollectionVendorInspections,
		CollectionInternalIssues,
		CollectionVendorIssues,
		CollectionVendorDeptOrders,
		CollectionStockSnapshots,
	}
}

// String returns the collection name
func (c Collection) String() string {
	return string(c)
}

// IsValid returns true if the collection is one the engine knows about
func (c Collection) IsValid() bool {
	for _, known := range AllCollections() {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCollection validates a collection name coming from outside the engine
func ParseCollection(name string) (Collection, error) {
	c := Collection(strings.ToLower(strings.TrimSpace(name)))
	if !c.IsValid() {
		return "", shared.NewDomainError(shared.ErrUnknownCollection.Code, fmt.Sprintf("Unknown collection: %q", name))
	}
	return c, nil
}

// Snapshot is an immutable view of all source collections for one pass
type Snapshot struct {
	collections map[Collection][]Record
}

// NewSnapshot copies the given collections into a snapshot.
// Collections that are not present are treated as empty.
func NewSnapshot(collections map[Collection][]Record) *Snapshot {
	s := &Snapshot{collections: make(map[Collection][]Record, len(collections))}
	for c, records := range collections {
		copied := make([]Record, len(records))
		copy(copied, records)
		s.collections[c] = copied
	}
	return s
}

// EmptySnapshot returns a snapshot with no records
func EmptySnapshot() *Snapshot {
	return NewSnapshot(nil)
}

// Records returns the records of a collection
func (s *Snapshot) Records(c Collection) []Record {
	if s == nil {
		return nil
	}
	return s.collections[c]
}

// Count returns the number of records in a collection
func (s *Snapshot) Count(c Collection) int {
	return len(s.Records(c))
}

// Counts returns the record count of every known collection
func (s *Snapshot) Counts() map[Collection]int {
	counts := make(map[Collection]int, len(AllCollections()))
	for _, c := range AllCollections() {
		counts[c] = s.Count(c)
	}
	return counts
}

// ParseQuantity coerces a raw field value into a quantity.
// Strings may carry surrounding whitespace and thousands separators.
// The second return value is false for missing, non-numeric or malformed values.
func ParseQuantity(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return v, true
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero, false
		}
		return *v, true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt32(v), true
	case int64:
		return decimal.NewFromInt(v), true
	case uint:
		return decimal.NewFromUint64(uint64(v)), true
	case uint32:
		return decimal.NewFromUint64(uint64(v)), true
	case uint64:
		return decimal.NewFromUint64(v), true
	case float32:
		return parseFloat(float64(v))
	case float64:
		return parseFloat(v)
	case json.Number:
		return parseNumericString(v.String())
	case string:
		return parseNumericString(v)
	default:
		return decimal.Zero, false
	}
}

func parseFloat(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

func parseNumericString(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	s = strings.NewReplacer(",", "", "_", "", " ", "").Replace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Quantity returns the first candidate field that is present and numeric.
// Only one field of a record is ever read.
func (r Record) Quantity(fields FieldSet) (decimal.Decimal, bool) {
	for _, name := range fields.names {
		raw, ok := r[name]
		if !ok {
			continue
		}
		if q, ok := ParseQuantity(raw); ok {
			return q, true
		}
	}
	return decimal.Zero, false
}

// QuantityOrZero is Quantity with the missing case coerced to zero
func (r Record) QuantityOrZero(fields FieldSet) decimal.Decimal {
	q, _ := r.Quantity(fields)
	return q
}

// Identifier returns the raw value of the first candidate field that renders
// to a non-blank identifier. Numeric fields are rendered in decimal, so a code
// stored as 1042 reads as "1042".
func (r Record) Identifier(fields FieldSet) string {
	for _, name := range fields.names {
		if s, ok := identifierString(r[name]); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// identifierString renders the value kinds that can carry an identifier.
func identifierString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case json.Number:
		return v.String(), true
	case decimal.Decimal:
		return v.String(), true
	case int:
		return strconv.Itoa(v), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint:
		return strconv.FormatUint(uint64(v), 10), true
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// Bool reads the first candidate field that holds a recognizable flag
func (r Record) Bool(fields FieldSet) (value, ok bool) {
	for _, name := range fields.names {
		switch v := r[name].(type) {
		case bool:
			return v, true
		case string:
			switch NormalizeLoose(v) {
			case "TRUE", "YES", "Y", "1", "CLOSED":
				return true, true
			case "FALSE", "NO", "N", "0", "OPEN":
				return false, true
			}
		case float64:
			return v != 0, true
		case int:
			return v != 0, true
		case int64:
			return v != 0, true
		}
	}
	return false, false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp reads the first candidate field that holds a parseable time.
// Numbers are taken as Unix milliseconds.
func (r Record) Timestamp(fields FieldSet) (time.Time, bool) {
	for _, name := range fields.names {
		switch v := r[name].(type) {
		case time.Time:
			return v, true
		case *time.Time:
			if v != nil {
				return *v, true
			}
		case string:
			s := strings.TrimSpace(v)
			for _, layout := range timestampLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t, true
				}
			}
		default:
			if q, ok := ParseQuantity(v); ok {
				return time.UnixMilli(q.IntPart()), true
			}
		}
	}
	return time.Time{}, false
}
