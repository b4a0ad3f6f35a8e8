package reconciliation

import (
	"fmt"
	"strings"

	"github.com/erp/stockrecon/internal/domain/shared"
)

// FieldSet is an ordered list of candidate field names. Readers take the
// first candidate that is present on a record.
type FieldSet struct {
	names []string
}

// NewFieldSet validates and builds a FieldSet.
// The list must be non-empty and hold distinct, non-blank names.
func NewFieldSet(names ...string) (FieldSet, error) {
	if len(names) == 0 {
		return FieldSet{}, invalidConfig("field list must not be empty")
	}
	seen := make(map[string]struct{}, len(names))
	cleaned := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return FieldSet{}, invalidConfig("field name must not be blank")
		}
		if _, dup := seen[name]; dup {
			return FieldSet{}, invalidConfig(fmt.Sprintf("duplicate field name %q", name))
		}
		seen[name] = struct{}{}
		cleaned = append(cleaned, name)
	}
	return FieldSet{names: cleaned}, nil
}

// MustFieldSet is NewFieldSet for static field lists; it panics on invalid input
func MustFieldSet(names ...string) FieldSet {
	fs, err := NewFieldSet(names...)
	if err != nil {
		panic(err)
	}
	return fs
}

// Names returns a copy of the candidate names
func (f FieldSet) Names() []string {
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// IsZero returns true for an unset FieldSet
func (f FieldSet) IsZero() bool {
	return len(f.names) == 0
}

// String returns the candidates joined with a fallback arrow
func (f FieldSet) String() string {
	return strings.Join(f.names, " > ")
}

func invalidConfig(msg string) error {
	return shared.NewDomainError(shared.ErrInvalidConfiguration.Code, msg)
}

// ItemFields tells readers where a record keeps its item identity
type ItemFields struct {
	Code FieldSet
	Name FieldSet
}

// Validate checks both field lists are set
func (f ItemFields) Validate() error {
	if f.Code.IsZero() {
		return invalidConfig("item code fields must be configured")
	}
	if f.Name.IsZero() {
		return invalidConfig("item name fields must be configured")
	}
	return nil
}

// DefaultItemFields returns the item identity fields used across collections
func DefaultItemFields() ItemFields {
	return ItemFields{
		Code: MustFieldSet("itemCode", "code", "item_code", "materialCode"),
		Name: MustFieldSet("itemName", "name", "item_name", "materialName", "description"),
	}
}

// Profile holds the candidate field lists for every quantity the engine reads
type Profile struct {
	Items ItemFields

	PurchaseOrdered FieldSet
	PurchaseStatus  FieldSet

	// PurchaseAccepted falls back to the received quantity when no accepted figure exists.
	PurchaseAccepted FieldSet
	PurchaseReceived FieldSet

	VendorDeptAccepted FieldSet

	IssueQty      FieldSet
	IssueCategory FieldSet

	VendorIssueQty FieldSet

	// VendorReturned lists one field group per returned bucket; every group is summed.
	VendorReturned []FieldSet

	SnapshotRank    FieldSet
	SnapshotOpening FieldSet
	CreatedAt       FieldSet

	Requests RequestFields
}

// RequestFields locates the parts of a request record
type RequestFields struct {
	Ref       FieldSet
	Lines     FieldSet
	LineRef   FieldSet
	Requested FieldSet
	Closed    FieldSet
	Status    FieldSet
}

// DefaultProfile returns the field lists for the stock collections
func DefaultProfile() Profile {
	return Profile{
		Items:              DefaultItemFields(),
		PurchaseOrdered:    MustFieldSet("orderedQty", "orderQty", "qty", "quantity"),
		PurchaseStatus:     MustFieldSet("status", "poStatus"),
		PurchaseAccepted:   MustFieldSet("qtyAccepted", "acceptedQty", "okQty", "qtyReceived", "receivedQty"),
		PurchaseReceived:   MustFieldSet("qtyReceived", "receivedQty", "qtyAccepted", "acceptedQty"),
		VendorDeptAccepted: MustFieldSet("okQty", "qtyOk", "acceptedQty", "qtyAccepted"),
		IssueQty:           MustFieldSet("issuedQty", "issueQty", "qty", "quantity"),
		IssueCategory:      MustFieldSet("issueCategory", "category", "issueFrom", "source"),
		VendorIssueQty:     MustFieldSet("qty", "issuedQty", "issueQty", "quantity"),
		VendorReturned: []FieldSet{
			MustFieldSet("qtyAccepted", "acceptedQty", "okQty"),
			MustFieldSet("qtyRework", "reworkQty"),
			MustFieldSet("qtyRejected", "rejectedQty", "rejectQty"),
		},
		SnapshotRank:    MustFieldSet("closingStock", "closingQty", "currentStock", "stockQty", "openingQty", "openingStock"),
		SnapshotOpening: MustFieldSet("openingQty", "openingStock", "opening", "stockQty"),
		CreatedAt:       MustFieldSet("createdAt", "created_at", "updatedAt", "timestamp", "date"),
		Requests: RequestFields{
			Ref:       MustFieldSet("indentNo", "indentNumber", "refNo", "ref", "reference"),
			Lines:     MustFieldSet("items", "lines"),
			LineRef:   MustFieldSet("lineRef", "lineNo", "lineId"),
			Requested: MustFieldSet("requestedQty", "qty", "quantity"),
			Closed:    MustFieldSet("closed", "isClosed", "closedFlag"),
			Status:    MustFieldSet("status", "lineStatus"),
		},
	}
}

// WithItemFields returns a copy of the profile using the given item fields
func (p Profile) WithItemFields(fields ItemFields) Profile {
	p.Items = fields
	return p
}

// Validate ensures every field list is configured
func (p Profile) Validate() error {
	if err := p.Items.Validate(); err != nil {
		return err
	}
	required := []struct {
		name   string
		fields FieldSet
	}{
		{"purchase ordered", p.PurchaseOrdered},
		{"purchase status", p.PurchaseStatus},
		{"purchase accepted", p.PurchaseAccepted},
		{"purchase received", p.PurchaseReceived},
		{"vendor dept accepted", p.VendorDeptAccepted},
		{"issue quantity", p.IssueQty},
		{"issue category", p.IssueCategory},
		{"vendor issue quantity", p.VendorIssueQty},
		{"snapshot rank", p.SnapshotRank},
		{"snapshot opening", p.SnapshotOpening},
		{"created at", p.CreatedAt},
		{"request ref", p.Requests.Ref},
		{"request lines", p.Requests.Lines},
		{"request line ref", p.Requests.LineRef},
		{"request quantity", p.Requests.Requested},
		{"request closed", p.Requests.Closed},
		{"request status", p.Requests.Status},
	}
	for _, r := range required {
		if r.fields.IsZero() {
			return invalidConfig(r.name + " fields must be configured")
		}
	}
	if len(p.VendorReturned) == 0 {
		return invalidConfig("vendor returned field groups must be configured")
	}
	for _, group := range p.VendorReturned {
		if group.IsZero() {
			return invalidConfig("vendor returned field group must not be empty")
		}
	}
	return nil
}
