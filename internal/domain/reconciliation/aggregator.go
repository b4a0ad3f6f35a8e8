package reconciliation

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultMinContainsLength is the shortest loose key allowed to take part in
// substring matching.
const DefaultMinContainsLength = 3

// MatchLevel ranks how a record matched a target item. Lower levels win.
type MatchLevel int

const (
	MatchNone MatchLevel = iota
	MatchExactCode
	MatchExactName
	MatchLoose
	MatchContains
)

// String returns the level name
func (l MatchLevel) String() string {
	switch l {
	case MatchExactCode:
		return "exact_code"
	case MatchExactName:
		return "exact_name"
	case MatchLoose:
		return "loose"
	case MatchContains:
		return "contains"
	default:
		return "none"
	}
}

// ItemRef identifies an item by its authoritative code and its fallback name
type ItemRef struct {
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
}

// Key returns the canonical key of the item. The loose code is used when
// present; otherwise the loose name, prefixed so it never collides with a code.
func (i ItemRef) Key() string {
	if code := NormalizeLoose(i.Code); code != "" {
		return code
	}
	if name := NormalizeLoose(i.Name); name != "" {
		return "~" + name
	}
	return ""
}

// MatchKey identifies the target as matching sees it: the strict forms of
// both code and name. Two refs with equal match keys select the same records.
func (i ItemRef) MatchKey() string {
	return Normalize(i.Code) + "\x1f" + Normalize(i.Name)
}

// IsZero returns true when the reference carries neither code nor name
func (i ItemRef) IsZero() bool {
	return i.Key() == ""
}

// RecordFilter selects records before they are matched
type RecordFilter func(Record) bool

// Selection is the set of records chosen for a target and the tier they came from
type Selection struct {
	Records []Record
	Level   MatchLevel
}

// Empty returns true when nothing matched
func (s Selection) Empty() bool {
	return len(s.Records) == 0
}

// Aggregator sums quantities of records matching an item.
//
// Every record is matched independently at the first level it satisfies:
// exact code, exact name, loose key, then containment. All matched records
// contribute. A record whose code conflicts with the target's code never
// matches.
type Aggregator struct {
	fields            ItemFields
	minContainsLength int
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

// WithMinContainsLength sets the shortest key usable for substring matching
func WithMinContainsLength(n int) AggregatorOption {
	return func(a *Aggregator) {
		a.minContainsLength = n
	}
}

// NewAggregator creates an aggregator reading item identity from the given fields
func NewAggregator(fields ItemFields, opts ...AggregatorOption) (*Aggregator, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	a := &Aggregator{
		fields:            fields,
		minContainsLength: DefaultMinContainsLength,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.minContainsLength < 1 {
		return nil, invalidConfig("minimum contains length must be at least 1")
	}
	return a, nil
}

// ItemOf reads the item reference stored on a record
func (a *Aggregator) ItemOf(rec Record) ItemRef {
	return ItemRef{
		Code: rec.Identifier(a.fields.Code),
		Name: rec.Identifier(a.fields.Name),
	}
}

// Match returns the level at which a record matches the target
func (a *Aggregator) Match(rec Record, target ItemRef) MatchLevel {
	targetCode := Normalize(target.Code)
	targetName := Normalize(target.Name)
	if targetCode == "" && targetName == "" {
		return MatchNone
	}
	item := a.ItemOf(rec)
	code := Normalize(item.Code)
	name := Normalize(item.Name)

	if targetCode != "" && code != "" {
		if code == targetCode {
			return MatchExactCode
		}
		if NormalizeLoose(code) != NormalizeLoose(targetCode) {
			return MatchNone
		}
	}
	if targetName != "" && name != "" && name == targetName {
		return MatchExactName
	}

	targetKeys := nonEmpty(NormalizeLoose(targetCode), NormalizeLoose(targetName))
	recordKeys := nonEmpty(NormalizeLoose(code), NormalizeLoose(name))
	for _, tk := range targetKeys {
		for _, rk := range recordKeys {
			if tk == rk {
				return MatchLoose
			}
		}
	}

	if a.contains(rec, targetKeys) {
		return MatchContains
	}
	return MatchNone
}

func (a *Aggregator) contains(rec Record, targetKeys []string) bool {
	for _, raw := range rec {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		value := NormalizeLoose(s)
		if value == "" {
			continue
		}
		for _, tk := range targetKeys {
			if min(len(value), len(tk)) < a.minContainsLength {
				continue
			}
			if strings.Contains(value, tk) || strings.Contains(tk, value) {
				return true
			}
		}
	}
	return false
}

func nonEmpty(values ...string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Select returns every record matching the target. Each record is judged on
// its own and Level is the strongest level among them.
func (a *Aggregator) Select(records []Record, target ItemRef, filters ...RecordFilter) Selection {
	sel := Selection{Level: MatchNone}
	for _, rec := range records {
		if !accept(rec, filters) {
			continue
		}
		level := a.Match(rec, target)
		if level == MatchNone {
			continue
		}
		sel.Records = append(sel.Records, rec)
		if sel.Level == MatchNone || level < sel.Level {
			sel.Level = level
		}
	}
	return sel
}

func accept(rec Record, filters []RecordFilter) bool {
	for _, f := range filters {
		if !f(rec) {
			return false
		}
	}
	return true
}

// Sum adds the first present quantity field of every selected record.
// The result is never negative.
func (a *Aggregator) Sum(records []Record, target ItemRef, fields FieldSet, filters ...RecordFilter) decimal.Decimal {
	return a.SumEach(records, target, []FieldSet{fields}, filters...)
}

// SumEach is Sum over several field groups: each group contributes its own
// first present field per record.
func (a *Aggregator) SumEach(records []Record, target ItemRef, groups []FieldSet, filters ...RecordFilter) decimal.Decimal {
	return SumSelection(a.Select(records, target, filters...), groups...)
}

// SumSelection totals field groups over an existing selection, clamped at zero
func SumSelection(sel Selection, groups ...FieldSet) decimal.Decimal {
	total := decimal.Zero
	for _, rec := range sel.Records {
		for _, group := range groups {
			total = total.Add(rec.QuantityOrZero(group))
		}
	}
	return clampZero(total)
}

// Best returns the selected record with the largest rank value.
// Ties go to the most recently created record, then to the later record.
func (a *Aggregator) Best(records []Record, target ItemRef, rank, createdAt FieldSet) (Record, bool) {
	sel := a.Select(records, target)
	if sel.Empty() {
		return nil, false
	}
	bestIdx := 0
	bestRank := sel.Records[0].QuantityOrZero(rank)
	bestTime, _ := sel.Records[0].Timestamp(createdAt)
	for i := 1; i < len(sel.Records); i++ {
		rec := sel.Records[i]
		r := rec.QuantityOrZero(rank)
		t, _ := rec.Timestamp(createdAt)
		cmp := r.Cmp(bestRank)
		if cmp > 0 || (cmp == 0 && !t.Before(bestTime)) {
			bestIdx, bestRank, bestTime = i, r, t
		}
	}
	return sel.Records[bestIdx], true
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
