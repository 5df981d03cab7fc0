package domain

import "strings"

// Operation is the per-row directive of a CSV import.
type Operation string

const (
	OpKeep    Operation = "KEEP"
	OpUpdate  Operation = "UPDATE"
	OpPrepare Operation = "PREPARE"
	OpPublish Operation = "PUBLISH"
	OpDelete  Operation = "DELETE"
)

// ParseOperation parses a directive case-insensitively. A blank directive is
// rejected: skipping a row takes an explicit KEEP.
func ParseOperation(s string) (Operation, bool) {
	op := Operation(strings.ToUpper(strings.TrimSpace(s)))
	switch op {
	case OpKeep, OpUpdate, OpPrepare, OpPublish, OpDelete:
		return op, true
	default:
		return "", false
	}
}

// IsWrite reports whether the operation mutates the record's fields.
func (o Operation) IsWrite() bool {
	return o == OpUpdate || o == OpPrepare || o == OpPublish
}

// TabularRow is a flat projection of a ListingRecord for the CSV boundary.
// Values are keyed by column name; absent or empty cells mean "no change".
type TabularRow struct {
	Line   int // 1-based line number in the source file (header is line 1)
	Values map[string]string
}

// Get returns the trimmed value of a column.
func (r TabularRow) Get(col string) string {
	return strings.TrimSpace(r.Values[col])
}

// Has reports whether a column carries a non-empty value.
func (r TabularRow) Has(col string) bool {
	return r.Get(col) != ""
}
