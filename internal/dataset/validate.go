package dataset

import (
	"fmt"
	"strings"
)

// requiredColumns is the per-type upload schema. Matching is exact on the
// trimmed header names.
var requiredColumns = map[Type][]string{
	TypeCustomer: {"CustomerID", "Date of Birth", "Gender", "City", "State"},
	TypeOrder: {
		"OrderID", "CustomerID", "Purchase Item", "Purchase Date",
		"Item Price", "Purchase Quantity", "Total Spend", "Transaction Method",
	},
}

// RequiredColumns returns the required header set for a dataset type.
func RequiredColumns(t Type) []string {
	cols := requiredColumns[t]
	out := make([]string, len(cols))
	copy(out, cols)
	return out
}

// SchemaError rejects an upload whose header misses required columns. The
// missing names are enumerated for the user.
type SchemaError struct {
	Missing []string
	Extra   []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("dataset: missing required columns: %s", strings.Join(e.Missing, ", "))
}

// ValidateHeader checks an uploaded header against the type's required
// column set. Missing columns reject the upload; extra columns are
// reported back but accepted.
func ValidateHeader(t Type, header []string) (extra []string, err error) {
	required := requiredColumns[t]
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		seen[h] = true
	}

	var missing []string
	for _, col := range required {
		if !seen[col] {
			missing = append(missing, col)
		}
	}

	requiredSet := make(map[string]bool, len(required))
	for _, col := range required {
		requiredSet[col] = true
	}
	for _, h := range header {
		if !requiredSet[h] {
			extra = append(extra, h)
		}
	}

	if len(missing) > 0 {
		return extra, &SchemaError{Missing: missing, Extra: extra}
	}
	return extra, nil
}
