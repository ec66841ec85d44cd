package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		raw     string
		want    Type
		wantErr bool
	}{
		{"customer", TypeCustomer, false},
		{"Customer", TypeCustomer, false},
		{"ORDER", TypeOrder, false},
		{" order ", TypeOrder, false},
		{"invoice", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseType(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateHeader(t *testing.T) {
	customerHeader := []string{"CustomerID", "Date of Birth", "Gender", "City", "State"}
	orderHeader := []string{
		"OrderID", "CustomerID", "Purchase Item", "Purchase Date",
		"Item Price", "Purchase Quantity", "Total Spend", "Transaction Method",
	}

	t.Run("exact customer header passes", func(t *testing.T) {
		extra, err := ValidateHeader(TypeCustomer, customerHeader)
		require.NoError(t, err)
		assert.Empty(t, extra)
	})

	t.Run("exact order header passes", func(t *testing.T) {
		extra, err := ValidateHeader(TypeOrder, orderHeader)
		require.NoError(t, err)
		assert.Empty(t, extra)
	})

	t.Run("missing column rejects with its name", func(t *testing.T) {
		header := []string{"CustomerID", "Date of Birth", "Gender", "City"}
		_, err := ValidateHeader(TypeCustomer, header)

		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)
		assert.Equal(t, []string{"State"}, schemaErr.Missing)
	})

	t.Run("extra columns are reported but accepted", func(t *testing.T) {
		header := append(append([]string{}, customerHeader...), "Loyalty Tier", "Notes")
		extra, err := ValidateHeader(TypeCustomer, header)
		require.NoError(t, err)
		assert.Equal(t, []string{"Loyalty Tier", "Notes"}, extra)
	})

	t.Run("missing and extra are both enumerated", func(t *testing.T) {
		header := []string{"CustomerID", "Gender", "City", "State", "Nickname"}
		_, err := ValidateHeader(TypeCustomer, header)

		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)
		assert.Equal(t, []string{"Date of Birth"}, schemaErr.Missing)
		assert.Equal(t, []string{"Nickname"}, schemaErr.Extra)
	})

	t.Run("column match is case sensitive", func(t *testing.T) {
		header := []string{"customerid", "Date of Birth", "Gender", "City", "State"}
		_, err := ValidateHeader(TypeCustomer, header)

		var schemaErr *SchemaError
		require.ErrorAs(t, err, &schemaErr)
		assert.Equal(t, []string{"CustomerID"}, schemaErr.Missing)
	})
}
