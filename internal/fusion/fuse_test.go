package fusion

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profusion/internal/tabular"
)

func customerRow(id, city, state, age, ageGroup, gender string) tabular.Row {
	return tabular.Row{
		colCustomerID: id,
		colCity:       city,
		colState:      state,
		colAge:        age,
		colAgeGroup:   ageGroup,
		colGender:     gender,
	}
}

func TestDetectColumns(t *testing.T) {
	t.Run("all demographics present", func(t *testing.T) {
		got := DetectColumns(customerRow("C1", "Austin", "TX", "30", "26-35", "Female"))
		assert.Equal(t, ColumnPresence{Age: true, AgeGroup: true, Gender: true}, got)
	})

	t.Run("hyphenated age group key", func(t *testing.T) {
		got := DetectColumns(tabular.Row{colCustomerID: "C1", colAgeGroupAlt: "26-35"})
		assert.True(t, got.AgeGroup)
		assert.False(t, got.Age)
		assert.False(t, got.Gender)
	})

	t.Run("no demographics", func(t *testing.T) {
		got := DetectColumns(tabular.Row{colCustomerID: "C1", colCity: "Austin"})
		assert.Equal(t, ColumnPresence{}, got)
	})
}

func TestFuseProfiles(t *testing.T) {
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	t.Run("empty customer set is a merge error", func(t *testing.T) {
		_, err := FuseProfiles(nil, nil, 0, ColumnPresence{})
		var mergeErr *MergeError
		require.ErrorAs(t, err, &mergeErr)
	})

	t.Run("profile count equals customer row count", func(t *testing.T) {
		customers := []tabular.Row{
			customerRow("C1", "Austin", "TX", "30", "26-35", "Female"),
			customerRow("C2", "Dallas", "TX", "41", "36-45", "Male"),
			customerRow("C3", "Reno", "NV", "Unknown", "Unknown", "Unknown"),
		}
		orders := []tabular.Row{
			orderRow("C1", "10.00", "2024-01-01", "Shoes", "Card", "09:30"),
		}

		result, err := FuseProfiles(customers, AggregateOrders(orders, now), len(orders), ColumnPresence{Age: true, AgeGroup: true, Gender: true})
		require.NoError(t, err)
		assert.Len(t, result.Profiles, 3)
	})

	t.Run("customers without orders get zero-valued behavior", func(t *testing.T) {
		customers := []tabular.Row{
			customerRow("C1", "Austin", "TX", "", "", ""),
		}

		result, err := FuseProfiles(customers, map[string]*OrderAggregate{}, 0, ColumnPresence{})
		require.NoError(t, err)

		p := result.Profiles[0]
		assert.Equal(t, 0, p.TotalOrders)
		assert.Equal(t, 0.0, p.TotalSpend)
		assert.Equal(t, 0.0, p.AvgOrderValue)
		assert.Nil(t, p.LastPurchaseDate)
		assert.Nil(t, p.DaysSinceLastPurchase)
		assert.Equal(t, 0.0, p.PurchaseFrequency)
	})

	t.Run("unknown demographic cells become nil", func(t *testing.T) {
		customers := []tabular.Row{
			customerRow("C1", "Austin", "TX", "Unknown", "Unknown", "Unknown"),
			customerRow("C2", "Dallas", "TX", "41", "36-45", "Male"),
		}
		presence := ColumnPresence{Age: true, AgeGroup: true, Gender: true}

		result, err := FuseProfiles(customers, nil, 0, presence)
		require.NoError(t, err)

		assert.Nil(t, result.Profiles[0].Age)
		assert.Nil(t, result.Profiles[0].AgeGroup)
		assert.Nil(t, result.Profiles[0].Gender)

		require.NotNil(t, result.Profiles[1].Age)
		assert.Equal(t, 41, *result.Profiles[1].Age)
		require.NotNil(t, result.Profiles[1].Gender)
		assert.Equal(t, "Male", *result.Profiles[1].Gender)
	})

	t.Run("summary counts", func(t *testing.T) {
		customers := []tabular.Row{
			customerRow("C1", "Austin", "TX", "30", "26-35", "Female"),
			customerRow("C2", "Dallas", "TX", "", "", ""),
			customerRow("C3", "Reno", "NV", "", "", ""),
		}
		orders := []tabular.Row{
			orderRow("C1", "10.00", "2024-01-01", "Shoes", "Card", "09:30"),
			orderRow("C1", "20.00", "2024-02-01", "Shoes", "Card", "10:30"),
			orderRow("C2", "5.00", "2024-03-01", "Hat", "Cash", "18:30"),
		}

		result, err := FuseProfiles(customers, AggregateOrders(orders, now), len(orders), ColumnPresence{Age: true, AgeGroup: true, Gender: true})
		require.NoError(t, err)

		assert.Equal(t, 3, result.Summary.TotalCustomers)
		assert.Equal(t, 3, result.Summary.TotalOrders)
		assert.Equal(t, 2, result.Summary.CustomersWithOrders)
		assert.Equal(t, 1, result.Summary.CustomersWithoutOrders)
		assert.True(t, result.Summary.HasAgeData)
		assert.True(t, result.Summary.HasGenderData)
	})

	t.Run("order rows without a customer id still count in the total", func(t *testing.T) {
		customers := []tabular.Row{
			customerRow("C1", "Austin", "TX", "", "", ""),
		}
		orders := []tabular.Row{
			orderRow("C1", "10.00", "2024-01-01", "Shoes", "Card", "09:30"),
			orderRow("", "5.00", "2024-02-01", "Hat", "Cash", "18:30"),
		}

		result, err := FuseProfiles(customers, AggregateOrders(orders, now), len(orders), ColumnPresence{})
		require.NoError(t, err)

		assert.Equal(t, 2, result.Summary.TotalOrders)
		assert.Equal(t, 1, result.Summary.CustomersWithOrders)
		assert.Equal(t, 1, result.Profiles[0].TotalOrders)
	})

	t.Run("availability reflects presence and fused values", func(t *testing.T) {
		customers := []tabular.Row{
			customerRow("C1", "Austin", "TX", "", "", ""),
		}

		result, err := FuseProfiles(customers, map[string]*OrderAggregate{}, 0, ColumnPresence{})
		require.NoError(t, err)

		demographic := map[string]bool{}
		for _, a := range result.Availability.Demographic {
			demographic[a.Name] = a.Available
		}
		assert.False(t, demographic["age"])
		assert.False(t, demographic["ageGroup"])
		assert.False(t, demographic["gender"])

		behavioral := map[string]bool{}
		for _, a := range result.Availability.Behavioral {
			behavioral[a.Name] = a.Available
		}
		assert.True(t, behavioral["totalOrders"])
		assert.True(t, behavioral["totalSpend"])
		assert.False(t, behavioral["favoriteItem"])
		assert.False(t, behavioral["daysSinceLastPurchase"])
	})
}

func TestCustomerProfileMarshalJSON(t *testing.T) {
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	t.Run("demographic keys appear only when columns were present", func(t *testing.T) {
		customers := []tabular.Row{customerRow("C1", "Austin", "TX", "", "", "")}
		result, err := FuseProfiles(customers, nil, 0, ColumnPresence{})
		require.NoError(t, err)

		data, err := json.Marshal(result.Profiles[0])
		require.NoError(t, err)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.NotContains(t, decoded, "age")
		assert.NotContains(t, decoded, "ageGroup")
		assert.NotContains(t, decoded, "gender")
		assert.Contains(t, decoded, "customerid")
		assert.Contains(t, decoded, "totalSpend")
	})

	t.Run("present columns emit nulls for unknown cells", func(t *testing.T) {
		customers := []tabular.Row{customerRow("C1", "Austin", "TX", "Unknown", "Unknown", "Unknown")}
		result, err := FuseProfiles(customers, nil, 0, ColumnPresence{Age: true, AgeGroup: true, Gender: true})
		require.NoError(t, err)

		data, err := json.Marshal(result.Profiles[0])
		require.NoError(t, err)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Contains(t, decoded, "age")
		assert.Nil(t, decoded["age"])
		assert.Contains(t, decoded, "gender")
		assert.Nil(t, decoded["gender"])
	})

	t.Run("dates serialize as yyyy-mm-dd", func(t *testing.T) {
		customers := []tabular.Row{customerRow("C1", "Austin", "TX", "", "", "")}
		orders := []tabular.Row{orderRow("C1", "10.00", "2024-01-05", "Shoes", "Card", "09:30")}

		result, err := FuseProfiles(customers, AggregateOrders(orders, now), len(orders), ColumnPresence{})
		require.NoError(t, err)

		data, err := json.Marshal(result.Profiles[0])
		require.NoError(t, err)

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, "2024-01-05", decoded["lastPurchaseDate"])
		assert.Equal(t, "2024-01-05", decoded["firstPurchaseDate"])
	})
}
