package fusion

import (
	"strconv"
	"time"

	"profusion/internal/tabular"
)

// CSVHeader returns the merged-profile column order. Demographic columns
// appear only when the run detected them, keeping the stored CSV schema
// uniform with the profiles.
func (r *Result) CSVHeader() []string {
	header := []string{
		"customerid", "city", "state",
		"totalOrders", "totalSpend", "avgOrderValue",
		"lastPurchaseDate", "firstPurchaseDate", "daysSinceLastPurchase",
		"customerLifetimeMonths", "purchaseFrequency",
		"favoritePaymentMethod", "favoriteItem",
		"favoritePurchaseHour", "favoriteDayPart",
	}
	if r.Presence.Age {
		header = append(header, "age")
	}
	if r.Presence.AgeGroup {
		header = append(header, "ageGroup")
	}
	if r.Presence.Gender {
		header = append(header, "gender")
	}
	return header
}

// CSVRows converts the profiles into tabular rows matching CSVHeader.
// Null values serialize as empty cells.
func (r *Result) CSVRows() []tabular.Row {
	rows := make([]tabular.Row, 0, len(r.Profiles))
	for _, p := range r.Profiles {
		row := tabular.Row{
			"customerid":             p.CustomerID,
			"city":                   strOrEmpty(p.City),
			"state":                  strOrEmpty(p.State),
			"totalOrders":            strconv.Itoa(p.TotalOrders),
			"totalSpend":             formatFloat(p.TotalSpend),
			"avgOrderValue":          formatFloat(p.AvgOrderValue),
			"lastPurchaseDate":       dateOrEmpty(p.LastPurchaseDate),
			"firstPurchaseDate":      dateOrEmpty(p.FirstPurchaseDate),
			"daysSinceLastPurchase":  intOrEmpty(p.DaysSinceLastPurchase),
			"customerLifetimeMonths": strconv.Itoa(p.CustomerLifetimeMonths),
			"purchaseFrequency":      formatFloat(p.PurchaseFrequency),
			"favoritePaymentMethod":  strOrEmpty(p.FavoritePaymentMethod),
			"favoriteItem":           strOrEmpty(p.FavoriteItem),
			"favoritePurchaseHour":   intOrEmpty(p.FavoritePurchaseHour),
			"favoriteDayPart":        strOrEmpty(p.FavoriteDayPart),
		}
		if r.Presence.Age {
			row["age"] = intOrEmpty(p.Age)
		}
		if r.Presence.AgeGroup {
			row["ageGroup"] = strOrEmpty(p.AgeGroup)
		}
		if r.Presence.Gender {
			row["gender"] = strOrEmpty(p.Gender)
		}
		rows = append(rows, row)
	}
	return rows
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intOrEmpty(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func dateOrEmpty(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
