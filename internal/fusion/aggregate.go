package fusion

import (
	"math"
	"strconv"
	"strings"
	"time"

	"profusion/internal/tabular"
)

// Cleaned order datasets carry lowercase column names.
const (
	colCustomerID  = "customerid"
	colTotalSpend  = "total spend"
	colQuantity    = "purchase quantity"
	colDate        = "purchase date"
	colItem        = "purchase item"
	colPayment     = "transaction method"
	colTime        = "purchase time"
	colCity        = "city"
	colState       = "state"
	colAge         = "age"
	colAgeGroup    = "age_group"
	colAgeGroupAlt = "age-group"
	colGender      = "gender"
)

const dateLayout = "2006-01-02"

// Day-part buckets for an hour of day.
const (
	DayPartNight     = "Night"     // 0-5
	DayPartMorning   = "Morning"   // 6-11
	DayPartAfternoon = "Afternoon" // 12-17
	DayPartEvening   = "Evening"   // 18-23
)

// OrderAggregate holds the behavioral metrics derived from one customer's
// order rows. All derived fields are pure functions of the rows and the
// supplied clock; favorites break ties by first occurrence.
type OrderAggregate struct {
	CustomerID             string
	TotalOrders            int
	TotalSpend             float64
	AvgOrderValue          float64
	FirstPurchaseDate      *time.Time
	LastPurchaseDate       *time.Time
	DaysSinceLastPurchase  *int
	CustomerLifetimeMonths int
	PurchaseFrequency      float64
	FavoritePaymentMethod  *string
	FavoriteItem           *string
	FavoritePurchaseHour   *int
	FavoriteDayPart        *string
}

// accumulator collects raw per-customer values during the single pass.
type accumulator struct {
	totalSpend float64
	orders     int
	dates      []time.Time
	items      []string
	payments   []string
	hours      []int
}

// AggregateOrders groups order rows by customer id and computes behavioral
// metrics. Recency is measured against the injected now, keeping the
// function deterministic for a fixed clock. Rows without a customer id are
// excluded; unparsable numeric cells count as zero rather than skipping the
// row.
func AggregateOrders(rows []tabular.Row, now time.Time) map[string]*OrderAggregate {
	accs := make(map[string]*accumulator)
	order := make([]string, 0)

	for _, row := range rows {
		customerID := strings.TrimSpace(row[colCustomerID])
		if customerID == "" {
			continue
		}

		acc, ok := accs[customerID]
		if !ok {
			acc = &accumulator{}
			accs[customerID] = acc
			order = append(order, customerID)
		}

		spend, err := strconv.ParseFloat(strings.TrimSpace(row[colTotalSpend]), 64)
		if err != nil {
			spend = 0
		}
		// Purchase quantity is parsed for completeness but feeds no metric yet.
		_, _ = strconv.Atoi(strings.TrimSpace(row[colQuantity]))

		acc.totalSpend += spend
		acc.orders++

		if raw := strings.TrimSpace(row[colDate]); raw != "" {
			if d, err := time.Parse(dateLayout, raw); err == nil {
				acc.dates = append(acc.dates, d)
			}
		}
		if item := strings.TrimSpace(row[colItem]); item != "" {
			acc.items = append(acc.items, item)
		}
		if method := strings.TrimSpace(row[colPayment]); method != "" {
			acc.payments = append(acc.payments, method)
		}
		if h, ok := parseHour(row[colTime]); ok {
			acc.hours = append(acc.hours, h)
		}
	}

	aggregates := make(map[string]*OrderAggregate, len(accs))
	for _, customerID := range order {
		aggregates[customerID] = accs[customerID].finalize(customerID, now)
	}
	return aggregates
}

func (a *accumulator) finalize(customerID string, now time.Time) *OrderAggregate {
	agg := &OrderAggregate{
		CustomerID:  customerID,
		TotalOrders: a.orders,
		TotalSpend:  round2(a.totalSpend),
	}
	if a.orders > 0 {
		agg.AvgOrderValue = round2(a.totalSpend / float64(a.orders))
	}

	if len(a.dates) > 0 {
		first, last := a.dates[0], a.dates[0]
		for _, d := range a.dates[1:] {
			if d.Before(first) {
				first = d
			}
			if d.After(last) {
				last = d
			}
		}
		agg.FirstPurchaseDate = &first
		agg.LastPurchaseDate = &last

		days := int(now.Sub(last).Hours() / 24)
		agg.DaysSinceLastPurchase = &days

		lifetimeDays := last.Sub(first).Hours() / 24
		agg.CustomerLifetimeMonths = int(lifetimeDays / 30)
	}

	if agg.CustomerLifetimeMonths > 0 {
		agg.PurchaseFrequency = round2(float64(a.orders) / float64(agg.CustomerLifetimeMonths))
	} else if a.orders > 0 {
		// Customer younger than a month: the raw order count stands in.
		agg.PurchaseFrequency = float64(a.orders)
	}

	if fav, ok := mode(a.payments); ok {
		agg.FavoritePaymentMethod = &fav
	}
	if fav, ok := mode(a.items); ok {
		agg.FavoriteItem = &fav
	}
	if len(a.hours) > 0 {
		hourNames := make([]string, len(a.hours))
		dayParts := make([]string, len(a.hours))
		for i, h := range a.hours {
			hourNames[i] = strconv.Itoa(h)
			dayParts[i] = DayPart(h)
		}
		if fav, ok := mode(hourNames); ok {
			h, _ := strconv.Atoi(fav)
			agg.FavoritePurchaseHour = &h
		}
		if fav, ok := mode(dayParts); ok {
			agg.FavoriteDayPart = &fav
		}
	}

	return agg
}

// mode returns the most frequent value; ties resolve to the value seen
// first, which keeps repeated runs over the same input stable.
func mode(values []string) (string, bool) {
	if len(values) == 0 {
		return "", false
	}
	counts := make(map[string]int, len(values))
	firstSeen := make(map[string]int, len(values))
	for i, v := range values {
		if _, ok := counts[v]; !ok {
			firstSeen[v] = i
		}
		counts[v]++
	}

	var best string
	bestCount := -1
	for _, v := range values {
		c := counts[v]
		if c > bestCount || (c == bestCount && firstSeen[v] < firstSeen[best]) {
			best = v
			bestCount = c
		}
	}
	return best, true
}

// DayPart maps an hour of day onto one of four coarse buckets.
func DayPart(hour int) string {
	switch {
	case hour <= 5:
		return DayPartNight
	case hour <= 11:
		return DayPartMorning
	case hour <= 17:
		return DayPartAfternoon
	default:
		return DayPartEvening
	}
}

// parseHour extracts the hour from a HH:MM or HH:MM:SS cell. Hours outside
// 0-23 are discarded from the tallies without aborting aggregation.
func parseHour(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	parts := strings.Split(raw, ":")
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	return h, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
