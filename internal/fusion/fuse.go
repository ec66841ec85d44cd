package fusion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"profusion/internal/tabular"
)

// MergeError indicates the fusion preconditions were violated. An empty
// customer set cannot carry schema-detection information; callers should
// check the row count before invoking FuseProfiles.
type MergeError struct {
	Msg string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("fusion: merge error: %s", e.Msg)
}

// ColumnPresence records which optional demographic columns exist in the
// customer dataset. It is detected once per run, never per row.
type ColumnPresence struct {
	Age      bool
	AgeGroup bool
	Gender   bool
}

// DetectColumns inspects a representative customer row's key set. Cleaned
// datasets may carry age_group with either an underscore or a hyphen.
func DetectColumns(row tabular.Row) ColumnPresence {
	_, hasAge := row[colAge]
	_, hasAgeGroup := row[colAgeGroup]
	if !hasAgeGroup {
		_, hasAgeGroup = row[colAgeGroupAlt]
	}
	_, hasGender := row[colGender]
	return ColumnPresence{Age: hasAge, AgeGroup: hasAgeGroup, Gender: hasGender}
}

// CustomerProfile is one fused demographic+behavioral record. Demographic
// fields are meaningful only when the matching ColumnPresence flag is set;
// a set flag with a nil value means that customer's cell was "Unknown" or
// empty.
type CustomerProfile struct {
	CustomerID             string
	City                   *string
	State                  *string
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
	Age                    *int
	AgeGroup               *string
	Gender                 *string

	presence ColumnPresence
}

// Attribute reports whether a single profile field is usable for
// downstream segmentation.
type Attribute struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// AttributeAvailability is computed from the fused profile set, not from
// raw schema: a behavioral optional is available only if at least one
// profile carries a non-null value.
type AttributeAvailability struct {
	Behavioral  []Attribute `json:"behavioral"`
	Demographic []Attribute `json:"demographic"`
	Geographic  []Attribute `json:"geographic"`
}

// Summary describes one fusion run for the downstream clustering consumer.
type Summary struct {
	TotalCustomers         int  `json:"totalCustomers"`
	TotalOrders            int  `json:"totalOrders"`
	CustomersWithOrders    int  `json:"customersWithOrders"`
	CustomersWithoutOrders int  `json:"customersWithoutOrders"`
	HasAgeData             bool `json:"hasAgeData"`
	HasGenderData          bool `json:"hasGenderData"`
}

// Result is the fusion output consumed by the segmentation layer.
type Result struct {
	Profiles     []*CustomerProfile
	Availability AttributeAvailability
	Summary      Summary
	Presence     ColumnPresence
}

// FuseProfiles joins every customer row with its order aggregate. Customers
// absent from the aggregate map still produce a profile with zero-valued
// behavioral fields; no customer row is ever dropped. totalOrders is the
// raw order row count, including rows a blank customer id excluded from
// aggregation.
func FuseProfiles(customerRows []tabular.Row, aggregates map[string]*OrderAggregate, totalOrders int, presence ColumnPresence) (*Result, error) {
	if len(customerRows) == 0 {
		return nil, &MergeError{Msg: "customer dataset has no rows"}
	}

	profiles := make([]*CustomerProfile, 0, len(customerRows))
	for _, row := range customerRows {
		customerID := strings.TrimSpace(row[colCustomerID])
		agg := aggregates[customerID]
		if agg == nil {
			agg = &OrderAggregate{CustomerID: customerID}
		}

		p := &CustomerProfile{
			CustomerID:             customerID,
			City:                   optionalString(row[colCity]),
			State:                  optionalString(row[colState]),
			TotalOrders:            agg.TotalOrders,
			TotalSpend:             agg.TotalSpend,
			AvgOrderValue:          agg.AvgOrderValue,
			FirstPurchaseDate:      agg.FirstPurchaseDate,
			LastPurchaseDate:       agg.LastPurchaseDate,
			DaysSinceLastPurchase:  agg.DaysSinceLastPurchase,
			CustomerLifetimeMonths: agg.CustomerLifetimeMonths,
			PurchaseFrequency:      agg.PurchaseFrequency,
			FavoritePaymentMethod:  agg.FavoritePaymentMethod,
			FavoriteItem:           agg.FavoriteItem,
			FavoritePurchaseHour:   agg.FavoritePurchaseHour,
			FavoriteDayPart:        agg.FavoriteDayPart,
			presence:               presence,
		}

		if presence.Age {
			if raw := strings.TrimSpace(row[colAge]); raw != "" && raw != unknownValue {
				if v, err := strconv.Atoi(raw); err == nil {
					p.Age = &v
				}
			}
		}
		if presence.AgeGroup {
			raw := row[colAgeGroup]
			if raw == "" {
				raw = row[colAgeGroupAlt]
			}
			if raw = strings.TrimSpace(raw); raw != "" && raw != unknownValue {
				p.AgeGroup = &raw
			}
		}
		if presence.Gender {
			if raw := strings.TrimSpace(row[colGender]); raw != "" && raw != unknownValue {
				p.Gender = &raw
			}
		}

		profiles = append(profiles, p)
	}

	result := &Result{
		Profiles: profiles,
		Presence: presence,
		Summary: Summary{
			TotalCustomers:         len(profiles),
			TotalOrders:            totalOrders,
			CustomersWithOrders:    len(aggregates),
			CustomersWithoutOrders: len(profiles) - len(aggregates),
			HasAgeData:             anyProfile(profiles, func(p *CustomerProfile) bool { return p.Age != nil }),
			HasGenderData:          anyProfile(profiles, func(p *CustomerProfile) bool { return p.Gender != nil }),
		},
	}
	result.Availability = availability(profiles, presence)
	return result, nil
}

const unknownValue = "Unknown"

func availability(profiles []*CustomerProfile, presence ColumnPresence) AttributeAvailability {
	return AttributeAvailability{
		Behavioral: []Attribute{
			{Name: "totalOrders", Available: true},
			{Name: "totalSpend", Available: true},
			{Name: "avgOrderValue", Available: true},
			{Name: "daysSinceLastPurchase", Available: anyProfile(profiles, func(p *CustomerProfile) bool { return p.DaysSinceLastPurchase != nil })},
			{Name: "purchaseFrequency", Available: true},
			{Name: "favoritePaymentMethod", Available: anyProfile(profiles, func(p *CustomerProfile) bool { return p.FavoritePaymentMethod != nil })},
			{Name: "favoriteItem", Available: anyProfile(profiles, func(p *CustomerProfile) bool { return p.FavoriteItem != nil })},
			{Name: "favoritePurchaseHour", Available: anyProfile(profiles, func(p *CustomerProfile) bool { return p.FavoritePurchaseHour != nil })},
			{Name: "favoriteDayPart", Available: anyProfile(profiles, func(p *CustomerProfile) bool { return p.FavoriteDayPart != nil })},
		},
		Demographic: []Attribute{
			{Name: "age", Available: presence.Age},
			{Name: "ageGroup", Available: presence.AgeGroup},
			{Name: "gender", Available: presence.Gender},
		},
		Geographic: []Attribute{
			{Name: "city", Available: true},
			{Name: "state", Available: true},
		},
	}
}

func anyProfile(profiles []*CustomerProfile, pred func(*CustomerProfile) bool) bool {
	for _, p := range profiles {
		if pred(p) {
			return true
		}
	}
	return false
}

func optionalString(raw string) *string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	return &raw
}

// MarshalJSON emits demographic keys only when the source dataset carried
// the column, so field absence stays uniform across a run's profiles.
func (p *CustomerProfile) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	write := func(key string, value interface{}) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	fields := []struct {
		key   string
		value interface{}
	}{
		{"customerid", p.CustomerID},
		{"city", p.City},
		{"state", p.State},
		{"totalOrders", p.TotalOrders},
		{"totalSpend", p.TotalSpend},
		{"avgOrderValue", p.AvgOrderValue},
		{"lastPurchaseDate", formatDate(p.LastPurchaseDate)},
		{"firstPurchaseDate", formatDate(p.FirstPurchaseDate)},
		{"daysSinceLastPurchase", p.DaysSinceLastPurchase},
		{"customerLifetimeMonths", p.CustomerLifetimeMonths},
		{"purchaseFrequency", p.PurchaseFrequency},
		{"favoritePaymentMethod", p.FavoritePaymentMethod},
		{"favoriteItem", p.FavoriteItem},
		{"favoritePurchaseHour", p.FavoritePurchaseHour},
		{"favoriteDayPart", p.FavoriteDayPart},
	}
	for _, f := range fields {
		if err := write(f.key, f.value); err != nil {
			return nil, err
		}
	}

	if p.presence.Age {
		if err := write("age", p.Age); err != nil {
			return nil, err
		}
	}
	if p.presence.AgeGroup {
		if err := write("ageGroup", p.AgeGroup); err != nil {
			return nil, err
		}
	}
	if p.presence.Gender {
		if err := write("gender", p.Gender); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func formatDate(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}
