package dataset

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"profusion/internal/blob"
)

// Type is the logical kind of an uploaded tabular file.
type Type string

const (
	TypeCustomer Type = "Customer"
	TypeOrder    Type = "Order"
)

// ParseType normalizes a request path segment ("customer", "ORDER", ...)
// into a Type.
func ParseType(raw string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "customer":
		return TypeCustomer, nil
	case "order":
		return TypeOrder, nil
	default:
		return "", fmt.Errorf("dataset: invalid type %q", raw)
	}
}

// Dataset is one uploaded tabular file. BlobRef always points to a byte
// stream in valid delimited-row format; Clean stays false until the
// cleaning orchestrator swaps the ref to the cleaned file.
type Dataset struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Type         Type            `json:"type"`
	OriginalName string          `json:"originalName"`
	BlobRef      blob.Ref        `json:"-"`
	Clean        bool            `json:"clean"`
	Report       json.RawMessage `json:"report,omitempty"`
	UploadedAt   time.Time       `json:"uploadedAt"`
}

// Segmentation is the derived artifact of one fusion run over a cleaned
// dataset pair. Records are unique per (user, customer dataset, order
// dataset) and reused on repeat prepare calls.
type Segmentation struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	CustomerDatasetID string          `json:"customerDatasetId"`
	OrderDatasetID    string          `json:"orderDatasetId"`
	MergedBlobRef     blob.Ref        `json:"-"`
	Summary           json.RawMessage `json:"summary,omitempty"`
	Availability      json.RawMessage `json:"availableAttributes,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}
