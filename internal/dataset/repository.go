package dataset

import (
	"context"
	"encoding/json"
	"errors"

	"profusion/internal/blob"
)

// ErrNotFound is returned when a record does not exist or is not visible
// to the requesting user.
var ErrNotFound = errors.New("dataset: not found")

// Repository persists dataset and segmentation records. Only the cleaning
// orchestrator calls MarkCleaned; the blob ref swap, clean flag and report
// land in one write so a crash cannot leave a half-updated record.
type Repository interface {
	Create(ctx context.Context, d *Dataset) error
	Get(ctx context.Context, id, userID string) (*Dataset, error)
	ListByUser(ctx context.Context, userID string) ([]*Dataset, error)
	CountByUser(ctx context.Context, userID string) (customer, order int, err error)
	MarkCleaned(ctx context.Context, id string, newRef blob.Ref, report json.RawMessage) error
	Delete(ctx context.Context, id, userID string) error

	CreateSegmentation(ctx context.Context, s *Segmentation) error
	GetSegmentation(ctx context.Context, id, userID string) (*Segmentation, error)
	FindSegmentationByPair(ctx context.Context, userID, customerDatasetID, orderDatasetID string) (*Segmentation, error)
	UpdateSegmentation(ctx context.Context, s *Segmentation) error
	// DeleteSegmentationsByDataset removes every segmentation derived from
	// the dataset and returns the merged blob refs so the caller can drop
	// the stored CSVs.
	DeleteSegmentationsByDataset(ctx context.Context, datasetID string) ([]blob.Ref, error)
}
