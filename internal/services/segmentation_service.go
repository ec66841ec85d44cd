package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"profusion/internal/blob"
	"profusion/internal/dataset"
	"profusion/internal/fusion"
	"profusion/internal/infrastructure"
	"profusion/internal/tabular"
)

// PrepareRequest names the cleaned dataset pair to fuse.
type PrepareRequest struct {
	CustomerDatasetID string `json:"customerDatasetId" validate:"required,uuid4"`
	OrderDatasetID    string `json:"orderDatasetId" validate:"required,uuid4"`
}

// PrepareResult is the segmentation record plus whether an existing record
// for the same pair was reused instead of recomputed.
type PrepareResult struct {
	Segmentation *dataset.Segmentation `json:"segmentation"`
	Reused       bool                  `json:"reused"`
}

// SegmentationService fuses a cleaned customer dataset with a cleaned order
// dataset into per-customer profiles and keeps the merged file for download.
type SegmentationService struct {
	repo     dataset.Repository
	store    blob.Store
	metrics  *infrastructure.Metrics
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewSegmentationService wires the segmentation service.
func NewSegmentationService(repo dataset.Repository, store blob.Store, metrics *infrastructure.Metrics, logger *slog.Logger) *SegmentationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SegmentationService{
		repo:     repo,
		store:    store,
		metrics:  metrics,
		validate: validator.New(),
		logger:   logger.With(slog.String("component", "segmentation_service")),
		now:      time.Now,
	}
}

// Prepare runs the fusion over a cleaned dataset pair. A pair that was
// already prepared is returned as-is; repeat calls are idempotent.
func (s *SegmentationService) Prepare(ctx context.Context, userID string, req PrepareRequest) (*PrepareResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid prepare request: %w", err)
	}

	if existing, err := s.repo.FindSegmentationByPair(ctx, userID, req.CustomerDatasetID, req.OrderDatasetID); err == nil {
		s.logger.InfoContext(ctx, "segmentation pair already prepared",
			slog.String("segmentation_id", existing.ID))
		return &PrepareResult{Segmentation: existing, Reused: true}, nil
	} else if !errors.Is(err, dataset.ErrNotFound) {
		return nil, err
	}

	customerDS, err := s.loadCleaned(ctx, userID, req.CustomerDatasetID, dataset.TypeCustomer)
	if err != nil {
		return nil, err
	}
	orderDS, err := s.loadCleaned(ctx, userID, req.OrderDatasetID, dataset.TypeOrder)
	if err != nil {
		return nil, err
	}

	customerRows, err := s.readRows(ctx, customerDS.BlobRef)
	if err != nil {
		return nil, fmt.Errorf("read customer dataset: %w", err)
	}
	orderRows, err := s.readRows(ctx, orderDS.BlobRef)
	if err != nil {
		return nil, fmt.Errorf("read order dataset: %w", err)
	}

	var presence fusion.ColumnPresence
	if len(customerRows) > 0 {
		presence = fusion.DetectColumns(customerRows[0])
	}

	aggregates := fusion.AggregateOrders(orderRows, s.now())
	result, err := fusion.FuseProfiles(customerRows, aggregates, len(orderRows), presence)
	if err != nil {
		return nil, err
	}

	mergedRef, err := s.storeMerged(ctx, customerDS, result)
	if err != nil {
		return nil, err
	}

	summary, err := json.Marshal(result.Summary)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}
	availability, err := json.Marshal(result.Availability)
	if err != nil {
		return nil, fmt.Errorf("marshal availability: %w", err)
	}

	seg := &dataset.Segmentation{
		ID:                uuid.New().String(),
		UserID:            userID,
		CustomerDatasetID: customerDS.ID,
		OrderDatasetID:    orderDS.ID,
		MergedBlobRef:     mergedRef,
		Summary:           summary,
		Availability:      availability,
		CreatedAt:         s.now(),
	}
	if err := s.repo.CreateSegmentation(ctx, seg); err != nil {
		if delErr := s.store.Delete(ctx, mergedRef); delErr != nil {
			s.logger.Warn("failed to remove merged blob after create failure",
				slog.String("ref", string(mergedRef)),
				slog.String("error", delErr.Error()))
		}
		return nil, fmt.Errorf("create segmentation record: %w", err)
	}

	s.metrics.RecordFusionRun(ctx)
	s.logger.InfoContext(ctx, "segmentation prepared",
		slog.String("segmentation_id", seg.ID),
		slog.Int("profiles", len(result.Profiles)))

	return &PrepareResult{Segmentation: seg}, nil
}

// Get returns one segmentation owned by the user.
func (s *SegmentationService) Get(ctx context.Context, userID, id string) (*dataset.Segmentation, error) {
	seg, err := s.repo.GetSegmentation(ctx, id, userID)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			return nil, ErrSegmentationNotFound
		}
		return nil, err
	}
	return seg, nil
}

// Columns returns the merged file's column names in file order. The key
// column is omitted; it identifies rows and is never a segmentation
// attribute.
func (s *SegmentationService) Columns(ctx context.Context, userID, id string) ([]string, error) {
	seg, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	src, err := s.store.Open(ctx, seg.MergedBlobRef)
	if err != nil {
		return nil, fmt.Errorf("open merged blob: %w", err)
	}
	defer src.Close()

	rd, err := tabular.NewReader(src)
	if err != nil {
		return nil, err
	}

	header := rd.Header()
	columns := make([]string, 0, len(header))
	for _, name := range header {
		if name == "customerid" {
			continue
		}
		columns = append(columns, name)
	}
	return columns, nil
}

// OpenMerged returns the merged CSV stream and a download filename.
func (s *SegmentationService) OpenMerged(ctx context.Context, userID, id string) (io.ReadCloser, string, error) {
	seg, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, "", err
	}

	src, err := s.store.Open(ctx, seg.MergedBlobRef)
	if err != nil {
		return nil, "", fmt.Errorf("open merged blob: %w", err)
	}
	return src, fmt.Sprintf("merged_%s.csv", seg.ID), nil
}

func (s *SegmentationService) loadCleaned(ctx context.Context, userID, id string, want dataset.Type) (*dataset.Dataset, error) {
	ds, err := s.repo.Get(ctx, id, userID)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, id)
		}
		return nil, err
	}
	if ds.Type != want {
		return nil, fmt.Errorf("%w: %s is %s", ErrDatasetTypeMismatch, id, ds.Type)
	}
	if !ds.Clean {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotCleaned, id)
	}
	return ds, nil
}

func (s *SegmentationService) readRows(ctx context.Context, ref blob.Ref) ([]tabular.Row, error) {
	src, err := s.store.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	rd, err := tabular.NewReader(src)
	if err != nil {
		return nil, err
	}
	return rd.ReadAll()
}

func (s *SegmentationService) storeMerged(ctx context.Context, customerDS *dataset.Dataset, result *fusion.Result) (blob.Ref, error) {
	var buf bytes.Buffer
	if err := tabular.WriteCSV(&buf, result.CSVHeader(), result.CSVRows()); err != nil {
		return "", fmt.Errorf("write merged file: %w", err)
	}

	base := strings.TrimSuffix(customerDS.OriginalName, ".csv")
	sink, ref, err := s.store.Create(ctx, base+"_merged.csv")
	if err != nil {
		return "", fmt.Errorf("create merged blob: %w", err)
	}
	if _, err := io.Copy(sink, &buf); err != nil {
		sink.Close()
		return "", fmt.Errorf("store merged file: %w", err)
	}
	if err := sink.Close(); err != nil {
		return "", fmt.Errorf("finalize merged blob: %w", err)
	}
	return ref, nil
}
