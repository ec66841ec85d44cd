package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"profusion/internal/blob"
	"profusion/internal/cleaning"
	"profusion/internal/dataset"
	"profusion/internal/infrastructure"
	"profusion/internal/tabular"
)

// UploadResult carries the stored record plus schema observations the
// client should surface. Extra columns never reject an upload; they are
// reported so the user can double-check the file.
type UploadResult struct {
	Dataset      *dataset.Dataset `json:"dataset"`
	ExtraColumns []string         `json:"extraColumns,omitempty"`
}

// Preview is the first slice of a dataset's rows in file order.
type Preview struct {
	Header []string      `json:"header"`
	Rows   []tabular.Row `json:"rows"`
	Total  int           `json:"returnedRows"`
}

// Counts reports how many datasets of each kind a user holds.
type Counts struct {
	Customer int `json:"customer"`
	Order    int `json:"order"`
}

// DatasetService owns the dataset lifecycle: upload with schema validation,
// listing, preview, deletion, and triggering the cleaning orchestrator.
type DatasetService struct {
	repo         dataset.Repository
	store        blob.Store
	orchestrator *cleaning.Orchestrator
	metrics      *infrastructure.Metrics
	cleanTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewDatasetService wires the dataset service.
func NewDatasetService(repo dataset.Repository, store blob.Store, orchestrator *cleaning.Orchestrator, metrics *infrastructure.Metrics, cleanTimeout time.Duration, logger *slog.Logger) *DatasetService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DatasetService{
		repo:         repo,
		store:        store,
		orchestrator: orchestrator,
		metrics:      metrics,
		cleanTimeout: cleanTimeout,
		logger:       logger.With(slog.String("component", "dataset_service")),
		now:          time.Now,
	}
}

// Upload validates the file's header against the declared type's required
// columns and stores it. Workbook uploads are converted to delimited text so
// everything downstream reads one format.
func (s *DatasetService) Upload(ctx context.Context, userID string, t dataset.Type, filename string, src io.Reader) (*UploadResult, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	var (
		header  []string
		payload []byte
	)
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".csv", ".txt":
		rd, err := tabular.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		header = rd.Header()
		payload = data
	case ".xlsx":
		wbHeader, rows, err := tabular.RowsFromWorkbook(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		header = wbHeader
		var buf bytes.Buffer
		if err := tabular.WriteCSV(&buf, wbHeader, rows); err != nil {
			return nil, fmt.Errorf("convert workbook: %w", err)
		}
		payload = buf.Bytes()
		filename = strings.TrimSuffix(filename, ext) + ".csv"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, ext)
	}

	extra, err := dataset.ValidateHeader(t, header)
	if err != nil {
		return nil, err
	}

	sink, ref, err := s.store.Create(ctx, filename)
	if err != nil {
		return nil, fmt.Errorf("create blob: %w", err)
	}
	if _, err := sink.Write(payload); err != nil {
		sink.Close()
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if err := sink.Close(); err != nil {
		return nil, fmt.Errorf("finalize blob: %w", err)
	}

	ds := &dataset.Dataset{
		ID:           uuid.New().String(),
		UserID:       userID,
		Type:         t,
		OriginalName: filename,
		BlobRef:      ref,
		UploadedAt:   s.now(),
	}
	if err := s.repo.Create(ctx, ds); err != nil {
		if delErr := s.store.Delete(ctx, ref); delErr != nil {
			s.logger.Warn("failed to remove blob after create failure",
				slog.String("ref", string(ref)),
				slog.String("error", delErr.Error()))
		}
		return nil, fmt.Errorf("create dataset record: %w", err)
	}

	s.metrics.RecordUpload(ctx, string(t))
	s.logger.InfoContext(ctx, "dataset uploaded",
		slog.String("dataset_id", ds.ID),
		slog.String("type", string(t)),
		slog.String("name", filename),
		slog.Int("extra_columns", len(extra)))

	return &UploadResult{Dataset: ds, ExtraColumns: extra}, nil
}

// List returns the user's datasets, newest first.
func (s *DatasetService) List(ctx context.Context, userID string) ([]*dataset.Dataset, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Get returns one dataset owned by the user.
func (s *DatasetService) Get(ctx context.Context, userID, id string) (*dataset.Dataset, error) {
	ds, err := s.repo.Get(ctx, id, userID)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			return nil, ErrDatasetNotFound
		}
		return nil, err
	}
	return ds, nil
}

// Count reports the user's dataset totals per type.
func (s *DatasetService) Count(ctx context.Context, userID string) (*Counts, error) {
	customer, order, err := s.repo.CountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Counts{Customer: customer, Order: order}, nil
}

// PreviewRows returns the dataset's header and up to limit rows.
func (s *DatasetService) PreviewRows(ctx context.Context, userID, id string, limit int) (*Preview, error) {
	ds, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	src, err := s.store.Open(ctx, ds.BlobRef)
	if err != nil {
		return nil, fmt.Errorf("open dataset blob: %w", err)
	}
	defer src.Close()

	rd, err := tabular.NewReader(src)
	if err != nil {
		return nil, err
	}

	rows := make([]tabular.Row, 0, limit)
	for len(rows) < limit {
		row, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	return &Preview{Header: rd.Header(), Rows: rows, Total: len(rows)}, nil
}

// Delete removes the dataset, its blob, and any segmentations derived from
// it along with their merged files.
func (s *DatasetService) Delete(ctx context.Context, userID, id string) error {
	ds, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}

	mergedRefs, err := s.repo.DeleteSegmentationsByDataset(ctx, ds.ID)
	if err != nil {
		return fmt.Errorf("delete derived segmentations: %w", err)
	}
	for _, ref := range mergedRefs {
		if err := s.store.Delete(ctx, ref); err != nil && !errors.Is(err, blob.ErrNotFound) {
			s.logger.Warn("failed to delete merged blob",
				slog.String("ref", string(ref)),
				slog.String("error", err.Error()))
		}
	}

	if err := s.repo.Delete(ctx, ds.ID, userID); err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			return ErrDatasetNotFound
		}
		return err
	}
	if err := s.store.Delete(ctx, ds.BlobRef); err != nil && !errors.Is(err, blob.ErrNotFound) {
		s.logger.Warn("failed to delete dataset blob",
			slog.String("ref", string(ds.BlobRef)),
			slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "dataset deleted",
		slog.String("dataset_id", ds.ID),
		slog.Int("segmentations_removed", len(mergedRefs)))
	return nil
}

// Clean starts a cleaning run for the dataset in the background. Concurrent
// requests for the same dataset collapse into one run inside the
// orchestrator. CleaningState reports progress; the progress channel streams
// it live.
func (s *DatasetService) Clean(ctx context.Context, userID, id string) (*dataset.Dataset, error) {
	ds, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	go func() {
		runCtx, cancel := cleaning.Timeout(context.Background(), s.cleanTimeout)
		defer cancel()
		runCtx = infrastructure.EnsureTraceID(runCtx)

		start := s.now()
		err := s.orchestrator.Run(runCtx, ds)
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		s.metrics.RecordCleaningRun(runCtx, outcome, time.Since(start).Seconds())
	}()

	return ds, nil
}

// CleaningState reports the lifecycle position of a dataset's cleaning run.
func (s *DatasetService) CleaningState(id string) cleaning.State {
	return s.orchestrator.State(id)
}
