package cleaning

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"profusion/internal/blob"
	"profusion/internal/dataset"
	"profusion/internal/progress"
	"profusion/internal/tabular"
)

// State is the lifecycle position of one cleaning run.
type State string

const (
	StateQueued             State = "queued"
	StateDownloading        State = "downloading"
	StateExternalProcessing State = "external_processing"
	StateUploading          State = "uploading"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// Stage percents published over the progress channel. They only move
// forward within a run.
const (
	percentRead    = 10
	percentAnalyze = 35
	percentUpload  = 70
	percentDone    = 100
)

// Orchestrator drives one dataset from raw upload to a validated cleaned
// file: download to scratch, validate, run the external stage, re-upload,
// commit the record, then delete the old blob. Concurrent requests for the
// same dataset id collapse into a single run.
type Orchestrator struct {
	store      blob.Store
	repo       dataset.Repository
	cleaner    Cleaner
	publisher  progress.Publisher
	scratchDir string
	logger     *slog.Logger

	group singleflight.Group

	mu     sync.RWMutex
	states map[string]State
}

// NewOrchestrator wires the orchestrator's collaborators.
func NewOrchestrator(store blob.Store, repo dataset.Repository, cleaner Cleaner, publisher progress.Publisher, scratchDir string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:      store,
		repo:       repo,
		cleaner:    cleaner,
		publisher:  publisher,
		scratchDir: scratchDir,
		logger:     logger.With(slog.String("component", "cleaning.orchestrator")),
		states:     make(map[string]State),
	}
}

// State reports the lifecycle position of a dataset's cleaning run, or
// StateQueued if none has been observed.
func (o *Orchestrator) State(datasetID string) State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if s, ok := o.states[datasetID]; ok {
		return s
	}
	return StateQueued
}

func (o *Orchestrator) setState(datasetID string, s State) {
	o.mu.Lock()
	o.states[datasetID] = s
	o.mu.Unlock()
}

// Run cleans the dataset. It blocks until the run finishes; a concurrent
// call for the same dataset id joins the in-flight run and shares its
// outcome.
func (o *Orchestrator) Run(ctx context.Context, ds *dataset.Dataset) error {
	_, err, shared := o.group.Do(ds.ID, func() (interface{}, error) {
		return nil, o.run(ctx, ds)
	})
	if shared {
		o.logger.Info("joined in-flight cleaning run",
			slog.String("dataset_id", ds.ID))
	}
	return err
}

func (o *Orchestrator) run(ctx context.Context, ds *dataset.Dataset) (err error) {
	scope := ds.UserID
	o.setState(ds.ID, StateQueued)

	scratch, err := os.MkdirTemp(o.scratchDir, "clean-")
	if err != nil {
		o.fail(ds, StateQueued, percentRead, err)
		return fmt.Errorf("cleaning: create scratch dir: %w", err)
	}
	defer func() {
		// Best effort: a cleanup failure never masks the run's outcome.
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			o.logger.Warn("failed to remove scratch dir",
				slog.String("dataset_id", ds.ID),
				slog.String("scratch", scratch),
				slog.String("error", rmErr.Error()))
		}
	}()

	// Queued -> Downloading
	o.setState(ds.ID, StateDownloading)
	o.publish(scope, progress.Event{
		Stage:    progress.StageRead,
		Message:  "Reading dataset from storage",
		Progress: percentRead,
	})

	inputPath := filepath.Join(scratch, filepath.Base(ds.OriginalName))
	if err := o.download(ctx, ds.BlobRef, inputPath); err != nil {
		o.fail(ds, StateDownloading, percentRead, err)
		return err
	}
	if err := o.validate(inputPath); err != nil {
		o.fail(ds, StateDownloading, percentRead, err)
		return err
	}

	// Downloading -> ExternalProcessing
	o.setState(ds.ID, StateExternalProcessing)
	o.publish(scope, progress.Event{
		Stage:    progress.StageAnalyze,
		Message:  "Analyzing and normalizing dataset",
		Progress: percentAnalyze,
	})

	kind := strings.ToLower(string(ds.Type))
	cleanedPath, reportPath, err := o.cleaner.Clean(ctx, kind, inputPath, ds.OriginalName)
	if err != nil {
		o.fail(ds, StateExternalProcessing, percentAnalyze, err)
		return err
	}

	// ExternalProcessing -> Uploading
	o.setState(ds.ID, StateUploading)
	o.publish(scope, progress.Event{
		Stage:    progress.StageUpload,
		Message:  "Uploading cleaned dataset",
		Progress: percentUpload,
	})

	newRef, err := o.upload(ctx, cleanedPath)
	if err != nil {
		o.fail(ds, StateUploading, percentUpload, err)
		return err
	}

	report := loadReport(reportPath)

	// Uploading -> Done. The record commit is a single write; the old blob
	// is deleted only after it succeeds so a crash can't orphan the record.
	oldRef := ds.BlobRef
	if err := o.repo.MarkCleaned(ctx, ds.ID, newRef, report); err != nil {
		if delErr := o.store.Delete(ctx, newRef); delErr != nil {
			o.logger.Warn("failed to remove uncommitted blob",
				slog.String("dataset_id", ds.ID),
				slog.String("ref", string(newRef)),
				slog.String("error", delErr.Error()))
		}
		o.fail(ds, StateUploading, percentUpload, err)
		return err
	}
	if err := o.store.Delete(ctx, oldRef); err != nil {
		o.logger.Warn("failed to delete replaced blob",
			slog.String("dataset_id", ds.ID),
			slog.String("ref", string(oldRef)),
			slog.String("error", err.Error()))
	}

	o.setState(ds.ID, StateDone)
	o.publish(scope, progress.Event{
		Stage:    progress.StageDone,
		Message:  "Dataset cleaned",
		Progress: percentDone,
	})

	o.logger.Info("cleaning run completed",
		slog.String("dataset_id", ds.ID),
		slog.String("new_ref", string(newRef)))
	return nil
}

func (o *Orchestrator) download(ctx context.Context, ref blob.Ref, dest string) error {
	src, err := o.store.Open(ctx, ref)
	if err != nil {
		return fmt.Errorf("cleaning: open source blob: %w", err)
	}
	defer src.Close()

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("cleaning: create scratch file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return fmt.Errorf("cleaning: download blob: %w", err)
	}
	return f.Close()
}

// validate confirms the scratch file still parses as delimited rows before
// handing it to the external stage.
func (o *Orchestrator) validate(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cleaning: open scratch file: %w", err)
	}
	defer f.Close()

	if _, err := tabular.NewReader(f); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) upload(ctx context.Context, path string) (blob.Ref, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("cleaning: open cleaned file: %w", err)
	}
	defer f.Close()

	sink, ref, err := o.store.Create(ctx, filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("cleaning: create blob: %w", err)
	}
	if _, err := io.Copy(sink, f); err != nil {
		sink.Close()
		return "", fmt.Errorf("cleaning: upload cleaned file: %w", err)
	}
	if err := sink.Close(); err != nil {
		return "", fmt.Errorf("cleaning: finalize blob: %w", err)
	}
	return ref, nil
}

// loadReport parses the external stage's JSON report. A malformed report
// is preserved verbatim behind a parseError wrapper instead of failing the
// transition.
func loadReport(path string) json.RawMessage {
	raw, err := os.ReadFile(path)
	if err != nil {
		fallback, _ := json.Marshal(map[string]string{
			"parseError": err.Error(),
		})
		return fallback
	}
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	fallback, _ := json.Marshal(map[string]string{
		"parseError": "report is not valid JSON",
		"raw":        string(raw),
	})
	return fallback
}

// fail records the terminal state and publishes a final event carrying the
// error so live observers are not left waiting.
func (o *Orchestrator) fail(ds *dataset.Dataset, from State, percent int, err error) {
	o.setState(ds.ID, StateFailed)
	o.publish(ds.UserID, progress.Event{
		Stage:    stageName(from),
		Message:  "Cleaning failed",
		Progress: percent,
		Error:    err.Error(),
	})
	o.logger.Error("cleaning run failed",
		slog.String("dataset_id", ds.ID),
		slog.String("state", string(from)),
		slog.String("error", err.Error()))
}

func stageName(s State) string {
	switch s {
	case StateQueued, StateDownloading:
		return progress.StageRead
	case StateExternalProcessing:
		return progress.StageAnalyze
	case StateUploading:
		return progress.StageUpload
	default:
		return progress.StageDone
	}
}

func (o *Orchestrator) publish(scope string, event progress.Event) {
	if o.publisher == nil {
		return
	}
	o.publisher.Publish(scope, event)
}

// Timeout returns a context bounded by d when d is positive; cleaning runs
// otherwise inherit the caller's deadline.
func Timeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
