package cleaning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profusion/internal/blob"
	"profusion/internal/dataset"
	"profusion/internal/progress"
)

// fakeCleaner writes canned artifacts next to the input file.
type fakeCleaner struct {
	report string
	err    error
}

func (c *fakeCleaner) Clean(ctx context.Context, kind, inputPath, displayName string) (string, string, error) {
	if c.err != nil {
		return "", "", c.err
	}
	cleanedPath, reportPath := ArtifactPaths(filepath.Dir(inputPath), displayName)
	if err := os.WriteFile(cleanedPath, []byte("customerid,city\nC1,Austin\n"), 0o644); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(reportPath, []byte(c.report), 0o644); err != nil {
		return "", "", err
	}
	return cleanedPath, reportPath, nil
}

// capturePublisher records published events per scope.
type capturePublisher struct {
	mu     sync.Mutex
	events map[string][]progress.Event
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{events: make(map[string][]progress.Event)}
}

func (p *capturePublisher) Publish(scope string, event progress.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[scope] = append(p.events[scope], event)
}

func (p *capturePublisher) scoped(scope string) []progress.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]progress.Event(nil), p.events[scope]...)
}

func seedDataset(t *testing.T, repo dataset.Repository, store blob.Store) *dataset.Dataset {
	t.Helper()
	ctx := context.Background()

	sink, ref, err := store.Create(ctx, "orders.csv")
	require.NoError(t, err)
	_, err = io.WriteString(sink, "OrderID,CustomerID\nO1,C1\n")
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	ds := &dataset.Dataset{
		ID:           "ds-1",
		UserID:       "alice",
		Type:         dataset.TypeOrder,
		OriginalName: "orders.csv",
		BlobRef:      ref,
	}
	require.NoError(t, repo.Create(ctx, ds))
	return ds
}

func TestOrchestratorRun(t *testing.T) {
	ctx := context.Background()

	t.Run("success swaps the blob and marks the record", func(t *testing.T) {
		repo := dataset.NewMemoryRepository()
		store, err := blob.NewFSStore(t.TempDir(), nil)
		require.NoError(t, err)
		publisher := newCapturePublisher()

		o := NewOrchestrator(store, repo, &fakeCleaner{report: `{"rowsDropped":2}`}, publisher, t.TempDir(), nil)
		ds := seedDataset(t, repo, store)
		oldRef := ds.BlobRef

		require.NoError(t, o.Run(ctx, ds))
		assert.Equal(t, StateDone, o.State(ds.ID))

		got, err := repo.Get(ctx, ds.ID, "alice")
		require.NoError(t, err)
		assert.True(t, got.Clean)
		assert.NotEqual(t, oldRef, got.BlobRef)
		assert.JSONEq(t, `{"rowsDropped":2}`, string(got.Report))

		// Old blob deleted only after the record commit.
		_, err = store.Open(ctx, oldRef)
		assert.ErrorIs(t, err, blob.ErrNotFound)

		src, err := store.Open(ctx, got.BlobRef)
		require.NoError(t, err)
		data, err := io.ReadAll(src)
		require.NoError(t, err)
		require.NoError(t, src.Close())
		assert.Equal(t, "customerid,city\nC1,Austin\n", string(data))

		events := publisher.scoped("alice")
		require.Len(t, events, 4)
		assert.Equal(t, progress.StageRead, events[0].Stage)
		assert.Equal(t, 10, events[0].Progress)
		assert.Equal(t, progress.StageAnalyze, events[1].Stage)
		assert.Equal(t, 35, events[1].Progress)
		assert.Equal(t, progress.StageUpload, events[2].Stage)
		assert.Equal(t, 70, events[2].Progress)
		assert.Equal(t, progress.StageDone, events[3].Stage)
		assert.Equal(t, 100, events[3].Progress)
		for _, ev := range events {
			assert.Empty(t, ev.Error)
		}
	})

	t.Run("cleaner failure leaves the record untouched", func(t *testing.T) {
		repo := dataset.NewMemoryRepository()
		store, err := blob.NewFSStore(t.TempDir(), nil)
		require.NoError(t, err)
		publisher := newCapturePublisher()

		subErr := &SubprocessError{ExitCode: 1, Stderr: "boom"}
		o := NewOrchestrator(store, repo, &fakeCleaner{err: subErr}, publisher, t.TempDir(), nil)
		ds := seedDataset(t, repo, store)

		err = o.Run(ctx, ds)
		var gotErr *SubprocessError
		require.ErrorAs(t, err, &gotErr)
		assert.Equal(t, StateFailed, o.State(ds.ID))

		got, err := repo.Get(ctx, ds.ID, "alice")
		require.NoError(t, err)
		assert.False(t, got.Clean)
		assert.Equal(t, ds.BlobRef, got.BlobRef)

		// The raw blob survives a failed run.
		_, err = store.Open(ctx, ds.BlobRef)
		assert.NoError(t, err)

		events := publisher.scoped("alice")
		require.NotEmpty(t, events)
		last := events[len(events)-1]
		assert.NotEmpty(t, last.Error)
	})

	t.Run("malformed report is preserved behind a parse error wrapper", func(t *testing.T) {
		repo := dataset.NewMemoryRepository()
		store, err := blob.NewFSStore(t.TempDir(), nil)
		require.NoError(t, err)

		o := NewOrchestrator(store, repo, &fakeCleaner{report: "not json {"}, newCapturePublisher(), t.TempDir(), nil)
		ds := seedDataset(t, repo, store)

		require.NoError(t, o.Run(ctx, ds))

		got, err := repo.Get(ctx, ds.ID, "alice")
		require.NoError(t, err)
		require.True(t, got.Clean)

		var report map[string]string
		require.NoError(t, json.Unmarshal(got.Report, &report))
		assert.NotEmpty(t, report["parseError"])
		assert.Equal(t, "not json {", report["raw"])
	})

	t.Run("unreadable source fails during download", func(t *testing.T) {
		repo := dataset.NewMemoryRepository()
		store, err := blob.NewFSStore(t.TempDir(), nil)
		require.NoError(t, err)
		publisher := newCapturePublisher()

		o := NewOrchestrator(store, repo, &fakeCleaner{report: "{}"}, publisher, t.TempDir(), nil)
		ds := &dataset.Dataset{
			ID:           "ds-missing",
			UserID:       "alice",
			Type:         dataset.TypeOrder,
			OriginalName: "orders.csv",
			BlobRef:      "missing.csv",
		}
		require.NoError(t, repo.Create(context.Background(), ds))

		err = o.Run(ctx, ds)
		require.Error(t, err)
		assert.True(t, errors.Is(err, blob.ErrNotFound))
		assert.Equal(t, StateFailed, o.State(ds.ID))
	})

	t.Run("unknown dataset reports queued state", func(t *testing.T) {
		o := NewOrchestrator(nil, nil, nil, nil, "", nil)
		assert.Equal(t, StateQueued, o.State("nope"))
	})
}
