package dataset

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profusion/internal/blob"
)

func newDataset(id, userID string, t Type, uploadedAt time.Time) *Dataset {
	return &Dataset{
		ID:           id,
		UserID:       userID,
		Type:         t,
		OriginalName: "file.csv",
		BlobRef:      blob.Ref(id + ".csv"),
		UploadedAt:   uploadedAt,
	}
}

func TestMemoryRepositoryDatasets(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("get scopes by user", func(t *testing.T) {
		repo := NewMemoryRepository()
		require.NoError(t, repo.Create(ctx, newDataset("d1", "alice", TypeCustomer, base)))

		_, err := repo.Get(ctx, "d1", "bob")
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := repo.Get(ctx, "d1", "alice")
		require.NoError(t, err)
		assert.Equal(t, "d1", got.ID)
	})

	t.Run("list returns newest first", func(t *testing.T) {
		repo := NewMemoryRepository()
		require.NoError(t, repo.Create(ctx, newDataset("old", "alice", TypeCustomer, base)))
		require.NoError(t, repo.Create(ctx, newDataset("new", "alice", TypeOrder, base.Add(time.Hour))))
		require.NoError(t, repo.Create(ctx, newDataset("other", "bob", TypeOrder, base)))

		got, err := repo.ListByUser(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "new", got[0].ID)
		assert.Equal(t, "old", got[1].ID)
	})

	t.Run("counts split by type", func(t *testing.T) {
		repo := NewMemoryRepository()
		require.NoError(t, repo.Create(ctx, newDataset("c1", "alice", TypeCustomer, base)))
		require.NoError(t, repo.Create(ctx, newDataset("o1", "alice", TypeOrder, base)))
		require.NoError(t, repo.Create(ctx, newDataset("o2", "alice", TypeOrder, base)))

		customer, order, err := repo.CountByUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 1, customer)
		assert.Equal(t, 2, order)
	})

	t.Run("mark cleaned swaps ref and report atomically", func(t *testing.T) {
		repo := NewMemoryRepository()
		require.NoError(t, repo.Create(ctx, newDataset("d1", "alice", TypeCustomer, base)))

		report := json.RawMessage(`{"rowsDropped":3}`)
		require.NoError(t, repo.MarkCleaned(ctx, "d1", blob.Ref("cleaned.csv"), report))

		got, err := repo.Get(ctx, "d1", "alice")
		require.NoError(t, err)
		assert.True(t, got.Clean)
		assert.Equal(t, blob.Ref("cleaned.csv"), got.BlobRef)
		assert.JSONEq(t, `{"rowsDropped":3}`, string(got.Report))

		assert.ErrorIs(t, repo.MarkCleaned(ctx, "missing", "x", nil), ErrNotFound)
	})

	t.Run("delete scopes by user", func(t *testing.T) {
		repo := NewMemoryRepository()
		require.NoError(t, repo.Create(ctx, newDataset("d1", "alice", TypeCustomer, base)))

		assert.ErrorIs(t, repo.Delete(ctx, "d1", "bob"), ErrNotFound)
		require.NoError(t, repo.Delete(ctx, "d1", "alice"))
		_, err := repo.Get(ctx, "d1", "alice")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("stored records are copies", func(t *testing.T) {
		repo := NewMemoryRepository()
		ds := newDataset("d1", "alice", TypeCustomer, base)
		require.NoError(t, repo.Create(ctx, ds))

		ds.OriginalName = "mutated.csv"
		got, err := repo.Get(ctx, "d1", "alice")
		require.NoError(t, err)
		assert.Equal(t, "file.csv", got.OriginalName)
	})
}

func TestMemoryRepositorySegmentations(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	seg := func(id, userID, customerID, orderID string) *Segmentation {
		return &Segmentation{
			ID:                id,
			UserID:            userID,
			CustomerDatasetID: customerID,
			OrderDatasetID:    orderID,
			MergedBlobRef:     blob.Ref(id + "_merged.csv"),
			CreatedAt:         base,
		}
	}

	t.Run("find by pair", func(t *testing.T) {
		repo := NewMemoryRepository()
		require.NoError(t, repo.CreateSegmentation(ctx, seg("s1", "alice", "c1", "o1")))

		got, err := repo.FindSegmentationByPair(ctx, "alice", "c1", "o1")
		require.NoError(t, err)
		assert.Equal(t, "s1", got.ID)

		_, err = repo.FindSegmentationByPair(ctx, "alice", "c1", "o2")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = repo.FindSegmentationByPair(ctx, "bob", "c1", "o1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete by dataset removes both roles and returns refs", func(t *testing.T) {
		repo := NewMemoryRepository()
		require.NoError(t, repo.CreateSegmentation(ctx, seg("s1", "alice", "c1", "o1")))
		require.NoError(t, repo.CreateSegmentation(ctx, seg("s2", "alice", "c2", "o1")))
		require.NoError(t, repo.CreateSegmentation(ctx, seg("s3", "alice", "c2", "o2")))

		refs, err := repo.DeleteSegmentationsByDataset(ctx, "o1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []blob.Ref{"s1_merged.csv", "s2_merged.csv"}, refs)

		_, err = repo.GetSegmentation(ctx, "s1", "alice")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.GetSegmentation(ctx, "s3", "alice")
		assert.NoError(t, err)
	})

	t.Run("update requires existing record", func(t *testing.T) {
		repo := NewMemoryRepository()
		s := seg("s1", "alice", "c1", "o1")
		assert.ErrorIs(t, repo.UpdateSegmentation(ctx, s), ErrNotFound)

		require.NoError(t, repo.CreateSegmentation(ctx, s))
		s.Summary = json.RawMessage(`{"totalCustomers":5}`)
		require.NoError(t, repo.UpdateSegmentation(ctx, s))

		got, err := repo.GetSegmentation(ctx, "s1", "alice")
		require.NoError(t, err)
		assert.JSONEq(t, `{"totalCustomers":5}`, string(got.Summary))
	})
}
