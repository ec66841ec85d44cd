package dataset

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"profusion/internal/blob"
)

// MemoryRepository is an in-process Repository used by tests and by local
// runs without a database.
type MemoryRepository struct {
	mu            sync.RWMutex
	datasets      map[string]*Dataset
	segmentations map[string]*Segmentation
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		datasets:      make(map[string]*Dataset),
		segmentations: make(map[string]*Segmentation),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, d *Dataset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.datasets[d.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id, userID string) (*Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.datasets[id]
	if !ok || d.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string) ([]*Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Dataset
	for _, d := range r.datasets {
		if d.UserID == userID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func (r *MemoryRepository) CountByUser(ctx context.Context, userID string) (int, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var customer, order int
	for _, d := range r.datasets {
		if d.UserID != userID {
			continue
		}
		switch d.Type {
		case TypeCustomer:
			customer++
		case TypeOrder:
			order++
		}
	}
	return customer, order, nil
}

func (r *MemoryRepository) MarkCleaned(ctx context.Context, id string, newRef blob.Ref, report json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.datasets[id]
	if !ok {
		return ErrNotFound
	}
	d.BlobRef = newRef
	d.Clean = true
	d.Report = report
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.datasets[id]
	if !ok || d.UserID != userID {
		return ErrNotFound
	}
	delete(r.datasets, id)
	return nil
}

func (r *MemoryRepository) CreateSegmentation(ctx context.Context, s *Segmentation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.segmentations[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetSegmentation(ctx context.Context, id, userID string) (*Segmentation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.segmentations[id]
	if !ok || s.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) FindSegmentationByPair(ctx context.Context, userID, customerDatasetID, orderDatasetID string) (*Segmentation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.segmentations {
		if s.UserID == userID && s.CustomerDatasetID == customerDatasetID && s.OrderDatasetID == orderDatasetID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) UpdateSegmentation(ctx context.Context, s *Segmentation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.segmentations[s.ID]; !ok {
		return ErrNotFound
	}
	cp := *s
	r.segmentations[s.ID] = &cp
	return nil
}

func (r *MemoryRepository) DeleteSegmentationsByDataset(ctx context.Context, datasetID string) ([]blob.Ref, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var refs []blob.Ref
	for id, s := range r.segmentations {
		if s.CustomerDatasetID == datasetID || s.OrderDatasetID == datasetID {
			refs = append(refs, s.MergedBlobRef)
			delete(r.segmentations, id)
		}
	}
	return refs, nil
}

var _ Repository = (*MemoryRepository)(nil)
