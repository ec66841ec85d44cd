package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"profusion/internal/blob"
)

const schema = `
CREATE TABLE IF NOT EXISTS datasets (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	type          TEXT NOT NULL,
	original_name TEXT NOT NULL,
	blob_ref      TEXT NOT NULL,
	clean         BOOLEAN NOT NULL DEFAULT FALSE,
	report        JSONB,
	uploaded_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_datasets_user ON datasets (user_id, uploaded_at DESC);

CREATE TABLE IF NOT EXISTS segmentations (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	customer_dataset_id TEXT NOT NULL REFERENCES datasets (id),
	order_dataset_id    TEXT NOT NULL REFERENCES datasets (id),
	merged_blob_ref     TEXT NOT NULL,
	summary             JSONB,
	availability        JSONB,
	created_at          TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, customer_dataset_id, order_dataset_id)
);
`

// PostgresRepository stores records in Postgres through the pgx stdlib
// driver.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository opens the database and ensures the schema exists.
func NewPostgresRepository(ctx context.Context, uri string) (*PostgresRepository, error) {
	db, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, fmt.Errorf("dataset: open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("dataset: ping db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("dataset: ensure schema: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

// Close releases the underlying connection pool.
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

func (r *PostgresRepository) Create(ctx context.Context, d *Dataset) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO datasets (id, user_id, type, original_name, blob_ref, clean, report, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.UserID, string(d.Type), d.OriginalName, string(d.BlobRef), d.Clean, nullableJSON(d.Report), d.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("dataset: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id, userID string) (*Dataset, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, type, original_name, blob_ref, clean, report, uploaded_at
		 FROM datasets WHERE id = $1 AND user_id = $2`, id, userID)
	return scanDataset(row)
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*Dataset, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, type, original_name, blob_ref, clean, report, uploaded_at
		 FROM datasets WHERE user_id = $1 ORDER BY uploaded_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("dataset: list: %w", err)
	}
	defer rows.Close()

	var out []*Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dataset: list: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) CountByUser(ctx context.Context, userID string) (int, int, error) {
	var customer, order int
	err := r.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE type = $2),
			COUNT(*) FILTER (WHERE type = $3)
		 FROM datasets WHERE user_id = $1`,
		userID, string(TypeCustomer), string(TypeOrder),
	).Scan(&customer, &order)
	if err != nil {
		return 0, 0, fmt.Errorf("dataset: count: %w", err)
	}
	return customer, order, nil
}

func (r *PostgresRepository) MarkCleaned(ctx context.Context, id string, newRef blob.Ref, report json.RawMessage) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE datasets SET blob_ref = $2, clean = TRUE, report = $3 WHERE id = $1`,
		id, string(newRef), nullableJSON(report))
	if err != nil {
		return fmt.Errorf("dataset: mark cleaned: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM datasets WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("dataset: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) CreateSegmentation(ctx context.Context, s *Segmentation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO segmentations (id, user_id, customer_dataset_id, order_dataset_id, merged_blob_ref, summary, availability, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.UserID, s.CustomerDatasetID, s.OrderDatasetID, string(s.MergedBlobRef),
		nullableJSON(s.Summary), nullableJSON(s.Availability), s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("dataset: insert segmentation: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetSegmentation(ctx context.Context, id, userID string) (*Segmentation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, customer_dataset_id, order_dataset_id, merged_blob_ref, summary, availability, created_at
		 FROM segmentations WHERE id = $1 AND user_id = $2`, id, userID)
	return scanSegmentation(row)
}

func (r *PostgresRepository) FindSegmentationByPair(ctx context.Context, userID, customerDatasetID, orderDatasetID string) (*Segmentation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, customer_dataset_id, order_dataset_id, merged_blob_ref, summary, availability, created_at
		 FROM segmentations
		 WHERE user_id = $1 AND customer_dataset_id = $2 AND order_dataset_id = $3`,
		userID, customerDatasetID, orderDatasetID)
	return scanSegmentation(row)
}

func (r *PostgresRepository) UpdateSegmentation(ctx context.Context, s *Segmentation) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE segmentations SET merged_blob_ref = $2, summary = $3, availability = $4 WHERE id = $1`,
		s.ID, string(s.MergedBlobRef), nullableJSON(s.Summary), nullableJSON(s.Availability))
	if err != nil {
		return fmt.Errorf("dataset: update segmentation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteSegmentationsByDataset(ctx context.Context, datasetID string) ([]blob.Ref, error) {
	rows, err := r.db.QueryContext(ctx,
		`DELETE FROM segmentations
		 WHERE customer_dataset_id = $1 OR order_dataset_id = $1
		 RETURNING merged_blob_ref`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("dataset: delete segmentations: %w", err)
	}
	defer rows.Close()

	var refs []blob.Ref
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("dataset: delete segmentations: %w", err)
		}
		refs = append(refs, blob.Ref(ref))
	}
	return refs, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDataset(row scannable) (*Dataset, error) {
	var (
		d       Dataset
		typ     string
		ref     string
		report  sql.NullString
		created time.Time
	)
	err := row.Scan(&d.ID, &d.UserID, &typ, &d.OriginalName, &ref, &d.Clean, &report, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: scan: %w", err)
	}
	d.Type = Type(typ)
	d.BlobRef = blob.Ref(ref)
	d.UploadedAt = created
	if report.Valid {
		d.Report = json.RawMessage(report.String)
	}
	return &d, nil
}

func scanSegmentation(row scannable) (*Segmentation, error) {
	var (
		s            Segmentation
		ref          string
		summary      sql.NullString
		availability sql.NullString
	)
	err := row.Scan(&s.ID, &s.UserID, &s.CustomerDatasetID, &s.OrderDatasetID, &ref, &summary, &availability, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dataset: scan segmentation: %w", err)
	}
	s.MergedBlobRef = blob.Ref(ref)
	if summary.Valid {
		s.Summary = json.RawMessage(summary.String)
	}
	if availability.Valid {
		s.Availability = json.RawMessage(availability.String)
	}
	return &s, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

var _ Repository = (*PostgresRepository)(nil)
