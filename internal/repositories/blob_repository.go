package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

// BlobRepository records metadata for uploaded media objects.
type BlobRepository interface {
	CreateBlob(ctx context.Context, blob models.Blob) error
}

// BlobRepo is a sqlx implementation of BlobRepository.
type BlobRepo struct {
	db *sqlx.DB
}

// NewBlobRepo constructs a BlobRepo.
func NewBlobRepo(db *sqlx.DB) *BlobRepo {
	return &BlobRepo{db: db}
}

// CreateBlob inserts the blob record written alongside every upload.
func (r *BlobRepo) CreateBlob(ctx context.Context, blob models.Blob) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO blobs (key, owner_id, sha256, size_bytes, content_type, created_at)
            VALUES ($1, $2, $3, $4, $5, $6)`,
		blob.Key, blob.OwnerID, blob.SHA256, blob.SizeBytes, blob.ContentType, blob.CreatedAt)
	return err
}
