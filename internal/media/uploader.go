package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"messaging-service/internal/apperr"
	"messaging-service/internal/blob"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

const (
	// MinBlobBytes guards against corrupt or empty captures; smaller blobs
	// are rejected before any network call.
	MinBlobBytes = 128

	// SignedURLTTL bounds how long attachment links stay valid. S3 V4
	// presigning rejects anything over seven days, so links are renewed
	// on read instead of signed long.
	SignedURLTTL = 7 * 24 * time.Hour
)

// Uploader pushes finalized capture bytes into blob storage and returns the
// attachment block referencing them.
type Uploader struct {
	store blob.Store
	blobs repositories.BlobRepository
}

// NewUploader constructs an Uploader.
func NewUploader(store blob.Store, blobs repositories.BlobRepository) *Uploader {
	return &Uploader{store: store, blobs: blobs}
}

// Upload validates, stores and signs one blob under a caller-scoped key.
// On any failure nothing is committed; the caller may simply retry.
func (u *Uploader) Upload(ctx context.Context, ownerID string, data []byte, contentType string, filename string, kind models.BlockKind) (models.ContentBlock, error) {
	if len(data) < MinBlobBytes {
		observability.IncUpload("rejected_too_small")
		return models.ContentBlock{}, apperr.Upload("blob of %d bytes is below the %d byte minimum", len(data), MinBlobBytes)
	}
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}

	key := ownerID + "/" + uuid.NewString()
	if err := u.store.Put(ctx, key, data, contentType); err != nil {
		observability.IncUpload("store_failed")
		return models.ContentBlock{}, &apperr.Error{Code: apperr.CodeUpload, Message: "store blob", Err: err}
	}

	// Sign before recording, so a signing failure leaves no blob row
	// pointing at an unreachable object.
	url, err := u.store.SignedURL(ctx, key, SignedURLTTL)
	if err != nil {
		observability.IncUpload("sign_failed")
		return models.ContentBlock{}, &apperr.Error{Code: apperr.CodeUpload, Message: "sign blob url", Err: err}
	}

	sum := sha256.Sum256(data)
	record := models.Blob{
		Key:         key,
		OwnerID:     ownerID,
		SHA256:      hex.EncodeToString(sum[:]),
		SizeBytes:   int64(len(data)),
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
	}
	if err := u.blobs.CreateBlob(ctx, record); err != nil {
		observability.IncUpload("record_failed")
		return models.ContentBlock{}, &apperr.Error{Code: apperr.CodeUpload, Message: "record blob", Err: err}
	}

	observability.IncUpload("ok")
	log.Debug().Str("key", key).Int64("size_bytes", record.SizeBytes).Msg("blob uploaded")

	return models.ContentBlock{
		Kind:      kind,
		URL:       url,
		Filename:  filename,
		SizeBytes: record.SizeBytes,
	}, nil
}

// SignedURL issues a fresh short-lived link for a stored blob. Clients
// holding an expired attachment link renew it here rather than the link
// outliving the presign window.
func (u *Uploader) SignedURL(ctx context.Context, key string) (string, error) {
	url, err := u.store.SignedURL(ctx, key, SignedURLTTL)
	if err != nil {
		return "", &apperr.Error{Code: apperr.CodeUpload, Message: "sign blob url", Err: err}
	}
	return url, nil
}
