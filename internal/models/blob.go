package models

import "time"

// Blob is an immutable stored media object referenced by attachment blocks.
// The store only ever sees the signed URL derived from Key, never raw bytes.
type Blob struct {
	Key         string    `db:"key" json:"key"`
	OwnerID     string    `db:"owner_id" json:"owner_id"`
	SHA256      string    `db:"sha256" json:"sha256"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	ContentType string    `db:"content_type" json:"content_type"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
