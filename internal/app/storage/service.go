/*
Package storage provides attachment object storage on an S3-compatible bucket.
Clients normally upload directly with a presigned URL; Upload streams small
server-side uploads such as recorded voice notes.
*/
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned by Stat for keys that were never uploaded.
var ErrObjectNotFound = errors.New("object not found")

// ServiceConfig holds the configuration required to connect to the storage service.
type ServiceConfig struct {
	BucketName      string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// ObjectInfo describes a stored attachment.
type ObjectInfo struct {
	ContentType string
	Size        int64
}

// StorageService defines the public interface for the attachment storage service.
type StorageService interface {
	// PresignUpload generates a pre-signed PUT URL bound to the given MIME type and size.
	PresignUpload(ctx context.Context, key, mimeType string, fileSize int64, duration time.Duration) (string, error)

	// PresignDownload generates a pre-signed GET URL.
	PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error)

	// Upload stores body under key.
	Upload(ctx context.Context, key, mimeType string, body io.Reader) error

	// Stat returns ErrObjectNotFound when key does not exist.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
}

// NewStorageService returns the S3-compatible implementation.
func NewStorageService(ctx context.Context, cfg ServiceConfig) (StorageService, error) {
	return newS3Client(ctx, cfg)
}
