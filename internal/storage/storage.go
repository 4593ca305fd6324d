// Package storage provides file storage for uploaded recordings and
// transcript artifacts. It defines the Storage interface (port) and
// implementations for local disk and S3.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for temporary uploads and persistent
// transcript artifacts.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// SaveArtifact writes data to <output dir>/<jobID>/<name> and returns its path.
	SaveArtifact(ctx context.Context, jobID, name string, data []byte) (path string, err error)

	// Publish uploads data under key and returns its public URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	Publish(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}
