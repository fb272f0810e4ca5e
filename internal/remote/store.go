// Package remote implements the two repositories missing observations are
// fetched from: a short-retention HTTP CDN (FastStore) and the complete S3
// archive (ArchiveStore). Both satisfy Store.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/BadgerOps/goesfill/internal/timeindex"
)

// ProgressFunc is called periodically to report transfer progress.
// bytesTotal is 0 when the remote did not announce a size.
type ProgressFunc func(bytesDone, bytesTotal int64)

// Object addresses one observation in a remote repository.
type Object struct {
	Satellite timeindex.Satellite
	Product   timeindex.Product
	Timestamp time.Time
}

func (o Object) String() string {
	return fmt.Sprintf("%s/%s/%s", o.Satellite, o.Product, o.Timestamp.UTC().Format(time.RFC3339))
}

// Store is the capability shared by every remote repository.
//
// Exists reports false with a nil error when the object is confirmed absent.
// Download writes the object to dest, creating parent directories, and
// returns the final path. On any failure no file is left at dest. Transient
// failures are retried inside the store; not-found and auth failures are not.
// Cancelling ctx aborts the transfer at the next chunk boundary.
type Store interface {
	Name() string
	Exists(ctx context.Context, obj Object) (bool, error)
	Download(ctx context.Context, obj Object, dest string, onProgress ProgressFunc) (string, error)
}
