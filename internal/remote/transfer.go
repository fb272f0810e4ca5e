package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const (
	// chunkSize bounds how much is read between cancellation checks.
	chunkSize = 64 * 1024

	// progressInterval is the minimum spacing between progress callbacks.
	progressInterval = 100 * time.Millisecond

	partSuffix = ".part"
)

// errLocal marks failures writing the destination file.
var errLocal = errors.New("local write failed")

// writeObject streams body into dest through a temporary ".part" file.
// It checks ctx between chunks and removes the partial file on any failure.
// Read failures are reported as ErrTransient, cancellation as ErrCancelled.
func writeObject(ctx context.Context, body io.Reader, dest string, total int64, onProgress ProgressFunc) (int64, error) {
	if dir := filepath.Dir(dest); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("%w: create directory %s: %v", errLocal, dir, err)
		}
	}

	part := dest + partSuffix
	file, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", errLocal, part, err)
	}

	reader := &progressReader{
		reader:   body,
		callback: onProgress,
		total:    total,
		interval: progressInterval,
	}

	written, err := copyChunks(ctx, file, reader)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("%w: close %s: %v", errLocal, part, closeErr)
	}
	if err != nil {
		_ = os.Remove(part)
		return written, err
	}

	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return written, fmt.Errorf("%w: rename %s: %v", errLocal, part, err)
	}

	reader.flush()
	return written, nil
}

func copyChunks(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, fmt.Errorf("%w: %v", errLocal, werr)
			}
			if w != n {
				return written, fmt.Errorf("%w: %v", errLocal, io.ErrShortWrite)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			if err := ctx.Err(); err != nil {
				return written, fmt.Errorf("%w: %v", ErrCancelled, err)
			}
			return written, fmt.Errorf("%w: read body: %v", ErrTransient, rerr)
		}
	}
}

// transferKind picks the error kind for a failed writeObject call.
func transferKind(err error) error {
	switch {
	case errors.Is(err, ErrCancelled):
		return ErrCancelled
	case errors.Is(err, ErrTransient):
		return ErrTransient
	}
	return nil
}

// progressReader wraps a reader and calls a progress callback as data is
// read, at most once per interval. flush reports the final count.
type progressReader struct {
	reader   io.Reader
	callback ProgressFunc
	current  int64
	total    int64
	interval time.Duration
	last     time.Time
	reported int64
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.current += int64(n)
		if pr.callback != nil {
			now := time.Now()
			if now.Sub(pr.last) >= pr.interval {
				pr.last = now
				pr.reported = pr.current
				pr.callback(pr.current, pr.total)
			}
		}
	}
	return n, err
}

func (pr *progressReader) flush() {
	if pr.callback != nil && pr.reported != pr.current {
		pr.reported = pr.current
		pr.callback(pr.current, pr.total)
	}
}
