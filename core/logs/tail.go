// Package logs streams job log files to consumers: a bounded read from any
// offset while the job runs, finite once it is terminal.
package logs

import (
	"context"
	"errors"
	"io"
	"os"
	"time"
)

const pollInterval = 500 * time.Millisecond

// Flusher lets the tailer push bytes through buffered HTTP writers as they
// arrive instead of at request end.
type Flusher interface {
	Flush()
}

// Tail copies the file at path to w starting at offset. While isLive reports
// true it keeps polling for appended bytes; once isLive reports false it
// drains whatever remains and returns. Returns the next offset.
func Tail(ctx context.Context, path string, offset int64, w io.Writer, isLive func() (bool, error)) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return offset, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}

	flusher, _ := w.(Flusher)
	for {
		n, err := io.Copy(w, f)
		offset += n
		if err != nil {
			return offset, err
		}
		if n > 0 && flusher != nil {
			flusher.Flush()
		}

		live, err := isLive()
		if err != nil {
			return offset, err
		}
		if !live {
			// One final drain catches bytes appended between the last copy
			// and the terminal transition.
			n, err := io.Copy(w, f)
			offset += n
			if err != nil && !errors.Is(err, io.EOF) {
				return offset, err
			}
			if flusher != nil {
				flusher.Flush()
			}
			return offset, nil
		}

		select {
		case <-ctx.Done():
			return offset, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// ReadLast returns up to limit bytes from the end of the file, for quick
// log previews.
func ReadLast(path string, limit int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	start := int64(0)
	if info.Size() > limit {
		start = info.Size() - limit
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return "", err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
