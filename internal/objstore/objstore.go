// Package objstore stores message attachments.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned for a path with no object.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidPath is returned for paths that escape the bucket.
	ErrInvalidPath = errors.New("invalid object path")
)

// Object describes a stored object.
type Object struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Bucket is a flat namespace of objects addressed by slash-separated paths.
type Bucket interface {
	Put(ctx context.Context, path string, r io.Reader, contentType string) error
	Exists(ctx context.Context, path string) (bool, error)
	Remove(ctx context.Context, paths ...string) error
	List(ctx context.Context, prefix string) ([]Object, error)
	URL(path string) string
}

// ObjectPath builds the storage path of an attachment uploaded to a job:
// "<jobID>/<unix nanos>_<name>".
func ObjectPath(jobID, filename string, now time.Time) string {
	return fmt.Sprintf("%s/%d_%s", jobID, now.UnixNano(), SanitizeName(filename))
}

// JobOf returns the job id prefix of an object path.
func JobOf(p string) string {
	job, _, _ := strings.Cut(p, "/")
	return job
}

// SanitizeName keeps the base name of filename restricted to letters, digits,
// dot, dash and underscore.
func SanitizeName(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.TrimLeft(b.String(), ".")
	if name == "" {
		return "file"
	}
	if len(name) > 128 {
		name = name[len(name)-128:]
	}
	return name
}

// CleanPath validates an object path.
func CleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned != p || cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return cleaned, nil
}
