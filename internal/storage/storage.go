// Package storage holds employee document objects in an S3-compatible bucket.
// Clients transfer bytes directly with pre-signed URLs; the server only signs,
// inspects and deletes objects.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when an object does not exist
	ErrNotFound = errors.New("object not found")
	// ErrDisabled is returned when no bucket is configured
	ErrDisabled = errors.New("document storage is not configured")
)

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	ModifiedAt  time.Time
}

// ObjectStore signs transfer URLs and manages objects
type ObjectStore interface {
	// PresignPut returns a URL the client can PUT the object body to
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	// PresignGet returns a URL that downloads the object as filename
	PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
	// Head returns object metadata or ErrNotFound
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	// Delete removes an object; deleting a missing object is not an error
	Delete(ctx context.Context, key string) error
}

// ObjectKey builds the bucket key of a user's document
func ObjectKey(ownerID int64, documentID, filename string) string {
	return fmt.Sprintf("users/%d/%s/%s", ownerID, documentID, SanitizeFilename(filename))
}

// SanitizeFilename strips directories and characters that are awkward in keys and headers
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}

// Disabled is an ObjectStore used when no bucket is configured
type Disabled struct{}

func (Disabled) PresignPut(context.Context, string, string, time.Duration) (string, error) {
	return "", ErrDisabled
}

func (Disabled) PresignGet(context.Context, string, string, time.Duration) (string, error) {
	return "", ErrDisabled
}

func (Disabled) Head(context.Context, string) (*ObjectInfo, error) {
	return nil, ErrDisabled
}

func (Disabled) Delete(context.Context, string) error {
	return ErrDisabled
}
