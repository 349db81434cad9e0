// Package blob defines the object storage the harness stages artifacts in.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"
)

var ErrContainerNotFound = errors.New("container not found")

// Object describes a stored blob.
type Object struct {
	Name    string
	Size    int64
	Updated time.Time
}

// Store is a flat namespace of containers holding named blobs.
type Store interface {
	// CreateContainerIfNotExists succeeds when the container already exists.
	CreateContainerIfNotExists(ctx context.Context, container string) error
	// Upload stores r under name, replacing any previous blob.
	Upload(ctx context.Context, container, name string, r io.Reader) error
	List(ctx context.Context, container string) ([]Object, error)
	// SignedURL returns a read-only URL for the blob, valid until expires.
	SignedURL(ctx context.Context, container, name string, expires time.Time) (string, error)
}

var containerPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{1,61}[a-z0-9])$`)

// ValidateContainerName accepts 3 to 63 lower-case letters, digits and
// hyphens, starting and ending with a letter or digit.
func ValidateContainerName(name string) error {
	if !containerPattern.MatchString(name) {
		return fmt.Errorf("invalid container name %q", name)
	}
	return nil
}
