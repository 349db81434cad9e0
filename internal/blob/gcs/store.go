// Package gcs implements blob.Store on Google Cloud Storage, one bucket per
// container.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/matthewmarion/batchboy/internal/blob"
)

type Store struct {
	client  *storage.Client
	project string
	prefix  string
}

var _ blob.Store = (*Store)(nil)

// New opens a store whose buckets are created in project and named
// prefix+container.
func New(ctx context.Context, project, prefix string, opts ...option.ClientOption) (*Store, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &Store{client: client, project: project, prefix: prefix}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) bucket(container string) (*storage.BucketHandle, error) {
	if err := blob.ValidateContainerName(container); err != nil {
		return nil, err
	}
	return s.client.Bucket(s.prefix + container), nil
}

func (s *Store) CreateContainerIfNotExists(ctx context.Context, container string) error {
	b, err := s.bucket(container)
	if err != nil {
		return err
	}
	err = b.Create(ctx, s.project, nil)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusConflict {
		return nil
	}
	if err != nil {
		return fmt.Errorf("creating bucket %s%s: %w", s.prefix, container, err)
	}
	return nil
}

func (s *Store) Upload(ctx context.Context, container, name string, r io.Reader) error {
	b, err := s.bucket(container)
	if err != nil {
		return err
	}

	// Cancelling the writer's context aborts the upload without committing.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := b.Object(name).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("uploading %s/%s: %w", container, name, err)
	}
	if err := w.Close(); err != nil {
		return s.objectError(container, name, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, container string) ([]blob.Object, error) {
	b, err := s.bucket(container)
	if err != nil {
		return nil, err
	}
	var objects []blob.Object
	it := b.Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, s.objectError(container, "", err)
		}
		objects = append(objects, blob.Object{
			Name:    attrs.Name,
			Size:    attrs.Size,
			Updated: attrs.Updated,
		})
	}
	return objects, nil
}

// SignedURL returns a V4 signed GET URL. Signing uses the client's
// credentials, so they must be able to sign (a service account key or the
// IAM signBlob permission).
func (s *Store) SignedURL(ctx context.Context, container, name string, expires time.Time) (string, error) {
	b, err := s.bucket(container)
	if err != nil {
		return "", err
	}
	u, err := b.SignedURL(name, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expires,
	})
	if err != nil {
		return "", fmt.Errorf("signing %s/%s: %w", container, name, err)
	}
	return u, nil
}

func (s *Store) objectError(container, name string, err error) error {
	if errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%s: %w", container, blob.ErrContainerNotFound)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound && name == "" {
		return fmt.Errorf("%s: %w", container, blob.ErrContainerNotFound)
	}
	return fmt.Errorf("%s/%s: %w", container, name, err)
}
