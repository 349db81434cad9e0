// Package local implements blob.Store on a directory tree and serves its
// signed URLs over HTTP.
package local

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/matthewmarion/batchboy/internal/blob"
)

const (
	tempPrefix = ".upload-"

	permissionRead = "r"
)

// Store keeps each container as a directory under root. Blobs are served
// by Handler at baseURL.
type Store struct {
	fs      afero.Fs
	root    string
	baseURL string
	key     []byte
	now     func() time.Time
}

var _ blob.Store = (*Store)(nil)

type Option func(*Store)

// WithClock replaces the clock used to check URL expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(fs afero.Fs, root, baseURL string, key []byte, opts ...Option) *Store {
	s := &Store{
		fs:      fs,
		root:    root,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		key:     key,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) CreateContainerIfNotExists(ctx context.Context, container string) error {
	if err := blob.ValidateContainerName(container); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.containerDir(container), 0o755); err != nil {
		return fmt.Errorf("creating container %s: %w", container, err)
	}
	return nil
}

// Upload writes to a temporary file and renames it into place, so readers
// see either the previous or the new content.
func (s *Store) Upload(ctx context.Context, container, name string, r io.Reader) error {
	if err := validName(name); err != nil {
		return err
	}
	dir, err := s.existingContainer(container)
	if err != nil {
		return err
	}

	tmp, err := afero.TempFile(s.fs, dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("uploading %s/%s: %w", container, name, err)
	}
	_, err = io.Copy(tmp, r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = s.fs.Rename(tmp.Name(), filepath.Join(dir, name))
	}
	if err != nil {
		s.fs.Remove(tmp.Name())
		return fmt.Errorf("uploading %s/%s: %w", container, name, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, container string) ([]blob.Object, error) {
	dir, err := s.existingContainer(container)
	if err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", container, err)
	}
	objects := make([]blob.Object, 0, len(infos))
	for _, info := range infos {
		if !info.Mode().IsRegular() || strings.HasPrefix(info.Name(), tempPrefix) {
			continue
		}
		objects = append(objects, blob.Object{
			Name:    info.Name(),
			Size:    info.Size(),
			Updated: info.ModTime(),
		})
	}
	return objects, nil
}

// SignedURL returns a GET URL for the blob carrying its expiry and an HMAC
// over the permission, path and expiry. The expiry is truncated to whole
// seconds so the URL never outlives expires.
func (s *Store) SignedURL(ctx context.Context, container, name string, expires time.Time) (string, error) {
	if err := blob.ValidateContainerName(container); err != nil {
		return "", err
	}
	if err := validName(name); err != nil {
		return "", err
	}
	se := strconv.FormatInt(expires.Unix(), 10)
	q := url.Values{}
	q.Set("se", se)
	q.Set("sp", permissionRead)
	q.Set("sig", s.sign(permissionRead, container, name, se))
	return fmt.Sprintf("%s/%s/%s?%s", s.baseURL, container, url.PathEscape(name), q.Encode()), nil
}

func (s *Store) sign(permission, container, name, expiry string) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s\n/%s/%s\n%s", permission, container, name, expiry)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (s *Store) containerDir(container string) string {
	return filepath.Join(s.root, container)
}

func (s *Store) existingContainer(container string) (string, error) {
	if err := blob.ValidateContainerName(container); err != nil {
		return "", err
	}
	dir := s.containerDir(container)
	info, err := s.fs.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return "", fmt.Errorf("%s: %w", container, blob.ErrContainerNotFound)
	}
	if err != nil {
		return "", err
	}
	return dir, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, tempPrefix) {
		return fmt.Errorf("invalid blob name %q", name)
	}
	return nil
}
