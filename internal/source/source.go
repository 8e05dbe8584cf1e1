// Package source resolves image handle URIs into bytes.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"facesync/internal/models"
	"facesync/internal/storage"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported handle scheme")
	ErrTooLarge          = errors.New("image exceeds upload limit")
	ErrEmpty             = errors.New("image is empty")
)

// ObjectOpener is the part of the object store used for s3:// handles.
type ObjectOpener interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)
}

// Resolver reads file://, http(s):// and s3://bucket/key handles.
type Resolver struct {
	objects    ObjectOpener
	httpClient *http.Client
}

func NewResolver(objects ObjectOpener, httpClient *http.Client) *Resolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Resolver{objects: objects, httpClient: httpClient}
}

// Read returns the full content behind uri. Missing, empty, unsupported or
// oversized content is a validation error; transport failures are network
// errors.
func (r *Resolver) Read(ctx context.Context, uri string, limit int64) ([]byte, error) {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil || u.Scheme == "" {
		return nil, fmt.Errorf("%w: parse handle uri %q", models.ErrValidation, uri)
	}

	var (
		rc   io.ReadCloser
		size int64 = -1
	)

	switch u.Scheme {
	case "file":
		rc, size, err = openFile(u)
	case "http", "https":
		rc, size, err = r.openHTTP(ctx, u)
	case "s3":
		rc, size, err = r.openObject(ctx, u)
	default:
		return nil, fmt.Errorf("%w: %w: %s", models.ErrValidation, ErrUnsupportedScheme, u.Scheme)
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if limit > 0 && size > limit {
		return nil, fmt.Errorf("%w: %w: %d bytes", models.ErrValidation, ErrTooLarge, size)
	}

	reader := io.Reader(rc)
	if limit > 0 {
		reader = io.LimitReader(rc, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: read handle: %w", models.ErrNetwork, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, ErrTooLarge)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %w", models.ErrValidation, ErrEmpty)
	}
	return data, nil
}

func openFile(u *url.URL) (io.ReadCloser, int64, error) {
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: open %s: %w", models.ErrValidation, p, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("%w: stat %s: %w", models.ErrValidation, p, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %s is a directory", models.ErrValidation, p)
	}
	return f, info.Size(), nil
}

func (r *Resolver) openHTTP(ctx context.Context, u *url.URL) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request: %w", models.ErrValidation, err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: fetch handle: %w", models.ErrNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: fetch handle: status %d", models.ErrValidation, resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

func (r *Resolver) openObject(ctx context.Context, u *url.URL) (io.ReadCloser, int64, error) {
	if r.objects == nil {
		return nil, 0, fmt.Errorf("%w: %w: s3", models.ErrValidation, ErrUnsupportedScheme)
	}
	bucket, key := ObjectLocation(u)
	if bucket == "" || key == "" {
		return nil, 0, fmt.Errorf("%w: object handle needs bucket and key", models.ErrValidation)
	}
	rc, size, err := r.objects.Open(ctx, bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, 0, fmt.Errorf("%w: %w", models.ErrValidation, err)
		}
		return nil, 0, fmt.Errorf("%w: %w", models.ErrNetwork, err)
	}
	return rc, size, nil
}

// ObjectLocation splits an s3://bucket/key URL.
func ObjectLocation(u *url.URL) (bucket, key string) {
	return u.Host, strings.TrimPrefix(u.Path, "/")
}

// ObjectURI builds the handle URI of an object.
func ObjectURI(bucket, key string) string {
	return (&url.URL{Scheme: "s3", Host: bucket, Path: "/" + key}).String()
}
