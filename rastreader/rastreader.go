// Package rastreader serves scene collections stored as snappy-compressed
// raw tiles in a GCS bucket (or a local directory with the same layout) and
// writes composites back in that layout.
//
// A store holds one JSON index mapping catalog IDs to collections, each
// listing its scenes, their geotransforms, scalar properties and one tile
// object per band.
package rastreader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
)

// ErrNotFound is returned by a Store for a missing object.
var ErrNotFound = errors.New("object not found")

// Store reads and writes named objects.
type Store interface {
	NewReader(ctx context.Context, name string) (io.ReadCloser, error)
	NewWriter(ctx context.Context, name string) (io.WriteCloser, error)
}

// BucketStore is a Store over a GCS bucket.
type BucketStore struct {
	client *storage.Client
	bkt    *storage.BucketHandle
	name   string
}

// NewBucketStore opens bucket with the ambient Google credentials.
func NewBucketStore(ctx context.Context, bucket string) (*BucketStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("Error creating client: %v", err)
	}
	return &BucketStore{client: client, bkt: client.Bucket(bucket), name: bucket}, nil
}

func (b *BucketStore) NewReader(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := b.bkt.Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: gs://%s/%s", ErrNotFound, b.name, name)
	}
	if err != nil {
		return nil, fmt.Errorf("Error creating object reader: %s object: %s: %v", b.name, name, err)
	}
	return r, nil
}

func (b *BucketStore) NewWriter(ctx context.Context, name string) (io.WriteCloser, error) {
	return b.bkt.Object(name).NewWriter(ctx), nil
}

// Close releases the underlying client.
func (b *BucketStore) Close() error {
	return b.client.Close()
}

// DirStore is a Store rooted at a local directory.
type DirStore struct {
	Root string
}

func (d DirStore) path(name string) string {
	return filepath.Join(d.Root, filepath.FromSlash(name))
}

func (d DirStore) NewReader(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(d.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, d.path(name))
	}
	return f, err
}

func (d DirStore) NewWriter(ctx context.Context, name string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := d.path(name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, err
	}
	return os.Create(p)
}

func readObject(ctx context.Context, s Store, name string) ([]byte, error) {
	r, err := s.NewReader(ctx, name)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return nil, fmt.Errorf("Error reading from object: %s: %v", name, err)
	}
	return data, nil
}

func writeObject(ctx context.Context, s Store, name string, data []byte) error {
	w, err := s.NewWriter(ctx, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("Error writing object: %s: %v", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("Error closing object: %s: %v", name, err)
	}
	return nil
}
