package imagestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
)

const gcsScheme = "gs://"

// GCSStore writes images to a Cloud Storage bucket under scans/
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore wraps an existing client
func NewGCSStore(client *storage.Client, bucket string) *GCSStore {
	return &GCSStore{client: client, bucket: bucket}
}

// Save uploads the image and returns its gs:// reference
func (s *GCSStore) Save(ctx context.Context, id string, data []byte) (string, error) {
	object := "scans/" + id + ".jpg"
	w := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "image/jpeg"

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	return gcsScheme + s.bucket + "/" + object, nil
}

// Delete removes an uploaded image. Missing objects are ignored.
func (s *GCSStore) Delete(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	bucket, object, err := ParseGCSRef(ref)
	if err != nil {
		return err
	}
	if bucket != s.bucket {
		return fmt.Errorf("image ref %q is not in bucket %s", ref, s.bucket)
	}
	err = s.client.Bucket(bucket).Object(object).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

// ParseGCSRef splits gs://bucket/object
func ParseGCSRef(ref string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(ref, gcsScheme)
	if !ok {
		return "", "", fmt.Errorf("not a gs:// ref: %q", ref)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed gs:// ref: %q", ref)
	}
	return bucket, object, nil
}
