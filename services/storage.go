package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"

	"nextcompete-api/config"
)

// ObjectStore is the file-storage backend behind uploads and asset deletion.
type ObjectStore interface {
	// Put stores body under key and returns its public URL.
	Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) (string, error)
	// Delete removes key. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
}

// NewObjectStore builds the store selected by STORAGE_DRIVER.
func NewObjectStore(s config.Settings) (ObjectStore, error) {
	switch s.StorageDriver {
	case "s3":
		client, err := config.NewS3Client(s)
		if err != nil {
			return nil, err
		}
		return NewS3Store(client, s.StorageBucket, s.StorageRegion, s.StorageBaseURL), nil
	case "local", "":
		return NewLocalStore(s.UploadPath, s.StorageBaseURL)
	default:
		return nil, errors.Errorf("unsupported STORAGE_DRIVER %q", s.StorageDriver)
	}
}

// S3Store keeps objects in an S3 bucket.
type S3Store struct {
	client  s3iface.S3API
	bucket  string
	baseURL string
}

func NewS3Store(client s3iface.S3API, bucket, region, baseURL string) *S3Store {
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &S3Store{client: client, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *S3Store) Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObjectWithContext(ctx, input); err != nil {
		return "", errors.Wrapf(err, "put s3 object %s", key)
	}
	return s.baseURL + "/" + key, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return errors.Wrapf(err, "delete s3 object %s", key)
}

// LocalStore keeps objects under a directory on disk (UPLOAD_PATH).
type LocalStore struct {
	root    string
	baseURL string
}

func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if root == "" {
		root = "./uploads"
	}
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		return nil, errors.Wrap(err, "create upload directory")
	}
	if baseURL == "" {
		baseURL = "/uploads"
	}
	return &LocalStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", errors.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *LocalStore) Put(ctx context.Context, key string, body io.ReadSeeker, _ string) (string, error) {
	full, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), os.ModePerm); err != nil {
		return "", errors.Wrap(err, "create object directory")
	}
	f, err := os.Create(full)
	if err != nil {
		return "", errors.Wrap(err, "create object file")
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(full)
		return "", errors.Wrap(err, "write object file")
	}
	if err := f.Close(); err != nil {
		os.Remove(full)
		return "", errors.Wrap(err, "close object file")
	}
	if err := ctx.Err(); err != nil {
		os.Remove(full)
		return "", err
	}
	return s.baseURL + "/" + filepath.ToSlash(strings.TrimPrefix(filepath.Clean("/"+key), "/")), nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove object file")
	}
	return nil
}
