package config

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"
)

// NewS3Client builds an S3 client from the storage settings. Static credentials are used when
// STORAGE_ACCESS_KEY/STORAGE_SECRET_KEY are set, the default AWS chain otherwise.
func NewS3Client(s Settings) (*s3.S3, error) {
	if s.StorageBucket == "" {
		return nil, errors.New("STORAGE_BUCKET is required for the s3 storage driver")
	}

	cfg := &aws.Config{Region: aws.String(s.StorageRegion)}
	if s.StorageEndpoint != "" {
		// S3-compatible stores (MinIO etc.) need path-style addressing.
		cfg.Endpoint = aws.String(s.StorageEndpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	accessKey := Conf.GetString("storage_access_key")
	secretKey := Conf.GetString("storage_secret_key")
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create AWS session")
	}
	return s3.New(sess), nil
}
