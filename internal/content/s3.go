package content

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var _ Store = (*S3Store)(nil)

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Store keeps bodies as objects <manuscript>/docs/<document>.html in one bucket.
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store connects to an S3-compatible endpoint and creates the bucket if it is missing.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Store) Read(ctx context.Context, manuscriptID, documentID string) (string, error) {
	if err := validateIDs(manuscriptID, documentID); err != nil {
		return "", err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(manuscriptID, documentID), minio.GetObjectOptions{})
	if err != nil {
		return "", s3ReadError(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return "", s3ReadError(err)
	}
	return string(data), nil
}

func (s *S3Store) Write(ctx context.Context, manuscriptID, documentID, html string) error {
	if err := validateIDs(manuscriptID, documentID); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(manuscriptID, documentID),
		strings.NewReader(html), int64(len(html)),
		minio.PutObjectOptions{ContentType: "text/html; charset=utf-8"},
	)
	if err != nil {
		return fmt.Errorf("put content object: %w", err)
	}
	return nil
}

func (s *S3Store) RemoveManuscript(ctx context.Context, manuscriptID string) error {
	if err := ValidateSegment(manuscriptID); err != nil {
		return err
	}
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    manuscriptID + "/",
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("list content objects: %w", obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove content object %s: %w", obj.Key, err)
		}
	}
	return nil
}

func objectKey(manuscriptID, documentID string) string {
	return manuscriptID + "/" + DocumentPath(documentID)
}

func s3ReadError(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return fmt.Errorf("read content object: %w", err)
}
