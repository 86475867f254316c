// Package s3 stores blobs in an S3 bucket and hands out presigned GET URLs.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ageniuscoder/mmchat/messaging/internal/blobstore"
)

// s3API is the minimal S3 interface required by Store.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// presignAPI is satisfied by *s3.PresignClient.
type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Store struct {
	api     s3API
	presign presignAPI
	bucket  string
	ttl     time.Duration
}

func New(api s3API, presign presignAPI, bucket string, ttl time.Duration) (*Store, error) {
	if api == nil || presign == nil {
		return nil, errors.New("s3 blobstore: api must not be nil")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("s3 blobstore: bucket is required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Store{api: api, presign: presign, bucket: bucket, ttl: ttl}, nil
}

// NewFromClient wires a real S3 client and its presigner.
func NewFromClient(client *s3.Client, bucket string, ttl time.Duration) (*Store, error) {
	return New(client, s3.NewPresignClient(client), bucket, ttl)
}

func (s *Store) PutBytes(ctx context.Context, path string, data []byte, contentType string) error {
	key, err := blobstore.CleanPath(path)
	if err != nil {
		return err
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3 blobstore: PutObject %q: %w", key, err)
	}
	return nil
}

func (s *Store) DownloadURL(ctx context.Context, path string) (string, error) {
	key, err := blobstore.CleanPath(path)
	if err != nil {
		return "", err
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("s3 blobstore: presign %q: %w", key, err)
	}
	return req.URL, nil
}
