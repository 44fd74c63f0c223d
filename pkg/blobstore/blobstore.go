// Package blobstore supplements the brain store's local-file export and
// import paths with an optional object-storage destination: a
// BrainPackage produced by brain.BrainStore.ExportBrain can be pushed to
// (or pulled from) S3 instead of, or in addition to, a path on disk.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store puts and gets brain package bytes at a destination identified by
// a URI. A bare path or file:// URI resolves to local disk; an
// s3://bucket/key URI resolves to S3.
type Store interface {
	Put(ctx context.Context, dest string, data []byte) error
	Get(ctx context.Context, src string) ([]byte, error)
}

// Default returns the Store implementation brain.BrainStore uses when the
// caller does not supply one: local disk for bare paths and file://
// URIs, S3 for s3:// URIs, resolved lazily per call.
func Default() Store { return multiStore{} }

type multiStore struct{}

func (multiStore) Put(ctx context.Context, dest string, data []byte) error {
	if bucket, key, ok := parseS3(dest); ok {
		return putS3(ctx, bucket, key, data)
	}
	return os.WriteFile(localPath(dest), data, 0o600)
}

func (multiStore) Get(ctx context.Context, src string) ([]byte, error) {
	if bucket, key, ok := parseS3(src); ok {
		return getS3(ctx, bucket, key)
	}
	return os.ReadFile(localPath(src))
}

// IsRemote reports whether uri names an S3 object rather than a local
// path, i.e. whether BrainStore needs to reach the network to resolve it.
func IsRemote(uri string) bool {
	_, _, ok := parseS3(uri)
	return ok
}

func localPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

func parseS3(uri string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", false
	}
	rest := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func putS3(ctx context.Context, bucket, key string, data []byte) error {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("blobstore: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("blobstore: s3 put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func getS3(ctx context.Context, bucket, key string) ([]byte, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: s3 get %s/%s: %w", bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}
