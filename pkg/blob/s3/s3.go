package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/pagefs/pkg/blob"
)

// S3BlobStore implements blob.Store using Amazon S3 or S3-compatible storage.
//
// Key Design:
//   - One object per page, keyed by "<keyPrefix>pages/<hash[0:2]>/<hash>"
//   - The two-character fan-out spreads keys across S3 partitions
//   - Pages are immutable, so S3's overwrite semantics never matter
//
// Thread Safety:
// The S3 client is safe for concurrent use; this type holds no other state.
type S3BlobStore struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
}

// S3BlobStoreConfig contains configuration for the S3 blob store.
type S3BlobStoreConfig struct {
	// Client is the configured S3 client
	Client *s3.Client

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	// Example: "pagefs/" results in keys like "pagefs/pages/ab/ab12..."
	KeyPrefix string
}

// NewS3BlobStore creates a new S3-based blob store.
//
// The bucket must already exist - this function verifies access but does not
// create it.
func NewS3BlobStore(ctx context.Context, cfg S3BlobStoreConfig) (*S3BlobStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	_, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &S3BlobStore{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

func (s *S3BlobStore) pagesPrefix() string {
	return s.keyPrefix + "pages/"
}

// objectKey returns the full S3 object key for a page hash.
func (s *S3BlobStore) objectKey(hash string) string {
	if len(hash) < 2 {
		return s.pagesPrefix() + "_/" + hash
	}
	return s.pagesPrefix() + hash[:2] + "/" + hash
}

func (s *S3BlobStore) Put(ctx context.Context, hash string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(hash)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("put page %s: %w", hash, err)
	}
	return nil
}

func (s *S3BlobStore) Get(ctx context.Context, hash string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(hash)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("blob %s: %w", hash, blob.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("get page %s: %w", hash, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read page %s: %w", hash, err)
	}
	return data, nil
}

func (s *S3BlobStore) Exists(ctx context.Context, hash string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(hash)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("head page %s: %w", hash, err)
	}
	return true, nil
}

func (s *S3BlobStore) Delete(ctx context.Context, hash string) error {
	// S3 DeleteObject is idempotent: deleting a missing key succeeds
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(hash)),
	})
	if err != nil {
		return fmt.Errorf("delete page %s: %w", hash, err)
	}
	return nil
}

func (s *S3BlobStore) List(ctx context.Context) ([]blob.Info, error) {
	var infos []blob.Info

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.pagesPrefix()),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list pages: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			info := blob.Info{
				Hash: key[strings.LastIndex(key, "/")+1:],
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				info.ModTime = *obj.LastModified
			}
			infos = append(infos, info)
		}
	}

	return infos, nil
}
