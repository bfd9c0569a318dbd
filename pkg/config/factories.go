package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/pagefs/internal/logger"
	"github.com/marmos91/pagefs/pkg/blob"
	blobfs "github.com/marmos91/pagefs/pkg/blob/fs"
	blobmemory "github.com/marmos91/pagefs/pkg/blob/memory"
	blobs3 "github.com/marmos91/pagefs/pkg/blob/s3"
	"github.com/marmos91/pagefs/pkg/metrics"
	"github.com/marmos91/pagefs/pkg/storage"
	"github.com/marmos91/pagefs/pkg/storage/badger"
	"github.com/marmos91/pagefs/pkg/storage/memory"
)

// badgerOptions are the storage.badger keys.
type badgerOptions struct {
	DBPath           string `mapstructure:"db_path"`
	BlockCacheSizeMB int64  `mapstructure:"block_cache_mb"`
	IndexCacheSizeMB int64  `mapstructure:"index_cache_mb"`
	SyncWrites       *bool  `mapstructure:"sync_writes"`
}

// filesystemOptions are the blobs.filesystem keys.
type filesystemOptions struct {
	Path string `mapstructure:"path"`
}

// s3Options are the blobs.s3 keys.
type s3Options struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// decodeOptions decodes a store-specific options map into out. Values coming
// from the environment arrive as strings, hence the weak typing.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

func decodeBadgerOptions(options map[string]any) (badgerOptions, error) {
	var opts badgerOptions
	err := decodeOptions(options, &opts)
	return opts, err
}

func decodeFilesystemOptions(options map[string]any) (filesystemOptions, error) {
	var opts filesystemOptions
	err := decodeOptions(options, &opts)
	return opts, err
}

func decodeS3Options(options map[string]any) (s3Options, error) {
	var opts s3Options
	err := decodeOptions(options, &opts)
	return opts, err
}

// CreateBlobStore creates the page blob backend based on configuration.
//
// The backend is wrapped, innermost first, with zstd compression (when
// blobs.compress is on), Prometheus instrumentation (when metrics are
// enabled) and the write guard used by page collection.
//
// Supported types:
//   - "memory": pkg/blob/memory (ephemeral)
//   - "filesystem": pkg/blob/fs (one file per page under path)
//   - "s3": pkg/blob/s3 (Amazon S3 or compatible storage)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Blob backend configuration
//
// Returns:
//   - blob.Store: Initialized, wrapped backend
//   - error: Configuration or initialization error
func CreateBlobStore(ctx context.Context, cfg *BlobsConfig) (blob.Store, error) {
	var (
		store blob.Store
		err   error
	)

	switch cfg.Type {
	case "memory":
		store = blobmemory.NewMemoryBlobStore()
	case "filesystem":
		store, err = createFilesystemBlobStore(ctx, cfg.Filesystem)
	case "s3":
		store, err = createS3BlobStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob store type: %q (supported: memory, filesystem, s3)", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CompressEnabled() {
		store = blob.NewCompressed(store)
	}
	store = blob.NewInstrumented(store, metrics.NewBlobMetrics(cfg.Type))

	// Outermost, so every page write from the storage engine is fenced
	// against page collection
	return blob.NewGuarded(store), nil
}

func createFilesystemBlobStore(ctx context.Context, options map[string]any) (blob.Store, error) {
	opts, err := decodeFilesystemOptions(options)
	if err != nil {
		return nil, fmt.Errorf("failed to decode filesystem blob store config: %w", err)
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("filesystem blob store: path is required")
	}

	store, err := blobfs.NewFSBlobStore(ctx, opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem blob store: %w", err)
	}

	logger.Info("Filesystem blob store initialized: path=%s", opts.Path)
	return store, nil
}

func createS3BlobStore(ctx context.Context, options map[string]any) (blob.Store, error) {
	opts, err := decodeS3Options(options)
	if err != nil {
		return nil, fmt.Errorf("failed to decode S3 blob store config: %w", err)
	}

	client, err := newS3Client(ctx, opts)
	if err != nil {
		return nil, err
	}

	store, err := blobs3.NewS3BlobStore(ctx, blobs3.S3BlobStoreConfig{
		Client:    client,
		Bucket:    opts.Bucket,
		KeyPrefix: opts.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 blob store: %w", err)
	}

	logger.Info("S3 blob store initialized: bucket=%s, region=%s, prefix=%s",
		opts.Bucket, opts.Region, opts.KeyPrefix)

	return store, nil
}

// newS3Client builds an S3 client from the blobs.s3 options.
func newS3Client(ctx context.Context, opts s3Options) (*s3.Client, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("S3 blob store: bucket is required")
	}
	if opts.Region == "" {
		return nil, fmt.Errorf("S3 blob store: region is required")
	}

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(opts.Region),
	}

	// Static credentials if provided, otherwise the default credential chain
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// MinIO, Localstack and friends
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// CreateStorage creates the transactional storage engine based on configuration.
//
// Supported types:
//   - "memory": pkg/storage/memory (ephemeral)
//   - "badger": pkg/storage/badger (BadgerDB, persistent)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Storage configuration
//   - blobs: Blob backend the engine stores page bytes in
//
// Returns:
//   - storage.Store: Initialized engine
//   - error: Configuration or initialization error
func CreateStorage(ctx context.Context, cfg *StorageConfig, blobs blob.Store) (storage.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return memory.NewMemoryStore(blobs), nil
	case "badger":
		return createBadgerStorage(ctx, cfg.Badger, blobs)
	default:
		return nil, fmt.Errorf("unknown storage type: %q (supported: memory, badger)", cfg.Type)
	}
}

func createBadgerStorage(ctx context.Context, options map[string]any, blobs blob.Store) (storage.Store, error) {
	opts, err := decodeBadgerOptions(options)
	if err != nil {
		return nil, fmt.Errorf("failed to decode badger storage options: %w", err)
	}
	if opts.DBPath == "" {
		return nil, fmt.Errorf("badger storage: db_path is required")
	}

	syncWrites := true
	if opts.SyncWrites != nil {
		syncWrites = *opts.SyncWrites
	}

	store, err := badger.NewBadgerStore(ctx, badger.BadgerStoreConfig{
		DBPath:           opts.DBPath,
		BlockCacheSizeMB: opts.BlockCacheSizeMB,
		IndexCacheSizeMB: opts.IndexCacheSizeMB,
		SyncWrites:       syncWrites,
	}, blobs)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger storage: %w", err)
	}

	return store, nil
}
