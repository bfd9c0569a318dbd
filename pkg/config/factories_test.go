package config

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/pagefs/pkg/blob"
)

func TestCreateBlobStore_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := GetDefaultConfig().Blobs

	store, err := CreateBlobStore(ctx, &cfg)
	if err != nil {
		t.Fatalf("Failed to create memory blob store: %v", err)
	}

	if err := store.Put(ctx, "abc", []byte("page bytes")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	data, err := store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "page bytes" {
		t.Errorf("Expected round-tripped page, got %q", data)
	}
}

func TestCreateBlobStore_Guarded(t *testing.T) {
	cfg := GetDefaultConfig().Blobs

	store, err := CreateBlobStore(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("Failed to create memory blob store: %v", err)
	}
	if _, ok := store.(*blob.Guarded); !ok {
		t.Errorf("Expected the outermost blob store to be *blob.Guarded, got %T", store)
	}
}

func TestCreateBlobStore_Filesystem(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	compress := false
	cfg := &BlobsConfig{
		Type:       "filesystem",
		Compress:   &compress,
		Filesystem: map[string]any{"path": dir},
	}

	store, err := CreateBlobStore(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to create filesystem blob store: %v", err)
	}

	if err := store.Put(ctx, "abc", []byte("page")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	infos, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 1 || infos[0].Hash != "abc" {
		t.Errorf("Expected one blob 'abc', got %+v", infos)
	}
}

func TestCreateBlobStore_FilesystemMissingPath(t *testing.T) {
	ctx := context.Background()
	cfg := &BlobsConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{},
	}

	_, err := CreateBlobStore(ctx, cfg)
	if err == nil {
		t.Fatal("Expected error for missing path")
	}
	if !strings.Contains(err.Error(), "path is required") {
		t.Errorf("Expected 'path is required' error, got: %v", err)
	}
}

func TestCreateBlobStore_S3MissingBucket(t *testing.T) {
	ctx := context.Background()
	cfg := &BlobsConfig{
		Type: "s3",
		S3:   map[string]any{"region": "us-east-1"},
	}

	_, err := CreateBlobStore(ctx, cfg)
	if err == nil {
		t.Fatal("Expected error for missing bucket")
	}
	if !strings.Contains(err.Error(), "bucket is required") {
		t.Errorf("Expected 'bucket is required' error, got: %v", err)
	}
}

func TestCreateBlobStore_UnknownType(t *testing.T) {
	ctx := context.Background()
	cfg := &BlobsConfig{Type: "tape"}

	_, err := CreateBlobStore(ctx, cfg)
	if err == nil {
		t.Fatal("Expected error for unknown blob store type")
	}
	if !strings.Contains(err.Error(), "unknown blob store type") {
		t.Errorf("Expected 'unknown blob store type' error, got: %v", err)
	}
}

func TestCreateStorage_Memory(t *testing.T) {
	ctx := context.Background()
	blobCfg := GetDefaultConfig().Blobs
	blobs, err := CreateBlobStore(ctx, &blobCfg)
	if err != nil {
		t.Fatalf("Failed to create blob store: %v", err)
	}

	store, err := CreateStorage(ctx, &StorageConfig{Type: "memory"}, blobs)
	if err != nil {
		t.Fatalf("Failed to create memory storage: %v", err)
	}
	defer func() { _ = store.Close() }()
}

func TestCreateStorage_Badger(t *testing.T) {
	ctx := context.Background()
	blobCfg := GetDefaultConfig().Blobs
	blobs, err := CreateBlobStore(ctx, &blobCfg)
	if err != nil {
		t.Fatalf("Failed to create blob store: %v", err)
	}

	cfg := &StorageConfig{
		Type: "badger",
		Badger: map[string]any{
			"db_path":     filepath.Join(t.TempDir(), "db"),
			"sync_writes": "false",
		},
	}

	store, err := CreateStorage(ctx, cfg, blobs)
	if err != nil {
		t.Fatalf("Failed to create badger storage: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestCreateStorage_BadgerMissingPath(t *testing.T) {
	ctx := context.Background()

	_, err := CreateStorage(ctx, &StorageConfig{Type: "badger", Badger: map[string]any{}}, nil)
	if err == nil {
		t.Fatal("Expected error for missing db_path")
	}
	if !strings.Contains(err.Error(), "db_path is required") {
		t.Errorf("Expected 'db_path is required' error, got: %v", err)
	}
}

func TestCreateStorage_UnknownType(t *testing.T) {
	ctx := context.Background()

	_, err := CreateStorage(ctx, &StorageConfig{Type: "postgres"}, nil)
	if err == nil {
		t.Fatal("Expected error for unknown storage type")
	}
	if !strings.Contains(err.Error(), "unknown storage type") {
		t.Errorf("Expected 'unknown storage type' error, got: %v", err)
	}
}

func TestCreateStorage_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CreateStorage(ctx, &StorageConfig{Type: "memory"}, nil)
	if err == nil {
		t.Fatal("Expected error for canceled context")
	}
}

func TestDecodeOptions_RejectsUnknownKeys(t *testing.T) {
	_, err := decodeS3Options(map[string]any{"bucket": "pages", "regoin": "eu-west-1"})
	if err == nil {
		t.Fatal("Expected error for misspelled S3 option")
	}
}
