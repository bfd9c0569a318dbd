package blob

import (
	"context"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// compressedStore wraps a Store and transparently zstd-compresses page bytes.
type compressedStore struct {
	inner Store

	encoderPool sync.Pool
	decoderPool sync.Pool
}

// NewCompressed returns a Store that compresses blobs with zstd before handing
// them to inner and decompresses them on read.
func NewCompressed(inner Store) Store {
	c := &compressedStore{inner: inner}

	c.encoderPool = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			return enc
		},
	}
	c.decoderPool = sync.Pool{
		New: func() any {
			dec, _ := zstd.NewReader(nil)
			return dec
		},
	}

	return c
}

func (c *compressedStore) Put(ctx context.Context, hash string, data []byte) error {
	enc := c.encoderPool.Get().(*zstd.Encoder)
	compressed := enc.EncodeAll(data, make([]byte, 0, len(data)/2+64))
	c.encoderPool.Put(enc)

	return c.inner.Put(ctx, hash, compressed)
}

func (c *compressedStore) Get(ctx context.Context, hash string) ([]byte, error) {
	compressed, err := c.inner.Get(ctx, hash)
	if err != nil {
		return nil, err
	}

	dec := c.decoderPool.Get().(*zstd.Decoder)
	defer c.decoderPool.Put(dec)

	data, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress blob %s: %w", hash, err)
	}
	return data, nil
}

func (c *compressedStore) Exists(ctx context.Context, hash string) (bool, error) {
	return c.inner.Exists(ctx, hash)
}

func (c *compressedStore) Delete(ctx context.Context, hash string) error {
	return c.inner.Delete(ctx, hash)
}

func (c *compressedStore) List(ctx context.Context) ([]Info, error) {
	return c.inner.List(ctx)
}
