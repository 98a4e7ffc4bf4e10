package export

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec compresses whole result files
type Codec interface {
	Name() string
	Extension() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// NewCodec returns the codec for none, gzip or zstd
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return NoopCodec{}, nil
	case "gzip":
		return GzipCodec{}, nil
	case "zstd":
		return ZstdCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

// CodecForPath picks a codec from a file extension; unknown extensions read as plain
func CodecForPath(path string) Codec {
	switch {
	case strings.HasSuffix(path, GzipCodec{}.Extension()):
		return GzipCodec{}
	case strings.HasSuffix(path, ZstdCodec{}.Extension()):
		return ZstdCodec{}
	default:
		return NoopCodec{}
	}
}

// NoopCodec leaves data untouched
type NoopCodec struct{}

func (NoopCodec) Name() string                           { return "none" }
func (NoopCodec) Extension() string                      { return "" }
func (NoopCodec) Compress(data []byte) ([]byte, error)   { return data, nil }
func (NoopCodec) Decompress(data []byte) ([]byte, error) { return data, nil }

// GzipCodec writes .gz files readable by standard tools
type GzipCodec struct{}

func (GzipCodec) Name() string      { return "gzip" }
func (GzipCodec) Extension() string { return ".gz" }

func (GzipCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip compression failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compression failed: %w", err)
	}
	return buf.Bytes(), nil
}

func (GzipCodec) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip decompression failed: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip decompression failed: %w", err)
	}
	return out, nil
}

var zstdEncoderPool = sync.Pool{
	New: func() any {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd encoder for pool: %v", err))
		}
		return encoder
	},
}

var zstdDecoderPool = sync.Pool{
	New: func() any {
		decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd decoder for pool: %v", err))
		}
		return decoder
	},
}

// ZstdCodec writes .zst files using pooled stateless encoders
type ZstdCodec struct{}

func (ZstdCodec) Name() string      { return "zstd" }
func (ZstdCodec) Extension() string { return ".zst" }

func (ZstdCodec) Compress(data []byte) ([]byte, error) {
	encoder := zstdEncoderPool.Get().(*zstd.Encoder)
	defer zstdEncoderPool.Put(encoder)
	return encoder.EncodeAll(data, nil), nil
}

func (ZstdCodec) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	decoder := zstdDecoderPool.Get().(*zstd.Decoder)
	defer zstdDecoderPool.Put(decoder)

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return out, nil
}
