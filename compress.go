// SPDX-License-Identifier: MIT

package bsdiff

import (
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// methodByte and byteMethod convert between a CompressionMethod and its
// one-byte wire representation.
func methodByte(m CompressionMethod) (byte, error) {
	switch m {
	case CompressionNone, "":
		return 0, nil
	case CompressionZstd:
		return 1, nil
	case CompressionS2:
		return 2, nil
	default:
		return 0, ErrUnknownCompressionMethod
	}
}

// normalizeMethod maps the CompressionMethod zero value to CompressionNone.
func normalizeMethod(m CompressionMethod) CompressionMethod {
	if m == "" {
		return CompressionNone
	}
	return m
}

func byteMethod(b byte) (CompressionMethod, error) {
	switch b {
	case 0:
		return CompressionNone, nil
	case 1:
		return CompressionZstd, nil
	case 2:
		return CompressionS2, nil
	default:
		return "", ErrUnknownCompressionMethod
	}
}

// chunkCompressor compresses independent, whole chunks of the control
// stream (as opposed to a single continuing stream) so that a chunked
// patch's chunks can later be decompressed independently of one another.
type chunkCompressor struct {
	method CompressionMethod
	zw     *zstd.Encoder
}

func newChunkCompressor(method CompressionMethod) (*chunkCompressor, error) {
	method = normalizeMethod(method)
	c := &chunkCompressor{method: method}
	if method == CompressionZstd {
		zw, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("bsdiff: init zstd encoder: %w", err)
		}
		c.zw = zw
	}
	return c, nil
}

func (c *chunkCompressor) compress(dst, src []byte) ([]byte, error) {
	switch c.method {
	case CompressionNone:
		return append(dst[:0], src...), nil
	case CompressionZstd:
		return c.zw.EncodeAll(src, dst[:0]), nil
	case CompressionS2:
		return s2.Encode(nil, src), nil
	default:
		return nil, ErrUnknownCompressionMethod
	}
}

func (c *chunkCompressor) Close() error {
	if c.zw != nil {
		return c.zw.Close()
	}
	return nil
}

// chunkDecompressor is the inverse of chunkCompressor.
type chunkDecompressor struct {
	method CompressionMethod
	zr     *zstd.Decoder
}

func newChunkDecompressor(method CompressionMethod) (*chunkDecompressor, error) {
	method = normalizeMethod(method)
	d := &chunkDecompressor{method: method}
	if method == CompressionZstd {
		zr, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("bsdiff: init zstd decoder: %w", err)
		}
		d.zr = zr
	}
	return d, nil
}

func (d *chunkDecompressor) decompress(dst, src []byte) ([]byte, error) {
	switch d.method {
	case CompressionNone:
		return append(dst[:0], src...), nil
	case CompressionZstd:
		return d.zr.DecodeAll(src, dst[:0])
	case CompressionS2:
		return s2.Decode(dst, src)
	default:
		return nil, ErrUnknownCompressionMethod
	}
}

func (d *chunkDecompressor) Close() {
	if d.zr != nil {
		d.zr.Close()
	}
}
