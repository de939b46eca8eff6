// SPDX-License-Identifier: MIT

package bsdiff

import "runtime"

// DefaultBlockSize is the block size used when DiffParams.BlockSize is left
// at zero.
const DefaultBlockSize = 32

// DiffParams configures index construction and the scan loop.
type DiffParams struct {
	// BlockSize is the alignment granularity of the substring index. Must be
	// >= 4; zero means DefaultBlockSize.
	BlockSize int
	// ScanChunkSize partitions the new buffer into independently scanned
	// chunks of this many bytes when > 0. Zero means single-threaded,
	// whole-buffer scanning.
	ScanChunkSize int
	// NumThreads bounds the worker pool used for partitioned scanning. Zero
	// means runtime.GOMAXPROCS(0).
	NumThreads int
	// UseRAM selects an anonymous (RAM-backed) mapping for the hash table
	// instead of a pageable, file-backed one.
	UseRAM bool
}

// DefaultDiffParams returns single-threaded parameters with the default
// block size and a RAM-backed index.
func DefaultDiffParams() DiffParams {
	return DiffParams{BlockSize: DefaultBlockSize, UseRAM: true}
}

// normalize fills in zero fields and validates the result.
func (p DiffParams) normalize() (DiffParams, error) {
	if p.BlockSize == 0 {
		p.BlockSize = DefaultBlockSize
	}
	if p.BlockSize < 4 {
		return p, ErrBlockSizeTooSmall
	}
	if p.ScanChunkSize < 0 {
		return p, ErrInvalidChunkSize
	}
	if p.NumThreads == 0 {
		p.NumThreads = runtime.GOMAXPROCS(0)
	}
	if p.NumThreads < 1 {
		return p, ErrInvalidThreadCount
	}
	return p, nil
}

// CompressionMethod selects the byte compressor used for a patch body,
// either the single stream or each chunk.
type CompressionMethod string

const (
	// CompressionNone stores chunk payloads uncompressed.
	CompressionNone CompressionMethod = "none"
	// CompressionZstd compresses chunk payloads with zstd (klauspost/compress).
	CompressionZstd CompressionMethod = "zstd"
	// CompressionS2 compresses chunk payloads with S2, a Snappy-derived
	// codec (klauspost/compress), favoring speed over ratio.
	CompressionS2 CompressionMethod = "s2"
)

// PatchWriterOptions configures PatchWriter.
type PatchWriterOptions struct {
	// NewSize is the reconstructed file's length, stored in the header.
	NewSize int64
	// ChunkSize selects the chunked format when > 0: the writer stages the
	// uncompressed control stream and closes a chunk, compressing it
	// independently, once a completed Add/Copy/Seek cycle brings the staged
	// bytes to at least ChunkSize. Zero selects the single-stream format.
	ChunkSize int64
	// Method selects the compressor for chunk payloads in chunked mode and
	// for the whole body stream in single-stream mode. Zero value is
	// CompressionNone.
	Method CompressionMethod
}

// DefaultPatchWriterOptions returns single-stream options for the given
// new-file size.
func DefaultPatchWriterOptions(newSize int64) PatchWriterOptions {
	return PatchWriterOptions{NewSize: newSize}
}
