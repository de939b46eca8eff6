// SPDX-License-Identifier: MIT

package bsdiff

import "errors"

// Sentinel errors for index construction, diffing, and patch framing.
var (
	// ErrBlockSizeTooSmall is returned when BlockSize < 4.
	ErrBlockSizeTooSmall = errors.New("bsdiff: block size must be >= 4")
	// ErrInvalidChunkSize is returned when a chunk size parameter is negative.
	ErrInvalidChunkSize = errors.New("bsdiff: chunk size must not be negative")
	// ErrInvalidThreadCount is returned when a thread count parameter is < 1.
	ErrInvalidThreadCount = errors.New("bsdiff: thread count must be >= 1")

	// ErrBadMagic is returned by the patch reader when the stream's magic
	// number doesn't match any known format.
	ErrBadMagic = errors.New("bsdiff: bad patch magic")
	// ErrBadVersion is returned by the patch reader when the magic is
	// recognized but the version is not.
	ErrBadVersion = errors.New("bsdiff: unsupported patch version")
	// ErrTruncatedPatch is returned when a patch stream ends mid-record.
	ErrTruncatedPatch = errors.New("bsdiff: truncated patch stream")
	// ErrCorruptPatch is returned when a patch record fails a structural
	// check (e.g. a negative length, a seek before the start of the old file).
	ErrCorruptPatch = errors.New("bsdiff: corrupt patch stream")

	// ErrUnknownCompressionMethod is returned when a patch names a
	// compression method this build doesn't recognize.
	ErrUnknownCompressionMethod = errors.New("bsdiff: unknown compression method")

	// ErrCycleMismatch is returned by the cycle CLI path when applying a
	// freshly computed patch does not reproduce the new file exactly. It
	// indicates a programming bug in the differ, translator, or patch
	// codec, never bad input.
	ErrCycleMismatch = errors.New("bsdiff: cycle round-trip mismatch")
)
