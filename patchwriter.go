// SPDX-License-Identifier: MIT

package bsdiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

const (
	patchMagic   uint32 = 0xB1DF
	patchVersion uint32 = 0x2000
	headerSize          = 4 + 4 + 1 + 8 + 8

	// chunkHeaderSize is the fixed-width record preceding each compressed
	// chunk body: old_start, new_start, new_len, raw_len, data_len, all
	// u64 little-endian. Fixed width (rather than varint, like the control
	// records themselves) so a chunk can be located and decoded without
	// scanning any earlier chunk.
	chunkHeaderSize = 8 * 5
)

// patch writer/reader control-cycle states. Every Match becomes exactly
// one Add, one Copy, and one Seek record, written and read back in that
// fixed order, so the wire format carries no explicit tag byte.
const (
	cycleExpectAdd = iota
	cycleExpectCopy
	cycleExpectSeek
)

// nopWriteCloser adapts an io.Writer with no closing behavior of its own
// to io.WriteCloser, for the uncompressed single-stream case.
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newStreamCompressor(method CompressionMethod, w io.Writer) (io.WriteCloser, error) {
	switch normalizeMethod(method) {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("bsdiff: init zstd stream encoder: %w", err)
		}
		return zw, nil
	case CompressionS2:
		return s2.NewWriter(w), nil
	default:
		return nil, ErrUnknownCompressionMethod
	}
}

// PatchWriter serializes a stream of Control records (as produced by a
// Translator) into the bsdiff patch wire format and writes them to an
// underlying io.Writer.
//
// Two body layouts are supported, selected by PatchWriterOptions.ChunkSize:
// a single continuously compressed stream (ChunkSize == 0), or a sequence
// of independently compressed, length-framed chunks (ChunkSize > 0). The
// chunked layout trades a small amount of compression ratio for the
// ability to decompress and, in principle, apply chunks independently of
// one another.
type PatchWriter struct {
	raw     io.Writer
	opts    PatchWriterOptions
	chunked bool

	streamW io.WriteCloser // single-stream mode
	stage   bytes.Buffer   // chunked mode: buffers one chunk's raw payload
	comp    *chunkCompressor

	cycle int

	// oldCursor mirrors the decoder's conceptual old-file cursor, tracked
	// here purely so each chunk can record its own old_start/new_start/
	// new_len (spec.md §4.7) instead of relying on the previous chunk's
	// end state.
	oldCursor     int64
	chunkOldStart int64
	chunkNewStart int64
	chunkNewLen   int64

	closed   bool
	closeErr error
}

// NewPatchWriter writes the patch header to w and returns a PatchWriter
// ready to accept Control records via WriteControl.
func NewPatchWriter(w io.Writer, opts PatchWriterOptions) (*PatchWriter, error) {
	pw := &PatchWriter{raw: w, opts: opts, chunked: opts.ChunkSize > 0}

	if err := pw.writeHeader(); err != nil {
		return nil, err
	}

	if pw.chunked {
		comp, err := newChunkCompressor(opts.Method)
		if err != nil {
			return nil, err
		}
		pw.comp = comp
	} else {
		sw, err := newStreamCompressor(opts.Method, w)
		if err != nil {
			return nil, err
		}
		pw.streamW = sw
	}

	return pw, nil
}

func (pw *PatchWriter) writeHeader() error {
	methodByte, err := methodByte(pw.opts.Method)
	if err != nil {
		return err
	}

	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], patchMagic)
	binary.LittleEndian.PutUint32(buf[4:8], patchVersion)
	buf[8] = methodByte
	binary.LittleEndian.PutUint64(buf[9:17], uint64(pw.opts.NewSize))
	binary.LittleEndian.PutUint64(buf[17:25], uint64(pw.opts.ChunkSize))

	if _, err := pw.raw.Write(buf); err != nil {
		return fmt.Errorf("bsdiff: write patch header: %w", err)
	}
	return nil
}

// WriteControl implements ControlFunc, so a Translator can drive a
// PatchWriter directly: tr := NewTranslator(old, new, pw.WriteControl).
func (pw *PatchWriter) WriteControl(c Control) error {
	if pw.closed {
		return fmt.Errorf("bsdiff: patch writer: WriteControl called after Close")
	}

	dst := pw.dest()
	switch c.Op {
	case OpAdd:
		if pw.cycle != cycleExpectAdd {
			return fmt.Errorf("bsdiff: patch writer: expected Add control")
		}
		if err := writeControlBytes(dst, c.Data); err != nil {
			return err
		}
		pw.oldCursor += int64(len(c.Data))
		pw.chunkNewLen += int64(len(c.Data))
		pw.cycle = cycleExpectCopy

	case OpCopy:
		if pw.cycle != cycleExpectCopy {
			return fmt.Errorf("bsdiff: patch writer: expected Copy control")
		}
		if err := writeControlBytes(dst, c.Data); err != nil {
			return err
		}
		pw.chunkNewLen += int64(len(c.Data))
		pw.cycle = cycleExpectSeek

	case OpSeek:
		if pw.cycle != cycleExpectSeek {
			return fmt.Errorf("bsdiff: patch writer: expected Seek control")
		}
		if err := writeVarintTo(dst, c.Seek); err != nil {
			return err
		}
		pw.oldCursor += c.Seek
		pw.cycle = cycleExpectAdd

		if pw.chunked && int64(pw.stage.Len()) >= pw.opts.ChunkSize {
			if err := pw.flushChunk(); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("bsdiff: patch writer: unknown control op %d", c.Op)
	}
	return nil
}

func (pw *PatchWriter) dest() io.Writer {
	if pw.chunked {
		return &pw.stage
	}
	return pw.streamW
}

func writeControlBytes(dst io.Writer, data []byte) error {
	if err := writeUvarintTo(dst, uint64(len(data))); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := dst.Write(data); err != nil {
		return fmt.Errorf("bsdiff: write control bytes: %w", err)
	}
	return nil
}

func writeUvarintTo(w io.Writer, v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

func writeVarintTo(w io.Writer, v int64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

// flushChunk compresses the staged raw payload as one independent unit and
// writes it as a fixed-width chunk record: old_start, new_start, new_len,
// raw_len, data_len (all u64 little-endian), followed by data_len bytes of
// compressed data. old_start/new_start/new_len let a reader (or a parallel
// applier) decode and apply this chunk on its own, without replaying any
// earlier chunk.
func (pw *PatchWriter) flushChunk() error {
	raw := pw.stage.Bytes()
	compressed, err := pw.comp.compress(nil, raw)
	if err != nil {
		return fmt.Errorf("bsdiff: compress chunk: %w", err)
	}

	hdr := make([]byte, chunkHeaderSize)
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(pw.chunkOldStart))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(pw.chunkNewStart))
	binary.LittleEndian.PutUint64(hdr[16:24], uint64(pw.chunkNewLen))
	binary.LittleEndian.PutUint64(hdr[24:32], uint64(len(raw)))
	binary.LittleEndian.PutUint64(hdr[32:40], uint64(len(compressed)))

	if _, err := pw.raw.Write(hdr); err != nil {
		return fmt.Errorf("bsdiff: write chunk header: %w", err)
	}
	if _, err := pw.raw.Write(compressed); err != nil {
		return fmt.Errorf("bsdiff: write chunk body: %w", err)
	}

	pw.stage.Reset()
	pw.chunkOldStart = pw.oldCursor
	pw.chunkNewStart += pw.chunkNewLen
	pw.chunkNewLen = 0
	return nil
}

// Close flushes any buffered final chunk (chunked mode) or the stream
// compressor's trailer (single-stream mode). Close is idempotent.
func (pw *PatchWriter) Close() error {
	if pw.closed {
		return pw.closeErr
	}
	pw.closed = true

	if pw.chunked {
		if pw.comp != nil {
			defer pw.comp.Close()
		}
		if pw.stage.Len() > 0 {
			if err := pw.flushChunk(); err != nil {
				pw.closeErr = err
			}
		}
	} else if pw.streamW != nil {
		if err := pw.streamW.Close(); err != nil && pw.closeErr == nil {
			pw.closeErr = err
		}
	}

	return pw.closeErr
}
