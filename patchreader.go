// SPDX-License-Identifier: MIT

package bsdiff

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// reader states mirror the writer's control cycle, folding the trailing
// Seek read into the Copy step: Initial reads Add, Copy reads Copy then
// Seek and loops back to Initial, Final is reached once Initial's varint
// read hits a clean end of stream at the expected new size.
const (
	stateInitial = iota
	stateCopy
	stateFinal
)

func newStreamDecompressor(method CompressionMethod, r io.Reader) (io.Reader, *zstd.Decoder, error) {
	switch normalizeMethod(method) {
	case CompressionNone:
		return r, nil, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("bsdiff: init zstd stream decoder: %w", err)
		}
		return zr, zr, nil
	case CompressionS2:
		return s2.NewReader(r), nil, nil
	default:
		return nil, nil, ErrUnknownCompressionMethod
	}
}

// byteReader is the minimal interface binary.ReadUvarint/ReadVarint need,
// and what io.ReadFull needs for exact-length reads.
type byteReader interface {
	io.Reader
	io.ByteReader
}

// PatchReader applies a patch produced by PatchWriter against old,
// exposing the reconstructed new file as a streaming io.Reader so callers
// can io.Copy it to an output file without buffering the whole result.
type PatchReader struct {
	old       []byte
	method    CompressionMethod
	newSize   int64
	chunkSize int64
	chunked   bool

	// single-stream mode
	streamR byteReader
	zstdDec *zstd.Decoder

	// chunked mode: each chunk is decoded to a full, self-contained
	// []byte of new-file bytes as soon as it's loaded (decodeChunkControls),
	// using only that chunk's own old_start/new_len and the shared old
	// file, never any state carried over from the previous chunk.
	frameReader *bufio.Reader
	decomp      *chunkDecompressor

	oldCursor int64
	produced  int64

	rstate int
	out    []byte
	outPos int

	pendingErr error
	closed     bool
}

// NewPatchReader reads and validates the patch header from r and returns
// a PatchReader ready to be read from. old is borrowed for the reader's
// lifetime.
func NewPatchReader(r io.Reader, old []byte) (*PatchReader, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("bsdiff: %w: reading header: %v", ErrTruncatedPatch, err)
	}

	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != patchMagic {
		return nil, ErrBadMagic
	}
	version := binary.LittleEndian.Uint32(hdr[4:8])
	if version != patchVersion {
		return nil, ErrBadVersion
	}
	method, err := byteMethod(hdr[8])
	if err != nil {
		return nil, err
	}
	newSize := int64(binary.LittleEndian.Uint64(hdr[9:17]))
	chunkSize := int64(binary.LittleEndian.Uint64(hdr[17:25]))

	pr := &PatchReader{
		old:       old,
		method:    method,
		newSize:   newSize,
		chunkSize: chunkSize,
		chunked:   chunkSize > 0,
	}

	if pr.chunked {
		decomp, err := newChunkDecompressor(method)
		if err != nil {
			return nil, err
		}
		pr.decomp = decomp
		pr.frameReader = bufio.NewReader(r)
	} else {
		streamR, zr, err := newStreamDecompressor(method, r)
		if err != nil {
			return nil, err
		}
		pr.zstdDec = zr
		pr.streamR = bufio.NewReader(streamR)
	}

	return pr, nil
}

// Read implements io.Reader, producing the reconstructed new file.
func (pr *PatchReader) Read(p []byte) (int, error) {
	if pr.pendingErr != nil && pr.outPos >= len(pr.out) {
		return 0, pr.pendingErr
	}

	total := 0
	for total < len(p) {
		if pr.outPos < len(pr.out) {
			n := copy(p[total:], pr.out[pr.outPos:])
			pr.outPos += n
			total += n
			continue
		}
		if pr.rstate == stateFinal {
			pr.pendingErr = io.EOF
			break
		}

		var err error
		if pr.chunked {
			err = pr.loadNextChunk()
		} else {
			err = pr.advance()
		}
		if err != nil {
			pr.pendingErr = err
			break
		}
	}

	if total == 0 && pr.pendingErr != nil {
		return 0, pr.pendingErr
	}
	return total, nil
}

// advance runs one state transition, leaving newly produced bytes (if
// any) in pr.out/pr.outPos.
func (pr *PatchReader) advance() error {
	switch pr.rstate {
	case stateInitial:
		addLen, err := pr.readUvarint()
		if err != nil {
			if err == io.EOF {
				if pr.produced == pr.newSize {
					pr.rstate = stateFinal
					return io.EOF
				}
				return fmt.Errorf("bsdiff: %w: stream ended after %d of %d bytes", ErrTruncatedPatch, pr.produced, pr.newSize)
			}
			return err
		}

		delta, err := pr.readExact(int(addLen))
		if err != nil {
			return err
		}

		out := make([]byte, addLen)
		for i := range out {
			oi := pr.oldCursor + int64(i)
			if oi < 0 || oi >= int64(len(pr.old)) {
				return ErrCorruptPatch
			}
			out[i] = pr.old[oi] + delta[i]
		}
		pr.oldCursor += int64(addLen)
		pr.produced += int64(addLen)

		pr.out, pr.outPos = out, 0
		pr.rstate = stateCopy
		return nil

	case stateCopy:
		copyLen, err := pr.readUvarint()
		if err != nil {
			return fmt.Errorf("bsdiff: %w: reading copy length: %v", ErrCorruptPatch, err)
		}
		lit, err := pr.readExact(int(copyLen))
		if err != nil {
			return err
		}
		pr.produced += int64(copyLen)

		seek, err := pr.readVarint()
		if err != nil {
			return fmt.Errorf("bsdiff: %w: reading seek: %v", ErrCorruptPatch, err)
		}
		pr.oldCursor += seek
		if pr.oldCursor < 0 || pr.oldCursor > int64(len(pr.old)) {
			return ErrCorruptPatch
		}

		pr.out, pr.outPos = lit, 0
		pr.rstate = stateInitial
		return nil
	}

	return fmt.Errorf("bsdiff: patch reader: invalid internal state %d", pr.rstate)
}

func (pr *PatchReader) readUvarint() (uint64, error) {
	return binary.ReadUvarint(pr.streamR)
}

func (pr *PatchReader) readVarint() (int64, error) {
	return binary.ReadVarint(pr.streamR)
}

func (pr *PatchReader) readExact(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(pr.streamR, buf); err != nil {
		return nil, fmt.Errorf("bsdiff: %w: %v", ErrTruncatedPatch, err)
	}
	return buf, nil
}

// loadNextChunk reads one chunk record (old_start, new_start, new_len,
// raw_len, data_len, then data_len bytes of compressed data) from
// frameReader and fully decodes it into pr.out, ready to be served by
// Read. Decoding a chunk needs only its own header fields, its own
// compressed bytes, and the shared old file: no state from any earlier
// chunk is consulted, which is what lets chunks be applied independently
// (spec.md §4.7).
func (pr *PatchReader) loadNextChunk() error {
	hdr := make([]byte, chunkHeaderSize)
	if _, err := io.ReadFull(pr.frameReader, hdr); err != nil {
		if err == io.EOF {
			if pr.produced == pr.newSize {
				pr.rstate = stateFinal
				return io.EOF
			}
			return fmt.Errorf("bsdiff: %w: stream ended after %d of %d bytes", ErrTruncatedPatch, pr.produced, pr.newSize)
		}
		return fmt.Errorf("bsdiff: %w: chunk header: %v", ErrTruncatedPatch, err)
	}

	oldStart := int64(binary.LittleEndian.Uint64(hdr[0:8]))
	newStart := int64(binary.LittleEndian.Uint64(hdr[8:16]))
	newLen := int64(binary.LittleEndian.Uint64(hdr[16:24]))
	rawLen := int64(binary.LittleEndian.Uint64(hdr[24:32]))
	dataLen := int64(binary.LittleEndian.Uint64(hdr[32:40]))

	if oldStart < 0 || oldStart > int64(len(pr.old)) || newLen < 0 || rawLen < 0 || dataLen < 0 {
		return ErrCorruptPatch
	}
	if newStart != pr.produced {
		return fmt.Errorf("bsdiff: %w: chunk new_start %d does not follow %d bytes already produced", ErrCorruptPatch, newStart, pr.produced)
	}

	compressed := make([]byte, dataLen)
	if _, err := io.ReadFull(pr.frameReader, compressed); err != nil {
		return fmt.Errorf("bsdiff: %w: chunk body: %v", ErrTruncatedPatch, err)
	}

	raw, err := pr.decomp.decompress(make([]byte, 0, rawLen), compressed)
	if err != nil {
		return fmt.Errorf("bsdiff: %w: decompress chunk: %v", ErrCorruptPatch, err)
	}

	decoded, err := decodeChunkControls(raw, pr.old, oldStart, newLen)
	if err != nil {
		return err
	}

	pr.out, pr.outPos = decoded, 0
	pr.produced += newLen
	return nil
}

// decodeChunkControls decodes one chunk's Add/Copy/Seek control stream
// into new-file bytes on its own: cursor starts at oldStart (the chunk's
// recorded old_start) rather than wherever a previous chunk left off, so
// this function, given only ctrl, old, and the chunk's own header
// fields, reproduces exactly the chunk's newLen bytes of the new file
// (see DESIGN.md's patchreader.go entry).
func decodeChunkControls(ctrl []byte, old []byte, oldStart, newLen int64) ([]byte, error) {
	out := make([]byte, 0, newLen)
	cursor := oldStart
	br := bytes.NewReader(ctrl)

	for int64(len(out)) < newLen {
		addLen, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, fmt.Errorf("bsdiff: %w: chunk add length: %v", ErrCorruptPatch, err)
		}
		if addLen > 0 {
			delta := make([]byte, addLen)
			if _, err := io.ReadFull(br, delta); err != nil {
				return nil, fmt.Errorf("bsdiff: %w: chunk add bytes: %v", ErrTruncatedPatch, err)
			}
			for i := range delta {
				oi := cursor + int64(i)
				if oi < 0 || oi >= int64(len(old)) {
					return nil, ErrCorruptPatch
				}
				out = append(out, old[oi]+delta[i])
			}
			cursor += int64(addLen)
		}

		copyLen, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, fmt.Errorf("bsdiff: %w: chunk copy length: %v", ErrCorruptPatch, err)
		}
		if copyLen > 0 {
			lit := make([]byte, copyLen)
			if _, err := io.ReadFull(br, lit); err != nil {
				return nil, fmt.Errorf("bsdiff: %w: chunk copy bytes: %v", ErrTruncatedPatch, err)
			}
			out = append(out, lit...)
		}

		seek, err := binary.ReadVarint(br)
		if err != nil {
			return nil, fmt.Errorf("bsdiff: %w: chunk seek: %v", ErrCorruptPatch, err)
		}
		cursor += seek
		if cursor < 0 || cursor > int64(len(old)) {
			return nil, ErrCorruptPatch
		}
	}

	if int64(len(out)) != newLen {
		return nil, fmt.Errorf("bsdiff: %w: chunk produced %d bytes, header declared %d", ErrCorruptPatch, len(out), newLen)
	}
	return out, nil
}

// Close releases resources held by streaming decompressors. Close is
// idempotent.
func (pr *PatchReader) Close() error {
	if pr.closed {
		return nil
	}
	pr.closed = true
	if pr.zstdDec != nil {
		pr.zstdDec.Close()
	}
	if pr.decomp != nil {
		pr.decomp.Close()
	}
	return nil
}
