// SPDX-License-Identifier: MIT

package bsdiff

import (
	"bytes"
	"io"
	"math/rand"
	"testing"
)

// buildPatch diffs old against new and writes a full patch using opts,
// returning the encoded patch bytes.
func buildPatch(t *testing.T, old, new []byte, diffParams DiffParams, opts PatchWriterOptions) []byte {
	t.Helper()
	opts.NewSize = int64(len(new))

	var buf bytes.Buffer
	pw, err := NewPatchWriter(&buf, opts)
	if err != nil {
		t.Fatalf("NewPatchWriter failed: %v", err)
	}

	tr := NewTranslator(old, new, pw.WriteControl)
	if err := Diff(old, new, diffParams, tr.Add); err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Translator.Close failed: %v", err)
	}
	if err := pw.Close(); err != nil {
		t.Fatalf("PatchWriter.Close failed: %v", err)
	}
	return buf.Bytes()
}

func applyPatch(t *testing.T, patch, old []byte) []byte {
	t.Helper()
	pr, err := NewPatchReader(bytes.NewReader(patch), old)
	if err != nil {
		t.Fatalf("NewPatchReader failed: %v", err)
	}
	defer pr.Close()

	got, err := io.ReadAll(pr)
	if err != nil {
		t.Fatalf("reading patch output failed: %v", err)
	}
	return got
}

func TestPatchRoundTripSingleStream(t *testing.T) {
	for _, method := range []CompressionMethod{CompressionNone, CompressionZstd, CompressionS2} {
		method := method
		t.Run(string(method), func(t *testing.T) {
			rng := rand.New(rand.NewSource(7))
			old := randomBytes(rng, 8192)
			new := mutate(rng, old, 150)

			patch := buildPatch(t, old, new, DiffParams{BlockSize: 24, UseRAM: true}, PatchWriterOptions{Method: method})
			got := applyPatch(t, patch, old)
			if !bytes.Equal(got, new) {
				t.Fatalf("round trip mismatch for method %s: got %d bytes, want %d bytes", method, len(got), len(new))
			}
		})
	}
}

func TestPatchRoundTripChunked(t *testing.T) {
	for _, method := range []CompressionMethod{CompressionNone, CompressionZstd, CompressionS2} {
		method := method
		t.Run(string(method), func(t *testing.T) {
			rng := rand.New(rand.NewSource(8))
			old := randomBytes(rng, 1<<15)
			new := mutate(rng, old, 400)

			patch := buildPatch(t, old, new, DiffParams{BlockSize: 24, UseRAM: true}, PatchWriterOptions{ChunkSize: 1024, Method: method})
			got := applyPatch(t, patch, old)
			if !bytes.Equal(got, new) {
				t.Fatalf("chunked round trip mismatch for method %s: got %d bytes, want %d bytes", method, len(got), len(new))
			}
		})
	}
}

func TestPatchRoundTripEmptyNew(t *testing.T) {
	old := []byte("some old content that stays on disk")
	patch := buildPatch(t, old, nil, DefaultDiffParams(), DefaultPatchWriterOptions(0))
	got := applyPatch(t, patch, old)
	if len(got) != 0 {
		t.Fatalf("expected an empty reconstructed file, got %d bytes", len(got))
	}
}

func TestPatchReaderRejectsBadMagic(t *testing.T) {
	patch := buildPatch(t, []byte("old"), []byte("new!"), DefaultDiffParams(), DefaultPatchWriterOptions(4))
	corrupt := append([]byte(nil), patch...)
	corrupt[0] ^= 0xFF

	if _, err := NewPatchReader(bytes.NewReader(corrupt), []byte("old")); err != ErrBadMagic {
		t.Fatalf("NewPatchReader err = %v, want ErrBadMagic", err)
	}
}

func TestPatchReaderRejectsBadVersion(t *testing.T) {
	patch := buildPatch(t, []byte("old"), []byte("new!"), DefaultDiffParams(), DefaultPatchWriterOptions(4))
	corrupt := append([]byte(nil), patch...)
	corrupt[4] ^= 0xFF

	if _, err := NewPatchReader(bytes.NewReader(corrupt), []byte("old")); err != ErrBadVersion {
		t.Fatalf("NewPatchReader err = %v, want ErrBadVersion", err)
	}
}

func TestPatchReaderRejectsTruncatedHeader(t *testing.T) {
	patch := buildPatch(t, []byte("old"), []byte("new!"), DefaultDiffParams(), DefaultPatchWriterOptions(4))
	truncated := patch[:headerSize-1]

	if _, err := NewPatchReader(bytes.NewReader(truncated), []byte("old")); err == nil {
		t.Fatalf("expected an error reading a truncated header")
	}
}

func TestPatchReaderRejectsTruncatedBody(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	old := randomBytes(rng, 2048)
	new := mutate(rng, old, 80)

	patch := buildPatch(t, old, new, DiffParams{BlockSize: 24, UseRAM: true}, DefaultPatchWriterOptions(int64(len(new))))
	truncated := patch[:len(patch)-4]

	pr, err := NewPatchReader(bytes.NewReader(truncated), old)
	if err != nil {
		t.Fatalf("NewPatchReader failed on truncated body: %v", err)
	}
	defer pr.Close()

	if _, err := io.ReadAll(pr); err == nil {
		t.Fatalf("expected an error reading a truncated patch body")
	}
}

func TestPatchWriterCloseIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewPatchWriter(&buf, PatchWriterOptions{NewSize: 0})
	if err != nil {
		t.Fatalf("NewPatchWriter failed: %v", err)
	}
	if err := pw.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := pw.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
