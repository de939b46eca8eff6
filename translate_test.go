// SPDX-License-Identifier: MIT

package bsdiff

import (
	"bytes"
	"math/rand"
	"testing"
)

// applyControls is a minimal decoder used only to check Translator's
// output, independent of PatchWriter/PatchReader's wire encoding.
func applyControls(t *testing.T, old []byte, controls []Control) []byte {
	t.Helper()
	var out []byte
	var oldCursor int
	cycle := 0

	for i, c := range controls {
		switch cycle {
		case 0:
			if c.Op != OpAdd {
				t.Fatalf("control %d: expected Add, got op %d", i, c.Op)
			}
			for j, d := range c.Data {
				out = append(out, old[oldCursor+j]+d)
			}
			oldCursor += len(c.Data)
			cycle = 1
		case 1:
			if c.Op != OpCopy {
				t.Fatalf("control %d: expected Copy, got op %d", i, c.Op)
			}
			out = append(out, c.Data...)
			cycle = 2
		case 2:
			if c.Op != OpSeek {
				t.Fatalf("control %d: expected Seek, got op %d", i, c.Op)
			}
			oldCursor += int(c.Seek)
			cycle = 0
		}
	}
	return out
}

func translateAll(t *testing.T, old, new []byte, params DiffParams) []Control {
	t.Helper()
	var controls []Control
	tr := NewTranslator(old, new, func(c Control) error {
		// OpAdd data aliases the Translator's reused delta buffer.
		c.Data = append([]byte(nil), c.Data...)
		controls = append(controls, c)
		return nil
	})
	if err := Diff(old, new, params, tr.Add); err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Translator.Close failed: %v", err)
	}
	return controls
}

func TestTranslatorRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	old := randomBytes(rng, 8192)
	new := mutate(rng, old, 300)

	controls := translateAll(t, old, new, DiffParams{BlockSize: 24, UseRAM: true})
	got := applyControls(t, old, controls)
	if !bytes.Equal(got, new) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(new))
	}
}

func TestTranslatorRoundTripIdenticalFiles(t *testing.T) {
	data := bytes.Repeat([]byte("static content, never changes"), 80)
	controls := translateAll(t, data, data, DiffParams{BlockSize: 16, UseRAM: true})
	got := applyControls(t, data, controls)
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch for identical files")
	}
}

func TestTranslatorRoundTripEmptyNew(t *testing.T) {
	controls := translateAll(t, []byte("some old content"), nil, DefaultDiffParams())
	if len(controls) != 0 {
		t.Fatalf("expected no controls for an empty new buffer, got %d", len(controls))
	}
}

func TestTranslatorCloseIsIdempotent(t *testing.T) {
	old := []byte("abcdefghijklmnopqrstuvwxyz0123456789")
	new := []byte("abcdefghijklmnopqrstuvwxyz0123456789!")

	var calls int
	tr := NewTranslator(old, new, func(Control) error {
		calls++
		return nil
	})
	if err := Diff(old, new, DiffParams{BlockSize: 4, UseRAM: true}, tr.Add); err != nil {
		t.Fatalf("Diff failed: %v", err)
	}

	err1 := tr.Close()
	callsAfterFirstClose := calls
	err2 := tr.Close()

	if err1 != err2 {
		t.Fatalf("Close returned different errors on repeated calls: %v, then %v", err1, err2)
	}
	if calls != callsAfterFirstClose {
		t.Fatalf("second Close call emitted additional controls: %d -> %d", callsAfterFirstClose, calls)
	}
}

func TestTranslatorAddAfterCloseFails(t *testing.T) {
	old := []byte("hello")
	new := []byte("hello world")
	tr := NewTranslator(old, new, func(Control) error { return nil })
	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := tr.Add(Match{AddOldStart: 0, AddNewStart: 0, AddLength: 5, CopyEnd: 11}); err == nil {
		t.Fatalf("expected an error calling Add after Close")
	}
}
