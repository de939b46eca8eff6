// SPDX-License-Identifier: MIT

/*
Package bsdiff computes and applies compact binary deltas between two
byte sequences using a bsdiff-style scan/score/split algorithm over a
block-hash substring index.

The package is content-similarity based and byte-granular: it targets
software-update style payloads where an old and a new file differ by
localized insertions, deletions, and small edits over mostly shared
content. It is not a general edit-distance solver and does not use a
rolling-hash/content-defined-chunking scheme.

# Diffing

	err := bsdiff.Diff(older, newer, bsdiff.DefaultDiffParams(), func(m bsdiff.Match) error {
		// consume matches, e.g. feed them to a Translator
		return nil
	})

# Translating matches into control records

	tr := bsdiff.NewTranslator(older, newer, func(c bsdiff.Control) error {
		return w.WriteControl(c)
	})
	// call tr.Add(m) for each Match in order, then tr.Close()

# Patch files

	w, err := bsdiff.NewPatchWriter(out, bsdiff.PatchWriterOptions{NewSize: int64(len(newer))})
	// w.WriteControl(c) for each Control, then w.Close()

	r, err := bsdiff.NewPatchReader(patchFile, oldFile)
	// io.Copy(newFile, r) reconstructs the new file

See cmd/bsdiff for a thin shell (diff/patch/cycle subcommands) built on
top of this package.
*/
package bsdiff
