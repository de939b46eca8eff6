// SPDX-License-Identifier: MIT

package bsdiff

// Match describes one ADD-plus-COPY contribution to the new file: the
// range new[AddNewStart:AddNewStart+AddLength] is approximated by
// old[AddOldStart:AddOldStart+AddLength] (an ADD, encoded elsewhere as a
// byte-wise wrapping difference), and new[AddNewStart+AddLength:CopyEnd]
// is emitted verbatim (a COPY).
type Match struct {
	AddOldStart int
	AddNewStart int
	AddLength   int
	CopyEnd     int
}

// copyStart returns the start of the COPY region, i.e. the end of the ADD
// region within the new buffer.
func (m Match) copyStart() int {
	return m.AddNewStart + m.AddLength
}

// MatchFunc consumes one Match. Returning a non-nil error short-circuits
// the scan.
type MatchFunc func(Match) error

// Diff computes the bsdiff-style difference between old and new, invoking
// onMatch once per emitted Match in strictly increasing AddNewStart order.
// Matches are non-overlapping in new and together cover [0, len(new)).
//
// Diff builds and owns a fresh Index over old for the duration of the
// call; use DiffWithIndex to supply an existing one. When params.ScanChunkSize is positive, new
// is partitioned into independently scanned chunks processed by a worker
// pool bounded by params.NumThreads; chunk results are reassembled in
// chunk order so the externally observed Match sequence stays contiguous
// and monotonic.
func Diff(old, new []byte, params DiffParams, onMatch MatchFunc) error {
	p, err := params.normalize()
	if err != nil {
		return err
	}
	if len(new) == 0 {
		return nil
	}

	idx, err := NewIndex(old, p.BlockSize, p.UseRAM)
	if err != nil {
		return err
	}
	defer idx.Close()

	return DiffWithIndex(idx, old, new, p, onMatch)
}

// DiffWithIndex is Diff using a caller-supplied, already-populated Index
// (e.g. one built once and reused across several diffs against the same
// old buffer). The caller retains ownership and must Close it.
func DiffWithIndex(idx *Index, old, new []byte, params DiffParams, onMatch MatchFunc) error {
	p, err := params.normalize()
	if err != nil {
		return err
	}
	if len(new) == 0 {
		return nil
	}

	if p.ScanChunkSize <= 0 {
		return scanChunk(old, new, idx, 0, onMatch)
	}
	return diffParallel(old, new, idx, p, onMatch)
}

// scoreRange counts bytes in new[start:end] that equal
// old[start+lastOffset:end+lastOffset], skipping positions where the
// shifted old index would fall out of bounds. It uses the vectorizable
// countMatchingBytes helper whenever the entire shifted range is in
// bounds.
func scoreRange(new, old []byte, start, end, lastOffset int) int {
	if start >= end {
		return 0
	}

	loStart := start + lastOffset
	loEnd := end + lastOffset
	if loStart >= 0 && loEnd <= len(old) {
		return countMatchingBytes(new[start:end], old[loStart:loEnd])
	}

	count := 0
	for i := start; i < end; i++ {
		oi := i + lastOffset
		if oi >= 0 && oi < len(old) && old[oi] == new[i] {
			count++
		}
	}
	return count
}

// scanChunk runs the bsdiff scan loop over new (a whole buffer, or one
// partition of it), emitting Matches with AddNewStart/CopyEnd offset by
// origin (new's position within the full buffer being diffed).
func scanChunk(old, new []byte, idx *Index, origin int, onMatch MatchFunc) error {
	var scan, pos, length int
	var lastscan, lastpos, lastoffset int

	var cachedHash uint64
	haveHash := false

	for scan < len(new) {
		scan += length
		oldscore := 0
		scsc := scan

		for scan < len(new) {
			if haveHash {
				pos, length, _ = idx.LongestSubstringMatchWithHash(new[scan:], cachedHash)
				haveHash = false
			} else {
				pos, length, _ = idx.LongestSubstringMatch(new[scan:])
			}

			// Prefetch the bucket for scan+1 and cache its hash for the
			// next inner-loop iteration (the common case: scan advances by
			// one). scan+2 and scan+3 are prefetched unconditionally; the
			// CPU pipelines those fetches, so there's no need to cache
			// their hashes too.
			if scan+1 < len(new) {
				if h, ok := idx.PrefetchBlock(new[scan+1:]); ok {
					cachedHash, haveHash = h, true
				}
			}
			if scan+2 < len(new) {
				idx.PrefetchBlock(new[scan+2:])
			}
			if scan+3 < len(new) {
				idx.PrefetchBlock(new[scan+3:])
			}

			end := scan + length
			if end > len(new) {
				end = len(new)
			}
			oldscore += scoreRange(new, old, scsc, end, lastoffset)
			scsc = end

			better := length > oldscore+8
			stalemate := length == oldscore && length != 0
			if better || stalemate {
				haveHash = false
				if scan+length < len(new) {
					if h, ok := idx.PrefetchBlock(new[scan+length:]); ok {
						cachedHash, haveHash = h, true
					}
				}
				break
			}

			oi := scan + lastoffset
			if oi >= 0 && oi < len(old) && old[oi] == new[scan] {
				oldscore--
			}
			scan++
		}

		if length != oldscore || scan == len(new) {
			lenf := forwardExtensionLen(old, new, lastscan, lastpos, scan)
			lenb := 0
			if scan < len(new) {
				lenb = backwardExtensionLen(old, new, lastscan, pos, scan)
			}

			if lastscan+lenf > scan-lenb {
				overlap := (lastscan + lenf) - (scan - lenb)
				s, ss, lens := 0, 0, 0
				for i := 0; i < overlap; i++ {
					if new[lastscan+lenf-overlap+i] == old[lastpos+lenf-overlap+i] {
						s++
					}
					if new[scan-lenb+i] == old[pos-lenb+i] {
						s--
					}
					if s > ss {
						ss, lens = s, i+1
					}
				}
				lenf += lens - overlap
				lenb -= lens
			}

			m := Match{
				AddOldStart: lastpos,
				AddNewStart: lastscan + origin,
				AddLength:   lenf,
				CopyEnd:     scan - lenb + origin,
			}
			if err := onMatch(m); err != nil {
				return err
			}

			lastscan = scan - lenb
			lastpos = pos - lenb
			lastoffset = pos - scan
		}
	}
	return nil
}

// forwardExtensionLen scores how far old[lastpos:] and new[lastscan:]
// agree, returning the length that maximizes 2*matches - length.
func forwardExtensionLen(old, new []byte, lastscan, lastpos, scan int) int {
	s, sf, lenf := 0, 0, 0
	maxI := scan - lastscan
	if rem := len(old) - lastpos; rem < maxI {
		maxI = rem
	}
	for i := 0; i < maxI; i++ {
		if old[lastpos+i] == new[lastscan+i] {
			s++
		}
		if s*2-(i+1) > sf*2-lenf {
			sf, lenf = s, i+1
		}
	}
	return lenf
}

// backwardExtensionLen scores how far old[:pos] and new[:scan] agree
// going backwards, returning the length that maximizes 2*matches - length.
func backwardExtensionLen(old, new []byte, lastscan, pos, scan int) int {
	s, sb, lenb := 0, 0, 0
	maxI := scan - lastscan
	if pos < maxI {
		maxI = pos
	}
	for i := 1; i <= maxI; i++ {
		if old[pos-i] == new[scan-i] {
			s++
		}
		if s*2-i > sb*2-lenb {
			sb, lenb = s, i
		}
	}
	return lenb
}

// diffParallel partitions new into params.ScanChunkSize chunks, scans
// them concurrently with a worker pool bounded by params.NumThreads, and
// reassembles per-chunk matches in chunk order so the caller observes a
// contiguous, monotonic sequence.
func diffParallel(old, new []byte, idx *Index, p DiffParams, onMatch MatchFunc) error {
	chunkSize := p.ScanChunkSize
	numChunks := (len(new) + chunkSize - 1) / chunkSize

	type chunkOutput struct {
		matches chan Match
		done    chan error
	}
	outputs := make([]chunkOutput, numChunks)
	for i := range outputs {
		outputs[i] = chunkOutput{
			matches: make(chan Match, 256),
			done:    make(chan error, 1),
		}
	}

	sem := make(chan struct{}, p.NumThreads)
	for i := 0; i < numChunks; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(new) {
			end = len(new)
		}

		sem <- struct{}{}
		go func(i, start, end int) {
			defer func() { <-sem }()
			out := outputs[i]
			err := scanChunk(old, new[start:end], idx, start, func(m Match) error {
				out.matches <- m
				return nil
			})
			close(out.matches)
			out.done <- err
		}(i, start, end)
	}

	for i := 0; i < numChunks; i++ {
		out := outputs[i]
		for m := range out.matches {
			if err := onMatch(m); err != nil {
				return err
			}
		}
		if err := <-out.done; err != nil {
			return err
		}
	}
	return nil
}
