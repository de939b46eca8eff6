// SPDX-License-Identifier: MIT

package bsdiff

import (
	"bytes"
	"fmt"
)

// bucketSlots is the number of 64-bit entries per bucket (one cache line).
const bucketSlots = 8

// Index is a cache-line-bucketed, open-addressed hash table mapping
// block-aligned positions in an old byte buffer to their offsets, and
// supporting a "longest match at a position" query in sublinear time.
//
// An Index borrows its old buffer for its entire lifetime and exclusively
// owns its backing table's mapping: closing the Index releases the mapping
// (and, for a pageable table, the already-unlinked backing file).
type Index struct {
	old        []byte
	blockSize  int
	table      *backingTable
	mask       uint32 // numBuckets - 1
	numBuckets uint32
}

// NewIndex builds and fully populates an index over old using the given
// parameters. blockSize must be >= 4.
func NewIndex(old []byte, blockSize int, useRAM bool) (*Index, error) {
	idx, err := NewEmptyIndex(old, blockSize, useRAM)
	if err != nil {
		return nil, err
	}
	idx.populateSerial()
	return idx, nil
}

// NewEmptyIndex allocates an index's backing table sized for a 50% load
// factor, without populating it. Use this to support deferred or
// parallel insertion via Insert.
func NewEmptyIndex(old []byte, blockSize int, useRAM bool) (*Index, error) {
	if blockSize < 4 {
		return nil, ErrBlockSizeTooSmall
	}

	numEntries := len(old) / blockSize
	numBuckets := bucketsForEntries(numEntries)
	table, err := newBackingTable(int(numBuckets)*bucketSlots, useRAM)
	if err != nil {
		return nil, fmt.Errorf("bsdiff: allocate index table: %w", err)
	}

	return &Index{
		old:        old,
		blockSize:  blockSize,
		table:      table,
		mask:       numBuckets - 1,
		numBuckets: numBuckets,
	}, nil
}

// bucketsForEntries returns the smallest power of two number of buckets
// such that numEntries items, at 8 slots/bucket, reach at most a 50% load
// factor.
func bucketsForEntries(numEntries int) uint32 {
	if numEntries <= 0 {
		return 1
	}
	need := (numEntries*2 + bucketSlots - 1) / bucketSlots
	n := uint32(1)
	for int(n) < need {
		n <<= 1
	}
	return n
}

// Close releases the index's backing table mapping.
func (idx *Index) Close() error {
	return idx.table.close()
}

// numEntries returns the number of block-aligned positions in old.
func (idx *Index) numEntries() int {
	return len(idx.old) / idx.blockSize
}

// populateSerial inserts every block-aligned position, iterating from the
// largest offset down to the smallest. Because ties are resolved by
// "overwrite if offset < existing offset", descending iteration makes the
// earlier-offset-wins bias automatic: whichever offset is inserted later
// (i.e. is smaller) always wins the tie without extra bookkeeping.
func (idx *Index) populateSerial() {
	n := idx.numEntries()
	const prefetchDepth = 8

	for i := n - 1; i >= 0; i-- {
		if i-prefetchDepth >= 0 {
			off := (i - prefetchDepth) * idx.blockSize
			h := hashBlock(idx.old[off : off+idx.blockSize])
			idx.table.prefetch(int((uint32(h)&idx.mask)) * bucketSlots)
		}
		idx.insertSerial(i)
	}
}

// insertSerial inserts the block at entry index i using plain stores (no
// CAS): safe only under single-threaded population.
func (idx *Index) insertSerial(i int) {
	offset := i * idx.blockSize
	block := idx.old[offset : offset+idx.blockSize]
	h := hashBlock(block)
	tag := h &^ 0xFFFFFFFF
	entry := tag | uint64(offset+1)

	b := uint32(h) & idx.mask
	for {
		base := int(b) * bucketSlots
		placed := false
		for s := 0; s < bucketSlots; s++ {
			slot := base + s
			cur := idx.table.get(slot)
			if cur == 0 {
				idx.table.set(slot, entry)
				placed = true
				break
			}
			if cur>>32 == tag>>32 {
				existingOffset := int(uint32(cur)) - 1
				if bytes.Equal(idx.old[existingOffset:existingOffset+idx.blockSize], block) {
					if offset < existingOffset {
						idx.table.set(slot, entry)
					}
					placed = true
					break
				}
			}
		}
		if placed {
			return
		}
		b = (b + 1) & idx.mask
	}
}

// Insert inserts a single block-aligned entry using CAS, for use when
// populating an Index returned by NewEmptyIndex concurrently with other
// inserters or with lookups. Readers may miss not-yet-inserted entries
// (a missed match, never a wrong one); no other concurrency is supported.
func (idx *Index) Insert(i int) {
	offset := i * idx.blockSize
	block := idx.old[offset : offset+idx.blockSize]
	h := hashBlock(block)
	tag := h &^ 0xFFFFFFFF
	entry := tag | uint64(offset+1)

	b := uint32(h) & idx.mask
	for {
		base := int(b) * bucketSlots
		for s := 0; s < bucketSlots; s++ {
			slot := base + s
			cur := idx.table.get(slot)
			if cur == 0 {
				if _, ok := idx.table.cas(slot, 0, entry); ok {
					return
				}
				// Lost the race; re-read and re-evaluate this slot.
				cur = idx.table.get(slot)
				if cur == 0 {
					continue
				}
			}
			if cur>>32 == tag>>32 {
				existingOffset := int(uint32(cur)) - 1
				if bytes.Equal(idx.old[existingOffset:existingOffset+idx.blockSize], block) {
					if offset < existingOffset {
						idx.table.cas(slot, cur, entry)
					}
					return
				}
			}
		}
		b = (b + 1) & idx.mask
	}
}

// LongestSubstringMatch returns the longest match between needle and the
// old buffer, found by hashing needle's first blockSize bytes and probing
// up to 4 buckets. Returns ok=false if needle or the old buffer is shorter
// than blockSize, or no probed bucket holds a match.
func (idx *Index) LongestSubstringMatch(needle []byte) (start, length int, ok bool) {
	if len(needle) < idx.blockSize || len(idx.old) < idx.blockSize {
		return 0, 0, false
	}
	return idx.LongestSubstringMatchWithHash(needle, hashBlock(needle[:idx.blockSize]))
}

// LongestSubstringMatchWithHash is LongestSubstringMatch with a
// precomputed block hash, for callers pipelining hashes ahead of the scan
// cursor via PrefetchBlock.
func (idx *Index) LongestSubstringMatchWithHash(needle []byte, h uint64) (start, length int, ok bool) {
	if len(needle) < idx.blockSize || len(idx.old) < idx.blockSize {
		return 0, 0, false
	}

	tag := h &^ 0xFFFFFFFF
	needlePrefix := needle[:idx.blockSize]
	b := uint32(h) & idx.mask

	const maxBucketsProbed = 4
	for attempt := 0; attempt < maxBucketsProbed; attempt++ {
		base := int(b) * bucketSlots
		for s := 0; s < bucketSlots; s++ {
			v := idx.table.get(base + s)
			if v == 0 {
				// Packed-from-low-end invariant: an empty slot means
				// nothing further was ever inserted along this probe.
				return 0, 0, false
			}
			if v>>32 == tag>>32 {
				offset := int(uint32(v)) - 1
				block := idx.old[offset : offset+idx.blockSize]
				if bytes.Equal(block, needlePrefix) {
					extra := commonPrefixLen(needle[idx.blockSize:], idx.old[offset+idx.blockSize:])
					return offset, idx.blockSize + extra, true
				}
			}
		}
		// Bucket full with no match; overflow to the next bucket.
		b = (b + 1) & idx.mask
	}
	return 0, 0, false
}

// PrefetchBlock hashes the first blockSize bytes of data and issues a
// prefetch for the corresponding bucket, returning the hash for later use
// with LongestSubstringMatchWithHash. ok is false if data is shorter than
// blockSize.
func (idx *Index) PrefetchBlock(data []byte) (h uint64, ok bool) {
	if len(data) < idx.blockSize {
		return 0, false
	}
	h = hashBlock(data[:idx.blockSize])
	idx.table.prefetch(int(uint32(h)&idx.mask) * bucketSlots)
	return h, true
}
