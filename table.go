// SPDX-License-Identifier: MIT

package bsdiff

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// backingTable is a fixed-size array of 64-bit slots supporting aligned
// load/store, compare-and-swap, and prefetch. Two implementations exist:
// an anonymous (RAM) mapping and a file-backed (pageable) mapping over a
// private, immediately-unlinked temp file. Both request transparent huge
// pages and random-access advice on Linux.
type backingTable struct {
	mem  []byte
	view []uint64
	file *os.File // nil for the RAM-backed implementation
}

// newBackingTable allocates a table of length 64-bit slots, zero-initialized.
// useRAM selects an anonymous mapping; otherwise the table is backed by a
// private temp file that is unlinked immediately after creation, so the
// mapping self-cleans on process exit or unmap.
func newBackingTable(length int, useRAM bool) (*backingTable, error) {
	size := length * 8
	if size == 0 {
		size = 8
	}

	var (
		mem []byte
		f   *os.File
		err error
	)
	if useRAM {
		mem, err = unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
		if err != nil {
			return nil, fmt.Errorf("bsdiff: anonymous mmap of %d bytes: %w", size, err)
		}
	} else {
		f, err = os.CreateTemp("", "bsdiff-index-*")
		if err != nil {
			return nil, fmt.Errorf("bsdiff: create backing temp file: %w", err)
		}
		// Unlink immediately: the fd keeps the storage alive for the
		// lifetime of the mapping, and the directory entry never needs to
		// outlive this process.
		_ = os.Remove(f.Name())

		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("bsdiff: truncate backing temp file: %w", err)
		}

		mem, err = unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("bsdiff: file-backed mmap of %d bytes: %w", size, err)
		}
	}

	_ = unix.Madvise(mem, unix.MADV_RANDOM)
	_ = unix.Madvise(mem, unix.MADV_HUGEPAGE)

	t := &backingTable{
		mem:  mem,
		view: unsafe.Slice((*uint64)(unsafe.Pointer(&mem[0])), length),
		file: f,
	}
	return t, nil
}

// len returns the number of 64-bit slots.
func (t *backingTable) len() int {
	return len(t.view)
}

// get performs an aligned load. It observes values published via cas from
// other goroutines.
func (t *backingTable) get(i int) uint64 {
	return atomic.LoadUint64(&t.view[i])
}

// set performs an aligned store. Not required to be atomic with respect to
// concurrent readers; callers only use it during single-threaded (serial)
// population.
func (t *backingTable) set(i int, v uint64) {
	t.view[i] = v
}

// cas atomically compares-and-swaps slot i, with relaxed ordering on both
// success and failure. Returns the previous value and whether the swap
// happened.
func (t *backingTable) cas(i int, old, new uint64) (uint64, bool) {
	if atomic.CompareAndSwapUint64(&t.view[i], old, new) {
		return old, true
	}
	return atomic.LoadUint64(&t.view[i]), false
}

// prefetchSink exists only so the compiler can't prove prefetch's read is
// dead and elide it.
var prefetchSink uint64

// prefetch hints that slot i will be read soon. It is a hint only and must
// never fault; out-of-range indices are silently ignored.
func (t *backingTable) prefetch(i int) {
	if i < 0 || i >= len(t.view) {
		return
	}
	prefetchSink += atomic.LoadUint64(&t.view[i])
}

// close releases the mapping and, for the file-backed implementation,
// closes the (already-unlinked) backing file descriptor.
func (t *backingTable) close() error {
	if t.mem == nil {
		return nil
	}
	err := unix.Munmap(t.mem)
	t.mem = nil
	t.view = nil
	if t.file != nil {
		if cerr := t.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
