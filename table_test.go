// SPDX-License-Identifier: MIT

package bsdiff

import "testing"

func TestBackingTableRAM(t *testing.T) {
	table, err := newBackingTable(16, true)
	if err != nil {
		t.Fatalf("newBackingTable failed: %v", err)
	}
	defer table.close()

	if table.len() != 16 {
		t.Fatalf("len() = %d, want 16", table.len())
	}
	for i := 0; i < table.len(); i++ {
		if v := table.get(i); v != 0 {
			t.Fatalf("slot %d not zero-initialized: %#x", i, v)
		}
	}

	table.set(3, 0xDEADBEEF)
	if got := table.get(3); got != 0xDEADBEEF {
		t.Fatalf("get(3) = %#x, want 0xDEADBEEF", got)
	}

	table.prefetch(3)  // in-bounds: must not panic
	table.prefetch(-1) // out-of-bounds: must be silently ignored
	table.prefetch(16) // out-of-bounds: must be silently ignored
}

func TestBackingTableFileBacked(t *testing.T) {
	table, err := newBackingTable(8, false)
	if err != nil {
		t.Fatalf("newBackingTable failed: %v", err)
	}
	defer table.close()

	table.set(0, 1)
	table.set(7, 2)
	if got := table.get(0); got != 1 {
		t.Fatalf("get(0) = %d, want 1", got)
	}
	if got := table.get(7); got != 2 {
		t.Fatalf("get(7) = %d, want 2", got)
	}
}

func TestBackingTableCAS(t *testing.T) {
	table, err := newBackingTable(4, true)
	if err != nil {
		t.Fatalf("newBackingTable failed: %v", err)
	}
	defer table.close()

	if _, ok := table.cas(0, 1, 100); ok {
		t.Fatalf("cas succeeded against a mismatched old value")
	}
	if _, ok := table.cas(0, 0, 100); !ok {
		t.Fatalf("cas failed against the correct old value")
	}
	if got := table.get(0); got != 100 {
		t.Fatalf("get(0) = %d after cas, want 100", got)
	}
	prev, ok := table.cas(0, 100, 200)
	if !ok || prev != 100 {
		t.Fatalf("cas(0, 100, 200) = (%d, %v), want (100, true)", prev, ok)
	}
}

func TestBackingTableCloseIsSafe(t *testing.T) {
	table, err := newBackingTable(4, true)
	if err != nil {
		t.Fatalf("newBackingTable failed: %v", err)
	}
	if err := table.close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}
