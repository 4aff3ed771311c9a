package vmm

import "minos/kernel/mm"

// pageTable is a fixed-capacity array of entries making up one level of the
// table hierarchy. Each entry is owned exclusively by the table that contains
// it.
type pageTable struct {
	entries [tableEntryCount]pageTableEntry
}

// presentEntries returns the number of entries flagged as present.
func (t *pageTable) presentEntries() int {
	var count int
	for i := 0; i < tableEntryCount; i++ {
		if t.entries[i].HasFlags(FlagPresent) {
			count++
		}
	}

	return count
}

// tableStore resolves the physical frames that back page tables to their
// contents. It stands in for the fixed virtual window that the kernel keeps
// permanently mapped onto physical memory: table frames can be dereferenced
// through it without establishing a bespoke mapping per access.
type tableStore struct {
	tables map[mm.Frame]*pageTable
}

func (s *tableStore) init() {
	s.tables = make(map[mm.Frame]*pageTable)
}

// insert registers a zero-filled page table backed by the given frame and
// returns it.
func (s *tableStore) insert(frame mm.Frame) *pageTable {
	table := new(pageTable)
	s.tables[frame] = table
	return table
}

// lookup returns the page table backed by the given frame, or nil if the
// frame does not back a table known to this store.
func (s *tableStore) lookup(frame mm.Frame) *pageTable {
	return s.tables[frame]
}

// remove forgets the page table backed by the given frame. The frame itself
// is returned to the frame allocator by the caller.
func (s *tableStore) remove(frame mm.Frame) {
	delete(s.tables, frame)
}
