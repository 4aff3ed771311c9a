package vmm

const (
	// pageLevels indicates the number of page table levels between the
	// root table and a leaf entry.
	pageLevels = 4

	// tableEntryCount is the number of entries in each page table. Each
	// level consumes 9 bits of the virtual address.
	tableEntryCount = 512

	// ptePhysPageMask is a mask that allows us to extract the physical memory
	// address pointed to by a page table entry. For this particular architecture,
	// bits 12-51 contain the physical memory address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// reserveBase is the upper bound of the kernel virtual address space;
	// region reservations grow downwards from this address.
	reserveBase = uintptr(0xffffff8000000000)
)

var (
	// pageLevelShifts defines the shift required to extract the page table
	// index of each level from a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		39,
		30,
		21,
		12,
	}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

const (
	// FlagPresent is set when the page is available in memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode code can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set when an intermediate entry maps a huge page
	// instead of pointing to the next table level.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when swapping page tables.
	FlagGlobal

	// FlagNoExecute marks the page contents as non-executable.
	FlagNoExecute = PageTableEntryFlag(1) << 63
)
