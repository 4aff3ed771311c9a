// Package vmm implements the kernel's page table manager. An AddressSpace
// owns an explicit four-level table hierarchy addressed by frame number and
// provides the map/unmap/translate operations that the heap allocator and the
// device drivers build on.
package vmm

import (
	"minos/kernel"
	"minos/kernel/cpu"
	"minos/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory
	// address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrAlreadyMapped is returned by Map when the target page already has
	// a present leaf entry and the caller did not request a remap.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual page is already mapped"}

	errNotInitialized      = &kernel.Error{Module: "vmm", Message: "address space not initialized"}
	errNoHugePageSupport   = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errTableCorrupted      = &kernel.Error{Module: "vmm", Message: "page table hierarchy references an unknown table frame"}
	errUnmapUnmappedPage   = &kernel.Error{Module: "vmm", Message: "attempt to unmap a page that was never mapped"}
	errReserveNoSpace      = &kernel.Error{Module: "vmm", Message: "remaining virtual address space not large enough to satisfy reservation request"}
	errUnrecoverableFault  = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
	errFaultAllocExhausted = &kernel.Error{Module: "vmm", Message: "out of physical memory while handling demand-growth fault"}

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	flushTLBEntryFn = cpu.FlushTLBEntry
	readCR2Fn       = cpu.ReadCR2
	panicFn         = kernel.Panic
)

// AddressSpace manages one multi-level page table hierarchy. The zero value
// is not usable; Init must allocate the root table before any mapping
// operation runs. There is exactly one active address space in this kernel
// and it is wired into every consuming subsystem by the init sequence.
type AddressSpace struct {
	rootFrame mm.Frame
	store     tableStore

	allocFrame   mm.FrameAllocatorFn
	reclaimFrame mm.FrameReclaimerFn

	// reserveLastUsed tracks the last reserved region start address;
	// reservations grow downwards from reserveBase.
	reserveLastUsed uintptr

	// The demand-growth window. A non-present fault inside the window is
	// recovered by mapping a fresh frame in place.
	demandStart, demandEnd uintptr

	initialized bool
}

// Init allocates the root page table and prepares the address space for
// mapping requests. The supplied allocator provides frames for the
// intermediate tables; the reclaimer takes them back when unmapping empties
// a table.
func (as *AddressSpace) Init(allocFrame mm.FrameAllocatorFn, reclaimFrame mm.FrameReclaimerFn) *kernel.Error {
	rootFrame, err := allocFrame()
	if err != nil {
		return err
	}

	as.rootFrame = rootFrame
	as.store.init()
	as.store.insert(rootFrame)
	as.allocFrame = allocFrame
	as.reclaimFrame = reclaimFrame
	as.reserveLastUsed = reserveBase
	as.initialized = true
	return nil
}

// RootFrame returns the physical frame that backs the root table of this
// address space. Swapping the root frame would atomically exchange the whole
// address space; this single-context kernel never does.
func (as *AddressSpace) RootFrame() mm.Frame {
	return as.rootFrame
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk traverses the table hierarchy for the given virtual address calling
// walkFn with the page table entry that corresponds to each level. After
// walkFn returns true for an intermediate level, its entry must reference a
// table registered with the store; a dangling reference indicates corruption
// of the hierarchy and aborts the walk with an error.
func (as *AddressSpace) walk(virtAddr uintptr, walkFn pageTableWalker) *kernel.Error {
	tableFrame := as.rootFrame

	for level := uint8(0); level < pageLevels; level++ {
		table := as.store.lookup(tableFrame)
		if table == nil {
			return errTableCorrupted
		}

		pte := &table.entries[pteIndex(virtAddr, level)]
		if !walkFn(level, pte) {
			return nil
		}

		tableFrame = pte.Frame()
	}

	return nil
}

// pteIndex extracts the page table index for the given level from a virtual
// address.
func pteIndex(virtAddr uintptr, level uint8) uintptr {
	return (virtAddr >> pageLevelShifts[level]) & (tableEntryCount - 1)
}

// Map establishes a mapping between a virtual page and a physical memory
// frame, allocating missing intermediate page tables on demand. Mapping a
// page that already has a present leaf entry fails with ErrAlreadyMapped;
// callers that intend to replace a live mapping must use Remap.
func (as *AddressSpace) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	return as.install(page, frame, flags, false)
}

// Remap behaves like Map but replaces a present leaf entry in place.
func (as *AddressSpace) Remap(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	return as.install(page, frame, flags, true)
}

func (as *AddressSpace) install(page mm.Page, frame mm.Frame, flags PageTableEntryFlag, remap bool) *kernel.Error {
	if !as.initialized {
		return errNotInitialized
	}

	var err *kernel.Error

	walkErr := as.walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to install
		// the frame and flush the cached translation for the page.
		if pteLevel == pageLevels-1 {
			if pte.HasFlags(FlagPresent) && !remap {
				err = ErrAlreadyMapped
				return false
			}

			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		// Next table does not yet exist; allocate a frame for it and
		// hook it into the hierarchy.
		if !pte.HasFlags(FlagPresent) {
			var newTableFrame mm.Frame
			newTableFrame, err = as.allocFrame()
			if err != nil {
				return false
			}

			as.store.insert(newTableFrame)
			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW)
		}

		return true
	})

	if walkErr != nil {
		return walkErr
	}

	return err
}

// Unmap removes the mapping for a virtual page and returns the frame that
// was mapped there. Ownership of the returned frame rests with the caller;
// only the intermediate table frames that become empty as a result of the
// unmap are returned to the frame allocator. Unmapping a page that was never
// mapped indicates kernel state corruption and is treated as a fatal
// assertion.
func (as *AddressSpace) Unmap(page mm.Page) (mm.Frame, *kernel.Error) {
	if !as.initialized {
		return mm.InvalidFrame, errNotInitialized
	}

	var (
		virtAddr = page.Address()
		tables   [pageLevels]*pageTable
		frames   [pageLevels]mm.Frame
		indices  [pageLevels]uintptr
	)

	tableFrame := as.rootFrame
	for level := uint8(0); level < pageLevels; level++ {
		table := as.store.lookup(tableFrame)
		if table == nil {
			return mm.InvalidFrame, errTableCorrupted
		}

		index := pteIndex(virtAddr, level)
		tables[level], frames[level], indices[level] = table, tableFrame, index

		pte := &table.entries[index]
		if !pte.HasFlags(FlagPresent) {
			panicFn(errUnmapUnmappedPage)
			return mm.InvalidFrame, errUnmapUnmappedPage
		}

		if level < pageLevels-1 {
			if pte.HasFlags(FlagHugePage) {
				return mm.InvalidFrame, errNoHugePageSupport
			}

			tableFrame = pte.Frame()
			continue
		}

		frame := pte.Frame()
		*pte = 0
		flushTLBEntryFn(virtAddr)

		// Prune any table that the unmap left empty, handing its frame
		// back to the allocator. The root table always stays.
		for prune := pageLevels - 1; prune > 0; prune-- {
			if tables[prune].presentEntries() != 0 {
				break
			}

			as.store.remove(frames[prune])
			tables[prune-1].entries[indices[prune-1]] = 0
			if reclaimErr := as.reclaimFrame(frames[prune]); reclaimErr != nil {
				return frame, reclaimErr
			}
		}

		return frame, nil
	}

	return mm.InvalidFrame, errTableCorrupted
}

// Translate walks the hierarchy read-only and returns the physical address
// that corresponds to the supplied virtual address or ErrInvalidMapping if
// the virtual address does not correspond to a mapped physical page.
func (as *AddressSpace) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	if !as.initialized {
		return 0, errNotInitialized
	}

	var (
		err   = ErrInvalidMapping
		entry pageTableEntry
	)

	walkErr := as.walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		if pteLevel == pageLevels-1 {
			entry = *pte
			err = nil
		}

		return true
	})

	if walkErr != nil {
		return 0, walkErr
	}

	if err != nil {
		return 0, err
	}

	// The physical address is the frame address plus the offset within
	// the page specified by the virtual address.
	return entry.Frame().Address() + PageOffset(virtAddr), nil
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & (mm.PageSize - 1)
}

// ReserveRegion reserves a page-aligned contiguous virtual memory region with
// the requested size and returns its start address. If size is not a multiple
// of mm.PageSize it will be automatically rounded up. Regions are carved off
// the top of the kernel address space moving downwards and are never
// recycled.
func (as *AddressSpace) ReserveRegion(size mm.Size) (uintptr, *kernel.Error) {
	if !as.initialized {
		return 0, errNotInitialized
	}

	size = (size + mm.Size(mm.PageSize-1)) & ^mm.Size(mm.PageSize-1)

	// Reserving a region of the requested size would cause an underflow
	if uintptr(size) > as.reserveLastUsed {
		return 0, errReserveNoSpace
	}

	as.reserveLastUsed -= uintptr(size)
	return as.reserveLastUsed, nil
}

// MapRegion reserves the next available region in the address space and maps
// it to the physical memory region which starts at the given frame and ends
// at frame + pages(size). The size argument is always rounded up to the
// nearest page boundary. MapRegion returns the Page that corresponds to the
// region start. It is the mapping interface handed to device drivers that
// need access to a physical device buffer.
func (as *AddressSpace) MapRegion(frame mm.Frame, size mm.Size, flags PageTableEntryFlag) (mm.Page, *kernel.Error) {
	size = (size + mm.Size(mm.PageSize-1)) & ^mm.Size(mm.PageSize-1)
	startAddr, err := as.ReserveRegion(size)
	if err != nil {
		return 0, err
	}

	pageCount := uintptr(size) >> mm.PageShift
	for page := mm.PageFromAddress(startAddr); pageCount > 0; pageCount, page, frame = pageCount-1, page+1, frame+1 {
		if err := as.Map(page, frame, flags); err != nil {
			return 0, err
		}
	}

	return mm.PageFromAddress(startAddr), nil
}

// SetDemandWindow registers [start, end) as the demand-growth window: a
// non-present kernel access inside the window is recovered by the page fault
// handler mapping a fresh frame in place instead of halting the machine.
func (as *AddressSpace) SetDemandWindow(start, end uintptr) {
	as.demandStart, as.demandEnd = start, end
}
