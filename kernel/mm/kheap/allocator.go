// Package kheap implements the kernel's dynamic memory allocator. A
// first-fit free list with two-sided coalescing serves variable-size
// requests from a fixed virtual region that the page table manager keeps
// mapped; a size-class block cache (see BlockCache) can be layered in front
// of it to absorb small high-frequency allocations.
package kheap

import (
	"minos/kernel"
	"minos/kernel/mm"
	"minos/kernel/mm/vmm"
	"minos/kernel/sync"
)

const (
	// headerSize is the bookkeeping overhead attributed to each block. A
	// block is only split when the trailing remainder is large enough to
	// hold a header of its own.
	headerSize = uintptr(16)

	// minAlign is the alignment applied to every allocation request.
	minAlign = uintptr(8)
)

var (
	// ErrOutOfMemory is returned when no free block can satisfy an
	// allocation request. Heap exhaustion is recoverable: the caller
	// decides whether to fall back, reject the higher-level request or
	// propagate the failure upward.
	ErrOutOfMemory = &kernel.Error{Module: "kheap", Message: "out of memory"}

	errNotInitialized = &kernel.Error{Module: "kheap", Message: "allocator not initialized"}
	errInvalidSize    = &kernel.Error{Module: "kheap", Message: "allocation size must be greater than zero"}
	errInvalidAlign   = &kernel.Error{Module: "kheap", Message: "allocation alignment must be a power of two"}
	errUnknownBlock   = &kernel.Error{Module: "kheap", Message: "attempt to free an address that does not start an allocated block"}
	errDoubleFree     = &kernel.Error{Module: "kheap", Message: "attempt to free a block that is already free"}

	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kernel.Panic
)

// heapBlock tracks one span of the heap region. The blocks form a single
// forward-linked list ordered by address whose spans exactly tile the
// reserved region with no gaps.
type heapBlock struct {
	addr uintptr
	size uintptr
	free bool
	next *heapBlock
}

// Allocator serves general-purpose dynamic allocations to the rest of the
// kernel. The zero value is not usable until Init reserves and maps the heap
// region.
type Allocator struct {
	head *heapBlock

	regionStart uintptr
	regionEnd   uintptr

	// freeBytes tracks the total size of all free blocks.
	freeBytes uintptr

	lock sync.IrqLock

	initialized bool
}

// Init carves the heap region out of the kernel address space, eagerly maps
// its first mappedSize bytes and registers the remainder as the address
// space's demand-growth window so that the first touch of a cold heap page
// maps a frame for it. The block list is seeded with a single free block
// spanning the whole region.
func (alloc *Allocator) Init(as *vmm.AddressSpace, allocFrame mm.FrameAllocatorFn, mappedSize, totalSize mm.Size) *kernel.Error {
	if totalSize == 0 || mappedSize > totalSize {
		return errInvalidSize
	}

	totalSize = (totalSize + mm.Size(mm.PageSize-1)) & ^mm.Size(mm.PageSize-1)
	mappedSize = (mappedSize + mm.Size(mm.PageSize-1)) & ^mm.Size(mm.PageSize-1)

	regionStart, err := as.ReserveRegion(totalSize)
	if err != nil {
		return err
	}

	pageCount := uintptr(mappedSize) >> mm.PageShift
	for page := mm.PageFromAddress(regionStart); pageCount > 0; pageCount, page = pageCount-1, page+1 {
		frame, err := allocFrame()
		if err != nil {
			return err
		}

		if err = as.Map(page, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return err
		}
	}

	as.SetDemandWindow(regionStart+uintptr(mappedSize), regionStart+uintptr(totalSize))

	alloc.regionStart = regionStart
	alloc.regionEnd = regionStart + uintptr(totalSize)
	alloc.head = &heapBlock{
		addr: regionStart,
		size: uintptr(totalSize),
		free: true,
	}
	alloc.freeBytes = uintptr(totalSize)
	alloc.initialized = true
	return nil
}

// Alloc reserves size bytes aligned to align and returns the address of the
// reservation. The free block list is scanned first-fit; the selected block
// is split when the remainder can hold a block header of its own and
// consumed whole otherwise. Alloc fails with ErrOutOfMemory when no free
// block fits the request.
func (alloc *Allocator) Alloc(size mm.Size, align uintptr) (uintptr, *kernel.Error) {
	if !alloc.initialized {
		return 0, errNotInitialized
	}

	if size == 0 {
		return 0, errInvalidSize
	}

	if align == 0 {
		align = minAlign
	}
	if align&(align-1) != 0 {
		return 0, errInvalidAlign
	}

	// Round the request up so that block addresses stay aligned for the
	// smallest allocation that may follow.
	reqSize := (uintptr(size) + minAlign - 1) &^ (minAlign - 1)

	alloc.lock.Acquire()
	defer alloc.lock.Release()

	for block := alloc.head; block != nil; block = block.next {
		if !block.free {
			continue
		}

		alignedAddr := (block.addr + align - 1) &^ (align - 1)
		if alignedAddr+reqSize > block.addr+block.size {
			continue
		}

		// An alignment hole at the block start stays behind as a free
		// block of its own.
		if gap := alignedAddr - block.addr; gap != 0 {
			rest := &heapBlock{
				addr: alignedAddr,
				size: block.size - gap,
				free: true,
				next: block.next,
			}
			block.size = gap
			block.next = rest
			block = rest
		}

		if remainder := block.size - reqSize; remainder >= headerSize {
			tail := &heapBlock{
				addr: block.addr + reqSize,
				size: remainder,
				free: true,
				next: block.next,
			}
			block.size = reqSize
			block.next = tail
		}

		block.free = false
		alloc.freeBytes -= block.size
		return block.addr, nil
	}

	return 0, ErrOutOfMemory
}

// Free returns the block starting at addr to the free list and coalesces it
// with any adjacent free neighbor on either side, bounding long-run
// fragmentation. Freeing an address that does not start an allocated block,
// or a block that is already free, indicates kernel state corruption and is
// treated as a fatal assertion.
func (alloc *Allocator) Free(addr uintptr) *kernel.Error {
	if !alloc.initialized {
		return errNotInitialized
	}

	alloc.lock.Acquire()
	defer alloc.lock.Release()

	var prev *heapBlock
	block := alloc.head
	for ; block != nil && block.addr != addr; prev, block = block, block.next {
	}

	if block == nil {
		panicFn(errUnknownBlock)
		return errUnknownBlock
	}

	if block.free {
		panicFn(errDoubleFree)
		return errDoubleFree
	}

	block.free = true
	alloc.freeBytes += block.size

	// The block list tiles the region so adjacency equals direct
	// neighborship in the list.
	if next := block.next; next != nil && next.free {
		block.size += next.size
		block.next = next.next
	}

	if prev != nil && prev.free {
		prev.size += block.size
		prev.next = block.next
	}

	return nil
}

// FreeSpace returns the total number of bytes available in free blocks. Note
// that fragmentation may prevent a single allocation of this size from
// succeeding.
func (alloc *Allocator) FreeSpace() mm.Size {
	return mm.Size(alloc.freeBytes)
}

// UsedSpace returns the total number of bytes currently allocated.
func (alloc *Allocator) UsedSpace() mm.Size {
	return mm.Size(alloc.regionEnd-alloc.regionStart) - mm.Size(alloc.freeBytes)
}

// RegionSize returns the total size of the reserved heap region.
func (alloc *Allocator) RegionSize() mm.Size {
	return mm.Size(alloc.regionEnd - alloc.regionStart)
}

// RegionStart returns the virtual address where the heap region begins.
func (alloc *Allocator) RegionStart() uintptr {
	return alloc.regionStart
}
