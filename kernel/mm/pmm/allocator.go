// Package pmm implements the kernel's physical frame allocator. The
// allocator tracks frame reservations across the usable memory pools reported
// by the bootloader using one free bitmap per pool.
package pmm

import (
	"minos/kernel"
	"minos/kernel/hal/multiboot"
	"minos/kernel/kfmt"
	"minos/kernel/mm"
	"minos/kernel/sync"
)

var (
	errNotInitialized = &kernel.Error{Module: "pmm", Message: "allocator not initialized"}
	errOutOfMemory    = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errDoubleFree     = &kernel.Error{Module: "pmm", Message: "attempt to free a frame that is already free"}
	errFrameNotOwned  = &kernel.Error{Module: "pmm", Message: "frame does not belong to any usable memory region"}

	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kernel.Panic
)

// framePool tracks frame reservations for one contiguous usable memory
// region. Each free bitmap entry i corresponds to frame (startFrame + i);
// a set bit marks a reserved frame.
type framePool struct {
	startFrame mm.Frame
	endFrame   mm.Frame

	// freeCount tracks the available frames in this pool. The allocator
	// uses this field to skip fully reserved pools without scanning
	// their bitmaps.
	freeCount uint32

	freeBitmap []uint64
}

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations across the available memory pools using bitmaps. The zero
// value is not usable until a call to Init consumes the bootloader-provided
// memory map; this ordering violation is detected and reported as an error
// by AllocFrame.
type BitmapAllocator struct {
	pools []framePool

	// totalFrames tracks the total number of frames across all pools.
	totalFrames uint32

	// reservedFrames tracks the number of reserved frames across all pools.
	reservedFrames uint32

	lock sync.IrqLock

	initialized bool
}

// Init consumes the memory map reported by the bootloader and builds the
// free-frame tracking structures for each usable region. The frames that
// overlap the loaded kernel image ([kernelStart, kernelEnd]) are marked as
// reserved so they can never be handed out. Init must run exactly once,
// before any other component requests a frame.
func (alloc *BitmapAllocator) Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	if alloc.initialized {
		panicFn(&kernel.Error{Module: "pmm", Message: "allocator already initialized"})
		return nil
	}

	pageSizeMinus1 := uint64(mm.PageSize - 1)

	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		// Ignore reserved regions and regions smaller than a single page
		if region.Type != multiboot.MemAvailable || region.Length < uint64(mm.PageSize) {
			return true
		}

		// Reported addresses may not be page-aligned; round up to get
		// the start frame and round down to get the end frame
		startFrame := mm.Frame(((region.PhysAddress + pageSizeMinus1) & ^pageSizeMinus1) >> mm.PageShift)
		endFrame := mm.Frame(((region.PhysAddress+region.Length) & ^pageSizeMinus1)>>mm.PageShift) - 1
		if endFrame < startFrame {
			return true
		}

		frameCount := uint32(endFrame-startFrame) + 1
		alloc.totalFrames += frameCount
		pool := framePool{
			startFrame: startFrame,
			endFrame:   endFrame,
			freeCount:  frameCount,
			// Round up the bitmap size to a multiple of 64 bits
			freeBitmap: make([]uint64, ((frameCount+63)&^63)>>6),
		}

		// Flag the tail bitmap bits that do not correspond to an actual
		// frame as reserved so the allocator never hands them out. The
		// pool free counter intentionally ignores them.
		for relFrame := frameCount; relFrame < uint32(len(pool.freeBitmap))<<6; relFrame++ {
			pool.freeBitmap[relFrame>>6] |= 1 << (63 - (relFrame & 63))
		}

		alloc.pools = append(alloc.pools, pool)
		return true
	})

	alloc.initialized = true

	// The frames holding the kernel image must never be handed out
	kernelStartFrame := mm.FrameFromAddress(kernelStart)
	kernelEndFrame := mm.Frame(((kernelEnd + uintptr(pageSizeMinus1)) & ^uintptr(pageSizeMinus1)) >> mm.PageShift)
	for frame := kernelStartFrame; frame < kernelEndFrame; frame++ {
		if pool := alloc.poolForFrame(frame); pool != nil {
			pool.markFrame(frame, markReserved)
			alloc.reservedFrames++
		}
	}

	alloc.printMemoryMap(kernelStart, kernelEnd)
	return nil
}

// AllocFrame reserves and returns the first available free frame. AllocFrame
// returns an error if no more physical memory can be allocated.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	if !alloc.initialized {
		return mm.InvalidFrame, errNotInitialized
	}

	alloc.lock.Acquire()
	defer alloc.lock.Release()

	for poolIndex := 0; poolIndex < len(alloc.pools); poolIndex++ {
		if alloc.pools[poolIndex].freeCount == 0 {
			continue
		}

		fullBlock := uint64(^uint64(0))
		for blockIndex, block := range alloc.pools[poolIndex].freeBitmap {
			if block == fullBlock {
				continue
			}

			// Scan the block from the MSB to find the first zero bit
			for bitIndex, mask := 0, uint64(1<<63); bitIndex < 64; bitIndex, mask = bitIndex+1, mask>>1 {
				if block&mask != 0 {
					continue
				}

				alloc.pools[poolIndex].freeBitmap[blockIndex] |= mask
				alloc.pools[poolIndex].freeCount--
				alloc.reservedFrames++
				return alloc.pools[poolIndex].startFrame + mm.Frame((blockIndex<<6)+bitIndex), nil
			}
		}
	}

	return mm.InvalidFrame, errOutOfMemory
}

// FreeFrame returns a frame back to the free set. Freeing a frame that is
// already free or that lies outside every usable memory region indicates
// kernel state corruption and is treated as a fatal assertion.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	if !alloc.initialized {
		return errNotInitialized
	}

	alloc.lock.Acquire()
	defer alloc.lock.Release()

	pool := alloc.poolForFrame(frame)
	if pool == nil {
		panicFn(errFrameNotOwned)
		return errFrameNotOwned
	}

	if !pool.isReserved(frame) {
		panicFn(errDoubleFree)
		return errDoubleFree
	}

	pool.markFrame(frame, markFree)
	alloc.reservedFrames--
	return nil
}

// TotalFrames returns the total number of frames tracked by the allocator.
func (alloc *BitmapAllocator) TotalFrames() uint32 {
	return alloc.totalFrames
}

// ReservedFrames returns the number of currently reserved frames.
func (alloc *BitmapAllocator) ReservedFrames() uint32 {
	return alloc.reservedFrames
}

// FreeFrames returns the number of frames that are available for allocation.
func (alloc *BitmapAllocator) FreeFrames() uint32 {
	return alloc.totalFrames - alloc.reservedFrames
}

// poolForFrame returns the pool whose extents contain the given frame or nil
// if the frame is not part of any usable memory region.
func (alloc *BitmapAllocator) poolForFrame(frame mm.Frame) *framePool {
	for poolIndex := 0; poolIndex < len(alloc.pools); poolIndex++ {
		if frame >= alloc.pools[poolIndex].startFrame && frame <= alloc.pools[poolIndex].endFrame {
			return &alloc.pools[poolIndex]
		}
	}

	return nil
}

type markAs bool

const (
	markReserved markAs = true
	markFree     markAs = false
)

// markFrame updates the bitmap bit for the given frame and adjusts the pool
// free counter accordingly. Marking a frame with its current state is a no-op.
func (pool *framePool) markFrame(frame mm.Frame, as markAs) {
	relFrame := uint32(frame - pool.startFrame)
	blockIndex := relFrame >> 6
	mask := uint64(1 << (63 - (relFrame & 63)))

	switch {
	case as == markReserved && pool.freeBitmap[blockIndex]&mask == 0:
		pool.freeBitmap[blockIndex] |= mask
		pool.freeCount--
	case as == markFree && pool.freeBitmap[blockIndex]&mask != 0:
		pool.freeBitmap[blockIndex] &^= mask
		pool.freeCount++
	}
}

// isReserved returns true if the bitmap bit for the given frame is set.
func (pool *framePool) isReserved(frame mm.Frame) bool {
	relFrame := uint32(frame - pool.startFrame)
	return pool.freeBitmap[relFrame>>6]&(1<<(63-(relFrame&63))) != 0
}

// printMemoryMap logs the system memory map reported by the bootloader
// together with the location of the loaded kernel image.
func (alloc *BitmapAllocator) printMemoryMap(kernelStart, kernelEnd uintptr) {
	w := kfmt.NewPrefixWriter(kfmt.GetOutputSink(), "[pmm] ")

	kfmt.Fprintf(w, "system memory map:\n")
	var totalFree mm.Size
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		kfmt.Fprintf(w, "\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == multiboot.MemAvailable {
			totalFree += mm.Size(region.Length)
		}
		return true
	})
	kfmt.Fprintf(w, "available memory: %dKb\n", uint64(totalFree/mm.Kb))
	kfmt.Fprintf(w, "kernel loaded at 0x%x - 0x%x; reserved frames: %d\n", kernelStart, kernelEnd, alloc.reservedFrames)
}
