package kheap

import (
	"minos/kernel"
	"minos/kernel/mm"
	"minos/kernel/sync"
)

// blockSizes lists the size classes served by the block cache. Classes must
// be powers of two so that class-sized blocks are also naturally aligned.
var blockSizes = [...]uintptr{8, 16, 32, 64, 128, 256, 512, 1024, 2048}

// BlockCache is a size-class front end for the heap allocator. Requests that
// fit a class are served from a per-class list of recycled blocks and fall
// back to the underlying free-list allocator when the list is empty; freed
// class blocks return to their class list instead of the allocator, making
// repeat allocations of the same size O(1).
type BlockCache struct {
	fallback *Allocator

	// freeLists holds the recycled block addresses for each size class.
	freeLists [len(blockSizes)][]uintptr

	// classes records the class each cache-served block belongs to and
	// whether it currently sits on its class free list. Frees do not carry
	// the original request size, so the cache keeps the reverse index
	// itself; the entry outlives the allocation so that freeing a recycled
	// block twice is caught.
	classes map[uintptr]cacheBlock

	lock sync.IrqLock
}

// cacheBlock is the reverse-index entry for one cache-served block.
type cacheBlock struct {
	class int
	free  bool
}

// Init attaches the cache to the allocator that backs it.
func (c *BlockCache) Init(fallback *Allocator) {
	c.fallback = fallback
	c.classes = make(map[uintptr]cacheBlock)
}

// Alloc serves an allocation request. Requests larger than the largest size
// class bypass the cache entirely.
func (c *BlockCache) Alloc(size mm.Size, align uintptr) (uintptr, *kernel.Error) {
	class, cacheable := classIndex(uintptr(size), align)
	if !cacheable {
		return c.fallback.Alloc(size, align)
	}

	c.lock.Acquire()
	defer c.lock.Release()

	if list := c.freeLists[class]; len(list) != 0 {
		addr := list[len(list)-1]
		c.freeLists[class] = list[:len(list)-1]
		c.classes[addr] = cacheBlock{class: class}
		return addr, nil
	}

	// Class-sized blocks are allocated at class alignment so any
	// alignment up to the class size is honored on reuse.
	addr, err := c.fallback.Alloc(mm.Size(blockSizes[class]), blockSizes[class])
	if err != nil {
		return 0, err
	}

	c.classes[addr] = cacheBlock{class: class}
	return addr, nil
}

// Free returns a block to its class list, or to the underlying allocator if
// the block was not served from a class. Freeing a class block that is
// already on its free list indicates kernel state corruption and is treated
// as a fatal assertion, matching Allocator.Free.
func (c *BlockCache) Free(addr uintptr) *kernel.Error {
	c.lock.Acquire()
	blk, fromCache := c.classes[addr]
	if fromCache {
		if blk.free {
			c.lock.Release()
			panicFn(errDoubleFree)
			return errDoubleFree
		}

		blk.free = true
		c.classes[addr] = blk
		c.freeLists[blk.class] = append(c.freeLists[blk.class], addr)
		c.lock.Release()
		return nil
	}
	c.lock.Release()

	return c.fallback.Free(addr)
}

// classIndex returns the smallest size class that can hold an allocation
// with the given size and alignment, or false if the request is too large to
// cache.
func classIndex(size, align uintptr) (int, bool) {
	if align > size {
		size = align
	}

	for index, blockSize := range blockSizes {
		if blockSize >= size {
			return index, true
		}
	}

	return 0, false
}
