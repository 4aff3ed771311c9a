// Package multiboot parses the information payload that a multiboot2
// compliant bootloader hands over to the kernel entry point. The payload is a
// packed little-endian block consisting of a fixed header followed by a
// series of 8-byte aligned tags.
package multiboot

import "encoding/binary"

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
)

const (
	// infoHeaderSize is the size of the info section header (totalSize
	// plus a reserved dword).
	infoHeaderSize = 8

	// tagHeaderSize is the size of the header that precedes each tag
	// (type and size dwords). According to the spec, each tag starts at
	// an 8-byte aligned address.
	tagHeaderSize = 8

	// mmapEntrySize is the size of each entry in the memory map tag.
	mmapEntrySize = 24
)

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical
// address, its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region provided by the boot loader. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

var infoData []byte

// SetInfoBuffer registers the multiboot info payload that the bootloader
// passed to the kernel entry point. This function must be invoked before
// invoking any other function exported by this package.
func SetInfoBuffer(data []byte) {
	infoData = data
}

// VisitMemRegions invokes the supplied visitor for each memory region defined
// by the multiboot info data received from the bootloader.
func VisitMemRegions(visitor MemRegionVisitor) {
	offset, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	// The tag contents begin with the memory map header (2 dwords long)
	entrySize := binary.LittleEndian.Uint32(infoData[offset:])
	if entrySize == 0 {
		entrySize = mmapEntrySize
	}
	endOffset := offset + size
	offset += 8

	var entry MemoryMapEntry
	for ; offset+mmapEntrySize <= endOffset; offset += entrySize {
		entry.PhysAddress = binary.LittleEndian.Uint64(infoData[offset:])
		entry.Length = binary.LittleEndian.Uint64(infoData[offset+8:])
		entry.Type = MemoryEntryType(binary.LittleEndian.Uint32(infoData[offset+16:]))

		// Mark unknown entry types as reserved
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(&entry) {
			return
		}
	}
}

// GetBootCmdLine returns the command line passed to the kernel by the
// bootloader or an empty string if no command line tag is present.
func GetBootCmdLine() string {
	return tagString(tagBootCmdLine)
}

// GetBootLoaderName returns the name of the bootloader that loaded the kernel
// or an empty string if no bootloader name tag is present.
func GetBootLoaderName() string {
	return tagString(tagBootLoaderName)
}

// tagString extracts the zero-terminated string contents of a tag.
func tagString(t tagType) string {
	offset, size := findTagByType(t)
	if size == 0 {
		return ""
	}

	data := infoData[offset : offset+size]
	for i, b := range data {
		if b == 0 {
			data = data[:i]
			break
		}
	}

	return string(data)
}

// findTagByType scans the multiboot info data looking for the start of the
// tag with the specified type. It returns the tag contents start offset and
// the content length excluding the tag header.
//
// If the tag is not present in the multiboot info, findTagByType returns back
// (0,0).
func findTagByType(t tagType) (offset, size uint32) {
	if len(infoData) < infoHeaderSize+tagHeaderSize {
		return 0, 0
	}

	totalSize := binary.LittleEndian.Uint32(infoData)
	if totalSize > uint32(len(infoData)) {
		totalSize = uint32(len(infoData))
	}

	for curOffset := uint32(infoHeaderSize); curOffset+tagHeaderSize <= totalSize; {
		curType := tagType(binary.LittleEndian.Uint32(infoData[curOffset:]))
		curSize := binary.LittleEndian.Uint32(infoData[curOffset+4:])

		if curType == tagMbSectionEnd {
			break
		}

		if curType == t {
			return curOffset + tagHeaderSize, curSize - tagHeaderSize
		}

		// Tags are aligned at 8-byte aligned addresses
		curOffset += (curSize + 7) &^ 7
	}

	return 0, 0
}
