package multiboot

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// infoBufferBuilder assembles a synthetic multiboot info payload out of tags.
type infoBufferBuilder struct {
	buf bytes.Buffer
}

func (b *infoBufferBuilder) addTag(t tagType, content []byte) {
	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:], uint32(t))
	binary.LittleEndian.PutUint32(header[4:], uint32(len(content)+tagHeaderSize))
	b.buf.Write(header[:])
	b.buf.Write(content)

	// Tags start at 8-byte aligned offsets.
	for b.buf.Len()%8 != 0 {
		b.buf.WriteByte(0)
	}
}

func (b *infoBufferBuilder) build() []byte {
	b.addTag(tagMbSectionEnd, nil)

	data := make([]byte, infoHeaderSize+b.buf.Len())
	binary.LittleEndian.PutUint32(data, uint32(len(data)))
	copy(data[infoHeaderSize:], b.buf.Bytes())
	return data
}

func memoryMapTag(entries []MemoryMapEntry) []byte {
	content := make([]byte, 8+len(entries)*mmapEntrySize)
	binary.LittleEndian.PutUint32(content, mmapEntrySize)

	offset := 8
	for _, entry := range entries {
		binary.LittleEndian.PutUint64(content[offset:], entry.PhysAddress)
		binary.LittleEndian.PutUint64(content[offset+8:], entry.Length)
		binary.LittleEndian.PutUint32(content[offset+16:], uint32(entry.Type))
		offset += mmapEntrySize
	}
	return content
}

func TestVisitMemRegions(t *testing.T) {
	defer SetInfoBuffer(nil)

	expEntries := []MemoryMapEntry{
		{PhysAddress: 0, Length: 0x9fc00, Type: MemAvailable},
		{PhysAddress: 0x9fc00, Length: 0x400, Type: MemReserved},
		{PhysAddress: 0x100000, Length: 0x7ee0000, Type: MemAvailable},
		{PhysAddress: 0xfffc0000, Length: 0x40000, Type: MemoryEntryType(99)},
	}

	var b infoBufferBuilder
	b.addTag(tagMemoryMap, memoryMapTag(expEntries))
	SetInfoBuffer(b.build())

	var got []MemoryMapEntry
	VisitMemRegions(func(entry *MemoryMapEntry) bool {
		got = append(got, *entry)
		return true
	})

	if len(got) != len(expEntries) {
		t.Fatalf("expected visitor to be invoked %d times; got %d", len(expEntries), len(got))
	}

	for i, entry := range got {
		exp := expEntries[i]
		// Unknown region types get coerced to reserved.
		if exp.Type >= memUnknown {
			exp.Type = MemReserved
		}
		if entry != exp {
			t.Errorf("[entry %d] expected %+v; got %+v", i, exp, entry)
		}
	}
}

func TestVisitMemRegionsAbort(t *testing.T) {
	defer SetInfoBuffer(nil)

	var b infoBufferBuilder
	b.addTag(tagMemoryMap, memoryMapTag([]MemoryMapEntry{
		{PhysAddress: 0, Length: 0x1000, Type: MemAvailable},
		{PhysAddress: 0x1000, Length: 0x1000, Type: MemAvailable},
	}))
	SetInfoBuffer(b.build())

	var visitCount int
	VisitMemRegions(func(*MemoryMapEntry) bool {
		visitCount++
		return false
	})

	if visitCount != 1 {
		t.Fatalf("expected visitor to abort the scan after 1 invocation; got %d", visitCount)
	}
}

func TestVisitMemRegionsWithMissingTag(t *testing.T) {
	defer SetInfoBuffer(nil)

	var b infoBufferBuilder
	SetInfoBuffer(b.build())

	VisitMemRegions(func(*MemoryMapEntry) bool {
		t.Fatal("expected visitor not to be invoked when the memory map tag is missing")
		return false
	})
}

func TestStringTags(t *testing.T) {
	defer SetInfoBuffer(nil)

	var b infoBufferBuilder
	b.addTag(tagBootCmdLine, []byte("root=/dev/ram0\x00"))
	b.addTag(tagBootLoaderName, []byte("GRUB 2.02\x00"))
	SetInfoBuffer(b.build())

	if exp, got := "root=/dev/ram0", GetBootCmdLine(); got != exp {
		t.Errorf("expected boot cmdline %q; got %q", exp, got)
	}
	if exp, got := "GRUB 2.02", GetBootLoaderName(); got != exp {
		t.Errorf("expected bootloader name %q; got %q", exp, got)
	}
}

func TestStringTagsWithEmptyBuffer(t *testing.T) {
	defer SetInfoBuffer(nil)
	SetInfoBuffer(nil)

	if got := GetBootCmdLine(); got != "" {
		t.Errorf("expected empty cmdline; got %q", got)
	}
	if got := GetBootLoaderName(); got != "" {
		t.Errorf("expected empty bootloader name; got %q", got)
	}
}

func TestMemoryEntryTypeString(t *testing.T) {
	specs := []struct {
		t   MemoryEntryType
		exp string
	}{
		{MemAvailable, "available"},
		{MemReserved, "reserved"},
		{MemAcpiReclaimable, "ACPI (reclaimable)"},
		{MemNvs, "NVS"},
		{memUnknown, "unknown"},
	}

	for specIndex, spec := range specs {
		if got := spec.t.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}
