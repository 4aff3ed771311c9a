// Package kmain wires the kernel subsystems together and contains the kernel
// entry point.
package kmain

import (
	"minos/kernel"
	"minos/kernel/driver/intc"
	"minos/kernel/driver/kbd"
	"minos/kernel/driver/pit"
	"minos/kernel/driver/rtc"
	"minos/kernel/driver/tty"
	"minos/kernel/driver/video/console"
	"minos/kernel/gate"
	"minos/kernel/hal/multiboot"
	"minos/kernel/kfmt"
	"minos/kernel/memfs"
	"minos/kernel/mm"
	"minos/kernel/mm/kheap"
	"minos/kernel/mm/pmm"
	"minos/kernel/mm/vmm"
	"minos/kernel/shell"
)

const (
	consoleWidth  = 80
	consoleHeight = 25

	// The heap reserves heapTotalSize of virtual address space but only
	// pre-maps heapMappedSize; the rest is mapped on first access by the
	// page fault handler.
	heapMappedSize = 4 * mm.Mb
	heapTotalSize  = 16 * mm.Mb

	// timerFrequency is the tick rate programmed into the interval timer.
	timerFrequency = 100

	// localTimezoneOffset is added to the UTC wall clock when displaying
	// the time of day.
	localTimezoneOffset = 9

	timerIRQ    = uint8(0)
	keyboardIRQ = uint8(1)
)

// System aggregates the kernel subsystems wired up during boot.
type System struct {
	Console  console.Vga
	Terminal tty.Vt

	FrameAllocator pmm.BitmapAllocator
	AddressSpace   vmm.AddressSpace
	Heap           kheap.Allocator
	BlockCache     kheap.BlockCache

	Dispatcher gate.Dispatcher
	PIC        intc.PIC

	Timer    pit.Timer
	Clock    rtc.Clock
	Keyboard kbd.Keyboard

	FileSystem memfs.FileSystem
	Shell      shell.Shell
}

// Boot initializes every kernel subsystem in dependency order and enables
// interrupt delivery. The passed buffer holds the multiboot info payload
// provided by the bootloader; kernelStart and kernelEnd describe the
// physical region occupied by the kernel image.
func Boot(infoBuffer []byte, kernelStart, kernelEnd uintptr) (*System, *kernel.Error) {
	multiboot.SetInfoBuffer(infoBuffer)

	sys := new(System)

	// Bring up the terminal first so that all boot output, including the
	// buffered early output, reaches the screen.
	sys.Console.Init(consoleWidth, consoleHeight)
	sys.Terminal.Init(&sys.Console)
	kfmt.SetOutputSink(&sys.Terminal)

	kfmt.Printf("booting via %s\n", multiboot.GetBootLoaderName())

	if err := sys.FrameAllocator.Init(kernelStart, kernelEnd); err != nil {
		return nil, err
	}
	if err := sys.AddressSpace.Init(sys.FrameAllocator.AllocFrame, sys.FrameAllocator.FreeFrame); err != nil {
		return nil, err
	}
	if err := sys.Heap.Init(&sys.AddressSpace, sys.FrameAllocator.AllocFrame, heapMappedSize, heapTotalSize); err != nil {
		return nil, err
	}
	sys.BlockCache.Init(&sys.Heap)

	sys.AddressSpace.InstallFaultHandlers(&sys.Dispatcher)

	if err := sys.PIC.Init(uint8(gate.IRQBase)); err != nil {
		return nil, err
	}
	sys.Dispatcher.AttachController(&sys.PIC)

	if err := sys.Timer.Init(&sys.Dispatcher, timerFrequency); err != nil {
		return nil, err
	}

	sys.Clock.TimezoneOffset = localTimezoneOffset
	sys.FileSystem.Init()
	sys.Shell.Init(&sys.Terminal, &sys.FileSystem, &sys.Clock, &sys.Timer, &sys.FrameAllocator, &sys.Heap)
	sys.Keyboard.Init(&sys.Dispatcher, &sys.Shell)

	if err := sys.PIC.ClearMask(timerIRQ); err != nil {
		return nil, err
	}
	if err := sys.PIC.ClearMask(keyboardIRQ); err != nil {
		return nil, err
	}

	sys.Dispatcher.EnableInterrupts()

	return sys, nil
}

// Kmain is the kernel entry point invoked by the boot stub after it has
// copied the multiboot info payload and located the kernel image. Kmain is
// not expected to return.
func Kmain(infoBuffer []byte, kernelStart, kernelEnd uintptr) {
	if _, err := Boot(infoBuffer, kernelStart, kernelEnd); err != nil {
		kernel.Panic(err)
	}

	// Idle; all further work happens in interrupt handlers.
	for {
	}
}
