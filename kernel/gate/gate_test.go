package gate

import (
	"bytes"
	"strings"
	"testing"

	"minos/kernel"
	"minos/kernel/cpu"
	"minos/kernel/kfmt"
)

type fakeController struct {
	acks []uint8
}

func (c *fakeController) Ack(irq uint8) { c.acks = append(c.acks, irq) }

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	var (
		d        Dispatcher
		gotRegs  *Registers
		expRegs  = &Registers{RAX: 1, RIP: 0xf00, Info: 42}
		gotCalls int
	)

	d.HandleInterrupt(PageFaultException, func(regs *Registers) {
		gotCalls++
		gotRegs = regs
	})

	d.Dispatch(PageFaultException, expRegs)

	if gotCalls != 1 {
		t.Fatalf("expected handler to be invoked once; got %d", gotCalls)
	}
	if gotRegs != expRegs {
		t.Fatal("expected handler to receive the dispatched register snapshot")
	}
}

func TestDispatchAcksHardwareInterrupts(t *testing.T) {
	var (
		d    Dispatcher
		ctrl fakeController
	)

	var handlerRanBeforeAck bool
	d.HandleInterrupt(TimerInterrupt, func(*Registers) {
		handlerRanBeforeAck = len(ctrl.acks) == 0
	})
	d.AttachController(&ctrl)

	d.Dispatch(TimerInterrupt, &Registers{})

	if !handlerRanBeforeAck {
		t.Fatal("expected the handler to run before the controller ack")
	}
	if len(ctrl.acks) != 1 || ctrl.acks[0] != 0 {
		t.Fatalf("expected a single ack for IRQ 0; got %v", ctrl.acks)
	}

	// Exception vectors must not generate controller acks.
	d.HandleInterrupt(PageFaultException, func(*Registers) {})
	d.Dispatch(PageFaultException, &Registers{})
	if len(ctrl.acks) != 1 {
		t.Fatalf("expected no ack for an exception vector; got %v", ctrl.acks)
	}
}

func TestDispatchAcksEvenWhenHandlerPanics(t *testing.T) {
	var (
		d    Dispatcher
		ctrl fakeController
	)

	d.AttachController(&ctrl)
	d.HandleInterrupt(KeyboardInterrupt, func(*Registers) {
		panic("handler error")
	})

	func() {
		defer func() { recover() }()
		d.Dispatch(KeyboardInterrupt, &Registers{})
	}()

	if len(ctrl.acks) != 1 || ctrl.acks[0] != 1 {
		t.Fatalf("expected the ack for IRQ 1 to be sent on the handler error path; got %v", ctrl.acks)
	}
}

func TestDispatchFatalVectors(t *testing.T) {
	defer func() {
		panicFn = kernel.Panic
		kfmt.SetOutputSink(nil)
	}()

	var panicked bool
	panicFn = func(interface{}) { panicked = true }

	t.Run("double fault", func(t *testing.T) {
		var (
			d   Dispatcher
			buf bytes.Buffer
		)
		kfmt.SetOutputSink(&buf)

		// A double fault is fatal even when a handler is registered for
		// its vector.
		d.HandleInterrupt(DoubleFault, func(*Registers) {
			t.Fatal("expected the double fault handler not to be invoked")
		})

		panicked = false
		d.Dispatch(DoubleFault, &Registers{})

		if !panicked {
			t.Fatal("expected a double fault to trigger a kernel panic")
		}
		if got := buf.String(); !strings.Contains(got, "double fault") {
			t.Fatalf("expected fault dump to mention the double fault; got:\n%s", got)
		}
	})

	t.Run("unhandled vector", func(t *testing.T) {
		var (
			d   Dispatcher
			buf bytes.Buffer
		)
		kfmt.SetOutputSink(&buf)

		panicked = false
		d.Dispatch(DivideByZero, &Registers{})

		if !panicked {
			t.Fatal("expected an unhandled vector to trigger a kernel panic")
		}
		if got := buf.String(); !strings.Contains(got, "no handler registered") {
			t.Fatalf("expected fault dump to mention the missing handler; got:\n%s", got)
		}
	})
}

func TestVectorTableSealing(t *testing.T) {
	defer func() {
		panicFn = kernel.Panic
		cpu.DisableInterrupts()
	}()

	var panicErr interface{}
	panicFn = func(e interface{}) { panicErr = e }

	var (
		d    Dispatcher
		ctrl fakeController
	)
	d.AttachController(&ctrl)
	d.EnableInterrupts()

	if !cpu.InterruptsEnabled() {
		t.Fatal("expected EnableInterrupts to set the CPU interrupt flag")
	}

	d.HandleInterrupt(TimerInterrupt, func(*Registers) {})
	if panicErr != errRegisterAfterEnable {
		t.Fatal("expected handler registration after EnableInterrupts to trigger a kernel panic")
	}

	d.DisableInterrupts()
	if cpu.InterruptsEnabled() {
		t.Fatal("expected DisableInterrupts to clear the CPU interrupt flag")
	}
}

func TestEnableInterruptsWithoutController(t *testing.T) {
	defer func() { panicFn = kernel.Panic }()

	var panicErr interface{}
	panicFn = func(e interface{}) { panicErr = e }

	var d Dispatcher
	d.EnableInterrupts()

	if panicErr != errMissingController {
		t.Fatal("expected EnableInterrupts without an attached controller to trigger a kernel panic")
	}
}

func TestRegistersDumpTo(t *testing.T) {
	var buf bytes.Buffer

	regs := Registers{RAX: 1, RBX: 2, RIP: 0xdeadc0de, RSP: 0xf00, Info: 42}
	regs.DumpTo(&buf)

	for _, exp := range []string{"RAX", "RBX", "RIP", "RSP", "deadc0de"} {
		if !strings.Contains(buf.String(), exp) {
			t.Errorf("expected register dump to contain %q; got:\n%s", exp, buf.String())
		}
	}
}
