package sync

import "testing"

// flagIF is the RFLAGS interrupt enable bit.
const flagIF = uintptr(1 << 9)

func mockInterruptFlag(t *testing.T) *uintptr {
	origSave, origRestore := saveFlagsAndDisableFn, restoreFlagsFn
	t.Cleanup(func() {
		saveFlagsAndDisableFn = origSave
		restoreFlagsFn = origRestore
	})

	rflags := flagIF
	saveFlagsAndDisableFn = func() uintptr {
		saved := rflags
		rflags &^= flagIF
		return saved
	}
	restoreFlagsFn = func(flags uintptr) {
		rflags = flags
	}

	return &rflags
}

func TestGuard(t *testing.T) {
	rflags := mockInterruptFlag(t)

	guard := Enter()
	if *rflags&flagIF != 0 {
		t.Fatal("expected interrupts to be disabled inside the critical section")
	}

	guard.Leave()
	if *rflags&flagIF == 0 {
		t.Fatal("expected interrupts to be enabled after Leave")
	}
}

func TestGuardNesting(t *testing.T) {
	rflags := mockInterruptFlag(t)

	outer := Enter()
	inner := Enter()

	inner.Leave()
	if *rflags&flagIF != 0 {
		t.Fatal("expected interrupts to remain disabled after leaving the inner section")
	}

	outer.Leave()
	if *rflags&flagIF == 0 {
		t.Fatal("expected interrupts to be enabled after leaving the outer section")
	}
}

func TestZeroGuard(t *testing.T) {
	restoreCalled := false
	defer func(orig func(uintptr)) { restoreFlagsFn = orig }(restoreFlagsFn)
	restoreFlagsFn = func(uintptr) { restoreCalled = true }

	var guard Guard
	guard.Leave()

	if restoreCalled {
		t.Fatal("expected Leave on a zero guard to leave the interrupt state untouched")
	}
}

func TestDeferredLeave(t *testing.T) {
	rflags := mockInterruptFlag(t)

	func() {
		defer func() { _ = recover() }()

		guard := Enter()
		defer guard.Leave()
		panic("boom")
	}()

	if *rflags&flagIF == 0 {
		t.Fatal("expected a deferred Leave to restore interrupts when the section panics")
	}
}
