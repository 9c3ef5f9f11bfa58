// Package sync provides the critical section primitive used by the memory
// manager. The kernel runs on a single core, so disabling interrupts is
// sufficient to make a sequence of bitmap or page table updates atomic with
// respect to interrupt handlers.
package sync

import "github.com/sasurau4/mikan-os/kernel/cpu"

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	saveFlagsAndDisableFn = cpu.SaveFlagsAndDisableInterrupts
	restoreFlagsFn        = cpu.RestoreFlags
)

// Guard tracks an entered critical section. The zero value is a guard that
// does not hold a critical section; calling Leave on it has no effect.
type Guard struct {
	flags uintptr
	held  bool
}

// Enter disables interrupts and returns a Guard that restores the previous
// interrupt state when Leave is called. Critical sections may be nested; an
// inner Leave keeps interrupts disabled if the outer section disabled them.
//
// Callers are expected to pair Enter with a deferred Leave:
//
//	guard := sync.Enter()
//	defer guard.Leave()
func Enter() Guard {
	return Guard{flags: saveFlagsAndDisableFn(), held: true}
}

// Leave restores the interrupt state that was active when the guard was
// created. Each guard returned by Enter must be left exactly once.
func (g Guard) Leave() {
	if !g.held {
		return
	}

	restoreFlagsFn(g.flags)
}
