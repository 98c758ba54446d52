package vm

// trampoline.go stands in for the assembly entry/return stub (__alltraps/__restore)
// that a real kernel maps at the fixed top-of-space virtual page in every address
// space. A hosted simulation has no instruction stream to protect across an address
// space switch, so entry and return collapse to the two operations that matter for
// fidelity: reading the trap context a handler will act on, and writing it back before
// resuming the task. Every address space still carries a mapped trampoline page (see
// AddressSpace.mapTrampoline) so the "identically mapped in every address space"
// invariant is still a real, checkable property of the simulated page tables, even
// though no code ever executes out of it.

// trapEntry loads the current task's trap context, the simulated analog of __alltraps
// saving the user register file into the trap-context page.
func (k *Kernel) trapEntry(t *Task) *TrapContext {
	return LoadTrapContext(k.mem, t.trapCtxPPN)
}

// trapReturn writes a (possibly modified) trap context back to its frame, the simulated
// analog of __restore reloading the user register file before sret.
func (k *Kernel) trapReturn(t *Task, tc *TrapContext) {
	tc.StoreTo(k.mem, t.trapCtxPPN)
}
