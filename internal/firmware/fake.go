package firmware

// Fake is an in-memory Firmware for tests: console input is a byte queue fed by Feed,
// console output accumulates in Output, and the clock is a manually advanced tick count
// rather than the wall clock. Grounded on the teacher's own device test doubles in
// internal/vm/devices_test.go, which likewise drive a device through its public
// interface with hand-fed registers instead of real hardware.
type Fake struct {
	in     []byte
	Output []byte

	clock    uint64
	timerDue uint64
	armed    bool

	ShutdownCalled bool
	ShutdownFailed bool
}

// NewFake returns an empty Fake firmware.
func NewFake() *Fake {
	return &Fake{}
}

// Feed appends bytes to the console input queue, consumed in order by ConsoleGetChar.
func (f *Fake) Feed(b ...byte) {
	f.in = append(f.in, b...)
}

// ConsolePutChar appends b to Output.
func (f *Fake) ConsolePutChar(b byte) {
	f.Output = append(f.Output, b)
}

// ConsoleGetChar pops the oldest fed byte, if any.
func (f *Fake) ConsoleGetChar() (byte, bool) {
	if len(f.in) == 0 {
		return 0, false
	}

	b := f.in[0]
	f.in = f.in[1:]

	return b, true
}

// SetTimer arms the fake timer to fire ticks after the current clock.
func (f *Fake) SetTimer(ticks uint64) {
	f.timerDue = f.clock + ticks
	f.armed = true
}

// ReadTimer returns the current fake clock value.
func (f *Fake) ReadTimer() uint64 {
	return f.clock
}

// Advance moves the fake clock forward by n ticks, reporting whether an armed timer came
// due during the advance.
func (f *Fake) Advance(n uint64) (due bool) {
	f.clock += n

	if f.armed && f.clock >= f.timerDue {
		f.armed = false
		return true
	}

	return false
}

// ShutDown records that the machine asked to halt, for assertions in tests.
func (f *Fake) ShutDown(failure bool) {
	f.ShutdownCalled = true
	f.ShutdownFailed = failure
}
