// Package firmware provides the narrow external boundary a kernel core consumes:
// console byte I/O, timer programming, and shutdown. internal/vm depends only on the
// Firmware interface; this package supplies three concrete implementations, one for a
// real terminal, one plain writer for when there is no terminal, and one for tests, the way the teacher's internal/tty.Console adapts a
// real TTY for its simulated keyboard and display devices while internal/vm's own test
// doubles stand in for them in package tests.
package firmware

// Firmware is the machine-facing boundary a kernel core is built against: console
// input/output, a settable timer, and shutdown. Named and shaped after spec.md §6's
// console_put_char/console_get_char/set_timer/shut_down calls.
type Firmware interface {
	// ConsolePutChar writes one byte to the console.
	ConsolePutChar(b byte)

	// ConsoleGetChar reads one byte from the console, non-blocking. ok is false if no
	// input is available.
	ConsoleGetChar() (b byte, ok bool)

	// SetTimer arms the timer to fire after the given tick count.
	SetTimer(ticks uint64)

	// ReadTimer returns the current time, in milliseconds.
	ReadTimer() uint64

	// ShutDown halts the machine. failure indicates an abnormal halt.
	ShutDown(failure bool)
}
