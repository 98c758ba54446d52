package firmware

import (
	"fmt"
	"io"
	"time"
)

// Plain is a Firmware that writes console output straight to an io.Writer and never
// produces console input, for use when stdin is not a terminal -- piped input, CI, a
// demo run redirected to a log file -- and Hosted's raw-mode requirement can't be met.
type Plain struct {
	out   io.Writer
	start time.Time

	timerDeadline time.Time
	armed         bool
}

// NewPlain builds a Plain firmware writing to out.
func NewPlain(out io.Writer) *Plain {
	return &Plain{out: out, start: time.Now()}
}

// ConsolePutChar writes b to the underlying writer.
func (p *Plain) ConsolePutChar(b byte) {
	fmt.Fprintf(p.out, "%c", b)
}

// ConsoleGetChar never has input available.
func (p *Plain) ConsoleGetChar() (byte, bool) {
	return 0, false
}

// SetTimer arms a deadline ticks milliseconds from now.
func (p *Plain) SetTimer(ticks uint64) {
	p.timerDeadline = time.Now().Add(time.Duration(ticks) * time.Millisecond)
	p.armed = true
}

// ReadTimer returns milliseconds elapsed since the firmware was created.
func (p *Plain) ReadTimer() uint64 {
	return uint64(time.Since(p.start).Milliseconds())
}

// ShutDown is a no-op; there is no terminal state to restore.
func (p *Plain) ShutDown(failure bool) {}
