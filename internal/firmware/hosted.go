package firmware

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// ErrNoTTY is returned if standard input is not a terminal. Asynchronous console input
// is not available in that case.
var ErrNoTTY = errors.New("firmware: not a TTY")

// Hosted is a Firmware backed by the real terminal, adapted from the teacher's
// internal/tty.Console: raw-mode standard input feeds a buffered key channel, standard
// output is written to directly, and the timer and clock are backed by the wall clock
// rather than a simulated one.
type Hosted struct {
	in    *os.File
	out   *term.Terminal
	fd    int
	state *term.State

	keyCh chan byte
	start time.Time

	timerDeadline time.Time
	cancel        context.CancelFunc
}

// NewHosted builds a Hosted firmware from the given streams. If in is not a terminal,
// ErrNoTTY is returned, since asynchronous input depends on raw mode.
func NewHosted(in, out, errOut *os.File) (*Hosted, error) {
	fd := int(in.Fd())

	if !term.IsTerminal(fd) {
		return nil, ErrNoTTY
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoTTY, err)
	}

	h := &Hosted{
		fd:    fd,
		in:    in,
		out:   term.NewTerminal(out, ""),
		state: saved,
		keyCh: make(chan byte, 80),
		start: time.Now(),
	}

	if err := h.setTerminalParams(1, 0); err != nil {
		_ = term.Restore(fd, saved)
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	go h.readTerminal(ctx)

	return h, nil
}

func (h *Hosted) setTerminalParams(vmin, vtime byte) error {
	_ = syscall.SetNonblock(h.fd, true)

	termIO, err := unix.IoctlGetTermios(h.fd, getTermiosIoctl)
	if err != nil {
		return err
	}

	termIO.Cc[unix.VMIN] = vmin
	termIO.Cc[unix.VTIME] = vtime

	if err := unix.IoctlSetTermios(h.fd, setTermiosIoctl, termIO); err != nil {
		return err
	}

	_ = h.in.SetReadDeadline(time.Time{})

	return nil
}

func (h *Hosted) readTerminal(ctx context.Context) {
	buf := bufio.NewReader(h.in)

	_ = syscall.SetNonblock(h.fd, false)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b, err := buf.ReadByte()
		if err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case h.keyCh <- b:
		}
	}
}

// ConsolePutChar writes one byte directly to the terminal.
func (h *Hosted) ConsolePutChar(b byte) {
	fmt.Fprintf(h.out, "%c", b)
}

// ConsoleGetChar pops one byte off the buffered key channel, non-blocking.
func (h *Hosted) ConsoleGetChar() (byte, bool) {
	select {
	case b := <-h.keyCh:
		return b, true
	default:
		return 0, false
	}
}

// SetTimer arms a deadline ticks milliseconds from now.
func (h *Hosted) SetTimer(ticks uint64) {
	h.timerDeadline = time.Now().Add(time.Duration(ticks) * time.Millisecond)
}

// ReadTimer returns milliseconds elapsed since the firmware was created.
func (h *Hosted) ReadTimer() uint64 {
	return uint64(time.Since(h.start).Milliseconds())
}

// ShutDown restores the terminal to its initial state and stops the reader goroutine.
func (h *Hosted) ShutDown(failure bool) {
	h.cancel()
	_ = h.in.SetReadDeadline(time.Now())
	_ = term.Restore(h.fd, h.state)

	if failure {
		fmt.Fprintln(os.Stderr, "firmware: shut down after failure")
	}
}
