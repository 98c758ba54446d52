package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/smoynes/rv39/internal/cli"
	"github.com/smoynes/rv39/internal/firmware"
	"github.com/smoynes/rv39/internal/guest"
	"github.com/smoynes/rv39/internal/log"
	"github.com/smoynes/rv39/internal/vm"
)

// demoPrograms names the guest programs demo can run, registering each under the name
// the running kernel's sys_exec can also look up -- so ExecShell's "busyloop" target
// resolves no matter which of these is the init program.
var demoPrograms = map[string][]byte{
	"hello":          guest.Hello,
	"pingpong":       guest.PingPong,
	"forkwait":       guest.ForkWait,
	"execshell":      guest.ExecShell,
	"privilegedkill": guest.PrivilegedKill,
	"busyloop":       guest.BusyLoop,
}

// Demo runs one of the built-in guest programs against a fresh kernel instance.
func Demo() cli.Command {
	return new(demo)
}

type demo struct {
	program string
	debug   bool
	quiet   bool
}

func (demo) Description() string {
	return "run a built-in guest program"
}

func (d demo) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `
demo [ -program name ] [ -debug | -quiet ]

Run one of the built-in guest programs (hello, pingpong, forkwait, execshell,
privilegedkill, busyloop) to completion, printing its console output.`)

	return err
}

func (d *demo) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)

	fs.StringVar(&d.program, "program", "hello", "guest program to run")
	fs.BoolVar(&d.debug, "debug", false, "enable debug logging")
	fs.BoolVar(&d.quiet, "quiet", false, "enable quiet output")

	return fs
}

func (d demo) Run(ctx context.Context, args []string, out io.Writer, logger *log.Logger) int {
	if d.quiet {
		log.LogLevel.Set(log.Error)
	}

	if d.debug {
		log.LogLevel.Set(log.Debug)
	}

	image, ok := demoPrograms[d.program]
	if !ok {
		logger.Error("unknown program", "program", d.program)
		return 2
	}

	opts := []vm.Option{vm.WithLogger(logger), vm.WithFirmware(firmware.NewPlain(out))}
	for name, img := range demoPrograms {
		opts = append(opts, vm.WithProgram(name, img))
	}

	k, err := vm.New(d.program, opts...)
	if err != nil {
		logger.Error("initializing kernel", "err", err)
		return 2
	}

	logger.Info("running", "program", d.program)
	k.Run()

	return 0
}
