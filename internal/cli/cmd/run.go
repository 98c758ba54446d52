package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/smoynes/rv39/internal/cli"
	"github.com/smoynes/rv39/internal/firmware"
	"github.com/smoynes/rv39/internal/log"
	"github.com/smoynes/rv39/internal/vm"
)

// Run returns the run command, which executes a named guest program against a real
// console: raw-mode terminal I/O when standard input is a TTY, a plain passthrough
// otherwise.
func Run() cli.Command {
	return new(runner)
}

type runner struct{}

func (runner) Description() string {
	return "run a guest program against the console"
}

func (runner) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `run <program>

Run the named guest program (hello, pingpong, forkwait, execshell,
privilegedkill, busyloop), connecting it to the real console.`)

	return err
}

func (runner) FlagSet() *cli.FlagSet {
	return flag.NewFlagSet("run", flag.ExitOnError)
}

func (runner) Run(ctx context.Context, args []string, out io.Writer, logger *log.Logger) int {
	if len(args) != 1 {
		logger.Error("run: expected exactly one program name")
		return 2
	}

	image, ok := demoPrograms[args[0]]
	if !ok {
		logger.Error("unknown program", "program", args[0])
		return 2
	}

	fw, err := firmware.NewHosted(os.Stdin, os.Stdout, os.Stderr)
	if err != nil && !errors.Is(err, firmware.ErrNoTTY) {
		logger.Error("opening console", "err", err)
		return 2
	}

	var kfw vm.Firmware
	if fw != nil {
		defer fw.ShutDown(false)
		kfw = fw
	} else {
		kfw = firmware.NewPlain(out)
	}

	opts := []vm.Option{vm.WithLogger(logger), vm.WithFirmware(kfw)}
	for name, img := range demoPrograms {
		opts = append(opts, vm.WithProgram(name, img))
	}

	k, err := vm.New(args[0], opts...)
	if err != nil {
		logger.Error("initializing kernel", "err", err)
		return 2
	}

	k.Run()

	return 0
}
