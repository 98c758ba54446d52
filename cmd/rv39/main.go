// rv39 is the command-line interface to a hosted RISC-V SV39 teaching kernel.
package main

import (
	"context"
	"os"

	"github.com/smoynes/rv39/internal/cli"
	"github.com/smoynes/rv39/internal/cli/cmd"
)

var commands = []cli.Command{
	cmd.Demo(),
	cmd.Run(),
}

func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
