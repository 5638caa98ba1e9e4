// raspeval runs native RASP attack probes from the command line.
package main

import (
	"os"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-raspeval/cmd/raspeval/cli"
)

func main() {
	c := cli.CLI{Out: os.Stdout, In: os.Stdin}
	kctx := kong.Parse(&c, cli.KongOptions()...)
	kctx.FatalIfErrorf(kctx.Run(&c))
}
