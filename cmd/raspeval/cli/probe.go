package cli

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/multierr"

	"github.com/frobware/go-raspeval"
)

// TraceCmd attempts a process trace attach.
type TraceCmd struct {
	OutputFlags
	PID int32 `name:"pid" help:"Process to attach to; defaults to the parent process."`
}

// Run executes the trace command.
func (c *TraceCmd) Run(cli *CLI) (err error) {
	ctx := context.Background()
	rt, err := cli.NewCLIRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, rt.Close())
	}()

	pid := raspeval.PID(c.PID)
	if pid == 0 {
		pid = raspeval.PID(os.Getppid())
	}

	v := rt.Harness.Trace(ctx, pid)
	return cli.printVerdict(VerdictResult{
		Technique: "trace",
		Target:    fmt.Sprintf("pid %d", pid),
		Verdict:   v,
		Code:      v.Code(),
	}, &c.OutputFlags)
}

// PatchCmd attempts to make a linkage-table slot writable.
type PatchCmd struct {
	OutputFlags
	Library string `name:"library" short:"l" help:"Library name, or 'executable' for the running image; defaults to probes.defaults.library."`
	Symbol  string `name:"symbol" short:"s" help:"Imported symbol; defaults to probes.defaults.symbol."`
}

// Run executes the patch command.
func (c *PatchCmd) Run(cli *CLI) (err error) {
	ctx := context.Background()
	rt, err := cli.NewCLIRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, rt.Close())
	}()

	library := c.Library
	if library == "" {
		library = rt.Config.Probes.Defaults.Library
	}
	symbol := c.Symbol
	if symbol == "" {
		symbol = rt.Config.Probes.Defaults.Symbol
	}

	v := rt.Harness.Patch(ctx, library, symbol)
	return cli.printVerdict(VerdictResult{
		Technique: "patch",
		Target:    library + "!" + symbol,
		Verdict:   v,
		Code:      v.Code(),
	}, &c.OutputFlags)
}

// WriteCmd attempts a fault-isolated single-byte write.
type WriteCmd struct {
	OutputFlags
	Address Address `name:"address" short:"a" help:"Address to write through (decimal or 0x hex); defaults to probes.defaults.write_address."`
}

// Run executes the write command.
func (c *WriteCmd) Run(cli *CLI) (err error) {
	ctx := context.Background()
	rt, err := cli.NewCLIRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, rt.Close())
	}()

	addr := c.Address
	if !addr.Set {
		addr, err = ParseAddress(rt.Config.Probes.Defaults.WriteAddress)
		if err != nil {
			return fmt.Errorf("probes.defaults.write_address: %w", err)
		}
	}

	v := rt.Harness.Write(ctx, addr.Value)
	return cli.printVerdict(VerdictResult{
		Technique: "write",
		Target:    addr.String(),
		Verdict:   v,
		Code:      v.Code(),
	}, &c.OutputFlags)
}

// DetectCmd scans the process for instrumentation tooling.
type DetectCmd struct {
	OutputFlags
}

// Run executes the detect command.
func (c *DetectCmd) Run(cli *CLI) (err error) {
	ctx := context.Background()
	rt, err := cli.NewCLIRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, rt.Close())
	}()

	output, err := FormatDetect(DetectResult{Detected: rt.Harness.Detect(ctx)}, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}

func (c *CLI) printVerdict(r VerdictResult, flags *OutputFlags) error {
	output, err := FormatVerdict(r, flags)
	if err != nil {
		return err
	}
	return c.PrintOut(output)
}
