package cli

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/frobware/go-raspeval"
	"github.com/frobware/go-raspeval/catalog"
	"github.com/frobware/go-raspeval/lock"
)

// RunCmd runs catalog cases under the evaluation lock and records
// each attempt.
type RunCmd struct {
	OutputFlags
	IDs     []string `arg:"" optional:"" name:"id" help:"Requirement ids to run; all cases when omitted."`
	PID     int32    `name:"pid" help:"Process traced by case 3; defaults to the parent process."`
	Library string   `name:"library" help:"Library patched by case 55; defaults to probes.defaults.library."`
	Symbol  string   `name:"symbol" help:"Symbol patched by case 55; defaults to probes.defaults.symbol."`
	Address Address  `name:"address" help:"Address written by case 13; defaults to probes.defaults.write_address."`
}

// Run executes the run command.
func (c *RunCmd) Run(cli *CLI) (err error) {
	cases, err := catalog.Select(c.IDs)
	if err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := cli.NewCLIRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, rt.Close())
	}()

	params, err := c.params(rt)
	if err != nil {
		return err
	}

	st, err := rt.Store(ctx)
	if err != nil {
		return err
	}

	var result RunResult
	runner := catalog.NewRunner(rt.Harness, st, params, rt.Logger)
	err = lock.Run(ctx, rt.Dirs.Lock(), func(ctx context.Context, scope lock.RunScope) error {
		runID, results, err := runner.Run(ctx, scope, cases)
		result = RunResult{RunID: runID, Results: results}
		return err
	})
	if err != nil {
		return err
	}

	output, err := FormatRun(result, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}

func (c *RunCmd) params(rt *CLIRuntime) (catalog.Params, error) {
	params := catalog.DefaultParams()
	defaults := rt.Config.Probes.Defaults

	if defaults.Library != "" {
		params.Library = defaults.Library
	}
	if defaults.Symbol != "" {
		params.Symbol = defaults.Symbol
	}
	addr, err := ParseAddress(defaults.WriteAddress)
	if err != nil {
		return params, fmt.Errorf("probes.defaults.write_address: %w", err)
	}
	params.Address = addr.Value

	if c.PID != 0 {
		params.PID = raspeval.PID(c.PID)
	}
	if c.Library != "" {
		params.Library = c.Library
	}
	if c.Symbol != "" {
		params.Symbol = c.Symbol
	}
	if c.Address.Set {
		params.Address = c.Address.Value
	}
	return params, nil
}

// CatalogCmd lists the catalog cases.
type CatalogCmd struct {
	OutputFlags
}

// Run executes the catalog command.
func (c *CatalogCmd) Run(cli *CLI) error {
	var reqs []raspeval.Requirement
	for _, cs := range catalog.Cases() {
		reqs = append(reqs, cs.Requirement)
	}
	output, err := FormatRequirements(reqs, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}
