package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/frobware/go-raspeval"
)

// ThreatCmd groups threat event commands.
type ThreatCmd struct {
	Publish ThreatPublishCmd `cmd:"" help:"Record a threat event reported by the protection layer."`
	List    ThreatListCmd    `cmd:"" help:"List recorded threat events."`
}

// ThreatPublishCmd records one threat event.
type ThreatPublishCmd struct {
	Event string `arg:"" name:"json" help:"Threat event as JSON, or '-' to read it from stdin."`
}

// Run executes the threat publish command.
func (c *ThreatPublishCmd) Run(cli *CLI) (err error) {
	data, err := cli.readEvent(c.Event)
	if err != nil {
		return err
	}
	threat, err := raspeval.ParseThreat(data)
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

	st, err := rt.Store(ctx)
	if err != nil {
		return err
	}
	id, err := st.SaveThreat(ctx, threat, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save threat: %w", err)
	}
	rt.Logger.Info("threat recorded", "id", id, "name", threat.Name, "severity", threat.Severity)
	return cli.PrintOutf("%d\n", id)
}

func (c *CLI) readEvent(arg string) ([]byte, error) {
	if arg != "-" {
		return []byte(arg), nil
	}
	in := c.In
	if in == nil {
		in = os.Stdin
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("read threat from stdin: %w", err)
	}
	return data, nil
}

// ThreatListCmd lists recorded threats.
type ThreatListCmd struct {
	OutputFlags
}

// Run executes the threat list command.
func (c *ThreatListCmd) Run(cli *CLI) (err error) {
	ctx := context.Background()
	rt, err := cli.NewCLIRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, rt.Close())
	}()

	st, err := rt.Store(ctx)
	if err != nil {
		return err
	}
	threats, err := st.ListThreats(ctx)
	if err != nil {
		return err
	}
	output, err := FormatThreats(threats, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}

// ReportCmd correlates recorded attacks with threats.
type ReportCmd struct {
	OutputFlags
}

// Run executes the report command.
func (c *ReportCmd) Run(cli *CLI) (err error) {
	ctx := context.Background()
	rt, err := cli.NewCLIRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, rt.Close())
	}()

	st, err := rt.Store(ctx)
	if err != nil {
		return err
	}
	correlations, err := st.Correlate(ctx)
	if err != nil {
		return fmt.Errorf("correlate: %w", err)
	}
	gaps, err := st.GapCount(ctx)
	if err != nil {
		return fmt.Errorf("gap count: %w", err)
	}
	output, err := FormatReport(Report{Correlations: correlations, Gaps: gaps}, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}
