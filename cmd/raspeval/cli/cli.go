package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-raspeval/config"
	"github.com/frobware/go-raspeval/logging"
)

// CLI is the root command structure for raspeval.
type CLI struct {
	Out io.Writer `kong:"-"`
	In  io.Reader `kong:"-"`

	openStore StoreOpener `kong:"-"`

	Config     string `name:"config" help:"Config file path." default:"${default_config_path}"`
	Log        string `name:"log" help:"Log spec (e.g., 'info,pltpatch=debug')." env:"RASPEVAL_LOG"`
	RuntimeDir string `name:"runtime-dir" help:"Runtime directory; overrides runtime.base from the config file."`
	DB         DBPath `name:"db" help:"SQLite database path; defaults to {runtime-dir}/db/raspeval.db."`

	Trace   TraceCmd   `cmd:"" help:"Attach to a process with ptrace and detach again."`
	Patch   PatchCmd   `cmd:"" help:"Make a symbol's linkage-table page writable and restore it."`
	Write   WriteCmd   `cmd:"" help:"Write one byte through an address under a fault trampoline."`
	Detect  DetectCmd  `cmd:"" help:"Scan this process for instrumentation tooling."`
	Run     RunCmd     `cmd:"" help:"Run catalog cases and record them."`
	Threat  ThreatCmd  `cmd:"" help:"Threat event operations."`
	Report  ReportCmd  `cmd:"" help:"Correlate recorded attacks with reported threats."`
	Catalog CatalogCmd `cmd:"" help:"List the catalog of attack cases."`
}

// KongOptions returns the Kong configuration options for the CLI.
func KongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("raspeval"),
		kong.Description("Native attack probes for evaluating runtime application self-protection."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.TypeMapper(reflect.TypeOf(Address{}), addressMapper()),
		kong.TypeMapper(reflect.TypeOf(DBPath{}), dbPathMapper()),
		kong.Vars{
			"default_config_path": config.DefaultConfigPath,
		},
	}
}

// LoadConfig loads the configuration from the config file path.
func (c *CLI) LoadConfig() (config.Config, error) {
	return config.Load(c.Config)
}

// RuntimeDirs returns the runtime layout, honouring --runtime-dir.
func (c *CLI) RuntimeDirs(cfg config.Config) (config.RuntimeDirs, error) {
	if c.RuntimeDir != "" {
		return config.NewRuntimeDirs(c.RuntimeDir)
	}
	return cfg.RuntimeDirs()
}

// Logger creates a logger for CLI commands. Commands log at warn
// unless --log or the environment says otherwise.
func (c *CLI) Logger(cfg config.Config) (*slog.Logger, error) {
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	spec := c.Log
	if spec == "" {
		spec = "warn"
	}

	return logging.New(logging.Options{
		CLISpec:    spec,
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     os.Stderr,
	})
}

func (c *CLI) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

// WriteOut writes b to the command output. A short write without an
// error is reported as io.ErrShortWrite.
func (c *CLI) WriteOut(b []byte) error {
	n, err := c.out().Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}

// PrintOut writes s to the command output.
func (c *CLI) PrintOut(s string) error {
	return c.WriteOut([]byte(s))
}

// PrintOutf formats to the command output.
func (c *CLI) PrintOutf(format string, args ...any) error {
	return c.PrintOut(fmt.Sprintf(format, args...))
}
