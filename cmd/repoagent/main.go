// Command repoagent runs the repository agent loop.
//
// Usage:
//
//	repoagent serve --config repoagent.yaml
//	repoagent run --dir ./project --task "Add a README"
//	repoagent models anthropic
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/martinemde/repoagent/config"
	"github.com/martinemde/repoagent/observability"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP API."`
	Run     RunCmd     `cmd:"" help:"Run one task against a local directory."`
	Models  ModelsCmd  `cmd:"" help:"List known models and how each is routed."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error). Overrides the config file."`
	LogFormat string `help:"Log format (text or json). Overrides the config file."`
}

// load reads the configuration and applies command-line overrides.
func (c *CLI) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, nil, err
	}
	if c.LogLevel != "" {
		cfg.Logging.Level = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.Logging.Format = c.LogFormat
	}
	logger := observability.NewLogger(os.Stderr, cfg.Logging.Format, cfg.Logging.Level)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("repoagent version %s\n", version)
	return nil
}

func main() {
	_ = config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("repoagent"),
		kong.Description("Autonomous agent loop over a staged repository."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
