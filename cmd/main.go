package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tdeslauriers/portfolio/internal/config"
	"github.com/tdeslauriers/portfolio/internal/logs"
	"github.com/tdeslauriers/portfolio/internal/util"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "devel"

func main() {

	// bootstrap logger until the config is loaded
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})).With(slog.String(util.ServiceKey, util.ServicePortfolio)))

	// create a logger for the main package
	logger := slog.Default().
		With(slog.String(util.PackageKey, util.PackageMain)).
		With(slog.String(util.ComponentKey, util.ComponentMain))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// fang renders help, usage errors and --version
	if err := fang.Execute(ctx, newRootCmd(), fang.WithVersion(version)); err != nil {
		logger.Error(fmt.Sprintf("%s command failed", util.ServicePortfolio), "err", err.Error())
		stop()
		os.Exit(1)
	}
}

// options shared by every subcommand
type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {

	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           util.ServicePortfolio,
		Short:         "Photo portfolio image ingestion and gallery service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a yaml config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	root.AddCommand(
		newServeCmd(opts),
		newIngestCmd(opts),
		newSweepCmd(opts),
		newHashPasswordCmd(),
	)

	return root
}

// load reads the dotenv file, the config and installs the configured root logger.
// The returned buffer receives every record the root logger handles.
func (o *rootOptions) load() (*config.Config, *logs.Buffer, error) {

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("failed to load env file %s: %v", o.envFile, err)
		}
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return nil, nil, err
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}

	buf := logs.NewBuffer(cfg.Log.BufferSize)
	slog.SetDefault(slog.New(logs.NewHandler(handler, buf)).
		With(slog.String(util.ServiceKey, util.ServicePortfolio)))

	return cfg, buf, nil
}
