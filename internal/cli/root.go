package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"factoryline.ai/internal/sim/catalogs"
	"factoryline.ai/internal/sim/factory"
	"factoryline.ai/internal/sim/layout"
	"factoryline.ai/internal/sim/tuning"
)

type app struct {
	configFile string
	settings   Settings
}

// NewRootCommand creates the root command for the CLI
func NewRootCommand() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "factoryctl",
		Short: "factoryctl - inspect and run factory lines headless",
		Long: `factoryctl validates layouts, runs lines without a clock and reports
on recorded runs.

Examples:
  factoryctl validate --layout configs/layouts/default.hcl
  factoryctl run --ticks 7200 --drain-every 600 --record
  factoryctl where 10 4
  factoryctl report
  factoryctl report <run-id> --bucket 600`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := LoadSettings(a.configFile, cmd.Flags())
			if err != nil {
				return err
			}
			a.settings = s
			return nil
		},
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configFile, "config", "", "Path to factoryctl.yaml")
	rootCmd.PersistentFlags().String("configs-dir", "configs", "Directory holding tuning.yaml and the catalogs")
	rootCmd.PersistentFlags().String("layout", "", "Layout file (.yaml or .hcl); empty uses the built-in default line")
	rootCmd.PersistentFlags().String("index-db", filepath.Join("data", "index", "factoryline.sqlite"), "SQLite run index")

	rootCmd.AddCommand(a.newValidateCommand())
	rootCmd.AddCommand(a.newRunCommand())
	rootCmd.AddCommand(a.newWhereCommand())
	rootCmd.AddCommand(a.newReportCommand())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type line struct {
	spec    layout.Spec
	cats    *catalogs.Catalogs
	tune    tuning.Tuning
	factory *factory.Factory
}

func (a *app) loadLine() (*line, error) {
	tune, err := tuning.Load(filepath.Join(a.settings.ConfigsDir, "tuning.yaml"))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		tune = tuning.Defaults()
	}
	cats, err := catalogs.Load(a.settings.ConfigsDir)
	if err != nil {
		return nil, err
	}
	spec := layout.Default()
	if a.settings.Layout != "" {
		if spec, err = layout.Load(a.settings.Layout); err != nil {
			return nil, err
		}
	}
	f, err := layout.Build(spec, cats, tune)
	if err != nil {
		return nil, err
	}
	return &line{spec: spec, cats: cats, tune: tune, factory: f}, nil
}
