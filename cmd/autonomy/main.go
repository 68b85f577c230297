// Package main is the entry point of the QuadExplore autonomy runtime.
// It loads the configuration, builds the runtime through the platform and
// algorithm factories and runs it until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"QuadExplore/internal/algorithm"
	"QuadExplore/internal/core"
	"QuadExplore/internal/model"
	"QuadExplore/internal/parser"
	"QuadExplore/internal/platform"
	"QuadExplore/internal/util"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "autonomy",
		Short:         "Quadcopter exploration runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "configs/config.yml", "path to configuration file")
	root.AddCommand(runCmd(), validateCmd(), kindsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Arm the platform and run the autonomy threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := model.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			log := util.SetupLogger(cfg.Log.Level, cfg.Log.Format)
			log.Info("using config", "path", cfgPath)

			rt, err := core.NewRuntime(cfg, core.WithLogger(log))
			if err != nil {
				return fmt.Errorf("create runtime: %w", err)
			}

			// wait for Ctrl+C or SIGTERM
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := rt.Start(ctx); err != nil {
				rt.Stop()
				return fmt.Errorf("start runtime: %w", err)
			}
			<-ctx.Done()

			log.Info("shutting down")
			rt.Stop()
			log.Info("stopped cleanly", "health", rt.Health().Overall)
			return nil
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the factory kinds it names",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := model.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if err := checkKinds(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (platform %s, algorithm %s)\n", cfgPath, cfg.Platform, cfg.Algorithm)
			return nil
		},
	}
}

// checkKinds builds and releases the platform and algorithm once so a bad
// kind or option block is reported without starting anything.
func checkKinds(cfg *model.Config) error {
	p, err := platform.New(cfg.Platform, cfg.PlatformOptions)
	if err != nil {
		return err
	}
	defer p.Close()
	if _, err := algorithm.New(cfg.Algorithm, cfg.AlgorithmOptions, p); err != nil {
		return err
	}
	if cfg.Teleop.Enabled && cfg.Teleop.Source == "serial" {
		if _, err := parser.Get(cfg.Teleop.WireFormat); err != nil {
			return err
		}
	}
	return nil
}

func kindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List registered platform and algorithm kinds",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "platforms:")
			for _, k := range platform.Kinds() {
				fmt.Fprintln(out, "  "+k)
			}
			fmt.Fprintln(out, "algorithms:")
			for _, k := range algorithm.Kinds() {
				fmt.Fprintln(out, "  "+k)
			}
			fmt.Fprintln(out, "wire formats:")
			for _, f := range parser.Formats() {
				fmt.Fprintln(out, "  "+f)
			}
		},
	}
}

