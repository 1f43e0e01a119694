// Package main provides the dexsim command line.
// dexsim abstractly executes one Dalvik method and reports every path.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	"github.com/sarchlab/dexsim/emu"
	"github.com/sarchlab/dexsim/explore"
	"github.com/sarchlab/dexsim/loader"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dexsim",
		Short: "Abstract interpreter for Dalvik methods",
		Long: `dexsim executes a Dalvik method over partially known inputs. Unknown
branch conditions fork the execution, and every path is reported with
its outcome.`,
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.AddCommand(
		newRunCmd(stdout, stderr),
		newDisasmCmd(stdout),
		newConfigCmd(stdout),
	)
	return rootCmd
}

func newRunCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		configPath string
		tree       bool
		dead       bool
		verbosity  int
	)

	cmd := &cobra.Command{
		Use:   "run <method.json>",
		Short: "Explore every path of a method fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := explore.DefaultConfig()
			if configPath != "" {
				var err error
				if config, err = explore.LoadConfig(configPath); err != nil {
					return err
				}
			}

			m, err := loader.Load(args[0])
			if err != nil {
				return err
			}
			code, err := m.Decode()
			if err != nil {
				return fmt.Errorf("%s: %w", m.Signature(), err)
			}
			initial, err := m.InitialState()
			if err != nil {
				return fmt.Errorf("%s: %w", m.Signature(), err)
			}

			logger := newLogger(stderr, verbosity)
			explorer := explore.NewExplorer(
				emu.NewEmulator(code),
				explore.WithConfig(config),
				explore.WithLogger(logger.WithName(m.Name)),
			)
			result, err := explorer.Explore(cmd.Context(), initial)
			if result != nil {
				report(stdout, m, result, tree, dead)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to explore configuration JSON file")
	cmd.Flags().BoolVar(&tree, "tree", false, "Print the fork tree")
	cmd.Flags().BoolVar(&dead, "dead", false, "Print unreachable addresses")
	cmd.Flags().CountVarP(&verbosity, "verbose", "v", "Log forks and merges (-v) or every step (-vv)")
	return cmd
}

func newLogger(w io.Writer, verbosity int) logr.Logger {
	stdr.SetVerbosity(verbosity)
	return stdr.New(log.New(w, "", log.LstdFlags))
}

func report(w io.Writer, m *loader.Method, result *explore.Result, tree, dead bool) {
	fmt.Fprintf(w, "%s\n", m.Signature())
	for _, p := range result.Paths {
		fmt.Fprintf(w, "  path %d: %s\n", p.ID, p)
	}

	s := result.Stats
	fmt.Fprintf(w, "\nPaths: %d (merged %d, abandoned %d)\n", s.Paths, s.Merged, s.Abandoned)
	fmt.Fprintf(w, "Steps: %d\n", s.Steps)
	fmt.Fprintf(w, "Forks: %d\n", s.Forks)
	fmt.Fprintf(w, "State cache: %d hits, %d misses, %d evictions\n", s.Cache.Hits, s.Cache.Misses, s.Cache.Evictions)
	if !result.Complete {
		fmt.Fprintf(w, "Incomplete: some paths were abandoned\n")
	}

	if dead {
		fmt.Fprintf(w, "Unreachable: %v\n", result.Unreachable())
	}
	if tree {
		fmt.Fprintf(w, "\n%s", result.Tree().String())
	}
}

func newDisasmCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <method.json>",
		Short: "Print the decoded instructions of a method fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loader.Load(args[0])
			if err != nil {
				return err
			}
			code, err := m.Decode()
			if err != nil {
				return fmt.Errorf("%s: %w", m.Signature(), err)
			}

			fmt.Fprintf(stdout, "%s registers=%d\n", m.Signature(), m.Registers)
			for _, inst := range code {
				fmt.Fprintf(stdout, "  %04x: %s\n", inst.Address, inst)
			}
			return nil
		},
	}
}

func newConfigCmd(stdout io.Writer) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print or write the default explore configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := explore.DefaultConfig()
			if out != "" {
				return config.SaveConfig(out)
			}

			fmt.Fprintf(stdout, "max_steps: %d\n", config.MaxSteps)
			fmt.Fprintf(stdout, "max_paths: %d\n", config.MaxPaths)
			fmt.Fprintf(stdout, "max_visits: %d\n", config.MaxVisits)
			fmt.Fprintf(stdout, "merge_policy: %s\n", config.MergePolicy)
			fmt.Fprintf(stdout, "widen_after: %d\n", config.WidenAfter)
			fmt.Fprintf(stdout, "state_cache: %d sets x %d ways\n", config.StateCacheSets, config.StateCacheWays)
			fmt.Fprintf(stdout, "record_states: %t\n", config.RecordStates)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the configuration as JSON to this file")
	return cmd
}
