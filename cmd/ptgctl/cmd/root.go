package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ptgrt/ptgrt/pkg/rtconfig"
	"github.com/ptgrt/ptgrt/pkg/rtlog"
)

var (
	// Global flags
	verbose    bool
	configPath string
	logPath    string
	dotFile    string

	// Topology/binding flags — names and defaults match spec.md §6
	// exactly; only the long spellings are renamed away from the
	// original engine's dague_bind vocabulary.
	flagCores        int
	flagHyperthreads int
	flagVPMap        string
	flagBind         string
	flagCommBind     string
	flagScheduler    string

	log rtlog.Logger
	cfg *rtconfig.Config
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "ptgctl",
	Short: "Host a parameterized-task-graph runtime process",
	Long: `ptgctl starts a ptgrt runtime context: it parses topology and binding
options, materializes virtual processes from the vp-map, spawns workers,
and wires up the scheduler, dependency stores, and the remote-dep
subsystem.

It does not itself build task graphs — the graph body (task classes,
their closures, and their dataflow edges) is supplied by an embedding
Go program through the internal/runtime and internal/taskclass APIs.
ptgctl is the process shell around that: flags, config file, logging,
lifecycle, and an optional read-only view onto the task-class catalog.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := rtlog.LevelInfo
		if verbose {
			level = rtlog.LevelDebug
		}
		if logPath != "" {
			l, err := rtlog.NewFileLogger(level, logPath)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			log = l
		} else {
			log = rtlog.NewDefaultLogger(level, os.Stdout)
		}

		loaded, err := rtconfig.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		bindFlagOverrides(cmd)
		return nil
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose (debug-level) logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a ptgrt config file (default: search ./ptgrt.yaml, ./configs, /etc/ptgrt)")
	rootCmd.PersistentFlags().StringVar(&logPath, "log-file", "", "Write logs to this file instead of stdout")

	rootCmd.PersistentFlags().IntVarP(&flagCores, "cores", "c", 0, "Number of cores to use (0 = all available)")
	rootCmd.PersistentFlags().IntVarP(&flagHyperthreads, "ht", "H", 0, "Hyperthreads per physical core (0 = 1, no multiplier)")
	rootCmd.PersistentFlags().StringVarP(&flagVPMap, "vpmap", "V", "", "Vp-map grammar: flat | hwloc | rr:vps:threads:cores | file:path")
	rootCmd.PersistentFlags().StringVarP(&flagBind, "bind", "b", "", "Worker binding grammar: none | <core> | <comma-separated core list>")
	rootCmd.PersistentFlags().StringVarP(&flagCommBind, "comm-bind", "C", "", "Core the dedicated remote-dep comm thread pins to")
	rootCmd.PersistentFlags().StringVar(&flagScheduler, "scheduler", "", "Ready-list scheduler selector (default: lfq)")

	rootCmd.PersistentFlags().StringVar(&dotFile, "dot", "", "Emit a .dot dependency graph to this file (unimplemented: the .dot graph emitter is an external collaborator, see SPEC_FULL §1)")
	rootCmd.PersistentFlags().Lookup("dot").NoOptDefVal = "-"
}

// bindFlagOverrides applies every explicitly-set CLI flag onto cfg,
// taking precedence over the config file per SPEC_FULL §7.2.
func bindFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("cores") {
		cfg.Runtime.Cores = flagCores
	}
	if flags.Changed("ht") {
		cfg.Runtime.Hyperthreads = flagHyperthreads
	}
	if flags.Changed("vpmap") {
		cfg.Runtime.VPMap = flagVPMap
	}
	if flags.Changed("bind") {
		cfg.Runtime.Bind = flagBind
	}
	if flags.Changed("comm-bind") {
		cfg.Runtime.CommBind = flagCommBind
	}
	if flags.Changed("scheduler") {
		cfg.Runtime.Scheduler = flagScheduler
	}
	if flags.Changed("verbose") && verbose {
		cfg.Log.Level = "debug"
	}
}

// GetLogger returns the configured logger, for subcommands.
func GetLogger() rtlog.Logger {
	return log
}

// GetConfig returns the loaded, flag-overridden configuration.
func GetConfig() *rtconfig.Config {
	return cfg
}

// BinName returns the base name of the current executable.
func BinName() string {
	return filepath.Base(os.Args[0])
}

// DotRequested reports whether --dot was passed, and the target path
// ("-" when passed with no value).
func DotRequested() (string, bool) {
	return dotFile, rootCmd.PersistentFlags().Changed("dot")
}
