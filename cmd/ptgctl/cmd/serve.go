package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ptgrt/ptgrt/internal/artifacts"
	"github.com/ptgrt/ptgrt/internal/runtime"
	"github.com/ptgrt/ptgrt/pkg/rttelemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Initialize the runtime context and block until stopped",
	Long: `serve parses topology and binding options, builds the virtual
processes and their workers, wires the scheduler, the dependency
stores, and the remote-dep subsystem, then blocks until interrupted.

It starts with zero task classes registered and an idle ready list on
every VP: an embedding program (or a future translator) registers
classes and submits startup instances through the library API before
any work happens. ptgctl on its own is useful for exercising topology,
binding, and the remote-dep peer protocol end to end.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := GetLogger()
	opts, err := buildOptions()
	if err != nil {
		return err
	}

	if path, requested := DotRequested(); requested {
		logger.Warn(".dot graph emission requested (%s) but the .dot emitter is an external collaborator not implemented by this runtime", path)
	}

	shutdownTelemetry, err := rttelemetry.Init(context.Background())
	if err != nil {
		logger.Warn("telemetry init failed, tracing disabled: %v", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	ctx, err := runtime.Init(opts)
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("ptgrt runtime up; rank=%d, press Ctrl+C to stop", opts.RemoteRank)
	<-sigCh

	logger.Info("shutting down...")
	ctx.Fini()
	return nil
}

// buildOptions translates the loaded/flag-overridden config into
// runtime.Options.
func buildOptions() (runtime.Options, error) {
	c := GetConfig()
	opts := runtime.DefaultOptions()
	opts.Log = GetLogger()

	opts.Cores = c.Runtime.Cores
	opts.Hyperthreads = c.Runtime.Hyperthreads
	if c.Runtime.VPMap != "" {
		opts.VPMap = c.Runtime.VPMap
	}
	if c.Runtime.Bind != "" {
		opts.Bind = c.Runtime.Bind
	}
	opts.CommBind = c.Runtime.CommBind
	if c.Runtime.Scheduler != "" {
		opts.Scheduler = c.Runtime.Scheduler
	}

	opts.RemoteRank = c.RemoteDep.Rank
	if c.RemoteDep.Window > 0 {
		opts.RemoteWindow = c.RemoteDep.Window
	}
	if c.RemoteDep.ListenAddr != "" {
		opts.RemoteListen = c.RemoteDep.ListenAddr
	}
	opts.DedicatedComm = c.RemoteDep.DedicatedComm

	if len(c.RemoteDep.Peers) > 0 {
		peers := make(map[int32]string, len(c.RemoteDep.Peers))
		for rankStr, addr := range c.RemoteDep.Peers {
			rank, err := strconv.ParseInt(rankStr, 10, 32)
			if err != nil {
				return opts, fmt.Errorf("remotedep.peers: invalid rank key %q: %w", rankStr, err)
			}
			peers[int32(rank)] = addr
		}
		opts.PeerAddrs = peers
	}

	opts.Artifacts = &artifacts.Config{
		Type:      c.Artifacts.Type,
		LocalPath: c.Artifacts.LocalPath,
		Bucket:    c.Artifacts.Bucket,
		Region:    c.Artifacts.Region,
		SecretID:  c.Artifacts.SecretID,
		SecretKey: c.Artifacts.SecretKey,
		Domain:    c.Artifacts.Domain,
		Scheme:    c.Artifacts.Scheme,
	}

	return opts, nil
}
