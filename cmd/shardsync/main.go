package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/shardsyncio/go-shardsync/common/types"
	"github.com/shardsyncio/go-shardsync/metrics"
	"github.com/shardsyncio/go-shardsync/store"
	"github.com/shardsyncio/go-shardsync/syncer"
	"github.com/shardsyncio/go-shardsync/topology"
	"github.com/shardsyncio/go-shardsync/transport"
)

const (
	lockFile = "shardsync.lock"

	windowSizeKey = "window-size"
	windowSizeEnv = "SHARDSYNC_WINDOW_SIZE"
)

var (
	servers        string
	outputDir      string
	versionsToKeep int
	backlogVersion int64
	windowSize     int
	pollInterval   time.Duration
	metricsPort    int
	logLevel       string
)

func init() {
	cmd.PersistentFlags().StringVar(&servers, "servers", "",
		"comma-separated list of distribution server endpoints (http or a single gs:// uri)")
	cmd.PersistentFlags().StringVar(&outputDir, "output-dir", "", "directory to save downloaded versions")
	cmd.PersistentFlags().IntVar(&versionsToKeep, "versions-to-keep", -1,
		"number of versions to keep locally, -1 keeps everything")
	cmd.PersistentFlags().Int64Var(&backlogVersion, "backlog-version", -1,
		"historical version to start sweeping from, -1 disables the sweep")
	cmd.PersistentFlags().IntVar(&windowSize, windowSizeKey, defaultWindowSize(),
		"number of latest versions to always try to prefetch")
	cmd.PersistentFlags().DurationVar(&pollInterval, "poll-interval", 5*time.Second,
		"how long to sleep between server polls")
	cmd.PersistentFlags().IntVar(&metricsPort, "metrics-port", 0,
		"if non-zero, serve prometheus metrics on this port")
	cmd.PersistentFlags().StringVar(&logLevel, "level", "info", "logging level")
}

// defaultWindowSize reads the env-configurable window size once at startup.
func defaultWindowSize() int {
	v := viper.New()
	v.SetDefault(windowSizeKey, 2)
	_ = v.BindEnv(windowSizeKey, windowSizeEnv)
	return v.GetInt(windowSizeKey)
}

var cmd = &cobra.Command{
	Use:   "shardsync",
	Short: "keep a local directory synchronized with remote checkpoint versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		lvl, err := zap.ParseAtomicLevel(strings.ToLower(logLevel))
		if err != nil {
			return err
		}
		logCfg := zap.NewProductionConfig()
		logCfg.Level = lvl
		logger, err := logCfg.Build()
		if err != nil {
			return err
		}
		defer logger.Sync()

		if len(servers) == 0 {
			return fmt.Errorf("no servers specified")
		}
		if len(outputDir) == 0 {
			return fmt.Errorf("output directory not specified")
		}

		info, err := topology.FromEnv()
		if err != nil {
			return fmt.Errorf("derive topology: %w", err)
		}
		logger.Info("starting shardsync",
			zap.String("output_dir", outputDir),
			zap.Int("window_size", windowSize),
			zap.Int("versions_to_keep", versionsToKeep),
			zap.Int64("backlog_version", backlogVersion),
			zap.Int("rank", info.Rank),
			zap.Int("node", info.NodeIndex),
			zap.Int("nodes", info.NumNodes),
		)

		if err := os.MkdirAll(outputDir, 0o700); err != nil {
			return fmt.Errorf("create output dir %v: %w", outputDir, err)
		}
		fl := flock.New(filepath.Join(outputDir, lockFile))
		locked, err := fl.TryLock()
		if err != nil {
			return fmt.Errorf("flock %s: %w", fl.Path(), err)
		} else if !locked {
			return fmt.Errorf("only one shardsync instance may write %s (locking file %s)", outputDir, fl.Path())
		}
		defer fl.Unlock()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		remote, err := newTransport(ctx, strings.Split(servers, ","), logger.Named("transport"))
		if err != nil {
			return err
		}
		if metricsPort != 0 {
			metrics.StartCollectingMetrics(logger.Named("metrics"), metricsPort)
		}

		s := syncer.New(
			remote,
			store.New(outputDir),
			syncer.WithLogger(logger.Named("syncer")),
			syncer.WithConfig(syncer.Config{
				PollInterval:   pollInterval,
				WindowSize:     windowSize,
				VersionsToKeep: versionsToKeep,
				BacklogVersion: types.Version(backlogVersion),
			}),
		)
		s.Start(ctx)
		defer s.Close()
		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	},
}

func newTransport(ctx context.Context, endpoints []string, logger *zap.Logger) (syncer.Transport, error) {
	gs := 0
	for _, endpoint := range endpoints {
		if strings.HasPrefix(endpoint, "gs://") {
			gs++
		}
	}
	switch {
	case gs == 0:
		return transport.NewHTTPClient(endpoints, transport.WithLogger(logger))
	case gs == 1 && len(endpoints) == 1:
		return transport.NewGSClient(ctx, endpoints[0], transport.WithGSLogger(logger))
	default:
		return nil, fmt.Errorf("gs endpoints cannot be mixed or repeated: %v", endpoints)
	}
}

func main() {
	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
