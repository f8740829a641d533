package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"bottleneck/internal/config"
	"bottleneck/internal/metrics"
	"bottleneck/pkg/bottleneck"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(context.Background()); err != nil {
		newPrinter(os.Stderr, false).Error(err.Error())
		os.Exit(1)
	}
}

// app carries the global flags shared by every subcommand.
type app struct {
	out    io.Writer
	errOut io.Writer

	configPath   string
	storeKind    string
	dbPath       string
	artifactsDir string
	exportsDir   string
	metricsAddr  string
	logLevel     string
	asJSON       bool
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}
	root := &cobra.Command{
		Use:           "bottleneckctl",
		Short:         "Resolve bottlenecks by exploring them with chaotic attractors",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&a.storeKind, "store", "", "store backend: memory|sqlite|badger")
	pf.StringVar(&a.dbPath, "db-path", "", "sqlite database file or badger directory")
	pf.StringVar(&a.artifactsDir, "artifacts-dir", "", "directory for run artifacts")
	pf.StringVar(&a.exportsDir, "exports-dir", "exports", "directory for exported runs")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	pf.StringVar(&a.logLevel, "log-level", "", "debug|info|warn|error")
	pf.BoolVar(&a.asJSON, "json", false, "print JSON instead of text")

	root.AddCommand(
		newInitCmd(a),
		newResolveCmd(a),
		newHistoryCmd(a),
		newSolutionCmd(a),
		newCheckpointsCmd(a),
		newDomainsCmd(a),
		newDeployCmd(a),
		newRunsCmd(a),
		newExportCmd(a),
	)
	return root
}

// loadConfig reads the configuration and applies global flag overrides.
func (a *app) loadConfig() (config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return cfg, err
	}
	if a.storeKind != "" {
		cfg.Store.Kind = a.storeKind
	}
	if a.dbPath != "" {
		cfg.Store.Path = a.dbPath
	}
	if a.artifactsDir != "" {
		cfg.ArtifactsDir = a.artifactsDir
	}
	if a.metricsAddr != "" {
		cfg.MetricsAddr = a.metricsAddr
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	return cfg, cfg.Validate()
}

func (a *app) client(cfg config.Config) (*bottleneck.Client, error) {
	logger := cfg.Logger(a.errOut)
	engineCfg, err := cfg.EngineConfig(logger)
	if err != nil {
		return nil, err
	}
	return bottleneck.New(bottleneck.Options{
		StoreKind:    cfg.Store.Kind,
		DBPath:       cfg.Store.Path,
		ArtifactsDir: cfg.ArtifactsDir,
		ExportsDir:   a.exportsDir,
		Engine:       engineCfg,
		Logger:       logger,
	})
}

// withClient loads configuration, opens a client and, when configured, serves
// metrics for the lifetime of fn.
func (a *app) withClient(ctx context.Context, fn func(context.Context, config.Config, *bottleneck.Client) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	c, err := a.client(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = c.Close()
	}()

	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr, cfg.Logger(a.errOut))
		if err != nil {
			return err
		}
		defer stop()
	}
	return fn(ctx, cfg, c)
}

func serveMetrics(addr string, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
