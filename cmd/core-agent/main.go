package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/noriteio/norite/pkg/api"
	"github.com/noriteio/norite/pkg/connector"
	"github.com/noriteio/norite/pkg/events"
	"github.com/noriteio/norite/pkg/health"
	"github.com/noriteio/norite/pkg/log"
	"github.com/noriteio/norite/pkg/metrics"
	"github.com/noriteio/norite/pkg/ops"
	"github.com/noriteio/norite/pkg/reconciler"
	"github.com/noriteio/norite/pkg/registry"
	"github.com/noriteio/norite/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "core-agent",
	Short: "Norite core agent - block-storage control plane",
	Long: `The Norite core agent is the control plane of a distributed
block-storage cluster. It accepts user intent over a typed RPC surface,
persists it through a raft-replicated spec store, and continuously
reconciles the data-plane fleet toward it.`,
	Version:      Version,
	SilenceUsage: true,
	RunE:         runAgent,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Norite core-agent version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	f := rootCmd.Flags()
	f.StringVar(&flags.ConfigFile, "config", "", "Optional YAML config file; flags take precedence")

	f.StringVar(&flags.NodeID, "node-id", "core-0", "Unique id of this control-plane instance")
	f.StringVar(&flags.StoreDir, "store-dir", "/var/lib/norite", "Directory for the spec store and raft logs; empty runs an in-memory store")
	f.StringVar(&flags.RaftBind, "raft-bind", "127.0.0.1:10170", "Raft transport bind address")
	f.BoolVar(&flags.Bootstrap, "bootstrap", false, "Bootstrap a new single-instance cluster")
	f.DurationVar(&flags.StoreTimeout, "store-timeout", 10*time.Second, "Default timeout for spec store writes")
	f.DurationVar(&flags.LeaseTTL, "lease-ttl", 0, "Cluster leader lease TTL; zero uses the LAN-tuned default")

	f.StringVar(&flags.GrpcListen, "grpc-listen", "0.0.0.0:10124", "Control-plane gRPC listen address")
	f.StringVar(&flags.MetricsListen, "metrics-listen", "0.0.0.0:10125", "Metrics/healthz HTTP listen address")
	f.StringSliceVar(&flags.AllowedHosts, "allowed-hosts", nil, "Hosts allowed to call mutating RPCs; empty allows all")

	f.DurationVar(&flags.CachePeriod, "cache-period", ops.DefaultCachePeriod, "How often node state is polled into the state cache")
	f.DurationVar(&flags.ReconcilePeriod, "reconcile-period", reconciler.DefaultPeriod, "Reconcile period while work is pending")
	f.DurationVar(&flags.ReconcileIdlePeriod, "reconcile-idle-period", reconciler.DefaultIdlePeriod, "Reconcile period once the fleet has converged")
	f.DurationVar(&flags.NodeDeadline, "node-deadline", registry.DefaultNodeDeadline, "Registration watchdog deadline before a node is Offline")
	f.IntVar(&flags.MaxRebuilds, "max-rebuilds", 4, "Maximum concurrent child replacements per reconcile cycle")

	f.DurationVar(&flags.ConnectTimeout, "connect-timeout", 5*time.Second, "Data-plane dial timeout")
	f.DurationVar(&flags.RequestTimeout, "request-timeout", 10*time.Second, "Data-plane request timeout")

	f.StringVar(&flags.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.BoolVar(&flags.LogJSON, "log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	if err := log.Init(flags.LogLevel, flags.LogJSON, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	if err := mergeConfigFile(cmd); err != nil {
		return err
	}

	logger := log.WithComponent("core-agent")
	logger.Info().
		Str("version", Version).
		Str("node_id", flags.NodeID).
		Msg("starting")

	kv, err := openStore()
	if err != nil {
		// Store unreachable at startup is one of the mandated non-zero
		// exits; cobra's Execute path takes care of the exit code.
		return fmt.Errorf("open spec store: %w", err)
	}
	defer kv.Close()

	broker := events.NewBroker()

	reg := registry.New(kv, flags.NodeDeadline, broker)

	loadCtx, cancel := context.WithTimeout(context.Background(), flags.StoreTimeout)
	err = reg.LoadFromStore(loadCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("rehydrate spec caches: %w", err)
	}

	conn := connector.New(connector.Config{
		DialTimeout:    flags.ConnectTimeout,
		RequestTimeout: flags.RequestTimeout,
	})
	defer conn.Close()

	exec := ops.New(reg, kv, conn)
	exec.Broker = broker

	poller := ops.NewStatePoller(exec, flags.CachePeriod)
	poller.Start()
	defer poller.Stop()

	rec := reconciler.New(reconciler.Config{
		Period:                flags.ReconcilePeriod,
		IdlePeriod:            flags.ReconcileIdlePeriod,
		MaxConcurrentRebuilds: flags.MaxRebuilds,
	}, exec, kv)
	rec.Start()
	defer rec.Stop()

	checker := health.NewChecker()
	checker.Register("store", func() (bool, string) {
		if !kv.IsLeader() {
			return false, "not the cluster leader"
		}
		return true, ""
	})

	collectorSources := []metrics.Source{reg}
	var leader metrics.LeaderReporter = kv
	if rs, ok := kv.(*store.RaftStore); ok {
		collectorSources = append(collectorSources, rs)
	}
	collector := metrics.NewCollector(15*time.Second, leader, collectorSources...)
	collector.Start()
	defer collector.Stop()

	dispatcher := api.New(api.Config{AllowedHosts: flags.AllowedHosts}, exec, checker)
	server := api.NewServer(dispatcher, nil)
	if err := server.Start(flags.GrpcListen); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}
	defer server.Stop()

	if err := serveMetrics(checker); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")
	return nil
}

func openStore() (store.KeyValueStore, error) {
	if flags.StoreDir == "" {
		logger := log.WithComponent("core-agent")
		logger.Warn().Msg("running with in-memory spec store; specs will not survive a restart")
		return store.NewInMemory(), nil
	}
	rs, err := store.New(store.Config{
		NodeID:       flags.NodeID,
		BindAddr:     flags.RaftBind,
		DataDir:      flags.StoreDir,
		Bootstrap:    flags.Bootstrap,
		LeaseTTL:     flags.LeaseTTL,
		StoreTimeout: flags.StoreTimeout,
	})
	if err != nil {
		return nil, err
	}
	return rs, nil
}

func serveMetrics(checker *health.Checker) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Evaluate()
		if !result.Ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		for name, status := range result.Components {
			fmt.Fprintf(w, "%s: %s\n", name, status)
		}
	})

	srv := &http.Server{Addr: flags.MetricsListen, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	// Give the bind a moment to fail synchronously; a later failure is
	// logged but not fatal.
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		go func() {
			if err := <-errCh; err != nil && err != http.ErrServerClosed {
				logger := log.WithComponent("metrics")
				logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
		return nil
	}
}
