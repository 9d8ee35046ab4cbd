package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// agentFlags is the full flag surface of the agent, also the shape of
// the optional YAML config file. Explicit flags always win over file
// values.
type agentFlags struct {
	ConfigFile string `yaml:"-"`

	NodeID       string        `yaml:"node_id"`
	StoreDir     string        `yaml:"store_dir"`
	RaftBind     string        `yaml:"raft_bind"`
	Bootstrap    bool          `yaml:"bootstrap"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
	LeaseTTL     time.Duration `yaml:"lease_ttl"`

	GrpcListen    string   `yaml:"grpc_listen"`
	MetricsListen string   `yaml:"metrics_listen"`
	AllowedHosts  []string `yaml:"allowed_hosts"`

	CachePeriod         time.Duration `yaml:"cache_period"`
	ReconcilePeriod     time.Duration `yaml:"reconcile_period"`
	ReconcileIdlePeriod time.Duration `yaml:"reconcile_idle_period"`
	NodeDeadline        time.Duration `yaml:"node_deadline"`
	MaxRebuilds         int           `yaml:"max_rebuilds"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

var flags agentFlags

// flagNames maps struct-level config to the flag that overrides it, so
// the merge only fills values the operator did not set explicitly.
var flagNames = map[string]func(file *agentFlags){
	"node-id":               func(f *agentFlags) { flags.NodeID = f.NodeID },
	"store-dir":             func(f *agentFlags) { flags.StoreDir = f.StoreDir },
	"raft-bind":             func(f *agentFlags) { flags.RaftBind = f.RaftBind },
	"bootstrap":             func(f *agentFlags) { flags.Bootstrap = f.Bootstrap },
	"store-timeout":         func(f *agentFlags) { flags.StoreTimeout = f.StoreTimeout },
	"lease-ttl":             func(f *agentFlags) { flags.LeaseTTL = f.LeaseTTL },
	"grpc-listen":           func(f *agentFlags) { flags.GrpcListen = f.GrpcListen },
	"metrics-listen":        func(f *agentFlags) { flags.MetricsListen = f.MetricsListen },
	"allowed-hosts":         func(f *agentFlags) { flags.AllowedHosts = f.AllowedHosts },
	"cache-period":          func(f *agentFlags) { flags.CachePeriod = f.CachePeriod },
	"reconcile-period":      func(f *agentFlags) { flags.ReconcilePeriod = f.ReconcilePeriod },
	"reconcile-idle-period": func(f *agentFlags) { flags.ReconcileIdlePeriod = f.ReconcileIdlePeriod },
	"node-deadline":         func(f *agentFlags) { flags.NodeDeadline = f.NodeDeadline },
	"max-rebuilds":          func(f *agentFlags) { flags.MaxRebuilds = f.MaxRebuilds },
	"connect-timeout":       func(f *agentFlags) { flags.ConnectTimeout = f.ConnectTimeout },
	"request-timeout":       func(f *agentFlags) { flags.RequestTimeout = f.RequestTimeout },
	"log-level":             func(f *agentFlags) { flags.LogLevel = f.LogLevel },
	"log-json":              func(f *agentFlags) { flags.LogJSON = f.LogJSON },
}

// mergeConfigFile folds the optional YAML config under the explicit
// flags: any flag the operator did not change on the command line takes
// the file's value.
func mergeConfigFile(cmd *cobra.Command) error {
	if flags.ConfigFile == "" {
		return nil
	}
	data, err := os.ReadFile(flags.ConfigFile)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	// Defaults in the file struct mirror the flag defaults so an absent
	// key changes nothing.
	fromFile := flags
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	for name, apply := range flagNames {
		if !cmd.Flags().Changed(name) {
			apply(&fromFile)
		}
	}
	return nil
}

