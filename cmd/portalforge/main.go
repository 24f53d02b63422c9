// Command portalforge is a thin operational CLI over the portal stack in
// pkg/*: it is a user of the library, not part of it. It exists to
// register a handful of demo pure functions, call them, and inspect or
// drive the swarming scheduler.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/portalforge/pkg/logging"
	"github.com/cuemby/portalforge/pkg/portal"
	"github.com/cuemby/portalforge/pkg/swarm"
)

func main() {
	// Bootstrap must run before anything else: if this process is a
	// descendant worker subprocess (re-invoked by pkg/swarm with its role
	// carried in the environment), it rebuilds the portal and demo
	// function registrations via setupPortal, runs its assigned loop, and
	// never returns.
	swarm.Bootstrap(func(dir string) (*portal.Portal, error) {
		p, _, _, _, err := setupPortal(dir)
		return p, err
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "portalforge",
	Short: "portalforge: content-addressed pure-function execution",
	Long: `portalforge runs deterministic, side-effect-free user functions through a
layered portal stack: content-addressed storage, memoized execution, and a
background swarm of worker processes, all backed by a single directory on
disk.`,
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "./portalforge-data", "portal data directory")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs as JSON")
	rootCmd.PersistentFlags().String("config", "", "optional YAML bootstrap config file")

	cobra.OnInitialize(applyBootstrapConfig, initLogging)

	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(swarmCmd)
	rootCmd.AddCommand(portalCmd)
}

// bootstrapConfig is the optional YAML file named by --config. Any field
// left unset in the file falls back to the flag's own default; any flag
// the user actually passed on the command line always wins over the file.
type bootstrapConfig struct {
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// applyBootstrapConfig reads --config, if set, and pushes its values into
// the persistent flags that were not explicitly passed on the command
// line, so the YAML file behaves like a lower-priority set of defaults.
func applyBootstrapConfig() {
	path, _ := rootCmd.PersistentFlags().GetString("config")
	if path == "" {
		return
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "portalforge: failed to read --config %s: %v\n", path, err)
		return
	}

	var cfg bootstrapConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "portalforge: failed to parse --config %s: %v\n", path, err)
		return
	}

	flags := rootCmd.PersistentFlags()
	if cfg.DataDir != "" && !flags.Changed("data-dir") {
		_ = flags.Set("data-dir", cfg.DataDir)
	}
	if cfg.LogLevel != "" && !flags.Changed("log-level") {
		_ = flags.Set("log-level", cfg.LogLevel)
	}
	if cfg.LogJSON && !flags.Changed("log-json") {
		_ = flags.Set("log-json", "true")
	}
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	logging.Init(logging.Config{Level: level, JSON: jsonOut})
}
