package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/portalforge/pkg/swarm"
	"github.com/cuemby/portalforge/pkg/sysproc"
)

var swarmCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Launch or inspect the background worker pool",
}

func init() {
	launchCmd := &cobra.Command{
		Use:   "launch",
		Short: "Open a portal as an ancestor and keep a worker pool alive until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("data-dir")
			maxWorkers, _ := cmd.Flags().GetInt("max-workers")
			minWorkers, _ := cmd.Flags().GetInt("min-workers")
			exactWorkers, _ := cmd.Flags().GetInt("exact-workers")

			p, _, _, _, err := setupPortal(dir)
			if err != nil {
				return err
			}
			defer p.Close()

			// --exact-workers replaces the min/max bounds outright; passing
			// it alongside explicit bounds is a configuration conflict the
			// library rejects, so only one shape is ever built here.
			var cfg swarm.Config
			if exactWorkers > 0 {
				cfg = swarm.Config{ExactWorkers: exactWorkers}
			} else {
				cfg = swarm.Config{MinWorkers: minWorkers, MaxWorkers: maxWorkers}
			}
			ancestor, err := swarm.Open(p, cfg)
			if err != nil {
				return err
			}
			ancestor.InstallShutdownHook(10 * time.Second)
			defer ancestor.Shutdown(10 * time.Second)

			fmt.Printf("swarm launched over %s (target workers: %d); press ctrl-c to stop\n", dir, swarm.TargetWorkerCount(cfg))
			select {}
		},
	}
	launchCmd.Flags().Int("max-workers", 8, "maximum background workers")
	launchCmd.Flags().Int("min-workers", 0, "minimum background workers")
	launchCmd.Flags().Int("exact-workers", 0, "exact background worker count (overrides min/max)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "List every registered descendant process and whether it's still alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("data-dir")

			p, _, _, _, err := setupPortal(dir)
			if err != nil {
				return err
			}
			defer p.Close()

			registry := swarm.OpenWorkerRegistry(p.NodeLocalStore())
			workers, err := registry.All()
			if err != nil {
				return err
			}
			if len(workers) == 0 {
				fmt.Println("no registered workers")
				return nil
			}
			for _, w := range workers {
				alive := w.IsAlive(sysproc.Default)
				fmt.Printf("pid=%d role=%s alive=%v registered_at=%s\n", w.PID, w.Role, alive, w.RegisteredAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	swarmCmd.AddCommand(launchCmd, statusCmd)
}
