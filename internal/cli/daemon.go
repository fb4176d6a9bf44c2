package cli

import (
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dl-alexandre/cloudsync/internal/scheduler"
)

var daemonTick int

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync scheduler",
	Long: `Daemon runs the auto-sync scheduler in the foreground until it
receives SIGINT or SIGTERM. Each tick it syncs every provider whose
interval has elapsed. A panicking pass is contained and the scheduler
backs off before the next attempt.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}

		tick := app.cfg.SchedulerTick
		if daemonTick > 0 {
			tick = daemonTick
		}
		sched := scheduler.New(app.orchestrator, logger, scheduler.Options{
			Tick: time.Duration(tick) * time.Second,
		})
		sched.Start()
		app.out.Log("Scheduler started, tick %ds. Press Ctrl+C to stop.", tick)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		signal.Stop(sigCh)
		app.out.Log("Received %s, shutting down.", sig)

		// Shutdown order matters: stop scheduling new passes first, then
		// close each provider, then release engine state.
		sched.Stop()
		app.Close()
		runtime.GC()

		return app.out.WriteSuccess("daemon", map[string]interface{}{
			"stopped": true,
			"signal":  sig.String(),
		})
	},
}

func init() {
	daemonCmd.Flags().IntVar(&daemonTick, "tick", 0, "Scheduler tick in seconds (overrides configuration)")
	rootCmd.AddCommand(daemonCmd)
}
