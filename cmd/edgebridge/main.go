// Command edgebridge is the site integration daemon: it ingests edge
// inference events, resolves the site's operational phase, runs the
// phase's pipeline, and dispatches resulting events to external
// handlers, until signaled to exit (via SIGTERM).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
	"go.gazette.dev/core/task"

	"github.com/sitewatch/edgebridge/runtime"
)

func main() {
	var cfg runtime.Config
	var parser = flags.NewParser(&cfg, flags.Default)
	parser.LongDescription = `
edgebridge bridges edge inference producers with downstream monitoring
and action systems, running one phase-aware workflow loop per site.
`
	if _, err := parser.Parse(); err != nil {
		// go-flags already printed usage and the failed setting.
		os.Exit(1)
	}
	os.Exit(run(&cfg))
}

func run(cfg *runtime.Config) int {
	defer mbp.InitDiagnosticsAndRecover(cfg.Diagnostics)()
	mbp.InitLog(cfg.Log)

	log.WithFields(log.Fields{
		"backend":  cfg.Edge.Backend,
		"schedule": cfg.Pipeline.SchedulePath,
		"service":  cfg.Monitor.ServiceName,
	}).Info("edgebridge configuration")

	if cfg.Monitor.Summary {
		runtime.ConfigSummary(os.Stdout, cfg)
	}

	var tasks = task.NewGroup(context.Background())

	daemon, err := runtime.Build(tasks.Context(), cfg)
	if err != nil {
		log.WithField("err", err).Error("failed to build daemon")
		return runtime.ExitCode(err)
	}

	var runner = runtime.NewRunner(daemon)
	tasks.Queue("workflow loop", func() error {
		return runner.Run(tasks.Context())
	})

	// Install signal handler & cancel tasks on SIGTERM / SIGINT.
	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			tasks.Cancel()
			return nil
		case <-tasks.Context().Done():
			return nil
		}
	})
	tasks.GoRun()

	if err = tasks.Wait(); err != nil {
		log.WithField("err", err).Error("task failed")
		return runtime.ExitCode(err)
	}

	log.Info("goodbye")
	return 0
}
