package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/propdesk/events"
	"github.com/rustyeddy/propdesk/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the position monitor",
	Long: `Run the position monitor until interrupted.

Every tick the monitor fetches prices for open positions that carry a
stop-loss or take-profit and closes the ones that hit. Alongside it run the
equity snapshotter, the daily-lock rollover and the /metrics endpoint.

Example:
  propdesk monitor -c propdesk.yaml`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	bus := events.NewBus()
	a, err := newApp(bus)
	if err != nil {
		return err
	}
	defer a.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitor.NewMetrics(reg)

	mc := a.cfg.Monitor
	mon := monitor.New(monitor.Config{
		Interval:         mc.Interval,
		FetchTimeout:     mc.FetchTimeout,
		FailureThreshold: mc.FailureThreshold,
		Cooldown:         mc.Cooldown,
		DemoAccountID:    mc.DemoAccountID,
	}, a.store, a.feed, a.engine,
		monitor.WithClock(a.clock),
		monitor.WithLogger(a.log),
		monitor.WithPublisher(bus),
		monitor.WithMetrics(metrics),
	)
	snapshots := monitor.NewSnapshotter(a.store, a.feed, a.engine, mc.FetchTimeout, a.log, metrics)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if a.stream != nil {
		g.Go(func() error { return a.stream(ctx) })
	}
	g.Go(func() error { return mon.Run(ctx) })
	g.Go(func() error {
		return monitor.NewScheduler("equity snapshot", mc.SnapshotInterval, snapshots, a.log).Start(ctx)
	})
	g.Go(func() error {
		return monitor.NewScheduler("day rollover", mc.RolloverInterval, monitor.Rollover(a.engine, a.log, metrics), a.log).Start(ctx)
	})
	g.Go(func() error {
		stream, unsubscribe := bus.Subscribe("*", 256)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-stream:
				a.log.Debug("event", "channel", ev.Channel, "name", ev.Name, "id", ev.ID)
			}
		}
	})

	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			a.log.Info("metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		})
	}

	err = g.Wait()
	a.log.Info("monitor stopped", "dropped_events", bus.Dropped())
	return err
}
