package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/NetPo4ki/go-flowscope/broadcast"
	"github.com/NetPo4ki/go-flowscope/internal/config"
	"github.com/NetPo4ki/go-flowscope/internal/logging"
	"github.com/NetPo4ki/go-flowscope/observe/logobs"
	"github.com/NetPo4ki/go-flowscope/observe/prom"
	"github.com/NetPo4ki/go-flowscope/scope"
	"github.com/NetPo4ki/go-flowscope/sched"
)

// app is the state shared by every subcommand, built before a subcommand
// runs and torn down after it.
type app struct {
	v       *viper.Viper
	cfg     *config.Config
	log     *logging.Logger
	sched   *sched.Scheduler
	metrics *prom.Metrics
	logObs  *logobs.Observer
	server  *http.Server
	out     io.Writer
}

var flagKeys = map[string]string{
	"log-level":       "log.level",
	"log-format":      "log.format",
	"log-file":        "log.file",
	"metrics-addr":    "metrics.addr",
	"default-workers": "scheduler.default_workers",
	"io-workers":      "scheduler.io_workers",
	"grace":           "broadcast.grace_period",
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}
	var cfgFile string

	root := &cobra.Command{
		Use:   "scopedemo",
		Short: "Structured concurrency and broadcaster demos",
		Long: `scopedemo runs small programs built on flowscope scopes and
broadcasters. Each subcommand prints the order in which work starts, is
cancelled and settles.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.out = cmd.OutOrStdout()
			return a.setup(cfgFile)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (yaml or toml)")
	pf.String("log-level", logging.LevelInfo, "log level: DEBUG, INFO, WARN or ERROR")
	pf.String("log-format", logging.FormatText, "log format: text or json")
	pf.String("log-file", "", "append logs to this file instead of stderr")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	pf.Int("default-workers", 0, "size of the Default pool (0 = GOMAXPROCS)")
	pf.Int("io-workers", sched.DefaultIOWorkers, "size of the IO pool")
	pf.Duration("grace", 300*time.Millisecond, "grace period of WhileSubscribed streams")
	cobra.CheckErr(config.BindFlags(a.v, pf, flagKeys))

	root.AddCommand(
		newPoliciesCmd(a),
		newLifecycleCmd(a),
		newFlowsCmd(a),
		newZombieCmd(a),
		newFanoutCmd(a),
	)
	return root
}

func (a *app) setup(cfgFile string) error {
	cfg, err := config.Load(a.v, cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.log, err = logging.New(cfg.Logging())
	if err != nil {
		return err
	}
	a.sched = sched.New(cfg.SchedulerOptions()...)
	a.logObs = logobs.New(a.log.Logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	a.metrics, err = prom.New(reg, prom.WithScheduler(a.sched))
	if err != nil {
		return err
	}
	if cfg.Metrics.Addr != "" {
		return a.serveMetrics(reg, cfg.Metrics.Addr)
	}
	return nil
}

func (a *app) serveMetrics(reg *prometheus.Registry, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server stopped", "err", err)
		}
	}()
	a.log.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

func (a *app) teardown() error {
	var errs []error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		errs = append(errs, a.server.Shutdown(ctx))
	}
	if a.log != nil {
		errs = append(errs, a.log.Close())
	}
	return errors.Join(errs...)
}

// scopeOptions wires the shared scheduler, logger and observers into a
// demo scope.
func (a *app) scopeOptions(name string, extra ...scope.Option) []scope.Option {
	opts := []scope.Option{
		scope.WithName(name),
		scope.WithScheduler(a.sched),
		scope.WithLogger(a.log.Logger),
		scope.WithObserver(scope.MultiObserver(a.metrics, a.logObs)),
	}
	return append(opts, extra...)
}

func (a *app) broadcastOptions(name string, extra ...broadcast.Option) []broadcast.Option {
	opts := []broadcast.Option{
		broadcast.WithName(name),
		broadcast.WithLogger(a.log.Logger),
		broadcast.WithObserver(broadcast.MultiObserver(a.metrics, a.logObs)),
	}
	return append(opts, extra...)
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out, format, args...)
}

func (a *app) section(title string) {
	a.printf("== %s ==\n", title)
}
