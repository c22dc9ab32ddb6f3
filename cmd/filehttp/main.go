// Simple HTTP server answering GET requests on one URL with a static file.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	"golang.org/x/sync/errgroup"

	"github.com/simonpasquier/filehttp/pkg/config"
	"github.com/simonpasquier/filehttp/pkg/fileload"
	"github.com/simonpasquier/filehttp/pkg/queue"
	"github.com/simonpasquier/filehttp/pkg/server"
	"github.com/simonpasquier/filehttp/pkg/tftpmirror"
)

const (
	exitSetup = 1
	exitUsage = 64
)

var (
	help, showVersion bool
	configFile        string
	cfg               = config.Default()
)

func init() {
	flag.BoolVar(&help, "help", false, "Help message")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.StringVar(&configFile, "config.file", "", "Optional YAML configuration file")
	flag.StringVar(&cfg.Connection, "connection", cfg.Connection, "Connection policy after each response (keep-alive or close)")
	flag.IntVar(&cfg.MaxRequestSize, "max-request-size", cfg.MaxRequestSize, "Maximum size of a request buffer in bytes (0 means no limit)")
	flag.StringVar(&cfg.MetricsAddress, "web.metrics-address", "", "Address exposing Prometheus metrics (disabled if empty)")
	flag.StringVar(&cfg.TFTPAddress, "tftp.listen-address", "", "UDP address mirroring the file over TFTP (disabled if empty)")
	flag.StringVar(&cfg.LogLevel, "log.level", cfg.LogLevel, "Log level (debug, info, warn, error)")
}

func usage() {
	fmt.Fprintln(os.Stderr, "Parameters: [flags] <listen url> <file path>")
	flag.PrintDefaults()
}

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()
	if help {
		fmt.Fprintln(os.Stderr, "Simple HTTP server serving a static file on a single URL")
		usage()
		return 0
	}
	if showVersion {
		fmt.Println(version.Print("filehttp"))
		return 0
	}

	args := flag.Args()
	if len(args) < 2 {
		usage()
		return exitUsage
	}
	listenURL, path := args[0], args[1]

	if configFile != "" {
		fileCfg, err := config.LoadFile(configFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitSetup
		}
		// Explicit flags win over the configuration file.
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "connection":
				fileCfg.Connection = cfg.Connection
			case "max-request-size":
				fileCfg.MaxRequestSize = cfg.MaxRequestSize
			case "web.metrics-address":
				fileCfg.MetricsAddress = cfg.MetricsAddress
			case "tftp.listen-address":
				fileCfg.TFTPAddress = cfg.TFTPAddress
			case "log.level":
				fileCfg.LogLevel = cfg.LogLevel
			}
		})
		cfg = fileCfg
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		return exitUsage
	}
	policy, _ := server.ParseConnectionPolicy(cfg.Connection)

	logger := newLogger(cfg.LogLevel)
	level.Info(logger).Log("msg", "starting filehttp", "version", version.Info(), "build_context", version.BuildContext())

	data, err := fileload.Load(path)
	if err != nil {
		level.Error(logger).Log("msg", "failed to load file", "path", path, "err", err)
		return exitSetup
	}

	q := queue.New(log.With(logger, "component", "queue"))
	defer q.Close()
	level.Info(logger).Log("msg", "listening for requests", "url", listenURL, "file", path, "bytes", len(data))
	if err := q.AddURL(listenURL); err != nil {
		level.Error(logger).Log("msg", "failed to register url", "url", listenURL, "err", err)
		return int(queue.CodeOf(err))
	}
	defer func() {
		if err := q.RemoveURL(listenURL); err != nil {
			level.Debug(logger).Log("msg", "failed to remove url", "url", listenURL, "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		version.NewCollector("filehttp"),
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	srv := server.New(q, data, log.With(logger, "component", "server"), server.Options{
		Connection: policy,
		Pool:       server.NewBufferPool(cfg.MaxRequestSize),
		Metrics:    server.NewMetrics(reg),
	})

	g, ctx := errgroup.WithContext(context.Background())
	var loopErr error
	g.Go(func() error {
		loopErr = srv.Run()
		return loopErr
	})
	g.Go(func() error {
		term := make(chan os.Signal, 1)
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(term)
		select {
		case sig := <-term:
			level.Info(logger).Log("msg", "received signal, shutting down", "signal", sig)
		case <-ctx.Done():
		}
		return q.Close()
	})
	if cfg.MetricsAddress != "" {
		web := &http.Server{Addr: cfg.MetricsAddress, Handler: metricsHandler(reg)}
		g.Go(func() error {
			level.Info(logger).Log("msg", "serving metrics", "addr", cfg.MetricsAddress)
			if err := web.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return web.Shutdown(sctx)
		})
	}
	if cfg.TFTPAddress != "" {
		mirror := tftpmirror.New(data, log.With(logger, "component", "tftp"))
		g.Go(func() error {
			return mirror.ListenAndServe(cfg.TFTPAddress)
		})
		g.Go(func() error {
			<-ctx.Done()
			mirror.Shutdown()
			return nil
		})
	}

	// The first error decides: a failing side server stops the loop with
	// CodeOperationAborted, which must not turn into a clean exit.
	if err := g.Wait(); err != loopErr {
		level.Error(logger).Log("msg", "stopping", "err", err)
		return exitSetup
	}
	if code := queue.CodeOf(loopErr); code != queue.CodeOperationAborted {
		return int(code)
	}
	return 0
}

func newLogger(lvl string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	var opt level.Option
	switch lvl {
	case "debug":
		opt = level.AllowDebug()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		opt = level.AllowInfo()
	}
	logger = level.NewFilter(logger, opt)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}
