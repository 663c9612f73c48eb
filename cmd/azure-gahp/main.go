// Command azure-gahp reads commands on stdin, executes them against Azure and
// reports results on stdout using the GAHP line protocol.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/cqnkjsx/htcondor/azure"
	"github.com/cqnkjsx/htcondor/cloud"
	"github.com/cqnkjsx/htcondor/gahp"
	"github.com/cqnkjsx/htcondor/lifecycle"
	"github.com/cqnkjsx/htcondor/settings"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "azure-gahp: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	var (
		configPath string
		logFile    string
		logLevel   string
		workers    int
		debug      bool
		verbose    bool
	)
	flags := pflag.NewFlagSet("azure-gahp", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "", "path to TOML configuration file")
	flags.StringVar(&logFile, "log-file", "", "log file, truncated on start (default "+defaultLogFile+")")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.IntVar(&workers, "workers", 0, "number of commands executed concurrently")
	flags.BoolVar(&debug, "debug", false, "also log to stderr")
	flags.BoolVar(&verbose, "verbose", false, "same as --debug")
	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if logFile != "" {
		cfg.Log.File = logFile
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if workers > 0 {
		cfg.Dispatcher.Workers = workers
	}
	if debug || verbose {
		cfg.Log.Debug = true
	}

	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Info().Str("version", version).Str("commit", commit).Msg("starting")

	shutdown, err := gahp.InitTracer(cfg.Telemetry.ServiceName, version)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdown(context.Background())

	executor := gahp.NewExecutor(clientFactory(cfg.Azure), lifecycle.Options{
		Poll: lifecycle.PollConfig{
			Interval: cfg.Poll.Interval.Duration,
			Timeout:  cfg.Poll.Timeout.Duration,
		},
	}, logger)
	dispatcher := gahp.NewDispatcher(executor, gahp.Config{
		Workers:    cfg.Dispatcher.Workers,
		QueueDepth: cfg.Dispatcher.QueueDepth,
	}, gahp.NewMetrics(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := gahp.NewServer(dispatcher, stdout, logger)
	serveErr := srv.Serve(ctx, stdin)

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := dispatcher.Close(closeCtx); err != nil {
		logger.Warn().Err(err).Msg("commands still running at exit")
	}
	logger.Info().Interface("metrics", dispatcher.Metrics().Snapshot()).Msg("stopped")
	return serveErr
}

func clientFactory(cfg AzureConfig) gahp.ClientFactory {
	if cfg.SimulatorEndpoint == "" {
		return azure.NewClients
	}
	return func(_ *settings.Settings, subscriptionID string) (cloud.Clients, error) {
		return azure.NewSimulatorClients(subscriptionID, cfg.SimulatorEndpoint)
	}
}

// newLogger writes JSON lines to the log file and, in debug mode, a
// console rendering to stderr as well.
func newLogger(cfg LogConfig) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if cfg.Debug && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}

	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("open log file: %w", err)
	}

	var w io.Writer = f
	if cfg.Debug {
		w = zerolog.MultiLevelWriter(f, zerolog.ConsoleWriter{Out: os.Stderr})
	}
	logger := zerolog.New(w).
		Level(level).
		With().Timestamp().Str("component", "azure-gahp").Logger()
	return logger, func() { f.Close() }, nil
}
