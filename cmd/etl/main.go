package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"staretl/internal/config"
	"staretl/internal/logging"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "staretl/internal/storage/all"
)

// main is the entry point for the ETL binary. It loads the job config,
// optionally initializes a metrics backend, and executes one run.
func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		datadogAddrFlg    string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/pipelines/sparkify.json", "pipeline config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use: pushgateway, datadog, none (overrides env METRICS_BACKEND)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&datadogAddrFlg, "datadog-addr", "", "DogStatsD address (overrides env DD_DOGSTATSD_ADDR)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable debug logs")

	flag.Parse()

	p, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}

	if !reportIssues(config.ValidatePipeline(p)) {
		fatalf("configuration is invalid: %s", cfgPath)
	}
	if validate {
		fmt.Fprintf(os.Stderr, "configuration is valid: %s\n", cfgPath)
		os.Exit(0)
	}

	logCfg := logging.Config{
		Level:       p.Logging.Level,
		Encoding:    p.Logging.Encoding,
		Development: p.Logging.Development,
	}
	if *verbose {
		logCfg.Level = "debug"
	}
	log, err := logging.New(logCfg)
	if err != nil {
		fatalf("logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	flush := setupMetrics(metricsOptions{
		Backend:        metricsBackendFlg,
		PushgatewayURL: pushGatewayURLFlg,
		DatadogAddr:    datadogAddrFlg,
		Job:            p.Job,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	log.Debug("pipeline: config",
		zap.String("input", p.Input.Kind),
		zap.String("parser", p.Parser.Kind),
		zap.String("output", p.Output.Kind),
		zap.String("root", p.Output.Root))

	err = run(ctx, p, log)
	flush()
	if err != nil {
		log.Error("pipeline: failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("pipeline: completed", zap.Duration("elapsed", time.Since(start).Truncate(time.Millisecond)))
}

// reportIssues prints issues to stderr and reports whether none of them is an
// error.
func reportIssues(issues []config.Issue) bool {
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	return !config.HasErrors(issues)
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
