package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trial-monitor/monitor"

	"github.com/sirupsen/logrus"
)

func main() {
	var configPath string
	var targetsPath string
	var dataDir string
	var apiBase string
	var workers int
	var itemTimeout time.Duration
	var groupTimeout time.Duration
	var fetchTimeout time.Duration
	var watchlist bool
	var runLogPath string
	var debug bool
	var once bool
	var pollInterval time.Duration

	flag.StringVar(&configPath, "config", "", "YAML config file path.")
	flag.StringVar(&targetsPath, "targets", "trials.yaml", "Targets config file (targets of monitored trials).")
	flag.StringVar(&dataDir, "data-dir", "data", "Root directory for snapshots, history and target exports.")
	flag.StringVar(&apiBase, "api-base", monitor.DefaultAPIBaseURL, "Studies API base URL.")
	flag.IntVar(&workers, "workers", 4, "Max concurrent trials per target.")
	flag.DurationVar(&itemTimeout, "item-timeout", 30*time.Second, "Per-trial processing timeout (0 disables).")
	flag.DurationVar(&groupTimeout, "group-timeout", 10*time.Minute, "Per-target processing timeout (0 disables).")
	flag.DurationVar(&fetchTimeout, "fetch-timeout", 20*time.Second, "HTTP client timeout for one fetch.")
	flag.BoolVar(&watchlist, "watchlist", false, "Use the fixed-field watchlist detector instead of the full structural diff.")
	flag.StringVar(&runLogPath, "run-log", "", "SQLite run-log path (empty disables).")
	flag.BoolVar(&debug, "debug", false, "Enable debug logs.")
	flag.BoolVar(&once, "once", true, "Run once and exit (default true for crontab).")
	flag.DurationVar(&pollInterval, "poll-interval", time.Hour, "Interval between runs when --once=false.")
	flag.Parse()

	visited := map[string]bool{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
	})

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.InfoLevel)

	// Base config from file (optional), CLI flags override.
	fileCfg := &monitor.FileConfig{}
	if configPath != "" {
		cfg, err := monitor.LoadConfig(configPath)
		if err != nil {
			logger.Fatalf("load config: %v", err)
		}
		fileCfg = cfg
	}

	if fileCfg.Logging.Level != "" {
		if level, err := logrus.ParseLevel(fileCfg.Logging.Level); err == nil {
			logger.SetLevel(level)
		}
	}
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	finalDataDir := fileCfg.DataDir
	if finalDataDir == "" || visited["data-dir"] {
		finalDataDir = dataDir
	}
	finalTargets := fileCfg.TargetsPath
	if finalTargets == "" || visited["targets"] {
		finalTargets = targetsPath
	}
	finalAPIBase := fileCfg.APIBaseURL
	if finalAPIBase == "" || visited["api-base"] {
		finalAPIBase = apiBase
	}
	finalWorkers := fileCfg.MaxWorkers
	if finalWorkers == 0 || visited["workers"] {
		finalWorkers = workers
	}
	finalWatchlist := fileCfg.Watchlist
	if visited["watchlist"] {
		finalWatchlist = watchlist
	}
	finalRunLog := fileCfg.RunLog
	if visited["run-log"] {
		finalRunLog = runLogPath
	}

	targets, err := monitor.LoadTargets(finalTargets)
	if err != nil {
		logger.Fatalf("load targets: %v", err)
	}

	fetcher := monitor.NewAPIFetcher(finalAPIBase, fetchTimeout, logger)
	runner, err := monitor.NewRunner(monitor.RunnerConfig{
		DataDir:      finalDataDir,
		MaxWorkers:   finalWorkers,
		ItemTimeout:  itemTimeout,
		GroupTimeout: groupTimeout,
		Watchlist:    finalWatchlist,
		RunLogPath:   finalRunLog,
	}, fetcher, logger)
	if err != nil {
		logger.Fatalf("init runner: %v", err)
	}
	defer runner.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Infof("received signal: %v, shutting down...", sig)
		cancel()
	}()

	if once {
		if _, err := runner.Run(ctx, targets.Targets); err != nil {
			logger.Fatalf("run: %v", err)
		}
		return
	}

	for {
		if _, err := runner.Run(ctx, targets.Targets); err != nil {
			logger.Errorf("run: %v", err)
		}
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "stopped")
			return
		case <-time.After(pollInterval):
		}
	}
}
