package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/officekit/wsdbroker/internal/logger"
	"github.com/officekit/wsdbroker/pkg/broker"
	"github.com/officekit/wsdbroker/pkg/clipboardstore"
	"github.com/officekit/wsdbroker/pkg/config"
	"github.com/officekit/wsdbroker/pkg/metrics"
	"github.com/officekit/wsdbroker/pkg/registry"
	"github.com/officekit/wsdbroker/pkg/storage"
	"github.com/officekit/wsdbroker/pkg/wsdhttp"

	// Import prometheus metrics to register init() functions
	_ "github.com/officekit/wsdbroker/pkg/metrics/prometheus"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const usage = `brokerd - Online document broker

Usage:
  brokerd <command> [flags]

Commands:
  init     Initialize a sample configuration file
  start    Start the broker server
  version  Show version information

Flags:
  --config string    Path to config file (default: $XDG_CONFIG_HOME/brokerd/config.yaml)
  --force            Force overwrite existing config file (init command only)

Examples:
  # Initialize config file
  brokerd init

  # Start server with default config location
  brokerd start

  # Start server with custom config
  brokerd start --config /etc/brokerd/config.yaml

  # Use environment variables to override config
  BROKER_LOGGING_LEVEL=DEBUG brokerd start

Environment Variables:
  All configuration options can be overridden using environment variables.
  Format: BROKER_<SECTION>_<KEY> (use underscores for nested keys)

  Examples:
    BROKER_LOGGING_LEVEL=DEBUG
    BROKER_ADMISSION_PORT=9980
    BROKER_STORAGE_WOPI_REQUEST_TIMEOUT=30s
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit()
	case "start":
		runStart()
	case "help", "--help", "-h":
		fmt.Print(usage)
		os.Exit(0)
	case "version", "--version", "-v":
		fmt.Printf("brokerd %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

func runInit() {
	initFlags := flag.NewFlagSet("init", flag.ExitOnError)
	configFile := initFlags.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/brokerd/config.yaml)")
	force := initFlags.Bool("force", false, "Force overwrite existing config file")

	if err := initFlags.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}

	var configPath string
	var err error
	if *configFile != "" {
		err = config.InitConfigToPath(*configFile, *force)
		configPath = *configFile
	} else {
		configPath, err = config.InitConfig(*force)
	}
	if err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the broker with: brokerd start")
	fmt.Printf("  3. Or specify custom config: brokerd start --config %s\n", configPath)
}

func runStart() {
	startFlags := flag.NewFlagSet("start", flag.ExitOnError)
	configFile := startFlags.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/brokerd/config.yaml)")

	if err := startFlags.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}

	if *configFile == "" {
		if !config.DefaultConfigExists() {
			fmt.Fprintf(os.Stderr, "Error: No configuration file found at default location: %s\n\n", config.GetDefaultConfigPath())
			fmt.Fprintln(os.Stderr, "Please initialize a configuration file first:")
			fmt.Fprintln(os.Stderr, "  brokerd init")
			fmt.Fprintln(os.Stderr, "\nOr specify a custom config file:")
			fmt.Fprintln(os.Stderr, "  brokerd start --config /path/to/config.yaml")
			os.Exit(1)
		}
	} else if _, err := os.Stat(*configFile); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: Configuration file not found: %s\n\n", *configFile)
		fmt.Fprintln(os.Stderr, "Please create the configuration file:")
		fmt.Fprintf(os.Stderr, "  brokerd init --config %s\n", *configFile)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("brokerd starting", "version", version, "commit", commit)
	logger.Info("configuration loaded", "source", getConfigSource(*configFile))

	// Metrics must be enabled before constructing anything that holds a
	// metrics field, or every NewXxxMetrics call below returns nil.
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("metrics disabled")
	}

	storageAdapter := storage.New(cfg.Storage.Wopi)
	storageAdapter.SetMetrics(metrics.NewStorageMetrics())

	clipStore := clipboardstore.New()

	reg := registry.NewRegistry(registry.Deps{
		Storage:        storageAdapter,
		Spawn:          broker.DefaultSpawn,
		KitCfg:         cfg.Kit,
		DocCfg:         cfg.PerDocument,
		WopiCfg:        cfg.Storage.Wopi,
		Metrics:        metrics.NewBrokerMetrics(),
		ClipboardStore: clipStore,
	})

	admissionServer := wsdhttp.NewServer(cfg.Admission, reg, serverID(), version, clipStore)
	reg.SetOnSessionMessage(admissionServer.OnSessionMessage)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- admissionServer.Start(ctx)
	}()

	var metricsDone chan error
	if metricsServer != nil {
		metricsDone = make(chan error, 1)
		go func() {
			metricsDone <- metricsServer.Start(ctx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("brokerd is running", "port", cfg.Admission.Port)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, draining open documents")
		reg.Drain("shutdown")

		drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := reg.WaitDrained(drainCtx); err != nil {
			logger.Warn("documents did not drain within shutdown timeout", logger.Err(err))
		}
		drainCancel()

		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("admission server shutdown error", logger.Err(err))
			os.Exit(1)
		}
		if metricsDone != nil {
			if err := <-metricsDone; err != nil {
				logger.Warn("metrics server shutdown error", logger.Err(err))
			}
		}
		logger.Info("brokerd stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("admission server error", logger.Err(err))
			os.Exit(1)
		}
		logger.Info("admission server stopped")
	}
}

// serverID identifies this process instance in the loolserver handshake,
// so a client behind a load balancer can tell which broker it landed on.
func serverID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return fmt.Sprintf("brokerd-%d", time.Now().UnixNano())
	}
	return host
}

func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
