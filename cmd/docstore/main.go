// Package main implements the docstore binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/arkiliandb/docstore/internal/app"
	"github.com/arkiliandb/docstore/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		httpAddr    string
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for the SQLite file and work directories")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address for the document-store API")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "docstore - an embedded JSON document store over SQLite\n\n")
		fmt.Fprintf(os.Stderr, "Usage: docstore [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  docstore --data-dir /var/lib/docstore\n")
		fmt.Fprintf(os.Stderr, "  docstore --config /etc/docstore/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  DOCSTORE_DATA_DIR                   Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  DOCSTORE_DB_FILE                    Path to the SQLite database file\n")
		fmt.Fprintf(os.Stderr, "  DOCSTORE_JOURNAL_MODE                SQLite journal_mode pragma\n")
		fmt.Fprintf(os.Stderr, "  DOCSTORE_HTTP_ADDR                  HTTP listen address\n")
		fmt.Fprintf(os.Stderr, "  DOCSTORE_ADVISORY_ENABLED           Enable the automatic index advisory\n")
		fmt.Fprintf(os.Stderr, "  DOCSTORE_ADVISORY_AUTO_DROP         Mark flagged indexes as auto-drop candidates (logged only)\n")
		fmt.Fprintf(os.Stderr, "  DOCSTORE_ADVISORY_CREATE_THRESHOLD  Compile-frequency create threshold\n")
		fmt.Fprintf(os.Stderr, "  DOCSTORE_GUARD_ENABLED              Enable the array-index guard daemon\n")
		fmt.Fprintf(os.Stderr, "  DOCSTORE_GUARD_CHECK_INTERVAL       Guard daemon sweep interval\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("docstore version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, dataDir, httpAddr)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	printBanner(cfg)

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	if err := application.WaitForShutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Stop error: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line
// flags, in ascending priority order.
func loadConfig(configFile, dataDir, httpAddr string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}

	return cfg, nil
}

// printBanner prints the startup banner with a configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("docstore starting")
	log.Printf("  Data Dir:      %s", cfg.DataDir)
	log.Printf("  DB File:       %s", cfg.DBFile)
	log.Printf("  Journal Mode:  %s", cfg.JournalMode)
	log.Printf("  HTTP Addr:     %s", cfg.HTTP.Addr)
	log.Printf("  Advisory:      enabled=%v max_indexes=%d", cfg.Advisory.Enabled, cfg.Advisory.MaxIndexes)
	log.Printf("  Guard:         enabled=%v check_interval=%v", cfg.Guard.Enabled, cfg.Guard.CheckInterval)
}
