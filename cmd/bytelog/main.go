// bytelog is the offline tooling for bytelog log directories: it compacts
// per-record files into archives and inspects finished archives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/axiolab/bytelog/internal/archive"
	"github.com/axiolab/bytelog/internal/config"
	"github.com/axiolab/bytelog/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "compact":
		runCompact(os.Args[2:])
	case "inspect":
		runInspect(os.Args[2:])
	case "version":
		fmt.Printf("bytelog %s\n", Version)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: bytelog <command> [flags]

commands:
  compact   assemble per-record files into one archive per source
  inspect   print summary information about an archive
  version   print the version
`)
}

func runCompact(args []string) {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path")
	dir := fs.String("dir", "", "log directory (overrides config data_dir)")
	workers := fs.Int("workers", 0, "parallel source assembly workers (overrides config)")
	keepSources := fs.Bool("keep-sources", false, "keep per-record files after assembly")
	verify := fs.Bool("verify", false, "verify archive integrity before removing sources")
	fs.Parse(args)

	cfg := loadConfig(*cfgPath)
	initLogging(cfg)

	logDir := cfg.DataDir
	if *dir != "" {
		logDir = *dir
	}

	opts := archive.Options{
		MaxWorkers:      cfg.Compaction.Workers,
		BatchSize:       cfg.Compaction.BatchSize,
		RemoveSources:   cfg.Compaction.RemoveSources && !*keepSources,
		VerifyIntegrity: cfg.Compaction.VerifyIntegrity || *verify,
		Compression:     archive.ParseCompressionType(cfg.Compaction.Compression),
	}
	if *workers > 0 {
		opts.MaxWorkers = *workers
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	archives, err := archive.AssembleArchives(ctx, logDir, opts)
	if err != nil {
		logging.Error("compaction failed", "error", err)
		os.Exit(1)
	}

	for sourceID, path := range archives {
		fmt.Printf("source %3d -> %s\n", sourceID, path)
	}
}

func runInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path")
	path := fs.String("archive", "", "archive file path")
	fs.Parse(args)

	if *path == "" {
		fmt.Fprintln(os.Stderr, "inspect: -archive is required")
		os.Exit(2)
	}

	cfg := loadConfig(*cfgPath)
	initLogging(cfg)

	reader, err := archive.OpenArchive(*path)
	if err != nil {
		logging.Error("open archive", "error", err)
		os.Exit(1)
	}

	onset, err := reader.OnsetTimestampUS()
	if err != nil {
		logging.Error("onset discovery", "error", err)
		os.Exit(1)
	}
	count, err := reader.MessageCount()
	if err != nil {
		logging.Error("message count", "error", err)
		os.Exit(1)
	}

	fmt.Printf("archive:  %s\n", reader.Path())
	fmt.Printf("onset:    %d us (UTC epoch)\n", onset)
	fmt.Printf("messages: %d\n", count)
}

func loadConfig(path string) *config.Config {
	if path == "" {
		return config.DefaultConfig()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func initLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logging.Init(level, cfg.Logging.JSON)
}
