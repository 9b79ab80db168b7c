// keywedged - keyboard-wedge barcode scanner daemon
//
// keywedged reads keystrokes from a scanner attached as an input device,
// classifies bursts into scans, decodes GS1 element strings and records
// every scan in a local history database:
//
//	keywedged                 Run with the default configuration file
//	keywedged -config FILE    Run with FILE (toml, json or yaml)
//	keywedged -check          Validate the configuration and exit
//	keywedged -version        Print the version and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"keywedge/internal/config"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Configuration file (default: platform config dir)")
	envFile := flag.String("env", ".env", "Optional dotenv file with KEYWEDGE_ overrides")
	check := flag.Bool("check", false, "Validate the configuration and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("keywedged %s\n", version)
		return
	}

	// A missing dotenv file is normal.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}

	if *check {
		os.Exit(cmdCheck(path))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, path); err != nil {
		fmt.Fprintf(os.Stderr, "keywedged: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `keywedged - Keyboard-wedge barcode scanner daemon

USAGE:
    keywedged [options]

OPTIONS:`)
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, `
ENVIRONMENT:
    KEYWEDGE_DATA_DIR                 Data directory (database, logs)
    KEYWEDGE_SCANNER_SUFFIX_KEYS      Comma-separated suffix keys, e.g. Enter
    KEYWEDGE_DEVICE_NAME              Input device name to match
    KEYWEDGE_LOG_LEVEL                debug, info, warn or error

The configuration file is watched and reloaded when it changes.`)
}

// cmdCheck validates the configuration and prints every finding.
func cmdCheck(path string) int {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	for _, w := range config.Check(cfg).Warnings() {
		fmt.Printf("warning: %s\n", w.Error())
	}
	if path == "" {
		path = "(defaults)"
	}
	fmt.Printf("%s: OK\n", path)
	return 0
}
