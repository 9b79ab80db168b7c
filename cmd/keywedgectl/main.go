// keywedgectl is the command line companion to keywedged: it decodes and
// simulates scans offline and reads the scan history.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"keywedge/internal/config"
	"keywedge/internal/decode"
	"keywedge/internal/decode/gs1"
	"keywedge/internal/device"
	"keywedge/internal/scanner"
	"keywedge/internal/schemavalidation"
	"keywedge/internal/store"
)

var (
	configPath = flag.String("config", "", "path to config file")
	jsonOutput = flag.Bool("json", false, "print JSON instead of text")

	stdout io.Writer = os.Stdout
)

var errUsage = errors.New("usage")

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	if err := runCommand(flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCommand(cmd string, args []string) error {
	switch cmd {
	case "decode":
		if len(args) != 1 {
			return usageError("decode <raw>")
		}
		return cmdDecode(args[0])
	case "simulate":
		return cmdSimulate(args)
	case "history":
		n := 20
		if len(args) > 0 {
			var err error
			if n, err = strconv.Atoi(args[0]); err != nil || n <= 0 {
				return usageError("history [count]")
			}
		}
		return cmdHistory(n)
	case "show":
		if len(args) != 1 {
			return usageError("show <id>")
		}
		return cmdShow(args[0])
	case "find":
		if len(args) != 2 {
			return usageError("find <ai> <value>")
		}
		return cmdFind(args[0], args[1])
	case "prune":
		days := -1
		if len(args) > 0 {
			var err error
			if days, err = strconv.Atoi(args[0]); err != nil || days < 0 {
				return usageError("prune [days]")
			}
		}
		return cmdPrune(days)
	case "status":
		return cmdStatus()
	case "table":
		return cmdTable()
	case "devices":
		return cmdDevices()
	case "init":
		return cmdInit()
	case "validate":
		if len(args) != 1 {
			return usageError("validate <file.json>")
		}
		return cmdValidate(args[0])
	case "help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `keywedgectl - Control utility for keywedged

Usage: keywedgectl [options] <command> [args]

Commands:
  decode <raw>          Decode a raw scan with the configured decoder
  simulate <keys...>    Feed key names through a classifier and print scans
  history [count]       Print the most recent scans (default 20)
  show <id>             Print one stored scan
  find <ai> <value>     Find scans carrying a GS1 field, e.g. find 01 00681599063722
  prune [days]          Delete scans older than days (default: retention_days)
  status                Show configuration and history statistics
  table                 Print the GS1 Application Identifier table
  devices               List input devices that look like keyboards
  init                  Write a default config file if none exists
  validate <file.json>  Check exported scans against the scan event schema
  help                  Show this help message

Options:
  -config <path>        Path to config file (default: platform config dir)
  -json                 Print JSON

simulate options (before the keys):
  -interval <dur>       Time between keys (default 1ms)
  -origin <name>        Origin stamped on every key`)
}

// usageError matches errUsage and prints as the command's synopsis.
type usageError string

func (e usageError) Error() string { return "Usage: keywedgectl " + string(e) }

func (usageError) Is(target error) bool { return target == errUsage }

func loadConfig() (*config.Config, error) {
	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if !cfg.Storage.Enabled {
		return nil, errors.New("scan history is disabled in the configuration")
	}
	if _, err := os.Stat(cfg.Storage.Path); err != nil {
		return nil, fmt.Errorf("no scan history at %s", cfg.Storage.Path)
	}
	return store.Open(cfg.Storage.Path)
}

func cmdDecode(raw string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dec, err := cfg.BuildDecoder()
	if err != nil {
		return err
	}
	p := dec.Decode(raw)
	if *jsonOutput {
		return printJSON(p)
	}
	fmt.Fprint(stdout, decode.Describe(p))
	if p == nil {
		fmt.Fprintln(stdout)
	}
	return nil
}

// stepClock is a scanner.Clock whose timers never fire, so simulated scans
// complete only on a suffix key or the final flush.
type stepClock struct{ now time.Time }

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) AfterFunc(time.Duration, func()) scanner.Timer { return idleTimer{} }

func cmdSimulate(args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	interval := fs.Duration("interval", time.Millisecond, "time between keys")
	origin := fs.String("origin", "", "origin stamped on every key")
	if err := fs.Parse(args); err != nil {
		return usageError("simulate [-interval dur] [-origin name] <keys...>")
	}
	keys := fs.Args()
	if len(keys) == 0 {
		return usageError("simulate [-interval dur] [-origin name] <keys...>")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dec, err := cfg.BuildDecoder()
	if err != nil {
		return err
	}

	clock := &stepClock{now: time.Now()}
	var results []scanner.Result
	var rejected int
	c, err := scanner.New(cfg.ClassifierConfig(),
		scanner.WithDecoder(dec),
		scanner.WithClock(clock),
		scanner.WithOnScan(func(r scanner.Result) { results = append(results, r) }),
		scanner.WithOnException(func(*scanner.Error) { rejected++ }),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	for _, k := range keys {
		if err := c.Feed(scanner.KeyEvent{Key: k, Timestamp: clock.now, Origin: *origin}); err != nil {
			return err
		}
		clock.now = clock.now.Add(*interval)
	}
	if err := c.Flush(); err != nil {
		return err
	}

	if *jsonOutput {
		return printJSON(results)
	}
	fmt.Fprintf(stdout, "strategy: %s\n", c.Strategy())
	if rejected > 0 {
		fmt.Fprintf(stdout, "rejected keys: %d\n", rejected)
	}
	if len(results) == 0 {
		fmt.Fprintln(stdout, "(no scans)")
	}
	for _, r := range results {
		fmt.Fprintln(stdout)
		printResult(r)
	}
	return nil
}

func cmdHistory(n int) error {
	return withStore(func(ctx context.Context, st *store.Store) error {
		results, err := st.Recent(ctx, n)
		if err != nil {
			return err
		}
		return printResults(results)
	})
}

func cmdShow(id string) error {
	return withStore(func(ctx context.Context, st *store.Store) error {
		r, err := st.Get(ctx, id)
		if err != nil {
			return err
		}
		if *jsonOutput {
			return printJSON(r)
		}
		printResult(*r)
		return nil
	})
}

func cmdFind(ai, value string) error {
	return withStore(func(ctx context.Context, st *store.Store) error {
		results, err := st.FindByField(ctx, ai, value, 0)
		if err != nil {
			return err
		}
		return printResults(results)
	})
}

func cmdPrune(days int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if days < 0 {
		days = cfg.Storage.RetentionDays
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	cutoff := time.Now().AddDate(0, 0, -days)
	removed, err := st.Prune(context.Background(), cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Removed %d scans older than %s\n", removed, cutoff.Format(time.RFC3339))
	return nil
}

func cmdStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := *configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		path = "(defaults)"
	}

	fmt.Fprintln(stdout, "=== keywedge Status ===")
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "Config:   %s\n", path)
	fmt.Fprintf(stdout, "Strategy: %s\n", scanner.StrategyFor(cfg.ClassifierConfig()))
	fmt.Fprintf(stdout, "Decoder:  %s\n", cfg.Decoder.Kind)
	if cfg.Device.Enabled {
		fmt.Fprintf(stdout, "Device:   path=%q name=%q grab=%t\n", cfg.Device.Path, cfg.Device.Name, cfg.Device.Grab)
	} else {
		fmt.Fprintln(stdout, "Device:   disabled")
	}
	fmt.Fprintln(stdout)

	fmt.Fprintln(stdout, "History:")
	st, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(stdout, "  %v\n", err)
		return nil
	}
	defer st.Close()

	ctx := context.Background()
	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "  Database:   %s\n", cfg.Storage.Path)
	fmt.Fprintf(stdout, "  Scans:      %d (%d structured)\n", stats.Total, stats.Structured)
	for _, s := range []scanner.Strategy{scanner.StrategySuffix, scanner.StrategyPrefix, scanner.StrategyGap} {
		if n := stats.ByStrategy[s]; n > 0 {
			fmt.Fprintf(stdout, "    %-8s %d\n", s.String()+":", n)
		}
	}
	if stats.Oldest != nil {
		fmt.Fprintf(stdout, "  Oldest:     %s\n", stats.Oldest.Format(time.RFC3339))
		fmt.Fprintf(stdout, "  Newest:     %s\n", stats.Newest.Format(time.RFC3339))
	}
	if ms, err := store.GetMigrationStatus(ctx, st.DB()); err == nil {
		fmt.Fprintf(stdout, "  Schema:     v%d (latest v%d)\n", ms.CurrentVersion, ms.LatestVersion)
	}
	return nil
}

func cmdTable() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	table := gs1.DefaultTable()
	if cfg.Decoder.IdentifierTable != "" {
		if table, err = gs1.LoadTable(cfg.Decoder.IdentifierTable); err != nil {
			return err
		}
	}
	if *jsonOutput {
		return printJSON(table.Entries())
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AI\tLENGTH\tVARIABLE\tPURPOSE")
	for _, e := range table.Entries() {
		fmt.Fprintf(tw, "%s\t%d\t%t\t%s\n", e.Code, e.Length, e.Variable, e.Purpose)
	}
	return tw.Flush()
}

func cmdDevices() error {
	devices, err := device.List()
	if err != nil {
		return err
	}
	if *jsonOutput {
		return printJSON(devices)
	}
	if len(devices) == 0 {
		fmt.Fprintln(stdout, "No keyboard-like input devices found (is the user in the input group?)")
		return nil
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tNAME")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\n", d.Path, d.Name)
	}
	return tw.Flush()
}

func cmdInit() error {
	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}
	_, created, err := config.LoadOrCreate(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(stdout, "Wrote default configuration to %s\n", path)
	} else {
		fmt.Fprintf(stdout, "Configuration already exists at %s\n", path)
	}
	return nil
}

func cmdValidate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := schemavalidation.ValidateScanEvents(data); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: OK\n", path)
	return nil
}

func withStore(fn func(context.Context, *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(context.Background(), st)
}

func printResults(results []*scanner.Result) error {
	if *jsonOutput {
		if results == nil {
			results = []*scanner.Result{}
		}
		return printJSON(results)
	}
	if len(results) == 0 {
		fmt.Fprintln(stdout, "No scans found")
		return nil
	}
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(stdout)
		}
		printResult(*r)
	}
	return nil
}

func printResult(r scanner.Result) {
	fmt.Fprintf(stdout, "%s  %s  %s\n", r.ID, r.At.Local().Format(time.RFC3339), r.Strategy)
	fmt.Fprint(stdout, decode.Describe(r.Parsed))
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
