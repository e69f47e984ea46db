package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"bunkrgrab/internal/batch"
	"bunkrgrab/internal/classifier"
	"bunkrgrab/internal/config"
	"bunkrgrab/internal/coordinator"
	"bunkrgrab/internal/crawler"
	"bunkrgrab/internal/downloader"
	"bunkrgrab/internal/fetch"
	"bunkrgrab/internal/filter"
	"bunkrgrab/internal/hoststatus"
	"bunkrgrab/internal/lockfile"
	"bunkrgrab/internal/logging"
	"bunkrgrab/internal/metrics"
	"bunkrgrab/internal/progress"
	"bunkrgrab/internal/render"
	"bunkrgrab/internal/resolver"
	"bunkrgrab/internal/state"
	"bunkrgrab/internal/tui"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		usage()
		return errors.New("no url or command provided")
	}

	switch args[0] {
	case "batch":
		return handleBatch(ctx, args[1:])
	case "status":
		return handleStatus(ctx, args[1:])
	case "version":
		fmt.Println(version)
		return nil
	case "help", "-h", "--help":
		usage()
		return nil
	}
	// Anything else is a platform URL for a single-shot run.
	return handleGrab(ctx, args[0], args[1:])
}

func usage() {
	fmt.Println(strings.TrimSpace(`bunkrgrab - concurrent album and media downloader

Usage:
  bunkrgrab <url> [flags]      Download one album or single-file URL
  bunkrgrab batch [flags]      Download every URL listed in the URLs file
  bunkrgrab status [flags]     Show recorded item outcomes
  bunkrgrab version            Print version
  bunkrgrab help               Show this help

Flags (url and batch):
  --ignore "a b"    Skip files whose name contains any listed token
  --include "a b"   Keep only files whose name contains a listed token
  --custom-path DIR Root directory receiving the Downloads/ tree
  --disable-ui      Plain log lines instead of a progress bar
  --tui             Full-screen dashboard
  --config PATH     Path to YAML config file
  --log-level L     Log level: debug|info|warn|error
  --json            JSON log output

Flags (batch):
  --file PATH       URLs file (default from config, URLs.txt)

Flags (status):
  --filter QUERY    Fuzzy-match albums, files and URLs
  --only-errors     Show only failed items
  --json            Emit rows as JSON
`))
}

// runFlags are the knobs shared by the url and batch commands.
type runFlags struct {
	ignore     string
	include    string
	customPath string
	disableUI  bool
	useTUI     bool
	cfgPath    string
	logLevel   string
	jsonOut    bool
}

func addRunFlags(fs *flag.FlagSet, rf *runFlags) {
	fs.StringVar(&rf.ignore, "ignore", "", "space-separated filename tokens to skip")
	fs.StringVar(&rf.include, "include", "", "space-separated filename tokens to keep")
	fs.StringVar(&rf.customPath, "custom-path", "", "root directory for the Downloads tree")
	fs.BoolVar(&rf.disableUI, "disable-ui", false, "plain log lines, no progress bar")
	fs.BoolVar(&rf.useTUI, "tui", false, "full-screen dashboard")
	fs.StringVar(&rf.cfgPath, "config", "", "path to YAML config file")
	fs.StringVar(&rf.logLevel, "log-level", "", "log level")
	fs.BoolVar(&rf.jsonOut, "json", false, "json logs")
}

// loadConfig merges flag overrides onto the file (or defaults). Flags win.
func loadConfig(rf *runFlags) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(rf.cfgPath)
	if err != nil {
		return nil, err
	}
	if rf.ignore != "" {
		cfg.Filters.Ignore = strings.Fields(rf.ignore)
	}
	if rf.include != "" {
		cfg.Filters.Include = strings.Fields(rf.include)
	}
	if rf.customPath != "" {
		cfg.General.DownloadRoot = rf.customPath
	}
	if rf.disableUI {
		cfg.UI.Disabled = true
	}
	if rf.useTUI {
		cfg.UI.TUI = true
	}
	if rf.logLevel != "" {
		cfg.Logging.Level = rf.logLevel
	}
	if rf.jsonOut {
		cfg.Logging.Format = "json"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func handleGrab(ctx context.Context, rawURL string, args []string) error {
	fs := flag.NewFlagSet("grab", flag.ContinueOnError)
	var rf runFlags
	addRunFlags(fs, &rf)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(&rf)
	if err != nil {
		return err
	}
	res, err := classifier.Classify(rawURL)
	if err != nil {
		return err
	}
	return runSession(ctx, cfg, []classifier.Result{res})
}

func handleBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	var rf runFlags
	addRunFlags(fs, &rf)
	file := fs.String("file", "", "URLs file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(&rf)
	if err != nil {
		return err
	}
	urlsFile := cfg.General.URLsFile
	if *file != "" {
		urlsFile = *file
	}

	if err := os.MkdirAll(cfg.General.DataRoot, 0o755); err != nil {
		return err
	}
	lock, err := lockfile.Acquire(filepath.Join(cfg.General.DataRoot, "bunkrgrab.lock"))
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	urls, err := batch.ReadURLs(urlsFile)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		fmt.Printf("no URLs in %s\n", urlsFile)
		return nil
	}

	var targets []classifier.Result
	var invalid []string
	for _, u := range urls {
		res, err := classifier.Classify(u)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			invalid = append(invalid, u)
			continue
		}
		targets = append(targets, res)
	}

	runErr := runSession(ctx, cfg, targets)
	if runErr == nil && len(invalid) == 0 && ctx.Err() == nil {
		if err := batch.Truncate(urlsFile); err != nil {
			return err
		}
	}
	if len(invalid) > 0 && runErr == nil {
		runErr = fmt.Errorf("%d invalid URL(s) in %s", len(invalid), urlsFile)
	}
	return runErr
}

// runSession wires the pipeline and drives the given targets to completion.
// It fails only on crawl or root-URL errors; individual item failures are
// reported through the session log and the summary.
func runSession(ctx context.Context, cfg *config.Config, targets []classifier.Result) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logLevel := cfg.Logging.Level
	if cfg.UI.TUI {
		// The dashboard owns the terminal; keep only errors on stderr.
		logLevel = "error"
	}
	log := logging.New(logLevel, cfg.Logging.Format == "json")

	// The store interface is only populated on a successful open; a typed
	// nil *state.DB inside it would pass the store != nil checks.
	var db *state.DB
	var store hoststatus.Store
	if d, err := state.Open(cfg); err != nil {
		log.Warnf("history database unavailable: %v", err)
	} else {
		db = d
		store = d
		defer func() { _ = db.Close() }()
	}

	client := fetch.New(cfg)
	status := hoststatus.New(client, cfg.Network.StatusPage, log, store)
	status.Refresh(ctx)
	m := metrics.New(cfg)

	showBar := !cfg.UI.Disabled && !cfg.UI.TUI
	prog, err := progress.New(log, cfg.General.SessionLog, showBar)
	if err != nil {
		return err
	}

	var dash *tui.Dashboard
	if cfg.UI.TUI {
		dash = tui.Start(cancel)
		prog.SetNotify(dash.Notify)
	}

	fast := resolver.NewFast(cfg, client, status, log)
	rend := render.New(cfg, log)
	defer rend.Close()
	rules := filter.Rules{Ignore: cfg.Filters.Ignore, Include: cfg.Filters.Include}
	engine := downloader.New(cfg, client, status, log, m)
	coord := coordinator.New(cfg, fast, rend, engine, rules, db, m, log, prog.Results())

	start := time.Now()
	cr := crawler.New(client, log)
	var crawlFailures []string
	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		task, err := cr.Crawl(ctx, target)
		if err != nil {
			log.Errorf("%v", err)
			crawlFailures = append(crawlFailures, target.URL)
			continue
		}
		task.Dir = filepath.Join(cfg.General.DownloadRoot, "Downloads", task.Name)
		prog.AddAlbum(task.Name, len(task.Items))
		if dash != nil {
			dash.AddAlbum(task.Name, len(task.Items))
		}
		coord.Enqueue(ctx, task)
	}

	coord.Wait()
	summary := prog.Close()
	if dash != nil {
		dash.Stop()
	}
	if err := m.Write(); err != nil {
		log.Warnf("write metrics: %v", err)
	}
	fmt.Println(progress.RenderSummary(summary, time.Since(start), cfg.General.SessionLog))

	if len(crawlFailures) > 0 {
		return fmt.Errorf("%d album(s) failed to crawl", len(crawlFailures))
	}
	return ctx.Err()
}

func handleStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "path to YAML config file")
	query := fs.String("filter", "", "fuzzy-match albums, files and URLs")
	onlyErrors := fs.Bool("only-errors", false, "show only failed items")
	jsonOut := fs.Bool("json", false, "emit rows as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		return err
	}
	db, err := state.Open(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.ListItems()
	if err != nil {
		return err
	}

	var out []state.ItemRow
	for _, r := range rows {
		if *onlyErrors && r.Status != "failed" {
			continue
		}
		if *query != "" && !matchesRow(r, *query) {
			continue
		}
		out = append(out, r)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if len(out) == 0 {
		fmt.Println("no recorded items")
		return nil
	}
	for _, r := range out {
		line := fmt.Sprintf("%-10s %-20s %-40s %s",
			r.Status, truncate(r.Album, 20), truncate(filepath.Base(r.Dest), 40),
			humanize.Bytes(uint64(r.Size)))
		if r.LastError != "" {
			line += "  " + r.LastError
		}
		fmt.Println(line)
	}
	return nil
}

func matchesRow(r state.ItemRow, query string) bool {
	return fuzzy.MatchFold(query, r.Album) ||
		fuzzy.MatchFold(query, filepath.Base(r.Dest)) ||
		fuzzy.MatchFold(query, r.PageURL)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
