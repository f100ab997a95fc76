// ============================================================================
// fontpack CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides user-friendly command line interface based on Cobra framework
//
// Command Structure:
//   fontpack                       # Root command
//   ├── run                        # Run one full pipeline batch
//   │   ├── --force               # Rebuild even if version unchanged
//   │   └── --fonts               # Limit to specific font ids
//   ├── check                      # Report upstream versions, build nothing
//   ├── status                     # Show config, cache and storage overview
//   ├── history                    # Show recent pipeline events
//   │   └── --lines, -n           # Number of events
//   ├── clear-cache                # Forget built versions
//   │   └── --font                # Clear a single font only
//   ├── watch                      # Re-run the batch on an interval
//   │   └── --interval            # Time between batches
//   ├── --config, -c               # Config file path (all commands)
//   ├── --verbose, -v              # Debug logging (all commands)
//   ├── --version                  # Display version information
//   └── --help                     # Display help information
//
// Output Convention:
//   Core packages never print. The controller reports progress through a
//   status callback and returns a complete batch result; this layer turns
//   both into terminal output. Structured diagnostics go through slog and
//   stay quiet unless --verbose is given.
//
// Exit Codes:
//   0  every requested font completed or was skipped
//   1  config error, or at least one font failed
//
// Signal Handling:
//   run and watch capture SIGINT/SIGTERM and cancel the batch context;
//   in-flight downloads and subset jobs stop, the summary still prints.
//
// Metrics Service:
//   watch mode starts the Prometheus endpoint in a separate goroutine when
//   enabled in config (default port 9090, path /metrics). One-shot runs do
//   not serve metrics.
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/fontpack/internal/checker"
	"github.com/ChuLiYu/fontpack/internal/config"
	"github.com/ChuLiYu/fontpack/internal/controller"
	"github.com/ChuLiYu/fontpack/internal/metrics"
	"github.com/ChuLiYu/fontpack/internal/storage/journal"
	"github.com/ChuLiYu/fontpack/internal/upstream"
	"github.com/ChuLiYu/fontpack/internal/versioncache"
	"github.com/ChuLiYu/fontpack/pkg/types"
)

var log = slog.Default()

var (
	configFile string
	verbose    bool
)

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fontpack",
		Short: "fontpack: a version-gated web font chunking pipeline",
		Long: `fontpack keeps self-hosted web fonts up to date:
- Polls GitHub releases and commits for new font versions
- Downloads and integrity-checks the font binaries
- Splits large character sets into priority-ordered chunks
- Drives an external subsetter and writes chunk manifests`,
		Version:      "1.0.0",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			} else {
				slog.SetLogLoggerLevel(slog.LevelWarn)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildCheckCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildHistoryCommand())
	rootCmd.AddCommand(buildClearCacheCommand())
	rootCmd.AddCommand(buildWatchCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	var force bool
	var only []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Check, download and chunk every configured font",
		Long:  "Run one full pipeline batch. Fonts whose upstream version is unchanged are skipped unless --force is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(force, only)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "rebuild even when the upstream version is unchanged")
	cmd.Flags().StringSliceVar(&only, "fonts", nil, "process only these font ids (comma separated)")

	return cmd
}

func runBatch(force bool, only []string) error {
	cfg, cache, err := loadConfigAndCache()
	if err != nil {
		return err
	}
	sources, err := selectSources(cfg, only)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Println("No fonts configured. Add fonts to the config file first.")
		return nil
	}

	jnl, err := openJournal(cfg)
	if err != nil {
		return err
	}
	if jnl != nil {
		defer jnl.Close()
	}

	ctrl, err := controller.New(cfg, cache, jnl, metrics.NewCollector())
	if err != nil {
		return err
	}
	ctrl.Force = force
	ctrl.OnStatus = renderProgress

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("🚀 Processing %d fonts (config: %s)\n\n", len(sources), configFile)

	result, err := ctrl.Run(ctx, sources)
	if err != nil {
		return err
	}

	renderSummary(result)
	if failed := result.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d fonts failed", len(failed), len(result.Fonts))
	}
	return nil
}

func buildCheckCommand() *cobra.Command {
	var only []string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report upstream versions without building anything",
		Long:  "Query each font's upstream version and compare it against the version cache. No downloads, no output files.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(only)
		},
	}

	cmd.Flags().StringSliceVar(&only, "fonts", nil, "check only these font ids (comma separated)")

	return cmd
}

func runCheck(only []string) error {
	cfg, cache, err := loadConfigAndCache()
	if err != nil {
		return err
	}
	sources, err := selectSources(cfg, only)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Println("No fonts configured. Add fonts to the config file first.")
		return nil
	}

	resolver := upstream.New(cfg.Upstream.APIBase, cfg.Upstream.RawBase, cfg.Upstream.Token, cfg.DownloadTimeout())
	chk := checker.New(resolver, cache)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("🔍 Checking %d fonts:\n\n", len(sources))
	results := chk.CheckAll(ctx, sources, checker.Options{TTL: cfg.CacheTTL()})

	failures := 0
	for _, src := range sources {
		res := results[src.ID]
		fmt.Printf("  %-20s cached %-14s current %-14s %s\n",
			src.ID, orDash(res.Cached), orDash(res.Current), checkVerdict(res))
		if res.Err != nil {
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d checks failed", failures, len(sources))
	}
	return nil
}

func checkVerdict(res *checker.CheckResult) string {
	switch {
	case res.Err != nil:
		return "❌ " + res.Err.Error()
	case res.Fresh:
		return "✅ fresh (checked within TTL)"
	case !res.NeedsUpdate:
		return "✅ up to date"
	case res.Cached == "":
		return "🆕 never built"
	default:
		return "⬆️  update available"
	}
}

func buildStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show config, cache and storage overview",
		Long:  "Display the loaded configuration, the built versions recorded in the cache, and where the pipeline writes its files.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus()
		},
	}
	return cmd
}

func showStatus() error {
	cfg, cache, err := loadConfigAndCache()
	if err != nil {
		return err
	}

	fmt.Println("\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                  fontpack System Status                   ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Println("📋 Configuration:")
	fmt.Printf("  └─ Config File:     %s\n", configFile)
	fmt.Printf("  └─ Environment:     %s\n", cfg.Environment)
	fmt.Printf("  └─ Fonts:           %d configured\n", len(cfg.Fonts))
	fmt.Printf("  └─ Concurrency:     %d fonts × %d chunks\n", cfg.Concurrency.MaxFonts, cfg.Concurrency.MaxChunks)
	fmt.Printf("  └─ Chunk Sizing:    target %v KB (min %v, max %v)\n", cfg.Chunks.TargetKB, cfg.Chunks.MinKB, cfg.Chunks.MaxKB)
	fmt.Println()

	fmt.Println("💾 Storage:")
	fmt.Printf("  ├─ Downloads:       %s\n", cfg.Dirs.Downloads)
	fmt.Printf("  ├─ Output:          %s\n", cfg.Dirs.Output)
	fmt.Printf("  ├─ Version Cache:   %s\n", cfg.Cache.Path)
	fmt.Printf("  └─ Journal:         %s (rotate at %d MB)\n", cfg.Journal.Path, cfg.Journal.MaxSizeMB)
	fmt.Println()

	fmt.Println("📦 Built Versions:")
	records := cache.Records()
	if len(records) == 0 {
		fmt.Println("  └─ No fonts built yet (run 'fontpack run' to start)")
	} else {
		for _, rec := range records {
			checked := time.UnixMilli(rec.CheckedAt).Format("2006-01-02 15:04")
			fmt.Printf("  ├─ %-20s %-14s checked %s\n", rec.FontID, rec.Version, checked)
		}
	}
	fmt.Println()

	fmt.Println("📡 Metrics:")
	if cfg.Metrics.Enabled {
		fmt.Printf("  └─ Status: ✅ Enabled on http://localhost:%d/metrics (watch mode)\n", cfg.Metrics.Port)
	} else {
		fmt.Println("  └─ Status: ⚠️  Disabled")
	}
	fmt.Println()

	fmt.Println("═══════════════════════════════════════════════════════════")
	return nil
}

func buildHistoryCommand() *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent pipeline events",
		Long:  "Read the run journal and display the most recent pipeline events: checks, downloads, chunk builds and failures.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(lines)
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "number of events to show")

	return cmd
}

func showHistory(lines int) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	jnl, err := openJournal(cfg)
	if err != nil {
		return err
	}
	if jnl == nil {
		fmt.Println("Journal disabled in config.")
		return nil
	}
	defer jnl.Close()

	events, err := jnl.Tail(lines)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	if len(events) == 0 {
		fmt.Println("No pipeline events recorded yet.")
		return nil
	}

	fmt.Printf("📜 Last %d pipeline events:\n\n", len(events))
	for _, e := range events {
		ts := time.UnixMilli(e.Timestamp).Format("2006-01-02 15:04:05")
		detail := e.Detail
		if detail != "" {
			detail = "  " + detail
		}
		fmt.Printf("  %s  %-8s  %-20s %-14s%s\n", ts, e.Event, e.Font, orDash(e.Version), detail)
	}
	return nil
}

func buildClearCacheCommand() *cobra.Command {
	var fontID string

	cmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Forget built versions so the next run rebuilds",
		Long:  "Remove version cache entries. Cleared fonts are treated as never built and rebuilt on the next run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return clearCache(fontID)
		},
	}

	cmd.Flags().StringVar(&fontID, "font", "", "clear a single font id instead of everything")

	return cmd
}

func clearCache(fontID string) error {
	_, cache, err := loadConfigAndCache()
	if err != nil {
		return err
	}

	if fontID != "" {
		if _, ok := cache.Get(types.FontID(fontID)); !ok {
			fmt.Printf("No cache entry for %s.\n", fontID)
			return nil
		}
		if err := cache.Remove(types.FontID(fontID)); err != nil {
			return fmt.Errorf("remove cache entry: %w", err)
		}
		fmt.Printf("🗑️  Removed cache entry for %s. The next run rebuilds it.\n", fontID)
		return nil
	}

	n := cache.Len()
	if n == 0 {
		fmt.Println("Version cache is already empty.")
		return nil
	}
	if err := cache.Clear(); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	fmt.Printf("🗑️  Cleared %d cache entries. The next run rebuilds every font.\n", n)
	return nil
}

func buildWatchCommand() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the batch on an interval until interrupted",
		Long:  "Run the pipeline immediately, then again every interval. Serves Prometheus metrics while running if enabled in config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 6*time.Hour, "time between batches")

	return cmd
}

func runWatch(interval time.Duration) error {
	cfg, cache, err := loadConfigAndCache()
	if err != nil {
		return err
	}
	sources := cfg.FontSources()
	if len(sources) == 0 {
		return fmt.Errorf("no fonts configured in %s", configFile)
	}

	jnl, err := openJournal(cfg)
	if err != nil {
		return err
	}
	if jnl != nil {
		defer jnl.Close()
	}

	collector := metrics.NewCollector()
	ctrl, err := controller.New(cfg, cache, jnl, collector)
	if err != nil {
		return err
	}
	ctrl.OnStatus = renderProgress

	if cfg.Metrics.Enabled {
		go func() {
			log.Info("Metrics server starting", "port", cfg.Metrics.Port)
			if err := collector.StartServer(cfg.Metrics.Port); err != nil {
				log.Error("Metrics server failed", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived shutdown signal, stopping after current batch...")
		cancel()
	}()

	fmt.Printf("👀 Watching %d fonts every %s (Ctrl+C to stop)\n", len(sources), interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		result, err := ctrl.Run(ctx, sources)
		if err != nil {
			return err
		}
		renderSummary(result)

		select {
		case <-ctx.Done():
			fmt.Println("System stopped. Goodbye!")
			return nil
		case <-ticker.C:
		}
	}
}

// ============================================================================
// Rendering Helpers
// ============================================================================

// renderProgress 即時列出每次階段轉移，供 run/watch 當作進度回報
func renderProgress(st types.FontStatus) {
	switch st.Stage {
	case types.StageCompleted:
		fmt.Printf("  ✅ %-20s %s\n", st.FontID, st.Version)
	case types.StageSkipped:
		fmt.Printf("  ⏭️  %-20s %s (unchanged)\n", st.FontID, st.Version)
	case types.StageFailed:
		fmt.Printf("  ❌ %-20s %s\n", st.FontID, st.Error)
	default:
		fmt.Printf("  🔄 %-20s %-14s [%s]\n", st.FontID, orDash(st.Version), st.Stage)
	}
}

func renderSummary(result *types.BatchResult) {
	ids := make([]types.FontID, 0, len(result.Fonts))
	for id := range result.Fonts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fmt.Println("\n╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                  fontpack Batch Summary                   ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	for _, id := range ids {
		st := result.Fonts[id]
		switch st.Stage {
		case types.StageCompleted:
			fmt.Printf("  ✅ %-20s %s\n", id, st.Version)
		case types.StageSkipped:
			fmt.Printf("  ⏭️  %-20s %s (unchanged)\n", id, st.Version)
		case types.StageFailed:
			fmt.Printf("  ❌ %-20s %s\n", id, st.Error)
		default:
			fmt.Printf("  ❓ %-20s stuck at %s\n", id, st.Stage)
		}
	}

	duration := time.Duration(result.FinishedAt-result.StartedAt) * time.Millisecond
	fmt.Println()
	fmt.Printf("📊 Totals: %d completed, %d skipped, %d failed in %s (run %s)\n",
		result.Count(types.StageCompleted),
		result.Count(types.StageSkipped),
		result.Count(types.StageFailed),
		duration, result.RunID)
}

// ============================================================================
// Component Assembly Helpers
// ============================================================================

func loadConfigAndCache() (*config.Config, *versioncache.Cache, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}

	cache := versioncache.New(cfg.Cache.Path)
	if err := cache.Load(); err != nil {
		// 損壞的快取降級為空：字型會被重建，不會被錯跳
		log.Warn("Version cache unreadable, starting empty", "path", cfg.Cache.Path, "error", err)
	}
	return cfg, cache, nil
}

func openJournal(cfg *config.Config) (*journal.Journal, error) {
	if cfg.Journal.Path == "" {
		return nil, nil
	}
	jnl, err := journal.Open(cfg.Journal.Path, int64(cfg.Journal.MaxSizeMB)*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return jnl, nil
}

// selectSources 依 --fonts 過濾設定的字型清單，未知識別碼直接報錯
func selectSources(cfg *config.Config, only []string) ([]types.FontSource, error) {
	sources := cfg.FontSources()
	if len(only) == 0 {
		return sources, nil
	}

	byID := make(map[types.FontID]types.FontSource, len(sources))
	for _, src := range sources {
		byID[src.ID] = src
	}

	out := make([]types.FontSource, 0, len(only))
	for _, id := range only {
		src, ok := byID[types.FontID(id)]
		if !ok {
			return nil, fmt.Errorf("font %q is not in the config file", id)
		}
		out = append(out, src)
	}
	return out, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
