package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/term"

	"github.com/mmcdole/kinomirror/internal/adapter"
	apihttp "github.com/mmcdole/kinomirror/internal/api/http"
	"github.com/mmcdole/kinomirror/internal/catalog"
	"github.com/mmcdole/kinomirror/internal/domain"
	"github.com/mmcdole/kinomirror/internal/loader"
	"github.com/mmcdole/kinomirror/internal/metrics"
	"github.com/mmcdole/kinomirror/internal/search"
	"github.com/mmcdole/kinomirror/internal/service"
	"github.com/mmcdole/kinomirror/internal/store"
	"github.com/mmcdole/kinomirror/internal/telemetry"
)

// Version is set at build time via -ldflags
var Version = "dev"

const usageText = `usage: kinomirror [-config dir] [-v] <command> [args]

commands:
  serve               run the HTTP API (default)
  load                run a full catalog load and persist the snapshot
  search [flags] q    search from the command line, prints JSON
  status              show mirror and snapshot status
  clear               delete the persisted snapshot
  config init [dir]   write a default config.yaml
`

func main() {
	var (
		showVersion bool
		configDir   string
	)
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.StringVar(&configDir, "config", "", "directory containing config.yaml")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usageText)
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("kinomirror %s\n", Version)
		return
	}

	command, args := "serve", flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	if err := run(command, args, configDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string, configDir string) error {
	if command == "config" {
		return runConfig(args)
	}

	var paths []string
	if configDir != "" {
		paths = append(paths, configDir)
	}
	cfg, err := adapter.LoadConfig(paths...)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := adapter.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = adapter.NullLogger()
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	switch command {
	case "serve":
		return a.serve(ctx)
	case "load":
		return a.load(ctx)
	case "search":
		return a.search(ctx, args)
	case "status":
		return a.status()
	case "clear":
		return a.clear(ctx)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func runConfig(args []string) error {
	if len(args) == 0 || args[0] != "init" {
		return errors.New("usage: kinomirror config init [dir]")
	}
	dir := ""
	if len(args) > 1 {
		dir = args[1]
	}
	path, err := adapter.SaveConfig(adapter.DefaultConfig(), dir)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

// app holds the wired components shared by every command.
type app struct {
	cfg      *adapter.Config
	logger   *slog.Logger
	store    *store.SnapshotStore
	orch     *service.Orchestrator
	closers  []func()
	shutdown func(context.Context) error
}

func newApp(ctx context.Context, cfg *adapter.Config, logger *slog.Logger) (*app, error) {
	logger.Info("starting kinomirror", "version", Version)

	metrics.Register(prometheus.DefaultRegisterer)

	shutdown, err := telemetry.Init(ctx, "kinomirror", Version, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, shutdown: shutdown}

	storagePath, err := adapter.ExpandHome(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	a.store, err = store.NewSnapshotStore(storagePath, store.WithLogger(logger.With("component", "store")))
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := a.store.Close(); err != nil {
			logger.Warn("failed to close snapshot store", "error", err)
		}
	})

	client := catalog.NewClient(catalog.Options{
		BaseURL:      cfg.Catalog.BaseURL,
		ListPath:     cfg.Catalog.ListPath,
		CategoryPath: cfg.Catalog.CategoryPath,
		CountryPath:  cfg.Catalog.CountryPath,
		YearPath:     cfg.Catalog.YearPath,
		UserAgent:    cfg.Catalog.UserAgent,
		Timeout:      cfg.Catalog.Timeout,
		MaxRetries:   cfg.Catalog.MaxRetries,
		RateLimit:    cfg.Catalog.RateLimit,
		Burst:        cfg.Catalog.Burst,
	}, logger.With("component", "catalog"))

	cache := a.queryCache(ctx)

	a.orch = service.NewOrchestrator(client, a.store, cache,
		service.Config{
			InstantTTL:      cfg.Search.InstantTTL,
			ExtendedTTL:     cfg.Search.ExtendedTTL,
			FullTTL:         cfg.Search.FullTTL,
			ExtendedPages:   cfg.Search.ExtendedPages,
			ExtendedWorkers: cfg.Search.ExtendedWorkers,
			StaleAfter:      cfg.Search.StaleAfter,
			PreloadPages:    cfg.Loader.PreloadPages,
			SuggestLimit:    cfg.Search.SuggestLimit,
		},
		loader.Config{
			BatchSize:            cfg.Loader.BatchSize,
			MaxPages:             cfg.Loader.MaxPages,
			MaxConsecutiveErrors: cfg.Loader.MaxConsecutiveErrors,
			SnapshotKey:          cfg.Storage.SnapshotKey,
		},
		logger.With("component", "orchestrator"),
	)
	return a, nil
}

// queryCache builds the result cache, with Redis as a second level when
// configured and reachable.
func (a *app) queryCache(ctx context.Context) *search.QueryCache {
	opts := []search.CacheOption{
		search.WithMaxEntries(a.cfg.Search.CacheMaxEntries),
		search.WithCacheLogger(a.logger.With("component", "query_cache")),
	}

	if url := strings.TrimSpace(a.cfg.Redis.URL); url != "" {
		redisOpts, err := redis.ParseURL(url)
		if err != nil {
			a.logger.Warn("invalid redis url, using in-memory cache only", "error", err)
		} else {
			client := redis.NewClient(redisOpts)
			remote := search.NewRedisCache(client, a.cfg.Redis.Prefix)
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := remote.Ping(pingCtx)
			cancel()
			if err != nil {
				a.logger.Warn("redis unavailable, using in-memory cache only", "error", err)
				_ = client.Close()
			} else {
				a.logger.Info("redis query cache enabled")
				opts = append(opts, search.WithRemote(remote))
				a.closers = append(a.closers, func() { _ = client.Close() })
			}
		}
	}

	cache := search.NewQueryCache(opts...)
	go cache.RunSweeper(ctx, a.cfg.Search.SweepInterval)
	return cache
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil {
		a.logger.Warn("telemetry shutdown failed", "error", err)
	}
}

func (a *app) serve(ctx context.Context) error {
	// the API answers from the direct tier until the mirror is seeded
	go a.orch.Initialize(ctx, a.cfg.Loader.AutoLoadFull)

	api := apihttp.NewServer(a.orch,
		apihttp.WithLogger(a.logger.With("component", "http")),
		apihttp.WithBaseContext(ctx),
		apihttp.WithRateLimit(a.cfg.Server.RateLimit, a.cfg.Server.RateBurst),
	)
	server := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (a *app) load(ctx context.Context) error {
	var stats domain.Stats
	if term.IsTerminal(int(os.Stdout.Fd())) {
		var err error
		if stats, err = a.loadInteractive(ctx); err != nil {
			return err
		}
	} else {
		stats = a.orch.LoadFullDatabaseWithProgress(ctx, plainProgress(os.Stdout, a.logger))
		fmt.Println(summaryLine(stats))
	}
	if stats.Error != "" {
		return errors.New(stats.Error)
	}
	return nil
}

func (a *app) loadInteractive(ctx context.Context) (domain.Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newLoadModel())
	done := make(chan domain.Stats, 1)
	go func() {
		stats := a.orch.LoadFullDatabaseWithProgress(ctx, func(lp domain.LoadProgress) {
			p.Send(progressMsg(lp))
		})
		p.Send(loadDoneMsg(stats))
		done <- stats
	}()

	final, err := p.Run()
	if err != nil {
		cancel()
		<-done
		return domain.Stats{}, fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := final.(loadModel); ok && m.cancelled {
		cancel()
	}
	return <-done, nil
}

func (a *app) search(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	var (
		tier = fs.String("tier", string(domain.TierInstant), "instant, extended or full")
		opts domain.SearchOptions
	)
	fs.StringVar(&opts.Type, "type", "", "all, movie, series or animation")
	fs.StringVar(&opts.Sort, "sort", "", "sort field")
	fs.StringVar(&opts.SortType, "sortType", "", "asc or desc")
	fs.StringVar(&opts.Category, "category", "", "category filter")
	fs.StringVar(&opts.Country, "country", "", "country filter")
	fs.StringVar(&opts.Year, "year", "", "release year filter")
	fs.IntVar(&opts.Page, "page", domain.DefaultPage, "page number")
	fs.IntVar(&opts.Limit, "limit", domain.DefaultLimit, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}
	keyword := strings.Join(fs.Args(), " ")

	var run func(context.Context, string, domain.SearchOptions) domain.SearchResult
	switch domain.Tier(*tier) {
	case domain.TierInstant:
		run = a.orch.InstantSearch
	case domain.TierExtended:
		run = a.orch.ExtendedSearch
	case domain.TierFull:
		run = a.orch.FullSearch
	default:
		return fmt.Errorf("unknown tier %q", *tier)
	}

	a.orch.Initialize(ctx, false)
	return printJSON(run(ctx, keyword, opts))
}

func (a *app) status() error {
	if snap, ok := a.store.Load(a.cfg.Storage.SnapshotKey); ok {
		a.orch.Mirror().Seed(*snap)
	}
	return printJSON(map[string]any{
		"cache": a.orch.GetCacheStatus(),
		"stats": a.orch.Stats(),
	})
}

func (a *app) clear(ctx context.Context) error {
	if !a.orch.ClearPersistentCache(ctx) {
		return errors.New("failed to clear persistent cache")
	}
	fmt.Println(successStyle.Render(doneGlyph + " snapshot cleared"))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
