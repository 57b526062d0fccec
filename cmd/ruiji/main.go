// Package main is the Ruiji CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/internal/keyword"
	"github.com/hyperjump/ruiji/internal/library"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/network"
	"github.com/hyperjump/ruiji/internal/search"
	"github.com/hyperjump/ruiji/internal/server"
	"github.com/hyperjump/ruiji/internal/vectorize"
	"github.com/hyperjump/ruiji/internal/watcher"
	"github.com/hyperjump/ruiji/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/ruiji/config.yaml"

// loadConfig loads config from path. When path is the default, a
// config.yaml in the current directory takes precedence so that running
// from the project dir uses the project's config.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "add":
		runAdd()
	case "search":
		runSearch()
	case "delete":
		runDelete()
	case "network":
		runNetwork()
	case "curate":
		runCurate()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("ruiji version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	engine, err := initializeEngine(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer engine.Close()

	// Rebuild the similarity index when another process modifies the
	// library file on disk.
	watchOpts := []watcher.Option{}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watch := watcher.New(cfg.Library.Path, func() {
		if err := engine.Rebuild(context.Background()); err != nil {
			logger.Warn("index rebuild after library change failed", zap.Error(err))
		}
	}, watchOpts...)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watch.Start(watchCtx); err != nil {
		logger.Warn("library watcher disabled", zap.Error(err))
	}

	srv := server.NewServer(engine, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// readSpectra reads a JSON file holding either one spectrum object or an
// array of spectra.
func readSpectra(path string) ([]*models.Spectrum, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var many []*models.Spectrum
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}
	var one models.Spectrum
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return []*models.Spectrum{&one}, nil
}

func runAdd() {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	overwrite := fs.Bool("overwrite", false, "replace entries with the same identifier")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: ruiji add [flags] <spectra.json>")
		os.Exit(1)
	}

	engine, logger := mustEngine(*configPath)
	defer engine.Close()
	defer logger.Sync()

	spectra, err := readSpectra(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read spectra: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()
	for _, s := range spectra {
		entry, err := engine.AddSpectrum(ctx, s, *overwrite)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Add failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Stored: %s\n", entry.Identifier)
	}
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = open library directly)")
	topN := fs.Int("top-n", 10, "number of results")
	minScore := fs.Float64("min-score", 0, "minimum similarity score")
	keywordQuery := fs.String("keyword", "", "search by metadata text instead of a spectrum file")
	_ = fs.Parse(os.Args[2:])

	if *keywordQuery == "" && fs.NArg() < 1 {
		fmt.Println("Usage: ruiji search [flags] <query-spectrum.json>")
		fmt.Println("       ruiji search --keyword <text>")
		os.Exit(1)
	}

	if *serverURL != "" && *keywordQuery == "" {
		spectra, err := readSpectra(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read spectrum: %v\n", err)
			os.Exit(1)
		}
		hits, err := searchViaHTTP(*serverURL, spectra[0], *topN, *minScore)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		printHits(hits)
		return
	}

	engine, logger := mustEngine(*configPath)
	defer engine.Close()
	defer logger.Sync()
	ctx := context.Background()

	if *keywordQuery != "" {
		results, err := engine.KeywordSearch(ctx, *keywordQuery, *topN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Keyword search failed: %v\n", err)
			os.Exit(1)
		}
		for _, r := range results {
			fmt.Printf("%.4f  %s\n", r.Score, r.Identifier)
		}
		return
	}

	spectra, err := readSpectra(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read spectrum: %v\n", err)
		os.Exit(1)
	}
	hits, err := engine.Search(ctx, spectra[0], *topN, *minScore)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	printHits(hits)
}

func printHits(hits []models.SearchHit) {
	if len(hits) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, h := range hits {
		if h.PrecursorMZ != nil {
			fmt.Printf("%.4f  %s  (precursor %.4f)\n", h.Score, h.Identifier, *h.PrecursorMZ)
		} else {
			fmt.Printf("%.4f  %s\n", h.Score, h.Identifier)
		}
	}
}

func searchViaHTTP(serverURL string, s *models.Spectrum, topN int, minScore float64) ([]models.SearchHit, error) {
	body, err := json.Marshal(map[string]interface{}{
		"spectrum":  s,
		"top_n":     topN,
		"min_score": minScore,
	})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/search", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var out struct {
		Hits []models.SearchHit `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Hits, nil
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: ruiji delete [flags] <identifier>")
		os.Exit(1)
	}
	identifier := fs.Arg(0)

	engine, logger := mustEngine(*configPath)
	defer engine.Close()
	defer logger.Sync()

	removed, err := engine.RemoveEntry(context.Background(), identifier)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Deletion failed: %v\n", err)
		os.Exit(1)
	}
	if !removed {
		fmt.Printf("Not found: %s\n", identifier)
		os.Exit(1)
	}
	fmt.Printf("Deleted: %s\n", identifier)
}

func runNetwork() {
	fs := flag.NewFlagSet("network", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	metricName := fs.String("metric", "", "similarity metric (default from config)")
	threshold := fs.Float64("threshold", 0, "edge score threshold (mutually exclusive with -knn)")
	knn := fs.Int("knn", 0, "neighbors per node (mutually exclusive with -threshold)")
	directed := fs.Bool("directed", false, "keep directed knn edges")
	spectraPath := fs.String("spectra", "", "build over a spectra JSON file instead of the library")
	output := fs.String("output", "", "write the graph JSON to this file instead of stdout")
	_ = fs.Parse(os.Args[2:])

	engine, logger := mustEngine(*configPath)
	defer engine.Close()
	defer logger.Sync()

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	name := *metricName
	if name == "" {
		name = cfg.Network.Metric
	}
	metric, err := search.ParseMetric(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	policy := network.Policy{Undirected: !*directed}
	if *threshold > 0 {
		policy.Threshold = threshold
	}
	if *knn > 0 {
		policy.KNN = knn
	}
	if policy.Threshold == nil && policy.KNN == nil {
		t := cfg.Network.Threshold
		policy.Threshold = &t
	}

	ctx := context.Background()
	var (
		nodes []*network.Node
		edges []network.Edge
	)
	if *spectraPath != "" {
		spectra, err := readSpectra(*spectraPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read spectra: %v\n", err)
			os.Exit(1)
		}
		nodes, edges, err = engine.BuildNetworkFromSpectra(ctx, spectra, metric, policy)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Network build failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		nodes, edges, err = engine.BuildNetwork(ctx, metric, policy)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Network build failed: %v\n", err)
			os.Exit(1)
		}
	}

	graph := map[string]interface{}{"nodes": nodes, "edges": edges}
	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create output: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(graph); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%d nodes, %d edges\n", len(nodes), len(edges))
}

func runCurate() {
	fs := flag.NewFlagSet("curate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	apply := fs.Bool("apply", false, "remove dropped and merged entries (default is a dry run)")
	_ = fs.Parse(os.Args[2:])

	engine, logger := mustEngine(*configPath)
	defer engine.Close()
	defer logger.Sync()

	report, err := engine.Curate(context.Background(), *apply)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Curation failed: %v\n", err)
		os.Exit(1)
	}
	for _, d := range report.Dropped {
		fmt.Printf("drop  %s  score=%.2f  issues=%v\n", d.Identifier, d.Score, d.Issues)
	}
	for _, g := range report.Merged {
		fmt.Printf("merge %v -> %s\n", g.Members, g.Representative)
	}
	mode := "dry run"
	if *apply {
		mode = "applied"
	}
	fmt.Printf("kept %d, dropped %d, merged %d group(s) (%s)\n",
		len(report.KeptIDs), len(report.Dropped), len(report.Merged), mode)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = open library directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	var st search.Status
	if *serverURL != "" {
		resp, err := http.Get(*serverURL + "/api/v1/status")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		engine, logger := mustEngine(*configPath)
		defer engine.Close()
		defer logger.Sync()
		var err error
		st, err = engine.Status(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		fmt.Printf("entries:         %d\n", st.Entries)
		fmt.Printf("index_kind:      %s\n", st.IndexKind)
		fmt.Printf("index_size:      %d\n", st.IndexSize)
		fmt.Printf("schema_version:  %s\n", st.SchemaVersion)
		fmt.Printf("vectorizer:      %s\n", st.Vectorizer)
		fmt.Printf("library_path:    %s\n", st.LibraryPath)
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

// mustEngine loads config, builds the engine, and exits on failure.
func mustEngine(configPath string) (*search.Engine, *zap.Logger) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	engine, err := initializeEngine(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	return engine, logger
}

func initializeEngine(cfg *config.Config, logger *zap.Logger) (*search.Engine, error) {
	if dir := filepath.Dir(cfg.Library.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	lib, err := library.Open(cfg.Library.Path, logger)
	if err != nil {
		return nil, err
	}

	v, err := vectorize.New(cfg.Vectorizer.Kind, cfg.Vectorizer.ModelPath, cfg.Vectorizer.Dimension, logger)
	if err != nil {
		_ = lib.Close()
		return nil, fmt.Errorf("failed to initialize vectorizer: %w", err)
	}

	kw, err := keyword.NewBleveIndex(cfg.Library.BleveIndexPath)
	if err != nil {
		_ = lib.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	engine, err := search.NewEngine(cfg, lib, v, kw, logger)
	if err != nil {
		_ = kw.Close()
		_ = lib.Close()
		return nil, err
	}
	return engine, nil
}

func printUsage() {
	fmt.Println(`ruiji - Spectral library similarity search

Usage:
  ruiji server [flags]              Start the HTTP server
  ruiji add [flags] <spectra.json>  Vectorize and store spectra
  ruiji search [flags] <query.json> Search the library with a spectrum
  ruiji delete [flags] <id>         Delete a library entry
  ruiji network [flags]             Build a similarity network
  ruiji curate [flags]              Quality-check and deduplicate entries
  ruiji status [flags]              Show library and index status
  ruiji version                     Show version
  ruiji help                        Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/ruiji/config.yaml)
  --debug            Enable debug logging

Add Flags:
  --config string    Config file path
  --overwrite        Replace entries with the same identifier

Search Flags:
  --config string     Config file path
  --server string     Server URL; empty opens the library directly
  --top-n int         Number of results (default: 10)
  --min-score float   Minimum similarity score
  --keyword string    Search by metadata text instead of a spectrum

Network Flags:
  --config string     Config file path
  --metric string     cosine, modified_cosine, or vector_cosine
  --threshold float   Edge score threshold
  --knn int           Neighbors per node
  --directed          Keep directed knn edges
  --spectra string    Build over a spectra JSON file instead of the library
  --output string     Write graph JSON to a file

Curate Flags:
  --config string    Config file path
  --apply            Remove dropped and merged entries (default: dry run)

Examples:
  ruiji server
  ruiji add spectra.json
  ruiji search query.json --top-n 5 --min-score 0.6
  ruiji search --keyword caffeine
  ruiji network --threshold 0.7 --output network.json
  ruiji curate --apply
  ruiji status --output json`)
}
