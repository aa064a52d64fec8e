package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"niemgraph/internal/blob"
	"niemgraph/internal/bundle"
	"niemgraph/internal/config"
	"niemgraph/internal/graphsink"
	"niemgraph/internal/pipeline/batch"
	"niemgraph/internal/pipeline/ingest"
	"niemgraph/internal/pipeline/mapping"
	"niemgraph/internal/pipeline/tool"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "schema":
		schemaCmd(os.Args[2:])
	case "ingest":
		ingestCmd(os.Args[2:])
	case "mapping":
		mappingCmd(os.Args[2:])
	case "config":
		configCmd(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  niemgraph schema submit --primary <file.xsd> [--skip-ndr] [--config <file>] <glob>...")
	fmt.Fprintln(os.Stderr, "  niemgraph schema activate [--config <file>] <bundleId>")
	fmt.Fprintln(os.Stderr, "  niemgraph schema list [--config <file>]")
	fmt.Fprintln(os.Stderr, "  niemgraph ingest xml|json [--bundle <id>] [--upload <id>] [--dynamic] [--config <file>] <glob>...")
	fmt.Fprintln(os.Stderr, "  niemgraph mapping show [--bundle <id>] [--config <file>]")
	fmt.Fprintln(os.Stderr, "  niemgraph config show [--config <file>]")
}

func fatal(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	os.Exit(1)
}

// loadConfig reads the named config, or the defaults (plus environment
// overrides) when no file was named and ./niemgraph.yaml does not exist.
func loadConfig(path string) *config.Config {
	if path == "" {
		if _, err := os.Stat("niemgraph.yaml"); err == nil {
			path = "niemgraph.yaml"
		} else {
			return config.Default()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatal("%v", err)
	}
	return cfg
}

// services is the wired pipeline a subcommand runs against.
type services struct {
	cfg     *config.Config
	log     *zap.Logger
	blobs   blob.Store
	gateway *tool.Gateway
	bundles *bundle.Store
	orch    *ingest.Orchestrator
}

func wire(ctx context.Context, cfg *config.Config, needGraph bool) *services {
	log, err := zap.NewProduction()
	if err != nil {
		fatal("logger: %v", err)
	}
	blobs := blob.NewFSStore(afero.NewOsFs(), cfg.BlobSink.Endpoint)
	timeout := time.Duration(cfg.Batch.PerFileTimeoutSeconds) * time.Second
	gw := tool.New(cfg.Tool.CommandPath, timeout, log)
	bundles := bundle.NewStore(blobs, gw, log)

	var sink graphsink.Sink
	if needGraph {
		if cfg.GraphSink.Endpoint == "" {
			fatal("graphSink.endpoint is not configured")
		}
		n, err := graphsink.OpenNeo4j(ctx, cfg.GraphSink.Endpoint, cfg.GraphSink.Username, cfg.GraphSink.Password, "")
		if err != nil {
			fatal("%v", err)
		}
		sink = n
	}

	exec := batch.NewExecutor(cfg.Limits(), log)
	return &services{
		cfg:     cfg,
		log:     log,
		blobs:   blobs,
		gateway: gw,
		bundles: bundles,
		orch:    ingest.New(bundles, gw, exec, sink, blobs, log),
	}
}

// signalContext cancels on SIGINT/SIGTERM so in-flight per-file operations
// observe the batch cancellation signal.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// expandGlobs resolves doublestar patterns (and literal paths) to files.
func expandGlobs(patterns []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range patterns {
		matches, err := doublestar.FilepathGlob(p)
		if err != nil {
			fatal("bad glob %q: %v", p, err)
		}
		if matches == nil {
			// Not a pattern match; accept a literal existing path.
			if _, err := os.Stat(p); err == nil {
				matches = []string{p}
			}
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	if len(out) == 0 {
		fatal("no files match %v", patterns)
	}
	return out
}

func readFiles(paths []string) []batch.File {
	var files []batch.File
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			fatal("%v", err)
		}
		files = append(files, batch.File{Name: filepath.Base(p), Data: data})
	}
	return files
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal("%v", err)
	}
}

func schemaCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	switch args[0] {
	case "submit":
		schemaSubmit(args[1:])
	case "activate":
		schemaActivate(args[1:])
	case "list":
		schemaList(args[1:])
	default:
		usage()
		os.Exit(1)
	}
}

func schemaSubmit(args []string) {
	var primary, configPath string
	var skipNdr bool
	var globs []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--primary":
			i++
			if i >= len(args) {
				fatal("--primary requires a value")
			}
			primary = args[i]
		case "--skip-ndr":
			skipNdr = true
		case "--config":
			i++
			if i >= len(args) {
				fatal("--config requires a value")
			}
			configPath = args[i]
		default:
			globs = append(globs, args[i])
		}
	}
	if primary == "" {
		fatal("--primary is required")
	}

	ctx, stop := signalContext()
	defer stop()
	svc := wire(ctx, loadConfig(configPath), false)
	defer svc.log.Sync()

	paths := expandGlobs(globs)
	var schemaFiles []tool.SchemaFile
	for _, f := range readFiles(paths) {
		schemaFiles = append(schemaFiles, tool.SchemaFile{Name: f.Name, Data: f.Data})
	}

	res, err := svc.bundles.Submit(ctx, schemaFiles, filepath.Base(primary), skipNdr)
	if err != nil {
		fatal("%v", err)
	}
	printJSON(res)
	if !res.Report.Valid {
		os.Exit(2)
	}
}

func schemaActivate(args []string) {
	var configPath, id string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fatal("--config requires a value")
			}
			configPath = args[i]
		default:
			id = args[i]
		}
	}
	if id == "" {
		fatal("bundle id is required")
	}

	ctx, stop := signalContext()
	defer stop()
	svc := wire(ctx, loadConfig(configPath), false)
	defer svc.log.Sync()

	if err := svc.bundles.Activate(ctx, id); err != nil {
		fatal("%v", err)
	}
	fmt.Println("activated", id)
}

func schemaList(args []string) {
	var configPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fatal("--config requires a value")
			}
			configPath = args[i]
		default:
			usage()
			os.Exit(1)
		}
	}

	ctx, stop := signalContext()
	defer stop()
	svc := wire(ctx, loadConfig(configPath), false)
	defer svc.log.Sync()

	list, err := svc.bundles.List(ctx)
	if err != nil {
		fatal("%v", err)
	}
	active, err := svc.bundles.Active(ctx)
	if err != nil {
		active = ""
	}
	printJSON(map[string]any{"active": active, "bundles": list})
}

func ingestCmd(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	var format ingest.Format
	switch args[0] {
	case "xml":
		format = ingest.FormatXML
	case "json":
		format = ingest.FormatJSON
	default:
		usage()
		os.Exit(1)
	}

	var bundleID, uploadID, configPath string
	var dynamic bool
	var globs []string
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--bundle":
			i++
			if i >= len(rest) {
				fatal("--bundle requires a value")
			}
			bundleID = rest[i]
		case "--upload":
			i++
			if i >= len(rest) {
				fatal("--upload requires a value")
			}
			uploadID = rest[i]
		case "--dynamic":
			dynamic = true
		case "--config":
			i++
			if i >= len(rest) {
				fatal("--config requires a value")
			}
			configPath = rest[i]
		default:
			globs = append(globs, rest[i])
		}
	}
	if uploadID == "" {
		uploadID = ingest.NewUploadID()
	}

	ctx, stop := signalContext()
	defer stop()
	svc := wire(ctx, loadConfig(configPath), true)
	defer svc.log.Sync()

	files := readFiles(expandGlobs(globs))

	var res any
	var err error
	if dynamic {
		res, err = svc.orch.IngestDynamic(ctx, uploadID, files, format)
	} else if format == ingest.FormatJSON {
		res, err = svc.orch.IngestJSON(ctx, bundleID, uploadID, files)
	} else {
		res, err = svc.orch.IngestXML(ctx, bundleID, uploadID, files)
	}
	if err != nil {
		fatal("%v", err)
	}
	printJSON(map[string]any{"upload_id": uploadID, "result": res})
}

func mappingCmd(args []string) {
	if len(args) < 1 || args[0] != "show" {
		usage()
		os.Exit(1)
	}
	var bundleID, configPath string
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--bundle":
			i++
			if i >= len(rest) {
				fatal("--bundle requires a value")
			}
			bundleID = rest[i]
		case "--config":
			i++
			if i >= len(rest) {
				fatal("--config requires a value")
			}
			configPath = rest[i]
		default:
			usage()
			os.Exit(1)
		}
	}

	ctx, stop := signalContext()
	defer stop()
	svc := wire(ctx, loadConfig(configPath), false)
	defer svc.log.Sync()

	if bundleID == "" {
		active, err := svc.bundles.Active(ctx)
		if err != nil {
			fatal("%v", err)
		}
		bundleID = active
	}
	m, err := svc.bundles.Mapping(ctx, bundleID)
	if err != nil {
		fatal("%v", err)
	}
	// Same encoder that writes mapping.yaml into the bundle, so the shown
	// document is byte-identical to the persisted one.
	out, err := mapping.Encode(m)
	if err != nil {
		fatal("%v", err)
	}
	os.Stdout.Write(out)
}

func configCmd(args []string) {
	if len(args) < 1 || args[0] != "show" {
		usage()
		os.Exit(1)
	}
	var configPath string
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--config":
			i++
			if i >= len(rest) {
				fatal("--config requires a value")
			}
			configPath = rest[i]
		default:
			usage()
			os.Exit(1)
		}
	}
	out, err := yaml.Marshal(loadConfig(configPath))
	if err != nil {
		fatal("%v", err)
	}
	os.Stdout.Write(out)
}
