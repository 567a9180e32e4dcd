package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/prepress/preflight/analysis"
	"github.com/prepress/preflight/rules"
)

type options struct {
	paths    []string
	password string
	minDPI   float64
	rulesDir string
	compact  bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: go run ./cmd/inspect [flags] <pdf> [<pdf>...]\n")
		flag.PrintDefaults()
	}
	password := flag.String("password", "", "Password to open encrypted PDFs")
	minDPI := flag.Float64("min-dpi", analysis.DefaultMinImageDPI, "Resolution threshold for low DPI images")
	rulesDir := flag.String("rules", "", "Directory of JavaScript rule files to apply")
	compact := flag.Bool("compact", false, "Emit compact JSON instead of indented")
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		return options{}, fmt.Errorf("missing pdf path")
	}
	opts.paths = flag.Args()
	opts.password = *password
	opts.minDPI = *minDPI
	opts.rulesDir = *rulesDir
	opts.compact = *compact
	return opts, nil
}

func run(opts options) error {
	analyzer := analysis.New(analysis.Config{
		MinImageDPI: opts.minDPI,
		Password:    opts.password,
	})

	var engine *rules.Engine
	if opts.rulesDir != "" {
		loaded, err := rules.LoadDir(opts.rulesDir)
		if err != nil {
			return err
		}
		engine = rules.NewEngine(loaded...)
	}

	ctx := context.Background()
	for _, path := range opts.paths {
		rep, err := analyzeFile(ctx, analyzer, engine, path)
		if err != nil {
			return err
		}
		if len(opts.paths) > 1 {
			fmt.Printf("== %s ==\n", path)
		}
		if err := emit(rep, opts.compact); err != nil {
			return err
		}
	}
	return nil
}

func analyzeFile(ctx context.Context, analyzer *analysis.Analyzer, engine *rules.Engine, path string) (*analysis.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	rep := analyzer.Analyze(ctx, f)
	if engine != nil {
		engine.Apply(ctx, rep)
	}
	return rep, nil
}

func emit(rep *analysis.Report, compact bool) error {
	var data []byte
	var err error
	if compact {
		data, err = json.Marshal(rep)
	} else {
		data, err = json.MarshalIndent(rep, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	fmt.Printf("%s\n", data)
	return nil
}
