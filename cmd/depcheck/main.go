// Command depcheck reports declared shared-library dependencies that
// contribute no resolved symbol to the ELF executables or shared objects
// given on the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/jamestiotio/depcheck/elfdep/analysis"
	"github.com/jamestiotio/depcheck/elfdep/fileset"
	"github.com/jamestiotio/depcheck/elfdep/report"
	"github.com/jamestiotio/depcheck/pkg/depcheckcontext"
	"github.com/jamestiotio/depcheck/pkg/util/build"
)

var cfg struct {
	verbose bool
	output  string
	jobs    int
	paths   []string
}

var (
	consoleOutput = os.Stderr
	logger        = log.NewLogfmtLogger(consoleOutput)
)

func main() {
	ctx := depcheckcontext.WithLogger(context.Background(), logger)

	app := kingpin.New(filepath.Base(os.Args[0]), "Find unused direct dependencies of ELF executables and shared objects.").UsageWriter(os.Stdout)
	app.Version(build.Summary())
	app.HelpFlag.Short('h')
	app.Flag("version-json", "Print build information as JSON and exit.").Action(func(*kingpin.ParseContext) error {
		fmt.Fprintln(os.Stdout, build.PrettyJSON())
		os.Exit(0)
		return nil
	}).Bool()
	app.Flag("verbose", "Enable verbose logging and per-symbol attribution output.").Short('v').Default("0").BoolVar(&cfg.verbose)
	app.Flag("output", "Output format: text or json.").Short('o').Default("text").EnumVar(&cfg.output, "text", "json")
	app.Flag("jobs", "Number of subjects to analyse concurrently.").Short('j').Default("1").IntVar(&cfg.jobs)
	elfPaths := app.Arg("elf-path", "Path to an ELF executable or shared object.").Required().ExistingFiles()

	kingpin.MustParse(app.Parse(os.Args[1:]))
	cfg.paths = *elfPaths

	if !cfg.verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
		ctx = depcheckcontext.WithLogger(ctx, logger)
	}

	os.Exit(run(ctx, os.Stdout))
}

type outcome struct {
	path string
	res  *analysis.Result
	err  error
}

func run(ctx context.Context, out *os.File) int {
	jobs := cfg.jobs
	if jobs < 1 {
		jobs = 1
	}

	paths := make(chan string)
	results := make(chan outcome, len(cfg.paths))

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				results <- analyseOne(depcheckcontext.WithSubject(ctx, path), path)
			}
		}()
	}
	go func() {
		for _, p := range cfg.paths {
			paths <- p
		}
		close(paths)
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	byPath := make(map[string]outcome, len(cfg.paths))
	for o := range results {
		byPath[o.path] = o
	}

	anySucceeded := false
	var texts []outcome
	var jsonResults []*analysis.Result
	for _, p := range cfg.paths {
		o := byPath[p]
		if o.err != nil {
			level.Error(logger).Log("msg", "analysis failed", "subject", p, "err", o.err)
			continue
		}
		anySucceeded = true
		texts = append(texts, o)
		jsonResults = append(jsonResults, o.res)
	}

	switch cfg.output {
	case "json":
		var subjects []string
		for _, o := range texts {
			subjects = append(subjects, o.path)
		}
		if err := (report.JSONReporter{}).Encode(out, subjects, jsonResults); err != nil {
			level.Error(logger).Log("msg", "failed to write output", "err", err)
			return 1
		}
	default:
		r := report.TextReporter{Verbose: cfg.verbose}
		for _, o := range texts {
			if err := r.Write(out, o.path, o.res); err != nil {
				level.Error(logger).Log("msg", "failed to write output", "err", err)
				return 1
			}
		}
	}

	if !anySucceeded {
		fmt.Fprintln(os.Stderr, "error: no subject could be analysed")
		return 1
	}
	return 0
}

// analyseOne loads path and its transitive dependency closure into a
// fresh file set and runs the attribution pipeline against it. Each
// subject gets its own file set: file sets share no mutable state, so
// concurrent subjects never contend with one another.
func analyseOne(ctx context.Context, path string) outcome {
	logger := depcheckcontext.Logger(ctx)

	set := fileset.New("")
	subject, err := set.AddFile(path)
	if err != nil {
		return outcome{path: path, err: err}
	}
	stats := set.Stats()
	level.Debug(logger).Log("msg", "loaded dependency closure", "files", stats.FilesLoaded, "unresolved", stats.UnresolvedCount, "corrupt", stats.CorruptCount)

	res, err := analysis.Analyze(set, subject)
	if err != nil {
		return outcome{path: path, err: err}
	}
	return outcome{path: path, res: res}
}
