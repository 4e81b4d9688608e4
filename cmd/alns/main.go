// Command alns solves one instance file and prints the best solution found.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"evroute/internal/config"
	"evroute/internal/logging"
	"evroute/internal/opt"
	"evroute/internal/problem"
	"evroute/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("alns", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath = fs.String("config", "", "YAML config file")
		ev         = fs.Bool("ev", false, "enable the battery model")
		logLevel   = fs.String("log-level", "", "log level (overrides LOG_LEVEL)")
		iterations = fs.Int("iterations", 0, "iteration count (overrides the config)")
		seed       = fs.Int64("seed", 0, "random seed (overrides the config)")
		asJSON     = fs.Bool("json", false, "print the result as JSON")
	)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: alns [-config file.yaml] [-ev] [-log-level debug] instance.txt")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(stderr, "alns: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "alns: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *iterations > 0 {
		cfg.Search.Iterations = *iterations
	}
	if *seed != 0 {
		cfg.Search.Seed = *seed
	}
	logger := logging.NewWithOutput(stderr, cfg.LogLevel, cfg.LogFormat)

	in, err := problem.ReadFile(fs.Arg(0), problem.ReadOptions{EV: *ev || cfg.EV})
	if err != nil {
		logger.WithError(err).Error("load instance")
		return 1
	}
	logger.Info(in.String())

	eng, err := opt.NewEngine(in, cfg.Search, opt.WithLogger(logger))
	if err != nil {
		logger.WithError(err).Error("configure search")
		return 1
	}
	res, err := eng.Run(ctx)
	status := store.StatusDone
	if err != nil {
		status = store.StatusCanceled
		logger.WithError(err).Warn("search stopped early")
	}
	out := store.NewRunResult(status, res.Best, res.Log)

	if cfg.DatabaseURL != "" {
		if err := persist(cfg, in, res, out, logger); err != nil {
			logger.WithError(err).Error("persist run")
			return 1
		}
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			logger.WithError(err).Error("encode result")
			return 1
		}
		return 0
	}
	printResult(stdout, in, res.Best, out.Summary)
	return 0
}

func printResult(w io.Writer, in *problem.Instance, best *opt.Solution, sum *opt.Summary) {
	fmt.Fprintln(w, in)
	fmt.Fprint(w, best)
	var recharges int
	for _, r := range best.Routes() {
		recharges += r.Recharges()
	}
	fmt.Fprintf(w, "routes: %d  served: %d  unserved: %d  recharges: %d\n",
		len(best.Routes()), len(best.Served()), len(best.Unserved()), recharges)
	fmt.Fprintf(w, "total distance: %.2f  feasible: %t\n", best.Cost().Distance, best.Cost().Feasible())
	if sum == nil {
		return
	}
	fmt.Fprintf(w, "iterations: %d  feasible tentative: %.1f%%  mean feasible distance: %.2f  elapsed: %s\n",
		sum.Iterations, sum.FeasiblePercent, sum.MeanCost, sum.Elapsed.Round(time.Millisecond))
	for _, o := range opt.Outcomes {
		fmt.Fprintf(w, "  %-15s %d\n", o.String(), sum.Outcomes[o.String()])
	}
	printCounts(w, "destroy", sum.DestroySelects)
	printCounts(w, "repair", sum.RepairSelects)
}

func printCounts(w io.Writer, kind string, counts map[string]int) {
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %s/%-10s %d\n", kind, n, counts[n])
	}
}

// persist writes the finished run to Postgres so it shows up next to the
// runs of the API server.
func persist(cfg config.Config, in *problem.Instance, res *opt.Result, out store.RunResult, logger *log.Logger) error {
	pg, err := store.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pg.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if cfg.DBMigrate {
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
	}
	id, err := pg.CreateRun(ctx, store.RunInfo{Instance: in.Name, EV: in.IsEV, Params: cfg.Search})
	if err != nil {
		return err
	}
	if err := pg.AppendIterations(ctx, id, res.Log.Records); err != nil {
		return errors.Join(err, pg.FinishRun(ctx, id, store.RunResult{Status: store.StatusFailed, Error: err.Error()}))
	}
	if err := pg.FinishRun(ctx, id, out); err != nil {
		return err
	}
	logger.WithField("run", id).Info("run stored")
	return nil
}
