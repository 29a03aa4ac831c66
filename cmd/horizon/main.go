// Package main is the entry point for the Horizon household finance
// simulation engine. It offers two modes:
//
//	horizon run -scenario plan.json [-trials N] [-seed S]
//	    Validate a scenario file, run the Monte Carlo simulation and print
//	    the terminal wealth summary as JSON.
//
//	horizon serve
//	    Start the HTTP API over the scenario and run stores.
//
// Exit codes: 0 on success, 2 when scenario validation fails, 1 on any
// other error.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/horizon/internal/config"
	"github.com/aristath/horizon/internal/database"
	"github.com/aristath/horizon/internal/scenario"
	"github.com/aristath/horizon/internal/server"
	"github.com/aristath/horizon/internal/simulation"
	"github.com/aristath/horizon/pkg/logger"
)

const (
	exitOK              = 0
	exitError           = 1
	exitInvalidScenario = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Error().Err(err).Msg("failed to load configuration")
		return exitError
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: horizon <run|serve> [flags]")
		return exitError
	}

	switch args[0] {
	case "run":
		return runSimulation(args[1:], cfg, log)
	case "serve":
		return serveAPI(cfg, log)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\nusage: horizon <run|serve> [flags]\n", args[0])
		return exitError
	}
}

// runSimulation executes one scenario file end to end and prints the summary.
func runSimulation(args []string, cfg *config.Config, log zerolog.Logger) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	scenarioPath := fs.String("scenario", "", "path to the scenario JSON file (required)")
	trials := fs.Int("trials", cfg.Trials, "number of Monte Carlo trials")
	seed := fs.Uint64("seed", cfg.Seed, "random seed")
	workers := fs.Int("workers", cfg.Workers, "concurrent trials (0 = all cores)")
	keepPaths := fs.Bool("paths", false, "include full month-by-month traces in the output")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "run: -scenario is required")
		return exitError
	}

	scn, err := scenario.Load(*scenarioPath)
	if err != nil {
		log.Error().Err(err).Str("path", *scenarioPath).Msg("failed to load scenario")
		return exitError
	}

	schedule, err := scenario.Validate(scn, log)
	if err != nil {
		log.Error().Err(err).Msg("scenario validation failed")
		return exitInvalidScenario
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := simulation.Options{Trials: *trials, Seed: *seed, Workers: *workers, KeepPaths: *keepPaths}
	runner := simulation.NewRunner(scn, schedule, opts, log)

	res, err := runner.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("run aborted")
		return exitError
	}

	out := any(res.Summary)
	if *keepPaths {
		out = res
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Error().Err(err).Msg("failed to encode output")
		return exitError
	}

	if res.Summary.Completed == 0 {
		log.Error().Int("failed", res.Summary.Failed).Msg("every trial aborted")
		return exitError
	}
	return exitOK
}

// serveAPI starts the HTTP server and blocks until interrupted.
func serveAPI(cfg *config.Config, log zerolog.Logger) int {
	scenariosDB, err := database.New(database.Config{
		Path: cfg.ScenariosDBPath(), Name: "scenarios",
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to open scenarios database")
		return exitError
	}
	defer scenariosDB.Close()

	runsDB, err := database.New(database.Config{
		Path: cfg.RunsDBPath(), Profile: database.ProfileLedger, Name: "runs",
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to open runs database")
		return exitError
	}
	defer runsDB.Close()

	scenarios, err := scenario.NewRepository(scenariosDB, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize scenario repository")
		return exitError
	}
	runs, err := simulation.NewRepository(runsDB, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize run repository")
		return exitError
	}

	srv := server.New(server.Config{Log: log, Cfg: cfg, Scenarios: scenarios, Runs: runs})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
			return exitError
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
			return exitError
		}
	}
	return exitOK
}
