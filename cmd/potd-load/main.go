package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/openpotd/internal/loadgen"
)

// Default configuration constants.
const (
	defaultUsers      = 1000
	defaultUserOffset = 1_000_000
	defaultMaxWrong   = 4
	defaultPool       = 100
	defaultTopN       = 50
	defaultWorkers    = 2 // multiplier for runtime.NumCPU()
	defaultTimeout    = 30 * time.Second
	defaultRunTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		season     = flag.Int64("season", 0, "Season id, 0 for the running season")
		users      = flag.Int("users", defaultUsers, "Number of distinct users")
		offset     = flag.Int64("offset", defaultUserOffset, "First generated user id")
		maxWrong   = flag.Int("max-wrong", defaultMaxWrong, "Most wrong attempts before the correct one")
		answer     = flag.Int64("answer", 0, "Correct answer of the current problem")
		pool       = flag.Float64("pool", defaultPool, "Point pool configured on the server")
		topN       = flag.Int("top", defaultTopN, "Ranking entries to verify")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		outputFile = flag.String("output", "", "Write generated scripts to this JSON file")
		logFile    = flag.String("log", "", "Also log to this file")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadgen.ShowHelp()
		return
	}

	closer, err := loadgen.SetupLogging(*logFile, *verbose)
	if err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)

	err = loadgen.Run(ctx, &loadgen.Config{
		BaseURL:    *baseURL,
		SeasonID:   *season,
		Users:      *users,
		UserOffset: *offset,
		MaxWrong:   *maxWrong,
		Answer:     *answer,
		Pool:       *pool,
		TopN:       *topN,
		Workers:    *workers,
		Timeout:    *timeout,
		OutputFile: *outputFile,
		Verbose:    *verbose,
	})
	stop()
	cancel()
	_ = closer.Close()
	if err != nil {
		_, _ = os.Stderr.WriteString("Load run failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
