// Command loadtest drives synthetic log traffic through the triage pipeline,
// either in process or against a running logtriage server.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/detect"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/input"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/logging"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/parser"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/rules"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/server"
	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

var (
	mode           = flag.String("mode", "pipeline", "Where lines go: pipeline (in process), post (HTTP) or write (stdout)")
	duration       = flag.Int("duration", 30, "Test duration in seconds")
	workers        = flag.Int("workers", 4, "Number of worker goroutines")
	batchSize      = flag.Int("batch", 1000, "Lines per pipeline run or request")
	targetURL      = flag.String("url", "http://localhost:8080", "Server base URL for post mode")
	apiKey         = flag.String("api-key", "", "API key for post mode")
	seed           = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	reportInterval = flag.Int("interval", 5, "Report interval in seconds")
)

// Stats tracks load test statistics
type Stats struct {
	linesSent    uint64
	batches      uint64
	batchErrors  uint64
	findings     uint64
	latencyNanos uint64
	startTime    time.Time
}

func (s *Stats) Report() {
	elapsed := time.Since(s.startTime).Seconds()
	lines := atomic.LoadUint64(&s.linesSent)
	batches := atomic.LoadUint64(&s.batches)
	batchErrors := atomic.LoadUint64(&s.batchErrors)
	findings := atomic.LoadUint64(&s.findings)
	latency := time.Duration(atomic.LoadUint64(&s.latencyNanos))

	avg := time.Duration(0)
	if batches > 0 {
		avg = latency / time.Duration(batches)
	}

	fmt.Fprintf(os.Stderr, "\n=== Load Test Statistics ===\n")
	fmt.Fprintf(os.Stderr, "Duration: %.2f seconds\n", elapsed)
	fmt.Fprintf(os.Stderr, "Lines: %d (%.0f/sec)\n", lines, float64(lines)/elapsed)
	fmt.Fprintf(os.Stderr, "Batches: %d (avg latency %s)\n", batches, avg)
	fmt.Fprintf(os.Stderr, "Batch Errors: %d\n", batchErrors)
	fmt.Fprintf(os.Stderr, "Findings: %d\n", findings)
	fmt.Fprintf(os.Stderr, "============================\n\n")
}

func (s *Stats) record(lines int, took time.Duration, findings int, err error) {
	atomic.AddUint64(&s.batches, 1)
	atomic.AddUint64(&s.latencyNanos, uint64(took))
	if err != nil {
		atomic.AddUint64(&s.batchErrors, 1)
		return
	}
	atomic.AddUint64(&s.linesSent, uint64(lines))
	atomic.AddUint64(&s.findings, uint64(findings))
}

// batchFunc handles one batch of lines and returns the findings it produced
type batchFunc func(ctx context.Context, lines []string) (int, error)

func main() {
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  "info",
		Format: "console",
		Output: os.Stderr,
	})

	if *workers < 1 || *batchSize < 1 {
		fmt.Fprintln(os.Stderr, "Error: workers and batch must be positive")
		os.Exit(1)
	}

	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *logging.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelRun := context.WithTimeout(ctx, time.Duration(*duration)*time.Second)
	defer cancelRun()

	handle, err := newBatchFunc(*mode)
	if err != nil {
		return err
	}

	logger.Info().
		Str("mode", *mode).
		Int("workers", *workers).
		Int("batch", *batchSize).
		Int("duration_s", *duration).
		Msg("Starting load test")

	stats := &Stats{startTime: time.Now()}

	// Start periodic reporting
	go func() {
		ticker := time.NewTicker(time.Duration(*reportInterval) * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats.Report()
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runWorker(ctx, NewGenerator(*seed+int64(workerID)), handle, stats)
		}(i)
	}
	wg.Wait()

	stats.Report()
	return nil
}

func runWorker(ctx context.Context, gen *Generator, handle batchFunc, stats *Stats) {
	for ctx.Err() == nil {
		lines := gen.Lines(*batchSize)
		start := time.Now()
		findings, err := handle(ctx, lines)
		if ctx.Err() != nil {
			return
		}
		stats.record(len(lines), time.Since(start), findings, err)
	}
}

func newBatchFunc(mode string) (batchFunc, error) {
	switch mode {
	case "pipeline":
		return newPipelineBatch()
	case "post":
		return newPostBatch(&http.Client{Timeout: 30 * time.Second}, *targetURL, *apiKey), nil
	case "write":
		return newWriteBatch(), nil
	default:
		return nil, fmt.Errorf("unsupported mode: %s", mode)
	}
}

var loadtestRules = []types.TriageRule{
	{
		Name:   "auth failures",
		Where:  types.WhereClause{Contains: types.StringSet{"invalid credentials"}},
		Action: types.Action{Bucket: "auth", AddTag: types.StringSet{"security"}},
	},
	{
		Where:  types.WhereClause{Service: types.StringSet{"db"}},
		Action: types.Action{Bucket: "database"},
	},
	{
		Where:  types.WhereClause{Level: types.StringSet{"debug"}},
		Action: types.Action{Drop: true},
	},
}

// newPipelineBatch triages each batch in process with a small rule set
func newPipelineBatch() (batchFunc, error) {
	engine := rules.New(loadtestRules, logging.Nop())
	p, err := pipeline.New(pipeline.Config{
		Detectors: []detect.ThresholdConfig{{
			Name:      "db-timeouts",
			Pattern:   `query timeout`,
			Threshold: 50,
			Severity:  types.SeverityMedium,
		}},
	}, parser.NewChain(), engine, pipeline.WithLogger(logging.Nop()))
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	return func(ctx context.Context, lines []string) (int, error) {
		result, err := p.Run(ctx, input.NewSliceSource("loadtest", lines))
		if err != nil {
			return 0, err
		}
		return len(result.Summary.Findings), nil
	}, nil
}

// newPostBatch sends each batch to the server's triage endpoint
func newPostBatch(client *http.Client, baseURL, key string) batchFunc {
	url := strings.TrimSuffix(baseURL, "/") + server.TriagePath

	return func(ctx context.Context, lines []string) (int, error) {
		body, err := json.Marshal(map[string][]string{"lines": lines})
		if err != nil {
			return 0, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}

		resp, err := client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return 0, fmt.Errorf("server returned %s", resp.Status)
		}

		var result pipeline.Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return 0, fmt.Errorf("failed to decode result: %w", err)
		}
		if result.Summary == nil {
			return 0, nil
		}
		return len(result.Summary.Findings), nil
	}
}

// newWriteBatch prints each batch to stdout, for piping into logtriage run
func newWriteBatch() batchFunc {
	var mu sync.Mutex
	w := bufio.NewWriterSize(os.Stdout, 64*1024)

	return func(ctx context.Context, lines []string) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		for _, line := range lines {
			w.WriteString(line)
			w.WriteByte('\n')
		}
		return 0, w.Flush()
	}
}
