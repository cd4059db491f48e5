// Package profiling captures CPU and heap profiles of triage runs and exposes
// the pprof endpoints for a long-running service.
package profiling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	runtimepprof "runtime/pprof"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/logging"
)

// Config holds profiling configuration
type Config struct {
	Enabled            bool   `yaml:"enabled"`
	Address            string `yaml:"address,omitempty"`     // Separate pprof listener, empty to mount on the triage server only
	CPUProfilePath     string `yaml:"cpu_profile,omitempty"` // Written from Start until Stop
	MemProfilePath     string `yaml:"mem_profile,omitempty"` // Written at Stop
	BlockProfile       bool   `yaml:"block_profile,omitempty"`
	MutexProfile       bool   `yaml:"mutex_profile,omitempty"`
	GoroutineThreshold int    `yaml:"goroutine_threshold,omitempty"` // Warn if goroutines exceed this
}

// Profiler manages performance profiling
type Profiler struct {
	config Config
	logger *logging.Logger
	server *http.Server

	cpuFile *os.File

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// New creates a new profiler
func New(config Config, logger *logging.Logger) *Profiler {
	if logger == nil {
		logger = logging.Global()
	}
	if config.GoroutineThreshold == 0 {
		config.GoroutineThreshold = 10000
	}

	return &Profiler{
		config: config,
		logger: logger.WithComponent("profiling"),
	}
}

// Handler serves the pprof endpoints and runtime stats under /debug/
func (p *Profiler) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/debug/stats", statsHandler)
	return mux
}

// Start begins profiling. A disabled profiler does nothing.
func (p *Profiler) Start() error {
	if !p.config.Enabled {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("profiler already started")
	}

	if p.config.BlockProfile {
		runtime.SetBlockProfileRate(1)
	}
	if p.config.MutexProfile {
		runtime.SetMutexProfileFraction(1)
	}

	if p.config.CPUProfilePath != "" {
		if err := p.startCPUProfile(); err != nil {
			return fmt.Errorf("failed to start CPU profiling: %w", err)
		}
	}

	if p.config.Address != "" {
		p.server = &http.Server{
			Addr:    p.config.Address,
			Handler: p.Handler(),
		}
		go func(srv *http.Server) {
			p.logger.Info().Str("address", srv.Addr).Msg("Starting profiling HTTP server")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				p.logger.Error().Err(err).Msg("Profiling server error")
			}
		}(p.server)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.monitorGoroutines(ctx, 30*time.Second)

	p.started = true
	p.logger.Info().Msg("Profiling started")
	return nil
}

// Stop ends the CPU profile, writes the heap profile and stops the listener
func (p *Profiler) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}
	p.started = false
	p.cancel()

	var firstErr error
	if p.cpuFile != nil {
		runtimepprof.StopCPUProfile()
		if err := p.cpuFile.Close(); err != nil {
			firstErr = fmt.Errorf("failed to close CPU profile: %w", err)
		}
		p.cpuFile = nil
		p.logger.Info().Str("path", p.config.CPUProfilePath).Msg("CPU profile saved")
	}

	if p.config.MemProfilePath != "" {
		if err := p.writeMemProfile(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to write memory profile: %w", err)
		}
	}

	if p.server != nil {
		if err := p.server.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to shutdown profiling server: %w", err)
		}
		p.server = nil
	}

	return firstErr
}

// Name identifies the profiler as a shutdown stage
func (p *Profiler) Name() string {
	return "profiling"
}

func (p *Profiler) startCPUProfile() error {
	f, err := os.Create(p.config.CPUProfilePath)
	if err != nil {
		return err
	}

	if err := runtimepprof.StartCPUProfile(f); err != nil {
		f.Close()
		return err
	}

	p.cpuFile = f
	return nil
}

func (p *Profiler) writeMemProfile() error {
	f, err := os.Create(p.config.MemProfilePath)
	if err != nil {
		return err
	}
	defer f.Close()

	runtime.GC() // Get up-to-date statistics

	if err := runtimepprof.WriteHeapProfile(f); err != nil {
		return err
	}

	p.logger.Info().Str("path", p.config.MemProfilePath).Msg("Memory profile saved")
	return nil
}

func (p *Profiler) monitorGoroutines(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := runtime.NumGoroutine()
			if count > p.config.GoroutineThreshold {
				p.logger.Warn().
					Int("goroutines", count).
					Int("threshold", p.config.GoroutineThreshold).
					Msg("High goroutine count detected")
			}
		}
	}
}

// RuntimeStats is the body of /debug/stats
type RuntimeStats struct {
	Goroutines   int    `json:"goroutines"`
	CPUs         int    `json:"cpus"`
	GOMAXPROCS   int    `json:"gomaxprocs"`
	HeapAlloc    uint64 `json:"heapAllocBytes"`
	HeapInuse    uint64 `json:"heapInuseBytes"`
	HeapObjects  uint64 `json:"heapObjects"`
	TotalAlloc   uint64 `json:"totalAllocBytes"`
	Sys          uint64 `json:"sysBytes"`
	NumGC        uint32 `json:"numGC"`
	PauseTotalNs uint64 `json:"pauseTotalNs"`
}

// ReadRuntimeStats samples the Go runtime
func ReadRuntimeStats() RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return RuntimeStats{
		Goroutines:   runtime.NumGoroutine(),
		CPUs:         runtime.NumCPU(),
		GOMAXPROCS:   runtime.GOMAXPROCS(0),
		HeapAlloc:    m.HeapAlloc,
		HeapInuse:    m.HeapInuse,
		HeapObjects:  m.HeapObjects,
		TotalAlloc:   m.TotalAlloc,
		Sys:          m.Sys,
		NumGC:        m.NumGC,
		PauseTotalNs: m.PauseTotalNs,
	}
}

func statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ReadRuntimeStats())
}
