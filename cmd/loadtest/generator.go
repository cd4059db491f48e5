package main

import (
	"fmt"
	"math/rand"
	"time"
)

// Generator produces synthetic log lines in the formats the line parser
// recognizes, with a share of failed logins so detectors have work to do
type Generator struct {
	rng   *rand.Rand
	clock func() time.Time
}

// NewGenerator returns a generator seeded with seed
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rng:   rand.New(rand.NewSource(seed)),
		clock: time.Now,
	}
}

var services = []string{"api", "auth", "billing", "db", "worker"}

// Line returns one log line
func (g *Generator) Line() string {
	now := g.clock().UTC().Format(time.RFC3339)
	service := services[g.rng.Intn(len(services))]

	switch g.rng.Intn(6) {
	case 0:
		return fmt.Sprintf(`{"ts":"%s","level":"info","service":"%s","msg":"request processed","status":%d,"duration_ms":%d}`,
			now, service, 200+g.rng.Intn(300), g.rng.Intn(1000))
	case 1:
		return fmt.Sprintf(`{"timestamp":"%s","severity":"ERROR","service":"%s","message":"database query timeout after %dms"}`,
			now, service, g.rng.Intn(5000))
	case 2:
		return fmt.Sprintf("[%s] [WARN] %s: high memory usage %dMB", now, service, 4096+g.rng.Intn(8192))
	case 3:
		return fmt.Sprintf("[%s] [ERROR] auth: invalid credentials for user%d from 10.0.0.%d",
			now, g.rng.Intn(20), g.rng.Intn(8))
	case 4:
		return fmt.Sprintf("DEBUG - cache hit key=user:%d ttl=%ds", g.rng.Intn(10000), g.rng.Intn(3600))
	default:
		return fmt.Sprintf("worker %d finished batch %d", g.rng.Intn(16), g.rng.Intn(100000))
	}
}

// Lines returns n log lines
func (g *Generator) Lines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = g.Line()
	}
	return lines
}
