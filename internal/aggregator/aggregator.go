package aggregator

import (
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

// DefaultSampleCap is the number of sample entries kept per bucket
const DefaultSampleCap = 3

// Options configures an Aggregator
type Options struct {
	SampleCap int              // Samples kept per bucket, DefaultSampleCap when <= 0
	RunID     string           // Generated when empty
	Clock     func() time.Time // Source of GeneratedAt, time.Now when nil
}

// Aggregator folds classified entries into a Summary. It is not safe for
// concurrent use; parallel runs use one Aggregator per partition and Merge.
type Aggregator struct {
	sampleCap int
	clock     func() time.Time
	summary   *types.Summary
}

// New creates a new aggregator
func New(opts Options) *Aggregator {
	if opts.SampleCap <= 0 {
		opts.SampleCap = DefaultSampleCap
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Aggregator{
		sampleCap: opts.SampleCap,
		clock:     opts.Clock,
		summary:   newSummary(opts.RunID),
	}
}

func newSummary(runID string) *types.Summary {
	return &types.Summary{
		RunID:    runID,
		Buckets:  make(map[string]*types.Bucket),
		Tags:     make(map[string]int),
		Levels:   make(map[types.Level]int),
		Services: make(map[string]int),
		Findings: []types.DetectionResult{},
	}
}

// Add accounts for one classified entry. Dropped entries only count toward
// Total and Dropped.
func (a *Aggregator) Add(entry types.LogEntry, cls types.Classification) {
	s := a.summary
	s.Total++

	if cls.Drop {
		s.Dropped++
		return
	}

	buckets := cls.Buckets
	if len(buckets) == 0 {
		buckets = []string{types.UnassignedBucket}
	}

	for _, name := range buckets {
		b, ok := s.Buckets[name]
		if !ok {
			b = types.NewBucket(name)
			s.Buckets[name] = b
		}
		b.Count++
		b.Levels[entry.Level]++
		for _, tag := range cls.Tags {
			b.Tags[tag]++
		}
		if len(b.Samples) < a.sampleCap {
			b.Samples = append(b.Samples, entry)
		}
	}

	for _, tag := range cls.Tags {
		s.Tags[tag]++
	}
	s.Levels[entry.Level]++
	if entry.Service != "" {
		s.Services[entry.Service]++
	}
}

// AddFindings appends detector findings to the summary
func (a *Aggregator) AddFindings(findings ...types.DetectionResult) {
	a.summary.Findings = append(a.summary.Findings, findings...)
}

// Merge folds a partial summary into this aggregator's state
func (a *Aggregator) Merge(other *types.Summary) {
	if other == nil {
		return
	}
	runID := a.summary.RunID
	a.summary = merge(a.sampleCap, a.summary, other)
	a.summary.RunID = runID
}

// Summary returns an independent snapshot stamped with the current time
func (a *Aggregator) Summary() *types.Summary {
	out := clone(a.summary)
	out.GeneratedAt = a.clock().UTC()
	return out
}

// Merge combines two partial summaries using the default sample cap
func Merge(x, y *types.Summary) *types.Summary {
	return MergeCapped(DefaultSampleCap, x, y)
}

// MergeCapped combines two partial summaries. Counters add, samples are
// concatenated in argument order then capped, findings are concatenated.
// Neither input is modified.
func MergeCapped(sampleCap int, x, y *types.Summary) *types.Summary {
	if sampleCap <= 0 {
		sampleCap = DefaultSampleCap
	}
	switch {
	case x == nil && y == nil:
		return newSummary("")
	case x == nil:
		return clone(y)
	case y == nil:
		return clone(x)
	}
	return merge(sampleCap, x, y)
}

func merge(sampleCap int, x, y *types.Summary) *types.Summary {
	out := clone(x)
	if out.RunID == "" {
		out.RunID = y.RunID
	}
	if y.GeneratedAt.After(out.GeneratedAt) {
		out.GeneratedAt = y.GeneratedAt
	}

	out.Total += y.Total
	out.Dropped += y.Dropped

	for name, yb := range y.Buckets {
		ob, ok := out.Buckets[name]
		if !ok {
			ob = types.NewBucket(name)
			out.Buckets[name] = ob
		}
		ob.Count += yb.Count
		addLevels(ob.Levels, yb.Levels)
		addCounts(ob.Tags, yb.Tags)
		for _, e := range yb.Samples {
			if len(ob.Samples) >= sampleCap {
				break
			}
			ob.Samples = append(ob.Samples, e)
		}
	}
	for _, ob := range out.Buckets {
		if len(ob.Samples) > sampleCap {
			ob.Samples = ob.Samples[:sampleCap]
		}
	}

	addCounts(out.Tags, y.Tags)
	addLevels(out.Levels, y.Levels)
	addCounts(out.Services, y.Services)
	out.Findings = append(out.Findings, y.Findings...)

	return out
}

func clone(s *types.Summary) *types.Summary {
	out := newSummary(s.RunID)
	out.GeneratedAt = s.GeneratedAt
	out.Total = s.Total
	out.Dropped = s.Dropped

	for name, b := range s.Buckets {
		nb := types.NewBucket(name)
		nb.Count = b.Count
		addLevels(nb.Levels, b.Levels)
		addCounts(nb.Tags, b.Tags)
		nb.Samples = append(nb.Samples, b.Samples...)
		out.Buckets[name] = nb
	}
	addCounts(out.Tags, s.Tags)
	addLevels(out.Levels, s.Levels)
	addCounts(out.Services, s.Services)
	out.Findings = append(out.Findings, s.Findings...)

	return out
}

func addCounts(dst, src map[string]int) {
	for k, v := range src {
		dst[k] += v
	}
}

func addLevels(dst, src map[types.Level]int) {
	for k, v := range src {
		dst[k] += v
	}
}
