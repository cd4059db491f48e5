package pipeline

import (
	"github.com/therealutkarshpriyadarshi/logtriage/internal/aggregator"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/detect"
	"github.com/therealutkarshpriyadarshi/logtriage/internal/fingerprint"
)

// partial is the state owned by one partition of a run
type partial struct {
	agg       *aggregator.Aggregator
	issues    *fingerprint.Table
	detectors *detect.Set
	queue     *detect.Queue
	entries   int
}

func (p *Pipeline) newPartial(runID string) *partial {
	// Configurations were validated in New
	detectors, _ := detect.NewSetFromConfig(p.config.Detectors)

	return &partial{
		agg: aggregator.New(aggregator.Options{
			SampleCap: p.config.SampleCap,
			RunID:     runID,
			Clock:     p.clock,
		}),
		issues:    fingerprint.NewTable(),
		detectors: detectors,
		queue:     detect.NewQueue(p.config.Ranked),
	}
}

// merge folds a later partition into this one
func (st *partial) merge(other *partial) error {
	st.agg.Merge(other.agg.Summary())
	st.issues.Merge(other.issues)
	st.queue.Merge(other.queue)
	st.entries += other.entries
	return st.detectors.Merge(other.detectors)
}
