package detect

import (
	"fmt"
	"regexp"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

// Detector is a named heuristic that observes entries one at a time and
// reports at most one finding
type Detector interface {
	// Name returns the finding name
	Name() string

	// Observe feeds one entry to the detector
	Observe(entry types.LogEntry)

	// Result returns the finding, or nil when the heuristic did not fire
	Result() *types.DetectionResult

	// Reset clears observed state
	Reset()
}

// Merger is implemented by detectors whose partial state can be combined
type Merger interface {
	Merge(other Detector) error
}

// Detect runs d over entries from a clean state
func Detect(entries []types.LogEntry, d Detector) *types.DetectionResult {
	d.Reset()
	for _, e := range entries {
		d.Observe(e)
	}
	return d.Result()
}

// ThresholdConfig configures a detector that fires when enough messages match a pattern
type ThresholdConfig struct {
	Name      string             `yaml:"name" json:"name"`
	Pattern   string             `yaml:"pattern" json:"pattern"`
	Threshold int                `yaml:"threshold" json:"threshold"`
	Severity  types.Severity     `yaml:"severity" json:"severity"`
	Mitre     types.MitreMapping `yaml:"mitre" json:"mitre"`
}

// ThresholdDetector counts entries whose message matches a pattern
type ThresholdDetector struct {
	cfg     ThresholdConfig
	pattern *regexp.Regexp
	count   int
}

// NewThresholdDetector creates a new threshold detector. The pattern is
// matched case-insensitively against the entry message.
func NewThresholdDetector(cfg ThresholdConfig) (*ThresholdDetector, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("detector name is required")
	}
	if cfg.Pattern == "" {
		return nil, fmt.Errorf("detector %s: pattern is required", cfg.Name)
	}
	if cfg.Threshold < 1 {
		return nil, fmt.Errorf("detector %s: threshold must be at least 1", cfg.Name)
	}
	if cfg.Severity == "" {
		cfg.Severity = types.SeverityMedium
	}

	re, err := regexp.Compile("(?i)" + cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("detector %s: failed to compile pattern: %w", cfg.Name, err)
	}

	return &ThresholdDetector{cfg: cfg, pattern: re}, nil
}

// Name returns the finding name
func (d *ThresholdDetector) Name() string {
	return d.cfg.Name
}

// Observe counts the entry when its message matches
func (d *ThresholdDetector) Observe(entry types.LogEntry) {
	if d.pattern.MatchString(entry.Message) {
		d.count++
	}
}

// Count returns the number of matching entries observed so far
func (d *ThresholdDetector) Count() int {
	return d.count
}

// Result returns a finding once the match count reaches the threshold
func (d *ThresholdDetector) Result() *types.DetectionResult {
	if d.count < d.cfg.Threshold {
		return nil
	}
	return &types.DetectionResult{
		Name:     d.cfg.Name,
		Severity: d.cfg.Severity,
		Count:    d.count,
		Mitre:    d.cfg.Mitre,
	}
}

// Reset clears the match count
func (d *ThresholdDetector) Reset() {
	d.count = 0
}

// Merge adds another threshold detector's count to this one
func (d *ThresholdDetector) Merge(other Detector) error {
	o, ok := other.(*ThresholdDetector)
	if !ok || o.cfg.Name != d.cfg.Name {
		return fmt.Errorf("cannot merge detector %s into %s", other.Name(), d.cfg.Name)
	}
	d.count += o.count
	return nil
}
