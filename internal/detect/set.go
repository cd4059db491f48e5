package detect

import (
	"fmt"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

// Set fans entries out to a fixed list of detectors
type Set struct {
	detectors []Detector
}

// NewSet creates a set over detectors
func NewSet(detectors ...Detector) *Set {
	return &Set{detectors: detectors}
}

// NewSetFromConfig creates a set with the built-in brute force detector
// followed by the configured threshold detectors
func NewSetFromConfig(configs []ThresholdConfig) (*Set, error) {
	detectors := []Detector{NewBruteForce()}
	for _, cfg := range configs {
		d, err := NewThresholdDetector(cfg)
		if err != nil {
			return nil, err
		}
		detectors = append(detectors, d)
	}
	return NewSet(detectors...), nil
}

// Observe feeds the entry to every detector
func (s *Set) Observe(entry types.LogEntry) {
	for _, d := range s.detectors {
		d.Observe(entry)
	}
}

// Results returns the findings of detectors that fired, in detector order
func (s *Set) Results() []types.DetectionResult {
	results := make([]types.DetectionResult, 0)
	for _, d := range s.detectors {
		if r := d.Result(); r != nil {
			results = append(results, *r)
		}
	}
	return results
}

// Names returns the detector names in order
func (s *Set) Names() []string {
	names := make([]string, len(s.detectors))
	for i, d := range s.detectors {
		names[i] = d.Name()
	}
	return names
}

// Reset clears every detector
func (s *Set) Reset() {
	for _, d := range s.detectors {
		d.Reset()
	}
}

// Merge combines another set built from the same configuration into this one
func (s *Set) Merge(other *Set) error {
	if other == nil {
		return nil
	}
	if len(other.detectors) != len(s.detectors) {
		return fmt.Errorf("cannot merge detector sets of size %d and %d", len(s.detectors), len(other.detectors))
	}
	for i, d := range s.detectors {
		m, ok := d.(Merger)
		if !ok {
			return fmt.Errorf("detector %s does not support merging", d.Name())
		}
		if err := m.Merge(other.detectors[i]); err != nil {
			return err
		}
	}
	return nil
}
