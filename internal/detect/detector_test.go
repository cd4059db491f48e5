package detect

import (
	"testing"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

func authEntries(failures, others int) []types.LogEntry {
	entries := make([]types.LogEntry, 0, failures+others)
	for i := 0; i < failures; i++ {
		msg := "Invalid credentials for user admin"
		if i%2 == 1 {
			msg = "AUTHENTICATION FAILED from 10.0.0.1"
		}
		entries = append(entries, types.LogEntry{Level: types.LevelWarn, Message: msg})
	}
	for i := 0; i < others; i++ {
		entries = append(entries, types.LogEntry{Level: types.LevelInfo, Message: "login ok"})
	}
	return entries
}

func TestDetectBruteForce(t *testing.T) {
	tests := []struct {
		name      string
		entries   []types.LogEntry
		wantNil   bool
		wantCount int
	}{
		{name: "no entries", entries: nil, wantNil: true},
		{name: "below threshold", entries: authEntries(4, 10), wantNil: true},
		{name: "at threshold", entries: authEntries(5, 0), wantCount: 5},
		{name: "above threshold", entries: authEntries(9, 3), wantCount: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectBruteForce(tt.entries)
			if tt.wantNil {
				if got != nil {
					t.Errorf("DetectBruteForce() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("DetectBruteForce() = nil, want finding")
			}
			if got.Count != tt.wantCount {
				t.Errorf("Count = %d, want %d", got.Count, tt.wantCount)
			}
			if got.Severity != types.SeverityHigh {
				t.Errorf("Severity = %s, want HIGH", got.Severity)
			}
			if got.Name != BruteForceName {
				t.Errorf("Name = %q", got.Name)
			}
			want := types.MitreMapping{Tactic: "Credential Access", Technique: "Brute Force", TechniqueID: "T1110"}
			if got.Mitre != want {
				t.Errorf("Mitre = %+v, want %+v", got.Mitre, want)
			}
		})
	}
}

func TestDetect_ResetsState(t *testing.T) {
	d := NewBruteForce()
	if r := Detect(authEntries(5, 0), d); r == nil || r.Count != 5 {
		t.Fatalf("first run = %+v, want count 5", r)
	}
	if r := Detect(authEntries(5, 0), d); r == nil || r.Count != 5 {
		t.Errorf("second run = %+v, want count 5 after reset", r)
	}
}

func TestThresholdDetector_MatchesMessageOnly(t *testing.T) {
	d := NewBruteForce()
	d.Observe(types.LogEntry{Message: "ok", Raw: "authentication failed", Service: "authentication failed"})
	if d.Count() != 0 {
		t.Errorf("Count() = %d, want 0 when only raw and service match", d.Count())
	}
}

func TestNewThresholdDetector_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  ThresholdConfig
	}{
		{"missing name", ThresholdConfig{Pattern: "x", Threshold: 1}},
		{"missing pattern", ThresholdConfig{Name: "n", Threshold: 1}},
		{"zero threshold", ThresholdConfig{Name: "n", Pattern: "x"}},
		{"bad pattern", ThresholdConfig{Name: "n", Pattern: "(", Threshold: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewThresholdDetector(tt.cfg); err == nil {
				t.Error("NewThresholdDetector() expected error")
			}
		})
	}
}

func TestSet_MergeAcrossPartitions(t *testing.T) {
	cfgs := []ThresholdConfig{{
		Name:      "Disk Pressure",
		Pattern:   `disk full|no space left`,
		Threshold: 2,
		Severity:  types.SeverityMedium,
	}}

	left, err := NewSetFromConfig(cfgs)
	if err != nil {
		t.Fatalf("NewSetFromConfig() error = %v", err)
	}
	right, err := NewSetFromConfig(cfgs)
	if err != nil {
		t.Fatalf("NewSetFromConfig() error = %v", err)
	}

	// 3 + 3 failures: neither partition fires alone
	for _, e := range authEntries(3, 1) {
		left.Observe(e)
	}
	for _, e := range authEntries(3, 0) {
		right.Observe(e)
	}
	left.Observe(types.LogEntry{Message: "disk full"})
	right.Observe(types.LogEntry{Message: "No space left on device"})

	if got := left.Results(); len(got) != 0 {
		t.Fatalf("partition results = %+v, want none", got)
	}

	if err := left.Merge(right); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	results := left.Results()
	if len(results) != 2 {
		t.Fatalf("merged results = %+v, want 2 findings", results)
	}
	if results[0].Name != BruteForceName || results[0].Count != 6 {
		t.Errorf("results[0] = %+v, want brute force x6", results[0])
	}
	if results[1].Name != "Disk Pressure" || results[1].Count != 2 {
		t.Errorf("results[1] = %+v, want disk pressure x2", results[1])
	}

	if names := left.Names(); len(names) != 2 || names[1] != "Disk Pressure" {
		t.Errorf("Names() = %v", names)
	}

	left.Reset()
	if got := left.Results(); len(got) != 0 {
		t.Errorf("Results() after Reset = %+v", got)
	}
}

func TestSet_MergeMismatch(t *testing.T) {
	a := NewSet(NewBruteForce())
	b := NewSet()
	if err := a.Merge(b); err == nil {
		t.Error("Merge() expected error for different sizes")
	}
}
