package detect

import "github.com/therealutkarshpriyadarshi/logtriage/pkg/types"

// BruteForceName is the finding name of the brute force detector
const BruteForceName = "Brute Force Authentication Attempts"

// BruteForceConfig is the brute force heuristic: five or more failed
// authentication messages, mapped to ATT&CK T1110
var BruteForceConfig = ThresholdConfig{
	Name:      BruteForceName,
	Pattern:   `invalid credentials|authentication failed`,
	Threshold: 5,
	Severity:  types.SeverityHigh,
	Mitre: types.MitreMapping{
		Tactic:      "Credential Access",
		Technique:   "Brute Force",
		TechniqueID: "T1110",
	},
}

// NewBruteForce creates the brute force authentication detector
func NewBruteForce() *ThresholdDetector {
	d, err := NewThresholdDetector(BruteForceConfig)
	if err != nil {
		panic("detect: invalid built-in brute force config: " + err.Error())
	}
	return d
}

// DetectBruteForce runs the brute force heuristic over entries
func DetectBruteForce(entries []types.LogEntry) *types.DetectionResult {
	return Detect(entries, NewBruteForce())
}
