package detect

import (
	"sort"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

// levelWeights assigns each canonical level its triage weight
var levelWeights = map[types.Level]int{
	types.LevelDebug: 1,
	types.LevelInfo:  2,
	types.LevelWarn:  5,
	types.LevelError: 10,
	types.LevelFatal: 20,
}

// Weight returns the severity weight of a level, 0 for non-canonical levels
func Weight(level types.Level) int {
	return levelWeights[level]
}

// Score returns the severity score of an entry
func Score(entry types.LogEntry) int {
	return Weight(entry.Level)
}

// Scored is an entry with its severity score
type Scored struct {
	Entry   types.LogEntry `json:"entry"`
	Score   int            `json:"score"`
	Elevate string         `json:"elevate,omitempty"`
}

// Rank scores entries and orders them by descending score. Entries with
// equal scores keep their input order.
func Rank(entries []types.LogEntry) []Scored {
	out := make([]Scored, len(entries))
	for i, e := range entries {
		out[i] = Scored{Entry: e, Score: Score(e)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
