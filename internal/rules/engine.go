package rules

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/logging"
	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

// compiledRule is a rule with its regex and needles prepared once
type compiledRule struct {
	rule    types.TriageRule
	needles []string
	regex   *regexp.Regexp
	invalid bool
}

// Engine classifies entries against an ordered rule set.
// It is immutable after construction and safe for concurrent use.
type Engine struct {
	rules   []compiledRule
	invalid int
	logger  *logging.Logger
}

// New compiles rules into an engine. A rule whose regex does not compile
// never matches; it is logged once and does not fail construction.
func New(rules []types.TriageRule, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Global()
	}

	e := &Engine{
		rules:  make([]compiledRule, 0, len(rules)),
		logger: logger.WithComponent("rules"),
	}

	for i, r := range rules {
		cr := compiledRule{rule: r, needles: lowerAll(r.Where.Contains)}

		if r.Where.Regex != "" {
			re, err := compileRegex(r.Where.Regex)
			if err != nil {
				cr.invalid = true
				e.invalid++
				e.logger.Warn().
					Err(err).
					Int("rule_index", i).
					Str("rule", r.Name).
					Str("regex", r.Where.Regex).
					Msg("Rule regex does not compile, rule will never match")
			}
			cr.regex = re
		}

		e.rules = append(e.rules, cr)
	}

	e.logger.Debug().Int("rules", len(e.rules)).Int("invalid", e.invalid).Msg("Rule engine compiled")
	return e
}

// Classify evaluates every rule in order and combines the matching actions.
// Buckets and tags keep match order, elevate is last-wins and drop is sticky.
func (e *Engine) Classify(entry types.LogEntry) types.Classification {
	result := types.Classification{
		Buckets: []string{},
		Tags:    []string{},
	}

	var haystack string
	haveHaystack := false

	for _, cr := range e.rules {
		if cr.invalid {
			continue
		}
		if len(cr.needles) > 0 && !haveHaystack {
			haystack = searchText(entry)
			haveHaystack = true
		}
		if !cr.matches(entry, haystack) {
			continue
		}

		action := cr.rule.Action
		if action.Bucket != "" {
			result.Buckets = append(result.Buckets, action.Bucket)
		}
		result.Tags = append(result.Tags, action.AddTag...)
		if action.Elevate != "" {
			result.Elevate = action.Elevate
		}
		if action.Drop {
			result.Drop = true
		}
	}

	if len(result.Buckets) == 0 {
		result.Buckets = append(result.Buckets, types.UnassignedBucket)
	}
	return result
}

// Len returns the number of rules, including ones that never match
func (e *Engine) Len() int {
	return len(e.rules)
}

// Invalid returns the number of rules disabled by an invalid regex
func (e *Engine) Invalid() int {
	return e.invalid
}

func (cr compiledRule) matches(entry types.LogEntry, haystack string) bool {
	w := cr.rule.Where
	if len(w.Level) > 0 && !w.Level.Contains(string(entry.Level)) {
		return false
	}
	if len(w.Service) > 0 && !w.Service.Contains(entry.Service) {
		return false
	}
	if len(cr.needles) > 0 && !containsAny(haystack, cr.needles) {
		return false
	}
	if cr.regex != nil && !cr.regex.MatchString(entry.Raw) {
		return false
	}
	return true
}

// MatchWhere reports whether entry satisfies where. The regex is compiled on
// each call; an invalid regex never matches.
func MatchWhere(entry types.LogEntry, where types.WhereClause) bool {
	cr := compiledRule{
		rule:    types.TriageRule{Where: where},
		needles: lowerAll(where.Contains),
	}
	if where.Regex != "" {
		re, err := compileRegex(where.Regex)
		if err != nil {
			return false
		}
		cr.regex = re
	}

	var haystack string
	if len(cr.needles) > 0 {
		haystack = searchText(entry)
	}
	return cr.matches(entry, haystack)
}

func compileRegex(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

// searchText is the lowercased text that contains-needles are searched in:
// the message, a space, then the metadata as JSON ({} when absent)
func searchText(entry types.LogEntry) string {
	meta := "{}"
	if entry.Metadata != nil {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(entry.Metadata); err == nil {
			meta = strings.TrimSuffix(buf.String(), "\n")
		}
	}
	return strings.ToLower(entry.Message + " " + meta)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func lowerAll(values types.StringSet) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}
