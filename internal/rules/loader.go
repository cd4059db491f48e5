package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

// ruleFile is the wrapped form of a rule document: {rules: [...]}
type ruleFile struct {
	Rules []types.TriageRule `yaml:"rules" json:"rules"`
}

// Load reads a rule set from a YAML or JSON file. The document may be a bare
// list of rules or an object with a rules key.
func Load(path string) ([]types.TriageRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseJSON(data)
	}
	return ParseYAML(data)
}

// ParseYAML decodes a YAML rule document
func ParseYAML(data []byte) ([]types.TriageRule, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if len(doc.Content) == 0 {
		return []types.TriageRule{}, nil
	}

	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var list []types.TriageRule
		if err := root.Decode(&list); err != nil {
			return nil, fmt.Errorf("failed to decode rules: %w", err)
		}
		return list, nil
	case yaml.MappingNode:
		var file ruleFile
		if err := root.Decode(&file); err != nil {
			return nil, fmt.Errorf("failed to decode rules: %w", err)
		}
		return file.Rules, nil
	default:
		return nil, fmt.Errorf("rules document must be a list or a mapping with a rules key")
	}
}

// ParseJSON decodes a JSON rule document
func ParseJSON(data []byte) ([]types.TriageRule, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []types.TriageRule{}, nil
	}

	if trimmed[0] == '[' {
		var list []types.TriageRule
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("failed to parse rules: %w", err)
		}
		return list, nil
	}

	var file ruleFile
	if err := json.Unmarshal(trimmed, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	return file.Rules, nil
}

// Validate reports rules that can never have an effect: rules without an
// action and rules whose regex does not compile. The engine itself tolerates both.
func Validate(rules []types.TriageRule) error {
	var errs []error
	for i, r := range rules {
		label := ruleLabel(i, r)

		a := r.Action
		if a.Bucket == "" && len(a.AddTag) == 0 && a.Elevate == "" && !a.Drop {
			errs = append(errs, fmt.Errorf("%s: action is empty", label))
		}
		if r.Where.Regex != "" {
			if _, err := regexp.Compile("(?i)" + r.Where.Regex); err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid regex: %w", label, err))
			}
		}
		for _, l := range r.Where.Level {
			if !types.Level(l).Valid() {
				errs = append(errs, fmt.Errorf("%s: level %q is not one of debug, info, warn, error, fatal", label, l))
			}
		}
		if r.Action.Bucket != "" && strings.TrimSpace(r.Action.Bucket) == "" {
			errs = append(errs, fmt.Errorf("%s: bucket name is blank", label))
		}
	}
	return errors.Join(errs...)
}

func ruleLabel(i int, r types.TriageRule) string {
	if r.Name != "" {
		return fmt.Sprintf("rule %d (%s)", i, r.Name)
	}
	return fmt.Sprintf("rule %d", i)
}
