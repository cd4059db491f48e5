package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		content   string
		wantRules int
		wantErr   bool
		check     func(t *testing.T, rules []types.TriageRule)
	}{
		{
			name: "yaml wrapped with scalar and list fields",
			file: "rules.yaml",
			content: `
rules:
  - name: db-errors
    where:
      level: error
      contains: [timeout, deadlock]
    action:
      bucket: db
      addTag: critical
  - where:
      regex: "auth(entication)? failed"
    action:
      addTag: [security, auth]
      elevate: P1
`,
			wantRules: 2,
			check: func(t *testing.T, rules []types.TriageRule) {
				r := rules[0]
				if r.Name != "db-errors" || r.Action.Bucket != "db" {
					t.Errorf("rule 0 = %+v", r)
				}
				if len(r.Where.Level) != 1 || r.Where.Level[0] != "error" {
					t.Errorf("level = %v, want [error]", r.Where.Level)
				}
				if len(r.Where.Contains) != 2 {
					t.Errorf("contains = %v, want 2 needles", r.Where.Contains)
				}
				if len(r.Action.AddTag) != 1 || r.Action.AddTag[0] != "critical" {
					t.Errorf("addTag = %v, want [critical]", r.Action.AddTag)
				}
				if len(rules[1].Action.AddTag) != 2 || rules[1].Action.Elevate != "P1" {
					t.Errorf("rule 1 action = %+v", rules[1].Action)
				}
			},
		},
		{
			name: "yaml bare list",
			file: "rules.yml",
			content: `
- where: {service: [api, web]}
  action: {drop: true}
`,
			wantRules: 1,
			check: func(t *testing.T, rules []types.TriageRule) {
				if !rules[0].Action.Drop || len(rules[0].Where.Service) != 2 {
					t.Errorf("rule = %+v", rules[0])
				}
			},
		},
		{
			name:      "json wrapped",
			file:      "rules.json",
			content:   `{"rules":[{"where":{"level":["error","fatal"]},"action":{"bucket":"errors","addTag":"page"}}]}`,
			wantRules: 1,
			check: func(t *testing.T, rules []types.TriageRule) {
				if len(rules[0].Where.Level) != 2 || rules[0].Action.AddTag[0] != "page" {
					t.Errorf("rule = %+v", rules[0])
				}
			},
		},
		{
			name:      "json bare list",
			file:      "rules.JSON",
			content:   `[{"where":{"contains":"oom"},"action":{"bucket":"memory"}}]`,
			wantRules: 1,
		},
		{
			name:      "empty yaml",
			file:      "empty.yaml",
			content:   "",
			wantRules: 0,
		},
		{
			name:    "scalar yaml document",
			file:    "bad.yaml",
			content: "just a string",
			wantErr: true,
		},
		{
			name:    "wrong type for contains",
			file:    "bad.yaml",
			content: "rules:\n  - where:\n      contains: {a: b}\n    action: {bucket: x}\n",
			wantErr: true,
		},
		{
			name:    "invalid json",
			file:    "bad.json",
			content: `{"rules": [`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write rules file: %v", err)
			}

			rules, err := Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(rules) != tt.wantRules {
				t.Fatalf("Load() returned %d rules, want %d", len(rules), tt.wantRules)
			}
			if tt.check != nil {
				tt.check(t, rules)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := []types.TriageRule{
		{Where: types.WhereClause{Level: types.StringSet{"error"}}, Action: types.Action{Bucket: "errors"}},
		{Where: types.WhereClause{Regex: `fail(ed|ure)`}, Action: types.Action{Drop: true}},
	}
	if err := Validate(valid); err != nil {
		t.Errorf("Validate(valid) error = %v", err)
	}

	invalid := []types.TriageRule{
		{Name: "noop", Where: types.WhereClause{}},
		{Where: types.WhereClause{Regex: `(`}, Action: types.Action{Bucket: "x"}},
		{Where: types.WhereClause{Level: types.StringSet{"ERROR"}}, Action: types.Action{Bucket: "y"}},
	}
	err := Validate(invalid)
	if err == nil {
		t.Fatal("Validate(invalid) expected error")
	}
	msg := err.Error()
	for _, want := range []string{"rule 0 (noop): action is empty", "rule 1: invalid regex", `rule 2: level "ERROR"`} {
		if !strings.Contains(msg, want) {
			t.Errorf("Validate() error %q missing %q", msg, want)
		}
	}
}
