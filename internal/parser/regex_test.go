package parser

import (
	"testing"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

func TestPatternStrategy_Parse(t *testing.T) {
	tests := []struct {
		name        string
		config      PatternConfig
		input       string
		wantOK      bool
		wantTS      string
		wantLevel   types.Level
		wantService string
		wantMessage string
		wantMeta    map[string]string
	}{
		{
			name: "basic regex pattern",
			config: PatternConfig{
				Pattern:    `^(?P<timestamp>\S+)\s+(?P<level>\S+)\s+(?P<message>.*)$`,
				TimeFormat: "2006-01-02T15:04:05",
			},
			input:       "2024-01-15T10:30:00 INFO Application started",
			wantOK:      true,
			wantTS:      "2024-01-15T10:30:00.000Z",
			wantLevel:   types.LevelInfo,
			wantMessage: "Application started",
		},
		{
			name: "extra groups become metadata",
			config: PatternConfig{
				Pattern: `^(?P<service>\w+)\[(?P<pid>\d+)\]: (?P<message>.*)$`,
			},
			input:       "sshd[4242]: Accepted publickey",
			wantOK:      true,
			wantTS:      fixedNowISO,
			wantLevel:   types.LevelInfo,
			wantService: "sshd",
			wantMessage: "Accepted publickey",
			wantMeta:    map[string]string{"pid": "4242"},
		},
		{
			name: "no message group keeps whole line",
			config: PatternConfig{
				Pattern: `^(?P<level>[A-Z]+):`,
			},
			input:       "ERROR: Database connection failed",
			wantOK:      true,
			wantTS:      fixedNowISO,
			wantLevel:   types.LevelError,
			wantMessage: "ERROR: Database connection failed",
		},
		{
			name: "unparseable timestamp kept verbatim",
			config: PatternConfig{
				Pattern: `^<(?P<timestamp>[^>]+)> (?P<message>.*)$`,
			},
			input:       "<yesterday> hello",
			wantOK:      true,
			wantTS:      "yesterday",
			wantLevel:   types.LevelInfo,
			wantMessage: "hello",
		},
		{
			name: "no match",
			config: PatternConfig{
				Pattern: `^(?P<timestamp>\d{4}-\d{2}-\d{2})\s+(?P<message>.*)$`,
			},
			input:  "Invalid log line",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPatternStrategy(tt.config)
			if err != nil {
				t.Fatalf("NewPatternStrategy() error = %v", err)
			}

			entry, ok := p.Parse(tt.input, fixedNow)
			if ok != tt.wantOK {
				t.Fatalf("Parse() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}

			if entry.Timestamp != tt.wantTS {
				t.Errorf("Timestamp = %q, want %q", entry.Timestamp, tt.wantTS)
			}
			if entry.Level != tt.wantLevel {
				t.Errorf("Level = %q, want %q", entry.Level, tt.wantLevel)
			}
			if entry.Service != tt.wantService {
				t.Errorf("Service = %q, want %q", entry.Service, tt.wantService)
			}
			if entry.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", entry.Message, tt.wantMessage)
			}
			for key, want := range tt.wantMeta {
				if got := entry.Metadata[key]; got != want {
					t.Errorf("Metadata[%q] = %v, want %q", key, got, want)
				}
			}
			if len(tt.wantMeta) == 0 && entry.Metadata != nil {
				t.Errorf("Metadata = %v, want nil", entry.Metadata)
			}
		})
	}
}

func TestNewPatternStrategy_Errors(t *testing.T) {
	tests := []struct {
		name   string
		config PatternConfig
	}{
		{name: "empty", config: PatternConfig{}},
		{name: "invalid regex", config: PatternConfig{Pattern: `(?P<level>[`}},
		{name: "unknown grok", config: PatternConfig{Grok: `%{NOPE:x}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPatternStrategy(tt.config); err == nil {
				t.Error("NewPatternStrategy() expected error")
			}
		})
	}
}

func TestPatternStrategy_Name(t *testing.T) {
	tests := []struct {
		config PatternConfig
		want   string
	}{
		{PatternConfig{Name: "custom", Pattern: `.`}, "custom"},
		{PatternConfig{Pattern: `.`}, "pattern"},
		{PatternConfig{Grok: "syslog"}, "syslog"},
		{PatternConfig{Grok: `%{WORD:message}`}, "pattern"},
	}

	for _, tt := range tests {
		p, err := NewPatternStrategy(tt.config)
		if err != nil {
			t.Fatalf("NewPatternStrategy(%+v) error = %v", tt.config, err)
		}
		if p.Name() != tt.want {
			t.Errorf("Name() = %q, want %q", p.Name(), tt.want)
		}
	}
}
