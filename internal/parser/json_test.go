package parser

import (
	"testing"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

func TestStructuredStrategy_Parse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantOK      bool
		wantTS      string
		wantLevel   types.Level
		wantService string
		wantMessage string
		wantMeta    map[string]string
	}{
		{
			name:        "common field names",
			input:       `{"timestamp":"2024-01-15T10:30:00Z","level":"WARN","msg":"Warning message","request_id":"123"}`,
			wantOK:      true,
			wantTS:      "2024-01-15T10:30:00Z",
			wantLevel:   types.LevelWarn,
			wantMessage: "Warning message",
			wantMeta:    map[string]string{"request_id": "123"},
		},
		{
			name:        "severity and app aliases",
			input:       `{"time":"t0","severity":"crit","app":"billing","error":"card declined"}`,
			wantOK:      true,
			wantTS:      "t0",
			wantLevel:   types.LevelFatal,
			wantService: "billing",
			wantMessage: "card declined",
		},
		{
			name:        "meta object replaces metadata",
			input:       `{"ts":"t1","level":"info","service":"auth","message":"login","meta":{"user":"alice"}}`,
			wantOK:      true,
			wantTS:      "t1",
			wantLevel:   types.LevelInfo,
			wantService: "auth",
			wantMessage: "login",
			wantMeta:    map[string]string{"user": "alice"},
		},
		{
			name:        "scalar context is wrapped",
			input:       `{"ts":"t2","message":"m","context":"worker-3"}`,
			wantOK:      true,
			wantTS:      "t2",
			wantLevel:   types.LevelInfo,
			wantMessage: "m",
			wantMeta:    map[string]string{"context": "worker-3"},
		},
		{
			name:        "numeric timestamp is stringified",
			input:       `{"ts":1705314600,"level":"debug","message":"tick"}`,
			wantOK:      true,
			wantTS:      "1705314600",
			wantLevel:   types.LevelDebug,
			wantMessage: "tick",
		},
		{
			name:        "null fields count as absent",
			input:       `{"ts":null,"level":null,"message":null,"msg":"second"}`,
			wantOK:      true,
			wantTS:      fixedNowISO,
			wantLevel:   types.LevelInfo,
			wantMessage: "second",
		},
		{
			name:   "array is not an object",
			input:  `[{"level":"error"}]`,
			wantOK: false,
		},
		{
			name:   "invalid json",
			input:  `{"level":`,
			wantOK: false,
		},
		{
			name:   "trailing content",
			input:  `{"level":"error"} {"level":"info"}`,
			wantOK: false,
		},
		{
			name:   "not json",
			input:  "ERROR - nope",
			wantOK: false,
		},
	}

	s := NewStructuredStrategy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, ok := s.Parse(tt.input, fixedNow)
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
				got, ok := entry.Metadata[key]
				if !ok {
					t.Errorf("Metadata[%q] missing", key)
					continue
				}
				if stringify(got) != want {
					t.Errorf("Metadata[%q] = %v, want %q", key, got, want)
				}
			}
		})
	}
}

func TestStructuredStrategy_Name(t *testing.T) {
	if got := NewStructuredStrategy().Name(); got != "structured" {
		t.Errorf("Name() = %q, want structured", got)
	}
}
