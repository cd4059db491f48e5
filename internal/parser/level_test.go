package parser

import (
	"testing"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

func TestNormalizeLevel(t *testing.T) {
	tests := []struct {
		input string
		want  types.Level
	}{
		{"DEBUG", types.LevelDebug},
		{"debug", types.LevelDebug},
		{"TRACE", types.LevelDebug},
		{"trace", types.LevelDebug},
		{"INFO", types.LevelInfo},
		{"Info", types.LevelInfo},
		{"WARN", types.LevelWarn},
		{"warning", types.LevelWarn},
		{"WARNING", types.LevelWarn},
		{"ERROR", types.LevelError},
		{"err", types.LevelError},
		{"FATAL", types.LevelFatal},
		{"crit", types.LevelFatal},
		{" error ", types.LevelError},
		{"critical", types.LevelInfo},
		{"panic", types.LevelInfo},
		{"unknown", types.LevelInfo},
		{"", types.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := NormalizeLevel(tt.input)
			if got != tt.want {
				t.Errorf("NormalizeLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeLevel_Idempotent(t *testing.T) {
	inputs := []string{"trace", "DEBUG", "info", "Warning", "err", "FATAL", "crit", "nonsense", ""}
	for _, in := range inputs {
		once := NormalizeLevel(in)
		twice := NormalizeLevel(string(once))
		if once != twice {
			t.Errorf("NormalizeLevel not idempotent for %q: %s then %s", in, once, twice)
		}
		if !once.Valid() {
			t.Errorf("NormalizeLevel(%q) = %q is not canonical", in, once)
		}
	}
}
