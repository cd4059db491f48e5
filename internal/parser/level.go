package parser

import (
	"strings"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

// levelTable maps lowercase level spellings to canonical levels. Read-only after init.
var levelTable = map[string]types.Level{
	"trace":   types.LevelDebug,
	"debug":   types.LevelDebug,
	"info":    types.LevelInfo,
	"warn":    types.LevelWarn,
	"warning": types.LevelWarn,
	"error":   types.LevelError,
	"err":     types.LevelError,
	"fatal":   types.LevelFatal,
	"crit":    types.LevelFatal,
}

// NormalizeLevel maps an arbitrary level spelling to a canonical level.
// Unknown or empty input maps to info.
func NormalizeLevel(level string) types.Level {
	if l, ok := levelTable[strings.ToLower(strings.TrimSpace(level))]; ok {
		return l
	}
	return types.LevelInfo
}
