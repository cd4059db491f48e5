package fingerprint

import (
	"regexp"
	"testing"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

func entry(level types.Level, service, message string) types.LogEntry {
	return types.LogEntry{Level: level, Service: service, Message: message, Raw: message}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(types.LevelError, "auth", "login failed")
	b := Fingerprint(types.LevelError, "auth", "login failed")
	if a != b {
		t.Errorf("Fingerprint not deterministic: %s != %s", a, b)
	}
	if !hexPattern.MatchString(a) {
		t.Errorf("Fingerprint = %q, want 16 lowercase hex chars", a)
	}

	tests := []struct {
		name    string
		level   types.Level
		service string
		message string
	}{
		{"different level", types.LevelWarn, "auth", "login failed"},
		{"different service", types.LevelError, "billing", "login failed"},
		{"different message", types.LevelError, "auth", "login ok"},
		{"separator shift", types.LevelError, "auth|login", "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fingerprint(tt.level, tt.service, tt.message); got == a {
				t.Errorf("Fingerprint(%s, %s, %s) collided with base", tt.level, tt.service, tt.message)
			}
		})
	}
}

func TestFingerprint_FieldBoundaries(t *testing.T) {
	tests := []struct {
		name string
		a, b [2]string
	}{
		{"pipe moves between service and message", [2]string{"a|b", "c"}, [2]string{"a", "b|c"}},
		{"text moves between service and message", [2]string{"authlogin", "failed"}, [2]string{"auth", "loginfailed"}},
		{"empty service", [2]string{"", "auth|x"}, [2]string{"auth", "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := Fingerprint(types.LevelError, tt.a[0], tt.a[1])
			y := Fingerprint(types.LevelError, tt.b[0], tt.b[1])
			if x == y {
				t.Errorf("Fingerprint(%q, %q) == Fingerprint(%q, %q) = %s", tt.a[0], tt.a[1], tt.b[0], tt.b[1], x)
			}
		})
	}
}

func TestOf_IgnoresTimestampAndRaw(t *testing.T) {
	e1 := types.LogEntry{Timestamp: "t1", Level: types.LevelInfo, Message: "m", Raw: "one"}
	e2 := types.LogEntry{Timestamp: "t2", Level: types.LevelInfo, Message: "m", Raw: "two"}
	if Of(e1) != Of(e2) {
		t.Error("entries differing only by timestamp and raw should share a fingerprint")
	}
}

func TestTable_Top(t *testing.T) {
	table := NewTable()
	table.Add(entry(types.LevelInfo, "", "a"))
	table.Add(entry(types.LevelError, "db", "b"))
	table.Add(entry(types.LevelError, "db", "b"))
	table.Add(entry(types.LevelWarn, "", "c"))
	table.Add(entry(types.LevelInfo, "", "a"))
	table.Add(entry(types.LevelDebug, "", "d"))

	if table.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", table.Len())
	}
	if table.Seen() != 6 {
		t.Fatalf("Seen() = %d, want 6", table.Seen())
	}

	top := table.Top(3)
	want := []struct {
		message string
		count   int
	}{
		{"a", 2},
		{"b", 2},
		{"c", 1},
	}
	if len(top) != len(want) {
		t.Fatalf("Top(3) returned %d issues", len(top))
	}
	for i, w := range want {
		if top[i].Message != w.message || top[i].Count != w.count {
			t.Errorf("Top[%d] = %s x%d, want %s x%d", i, top[i].Message, top[i].Count, w.message, w.count)
		}
	}

	if all := table.Top(0); len(all) != 4 {
		t.Errorf("Top(0) returned %d issues, want 4", len(all))
	}
}

func TestTable_Merge(t *testing.T) {
	lines := []types.LogEntry{
		entry(types.LevelInfo, "", "x"),
		entry(types.LevelWarn, "", "y"),
		entry(types.LevelInfo, "", "x"),
		entry(types.LevelError, "", "z"),
		entry(types.LevelWarn, "", "y"),
		entry(types.LevelError, "", "w"),
	}

	sequential := NewTable()
	for _, e := range lines {
		sequential.Add(e)
	}

	left, right := NewTable(), NewTable()
	for _, e := range lines[:3] {
		left.Add(e)
	}
	for _, e := range lines[3:] {
		right.Add(e)
	}
	left.Merge(right)

	got, want := left.Top(0), sequential.Top(0)
	if len(got) != len(want) {
		t.Fatalf("merged table has %d issues, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("issue %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	left.Merge(nil)
	if left.Seen() != len(lines) {
		t.Errorf("Seen() = %d, want %d", left.Seen(), len(lines))
	}
}
