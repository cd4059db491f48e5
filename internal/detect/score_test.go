package detect

import (
	"testing"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

func TestWeight(t *testing.T) {
	tests := []struct {
		level types.Level
		want  int
	}{
		{types.LevelDebug, 1},
		{types.LevelInfo, 2},
		{types.LevelWarn, 5},
		{types.LevelError, 10},
		{types.LevelFatal, 20},
		{types.Level("bogus"), 0},
	}

	for _, tt := range tests {
		if got := Weight(tt.level); got != tt.want {
			t.Errorf("Weight(%s) = %d, want %d", tt.level, got, tt.want)
		}
	}
}

func TestRank_StableDescending(t *testing.T) {
	entries := []types.LogEntry{
		{Level: types.LevelInfo, Message: "i1"},
		{Level: types.LevelError, Message: "e1"},
		{Level: types.LevelDebug, Message: "d1"},
		{Level: types.LevelError, Message: "e2"},
		{Level: types.LevelFatal, Message: "f1"},
		{Level: types.LevelInfo, Message: "i2"},
	}

	ranked := Rank(entries)
	want := []string{"f1", "e1", "e2", "i1", "i2", "d1"}
	if len(ranked) != len(want) {
		t.Fatalf("Rank() returned %d entries", len(ranked))
	}
	for i, msg := range want {
		if ranked[i].Entry.Message != msg {
			t.Errorf("ranked[%d] = %s, want %s", i, ranked[i].Entry.Message, msg)
		}
	}
	if ranked[0].Score != 20 {
		t.Errorf("top score = %d, want 20", ranked[0].Score)
	}
}

func TestQueue_MatchesRankPrefix(t *testing.T) {
	levels := []types.Level{
		types.LevelInfo, types.LevelError, types.LevelDebug, types.LevelWarn,
		types.LevelError, types.LevelFatal, types.LevelInfo, types.LevelWarn,
		types.LevelError, types.LevelDebug,
	}
	entries := make([]types.LogEntry, len(levels))
	for i, l := range levels {
		entries[i] = types.LogEntry{Level: l, Message: string(rune('a' + i))}
	}

	for _, capacity := range []int{0, 1, 3, 5, 10, 20} {
		q := NewQueue(capacity)
		for _, e := range entries {
			q.Push(e, "")
		}

		want := Rank(entries)
		if capacity < len(want) {
			want = want[:capacity]
		}
		got := q.Items()
		if len(got) != len(want) {
			t.Fatalf("capacity %d: %d items, want %d", capacity, len(got), len(want))
		}
		for i := range want {
			if got[i].Entry.Message != want[i].Entry.Message {
				t.Errorf("capacity %d: item %d = %s, want %s", capacity, i, got[i].Entry.Message, want[i].Entry.Message)
			}
		}
	}
}

func TestQueue_Merge(t *testing.T) {
	entries := []types.LogEntry{
		{Level: types.LevelWarn, Message: "w1"},
		{Level: types.LevelError, Message: "e1"},
		{Level: types.LevelWarn, Message: "w2"},
		{Level: types.LevelError, Message: "e2"},
		{Level: types.LevelInfo, Message: "i1"},
	}

	whole := NewQueue(3)
	for _, e := range entries {
		whole.Push(e, "")
	}

	left, right := NewQueue(3), NewQueue(3)
	for _, e := range entries[:2] {
		left.Push(e, "")
	}
	for _, e := range entries[2:] {
		right.Push(e, "P1")
	}
	left.Merge(right)

	got, want := left.Items(), whole.Items()
	if len(got) != len(want) {
		t.Fatalf("merged queue has %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Entry.Message != want[i].Entry.Message {
			t.Errorf("item %d = %s, want %s", i, got[i].Entry.Message, want[i].Entry.Message)
		}
	}
	if got[1].Elevate != "P1" {
		t.Errorf("elevate label lost in merge: %+v", got[1])
	}
}
