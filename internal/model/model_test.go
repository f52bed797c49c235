package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRandomTempIDsAreNegative(t *testing.T) {
	var g RandomIDGenerator
	seen := make(map[int64]int)
	for i := 0; i < 2000; i++ {
		id := g.NextTempID()
		if id >= 0 {
			t.Fatalf("temp id must be strictly negative, got %d", id)
		}
		seen[id]++
	}
	// 随机生成允许极少量碰撞
	if len(seen) < 1990 {
		t.Fatalf("too many collisions: %d distinct of 2000", len(seen))
	}
}

func TestSequenceTempIDs(t *testing.T) {
	g := &SequenceIDGenerator{}
	if a, b := g.NextTempID(), g.NextTempID(); a != -1 || b != -2 {
		t.Fatalf("got %d, %d", a, b)
	}
}

func TestLocalTimeUnmarshal(t *testing.T) {
	cases := []string{
		`"2024-05-01T10:20:30"`,
		`"2024-05-01 10:20:30"`,
		`"2024-05-01T10:20:30.123456"`,
	}
	for _, c := range cases {
		var lt LocalTime
		if err := json.Unmarshal([]byte(c), &lt); err != nil {
			t.Fatalf("%s: %v", c, err)
		}
		if lt.Time().Year() != 2024 || lt.Time().Minute() != 20 {
			t.Fatalf("%s: parsed %v", c, lt.Time())
		}
	}

	var empty LocalTime
	if err := json.Unmarshal([]byte(`null`), &empty); err != nil || !empty.Time().IsZero() {
		t.Fatalf("null should decode to zero time: %v", err)
	}
}

func TestLocalTimeRoundTrip(t *testing.T) {
	in := LocalTime(time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local))
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"2024-01-02T03:04:05"` {
		t.Fatalf("got %s", b)
	}
}

func TestSessionValid(t *testing.T) {
	now := time.Now()
	if (&Session{Token: "t", ExpiresAt: now}).Valid(now) {
		t.Fatal("expiry equal to now is not valid")
	}
	if !(&Session{Token: "t", ExpiresAt: now.Add(time.Second)}).Valid(now) {
		t.Fatal("future expiry should be valid")
	}
	var nilSession *Session
	if nilSession.Valid(now) {
		t.Fatal("nil session is not valid")
	}
}
