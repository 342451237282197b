package dedup

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestShouldProcessWindow(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	d := New(time.Minute, 10)
	d.now = c.now

	if !d.ShouldProcess("pot-1|sensor_error") {
		t.Fatal("first occurrence must pass")
	}
	if d.ShouldProcess("pot-1|sensor_error") {
		t.Fatal("repeat inside window must be suppressed")
	}
	if !d.ShouldProcess("pot-2|sensor_error") {
		t.Fatal("other key must pass")
	}

	c.t = c.t.Add(time.Minute)
	if !d.ShouldProcess("pot-1|sensor_error") {
		t.Fatal("key must pass again after ttl")
	}
}

func TestEmptyKeyAlwaysPasses(t *testing.T) {
	d := New(time.Hour, 10)
	for i := 0; i < 3; i++ {
		if !d.ShouldProcess("") {
			t.Fatalf("empty key suppressed at %d", i)
		}
	}
	if d.Len() != 0 {
		t.Fatalf("empty key stored: len=%d", d.Len())
	}
}

func TestForget(t *testing.T) {
	d := New(time.Hour, 10)
	d.ShouldProcess("k")
	d.Forget("k")
	if !d.ShouldProcess("k") {
		t.Fatal("forgotten key must pass")
	}
}

func TestEvictKeepsBound(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	d := New(time.Hour, 2)
	d.now = c.now

	for _, k := range []string{"a", "b", "c"} {
		c.t = c.t.Add(time.Second)
		d.ShouldProcess(k)
	}
	if d.Len() != 2 {
		t.Fatalf("len=%d, want 2", d.Len())
	}
	// "a" ha la scadenza più vicina, quindi è stata rimossa
	if !d.ShouldProcess("a") {
		t.Fatal("evicted key should pass")
	}
}
