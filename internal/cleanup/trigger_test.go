package cleanup

import (
	"testing"
	"time"
)

func TestNewTriggerSpec(t *testing.T) {
	f := newFixture(t)
	s := New(f.dir, always)

	tr, err := NewTrigger(s, "", time.UTC, true)
	if err != nil {
		t.Fatalf("default spec: %v", err)
	}
	tr.Start()
	tr.Stop()

	if _, err := NewTrigger(s, "every tuesday", time.UTC, true); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestTriggerPollSchedulesFirst(t *testing.T) {
	f := newFixture(t)
	s := New(f.dir, always)

	tr, err := NewTrigger(s, DefaultPoll, time.UTC, true)
	if err != nil {
		t.Fatal(err)
	}
	tr.now = func() time.Time { return now }

	tr.poll()
	if got, want := s.Scheduled(), NextRun(now); !got.Equal(want) {
		t.Fatalf("scheduled = %v, want %v", got, want)
	}
}
