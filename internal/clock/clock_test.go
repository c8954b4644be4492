package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFake_SleepAdvancesAndRecords(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := NewFake(start)

	if err := f.Sleep(context.Background(), 15*time.Second); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	f.Advance(time.Minute)

	if got, want := f.Now(), start.Add(75*time.Second); !got.Equal(want) {
		t.Fatalf("Now = %v, want %v", got, want)
	}
	if got := f.Sleeps(); len(got) != 1 || got[0] != 15*time.Second {
		t.Fatalf("Sleeps = %v", got)
	}
}

func TestFake_SleepHonoursCancellation(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.Sleep(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(f.Sleeps()) != 0 {
		t.Fatal("cancelled sleep was recorded")
	}
}

func TestSystemClock_SleepCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := SystemClock{}.Sleep(ctx, time.Minute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("Sleep ignored cancellation")
	}
}

func TestSystemClock_NowIsUTC(t *testing.T) {
	if loc := (SystemClock{}).Now().Location(); loc != time.UTC {
		t.Fatalf("location = %v, want UTC", loc)
	}
}
